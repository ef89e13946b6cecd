package storage

import (
	"errors"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v4"
)

type memberRow struct {
	parentID int64
	userID   int64
	role     string
}

type memberBulk struct {
	rows     []memberRow
	withRole bool
	idx      int
}

// copyFromMembers feeds (parent_id, user_id) pairs to CopyFrom, used when
// seeding room memberships.
func copyFromMembers(rows []memberRow) pgx.CopyFromSource {
	return &memberBulk{rows: rows, idx: -1}
}

// copyFromGroupMembers additionally carries the role column.
func copyFromGroupMembers(rows []memberRow) pgx.CopyFromSource {
	return &memberBulk{rows: rows, withRole: true, idx: -1}
}

func (mb *memberBulk) Next() bool {
	mb.idx++
	return mb.idx < len(mb.rows)
}

func (mb *memberBulk) Values() ([]interface{}, error) {
	row := mb.rows[mb.idx]
	if mb.withRole {
		return []interface{}{row.parentID, row.userID, row.role}, nil
	}
	return []interface{}{row.parentID, row.userID}, nil
}

func (mb *memberBulk) Err() error {
	return nil
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.ForeignKeyViolation
}
