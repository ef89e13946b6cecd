package storage

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgtype"
	"github.com/jackc/pgx/v4"
)

// roomPairLockKey derives the advisory lock key serializing room creation for
// an unordered user pair. The key folds the sorted pair into a single int64
// so concurrent ProvideRoom calls for the same two users queue on one lock
// regardless of argument order.
func roomPairLockKey(a, b int64) int64 {
	if a > b {
		a, b = b, a
	}
	return a<<32 ^ b
}

// ProvideRoom returns the direct conversation shared by the two users,
// creating it when absent. Repeated and concurrent calls for the same pair,
// in either order, always yield the same room: lookup and creation run inside
// one transaction holding a pair-keyed advisory lock.
func (s *Store) ProvideRoom(ctx context.Context, userA, userB int64) (Room, error) {
	s.logger.Debugf("Providing room for users (%d, %d)", userA, userB)

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return Room{}, err
	}
	// error handling can be omitted for rollback according docs
	// see https://pkg.go.dev/github.com/jackc/pgx/v4?tab=doc#hdr-Transactions
	defer tx.Rollback(context.Background())

	_, err = tx.Exec(ctx, "select pg_advisory_xact_lock($1)", roomPairLockKey(userA, userB))
	if err != nil {
		return Room{}, err
	}

	// A room qualifies only when it has a membership row for each of the two
	// users. Two independent existence checks, not a single row match.
	var room Room
	sql := `select r.id, r.status, r.created_at, r.updated_at
			  from chat_rooms r
			 where exists (select 1 from chat_room_members m where m.chat_room_id = r.id and m.user_id = $1)
			   and exists (select 1 from chat_room_members m where m.chat_room_id = r.id and m.user_id = $2)`
	err = tx.QueryRow(ctx, sql, userA, userB).Scan(&room.ID, &room.Status, &room.CreatedAt, &room.UpdatedAt)
	if err == nil {
		return room, tx.Commit(ctx)
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Room{}, err
	}

	sql = `insert into chat_rooms (status, created_at, updated_at) values ('OPEN', now(), now())
		   returning id, status, created_at, updated_at`
	err = tx.QueryRow(ctx, sql).Scan(&room.ID, &room.Status, &room.CreatedAt, &room.UpdatedAt)
	if err != nil {
		return Room{}, err
	}

	rows := []memberRow{
		{parentID: room.ID, userID: userA},
		{parentID: room.ID, userID: userB},
	}
	_, err = tx.CopyFrom(ctx, pgx.Identifier{"chat_room_members"},
		[]string{"chat_room_id", "user_id"}, copyFromMembers(rows))
	if err != nil {
		if isForeignKeyViolation(err) {
			return Room{}, ErrUserNotExist
		}
		return Room{}, err
	}

	if err = tx.Commit(ctx); err != nil {
		return Room{}, err
	}

	s.logger.Debugf("Created room %d for users (%d, %d)", room.ID, userA, userB)

	return room, nil
}

// IsRoomMember reports whether the user has a membership row for the room.
// Pure read, used by authorization checks.
func (s *Store) IsRoomMember(ctx context.Context, roomID, userID int64) (bool, error) {
	var i int8
	sql := "select 1 from chat_room_members where chat_room_id = $1 and user_id = $2"
	err := s.db.QueryRow(ctx, sql, roomID, userID).Scan(&i)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// RoomsByUserID returns the caller's rooms with the other party's summary and
// the most recent message, ordered by room recency (updated_at is bumped on
// every message).
func (s *Store) RoomsByUserID(ctx context.Context, userID int64) ([]RoomOverview, error) {
	s.logger.Debugf("Retrieving rooms for user (id: %d)", userID)

	sql := `select r.id,
				   coalesce(u.name, 'Unknown'),
				   coalesce(u.email, ''),
				   m.unread_count,
				   (select jsonb_build_object(
							'id', msg.id,
							'senderId', msg.user_id,
							'content', msg.content,
							'timestamp', msg.created_at)
					  from messages msg
					 where msg.chat_room_id = r.id
					 order by msg.created_at desc
					 limit 1) as last_message
			  from chat_rooms r
			  join chat_room_members m
				on m.chat_room_id = r.id and m.user_id = $1
			  left join chat_room_members other
				on other.chat_room_id = r.id and other.user_id <> $1
			  left join users u
				on u.id = other.user_id
			 order by r.updated_at desc`

	rows, err := s.db.Query(ctx, sql, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var overviews []RoomOverview
	for rows.Next() {
		var (
			o    RoomOverview
			last pgtype.JSONB
		)
		err = rows.Scan(&o.ID, &o.Name, &o.Email, &o.UnreadCount, &last)
		if err != nil {
			return nil, err
		}

		if last.Status == pgtype.Present {
			var lm LastMessage
			if err = json.Unmarshal(last.Bytes, &lm); err != nil {
				return nil, err
			}
			o.LastMessage = &lm
		}

		overviews = append(overviews, o)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}

	s.logger.Debugf("Retrieved %d rooms", len(overviews))

	return overviews, nil
}
