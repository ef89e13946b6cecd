package storage

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v4"
)

// AppendRoomMessage appends a message to a direct conversation. One
// transaction covers the membership check, the insert, the room recency bump
// and the unread increment for every member except the sender; none of these
// is observable without the others.
func (s *Store) AppendRoomMessage(ctx context.Context, roomID, sender int64, msgType, content string) (Message, error) {
	s.logger.Debugf("Appending %s message from user (id: %d) to room (id: %d)", msgType, sender, roomID)

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return Message{}, err
	}
	defer tx.Rollback(context.Background())

	if err = memberGate(ctx, tx, "chat_room_members", "chat_room_id", roomID, sender); err != nil {
		return Message{}, err
	}

	var m Message
	m.RoomID = &roomID
	sql := `insert into messages (chat_room_id, user_id, content, type, created_at)
			values ($1, $2, $3, $4, now())
			returning id, user_id, content, type, created_at`
	err = tx.QueryRow(ctx, sql, roomID, sender, content, msgType).
		Scan(&m.ID, &m.SenderID, &m.Content, &m.Type, &m.CreatedAt)
	if err != nil {
		return Message{}, err
	}

	if _, err = tx.Exec(ctx, "update chat_rooms set updated_at = now() where id = $1", roomID); err != nil {
		return Message{}, err
	}

	sql = `update chat_room_members set unread_count = unread_count + 1
			where chat_room_id = $1 and user_id <> $2`
	if _, err = tx.Exec(ctx, sql, roomID, sender); err != nil {
		return Message{}, err
	}

	err = tx.QueryRow(ctx, "select id, name, email from users where id = $1", sender).
		Scan(&m.Sender.ID, &m.Sender.Name, &m.Sender.Email)
	if err != nil {
		return Message{}, err
	}

	if err = tx.Commit(ctx); err != nil {
		return Message{}, err
	}

	return m, nil
}

// AppendGroupMessage appends a message to a group. Member gated; groups carry
// no unread counters.
func (s *Store) AppendGroupMessage(ctx context.Context, groupID, sender int64, msgType, content string) (Message, error) {
	s.logger.Debugf("Appending %s message from user (id: %d) to group (id: %d)", msgType, sender, groupID)

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return Message{}, err
	}
	defer tx.Rollback(context.Background())

	if err = memberGate(ctx, tx, "group_members", "group_id", groupID, sender); err != nil {
		return Message{}, err
	}

	var m Message
	m.GroupID = &groupID
	sql := `insert into messages (group_id, user_id, content, type, created_at)
			values ($1, $2, $3, $4, now())
			returning id, user_id, content, type, created_at`
	err = tx.QueryRow(ctx, sql, groupID, sender, content, msgType).
		Scan(&m.ID, &m.SenderID, &m.Content, &m.Type, &m.CreatedAt)
	if err != nil {
		return Message{}, err
	}

	if _, err = tx.Exec(ctx, "update chat_groups set updated_at = now() where id = $1", groupID); err != nil {
		return Message{}, err
	}

	err = tx.QueryRow(ctx, "select id, name, email from users where id = $1", sender).
		Scan(&m.Sender.ID, &m.Sender.Name, &m.Sender.Email)
	if err != nil {
		return Message{}, err
	}

	if err = tx.Commit(ctx); err != nil {
		return Message{}, err
	}

	return m, nil
}

// RoomMessages returns the room's messages ascending by creation time,
// unbounded. Member gated. Reading resets the requester's unread counter in
// the same transaction as the read.
func (s *Store) RoomMessages(ctx context.Context, roomID, requester int64) ([]Message, error) {
	s.logger.Debugf("Retrieving messages of room (id: %d) for user (id: %d)", roomID, requester)

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(context.Background())

	if err = memberGate(ctx, tx, "chat_room_members", "chat_room_id", roomID, requester); err != nil {
		return nil, err
	}

	messages, err := listMessages(ctx, tx, "chat_room_id", roomID)
	if err != nil {
		return nil, err
	}

	sql := "update chat_room_members set unread_count = 0 where chat_room_id = $1 and user_id = $2"
	if _, err = tx.Exec(ctx, sql, roomID, requester); err != nil {
		return nil, err
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, err
	}

	s.logger.Debugf("Retrieved %d messages", len(messages))

	return messages, nil
}

// GroupMessages returns the group's messages ascending by creation time,
// unbounded. Member gated.
func (s *Store) GroupMessages(ctx context.Context, groupID, requester int64) ([]Message, error) {
	s.logger.Debugf("Retrieving messages of group (id: %d) for user (id: %d)", groupID, requester)

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(context.Background())

	if err = memberGate(ctx, tx, "group_members", "group_id", groupID, requester); err != nil {
		return nil, err
	}

	messages, err := listMessages(ctx, tx, "group_id", groupID)
	if err != nil {
		return nil, err
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, err
	}

	return messages, nil
}

// RoomLog returns the room's messages without membership gating or unread
// side effects. Used by room provisioning, which has just established the
// caller's membership.
func (s *Store) RoomLog(ctx context.Context, roomID int64) ([]Message, error) {
	return listMessages(ctx, s.db, "chat_room_id", roomID)
}

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

// memberGate resolves to ErrNotMember when the user holds no membership row
// for the parent, collapsing "absent parent" and "not a member" into one
// answer so callers cannot probe for existence.
func memberGate(ctx context.Context, q querier, table, parentColumn string, parentID, userID int64) error {
	var i int8
	sql := "select 1 from " + table + " where " + parentColumn + " = $1 and user_id = $2"
	err := q.QueryRow(ctx, sql, parentID, userID).Scan(&i)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotMember
		}
		return err
	}
	return nil
}

func listMessages(ctx context.Context, q querier, parentColumn string, parentID int64) ([]Message, error) {
	sql := `select m.id, m.chat_room_id, m.group_id, m.user_id, m.content, m.type, m.created_at,
				   u.id, u.name, u.email
			  from messages m
			  join users u on u.id = m.user_id
			 where m.` + parentColumn + ` = $1
			 order by m.created_at asc, m.id asc`

	rows, err := q.Query(ctx, sql, parentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var m Message
		err = rows.Scan(&m.ID, &m.RoomID, &m.GroupID, &m.SenderID, &m.Content, &m.Type, &m.CreatedAt,
			&m.Sender.ID, &m.Sender.Name, &m.Sender.Email)
		if err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}

	return messages, nil
}
