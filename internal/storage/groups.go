package storage

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v4"
	"github.com/samber/lo"
)

// CreateGroup creates a group with the caller as admin plus the given members
// in a single transaction. Returns the group and the summaries of the users
// actually seeded as members, for the member.added broadcast payload.
func (s *Store) CreateGroup(ctx context.Context, name string, description, avatar *string, creator int64, memberIDs []int64) (Group, []UserSummary, error) {
	s.logger.Debugf("Creating group (%s) by user (id: %d) with members (%v)", name, creator, memberIDs)

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return Group{}, nil, err
	}
	defer tx.Rollback(context.Background())

	var g Group
	sql := `insert into chat_groups (name, description, avatar, created_by, created_at, updated_at)
			values ($1, $2, $3, $4, now(), now())
			returning id, name, description, avatar, created_by, created_at`
	err = tx.QueryRow(ctx, sql, name, description, avatar, creator).
		Scan(&g.ID, &g.Name, &g.Description, &g.Avatar, &g.CreatedBy, &g.CreatedAt)
	if err != nil {
		if isForeignKeyViolation(err) {
			return Group{}, nil, ErrUserNotExist
		}
		return Group{}, nil, err
	}

	sql = `insert into group_members (group_id, user_id, role) values ($1, $2, 'admin')`
	if _, err = tx.Exec(ctx, sql, g.ID, creator); err != nil {
		return Group{}, nil, err
	}

	seedIDs := lo.Filter(lo.Uniq(memberIDs), func(id int64, _ int) bool {
		return id != creator
	})

	rows := make([]memberRow, 0, len(seedIDs))
	for _, id := range seedIDs {
		rows = append(rows, memberRow{parentID: g.ID, userID: id, role: RoleMember})
	}
	_, err = tx.CopyFrom(ctx, pgx.Identifier{"group_members"},
		[]string{"group_id", "user_id", "role"}, copyFromGroupMembers(rows))
	if err != nil {
		if isForeignKeyViolation(err) {
			return Group{}, nil, ErrBadMembers
		}
		return Group{}, nil, err
	}

	added, err := summariesByIDs(ctx, tx, seedIDs)
	if err != nil {
		return Group{}, nil, err
	}

	if err = tx.Commit(ctx); err != nil {
		return Group{}, nil, err
	}

	g.MemberCount = 1 + len(seedIDs)
	g.IsAdmin = true

	s.logger.Debugf("Created group (%s) with id %d", name, g.ID)

	return g, added, nil
}

// GroupsByUserID lists the groups where the user is a member, newest first.
func (s *Store) GroupsByUserID(ctx context.Context, userID int64) ([]Group, error) {
	s.logger.Debugf("Retrieving groups for user (id: %d)", userID)

	sql := `select g.id, g.name, g.description, g.avatar, g.created_by, g.created_at,
				   (select count(*) from group_members gm where gm.group_id = g.id),
				   m.role = 'admin'
			  from chat_groups g
			  join group_members m
				on m.group_id = g.id and m.user_id = $1
			 order by g.created_at desc`

	rows, err := s.db.Query(ctx, sql, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var groups []Group
	for rows.Next() {
		var g Group
		err = rows.Scan(&g.ID, &g.Name, &g.Description, &g.Avatar, &g.CreatedBy, &g.CreatedAt,
			&g.MemberCount, &g.IsAdmin)
		if err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}

	return groups, nil
}

// GroupByID returns group details for a current member. Distinguishes an
// absent group (ErrGroupNotExist) from an existing group the requester cannot
// read (ErrNotMember).
func (s *Store) GroupByID(ctx context.Context, groupID, requester int64) (Group, error) {
	var g Group
	sql := `select g.id, g.name, g.description, g.avatar, g.created_by, g.created_at,
				   (select count(*) from group_members gm where gm.group_id = g.id)
			  from chat_groups g
			 where g.id = $1`
	err := s.db.QueryRow(ctx, sql, groupID).
		Scan(&g.ID, &g.Name, &g.Description, &g.Avatar, &g.CreatedBy, &g.CreatedAt, &g.MemberCount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Group{}, ErrGroupNotExist
		}
		return Group{}, err
	}

	role, err := s.memberRole(ctx, groupID, requester)
	if err != nil {
		return Group{}, err
	}
	g.IsAdmin = role == RoleAdmin

	return g, nil
}

// UpdateGroup applies non-nil fields to the group. Admin only.
func (s *Store) UpdateGroup(ctx context.Context, groupID int64, name, description, avatar *string, actor int64) (Group, error) {
	s.logger.Debugf("Updating group (id: %d) by user (id: %d)", groupID, actor)

	if err := s.requireAdmin(ctx, groupID, actor); err != nil {
		return Group{}, err
	}

	var g Group
	sql := `update chat_groups
			   set name = coalesce($2, name),
				   description = coalesce($3, description),
				   avatar = coalesce($4, avatar),
				   updated_at = now()
			 where id = $1
			returning id, name, description, avatar, created_by, created_at`
	err := s.db.QueryRow(ctx, sql, groupID, name, description, avatar).
		Scan(&g.ID, &g.Name, &g.Description, &g.Avatar, &g.CreatedBy, &g.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Group{}, ErrGroupNotExist
		}
		return Group{}, err
	}
	g.IsAdmin = true

	return g, nil
}

// DeleteGroup removes the group together with its messages and memberships.
// The delete is an explicit multi-table transaction rather than a reliance on
// schema-level cascades. Admin only.
func (s *Store) DeleteGroup(ctx context.Context, groupID, actor int64) error {
	s.logger.Debugf("Deleting group (id: %d) by user (id: %d)", groupID, actor)

	if err := s.requireAdmin(ctx, groupID, actor); err != nil {
		return err
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(context.Background())

	if _, err = tx.Exec(ctx, "delete from messages where group_id = $1", groupID); err != nil {
		return err
	}
	if _, err = tx.Exec(ctx, "delete from group_members where group_id = $1", groupID); err != nil {
		return err
	}
	if _, err = tx.Exec(ctx, "delete from chat_groups where id = $1", groupID); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// GroupMembers lists memberships with user summaries. Member gated.
func (s *Store) GroupMembers(ctx context.Context, groupID, requester int64) ([]GroupMember, error) {
	if _, err := s.memberRole(ctx, groupID, requester); err != nil {
		return nil, err
	}

	sql := `select m.id, m.user_id, u.name, u.email, u.profile_picture, m.role, m.joined_at
			  from group_members m
			  join users u on u.id = m.user_id
			 where m.group_id = $1
			 order by m.joined_at`
	rows, err := s.db.Query(ctx, sql, groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var members []GroupMember
	for rows.Next() {
		var m GroupMember
		err = rows.Scan(&m.ID, &m.UserID, &m.UserName, &m.UserEmail, &m.UserAvatar, &m.Role, &m.JoinedAt)
		if err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}

	return members, nil
}

// AddGroupMembers inserts the given users as members, silently skipping ids
// that are already members, and returns summaries of the users actually
// added. Admin only.
func (s *Store) AddGroupMembers(ctx context.Context, groupID int64, userIDs []int64, actor int64) ([]UserSummary, error) {
	s.logger.Debugf("Adding members (%v) to group (id: %d) by user (id: %d)", userIDs, groupID, actor)

	if err := s.requireAdmin(ctx, groupID, actor); err != nil {
		return nil, err
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(context.Background())

	sql := `insert into group_members (group_id, user_id, role)
			select $1, u.id, 'member'
			  from unnest($2::bigint[]) as u(id)
			on conflict (group_id, user_id) do nothing
			returning user_id`
	rows, err := tx.Query(ctx, sql, groupID, lo.Uniq(userIDs))
	if err != nil {
		if isForeignKeyViolation(err) {
			return nil, ErrBadMembers
		}
		return nil, err
	}

	var addedIDs []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		addedIDs = append(addedIDs, id)
	}
	rows.Close()
	if rows.Err() != nil {
		if isForeignKeyViolation(rows.Err()) {
			return nil, ErrBadMembers
		}
		return nil, rows.Err()
	}

	added, err := summariesByIDs(ctx, tx, addedIDs)
	if err != nil {
		return nil, err
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, err
	}

	s.logger.Debugf("Added %d members to group (id: %d)", len(added), groupID)

	return added, nil
}

// RemoveGroupMember deletes the membership row. Allowed for admins and for a
// user removing themselves, regardless of role.
func (s *Store) RemoveGroupMember(ctx context.Context, groupID, userID, actor int64) error {
	s.logger.Debugf("Removing user (id: %d) from group (id: %d) by user (id: %d)", userID, groupID, actor)

	if err := s.groupExists(ctx, groupID); err != nil {
		return err
	}

	if actor != userID {
		isAdmin, err := s.IsGroupAdmin(ctx, groupID, actor)
		if err != nil {
			return err
		}
		if !isAdmin {
			return ErrForbidden
		}
	}

	tag, err := s.db.Exec(ctx, "delete from group_members where group_id = $1 and user_id = $2", groupID, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotMember
	}

	return nil
}

// UpdateMemberRole sets the member's role. Admin only. Nothing prevents an
// admin from demoting themselves or the last remaining admin; a group can end
// up with zero admins.
func (s *Store) UpdateMemberRole(ctx context.Context, groupID, userID int64, role string, actor int64) error {
	s.logger.Debugf("Setting role (%s) for user (id: %d) in group (id: %d) by user (id: %d)", role, userID, groupID, actor)

	if err := s.requireAdmin(ctx, groupID, actor); err != nil {
		return err
	}

	tag, err := s.db.Exec(ctx,
		"update group_members set role = $3 where group_id = $1 and user_id = $2", groupID, userID, role)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotMember
	}

	return nil
}

// IsGroupMember reports whether the user has a membership row for the group.
// Pure read, used by authorization checks.
func (s *Store) IsGroupMember(ctx context.Context, groupID, userID int64) (bool, error) {
	var i int8
	sql := "select 1 from group_members where group_id = $1 and user_id = $2"
	err := s.db.QueryRow(ctx, sql, groupID, userID).Scan(&i)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// IsGroupAdmin reports whether the user holds the admin role in the group.
// Pure read, used by authorization checks.
func (s *Store) IsGroupAdmin(ctx context.Context, groupID, userID int64) (bool, error) {
	var i int8
	sql := "select 1 from group_members where group_id = $1 and user_id = $2 and role = 'admin'"
	err := s.db.QueryRow(ctx, sql, groupID, userID).Scan(&i)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// groupExists resolves to ErrGroupNotExist when no group row is present.
func (s *Store) groupExists(ctx context.Context, groupID int64) error {
	var i int8
	err := s.db.QueryRow(ctx, "select 1 from chat_groups where id = $1", groupID).Scan(&i)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrGroupNotExist
		}
		return err
	}
	return nil
}

// memberRole returns the requester's role, ErrGroupNotExist when the group is
// absent and ErrNotMember when the requester holds no membership.
func (s *Store) memberRole(ctx context.Context, groupID, userID int64) (string, error) {
	if err := s.groupExists(ctx, groupID); err != nil {
		return "", err
	}

	var role string
	sql := "select role from group_members where group_id = $1 and user_id = $2"
	err := s.db.QueryRow(ctx, sql, groupID, userID).Scan(&role)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrNotMember
		}
		return "", err
	}
	return role, nil
}

// requireAdmin short-circuits mutations with ErrGroupNotExist or
// ErrForbidden before any state change.
func (s *Store) requireAdmin(ctx context.Context, groupID, actor int64) error {
	role, err := s.memberRole(ctx, groupID, actor)
	if err != nil {
		if errors.Is(err, ErrNotMember) {
			return ErrForbidden
		}
		return err
	}
	if role != RoleAdmin {
		return ErrForbidden
	}
	return nil
}

// summariesByIDs loads short user shapes inside the caller's transaction.
func summariesByIDs(ctx context.Context, tx pgx.Tx, ids []int64) ([]UserSummary, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	rows, err := tx.Query(ctx, "select id, name, email from users where id = any($1) order by id", ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var summaries []UserSummary
	for rows.Next() {
		var u UserSummary
		if err := rows.Scan(&u.ID, &u.Name, &u.Email); err != nil {
			return nil, err
		}
		summaries = append(summaries, u)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}

	return summaries, nil
}
