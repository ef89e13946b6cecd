package storage

import "errors"

var (
	ErrEmailTaken    = errors.New("email already registered")
	ErrUserNotExist  = errors.New("user does not exist")
	ErrRoomNotExist  = errors.New("chat room does not exist")
	ErrGroupNotExist = errors.New("group does not exist")
	ErrNotMember     = errors.New("user is not a member")
	ErrForbidden     = errors.New("operation requires admin role")
	ErrBadMembers    = errors.New("bad member ids")
)
