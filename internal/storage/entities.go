package storage

import "time"

// Message types accepted by the ledger.
const (
	TypeText   = "TEXT"
	TypeImage  = "IMAGE"
	TypeFile   = "FILE"
	TypeRecord = "RECORD"
)

// Group member roles.
const (
	RoleMember = "member"
	RoleAdmin  = "admin"
)

// ValidMessageType reports whether t is one of the fixed message types.
func ValidMessageType(t string) bool {
	switch t {
	case TypeText, TypeImage, TypeFile, TypeRecord:
		return true
	}
	return false
}

// ValidRole reports whether r is one of the fixed group roles.
func ValidRole(r string) bool {
	return r == RoleMember || r == RoleAdmin
}

type User struct {
	ID              int64      `json:"id"`
	Name            string     `json:"name"`
	Email           string     `json:"email"`
	ProfilePicture  *string    `json:"profile_picture"`
	EmailVerifiedAt *time.Time `json:"email_verified_at"`
	CreatedAt       time.Time  `json:"created_at"`
}

// UserSummary is the short user shape embedded in messages and broadcast
// payloads.
type UserSummary struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

type Room struct {
	ID        int64     `json:"id"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RoomOverview is one entry of a user's room list: the room plus the other
// party and the most recent message, if any.
type RoomOverview struct {
	ID          int64        `json:"id"`
	Name        string       `json:"name"`
	Email       string       `json:"email"`
	UnreadCount int          `json:"unread_count"`
	LastMessage *LastMessage `json:"lastMessage"`
}

type LastMessage struct {
	ID        int64     `json:"id"`
	SenderID  int64     `json:"senderId"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

type Group struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description *string   `json:"description"`
	Avatar      *string   `json:"avatar"`
	CreatedBy   int64     `json:"created_by"`
	CreatedAt   time.Time `json:"created_at"`
	MemberCount int       `json:"member_count"`
	IsAdmin     bool      `json:"is_admin"`
}

type GroupMember struct {
	ID         int64     `json:"id"`
	UserID     int64     `json:"user_id"`
	UserName   string    `json:"user_name"`
	UserEmail  string    `json:"user_email"`
	UserAvatar *string   `json:"user_avatar"`
	Role       string    `json:"role"`
	JoinedAt   time.Time `json:"joined_at"`
}

// Message is an immutable ledger entry. Exactly one of RoomID and GroupID is
// set.
type Message struct {
	ID        int64       `json:"id"`
	RoomID    *int64      `json:"chat_room_id,omitempty"`
	GroupID   *int64      `json:"group_id,omitempty"`
	SenderID  int64       `json:"senderId"`
	Content   string      `json:"content"`
	Type      string      `json:"type"`
	CreatedAt time.Time   `json:"timestamp"`
	Sender    UserSummary `json:"sender"`
}
