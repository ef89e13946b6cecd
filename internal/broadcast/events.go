package broadcast

import (
	"time"

	"github.com/nexuschat/backend/internal/storage"
)

// Event catalogue. One event per state-changing operation, published after
// the transaction commits.
const (
	EventMessageSent       = "message.sent"
	EventGroupUpdated      = "group.updated"
	EventMemberAdded       = "member.added"
	EventMemberRemoved     = "member.removed"
	EventMemberRoleUpdated = "member.role.updated"
)

func stamp() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// MessageSent describes an appended message on its room or group channel.
func MessageSent(m storage.Message) Event {
	var channel string
	switch {
	case m.RoomID != nil:
		channel = RoomChannel(*m.RoomID)
	case m.GroupID != nil:
		channel = GroupChannel(*m.GroupID)
	}

	return Event{
		Name:    EventMessageSent,
		Channel: channel,
		Data:    m,
	}
}

func GroupUpdated(g storage.Group, updatedBy int64) Event {
	return Event{
		Name:    EventGroupUpdated,
		Channel: GroupChannel(g.ID),
		Data: map[string]interface{}{
			"group": map[string]interface{}{
				"id":          g.ID,
				"name":        g.Name,
				"description": g.Description,
				"avatar":      g.Avatar,
			},
			"updated_by": updatedBy,
			"timestamp":  stamp(),
		},
	}
}

func MemberAdded(groupID int64, added []storage.UserSummary, addedBy int64) Event {
	return Event{
		Name:    EventMemberAdded,
		Channel: GroupChannel(groupID),
		Data: map[string]interface{}{
			"group_id":    groupID,
			"added_users": added,
			"added_by":    addedBy,
			"timestamp":   stamp(),
		},
	}
}

func MemberRemoved(groupID, removedUserID, removedBy int64) Event {
	return Event{
		Name:    EventMemberRemoved,
		Channel: GroupChannel(groupID),
		Data: map[string]interface{}{
			"group_id":        groupID,
			"removed_user_id": removedUserID,
			"removed_by":      removedBy,
			"timestamp":       stamp(),
		},
	}
}

func MemberRoleUpdated(groupID, userID int64, role string, updatedBy int64) Event {
	return Event{
		Name:    EventMemberRoleUpdated,
		Channel: GroupChannel(groupID),
		Data: map[string]interface{}{
			"group_id":   groupID,
			"user_id":    userID,
			"new_role":   role,
			"updated_by": updatedBy,
			"timestamp":  stamp(),
		},
	}
}
