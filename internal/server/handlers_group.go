package server

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/samber/lo"

	"github.com/nexuschat/backend/internal/broadcast"
	"github.com/nexuschat/backend/internal/media"
)

const (
	notGroupMemberMsg = "You are not a member of this group"
	avatarMaxSize     = 2 << 20
)

// listGroups handles GET /groups: the caller's groups, newest first.
func (h *handler) listGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := h.store.GroupsByUserID(r.Context(), userIDFrom(r.Context()))
	if err != nil {
		h.logger.Error(err)
		h.respondError(w, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
		return
	}

	h.respondData(w, http.StatusOK, groups)
}

type createGroupRequest struct {
	Name        string  `json:"name" validate:"required,max=50"`
	Description *string `json:"description" validate:"omitempty,max=200"`
	MemberIDs   []int64 `json:"member_ids" validate:"required,min=1,dive,gt=0"`
}

// createGroup handles POST /groups. Accepts JSON, or multipart when an
// avatar is attached. The creator is seeded as admin; every seeded member
// lands in one member.added event on the new group's channel.
func (h *handler) createGroup(w http.ResponseWriter, r *http.Request) {
	var req createGroupRequest
	var avatar *string

	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		if err := r.ParseMultipartForm(avatarMaxSize + 1<<20); err != nil {
			h.respondValidation(w, map[string]string{"avatar": "Malformed multipart body"})
			return
		}
		req.Name = r.FormValue("name")
		if d := r.FormValue("description"); d != "" {
			req.Description = &d
		}
		ids, err := formMemberIDs(r, "member_ids")
		if err != nil {
			h.respondValidation(w, map[string]string{"member_ids": "Must be a list of user ids"})
			return
		}
		req.MemberIDs = ids

		url, ok := h.saveAvatar(w, r)
		if !ok {
			return
		}
		avatar = url

		if err := h.validate.Struct(&req); err != nil {
			h.respondValidation(w, validationErrors(err))
			return
		}
	} else if !h.decodeValid(w, r, &req) {
		return
	}

	caller := userIDFrom(r.Context())
	group, added, err := h.store.CreateGroup(r.Context(), req.Name, req.Description, avatar, caller, req.MemberIDs)
	if err != nil {
		h.failStore(w, err, http.StatusForbidden, notGroupMemberMsg)
		return
	}

	if len(added) > 0 {
		h.publish(broadcast.MemberAdded(group.ID, added, caller), r.Header.Get("X-Socket-ID"))
	}

	h.respond(w, http.StatusCreated, envelope{
		Status:  true,
		Message: "Group created successfully",
		Data:    group,
	})
}

// showGroup handles GET /groups/{id}. An absent group answers 404; an
// existing group the caller is no member of answers 403.
func (h *handler) showGroup(w http.ResponseWriter, r *http.Request) {
	groupID, ok := pathID(w, h, r, "id")
	if !ok {
		return
	}

	group, err := h.store.GroupByID(r.Context(), groupID, userIDFrom(r.Context()))
	if err != nil {
		h.failStore(w, err, http.StatusForbidden, notGroupMemberMsg)
		return
	}

	h.respondData(w, http.StatusOK, group)
}

type updateGroupRequest struct {
	Name        *string `json:"name" validate:"omitempty,max=50"`
	Description *string `json:"description" validate:"omitempty,max=200"`
}

// updateGroup handles PUT /groups/{id}. Admin only; publishes group.updated.
func (h *handler) updateGroup(w http.ResponseWriter, r *http.Request) {
	groupID, ok := pathID(w, h, r, "id")
	if !ok {
		return
	}

	var req updateGroupRequest
	var avatar *string

	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		if err := r.ParseMultipartForm(avatarMaxSize + 1<<20); err != nil {
			h.respondValidation(w, map[string]string{"avatar": "Malformed multipart body"})
			return
		}
		if n := r.FormValue("name"); n != "" {
			req.Name = &n
		}
		if d := r.FormValue("description"); d != "" {
			req.Description = &d
		}
		url, ok := h.saveAvatar(w, r)
		if !ok {
			return
		}
		avatar = url

		if err := h.validate.Struct(&req); err != nil {
			h.respondValidation(w, validationErrors(err))
			return
		}
	} else if !h.decodeValid(w, r, &req) {
		return
	}

	caller := userIDFrom(r.Context())

	// a replaced avatar file is deleted after the update commits
	var previousAvatar *string
	if avatar != nil {
		if prev, err := h.store.GroupByID(r.Context(), groupID, caller); err == nil {
			previousAvatar = prev.Avatar
		}
	}

	group, err := h.store.UpdateGroup(r.Context(), groupID, req.Name, req.Description, avatar, caller)
	if err != nil {
		h.failStore(w, err, http.StatusForbidden, notGroupMemberMsg)
		return
	}

	h.removeAvatarFile(previousAvatar)

	h.publish(broadcast.GroupUpdated(group, caller), r.Header.Get("X-Socket-ID"))

	h.respond(w, http.StatusOK, envelope{
		Status:  true,
		Message: "Group updated successfully",
		Data: map[string]interface{}{
			"id":          group.ID,
			"name":        group.Name,
			"description": group.Description,
			"avatar":      group.Avatar,
		},
	})
}

// deleteGroup handles DELETE /groups/{id}. Admin only; the store removes
// messages and memberships in the same transaction.
func (h *handler) deleteGroup(w http.ResponseWriter, r *http.Request) {
	groupID, ok := pathID(w, h, r, "id")
	if !ok {
		return
	}

	caller := userIDFrom(r.Context())

	var avatar *string
	if g, err := h.store.GroupByID(r.Context(), groupID, caller); err == nil {
		avatar = g.Avatar
	}

	if err := h.store.DeleteGroup(r.Context(), groupID, caller); err != nil {
		h.failStore(w, err, http.StatusForbidden, notGroupMemberMsg)
		return
	}

	h.removeAvatarFile(avatar)

	h.respondMessage(w, http.StatusOK, "Group deleted successfully")
}

// groupMembers handles GET /groups/{id}/members.
func (h *handler) groupMembers(w http.ResponseWriter, r *http.Request) {
	groupID, ok := pathID(w, h, r, "id")
	if !ok {
		return
	}

	members, err := h.store.GroupMembers(r.Context(), groupID, userIDFrom(r.Context()))
	if err != nil {
		h.failStore(w, err, http.StatusForbidden, notGroupMemberMsg)
		return
	}

	h.respondData(w, http.StatusOK, members)
}

type addMembersRequest struct {
	UserIDs []int64 `json:"user_ids" validate:"required,min=1,dive,gt=0"`
}

// addGroupMembers handles POST /groups/{id}/members. Admin only. Ids that
// are already members are skipped without error; only actually-added users
// appear in the member.added payload.
func (h *handler) addGroupMembers(w http.ResponseWriter, r *http.Request) {
	groupID, ok := pathID(w, h, r, "id")
	if !ok {
		return
	}

	var req addMembersRequest
	if !h.decodeValid(w, r, &req) {
		return
	}

	caller := userIDFrom(r.Context())
	added, err := h.store.AddGroupMembers(r.Context(), groupID, req.UserIDs, caller)
	if err != nil {
		h.failStore(w, err, http.StatusForbidden, notGroupMemberMsg)
		return
	}

	if len(added) > 0 {
		h.publish(broadcast.MemberAdded(groupID, added, caller), r.Header.Get("X-Socket-ID"))
	}

	h.respondMessage(w, http.StatusOK, strconv.Itoa(len(added))+" member(s) added successfully")
}

// removeGroupMember handles DELETE /groups/{groupId}/members/{userId}.
// Admins may remove anyone; everyone may remove themselves.
func (h *handler) removeGroupMember(w http.ResponseWriter, r *http.Request) {
	groupID, ok := pathID(w, h, r, "id")
	if !ok {
		return
	}
	userID, ok := pathID(w, h, r, "userID")
	if !ok {
		return
	}

	caller := userIDFrom(r.Context())
	if err := h.store.RemoveGroupMember(r.Context(), groupID, userID, caller); err != nil {
		h.failStore(w, err, http.StatusNotFound, "User is not a member of this group")
		return
	}

	h.publish(broadcast.MemberRemoved(groupID, userID, caller), r.Header.Get("X-Socket-ID"))

	h.respondMessage(w, http.StatusOK, "Member removed successfully")
}

type updateRoleRequest struct {
	Role string `json:"role" validate:"required,oneof=member admin"`
}

// updateMemberRole handles PUT /groups/{groupId}/members/{userId}/role.
// Admin only. The store deliberately allows demoting the last admin.
func (h *handler) updateMemberRole(w http.ResponseWriter, r *http.Request) {
	groupID, ok := pathID(w, h, r, "id")
	if !ok {
		return
	}
	userID, ok := pathID(w, h, r, "userID")
	if !ok {
		return
	}

	var req updateRoleRequest
	if !h.decodeValid(w, r, &req) {
		return
	}

	caller := userIDFrom(r.Context())
	if err := h.store.UpdateMemberRole(r.Context(), groupID, userID, req.Role, caller); err != nil {
		h.failStore(w, err, http.StatusNotFound, "User is not a member of this group")
		return
	}

	h.publish(broadcast.MemberRoleUpdated(groupID, userID, req.Role, caller), r.Header.Get("X-Socket-ID"))

	h.respondMessage(w, http.StatusOK, "Member role updated successfully")
}

// leaveGroup handles POST /groups/{id}/leave. Allowed regardless of role.
func (h *handler) leaveGroup(w http.ResponseWriter, r *http.Request) {
	groupID, ok := pathID(w, h, r, "id")
	if !ok {
		return
	}

	caller := userIDFrom(r.Context())
	if err := h.store.RemoveGroupMember(r.Context(), groupID, caller, caller); err != nil {
		h.failStore(w, err, http.StatusNotFound, notGroupMemberMsg)
		return
	}

	h.publish(broadcast.MemberRemoved(groupID, caller, caller), r.Header.Get("X-Socket-ID"))

	h.respondMessage(w, http.StatusOK, "You have left the group")
}

// groupMessages handles GET /groups/{id}/messages.
func (h *handler) groupMessages(w http.ResponseWriter, r *http.Request) {
	groupID, ok := pathID(w, h, r, "id")
	if !ok {
		return
	}

	messages, err := h.store.GroupMessages(r.Context(), groupID, userIDFrom(r.Context()))
	if err != nil {
		h.failStore(w, err, http.StatusNotFound, "Group not found or you do not have access to it.")
		return
	}

	h.respondData(w, http.StatusOK, messages)
}

// sendGroupMessage handles POST /groups/{id}/messages, mirroring the room
// send flow without unread counters.
func (h *handler) sendGroupMessage(w http.ResponseWriter, r *http.Request) {
	groupID, ok := pathID(w, h, r, "id")
	if !ok {
		return
	}

	msgType, content, ok := h.messagePayload(w, r)
	if !ok {
		return
	}

	msg, err := h.store.AppendGroupMessage(r.Context(), groupID, userIDFrom(r.Context()), msgType, content)
	if err != nil {
		h.failStore(w, err, http.StatusNotFound, "Group not found or you do not have access to it.")
		return
	}

	h.publish(broadcast.MessageSent(msg), r.Header.Get("X-Socket-ID"))

	h.respondData(w, http.StatusOK, msg)
}

// saveAvatar stores an optional multipart avatar image, answering the
// validation error itself. ok=false means a response was already written.
func (h *handler) saveAvatar(w http.ResponseWriter, r *http.Request) (*string, bool) {
	file, _, err := r.FormFile("avatar")
	if err != nil {
		return nil, true // no avatar part; nothing to do
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, avatarMaxSize+1))
	if err != nil {
		h.logger.Error(err)
		h.respondError(w, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
		return nil, false
	}
	if len(data) > avatarMaxSize {
		h.respondValidation(w, map[string]string{"avatar": "Image exceeds the 2MB limit"})
		return nil, false
	}

	url, err := h.media.Save("IMAGE", data)
	if err != nil {
		if err == media.ErrBadMime {
			h.respondValidation(w, map[string]string{"avatar": "Must be an image"})
			return nil, false
		}
		h.logger.Error(err)
		h.respondError(w, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
		return nil, false
	}

	return &url, true
}

// removeAvatarFile drops an avatar file that no group row references
// anymore. Cleanup never fails the request that triggered it.
func (h *handler) removeAvatarFile(avatar *string) {
	if avatar == nil || h.media == nil {
		return
	}
	if err := h.media.Remove(*avatar); err != nil {
		h.logger.Errorf("removing avatar file %s: %v", *avatar, err)
	}
}

// formMemberIDs reads repeated or JSON-encoded member id form values.
func formMemberIDs(r *http.Request, field string) ([]int64, error) {
	values := r.Form[field]
	if len(values) == 0 {
		values = r.Form[field+"[]"]
	}

	// a single value may be a JSON array
	if len(values) == 1 && strings.HasPrefix(strings.TrimSpace(values[0]), "[") {
		var ids []int64
		if err := json.Unmarshal([]byte(values[0]), &ids); err != nil {
			return nil, err
		}
		return ids, nil
	}

	ids := make([]int64, 0, len(values))
	for _, v := range values {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return lo.Uniq(ids), nil
}
