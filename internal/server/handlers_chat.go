package server

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/nexuschat/backend/internal/broadcast"
	"github.com/nexuschat/backend/internal/media"
	"github.com/nexuschat/backend/internal/storage"
)

const roomGoneMsg = "Chat room not found or you do not have access to it."

type provideRequest struct {
	FirstUser  int64 `json:"first_user" validate:"required,gt=0"`
	SecondUser int64 `json:"second_user" validate:"required,gt=0"`
}

// provideRoom handles POST /chat/provide: resolve-or-create the direct
// conversation for a user pair. Idempotent in either argument order; racing
// first-time calls are serialized inside the store.
func (h *handler) provideRoom(w http.ResponseWriter, r *http.Request) {
	var req provideRequest
	if !h.decodeValid(w, r, &req) {
		return
	}

	for field, id := range map[string]int64{"first_user": req.FirstUser, "second_user": req.SecondUser} {
		if _, err := h.store.UserByID(r.Context(), id); err != nil {
			h.respondValidation(w, map[string]string{field: "No such user"})
			return
		}
	}

	room, err := h.store.ProvideRoom(r.Context(), req.FirstUser, req.SecondUser)
	if err != nil {
		h.failStore(w, err, http.StatusNotFound, roomGoneMsg)
		return
	}

	messages, err := h.store.RoomLog(r.Context(), room.ID)
	if err != nil {
		h.logger.Error(err)
		h.respondError(w, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
		return
	}

	h.respondData(w, http.StatusOK, map[string]interface{}{
		"id":         room.ID,
		"status":     room.Status,
		"created_at": room.CreatedAt,
		"updated_at": room.UpdatedAt,
		"messages":   messages,
	})
}

// listRooms handles GET /chat/rooms: the caller's conversations with the
// other party's summary and last message, most recently active first.
func (h *handler) listRooms(w http.ResponseWriter, r *http.Request) {
	rooms, err := h.store.RoomsByUserID(r.Context(), userIDFrom(r.Context()))
	if err != nil {
		h.logger.Error(err)
		h.respondError(w, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
		return
	}

	h.respondData(w, http.StatusOK, rooms)
}

// roomMessages handles GET /chat/rooms/{id}/messages. Membership is the only
// gate; a missing room and a foreign room answer identically with 404.
// Reading resets the caller's unread counter.
func (h *handler) roomMessages(w http.ResponseWriter, r *http.Request) {
	roomID, ok := pathID(w, h, r, "id")
	if !ok {
		return
	}

	messages, err := h.store.RoomMessages(r.Context(), roomID, userIDFrom(r.Context()))
	if err != nil {
		h.failStore(w, err, http.StatusNotFound, roomGoneMsg)
		return
	}

	h.respondData(w, http.StatusOK, messages)
}

// sendRoomMessage handles POST /chat/rooms/{id}/messages. TEXT arrives as
// JSON, binary types as multipart with a file part; either way the ledger
// records text or a stored-object URL. The optional X-Socket-ID header
// excludes the sender's own connection from the broadcast.
func (h *handler) sendRoomMessage(w http.ResponseWriter, r *http.Request) {
	roomID, ok := pathID(w, h, r, "id")
	if !ok {
		return
	}

	msgType, content, ok := h.messagePayload(w, r)
	if !ok {
		return
	}

	msg, err := h.store.AppendRoomMessage(r.Context(), roomID, userIDFrom(r.Context()), msgType, content)
	if err != nil {
		h.failStore(w, err, http.StatusNotFound, roomGoneMsg)
		return
	}

	h.publish(broadcast.MessageSent(msg), r.Header.Get("X-Socket-ID"))

	h.respondData(w, http.StatusOK, msg)
}

type sendMessageRequest struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

// messagePayload extracts and validates the typed message body shared by the
// room and group send endpoints. Reports ok=false after writing the
// validation response.
func (h *handler) messagePayload(w http.ResponseWriter, r *http.Request) (msgType, content string, ok bool) {
	contentType := r.Header.Get("Content-Type")

	if strings.HasPrefix(contentType, "multipart/form-data") {
		if err := r.ParseMultipartForm(media.MaxUploadSize + 1<<20); err != nil {
			h.respondValidation(w, map[string]string{"file": "Malformed multipart body"})
			return "", "", false
		}
		msgType = r.FormValue("type")
		content = r.FormValue("content")
	} else {
		var req sendMessageRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.respondValidation(w, map[string]string{"body": "Malformed request body"})
			return "", "", false
		}
		msgType, content = req.Type, req.Content
	}

	if msgType == "" {
		msgType = storage.TypeText
	}
	if !storage.ValidMessageType(msgType) {
		h.respondValidation(w, map[string]string{"type": "Must be one of: TEXT IMAGE FILE RECORD"})
		return "", "", false
	}

	if msgType == storage.TypeText {
		if content == "" {
			h.respondValidation(w, map[string]string{"content": "This field is required"})
			return "", "", false
		}
		return msgType, content, true
	}

	// binary types require an uploaded file; the ledger stores its URL
	file, _, err := r.FormFile("file")
	if err != nil {
		h.respondValidation(w, map[string]string{"file": "This field is required"})
		return "", "", false
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, media.MaxUploadSize+1))
	if err != nil {
		h.logger.Error(err)
		h.respondError(w, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
		return "", "", false
	}

	url, err := h.media.Save(msgType, data)
	if err != nil {
		switch err {
		case media.ErrTooLarge:
			h.respondValidation(w, map[string]string{"file": "File exceeds the 10MB limit"})
		case media.ErrBadMime:
			h.respondValidation(w, map[string]string{"file": "File type not allowed for " + msgType})
		default:
			h.logger.Error(err)
			h.respondError(w, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
		}
		return "", "", false
	}

	return msgType, url, true
}

// publish hands the event to the hub. Nothing here can fail the mutation
// that already committed.
func (h *handler) publish(ev broadcast.Event, excludeSocketID string) {
	h.hub.Publish(ev, excludeSocketID)
}

// pathID parses a positive int64 route parameter, answering 404 for garbage
// so unparseable ids look the same as absent resources.
func pathID(w http.ResponseWriter, h *handler, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id < 1 {
		h.respondError(w, http.StatusNotFound, http.StatusText(http.StatusNotFound))
		return 0, false
	}
	return id, true
}
