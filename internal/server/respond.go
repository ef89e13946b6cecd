package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/nexuschat/backend/internal/storage"
)

// envelope is the uniform response shape:
// {"status": bool, "data"?, "message"?, "errors"?}.
type envelope struct {
	Status  bool              `json:"status"`
	Data    interface{}       `json:"data,omitempty"`
	Message string            `json:"message,omitempty"`
	Errors  map[string]string `json:"errors,omitempty"`
}

func (h *handler) respond(w http.ResponseWriter, code int, body envelope) {
	payload, err := json.Marshal(body)
	if err != nil {
		h.logger.Errorf("marshaling response envelope: %v", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if _, err = w.Write(payload); err != nil {
		h.logger.Errorf("writing marshaled data to ResponseWriter: %v", err)
	}
}

func (h *handler) respondData(w http.ResponseWriter, code int, data interface{}) {
	h.respond(w, code, envelope{Status: true, Data: data})
}

func (h *handler) respondMessage(w http.ResponseWriter, code int, msg string) {
	h.respond(w, code, envelope{Status: true, Message: msg})
}

func (h *handler) respondError(w http.ResponseWriter, code int, msg string) {
	h.respond(w, code, envelope{Status: false, Message: msg})
}

func (h *handler) respondValidation(w http.ResponseWriter, errs map[string]string) {
	h.respond(w, http.StatusUnprocessableEntity, envelope{
		Status:  false,
		Message: "Validation failed",
		Errors:  errs,
	})
}

// decodeValid unmarshals the request body into dst and runs struct
// validation. On failure it writes the 422 envelope and returns false.
func (h *handler) decodeValid(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.respondValidation(w, map[string]string{"body": "Malformed request body"})
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		h.respondValidation(w, validationErrors(err))
		return false
	}
	return true
}

func validationErrors(err error) map[string]string {
	errs := map[string]string{}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		errs["body"] = err.Error()
		return errs
	}

	for _, fe := range fieldErrs {
		switch fe.Tag() {
		case "required":
			errs[fe.Field()] = "This field is required"
		case "email":
			errs[fe.Field()] = "Must be a valid email address"
		case "min":
			errs[fe.Field()] = "Too short (min " + fe.Param() + ")"
		case "max":
			errs[fe.Field()] = "Too long (max " + fe.Param() + ")"
		case "oneof":
			errs[fe.Field()] = "Must be one of: " + fe.Param()
		default:
			errs[fe.Field()] = "Invalid value"
		}
	}

	return errs
}

// failStore maps storage sentinels onto the response envelope.
// notMemberCode distinguishes the endpoints that intentionally answer 404 for
// both "absent" and "not a member" (rooms) from those that answer 403
// (groups); notMemberMsg carries the endpoint's wording.
func (h *handler) failStore(w http.ResponseWriter, err error, notMemberCode int, notMemberMsg string) {
	switch {
	case errors.Is(err, storage.ErrRoomNotExist):
		h.respondError(w, http.StatusNotFound, "Chat room not found")
	case errors.Is(err, storage.ErrGroupNotExist):
		h.respondError(w, http.StatusNotFound, "Group not found")
	case errors.Is(err, storage.ErrNotMember):
		h.respondError(w, notMemberCode, notMemberMsg)
	case errors.Is(err, storage.ErrForbidden):
		h.respondError(w, http.StatusForbidden, "This action requires the admin role")
	case errors.Is(err, storage.ErrUserNotExist), errors.Is(err, storage.ErrBadMembers):
		h.respondValidation(w, map[string]string{"user_ids": "One or more user ids do not exist"})
	default:
		h.logger.Error(err)
		h.respondError(w, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
	}
}
