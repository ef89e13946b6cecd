package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/nexuschat/backend/internal/storage"
)

// decodeEnvelope reads the uniform response shape back out of a recorder.
func decodeEnvelope(t *testing.T, rr *httptest.ResponseRecorder) envelope {
	t.Helper()

	var e envelope
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &e))

	return e
}

func postJSON(t *testing.T, target, body string) *http.Request {
	t.Helper()

	req, err := http.NewRequest("POST", target, bytes.NewBufferString(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	return req
}

func TestRegisterMissingEmail(t *testing.T) {
	t.Parallel()

	h := bootstrapHandler(t)

	rr := httptest.NewRecorder()
	http.HandlerFunc(h.register).ServeHTTP(rr, postJSON(t, "/register", `{"name":"Ann","password":"longenough"}`))

	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	e := decodeEnvelope(t, rr)
	require.False(t, e.Status)
	require.Equal(t, "Validation failed", e.Message)
	require.Equal(t, "This field is required", e.Errors["Email"])
}

func TestRegisterShortPassword(t *testing.T) {
	t.Parallel()

	h := bootstrapHandler(t)

	rr := httptest.NewRecorder()
	http.HandlerFunc(h.register).ServeHTTP(rr, postJSON(t, "/register", `{"name":"Ann","email":"ann@example.com","password":"short"}`))

	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	require.Equal(t, "Too short (min 8)", decodeEnvelope(t, rr).Errors["Password"])
}

func TestRegisterMalformedBody(t *testing.T) {
	t.Parallel()

	h := bootstrapHandler(t)

	rr := httptest.NewRecorder()
	http.HandlerFunc(h.register).ServeHTTP(rr, postJSON(t, "/register", `{"name":`))

	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	require.Equal(t, "Malformed request body", decodeEnvelope(t, rr).Errors["body"])
}

func TestVerifyOTPBadCodeLength(t *testing.T) {
	t.Parallel()

	h := bootstrapHandler(t)

	rr := httptest.NewRecorder()
	http.HandlerFunc(h.verifyOTP).ServeHTTP(rr, postJSON(t, "/verify-otp", `{"email":"ann@example.com","otp":"123"}`))

	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	require.Contains(t, decodeEnvelope(t, rr).Errors, "OTP")
}

func TestLoginMissingPassword(t *testing.T) {
	t.Parallel()

	h := bootstrapHandler(t)

	rr := httptest.NewRecorder()
	http.HandlerFunc(h.login).ServeHTTP(rr, postJSON(t, "/login", `{"email":"ann@example.com"}`))

	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	require.Equal(t, "This field is required", decodeEnvelope(t, rr).Errors["Password"])
}

func TestGoogleLoginMissingToken(t *testing.T) {
	t.Parallel()

	h := bootstrapHandler(t)

	rr := httptest.NewRecorder()
	http.HandlerFunc(h.googleLogin).ServeHTTP(rr, postJSON(t, "/auth/google", `{}`))

	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
}

func TestLogout(t *testing.T) {
	t.Parallel()

	h := bootstrapHandler(t)

	rr := httptest.NewRecorder()
	http.HandlerFunc(h.logout).ServeHTTP(rr, postJSON(t, "/logout", `{}`))

	require.Equal(t, http.StatusOK, rr.Code)
	e := decodeEnvelope(t, rr)
	require.True(t, e.Status)
	require.Equal(t, "Successfully logged out.", e.Message)
}

func TestSearchUsersMissingQuery(t *testing.T) {
	t.Parallel()

	h := bootstrapHandler(t)

	req, err := http.NewRequest("GET", "/users/search", nil)
	require.NoError(t, err)

	rr := httptest.NewRecorder()
	http.HandlerFunc(h.searchUsers).ServeHTTP(rr, req)

	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	require.Equal(t, "This field is required", decodeEnvelope(t, rr).Errors["query"])
}

func TestProvideRoomMissingSecondUser(t *testing.T) {
	t.Parallel()

	h := bootstrapHandler(t)

	rr := httptest.NewRecorder()
	http.HandlerFunc(h.provideRoom).ServeHTTP(rr, postJSON(t, "/chat/provide", `{"first_user":1}`))

	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	require.Equal(t, "This field is required", decodeEnvelope(t, rr).Errors["SecondUser"])
}

// sendRouter mounts the message send endpoints so chi resolves path params.
func sendRouter(h *handler) chi.Router {
	r := chi.NewRouter()
	r.Post("/chat/rooms/{id}/messages", h.sendRoomMessage)
	r.Post("/groups/{id}/messages", h.sendGroupMessage)
	r.Post("/groups/{id}/members", h.addGroupMembers)
	r.Put("/groups/{id}/members/{userID}/role", h.updateMemberRole)
	return r
}

func TestSendRoomMessageTextWithoutContent(t *testing.T) {
	t.Parallel()

	h := bootstrapHandler(t)

	rr := httptest.NewRecorder()
	sendRouter(h).ServeHTTP(rr, postJSON(t, "/chat/rooms/1/messages", `{"type":"TEXT"}`))

	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	require.Equal(t, "This field is required", decodeEnvelope(t, rr).Errors["content"])
}

func TestSendRoomMessageBadType(t *testing.T) {
	t.Parallel()

	h := bootstrapHandler(t)

	rr := httptest.NewRecorder()
	sendRouter(h).ServeHTTP(rr, postJSON(t, "/chat/rooms/1/messages", `{"type":"VIDEO","content":"x"}`))

	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	require.Contains(t, decodeEnvelope(t, rr).Errors, "type")
}

func TestSendRoomMessageBinaryWithoutFile(t *testing.T) {
	t.Parallel()

	h := bootstrapHandler(t)

	rr := httptest.NewRecorder()
	sendRouter(h).ServeHTTP(rr, postJSON(t, "/chat/rooms/1/messages", `{"type":"IMAGE"}`))

	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	require.Equal(t, "This field is required", decodeEnvelope(t, rr).Errors["file"])
}

func TestSendRoomMessageGarbagePathID(t *testing.T) {
	t.Parallel()

	h := bootstrapHandler(t)

	rr := httptest.NewRecorder()
	sendRouter(h).ServeHTTP(rr, postJSON(t, "/chat/rooms/abc/messages", `{"content":"hi"}`))

	require.Equal(t, http.StatusNotFound, rr.Code)
}

func TestSendGroupMessageTextWithoutContent(t *testing.T) {
	t.Parallel()

	h := bootstrapHandler(t)

	rr := httptest.NewRecorder()
	sendRouter(h).ServeHTTP(rr, postJSON(t, "/groups/1/messages", `{}`))

	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
}

func TestAddGroupMembersEmptyList(t *testing.T) {
	t.Parallel()

	h := bootstrapHandler(t)

	rr := httptest.NewRecorder()
	sendRouter(h).ServeHTTP(rr, postJSON(t, "/groups/1/members", `{"user_ids":[]}`))

	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	require.Contains(t, decodeEnvelope(t, rr).Errors, "UserIDs")
}

func TestUpdateMemberRoleBadRole(t *testing.T) {
	t.Parallel()

	h := bootstrapHandler(t)

	req, err := http.NewRequest("PUT", "/groups/1/members/2/role", bytes.NewBufferString(`{"role":"owner"}`))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	rr := httptest.NewRecorder()
	sendRouter(h).ServeHTTP(rr, req)

	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	require.Equal(t, "Must be one of: member admin", decodeEnvelope(t, rr).Errors["Role"])
}

func TestFailStoreMapping(t *testing.T) {
	t.Parallel()

	h := bootstrapHandler(t)

	cases := []struct {
		err  error
		code int
	}{
		{storage.ErrRoomNotExist, http.StatusNotFound},
		{storage.ErrGroupNotExist, http.StatusNotFound},
		{storage.ErrForbidden, http.StatusForbidden},
		{storage.ErrUserNotExist, http.StatusUnprocessableEntity},
		{storage.ErrBadMembers, http.StatusUnprocessableEntity},
	}

	for _, c := range cases {
		rr := httptest.NewRecorder()
		h.failStore(rr, c.err, http.StatusForbidden, notGroupMemberMsg)
		require.Equal(t, c.code, rr.Code, c.err.Error())
	}
}

func TestFailStoreNotMemberUsesEndpointCode(t *testing.T) {
	t.Parallel()

	h := bootstrapHandler(t)

	// room endpoints collapse membership failures into 404
	rr := httptest.NewRecorder()
	h.failStore(rr, storage.ErrNotMember, http.StatusNotFound, roomGoneMsg)
	require.Equal(t, http.StatusNotFound, rr.Code)
	require.Equal(t, roomGoneMsg, decodeEnvelope(t, rr).Message)

	// group endpoints answer 403 for the same sentinel
	rr = httptest.NewRecorder()
	h.failStore(rr, storage.ErrNotMember, http.StatusForbidden, notGroupMemberMsg)
	require.Equal(t, http.StatusForbidden, rr.Code)
	require.Equal(t, notGroupMemberMsg, decodeEnvelope(t, rr).Message)
}
