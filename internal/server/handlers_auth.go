package server

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"net/http"
	"time"

	"github.com/nexuschat/backend/internal/auth"
	"github.com/nexuschat/backend/internal/storage"
)

type registerRequest struct {
	Name     string `json:"name" validate:"required,max=100"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8,max=72"`
}

// register handles POST /register: creates the account and mails an OTP. A
// failed OTP delivery is logged and swallowed; the account is created either
// way.
func (h *handler) register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !h.decodeValid(w, r, &req) {
		return
	}

	passwordHash, err := auth.HashPassword(req.Password)
	if err != nil {
		h.logger.Error(err)
		h.respondError(w, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
		return
	}

	userID, err := h.store.CreateUser(r.Context(), req.Name, req.Email, passwordHash)
	if err != nil {
		if errors.Is(err, storage.ErrEmailTaken) {
			h.respondValidation(w, map[string]string{"email": "This email is already registered"})
			return
		}
		h.logger.Error(err)
		h.respondError(w, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
		return
	}

	h.issueOTP(r.Context(), userID, req.Email)

	h.respond(w, http.StatusCreated, envelope{
		Status:  true,
		Message: "Registration successful. An OTP has been sent to your email for verification.",
		Data:    map[string]string{"email": req.Email},
	})
}

type verifyOTPRequest struct {
	Email string `json:"email" validate:"required,email"`
	OTP   string `json:"otp" validate:"required,len=6"`
}

// verifyOTP handles POST /verify-otp: marks the email verified and logs the
// user in.
func (h *handler) verifyOTP(w http.ResponseWriter, r *http.Request) {
	var req verifyOTPRequest
	if !h.decodeValid(w, r, &req) {
		return
	}

	creds, err := h.store.CredentialsByEmail(r.Context(), req.Email)
	if err != nil && !errors.Is(err, storage.ErrUserNotExist) {
		h.logger.Error(err)
		h.respondError(w, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
		return
	}
	if errors.Is(err, storage.ErrUserNotExist) || creds.EmailVerifiedAt != nil {
		h.respondValidation(w, map[string]string{
			"email": "Invalid email or this account has already been verified.",
		})
		return
	}

	if !auth.CheckOTP(creds.OTPHash, creds.OTPExpiresAt, req.OTP) {
		h.respondValidation(w, map[string]string{"otp": "The OTP is invalid or has expired."})
		return
	}

	if err := h.store.MarkVerified(r.Context(), creds.UserID); err != nil {
		h.logger.Error(err)
		h.respondError(w, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
		return
	}

	h.respondLogin(w, r, creds.UserID, "Email verified successfully. You are now logged in.")
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// login handles POST /login. Unverified accounts get a fresh OTP instead of
// a session.
func (h *handler) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !h.decodeValid(w, r, &req) {
		return
	}

	creds, err := h.store.CredentialsByEmail(r.Context(), req.Email)
	if err != nil && !errors.Is(err, storage.ErrUserNotExist) {
		h.logger.Error(err)
		h.respondError(w, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
		return
	}
	if errors.Is(err, storage.ErrUserNotExist) || !auth.CheckPassword(creds.PasswordHash, req.Password) {
		h.respondValidation(w, map[string]string{
			"email": "The provided credentials do not match our records.",
		})
		return
	}

	if creds.EmailVerifiedAt == nil {
		h.issueOTP(r.Context(), creds.UserID, req.Email)
		h.respondValidation(w, map[string]string{
			"email": "Your email is not verified. A new OTP has been sent to your inbox.",
		})
		return
	}

	h.respondLogin(w, r, creds.UserID, "Login successful.")
}

type googleLoginRequest struct {
	Token string `json:"token" validate:"required"`
}

// googleLogin handles POST /auth/google: exchanges an access token with the
// OAuth collaborator and finds or creates the matching account.
func (h *handler) googleLogin(w http.ResponseWriter, r *http.Request) {
	var req googleLoginRequest
	if !h.decodeValid(w, r, &req) {
		return
	}

	googleUser, err := h.google.Verify(r.Context(), req.Token)
	if err != nil {
		h.respondValidation(w, map[string]string{"token": "Authentication failed."})
		return
	}

	// throwaway password; google accounts authenticate through this flow only
	passwordHash, err := auth.HashPassword(randomPassword())
	if err != nil {
		h.logger.Error(err)
		h.respondError(w, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
		return
	}

	user, created, err := h.store.UpsertGoogleUser(r.Context(), googleUser.ID, googleUser.Name, googleUser.Email, passwordHash)
	if err != nil {
		if errors.Is(err, storage.ErrEmailTaken) {
			h.respondValidation(w, map[string]string{
				"email": "An account with this email already exists. Please sign in with your password.",
			})
			return
		}
		h.logger.Error(err)
		h.respondError(w, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
		return
	}

	msg := "Google login successful."
	if created {
		msg = "Google registration successful. You are now logged in."
	}
	h.respondLogin(w, r, user.ID, msg)
}

// logout handles POST /logout. Tokens are stateless; the client discards its
// copy.
func (h *handler) logout(w http.ResponseWriter, _ *http.Request) {
	h.respondMessage(w, http.StatusOK, "Successfully logged out.")
}

// searchUsers handles GET /users/search?query=: substring match on email,
// excluding the caller.
func (h *handler) searchUsers(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("query")
	if query == "" {
		h.respondValidation(w, map[string]string{"query": "This field is required"})
		return
	}

	users, err := h.store.SearchUsers(r.Context(), query, userIDFrom(r.Context()))
	if err != nil {
		h.logger.Error(err)
		h.respondError(w, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
		return
	}

	h.respondData(w, http.StatusOK, users)
}

// issueOTP generates, stores and mails a fresh code. Mail failures must not
// fail the surrounding operation.
func (h *handler) issueOTP(ctx context.Context, userID int64, email string) {
	code, hash, err := auth.GenerateOTP()
	if err != nil {
		h.logger.Errorf("generating OTP for %s: %v", email, err)
		return
	}
	if err := h.store.SetOTP(ctx, userID, hash, time.Now().Add(auth.OTPTTL)); err != nil {
		h.logger.Errorf("storing OTP for %s: %v", email, err)
		return
	}
	if err := h.mailer.SendOTP(ctx, email, code); err != nil {
		h.logger.Errorf("sending OTP to %s: %v", email, err)
	}
}

func randomPassword() string {
	buf := make([]byte, 24)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

// respondLogin loads the user and answers with the user plus a fresh token.
func (h *handler) respondLogin(w http.ResponseWriter, r *http.Request, userID int64, msg string) {
	user, err := h.store.UserByID(r.Context(), userID)
	if err != nil {
		h.logger.Error(err)
		h.respondError(w, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
		return
	}

	token, err := h.tokens.Issue(userID)
	if err != nil {
		h.logger.Error(err)
		h.respondError(w, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
		return
	}

	h.respond(w, http.StatusOK, envelope{
		Status:  true,
		Message: msg,
		Data: map[string]interface{}{
			"user":  user,
			"token": token,
		},
	})
}
