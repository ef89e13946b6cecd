package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"
)

// Mailer delivers one-time codes. Delivery failures are logged and swallowed
// by callers: account creation and login proceed even when the notification
// channel is down.
type Mailer interface {
	SendOTP(ctx context.Context, email, code string) error
}

// LogMailer writes codes to the log instead of a mailbox. Stands in for the
// real mail collaborator in development and tests.
type LogMailer struct {
	Logger *zap.SugaredLogger
}

func (m LogMailer) SendOTP(_ context.Context, email, code string) error {
	m.Logger.Infof("OTP for %s: %s", email, code)
	return nil
}

// GoogleUser is the identity shape returned by the OAuth collaborator.
type GoogleUser struct {
	ID    string `json:"sub"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// GoogleVerifier exchanges a Google access token for the identity it belongs
// to.
type GoogleVerifier interface {
	Verify(ctx context.Context, accessToken string) (GoogleUser, error)
}

const googleUserinfoURL = "https://www.googleapis.com/oauth2/v3/userinfo"

type googleVerifier struct {
	client *http.Client
}

// NewGoogleVerifier returns a GoogleVerifier backed by Google's userinfo
// endpoint.
func NewGoogleVerifier(client *http.Client) GoogleVerifier {
	if client == nil {
		client = http.DefaultClient
	}
	return &googleVerifier{client: client}
}

func (g *googleVerifier) Verify(ctx context.Context, accessToken string) (GoogleUser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, googleUserinfoURL, nil)
	if err != nil {
		return GoogleUser{}, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := g.client.Do(req)
	if err != nil {
		return GoogleUser{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return GoogleUser{}, errors.New("google rejected the access token")
	}

	var user GoogleUser
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return GoogleUser{}, err
	}
	if user.ID == "" || user.Email == "" {
		return GoogleUser{}, errors.New("invalid google user data")
	}

	return user, nil
}
