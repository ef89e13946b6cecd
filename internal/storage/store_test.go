package storage

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	mytesting "github.com/nexuschat/backend/internal/testing"
)

// bootstrap connects to the database named by TEST_DATABASE_URL; tests that
// need real storage are skipped when it is not set.
func bootstrap(t *testing.T) *Store {
	t.Helper()

	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL is not set")
	}

	logger, err := zap.NewDevelopment()
	require.NoError(t, err)

	s, err := New(context.Background(), logger.Sugar(), Config{URL: dsn})
	require.NoError(t, err)
	t.Cleanup(s.Close)

	return s
}

func seedUser(t *testing.T, s *Store) int64 {
	t.Helper()

	id, err := s.CreateUser(context.Background(), mytesting.RandString(), mytesting.RandEmail(), "irrelevant-hash")
	require.NoError(t, err)

	return id
}

func TestCreateUser(t *testing.T) {
	s := bootstrap(t)

	_, err := s.CreateUser(context.Background(), mytesting.RandString(), mytesting.RandEmail(), "hash")
	require.NoError(t, err)
}

func TestCreateUserEmailTaken(t *testing.T) {
	s := bootstrap(t)

	email := mytesting.RandEmail()
	_, err := s.CreateUser(context.Background(), mytesting.RandString(), email, "hash")
	require.NoError(t, err)
	_, err = s.CreateUser(context.Background(), mytesting.RandString(), email, "hash")
	require.Equal(t, ErrEmailTaken, err)
}

func TestSearchUsersExcludesSelf(t *testing.T) {
	s := bootstrap(t)

	self := seedUser(t, s)
	selfUser, err := s.UserByID(context.Background(), self)
	require.NoError(t, err)

	found, err := s.SearchUsers(context.Background(), selfUser.Email, self)
	require.NoError(t, err)
	for _, u := range found {
		require.NotEqual(t, self, u.ID)
	}
}

func TestUserByEmailNotExist(t *testing.T) {
	s := bootstrap(t)

	_, err := s.UserByEmail(context.Background(), mytesting.RandEmail())
	require.Equal(t, ErrUserNotExist, err)
}
