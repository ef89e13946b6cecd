package storage

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDSN(t *testing.T) {
	config := Config{
		User:     "a",
		Password: "b",
		Host:     "c",
		Port:     5432,
		DBName:   "d",
	}
	expected := "user=a password=b host=c port=5432 dbname=d sslmode=disable"
	require.Equal(t, expected, config.DSN())
}

func TestDSNPrefersURL(t *testing.T) {
	config := Config{
		URL:  "postgres://a:b@c:5432/d",
		User: "ignored",
	}
	require.Equal(t, "postgres://a:b@c:5432/d", config.DSN())
}
