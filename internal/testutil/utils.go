package testutil

import (
	"context"
	"os"
	"testing"

	"github.com/rs/zerolog"

	"github.com/npezzotti/go-chatrooms/internal/database"
)

func TestLogger(t *testing.T) zerolog.Logger {
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, NoColor: true}).
		With().
		Timestamp().
		Str("test", t.Name()).
		Logger()
}

// NewTestRepository opens an in-memory sqlite repository that is closed when
// the test finishes.
func NewTestRepository(t *testing.T) *database.SqliteGoChatRepository {
	t.Helper()

	repo, err := database.NewSqliteGoChatRepository(":memory:")
	if err != nil {
		t.Fatalf("failed to open test repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	return repo
}

// CreateTestUser creates an account with a throwaway password hash.
func CreateTestUser(t *testing.T, repo database.GoChatRepository, username string) database.User {
	t.Helper()

	u, err := repo.CreateAccount(context.Background(), database.CreateAccountParams{
		Username:     username,
		EmailAddress: username + "@example.com",
		PasswordHash: "hash",
	})
	if err != nil {
		t.Fatalf("failed to create user %q: %v", username, err)
	}

	return u
}
