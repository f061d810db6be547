// ABOUTME: Tests for registration, login and token resolution
// ABOUTME: Verifies credential failures collapse into one opaque error

package auth

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/marko-gateway/internal/store"
)

func setupSessions(t *testing.T) (*Sessions, *store.SQLiteStore) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := store.NewSQLiteStore(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return NewSessions(s, []byte("test-secret"), nil), s
}

func TestRegister_CreatesAccountAndToken(t *testing.T) {
	sessions, _ := setupSessions(t)
	ctx := context.Background()

	account, token, err := sessions.Register(ctx, "Jordan@Example.com", "hunter2", "Jordan", "Bean There Coffee")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	// Email is normalized.
	assert.Equal(t, "jordan@example.com", account.Email)
	assert.Equal(t, "Jordan", account.Name)
	assert.NotEqual(t, "hunter2", account.PasswordHash)

	resolved, err := sessions.CurrentUser(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, account.ID, resolved.ID)
}

func TestRegister_DuplicateEmail(t *testing.T) {
	sessions, _ := setupSessions(t)
	ctx := context.Background()

	_, _, err := sessions.Register(ctx, "jordan@example.com", "hunter2", "", "")
	require.NoError(t, err)

	_, _, err = sessions.Register(ctx, "jordan@example.com", "other", "", "")
	assert.ErrorIs(t, err, store.ErrDuplicateAccount)
}

func TestRegister_MissingCredentials(t *testing.T) {
	sessions, _ := setupSessions(t)
	ctx := context.Background()

	_, _, err := sessions.Register(ctx, "", "hunter2", "", "")
	assert.ErrorIs(t, err, ErrUnauthenticated)

	_, _, err = sessions.Register(ctx, "jordan@example.com", "", "", "")
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestLogin_Success(t *testing.T) {
	sessions, _ := setupSessions(t)
	ctx := context.Background()

	registered, _, err := sessions.Register(ctx, "jordan@example.com", "hunter2", "", "")
	require.NoError(t, err)

	account, token, err := sessions.Login(ctx, "JORDAN@example.com", "hunter2")
	require.NoError(t, err)
	assert.Equal(t, registered.ID, account.ID)
	assert.NotEmpty(t, token)
}

func TestLogin_WrongPassword(t *testing.T) {
	sessions, _ := setupSessions(t)
	ctx := context.Background()

	_, _, err := sessions.Register(ctx, "jordan@example.com", "hunter2", "", "")
	require.NoError(t, err)

	_, _, err = sessions.Login(ctx, "jordan@example.com", "wrong")
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestLogin_UnknownEmail(t *testing.T) {
	sessions, _ := setupSessions(t)

	// Same error as a wrong password: callers can't probe which was wrong.
	_, _, err := sessions.Login(context.Background(), "nobody@example.com", "hunter2")
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestCurrentUser_BadToken(t *testing.T) {
	sessions, _ := setupSessions(t)

	_, err := sessions.CurrentUser(context.Background(), "garbage")
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestCurrentUser_DeletedAccount(t *testing.T) {
	sessions, _ := setupSessions(t)

	token, err := sessions.Verifier().Generate("ghost-account", DefaultTokenTTL)
	require.NoError(t, err)

	_, err = sessions.CurrentUser(context.Background(), token)
	assert.ErrorIs(t, err, ErrUnauthenticated)
}
