// ABOUTME: Tests for publish attempt persistence
// ABOUTME: Verifies the pending-to-terminal transition happens exactly once

package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createTestAttempt(t *testing.T, s *SQLiteStore, messageID string, createdAt time.Time) *PublishAttempt {
	t.Helper()
	attempt := &PublishAttempt{
		ID:        uuid.New().String(),
		MessageID: messageID,
		Platform:  PlatformInstagram,
		Caption:   "New seasonal menu is here",
		MediaURL:  "https://images.example.com/menu.png",
		Status:    PublishStatusPending,
		CreatedAt: createdAt,
	}
	require.NoError(t, s.CreatePublishAttempt(context.Background(), attempt))
	return attempt
}

func TestCreatePublishAttempt_Pending(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	attempt := createTestAttempt(t, s, "msg-1", time.Now().UTC().Truncate(time.Second))

	attempts, err := s.ListPublishAttempts(ctx, "msg-1")
	require.NoError(t, err)
	require.Len(t, attempts, 1)
	assert.Equal(t, attempt.ID, attempts[0].ID)
	assert.Equal(t, PublishStatusPending, attempts[0].Status)
	assert.Nil(t, attempts[0].FinishedAt)
}

func TestFinishPublishAttempt_Succeeded(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	attempt := createTestAttempt(t, s, "msg-1", time.Now().UTC().Truncate(time.Second))

	require.NoError(t, s.FinishPublishAttempt(ctx, attempt.ID, PublishStatusSucceeded, "ig-post-42", ""))

	attempts, err := s.ListPublishAttempts(ctx, "msg-1")
	require.NoError(t, err)
	require.Len(t, attempts, 1)
	assert.Equal(t, PublishStatusSucceeded, attempts[0].Status)
	assert.Equal(t, "ig-post-42", attempts[0].RemotePostID)
	require.NotNil(t, attempts[0].FinishedAt)
}

func TestFinishPublishAttempt_Failed(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	attempt := createTestAttempt(t, s, "msg-1", time.Now().UTC().Truncate(time.Second))

	require.NoError(t, s.FinishPublishAttempt(ctx, attempt.ID, PublishStatusFailed, "", "token expired"))

	attempts, err := s.ListPublishAttempts(ctx, "msg-1")
	require.NoError(t, err)
	require.Len(t, attempts, 1)
	assert.Equal(t, PublishStatusFailed, attempts[0].Status)
	assert.Equal(t, "token expired", attempts[0].ErrorDetail)
	assert.Empty(t, attempts[0].RemotePostID)
}

func TestFinishPublishAttempt_TerminalIsFinal(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	attempt := createTestAttempt(t, s, "msg-1", time.Now().UTC().Truncate(time.Second))
	require.NoError(t, s.FinishPublishAttempt(ctx, attempt.ID, PublishStatusSucceeded, "post-1", ""))

	err := s.FinishPublishAttempt(ctx, attempt.ID, PublishStatusFailed, "", "late failure")
	assert.ErrorIs(t, err, ErrConflict)

	// The first outcome stands.
	attempts, err := s.ListPublishAttempts(ctx, "msg-1")
	require.NoError(t, err)
	require.Len(t, attempts, 1)
	assert.Equal(t, PublishStatusSucceeded, attempts[0].Status)
	assert.Equal(t, "post-1", attempts[0].RemotePostID)
}

func TestFinishPublishAttempt_NotFound(t *testing.T) {
	s := setupTestStore(t)

	err := s.FinishPublishAttempt(context.Background(), "no-such-attempt", PublishStatusFailed, "", "x")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListPublishAttempts_NewestFirst(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Second)
	createTestAttempt(t, s, "msg-1", base.Add(-time.Minute))
	newest := createTestAttempt(t, s, "msg-1", base)

	attempts, err := s.ListPublishAttempts(ctx, "msg-1")
	require.NoError(t, err)
	require.Len(t, attempts, 2)
	assert.Equal(t, newest.ID, attempts[0].ID)
}
