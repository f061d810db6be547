// ABOUTME: Tests for generated asset persistence
// ABOUTME: Covers append-only history, latest-wins association and audit retention

package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func saveTestAsset(t *testing.T, s *SQLiteStore, messageID, prompt string, createdAt time.Time) *GeneratedAsset {
	t.Helper()
	asset := &GeneratedAsset{
		ID:        uuid.New().String(),
		MessageID: messageID,
		Prompt:    prompt,
		URL:       "https://images.example.com/" + uuid.New().String() + ".png",
		CreatedAt: createdAt,
	}
	require.NoError(t, s.SaveAsset(context.Background(), asset))
	return asset
}

func TestSaveAsset_AndLatest(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Second)
	asset := saveTestAsset(t, s, "msg-1", "a latte on a wooden table", base)

	got, err := s.LatestAssetForMessage(ctx, "msg-1")
	require.NoError(t, err)
	assert.Equal(t, asset.ID, got.ID)
	assert.Equal(t, asset.Prompt, got.Prompt)
	assert.Equal(t, asset.URL, got.URL)
}

func TestLatestAssetForMessage_NewestSupersedes(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Second)
	saveTestAsset(t, s, "msg-1", "first try", base.Add(-time.Minute))
	newer := saveTestAsset(t, s, "msg-1", "second try", base)

	got, err := s.LatestAssetForMessage(ctx, "msg-1")
	require.NoError(t, err)
	assert.Equal(t, newer.ID, got.ID)

	// The old asset is retained, not replaced.
	all, err := s.ListAssetsForMessage(ctx, "msg-1")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "second try", all[0].Prompt)
	assert.Equal(t, "first try", all[1].Prompt)
}

func TestLatestAssetForMessage_NotFound(t *testing.T) {
	s := setupTestStore(t)

	_, err := s.LatestAssetForMessage(context.Background(), "never-generated")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAssets_SurviveConversationDelete(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	account := createTestAccount(t, s)
	conv := createTestConversation(t, s, account.ID)

	turn, err := s.AppendTurn(ctx, conv.ID, account.ID, "make me a post")
	require.NoError(t, err)
	assistant, err := s.CompleteTurn(ctx, turn.Assistant.ID, "here is a post")
	require.NoError(t, err)

	asset := saveTestAsset(t, s, assistant.ID, "a cafe interior", time.Now().UTC().Truncate(time.Second))

	require.NoError(t, s.DeleteConversation(ctx, conv.ID, account.ID))

	// Message rows cascade away, the asset record stays.
	_, err = s.GetMessage(ctx, assistant.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	got, err := s.LatestAssetForMessage(ctx, assistant.ID)
	require.NoError(t, err)
	assert.Equal(t, asset.ID, got.ID)
}
