// ABOUTME: Tests for the conversation orchestrator
// ABOUTME: Covers the turn state machine, onboarding, busy rejection and side effects

package chat

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/marko-gateway/internal/completion"
	"github.com/2389/marko-gateway/internal/connector"
	"github.com/2389/marko-gateway/internal/store"
)

// fakeCompleter records calls and returns a canned reply or error.
// An optional started/release pair lets tests hold a completion in flight.
type fakeCompleter struct {
	reply       string
	err         error
	calls       int
	lastHistory []completion.ChatMessage
	lastAcct    completion.AccountContext
	started     chan struct{}
	release     chan struct{}
}

func (f *fakeCompleter) Complete(ctx context.Context, history []completion.ChatMessage, acct completion.AccountContext) (string, error) {
	f.calls++
	f.lastHistory = history
	f.lastAcct = acct
	if f.started != nil {
		close(f.started)
		f.started = nil
	}
	if f.release != nil {
		<-f.release
	}
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

type fakeImages struct {
	url   string
	err   error
	calls int
}

func (f *fakeImages) Generate(ctx context.Context, prompt string) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.url, nil
}

type fakePublisher struct {
	postID   string
	err      error
	calls    int
	lastCred connector.Credential
}

func (f *fakePublisher) Publish(ctx context.Context, cred connector.Credential, platform, caption, mediaURL string) (string, error) {
	f.calls++
	f.lastCred = cred
	if f.err != nil {
		return "", f.err
	}
	return f.postID, nil
}

type fakeDirectory struct {
	info *AccountInfo
}

func (f *fakeDirectory) Lookup(ctx context.Context, accountID string) (*AccountInfo, error) {
	info := *f.info
	info.AccountID = accountID
	return &info, nil
}

func createTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := store.NewSQLiteStore(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func createAccount(t *testing.T, s *store.SQLiteStore, id string) {
	t.Helper()
	require.NoError(t, s.CreateAccount(context.Background(), &store.Account{
		ID:           id,
		Email:        id + "@example.com",
		PasswordHash: "hash",
		Name:         "Jordan",
		Company:      "Bean There Coffee",
		CreatedAt:    time.Now().UTC(),
	}))
}

func newTestService(t *testing.T, s *store.SQLiteStore, c completion.Completer) (*Service, *fakeImages, *fakePublisher, *fakeDirectory) {
	t.Helper()
	images := &fakeImages{url: "https://images.example.com/gen.png"}
	publisher := &fakePublisher{postID: "post-1"}
	directory := &fakeDirectory{info: &AccountInfo{Name: "Jordan", Company: "Bean There Coffee"}}
	return New(s, c, images, publisher, directory, nil), images, publisher, directory
}

// seedConversation gets an account past first-session detection with one
// completed conversation.
func seedConversation(t *testing.T, svc *Service, accountID string) *store.Conversation {
	t.Helper()
	result, err := svc.SendMessage(context.Background(), accountID, "warmup", "")
	require.NoError(t, err)
	return result.Conversation
}

func TestSendMessage_FirstEverMessageIsOnboarding(t *testing.T) {
	s := createTestStore(t)
	createAccount(t, s, "acct-1")
	completer := &fakeCompleter{reply: "live reply"}
	svc, _, _, _ := newTestService(t, s, completer)

	result, err := svc.SendMessage(context.Background(), "acct-1", "Hello there", "")
	require.NoError(t, err)

	// Zero-conversation accounts get the scripted reply; the backend is
	// never contacted.
	assert.Equal(t, 0, completer.calls)
	assert.Equal(t, completion.OnboardingReply(), result.Assistant.Content)
	assert.Equal(t, "Hello there", result.UserMessage.Content)
	assert.Equal(t, int64(1), result.UserMessage.Seq)
	assert.Equal(t, int64(2), result.Assistant.Seq)
}

func TestSendMessage_SecondConversationUsesBackend(t *testing.T) {
	s := createTestStore(t)
	createAccount(t, s, "acct-1")
	completer := &fakeCompleter{reply: "Here is your caption."}
	svc, _, _, _ := newTestService(t, s, completer)

	seedConversation(t, svc, "acct-1")

	result, err := svc.SendMessage(context.Background(), "acct-1", "Write me a caption", "")
	require.NoError(t, err)
	assert.Equal(t, 1, completer.calls)
	assert.Equal(t, "Here is your caption.", result.Assistant.Content)
	assert.Equal(t, "Write me a caption", result.Conversation.Title)

	// Account context flows through to the backend.
	assert.Equal(t, "Jordan", completer.lastAcct.Name)
	assert.Equal(t, "Bean There Coffee", completer.lastAcct.Company)
}

func TestSendMessage_HistoryIncludesNewUserMessageInOrder(t *testing.T) {
	s := createTestStore(t)
	createAccount(t, s, "acct-1")
	completer := &fakeCompleter{reply: "reply"}
	svc, _, _, _ := newTestService(t, s, completer)
	seedConversation(t, svc, "acct-1")

	first, err := svc.SendMessage(context.Background(), "acct-1", "first", "")
	require.NoError(t, err)

	_, err = svc.SendMessage(context.Background(), "acct-1", "second", first.Conversation.ID)
	require.NoError(t, err)

	history := completer.lastHistory
	require.Len(t, history, 3)
	assert.Equal(t, "first", history[0].Content)
	assert.Equal(t, store.RoleAssistant, history[1].Role)
	assert.Equal(t, "second", history[2].Content)
}

func TestSendMessage_OnboardingSentinelIsScripted(t *testing.T) {
	s := createTestStore(t)
	createAccount(t, s, "acct-1")
	completer := &fakeCompleter{reply: "live reply"}
	svc, _, _, _ := newTestService(t, s, completer)
	seedConversation(t, svc, "acct-1")

	result, err := svc.StartOnboarding(context.Background(), "acct-1")
	require.NoError(t, err)
	assert.Equal(t, 0, completer.calls)
	assert.Equal(t, completion.OnboardingReply(), result.Assistant.Content)
	assert.Equal(t, "Welcome", result.Conversation.Title)
}

func TestSendMessage_CompletionFailureKeepsUserMessage(t *testing.T) {
	s := createTestStore(t)
	createAccount(t, s, "acct-1")
	completer := &fakeCompleter{err: completion.ErrUpstreamUnavailable}
	svc, _, _, _ := newTestService(t, s, completer)

	conv := seedConversation(t, svc, "acct-1")

	_, err := svc.SendMessage(context.Background(), "acct-1", "this one fails", conv.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, completion.ErrUpstreamUnavailable)

	// The user message stays, the placeholder is gone.
	msgs, err := s.ListMessages(context.Background(), conv.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "this one fails", msgs[2].Content)
	assert.Equal(t, store.RoleUser, msgs[2].Role)
}

func TestSendMessage_RecoveryAfterFailureLeavesNoGap(t *testing.T) {
	s := createTestStore(t)
	createAccount(t, s, "acct-1")
	completer := &fakeCompleter{err: completion.ErrUpstreamUnavailable}
	svc, _, _, _ := newTestService(t, s, completer)
	conv := seedConversation(t, svc, "acct-1")

	_, err := svc.SendMessage(context.Background(), "acct-1", "fails", conv.ID)
	require.Error(t, err)

	completer.err = nil
	completer.reply = "recovered"
	_, err = svc.SendMessage(context.Background(), "acct-1", "works", conv.ID)
	require.NoError(t, err)

	msgs, err := s.ListMessages(context.Background(), conv.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 5)
	for i, m := range msgs {
		assert.Equal(t, int64(i+1), m.Seq)
	}
}

func TestSendMessage_ConcurrentSendRejected(t *testing.T) {
	s := createTestStore(t)
	createAccount(t, s, "acct-1")
	completer := &fakeCompleter{
		reply:   "slow reply",
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	svc, _, _, _ := newTestService(t, s, completer)
	conv := seedConversation(t, svc, "acct-1")

	done := make(chan error, 1)
	go func() {
		_, err := svc.SendMessage(context.Background(), "acct-1", "long running", conv.ID)
		done <- err
	}()

	<-completer.started

	_, err := svc.SendMessage(context.Background(), "acct-1", "impatient", conv.ID)
	assert.ErrorIs(t, err, ErrConversationBusy)

	close(completer.release)
	require.NoError(t, <-done)

	// After the first turn finishes the conversation accepts sends again.
	_, err = svc.SendMessage(context.Background(), "acct-1", "try again", conv.ID)
	require.NoError(t, err)
}

func TestSendMessage_UnknownConversation(t *testing.T) {
	s := createTestStore(t)
	createAccount(t, s, "acct-1")
	svc, _, _, _ := newTestService(t, s, &fakeCompleter{reply: "r"})

	_, err := svc.SendMessage(context.Background(), "acct-1", "hi", "no-such-conv")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestSendMessage_OtherAccountsConversation(t *testing.T) {
	s := createTestStore(t)
	createAccount(t, s, "acct-1")
	createAccount(t, s, "acct-2")
	svc, _, _, _ := newTestService(t, s, &fakeCompleter{reply: "r"})
	conv := seedConversation(t, svc, "acct-1")

	_, err := svc.SendMessage(context.Background(), "acct-2", "hi", conv.ID)
	assert.ErrorIs(t, err, store.ErrForbidden)
}

func TestDeriveTitle_Truncates(t *testing.T) {
	long := "This opening message is deliberately much longer than fifty characters total"
	title := deriveTitle(long)
	assert.Equal(t, 53, len([]rune(title)))
	assert.Equal(t, "...", title[len(title)-3:])

	assert.Equal(t, "short", deriveTitle("short"))
	assert.Equal(t, "Welcome", deriveTitle(completion.OnboardingSentinel))
}

func TestGenerateImage_SavesAsset(t *testing.T) {
	s := createTestStore(t)
	createAccount(t, s, "acct-1")
	svc, images, _, _ := newTestService(t, s, &fakeCompleter{reply: "r"})
	conv := seedConversation(t, svc, "acct-1")

	msgs, err := s.ListMessages(context.Background(), conv.ID)
	require.NoError(t, err)
	assistantID := msgs[1].ID

	asset, err := svc.GenerateImage(context.Background(), "acct-1", assistantID, "a latte")
	require.NoError(t, err)
	assert.Equal(t, 1, images.calls)
	assert.Equal(t, "https://images.example.com/gen.png", asset.URL)

	got, err := s.LatestAssetForMessage(context.Background(), assistantID)
	require.NoError(t, err)
	assert.Equal(t, asset.ID, got.ID)
}

func TestGenerateImage_FailureWritesNothing(t *testing.T) {
	s := createTestStore(t)
	createAccount(t, s, "acct-1")
	svc, images, _, _ := newTestService(t, s, &fakeCompleter{reply: "r"})
	conv := seedConversation(t, svc, "acct-1")

	msgs, err := s.ListMessages(context.Background(), conv.ID)
	require.NoError(t, err)
	assistantID := msgs[1].ID

	prior, err := svc.GenerateImage(context.Background(), "acct-1", assistantID, "first")
	require.NoError(t, err)

	images.err = connector.ErrGenerationFailed
	_, err = svc.GenerateImage(context.Background(), "acct-1", assistantID, "second")
	assert.ErrorIs(t, err, connector.ErrGenerationFailed)

	// The prior asset is still the current association.
	got, err := s.LatestAssetForMessage(context.Background(), assistantID)
	require.NoError(t, err)
	assert.Equal(t, prior.ID, got.ID)
}

func TestLatestAsset(t *testing.T) {
	s := createTestStore(t)
	createAccount(t, s, "acct-1")
	svc, _, _, _ := newTestService(t, s, &fakeCompleter{reply: "r"})
	conv := seedConversation(t, svc, "acct-1")

	msgs, err := s.ListMessages(context.Background(), conv.ID)
	require.NoError(t, err)
	assistantID := msgs[1].ID

	_, err = svc.LatestAsset(context.Background(), "acct-1", assistantID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	generated, err := svc.GenerateImage(context.Background(), "acct-1", assistantID, "a latte")
	require.NoError(t, err)

	got, err := svc.LatestAsset(context.Background(), "acct-1", assistantID)
	require.NoError(t, err)
	assert.Equal(t, generated.ID, got.ID)
}

func TestGenerateImage_ForbiddenForOtherAccount(t *testing.T) {
	s := createTestStore(t)
	createAccount(t, s, "acct-1")
	createAccount(t, s, "acct-2")
	svc, images, _, _ := newTestService(t, s, &fakeCompleter{reply: "r"})
	conv := seedConversation(t, svc, "acct-1")

	msgs, err := s.ListMessages(context.Background(), conv.ID)
	require.NoError(t, err)

	_, err = svc.GenerateImage(context.Background(), "acct-2", msgs[0].ID, "steal this")
	assert.ErrorIs(t, err, store.ErrForbidden)
	assert.Equal(t, 0, images.calls)
}

func TestPublish_NotConnectedRecordsFailedAttempt(t *testing.T) {
	s := createTestStore(t)
	createAccount(t, s, "acct-1")
	svc, _, publisher, directory := newTestService(t, s, &fakeCompleter{reply: "r"})
	directory.info.Connected = false
	conv := seedConversation(t, svc, "acct-1")

	msgs, err := s.ListMessages(context.Background(), conv.ID)
	require.NoError(t, err)
	assistantID := msgs[1].ID

	attempt, err := svc.Publish(context.Background(), "acct-1", assistantID, store.PlatformFacebook, "caption", "")
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.Equal(t, 0, publisher.calls)

	require.NotNil(t, attempt)
	assert.Equal(t, store.PublishStatusFailed, attempt.Status)

	attempts, err := s.ListPublishAttempts(context.Background(), assistantID)
	require.NoError(t, err)
	require.Len(t, attempts, 1)
	assert.Equal(t, store.PublishStatusFailed, attempts[0].Status)
	require.NotNil(t, attempts[0].FinishedAt)
}

func TestPublish_SuccessRecordsRemotePostID(t *testing.T) {
	s := createTestStore(t)
	createAccount(t, s, "acct-1")
	svc, _, publisher, directory := newTestService(t, s, &fakeCompleter{reply: "r"})
	directory.info.Connected = true
	directory.info.Credential = connector.Credential{AccessToken: "tok", PageID: "page-1"}
	conv := seedConversation(t, svc, "acct-1")

	msgs, err := s.ListMessages(context.Background(), conv.ID)
	require.NoError(t, err)
	assistantID := msgs[1].ID

	attempt, err := svc.Publish(context.Background(), "acct-1", assistantID, store.PlatformFacebook, "caption", "")
	require.NoError(t, err)
	assert.Equal(t, 1, publisher.calls)
	assert.Equal(t, "tok", publisher.lastCred.AccessToken)
	assert.Equal(t, store.PublishStatusSucceeded, attempt.Status)
	assert.Equal(t, "post-1", attempt.RemotePostID)

	attempts, err := s.ListPublishAttempts(context.Background(), assistantID)
	require.NoError(t, err)
	require.Len(t, attempts, 1)
	assert.Equal(t, store.PublishStatusSucceeded, attempts[0].Status)
}

func TestPublish_FailureIsTerminalNotRetried(t *testing.T) {
	s := createTestStore(t)
	createAccount(t, s, "acct-1")
	svc, _, publisher, directory := newTestService(t, s, &fakeCompleter{reply: "r"})
	directory.info.Connected = true
	publisher.err = errors.Join(connector.ErrPublishFailed, errors.New("caption rejected"))
	conv := seedConversation(t, svc, "acct-1")

	msgs, err := s.ListMessages(context.Background(), conv.ID)
	require.NoError(t, err)
	assistantID := msgs[1].ID

	attempt, err := svc.Publish(context.Background(), "acct-1", assistantID, store.PlatformInstagram, "caption", "https://img.example.com/a.png")
	assert.ErrorIs(t, err, connector.ErrPublishFailed)
	assert.Equal(t, 1, publisher.calls)
	assert.Equal(t, store.PublishStatusFailed, attempt.Status)

	attempts, err := s.ListPublishAttempts(context.Background(), assistantID)
	require.NoError(t, err)
	require.Len(t, attempts, 1)
	assert.Equal(t, store.PublishStatusFailed, attempts[0].Status)
	assert.NotEmpty(t, attempts[0].ErrorDetail)
}

func TestListPublishAttempts_OwnershipChecked(t *testing.T) {
	s := createTestStore(t)
	createAccount(t, s, "acct-1")
	createAccount(t, s, "acct-2")
	svc, _, _, _ := newTestService(t, s, &fakeCompleter{reply: "r"})
	conv := seedConversation(t, svc, "acct-1")

	msgs, err := s.ListMessages(context.Background(), conv.ID)
	require.NoError(t, err)

	_, err = svc.ListPublishAttempts(context.Background(), "acct-2", msgs[0].ID)
	assert.ErrorIs(t, err, store.ErrForbidden)
}

func TestHistory_ReturnsConversationAndMessages(t *testing.T) {
	s := createTestStore(t)
	createAccount(t, s, "acct-1")
	svc, _, _, _ := newTestService(t, s, &fakeCompleter{reply: "r"})
	conv := seedConversation(t, svc, "acct-1")

	got, msgs, err := svc.History(context.Background(), "acct-1", conv.ID)
	require.NoError(t, err)
	assert.Equal(t, conv.ID, got.ID)
	require.Len(t, msgs, 2)
	assert.Equal(t, "warmup", msgs[0].Content)
}
