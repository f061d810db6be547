// ABOUTME: Service is the conversation orchestrator owning the send-turn state machine
// ABOUTME: Record first, then act - the user message is persisted before the completion call

package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/2389/marko-gateway/internal/completion"
	"github.com/2389/marko-gateway/internal/connector"
	"github.com/2389/marko-gateway/internal/store"
)

// ErrConversationBusy is returned when a send arrives while another
// completion is in flight for the same conversation. Concurrent completions
// would race on which history the model was shown, so the second caller is
// rejected rather than interleaved.
var ErrConversationBusy = errors.New("conversation busy")

// ErrNotConnected is returned when a publish is requested without an active
// social-platform connection.
var ErrNotConnected = errors.New("no connected social account")

// titleMaxRunes bounds the conversation title derived from the first message.
const titleMaxRunes = 50

// ConversationStore defines what the service needs from storage
type ConversationStore interface {
	CreateConversation(ctx context.Context, conv *store.Conversation) error
	GetConversation(ctx context.Context, id, accountID string) (*store.Conversation, error)
	ListConversations(ctx context.Context, accountID string) ([]*store.Conversation, error)
	DeleteConversation(ctx context.Context, id, accountID string) error
	CountConversations(ctx context.Context, accountID string) (int64, error)

	AppendTurn(ctx context.Context, conversationID, accountID, userText string) (*store.Turn, error)
	CompleteTurn(ctx context.Context, placeholderID, content string) (*store.Message, error)
	RollbackTurn(ctx context.Context, placeholderID string) error
	ListMessages(ctx context.Context, conversationID string) ([]*store.Message, error)
	GetMessage(ctx context.Context, id string) (*store.Message, error)

	SaveAsset(ctx context.Context, asset *store.GeneratedAsset) error
	LatestAssetForMessage(ctx context.Context, messageID string) (*store.GeneratedAsset, error)
	CreatePublishAttempt(ctx context.Context, attempt *store.PublishAttempt) error
	FinishPublishAttempt(ctx context.Context, id, status, remotePostID, errorDetail string) error
	ListPublishAttempts(ctx context.Context, messageID string) ([]*store.PublishAttempt, error)
}

// AccountInfo is the read-only account context the orchestrator consumes
// from the session boundary.
type AccountInfo struct {
	AccountID      string
	Name           string
	Company        string
	Connected      bool
	PlatformHandle string
	Credential     connector.Credential
}

// AccountDirectory looks up account context. Implemented by the auth layer;
// the orchestrator never writes through it.
type AccountDirectory interface {
	Lookup(ctx context.Context, accountID string) (*AccountInfo, error)
}

// Service orchestrates conversation turns: it owns conversation lifecycle,
// invokes the completion gateway, persists results, and coordinates the
// side-effect connectors.
type Service struct {
	store     ConversationStore
	completer completion.Completer
	images    connector.ImageGenerator
	publisher connector.Publisher
	directory AccountDirectory
	locks     *convLocks
	logger    *slog.Logger
}

// New creates a conversation orchestrator.
func New(st ConversationStore, completer completion.Completer, images connector.ImageGenerator, publisher connector.Publisher, directory AccountDirectory, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:     st,
		completer: completer,
		images:    images,
		publisher: publisher,
		directory: directory,
		locks:     newConvLocks(),
		logger:    logger.With("component", "chat"),
	}
}

// SendResult is what a completed send returns: the conversation and the
// persisted turn pair.
type SendResult struct {
	Conversation *store.Conversation
	UserMessage  *store.Message
	Assistant    *store.Message
}

// SendMessage runs one turn of the state machine:
//
//	Idle -> UserTurnPersisted -> CompletionRequested -> TurnCompleted | TurnRolledBack
//
// If conversationID is empty a conversation is created first, titled from the
// message text. The user message is persisted before the completion call; on
// completion failure it stays persisted, the assistant placeholder is rolled
// back, and the upstream error class is surfaced unchanged.
//
// At most one completion runs per conversation. A concurrent send gets
// ErrConversationBusy instead of racing on the history shown to the model.
func (s *Service) SendMessage(ctx context.Context, accountID, text, conversationID string) (*SendResult, error) {
	info, err := s.directory.Lookup(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("looking up account: %w", err)
	}

	// First-session detection: an account with no conversations gets the
	// scripted onboarding reply, whatever it typed. The live backend is
	// never contacted for this turn.
	onboarding := text == completion.OnboardingSentinel
	var conv *store.Conversation
	if conversationID == "" {
		count, err := s.store.CountConversations(ctx, accountID)
		if err != nil {
			return nil, fmt.Errorf("counting conversations: %w", err)
		}
		if count == 0 {
			onboarding = true
		}

		conv = &store.Conversation{
			ID:        uuid.New().String(),
			AccountID: accountID,
			Title:     deriveTitle(text),
			CreatedAt: time.Now().UTC(),
			UpdatedAt: time.Now().UTC(),
		}
		if err := s.store.CreateConversation(ctx, conv); err != nil {
			return nil, fmt.Errorf("creating conversation: %w", err)
		}
		s.logger.Debug("conversation created", "conversation_id", conv.ID, "account_id", accountID)
	} else {
		conv, err = s.store.GetConversation(ctx, conversationID, accountID)
		if err != nil {
			return nil, err
		}
	}

	if !s.locks.tryAcquire(conv.ID) {
		return nil, fmt.Errorf("%w: %s", ErrConversationBusy, conv.ID)
	}
	defer s.locks.release(conv.ID)

	// The turn outlives the request: a client navigating away must not leave
	// a user message without its reply, so everything past this point runs on
	// a context detached from request cancellation.
	turnCtx := context.WithoutCancel(ctx)

	turn, err := s.store.AppendTurn(turnCtx, conv.ID, accountID, text)
	if err != nil {
		return nil, fmt.Errorf("appending turn: %w", err)
	}

	var reply string
	if onboarding {
		reply = completion.OnboardingReply()
	} else {
		history, err := s.store.ListMessages(turnCtx, conv.ID)
		if err != nil {
			s.rollback(turnCtx, turn)
			return nil, fmt.Errorf("loading history: %w", err)
		}
		reply, err = s.completer.Complete(turnCtx, toChatHistory(history), completion.AccountContext{
			Name:           info.Name,
			Company:        info.Company,
			Connected:      info.Connected,
			PlatformHandle: info.PlatformHandle,
		})
		if err != nil {
			// The user message stays; only the placeholder goes. The caller
			// distinguishes "reply failed" from "nothing happened".
			s.rollback(turnCtx, turn)
			return nil, err
		}
	}

	assistant, err := s.store.CompleteTurn(turnCtx, turn.Assistant.ID, reply)
	if err != nil {
		return nil, fmt.Errorf("completing turn: %w", err)
	}

	s.logger.Debug("turn completed",
		"conversation_id", conv.ID,
		"user_seq", turn.User.Seq,
		"assistant_seq", assistant.Seq,
		"onboarding", onboarding)

	return &SendResult{
		Conversation: conv,
		UserMessage:  turn.User,
		Assistant:    assistant,
	}, nil
}

// StartOnboarding runs the scripted first-session flow explicitly by sending
// the sentinel on a fresh conversation.
func (s *Service) StartOnboarding(ctx context.Context, accountID string) (*SendResult, error) {
	return s.SendMessage(ctx, accountID, completion.OnboardingSentinel, "")
}

// rollback removes an unfilled placeholder after a failed completion.
func (s *Service) rollback(ctx context.Context, turn *store.Turn) {
	if err := s.store.RollbackTurn(ctx, turn.Assistant.ID); err != nil {
		s.logger.Error("failed to roll back turn",
			"error", err,
			"message_id", turn.Assistant.ID)
	}
}

// GenerateImage runs one image generation for a message the account owns and
// persists the asset on success. A prior asset, if any, stays untouched; on
// failure nothing is written.
func (s *Service) GenerateImage(ctx context.Context, accountID, messageID, prompt string) (*store.GeneratedAsset, error) {
	if _, err := s.ownedMessage(ctx, accountID, messageID); err != nil {
		return nil, err
	}

	url, err := s.images.Generate(ctx, prompt)
	if err != nil {
		return nil, err
	}

	asset := &store.GeneratedAsset{
		ID:        uuid.New().String(),
		MessageID: messageID,
		Prompt:    prompt,
		URL:       url,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.SaveAsset(context.WithoutCancel(ctx), asset); err != nil {
		return nil, fmt.Errorf("saving asset: %w", err)
	}

	s.logger.Debug("asset generated", "message_id", messageID, "asset_id", asset.ID)
	return asset, nil
}

// LatestAsset returns the current image association for a message the account
// owns, or store.ErrNotFound if none was generated.
func (s *Service) LatestAsset(ctx context.Context, accountID, messageID string) (*store.GeneratedAsset, error) {
	if _, err := s.ownedMessage(ctx, accountID, messageID); err != nil {
		return nil, err
	}
	return s.store.LatestAssetForMessage(ctx, messageID)
}

// Publish makes exactly one publish attempt for a message the account owns.
// Without an active social connection the attempt is recorded as failed
// immediately and ErrNotConnected is returned. Retries are explicit new
// attempts by the user, never automatic.
func (s *Service) Publish(ctx context.Context, accountID, messageID, platform, caption, mediaURL string) (*store.PublishAttempt, error) {
	if _, err := s.ownedMessage(ctx, accountID, messageID); err != nil {
		return nil, err
	}

	info, err := s.directory.Lookup(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("looking up account: %w", err)
	}

	attempt := &store.PublishAttempt{
		ID:        uuid.New().String(),
		MessageID: messageID,
		Platform:  platform,
		Caption:   caption,
		MediaURL:  mediaURL,
		Status:    store.PublishStatusPending,
		CreatedAt: time.Now().UTC(),
	}

	if !info.Connected {
		now := attempt.CreatedAt
		attempt.Status = store.PublishStatusFailed
		attempt.ErrorDetail = ErrNotConnected.Error()
		attempt.FinishedAt = &now
		if err := s.store.CreatePublishAttempt(ctx, attempt); err != nil {
			return nil, fmt.Errorf("recording attempt: %w", err)
		}
		return attempt, ErrNotConnected
	}

	if err := s.store.CreatePublishAttempt(ctx, attempt); err != nil {
		return nil, fmt.Errorf("recording attempt: %w", err)
	}

	// One call, one attempt. The result is persisted on a detached context
	// so the record reaches a terminal state even if the client is gone.
	postID, pubErr := s.publisher.Publish(ctx, info.Credential, platform, caption, mediaURL)
	finishCtx := context.WithoutCancel(ctx)
	if pubErr != nil {
		attempt.Status = store.PublishStatusFailed
		attempt.ErrorDetail = pubErr.Error()
		if err := s.store.FinishPublishAttempt(finishCtx, attempt.ID, store.PublishStatusFailed, "", pubErr.Error()); err != nil {
			s.logger.Error("failed to finish publish attempt", "error", err, "attempt_id", attempt.ID)
		}
		return attempt, pubErr
	}

	attempt.Status = store.PublishStatusSucceeded
	attempt.RemotePostID = postID
	if err := s.store.FinishPublishAttempt(finishCtx, attempt.ID, store.PublishStatusSucceeded, postID, ""); err != nil {
		s.logger.Error("failed to finish publish attempt", "error", err, "attempt_id", attempt.ID)
	}

	s.logger.Info("published",
		"message_id", messageID,
		"platform", platform,
		"remote_post_id", postID)
	return attempt, nil
}

// History returns a conversation with its visible messages in sequence order.
func (s *Service) History(ctx context.Context, accountID, conversationID string) (*store.Conversation, []*store.Message, error) {
	conv, err := s.store.GetConversation(ctx, conversationID, accountID)
	if err != nil {
		return nil, nil, err
	}
	msgs, err := s.store.ListMessages(ctx, conversationID)
	if err != nil {
		return nil, nil, err
	}
	return conv, msgs, nil
}

// ListConversations returns the account's conversations, newest first.
func (s *Service) ListConversations(ctx context.Context, accountID string) ([]*store.Conversation, error) {
	return s.store.ListConversations(ctx, accountID)
}

// DeleteConversation removes a conversation and its messages. Generated
// assets are retained for audit.
func (s *Service) DeleteConversation(ctx context.Context, accountID, conversationID string) error {
	return s.store.DeleteConversation(ctx, conversationID, accountID)
}

// ListPublishAttempts returns the attempts for a message the account owns.
func (s *Service) ListPublishAttempts(ctx context.Context, accountID, messageID string) ([]*store.PublishAttempt, error) {
	if _, err := s.ownedMessage(ctx, accountID, messageID); err != nil {
		return nil, err
	}
	return s.store.ListPublishAttempts(ctx, messageID)
}

// ownedMessage loads a message and verifies its conversation belongs to the
// account. Side effects hang off messages, so every connector entry point
// goes through this check.
func (s *Service) ownedMessage(ctx context.Context, accountID, messageID string) (*store.Message, error) {
	msg, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if _, err := s.store.GetConversation(ctx, msg.ConversationID, accountID); err != nil {
		return nil, err
	}
	return msg, nil
}

// deriveTitle builds a conversation title from the first user message.
func deriveTitle(text string) string {
	if text == completion.OnboardingSentinel {
		return "Welcome"
	}
	runes := []rune(text)
	if len(runes) > titleMaxRunes {
		return string(runes[:titleMaxRunes]) + "..."
	}
	return text
}

// toChatHistory converts stored messages to the gateway's history type,
// preserving order.
func toChatHistory(msgs []*store.Message) []completion.ChatMessage {
	history := make([]completion.ChatMessage, 0, len(msgs))
	for _, m := range msgs {
		history = append(history, completion.ChatMessage{Role: m.Role, Content: m.Content})
	}
	return history
}
