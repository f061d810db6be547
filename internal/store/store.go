// ABOUTME: Store interface and data types for marko-gateway persistence
// ABOUTME: Defines Conversation, Message, asset and publish-attempt structs plus error sentinels

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrForbidden is returned when an account references an entity it does not own
var ErrForbidden = errors.New("forbidden")

// ErrConflict is returned when an operation would complete the same turn twice
var ErrConflict = errors.New("conflict")

// ErrDuplicateAccount is returned when registering an email that is already taken
var ErrDuplicateAccount = errors.New("account already exists")

// Message roles
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Publish attempt statuses
const (
	PublishStatusPending   = "pending"
	PublishStatusSucceeded = "succeeded"
	PublishStatusFailed    = "failed"
)

// Publish platforms
const (
	PlatformInstagram = "instagram"
	PlatformFacebook  = "facebook"
)

// DefaultConversationTitle is used when a conversation is created without one.
const DefaultConversationTitle = "New chat"

// Account is a registered user of the assistant.
type Account struct {
	ID           string
	Email        string
	PasswordHash string
	Name         string
	Company      string
	CreatedAt    time.Time
}

// SocialAccount links an account to its external social platform identity.
// The access token is opaque here; acquisition and refresh happen elsewhere.
type SocialAccount struct {
	AccountID   string
	AccessToken string
	PageID      string
	PageName    string
	IGUserID    string
	IGHandle    string
	Active      bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Conversation is a thread of messages owned by exactly one account.
// Only the title and UpdatedAt change after creation.
type Conversation struct {
	ID        string
	AccountID string
	Title     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Message is a single turn entry within a conversation. Seq is contiguous and
// strictly increasing per conversation. A pending message is an assistant
// placeholder whose content has not been filled in yet; readers never see it.
type Message struct {
	ID             string
	ConversationID string
	Role           string
	Content        string
	Seq            int64
	Pending        bool
	CreatedAt      time.Time
}

// Turn is the pair of rows allocated by AppendTurn: the persisted user message
// and the assistant placeholder that CompleteTurn later fills in.
type Turn struct {
	User      *Message
	Assistant *Message
}

// GeneratedAsset is an image produced for a message. Assets are append-only:
// a newer asset for the same message supersedes the association, but older
// rows are retained for audit and never deleted with their message.
type GeneratedAsset struct {
	ID        string
	MessageID string
	Prompt    string
	URL       string
	CreatedAt time.Time
}

// PublishAttempt records one explicit publish request for a message.
// Terminal on success or failure; retries are new attempts.
type PublishAttempt struct {
	ID           string
	MessageID    string
	Platform     string
	Caption      string
	MediaURL     string
	Status       string
	RemotePostID string
	ErrorDetail  string
	CreatedAt    time.Time
	FinishedAt   *time.Time
}

// Store defines the persistence interface for conversations, turns,
// side-effect records and accounts.
type Store interface {
	// Conversations
	CreateConversation(ctx context.Context, conv *Conversation) error
	GetConversation(ctx context.Context, id, accountID string) (*Conversation, error)
	ListConversations(ctx context.Context, accountID string) ([]*Conversation, error)
	DeleteConversation(ctx context.Context, id, accountID string) error
	CountConversations(ctx context.Context, accountID string) (int64, error)

	// Turns
	AppendTurn(ctx context.Context, conversationID, accountID, userText string) (*Turn, error)
	CompleteTurn(ctx context.Context, placeholderID, content string) (*Message, error)
	RollbackTurn(ctx context.Context, placeholderID string) error
	ListMessages(ctx context.Context, conversationID string) ([]*Message, error)
	GetMessage(ctx context.Context, id string) (*Message, error)

	// Generated assets
	SaveAsset(ctx context.Context, asset *GeneratedAsset) error
	LatestAssetForMessage(ctx context.Context, messageID string) (*GeneratedAsset, error)
	ListAssetsForMessage(ctx context.Context, messageID string) ([]*GeneratedAsset, error)

	// Publish attempts
	CreatePublishAttempt(ctx context.Context, attempt *PublishAttempt) error
	FinishPublishAttempt(ctx context.Context, id, status, remotePostID, errorDetail string) error
	ListPublishAttempts(ctx context.Context, messageID string) ([]*PublishAttempt, error)

	// Accounts
	CreateAccount(ctx context.Context, account *Account) error
	GetAccount(ctx context.Context, id string) (*Account, error)
	GetAccountByEmail(ctx context.Context, email string) (*Account, error)

	// Social platform link
	UpsertSocialAccount(ctx context.Context, social *SocialAccount) error
	GetSocialAccount(ctx context.Context, accountID string) (*SocialAccount, error)
	DisconnectSocialAccount(ctx context.Context, accountID string) error

	Close() error
}
