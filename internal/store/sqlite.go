// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides conversation/message persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	// WAL for concurrent readers; foreign keys set in the DSN so every
	// pooled connection gets them, not just the first.
	dsn := "file:" + path + "?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS accounts (
			id            TEXT PRIMARY KEY,
			email         TEXT NOT NULL UNIQUE,
			password_hash TEXT NOT NULL,
			name          TEXT NOT NULL DEFAULT '',
			company       TEXT NOT NULL DEFAULT '',
			created_at    TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_accounts_email ON accounts(email);

		CREATE TABLE IF NOT EXISTS social_accounts (
			account_id   TEXT PRIMARY KEY REFERENCES accounts(id) ON DELETE CASCADE,
			access_token TEXT NOT NULL,
			page_id      TEXT NOT NULL DEFAULT '',
			page_name    TEXT NOT NULL DEFAULT '',
			ig_user_id   TEXT NOT NULL DEFAULT '',
			ig_handle    TEXT NOT NULL DEFAULT '',
			active       INTEGER NOT NULL DEFAULT 1,
			created_at   TEXT NOT NULL,
			updated_at   TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS conversations (
			id         TEXT PRIMARY KEY,
			account_id TEXT NOT NULL REFERENCES accounts(id),
			title      TEXT NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_conversations_account
			ON conversations(account_id, updated_at);

		CREATE TABLE IF NOT EXISTS messages (
			id              TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
			role            TEXT NOT NULL,
			content         TEXT NOT NULL,
			seq             INTEGER NOT NULL,
			pending         INTEGER NOT NULL DEFAULT 0,
			created_at      TEXT NOT NULL,

			UNIQUE(conversation_id, seq),
			CHECK (role IN ('user', 'assistant'))
		);

		CREATE INDEX IF NOT EXISTS idx_messages_conversation_seq
			ON messages(conversation_id, seq);

		-- No foreign key on message_id: assets outlive their message by design
		-- (audit retention survives conversation deletion).
		CREATE TABLE IF NOT EXISTS generated_assets (
			id         TEXT PRIMARY KEY,
			message_id TEXT NOT NULL,
			prompt     TEXT NOT NULL,
			url        TEXT NOT NULL,
			created_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_assets_message
			ON generated_assets(message_id, created_at);

		CREATE TABLE IF NOT EXISTS publish_attempts (
			id             TEXT PRIMARY KEY,
			message_id     TEXT NOT NULL,
			platform       TEXT NOT NULL,
			caption        TEXT NOT NULL,
			media_url      TEXT NOT NULL DEFAULT '',
			status         TEXT NOT NULL,
			remote_post_id TEXT NOT NULL DEFAULT '',
			error_detail   TEXT NOT NULL DEFAULT '',
			created_at     TEXT NOT NULL,
			finished_at    TEXT,

			CHECK (platform IN ('instagram', 'facebook')),
			CHECK (status IN ('pending', 'succeeded', 'failed'))
		);

		CREATE INDEX IF NOT EXISTS idx_publish_attempts_message
			ON publish_attempts(message_id, created_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// isConstraintViolation checks if the error is a SQLite UNIQUE constraint violation
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "constraint failed")
}

// CreateConversation inserts a new conversation. An empty title is replaced
// with DefaultConversationTitle.
func (s *SQLiteStore) CreateConversation(ctx context.Context, conv *Conversation) error {
	if conv.Title == "" {
		conv.Title = DefaultConversationTitle
	}

	query := `
		INSERT INTO conversations (id, account_id, title, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		conv.ID,
		conv.AccountID,
		conv.Title,
		conv.CreatedAt.UTC().Format(time.RFC3339),
		conv.UpdatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting conversation: %w", err)
	}

	s.logger.Debug("created conversation", "id", conv.ID, "account_id", conv.AccountID)
	return nil
}

// GetConversation retrieves a conversation by ID.
// Returns ErrNotFound if it doesn't exist and ErrForbidden if it exists but
// belongs to a different account.
func (s *SQLiteStore) GetConversation(ctx context.Context, id, accountID string) (*Conversation, error) {
	query := `
		SELECT id, account_id, title, created_at, updated_at
		FROM conversations
		WHERE id = ?
	`

	conv, err := scanConversation(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, err
	}
	if conv.AccountID != accountID {
		return nil, ErrForbidden
	}
	return conv, nil
}

// ListConversations returns all conversations for an account, newest first
// by last activity.
func (s *SQLiteStore) ListConversations(ctx context.Context, accountID string) ([]*Conversation, error) {
	query := `
		SELECT id, account_id, title, created_at, updated_at
		FROM conversations
		WHERE account_id = ?
		ORDER BY updated_at DESC, created_at DESC
	`

	rows, err := s.db.QueryContext(ctx, query, accountID)
	if err != nil {
		return nil, fmt.Errorf("querying conversations: %w", err)
	}
	defer rows.Close()

	var convs []*Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		convs = append(convs, conv)
	}
	return convs, rows.Err()
}

// CountConversations returns the number of conversations owned by an account.
// Used for first-session detection.
func (s *SQLiteStore) CountConversations(ctx context.Context, accountID string) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM conversations WHERE account_id = ?`, accountID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting conversations: %w", err)
	}
	return count, nil
}

// DeleteConversation removes a conversation and cascades its messages.
// Generated assets are intentionally left in place.
func (s *SQLiteStore) DeleteConversation(ctx context.Context, id, accountID string) error {
	if _, err := s.GetConversation(ctx, id, accountID); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting conversation: %w", err)
	}

	s.logger.Debug("deleted conversation", "id", id, "account_id", accountID)
	return nil
}

// rowScanner abstracts *sql.Row and *sql.Rows for the scan helpers.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner) (*Conversation, error) {
	var conv Conversation
	var createdAtStr, updatedAtStr string

	err := row.Scan(&conv.ID, &conv.AccountID, &conv.Title, &createdAtStr, &updatedAtStr)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning conversation: %w", err)
	}

	if conv.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if conv.UpdatedAt, err = time.Parse(time.RFC3339, updatedAtStr); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &conv, nil
}
