// ABOUTME: Turn-based message persistence: atomic seq allocation and placeholder completion
// ABOUTME: AppendTurn/CompleteTurn/RollbackTurn enforce the gapless-ordering contract

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AppendTurn persists a user message and an empty assistant placeholder in a
// single transaction, allocating the next two sequence numbers. The
// placeholder is marked pending and stays invisible to readers until
// CompleteTurn fills it in.
//
// Returns ErrNotFound if the conversation doesn't exist and ErrForbidden if
// it belongs to a different account.
func (s *SQLiteStore) AppendTurn(ctx context.Context, conversationID, accountID, userText string) (*Turn, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	// Ownership check inside the transaction so the conversation can't be
	// deleted out from under the seq allocation.
	var ownerID string
	err = tx.QueryRowContext(ctx,
		`SELECT account_id FROM conversations WHERE id = ?`, conversationID,
	).Scan(&ownerID)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("checking conversation: %w", err)
	}
	if ownerID != accountID {
		return nil, ErrForbidden
	}

	var maxSeq int64
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) FROM messages WHERE conversation_id = ?`, conversationID,
	).Scan(&maxSeq)
	if err != nil {
		return nil, fmt.Errorf("reading max seq: %w", err)
	}

	now := time.Now().UTC()
	user := &Message{
		ID:             uuid.New().String(),
		ConversationID: conversationID,
		Role:           RoleUser,
		Content:        userText,
		Seq:            maxSeq + 1,
		CreatedAt:      now,
	}
	assistant := &Message{
		ID:             uuid.New().String(),
		ConversationID: conversationID,
		Role:           RoleAssistant,
		Seq:            maxSeq + 2,
		Pending:        true,
		CreatedAt:      now,
	}

	insert := `
		INSERT INTO messages (id, conversation_id, role, content, seq, pending, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	for _, msg := range []*Message{user, assistant} {
		pending := 0
		if msg.Pending {
			pending = 1
		}
		if _, err := tx.ExecContext(ctx, insert,
			msg.ID, msg.ConversationID, msg.Role, msg.Content, msg.Seq, pending,
			msg.CreatedAt.Format(time.RFC3339),
		); err != nil {
			return nil, fmt.Errorf("inserting %s message: %w", msg.Role, err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE conversations SET updated_at = ? WHERE id = ?`,
		now.Format(time.RFC3339), conversationID,
	); err != nil {
		return nil, fmt.Errorf("touching conversation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing turn: %w", err)
	}

	s.logger.Debug("appended turn",
		"conversation_id", conversationID,
		"user_seq", user.Seq,
		"assistant_seq", assistant.Seq)
	return &Turn{User: user, Assistant: assistant}, nil
}

// CompleteTurn fills in a pending assistant placeholder with the generated
// content, making the pair visible to readers. Returns ErrConflict if the
// placeholder was already completed and ErrNotFound if it doesn't exist.
func (s *SQLiteStore) CompleteTurn(ctx context.Context, placeholderID, content string) (*Message, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE messages SET content = ?, pending = 0 WHERE id = ? AND pending = 1`,
		content, placeholderID,
	)
	if err != nil {
		return nil, fmt.Errorf("completing turn: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("reading rows affected: %w", err)
	}
	if affected == 0 {
		// Distinguish "already completed" from "never existed".
		var exists int
		err := s.db.QueryRowContext(ctx,
			`SELECT 1 FROM messages WHERE id = ?`, placeholderID,
		).Scan(&exists)
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		if err != nil {
			return nil, fmt.Errorf("checking placeholder: %w", err)
		}
		return nil, ErrConflict
	}

	msg, err := s.GetMessage(ctx, placeholderID)
	if err != nil {
		return nil, err
	}

	s.logger.Debug("completed turn",
		"message_id", msg.ID,
		"conversation_id", msg.ConversationID,
		"seq", msg.Seq)
	return msg, nil
}

// RollbackTurn deletes a pending assistant placeholder after a failed
// completion. The paired user message stays; the placeholder held the highest
// seq in its conversation, so removing it leaves no gap for readers.
// Completed messages are never deleted this way.
func (s *SQLiteStore) RollbackTurn(ctx context.Context, placeholderID string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM messages WHERE id = ? AND pending = 1`, placeholderID,
	)
	if err != nil {
		return fmt.Errorf("rolling back turn: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("reading rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}

	s.logger.Debug("rolled back turn", "message_id", placeholderID)
	return nil
}

// ListMessages returns the visible messages of a conversation in sequence
// order. Pending placeholders are excluded so readers only ever observe a
// user message alone or the completed pair.
func (s *SQLiteStore) ListMessages(ctx context.Context, conversationID string) ([]*Message, error) {
	query := `
		SELECT id, conversation_id, role, content, seq, pending, created_at
		FROM messages
		WHERE conversation_id = ? AND pending = 0
		ORDER BY seq ASC
	`

	rows, err := s.db.QueryContext(ctx, query, conversationID)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var msgs []*Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, msg)
	}
	return msgs, rows.Err()
}

// GetMessage retrieves a single message by ID, pending or not.
func (s *SQLiteStore) GetMessage(ctx context.Context, id string) (*Message, error) {
	query := `
		SELECT id, conversation_id, role, content, seq, pending, created_at
		FROM messages
		WHERE id = ?
	`
	return scanMessage(s.db.QueryRowContext(ctx, query, id))
}

func scanMessage(row rowScanner) (*Message, error) {
	var msg Message
	var pending int
	var createdAtStr string

	err := row.Scan(&msg.ID, &msg.ConversationID, &msg.Role, &msg.Content,
		&msg.Seq, &pending, &createdAtStr)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning message: %w", err)
	}

	msg.Pending = pending != 0
	if msg.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	return &msg, nil
}
