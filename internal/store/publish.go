// ABOUTME: Publish attempt persistence: one record per explicit publish request
// ABOUTME: Attempts go pending -> succeeded|failed and are never retried in place

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// CreatePublishAttempt inserts a new attempt, normally in pending status.
func (s *SQLiteStore) CreatePublishAttempt(ctx context.Context, attempt *PublishAttempt) error {
	query := `
		INSERT INTO publish_attempts
			(id, message_id, platform, caption, media_url, status, remote_post_id, error_detail, created_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	var finishedAt any
	if attempt.FinishedAt != nil {
		finishedAt = attempt.FinishedAt.UTC().Format(time.RFC3339)
	}

	_, err := s.db.ExecContext(ctx, query,
		attempt.ID,
		attempt.MessageID,
		attempt.Platform,
		attempt.Caption,
		attempt.MediaURL,
		attempt.Status,
		attempt.RemotePostID,
		attempt.ErrorDetail,
		attempt.CreatedAt.UTC().Format(time.RFC3339),
		finishedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting publish attempt: %w", err)
	}

	s.logger.Debug("created publish attempt",
		"id", attempt.ID,
		"message_id", attempt.MessageID,
		"platform", attempt.Platform,
		"status", attempt.Status)
	return nil
}

// FinishPublishAttempt moves a pending attempt to a terminal status.
// Returns ErrConflict if the attempt already reached a terminal status.
func (s *SQLiteStore) FinishPublishAttempt(ctx context.Context, id, status, remotePostID, errorDetail string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE publish_attempts
		SET status = ?, remote_post_id = ?, error_detail = ?, finished_at = ?
		WHERE id = ? AND status = 'pending'`,
		status, remotePostID, errorDetail,
		time.Now().UTC().Format(time.RFC3339), id,
	)
	if err != nil {
		return fmt.Errorf("finishing publish attempt: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("reading rows affected: %w", err)
	}
	if affected == 0 {
		var exists int
		err := s.db.QueryRowContext(ctx,
			`SELECT 1 FROM publish_attempts WHERE id = ?`, id,
		).Scan(&exists)
		if err == sql.ErrNoRows {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("checking publish attempt: %w", err)
		}
		return ErrConflict
	}

	s.logger.Debug("finished publish attempt", "id", id, "status", status)
	return nil
}

// ListPublishAttempts returns all attempts for a message, newest first.
func (s *SQLiteStore) ListPublishAttempts(ctx context.Context, messageID string) ([]*PublishAttempt, error) {
	query := `
		SELECT id, message_id, platform, caption, media_url, status,
		       remote_post_id, error_detail, created_at, finished_at
		FROM publish_attempts
		WHERE message_id = ?
		ORDER BY created_at DESC, id DESC
	`

	rows, err := s.db.QueryContext(ctx, query, messageID)
	if err != nil {
		return nil, fmt.Errorf("querying publish attempts: %w", err)
	}
	defer rows.Close()

	var attempts []*PublishAttempt
	for rows.Next() {
		attempt, err := scanPublishAttempt(rows)
		if err != nil {
			return nil, err
		}
		attempts = append(attempts, attempt)
	}
	return attempts, rows.Err()
}

func scanPublishAttempt(row rowScanner) (*PublishAttempt, error) {
	var attempt PublishAttempt
	var createdAtStr string
	var finishedAtStr sql.NullString

	err := row.Scan(&attempt.ID, &attempt.MessageID, &attempt.Platform,
		&attempt.Caption, &attempt.MediaURL, &attempt.Status,
		&attempt.RemotePostID, &attempt.ErrorDetail, &createdAtStr, &finishedAtStr)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning publish attempt: %w", err)
	}

	if attempt.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if finishedAtStr.Valid {
		t, err := time.Parse(time.RFC3339, finishedAtStr.String)
		if err != nil {
			return nil, fmt.Errorf("parsing finished_at: %w", err)
		}
		attempt.FinishedAt = &t
	}
	return &attempt, nil
}
