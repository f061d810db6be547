// ABOUTME: Generated asset persistence: append-only image records keyed by message
// ABOUTME: Assets are retained for audit and never cascade-deleted with messages

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// SaveAsset inserts a generated asset. A message's newest asset supersedes
// the prior association; old rows stay untouched.
func (s *SQLiteStore) SaveAsset(ctx context.Context, asset *GeneratedAsset) error {
	query := `
		INSERT INTO generated_assets (id, message_id, prompt, url, created_at)
		VALUES (?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		asset.ID,
		asset.MessageID,
		asset.Prompt,
		asset.URL,
		asset.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting asset: %w", err)
	}

	s.logger.Debug("saved asset", "id", asset.ID, "message_id", asset.MessageID)
	return nil
}

// LatestAssetForMessage returns the current asset association for a message,
// or ErrNotFound if none was ever generated.
func (s *SQLiteStore) LatestAssetForMessage(ctx context.Context, messageID string) (*GeneratedAsset, error) {
	query := `
		SELECT id, message_id, prompt, url, created_at
		FROM generated_assets
		WHERE message_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`
	return scanAsset(s.db.QueryRowContext(ctx, query, messageID))
}

// ListAssetsForMessage returns every asset ever generated for a message,
// newest first.
func (s *SQLiteStore) ListAssetsForMessage(ctx context.Context, messageID string) ([]*GeneratedAsset, error) {
	query := `
		SELECT id, message_id, prompt, url, created_at
		FROM generated_assets
		WHERE message_id = ?
		ORDER BY created_at DESC, id DESC
	`

	rows, err := s.db.QueryContext(ctx, query, messageID)
	if err != nil {
		return nil, fmt.Errorf("querying assets: %w", err)
	}
	defer rows.Close()

	var assets []*GeneratedAsset
	for rows.Next() {
		asset, err := scanAsset(rows)
		if err != nil {
			return nil, err
		}
		assets = append(assets, asset)
	}
	return assets, rows.Err()
}

func scanAsset(row rowScanner) (*GeneratedAsset, error) {
	var asset GeneratedAsset
	var createdAtStr string

	err := row.Scan(&asset.ID, &asset.MessageID, &asset.Prompt, &asset.URL, &createdAtStr)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning asset: %w", err)
	}

	if asset.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	return &asset, nil
}
