// ABOUTME: Account and social-platform link persistence
// ABOUTME: Accounts are read-mostly context for the orchestrator; tokens are opaque blobs

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// CreateAccount inserts a new account. Returns ErrDuplicateAccount if the
// email is already registered.
func (s *SQLiteStore) CreateAccount(ctx context.Context, account *Account) error {
	query := `
		INSERT INTO accounts (id, email, password_hash, name, company, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		account.ID,
		account.Email,
		account.PasswordHash,
		account.Name,
		account.Company,
		account.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicateAccount
		}
		return fmt.Errorf("inserting account: %w", err)
	}

	s.logger.Debug("created account", "id", account.ID, "email", account.Email)
	return nil
}

// GetAccount retrieves an account by ID.
func (s *SQLiteStore) GetAccount(ctx context.Context, id string) (*Account, error) {
	query := `
		SELECT id, email, password_hash, name, company, created_at
		FROM accounts
		WHERE id = ?
	`
	return scanAccount(s.db.QueryRowContext(ctx, query, id))
}

// GetAccountByEmail retrieves an account by email.
func (s *SQLiteStore) GetAccountByEmail(ctx context.Context, email string) (*Account, error) {
	query := `
		SELECT id, email, password_hash, name, company, created_at
		FROM accounts
		WHERE email = ?
	`
	return scanAccount(s.db.QueryRowContext(ctx, query, email))
}

func scanAccount(row rowScanner) (*Account, error) {
	var account Account
	var createdAtStr string

	err := row.Scan(&account.ID, &account.Email, &account.PasswordHash,
		&account.Name, &account.Company, &createdAtStr)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning account: %w", err)
	}

	if account.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	return &account, nil
}

// UpsertSocialAccount stores or replaces the social-platform link for an
// account. Re-linking overwrites the stored credential.
func (s *SQLiteStore) UpsertSocialAccount(ctx context.Context, social *SocialAccount) error {
	query := `
		INSERT INTO social_accounts
			(account_id, access_token, page_id, page_name, ig_user_id, ig_handle, active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(account_id) DO UPDATE SET
			access_token = excluded.access_token,
			page_id      = excluded.page_id,
			page_name    = excluded.page_name,
			ig_user_id   = excluded.ig_user_id,
			ig_handle    = excluded.ig_handle,
			active       = excluded.active,
			updated_at   = excluded.updated_at
	`

	active := 0
	if social.Active {
		active = 1
	}

	_, err := s.db.ExecContext(ctx, query,
		social.AccountID,
		social.AccessToken,
		social.PageID,
		social.PageName,
		social.IGUserID,
		social.IGHandle,
		active,
		social.CreatedAt.UTC().Format(time.RFC3339),
		social.UpdatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("upserting social account: %w", err)
	}

	s.logger.Debug("upserted social account", "account_id", social.AccountID, "active", social.Active)
	return nil
}

// GetSocialAccount retrieves the social-platform link for an account.
// Returns ErrNotFound if the account never connected.
func (s *SQLiteStore) GetSocialAccount(ctx context.Context, accountID string) (*SocialAccount, error) {
	query := `
		SELECT account_id, access_token, page_id, page_name, ig_user_id, ig_handle, active, created_at, updated_at
		FROM social_accounts
		WHERE account_id = ?
	`

	var social SocialAccount
	var active int
	var createdAtStr, updatedAtStr string

	err := s.db.QueryRowContext(ctx, query, accountID).Scan(
		&social.AccountID, &social.AccessToken, &social.PageID, &social.PageName,
		&social.IGUserID, &social.IGHandle, &active, &createdAtStr, &updatedAtStr,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying social account: %w", err)
	}

	social.Active = active != 0
	if social.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if social.UpdatedAt, err = time.Parse(time.RFC3339, updatedAtStr); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &social, nil
}

// DisconnectSocialAccount marks the link inactive. The row is kept so a later
// reconnect can reuse account metadata; the credential is cleared.
func (s *SQLiteStore) DisconnectSocialAccount(ctx context.Context, accountID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE social_accounts
		SET active = 0, access_token = '', updated_at = ?
		WHERE account_id = ?`,
		time.Now().UTC().Format(time.RFC3339), accountID,
	)
	if err != nil {
		return fmt.Errorf("disconnecting social account: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("reading rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}

	s.logger.Debug("disconnected social account", "account_id", accountID)
	return nil
}
