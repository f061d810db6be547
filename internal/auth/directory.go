// ABOUTME: Read-only account directory consumed by the orchestrator
// ABOUTME: Bundles account facts with external-platform connection status

package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/2389/marko-gateway/internal/chat"
	"github.com/2389/marko-gateway/internal/connector"
	"github.com/2389/marko-gateway/internal/store"
)

// Directory implements chat.AccountDirectory over the account store.
type Directory struct {
	store AccountStore
}

// NewDirectory creates a directory backed by the given store.
func NewDirectory(st AccountStore) *Directory {
	return &Directory{store: st}
}

// Status is the external-platform connection state for an account.
type Status struct {
	Connected      bool
	PlatformHandle string
}

// Lookup returns the orchestrator's view of an account: identity facts plus
// the social connection and its stored credential.
func (d *Directory) Lookup(ctx context.Context, accountID string) (*chat.AccountInfo, error) {
	account, err := d.store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}

	info := &chat.AccountInfo{
		AccountID: account.ID,
		Name:      account.Name,
		Company:   account.Company,
	}

	social, err := d.store.GetSocialAccount(ctx, accountID)
	if errors.Is(err, store.ErrNotFound) {
		return info, nil
	}
	if err != nil {
		return nil, fmt.Errorf("looking up social account: %w", err)
	}
	if social.Active {
		info.Connected = true
		info.PlatformHandle = social.IGHandle
		info.Credential = connector.Credential{
			AccessToken: social.AccessToken,
			PageID:      social.PageID,
			IGUserID:    social.IGUserID,
		}
	}
	return info, nil
}

// ExternalAccountStatus reports whether the account has an active social
// connection, without exposing the credential.
func (d *Directory) ExternalAccountStatus(ctx context.Context, accountID string) (Status, error) {
	info, err := d.Lookup(ctx, accountID)
	if err != nil {
		return Status{}, err
	}
	return Status{Connected: info.Connected, PlatformHandle: info.PlatformHandle}, nil
}
