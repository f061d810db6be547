// ABOUTME: Account registration and login built on bcrypt password hashes
// ABOUTME: Issues JWTs; the rest of the system only ever sees the account ID

package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/2389/marko-gateway/internal/store"
)

// ErrUnauthenticated is returned for bad credentials or unusable tokens.
// Login failures collapse into this one error so callers can't probe which
// part was wrong.
var ErrUnauthenticated = errors.New("unauthenticated")

// DefaultTokenTTL is how long issued tokens stay valid.
const DefaultTokenTTL = 7 * 24 * time.Hour

// AccountStore defines what the session service needs from storage
type AccountStore interface {
	CreateAccount(ctx context.Context, account *store.Account) error
	GetAccount(ctx context.Context, id string) (*store.Account, error)
	GetAccountByEmail(ctx context.Context, email string) (*store.Account, error)
	GetSocialAccount(ctx context.Context, accountID string) (*store.SocialAccount, error)
}

// Sessions handles registration, login and token verification.
type Sessions struct {
	store    AccountStore
	verifier *JWTVerifier
	tokenTTL time.Duration
	logger   *slog.Logger
}

// NewSessions creates a session service signing tokens with the given secret.
func NewSessions(st AccountStore, secret []byte, logger *slog.Logger) *Sessions {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sessions{
		store:    st,
		verifier: NewJWTVerifier(secret),
		tokenTTL: DefaultTokenTTL,
		logger:   logger.With("component", "auth"),
	}
}

// Register creates an account and returns it with a fresh token.
func (s *Sessions) Register(ctx context.Context, email, password, name, company string) (*store.Account, string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return nil, "", fmt.Errorf("%w: email and password required", ErrUnauthenticated)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, "", fmt.Errorf("hashing password: %w", err)
	}

	account := &store.Account{
		ID:           uuid.New().String(),
		Email:        email,
		PasswordHash: string(hash),
		Name:         name,
		Company:      company,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.store.CreateAccount(ctx, account); err != nil {
		return nil, "", err
	}

	token, err := s.verifier.Generate(account.ID, s.tokenTTL)
	if err != nil {
		return nil, "", fmt.Errorf("generating token: %w", err)
	}

	s.logger.Info("account registered", "account_id", account.ID)
	return account, token, nil
}

// Login checks credentials and returns the account with a fresh token.
func (s *Sessions) Login(ctx context.Context, email, password string) (*store.Account, string, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	account, err := s.store.GetAccountByEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		return nil, "", ErrUnauthenticated
	}
	if err != nil {
		return nil, "", err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(password)); err != nil {
		return nil, "", ErrUnauthenticated
	}

	token, err := s.verifier.Generate(account.ID, s.tokenTTL)
	if err != nil {
		return nil, "", fmt.Errorf("generating token: %w", err)
	}

	s.logger.Debug("login", "account_id", account.ID)
	return account, token, nil
}

// CurrentUser resolves a bearer token to its account.
func (s *Sessions) CurrentUser(ctx context.Context, token string) (*store.Account, error) {
	accountID, err := s.verifier.Verify(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}

	account, err := s.store.GetAccount(ctx, accountID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrUnauthenticated
	}
	if err != nil {
		return nil, err
	}
	return account, nil
}

// Verifier exposes the underlying token verifier for middleware wiring.
func (s *Sessions) Verifier() *JWTVerifier {
	return s.verifier
}
