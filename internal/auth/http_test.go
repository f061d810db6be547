// ABOUTME: Tests for the bearer-token HTTP middleware
// ABOUTME: Covers header parsing and account resolution into the request context

package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractBearerToken(t *testing.T) {
	token, errMsg := extractBearerToken("Bearer abc123")
	assert.Equal(t, "abc123", token)
	assert.Empty(t, errMsg)

	_, errMsg = extractBearerToken("")
	assert.NotEmpty(t, errMsg)

	_, errMsg = extractBearerToken("Basic abc123")
	assert.NotEmpty(t, errMsg)

	_, errMsg = extractBearerToken("Bearer ")
	assert.NotEmpty(t, errMsg)
}

func TestHTTPAuthMiddleware_AttachesAccount(t *testing.T) {
	sessions, _ := setupSessions(t)
	account, token, err := sessions.Register(context.Background(), "jordan@example.com", "hunter2", "", "")
	require.NoError(t, err)

	var gotCtx *AuthContext
	handler := HTTPAuthMiddleware(sessions)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotCtx = FromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	require.NotNil(t, gotCtx)
	assert.Equal(t, account.ID, gotCtx.AccountID)
	assert.Equal(t, "jordan@example.com", gotCtx.Email)
}

func TestHTTPAuthMiddleware_RejectsMissingHeader(t *testing.T) {
	sessions, _ := setupSessions(t)

	handler := HTTPAuthMiddleware(sessions)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be reached")
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestHTTPAuthMiddleware_RejectsBadToken(t *testing.T) {
	sessions, _ := setupSessions(t)

	handler := HTTPAuthMiddleware(sessions)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be reached")
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}
