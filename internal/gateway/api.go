// ABOUTME: HTTP API handlers for auth, chat, side-effect and social-status routes
// ABOUTME: Single classification point mapping core error kinds to HTTP statuses

package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/2389/marko-gateway/internal/auth"
	"github.com/2389/marko-gateway/internal/chat"
	"github.com/2389/marko-gateway/internal/completion"
	"github.com/2389/marko-gateway/internal/connector"
	"github.com/2389/marko-gateway/internal/store"
)

// RegisterRequest is the JSON request body for POST /api/auth/register.
type RegisterRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name,omitempty"`
	Company  string `json:"company,omitempty"`
}

// LoginRequest is the JSON request body for POST /api/auth/login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// AuthResponse is the JSON response for register and login.
type AuthResponse struct {
	Token   string          `json:"token"`
	Account AccountResponse `json:"account"`
}

// AccountResponse is the JSON shape of an account.
type AccountResponse struct {
	ID      string `json:"id"`
	Email   string `json:"email"`
	Name    string `json:"name,omitempty"`
	Company string `json:"company,omitempty"`
}

// SendRequest is the JSON request body for POST /api/chat/send.
type SendRequest struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversation_id,omitempty"`
}

// SendResponse is the JSON response for a completed turn.
type SendResponse struct {
	ConversationID string          `json:"conversation_id"`
	Message        MessageResponse `json:"message"`
	Response       MessageResponse `json:"response"`
}

// MessageResponse is the JSON shape of a message.
type MessageResponse struct {
	ID        string `json:"id"`
	Role      string `json:"role"`
	Content   string `json:"content"`
	Seq       int64  `json:"seq"`
	CreatedAt string `json:"created_at"`
}

// ConversationResponse is the JSON shape of a conversation, optionally with
// its messages.
type ConversationResponse struct {
	ID        string            `json:"id"`
	Title     string            `json:"title"`
	CreatedAt string            `json:"created_at"`
	UpdatedAt string            `json:"updated_at"`
	Messages  []MessageResponse `json:"messages,omitempty"`
}

// GenerateImageRequest is the JSON request body for POST /api/messages/{id}/image.
type GenerateImageRequest struct {
	Prompt string `json:"prompt"`
}

// AssetResponse is the JSON shape of a generated asset.
type AssetResponse struct {
	ID        string `json:"id"`
	MessageID string `json:"message_id"`
	Prompt    string `json:"prompt"`
	URL       string `json:"url"`
	CreatedAt string `json:"created_at"`
}

// PublishRequest is the JSON request body for POST /api/messages/{id}/publish.
type PublishRequest struct {
	Platform string `json:"platform"`
	Caption  string `json:"caption"`
	MediaURL string `json:"media_url,omitempty"`
}

// PublishAttemptResponse is the JSON shape of a publish attempt.
type PublishAttemptResponse struct {
	ID           string `json:"id"`
	MessageID    string `json:"message_id"`
	Platform     string `json:"platform"`
	Caption      string `json:"caption"`
	MediaURL     string `json:"media_url,omitempty"`
	Status       string `json:"status"`
	RemotePostID string `json:"remote_post_id,omitempty"`
	ErrorDetail  string `json:"error_detail,omitempty"`
	CreatedAt    string `json:"created_at"`
}

// SocialStatusResponse is the JSON response for GET /api/social/status.
type SocialStatusResponse struct {
	Connected      bool   `json:"connected"`
	PlatformHandle string `json:"platform_handle,omitempty"`
}

// errorResponse carries a stable machine-readable kind alongside the message.
type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (g *Gateway) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	account, token, err := g.sessions.Register(r.Context(), req.Email, req.Password, req.Name, req.Company)
	if errors.Is(err, store.ErrDuplicateAccount) {
		g.sendJSONError(w, http.StatusConflict, "email already registered")
		return
	}
	if err != nil {
		g.sendError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, AuthResponse{Token: token, Account: toAccountResponse(account)})
}

func (g *Gateway) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	account, token, err := g.sessions.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		g.sendError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, AuthResponse{Token: token, Account: toAccountResponse(account)})
}

func (g *Gateway) handleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	authCtx := auth.MustFromContext(r.Context())
	account, err := g.store.GetAccount(r.Context(), authCtx.AccountID)
	if err != nil {
		g.sendError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAccountResponse(account))
}

// handleSend handles POST /api/chat/send: one full turn through the
// orchestrator. A failed completion returns its error kind while the user
// message stays persisted, so clients can tell "reply failed" from "nothing
// happened".
func (g *Gateway) handleSend(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req SendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		g.sendJSONError(w, http.StatusBadRequest, "message is required")
		return
	}

	authCtx := auth.MustFromContext(r.Context())
	result, err := g.chat.SendMessage(r.Context(), authCtx.AccountID, req.Message, req.ConversationID)
	if err != nil {
		g.sendError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, SendResponse{
		ConversationID: result.Conversation.ID,
		Message:        toMessageResponse(result.UserMessage),
		Response:       toMessageResponse(result.Assistant),
	})
}

// handleOnboarding handles POST /api/chat/onboarding: the explicit scripted
// first-session trigger.
func (g *Gateway) handleOnboarding(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	authCtx := auth.MustFromContext(r.Context())
	result, err := g.chat.StartOnboarding(r.Context(), authCtx.AccountID)
	if err != nil {
		g.sendError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, SendResponse{
		ConversationID: result.Conversation.ID,
		Message:        toMessageResponse(result.UserMessage),
		Response:       toMessageResponse(result.Assistant),
	})
}

func (g *Gateway) handleConversations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	authCtx := auth.MustFromContext(r.Context())
	convs, err := g.chat.ListConversations(r.Context(), authCtx.AccountID)
	if err != nil {
		g.sendError(w, err)
		return
	}

	response := make([]ConversationResponse, 0, len(convs))
	for _, c := range convs {
		response = append(response, toConversationResponse(c, nil))
	}
	writeJSON(w, http.StatusOK, response)
}

// handleConversationRoutes handles GET and DELETE /api/chat/conversations/{id}.
func (g *Gateway) handleConversationRoutes(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/api/chat/conversations/")
	if id == "" || strings.Contains(id, "/") {
		g.sendJSONError(w, http.StatusNotFound, "not found")
		return
	}

	authCtx := auth.MustFromContext(r.Context())

	switch r.Method {
	case http.MethodGet:
		conv, msgs, err := g.chat.History(r.Context(), authCtx.AccountID, id)
		if err != nil {
			g.sendError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toConversationResponse(conv, msgs))

	case http.MethodDelete:
		if err := g.chat.DeleteConversation(r.Context(), authCtx.AccountID, id); err != nil {
			g.sendError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// handleMessageRoutes dispatches /api/messages/{id}/image, /{id}/publish and
// /{id}/publishes.
func (g *Gateway) handleMessageRoutes(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/messages/")
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) != 2 || parts[0] == "" {
		g.sendJSONError(w, http.StatusNotFound, "not found")
		return
	}
	messageID, action := parts[0], parts[1]

	switch action {
	case "image":
		if r.Method == http.MethodGet {
			g.handleLatestAsset(w, r, messageID)
			return
		}
		g.handleGenerateImage(w, r, messageID)
	case "publish":
		g.handlePublish(w, r, messageID)
	case "publishes":
		g.handleListPublishes(w, r, messageID)
	default:
		g.sendJSONError(w, http.StatusNotFound, "not found")
	}
}

func (g *Gateway) handleGenerateImage(w http.ResponseWriter, r *http.Request, messageID string) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req GenerateImageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		g.sendJSONError(w, http.StatusBadRequest, "prompt is required")
		return
	}

	authCtx := auth.MustFromContext(r.Context())
	asset, err := g.chat.GenerateImage(r.Context(), authCtx.AccountID, messageID, req.Prompt)
	if err != nil {
		g.sendError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toAssetResponse(asset))
}

func (g *Gateway) handleLatestAsset(w http.ResponseWriter, r *http.Request, messageID string) {
	authCtx := auth.MustFromContext(r.Context())
	asset, err := g.chat.LatestAsset(r.Context(), authCtx.AccountID, messageID)
	if err != nil {
		g.sendError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAssetResponse(asset))
}

func (g *Gateway) handlePublish(w http.ResponseWriter, r *http.Request, messageID string) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req PublishRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Platform != store.PlatformInstagram && req.Platform != store.PlatformFacebook {
		g.sendJSONError(w, http.StatusBadRequest, "platform must be instagram or facebook")
		return
	}

	authCtx := auth.MustFromContext(r.Context())
	attempt, err := g.chat.Publish(r.Context(), authCtx.AccountID, messageID, req.Platform, req.Caption, req.MediaURL)
	if err != nil {
		// The attempt record, if one was created, is already terminal.
		g.sendError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toPublishAttemptResponse(attempt))
}

func (g *Gateway) handleListPublishes(w http.ResponseWriter, r *http.Request, messageID string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	authCtx := auth.MustFromContext(r.Context())
	attempts, err := g.chat.ListPublishAttempts(r.Context(), authCtx.AccountID, messageID)
	if err != nil {
		g.sendError(w, err)
		return
	}

	response := make([]PublishAttemptResponse, 0, len(attempts))
	for _, a := range attempts {
		response = append(response, toPublishAttemptResponse(a))
	}
	writeJSON(w, http.StatusOK, response)
}

func (g *Gateway) handleSocialStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	authCtx := auth.MustFromContext(r.Context())
	status, err := g.directory.ExternalAccountStatus(r.Context(), authCtx.AccountID)
	if err != nil {
		g.sendError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, SocialStatusResponse{
		Connected:      status.Connected,
		PlatformHandle: status.PlatformHandle,
	})
}

func (g *Gateway) handleSocialDisconnect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	authCtx := auth.MustFromContext(r.Context())
	err := g.store.DisconnectSocialAccount(r.Context(), authCtx.AccountID)
	if errors.Is(err, store.ErrNotFound) {
		// Nothing was connected; disconnecting is a no-op.
		writeJSON(w, http.StatusOK, map[string]string{"status": "disconnected"})
		return
	}
	if err != nil {
		g.sendError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "disconnected"})
}

// sendError classifies a core error into a stable kind and HTTP status.
// This is the single point where the error taxonomy crosses the wire.
func (g *Gateway) sendError(w http.ResponseWriter, err error) {
	var status int
	var kind string

	switch {
	case errors.Is(err, store.ErrNotFound):
		status, kind = http.StatusNotFound, "not_found"
	case errors.Is(err, store.ErrForbidden):
		status, kind = http.StatusForbidden, "forbidden"
	case errors.Is(err, store.ErrConflict):
		status, kind = http.StatusConflict, "conflict"
	case errors.Is(err, chat.ErrConversationBusy):
		status, kind = http.StatusConflict, "conversation_busy"
	case errors.Is(err, chat.ErrNotConnected):
		status, kind = http.StatusBadRequest, "not_connected"
	case errors.Is(err, completion.ErrUpstreamRejected):
		status, kind = http.StatusUnprocessableEntity, "upstream_rejected"
	case errors.Is(err, completion.ErrUpstreamUnavailable),
		errors.Is(err, connector.ErrUpstreamUnavailable):
		status, kind = http.StatusBadGateway, "upstream_unavailable"
	case errors.Is(err, connector.ErrGenerationFailed):
		status, kind = http.StatusBadGateway, "generation_failed"
	case errors.Is(err, connector.ErrPublishFailed):
		status, kind = http.StatusUnprocessableEntity, "publish_failed"
	case errors.Is(err, auth.ErrUnauthenticated):
		status, kind = http.StatusUnauthorized, "unauthenticated"
	default:
		g.logger.Error("internal error", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal server error"})
		return
	}

	writeJSON(w, status, errorResponse{Error: err.Error(), Kind: kind})
}

// sendJSONError sends a plain error without a taxonomy kind.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func toAccountResponse(a *store.Account) AccountResponse {
	return AccountResponse{ID: a.ID, Email: a.Email, Name: a.Name, Company: a.Company}
}

func toMessageResponse(m *store.Message) MessageResponse {
	return MessageResponse{
		ID:        m.ID,
		Role:      m.Role,
		Content:   m.Content,
		Seq:       m.Seq,
		CreatedAt: m.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func toConversationResponse(c *store.Conversation, msgs []*store.Message) ConversationResponse {
	resp := ConversationResponse{
		ID:        c.ID,
		Title:     c.Title,
		CreatedAt: c.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt: c.UpdatedAt.UTC().Format(time.RFC3339),
	}
	for _, m := range msgs {
		resp.Messages = append(resp.Messages, toMessageResponse(m))
	}
	return resp
}

func toAssetResponse(a *store.GeneratedAsset) AssetResponse {
	return AssetResponse{
		ID:        a.ID,
		MessageID: a.MessageID,
		Prompt:    a.Prompt,
		URL:       a.URL,
		CreatedAt: a.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func toPublishAttemptResponse(a *store.PublishAttempt) PublishAttemptResponse {
	return PublishAttemptResponse{
		ID:           a.ID,
		MessageID:    a.MessageID,
		Platform:     a.Platform,
		Caption:      a.Caption,
		MediaURL:     a.MediaURL,
		Status:       a.Status,
		RemotePostID: a.RemotePostID,
		ErrorDetail:  a.ErrorDetail,
		CreatedAt:    a.CreatedAt.UTC().Format(time.RFC3339),
	}
}
