// ABOUTME: Gateway wires the store, orchestrator and connectors into an HTTP server
// ABOUTME: Owns route registration, startup and graceful shutdown

package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/2389/marko-gateway/internal/auth"
	"github.com/2389/marko-gateway/internal/chat"
	"github.com/2389/marko-gateway/internal/completion"
	"github.com/2389/marko-gateway/internal/config"
	"github.com/2389/marko-gateway/internal/connector"
	"github.com/2389/marko-gateway/internal/store"
)

// Gateway is the assembled server.
type Gateway struct {
	cfg        *config.Config
	store      *store.SQLiteStore
	sessions   *auth.Sessions
	directory  *auth.Directory
	chat       *chat.Service
	httpServer *http.Server
	logger     *slog.Logger
}

// New builds a gateway from configuration: opens the store, constructs the
// session boundary, connectors and orchestrator, and registers routes.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}

	sqlStore, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}

	sessions := auth.NewSessions(sqlStore, []byte(cfg.Auth.JWTSecret), logger)
	directory := auth.NewDirectory(sqlStore)

	completer := completion.NewOpenAICompleter(cfg.Completion.APIKey, cfg.Completion.Model)
	images := connector.NewOpenAIImageGenerator(cfg.Completion.APIKey)
	publisher := connector.NewGraphPublisher(cfg.Social.GraphBaseURL)

	chatSvc := chat.New(sqlStore, completer, images, publisher, directory, logger)

	g := &Gateway{
		cfg:       cfg,
		store:     sqlStore,
		sessions:  sessions,
		directory: directory,
		chat:      chatSvc,
		logger:    logger.With("component", "gateway"),
	}

	mux := http.NewServeMux()
	g.registerRoutes(mux)

	g.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return g, nil
}

// registerRoutes registers all API routes. Everything except auth and health
// sits behind the bearer-token middleware.
func (g *Gateway) registerRoutes(mux *http.ServeMux) {
	authed := auth.HTTPAuthMiddleware(g.sessions)

	mux.HandleFunc("/healthz", g.handleHealth)
	mux.HandleFunc("/api/auth/register", g.handleRegister)
	mux.HandleFunc("/api/auth/login", g.handleLogin)

	mux.Handle("/api/auth/me", authed(http.HandlerFunc(g.handleMe)))
	mux.Handle("/api/chat/send", authed(http.HandlerFunc(g.handleSend)))
	mux.Handle("/api/chat/onboarding", authed(http.HandlerFunc(g.handleOnboarding)))
	mux.Handle("/api/chat/conversations", authed(http.HandlerFunc(g.handleConversations)))
	mux.Handle("/api/chat/conversations/", authed(http.HandlerFunc(g.handleConversationRoutes)))
	mux.Handle("/api/messages/", authed(http.HandlerFunc(g.handleMessageRoutes)))
	mux.Handle("/api/social/status", authed(http.HandlerFunc(g.handleSocialStatus)))
	mux.Handle("/api/social/connection", authed(http.HandlerFunc(g.handleSocialDisconnect)))
}

// Run serves HTTP until the context is cancelled, then shuts down gracefully.
func (g *Gateway) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("HTTP server listening", "addr", g.httpServer.Addr)
		if err := g.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		g.logger.Info("shutdown signal received")
		return g.gracefulShutdown()
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}
}

// gracefulShutdown drains in-flight requests, then closes the store.
func (g *Gateway) gracefulShutdown() error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := g.httpServer.Shutdown(shutdownCtx); err != nil {
		g.logger.Error("http shutdown failed", "error", err)
	}
	return g.store.Close()
}
