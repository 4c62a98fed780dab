// ABOUTME: Gateway orchestrator wiring store, link flow, and MCP transports
// ABOUTME: Owns the HTTP server lifecycle including graceful shutdown

package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/relayhq/slack-mcp-gateway/internal/auth"
	"github.com/relayhq/slack-mcp-gateway/internal/config"
	"github.com/relayhq/slack-mcp-gateway/internal/mcp"
	"github.com/relayhq/slack-mcp-gateway/internal/oauth"
	"github.com/relayhq/slack-mcp-gateway/internal/store"
)

// Version is stamped by the build; surfaced in initialize responses and the
// welcome frame.
var Version = "dev"

// Gateway orchestrates the slack-mcp-gateway server components.
type Gateway struct {
	config     *config.Config
	store      store.Store
	flow       *oauth.Flow
	verifier   *auth.JWTVerifier
	engine     *mcp.Engine
	httpServer *http.Server
	logger     *slog.Logger
}

// New creates a Gateway from configuration. The store is opened and the
// full route table is registered; nothing listens until Run.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	s, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}

	verifier := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))

	flow := oauth.NewFlow(s, oauth.Config{
		ClientID:       cfg.Slack.ClientID,
		ClientSecret:   cfg.Slack.ClientSecret,
		RedirectURI:    cfg.Slack.RedirectURI,
		Scopes:         cfg.Slack.Scopes,
		APIBaseURL:     cfg.Slack.APIBaseURL,
		RequestTimeout: cfg.Slack.RequestTimeout,
	})

	engine, err := mcp.NewEngine(mcp.EngineConfig{
		Store:      s,
		Links:      flow,
		Logger:     logger.With("component", "mcp"),
		ServerName: "slack-mcp-gateway",
		Version:    Version,
	})
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("creating protocol engine: %w", err)
	}

	gw := &Gateway{
		config:   cfg,
		store:    s,
		flow:     flow,
		verifier: verifier,
		engine:   engine,
		logger:   logger.With("component", "gateway"),
	}

	mux := http.NewServeMux()
	gw.registerRoutes(mux, logger)

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return gw, nil
}

// registerRoutes wires the account, link, and MCP endpoints onto the mux.
func (g *Gateway) registerRoutes(mux *http.ServeMux, logger *slog.Logger) {
	// Landing and health, no auth
	mux.HandleFunc("/", g.handleIndex)
	mux.HandleFunc("/health", g.handleHealth)

	// Account endpoints
	mux.HandleFunc("/auth/signup", g.handleSignup)
	mux.HandleFunc("/auth/login", g.handleLogin)

	// Workspace link flow
	mux.HandleFunc("/connect/start", g.handleConnectStart)
	mux.HandleFunc("/oauth/slack/start", g.handleOAuthStart)
	mux.HandleFunc("/oauth/slack/callback", g.handleOAuthCallback)

	// MCP transports
	mcpLogger := logger.With("component", "mcp")
	sse := mcp.NewSSEServer(g.engine, g.verifier, "/mcp/messages", mcpLogger)
	mux.Handle("/mcp/ws", mcp.NewWSHandler(g.engine, g.verifier, mcpLogger))
	mux.HandleFunc("/mcp/sse", sse.HandleStream)
	mux.HandleFunc("/mcp/messages", sse.HandleMessage)
	mux.Handle("/mcp/http", mcp.NewHTTPHandler(g.engine, g.verifier, mcpLogger))
}

// Run starts the HTTP server and blocks until the context is canceled.
// Returns nil on graceful shutdown, or an error if the server fails.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listening on HTTP address: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	var serverErr error
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		g.logger.Error("server error", "error", serverErr)
	}

	shutdownErr := g.gracefulShutdown()
	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// Uses context.Background() intentionally since the original context is
// already canceled.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
}

// Shutdown stops the HTTP server and releases resources.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	if err := g.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("HTTP shutdown: %w", err))
	}
	if err := g.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("store close: %w", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}
