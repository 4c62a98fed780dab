// ABOUTME: WebSocket transport: one connection carries a JSON-RPC dialogue.
// ABOUTME: Authenticates before the first read and sends a welcome frame.

package mcp

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/relayhq/slack-mcp-gateway/internal/auth"
)

// wsPingInterval keeps idle connections alive through proxies.
const wsPingInterval = 30 * time.Second

// welcomeFrame is sent once, right after a successful upgrade, before any
// JSON-RPC traffic. It is not a JSON-RPC message.
type welcomeFrame struct {
	Type            string `json:"type"`
	Server          string `json:"server"`
	Version         string `json:"version"`
	ProtocolVersion string `json:"protocol_version"`
	UserID          int64  `json:"user_id"`
}

// WSHandler serves the WebSocket transport.
type WSHandler struct {
	engine   *Engine
	verifier auth.TokenVerifier
	logger   *slog.Logger
}

// NewWSHandler creates the WebSocket transport handler.
func NewWSHandler(engine *Engine, verifier auth.TokenVerifier, logger *slog.Logger) *WSHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &WSHandler{engine: engine, verifier: verifier, logger: logger}
}

func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	ctx := r.Context()

	// Authenticate before reading anything from the peer. Browsers cannot
	// set headers on WebSocket upgrades, so the token rides the query string.
	userID, err := authenticate(r, h.verifier)
	if err != nil {
		conn.Close(websocket.StatusPolicyViolation, "invalid or missing access token")
		return
	}

	h.logger.Info("websocket session opened", "user_id", userID)

	welcome := welcomeFrame{
		Type:            "welcome",
		Server:          h.engine.serverName,
		Version:         h.engine.version,
		ProtocolVersion: ProtocolVersion,
		UserID:          userID,
	}
	if err := wsjson.Write(ctx, conn, welcome); err != nil {
		h.logger.Warn("failed to send welcome frame", "error", err)
		return
	}

	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()
	go func() {
		for {
			select {
			case <-ticker.C:
				if err := conn.Ping(ctx); err != nil {
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	// Requests are handled sequentially: one in flight per connection.
	// Frames are read raw so a malformed payload gets a parse error back
	// instead of tearing down the connection.
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != websocket.StatusNormalClosure &&
				websocket.CloseStatus(err) != websocket.StatusGoingAway {
				h.logger.Debug("websocket read ended", "user_id", userID, "error", err)
			}
			return
		}

		var req Request
		if err := json.Unmarshal(data, &req); err != nil {
			if err := wsjson.Write(ctx, conn, NewError(nil, CodeParseError, "invalid JSON", nil)); err != nil {
				return
			}
			continue
		}

		resp := h.engine.Handle(ctx, userID, &req)
		if resp == nil {
			continue
		}
		if err := wsjson.Write(ctx, conn, resp); err != nil {
			h.logger.Warn("failed to write response", "user_id", userID, "error", err)
			return
		}
	}
}
