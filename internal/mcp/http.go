// ABOUTME: Single-shot HTTP transport: one JSON-RPC request per POST.
// ABOUTME: Also holds the bearer/query token auth shared by all transports.

package mcp

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/relayhq/slack-mcp-gateway/internal/auth"
)

var errNoCredentials = errors.New("no credentials provided")

// authenticate resolves the caller's user ID from a request. The bearer
// header wins; a session_token query parameter is accepted for clients that
// cannot set headers (EventSource, some websocket libraries), with token as
// a shorter alias.
func authenticate(r *http.Request, verifier auth.TokenVerifier) (int64, error) {
	token := ""
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		token = strings.TrimPrefix(h, "Bearer ")
	}
	if token == "" {
		token = r.URL.Query().Get("session_token")
	}
	if token == "" {
		token = r.URL.Query().Get("token")
	}
	if token == "" {
		return 0, errNoCredentials
	}
	return verifier.Verify(token)
}

// HTTPHandler serves the single-shot transport: POST one JSON-RPC request,
// get one JSON-RPC response. Stateless; no session survives the request.
type HTTPHandler struct {
	engine   *Engine
	verifier auth.TokenVerifier
	logger   *slog.Logger
}

// NewHTTPHandler creates the single-shot transport handler.
func NewHTTPHandler(engine *Engine, verifier auth.TokenVerifier, logger *slog.Logger) *HTTPHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPHandler{engine: engine, verifier: verifier, logger: logger}
}

func (h *HTTPHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	userID, err := authenticate(r, h.verifier)
	if err != nil {
		writeResponse(w, h.logger, http.StatusUnauthorized,
			NewError(nil, CodeAuthError, "invalid or missing access token", nil))
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, MaxRequestBodySize+1))
	if err != nil {
		writeResponse(w, h.logger, http.StatusOK,
			NewError(nil, CodeParseError, "failed to read request body", nil))
		return
	}
	if int64(len(body)) > MaxRequestBodySize {
		writeResponse(w, h.logger, http.StatusOK,
			NewError(nil, CodeInvalidRequest, "request body too large", nil))
		return
	}

	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		writeResponse(w, h.logger, http.StatusOK,
			NewError(nil, CodeParseError, "invalid JSON", nil))
		return
	}

	resp := h.engine.Handle(r.Context(), userID, &req)
	if resp == nil {
		w.WriteHeader(http.StatusAccepted)
		return
	}
	writeResponse(w, h.logger, http.StatusOK, resp)
}

func writeResponse(w http.ResponseWriter, logger *slog.Logger, status int, resp *Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		logger.Warn("failed to encode response", "error", err)
	}
}
