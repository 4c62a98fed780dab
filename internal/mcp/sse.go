// ABOUTME: SSE transport pair: GET opens an event stream, POST feeds requests.
// ABOUTME: Responses flow back over the stream keyed by session id.

package mcp

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"github.com/google/uuid"

	"github.com/relayhq/slack-mcp-gateway/internal/auth"
)

// sseSession is one open event stream. Responses for the session are queued
// on out and written by the goroutine holding the stream.
type sseSession struct {
	id     string
	userID int64
	out    chan *Response
	done   chan struct{}
}

// SSEServer serves the two-endpoint SSE transport. Sessions live only as
// long as their stream; a dropped stream invalidates the session id.
type SSEServer struct {
	engine      *Engine
	verifier    auth.TokenVerifier
	logger      *slog.Logger
	messagePath string

	mu       sync.Mutex
	sessions map[string]*sseSession
}

// NewSSEServer creates the SSE transport. messagePath is the URL the
// endpoint event points clients at for their POSTs.
func NewSSEServer(engine *Engine, verifier auth.TokenVerifier, messagePath string, logger *slog.Logger) *SSEServer {
	if logger == nil {
		logger = slog.Default()
	}
	if messagePath == "" {
		messagePath = "/mcp/messages"
	}
	return &SSEServer{
		engine:      engine,
		verifier:    verifier,
		logger:      logger,
		messagePath: messagePath,
		sessions:    make(map[string]*sseSession),
	}
}

func (s *SSEServer) addSession(userID int64) *sseSession {
	sess := &sseSession{
		id:     uuid.New().String(),
		userID: userID,
		out:    make(chan *Response, 16),
		done:   make(chan struct{}),
	}
	s.mu.Lock()
	s.sessions[sess.id] = sess
	s.mu.Unlock()
	return sess
}

func (s *SSEServer) removeSession(id string) {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	if ok {
		delete(s.sessions, id)
	}
	s.mu.Unlock()
	if ok {
		close(sess.done)
	}
}

func (s *SSEServer) getSession(id string) (*sseSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	return sess, ok
}

// HandleStream serves GET /mcp/sse. It registers a session, tells the
// client where to POST via the endpoint event, then streams responses as
// message events until the client goes away.
func (s *SSEServer) HandleStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	userID, err := authenticate(r, s.verifier)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	sess := s.addSession(userID)
	defer s.removeSession(sess.id)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	s.logger.Info("sse session opened", "session_id", sess.id, "user_id", userID)

	fmt.Fprintf(w, "event: endpoint\ndata: %s?session_id=%s\n\n", s.messagePath, sess.id)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			s.logger.Info("sse session closed", "session_id", sess.id)
			return
		case resp := <-sess.out:
			data, err := json.Marshal(resp)
			if err != nil {
				s.logger.Warn("failed to encode sse response", "error", err)
				continue
			}
			fmt.Fprintf(w, "event: message\ndata: %s\n\n", data)
			flusher.Flush()
		}
	}
}

// HandleMessage serves POST /mcp/messages?session_id=... Requests are
// executed inline and the response is queued on the session's stream; the
// POST itself only acknowledges receipt.
func (s *SSEServer) HandleMessage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		http.Error(w, "Bad Request: missing session_id", http.StatusBadRequest)
		return
	}
	sess, ok := s.getSession(sessionID)
	if !ok {
		http.Error(w, "Not Found: unknown session", http.StatusNotFound)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, MaxRequestBodySize+1))
	if err != nil || int64(len(body)) > MaxRequestBodySize {
		s.push(sess, NewError(nil, CodeInvalidRequest, "unreadable or oversized body", nil))
		w.WriteHeader(http.StatusAccepted)
		return
	}

	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		s.push(sess, NewError(nil, CodeParseError, "invalid JSON", nil))
		w.WriteHeader(http.StatusAccepted)
		return
	}

	if resp := s.engine.Handle(r.Context(), sess.userID, &req); resp != nil {
		s.push(sess, resp)
	}
	w.WriteHeader(http.StatusAccepted)
}

// push queues a response for the stream, dropping it if the session closed
// underneath us.
func (s *SSEServer) push(sess *sseSession, resp *Response) {
	select {
	case sess.out <- resp:
	case <-sess.done:
		s.logger.Debug("dropping response for closed session", "session_id", sess.id)
	}
}
