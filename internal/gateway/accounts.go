// ABOUTME: Account endpoints: signup, login, and starting a workspace link
// ABOUTME: JSON request/response handlers issuing and checking JWTs

package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/relayhq/slack-mcp-gateway/internal/auth"
	"github.com/relayhq/slack-mcp-gateway/internal/store"
)

type signupRequest struct {
	Email    string `json:"email"`
	Name     string `json:"name"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type userPayload struct {
	ID    int64  `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type sessionResponse struct {
	Token string      `json:"token"`
	User  userPayload `json:"user"`
}

// handleSignup creates an account and returns a session token.
func (g *Gateway) handleSignup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req signupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "email and password are required")
		return
	}
	if len(req.Password) < 8 {
		writeError(w, http.StatusBadRequest, "password must be at least 8 characters")
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		g.logger.Error("hashing password failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	user := &store.User{Email: req.Email, Name: req.Name, PasswordHash: hash}
	if err := g.store.CreateUser(r.Context(), user); err != nil {
		if errors.Is(err, store.ErrDuplicateEmail) {
			writeError(w, http.StatusConflict, "email already registered")
			return
		}
		g.logger.Error("creating user failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	g.logger.Info("user signed up", "user_id", user.ID, "email", user.Email)
	g.writeSession(w, http.StatusCreated, user)
}

// handleLogin verifies credentials and returns a session token.
func (g *Gateway) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	req.Email = strings.TrimSpace(strings.ToLower(req.Email))

	user, err := g.store.GetUserByEmail(r.Context(), req.Email)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusUnauthorized, "invalid email or password")
		return
	}
	if err != nil {
		g.logger.Error("looking up user failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !auth.VerifyPassword(req.Password, user.PasswordHash) {
		writeError(w, http.StatusUnauthorized, "invalid email or password")
		return
	}

	g.logger.Info("user logged in", "user_id", user.ID)
	g.writeSession(w, http.StatusOK, user)
}

// handleConnectStart mints a link URL for the authenticated user.
func (g *Gateway) handleConnectStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost && r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	userID, ok := g.userFromRequest(w, r)
	if !ok {
		return
	}

	linkURL, err := g.flow.Start(r.Context(), userID)
	if err != nil {
		g.logger.Error("starting link flow failed", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "could not start workspace link")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"url": linkURL})
}

// writeSession issues a JWT for the user and writes the session payload.
func (g *Gateway) writeSession(w http.ResponseWriter, status int, user *store.User) {
	token, err := g.verifier.Generate(user.ID, g.config.Auth.SessionTTL)
	if err != nil {
		g.logger.Error("generating token failed", "user_id", user.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, status, sessionResponse{
		Token: token,
		User:  userPayload{ID: user.ID, Email: user.Email, Name: user.Name},
	})
}

// userFromRequest authenticates the request, writing a 401 on failure.
// The bearer header wins; a token query parameter is accepted for browser
// navigations that cannot set headers.
func (g *Gateway) userFromRequest(w http.ResponseWriter, r *http.Request) (int64, bool) {
	token := ""
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		token = strings.TrimPrefix(h, "Bearer ")
	}
	if token == "" {
		token = r.URL.Query().Get("token")
	}
	if token == "" {
		writeError(w, http.StatusUnauthorized, "missing access token")
		return 0, false
	}

	userID, err := g.verifier.Verify(token)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid or expired access token")
		return 0, false
	}
	return userID, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
