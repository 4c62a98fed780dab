// ABOUTME: End-to-end tests of the gateway route table over httptest
// ABOUTME: Account endpoints, full link roundtrip, and MCP transport wiring

package gateway

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relayhq/slack-mcp-gateway/internal/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestGateway(t *testing.T, slackBaseURL string) *Gateway {
	t.Helper()
	cfg := &config.Config{}
	cfg.Server.HTTPAddr = "127.0.0.1:0"
	cfg.Database.Path = filepath.Join(t.TempDir(), "gateway.db")
	cfg.Auth.JWTSecret = "test-secret"
	cfg.Auth.SessionTTL = time.Hour
	cfg.Slack.ClientID = "client-id"
	cfg.Slack.ClientSecret = "client-secret"
	cfg.Slack.RedirectURI = "http://127.0.0.1/oauth/slack/callback"
	cfg.Slack.Scopes = []string{"chat:write", "channels:read"}
	cfg.Slack.APIBaseURL = slackBaseURL
	cfg.Slack.RequestTimeout = 5 * time.Second

	gw, err := New(cfg, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { gw.store.Close() })
	return gw
}

func testServer(t *testing.T, slackBaseURL string) (*httptest.Server, *Gateway) {
	t.Helper()
	gw := newTestGateway(t, slackBaseURL)
	srv := httptest.NewServer(gw.httpServer.Handler)
	t.Cleanup(srv.Close)
	return srv, gw
}

// fakeSlackAPI serves oauth.v2.access with a canned successful exchange.
func fakeSlackAPI(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{
			"ok": true,
			"access_token": "xoxb-linked",
			"scope": "chat:write,channels:read",
			"team": {"id": "T1", "name": "Acme"},
			"authed_user": {"id": "U9"}
		}`)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func postBody(t *testing.T, srv *httptest.Server, path, body string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Post(srv.URL+path, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	var decoded map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return resp, decoded
}

// signupUser creates an account and returns its session token.
func signupUser(t *testing.T, srv *httptest.Server, email string) string {
	t.Helper()
	resp, body := postBody(t, srv, "/auth/signup",
		fmt.Sprintf(`{"email": %q, "name": "Tester", "password": "hunter2hunter2"}`, email))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	token, _ := body["token"].(string)
	require.NotEmpty(t, token)
	return token
}

func TestSignupAndLogin(t *testing.T) {
	srv, _ := testServer(t, "")

	resp, body := postBody(t, srv, "/auth/signup",
		`{"email": "a@example.com", "name": "A", "password": "hunter2hunter2"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.NotEmpty(t, body["token"])
	user := body["user"].(map[string]any)
	assert.Equal(t, "a@example.com", user["email"])

	// Duplicate email is rejected.
	resp, body = postBody(t, srv, "/auth/signup",
		`{"email": "a@example.com", "password": "hunter2hunter2"}`)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Contains(t, body["error"], "already registered")

	// Login with the right password.
	resp, body = postBody(t, srv, "/auth/login",
		`{"email": "a@example.com", "password": "hunter2hunter2"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, body["token"])

	// Wrong password.
	resp, _ = postBody(t, srv, "/auth/login",
		`{"email": "a@example.com", "password": "wrong"}`)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// Unknown email gets the same answer as a bad password.
	resp, _ = postBody(t, srv, "/auth/login",
		`{"email": "nobody@example.com", "password": "hunter2hunter2"}`)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestSignup_Validation(t *testing.T) {
	srv, _ := testServer(t, "")

	resp, _ := postBody(t, srv, "/auth/signup", `{"email": "", "password": "hunter2hunter2"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = postBody(t, srv, "/auth/signup", `{"email": "b@example.com", "password": "short"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestConnectStart(t *testing.T) {
	srv, _ := testServer(t, "")
	token := signupUser(t, srv, "c@example.com")

	// No token: rejected.
	resp, _ := postBody(t, srv, "/connect/start", `{}`)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// Authenticated: returns the authorize URL.
	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/connect/start", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	httpResp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer httpResp.Body.Close()
	require.Equal(t, http.StatusOK, httpResp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(httpResp.Body).Decode(&body))
	assert.True(t, strings.HasPrefix(body["url"], "https://slack.com/oauth/v2/authorize?"))
	assert.Contains(t, body["url"], "state=")
}

func TestOAuthStart_Redirects(t *testing.T) {
	srv, _ := testServer(t, "")
	token := signupUser(t, srv, "d@example.com")

	client := &http.Client{CheckRedirect: func(req *http.Request, via []*http.Request) error {
		return http.ErrUseLastResponse
	}}
	resp, err := client.Get(srv.URL + "/oauth/slack/start?token=" + token)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusFound, resp.StatusCode)
	loc := resp.Header.Get("Location")
	assert.True(t, strings.HasPrefix(loc, "https://slack.com/oauth/v2/authorize?"))
}

// linkState walks /connect/start and pulls the state out of the URL.
func linkState(t *testing.T, srv *httptest.Server, token string) string {
	t.Helper()
	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/connect/start", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	u, err := url.Parse(body["url"])
	require.NoError(t, err)
	state := u.Query().Get("state")
	require.NotEmpty(t, state)
	return state
}

func TestOAuthCallback_Roundtrip(t *testing.T) {
	slackSrv := fakeSlackAPI(t)
	srv, _ := testServer(t, slackSrv.URL)
	token := signupUser(t, srv, "e@example.com")
	state := linkState(t, srv, token)

	resp, err := http.Get(srv.URL + "/oauth/slack/callback?state=" + state + "&code=auth-code")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/html")

	// Replaying the callback is rejected.
	resp2, err := http.Get(srv.URL + "/oauth/slack/callback?state=" + state + "&code=auth-code")
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp2.StatusCode)
}

func TestOAuthCallback_Errors(t *testing.T) {
	srv, _ := testServer(t, "")
	token := signupUser(t, srv, "f@example.com")

	// Unknown state.
	resp, err := http.Get(srv.URL + "/oauth/slack/callback?state=never-issued&code=x")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// User declined consent.
	state := linkState(t, srv, token)
	resp, err = http.Get(srv.URL + "/oauth/slack/callback?state=" + state + "&error=access_denied")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// The denied state is burned.
	resp, err = http.Get(srv.URL + "/oauth/slack/callback?state=" + state + "&code=forged")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestMCPTransportWired(t *testing.T) {
	srv, _ := testServer(t, "")
	token := signupUser(t, srv, "g@example.com")

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/mcp/http",
		strings.NewReader(`{"jsonrpc": "2.0", "id": 1, "method": "initialize"}`))
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	var rpc map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&rpc))
	result := rpc["result"].(map[string]any)
	assert.Equal(t, "2024-11-05", result["protocolVersion"])
}

func TestHealthAndIndex(t *testing.T) {
	srv, _ := testServer(t, "")

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp2, err := http.Get(srv.URL + "/")
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusOK, resp2.StatusCode)
	assert.Contains(t, resp2.Header.Get("Content-Type"), "text/html")

	resp3, err := http.Get(srv.URL + "/definitely-not-a-route")
	require.NoError(t, err)
	defer resp3.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp3.StatusCode)
}
