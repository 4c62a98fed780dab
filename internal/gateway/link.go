// ABOUTME: Browser-facing workspace link endpoints: start redirect and callback
// ABOUTME: Callback outcomes render as goldmark-converted HTML pages

package gateway

import (
	"bytes"
	"errors"
	"fmt"
	"html/template"
	"net/http"

	"github.com/yuin/goldmark"

	"github.com/relayhq/slack-mcp-gateway/internal/oauth"
)

var pageShell = template.Must(template.New("page").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<style>
body { font-family: -apple-system, sans-serif; max-width: 40rem; margin: 4rem auto; padding: 0 1rem; color: #1d1c1d; }
h1 { font-size: 1.5rem; }
code { background: #f4f4f4; padding: 0.1rem 0.3rem; border-radius: 3px; }
</style>
</head>
<body>
{{.Body}}
</body>
</html>
`))

// renderPage converts markdown to HTML and wraps it in the page shell.
func (g *Gateway) renderPage(w http.ResponseWriter, status int, title, markdown string) {
	var body bytes.Buffer
	if err := goldmark.Convert([]byte(markdown), &body); err != nil {
		g.logger.Error("rendering page failed", "error", err)
		http.Error(w, title, status)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := pageShell.Execute(w, struct {
		Title string
		Body  template.HTML
	}{Title: title, Body: template.HTML(body.String())}); err != nil {
		g.logger.Warn("writing page failed", "error", err)
	}
}

// handleOAuthStart redirects the authenticated user to Slack's consent page
// with a fresh state token.
func (g *Gateway) handleOAuthStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
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

	http.Redirect(w, r, linkURL, http.StatusFound)
}

// handleOAuthCallback finishes the link handshake. The provider calls this
// with state plus either a code or an error parameter; every outcome is a
// human-readable page since a browser is on the other end.
func (g *Gateway) handleOAuthCallback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	q := r.URL.Query()
	cred, err := g.flow.Complete(r.Context(), q.Get("state"), q.Get("code"), q.Get("error"))
	if err != nil {
		g.renderCallbackError(w, err)
		return
	}

	team := cred.TeamName
	if team == "" {
		team = cred.TeamID
	}
	g.renderPage(w, http.StatusOK, "Workspace linked",
		fmt.Sprintf("# Workspace linked\n\nYour Slack workspace **%s** is now connected.\n\nYou can close this tab and return to your agent.", team))
}

// renderCallbackError maps link flow failures onto status codes and pages.
func (g *Gateway) renderCallbackError(w http.ResponseWriter, err error) {
	var exchErr *oauth.ExchangeError

	switch {
	case errors.Is(err, oauth.ErrInvalidState):
		g.renderPage(w, http.StatusBadRequest, "Link failed",
			"# Link failed\n\nThis link request was not recognized. Start the connection again from your agent.")
	case errors.Is(err, oauth.ErrStateUsed):
		g.renderPage(w, http.StatusBadRequest, "Link already completed",
			"# Link already completed\n\nThis link request was already used. Start a new connection if you need to relink.")
	case errors.Is(err, oauth.ErrStateExpired):
		g.renderPage(w, http.StatusBadRequest, "Link expired",
			"# Link expired\n\nThis link request expired. Start the connection again from your agent.")
	case errors.Is(err, oauth.ErrMissingCode):
		g.renderPage(w, http.StatusBadRequest, "Link failed",
			"# Link failed\n\nSlack did not return an authorization code. Start the connection again.")
	case errors.Is(err, oauth.ErrProviderDenied):
		g.renderPage(w, http.StatusBadRequest, "Authorization declined",
			"# Authorization declined\n\nYou declined the Slack authorization. No workspace was linked.")
	case errors.As(err, &exchErr):
		g.logger.Warn("code exchange failed", "reason", exchErr.Reason)
		g.renderPage(w, http.StatusBadGateway, "Link failed",
			"# Link failed\n\nSlack rejected the authorization exchange (`"+exchErr.Reason+"`). You can retry the same link from your agent.")
	case errors.Is(err, oauth.ErrIncompleteResponse):
		g.renderPage(w, http.StatusBadGateway, "Link failed",
			"# Link failed\n\nSlack returned an incomplete response. Try again in a moment.")
	default:
		g.logger.Error("link callback failed", "error", err)
		g.renderPage(w, http.StatusInternalServerError, "Link failed",
			"# Link failed\n\nSomething went wrong on our side. Try again in a moment.")
	}
}

// handleIndex serves a short landing page describing the service.
func (g *Gateway) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	g.renderPage(w, http.StatusOK, "slack-mcp-gateway", `# slack-mcp-gateway

A gateway that lets AI agents work inside your Slack workspace over MCP.

- `+"`POST /auth/signup`"+` and `+"`POST /auth/login`"+` manage accounts
- `+"`POST /connect/start`"+` begins linking a Slack workspace
- MCP transports: `+"`/mcp/ws`"+`, `+"`/mcp/sse`"+` + `+"`/mcp/messages`"+`, `+"`/mcp/http`"+`
`)
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
