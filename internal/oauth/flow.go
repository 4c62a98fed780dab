// ABOUTME: Slack workspace link flow built on single-use CSRF state tokens
// ABOUTME: Start mints a state and authorize URL, Complete consumes the callback

package oauth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/relayhq/slack-mcp-gateway/internal/slack"
	"github.com/relayhq/slack-mcp-gateway/internal/store"
)

// DefaultAuthorizeURL is Slack's OAuth v2 consent page.
const DefaultAuthorizeURL = "https://slack.com/oauth/v2/authorize"

// DefaultStateTTL bounds how long a minted state token can complete a link.
const DefaultStateTTL = 10 * time.Minute

// stateByteLen is the entropy of a state token before encoding. 32 bytes
// keeps us well above the 128-bit floor for CSRF tokens.
const stateByteLen = 32

// Callback validation errors, in the order the checks run.
var (
	ErrInvalidState = errors.New("unknown state token")
	ErrStateUsed    = errors.New("state token already used")
	ErrStateExpired = errors.New("state token expired")
	// ErrProviderDenied means the user rejected the consent screen. The
	// state is consumed before this is returned so the URL in the user's
	// browser history cannot be replayed with a forged code.
	ErrProviderDenied = errors.New("authorization denied by user")
	ErrMissingCode    = errors.New("callback carried no authorization code")
	// ErrIncompleteResponse means the exchange succeeded but the provider
	// response was missing the token or team identity we have to store.
	ErrIncompleteResponse = errors.New("incomplete token response from provider")
)

// ExchangeError wraps a failed code exchange. The state token is left
// unused so the user can retry the same link attempt.
type ExchangeError struct {
	Reason string
	Err    error
}

func (e *ExchangeError) Error() string {
	return "code exchange failed: " + e.Reason
}

func (e *ExchangeError) Unwrap() error { return e.Err }

// Config identifies the Slack app and tunes the flow.
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
	Scopes       []string

	// APIBaseURL overrides the token endpoint root (tests, proxies).
	APIBaseURL     string
	RequestTimeout time.Duration
	StateTTL       time.Duration
	AuthorizeURL   string
}

// Flow runs the per-user workspace link handshake against one Store.
type Flow struct {
	store        store.Store
	cfg          Config
	authorizeURL string
	stateTTL     time.Duration
	now          func() time.Time
}

// NewFlow creates a Flow. Zero-valued TTL and authorize URL fall back to
// the package defaults.
func NewFlow(st store.Store, cfg Config) *Flow {
	f := &Flow{
		store:        st,
		cfg:          cfg,
		authorizeURL: cfg.AuthorizeURL,
		stateTTL:     cfg.StateTTL,
		now:          time.Now,
	}
	if f.authorizeURL == "" {
		f.authorizeURL = DefaultAuthorizeURL
	}
	if f.stateTTL <= 0 {
		f.stateTTL = DefaultStateTTL
	}
	return f
}

// Start mints a fresh state token for the user and returns the Slack
// authorize URL to redirect them to. Every call produces a new token; old
// unconsumed tokens stay valid until they expire.
func (f *Flow) Start(ctx context.Context, userID int64) (string, error) {
	token, err := newStateToken()
	if err != nil {
		return "", fmt.Errorf("generating state token: %w", err)
	}

	now := f.now().UTC()
	st := &store.LinkState{
		Provider:  store.ProviderSlack,
		State:     token,
		UserID:    userID,
		CreatedAt: now,
		ExpiresAt: now.Add(f.stateTTL),
	}
	if err := f.store.CreateLinkState(ctx, st); err != nil {
		return "", fmt.Errorf("saving state token: %w", err)
	}

	q := url.Values{}
	q.Set("client_id", f.cfg.ClientID)
	q.Set("scope", strings.Join(f.cfg.Scopes, ","))
	q.Set("redirect_uri", f.cfg.RedirectURI)
	q.Set("state", token)
	return f.authorizeURL + "?" + q.Encode(), nil
}

// Complete handles the provider callback. state is always validated first,
// regardless of whether the provider reported an error: an attacker-supplied
// state must fail before we trust anything else on the URL.
//
// Outcomes and their effect on the state token:
//   - unknown, already-used, or expired state: rejected, nothing changes
//   - provider denial (errParam set): state is consumed, ErrProviderDenied
//   - missing code or failed exchange: state left unused so a retry can
//     reuse the same link attempt
//   - success: state consumed and credential upserted atomically
func (f *Flow) Complete(ctx context.Context, state, code, errParam string) (*store.Credential, error) {
	ls, err := f.store.GetLinkState(ctx, state)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrInvalidState
	}
	if err != nil {
		return nil, fmt.Errorf("loading state token: %w", err)
	}
	if ls.Used {
		return nil, ErrStateUsed
	}
	if f.now().After(ls.ExpiresAt) {
		return nil, ErrStateExpired
	}

	if errParam != "" {
		if err := f.store.ConsumeLinkState(ctx, state); err != nil {
			return nil, fmt.Errorf("consuming denied state: %w", err)
		}
		return nil, fmt.Errorf("%w: %s", ErrProviderDenied, errParam)
	}

	if code == "" {
		return nil, ErrMissingCode
	}

	token, err := slack.ExchangeCode(ctx, slack.ExchangeConfig{
		BaseURL:      f.cfg.APIBaseURL,
		ClientID:     f.cfg.ClientID,
		ClientSecret: f.cfg.ClientSecret,
		RedirectURI:  f.cfg.RedirectURI,
		Timeout:      f.cfg.RequestTimeout,
	}, code)
	if err != nil {
		reason := "transport failure"
		var provErr *slack.ProviderError
		if errors.As(err, &provErr) {
			reason = provErr.Code
		}
		return nil, &ExchangeError{Reason: reason, Err: err}
	}

	if token.AccessToken == "" || token.TeamID == "" {
		return nil, ErrIncompleteResponse
	}

	cred := &store.Credential{
		UserID:       ls.UserID,
		TeamID:       token.TeamID,
		TeamName:     token.TeamName,
		AccessToken:  token.AccessToken,
		Scope:        token.Scope,
		AuthedUserID: token.AuthedUserID,
	}

	saved, err := f.store.CompleteLink(ctx, state, cred)
	if errors.Is(err, store.ErrNotFound) {
		// Another callback with the same state won the race.
		return nil, ErrStateUsed
	}
	if err != nil {
		return nil, fmt.Errorf("completing link: %w", err)
	}
	return saved, nil
}

func newStateToken() (string, error) {
	buf := make([]byte, stateByteLen)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
