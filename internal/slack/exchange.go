// ABOUTME: OAuth v2 code exchange against Slack's token endpoint
// ABOUTME: Shares the form-encoded envelope handling with the API client

package slack

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// OAuthToken carries the fields the gateway keeps from a successful
// oauth.v2.access exchange.
type OAuthToken struct {
	AccessToken  string
	Scope        string
	TeamID       string
	TeamName     string
	AuthedUserID string
}

// ExchangeConfig identifies the Slack app performing the exchange.
type ExchangeConfig struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	RedirectURI  string
	Timeout      time.Duration
	HTTPClient   *http.Client
}

// ExchangeCode trades an authorization code for an access token via
// oauth.v2.access. Provider rejections (ok=false) come back as a
// *ProviderError carrying Slack's error code; network failures as a
// *TransportError. Missing-field validation is left to the caller, which
// knows what it needs from the response.
func ExchangeCode(ctx context.Context, cfg ExchangeConfig, code string) (*OAuthToken, error) {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	params := url.Values{}
	params.Set("client_id", cfg.ClientID)
	params.Set("client_secret", cfg.ClientSecret)
	params.Set("code", code)
	params.Set("redirect_uri", cfg.RedirectURI)

	endpoint := "oauth.v2.access"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimSuffix(baseURL, "/")+"/"+endpoint, strings.NewReader(params.Encode()))
	if err != nil {
		return nil, &TransportError{Op: endpoint, Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, &TransportError{Op: endpoint, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &TransportError{Op: endpoint, Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}

	var raw struct {
		AccessToken string `json:"access_token"`
		Scope       string `json:"scope"`
		Team        struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"team"`
		AuthedUser struct {
			ID string `json:"id"`
		} `json:"authed_user"`
	}

	if err := decodeEnvelope(resp.Body, endpoint, &raw); err != nil {
		return nil, err
	}

	return &OAuthToken{
		AccessToken:  raw.AccessToken,
		Scope:        raw.Scope,
		TeamID:       raw.Team.ID,
		TeamName:     raw.Team.Name,
		AuthedUserID: raw.AuthedUser.ID,
	}, nil
}
