// ABOUTME: Slack Web API client used by the tool handlers
// ABOUTME: Form-encoded requests with bearer auth, normalized responses and errors

package slack

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// DefaultBaseURL is the Slack Web API root.
const DefaultBaseURL = "https://slack.com/api"

// DefaultTimeout bounds every call to the Slack API.
const DefaultTimeout = 20 * time.Second

// DefaultChannelLimit is used when a caller doesn't ask for a specific page size.
const DefaultChannelLimit = 20

// MaxHistoryLimit is Slack's hard ceiling for conversations.history page sizes.
// Caller-requested limits above this are clamped, never forwarded.
const MaxHistoryLimit = 100

// ErrMissingArguments is returned when a required tool argument is absent.
var ErrMissingArguments = errors.New("missing required arguments")

// ProviderError is a provider-level failure: Slack answered, possibly with
// HTTP 200, but the response envelope carried ok=false.
type ProviderError struct {
	Code string
}

func (e *ProviderError) Error() string {
	return "slack api error: " + e.Code
}

// TransportError is a transport-level failure: timeout, connection refused,
// a non-2xx status, or an unreadable body.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return "slack transport error during " + e.Op + ": " + e.Err.Error()
}

func (e *TransportError) Unwrap() error { return e.Err }

// Client is a thin wrapper around the Slack Web API using a bot access token.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
	timeout    time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the API root (used by tests and self-hosted proxies).
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimSuffix(u, "/") }
}

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout sets the per-call timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// NewClient creates a Slack client for the given bot access token.
func NewClient(token string, opts ...Option) *Client {
	c := &Client{
		httpClient: http.DefaultClient,
		baseURL:    DefaultBaseURL,
		token:      token,
		timeout:    DefaultTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// envelope is the common ok/error wrapper on every Slack API response.
type envelope struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

// call issues one request to the Slack API and decodes the response into out.
// POST requests are form-encoded; GET requests carry params in the query.
// A response with ok=false becomes a *ProviderError even on HTTP 200.
func (c *Client) call(ctx context.Context, method, endpoint string, params url.Values, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	reqURL := c.baseURL + "/" + endpoint
	var body io.Reader
	if method == http.MethodPost {
		body = strings.NewReader(params.Encode())
	} else if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, body)
	if err != nil {
		return &TransportError{Op: endpoint, Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if method == http.MethodPost {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &TransportError{Op: endpoint, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &TransportError{Op: endpoint, Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}

	return decodeEnvelope(resp.Body, endpoint, out)
}

// decodeEnvelope reads a Slack response body, checks the ok flag, and
// unmarshals the full payload into out when provided.
func decodeEnvelope(r io.Reader, endpoint string, out any) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return &TransportError{Op: endpoint, Err: err}
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return &TransportError{Op: endpoint, Err: fmt.Errorf("decoding response: %w", err)}
	}

	if !env.OK {
		code := env.Error
		if code == "" {
			code = "unknown_error"
		}
		return &ProviderError{Code: code}
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return &TransportError{Op: endpoint, Err: fmt.Errorf("decoding response: %w", err)}
		}
	}
	return nil
}

// Channel is a normalized conversation entry.
type Channel struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	IsPrivate   bool   `json:"is_private"`
	MemberCount int    `json:"member_count"`
}

// ChannelList is the normalized result of a conversations.list call.
type ChannelList struct {
	Channels   []Channel `json:"channels"`
	NextCursor string    `json:"next_cursor,omitempty"`
}

// ListChannelsParams control a ListChannels call.
type ListChannelsParams struct {
	Limit          int
	IncludePrivate bool
	Cursor         string
}

// ListChannels lists conversations via conversations.list.
// Limit defaults to DefaultChannelLimit; IncludePrivate adds private_channel
// to the requested conversation types.
func (c *Client) ListChannels(ctx context.Context, p ListChannelsParams) (*ChannelList, error) {
	limit := p.Limit
	if limit <= 0 {
		limit = DefaultChannelLimit
	}

	types := "public_channel"
	if p.IncludePrivate {
		types += ",private_channel"
	}

	params := url.Values{}
	params.Set("limit", strconv.Itoa(limit))
	params.Set("types", types)
	if p.Cursor != "" {
		params.Set("cursor", p.Cursor)
	}

	var raw struct {
		Channels []struct {
			ID         string `json:"id"`
			Name       string `json:"name"`
			IsPrivate  bool   `json:"is_private"`
			NumMembers int    `json:"num_members"`
		} `json:"channels"`
		ResponseMetadata struct {
			NextCursor string `json:"next_cursor"`
		} `json:"response_metadata"`
	}

	if err := c.call(ctx, http.MethodGet, "conversations.list", params, &raw); err != nil {
		return nil, err
	}

	result := &ChannelList{
		Channels:   make([]Channel, len(raw.Channels)),
		NextCursor: raw.ResponseMetadata.NextCursor,
	}
	for i, ch := range raw.Channels {
		result.Channels[i] = Channel{
			ID:          ch.ID,
			Name:        ch.Name,
			IsPrivate:   ch.IsPrivate,
			MemberCount: ch.NumMembers,
		}
	}
	return result, nil
}

// SendResult is the normalized result of a chat.postMessage call.
type SendResult struct {
	OK        bool   `json:"ok"`
	Channel   string `json:"channel"`
	MessageTS string `json:"message_ts"`
	ThreadTS  string `json:"thread_ts,omitempty"`
}

// SendMessageParams control a SendMessage call.
type SendMessageParams struct {
	ChannelID      string
	Text           string
	ThreadTS       string
	ReplyBroadcast bool
}

// SendMessage posts a message via chat.postMessage.
// ChannelID and Text are required. The normalized thread_ts is read from the
// nested message object when present, falling back to the top-level field.
func (c *Client) SendMessage(ctx context.Context, p SendMessageParams) (*SendResult, error) {
	if p.ChannelID == "" || p.Text == "" {
		return nil, fmt.Errorf("%w: channel_id and text", ErrMissingArguments)
	}

	params := url.Values{}
	params.Set("channel", p.ChannelID)
	params.Set("text", p.Text)
	if p.ThreadTS != "" {
		params.Set("thread_ts", p.ThreadTS)
	}
	if p.ReplyBroadcast {
		params.Set("reply_broadcast", "true")
	}

	var raw struct {
		Channel  string `json:"channel"`
		TS       string `json:"ts"`
		ThreadTS string `json:"thread_ts"`
		Message  struct {
			ThreadTS string `json:"thread_ts"`
		} `json:"message"`
	}

	if err := c.call(ctx, http.MethodPost, "chat.postMessage", params, &raw); err != nil {
		return nil, err
	}

	threadTS := raw.Message.ThreadTS
	if threadTS == "" {
		threadTS = raw.ThreadTS
	}

	return &SendResult{
		OK:        true,
		Channel:   raw.Channel,
		MessageTS: raw.TS,
		ThreadTS:  threadTS,
	}, nil
}

// HistoryMessage is a normalized channel history entry.
type HistoryMessage struct {
	User     string `json:"user"`
	Text     string `json:"text"`
	TS       string `json:"ts"`
	ThreadTS string `json:"thread_ts,omitempty"`
}

// HistoryList is the normalized result of a conversations.history call.
type HistoryList struct {
	Messages   []HistoryMessage `json:"messages"`
	HasMore    bool             `json:"has_more"`
	NextCursor string           `json:"next_cursor,omitempty"`
}

// FetchHistoryParams control a FetchHistory call.
type FetchHistoryParams struct {
	ChannelID string
	Limit     int
	Cursor    string
	Oldest    string
	Latest    string
}

// FetchHistory fetches channel history via conversations.history.
// ChannelID is required. Limit is clamped to MaxHistoryLimit before the
// provider call regardless of what the caller asked for.
func (c *Client) FetchHistory(ctx context.Context, p FetchHistoryParams) (*HistoryList, error) {
	if p.ChannelID == "" {
		return nil, fmt.Errorf("%w: channel_id", ErrMissingArguments)
	}

	limit := p.Limit
	if limit <= 0 {
		limit = 10
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}

	params := url.Values{}
	params.Set("channel", p.ChannelID)
	params.Set("limit", strconv.Itoa(limit))
	if p.Cursor != "" {
		params.Set("cursor", p.Cursor)
	}
	if p.Oldest != "" {
		params.Set("oldest", p.Oldest)
	}
	if p.Latest != "" {
		params.Set("latest", p.Latest)
	}

	var raw struct {
		Messages []struct {
			User     string `json:"user"`
			Text     string `json:"text"`
			TS       string `json:"ts"`
			ThreadTS string `json:"thread_ts"`
		} `json:"messages"`
		HasMore          bool `json:"has_more"`
		ResponseMetadata struct {
			NextCursor string `json:"next_cursor"`
		} `json:"response_metadata"`
	}

	if err := c.call(ctx, http.MethodGet, "conversations.history", params, &raw); err != nil {
		return nil, err
	}

	result := &HistoryList{
		Messages:   make([]HistoryMessage, len(raw.Messages)),
		HasMore:    raw.HasMore,
		NextCursor: raw.ResponseMetadata.NextCursor,
	}
	for i, m := range raw.Messages {
		result.Messages[i] = HistoryMessage{
			User:     m.User,
			Text:     m.Text,
			TS:       m.TS,
			ThreadTS: m.ThreadTS,
		}
	}
	return result, nil
}

// UserInfo is a normalized users.info result.
type UserInfo struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	RealName string `json:"real_name,omitempty"`
	IsBot    bool   `json:"is_bot"`
}

// GetUserInfo fetches a workspace user's profile via users.info.
func (c *Client) GetUserInfo(ctx context.Context, userID string) (*UserInfo, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user_id", ErrMissingArguments)
	}

	params := url.Values{}
	params.Set("user", userID)

	var raw struct {
		User struct {
			ID       string `json:"id"`
			Name     string `json:"name"`
			RealName string `json:"real_name"`
			IsBot    bool   `json:"is_bot"`
		} `json:"user"`
	}

	if err := c.call(ctx, http.MethodGet, "users.info", params, &raw); err != nil {
		return nil, err
	}

	return &UserInfo{
		ID:       raw.User.ID,
		Name:     raw.User.Name,
		RealName: raw.User.RealName,
		IsBot:    raw.User.IsBot,
	}, nil
}
