// ABOUTME: Tests for the Slack Web API client against an httptest provider
// ABOUTME: Covers normalization, limit clamping, and the provider/transport error split

package slack

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
)

// fakeSlack records the last request and serves a canned JSON body.
type fakeSlack struct {
	t          *testing.T
	body       string
	status     int
	lastPath   string
	lastParams url.Values
	lastAuth   string
}

func (f *fakeSlack) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f.lastPath = r.URL.Path
		f.lastAuth = r.Header.Get("Authorization")
		if r.Method == http.MethodPost {
			if err := r.ParseForm(); err != nil {
				f.t.Fatalf("parsing form: %v", err)
			}
			f.lastParams = r.PostForm
		} else {
			f.lastParams = r.URL.Query()
		}
		if f.status != 0 {
			w.WriteHeader(f.status)
		}
		fmt.Fprint(w, f.body)
	}
}

func newTestClient(t *testing.T, f *fakeSlack) *Client {
	t.Helper()
	f.t = t
	srv := httptest.NewServer(f.handler())
	t.Cleanup(srv.Close)
	return NewClient("xoxb-test", WithBaseURL(srv.URL))
}

func TestListChannels_Normalizes(t *testing.T) {
	f := &fakeSlack{body: `{
		"ok": true,
		"channels": [
			{"id": "C1", "name": "general", "is_private": false, "num_members": 12},
			{"id": "C2", "name": "secret", "is_private": true, "num_members": 3}
		],
		"response_metadata": {"next_cursor": "dXNlcjpV"}
	}`}
	client := newTestClient(t, f)

	got, err := client.ListChannels(context.Background(), ListChannelsParams{})
	if err != nil {
		t.Fatalf("ListChannels failed: %v", err)
	}

	if len(got.Channels) != 2 {
		t.Fatalf("got %d channels, want 2", len(got.Channels))
	}
	if got.Channels[0].ID != "C1" || got.Channels[0].MemberCount != 12 {
		t.Errorf("first channel = %+v", got.Channels[0])
	}
	if !got.Channels[1].IsPrivate {
		t.Error("second channel should be private")
	}
	if got.NextCursor != "dXNlcjpV" {
		t.Errorf("NextCursor = %q", got.NextCursor)
	}

	if f.lastPath != "/conversations.list" {
		t.Errorf("path = %q", f.lastPath)
	}
	if f.lastAuth != "Bearer xoxb-test" {
		t.Errorf("auth header = %q", f.lastAuth)
	}
	if f.lastParams.Get("limit") != "20" {
		t.Errorf("default limit = %q, want 20", f.lastParams.Get("limit"))
	}
	if f.lastParams.Get("types") != "public_channel" {
		t.Errorf("types = %q, want public only by default", f.lastParams.Get("types"))
	}
}

func TestListChannels_IncludePrivate(t *testing.T) {
	f := &fakeSlack{body: `{"ok": true, "channels": []}`}
	client := newTestClient(t, f)

	_, err := client.ListChannels(context.Background(), ListChannelsParams{Limit: 50, IncludePrivate: true})
	if err != nil {
		t.Fatalf("ListChannels failed: %v", err)
	}

	if f.lastParams.Get("types") != "public_channel,private_channel" {
		t.Errorf("types = %q", f.lastParams.Get("types"))
	}
	if f.lastParams.Get("limit") != "50" {
		t.Errorf("limit = %q, want 50", f.lastParams.Get("limit"))
	}
}

func TestSendMessage_ThreadTSFallback(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{
			name: "nested message object wins",
			body: `{"ok": true, "channel": "C1", "ts": "111.222", "thread_ts": "999.000", "message": {"thread_ts": "111.000"}}`,
			want: "111.000",
		},
		{
			name: "falls back to top-level field",
			body: `{"ok": true, "channel": "C1", "ts": "111.222", "thread_ts": "999.000", "message": {}}`,
			want: "999.000",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &fakeSlack{body: tt.body}
			client := newTestClient(t, f)

			got, err := client.SendMessage(context.Background(), SendMessageParams{ChannelID: "C1", Text: "hi"})
			if err != nil {
				t.Fatalf("SendMessage failed: %v", err)
			}
			if got.ThreadTS != tt.want {
				t.Errorf("ThreadTS = %q, want %q", got.ThreadTS, tt.want)
			}
			if got.MessageTS != "111.222" {
				t.Errorf("MessageTS = %q", got.MessageTS)
			}
			if !got.OK {
				t.Error("OK should be true")
			}
		})
	}
}

func TestSendMessage_MissingArguments(t *testing.T) {
	client := NewClient("xoxb-test")

	_, err := client.SendMessage(context.Background(), SendMessageParams{Text: "hi"})
	if !errors.Is(err, ErrMissingArguments) {
		t.Errorf("expected ErrMissingArguments without channel_id, got %v", err)
	}

	_, err = client.SendMessage(context.Background(), SendMessageParams{ChannelID: "C1"})
	if !errors.Is(err, ErrMissingArguments) {
		t.Errorf("expected ErrMissingArguments without text, got %v", err)
	}
}

func TestFetchHistory_ClampsLimit(t *testing.T) {
	f := &fakeSlack{body: `{"ok": true, "messages": [], "has_more": false}`}
	client := newTestClient(t, f)

	if _, err := client.FetchHistory(context.Background(), FetchHistoryParams{ChannelID: "C1", Limit: 500}); err != nil {
		t.Fatalf("FetchHistory failed: %v", err)
	}
	if f.lastParams.Get("limit") != "100" {
		t.Errorf("limit = %q, want clamped to 100", f.lastParams.Get("limit"))
	}

	if _, err := client.FetchHistory(context.Background(), FetchHistoryParams{ChannelID: "C1", Limit: 30}); err != nil {
		t.Fatalf("FetchHistory failed: %v", err)
	}
	if f.lastParams.Get("limit") != "30" {
		t.Errorf("limit = %q, requested value below ceiling must pass through", f.lastParams.Get("limit"))
	}
}

func TestFetchHistory_RequiresChannel(t *testing.T) {
	client := NewClient("xoxb-test")

	_, err := client.FetchHistory(context.Background(), FetchHistoryParams{Limit: 10})
	if !errors.Is(err, ErrMissingArguments) {
		t.Errorf("expected ErrMissingArguments, got %v", err)
	}
}

func TestCall_ProviderError(t *testing.T) {
	f := &fakeSlack{body: `{"ok": false, "error": "channel_not_found"}`}
	client := newTestClient(t, f)

	_, err := client.FetchHistory(context.Background(), FetchHistoryParams{ChannelID: "C1"})

	var provErr *ProviderError
	if !errors.As(err, &provErr) {
		t.Fatalf("expected *ProviderError, got %T: %v", err, err)
	}
	if provErr.Code != "channel_not_found" {
		t.Errorf("Code = %q", provErr.Code)
	}
}

func TestCall_TransportErrorOnBadStatus(t *testing.T) {
	f := &fakeSlack{body: `oops`, status: http.StatusBadGateway}
	client := newTestClient(t, f)

	_, err := client.ListChannels(context.Background(), ListChannelsParams{})

	var transErr *TransportError
	if !errors.As(err, &transErr) {
		t.Fatalf("expected *TransportError, got %T: %v", err, err)
	}
}

func TestCall_TransportErrorOnConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close() // closed immediately so the port refuses connections

	client := NewClient("xoxb-test", WithBaseURL(srv.URL))
	_, err := client.ListChannels(context.Background(), ListChannelsParams{})

	var transErr *TransportError
	if !errors.As(err, &transErr) {
		t.Fatalf("expected *TransportError, got %T: %v", err, err)
	}
}

func TestGetUserInfo(t *testing.T) {
	f := &fakeSlack{body: `{"ok": true, "user": {"id": "U1", "name": "jane", "real_name": "Jane Doe", "is_bot": false}}`}
	client := newTestClient(t, f)

	got, err := client.GetUserInfo(context.Background(), "U1")
	if err != nil {
		t.Fatalf("GetUserInfo failed: %v", err)
	}
	if got.Name != "jane" || got.RealName != "Jane Doe" {
		t.Errorf("user = %+v", got)
	}
	if f.lastParams.Get("user") != "U1" {
		t.Errorf("user param = %q", f.lastParams.Get("user"))
	}
}

func TestExchangeCode(t *testing.T) {
	f := &fakeSlack{body: `{
		"ok": true,
		"access_token": "xoxb-new",
		"scope": "chat:write,channels:read",
		"team": {"id": "T1", "name": "Acme"},
		"authed_user": {"id": "U9"}
	}`}
	f.t = t
	srv := httptest.NewServer(f.handler())
	t.Cleanup(srv.Close)

	got, err := ExchangeCode(context.Background(), ExchangeConfig{
		BaseURL:      srv.URL,
		ClientID:     "cid",
		ClientSecret: "csecret",
		RedirectURI:  "https://gw.example.com/oauth/slack/callback",
	}, "auth-code")
	if err != nil {
		t.Fatalf("ExchangeCode failed: %v", err)
	}

	if got.AccessToken != "xoxb-new" || got.TeamID != "T1" || got.TeamName != "Acme" || got.AuthedUserID != "U9" {
		t.Errorf("token = %+v", got)
	}
	if f.lastParams.Get("code") != "auth-code" {
		t.Errorf("code param = %q", f.lastParams.Get("code"))
	}
	if f.lastParams.Get("client_secret") != "csecret" {
		t.Errorf("client_secret param = %q", f.lastParams.Get("client_secret"))
	}
}

func TestExchangeCode_ProviderRejection(t *testing.T) {
	f := &fakeSlack{body: `{"ok": false, "error": "invalid_code"}`}
	f.t = t
	srv := httptest.NewServer(f.handler())
	t.Cleanup(srv.Close)

	_, err := ExchangeCode(context.Background(), ExchangeConfig{BaseURL: srv.URL}, "bad-code")

	var provErr *ProviderError
	if !errors.As(err, &provErr) {
		t.Fatalf("expected *ProviderError, got %T: %v", err, err)
	}
	if provErr.Code != "invalid_code" {
		t.Errorf("Code = %q", provErr.Code)
	}
}
