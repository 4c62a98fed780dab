// ABOUTME: Tests for the WebSocket transport with a real dialed connection.
// ABOUTME: Welcome frame, request dialogue, auth close code, parse recovery.

package mcp

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

func dialWS(t *testing.T, verifier *mockVerifier, token string) *websocket.Conn {
	t.Helper()
	engine := newTestEngine(t, linkedStore(), &fakeClient{})
	handler := NewWSHandler(engine, verifier, nil)
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/mcp/ws"
	if token != "" {
		wsURL += "?token=" + token
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dialing: %v", err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func TestWS_WelcomeFrameFirst(t *testing.T) {
	conn := dialWS(t, &mockVerifier{userID: 9}, "good-token")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var welcome welcomeFrame
	if err := wsjson.Read(ctx, conn, &welcome); err != nil {
		t.Fatalf("reading welcome: %v", err)
	}
	if welcome.Type != "welcome" {
		t.Errorf("type = %q", welcome.Type)
	}
	if welcome.UserID != 9 {
		t.Errorf("user_id = %d", welcome.UserID)
	}
	if welcome.ProtocolVersion != ProtocolVersion {
		t.Errorf("protocol_version = %q", welcome.ProtocolVersion)
	}
}

func TestWS_RequestDialogue(t *testing.T) {
	conn := dialWS(t, &mockVerifier{userID: 1}, "good-token")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var welcome welcomeFrame
	if err := wsjson.Read(ctx, conn, &welcome); err != nil {
		t.Fatalf("reading welcome: %v", err)
	}

	err := wsjson.Write(ctx, conn, map[string]any{
		"jsonrpc": "2.0", "id": 1, "method": "initialize",
	})
	if err != nil {
		t.Fatalf("writing request: %v", err)
	}

	var resp Response
	if err := wsjson.Read(ctx, conn, &resp); err != nil {
		t.Fatalf("reading response: %v", err)
	}
	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}
	if string(resp.ID) != "1" {
		t.Errorf("id = %s", resp.ID)
	}

	// The connection keeps serving after the first exchange.
	err = wsjson.Write(ctx, conn, map[string]any{
		"jsonrpc": "2.0", "id": 2, "method": "tools/list",
	})
	if err != nil {
		t.Fatalf("writing second request: %v", err)
	}
	if err := wsjson.Read(ctx, conn, &resp); err != nil {
		t.Fatalf("reading second response: %v", err)
	}
	if string(resp.ID) != "2" {
		t.Errorf("id = %s", resp.ID)
	}
}

func TestWS_BadTokenClosedWithPolicyViolation(t *testing.T) {
	conn := dialWS(t, &mockVerifier{err: errInvalidForTest}, "forged")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var anything json.RawMessage
	err := wsjson.Read(ctx, conn, &anything)
	if err == nil {
		t.Fatal("expected the read to fail with a close")
	}
	if status := websocket.CloseStatus(err); status != websocket.StatusPolicyViolation {
		t.Errorf("close status = %v, want %v", status, websocket.StatusPolicyViolation)
	}
}

func TestWS_ParseErrorKeepsConnectionOpen(t *testing.T) {
	conn := dialWS(t, &mockVerifier{userID: 1}, "good-token")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var welcome welcomeFrame
	if err := wsjson.Read(ctx, conn, &welcome); err != nil {
		t.Fatalf("reading welcome: %v", err)
	}

	if err := conn.Write(ctx, websocket.MessageText, []byte(`{not json`)); err != nil {
		t.Fatalf("writing garbage: %v", err)
	}

	var resp Response
	if err := wsjson.Read(ctx, conn, &resp); err != nil {
		t.Fatalf("reading parse error: %v", err)
	}
	if resp.Error == nil || resp.Error.Code != CodeParseError {
		t.Fatalf("expected parse error, got %+v", resp)
	}

	// Still usable.
	err := wsjson.Write(ctx, conn, map[string]any{
		"jsonrpc": "2.0", "id": 3, "method": "ping",
	})
	if err != nil {
		t.Fatalf("writing after garbage: %v", err)
	}
	if err := wsjson.Read(ctx, conn, &resp); err != nil {
		t.Fatalf("reading after garbage: %v", err)
	}
	if string(resp.ID) != "3" {
		t.Errorf("id = %s", resp.ID)
	}
}
