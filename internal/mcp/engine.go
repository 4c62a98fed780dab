// ABOUTME: Transport-agnostic JSON-RPC protocol engine for the MCP surface.
// ABOUTME: Dispatches initialize, tools/list, and tools/call for one user.

package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/relayhq/slack-mcp-gateway/internal/slack"
	"github.com/relayhq/slack-mcp-gateway/internal/store"
)

// WorkspaceClient is the subset of the Slack client the tool handlers need.
type WorkspaceClient interface {
	ListChannels(ctx context.Context, p slack.ListChannelsParams) (*slack.ChannelList, error)
	SendMessage(ctx context.Context, p slack.SendMessageParams) (*slack.SendResult, error)
	FetchHistory(ctx context.Context, p slack.FetchHistoryParams) (*slack.HistoryList, error)
	GetUserInfo(ctx context.Context, userID string) (*slack.UserInfo, error)
}

// ClientFactory builds a WorkspaceClient for a stored access token.
type ClientFactory func(accessToken string) WorkspaceClient

// LinkStarter mints a fresh workspace link URL for a user. Implemented by
// oauth.Flow; the engine hands the URL to unlinked callers.
type LinkStarter interface {
	Start(ctx context.Context, userID int64) (string, error)
}

// EngineConfig holds the pieces the engine needs.
type EngineConfig struct {
	Store      store.Store
	Links      LinkStarter
	Clients    ClientFactory
	Logger     *slog.Logger
	ServerName string
	Version    string
}

// Engine executes JSON-RPC requests on behalf of an authenticated user.
// It holds no per-connection state; every transport shares one Engine.
type Engine struct {
	store      store.Store
	links      LinkStarter
	clients    ClientFactory
	logger     *slog.Logger
	serverName string
	version    string

	methods map[string]methodHandler
	tools   map[string]toolHandler
}

type methodHandler func(ctx context.Context, userID int64, req *Request) *Response

type toolHandler func(ctx context.Context, client WorkspaceClient, args json.RawMessage) (any, error)

// NewEngine creates an Engine with the standard method and tool tables.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.Store == nil {
		return nil, errors.New("store is required")
	}
	if cfg.Links == nil {
		return nil, errors.New("link starter is required")
	}
	if cfg.Clients == nil {
		cfg.Clients = func(token string) WorkspaceClient {
			return slack.NewClient(token)
		}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	serverName := cfg.ServerName
	if serverName == "" {
		serverName = "slack-mcp-gateway"
	}
	version := cfg.Version
	if version == "" {
		version = "dev"
	}

	e := &Engine{
		store:      cfg.Store,
		links:      cfg.Links,
		clients:    cfg.Clients,
		logger:     logger,
		serverName: serverName,
		version:    version,
	}
	e.methods = map[string]methodHandler{
		"initialize": e.handleInitialize,
		"tools/list": e.handleToolsList,
		"tools/call": e.handleToolsCall,
		"ping":       e.handlePing,
	}
	e.tools = map[string]toolHandler{
		ToolListChannels: toolListChannels,
		ToolSendMessage:  toolSendMessage,
		ToolFetchHistory: toolFetchHistory,
		ToolGetUserInfo:  toolGetUserInfo,
	}
	return e, nil
}

// Handle executes one request for the given user. A nil return means no
// response goes on the wire: notifications are accepted silently.
func (e *Engine) Handle(ctx context.Context, userID int64, req *Request) *Response {
	if req.IsNotification() {
		e.logger.Debug("accepted notification", "method", req.Method, "user_id", userID)
		return nil
	}

	if req.JSONRPC != "2.0" {
		return NewError(req.ID, CodeInvalidRequest, "invalid JSON-RPC version", nil)
	}
	if req.Method == "" {
		return NewError(req.ID, CodeInvalidRequest, "method is required", nil)
	}

	handler, ok := e.methods[req.Method]
	if !ok {
		return NewError(req.ID, CodeMethodNotFound,
			fmt.Sprintf("method not found: %s", req.Method), nil)
	}

	e.logger.Debug("rpc request", "method", req.Method, "user_id", userID)
	return handler(ctx, userID, req)
}

func (e *Engine) handleInitialize(_ context.Context, _ int64, req *Request) *Response {
	result := map[string]any{
		"protocolVersion": ProtocolVersion,
		"capabilities": map[string]any{
			"tools": map[string]any{},
		},
		"serverInfo": map[string]any{
			"name":    e.serverName,
			"version": e.version,
		},
	}
	return NewResult(req.ID, result)
}

func (e *Engine) handlePing(_ context.Context, _ int64, req *Request) *Response {
	return NewResult(req.ID, map[string]any{})
}

func (e *Engine) handleToolsList(_ context.Context, _ int64, req *Request) *Response {
	return NewResult(req.ID, ListToolsResult{Tools: toolCatalog})
}

func (e *Engine) handleToolsCall(ctx context.Context, userID int64, req *Request) *Response {
	var params CallToolParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return NewError(req.ID, CodeInvalidParams, "invalid params", nil)
		}
	}
	if params.Name == "" {
		return NewError(req.ID, CodeInvalidParams, "tool name is required", nil)
	}

	tool, ok := e.tools[params.Name]
	if !ok {
		return NewError(req.ID, CodeInvalidParams,
			fmt.Sprintf("unknown tool: %s", params.Name), nil)
	}

	cred, err := e.store.GetActiveCredential(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return e.notLinkedResponse(ctx, userID, req.ID)
	}
	if err != nil {
		e.logger.Error("credential lookup failed", "user_id", userID, "error", err)
		return NewError(req.ID, CodeServerError, "credential lookup failed", nil)
	}

	client := e.clients(cred.AccessToken)
	out, err := tool(ctx, client, params.Arguments)
	if err != nil {
		return e.toolErrorResponse(req.ID, params.Name, err)
	}

	data, err := json.Marshal(out)
	if err != nil {
		e.logger.Error("encoding tool result failed", "tool", params.Name, "error", err)
		return NewError(req.ID, CodeInternalError, "encoding tool result failed", nil)
	}

	e.logger.Debug("tool call complete", "tool", params.Name, "user_id", userID)
	return NewResult(req.ID, textResult(string(data)))
}

// notLinkedResponse hands an unlinked user a fresh link URL. This is a
// successful tool result, not a protocol error: agents surface the text to
// the human instead of treating the call as failed.
func (e *Engine) notLinkedResponse(ctx context.Context, userID int64, id json.RawMessage) *Response {
	linkURL, err := e.links.Start(ctx, userID)
	if err != nil {
		e.logger.Error("starting link flow failed", "user_id", userID, "error", err)
		return NewError(id, CodeServerError, "could not start workspace link", nil)
	}
	text := "No Slack workspace is linked to your account yet. Open this URL to connect one: " + linkURL
	return NewResult(id, textResult(text))
}

// toolErrorResponse maps tool failures onto the wire. Provider and transport
// failures become isError tool results so the connection stays open; bad
// arguments are a protocol-level invalid params error.
func (e *Engine) toolErrorResponse(id json.RawMessage, toolName string, err error) *Response {
	var provErr *slack.ProviderError
	var transErr *slack.TransportError

	switch {
	case errors.Is(err, slack.ErrMissingArguments):
		return NewError(id, CodeInvalidParams, err.Error(), nil)
	case errors.As(err, &provErr):
		e.logger.Warn("provider rejected tool call", "tool", toolName, "code", provErr.Code)
		return NewResult(id, errorResult("Slack API error: "+provErr.Code))
	case errors.As(err, &transErr):
		e.logger.Warn("transport failure during tool call", "tool", toolName, "error", err)
		return NewResult(id, errorResult("Could not reach Slack: "+transErr.Error()))
	case errors.Is(err, context.DeadlineExceeded):
		return NewResult(id, errorResult("Slack API call timed out"))
	default:
		e.logger.Error("tool call failed", "tool", toolName, "error", err)
		return NewError(id, CodeInternalError, "tool execution failed", nil)
	}
}

// Tool argument decoding and handler functions. Arguments arrive as the raw
// JSON the agent sent; unknown fields are ignored.

func decodeArgs(raw json.RawMessage, out any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	return json.Unmarshal(raw, out)
}

func toolListChannels(ctx context.Context, client WorkspaceClient, raw json.RawMessage) (any, error) {
	var args struct {
		Limit          int    `json:"limit"`
		IncludePrivate bool   `json:"include_private"`
		Cursor         string `json:"cursor"`
	}
	if err := decodeArgs(raw, &args); err != nil {
		return nil, fmt.Errorf("%w: %v", slack.ErrMissingArguments, err)
	}
	return client.ListChannels(ctx, slack.ListChannelsParams{
		Limit:          args.Limit,
		IncludePrivate: args.IncludePrivate,
		Cursor:         args.Cursor,
	})
}

func toolSendMessage(ctx context.Context, client WorkspaceClient, raw json.RawMessage) (any, error) {
	var args struct {
		ChannelID      string `json:"channel_id"`
		Text           string `json:"text"`
		ThreadTS       string `json:"thread_ts"`
		ReplyBroadcast bool   `json:"reply_broadcast"`
	}
	if err := decodeArgs(raw, &args); err != nil {
		return nil, fmt.Errorf("%w: %v", slack.ErrMissingArguments, err)
	}
	return client.SendMessage(ctx, slack.SendMessageParams{
		ChannelID:      args.ChannelID,
		Text:           args.Text,
		ThreadTS:       args.ThreadTS,
		ReplyBroadcast: args.ReplyBroadcast,
	})
}

func toolFetchHistory(ctx context.Context, client WorkspaceClient, raw json.RawMessage) (any, error) {
	var args struct {
		ChannelID string `json:"channel_id"`
		Limit     int    `json:"limit"`
		Cursor    string `json:"cursor"`
		Oldest    string `json:"oldest"`
		Latest    string `json:"latest"`
	}
	if err := decodeArgs(raw, &args); err != nil {
		return nil, fmt.Errorf("%w: %v", slack.ErrMissingArguments, err)
	}
	return client.FetchHistory(ctx, slack.FetchHistoryParams{
		ChannelID: args.ChannelID,
		Limit:     args.Limit,
		Cursor:    args.Cursor,
		Oldest:    args.Oldest,
		Latest:    args.Latest,
	})
}

func toolGetUserInfo(ctx context.Context, client WorkspaceClient, raw json.RawMessage) (any, error) {
	var args struct {
		UserID string `json:"user_id"`
	}
	if err := decodeArgs(raw, &args); err != nil {
		return nil, fmt.Errorf("%w: %v", slack.ErrMissingArguments, err)
	}
	return client.GetUserInfo(ctx, args.UserID)
}
