// Package mcp implements the Model Context Protocol surface of the gateway.
//
// # Overview
//
// MCP (Model Context Protocol) is a standard for AI tool integration. This
// package exposes the gateway's Slack workspace tools to external AI clients
// over JSON-RPC 2.0. The protocol logic lives in one transport-agnostic
// Engine; three transports feed it:
//
//   - WebSocket at /mcp/ws - bidirectional JSON-RPC dialogue
//   - SSE pair: GET /mcp/sse opens a stream, POST /mcp/messages feeds it
//   - Single-shot: POST /mcp/http, one request per call
//
// # Authentication
//
// Every transport resolves the caller to a gateway user before any protocol
// traffic, from a bearer header or a token query parameter:
//
//	Authorization: Bearer <jwt>
//	?token=<jwt>
//
// # Tools
//
// The tool catalog is static: list_channels, send_message, fetch_history,
// and get_user_info. A tools/call from a user with no linked workspace gets
// a successful result carrying a fresh link URL, not an error; Slack-side
// failures come back as isError tool results so the session stays usable.
package mcp
