// ABOUTME: Static catalog of the workspace tools this gateway exposes.
// ABOUTME: Tool names, descriptions, and JSON Schemas for tools/list.

package mcp

import "encoding/json"

// Tool names exposed over tools/list and accepted by tools/call.
const (
	ToolListChannels = "list_channels"
	ToolSendMessage  = "send_message"
	ToolFetchHistory = "fetch_history"
	ToolGetUserInfo  = "get_user_info"
)

// toolCatalog is the fixed set of tools, in the order tools/list returns them.
var toolCatalog = []ToolInfo{
	{
		Name:        ToolListChannels,
		Description: "List channels in the linked Slack workspace",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"limit": {
					"type": "integer",
					"description": "Maximum number of channels to return (default 20)"
				},
				"include_private": {
					"type": "boolean",
					"description": "Include private channels the bot is a member of"
				},
				"cursor": {
					"type": "string",
					"description": "Pagination cursor from a previous call"
				}
			}
		}`),
	},
	{
		Name:        ToolSendMessage,
		Description: "Send a message to a channel in the linked Slack workspace",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"channel_id": {
					"type": "string",
					"description": "Channel ID to post to, e.g. C0123456789"
				},
				"text": {
					"type": "string",
					"description": "Message text"
				},
				"thread_ts": {
					"type": "string",
					"description": "Timestamp of a parent message to reply in its thread"
				},
				"reply_broadcast": {
					"type": "boolean",
					"description": "Also post the threaded reply to the channel"
				}
			},
			"required": ["channel_id", "text"]
		}`),
	},
	{
		Name:        ToolFetchHistory,
		Description: "Fetch recent message history from a channel",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"channel_id": {
					"type": "string",
					"description": "Channel ID to read, e.g. C0123456789"
				},
				"limit": {
					"type": "integer",
					"description": "Number of messages to return (default 10, max 100)"
				},
				"cursor": {
					"type": "string",
					"description": "Pagination cursor from a previous call"
				},
				"oldest": {
					"type": "string",
					"description": "Only messages after this timestamp"
				},
				"latest": {
					"type": "string",
					"description": "Only messages before this timestamp"
				}
			},
			"required": ["channel_id"]
		}`),
	},
	{
		Name:        ToolGetUserInfo,
		Description: "Look up a workspace user's profile",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"user_id": {
					"type": "string",
					"description": "Slack user ID, e.g. U0123456789"
				}
			},
			"required": ["user_id"]
		}`),
	},
}
