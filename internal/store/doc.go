// ABOUTME: Package documentation for the store package
// ABOUTME: Describes persistence layout and ownership rules

// Package store provides persistence for slack-mcp-gateway.
//
// # Overview
//
// Three tables back the gateway:
//
//   - users: authenticated end users (email + bcrypt password hash)
//   - oauth_states: single-use CSRF states for the Slack OAuth round trip
//   - slack_links: one workspace credential per (user, team) pair
//
// The Store interface is implemented by SQLiteStore using modernc.org/sqlite.
// All operations use short-lived per-call queries; nothing holds a
// transaction across a network call.
//
// # Link state lifecycle
//
// oauth_states rows are created by the OAuth start step and flipped to
// used=1 exactly once, either by CompleteLink (success path, same
// transaction as the credential upsert) or by ConsumeLinkState (provider
// denial path). Rows are never deleted; they stay for audit.
//
// # Credential ownership
//
// slack_links rows are owned by this package. CompleteLink/UpsertCredential
// are the only writers; readers get the most recent active row via
// GetActiveCredential. Revocation is only ever an external status flip.
package store
