// ABOUTME: Store interface and data types for slack-mcp-gateway persistence
// ABOUTME: Defines User, LinkState, Credential structs and the Store interface

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicateEmail is returned when creating a user with an email that is taken
var ErrDuplicateEmail = errors.New("email already registered")

// ErrDuplicateState is returned when inserting a link state token that already exists
var ErrDuplicateState = errors.New("state token already exists")

// ProviderSlack is the only OAuth provider this gateway links today.
const ProviderSlack = "slack"

// Credential status values
const (
	CredentialStatusActive  = "active"
	CredentialStatusRevoked = "revoked"
)

// User represents an authenticated end user of the gateway
type User struct {
	ID           int64
	Email        string
	Name         string
	PasswordHash string
	CreatedAt    time.Time
}

// LinkState is a single-use, time-boxed CSRF token for one OAuth round trip.
// Rows are never deleted; consumed states are kept for audit.
type LinkState struct {
	ID        int64
	Provider  string
	State     string
	UserID    int64
	Used      bool
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Usable reports whether the state can still complete a link at the given time.
func (s *LinkState) Usable(now time.Time) bool {
	return !s.Used && !now.After(s.ExpiresAt)
}

// Credential is a stored workspace access token for one (user, team) pair.
type Credential struct {
	ID           int64
	UserID       int64
	TeamID       string
	TeamName     string
	AccessToken  string
	Scope        string
	AuthedUserID string
	Status       string
	InstalledAt  time.Time
	UpdatedAt    time.Time
}

// Store defines the interface for gateway persistence
type Store interface {
	// Users
	CreateUser(ctx context.Context, user *User) error
	GetUser(ctx context.Context, id int64) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)

	// Link states
	CreateLinkState(ctx context.Context, state *LinkState) error
	GetLinkState(ctx context.Context, token string) (*LinkState, error)
	// ConsumeLinkState marks a state used without touching credentials.
	// Used on the provider-denial path so a denied state cannot be replayed.
	ConsumeLinkState(ctx context.Context, token string) error
	// CompleteLink marks the state used and upserts the credential in one
	// transaction; either both persist or neither does.
	CompleteLink(ctx context.Context, token string, cred *Credential) (*Credential, error)

	// Credentials
	UpsertCredential(ctx context.Context, cred *Credential) (*Credential, error)
	GetActiveCredential(ctx context.Context, userID int64) (*Credential, error)

	Close() error
}
