// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides user/link-state/credential persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS users (
			id            INTEGER PRIMARY KEY AUTOINCREMENT,
			email         TEXT NOT NULL UNIQUE,
			name          TEXT,
			password_hash TEXT NOT NULL,
			created_at    TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS oauth_states (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			provider   TEXT NOT NULL,
			state      TEXT NOT NULL UNIQUE,
			user_id    INTEGER NOT NULL,
			used       INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL,
			expires_at TEXT NOT NULL,

			FOREIGN KEY (user_id) REFERENCES users(id)
		);

		CREATE INDEX IF NOT EXISTS idx_oauth_states_state ON oauth_states(state);

		CREATE TABLE IF NOT EXISTS slack_links (
			id             INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id        INTEGER NOT NULL,
			team_id        TEXT NOT NULL,
			team_name      TEXT,
			access_token   TEXT NOT NULL,
			scope          TEXT,
			authed_user_id TEXT,
			status         TEXT NOT NULL DEFAULT 'active',
			installed_at   TEXT NOT NULL,
			updated_at     TEXT NOT NULL,

			FOREIGN KEY (user_id) REFERENCES users(id),
			CHECK (status IN ('active', 'revoked'))
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_slack_links_user_team
			ON slack_links(user_id, team_id);

		CREATE INDEX IF NOT EXISTS idx_slack_links_user_status
			ON slack_links(user_id, status);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("executing schema: %w", err)
	}

	return nil
}

// Close closes the underlying database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// CreateUser inserts a new user. Returns ErrDuplicateEmail if the email is taken.
func (s *SQLiteStore) CreateUser(ctx context.Context, user *User) error {
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO users (email, name, password_hash, created_at) VALUES (?, ?, ?, ?)`,
		user.Email,
		nullString(user.Name),
		user.PasswordHash,
		user.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicateEmail
		}
		return fmt.Errorf("inserting user: %w", err)
	}

	user.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading user id: %w", err)
	}

	s.logger.Debug("created user", "user_id", user.ID, "email", user.Email)
	return nil
}

// GetUser retrieves a user by ID. Returns ErrNotFound if it doesn't exist.
func (s *SQLiteStore) GetUser(ctx context.Context, id int64) (*User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, email, COALESCE(name, ''), password_hash, created_at FROM users WHERE id = ?`, id)
	return scanUser(row)
}

// GetUserByEmail retrieves a user by email. Returns ErrNotFound if it doesn't exist.
func (s *SQLiteStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, email, COALESCE(name, ''), password_hash, created_at FROM users WHERE email = ?`, email)
	return scanUser(row)
}

func scanUser(row *sql.Row) (*User, error) {
	var u User
	var createdAt string
	err := row.Scan(&u.ID, &u.Email, &u.Name, &u.PasswordHash, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning user: %w", err)
	}
	u.CreatedAt = parseTime(createdAt)
	return &u, nil
}

// CreateLinkState inserts a new pending OAuth state row.
// Returns ErrDuplicateState if the token already exists.
func (s *SQLiteStore) CreateLinkState(ctx context.Context, state *LinkState) error {
	if state.CreatedAt.IsZero() {
		state.CreatedAt = time.Now().UTC()
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO oauth_states (provider, state, user_id, used, created_at, expires_at)
		 VALUES (?, ?, ?, 0, ?, ?)`,
		state.Provider,
		state.State,
		state.UserID,
		state.CreatedAt.Format(time.RFC3339),
		state.ExpiresAt.Format(time.RFC3339),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicateState
		}
		return fmt.Errorf("inserting link state: %w", err)
	}

	state.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading link state id: %w", err)
	}

	s.logger.Debug("created link state", "user_id", state.UserID, "provider", state.Provider)
	return nil
}

// GetLinkState retrieves a link state by token. Returns ErrNotFound if absent.
func (s *SQLiteStore) GetLinkState(ctx context.Context, token string) (*LinkState, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, provider, state, user_id, used, created_at, expires_at
		 FROM oauth_states WHERE state = ?`, token)

	var ls LinkState
	var used int
	var createdAt, expiresAt string
	err := row.Scan(&ls.ID, &ls.Provider, &ls.State, &ls.UserID, &used, &createdAt, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning link state: %w", err)
	}

	ls.Used = used != 0
	ls.CreatedAt = parseTime(createdAt)
	ls.ExpiresAt = parseTime(expiresAt)
	return &ls, nil
}

// ConsumeLinkState marks a state used without touching credentials.
// Returns ErrNotFound if the state does not exist or was already consumed.
func (s *SQLiteStore) ConsumeLinkState(ctx context.Context, token string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE oauth_states SET used = 1 WHERE state = ? AND used = 0`, token)
	if err != nil {
		return fmt.Errorf("consuming link state: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking consumed rows: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// CompleteLink marks the state used and upserts the credential atomically.
// The guarded UPDATE is the single-use enforcement: a state that is missing
// or already consumed affects zero rows and the whole link fails with
// ErrNotFound, so concurrent callbacks sharing a state commit at most once.
// The upsert keys on (user_id, team_id): an existing row is updated in place,
// otherwise a new row is inserted. Status is forced to active either way.
func (s *SQLiteStore) CompleteLink(ctx context.Context, token string, cred *Credential) (*Credential, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `UPDATE oauth_states SET used = 1 WHERE state = ? AND used = 0`, token)
	if err != nil {
		return nil, fmt.Errorf("consuming link state: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("checking consumed rows: %w", err)
	}
	if n == 0 {
		return nil, ErrNotFound
	}

	stored, err := upsertCredentialTx(ctx, tx, cred)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing link: %w", err)
	}

	s.logger.Info("workspace link completed",
		"user_id", stored.UserID,
		"team_id", stored.TeamID,
		"team_name", stored.TeamName,
	)
	return stored, nil
}

// UpsertCredential inserts or updates the credential for (user_id, team_id).
func (s *SQLiteStore) UpsertCredential(ctx context.Context, cred *Credential) (*Credential, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	stored, err := upsertCredentialTx(ctx, tx, cred)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing upsert: %w", err)
	}
	return stored, nil
}

// execer covers both *sql.Tx and *sql.DB for shared query helpers.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func upsertCredentialTx(ctx context.Context, q execer, cred *Credential) (*Credential, error) {
	now := time.Now().UTC()

	var existingID int64
	var installedAt string
	err := q.QueryRowContext(ctx,
		`SELECT id, installed_at FROM slack_links WHERE user_id = ? AND team_id = ?`,
		cred.UserID, cred.TeamID,
	).Scan(&existingID, &installedAt)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		res, err := q.ExecContext(ctx,
			`INSERT INTO slack_links
				(user_id, team_id, team_name, access_token, scope, authed_user_id, status, installed_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, 'active', ?, ?)`,
			cred.UserID,
			cred.TeamID,
			nullString(cred.TeamName),
			cred.AccessToken,
			nullString(cred.Scope),
			nullString(cred.AuthedUserID),
			now.Format(time.RFC3339),
			now.Format(time.RFC3339),
		)
		if err != nil {
			return nil, fmt.Errorf("inserting credential: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return nil, fmt.Errorf("reading credential id: %w", err)
		}
		stored := *cred
		stored.ID = id
		stored.Status = CredentialStatusActive
		stored.InstalledAt = now
		stored.UpdatedAt = now
		return &stored, nil

	case err != nil:
		return nil, fmt.Errorf("looking up credential: %w", err)

	default:
		_, err := q.ExecContext(ctx,
			`UPDATE slack_links
			 SET team_name = ?, access_token = ?, scope = ?, authed_user_id = ?, status = 'active', updated_at = ?
			 WHERE id = ?`,
			nullString(cred.TeamName),
			cred.AccessToken,
			nullString(cred.Scope),
			nullString(cred.AuthedUserID),
			now.Format(time.RFC3339),
			existingID,
		)
		if err != nil {
			return nil, fmt.Errorf("updating credential: %w", err)
		}
		stored := *cred
		stored.ID = existingID
		stored.Status = CredentialStatusActive
		stored.InstalledAt = parseTime(installedAt)
		stored.UpdatedAt = now
		return &stored, nil
	}
}

// GetActiveCredential returns the most recently installed active credential
// for the user. Latest installed_at wins when multiple teams are linked.
// Returns ErrNotFound when the user has no active link.
func (s *SQLiteStore) GetActiveCredential(ctx context.Context, userID int64) (*Credential, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, team_id, COALESCE(team_name, ''), access_token,
		        COALESCE(scope, ''), COALESCE(authed_user_id, ''), status, installed_at, updated_at
		 FROM slack_links
		 WHERE user_id = ? AND status = 'active'
		 ORDER BY installed_at DESC, id DESC
		 LIMIT 1`, userID)

	var c Credential
	var installedAt, updatedAt string
	err := row.Scan(&c.ID, &c.UserID, &c.TeamID, &c.TeamName, &c.AccessToken,
		&c.Scope, &c.AuthedUserID, &c.Status, &installedAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning credential: %w", err)
	}

	c.InstalledAt = parseTime(installedAt)
	c.UpdatedAt = parseTime(updatedAt)
	return &c, nil
}

// isConstraintViolation checks if an error is a SQLite constraint violation
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "constraint failed")
}

// nullString converts empty strings to nil for nullable columns
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
