package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// DefaultMaxConnections is the per-user cap on linked Discogs accounts.
const DefaultMaxConnections = 2

// Connection is one linked Discogs account. AccessToken and AccessSecret are
// vault blobs, never plaintext.
type Connection struct {
	ID              string    `db:"id" json:"id"`
	UserID          string    `db:"user_id" json:"user_id"`
	DisplayName     string    `db:"display_name" json:"display_name"`
	DiscogsUsername string    `db:"discogs_username" json:"discogs_username"`
	AccessToken     string    `db:"access_token" json:"-"`
	AccessSecret    string    `db:"access_secret" json:"-"`
	IsPrimary       bool      `db:"is_primary" json:"is_primary"`
	ConnectedAt     time.Time `db:"connected_at" json:"connected_at"`
	UpdatedAt       time.Time `db:"updated_at" json:"updated_at"`
}

// Label is the name shown for the connection: the display name when set,
// otherwise the Discogs username.
func (c *Connection) Label() string {
	if c.DisplayName != "" {
		return c.DisplayName
	}
	return c.DiscogsUsername
}

// NewConnection carries the fields for Add. The token fields must already be
// sealed by the vault.
type NewConnection struct {
	UserID          string
	DisplayName     string
	DiscogsUsername string
	AccessToken     string
	AccessSecret    string
}

// ConnectionStore is the sqlx-backed ConnectionRegistry.
type ConnectionStore struct {
	db  *sqlx.DB
	max int
}

// NewConnectionStore creates a ConnectionStore allowing at most max
// connections per user. A non-positive max falls back to DefaultMaxConnections.
func NewConnectionStore(db *sqlx.DB, max int) *ConnectionStore {
	if max <= 0 {
		max = DefaultMaxConnections
	}
	return &ConnectionStore{db: db, max: max}
}

// q rebinds ? placeholders to the driver's native format.
func (s *ConnectionStore) q(query string) string { return s.db.Rebind(query) }

// List returns the user's connections ordered by connected_at ascending.
func (s *ConnectionStore) List(ctx context.Context, userID string) ([]*Connection, error) {
	var conns []*Connection
	err := s.db.SelectContext(ctx, &conns, s.q(`
		SELECT * FROM discogs_connections
		WHERE user_id = ?
		ORDER BY connected_at ASC, id ASC
	`), userID)
	if err != nil {
		return nil, err
	}
	return conns, nil
}

// Get returns the connection with id regardless of owner, or ErrNotFound.
func (s *ConnectionStore) Get(ctx context.Context, id string) (*Connection, error) {
	var c Connection
	err := s.db.GetContext(ctx, &c, s.q(`SELECT * FROM discogs_connections WHERE id = ?`), id)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// Resolve picks the connection an operation should use.
//
// With an explicit connectionID the row must exist (ErrNotFound) and belong
// to userID (ErrAccessDenied). Without one, the primary connection is used,
// falling back to the earliest connected when no row is flagged. A user with
// no connections gets ErrNotConnected.
func (s *ConnectionStore) Resolve(ctx context.Context, userID, connectionID string) (*Connection, error) {
	if connectionID != "" {
		c, err := s.Get(ctx, connectionID)
		if err != nil {
			return nil, err
		}
		if c.UserID != userID {
			return nil, ErrAccessDenied
		}
		return c, nil
	}

	conns, err := s.List(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(conns) == 0 {
		return nil, ErrNotConnected
	}
	for _, c := range conns {
		if c.IsPrimary {
			return c, nil
		}
	}
	return conns[0], nil
}

// Add links a new account. The first connection for a user becomes primary.
func (s *ConnectionStore) Add(ctx context.Context, nc NewConnection) (*Connection, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if err := s.lockOwner(ctx, tx, nc.UserID); err != nil {
		return nil, err
	}

	var count int
	if err := tx.GetContext(ctx, &count, s.q(`SELECT COUNT(*) FROM discogs_connections WHERE user_id = ?`), nc.UserID); err != nil {
		return nil, err
	}
	if count >= s.max {
		return nil, ErrCapacityExceeded
	}

	id := uuid.New().String()
	now := time.Now().UTC()
	_, err = tx.ExecContext(ctx, s.q(`
		INSERT INTO discogs_connections
			(id, user_id, display_name, discogs_username, access_token, access_secret, is_primary, connected_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), id, nc.UserID, nc.DisplayName, nc.DiscogsUsername, nc.AccessToken, nc.AccessSecret, count == 0, now, now)
	if err != nil {
		return nil, s.insertError(nc.UserID, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return s.Get(ctx, id)
}

// SetPrimary makes connectionID the user's only primary connection.
// Calling it again for the same connection is a no-op.
func (s *ConnectionStore) SetPrimary(ctx context.Context, userID, connectionID string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := s.lockOwner(ctx, tx, userID); err != nil {
		return err
	}
	if err := s.checkOwner(ctx, tx, userID, connectionID); err != nil {
		return err
	}

	// Clear first so the partial unique index never sees two primaries.
	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx, s.q(`
		UPDATE discogs_connections SET is_primary = ?, updated_at = ?
		WHERE user_id = ? AND id <> ? AND is_primary = ?
	`), false, now, userID, connectionID, true); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, s.q(`
		UPDATE discogs_connections SET is_primary = ?, updated_at = ?
		WHERE id = ? AND user_id = ?
	`), true, now, connectionID, userID); err != nil {
		return err
	}

	return tx.Commit()
}

// Remove deletes the connection and its sealed credentials. If it was the
// primary, the earliest remaining connection is promoted in the same
// transaction.
func (s *ConnectionStore) Remove(ctx context.Context, userID, connectionID string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := s.lockOwner(ctx, tx, userID); err != nil {
		return err
	}

	var c Connection
	err = tx.GetContext(ctx, &c, s.q(`SELECT * FROM discogs_connections WHERE id = ?`), connectionID)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if c.UserID != userID {
		return ErrAccessDenied
	}

	if _, err := tx.ExecContext(ctx, s.q(`DELETE FROM discogs_connections WHERE id = ?`), connectionID); err != nil {
		return err
	}

	if c.IsPrimary {
		var nextID string
		err := tx.GetContext(ctx, &nextID, s.q(`
			SELECT id FROM discogs_connections
			WHERE user_id = ?
			ORDER BY connected_at ASC, id ASC
			LIMIT 1
		`), userID)
		switch {
		case err == sql.ErrNoRows:
			// That was the last one.
		case err != nil:
			return err
		default:
			if _, err := tx.ExecContext(ctx, s.q(`
				UPDATE discogs_connections SET is_primary = ?, updated_at = ? WHERE id = ?
			`), true, time.Now().UTC(), nextID); err != nil {
				return err
			}
		}
	}

	return tx.Commit()
}

// Rename updates the connection's display name.
func (s *ConnectionStore) Rename(ctx context.Context, userID, connectionID, displayName string) (*Connection, error) {
	c, err := s.Get(ctx, connectionID)
	if err != nil {
		return nil, err
	}
	if c.UserID != userID {
		return nil, ErrAccessDenied
	}
	_, err = s.db.ExecContext(ctx, s.q(`
		UPDATE discogs_connections SET display_name = ?, updated_at = ? WHERE id = ?
	`), displayName, time.Now().UTC(), connectionID)
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, connectionID)
}

func (s *ConnectionStore) checkOwner(ctx context.Context, tx *sqlx.Tx, userID, connectionID string) error {
	var owner string
	err := tx.GetContext(ctx, &owner, s.q(`SELECT user_id FROM discogs_connections WHERE id = ?`), connectionID)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if owner != userID {
		return ErrAccessDenied
	}
	return nil
}

// lockOwner serializes writers for one user's connections until tx ends. It
// must run before any read the write depends on. PostgreSQL and MySQL lock the
// owner's users row; SQLite takes the database write lock with a no-op update.
func (s *ConnectionStore) lockOwner(ctx context.Context, tx *sqlx.Tx, userID string) error {
	switch s.db.DriverName() {
	case "postgres", "mysql":
		var id string
		err := tx.GetContext(ctx, &id, s.q(`SELECT id FROM users WHERE id = ? FOR UPDATE`), userID)
		if err == sql.ErrNoRows {
			return ErrNotFound
		}
		return err
	default:
		res, err := tx.ExecContext(ctx, s.q(`UPDATE users SET updated_at = updated_at WHERE id = ?`), userID)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return ErrNotFound
		}
		return nil
	}
}

// insertError classifies a failed INSERT. The (user_id, discogs_username)
// key means the account is already linked; the one-primary index means
// another writer changed the user's primary concurrently.
func (s *ConnectionStore) insertError(userID string, err error) error {
	switch {
	case isPrimaryIndexError(err):
		return fmt.Errorf("user %s: %w", userID, ErrConflict)
	case isUniqueConstraintError(err):
		return ErrAlreadyConnected
	default:
		return err
	}
}
