package store

import (
	"context"
	"errors"
	"strings"
)

var (
	// ErrNotFound is returned when a requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrNotConnected is returned when a user has no linked Discogs accounts.
	ErrNotConnected = errors.New("no discogs account connected")

	// ErrAccessDenied is returned when a connection exists but belongs to
	// another user.
	ErrAccessDenied = errors.New("connection belongs to another user")

	// ErrCapacityExceeded is returned when a user already has the maximum
	// number of linked accounts.
	ErrCapacityExceeded = errors.New("maximum number of connected accounts reached")

	// ErrAlreadyConnected is returned when the same Discogs username is
	// linked twice by one user.
	ErrAlreadyConnected = errors.New("discogs account is already connected")

	// ErrConflict is returned when a concurrent write to the same user's
	// connections won. Retrying is safe.
	ErrConflict = errors.New("concurrent connection update")
)

// ConnectionRegistry is the storage contract the collection layer depends on.
// Implementations never see plaintext credentials.
type ConnectionRegistry interface {
	List(ctx context.Context, userID string) ([]*Connection, error)
	Resolve(ctx context.Context, userID, connectionID string) (*Connection, error)
	Add(ctx context.Context, nc NewConnection) (*Connection, error)
	SetPrimary(ctx context.Context, userID, connectionID string) error
	Remove(ctx context.Context, userID, connectionID string) error
	Rename(ctx context.Context, userID, connectionID, displayName string) (*Connection, error)
}

// ExclusionSet is the per-user set of release ids hidden from public views.
type ExclusionSet interface {
	List(ctx context.Context, userID string) ([]int64, error)
	IsExcluded(ctx context.Context, userID string, releaseID int64) (bool, error)
	Set(ctx context.Context, userID string, releaseID int64, excluded bool) error
}

// isUniqueConstraintError checks whether err indicates a unique constraint violation.
// Works across SQLite, PostgreSQL, and MySQL.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") || // SQLite & PostgreSQL
		strings.Contains(msg, "duplicate key") || // PostgreSQL
		strings.Contains(msg, "duplicate entry") // MySQL
}

// isPrimaryIndexError reports whether err is a violation of the one-primary
// index rather than of the (user_id, discogs_username) key. PostgreSQL names
// the index; SQLite lists only the user_id column for it.
func isPrimaryIndexError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "discogs_connections_primary_idx") {
		return true
	}
	return strings.Contains(msg, "unique constraint failed: discogs_connections.user_id") &&
		!strings.Contains(msg, "discogs_username")
}
