package store

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
)

// ExclusionStore persists the per-user set of release ids hidden from
// public views. Membership is independent of which connection supplied the
// release.
type ExclusionStore struct {
	db *sqlx.DB
}

func NewExclusionStore(db *sqlx.DB) *ExclusionStore {
	return &ExclusionStore{db: db}
}

// q rebinds ? placeholders to the driver's native format.
func (s *ExclusionStore) q(query string) string { return s.db.Rebind(query) }

// List returns the user's excluded release ids in ascending order.
func (s *ExclusionStore) List(ctx context.Context, userID string) ([]int64, error) {
	ids := []int64{}
	err := s.db.SelectContext(ctx, &ids, s.q(`
		SELECT release_id FROM collection_exclusions WHERE user_id = ? ORDER BY release_id ASC
	`), userID)
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// IsExcluded reports whether releaseID is in the user's exclusion set.
func (s *ExclusionStore) IsExcluded(ctx context.Context, userID string, releaseID int64) (bool, error) {
	var count int
	err := s.db.GetContext(ctx, &count, s.q(`
		SELECT COUNT(*) FROM collection_exclusions WHERE user_id = ? AND release_id = ?
	`), userID, releaseID)
	return count > 0, err
}

// Set adds releaseID to, or removes it from, the user's exclusion set.
// Both directions are idempotent.
func (s *ExclusionStore) Set(ctx context.Context, userID string, releaseID int64, excluded bool) error {
	if !excluded {
		_, err := s.db.ExecContext(ctx, s.q(`
			DELETE FROM collection_exclusions WHERE user_id = ? AND release_id = ?
		`), userID, releaseID)
		return err
	}
	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO collection_exclusions (user_id, release_id, created_at) VALUES (?, ?, ?)
	`), userID, releaseID, time.Now().UTC())
	if isUniqueConstraintError(err) {
		return nil
	}
	return err
}
