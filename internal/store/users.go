package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// User is a local dashboard account, created on first OIDC login.
type User struct {
	ID          string    `db:"id"`
	Provider    string    `db:"provider"`
	Subject     string    `db:"subject"`
	Email       string    `db:"email"`
	DisplayName string    `db:"display_name"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}

type UserStore struct {
	db *sqlx.DB
}

func NewUserStore(db *sqlx.DB) *UserStore {
	return &UserStore{db: db}
}

// q rebinds ? placeholders to the driver's native format.
func (s *UserStore) q(query string) string { return s.db.Rebind(query) }

// Upsert creates or refreshes the user identified by (provider, subject).
// Returning users keep their id; email and display name follow the IdP.
func (s *UserStore) Upsert(ctx context.Context, provider, subject, email, displayName string) (*User, error) {
	now := time.Now().UTC()

	existing, err := s.getBySubject(ctx, provider, subject)
	switch {
	case err == nil:
		_, err = s.db.ExecContext(ctx, s.q(`
			UPDATE users SET email = ?, display_name = ?, updated_at = ? WHERE id = ?
		`), email, displayName, now, existing.ID)
		if err != nil {
			return nil, err
		}
		return s.GetByID(ctx, existing.ID)
	case err != ErrNotFound:
		return nil, err
	}

	id := uuid.New().String()
	_, err = s.db.ExecContext(ctx, s.q(`
		INSERT INTO users (id, provider, subject, email, display_name, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`), id, provider, subject, email, displayName, now, now)
	if err != nil {
		if isUniqueConstraintError(err) {
			// Lost a race with a concurrent first login.
			u, getErr := s.getBySubject(ctx, provider, subject)
			if getErr != nil {
				return nil, getErr
			}
			return u, nil
		}
		return nil, err
	}
	return s.GetByID(ctx, id)
}

// GetByID returns the user with id, or ErrNotFound.
func (s *UserStore) GetByID(ctx context.Context, id string) (*User, error) {
	var u User
	err := s.db.GetContext(ctx, &u, s.q(`SELECT * FROM users WHERE id = ?`), id)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *UserStore) getBySubject(ctx context.Context, provider, subject string) (*User, error) {
	var u User
	err := s.db.GetContext(ctx, &u, s.q(`SELECT * FROM users WHERE provider = ? AND subject = ?`), provider, subject)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}
