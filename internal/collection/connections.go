package collection

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/joestump/spindle/internal/discogs"
	"github.com/joestump/spindle/internal/events"
	"github.com/joestump/spindle/internal/store"
)

// ListConnections returns the user's connections, earliest first.
func (s *Service) ListConnections(ctx context.Context, userID string) ([]*store.Connection, error) {
	return s.registry.List(ctx, userID)
}

// CheckCapacity returns ErrCapacityExceeded when the user cannot link another
// account. It is checked before a handshake starts so the user is not sent to
// Discogs for nothing; Connect enforces the limit again.
func (s *Service) CheckCapacity(ctx context.Context, userID string) error {
	conns, err := s.registry.List(ctx, userID)
	if err != nil {
		return err
	}
	if len(conns) >= s.opts.MaxConnections {
		return ErrCapacityExceeded
	}
	return nil
}

// Connect links the account behind creds to userID. The account's identity
// is looked up once with the fresh credentials, then both halves of the pair
// are sealed before they reach storage.
func (s *Service) Connect(ctx context.Context, userID string, creds discogs.Credentials) (*store.Connection, error) {
	if err := s.acquire(ctx, userID, userID, 1); err != nil {
		return nil, err
	}
	ident, err := s.client.Identity(ctx, creds)
	if err != nil {
		return nil, s.upstream("identity", "", err)
	}

	token, err := s.vault.Encrypt(creds.Token)
	if err != nil {
		return nil, fmt.Errorf("seal access token: %w", err)
	}
	secret, err := s.vault.Encrypt(creds.Secret)
	if err != nil {
		return nil, fmt.Errorf("seal access secret: %w", err)
	}

	conn, err := s.registry.Add(ctx, store.NewConnection{
		UserID:          userID,
		DisplayName:     ident.Username,
		DiscogsUsername: ident.Username,
		AccessToken:     token,
		AccessSecret:    secret,
	})
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, userID)

	s.log.Info("discogs account connected",
		zap.String("user_id", userID), zap.String("connection_id", conn.ID), zap.Bool("primary", conn.IsPrimary))
	s.events.Emit(ctx, events.New(userID, events.ConnectionAdded, map[string]any{
		"connection_id": conn.ID,
		"primary":       conn.IsPrimary,
	}))
	return conn, nil
}

// Disconnect removes a connection and its sealed credentials.
func (s *Service) Disconnect(ctx context.Context, userID, connectionID string) error {
	if err := s.registry.Remove(ctx, userID, connectionID); err != nil {
		return err
	}
	s.invalidate(ctx, userID)

	s.log.Info("discogs account disconnected", zap.String("user_id", userID), zap.String("connection_id", connectionID))
	s.events.Emit(ctx, events.New(userID, events.ConnectionRemoved, map[string]any{"connection_id": connectionID}))
	return nil
}

// SetPrimary makes connectionID the user's default connection.
func (s *Service) SetPrimary(ctx context.Context, userID, connectionID string) error {
	if err := s.registry.SetPrimary(ctx, userID, connectionID); err != nil {
		return err
	}
	s.invalidate(ctx, userID)

	s.events.Emit(ctx, events.New(userID, events.PrimaryConnectionChanged, map[string]any{"connection_id": connectionID}))
	return nil
}

// Rename changes a connection's display name.
func (s *Service) Rename(ctx context.Context, userID, connectionID, displayName string) (*store.Connection, error) {
	return s.registry.Rename(ctx, userID, connectionID, displayName)
}

// Exclusions returns the user's exclusion set.
func (s *Service) Exclusions(ctx context.Context, userID string) ([]int64, error) {
	return s.exclusions.List(ctx, userID)
}

// SetExcluded hides or shows a release in public views of the user's
// collection. Cached listings are unfiltered, so nothing is invalidated.
func (s *Service) SetExcluded(ctx context.Context, userID string, releaseID int64, excluded bool) error {
	return s.exclusions.Set(ctx, userID, releaseID, excluded)
}

func (s *Service) invalidate(ctx context.Context, userID string) {
	s.cache.InvalidatePrefix(ctx, listingPrefix(userID))
}
