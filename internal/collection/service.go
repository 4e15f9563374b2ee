// Package collection is the access layer between local users and their
// linked Discogs accounts. It resolves which connections to read, spends the
// user's shared rate budget, decrypts credentials for the duration of a call,
// fans out signed requests, and returns a normalized, exclusion-filtered and
// de-duplicated view with a write-through result cache in front.
package collection

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/joestump/spindle/internal/cache"
	"github.com/joestump/spindle/internal/discogs"
	"github.com/joestump/spindle/internal/events"
	"github.com/joestump/spindle/internal/ratelimit"
	"github.com/joestump/spindle/internal/store"
	"github.com/joestump/spindle/internal/vault"
)

const (
	DefaultPerPage    = 50
	DefaultListingTTL = 600 * time.Second
	DefaultDetailTTL  = 3600 * time.Second
	DefaultFanout     = 2

	// remoteRetryAfter is assumed when Discogs throttles without saying for
	// how long.
	remoteRetryAfter = time.Minute
)

// Discogs is the remote API surface the service calls.
type Discogs interface {
	Collection(ctx context.Context, creds discogs.Credentials, username string, page, perPage int) (*discogs.CollectionPage, error)
	Release(ctx context.Context, creds discogs.Credentials, releaseID int64) (*discogs.Release, error)
	Identity(ctx context.Context, creds discogs.Credentials) (*discogs.Identity, error)
}

// Deps are the collaborators of a Service. Limiter, Cache and Events may be
// nil; they default to the Null limiter, the Null cache and a discarding
// emitter.
type Deps struct {
	Registry   store.ConnectionRegistry
	Exclusions store.ExclusionSet
	Vault      *vault.Vault
	Discogs    Discogs
	Limiter    ratelimit.Limiter
	// VisitorLimiter meters reads made by anyone but the owner, on top of
	// the owner's budget. Nil leaves visitors limited by Limiter alone.
	VisitorLimiter ratelimit.Limiter
	Cache          cache.Cache
	Events         *events.Emitter
	Logger         *zap.Logger
	// Now is the clock used for rate-limit errors. Nil means time.Now.
	Now func() time.Time
}

// Options are the service's tunables.
type Options struct {
	ListingTTL     time.Duration
	DetailTTL      time.Duration
	Fanout         int
	MaxConnections int
}

// Service implements collection reads and the connection lifecycle.
type Service struct {
	registry   store.ConnectionRegistry
	exclusions store.ExclusionSet
	vault      *vault.Vault
	client     Discogs
	limiter    ratelimit.Limiter
	visitors   ratelimit.Limiter
	cache      cache.Cache
	events     *events.Emitter
	log        *zap.Logger
	now        func() time.Time
	opts       Options
}

// NewService returns a Service.
func NewService(deps Deps, opts Options) *Service {
	if deps.Limiter == nil {
		deps.Limiter = ratelimit.Null{}
	}
	if deps.VisitorLimiter == nil {
		deps.VisitorLimiter = ratelimit.Null{}
	}
	if deps.Cache == nil {
		deps.Cache = cache.Null{}
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Events == nil {
		deps.Events = events.NewEmitter(nil, deps.Logger)
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if opts.ListingTTL <= 0 {
		opts.ListingTTL = DefaultListingTTL
	}
	if opts.DetailTTL <= 0 {
		opts.DetailTTL = DefaultDetailTTL
	}
	if opts.Fanout <= 0 {
		opts.Fanout = DefaultFanout
	}
	if opts.MaxConnections <= 0 {
		opts.MaxConnections = store.DefaultMaxConnections
	}
	return &Service{
		registry:   deps.Registry,
		exclusions: deps.Exclusions,
		vault:      deps.Vault,
		client:     deps.Discogs,
		limiter:    deps.Limiter,
		visitors:   deps.VisitorLimiter,
		cache:      deps.Cache,
		events:     deps.Events,
		log:        deps.Logger.Named("collection"),
		now:        deps.Now,
		opts:       opts,
	}
}

// Request selects what GetCollection reads.
type Request struct {
	// OwnerID is the user whose collection is read.
	OwnerID string
	// ViewerID is the authenticated caller, empty for anonymous visitors.
	ViewerID string
	// ConnectionID pins the read to one connection. It takes precedence over
	// Aggregate.
	ConnectionID string
	// Aggregate reads every connection of the owner and merges the results.
	Aggregate bool
	Page      int
	PerPage   int
	// IncludeExcluded and EditMode are honored for the owner only.
	IncludeExcluded bool
	EditMode        bool
}

func (r Request) isOwner() bool {
	return r.ViewerID != "" && r.ViewerID == r.OwnerID
}

// Page is one page of a collection.
type Page struct {
	Items      []Item     `json:"items"`
	Pagination Pagination `json:"pagination"`
	// Excluded is the owner's exclusion set, present only when the owner is
	// the viewer.
	Excluded []int64 `json:"excluded,omitempty"`
}

// GetCollection reads one page of the owner's collection.
//
// Pages already in the listing cache cost nothing. For the rest, one rate
// unit per connection is acquired in a single atomic step before any
// credential is decrypted or request sent, then the requests fan out.
// Cached pages are stored unfiltered; exclusions are applied on every read so
// toggling one is visible immediately. Edit mode bypasses the cache entirely.
func (s *Service) GetCollection(ctx context.Context, req Request) (*Page, error) {
	page, perPage := clampPage(req.Page, req.PerPage)
	owner := req.isOwner()
	includeExcluded := req.IncludeExcluded && owner
	live := req.EditMode && owner

	conns, err := s.sources(ctx, req)
	if err != nil {
		return nil, err
	}

	results := make([]*sourcePage, len(conns))
	var missing []int
	for i, c := range conns {
		if !live {
			var sp sourcePage
			if cache.GetJSON(ctx, s.cache, "listing", listingKey(req.OwnerID, c.ID, page, perPage), &sp) {
				results[i] = &sp
				continue
			}
		}
		missing = append(missing, i)
	}

	if len(missing) > 0 {
		if err := s.acquire(ctx, req.OwnerID, req.ViewerID, len(missing)); err != nil {
			return nil, err
		}

		creds := make([]discogs.Credentials, len(missing))
		for j, i := range missing {
			if creds[j], err = s.decrypt(conns[i]); err != nil {
				return nil, err
			}
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(s.opts.Fanout)
		for j, i := range missing {
			conn, cred := conns[i], creds[j]
			g.Go(func() error {
				sp, err := s.fetchPage(gctx, conn, cred, page, perPage)
				if err != nil {
					return err
				}
				results[i] = sp
				if !live {
					cache.SetJSON(ctx, s.cache, listingKey(req.OwnerID, conn.ID, page, perPage), sp, s.opts.ListingTTL)
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	}

	excludedIDs, err := s.exclusions.List(ctx, req.OwnerID)
	if err != nil {
		return nil, fmt.Errorf("load exclusions: %w", err)
	}
	excluded := make(map[int64]struct{}, len(excludedIDs))
	for _, id := range excludedIDs {
		excluded[id] = struct{}{}
	}

	items, pagination := merge(results, excluded, includeExcluded, page, perPage)
	out := &Page{Items: items, Pagination: pagination}
	if owner {
		out.Excluded = excludedIDs
	}

	s.events.Emit(ctx, events.New(req.OwnerID, events.CollectionViewed, map[string]any{
		"page":        page,
		"per_page":    perPage,
		"connections": len(conns),
		"fetched":     len(missing),
		"own":         owner,
		"edit_mode":   live,
	}))
	return out, nil
}

// sources resolves the connections a request reads, in registry order.
func (s *Service) sources(ctx context.Context, req Request) ([]*store.Connection, error) {
	if req.ConnectionID != "" || !req.Aggregate {
		c, err := s.registry.Resolve(ctx, req.OwnerID, req.ConnectionID)
		if err != nil {
			return nil, err
		}
		return []*store.Connection{c}, nil
	}
	conns, err := s.registry.List(ctx, req.OwnerID)
	if err != nil {
		return nil, err
	}
	if len(conns) == 0 {
		return nil, ErrNotConnected
	}
	return conns, nil
}

func (s *Service) fetchPage(ctx context.Context, conn *store.Connection, creds discogs.Credentials, page, perPage int) (*sourcePage, error) {
	res, err := s.client.Collection(ctx, creds, conn.DiscogsUsername, page, perPage)
	if err != nil {
		return nil, s.upstream("collection", conn.ID, err)
	}
	sp := &sourcePage{Items: make([]Item, 0, len(res.Releases)), Pagination: res.Pagination}
	for _, r := range res.Releases {
		sp.Items = append(sp.Items, normalizeItem(conn.ID, r))
	}
	return sp, nil
}

// DetailRequest selects the release GetItemDetail reads and whose account
// it is read through.
type DetailRequest struct {
	OwnerID      string
	ViewerID     string
	ReleaseID    int64
	ConnectionID string
}

// GetItemDetail returns a release's detail. A cache hit returns immediately
// without spending rate budget. On a miss one connection of the owner is
// resolved exactly as GetCollection does for a single-source read. Releases
// the owner has excluded are ErrNotFound to everyone else.
func (s *Service) GetItemDetail(ctx context.Context, req DetailRequest) (*Detail, error) {
	userID, releaseID := req.OwnerID, req.ReleaseID
	if req.ViewerID != userID {
		hidden, err := s.exclusions.IsExcluded(ctx, userID, releaseID)
		if err != nil {
			return nil, fmt.Errorf("load exclusions: %w", err)
		}
		if hidden {
			return nil, ErrNotFound
		}
	}

	key := detailKey(releaseID)
	var d Detail
	if cache.GetJSON(ctx, s.cache, "detail", key, &d) {
		return &d, nil
	}

	conn, err := s.registry.Resolve(ctx, userID, req.ConnectionID)
	if err != nil {
		return nil, err
	}
	if err := s.acquire(ctx, userID, req.ViewerID, 1); err != nil {
		return nil, err
	}
	creds, err := s.decrypt(conn)
	if err != nil {
		return nil, err
	}

	rel, err := s.client.Release(ctx, creds, releaseID)
	if err != nil {
		return nil, s.upstream("release", conn.ID, err)
	}
	d = normalizeRelease(rel)
	cache.SetJSON(ctx, s.cache, key, d, s.opts.DetailTTL)

	s.events.Emit(ctx, events.New(userID, events.ReleaseViewed, map[string]any{"release_id": releaseID}))
	return &d, nil
}

// acquire spends n units of userID's budget or returns a *RateLimitError.
// When someone other than the owner is reading, the visitor budget is
// charged first so visitors can never spend more than it allows.
func (s *Service) acquire(ctx context.Context, userID, viewerID string, n int) error {
	if viewerID != userID {
		res := s.visitors.Acquire(ctx, ratelimit.VisitorSubject(userID), n)
		if !res.Allowed {
			return s.denied(ctx, userID, RateLimitVisitor, n, res)
		}
	}
	res := s.limiter.Acquire(ctx, ratelimit.UserSubject(userID), n)
	if !res.Allowed {
		return s.denied(ctx, userID, RateLimitLocal, n, res)
	}
	return nil
}

func (s *Service) denied(ctx context.Context, userID, source string, n int, res ratelimit.Result) error {
	s.log.Info("rate budget exhausted",
		zap.String("user_id", userID), zap.String("source", source),
		zap.Int("units", n), zap.Time("reset_at", res.ResetAt))
	s.events.Emit(ctx, events.New(userID, events.RateLimited, map[string]any{
		"source": source,
		"units":  n,
	}))
	return &RateLimitError{Source: source, Remaining: res.Remaining, ResetAt: res.ResetAt}
}

// decrypt opens a connection's credential pair. Failures mean corrupted rows
// or a rotated master key, so they are logged at error level.
func (s *Service) decrypt(c *store.Connection) (discogs.Credentials, error) {
	token, err := s.vault.Decrypt(c.AccessToken)
	if err == nil {
		var secret string
		secret, err = s.vault.Decrypt(c.AccessSecret)
		if err == nil {
			return discogs.Credentials{Token: token, Secret: secret}, nil
		}
	}
	s.log.Error("credential decryption failed",
		zap.String("connection_id", c.ID), zap.String("user_id", c.UserID), zap.Error(err))
	return discogs.Credentials{}, fmt.Errorf("connection %s: %w", c.ID, err)
}

// upstream wraps a failed remote call in an *UpstreamError. A remote 429 is
// additionally wrapped in a *RateLimitError so callers back off the same way
// they do for the local budget.
func (s *Service) upstream(op, connectionID string, err error) error {
	var apiErr *discogs.APIError
	status := 0
	if errors.As(err, &apiErr) {
		status = apiErr.Status
	}
	upErr := &UpstreamError{Op: op, ConnectionID: connectionID, Status: status, Err: err}

	if status == http.StatusTooManyRequests {
		wait := apiErr.RetryAfter
		if wait <= 0 {
			wait = remoteRetryAfter
		}
		s.log.Warn("discogs throttled request",
			zap.String("op", op), zap.String("connection_id", connectionID),
			zap.String("source", RateLimitRemote), zap.Int("status", status), zap.Duration("retry_after", wait))
		return &RateLimitError{Source: RateLimitRemote, Status: status, ResetAt: s.now().Add(wait), Err: upErr}
	}

	s.log.Warn("discogs request failed",
		zap.String("op", op), zap.String("connection_id", connectionID), zap.Int("status", status), zap.Error(err))
	return upErr
}

func clampPage(page, perPage int) (int, int) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = DefaultPerPage
	}
	if perPage > discogs.MaxPerPage {
		perPage = discogs.MaxPerPage
	}
	return page, perPage
}
