package api

import (
	"context"
	"net/http"
	"time"

	"github.com/alexedwards/scs/v2"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/joestump/spindle/internal/auth"
	"github.com/joestump/spindle/internal/collection"
	"github.com/joestump/spindle/internal/discogs"
	"github.com/joestump/spindle/internal/store"
	"github.com/joestump/spindle/internal/vault"
)

// CollectionService is the collection access layer as the API uses it.
type CollectionService interface {
	GetCollection(ctx context.Context, req collection.Request) (*collection.Page, error)
	GetItemDetail(ctx context.Context, req collection.DetailRequest) (*collection.Detail, error)
	ListConnections(ctx context.Context, userID string) ([]*store.Connection, error)
	CheckCapacity(ctx context.Context, userID string) error
	Connect(ctx context.Context, userID string, creds discogs.Credentials) (*store.Connection, error)
	Disconnect(ctx context.Context, userID, connectionID string) error
	SetPrimary(ctx context.Context, userID, connectionID string) error
	Rename(ctx context.Context, userID, connectionID, displayName string) (*store.Connection, error)
	Exclusions(ctx context.Context, userID string) ([]int64, error)
	SetExcluded(ctx context.Context, userID string, releaseID int64, excluded bool) error
}

// Handshaker runs the Discogs OAuth 1.0a authorization flow.
type Handshaker interface {
	RequestToken() (token, secret string, err error)
	AuthorizationURL(requestToken string) (string, error)
	AccessToken(requestToken, requestSecret, verifier string) (discogs.Credentials, error)
}

// Deps holds all dependencies required to build the HTTP router.
type Deps struct {
	Sessions       *scs.SessionManager
	AuthHandlers   *auth.Handlers
	AuthMiddleware *auth.Middleware
	Users          auth.UserSource
	Collection     CollectionService
	Handshaker     Handshaker
	// Vault seals the handshake's request secret while it sits in the session.
	Vault  *vault.Vault
	Logger *zap.Logger
}

// NewRouter assembles the chi router: login routes, /metrics, and the JSON
// API under /api/v1.
func NewRouter(deps Deps) http.Handler {
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("http")

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(log))
	r.Use(middleware.Recoverer)

	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(deps.Sessions.LoadAndSave)

		if deps.AuthHandlers != nil {
			r.Get("/auth/login", deps.AuthHandlers.Login)
			r.Get("/auth/callback", deps.AuthHandlers.Callback)
			r.Post("/auth/logout", deps.AuthHandlers.Logout)
		}

		r.Route("/api/v1", func(r chi.Router) {
			r.Use(jsonContentType)

			coll := &collectionHandler{svc: deps.Collection, users: deps.Users, log: log}
			r.With(deps.AuthMiddleware.OptionalUser).Group(func(r chi.Router) {
				r.Get("/users/{userID}/collection", coll.Collection)
				r.Get("/users/{userID}/releases/{releaseID}", coll.Release)
			})

			conns := &connectionsHandler{
				svc:        deps.Collection,
				handshaker: deps.Handshaker,
				sessions:   deps.Sessions,
				vault:      deps.Vault,
				log:        log,
			}
			excl := &exclusionsHandler{svc: deps.Collection, log: log}
			r.Group(func(r chi.Router) {
				r.Use(deps.AuthMiddleware.RequireUser)

				r.Get("/connections", conns.List)
				r.Get("/connections/connect", conns.Connect)
				r.Get("/connections/callback", conns.Callback)
				r.Patch("/connections/{id}", conns.Rename)
				r.Post("/connections/{id}/primary", conns.SetPrimary)
				r.Delete("/connections/{id}", conns.Disconnect)

				r.Get("/exclusions", excl.List)
				r.Put("/exclusions/{releaseID}", excl.Put)
				r.Delete("/exclusions/{releaseID}", excl.Delete)
			})
		})
	})

	return r
}

// jsonContentType sets Content-Type: application/json on all responses.
func jsonContentType(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

func requestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.Info("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}
