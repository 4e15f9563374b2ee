package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/joestump/spindle/internal/api"
	"github.com/joestump/spindle/internal/auth"
	"github.com/joestump/spindle/internal/cache"
	"github.com/joestump/spindle/internal/collection"
	"github.com/joestump/spindle/internal/config"
	"github.com/joestump/spindle/internal/db"
	"github.com/joestump/spindle/internal/discogs"
	"github.com/joestump/spindle/internal/events"
	"github.com/joestump/spindle/internal/ratelimit"
	"github.com/joestump/spindle/internal/store"
	"github.com/joestump/spindle/internal/vault"
)

const (
	redisNamespace  = "spindle:"
	shutdownTimeout = 15 * time.Second
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := cfg.ValidateServe(); err != nil {
				return err
			}
			logger, err := newLogger(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			database, err := db.New(cfg.DB.Driver, cfg.DB.DSN)
			if err != nil {
				return err
			}
			defer func() { _ = database.Close() }()

			if err := db.Migrate(database, cfg.DB.Driver); err != nil {
				return err
			}

			key, err := vault.ParseKey(cfg.VaultKey)
			if err != nil {
				return fmt.Errorf("vault.key: %w", err)
			}
			credentials, err := vault.New(key)
			if err != nil {
				return fmt.Errorf("vault.key: %w", err)
			}

			var rdb *redis.Client
			if cfg.Redis.URL != "" {
				opts, err := redis.ParseURL(cfg.Redis.URL)
				if err != nil {
					return fmt.Errorf("redis.url: %w", err)
				}
				rdb = redis.NewClient(opts)
				defer func() { _ = rdb.Close() }()
				if err := rdb.Ping(ctx).Err(); err != nil {
					return fmt.Errorf("redis unreachable: %w", err)
				}
			}

			remote, err := discogs.New(discogs.Options{
				ConsumerKey:       cfg.Discogs.ConsumerKey,
				ConsumerSecret:    cfg.Discogs.ConsumerSecret,
				BaseURL:           cfg.Discogs.BaseURL,
				AuthorizeURL:      cfg.Discogs.AuthorizeURL,
				CallbackURL:       cfg.Discogs.CallbackURL,
				Timeout:           cfg.Discogs.Timeout,
				RequestsPerMinute: cfg.Discogs.RequestsPerMinute,
			})
			if err != nil {
				return err
			}

			var sink events.Sink = events.Noop{}
			if cfg.PostHog.APIKey != "" {
				ph, err := events.NewPostHog(cfg.PostHog.APIKey, cfg.PostHog.Endpoint)
				if err != nil {
					return fmt.Errorf("posthog: %w", err)
				}
				sink = ph
			}
			emitter := events.NewEmitter(sink, logger)
			defer func() { _ = emitter.Close() }()

			userStore := store.NewUserStore(database)
			connStore := store.NewConnectionStore(database, cfg.Connections.Max)
			exclusionStore := store.NewExclusionStore(database)

			svc := collection.NewService(collection.Deps{
				Registry:       connStore,
				Exclusions:     exclusionStore,
				Vault:          credentials,
				Discogs:        remote,
				Limiter:        newLimiter(cfg, cfg.RateLimit.Limit, rdb, logger),
				VisitorLimiter: newLimiter(cfg, cfg.RateLimit.VisitorLimit, rdb, logger),
				Cache:          newCache(cfg, rdb, logger),
				Events:         emitter,
				Logger:         logger,
			}, collection.Options{
				ListingTTL:     cfg.Cache.ListingTTL,
				DetailTTL:      cfg.Cache.DetailTTL,
				Fanout:         cfg.Collection.Fanout,
				MaxConnections: cfg.Connections.Max,
			})

			sessionManager := auth.NewSessionManager(database, cfg.DB.Driver, cfg.SessionLifetime, !cfg.InsecureCookies)
			oidcProvider, err := auth.NewProvider(ctx, cfg)
			if err != nil {
				return err
			}

			router := api.NewRouter(api.Deps{
				Sessions:       sessionManager,
				AuthHandlers:   auth.NewHandlers(oidcProvider, sessionManager, userStore, !cfg.InsecureCookies, logger),
				AuthMiddleware: auth.NewMiddleware(sessionManager, userStore),
				Users:          userStore,
				Collection:     svc,
				Handshaker:     remote,
				Vault:          credentials,
				Logger:         logger,
			})

			srv := &http.Server{
				Addr:              cfg.HTTP.Addr,
				Handler:           router,
				ReadHeaderTimeout: 10 * time.Second,
			}
			errCh := make(chan error, 1)
			go func() {
				logger.Info("listening", zap.String("addr", cfg.HTTP.Addr), zap.String("env", cfg.Env))
				errCh <- srv.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			case <-ctx.Done():
			}

			logger.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
}

// newLogger builds the process logger from log.level and log.development.
func newLogger(cfg *config.Config) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	if cfg.Log.Development {
		zcfg = zap.NewDevelopmentConfig()
	}
	level, err := zap.ParseAtomicLevel(cfg.Log.Level)
	if err != nil {
		return nil, fmt.Errorf("log.level: %w", err)
	}
	zcfg.Level = level
	return zcfg.Build()
}

func newCache(cfg *config.Config, rdb *redis.Client, logger *zap.Logger) cache.Cache {
	switch cfg.Cache.Backend {
	case config.BackendRedis:
		return cache.NewRedis(rdb, redisNamespace, logger)
	case config.BackendMemory:
		return cache.NewMemory(nil)
	default:
		return cache.Null{}
	}
}

func newLimiter(cfg *config.Config, limit int, rdb *redis.Client, logger *zap.Logger) ratelimit.Limiter {
	opts := ratelimit.Options{Limit: limit, Window: cfg.RateLimit.Window}
	switch cfg.RateLimit.Backend {
	case config.BackendRedis:
		return ratelimit.NewRedis(rdb, redisNamespace, opts, logger)
	case config.BackendMemory:
		return ratelimit.NewMemory(opts)
	default:
		return ratelimit.Null{}
	}
}
