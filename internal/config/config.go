package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Backend names accepted by cache.backend and ratelimit.backend.
const (
	BackendRedis  = "redis"
	BackendMemory = "memory"
	BackendNone   = "none"
)

type Config struct {
	Env string
	Log struct {
		Level       string
		Development bool
	}
	HTTP struct {
		Addr string
	}
	DB struct {
		Driver string
		DSN    string
	}
	OIDC struct {
		Issuer       string
		ClientID     string
		ClientSecret string
		RedirectURL  string
	}
	SessionLifetime time.Duration
	InsecureCookies bool

	// VaultKey is the master credential key as configured (hex or base64).
	VaultKey string

	Discogs struct {
		ConsumerKey       string
		ConsumerSecret    string
		BaseURL           string
		AuthorizeURL      string
		CallbackURL       string
		Timeout           time.Duration
		RequestsPerMinute int
	}
	Redis struct {
		URL string
	}
	Cache struct {
		Backend    string
		ListingTTL time.Duration
		DetailTTL  time.Duration
	}
	RateLimit struct {
		Backend string
		Limit   int
		Window  time.Duration
		// VisitorLimit is the share of an owner's budget other viewers may
		// spend together per window.
		VisitorLimit int
	}
	Connections struct {
		Max int
	}
	Collection struct {
		Fanout int
	}
	PostHog struct {
		APIKey   string
		Endpoint string
	}
}

// IsProduction reports whether app.env is "production".
func (c *Config) IsProduction() bool { return c.Env == "production" }

// Load reads config from environment (SPINDLE_ prefix) and optional spindle.yaml.
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SPINDLE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	v.SetConfigName("spindle")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	_ = v.ReadInConfig() // optional config file

	v.SetDefault("app.env", "development")
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("log.level", "info")
	v.SetDefault("session.lifetime", "720h")
	v.SetDefault("discogs.base_url", "https://api.discogs.com")
	v.SetDefault("discogs.authorize_url", "https://www.discogs.com/oauth/authorize")
	v.SetDefault("discogs.timeout", "10s")
	v.SetDefault("cache.listing_ttl", "600s")
	v.SetDefault("cache.detail_ttl", "3600s")
	v.SetDefault("ratelimit.limit", 60)
	v.SetDefault("ratelimit.window", "60s")
	v.SetDefault("ratelimit.visitor_limit", 10)
	v.SetDefault("connections.max", 2)
	v.SetDefault("collection.fanout", 2)

	cfg := &Config{}
	cfg.Env = v.GetString("app.env")
	cfg.Log.Level = v.GetString("log.level")
	cfg.Log.Development = v.GetBool("log.development")
	cfg.HTTP.Addr = v.GetString("http.addr")
	cfg.DB.Driver = v.GetString("db.driver")
	cfg.DB.DSN = v.GetString("db.dsn")
	cfg.OIDC.Issuer = v.GetString("oidc.issuer")
	cfg.OIDC.ClientID = v.GetString("oidc.client_id")
	cfg.OIDC.ClientSecret = v.GetString("oidc.client_secret")
	cfg.OIDC.RedirectURL = v.GetString("oidc.redirect_url")
	cfg.InsecureCookies = v.GetBool("insecure_cookies")
	cfg.VaultKey = v.GetString("vault.key")
	cfg.Discogs.ConsumerKey = v.GetString("discogs.consumer_key")
	cfg.Discogs.ConsumerSecret = v.GetString("discogs.consumer_secret")
	cfg.Discogs.BaseURL = v.GetString("discogs.base_url")
	cfg.Discogs.AuthorizeURL = v.GetString("discogs.authorize_url")
	cfg.Discogs.CallbackURL = v.GetString("discogs.callback_url")
	cfg.Discogs.RequestsPerMinute = v.GetInt("discogs.requests_per_minute")
	cfg.Redis.URL = v.GetString("redis.url")
	cfg.RateLimit.Limit = v.GetInt("ratelimit.limit")
	cfg.RateLimit.VisitorLimit = v.GetInt("ratelimit.visitor_limit")
	cfg.Connections.Max = v.GetInt("connections.max")
	cfg.Collection.Fanout = v.GetInt("collection.fanout")
	cfg.PostHog.APIKey = v.GetString("posthog.api_key")
	cfg.PostHog.Endpoint = v.GetString("posthog.endpoint")

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"session.lifetime", &cfg.SessionLifetime},
		{"discogs.timeout", &cfg.Discogs.Timeout},
		{"cache.listing_ttl", &cfg.Cache.ListingTTL},
		{"cache.detail_ttl", &cfg.Cache.DetailTTL},
		{"ratelimit.window", &cfg.RateLimit.Window},
	}
	for _, d := range durations {
		parsed, err := time.ParseDuration(v.GetString(d.key))
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", envName(d.key), err)
		}
		*d.dst = parsed
	}

	// The shared store backs both the cache and the limiter unless told
	// otherwise.
	defaultBackend := BackendNone
	if cfg.Redis.URL != "" {
		defaultBackend = BackendRedis
	}
	v.SetDefault("cache.backend", defaultBackend)
	v.SetDefault("ratelimit.backend", defaultBackend)
	cfg.Cache.Backend = strings.ToLower(v.GetString("cache.backend"))
	cfg.RateLimit.Backend = strings.ToLower(v.GetString("ratelimit.backend"))

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.DB.Driver == "" {
		return fmt.Errorf("SPINDLE_DB_DRIVER is required (sqlite3, mysql, postgres)")
	}
	if c.DB.DSN == "" {
		return fmt.Errorf("SPINDLE_DB_DSN is required")
	}
	for _, b := range []struct{ key, val string }{
		{"cache.backend", c.Cache.Backend},
		{"ratelimit.backend", c.RateLimit.Backend},
	} {
		switch b.val {
		case BackendRedis:
			if c.Redis.URL == "" {
				return fmt.Errorf("SPINDLE_REDIS_URL is required when %s is redis", envName(b.key))
			}
		case BackendMemory, BackendNone:
		default:
			return fmt.Errorf("invalid %s %q (redis, memory, none)", envName(b.key), b.val)
		}
	}
	if c.IsProduction() && c.Redis.URL == "" {
		return fmt.Errorf("SPINDLE_REDIS_URL is required in production")
	}
	if c.RateLimit.Limit <= 0 {
		return fmt.Errorf("SPINDLE_RATELIMIT_LIMIT must be positive")
	}
	if c.RateLimit.VisitorLimit <= 0 || c.RateLimit.VisitorLimit > c.RateLimit.Limit {
		return fmt.Errorf("SPINDLE_RATELIMIT_VISITOR_LIMIT must be between 1 and SPINDLE_RATELIMIT_LIMIT")
	}
	return nil
}

// ValidateServe checks the settings only the serve command needs.
func (c *Config) ValidateServe() error {
	required := []struct{ key, val string }{
		{"oidc.issuer", c.OIDC.Issuer},
		{"oidc.client_id", c.OIDC.ClientID},
		{"oidc.client_secret", c.OIDC.ClientSecret},
		{"oidc.redirect_url", c.OIDC.RedirectURL},
		{"vault.key", c.VaultKey},
		{"discogs.consumer_key", c.Discogs.ConsumerKey},
		{"discogs.consumer_secret", c.Discogs.ConsumerSecret},
		{"discogs.callback_url", c.Discogs.CallbackURL},
	}
	for _, r := range required {
		if r.val == "" {
			return fmt.Errorf("%s is required", envName(r.key))
		}
	}
	return nil
}

func envName(key string) string {
	return "SPINDLE_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}
