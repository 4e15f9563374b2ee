package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/joestump/spindle/internal/config"
)

func setBase(t *testing.T) {
	t.Helper()
	t.Chdir(t.TempDir())
	t.Setenv("SPINDLE_DB_DRIVER", "sqlite3")
	t.Setenv("SPINDLE_DB_DSN", "file:spindle.db")
}

func TestLoad_Defaults(t *testing.T) {
	setBase(t)

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTP.Addr != ":8080" {
		t.Errorf("HTTP.Addr = %q, want :8080", cfg.HTTP.Addr)
	}
	if cfg.Cache.ListingTTL != 600*time.Second || cfg.Cache.DetailTTL != time.Hour {
		t.Errorf("cache TTLs = %v/%v, want 10m/1h", cfg.Cache.ListingTTL, cfg.Cache.DetailTTL)
	}
	if cfg.RateLimit.Limit != 60 || cfg.RateLimit.Window != time.Minute {
		t.Errorf("rate limit = %d/%v, want 60/1m", cfg.RateLimit.Limit, cfg.RateLimit.Window)
	}
	if cfg.RateLimit.VisitorLimit != 10 {
		t.Errorf("visitor limit = %d, want 10", cfg.RateLimit.VisitorLimit)
	}
	if cfg.Cache.Backend != config.BackendNone || cfg.RateLimit.Backend != config.BackendNone {
		t.Errorf("backends = %q/%q, want none without redis", cfg.Cache.Backend, cfg.RateLimit.Backend)
	}
	if cfg.Connections.Max != 2 {
		t.Errorf("Connections.Max = %d, want 2", cfg.Connections.Max)
	}
	if cfg.Discogs.Timeout != 10*time.Second {
		t.Errorf("Discogs.Timeout = %v, want 10s", cfg.Discogs.Timeout)
	}
}

func TestLoad_RedisSelectsBackends(t *testing.T) {
	setBase(t)
	t.Setenv("SPINDLE_REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("SPINDLE_CACHE_BACKEND", "memory")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Cache.Backend != config.BackendMemory {
		t.Errorf("Cache.Backend = %q, want memory", cfg.Cache.Backend)
	}
	if cfg.RateLimit.Backend != config.BackendRedis {
		t.Errorf("RateLimit.Backend = %q, want redis", cfg.RateLimit.Backend)
	}
}

func TestLoad_ConfigFile(t *testing.T) {
	setBase(t)
	yaml := "cache:\n  listing_ttl: 30s\nconnections:\n  max: 3\n"
	if err := os.WriteFile(filepath.Join(".", "spindle.yaml"), []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Cache.ListingTTL != 30*time.Second {
		t.Errorf("Cache.ListingTTL = %v, want 30s", cfg.Cache.ListingTTL)
	}
	if cfg.Connections.Max != 3 {
		t.Errorf("Connections.Max = %d, want 3", cfg.Connections.Max)
	}
}

func TestLoad_Errors(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"missing driver", map[string]string{"SPINDLE_DB_DRIVER": ""}, "SPINDLE_DB_DRIVER is required"},
		{"bad duration", map[string]string{"SPINDLE_CACHE_DETAIL_TTL": "soon"}, "invalid SPINDLE_CACHE_DETAIL_TTL"},
		{"redis backend without url", map[string]string{"SPINDLE_RATELIMIT_BACKEND": "redis"}, "SPINDLE_REDIS_URL is required"},
		{"unknown backend", map[string]string{"SPINDLE_CACHE_BACKEND": "memcached"}, "invalid SPINDLE_CACHE_BACKEND"},
		{"production without redis", map[string]string{"SPINDLE_APP_ENV": "production"}, "required in production"},
		{"visitor limit above limit", map[string]string{"SPINDLE_RATELIMIT_VISITOR_LIMIT": "61"}, "SPINDLE_RATELIMIT_VISITOR_LIMIT"},
		{"zero visitor limit", map[string]string{"SPINDLE_RATELIMIT_VISITOR_LIMIT": "0"}, "SPINDLE_RATELIMIT_VISITOR_LIMIT"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			setBase(t)
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			_, err := config.Load()
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("Load error = %v, want containing %q", err, tc.want)
			}
		})
	}
}

func TestValidateServe(t *testing.T) {
	setBase(t)
	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := cfg.ValidateServe(); err == nil || !strings.Contains(err.Error(), "SPINDLE_OIDC_ISSUER") {
		t.Fatalf("ValidateServe = %v, want missing issuer", err)
	}

	cfg.OIDC.Issuer = "https://issuer"
	cfg.OIDC.ClientID = "id"
	cfg.OIDC.ClientSecret = "secret"
	cfg.OIDC.RedirectURL = "http://localhost/auth/callback"
	cfg.Discogs.ConsumerKey = "ck"
	cfg.Discogs.ConsumerSecret = "cs"
	cfg.Discogs.CallbackURL = "http://localhost/api/v1/connections/callback"
	if err := cfg.ValidateServe(); err == nil || !strings.Contains(err.Error(), "SPINDLE_VAULT_KEY") {
		t.Fatalf("ValidateServe = %v, want missing vault key", err)
	}

	cfg.VaultKey = strings.Repeat("ab", 32)
	if err := cfg.ValidateServe(); err != nil {
		t.Fatalf("ValidateServe = %v, want nil", err)
	}
}
