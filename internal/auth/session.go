package auth

import (
	"net/http"
	"time"

	"github.com/alexedwards/scs/mysqlstore"
	"github.com/alexedwards/scs/postgresstore"
	"github.com/alexedwards/scs/sqlite3store"
	"github.com/alexedwards/scs/v2"
	"github.com/jmoiron/sqlx"
)

// Session keys.
const (
	SessionUserIDKey = "user_id"

	// The Discogs handshake keeps its request token between the redirect to
	// Discogs and the callback. The secret half is stored vault-sealed.
	SessionDiscogsRequestToken  = "discogs_request_token"
	SessionDiscogsRequestSecret = "discogs_request_secret"
)

// NewSessionManager creates an SCS session manager backed by the application DB.
// The driver parameter selects the store: "mysql", "postgres", or "sqlite3"
// (default).
func NewSessionManager(db *sqlx.DB, driver string, lifetime time.Duration, secure bool) *scs.SessionManager {
	sm := scs.New()
	switch driver {
	case "mysql":
		sm.Store = mysqlstore.New(db.DB)
	case "postgres":
		sm.Store = postgresstore.New(db.DB)
	default:
		sm.Store = sqlite3store.New(db.DB)
	}
	sm.Lifetime = lifetime
	sm.Cookie.Name = "spindle_session"
	sm.Cookie.HttpOnly = true
	sm.Cookie.Secure = secure
	sm.Cookie.SameSite = http.SameSiteLaxMode
	return sm
}
