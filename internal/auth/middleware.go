package auth

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/alexedwards/scs/v2"

	"github.com/joestump/spindle/internal/store"
)

type contextKey string

const UserContextKey contextKey = "user"

// UserSource loads the user a session points at.
type UserSource interface {
	GetByID(ctx context.Context, id string) (*store.User, error)
}

// Middleware attaches the session's user to API requests.
type Middleware struct {
	sessions *scs.SessionManager
	users    UserSource
}

// NewMiddleware creates a new auth Middleware.
func NewMiddleware(sm *scs.SessionManager, users UserSource) *Middleware {
	return &Middleware{sessions: sm, users: users}
}

// OptionalUser sets the *store.User on the request context when the session
// has one and passes anonymous requests through unchanged.
func (m *Middleware) OptionalUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if user := m.load(r); user != nil {
			r = r.WithContext(context.WithValue(r.Context(), UserContextKey, user))
		}
		next.ServeHTTP(w, r)
	})
}

// RequireUser rejects requests without a valid session with a JSON 401.
func (m *Middleware) RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := m.load(r)
		if user == nil {
			writeUnauthorized(w)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), UserContextKey, user)))
	})
}

func (m *Middleware) load(r *http.Request) *store.User {
	userID := m.sessions.GetString(r.Context(), SessionUserIDKey)
	if userID == "" {
		return nil
	}
	user, err := m.users.GetByID(r.Context(), userID)
	if err != nil {
		// Session references a deleted user.
		_ = m.sessions.Destroy(r.Context())
		return nil
	}
	return user
}

// UserFromContext retrieves the authenticated user from the context.
func UserFromContext(ctx context.Context) *store.User {
	u, _ := ctx.Value(UserContextKey).(*store.User)
	return u
}

func writeUnauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": "authentication required", "code": "UNAUTHORIZED"})
}
