package auth

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/alexedwards/scs/v2"
	"go.uber.org/zap"

	"github.com/joestump/spindle/internal/store"
)

const (
	cookieState        = "__auth_state"
	cookieCodeVerifier = "__auth_pkce"
	cookieRedirect     = "__auth_redirect"
)

// Authenticator is the part of Provider the login handlers use.
type Authenticator interface {
	AuthCodeURL(state, codeChallenge string) string
	Authenticate(ctx context.Context, code, codeVerifier string) (*Identity, error)
}

// UserUpserter records a signed-in identity as a local user.
type UserUpserter interface {
	Upsert(ctx context.Context, provider, subject, email, displayName string) (*store.User, error)
}

// Handlers serve the OIDC login flow.
type Handlers struct {
	provider     Authenticator
	sessions     *scs.SessionManager
	users        UserUpserter
	secureCookie bool
	log          *zap.Logger
}

// NewHandlers creates login Handlers.
func NewHandlers(p Authenticator, sm *scs.SessionManager, users UserUpserter, secureCookie bool, log *zap.Logger) *Handlers {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handlers{provider: p, sessions: sm, users: users, secureCookie: secureCookie, log: log.Named("auth")}
}

// Login starts the authorization code flow with PKCE.
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	state, err := RandomString(32)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	verifier, challenge, err := GeneratePKCE()
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	h.setPreAuthCookie(w, cookieState, state)
	h.setPreAuthCookie(w, cookieCodeVerifier, verifier)
	h.setPreAuthCookie(w, cookieRedirect, safeRedirect(r.URL.Query().Get("redirect")))

	http.Redirect(w, r, h.provider.AuthCodeURL(state, challenge), http.StatusFound)
}

// Callback completes the flow and starts a session.
func (h *Handlers) Callback(w http.ResponseWriter, r *http.Request) {
	stateCookie, err := r.Cookie(cookieState)
	if err != nil || stateCookie.Value == "" || stateCookie.Value != r.URL.Query().Get("state") {
		http.Error(w, "invalid state", http.StatusBadRequest)
		return
	}
	verifierCookie, err := r.Cookie(cookieCodeVerifier)
	if err != nil {
		http.Error(w, "missing code verifier", http.StatusBadRequest)
		return
	}

	ident, err := h.provider.Authenticate(r.Context(), r.URL.Query().Get("code"), verifierCookie.Value)
	if err != nil {
		h.log.Warn("login failed", zap.Error(err))
		http.Error(w, "authentication failed", http.StatusUnauthorized)
		return
	}

	user, err := h.users.Upsert(r.Context(), ident.Issuer, ident.Subject, ident.Email, ident.Name)
	if err != nil {
		h.log.Error("user upsert failed", zap.String("subject", ident.Subject), zap.Error(err))
		http.Error(w, "user record error", http.StatusInternalServerError)
		return
	}

	if err := h.sessions.RenewToken(r.Context()); err != nil {
		http.Error(w, "session error", http.StatusInternalServerError)
		return
	}
	h.sessions.Put(r.Context(), SessionUserIDKey, user.ID)

	redirect := "/"
	if c, err := r.Cookie(cookieRedirect); err == nil {
		redirect = safeRedirect(c.Value)
	}
	clearCookie(w, cookieState)
	clearCookie(w, cookieCodeVerifier)
	clearCookie(w, cookieRedirect)

	h.log.Info("user signed in", zap.String("user_id", user.ID))
	http.Redirect(w, r, redirect, http.StatusFound)
}

// Logout destroys the session.
func (h *Handlers) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.Destroy(r.Context()); err != nil {
		http.Error(w, "logout error", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// safeRedirect only allows local absolute paths.
func safeRedirect(s string) string {
	if !strings.HasPrefix(s, "/") || strings.HasPrefix(s, "//") || strings.HasPrefix(s, "/\\") {
		return "/"
	}
	return s
}

func (h *Handlers) setPreAuthCookie(w http.ResponseWriter, name, value string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   300,
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})
}

func clearCookie(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:    name,
		Value:   "",
		Path:    "/",
		MaxAge:  -1,
		Expires: time.Unix(0, 0),
	})
}
