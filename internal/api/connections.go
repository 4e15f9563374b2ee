package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/alexedwards/scs/v2"
	"github.com/dghubble/oauth1"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/joestump/spindle/internal/auth"
	"github.com/joestump/spindle/internal/store"
	"github.com/joestump/spindle/internal/vault"
)

const maxDisplayName = 100

type connectionsHandler struct {
	svc        CollectionService
	handshaker Handshaker
	sessions   *scs.SessionManager
	vault      *vault.Vault
	log        *zap.Logger
}

// ConnectionResponse is a connection as the API returns it. Label is the
// name to show: the display name, or the Discogs username when none is set.
type ConnectionResponse struct {
	*store.Connection
	Label string `json:"label"`
}

func newConnectionResponse(c *store.Connection) ConnectionResponse {
	return ConnectionResponse{Connection: c, Label: c.Label()}
}

// ConnectionListResponse is the body of GET /api/v1/connections.
type ConnectionListResponse struct {
	Connections []ConnectionResponse `json:"connections"`
}

// RenameConnectionRequest is the body of PATCH /api/v1/connections/{id}.
type RenameConnectionRequest struct {
	DisplayName string `json:"display_name"`
}

// List returns the caller's connections, earliest first. Credentials are
// never serialized.
// GET /api/v1/connections
func (h *connectionsHandler) List(w http.ResponseWriter, r *http.Request) {
	user := auth.UserFromContext(r.Context())
	conns, err := h.svc.ListConnections(r.Context(), user.ID)
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	resp := ConnectionListResponse{Connections: make([]ConnectionResponse, 0, len(conns))}
	for _, c := range conns {
		resp.Connections = append(resp.Connections, newConnectionResponse(c))
	}
	writeJSON(w, http.StatusOK, resp)
}

// Connect starts linking a Discogs account and redirects to Discogs.
// GET /api/v1/connections/connect
func (h *connectionsHandler) Connect(w http.ResponseWriter, r *http.Request) {
	user := auth.UserFromContext(r.Context())
	if err := h.svc.CheckCapacity(r.Context(), user.ID); err != nil {
		writeServiceError(w, h.log, err)
		return
	}

	token, secret, err := h.handshaker.RequestToken()
	if err != nil {
		h.log.Warn("discogs request token failed", zap.String("user_id", user.ID), zap.Error(err))
		writeError(w, http.StatusBadGateway, "could not start Discogs authorization", "UPSTREAM_ERROR")
		return
	}
	sealed, err := h.vault.Encrypt(secret)
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	authURL, err := h.handshaker.AuthorizationURL(token)
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}

	h.sessions.Put(r.Context(), auth.SessionDiscogsRequestToken, token)
	h.sessions.Put(r.Context(), auth.SessionDiscogsRequestSecret, sealed)
	http.Redirect(w, r, authURL, http.StatusFound)
}

// Callback completes the handshake Discogs redirects back to.
// GET /api/v1/connections/callback?oauth_token=&oauth_verifier=
func (h *connectionsHandler) Callback(w http.ResponseWriter, r *http.Request) {
	user := auth.UserFromContext(r.Context())

	token, verifier, err := oauth1.ParseAuthorizationCallback(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing oauth_token or oauth_verifier", "BAD_REQUEST")
		return
	}
	// The request token is single use; drop it whatever happens next.
	pending := h.sessions.PopString(r.Context(), auth.SessionDiscogsRequestToken)
	sealed := h.sessions.PopString(r.Context(), auth.SessionDiscogsRequestSecret)
	if pending == "" || pending != token {
		writeError(w, http.StatusBadRequest, "unknown or expired authorization request", "BAD_REQUEST")
		return
	}
	secret, err := h.vault.Decrypt(sealed)
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}

	creds, err := h.handshaker.AccessToken(token, secret, verifier)
	if err != nil {
		h.log.Warn("discogs access token failed", zap.String("user_id", user.ID), zap.Error(err))
		writeError(w, http.StatusBadGateway, "Discogs authorization failed", "UPSTREAM_ERROR")
		return
	}

	conn, err := h.svc.Connect(r.Context(), user.ID, creds)
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, newConnectionResponse(conn))
}

// Rename sets a connection's display name.
// PATCH /api/v1/connections/{id}
func (h *connectionsHandler) Rename(w http.ResponseWriter, r *http.Request) {
	user := auth.UserFromContext(r.Context())

	var req RenameConnectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
		return
	}
	name := strings.TrimSpace(req.DisplayName)
	if name == "" || utf8.RuneCountInString(name) > maxDisplayName {
		writeError(w, http.StatusBadRequest, "display_name must be 1-100 characters", "BAD_REQUEST")
		return
	}

	conn, err := h.svc.Rename(r.Context(), user.ID, chi.URLParam(r, "id"), name)
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, newConnectionResponse(conn))
}

// SetPrimary makes a connection the caller's default.
// POST /api/v1/connections/{id}/primary
func (h *connectionsHandler) SetPrimary(w http.ResponseWriter, r *http.Request) {
	user := auth.UserFromContext(r.Context())
	if err := h.svc.SetPrimary(r.Context(), user.ID, chi.URLParam(r, "id")); err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Disconnect unlinks an account and deletes its credentials.
// DELETE /api/v1/connections/{id}
func (h *connectionsHandler) Disconnect(w http.ResponseWriter, r *http.Request) {
	user := auth.UserFromContext(r.Context())
	if err := h.svc.Disconnect(r.Context(), user.ID, chi.URLParam(r, "id")); err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
