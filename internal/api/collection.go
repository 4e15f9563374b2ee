package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/joestump/spindle/internal/auth"
	"github.com/joestump/spindle/internal/collection"
	"github.com/joestump/spindle/internal/store"
)

type collectionHandler struct {
	svc   CollectionService
	users auth.UserSource
	log   *zap.Logger
}

// Collection returns one page of a user's collection.
// GET /api/v1/users/{userID}/collection?page=&per_page=&connection_id=&aggregate=&include_excluded=&edit=
//
// Visitors see the public view: excluded releases are always hidden and the
// exclusion set is never returned.
func (h *collectionHandler) Collection(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := h.owner(w, r)
	if !ok {
		return
	}
	page, perPage := parsePage(r)

	req := collection.Request{
		OwnerID:         ownerID,
		ConnectionID:    r.URL.Query().Get("connection_id"),
		Aggregate:       queryBool(r, "aggregate"),
		Page:            page,
		PerPage:         perPage,
		IncludeExcluded: queryBool(r, "include_excluded"),
		EditMode:        queryBool(r, "edit"),
	}
	if viewer := auth.UserFromContext(r.Context()); viewer != nil {
		req.ViewerID = viewer.ID
	}

	res, err := h.svc.GetCollection(r.Context(), req)
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Release returns release detail read through one of the user's connections.
// Releases the owner has excluded are 404 for everyone else.
// GET /api/v1/users/{userID}/releases/{releaseID}?connection_id=
func (h *collectionHandler) Release(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := h.owner(w, r)
	if !ok {
		return
	}
	releaseID, ok := releaseIDParam(chi.URLParam(r, "releaseID"))
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid release id", "BAD_REQUEST")
		return
	}

	req := collection.DetailRequest{
		OwnerID:      ownerID,
		ReleaseID:    releaseID,
		ConnectionID: r.URL.Query().Get("connection_id"),
	}
	if viewer := auth.UserFromContext(r.Context()); viewer != nil {
		req.ViewerID = viewer.ID
	}

	d, err := h.svc.GetItemDetail(r.Context(), req)
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// owner resolves {userID}, accepting "me" for the signed-in viewer.
func (h *collectionHandler) owner(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := chi.URLParam(r, "userID")
	if id == "me" {
		viewer := auth.UserFromContext(r.Context())
		if viewer == nil {
			writeError(w, http.StatusUnauthorized, "authentication required", "UNAUTHORIZED")
			return "", false
		}
		return viewer.ID, true
	}

	u, err := h.users.GetByID(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "user not found", "NOT_FOUND")
		return "", false
	}
	if err != nil {
		writeServiceError(w, h.log, err)
		return "", false
	}
	return u.ID, true
}
