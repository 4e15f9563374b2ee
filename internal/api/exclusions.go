package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/joestump/spindle/internal/auth"
)

type exclusionsHandler struct {
	svc CollectionService
	log *zap.Logger
}

// ExclusionListResponse is the body of GET /api/v1/exclusions.
type ExclusionListResponse struct {
	ReleaseIDs []int64 `json:"release_ids"`
}

// List returns the caller's hidden release ids.
// GET /api/v1/exclusions
func (h *exclusionsHandler) List(w http.ResponseWriter, r *http.Request) {
	user := auth.UserFromContext(r.Context())
	ids, err := h.svc.Exclusions(r.Context(), user.ID)
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	if ids == nil {
		ids = []int64{}
	}
	writeJSON(w, http.StatusOK, ExclusionListResponse{ReleaseIDs: ids})
}

// Put hides a release from public views.
// PUT /api/v1/exclusions/{releaseID}
func (h *exclusionsHandler) Put(w http.ResponseWriter, r *http.Request) {
	h.set(w, r, true)
}

// Delete shows a release in public views again.
// DELETE /api/v1/exclusions/{releaseID}
func (h *exclusionsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	h.set(w, r, false)
}

func (h *exclusionsHandler) set(w http.ResponseWriter, r *http.Request, excluded bool) {
	user := auth.UserFromContext(r.Context())
	releaseID, ok := releaseIDParam(chi.URLParam(r, "releaseID"))
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid release id", "BAD_REQUEST")
		return
	}
	if err := h.svc.SetExcluded(r.Context(), user.ID, releaseID, excluded); err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
