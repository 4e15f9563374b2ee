package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/joestump/spindle/internal/collection"
)

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// writeError writes a JSON error response with the given HTTP status code.
func writeError(w http.ResponseWriter, status int, message, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorBody{Error: message, Code: code})
}

// writeJSON writes a JSON response with the given HTTP status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeServiceError maps collection error kinds to responses. Upstream
// detail is logged, never echoed to the client.
func writeServiceError(w http.ResponseWriter, log *zap.Logger, err error) {
	var rlErr *collection.RateLimitError
	var upErr *collection.UpstreamError
	switch {
	case errors.As(err, &rlErr):
		secs := int(rlErr.RetryAfter(time.Now()) / time.Second)
		w.Header().Set("Retry-After", strconv.Itoa(secs))
		writeError(w, http.StatusTooManyRequests, "Discogs rate limit reached, retry later", "RATE_LIMITED")
	case errors.Is(err, collection.ErrNotConnected):
		writeError(w, http.StatusConflict, "no Discogs account connected", "NOT_CONNECTED")
	case errors.Is(err, collection.ErrAccessDenied):
		writeError(w, http.StatusForbidden, "connection belongs to another user", "FORBIDDEN")
	case errors.Is(err, collection.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found", "NOT_FOUND")
	case errors.Is(err, collection.ErrCapacityExceeded):
		writeError(w, http.StatusConflict, "maximum number of connected accounts reached", "CAPACITY_EXCEEDED")
	case errors.Is(err, collection.ErrAlreadyConnected):
		writeError(w, http.StatusConflict, "Discogs account is already connected", "ALREADY_CONNECTED")
	case errors.Is(err, collection.ErrConflict):
		writeError(w, http.StatusConflict, "connections changed concurrently, retry", "CONFLICT")
	case errors.As(err, &upErr):
		writeError(w, http.StatusBadGateway, "Discogs request failed", "UPSTREAM_ERROR")
	case errors.Is(err, collection.ErrDecryption):
		log.Error("stored credentials could not be decrypted", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "stored credentials are unusable", "CREDENTIALS_UNAVAILABLE")
	default:
		log.Error("request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error", "INTERNAL_ERROR")
	}
}
