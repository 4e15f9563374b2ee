package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/joestump/spindle/internal/collection"
	"github.com/joestump/spindle/internal/discogs"
)

func TestWriteServiceError(t *testing.T) {
	remoteThrottle := &collection.RateLimitError{
		Source:  collection.RateLimitRemote,
		Status:  http.StatusTooManyRequests,
		ResetAt: time.Now().Add(30 * time.Second),
		Err: &collection.UpstreamError{
			Op:     "collection",
			Status: http.StatusTooManyRequests,
			Err:    &discogs.APIError{Status: http.StatusTooManyRequests, Message: "slow down"},
		},
	}

	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"local budget", &collection.RateLimitError{Source: collection.RateLimitLocal, ResetAt: time.Now().Add(time.Minute)}, http.StatusTooManyRequests, "RATE_LIMITED"},
		{"remote throttle", remoteThrottle, http.StatusTooManyRequests, "RATE_LIMITED"},
		{"not connected", collection.ErrNotConnected, http.StatusConflict, "NOT_CONNECTED"},
		{"access denied", collection.ErrAccessDenied, http.StatusForbidden, "FORBIDDEN"},
		{"not found", fmt.Errorf("connection x: %w", collection.ErrNotFound), http.StatusNotFound, "NOT_FOUND"},
		{"capacity", collection.ErrCapacityExceeded, http.StatusConflict, "CAPACITY_EXCEEDED"},
		{"already connected", collection.ErrAlreadyConnected, http.StatusConflict, "ALREADY_CONNECTED"},
		{"concurrent write", fmt.Errorf("user u: %w", collection.ErrConflict), http.StatusConflict, "CONFLICT"},
		{"upstream", &collection.UpstreamError{Op: "release", Status: 500, Err: errors.New("boom")}, http.StatusBadGateway, "UPSTREAM_ERROR"},
		{"decryption", fmt.Errorf("connection c: %w", collection.ErrDecryption), http.StatusInternalServerError, "CREDENTIALS_UNAVAILABLE"},
		{"unknown", errors.New("disk full"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			writeServiceError(rec, zap.NewNop(), tt.err)

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d; body: %s", rec.Code, tt.wantStatus, rec.Body.String())
			}
			var body errorBody
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body.Code != tt.wantCode {
				t.Errorf("code = %q, want %q", body.Code, tt.wantCode)
			}
			if tt.wantStatus == http.StatusTooManyRequests && rec.Header().Get("Retry-After") == "" {
				t.Error("missing Retry-After header")
			}
		})
	}
}
