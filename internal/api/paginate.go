package api

import (
	"net/http"
	"strconv"

	"github.com/joestump/spindle/internal/collection"
	"github.com/joestump/spindle/internal/discogs"
)

// parsePage extracts page and per_page from query parameters. page defaults
// to 1; per_page defaults to collection.DefaultPerPage and is silently capped
// at the Discogs maximum.
func parsePage(r *http.Request) (page, perPage int) {
	page, perPage = 1, collection.DefaultPerPage
	if p, err := strconv.Atoi(r.URL.Query().Get("page")); err == nil && p > 0 {
		page = p
	}
	if n, err := strconv.Atoi(r.URL.Query().Get("per_page")); err == nil && n > 0 {
		perPage = n
	}
	if perPage > discogs.MaxPerPage {
		perPage = discogs.MaxPerPage
	}
	return page, perPage
}

// queryBool reads a boolean query flag; "1", "true" and "yes" are true.
func queryBool(r *http.Request, key string) bool {
	switch r.URL.Query().Get(key) {
	case "1", "true", "yes":
		return true
	}
	return false
}

// releaseIDParam parses a positive release id from the path.
func releaseIDParam(s string) (int64, bool) {
	id, err := strconv.ParseInt(s, 10, 64)
	return id, err == nil && id > 0
}
