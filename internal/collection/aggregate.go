package collection

import "github.com/joestump/spindle/internal/discogs"

// Pagination describes the page returned to the caller. For an aggregate view
// Pages is the largest page count across sources and Items their sum; HasMore
// is true when any source has pages beyond Page. Sources with unequal sizes
// make this an approximation: a later page may be short or empty for some
// sources.
type Pagination struct {
	Page    int  `json:"page"`
	PerPage int  `json:"per_page"`
	Pages   int  `json:"pages"`
	Items   int  `json:"items"`
	HasMore bool `json:"has_more"`
}

// sourcePage is one connection's normalized page, unfiltered. It is what the
// listing cache stores.
type sourcePage struct {
	Items      []Item             `json:"items"`
	Pagination discogs.Pagination `json:"pagination"`
}

// merge concatenates source pages in connection order, drops excluded
// releases unless includeExcluded, and keeps the first occurrence of each
// instance id.
func merge(sources []*sourcePage, excluded map[int64]struct{}, includeExcluded bool, page, perPage int) ([]Item, Pagination) {
	p := Pagination{Page: page, PerPage: perPage}
	items := []Item{}
	seen := make(map[int64]struct{})

	for _, src := range sources {
		if src == nil {
			continue
		}
		if src.Pagination.Pages > p.Pages {
			p.Pages = src.Pagination.Pages
		}
		p.Items += src.Pagination.Items
		if src.Pagination.Pages > page {
			p.HasMore = true
		}

		for _, it := range src.Items {
			if _, ok := excluded[it.ReleaseID]; ok && !includeExcluded {
				continue
			}
			if _, dup := seen[it.InstanceID]; dup {
				continue
			}
			seen[it.InstanceID] = struct{}{}
			items = append(items, it)
		}
	}
	return items, p
}
