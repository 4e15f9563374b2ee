package collection

import (
	"regexp"
	"strings"
	"time"

	"github.com/joestump/spindle/internal/discogs"
)

// Item is the canonical shape of one owned copy.
type Item struct {
	ReleaseID    int64     `json:"release_id"`
	InstanceID   int64     `json:"instance_id"`
	ConnectionID string    `json:"connection_id"`
	Title        string    `json:"title"`
	Artist       string    `json:"artist"`
	Year         int       `json:"year,omitempty"`
	Thumb        string    `json:"thumb,omitempty"`
	CoverImage   string    `json:"cover_image,omitempty"`
	Format       string    `json:"format,omitempty"`
	Label        string    `json:"label,omitempty"`
	Genres       []string  `json:"genres"`
	Styles       []string  `json:"styles"`
	DateAdded    time.Time `json:"date_added"`
}

// Detail is the canonical shape of a release.
type Detail struct {
	ReleaseID     int64    `json:"release_id"`
	Title         string   `json:"title"`
	Artist        string   `json:"artist"`
	Year          int      `json:"year,omitempty"`
	Format        string   `json:"format,omitempty"`
	Label         string   `json:"label,omitempty"`
	CatalogNumber string   `json:"catalog_number,omitempty"`
	Country       string   `json:"country,omitempty"`
	Notes         string   `json:"notes,omitempty"`
	URL           string   `json:"url,omitempty"`
	Thumb         string   `json:"thumb,omitempty"`
	Genres        []string `json:"genres"`
	Styles        []string `json:"styles"`
	Tracklist     []Track  `json:"tracklist"`
	Images        []Image  `json:"images"`
}

type Track struct {
	Position string `json:"position,omitempty"`
	Title    string `json:"title"`
	Duration string `json:"duration,omitempty"`
}

type Image struct {
	Type   string `json:"type,omitempty"`
	URL    string `json:"url"`
	Thumb  string `json:"thumb,omitempty"`
	Width  int    `json:"width,omitempty"`
	Height int    `json:"height,omitempty"`
}

func normalizeItem(connectionID string, r discogs.CollectionRelease) Item {
	bi := r.BasicInformation
	id := bi.ID
	if id == 0 {
		id = r.ID
	}
	return Item{
		ReleaseID:    id,
		InstanceID:   r.InstanceID,
		ConnectionID: connectionID,
		Title:        bi.Title,
		Artist:       artistString(bi.Artists),
		Year:         bi.Year,
		Thumb:        bi.Thumb,
		CoverImage:   bi.CoverImage,
		Format:       formatString(bi.Formats),
		Label:        firstLabel(bi.Labels).Name,
		Genres:       nonNil(bi.Genres),
		Styles:       nonNil(bi.Styles),
		DateAdded:    r.DateAdded,
	}
}

func normalizeRelease(r *discogs.Release) Detail {
	label := firstLabel(r.Labels)
	d := Detail{
		ReleaseID:     r.ID,
		Title:         r.Title,
		Artist:        artistString(r.Artists),
		Year:          r.Year,
		Format:        formatString(r.Formats),
		Label:         label.Name,
		CatalogNumber: label.CatNo,
		Country:       r.Country,
		Notes:         strings.TrimSpace(r.Notes),
		URL:           r.URI,
		Thumb:         r.Thumb,
		Genres:        nonNil(r.Genres),
		Styles:        nonNil(r.Styles),
		Tracklist:     make([]Track, 0, len(r.Tracklist)),
		Images:        make([]Image, 0, len(r.Images)),
	}
	for _, t := range r.Tracklist {
		// Headings and index entries are not playable tracks.
		if t.Type != "" && t.Type != "track" {
			continue
		}
		d.Tracklist = append(d.Tracklist, Track{Position: t.Position, Title: t.Title, Duration: t.Duration})
	}
	for _, img := range r.Images {
		d.Images = append(d.Images, Image{Type: img.Type, URL: img.URI, Thumb: img.URI150, Width: img.Width, Height: img.Height})
	}
	return d
}

// disambiguation matches the " (2)" suffix Discogs appends to artists that
// share a name.
var disambiguation = regexp.MustCompile(`\s+\(\d+\)$`)

// artistString renders the credited artists as one display string, honoring
// the join each credit carries ("Duke Ellington & John Coltrane").
func artistString(artists []discogs.Artist) string {
	var b strings.Builder
	for i, a := range artists {
		name := a.ANV
		if name == "" {
			name = a.Name
		}
		b.WriteString(disambiguation.ReplaceAllString(strings.TrimSpace(name), ""))
		if i == len(artists)-1 {
			break
		}
		switch join := strings.TrimSpace(a.Join); join {
		case "", ",":
			b.WriteString(", ")
		default:
			b.WriteString(" " + join + " ")
		}
	}
	return b.String()
}

// formatString renders formats as "2×Vinyl, LP, Album + CD".
func formatString(formats []discogs.Format) string {
	parts := make([]string, 0, len(formats))
	for _, f := range formats {
		s := f.Name
		if f.Qty != "" && f.Qty != "1" {
			s = f.Qty + "×" + s
		}
		if len(f.Descriptions) > 0 {
			s += ", " + strings.Join(f.Descriptions, ", ")
		}
		parts = append(parts, s)
	}
	return strings.Join(parts, " + ")
}

func firstLabel(labels []discogs.Label) discogs.Label {
	if len(labels) == 0 {
		return discogs.Label{}
	}
	return labels[0]
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
