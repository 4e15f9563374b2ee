package discogs

import "time"

// Credentials is a decrypted OAuth 1.0a access token pair. It lives only for
// the duration of one outbound call.
type Credentials struct {
	Token  string
	Secret string
}

type Pagination struct {
	Page    int `json:"page"`
	Pages   int `json:"pages"`
	PerPage int `json:"per_page"`
	Items   int `json:"items"`
}

// CollectionPage is the listing envelope of
// /users/{username}/collection/folders/{folder}/releases.
type CollectionPage struct {
	Pagination Pagination          `json:"pagination"`
	Releases   []CollectionRelease `json:"releases"`
}

// CollectionRelease is one owned copy. InstanceID identifies the copy, ID the
// release it is a copy of.
type CollectionRelease struct {
	ID               int64            `json:"id"`
	InstanceID       int64            `json:"instance_id"`
	DateAdded        time.Time        `json:"date_added"`
	Rating           int              `json:"rating"`
	BasicInformation BasicInformation `json:"basic_information"`
}

type BasicInformation struct {
	ID         int64    `json:"id"`
	Title      string   `json:"title"`
	Year       int      `json:"year"`
	Thumb      string   `json:"thumb"`
	CoverImage string   `json:"cover_image"`
	Formats    []Format `json:"formats"`
	Labels     []Label  `json:"labels"`
	Artists    []Artist `json:"artists"`
	Genres     []string `json:"genres"`
	Styles     []string `json:"styles"`
}

type Format struct {
	Name         string   `json:"name"`
	Qty          string   `json:"qty"`
	Text         string   `json:"text"`
	Descriptions []string `json:"descriptions"`
}

type Label struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	CatNo string `json:"catno"`
}

type Artist struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	// ANV is the artist name variation credited on this release.
	ANV  string `json:"anv"`
	Join string `json:"join"`
}

// Release is the /releases/{id} detail object.
type Release struct {
	ID        int64    `json:"id"`
	Title     string   `json:"title"`
	Year      int      `json:"year"`
	Country   string   `json:"country"`
	Notes     string   `json:"notes"`
	URI       string   `json:"uri"`
	Thumb     string   `json:"thumb"`
	Artists   []Artist `json:"artists"`
	Labels    []Label  `json:"labels"`
	Formats   []Format `json:"formats"`
	Genres    []string `json:"genres"`
	Styles    []string `json:"styles"`
	Tracklist []Track  `json:"tracklist"`
	Images    []Image  `json:"images"`
}

type Track struct {
	Position string `json:"position"`
	Title    string `json:"title"`
	Duration string `json:"duration"`
	Type     string `json:"type_"`
}

type Image struct {
	Type   string `json:"type"`
	URI    string `json:"uri"`
	URI150 string `json:"uri150"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// Identity is the account behind an access token.
type Identity struct {
	ID           int64  `json:"id"`
	Username     string `json:"username"`
	ResourceURL  string `json:"resource_url"`
	ConsumerName string `json:"consumer_name"`
}
