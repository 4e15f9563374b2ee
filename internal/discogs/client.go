// Package discogs is a minimal OAuth 1.0a client for the Discogs API: the
// collection listing, release detail and identity endpoints plus the
// three-legged handshake used to link an account.
package discogs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/dghubble/oauth1"
	"golang.org/x/time/rate"

	"github.com/joestump/spindle/internal/build"
	"github.com/joestump/spindle/internal/metrics"
)

const (
	DefaultBaseURL      = "https://api.discogs.com"
	DefaultAuthorizeURL = "https://www.discogs.com/oauth/authorize"
	DefaultTimeout      = 10 * time.Second

	// MaxPerPage is the largest page size Discogs honors.
	MaxPerPage = 100

	mediaType     = "application/vnd.discogs.v2.discogs+json"
	maxErrorBody  = 4 << 10
	maxResultBody = 8 << 20
)

// APIError is a non-2xx response from Discogs.
type APIError struct {
	Status  int
	Message string
	// RetryAfter is set when Discogs throttled the call and said for how long.
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("discogs: HTTP %d", e.Status)
	}
	return fmt.Sprintf("discogs: HTTP %d: %s", e.Status, e.Message)
}

// Options configure a Client.
type Options struct {
	ConsumerKey    string
	ConsumerSecret string
	BaseURL        string
	AuthorizeURL   string
	CallbackURL    string
	// Timeout bounds every outbound call, handshake included.
	Timeout time.Duration
	// RequestsPerMinute smooths outbound calls in this process. Zero
	// disables smoothing.
	RequestsPerMinute int
	// HTTPClient supplies the base transport. Nil means http.DefaultClient.
	HTTPClient *http.Client
}

// Client signs and issues Discogs calls. It is safe for concurrent use; the
// access token is passed per call so one Client serves every connection.
type Client struct {
	config   *oauth1.Config
	baseURL  string
	timeout  time.Duration
	http     *http.Client
	throttle *rate.Limiter
}

// New returns a Client. Consumer key and secret are required.
func New(opts Options) (*Client, error) {
	if opts.ConsumerKey == "" || opts.ConsumerSecret == "" {
		return nil, errors.New("discogs: consumer key and secret are required")
	}
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.AuthorizeURL == "" {
		opts.AuthorizeURL = DefaultAuthorizeURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}
	base := strings.TrimRight(opts.BaseURL, "/")
	transport := &userAgentTransport{base: opts.HTTPClient.Transport, userAgent: build.UserAgent()}

	c := &Client{
		config: &oauth1.Config{
			ConsumerKey:    opts.ConsumerKey,
			ConsumerSecret: opts.ConsumerSecret,
			CallbackURL:    opts.CallbackURL,
			Endpoint: oauth1.Endpoint{
				RequestTokenURL: base + "/oauth/request_token",
				AuthorizeURL:    opts.AuthorizeURL,
				AccessTokenURL:  base + "/oauth/access_token",
			},
			HTTPClient: &http.Client{Transport: transport, Timeout: opts.Timeout},
		},
		baseURL: base,
		timeout: opts.Timeout,
		http:    &http.Client{Transport: transport},
	}
	if opts.RequestsPerMinute > 0 {
		c.throttle = rate.NewLimiter(rate.Limit(float64(opts.RequestsPerMinute)/60.0), 1)
	}
	return c, nil
}

// Collection fetches one page of username's "All" folder, newest additions
// first.
func (c *Client) Collection(ctx context.Context, creds Credentials, username string, page, perPage int) (*CollectionPage, error) {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("per_page", strconv.Itoa(perPage))
	q.Set("sort", "added")
	q.Set("sort_order", "desc")

	var out CollectionPage
	path := "/users/" + url.PathEscape(username) + "/collection/folders/0/releases"
	if err := c.get(ctx, creds, "collection", path, q, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Release fetches the detail object for a release id.
func (c *Client) Release(ctx context.Context, creds Credentials, releaseID int64) (*Release, error) {
	var out Release
	path := "/releases/" + strconv.FormatInt(releaseID, 10)
	if err := c.get(ctx, creds, "release", path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Identity returns the account the credentials belong to.
func (c *Client) Identity(ctx context.Context, creds Credentials) (*Identity, error) {
	var out Identity
	if err := c.get(ctx, creds, "identity", "/oauth/identity", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) get(ctx context.Context, creds Credentials, endpoint, path string, query url.Values, out any) error {
	if c.throttle != nil {
		if err := c.throttle.Wait(ctx); err != nil {
			return err
		}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", mediaType)

	// The signing transport wraps the configured client's transport.
	signed := c.config.Client(context.WithValue(ctx, oauth1.HTTPClient, c.http), oauth1.NewToken(creds.Token, creds.Secret))

	start := time.Now()
	resp, err := signed.Do(req)
	metrics.DiscogsRequestDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.DiscogsRequestsTotal.WithLabelValues(endpoint, "error").Inc()
		return fmt.Errorf("discogs %s: %w", endpoint, err)
	}
	defer resp.Body.Close()
	metrics.DiscogsRequestsTotal.WithLabelValues(endpoint, strconv.Itoa(resp.StatusCode)).Inc()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return readAPIError(resp)
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResultBody)).Decode(out); err != nil {
		return fmt.Errorf("discogs %s: decode response: %w", endpoint, err)
	}
	return nil
}

func readAPIError(resp *http.Response) *APIError {
	apiErr := &APIError{Status: resp.StatusCode}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var payload struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &payload) == nil && payload.Message != "" {
		apiErr.Message = payload.Message
	} else {
		apiErr.Message = strings.TrimSpace(string(body))
	}
	if s := resp.Header.Get("Retry-After"); s != "" {
		if secs, err := strconv.Atoi(s); err == nil && secs > 0 {
			apiErr.RetryAfter = time.Duration(secs) * time.Second
		}
	}
	return apiErr
}

// userAgentTransport stamps every request, handshake included, with the
// User-Agent Discogs requires.
type userAgentTransport struct {
	base      http.RoundTripper
	userAgent string
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	r := req.Clone(req.Context())
	r.Header.Set("User-Agent", t.userAgent)
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(r)
}
