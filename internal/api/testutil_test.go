package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alexedwards/scs/v2"
	"go.uber.org/zap"

	"github.com/joestump/spindle/internal/api"
	"github.com/joestump/spindle/internal/auth"
	"github.com/joestump/spindle/internal/collection"
	"github.com/joestump/spindle/internal/discogs"
	"github.com/joestump/spindle/internal/ratelimit"
	"github.com/joestump/spindle/internal/store"
	"github.com/joestump/spindle/internal/testutil"
	"github.com/joestump/spindle/internal/vault"
)

// fakeDiscogs answers for accounts whose credentials are
// "tok-<username>"/"sec-<username>".
type fakeDiscogs struct {
	mu    sync.Mutex
	pages map[string]*discogs.CollectionPage
	fail  error
}

func (f *fakeDiscogs) Collection(_ context.Context, creds discogs.Credentials, username string, _, _ int) (*discogs.CollectionPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return nil, f.fail
	}
	if creds.Token != "tok-"+username {
		return nil, &discogs.APIError{Status: http.StatusUnauthorized, Message: "bad credentials"}
	}
	p, ok := f.pages[username]
	if !ok {
		return &discogs.CollectionPage{Pagination: discogs.Pagination{Page: 1, Pages: 1}}, nil
	}
	return p, nil
}

func (f *fakeDiscogs) setFail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail = err
}

func (f *fakeDiscogs) Release(_ context.Context, _ discogs.Credentials, id int64) (*discogs.Release, error) {
	if id == 404 {
		return nil, &discogs.APIError{Status: http.StatusNotFound, Message: "Release not found."}
	}
	return &discogs.Release{
		ID:      id,
		Title:   fmt.Sprintf("Release %d", id),
		Year:    1977,
		Artists: []discogs.Artist{{Name: "Kraftwerk"}},
	}, nil
}

func (f *fakeDiscogs) Identity(_ context.Context, creds discogs.Credentials) (*discogs.Identity, error) {
	return &discogs.Identity{ID: 7, Username: creds.Token[len("tok-"):]}, nil
}

// fakeHandshaker issues request token "rt"/"rs" and exchanges verifier
// "<username>" for that account's credentials.
type fakeHandshaker struct {
	mu          sync.Mutex
	failRequest bool
}

func (h *fakeHandshaker) setFailRequest(fail bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.failRequest = fail
}

func (h *fakeHandshaker) RequestToken() (string, string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.failRequest {
		return "", "", &discogs.APIError{Status: http.StatusServiceUnavailable, Message: "down"}
	}
	return "rt", "rs", nil
}

func (h *fakeHandshaker) AuthorizationURL(rt string) (string, error) {
	return "https://discogs.test/oauth/authorize?oauth_token=" + rt, nil
}

func (h *fakeHandshaker) AccessToken(rt, rs, verifier string) (discogs.Credentials, error) {
	if rt != "rt" || rs != "rs" {
		return discogs.Credentials{}, &discogs.APIError{Status: http.StatusUnauthorized, Message: "invalid request token"}
	}
	return discogs.Credentials{Token: "tok-" + verifier, Secret: "sec-" + verifier}, nil
}

// testVisitorLimit is the visitor budget per owner in every test env.
const testVisitorLimit = 5

type testEnv struct {
	server     *httptest.Server
	sessions   *scs.SessionManager
	users      *store.UserStore
	conns      *store.ConnectionStore
	exclusions *store.ExclusionStore
	vault      *vault.Vault
	remote     *fakeDiscogs
	handshaker *fakeHandshaker
}

// newTestEnv spins up the full router over an in-memory database. limit is
// the per-user Discogs budget per minute.
func newTestEnv(t *testing.T, limit int) *testEnv {
	t.Helper()
	db := testutil.NewTestDB(t)

	v, err := vault.New(bytes.Repeat([]byte{0x5a}, vault.KeySize))
	if err != nil {
		t.Fatalf("vault: %v", err)
	}

	env := &testEnv{
		sessions:   scs.New(),
		users:      store.NewUserStore(db),
		conns:      store.NewConnectionStore(db, 2),
		exclusions: store.NewExclusionStore(db),
		vault:      v,
		remote:     &fakeDiscogs{pages: make(map[string]*discogs.CollectionPage)},
		handshaker: &fakeHandshaker{},
	}

	svc := collection.NewService(collection.Deps{
		Registry:   env.conns,
		Exclusions: env.exclusions,
		Vault:      v,
		Discogs:    env.remote,
		Limiter:    ratelimit.NewMemory(ratelimit.Options{Limit: limit, Window: time.Minute}),
		VisitorLimiter: ratelimit.NewMemory(ratelimit.Options{
			Limit: testVisitorLimit, Window: time.Minute,
		}),
		Logger: zap.NewNop(),
	}, collection.Options{MaxConnections: 2})

	router := api.NewRouter(api.Deps{
		Sessions:       env.sessions,
		AuthMiddleware: auth.NewMiddleware(env.sessions, env.users),
		Users:          env.users,
		Collection:     svc,
		Handshaker:     env.handshaker,
		Vault:          v,
		Logger:         zap.NewNop(),
	})
	env.server = httptest.NewServer(router)
	t.Cleanup(env.server.Close)
	return env
}

// createUser inserts a user and returns its ID.
func (e *testEnv) createUser(t *testing.T, name string) string {
	t.Helper()
	u, err := e.users.Upsert(context.Background(), "test", "sub-"+name, name+"@example.com", name)
	if err != nil {
		t.Fatalf("upsert user %s: %v", name, err)
	}
	return u.ID
}

// login creates a session for userID and returns its cookie.
func (e *testEnv) login(t *testing.T, userID string) *http.Cookie {
	t.Helper()
	ctx, err := e.sessions.Load(context.Background(), "")
	if err != nil {
		t.Fatalf("load session: %v", err)
	}
	e.sessions.Put(ctx, auth.SessionUserIDKey, userID)
	token, _, err := e.sessions.Commit(ctx)
	if err != nil {
		t.Fatalf("commit session: %v", err)
	}
	return &http.Cookie{Name: e.sessions.Cookie.Name, Value: token}
}

// connect links a Discogs account directly through the registry.
func (e *testEnv) connect(t *testing.T, userID, username string) *store.Connection {
	t.Helper()
	tok, err := e.vault.Encrypt("tok-" + username)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	sec, err := e.vault.Encrypt("sec-" + username)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	c, err := e.conns.Add(context.Background(), store.NewConnection{
		UserID: userID, DiscogsUsername: username, AccessToken: tok, AccessSecret: sec,
	})
	if err != nil {
		t.Fatalf("add connection: %v", err)
	}
	time.Sleep(2 * time.Millisecond)
	return c
}

// do sends a request with an optional JSON body and session cookie. Redirects
// are not followed.
func (e *testEnv) do(t *testing.T, method, path string, body any, cookie *http.Cookie) *http.Response {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, e.server.URL+path, r)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if cookie != nil {
		req.AddCookie(cookie)
	}
	client := &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

// expect checks the status code and decodes the body into out when non-nil.
func expect(t *testing.T, resp *http.Response, status int, out any) {
	t.Helper()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != status {
		t.Fatalf("status = %d, want %d; body: %s", resp.StatusCode, status, body)
	}
	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			t.Fatalf("decode %s: %v", body, err)
		}
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// expectError checks the status and the error code of a JSON error body.
func expectError(t *testing.T, resp *http.Response, status int, code string) {
	t.Helper()
	var e errorResponse
	expect(t, resp, status, &e)
	if e.Code != code {
		t.Fatalf("code = %q, want %q (error %q)", e.Code, code, e.Error)
	}
}

// listing builds a one-page collection of releaseID/instanceID pairs.
func listing(pairs ...[2]int64) *discogs.CollectionPage {
	p := &discogs.CollectionPage{Pagination: discogs.Pagination{Page: 1, Pages: 1, PerPage: 50, Items: len(pairs)}}
	for _, pr := range pairs {
		p.Releases = append(p.Releases, discogs.CollectionRelease{
			ID:         pr[0],
			InstanceID: pr[1],
			BasicInformation: discogs.BasicInformation{
				ID:      pr[0],
				Title:   fmt.Sprintf("Release %d", pr[0]),
				Artists: []discogs.Artist{{Name: "Can"}},
			},
		})
	}
	return p
}
