package api_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/joestump/spindle/internal/api"
	"github.com/joestump/spindle/internal/store"
)

func TestConnections_Handshake(t *testing.T) {
	env := newTestEnv(t, 60)
	alice := env.createUser(t, "alice")
	cookie := env.login(t, alice)

	resp := env.do(t, http.MethodGet, "/api/v1/connections/connect", nil, cookie)
	expect(t, resp, http.StatusFound, nil)
	if loc := resp.Header.Get("Location"); loc != "https://discogs.test/oauth/authorize?oauth_token=rt" {
		t.Fatalf("Location = %q", loc)
	}

	resp = env.do(t, http.MethodGet, "/api/v1/connections/callback?oauth_token=rt&oauth_verifier=alice-a", nil, cookie)
	var conn store.Connection
	expect(t, resp, http.StatusCreated, &conn)
	if conn.DiscogsUsername != "alice-a" || !conn.IsPrimary || conn.UserID != alice {
		t.Errorf("connection = %+v", conn)
	}

	// Credentials are sealed at rest and never serialized.
	stored, err := env.conns.Get(context.Background(), conn.ID)
	if err != nil {
		t.Fatalf("get connection: %v", err)
	}
	if stored.AccessToken == "tok-alice-a" || stored.AccessSecret == "sec-alice-a" {
		t.Error("credentials stored in plaintext")
	}
	if tok, err := env.vault.Decrypt(stored.AccessToken); err != nil || tok != "tok-alice-a" {
		t.Errorf("decrypted token = %q, %v", tok, err)
	}

	// The request token is single use.
	resp = env.do(t, http.MethodGet, "/api/v1/connections/callback?oauth_token=rt&oauth_verifier=alice-a", nil, cookie)
	expectError(t, resp, http.StatusBadRequest, "BAD_REQUEST")
}

func TestConnections_CallbackRejections(t *testing.T) {
	env := newTestEnv(t, 60)
	alice := env.createUser(t, "alice")
	cookie := env.login(t, alice)

	expectError(t, env.do(t, http.MethodGet, "/api/v1/connections/callback?oauth_token=rt", nil, cookie),
		http.StatusBadRequest, "BAD_REQUEST")
	// No handshake was started in this session.
	expectError(t, env.do(t, http.MethodGet, "/api/v1/connections/callback?oauth_token=rt&oauth_verifier=x", nil, cookie),
		http.StatusBadRequest, "BAD_REQUEST")

	expect(t, env.do(t, http.MethodGet, "/api/v1/connections/connect", nil, cookie), http.StatusFound, nil)
	expectError(t, env.do(t, http.MethodGet, "/api/v1/connections/callback?oauth_token=forged&oauth_verifier=x", nil, cookie),
		http.StatusBadRequest, "BAD_REQUEST")
}

func TestConnections_ConnectErrors(t *testing.T) {
	env := newTestEnv(t, 60)
	alice := env.createUser(t, "alice")
	cookie := env.login(t, alice)

	expectError(t, env.do(t, http.MethodGet, "/api/v1/connections/connect", nil, nil),
		http.StatusUnauthorized, "UNAUTHORIZED")

	env.handshaker.setFailRequest(true)
	expectError(t, env.do(t, http.MethodGet, "/api/v1/connections/connect", nil, cookie),
		http.StatusBadGateway, "UPSTREAM_ERROR")
	env.handshaker.setFailRequest(false)

	env.connect(t, alice, "alice-a")
	env.connect(t, alice, "alice-b")
	expectError(t, env.do(t, http.MethodGet, "/api/v1/connections/connect", nil, cookie),
		http.StatusConflict, "CAPACITY_EXCEEDED")
}

func TestConnections_AlreadyConnected(t *testing.T) {
	env := newTestEnv(t, 60)
	alice := env.createUser(t, "alice")
	cookie := env.login(t, alice)
	env.connect(t, alice, "alice-a")

	expect(t, env.do(t, http.MethodGet, "/api/v1/connections/connect", nil, cookie), http.StatusFound, nil)
	expectError(t, env.do(t, http.MethodGet, "/api/v1/connections/callback?oauth_token=rt&oauth_verifier=alice-a", nil, cookie),
		http.StatusConflict, "ALREADY_CONNECTED")
}

func TestConnections_Lifecycle(t *testing.T) {
	env := newTestEnv(t, 60)
	alice := env.createUser(t, "alice")
	bob := env.createUser(t, "bob")
	cookie := env.login(t, alice)
	first := env.connect(t, alice, "alice-a")
	second := env.connect(t, alice, "alice-b")

	var list api.ConnectionListResponse
	resp := env.do(t, http.MethodGet, "/api/v1/connections", nil, cookie)
	body, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(body, &list); err != nil {
		t.Fatalf("decode %s: %v", body, err)
	}
	if len(list.Connections) != 2 || list.Connections[0].ID != first.ID || !list.Connections[0].IsPrimary {
		t.Fatalf("connections = %+v", list.Connections)
	}
	if strings.Contains(string(body), "access_") || strings.Contains(string(body), "tok-") {
		t.Errorf("listing exposes credentials: %s", body)
	}

	if list.Connections[1].Label != "alice-b" {
		t.Errorf("label before rename = %q, want the Discogs username", list.Connections[1].Label)
	}

	var renamed api.ConnectionResponse
	expect(t, env.do(t, http.MethodPatch, "/api/v1/connections/"+second.ID,
		api.RenameConnectionRequest{DisplayName: "  Jazz shelf "}, cookie), http.StatusOK, &renamed)
	if renamed.Connection == nil || renamed.DisplayName != "Jazz shelf" || renamed.Label != "Jazz shelf" {
		t.Errorf("renamed = %+v", renamed)
	}
	expectError(t, env.do(t, http.MethodPatch, "/api/v1/connections/"+second.ID,
		api.RenameConnectionRequest{DisplayName: "   "}, cookie), http.StatusBadRequest, "BAD_REQUEST")

	expect(t, env.do(t, http.MethodPost, "/api/v1/connections/"+second.ID+"/primary", nil, cookie), http.StatusNoContent, nil)
	expect(t, env.do(t, http.MethodPost, "/api/v1/connections/"+second.ID+"/primary", nil, cookie), http.StatusNoContent, nil)
	got, err := env.conns.Resolve(context.Background(), alice, "")
	if err != nil || got.ID != second.ID {
		t.Fatalf("primary = %v, %v; want %s", got, err, second.ID)
	}

	bobCookie := env.login(t, bob)
	expectError(t, env.do(t, http.MethodDelete, "/api/v1/connections/"+second.ID, nil, bobCookie),
		http.StatusForbidden, "FORBIDDEN")
	expectError(t, env.do(t, http.MethodDelete, "/api/v1/connections/missing", nil, cookie),
		http.StatusNotFound, "NOT_FOUND")

	expect(t, env.do(t, http.MethodDelete, "/api/v1/connections/"+second.ID, nil, cookie), http.StatusNoContent, nil)
	got, err = env.conns.Resolve(context.Background(), alice, "")
	if err != nil || got.ID != first.ID || !got.IsPrimary {
		t.Fatalf("after removing primary: %+v, %v; want %s promoted", got, err, first.ID)
	}
}
