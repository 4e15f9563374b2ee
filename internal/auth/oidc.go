package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"

	gooidc "github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"github.com/joestump/spindle/internal/config"
)

// Identity is the verified subject of an ID token.
type Identity struct {
	Issuer  string
	Subject string
	Email   string
	Name    string
}

// Provider signs local users in against the configured OIDC issuer.
type Provider struct {
	verifier     *gooidc.IDTokenVerifier
	oauth2Config oauth2.Config
}

// NewProvider performs OIDC discovery and returns a configured Provider.
func NewProvider(ctx context.Context, cfg *config.Config) (*Provider, error) {
	provider, err := gooidc.NewProvider(ctx, cfg.OIDC.Issuer)
	if err != nil {
		return nil, fmt.Errorf("OIDC provider discovery failed for %s: %w", cfg.OIDC.Issuer, err)
	}
	return &Provider{
		verifier: provider.Verifier(&gooidc.Config{ClientID: cfg.OIDC.ClientID}),
		oauth2Config: oauth2.Config{
			ClientID:     cfg.OIDC.ClientID,
			ClientSecret: cfg.OIDC.ClientSecret,
			RedirectURL:  cfg.OIDC.RedirectURL,
			Endpoint:     provider.Endpoint(),
			Scopes:       []string{gooidc.ScopeOpenID, "profile", "email"},
		},
	}, nil
}

// AuthCodeURL builds the authorization URL for state with an S256 PKCE
// challenge.
func (p *Provider) AuthCodeURL(state, codeChallenge string) string {
	return p.oauth2Config.AuthCodeURL(state,
		oauth2.AccessTypeOnline,
		oauth2.SetAuthURLParam("code_challenge", codeChallenge),
		oauth2.SetAuthURLParam("code_challenge_method", "S256"),
	)
}

// Authenticate exchanges an authorization code, verifies the ID token and
// returns who it names.
func (p *Provider) Authenticate(ctx context.Context, code, codeVerifier string) (*Identity, error) {
	token, err := p.oauth2Config.Exchange(ctx, code, oauth2.SetAuthURLParam("code_verifier", codeVerifier))
	if err != nil {
		return nil, fmt.Errorf("token exchange: %w", err)
	}
	raw, ok := token.Extra("id_token").(string)
	if !ok {
		return nil, fmt.Errorf("no id_token in token response")
	}
	idToken, err := p.verifier.Verify(ctx, raw)
	if err != nil {
		return nil, fmt.Errorf("id_token verification: %w", err)
	}

	var claims struct {
		Email string `json:"email"`
		Name  string `json:"name"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("id_token claims: %w", err)
	}
	return &Identity{Issuer: idToken.Issuer, Subject: idToken.Subject, Email: claims.Email, Name: claims.Name}, nil
}

// RandomString returns n random bytes, base64url encoded without padding.
func RandomString(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// GeneratePKCE returns a PKCE verifier and its S256 challenge.
func GeneratePKCE() (verifier, challenge string, err error) {
	if verifier, err = RandomString(64); err != nil {
		return "", "", err
	}
	h := sha256.Sum256([]byte(verifier))
	return verifier, base64.RawURLEncoding.EncodeToString(h[:]), nil
}
