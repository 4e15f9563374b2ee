package discogs

import (
	"fmt"

	"github.com/joestump/spindle/internal/metrics"
)

// RequestToken starts the handshake and returns a temporary request token
// pair. The secret must be kept server-side until the callback arrives.
func (c *Client) RequestToken() (token, secret string, err error) {
	token, secret, err = c.config.RequestToken()
	if err != nil {
		metrics.DiscogsRequestsTotal.WithLabelValues("request_token", "error").Inc()
		return "", "", fmt.Errorf("discogs request token: %w", err)
	}
	metrics.DiscogsRequestsTotal.WithLabelValues("request_token", "200").Inc()
	return token, secret, nil
}

// AuthorizationURL is where the user approves access for requestToken.
func (c *Client) AuthorizationURL(requestToken string) (string, error) {
	u, err := c.config.AuthorizationURL(requestToken)
	if err != nil {
		return "", err
	}
	return u.String(), nil
}

// AccessToken exchanges an approved request token and its verifier for a
// long-lived access token pair.
func (c *Client) AccessToken(requestToken, requestSecret, verifier string) (Credentials, error) {
	token, secret, err := c.config.AccessToken(requestToken, requestSecret, verifier)
	if err != nil {
		metrics.DiscogsRequestsTotal.WithLabelValues("access_token", "error").Inc()
		return Credentials{}, fmt.Errorf("discogs access token: %w", err)
	}
	metrics.DiscogsRequestsTotal.WithLabelValues("access_token", "200").Inc()
	return Credentials{Token: token, Secret: secret}, nil
}
