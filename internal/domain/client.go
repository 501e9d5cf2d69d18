package domain

import "time"

// Grant type identifiers accepted on the token endpoint.
const (
	GrantAuthorizationCode = "authorization_code"
	GrantClientCredentials = "client_credentials"
	GrantRefreshToken      = "refresh_token"
	GrantPassword          = "password"
)

// Client is a registered OAuth client. Mutable only through an explicit
// admin update.
type Client struct {
	ID           int64
	ClientID     string
	SecretDigest string
	Name         string
	RedirectURIs []string
	GrantTypes   []string
	Scopes       []string
	Confidential bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// AllowsGrant reports whether the client may use the given grant type.
func (c Client) AllowsGrant(grant string) bool {
	for _, g := range c.GrantTypes {
		if g == grant {
			return true
		}
	}
	return false
}

// AllowsRedirect matches the redirect URI against the registered set.
// Comparison is exact, not prefix or case-insensitive.
func (c Client) AllowsRedirect(uri string) bool {
	for _, registered := range c.RedirectURIs {
		if registered == uri {
			return true
		}
	}
	return false
}
