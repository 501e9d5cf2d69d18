package service

import (
	"strings"

	"github.com/abdihakim148/beekeeper/internal/domain"
)

// DiscoveryService renders the OpenID provider metadata document.
type DiscoveryService struct {
	issuer string
}

// NewDiscoveryService creates a DiscoveryService for the configured issuer.
func NewDiscoveryService(issuer string) *DiscoveryService {
	return &DiscoveryService{issuer: strings.TrimRight(issuer, "/")}
}

// Configuration returns the discovery document served at
// /.well-known/openid-configuration.
func (s *DiscoveryService) Configuration() map[string]any {
	return map[string]any{
		"issuer":                 s.issuer,
		"authorization_endpoint": s.issuer + "/oauth/authorize",
		"token_endpoint":         s.issuer + "/oauth/token",
		"introspection_endpoint": s.issuer + "/oauth/introspect",
		"revocation_endpoint":    s.issuer + "/oauth/revoke",
		"jwks_uri":               s.issuer + "/.well-known/jwks.json",
		"response_types_supported": []string{
			"code",
		},
		"grant_types_supported": []string{
			domain.GrantAuthorizationCode,
			domain.GrantClientCredentials,
			domain.GrantRefreshToken,
			domain.GrantPassword,
		},
		"subject_types_supported": []string{
			"public",
		},
		"id_token_signing_alg_values_supported": []string{
			"HS256",
		},
		"token_endpoint_auth_methods_supported": []string{
			"client_secret_post",
		},
		"scopes_supported": []string{
			"openid", "profile", "email",
		},
	}
}
