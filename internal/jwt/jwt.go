package jwt

import (
	"context"
	"errors"
	"fmt"
	"strings"

	gojose "github.com/go-jose/go-jose/v4"
	gojwt "github.com/go-jose/go-jose/v4/jwt"

	"github.com/abdihakim148/beekeeper/internal/domain"
	"github.com/abdihakim148/beekeeper/internal/repository"
	"github.com/abdihakim148/beekeeper/internal/service"
)

// Generator signs and validates self-verifying token material. It implements
// service.TokenSigner: signature and issuer checks live here, lifecycle
// checks (expiry, audience, revocation) belong to the token service.
type Generator struct {
	keys   *KeyManager
	issuer string
}

var _ service.TokenSigner = (*Generator)(nil)

// NewGenerator constructs a Generator.
func NewGenerator(manager *KeyManager, issuer string) *Generator {
	return &Generator{keys: manager, issuer: issuer}
}

// tokenClaims carries the payload fields beyond the registered claim set.
type tokenClaims struct {
	Scope     string           `json:"scope,omitempty"`
	SessionID int64            `json:"sid,omitempty"`
	Kind      domain.TokenKind `json:"kind"`
	Email     string           `json:"email,omitempty"`
	Name      string           `json:"name,omitempty"`
}

// Sign produces a compact signed token for the claims.
func (g *Generator) Sign(ctx context.Context, claims service.Claims) (string, error) {
	key, err := g.keys.EnsureSigningKey(ctx)
	if err != nil {
		return "", fmt.Errorf("ensure signing key: %w", err)
	}

	signer, err := gojose.NewSigner(gojose.SigningKey{Algorithm: gojose.SignatureAlgorithm(key.Algorithm), Key: key.Secret}, (&gojose.SignerOptions{}).WithType("JWT").WithHeader("kid", key.KID))
	if err != nil {
		return "", fmt.Errorf("new signer: %w", err)
	}

	std := gojwt.Claims{
		ID:        claims.TokenID,
		Subject:   claims.Subject,
		Audience:  gojwt.Audience(claims.Audience),
		Issuer:    claims.Issuer,
		IssuedAt:  gojwt.NewNumericDate(claims.IssuedAt),
		Expiry:    gojwt.NewNumericDate(claims.Expiry),
		NotBefore: gojwt.NewNumericDate(claims.IssuedAt),
	}

	custom := tokenClaims{
		Scope:     claims.Scope,
		SessionID: claims.SessionID,
		Kind:      claims.Kind,
		Email:     claims.Email,
		Name:      claims.Name,
	}

	token, err := gojwt.Signed(signer).Claims(std).Claims(custom).Serialize()
	if err != nil {
		return "", fmt.Errorf("serialize jwt: %w", err)
	}

	return token, nil
}

// Verify checks the signature and issuer of token material and returns its
// claims. Any parse or signature failure reports domain.ErrMalformedToken.
func (g *Generator) Verify(ctx context.Context, material string) (service.Claims, error) {
	key, err := g.keys.ActiveKey(ctx)
	if err != nil {
		// No key minted yet means nothing this issuer signed can exist.
		if errors.Is(err, repository.ErrNotFound) {
			return service.Claims{}, fmt.Errorf("load key: %w", domain.ErrMalformedToken)
		}
		return service.Claims{}, fmt.Errorf("load key: %w", errors.Join(domain.ErrStorageUnavailable, err))
	}

	var allowed [1]gojose.SignatureAlgorithm
	allowed[0] = gojose.SignatureAlgorithm(key.Algorithm)
	parsed, err := gojwt.ParseSigned(material, allowed[:])
	if err != nil {
		return service.Claims{}, fmt.Errorf("parse token: %w", domain.ErrMalformedToken)
	}

	var std gojwt.Claims
	var custom tokenClaims
	if err := parsed.Claims(key.Secret, &std, &custom); err != nil {
		return service.Claims{}, fmt.Errorf("verify token: %w", domain.ErrMalformedToken)
	}

	// Issuer is checked directly: Validate would also apply time checks
	// against the clock, and expiry classification belongs to the caller.
	if std.Issuer != g.issuer {
		return service.Claims{}, fmt.Errorf("validate claims: %w", domain.ErrMalformedToken)
	}

	claims := service.Claims{
		TokenID:   std.ID,
		Subject:   std.Subject,
		Issuer:    std.Issuer,
		Audience:  []string(std.Audience),
		Scope:     custom.Scope,
		SessionID: custom.SessionID,
		Kind:      custom.Kind,
		Email:     custom.Email,
		Name:      custom.Name,
	}
	if std.IssuedAt != nil {
		claims.IssuedAt = std.IssuedAt.Time()
	}
	if std.Expiry != nil {
		claims.Expiry = std.Expiry.Time()
	}
	if strings.TrimSpace(string(custom.Kind)) == "" {
		claims.Kind = domain.AccessToken
	}
	return claims, nil
}
