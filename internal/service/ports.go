package service

import (
	"context"
	"time"

	"github.com/abdihakim148/beekeeper/internal/domain"
)

// Hasher is the hashing port. Implementations must compare digests in
// constant time regardless of secret length.
type Hasher interface {
	Hash(secret string) (string, error)
	Verify(secret, digest string) (bool, error)
}

// Claims is the signer-agnostic payload carried by self-verifying tokens.
// Which concrete scheme serializes it is the signer adapter's business.
type Claims struct {
	TokenID   string
	Subject   string
	Issuer    string
	Audience  []string
	Scope     string
	SessionID int64
	Kind      domain.TokenKind
	Email     string
	Name      string
	IssuedAt  time.Time
	Expiry    time.Time
}

// HasAudience reports whether the claims were minted for the given audience.
func (c Claims) HasAudience(audience string) bool {
	for _, aud := range c.Audience {
		if aud == audience {
			return true
		}
	}
	return false
}

// TokenSigner is the token signer port. Verify checks the signature only;
// expiry, audience and revocation checks belong to the token service.
type TokenSigner interface {
	Sign(ctx context.Context, claims Claims) (string, error)
	Verify(ctx context.Context, material string) (Claims, error)
}
