package jwt

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/go-jose/go-jose/v4"
	"github.com/google/uuid"

	"github.com/abdihakim148/beekeeper/internal/domain"
	"github.com/abdihakim148/beekeeper/internal/repository"
)

const secretLen = 64

// KeyManager provisions and serves the issuer's signing key. The key lives
// in the store so every replica signs and verifies with the same secret.
type KeyManager struct {
	repo repository.KeyRepository
}

func NewKeyManager(repo repository.KeyRepository) *KeyManager {
	return &KeyManager{repo: repo}
}

// EnsureSigningKey returns the active key, minting one on first use.
func (m *KeyManager) EnsureSigningKey(ctx context.Context) (domain.SigningKey, error) {
	key, err := m.repo.GetActiveKey(ctx)
	switch {
	case err == nil:
		return key, nil
	case errors.Is(err, repository.ErrNotFound):
		return m.mint(ctx)
	default:
		return domain.SigningKey{}, fmt.Errorf("ensure signing key: %w", err)
	}
}

func (m *KeyManager) mint(ctx context.Context) (domain.SigningKey, error) {
	secret := make([]byte, secretLen)
	if _, err := rand.Read(secret); err != nil {
		return domain.SigningKey{}, fmt.Errorf("generate secret: %w", err)
	}

	created, err := m.repo.CreateKey(ctx, domain.SigningKey{
		KID:       uuid.NewString(),
		Secret:    secret,
		Algorithm: string(jose.HS256),
		IsActive:  true,
	})
	if err != nil {
		return domain.SigningKey{}, fmt.Errorf("persist signing key: %w", err)
	}
	return created, nil
}

// ActiveKey fetches the current key without minting a new one.
func (m *KeyManager) ActiveKey(ctx context.Context) (domain.SigningKey, error) {
	key, err := m.repo.GetActiveKey(ctx)
	if err != nil {
		return domain.SigningKey{}, fmt.Errorf("active key: %w", err)
	}
	return key, nil
}

// JWKS renders the key set served on the well-known endpoint. Symmetric keys
// have no public half, so the set carries the key entry as-is.
func (m *KeyManager) JWKS(ctx context.Context) (jose.JSONWebKeySet, error) {
	key, err := m.EnsureSigningKey(ctx)
	if err != nil {
		return jose.JSONWebKeySet{}, fmt.Errorf("jwks active key: %w", err)
	}

	jwk := jose.JSONWebKey{
		KeyID:     key.KID,
		Use:       "sig",
		Algorithm: key.Algorithm,
		Key:       key.Secret,
	}
	if jwk.IsPublic() {
		jwk = jwk.Public()
	}
	return jose.JSONWebKeySet{Keys: []jose.JSONWebKey{jwk}}, nil
}
