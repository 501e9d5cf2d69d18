package jwt_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/abdihakim148/beekeeper/internal/domain"
	customjwt "github.com/abdihakim148/beekeeper/internal/jwt"
	"github.com/abdihakim148/beekeeper/internal/repository"
	"github.com/abdihakim148/beekeeper/internal/service"
)

const issuer = "https://identity.example.com"

func newGenerator(t *testing.T) *customjwt.Generator {
	t.Helper()
	manager := customjwt.NewKeyManager(repository.NewMemory().Keys())
	return customjwt.NewGenerator(manager, issuer)
}

func TestGeneratorRoundTrip(t *testing.T) {
	generator := newGenerator(t)
	now := time.Now().UTC().Truncate(time.Second)

	in := service.Claims{
		TokenID:   "tok-1",
		Subject:   "99",
		Issuer:    issuer,
		Audience:  []string{"console"},
		Scope:     "openid profile",
		SessionID: 7,
		Kind:      domain.AccessToken,
		Email:     "user@example.com",
		Name:      "Test User",
		IssuedAt:  now,
		Expiry:    now.Add(time.Hour),
	}

	material, err := generator.Sign(context.Background(), in)
	require.NoError(t, err)
	require.Equal(t, 3, len(strings.Split(material, ".")))

	out, err := generator.Verify(context.Background(), material)
	require.NoError(t, err)
	require.Equal(t, "99", out.Subject)
	require.Equal(t, "tok-1", out.TokenID)
	require.Equal(t, []string{"console"}, out.Audience)
	require.Equal(t, "openid profile", out.Scope)
	require.Equal(t, int64(7), out.SessionID)
	require.Equal(t, domain.AccessToken, out.Kind)
	require.Equal(t, "user@example.com", out.Email)
	require.Equal(t, in.Expiry.Unix(), out.Expiry.Unix())
}

func TestVerifyReturnsExpiredClaims(t *testing.T) {
	generator := newGenerator(t)
	past := time.Now().UTC().Add(-2 * time.Hour)

	material, err := generator.Sign(context.Background(), service.Claims{
		TokenID:  "tok-4",
		Subject:  "1",
		Issuer:   issuer,
		Kind:     domain.AccessToken,
		IssuedAt: past,
		Expiry:   past.Add(time.Hour),
	})
	require.NoError(t, err)

	// Expiry is the caller's concern; the signer only vouches for the
	// signature and issuer.
	out, err := generator.Verify(context.Background(), material)
	require.NoError(t, err)
	require.True(t, out.Expiry.Before(time.Now()))
}

func TestVerifyRejectsGarbage(t *testing.T) {
	generator := newGenerator(t)

	_, err := generator.Verify(context.Background(), "not.a.jwt")
	require.ErrorIs(t, err, domain.ErrMalformedToken)
}

func TestVerifyRejectsForeignSignature(t *testing.T) {
	signing := newGenerator(t)

	verifyingManager := customjwt.NewKeyManager(repository.NewMemory().Keys())
	_, err := verifyingManager.EnsureSigningKey(context.Background())
	require.NoError(t, err)
	verifying := customjwt.NewGenerator(verifyingManager, issuer)

	material, err := signing.Sign(context.Background(), service.Claims{
		TokenID:  "tok-2",
		Subject:  "1",
		Issuer:   issuer,
		Kind:     domain.AccessToken,
		IssuedAt: time.Now().UTC(),
		Expiry:   time.Now().UTC().Add(time.Hour),
	})
	require.NoError(t, err)

	// Different key manager, different secret.
	_, err = verifying.Verify(context.Background(), material)
	require.ErrorIs(t, err, domain.ErrMalformedToken)
}

func TestVerifyRejectsWrongIssuer(t *testing.T) {
	manager := customjwt.NewKeyManager(repository.NewMemory().Keys())
	signing := customjwt.NewGenerator(manager, "https://other.example.com")
	verifying := customjwt.NewGenerator(manager, issuer)

	material, err := signing.Sign(context.Background(), service.Claims{
		TokenID:  "tok-3",
		Subject:  "1",
		Issuer:   "https://other.example.com",
		Kind:     domain.AccessToken,
		IssuedAt: time.Now().UTC(),
		Expiry:   time.Now().UTC().Add(time.Hour),
	})
	require.NoError(t, err)

	_, err = verifying.Verify(context.Background(), material)
	require.ErrorIs(t, err, domain.ErrMalformedToken)
}

func TestKeyManagerReusesActiveKey(t *testing.T) {
	manager := customjwt.NewKeyManager(repository.NewMemory().Keys())

	first, err := manager.EnsureSigningKey(context.Background())
	require.NoError(t, err)
	second, err := manager.EnsureSigningKey(context.Background())
	require.NoError(t, err)
	require.Equal(t, first.KID, second.KID)

	jwks, err := manager.JWKS(context.Background())
	require.NoError(t, err)
	require.Len(t, jwks.Keys, 1)
	require.Equal(t, first.KID, jwks.Keys[0].KeyID)
}
