package service_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"

	"github.com/abdihakim148/beekeeper/internal/domain"
	customjwt "github.com/abdihakim148/beekeeper/internal/jwt"
	"github.com/abdihakim148/beekeeper/internal/repository"
	"github.com/abdihakim148/beekeeper/internal/service"
)

const testIssuer = "https://identity.example.com"

type tokenFixture struct {
	mem    *repository.Memory
	svc    *service.TokenService
	client domain.Client
	user   domain.User
}

func newTokenFixture(t *testing.T, policies service.TokenPolicies) *tokenFixture {
	t.Helper()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	mem := repository.NewMemory()

	if policies == nil {
		policies = service.TokenPolicies{
			domain.AccessToken:  {TTL: time.Hour},
			domain.IDToken:      {TTL: time.Hour},
			domain.RefreshToken: {TTL: 24 * time.Hour, StoreBacked: true},
		}
	}

	signer := customjwt.NewGenerator(customjwt.NewKeyManager(mem.Keys()), testIssuer)
	svc := service.NewTokenService(mem.Tokens(), mem.Sessions(), mem.Users(), mem.Clients(), node, signer, service.TokenServiceConfig{
		Issuer:              testIssuer,
		Policies:            policies,
		RefreshTokenBytes:   32,
		RotateRefreshTokens: true,
	}, nil)

	ctx := context.Background()
	client, err := mem.Clients().Create(ctx, domain.Client{
		ID:           node.Generate().Int64(),
		ClientID:     "console",
		Name:         "Console",
		RedirectURIs: []string{"https://app.example.com/callback"},
		GrantTypes:   []string{domain.GrantAuthorizationCode, domain.GrantRefreshToken},
		Scopes:       []string{"openid", "profile", "email"},
	})
	require.NoError(t, err)

	user, err := mem.Users().Create(ctx, domain.User{
		ID:     node.Generate().Int64(),
		Email:  "bee@example.com",
		Name:   "Bee",
		Scopes: []string{"openid", "profile"},
		Status: domain.UserActive,
	})
	require.NoError(t, err)

	return &tokenFixture{mem: mem, svc: svc, client: client, user: user}
}

func TestIssueAndVerifyAccessToken(t *testing.T) {
	f := newTokenFixture(t, nil)
	ctx := context.Background()

	issued, err := f.svc.Issue(ctx, service.IssueInput{
		Client: f.client,
		User:   &f.user,
		Scopes: []string{"openid", "profile"},
		Kind:   domain.AccessToken,
	})
	require.NoError(t, err)
	require.Equal(t, 3, len(strings.Split(issued.Material, ".")))

	info, err := f.svc.Verify(ctx, issued.Material, f.client.ClientID)
	require.NoError(t, err)
	require.Equal(t, domain.AccessToken, info.Kind)
	require.ElementsMatch(t, []string{"openid", "profile"}, info.Scopes)
}

func TestIssueRejectsScopeEscalation(t *testing.T) {
	f := newTokenFixture(t, nil)
	ctx := context.Background()

	// Beyond the client registration.
	_, err := f.svc.Issue(ctx, service.IssueInput{
		Client: f.client,
		User:   &f.user,
		Scopes: []string{"openid", "admin"},
		Kind:   domain.AccessToken,
	})
	require.ErrorIs(t, err, domain.ErrInvalidScope)

	// Within the client but beyond what the user was granted.
	_, err = f.svc.Issue(ctx, service.IssueInput{
		Client: f.client,
		User:   &f.user,
		Scopes: []string{"email"},
		Kind:   domain.AccessToken,
	})
	require.ErrorIs(t, err, domain.ErrInvalidScope)
}

func TestVerifyAudienceMismatch(t *testing.T) {
	f := newTokenFixture(t, nil)
	ctx := context.Background()

	issued, err := f.svc.Issue(ctx, service.IssueInput{
		Client: f.client,
		User:   &f.user,
		Scopes: []string{"openid"},
		Kind:   domain.AccessToken,
	})
	require.NoError(t, err)

	_, err = f.svc.Verify(ctx, issued.Material, "other-client")
	require.ErrorIs(t, err, domain.ErrAudienceMismatch)
}

func TestVerifyExpiredToken(t *testing.T) {
	f := newTokenFixture(t, service.TokenPolicies{
		domain.AccessToken:  {TTL: -time.Minute},
		domain.IDToken:      {TTL: time.Hour},
		domain.RefreshToken: {TTL: -time.Minute, StoreBacked: true},
	})
	ctx := context.Background()

	issued, err := f.svc.Issue(ctx, service.IssueInput{
		Client: f.client,
		User:   &f.user,
		Scopes: []string{"openid"},
		Kind:   domain.AccessToken,
	})
	require.NoError(t, err)
	_, err = f.svc.Verify(ctx, issued.Material, "")
	require.ErrorIs(t, err, domain.ErrExpiredToken)

	refresh, err := f.svc.Issue(ctx, service.IssueInput{
		Client: f.client,
		User:   &f.user,
		Scopes: []string{"openid"},
		Kind:   domain.RefreshToken,
	})
	require.NoError(t, err)
	_, err = f.svc.Refresh(ctx, refresh.Material)
	require.ErrorIs(t, err, domain.ErrExpiredToken)
}

func TestVerifyGarbageMaterial(t *testing.T) {
	f := newTokenFixture(t, nil)

	_, err := f.svc.Verify(context.Background(), "opaque-but-unknown", "")
	require.ErrorIs(t, err, domain.ErrMalformedToken)

	_, err = f.svc.Verify(context.Background(), "a.b.c", "")
	require.ErrorIs(t, err, domain.ErrMalformedToken)
}

func TestRefreshRequiresRefreshPolicy(t *testing.T) {
	f := newTokenFixture(t, service.TokenPolicies{
		domain.AccessToken: {TTL: time.Hour},
		domain.IDToken:     {TTL: time.Hour},
	})
	ctx := context.Background()

	planted, err := f.mem.Tokens().CreateToken(ctx, domain.Token{
		UserID:    f.user.ID,
		ClientID:  f.client.ClientID,
		Kind:      domain.RefreshToken,
		Value:     "planted-refresh-value",
		Scopes:    []string{"openid"},
		ExpiresAt: time.Now().UTC().Add(time.Hour),
	})
	require.NoError(t, err)

	// A policy table without a refresh entry must refuse to rotate rather
	// than mint a token with a zero TTL.
	_, err = f.svc.Refresh(ctx, planted.Value)
	require.Error(t, err)
	require.ErrorContains(t, err, "no policy")
}

func TestIssueGrant(t *testing.T) {
	f := newTokenFixture(t, nil)
	ctx := context.Background()

	grant, err := f.svc.IssueGrant(ctx, f.client, &f.user, []string{"openid", "profile"})
	require.NoError(t, err)
	require.NotZero(t, grant.SessionID)
	require.NotEmpty(t, grant.AccessToken)
	require.NotEmpty(t, grant.RefreshToken)
	require.NotEmpty(t, grant.IDToken, "openid scope should mint an ID token")
	require.Equal(t, "Bearer", grant.TokenType)
	require.Greater(t, grant.ExpiresIn, 0)

	info, err := f.svc.Verify(ctx, grant.AccessToken, "")
	require.NoError(t, err)
	require.Equal(t, grant.SessionID, info.SessionID)

	// Refresh tokens are opaque, never JWTs.
	require.Equal(t, 1, len(strings.Split(grant.RefreshToken, ".")))
}

func TestIssueGrantClientOnly(t *testing.T) {
	f := newTokenFixture(t, nil)

	grant, err := f.svc.IssueGrant(context.Background(), f.client, nil, []string{"profile"})
	require.NoError(t, err)
	require.Zero(t, grant.SessionID)
	require.Empty(t, grant.RefreshToken)
	require.Empty(t, grant.IDToken)
}

func TestRefreshRotatesToken(t *testing.T) {
	f := newTokenFixture(t, nil)
	ctx := context.Background()

	grant, err := f.svc.IssueGrant(ctx, f.client, &f.user, []string{"openid"})
	require.NoError(t, err)

	refreshed, err := f.svc.Refresh(ctx, grant.RefreshToken)
	require.NoError(t, err)
	require.NotEmpty(t, refreshed.AccessToken)
	require.NotEqual(t, grant.RefreshToken, refreshed.RefreshToken)
	require.Equal(t, grant.SessionID, refreshed.SessionID)

	// The new material keeps working.
	_, err = f.svc.Refresh(ctx, refreshed.RefreshToken)
	require.NoError(t, err)
}

func TestRefreshReuseRevokesSession(t *testing.T) {
	f := newTokenFixture(t, nil)
	ctx := context.Background()

	grant, err := f.svc.IssueGrant(ctx, f.client, &f.user, []string{"openid"})
	require.NoError(t, err)

	refreshed, err := f.svc.Refresh(ctx, grant.RefreshToken)
	require.NoError(t, err)

	// Replaying the rotated material signals theft.
	_, err = f.svc.Refresh(ctx, grant.RefreshToken)
	require.ErrorIs(t, err, domain.ErrRevokedToken)

	// The whole session went down with it.
	_, err = f.svc.Refresh(ctx, refreshed.RefreshToken)
	require.ErrorIs(t, err, domain.ErrRevokedToken)
	_, err = f.svc.Verify(ctx, refreshed.AccessToken, "")
	require.ErrorIs(t, err, domain.ErrRevokedToken)
}

func TestRevokeSessionCascades(t *testing.T) {
	f := newTokenFixture(t, nil)
	ctx := context.Background()

	grant, err := f.svc.IssueGrant(ctx, f.client, &f.user, []string{"openid"})
	require.NoError(t, err)

	require.NoError(t, f.svc.RevokeSession(ctx, grant.SessionID))

	_, err = f.svc.Verify(ctx, grant.AccessToken, "")
	require.ErrorIs(t, err, domain.ErrRevokedToken)
	_, err = f.svc.Refresh(ctx, grant.RefreshToken)
	require.ErrorIs(t, err, domain.ErrRevokedToken)

	// Revoking twice stays a no-op success.
	require.NoError(t, f.svc.RevokeSession(ctx, grant.SessionID))
}

func TestRefreshRejectsLockedUser(t *testing.T) {
	f := newTokenFixture(t, nil)
	ctx := context.Background()

	grant, err := f.svc.IssueGrant(ctx, f.client, &f.user, []string{"openid"})
	require.NoError(t, err)
	require.NoError(t, f.mem.Users().UpdateStatus(ctx, f.user.ID, domain.UserLocked))

	_, err = f.svc.Refresh(ctx, grant.RefreshToken)
	require.ErrorIs(t, err, domain.ErrRevokedToken)
}
