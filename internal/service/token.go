package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/abdihakim148/beekeeper/internal/domain"
	"github.com/abdihakim148/beekeeper/internal/repository"
)

// TokenPolicies maps each token kind to its issuance policy.
type TokenPolicies map[domain.TokenKind]domain.TokenPolicy

// TokenService issues, verifies, refreshes and revokes tokens. Per token the
// lifecycle is Issued -> Active -> Expired or Revoked; the terminal states
// are never left.
type TokenService struct {
	tokens        repository.TokenRepository
	sessions      repository.SessionRepository
	users         repository.UserRepository
	clients       repository.ClientRepository
	node          *snowflake.Node
	signer        TokenSigner
	issuer        string
	policies      TokenPolicies
	refreshBytes  int
	rotateRefresh bool
	logger        *zap.Logger
	tracer        trace.Tracer
}

// TokenServiceConfig carries the policy knobs the composition root decides.
type TokenServiceConfig struct {
	Issuer              string
	Policies            TokenPolicies
	RefreshTokenBytes   int
	RotateRefreshTokens bool
}

// NewTokenService wires dependencies.
func NewTokenService(tokens repository.TokenRepository, sessions repository.SessionRepository, users repository.UserRepository, clients repository.ClientRepository, node *snowflake.Node, signer TokenSigner, cfg TokenServiceConfig, logger *zap.Logger) *TokenService {
	refreshBytes := cfg.RefreshTokenBytes
	if refreshBytes < 32 {
		refreshBytes = 32
	}
	return &TokenService{
		tokens:        tokens,
		sessions:      sessions,
		users:         users,
		clients:       clients,
		node:          node,
		signer:        signer,
		issuer:        cfg.Issuer,
		policies:      cfg.Policies,
		refreshBytes:  refreshBytes,
		rotateRefresh: cfg.RotateRefreshTokens,
		logger:        logger,
		tracer:        otel.Tracer("github.com/abdihakim148/beekeeper/internal/service"),
	}
}

// IssueInput names the subject, audience and scope of one token.
type IssueInput struct {
	Client    domain.Client
	User      *domain.User
	Scopes    []string
	Kind      domain.TokenKind
	SessionID int64
}

// IssuedToken is the minted material plus its logical id.
type IssuedToken struct {
	TokenID   string
	Material  string
	Kind      domain.TokenKind
	ExpiresAt time.Time
}

// TokenInfo is the outcome of a successful verification.
type TokenInfo struct {
	TokenID   string
	Subject   string
	Kind      domain.TokenKind
	Scopes    []string
	SessionID int64
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Grant is the full token set minted for one authorization.
type Grant struct {
	SessionID    int64
	AccessToken  string
	RefreshToken string
	IDToken      string
	TokenType    string
	ExpiresIn    int
	Scope        string
}

// Issue mints one token of the requested kind. Scopes must stay within what
// the client allows and, for user subjects, what the user was granted.
func (s *TokenService) Issue(ctx context.Context, in IssueInput) (IssuedToken, error) {
	ctx, span := s.startSpan(ctx, "TokenService.Issue")
	defer span.End()

	scopes := domain.NormalizeScopes(in.Scopes)
	if !domain.ScopesWithin(scopes, in.Client.Scopes) {
		return IssuedToken{}, domain.ErrInvalidScope
	}
	if in.User != nil && !domain.ScopesWithin(scopes, in.User.Scopes) {
		return IssuedToken{}, domain.ErrInvalidScope
	}

	policy, ok := s.policies[in.Kind]
	if !ok {
		return IssuedToken{}, fmt.Errorf("no policy for token kind %q", in.Kind)
	}

	now := time.Now().UTC()
	expiresAt := now.Add(policy.TTL)

	if policy.StoreBacked {
		token := domain.Token{
			ID:        s.node.Generate().Int64(),
			SessionID: in.SessionID,
			ClientID:  in.Client.ClientID,
			Kind:      in.Kind,
			Value:     randomString(s.refreshBytes),
			Scopes:    scopes,
			IssuedAt:  now,
			ExpiresAt: expiresAt,
		}
		if in.User != nil {
			token.UserID = in.User.ID
		}
		created, err := s.tokens.CreateToken(ctx, token)
		if err != nil {
			span.RecordError(err)
			return IssuedToken{}, storageErr("persist token", err)
		}
		return IssuedToken{
			TokenID:   strconv.FormatInt(created.ID, 10),
			Material:  created.Value,
			Kind:      in.Kind,
			ExpiresAt: expiresAt,
		}, nil
	}

	claims := Claims{
		TokenID:   uuid.NewString(),
		Subject:   in.Client.ClientID,
		Issuer:    s.issuer,
		Audience:  []string{in.Client.ClientID},
		Scope:     domain.JoinScope(scopes),
		SessionID: in.SessionID,
		Kind:      in.Kind,
		IssuedAt:  now,
		Expiry:    expiresAt,
	}
	if in.User != nil {
		claims.Subject = strconv.FormatInt(in.User.ID, 10)
		claims.Email = in.User.Email
		claims.Name = in.User.Name
	}

	material, err := s.signer.Sign(ctx, claims)
	if err != nil {
		span.RecordError(err)
		return IssuedToken{}, fmt.Errorf("sign token: %w", err)
	}
	return IssuedToken{
		TokenID:   claims.TokenID,
		Material:  material,
		Kind:      in.Kind,
		ExpiresAt: expiresAt,
	}, nil
}

// Verify checks token material against the expected audience. Self-verifying
// kinds are checked from signature and embedded claims; store-backed kinds
// additionally load the record so revocation is visible immediately.
func (s *TokenService) Verify(ctx context.Context, material, audience string) (*TokenInfo, error) {
	ctx, span := s.startSpan(ctx, "TokenService.Verify")
	defer span.End()

	if selfVerifying(material) {
		return s.verifySigned(ctx, material, audience)
	}
	return s.verifyStored(ctx, material, audience)
}

func (s *TokenService) verifySigned(ctx context.Context, material, audience string) (*TokenInfo, error) {
	claims, err := s.signer.Verify(ctx, material)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	if !claims.Expiry.IsZero() && now.After(claims.Expiry) {
		return nil, domain.ErrExpiredToken
	}
	if audience != "" && !claims.HasAudience(audience) {
		return nil, domain.ErrAudienceMismatch
	}
	if claims.SessionID != 0 {
		if err := s.checkSession(ctx, claims.SessionID); err != nil {
			return nil, err
		}
	}
	return &TokenInfo{
		TokenID:   claims.TokenID,
		Subject:   claims.Subject,
		Kind:      claims.Kind,
		Scopes:    domain.SplitScope(claims.Scope),
		SessionID: claims.SessionID,
		IssuedAt:  claims.IssuedAt,
		ExpiresAt: claims.Expiry,
	}, nil
}

func (s *TokenService) verifyStored(ctx context.Context, material, audience string) (*TokenInfo, error) {
	token, err := s.tokens.GetByValue(ctx, material)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, domain.ErrMalformedToken
		}
		return nil, storageErr("get token", err)
	}
	if token.Revoked {
		return nil, domain.ErrRevokedToken
	}
	if token.Expired(time.Now().UTC()) {
		return nil, domain.ErrExpiredToken
	}
	if audience != "" && token.ClientID != audience {
		return nil, domain.ErrAudienceMismatch
	}
	if token.SessionID != 0 {
		if err := s.checkSession(ctx, token.SessionID); err != nil {
			return nil, err
		}
	}
	subject := token.ClientID
	if token.UserID != 0 {
		subject = strconv.FormatInt(token.UserID, 10)
	}
	return &TokenInfo{
		TokenID:   strconv.FormatInt(token.ID, 10),
		Subject:   subject,
		Kind:      token.Kind,
		Scopes:    token.Scopes,
		SessionID: token.SessionID,
		IssuedAt:  token.IssuedAt,
		ExpiresAt: token.ExpiresAt,
	}, nil
}

// checkSession fails verification when the ancestor session is gone or
// revoked. An unknown session counts as revoked, never as a storage error.
func (s *TokenService) checkSession(ctx context.Context, sessionID int64) error {
	session, err := s.sessions.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.ErrRevokedToken
		}
		return storageErr("get session", err)
	}
	if session.Revoked {
		return domain.ErrRevokedToken
	}
	return nil
}

// Refresh redeems a refresh token for a new access token, rotating the
// refresh token when policy demands it. Reuse of rotated material revokes
// the whole session: it signals possible token theft.
func (s *TokenService) Refresh(ctx context.Context, material string) (*Grant, error) {
	ctx, span := s.startSpan(ctx, "TokenService.Refresh")
	defer span.End()

	token, err := s.tokens.GetByValue(ctx, material)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, domain.ErrMalformedToken
		}
		span.RecordError(err)
		return nil, storageErr("get refresh token", err)
	}
	if token.Kind != domain.RefreshToken {
		return nil, domain.ErrMalformedToken
	}
	if token.Revoked {
		s.suspectTheft(ctx, token)
		return nil, domain.ErrRevokedToken
	}
	now := time.Now().UTC()
	if token.Expired(now) {
		return nil, domain.ErrExpiredToken
	}
	if token.SessionID != 0 {
		if err := s.checkSession(ctx, token.SessionID); err != nil {
			return nil, err
		}
	}

	client, err := s.clients.GetByClientID(ctx, token.ClientID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, domain.ErrInvalidClient
		}
		span.RecordError(err)
		return nil, storageErr("get client", err)
	}

	var user *domain.User
	if token.UserID != 0 {
		loaded, err := s.users.GetByID(ctx, token.UserID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return nil, domain.ErrRevokedToken
			}
			span.RecordError(err)
			return nil, storageErr("get user", err)
		}
		if !loaded.Active() {
			return nil, domain.ErrRevokedToken
		}
		user = &loaded
	}

	refreshMaterial := material
	if s.rotateRefresh {
		policy, ok := s.policies[domain.RefreshToken]
		if !ok {
			return nil, fmt.Errorf("no policy for token kind %q", domain.RefreshToken)
		}
		next := domain.Token{
			ID:        s.node.Generate().Int64(),
			SessionID: token.SessionID,
			UserID:    token.UserID,
			ClientID:  token.ClientID,
			Kind:      domain.RefreshToken,
			Value:     randomString(s.refreshBytes),
			Scopes:    token.Scopes,
			IssuedAt:  now,
			ExpiresAt: now.Add(policy.TTL),
		}
		rotated, err := s.tokens.RotateRefreshToken(ctx, token.ID, next)
		if err != nil {
			if errors.Is(err, repository.ErrTokenRotated) || errors.Is(err, repository.ErrNotFound) {
				s.suspectTheft(ctx, token)
				return nil, domain.ErrRevokedToken
			}
			span.RecordError(err)
			return nil, storageErr("rotate refresh token", err)
		}
		refreshMaterial = rotated.Value
	}

	access, err := s.Issue(ctx, IssueInput{
		Client:    client,
		User:      user,
		Scopes:    token.Scopes,
		Kind:      domain.AccessToken,
		SessionID: token.SessionID,
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	s.audit("token.refresh.success", "session_id", token.SessionID, "client_id", token.ClientID)
	return &Grant{
		SessionID:    token.SessionID,
		AccessToken:  access.Material,
		RefreshToken: refreshMaterial,
		TokenType:    "Bearer",
		ExpiresIn:    int(time.Until(access.ExpiresAt).Seconds()),
		Scope:        domain.JoinScope(token.Scopes),
	}, nil
}

// suspectTheft revokes the session behind a reused refresh token.
func (s *TokenService) suspectTheft(ctx context.Context, token domain.Token) {
	if token.SessionID == 0 {
		return
	}
	if err := s.RevokeSession(ctx, token.SessionID); err != nil {
		s.log().Warn("revoke session after refresh reuse failed",
			zap.Int64("session_id", token.SessionID), zap.Error(err))
		return
	}
	s.audit("token.refresh.reuse_detected", "session_id", token.SessionID, "token_id", token.ID)
}

// Revoke marks a store-backed token revoked. Revoking an already revoked or
// unknown token is a no-op success.
func (s *TokenService) Revoke(ctx context.Context, tokenID int64) error {
	ctx, span := s.startSpan(ctx, "TokenService.Revoke")
	defer span.End()

	if err := s.tokens.RevokeToken(ctx, tokenID); err != nil {
		span.RecordError(err)
		return storageErr("revoke token", err)
	}
	s.audit("token.revoke", "token_id", tokenID)
	return nil
}

// RevokeSession revokes the session and every token descending from it. The
// session flips first so verifications issued after this call returns always
// observe the revocation.
func (s *TokenService) RevokeSession(ctx context.Context, sessionID int64) error {
	ctx, span := s.startSpan(ctx, "TokenService.RevokeSession")
	defer span.End()

	if err := s.sessions.RevokeSession(ctx, sessionID); err != nil {
		span.RecordError(err)
		return storageErr("revoke session", err)
	}
	if err := s.tokens.RevokeSessionTokens(ctx, sessionID); err != nil {
		span.RecordError(err)
		return storageErr("revoke session tokens", err)
	}
	s.audit("session.revoke", "session_id", sessionID)
	return nil
}

// IssueGrant mints the full token set for one authorization: a session, an
// access token, a refresh token and, when the openid scope was granted to a
// user subject, an ID token. Client subjects get an access token only.
func (s *TokenService) IssueGrant(ctx context.Context, client domain.Client, user *domain.User, scopes []string) (*Grant, error) {
	ctx, span := s.startSpan(ctx, "TokenService.IssueGrant")
	defer span.End()

	scopes = domain.NormalizeScopes(scopes)
	if !domain.ScopesWithin(scopes, client.Scopes) {
		return nil, domain.ErrInvalidScope
	}
	if user != nil && !domain.ScopesWithin(scopes, user.Scopes) {
		return nil, domain.ErrInvalidScope
	}

	var sessionID int64
	if user != nil {
		session, err := s.sessions.CreateSession(ctx, domain.Session{
			ID:       s.node.Generate().Int64(),
			UserID:   user.ID,
			ClientID: client.ClientID,
			Scopes:   scopes,
		})
		if err != nil {
			span.RecordError(err)
			return nil, storageErr("create session", err)
		}
		sessionID = session.ID
	}

	access, err := s.Issue(ctx, IssueInput{Client: client, User: user, Scopes: scopes, Kind: domain.AccessToken, SessionID: sessionID})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	grant := &Grant{
		SessionID:   sessionID,
		AccessToken: access.Material,
		TokenType:   "Bearer",
		ExpiresIn:   int(time.Until(access.ExpiresAt).Seconds()),
		Scope:       domain.JoinScope(scopes),
	}

	if user != nil {
		refresh, err := s.Issue(ctx, IssueInput{Client: client, User: user, Scopes: scopes, Kind: domain.RefreshToken, SessionID: sessionID})
		if err != nil {
			span.RecordError(err)
			return nil, err
		}
		grant.RefreshToken = refresh.Material

		if hasScope(scopes, "openid") {
			idToken, err := s.Issue(ctx, IssueInput{Client: client, User: user, Scopes: scopes, Kind: domain.IDToken, SessionID: sessionID})
			if err != nil {
				span.RecordError(err)
				return nil, err
			}
			grant.IDToken = idToken.Material
		}
	}

	s.audit("grant.issued", "session_id", sessionID, "client_id", client.ClientID)
	return grant, nil
}

func hasScope(scopes []string, name string) bool {
	for _, s := range scopes {
		if s == name {
			return true
		}
	}
	return false
}

// selfVerifying discriminates signed compact tokens from opaque store-backed
// values.
func selfVerifying(material string) bool {
	return strings.Count(material, ".") == 2
}

func (s *TokenService) startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	if s == nil || s.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return s.tracer.Start(ctx, name)
}

func (s *TokenService) audit(event string, attrs ...any) {
	auditLog(s.log(), event, attrs...)
}

func (s *TokenService) log() *zap.Logger {
	if s != nil && s.logger != nil {
		return s.logger
	}
	return zap.L()
}
