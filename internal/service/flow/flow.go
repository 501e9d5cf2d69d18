// Package flow drives the authorization flows that tie credentials, codes
// and tokens together: authorization code issuance and exchange, client
// credentials, resource owner password.
package flow

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/abdihakim148/beekeeper/internal/domain"
	"github.com/abdihakim148/beekeeper/internal/repository"
	"github.com/abdihakim148/beekeeper/internal/service"
)

const codeBytes = 32

// Engine orchestrates the grant flows. It owns no token or credential logic
// itself; it sequences the services and enforces flow-level invariants such
// as single code use and strict redirect equality.
type Engine struct {
	clients     repository.ClientRepository
	users       repository.UserRepository
	codes       repository.CodeRepository
	tokens      *service.TokenService
	credentials *service.CredentialService
	node        *snowflake.Node
	hasher      service.Hasher
	dummy       string
	codeTTL     time.Duration
	logger      *zap.Logger
	tracer      trace.Tracer
}

// NewEngine wires the flow engine.
func NewEngine(clients repository.ClientRepository, users repository.UserRepository, codes repository.CodeRepository, tokens *service.TokenService, credentials *service.CredentialService, node *snowflake.Node, hasher service.Hasher, codeTTL time.Duration, logger *zap.Logger) (*Engine, error) {
	filler := make([]byte, 32)
	if _, err := rand.Read(filler); err != nil {
		return nil, fmt.Errorf("generate dummy secret: %w", err)
	}
	dummy, err := hasher.Hash(hex.EncodeToString(filler))
	if err != nil {
		return nil, fmt.Errorf("hash dummy secret: %w", err)
	}
	return &Engine{
		clients:     clients,
		users:       users,
		codes:       codes,
		tokens:      tokens,
		credentials: credentials,
		node:        node,
		hasher:      hasher,
		dummy:       dummy,
		codeTTL:     codeTTL,
		logger:      logger,
		tracer:      otel.Tracer("github.com/abdihakim148/beekeeper/internal/service/flow"),
	}, nil
}

// AuthorizeInput starts an authorization code flow for an already
// authenticated resource owner.
type AuthorizeInput struct {
	ClientID    string
	UserID      int64
	RedirectURI string
	Scopes      []string
}

// AuthorizeResult is the minted single-use code.
type AuthorizeResult struct {
	Code        string
	RedirectURI string
	ExpiresAt   time.Time
}

// Authorize validates the request against the client registration and mints
// a short-lived single-use authorization code.
func (e *Engine) Authorize(ctx context.Context, in AuthorizeInput) (AuthorizeResult, error) {
	ctx, span := e.startSpan(ctx, "flow.Authorize")
	defer span.End()

	client, err := e.clients.GetByClientID(ctx, in.ClientID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return AuthorizeResult{}, domain.ErrInvalidClient
		}
		span.RecordError(err)
		return AuthorizeResult{}, storageErr("get client", err)
	}
	if !client.AllowsGrant(domain.GrantAuthorizationCode) {
		return AuthorizeResult{}, domain.ErrInvalidClient
	}
	if !client.AllowsRedirect(in.RedirectURI) {
		return AuthorizeResult{}, domain.ErrInvalidRedirectURI
	}

	user, err := e.users.GetByID(ctx, in.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return AuthorizeResult{}, domain.ErrInvalidCredential
		}
		span.RecordError(err)
		return AuthorizeResult{}, storageErr("get user", err)
	}
	if !user.Active() {
		return AuthorizeResult{}, domain.ErrInvalidCredential
	}

	scopes := domain.NormalizeScopes(in.Scopes)
	if !domain.ScopesWithin(scopes, client.Scopes) || !domain.ScopesWithin(scopes, user.Scopes) {
		return AuthorizeResult{}, domain.ErrInvalidScope
	}

	now := time.Now().UTC()
	code := domain.AuthorizationCode{
		ID:          e.node.Generate().Int64(),
		Code:        randomCode(),
		ClientID:    client.ClientID,
		UserID:      user.ID,
		RedirectURI: in.RedirectURI,
		Scopes:      scopes,
		ExpiresAt:   now.Add(e.codeTTL),
	}
	if err := e.codes.CreateCode(ctx, code); err != nil {
		span.RecordError(err)
		return AuthorizeResult{}, storageErr("persist code", err)
	}

	e.audit("flow.authorize.code_issued", "client_id", client.ClientID, "user_id", user.ID)
	return AuthorizeResult{
		Code:        code.Code,
		RedirectURI: in.RedirectURI,
		ExpiresAt:   code.ExpiresAt,
	}, nil
}

// ExchangeInput redeems an authorization code for a grant.
type ExchangeInput struct {
	ClientID     string
	ClientSecret string
	Code         string
	RedirectURI  string
}

// Exchange consumes the code atomically and mints the token set. A consumed
// code replayed here revokes the session it previously minted.
func (e *Engine) Exchange(ctx context.Context, in ExchangeInput) (*service.Grant, error) {
	ctx, span := e.startSpan(ctx, "flow.Exchange")
	defer span.End()

	client, err := e.authenticateClient(ctx, in.ClientID, in.ClientSecret)
	if err != nil {
		return nil, err
	}
	if !client.AllowsGrant(domain.GrantAuthorizationCode) {
		return nil, domain.ErrInvalidClient
	}

	record, err := e.codes.ConsumeCode(ctx, in.Code)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrCodeConsumed):
			e.revokeReplayedSession(ctx, record)
			return nil, domain.ErrInvalidGrant
		case errors.Is(err, repository.ErrNotFound):
			return nil, domain.ErrInvalidGrant
		default:
			span.RecordError(err)
			return nil, storageErr("consume code", err)
		}
	}

	if record.ClientID != client.ClientID || record.RedirectURI != in.RedirectURI {
		return nil, domain.ErrInvalidGrant
	}
	if record.Expired(time.Now().UTC()) {
		return nil, domain.ErrInvalidGrant
	}

	user, err := e.users.GetByID(ctx, record.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, domain.ErrInvalidGrant
		}
		span.RecordError(err)
		return nil, storageErr("get user", err)
	}
	if !user.Active() {
		return nil, domain.ErrInvalidGrant
	}

	grant, err := e.tokens.IssueGrant(ctx, client, &user, record.Scopes)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	if bindErr := e.codes.BindCodeSession(ctx, in.Code, grant.SessionID); bindErr != nil {
		e.log().Warn("bind code session failed",
			zap.String("client_id", client.ClientID), zap.Error(bindErr))
	}

	e.audit("flow.exchange.success", "client_id", client.ClientID, "session_id", grant.SessionID)
	return grant, nil
}

// ClientCredentials mints an access token for a confidential client acting
// on its own behalf. No session or refresh token is created.
func (e *Engine) ClientCredentials(ctx context.Context, clientID, clientSecret string, scopes []string) (*service.Grant, error) {
	ctx, span := e.startSpan(ctx, "flow.ClientCredentials")
	defer span.End()

	client, err := e.authenticateClient(ctx, clientID, clientSecret)
	if err != nil {
		return nil, err
	}
	if !client.Confidential || !client.AllowsGrant(domain.GrantClientCredentials) {
		return nil, domain.ErrInvalidClient
	}

	grant, err := e.tokens.IssueGrant(ctx, client, nil, scopes)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	e.audit("flow.client_credentials.success", "client_id", client.ClientID)
	return grant, nil
}

// PasswordInput authenticates the resource owner directly at the token
// endpoint.
type PasswordInput struct {
	ClientID     string
	ClientSecret string
	Identifier   string
	Secret       string
	Scopes       []string
}

// Password runs the resource owner password grant.
func (e *Engine) Password(ctx context.Context, in PasswordInput) (*service.Grant, error) {
	ctx, span := e.startSpan(ctx, "flow.Password")
	defer span.End()

	client, err := e.authenticateClient(ctx, in.ClientID, in.ClientSecret)
	if err != nil {
		return nil, err
	}
	if !client.AllowsGrant(domain.GrantPassword) {
		return nil, domain.ErrInvalidClient
	}

	user, err := e.credentials.Verify(ctx, in.Identifier, in.Secret)
	if err != nil {
		return nil, err
	}

	grant, err := e.tokens.IssueGrant(ctx, client, &user, in.Scopes)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	e.audit("flow.password.success", "client_id", client.ClientID, "user_id", user.ID)
	return grant, nil
}

// authenticateClient resolves and authenticates the caller. Unknown clients
// burn a digest verification so lookups stay timing-uniform, and secret
// mismatches on confidential clients report the same error as unknown ones.
func (e *Engine) authenticateClient(ctx context.Context, clientID, clientSecret string) (domain.Client, error) {
	client, err := e.clients.GetByClientID(ctx, clientID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			_, _ = e.hasher.Verify(clientSecret, e.dummy)
			return domain.Client{}, domain.ErrInvalidClient
		}
		return domain.Client{}, storageErr("get client", err)
	}
	if client.Confidential {
		ok, verifyErr := e.hasher.Verify(clientSecret, client.SecretDigest)
		if verifyErr != nil || !ok {
			return domain.Client{}, domain.ErrInvalidClient
		}
	} else if clientSecret != "" {
		return domain.Client{}, domain.ErrInvalidClient
	}
	return client, nil
}

func randomCode() string {
	buf := make([]byte, codeBytes)
	if _, err := rand.Read(buf); err != nil {
		panic(fmt.Errorf("read random: %w", err))
	}
	return hex.EncodeToString(buf)
}

func storageErr(op string, err error) error {
	return fmt.Errorf("%s: %w", op, errors.Join(domain.ErrStorageUnavailable, err))
}

// revokeReplayedSession tears down whatever a replayed code minted.
func (e *Engine) revokeReplayedSession(ctx context.Context, record domain.AuthorizationCode) {
	if record.SessionID == 0 {
		return
	}
	if err := e.tokens.RevokeSession(ctx, record.SessionID); err != nil {
		e.log().Warn("revoke session after code replay failed",
			zap.Int64("session_id", record.SessionID), zap.Error(err))
		return
	}
	e.audit("flow.exchange.replay_detected", "session_id", record.SessionID)
}

func (e *Engine) startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	if e == nil || e.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return e.tracer.Start(ctx, name)
}

func (e *Engine) audit(event string, attrs ...any) {
	fields := make([]zap.Field, 0, len(attrs)/2)
	for i := 0; i+1 < len(attrs); i += 2 {
		key, ok := attrs[i].(string)
		if !ok {
			continue
		}
		fields = append(fields, zap.Any(key, attrs[i+1]))
	}
	e.log().Info("audit:"+event, fields...)
}

func (e *Engine) log() *zap.Logger {
	if e != nil && e.logger != nil {
		return e.logger
	}
	return zap.L()
}
