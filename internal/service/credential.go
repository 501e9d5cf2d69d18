package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/abdihakim148/beekeeper/internal/domain"
	"github.com/abdihakim148/beekeeper/internal/repository"
)

// CredentialService registers users and verifies login credentials through
// the hashing port.
type CredentialService struct {
	users  repository.UserRepository
	node   *snowflake.Node
	hasher Hasher
	policy domain.PasswordPolicy
	algo   string
	dummy  string
	logger *zap.Logger
	tracer trace.Tracer
}

// NewCredentialService wires dependencies. A throwaway digest is computed up
// front so that verification against an unknown identifier costs the same
// hash work as a real comparison.
func NewCredentialService(users repository.UserRepository, node *snowflake.Node, hasher Hasher, policy domain.PasswordPolicy, algo string, logger *zap.Logger) (*CredentialService, error) {
	filler := make([]byte, 32)
	if _, err := rand.Read(filler); err != nil {
		return nil, fmt.Errorf("generate dummy secret: %w", err)
	}
	dummy, err := hasher.Hash(hex.EncodeToString(filler))
	if err != nil {
		return nil, fmt.Errorf("hash dummy secret: %w", err)
	}
	return &CredentialService{
		users:  users,
		node:   node,
		hasher: hasher,
		policy: policy,
		algo:   algo,
		dummy:  dummy,
		logger: logger,
		tracer: otel.Tracer("github.com/abdihakim148/beekeeper/internal/service"),
	}, nil
}

// RegisterInput carries the attributes of a new user.
type RegisterInput struct {
	Email  string
	Name   string
	Secret string
	Scopes []string
}

// Register creates a user and its credential.
func (s *CredentialService) Register(ctx context.Context, in RegisterInput) (domain.User, error) {
	ctx, span := s.startSpan(ctx, "CredentialService.Register")
	defer span.End()

	email := NormalizeIdentifier(in.Email)
	if email == "" {
		return domain.User{}, fmt.Errorf("%w: empty identifier", domain.ErrInvalidCredential)
	}
	if err := s.policy.Validate(in.Secret); err != nil {
		return domain.User{}, err
	}

	digest, err := s.hasher.Hash(in.Secret)
	if err != nil {
		span.RecordError(err)
		return domain.User{}, fmt.Errorf("hash secret: %w", err)
	}

	user := domain.User{
		ID:    s.node.Generate().Int64(),
		Email: email,
		Name:  strings.TrimSpace(in.Name),
		Credential: domain.Credential{
			Digest:    digest,
			Algorithm: s.algo,
			RotatedAt: time.Now().UTC(),
		},
		Scopes: domain.NormalizeScopes(in.Scopes),
		Status: domain.UserActive,
	}

	created, err := s.users.Create(ctx, user)
	if err != nil {
		span.RecordError(err)
		if errors.Is(err, repository.ErrConflict) {
			return domain.User{}, domain.ErrDuplicateIdentity
		}
		return domain.User{}, storageErr("create user", err)
	}

	s.audit("credential.register.success", "user_id", created.ID)
	return created, nil
}

// Verify authenticates an identifier/secret pair. Unknown identifier and
// wrong secret are indistinguishable to the caller, in error kind and in
// hashing work performed.
func (s *CredentialService) Verify(ctx context.Context, identifier, secret string) (domain.User, error) {
	ctx, span := s.startSpan(ctx, "CredentialService.Verify")
	defer span.End()

	email := NormalizeIdentifier(identifier)
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			span.RecordError(err)
			return domain.User{}, storageErr("get user", err)
		}
		// Burn the same hash comparison as the found path.
		_, _ = s.hasher.Verify(secret, s.dummy)
		return domain.User{}, domain.ErrInvalidCredential
	}

	valid, err := s.hasher.Verify(secret, user.Credential.Digest)
	if err != nil || !valid {
		return domain.User{}, domain.ErrInvalidCredential
	}
	if !user.Active() {
		return domain.User{}, domain.ErrInvalidCredential
	}

	s.audit("credential.verify.success", "user_id", user.ID)
	return user, nil
}

// Rotate replaces a user's credential after re-verifying the old secret.
func (s *CredentialService) Rotate(ctx context.Context, userID int64, oldSecret, newSecret string) error {
	ctx, span := s.startSpan(ctx, "CredentialService.Rotate")
	defer span.End()

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.ErrInvalidCredential
		}
		span.RecordError(err)
		return storageErr("get user", err)
	}

	valid, err := s.hasher.Verify(oldSecret, user.Credential.Digest)
	if err != nil || !valid {
		return domain.ErrInvalidCredential
	}
	if err := s.policy.Validate(newSecret); err != nil {
		return err
	}

	digest, err := s.hasher.Hash(newSecret)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("hash secret: %w", err)
	}

	cred := domain.Credential{
		Digest:    digest,
		Algorithm: s.algo,
		RotatedAt: time.Now().UTC(),
	}
	if err := s.users.UpdateCredential(ctx, userID, cred); err != nil {
		span.RecordError(err)
		return storageErr("update credential", err)
	}

	s.audit("credential.rotate.success", "user_id", userID)
	return nil
}

// NormalizeIdentifier lowercases and trims the login identifier so that
// uniqueness and lookup agree on one canonical form.
func NormalizeIdentifier(identifier string) string {
	return strings.ToLower(strings.TrimSpace(identifier))
}

func (s *CredentialService) startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	if s == nil || s.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return s.tracer.Start(ctx, name)
}

func (s *CredentialService) audit(event string, attrs ...any) {
	auditLog(s.log(), event, attrs...)
}

func (s *CredentialService) log() *zap.Logger {
	if s != nil && s.logger != nil {
		return s.logger
	}
	return zap.L()
}
