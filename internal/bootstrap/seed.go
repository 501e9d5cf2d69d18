// Package bootstrap seeds the records the service needs before it can serve
// its first request: an admin user and a default OAuth client.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/abdihakim148/beekeeper/internal/config"
	"github.com/abdihakim148/beekeeper/internal/domain"
	"github.com/abdihakim148/beekeeper/internal/password"
	"github.com/abdihakim148/beekeeper/internal/repository"
)

// EnsureSeed creates the admin user and default client if missing.
func EnsureSeed(lc fx.Lifecycle, cfg config.Config, users repository.UserRepository, clients repository.ClientRepository, node *snowflake.Node, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := ensureAdmin(ctx, cfg, users, node, logger); err != nil {
				return err
			}
			return ensureClient(ctx, cfg, clients, node, logger)
		},
	})
}

func ensureAdmin(ctx context.Context, cfg config.Config, users repository.UserRepository, node *snowflake.Node, logger *zap.Logger) error {
	email := strings.ToLower(strings.TrimSpace(cfg.AdminEmail))
	if email == "" || strings.TrimSpace(cfg.AdminPassword) == "" {
		return fmt.Errorf("admin bootstrap missing required config")
	}

	if _, err := users.GetByEmail(ctx, email); err == nil {
		return nil
	} else if !errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("bootstrap lookup user: %w", err)
	}

	digest, err := password.Hash(cfg.AdminPassword)
	if err != nil {
		return fmt.Errorf("bootstrap hash password: %w", err)
	}

	user := domain.User{
		ID:    node.Generate().Int64(),
		Email: email,
		Name:  "Admin",
		Credential: domain.Credential{
			Digest:    digest,
			Algorithm: password.Algorithm,
		},
		Scopes: []string{"openid", "profile", "email", "admin"},
		Status: domain.UserActive,
	}

	created, err := users.Create(ctx, user)
	if err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil
		}
		return fmt.Errorf("bootstrap create user: %w", err)
	}

	if logger != nil {
		logger.Info("bootstrap admin user created",
			zap.String("email", created.Email),
			zap.Int64("user_id", created.ID),
		)
	}
	return nil
}

func ensureClient(ctx context.Context, cfg config.Config, clients repository.ClientRepository, node *snowflake.Node, logger *zap.Logger) error {
	clientID := strings.TrimSpace(cfg.SeedClientID)
	if clientID == "" {
		return nil
	}

	if _, err := clients.GetByClientID(ctx, clientID); err == nil {
		return nil
	} else if !errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("bootstrap lookup client: %w", err)
	}

	client := domain.Client{
		ID:           node.Generate().Int64(),
		ClientID:     clientID,
		Name:         "Default Console",
		RedirectURIs: cfg.SeedClientRedirects,
		GrantTypes: []string{
			domain.GrantAuthorizationCode,
			domain.GrantRefreshToken,
			domain.GrantPassword,
		},
		Scopes: cfg.SeedClientScopes,
	}
	if secret := strings.TrimSpace(cfg.SeedClientSecret); secret != "" {
		digest, err := password.Hash(secret)
		if err != nil {
			return fmt.Errorf("bootstrap hash client secret: %w", err)
		}
		client.SecretDigest = digest
		client.Confidential = true
		client.GrantTypes = append(client.GrantTypes, domain.GrantClientCredentials)
	}

	created, err := clients.Create(ctx, client)
	if err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil
		}
		return fmt.Errorf("bootstrap create client: %w", err)
	}

	if logger != nil {
		logger.Info("bootstrap client created",
			zap.String("client_id", created.ClientID),
			zap.Bool("confidential", created.Confidential),
		)
	}
	return nil
}
