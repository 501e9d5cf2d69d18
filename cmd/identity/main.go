package main

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"

	cacheadapter "github.com/abdihakim148/beekeeper/internal/adapter/cache"
	"github.com/abdihakim148/beekeeper/internal/bootstrap"
	"github.com/abdihakim148/beekeeper/internal/config"
	"github.com/abdihakim148/beekeeper/internal/domain"
	httptransport "github.com/abdihakim148/beekeeper/internal/http"
	"github.com/abdihakim148/beekeeper/internal/http/handler"
	httpmiddleware "github.com/abdihakim148/beekeeper/internal/http/middleware"
	"github.com/abdihakim148/beekeeper/internal/jwt"
	apimiddleware "github.com/abdihakim148/beekeeper/internal/middleware"
	"github.com/abdihakim148/beekeeper/internal/password"
	"github.com/abdihakim148/beekeeper/internal/repository"
	"github.com/abdihakim148/beekeeper/internal/server"
	"github.com/abdihakim148/beekeeper/internal/service"
	"github.com/abdihakim148/beekeeper/internal/service/flow"
	"github.com/abdihakim148/beekeeper/internal/telemetry"
)

func main() {
	app := fx.New(
		fx.Provide(
			newConfig,
			newLogger,
			newTelemetry,
			newSnowflake,
			newStores,
			newHasher,
			newRateLimiter,
			newKeyManager,
			newSigner,
			newCredentialService,
			newTokenService,
			newFlowEngine,
			newDiscoveryService,
			handler.NewIdentityHandler,
			newAuthMiddleware,
			httptransport.NewRouter,
			server.NewHTTPServer,
		),
		fx.Invoke(useTelemetry, bootstrap.EnsureSeed, startHTTPServer),
	)

	app.Run()
}

func newConfig() (config.Config, error) {
	return config.Load()
}

func newLogger(cfg config.Config) (*zap.Logger, error) {
	var (
		logger *zap.Logger
		err    error
	)
	if cfg.Environment == "development" {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return nil, err
	}
	zap.ReplaceGlobals(logger)
	return logger, nil
}

func newTelemetry(lc fx.Lifecycle, cfg config.Config, logger *zap.Logger) (*telemetry.Provider, error) {
	provider, err := telemetry.New(context.Background(), cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("telemetry init: %w", err)
	}

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			return provider.Shutdown(stopCtx)
		},
	})

	return provider, nil
}

func newSnowflake() (*snowflake.Node, error) {
	return snowflake.NewNode(1)
}

// storeSet bundles every repository behind one provider so the backend can
// be chosen in a single place.
type storeSet struct {
	fx.Out

	Users    repository.UserRepository
	Clients  repository.ClientRepository
	Codes    repository.CodeRepository
	Tokens   repository.TokenRepository
	Sessions repository.SessionRepository
	Keys     repository.KeyRepository
}

// newStores picks Postgres when DATABASE_URL is set, the in-memory store
// otherwise. The authorization code table can be swapped for Redis
// independently of the primary backend.
func newStores(lc fx.Lifecycle, cfg config.Config, logger *zap.Logger) (storeSet, error) {
	var set storeSet
	if cfg.DatabaseURL == "" {
		logger.Warn("DATABASE_URL not set, using in-memory store")
		mem := repository.NewMemory()
		set = storeSet{
			Users:    mem.Users(),
			Clients:  mem.Clients(),
			Codes:    mem.Codes(),
			Tokens:   mem.Tokens(),
			Sessions: mem.Sessions(),
			Keys:     mem.Keys(),
		}
	} else {
		pool, err := newPGXPool(lc, cfg)
		if err != nil {
			return storeSet{}, err
		}
		set = storeSet{
			Users:    repository.NewPostgresUserRepo(pool),
			Clients:  repository.NewPostgresClientRepo(pool),
			Codes:    repository.NewPostgresCodeRepo(pool),
			Tokens:   repository.NewPostgresTokenRepo(pool),
			Sessions: repository.NewPostgresSessionRepo(pool),
			Keys:     repository.NewPostgresKeyRepo(pool),
		}
	}

	if cfg.UseRedisCodes {
		client, err := newRedisClient(lc, cfg)
		if err != nil {
			return storeSet{}, err
		}
		set.Codes = cacheadapter.NewRedisCodeStore(client)
	}

	return set, nil
}

func newPGXPool(lc fx.Lifecycle, cfg config.Config) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			pool.Close()
			return nil
		},
	})

	return pool, nil
}

func newRedisClient(lc fx.Lifecycle, cfg config.Config) (redis.UniversalClient, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return client.Close()
		},
	})
	return client, nil
}

func newHasher() service.Hasher {
	return password.Argon2{}
}

func newRateLimiter(cfg config.Config) *apimiddleware.RateLimiter {
	return apimiddleware.NewRateLimiter(cfg.RateLimitRPM)
}

func newKeyManager(repo repository.KeyRepository) *jwt.KeyManager {
	return jwt.NewKeyManager(repo)
}

func newSigner(manager *jwt.KeyManager, cfg config.Config) service.TokenSigner {
	return jwt.NewGenerator(manager, cfg.Issuer)
}

func newCredentialService(users repository.UserRepository, node *snowflake.Node, hasher service.Hasher, cfg config.Config, logger *zap.Logger) (*service.CredentialService, error) {
	policy := domain.PasswordPolicy{
		MinLength:        cfg.PasswordMinLength,
		RequireUppercase: cfg.PasswordUppercase,
		RequireNumber:    cfg.PasswordNumber,
		RequireSymbol:    cfg.PasswordSymbol,
	}
	return service.NewCredentialService(users, node, hasher, policy, password.Algorithm, logger)
}

func newTokenService(tokens repository.TokenRepository, sessions repository.SessionRepository, users repository.UserRepository, clients repository.ClientRepository, node *snowflake.Node, signer service.TokenSigner, cfg config.Config, logger *zap.Logger) *service.TokenService {
	return service.NewTokenService(tokens, sessions, users, clients, node, signer, service.TokenServiceConfig{
		Issuer: cfg.Issuer,
		Policies: service.TokenPolicies{
			domain.AccessToken:  {TTL: cfg.AccessTokenTTL},
			domain.IDToken:      {TTL: cfg.IDTokenTTL},
			domain.RefreshToken: {TTL: cfg.RefreshTokenTTL, StoreBacked: true},
		},
		RefreshTokenBytes:   cfg.RefreshTokenBytes,
		RotateRefreshTokens: cfg.RotateRefreshTokens,
	}, logger)
}

func newFlowEngine(clients repository.ClientRepository, users repository.UserRepository, codes repository.CodeRepository, tokens *service.TokenService, credentials *service.CredentialService, node *snowflake.Node, hasher service.Hasher, cfg config.Config, logger *zap.Logger) (*flow.Engine, error) {
	return flow.NewEngine(clients, users, codes, tokens, credentials, node, hasher, cfg.AuthorizationCodeTTL, logger)
}

func newDiscoveryService(cfg config.Config) *service.DiscoveryService {
	return service.NewDiscoveryService(cfg.Issuer)
}

func newAuthMiddleware(tokens *service.TokenService) *httpmiddleware.Auth {
	return &httpmiddleware.Auth{Tokens: tokens}
}

func startHTTPServer(lc fx.Lifecycle, srv *server.HTTPServer, cfg config.Config, logger *zap.Logger) {
	addr := ":" + cfg.HTTPPort
	var (
		cancel context.CancelFunc
		done   chan struct{}
	)

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			runCtx, stop := context.WithCancel(context.Background())
			cancel = stop
			done = make(chan struct{})

			go func() {
				if err := srv.Run(runCtx, addr); err != nil {
					logger.Error("http server stopped", zap.Error(err))
				}
				close(done)
			}()

			return nil
		},
		OnStop: func(ctx context.Context) error {
			if cancel != nil {
				cancel()
			}
			if done == nil {
				return nil
			}
			select {
			case <-done:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	})
}

func useTelemetry(*telemetry.Provider) {}
