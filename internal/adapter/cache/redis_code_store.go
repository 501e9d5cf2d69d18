// Package cache provides Redis-backed adapters for short-lived records.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/abdihakim148/beekeeper/internal/domain"
	"github.com/abdihakim148/beekeeper/internal/repository"
)

const (
	codeKeyPrefix = "authcode:"
	usedKeyPrefix = "authcode:used:"

	// tombstoneTTL bounds how long a consumed code stays detectable as a
	// replay before it decays to plain not-found.
	tombstoneTTL = time.Hour
)

// RedisCodeStore implements CodeRepository backed by Redis. Consumption uses
// GETDEL so exactly one caller wins; a tombstone key keeps the consumed
// record visible for replay detection.
type RedisCodeStore struct {
	client redis.UniversalClient
}

var _ repository.CodeRepository = (*RedisCodeStore)(nil)

// NewRedisCodeStore constructs a Redis-backed code store.
func NewRedisCodeStore(client redis.UniversalClient) *RedisCodeStore {
	return &RedisCodeStore{client: client}
}

// CreateCode stores the code with a TTL matching its expiry.
func (s *RedisCodeStore) CreateCode(ctx context.Context, code domain.AuthorizationCode) error {
	if code.CreatedAt.IsZero() {
		code.CreatedAt = time.Now().UTC()
	}
	payload, err := json.Marshal(code)
	if err != nil {
		return fmt.Errorf("marshal code: %w", err)
	}
	ttl := time.Until(code.ExpiresAt)
	if ttl <= 0 {
		ttl = time.Second
	}
	set, err := s.client.SetNX(ctx, codeKeyPrefix+code.Code, payload, ttl).Result()
	if err != nil {
		return fmt.Errorf("persist code: %w", err)
	}
	if !set {
		return repository.ErrConflict
	}
	return nil
}

// ConsumeCode atomically removes the live code. A code already consumed is
// reported from its tombstone so callers can react to the replay. Under a
// concurrent consume the loser may observe not-found instead of consumed;
// either way only one caller ever receives the record without error.
func (s *RedisCodeStore) ConsumeCode(ctx context.Context, code string) (domain.AuthorizationCode, error) {
	bytes, err := s.client.GetDel(ctx, codeKeyPrefix+code).Bytes()
	if err != nil {
		if err != redis.Nil {
			return domain.AuthorizationCode{}, fmt.Errorf("consume code: %w", err)
		}
		return s.consumedRecord(ctx, code)
	}

	var record domain.AuthorizationCode
	if err := json.Unmarshal(bytes, &record); err != nil {
		return domain.AuthorizationCode{}, fmt.Errorf("decode code: %w", err)
	}
	now := time.Now().UTC()
	record.ConsumedAt = &now

	payload, err := json.Marshal(record)
	if err != nil {
		return domain.AuthorizationCode{}, fmt.Errorf("marshal tombstone: %w", err)
	}
	if err := s.client.Set(ctx, usedKeyPrefix+code, payload, tombstoneTTL).Err(); err != nil {
		return domain.AuthorizationCode{}, fmt.Errorf("persist tombstone: %w", err)
	}
	return record, nil
}

func (s *RedisCodeStore) consumedRecord(ctx context.Context, code string) (domain.AuthorizationCode, error) {
	bytes, err := s.client.Get(ctx, usedKeyPrefix+code).Bytes()
	if err != nil {
		if err == redis.Nil {
			return domain.AuthorizationCode{}, repository.ErrNotFound
		}
		return domain.AuthorizationCode{}, fmt.Errorf("load tombstone: %w", err)
	}
	var record domain.AuthorizationCode
	if err := json.Unmarshal(bytes, &record); err != nil {
		return domain.AuthorizationCode{}, fmt.Errorf("decode tombstone: %w", err)
	}
	return record, repository.ErrCodeConsumed
}

// BindCodeSession records the session a consumed code minted on its
// tombstone.
func (s *RedisCodeStore) BindCodeSession(ctx context.Context, code string, sessionID int64) error {
	key := usedKeyPrefix + code
	bytes, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return repository.ErrNotFound
		}
		return fmt.Errorf("load tombstone: %w", err)
	}
	var record domain.AuthorizationCode
	if err := json.Unmarshal(bytes, &record); err != nil {
		return fmt.Errorf("decode tombstone: %w", err)
	}
	record.SessionID = sessionID
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal tombstone: %w", err)
	}
	if err := s.client.Set(ctx, key, payload, redis.KeepTTL).Err(); err != nil {
		return fmt.Errorf("persist tombstone: %w", err)
	}
	return nil
}
