package cache

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kyleking/fedquery/internal/config"
	apperrors "github.com/kyleking/fedquery/internal/errors"
)

const scanBatch = 500

// RedisBackend shares cache entries between processes through Redis
type RedisBackend struct {
	client    redis.UniversalClient
	keyPrefix string
}

type redisEnvelope struct {
	RowCount int    `json:"row_count"`
	Data     []byte `json:"data"`
}

// NewRedisBackend wraps an existing client. Every key is stored under keyPrefix.
func NewRedisBackend(client redis.UniversalClient, keyPrefix string) *RedisBackend {
	return &RedisBackend{client: client, keyPrefix: keyPrefix}
}

// NewRedisBackendFromConfig connects to the configured server and verifies it answers
func NewRedisBackendFromConfig(ctx context.Context, cfg config.CacheConfig) (*RedisBackend, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, apperrors.Unavailable(err, "redis at "+cfg.RedisAddr).
			WithSuggestion("Unset FEDQUERY_CACHE_REDIS_ADDR to use the in-memory cache only")
	}

	return NewRedisBackend(client, cfg.RedisKeyPrefix), nil
}

func (b *RedisBackend) Get(ctx context.Context, key string) (Payload, time.Duration, bool, error) {
	var (
		get *redis.StringCmd
		ttl *redis.DurationCmd
	)

	_, err := b.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		get = pipe.Get(ctx, b.keyPrefix+key)
		ttl = pipe.PTTL(ctx, b.keyPrefix+key)

		return nil
	})
	if errors.Is(err, redis.Nil) {
		return Payload{}, 0, false, nil
	}

	if err != nil {
		return Payload{}, 0, false, apperrors.Unavailable(err, "redis")
	}

	raw, err := get.Bytes()
	if err != nil {
		return Payload{}, 0, false, apperrors.Unavailable(err, "redis")
	}

	var env redisEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Payload{}, 0, false, apperrors.Wrap(err, apperrors.ErrTypeCacheSerialization, "corrupt redis cache entry")
	}

	remaining := ttl.Val()
	if remaining <= 0 {
		// no expiry set, or the key expired between the two commands
		return Payload{}, 0, false, nil
	}

	return Payload{Data: env.Data, RowCount: env.RowCount}, remaining, true, nil
}

func (b *RedisBackend) Set(ctx context.Context, key string, p Payload, ttl time.Duration) error {
	raw, err := json.Marshal(redisEnvelope{RowCount: p.RowCount, Data: p.Data})
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrTypeCacheSerialization, "failed to encode redis cache entry")
	}

	if err := b.client.Set(ctx, b.keyPrefix+key, raw, ttl).Err(); err != nil {
		return apperrors.Unavailable(err, "redis")
	}

	return nil
}

// Delete removes a single key
func (b *RedisBackend) Delete(ctx context.Context, key string) error {
	if err := b.client.Del(ctx, b.keyPrefix+key).Err(); err != nil {
		return apperrors.Unavailable(err, "redis")
	}

	return nil
}

// Invalidate deletes every key under prefix using SCAN, so large keyspaces
// are removed in batches
func (b *RedisBackend) Invalidate(ctx context.Context, prefix string) (int, error) {
	match := escapeGlob(b.keyPrefix+prefix) + "*"
	removed := 0

	var cursor uint64

	for {
		keys, next, err := b.client.Scan(ctx, cursor, match, scanBatch).Result()
		if err != nil {
			return removed, apperrors.Unavailable(err, "redis")
		}

		if len(keys) > 0 {
			n, err := b.client.Del(ctx, keys...).Result()
			if err != nil {
				return removed, apperrors.Unavailable(err, "redis")
			}

			removed += int(n)
		}

		cursor = next
		if cursor == 0 {
			return removed, nil
		}
	}
}

func (b *RedisBackend) Close() error {
	return b.client.Close()
}

var globEscaper = strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)

func escapeGlob(s string) string {
	return globEscaper.Replace(s)
}
