package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"wabridge/internal/domain"
)

const (
	recKeyPrefix = "identity:rec:"
	altKeyPrefix = "identity:alt:"
)

// RedisCache shares identity state across instances. Alternate membership is
// kept in sets so concurrent upserts of the same pair converge instead of
// clobbering each other.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache constructs a Redis-backed identity cache.
func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

func (c *RedisCache) Resolve(ctx context.Context, id domain.Identifier) (domain.IdentityRecord, error) {
	canonical := id.Value

	exists, err := c.client.Exists(ctx, recKeyPrefix+canonical).Result()
	if err != nil {
		return domain.IdentityRecord{}, fmt.Errorf("check identity record: %w", err)
	}
	if exists == 0 {
		owner, err := c.client.Get(ctx, altKeyPrefix+id.Value).Result()
		if errors.Is(err, redis.Nil) {
			return domain.IdentityRecord{}, ErrNotFound
		}
		if err != nil {
			return domain.IdentityRecord{}, fmt.Errorf("resolve alternate index: %w", err)
		}
		canonical = owner
	}
	return c.load(ctx, canonical)
}

func (c *RedisCache) Upsert(ctx context.Context, canonical, alternate domain.Identifier, name string) (domain.IdentityRecord, error) {
	recKey := recKeyPrefix + canonical.Value

	pipe := c.client.TxPipeline()
	pipe.HSet(ctx, recKey, "canonical", canonical.Value)
	if name != "" {
		pipe.HSet(ctx, recKey, "name", name)
	}

	if !alternate.IsZero() && !alternate.Equal(canonical) {
		// Rebind: drop the alternate from its previous owner before the
		// index flips. SADD/SREM keep concurrent merges associative.
		prev, err := c.client.Get(ctx, altKeyPrefix+alternate.Value).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return domain.IdentityRecord{}, fmt.Errorf("read alternate owner: %w", err)
		}
		if err == nil && prev != canonical.Value {
			pipe.SRem(ctx, recKeyPrefix+prev+":alts", alternate.Value)
		}
		pipe.Set(ctx, altKeyPrefix+alternate.Value, canonical.Value, 0)
		pipe.SAdd(ctx, recKey+":alts", alternate.Value)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return domain.IdentityRecord{}, fmt.Errorf("upsert identity record: %w", err)
	}
	return c.load(ctx, canonical.Value)
}

func (c *RedisCache) load(ctx context.Context, canonical string) (domain.IdentityRecord, error) {
	fields, err := c.client.HGetAll(ctx, recKeyPrefix+canonical).Result()
	if err != nil {
		return domain.IdentityRecord{}, fmt.Errorf("load identity record: %w", err)
	}
	if len(fields) == 0 {
		return domain.IdentityRecord{}, ErrNotFound
	}

	alts, err := c.client.SMembers(ctx, recKeyPrefix+canonical+":alts").Result()
	if err != nil {
		return domain.IdentityRecord{}, fmt.Errorf("load identity alternates: %w", err)
	}

	rec := domain.IdentityRecord{
		CanonicalID: domain.ParseIdentifier(canonical),
		DisplayName: fields["name"],
	}
	for _, alt := range alts {
		rec = rec.WithAlternate(domain.ParseIdentifier(alt))
	}
	return rec, nil
}
