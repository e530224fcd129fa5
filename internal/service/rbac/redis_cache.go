package rbac

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/jwalitptl/admin-rbac/internal/permission"
)

const (
	redisKeyPrefix  = "rbac:perms:"
	redisEpochKey   = "rbac:perms:epoch"
	redisFlushedKey = "rbac:perms:flushed"
)

// invalidateAllScript bumps the epoch and marks every entry stored before the
// new epoch as stale.
var invalidateAllScript = redis.NewScript(`
local e = redis.call('INCR', KEYS[1])
redis.call('SET', KEYS[2], e)
return e
`)

type redisEntry struct {
	Epoch       uint64   `json:"epoch"`
	Permissions []string `json:"permissions"`
}

// RedisCache shares resolved permission sets between API instances. The
// epoch lives in Redis so that an invalidation on one instance blocks a
// stale write-back from any other.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl}
}

func redisUserKey(userID uuid.UUID) string {
	return redisKeyPrefix + userID.String()
}

func (c *RedisCache) Get(ctx context.Context, userID uuid.UUID) (permission.Set, bool, error) {
	var entryCmd, flushedCmd *redis.StringCmd
	_, err := c.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		entryCmd = pipe.Get(ctx, redisUserKey(userID))
		flushedCmd = pipe.Get(ctx, redisFlushedKey)
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, false, fmt.Errorf("failed to read permission cache: %w", err)
	}

	raw, err := entryCmd.Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read permission cache: %w", err)
	}

	var entry redisEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, false, fmt.Errorf("failed to decode permission cache entry: %w", err)
	}

	flushed, err := flushedCmd.Uint64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, false, fmt.Errorf("failed to read permission cache: %w", err)
	}
	if entry.Epoch < flushed {
		return nil, false, nil
	}
	return permission.FromStrings(entry.Permissions), true, nil
}

func (c *RedisCache) Epoch(ctx context.Context) (uint64, error) {
	epoch, err := c.client.Get(ctx, redisEpochKey).Uint64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read cache epoch: %w", err)
	}
	return epoch, nil
}

func (c *RedisCache) SetIfEpoch(ctx context.Context, userID uuid.UUID, perms permission.Set, epoch uint64) (bool, error) {
	payload, err := json.Marshal(redisEntry{Epoch: epoch, Permissions: perms.Strings()})
	if err != nil {
		return false, fmt.Errorf("failed to encode permission cache entry: %w", err)
	}

	stored := false
	err = c.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, redisEpochKey).Uint64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if current != epoch {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, redisUserKey(userID), payload, c.ttl)
			return nil
		})
		if err == nil {
			stored = true
		}
		return err
	}, redisEpochKey)

	if errors.Is(err, redis.TxFailedErr) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to write permission cache: %w", err)
	}
	return stored, nil
}

func (c *RedisCache) InvalidateUser(ctx context.Context, userID uuid.UUID) error {
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, redisEpochKey)
		pipe.Del(ctx, redisUserKey(userID))
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to invalidate permission cache: %w", err)
	}
	return nil
}

func (c *RedisCache) InvalidateAll(ctx context.Context) error {
	if err := invalidateAllScript.Run(ctx, c.client, []string{redisEpochKey, redisFlushedKey}).Err(); err != nil {
		return fmt.Errorf("failed to flush permission cache: %w", err)
	}
	return nil
}
