package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultKeyPrefix = "afp:lease:"

const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

const extendScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`

// RedisBackend stores leases as Redis keys with a PX expiry.
// Suitable for deployments where several processes share the same leases.
type RedisBackend struct {
	client    *redis.Client
	keyPrefix string
	release   *redis.Script
	extend    *redis.Script
}

// NewRedisBackend creates a Redis lease backend with an existing client
func NewRedisBackend(client *redis.Client, keyPrefix string) *RedisBackend {
	if keyPrefix == "" {
		keyPrefix = defaultKeyPrefix
	}
	return &RedisBackend{
		client:    client,
		keyPrefix: keyPrefix,
		release:   redis.NewScript(releaseScript),
		extend:    redis.NewScript(extendScript),
	}
}

// TryAcquire sets the key with NX so only one owner can hold it
func (b *RedisBackend) TryAcquire(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	ok, err := b.client.SetNX(ctx, b.keyPrefix+key, owner, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx: %w", err)
	}
	return ok, nil
}

// Release deletes the key only while it still holds owner's token
func (b *RedisBackend) Release(ctx context.Context, key, owner string) (bool, error) {
	n, err := b.release.Run(ctx, b.client, []string{b.keyPrefix + key}, owner).Int64()
	if err != nil {
		return false, fmt.Errorf("redis release: %w", err)
	}
	return n == 1, nil
}

// Extend resets the key's expiry only while it still holds owner's token
func (b *RedisBackend) Extend(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	n, err := b.extend.Run(ctx, b.client, []string{b.keyPrefix + key}, owner, ttl.Milliseconds()).Int64()
	if err != nil {
		return false, fmt.Errorf("redis extend: %w", err)
	}
	return n == 1, nil
}
