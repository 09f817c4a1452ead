package store

import (
	"context"
	"errors"
	"strings"

	"github.com/go-redis/redis/v8"
)

// DefaultRedisPrefix namespace for cache keys in a shared Redis.
const DefaultRedisPrefix = "mindpulse:cache:"

const scanBatch = 100

// RedisBackend stores each collection as a plain string value.
type RedisBackend struct {
	client *redis.Client
	prefix string
}

// NewRedisBackend wraps an existing client. An empty prefix uses DefaultRedisPrefix.
func NewRedisBackend(client *redis.Client, prefix string) *RedisBackend {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisBackend{client: client, prefix: prefix}
}

// DialRedis creates a client for addr.
func DialRedis(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

func (b *RedisBackend) key(fp Fingerprint) string {
	return b.prefix + string(fp)
}

// Load implements Backend.
func (b *RedisBackend) Load(ctx context.Context, fp Fingerprint) ([]byte, error) {
	data, err := b.client.Get(ctx, b.key(fp)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	return data, err
}

// Save implements Backend.
func (b *RedisBackend) Save(ctx context.Context, fp Fingerprint, data []byte) error {
	return b.client.Set(ctx, b.key(fp), data, 0).Err()
}

// Keys implements Backend.
func (b *RedisBackend) Keys(ctx context.Context) ([]Fingerprint, error) {
	var (
		keys   []Fingerprint
		cursor uint64
	)
	for {
		page, next, err := b.client.Scan(ctx, cursor, b.prefix+"*", scanBatch).Result()
		if err != nil {
			return nil, err
		}
		for _, k := range page {
			keys = append(keys, Fingerprint(strings.TrimPrefix(k, b.prefix)))
		}
		if next == 0 {
			return keys, nil
		}
		cursor = next
	}
}

// Close implements Backend.
func (b *RedisBackend) Close() error {
	return b.client.Close()
}
