package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisClient wraps go-redis to satisfy the CacheClient interface.
type RedisClient struct {
	rdb *redis.Client
}

func NewRedisClient(addr, password string, db int) (*RedisClient, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	// Fail fast if connection is bad
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &RedisClient{rdb: rdb}, nil
}

// HGet decodes one hash field into dest. A missing key or field yields redis.Nil.
func (c *RedisClient) HGet(ctx context.Context, key, field string, dest any) error {
	val, err := c.rdb.HGet(ctx, key, field).Bytes()
	if err != nil {
		return err
	}
	return json.Unmarshal(val, dest)
}

// HSet stores one hash field. The expiry is armed only when the hash has none, so
// the whole hash lives at most ttl after its first field was written however often
// it is written to afterwards. Requires Redis 7 (EXPIRE NX).
func (c *RedisClient) HSet(ctx context.Context, key, field string, value any, ttl time.Duration) error {
	bytes, err := json.Marshal(value)
	if err != nil {
		return err
	}
	pipe := c.rdb.TxPipeline()
	pipe.HSet(ctx, key, field, bytes)
	if ttl > 0 {
		pipe.ExpireNX(ctx, key, ttl)
	}
	_, err = pipe.Exec(ctx)
	return err
}

func (c *RedisClient) Del(ctx context.Context, key string) error {
	return c.rdb.Del(ctx, key).Err()
}

func (c *RedisClient) Close() error {
	return c.rdb.Close()
}
