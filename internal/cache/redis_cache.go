package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type RedisCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// Dial connects to Redis and checks the connection with a PING.
func Dial(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return rdb, nil
}

func NewRedisCache(rdb *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{rdb: rdb, ttl: ttl}
}

func key(internalID int64) string {
	return fmt.Sprintf("msg:%d", internalID)
}

func (c *RedisCache) StoreSent(ctx context.Context, internalID int64, remoteMessageID string, sentAt time.Time) error {
	b, err := json.Marshal(Delivery{
		RemoteMessageID: remoteMessageID,
		SentAt:          sentAt.UTC(),
	})
	if err != nil {
		return err
	}

	return c.rdb.Set(ctx, key(internalID), b, c.ttl).Err()
}

func (c *RedisCache) Lookup(ctx context.Context, internalID int64) (Delivery, error) {
	raw, err := c.rdb.Get(ctx, key(internalID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Delivery{}, ErrMiss
	}
	if err != nil {
		return Delivery{}, err
	}

	var d Delivery
	if err := json.Unmarshal(raw, &d); err != nil {
		return Delivery{}, fmt.Errorf("decoding %s: %w", key(internalID), err)
	}
	return d, nil
}
