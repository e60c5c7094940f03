package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisResultCache keeps finished analysis documents close to the read path.
type RedisResultCache struct {
	client *redis.Client
}

func NewRedisResultCache(client *redis.Client) *RedisResultCache {
	return &RedisResultCache{client: client}
}

func resultKey(fileID, kind string) string {
	return "analysis:" + fileID + ":" + kind
}

func (c *RedisResultCache) PutResult(ctx context.Context, fileID, kind string, result json.RawMessage, ttl time.Duration) error {
	return c.client.Set(ctx, resultKey(fileID, kind), []byte(result), ttl).Err()
}

func (c *RedisResultCache) GetResult(ctx context.Context, fileID, kind string) (json.RawMessage, error) {
	raw, err := c.client.Get(ctx, resultKey(fileID, kind)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	return json.RawMessage(raw), nil
}
