package cache

import (
	"context"
	"io"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultJobQueueKey = "media:analysis:queue"

// RedisJobQueue is a delayed queue on a sorted set scored by due time in unix
// milliseconds. ZREM arbitrates between workers racing for the same member.
type RedisJobQueue struct {
	client *redis.Client
	key    string
}

func NewRedisJobQueue(client *redis.Client, key string) *RedisJobQueue {
	if key == "" {
		key = defaultJobQueueKey
	}
	return &RedisJobQueue{client: client, key: key}
}

func dueScore(t time.Time) float64 {
	return float64(t.UnixMilli())
}

func (q *RedisJobQueue) Enqueue(ctx context.Context, jobID string, notBefore time.Time) error {
	return q.client.ZAdd(ctx, q.key, redis.Z{
		Score:  dueScore(notBefore),
		Member: jobID,
	}).Err()
}

func (q *RedisJobQueue) Dequeue(ctx context.Context, now time.Time) (string, error) {
	for attempt := 0; attempt < 3; attempt++ {
		ids, err := q.client.ZRangeByScore(ctx, q.key, &redis.ZRangeBy{
			Min:   "-inf",
			Max:   strconv.FormatInt(now.UnixMilli(), 10),
			Count: 1,
		}).Result()
		if err != nil {
			return "", err
		}
		if len(ids) == 0 {
			return "", io.EOF
		}
		removed, err := q.client.ZRem(ctx, q.key, ids[0]).Result()
		if err != nil {
			return "", err
		}
		if removed == 1 {
			return ids[0], nil
		}
	}
	return "", io.EOF
}

func (q *RedisJobQueue) Len(ctx context.Context) (int64, error) {
	return q.client.ZCard(ctx, q.key).Result()
}
