package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const FollowerCountRedisKey = "profiles_follower_count"

// CounterCache keeps follower counters in a redis hash so profile reads
// skip the store on the hot path. The store remains authoritative; entries
// expire and are refilled from ledger results.
type CounterCache struct {
	redisClient *redis.Client
	expiration  time.Duration
}

func NewCounterCache(redisConnection *redis.Client, expiration time.Duration) *CounterCache {
	return &CounterCache{
		redisClient: redisConnection,
		expiration:  expiration,
	}
}

func (c *CounterCache) GetFollowerCount(id string) (int64, bool) {
	count, err := c.redisClient.HGet(context.Background(), FollowerCountRedisKey, id).Int64()
	if err != nil {
		return 0, false
	}
	return count, true
}

func (c *CounterCache) SetFollowerCount(id string, count int64) {
	ctx := context.Background()
	c.redisClient.HSet(ctx, FollowerCountRedisKey, id, count)
	c.redisClient.HExpire(ctx, FollowerCountRedisKey, c.expiration, id)
}

func (c *CounterCache) DeleteFollowerCount(id string) {
	c.redisClient.HDel(context.Background(), FollowerCountRedisKey, id)
}
