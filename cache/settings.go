package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

const SettingsRedisKey = "user_settings"

// SettingsCache keeps the opaque settings blobs attached to feed
// deliveries, so per-delivery snapshot fetches do not hit the store.
type SettingsCache struct {
	redisClient *redis.Client
	expiration  time.Duration
}

func NewSettingsCache(redisConnection *redis.Client, expiration time.Duration) *SettingsCache {
	return &SettingsCache{
		redisClient: redisConnection,
		expiration:  expiration,
	}
}

func (c *SettingsCache) Get(userID string) (json.RawMessage, bool) {
	doc, err := c.redisClient.HGet(context.Background(), SettingsRedisKey, userID).Bytes()
	if err != nil {
		return nil, false
	}
	return doc, true
}

func (c *SettingsCache) Set(userID string, doc json.RawMessage) {
	ctx := context.Background()
	c.redisClient.HSet(ctx, SettingsRedisKey, userID, []byte(doc))
	c.redisClient.HExpire(ctx, SettingsRedisKey, c.expiration, userID)
}
