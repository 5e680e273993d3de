package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// NewClient creates a Redis client from a redis:// URL and verifies the
// connection.
func NewClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// QueueCache keeps a short-lived JSON snapshot of each organization's ranked
// triage queue so dashboard polling does not hit Postgres on every refresh.
// Postgres remains authoritative; a miss or Redis outage falls through to it.
type QueueCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewQueueCache(client *redis.Client, ttl time.Duration) *QueueCache {
	return &QueueCache{client: client, ttl: ttl}
}

func queueKey(orgID string) string {
	return "triage:queue:" + orgID
}

// Set stores the queue snapshot for an organization.
func (c *QueueCache) Set(ctx context.Context, orgID string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal queue snapshot: %w", err)
	}
	if err := c.client.Set(ctx, queueKey(orgID), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("set queue snapshot: %w", err)
	}
	return nil
}

// Get loads the queue snapshot into dest. The second return is false on a
// cache miss.
func (c *QueueCache) Get(ctx context.Context, orgID string, dest interface{}) (bool, error) {
	data, err := c.client.Get(ctx, queueKey(orgID)).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get queue snapshot: %w", err)
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return false, fmt.Errorf("unmarshal queue snapshot: %w", err)
	}
	return true, nil
}

// Invalidate drops the snapshot for an organization, forcing the next read
// back to Postgres.
func (c *QueueCache) Invalidate(ctx context.Context, orgID string) error {
	if err := c.client.Del(ctx, queueKey(orgID)).Err(); err != nil {
		return fmt.Errorf("invalidate queue snapshot: %w", err)
	}
	return nil
}
