package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const playbackKeyPrefix = "playback:"

// PlaybackCache keeps the last committed playback snapshot of each room as
// JSON so reads can skip the database.
type PlaybackCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewPlaybackCache creates a cache whose entries expire after ttl (24h when zero).
func NewPlaybackCache(client *redis.Client, ttl time.Duration) *PlaybackCache {
	if ttl == 0 {
		ttl = 24 * time.Hour
	}
	return &PlaybackCache{client: client, ttl: ttl}
}

// Store saves the snapshot for roomID.
func (c *PlaybackCache) Store(ctx context.Context, roomID string, snapshot interface{}) error {
	raw, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	if err := c.client.Set(ctx, playbackKeyPrefix+roomID, raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store snapshot: %w", err)
	}
	return nil
}

// Load decodes the cached snapshot into dst. It reports false on a miss.
func (c *PlaybackCache) Load(ctx context.Context, roomID string, dst interface{}) (bool, error) {
	raw, err := c.client.Get(ctx, playbackKeyPrefix+roomID).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("failed to get snapshot: %w", err)
	}

	if err := json.Unmarshal(raw, dst); err != nil {
		return false, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	return true, nil
}

// Invalidate drops the snapshot for roomID.
func (c *PlaybackCache) Invalidate(ctx context.Context, roomID string) error {
	return c.client.Del(ctx, playbackKeyPrefix+roomID).Err()
}
