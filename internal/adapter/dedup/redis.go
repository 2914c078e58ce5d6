// Package dedup implements the processed-event identity store. The store is
// advisory: sinks stay idempotent regardless, the store just makes replays
// cheap by skipping sink round trips inside the retention window.
package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "mktingest:dedup:"

// RedisStore records processed event ids in Redis with the retention window
// as TTL, so all consumer workers share one dedup horizon.
type RedisStore struct {
	client    *redis.Client
	retention time.Duration
}

func NewRedisStore(client *redis.Client, retention time.Duration) *RedisStore {
	return &RedisStore{client: client, retention: retention}
}

func (s *RedisStore) key(eventID string) string {
	return keyPrefix + eventID
}

// Seen reports whether eventID was recorded within the retention window.
func (s *RedisStore) Seen(ctx context.Context, eventID string) (bool, error) {
	n, err := s.client.Exists(ctx, s.key(eventID)).Result()
	if err != nil {
		return false, fmt.Errorf("dedup lookup %s: %w", eventID, err)
	}
	return n > 0, nil
}

// Record remembers eventID. SETNX keeps the earliest first-seen timestamp
// when two workers race on the same id; expiry counts from the first write.
func (s *RedisStore) Record(ctx context.Context, eventID string, firstSeen time.Time) error {
	err := s.client.SetNX(ctx, s.key(eventID), firstSeen.UTC().Format(time.RFC3339Nano), s.retention).Err()
	if err != nil {
		return fmt.Errorf("dedup record %s: %w", eventID, err)
	}
	return nil
}
