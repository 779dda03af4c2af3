package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisMarkers stores cooldown markers in Redis so they survive restarts
// and are shared when the tracking service runs more than one instance.
// Expiry is native: SET NX with TTL equal to the cooldown.
type RedisMarkers struct {
	client   *redis.Client
	prefix   string
	cooldown time.Duration
}

// NewRedisMarkers creates a Redis-backed marker store.
// Returns error if connection fails.
func NewRedisMarkers(url string, cooldown time.Duration) (*RedisMarkers, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	// Test connection with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	return &RedisMarkers{
		client:   client,
		prefix:   "transit:arrival-sent:",
		cooldown: cooldown,
	}, nil
}

// MarkIfAbsent sets the marker with SET NX; Redis expires it after the
// cooldown, which is the re-arm point.
func (r *RedisMarkers) MarkIfAbsent(ctx context.Context, subjectID, scheduleID string) (bool, error) {
	key := r.prefix + markerKey(subjectID, scheduleID)
	ok, err := r.client.SetNX(ctx, key, time.Now().Unix(), r.cooldown).Result()
	if err != nil {
		return false, fmt.Errorf("setting marker: %w", err)
	}
	return ok, nil
}

// Sweep is a no-op; Redis TTL handles expiry.
func (r *RedisMarkers) Sweep(ctx context.Context) {}

// Active counts live markers by scanning the key prefix.
func (r *RedisMarkers) Active(ctx context.Context) int {
	var count int
	iter := r.client.Scan(ctx, 0, r.prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		count++
	}
	return count
}

// Close releases the Redis connection.
func (r *RedisMarkers) Close() error {
	return r.client.Close()
}
