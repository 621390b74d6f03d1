package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const placeRateLimitPrefix = "rate:order:place:"

// PlaceRateLimiter caps per-user order placements with a fixed window counter
// in Redis. The TTL is set only when the counter is created so the window
// does not slide on every request.
type PlaceRateLimiter struct {
	client *redis.Client
	limit  int64
	window time.Duration
}

func NewPlaceRateLimiter(client *redis.Client, limit int64, window time.Duration) *PlaceRateLimiter {
	return &PlaceRateLimiter{
		client: client,
		limit:  limit,
		window: window,
	}
}

func (r *PlaceRateLimiter) Allow(ctx context.Context, userID uuid.UUID) (bool, error) {
	key := placeRateLimitPrefix + userID.String()

	count, err := r.client.Incr(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("rate limiter incr: %w", err)
	}

	if count == 1 {
		if err := r.client.Expire(ctx, key, r.window).Err(); err != nil {
			return false, fmt.Errorf("rate limiter expire: %w", err)
		}
	}

	return count <= r.limit, nil
}
