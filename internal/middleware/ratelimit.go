package middleware

import (
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"github.com/makeasinger/musicgen/internal/logger"
	"github.com/makeasinger/musicgen/pkg/response"
)

type RateLimiter struct {
	redis redis.UniversalClient
}

// NewRateLimiter creates a fixed-window limiter. A nil client disables it.
func NewRateLimiter(redisClient redis.UniversalClient) *RateLimiter {
	return &RateLimiter{redis: redisClient}
}

// Limit creates a rate limiting middleware
func (rl *RateLimiter) Limit(keyPrefix string, maxRequests int, window time.Duration) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if rl.redis == nil || maxRequests <= 0 {
			return c.Next()
		}

		userID := GetUserID(c)
		if userID == "" {
			return c.Next() // auth middleware should catch this
		}

		key := fmt.Sprintf("ratelimit:%s:%s", keyPrefix, userID)
		ctx := c.UserContext()

		count, err := rl.redis.Incr(ctx, key).Result()
		if err != nil {
			logger.Warnf("[RateLimit] redis unavailable, allowing request: %v", err)
			return c.Next()
		}

		// the window starts with the first request
		if count == 1 {
			rl.redis.Expire(ctx, key, window)
		}

		if count > int64(maxRequests) {
			ttl, _ := rl.redis.TTL(ctx, key).Result()
			c.Set("Retry-After", fmt.Sprintf("%d", int(ttl.Seconds())))
			return response.RateLimited(c)
		}

		c.Set("X-RateLimit-Limit", fmt.Sprintf("%d", maxRequests))
		c.Set("X-RateLimit-Remaining", fmt.Sprintf("%d", maxRequests-int(count)))

		return c.Next()
	}
}

// GenerationLimit limits generation submissions per user and hour
func (rl *RateLimiter) GenerationLimit(maxPerHour int) fiber.Handler {
	return rl.Limit("generations", maxPerHour, time.Hour)
}
