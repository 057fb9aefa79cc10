package api

import (
	"context"
	"fmt"
	"time"

	"github.com/fathima-sithara/message-service/internal/auth"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const localUserID = "user_id"

// RequireAuth validates the bearer token and stores the caller's id in locals.
func RequireAuth(v *auth.JWTValidator) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token, err := auth.BearerToken(c.Get(fiber.HeaderAuthorization))
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "missing auth", "code": "unauthorized"})
		}
		userID, err := v.Validate(token)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid token", "code": "unauthorized"})
		}
		c.Locals(localUserID, userID)
		return c.Next()
	}
}

func userID(c *fiber.Ctx) string {
	uid, _ := c.Locals(localUserID).(string)
	return uid
}

func tooManyRequests(c *fiber.Ctx) error {
	return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{"error": "rate limit exceeded", "code": "rate_limited"})
}

// RateLimiter is a fixed-window counter per caller kept in Redis, shared by every
// instance of the service.
type RateLimiter struct {
	Redis  *redis.Client
	Prefix string
	Limit  int
	Window time.Duration
	Log    *zap.Logger
}

func NewRateLimiter(r *redis.Client, prefix string, limit int, window time.Duration, log *zap.Logger) *RateLimiter {
	return &RateLimiter{Redis: r, Prefix: prefix, Limit: limit, Window: window, Log: log}
}

// Middleware counts requests per caller. When Redis is unreachable requests are
// let through.
func (r *RateLimiter) Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()

		key := fmt.Sprintf("%s:ratelimit:%s", r.Prefix, userID(c))
		var incr *redis.IntCmd
		var ttl *redis.DurationCmd
		_, err := r.Redis.TxPipelined(ctx, func(p redis.Pipeliner) error {
			incr = p.Incr(ctx, key)
			ttl = p.TTL(ctx, key)
			return nil
		})
		if err != nil {
			r.Log.Warn("rate limiter unavailable", zap.Error(err))
			return c.Next()
		}
		// A key without a TTL would never reset; any request that sees one arms it.
		if ttl.Val() < 0 {
			if err := r.Redis.Expire(ctx, key, r.Window).Err(); err != nil {
				r.Log.Warn("rate limiter expire failed", zap.String("key", key), zap.Error(err))
			}
		}
		if incr.Val() > int64(r.Limit) {
			return tooManyRequests(c)
		}
		return c.Next()
	}
}

// LocalRateLimiter is the single-instance fallback when no Redis is configured.
func LocalRateLimiter(limit int, window time.Duration) fiber.Handler {
	return limiter.New(limiter.Config{
		Max:          limit,
		Expiration:   window,
		KeyGenerator: userID,
		LimitReached: tooManyRequests,
	})
}
