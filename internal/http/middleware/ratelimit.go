package middleware

import (
	"context"
	"net/http"
	"strconv"
	"time"

	echo "github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
)

// RateLimitConfig configures the Redis-backed per-business RPS limiter.
type RateLimitConfig struct {
	Redis          *redis.Client
	DefaultRPS     int           // fallback when the business has no override
	KeyPrefix      string        // e.g. "rl:biz:"
	Window         time.Duration // usually 1s
	RetryAfterHint bool          // set Retry-After header when limited
}

// RateLimitMiddleware enforces a fixed-window request budget per business.
// Unauthenticated requests pass through untouched; so do requests when
// Redis is unavailable (failing open keeps the API usable in dev).
func RateLimitMiddleware(cfg RateLimitConfig) echo.MiddlewareFunc {
	if cfg.Window <= 0 {
		cfg.Window = time.Second
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "rl:biz:"
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			bizID, ok := BusinessIDFromCtx(c)
			if !ok {
				return next(c)
			}

			budget := cfg.DefaultRPS
			if v, ok := c.Get("business_rps").(int); ok && v > 0 {
				budget = v
			}
			if budget <= 0 || cfg.Redis == nil {
				return next(c)
			}

			now := time.Now()
			used, err := cfg.countHit(c.Request().Context(), bizID, now)
			if err != nil {
				return next(c)
			}
			if used > int64(budget) {
				if cfg.RetryAfterHint {
					setRetryAfter(c, cfg.Window, now)
				}
				return c.JSON(http.StatusTooManyRequests, map[string]string{"error": "rate limited"})
			}
			return next(c)
		}
	}
}

// countHit increments the business's counter for the current window and
// returns the new count. The key carries the window start, so counters
// roll over naturally; expiry at 2x window just garbage-collects old keys.
func (cfg RateLimitConfig) countHit(ctx context.Context, bizID int64, now time.Time) (int64, error) {
	window := now.UnixNano() / int64(cfg.Window)
	key := cfg.KeyPrefix + strconv.FormatInt(bizID, 10) + ":" + strconv.FormatInt(window, 10)

	pipe := cfg.Redis.Pipeline()
	cnt := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, cfg.Window*2)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return cnt.Val(), nil
}

func setRetryAfter(c echo.Context, window time.Duration, now time.Time) {
	remain := window - time.Duration(now.UnixNano()%int64(window))
	if remain <= 0 {
		return
	}
	secs := int(remain.Round(time.Second) / time.Second)
	if secs < 1 {
		secs = 1
	}
	c.Response().Header().Set("Retry-After", strconv.Itoa(secs))
}
