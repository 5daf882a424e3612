package middleware

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

// FailPolicy decides what a limited route does when Redis cannot be asked.
type FailPolicy int

const (
	// FailOpen lets the request through.
	FailOpen FailPolicy = iota
	// FailClosed answers 503.
	FailClosed
)

var errNoLimiterStore = errors.New("rate limit store unavailable")

// fixedWindow increments the counter and starts its window on first use. It
// returns the new count and the milliseconds left in the window.
var fixedWindow = redis.NewScript(`
local n = redis.call('INCR', KEYS[1])
if n == 1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return {n, redis.call('PTTL', KEYS[1])}
`)

// Decision is the outcome of one rate limit check.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

func rateLimitKey(resource, id string) string {
	return "rl:" + resource + ":" + id
}

// limitsDisabled reports whether the environment skips throttling. Local
// development, tests and load runs are never limited.
func limitsDisabled() bool {
	env := os.Getenv("APP_ENV")
	if cfg != nil && cfg.Env != "" {
		env = cfg.Env
	}
	switch env {
	case "", "test", "development", "stress":
		return true
	}
	return false
}

// Allow counts one hit on resource for id inside a fixed window of length
// window and reports whether it stays within limit.
func Allow(ctx context.Context, rdb *redis.Client, resource, id string, limit int, window time.Duration) (Decision, error) {
	if limitsDisabled() {
		return Decision{Allowed: true, Remaining: limit}, nil
	}
	if rdb == nil {
		return Decision{}, errNoLimiterStore
	}

	res, err := fixedWindow.Run(ctx, rdb, []string{rateLimitKey(resource, id)}, window.Milliseconds()).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit %s: %w", resource, err)
	}
	if len(res) != 2 {
		return Decision{}, fmt.Errorf("rate limit %s: unexpected reply %v", resource, res)
	}

	count, ttl := res[0], time.Duration(res[1])*time.Millisecond
	if count > int64(limit) {
		return Decision{RetryAfter: max(ttl, 0)}, nil
	}
	return Decision{Allowed: true, Remaining: limit - int(count)}, nil
}

// CheckRateLimit is Allow reduced to its verdict. Websocket handlers use it
// for per-frame limits where there are no response headers to set.
func CheckRateLimit(ctx context.Context, rdb *redis.Client, resource, id string, limit int, window time.Duration) (bool, error) {
	d, err := Allow(ctx, rdb, resource, id, limit, window)
	return d.Allowed, err
}

// RateLimit limits a route to limit requests per window, failing open.
func RateLimit(rdb *redis.Client, limit int, window time.Duration, name ...string) fiber.Handler {
	return RateLimitWithPolicy(rdb, limit, window, FailOpen, name...)
}

// RateLimitWithPolicy limits a route to limit requests per window. Callers are
// keyed by user id once authenticated and by IP otherwise. The optional name
// lets several routes share one budget; the path is used without it.
func RateLimitWithPolicy(rdb *redis.Client, limit int, window time.Duration, policy FailPolicy, name ...string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		resource := c.Path()
		if len(name) > 0 {
			resource = name[0]
		}

		id := "ip:" + c.IP()
		if uid, ok := c.Locals("userID").(uint); ok {
			id = "user:" + strconv.FormatUint(uint64(uid), 10)
		}

		d, err := Allow(c.UserContext(), rdb, resource, id, limit, window)
		if err != nil {
			if policy == FailOpen {
				return c.Next()
			}
			Logger.WarnContext(c.UserContext(), "rate limit check failed, rejecting",
				"resource", resource, "path", c.Path(), "error", err)
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"error": "rate limit unavailable",
			})
		}

		c.Set("X-RateLimit-Limit", strconv.Itoa(limit))
		c.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
		if !d.Allowed {
			secs := int((d.RetryAfter + time.Second - 1) / time.Second)
			c.Set(fiber.HeaderRetryAfter, strconv.Itoa(max(secs, 1)))
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "rate limit exceeded",
			})
		}
		return c.Next()
	}
}
