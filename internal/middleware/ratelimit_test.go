package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLimiterRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func TestAllow_DisabledEnvironments(t *testing.T) {
	for _, env := range []string{"test", "development", "stress"} {
		t.Run(env, func(t *testing.T) {
			t.Setenv("APP_ENV", env)
			d, err := Allow(context.Background(), nil, "send_message", "user:1", 1, time.Minute)
			require.NoError(t, err)
			assert.True(t, d.Allowed)
		})
	}
}

func TestAllow_NilRedisInProduction(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	allowed, err := CheckRateLimit(context.Background(), nil, "send_message", "user:1", 1, time.Minute)
	assert.ErrorIs(t, err, errNoLimiterStore)
	assert.False(t, allowed)
}

func TestAllow_CountsWithinWindow(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	mr, rdb := newLimiterRedis(t)
	ctx := context.Background()

	for want := 1; want >= 0; want-- {
		d, err := Allow(ctx, rdb, "send_message", "user:1", 2, time.Minute)
		require.NoError(t, err)
		assert.True(t, d.Allowed)
		assert.Equal(t, want, d.Remaining)
	}

	d, err := Allow(ctx, rdb, "send_message", "user:1", 2, time.Minute)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Greater(t, d.RetryAfter, time.Duration(0))
	assert.LessOrEqual(t, d.RetryAfter, time.Minute)

	// Budgets are per caller and per resource.
	allowed, err := CheckRateLimit(ctx, rdb, "send_message", "user:2", 2, time.Minute)
	require.NoError(t, err)
	assert.True(t, allowed)
	allowed, err = CheckRateLimit(ctx, rdb, "typing", "user:1", 2, time.Minute)
	require.NoError(t, err)
	assert.True(t, allowed)

	mr.FastForward(time.Minute + time.Second)
	allowed, err = CheckRateLimit(ctx, rdb, "send_message", "user:1", 2, time.Minute)
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestRateLimitMiddleware(t *testing.T) {
	t.Run("limits and reports headers", func(t *testing.T) {
		t.Setenv("APP_ENV", "production")
		_, rdb := newLimiterRedis(t)
		app := fiber.New()
		app.Post("/groups", RateLimit(rdb, 1, 10*time.Minute, "create_group"), func(c *fiber.Ctx) error {
			return c.SendStatus(fiber.StatusCreated)
		})

		resp, err := app.Test(httptest.NewRequest(http.MethodPost, "/groups", nil))
		require.NoError(t, err)
		_ = resp.Body.Close()
		assert.Equal(t, http.StatusCreated, resp.StatusCode)
		assert.Equal(t, "1", resp.Header.Get("X-RateLimit-Limit"))
		assert.Equal(t, "0", resp.Header.Get("X-RateLimit-Remaining"))

		resp, err = app.Test(httptest.NewRequest(http.MethodPost, "/groups", nil))
		require.NoError(t, err)
		_ = resp.Body.Close()
		assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
		assert.Equal(t, "600", resp.Header.Get("Retry-After"))
	})

	t.Run("keys by authenticated user", func(t *testing.T) {
		t.Setenv("APP_ENV", "production")
		_, rdb := newLimiterRedis(t)
		app := fiber.New()
		app.Post("/send/:as", func(c *fiber.Ctx) error {
			if c.Params("as") == "alice" {
				c.Locals("userID", uint(1))
			} else {
				c.Locals("userID", uint(2))
			}
			return c.Next()
		}, RateLimit(rdb, 1, time.Minute, "send_message"), func(c *fiber.Ctx) error {
			return c.SendStatus(fiber.StatusOK)
		})

		codes := make([]int, 0, 3)
		for _, as := range []string{"alice", "bob", "alice"} {
			resp, err := app.Test(httptest.NewRequest(http.MethodPost, "/send/"+as, nil))
			require.NoError(t, err)
			_ = resp.Body.Close()
			codes = append(codes, resp.StatusCode)
		}
		assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
	})

	t.Run("fail open without redis", func(t *testing.T) {
		t.Setenv("APP_ENV", "production")
		app := fiber.New()
		app.Get("/test", RateLimit(nil, 1, time.Minute), func(c *fiber.Ctx) error {
			return c.SendStatus(fiber.StatusOK)
		})

		resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/test", nil))
		require.NoError(t, err)
		_ = resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("fail closed without redis", func(t *testing.T) {
		t.Setenv("APP_ENV", "production")
		app := fiber.New()
		app.Get("/sensitive", RateLimitWithPolicy(nil, 1, time.Minute, FailClosed), func(c *fiber.Ctx) error {
			return c.SendStatus(fiber.StatusOK)
		})

		resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/sensitive", nil))
		require.NoError(t, err)
		_ = resp.Body.Close()
		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	})
}
