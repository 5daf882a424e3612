// Package cache owns the Redis client and key layout shared by presence,
// the cross-node relay and rate limiting.
package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"swarg/internal/middleware"

	"github.com/redis/go-redis/v9"
)

const pingTimeout = 5 * time.Second

// errorCounter counts failed commands. A miss (redis.Nil) is not a failure.
type errorCounter struct{}

func (errorCounter) DialHook(next redis.DialHook) redis.DialHook { return next }

func (errorCounter) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		err := next(ctx, cmd)
		countFailure(cmd.Name(), err)
		return err
	}
}

func (errorCounter) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		err := next(ctx, cmds)
		countFailure("pipeline", err)
		return err
	}
}

func countFailure(command string, err error) {
	if err != nil && !errors.Is(err, redis.Nil) {
		middleware.RedisErrors.WithLabelValues(command).Inc()
	}
}

// NewClient builds a client for addr, which may be a bare host:port or a
// redis:// URL. It does not dial.
func NewClient(addr string) (*redis.Client, error) {
	opts := &redis.Options{Addr: addr}
	if strings.Contains(addr, "://") {
		parsed, err := redis.ParseURL(addr)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		opts = parsed
	}
	c := redis.NewClient(opts)
	c.AddHook(errorCounter{})
	return c, nil
}

// Connect builds a client and pings it. A node runs without Redis, so
// callers treat an error as "no presence cache and no relay" rather than
// a startup failure.
func Connect(ctx context.Context, addr string) (*redis.Client, error) {
	c, err := NewClient(addr)
	if err != nil {
		return nil, err
	}

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := c.Ping(pingCtx).Err(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("ping redis at %s: %w", c.Options().Addr, err)
	}
	return c, nil
}
