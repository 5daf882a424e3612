// Package bootstrap connects the runtime dependencies shared by the binaries.
package bootstrap

import (
	"context"
	"fmt"
	"strings"

	"swarg/internal/cache"
	"swarg/internal/config"
	"swarg/internal/database"
	"swarg/internal/middleware"
	"swarg/internal/models"
	"swarg/internal/seed"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Options control runtime initialization behavior.
type Options struct {
	// SeedDemoData fills an empty development database with demo data.
	SeedDemoData bool
}

// InitRuntime connects to the database and Redis. Redis is optional: the
// returned client is nil when it cannot be reached.
func InitRuntime(ctx context.Context, cfg *config.Config, opts Options) (*gorm.DB, *redis.Client, error) {
	db, err := database.Connect(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("database connection failed: %w", err)
	}

	rdb, err := cache.Connect(ctx, cfg.RedisURL)
	if err != nil {
		middleware.Logger.WarnContext(ctx, "continuing without presence cache and relay", "error", err)
		rdb = nil
	}

	if opts.SeedDemoData {
		if err := seedIfEmpty(ctx, cfg, db); err != nil {
			return nil, nil, fmt.Errorf("failed to seed demo data: %w", err)
		}
	}

	return db, rdb, nil
}

func seedIfEmpty(ctx context.Context, cfg *config.Config, db *gorm.DB) error {
	if !strings.EqualFold(cfg.Env, "development") {
		return nil
	}

	var users int64
	if err := db.WithContext(ctx).Model(&models.User{}).Count(&users).Error; err != nil {
		return err
	}
	if users > 0 {
		return nil
	}

	res, err := seed.NewSeeder(db).Run(ctx, seed.DefaultOptions())
	if err != nil {
		return err
	}
	middleware.Logger.InfoContext(ctx, "seeded empty development database",
		"users", len(res.Users), "groups", len(res.Groups), "messages", res.Messages)
	return nil
}
