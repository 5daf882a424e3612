package database

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"swarg/internal/config"
	"swarg/internal/middleware"

	"gorm.io/gorm"
)

const (
	SchemaModeAuto = "auto"
	SchemaModeOff  = "off"
)

func isProdLikeEnv(env string) bool {
	e := strings.ToLower(strings.TrimSpace(env))
	return e == "production" || e == "prod" || e == "staging" || e == "stage"
}

// normalizedSchemaMode defaults to AutoMigrate outside production and to no
// schema changes in production.
func normalizedSchemaMode(cfg *config.Config) (string, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.DBSchemaMode))
	switch mode {
	case "":
		if isProdLikeEnv(cfg.Env) {
			return SchemaModeOff, nil
		}
		return SchemaModeAuto, nil
	case SchemaModeAuto, SchemaModeOff:
		return mode, nil
	default:
		return "", fmt.Errorf("unsupported DB_SCHEMA_MODE %q", mode)
	}
}

// Migrate creates or updates every persistent table.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(PersistentModels()...)
}

// ApplySchema runs AutoMigrate according to DB_SCHEMA_MODE.
func ApplySchema(ctx context.Context, db *gorm.DB, cfg *config.Config) error {
	mode, err := normalizedSchemaMode(cfg)
	if err != nil {
		return err
	}
	if mode == SchemaModeOff {
		middleware.Logger.InfoContext(ctx, "Skipping schema migration", slog.String("env", cfg.Env))
		return nil
	}

	middleware.Logger.InfoContext(ctx, "Running GORM AutoMigrate", slog.String("mode", mode), slog.String("env", cfg.Env))
	if err := Migrate(db.WithContext(ctx)); err != nil {
		return fmt.Errorf("auto-migrate: %w", err)
	}
	return nil
}
