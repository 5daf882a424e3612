package config

import (
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Env:                 "production",
		DBSSLMode:           "require",
		JWTSecret:           "secure-secret-at-least-32-chars-long",
		DBPassword:          "secure-password",
		Port:                "8080",
		RedisURL:            "redis://localhost:6379",
		FanoutConcurrency:   16,
		TracingSamplerRatio: 1,
	}
}

func TestConfig_ValidateSSLMode(t *testing.T) {
	tests := []struct {
		name        string
		env         string
		sslMode     string
		expectError bool
	}{
		{"Production with empty SSL mode", "production", "", true},
		{"Production with disable SSL mode", "production", "disable", true},
		{"Production with require SSL mode", "production", "require", false},
		{"Prod with empty SSL mode", "prod", "", true},
		{"Prod with verify-full SSL mode", "prod", "verify-full", false},
		{"Development with disable SSL mode", "development", "disable", false},
		{"Test with empty SSL mode", "test", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validConfig()
			c.Env = tt.env
			c.DBSSLMode = tt.sslMode

			err := c.Validate()
			if tt.expectError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestConfig_ValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"Missing port", func(c *Config) { c.Port = "" }},
		{"Missing secret", func(c *Config) { c.JWTSecret = "" }},
		{"Default secret in production", func(c *Config) { c.JWTSecret = "your-secret-key-change-in-production" }},
		{"Short secret in production", func(c *Config) { c.JWTSecret = "short" }},
		{"Weak DB password", func(c *Config) { c.DBPassword = "password" }},
		{"Missing redis in production", func(c *Config) { c.RedisURL = "" }},
		{"Negative fanout", func(c *Config) { c.FanoutConcurrency = -1 }},
		{"Sampler out of range", func(c *Config) { c.TracingSamplerRatio = 1.5 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validConfig()
			tt.mutate(c)
			assert.Error(t, c.Validate())
		})
	}
}

func TestLoadConfig_DefaultsAndNormalization(t *testing.T) {
	defer viper.Reset()

	t.Setenv("APP_ENV", "development")
	t.Setenv("DB_SSLMODE", "  DISABLE  ")
	t.Setenv("FANOUT_CONCURRENCY", "4")

	c, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "disable", c.DBSSLMode)
	assert.Equal(t, 4, c.FanoutConcurrency)
	assert.Equal(t, "8375", c.Port)
	assert.Equal(t, 5, c.MaxConnsPerUser)
	assert.False(t, c.IsProduction())
}
