package middleware

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureLogger(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := Logger
	Logger = slog.New(&ctxHandler{slog.NewTextHandler(&buf, nil)})
	t.Cleanup(func() { Logger = prev })
	return &buf
}

func TestCtxHandler_AddsContextAttributes(t *testing.T) {
	buf := captureLogger(t)

	ctx := context.WithValue(context.Background(), RequestIDKey, "req-1")
	ctx = WithUserID(ctx, 42)
	Logger.With("component", "router").InfoContext(ctx, "message routed")

	out := buf.String()
	assert.Contains(t, out, "component=router")
	assert.Contains(t, out, "request_id=req-1")
	assert.Contains(t, out, "user_id=42")
	assert.NotContains(t, out, "trace_id")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, parseLevel("warning"))
	assert.Equal(t, slog.LevelError, parseLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLevel(""))
}

func TestStructuredLogger(t *testing.T) {
	buf := captureLogger(t)

	app := fiber.New()
	app.Use(StructuredLogger())
	app.Get("/health/live", func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusOK) })
	app.Get("/messages/:id", func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusNotFound) })
	app.Get("/conversations", func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusInternalServerError) })

	for _, path := range []string{"/health/live", "/messages/9", "/conversations"} {
		resp, err := app.Test(httptest.NewRequest(http.MethodGet, path, nil))
		require.NoError(t, err)
		_ = resp.Body.Close()
	}

	out := buf.String()
	assert.NotContains(t, out, "/health/live")
	assert.Contains(t, out, "level=WARN msg=request status=404")
	assert.Contains(t, out, "level=ERROR msg=request status=500")
}
