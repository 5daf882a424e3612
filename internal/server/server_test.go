package server

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"swarg/internal/config"
	"swarg/internal/middleware"
	"swarg/internal/models"
	"swarg/internal/testutil"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const testSecret = "test-secret-key-12345678901234567890123456789012"

func testConfig(nodeID string) *config.Config {
	return &config.Config{
		Port:              "0",
		JWTSecret:         testSecret,
		AllowedOrigins:    "http://localhost:5173",
		Env:               "test",
		NodeID:            nodeID,
		FanoutConcurrency: 4,
	}
}

type testEnv struct {
	srv *Server
	app *fiber.App
	db  *gorm.DB
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvWith(t, testutil.NewTestDB(t), nil, "node-test")
}

func newTestEnvWith(t *testing.T, db *gorm.DB, rdb *redis.Client, nodeID string) *testEnv {
	t.Helper()
	cfg := testConfig(nodeID)
	middleware.InitMiddleware(cfg)

	srv, err := NewServerWithDeps(cfg, db, rdb)
	require.NoError(t, err)
	return &testEnv{srv: srv, app: srv.App(), db: db}
}

func tokenFor(t *testing.T, userID uint) string {
	t.Helper()
	claims := jwt.MapClaims{
		"sub": strconv.FormatUint(uint64(userID), 10),
		"exp": time.Now().Add(time.Hour).Unix(),
	}
	str, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return str
}

// call performs an authenticated request as userID (0 for anonymous) and
// decodes the JSON response into out when out is non-nil.
func (e *testEnv) call(t *testing.T, userID uint, method, path string, body interface{}, out interface{}) int {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if userID != 0 {
		req.Header.Set("Authorization", "Bearer "+tokenFor(t, userID))
	}

	resp, err := e.app.Test(req, -1)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	if out != nil {
		raw, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(raw, out), "body: %s", raw)
	}
	return resp.StatusCode
}

func (e *testEnv) user(t *testing.T, name string) *models.User {
	return testutil.CreateUser(t, e.db, name)
}
