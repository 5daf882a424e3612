package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"swarg/internal/config"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-key-12345678901234567890123456789012"

func signClaims(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return s
}

func userToken(t *testing.T, userID uint, ttl time.Duration) string {
	return signClaims(t, testSecret, jwt.MapClaims{
		"sub": strconv.FormatUint(uint64(userID), 10),
		"exp": time.Now().Add(ttl).Unix(),
	})
}

func TestUserIDFromToken(t *testing.T) {
	exp := time.Now().Add(time.Hour).Unix()

	tests := []struct {
		name    string
		token   string
		want    uint
		wantErr error
	}{
		{name: "valid", token: userToken(t, 42, time.Hour), want: 42},
		{name: "expired", token: userToken(t, 42, -time.Hour), wantErr: jwt.ErrTokenExpired},
		{name: "wrong secret", token: signClaims(t, "another-secret", jwt.MapClaims{"sub": "42", "exp": exp}), wantErr: jwt.ErrTokenSignatureInvalid},
		{name: "no subject", token: signClaims(t, testSecret, jwt.MapClaims{"exp": exp}), wantErr: errMissingSubject},
		{name: "numeric subject", token: signClaims(t, testSecret, jwt.MapClaims{"sub": 42, "exp": exp}), wantErr: errSubjectType},
		{name: "zero subject", token: signClaims(t, testSecret, jwt.MapClaims{"sub": "0", "exp": exp}), wantErr: errSubjectValue},
		{name: "non numeric subject", token: signClaims(t, testSecret, jwt.MapClaims{"sub": "alice", "exp": exp}), wantErr: errSubjectValue},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := UserIDFromToken(tt.token, testSecret)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Zero(t, got)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAuthRequired(t *testing.T) {
	InitMiddleware(&config.Config{JWTSecret: testSecret})

	app := fiber.New()
	app.Get("/users/me", AuthRequired, func(c *fiber.Ctx) error {
		fromCtx, _ := c.UserContext().Value(UserIDKey).(uint)
		return c.JSON(fiber.Map{"local": c.Locals("userID"), "ctx": fromCtx})
	})

	tests := []struct {
		name       string
		authHeader string
		wantStatus int
		wantError  string
	}{
		{name: "bearer token", authHeader: "Bearer " + userToken(t, 123, time.Hour), wantStatus: http.StatusOK},
		{name: "missing header", wantStatus: http.StatusUnauthorized, wantError: "Authorization header required"},
		{name: "basic auth", authHeader: "Basic dXNlcjpwYXNz", wantStatus: http.StatusUnauthorized, wantError: "Invalid authorization header format"},
		{name: "garbage token", authHeader: "Bearer not.a.jwt", wantStatus: http.StatusUnauthorized, wantError: "Invalid or expired token"},
		{name: "expired token", authHeader: "Bearer " + userToken(t, 123, -time.Hour), wantStatus: http.StatusUnauthorized, wantError: "Invalid or expired token"},
		{
			name:       "bad subject",
			authHeader: "Bearer " + signClaims(t, testSecret, jwt.MapClaims{"sub": "0", "exp": time.Now().Add(time.Hour).Unix()}),
			wantStatus: http.StatusUnauthorized,
			wantError:  errSubjectValue.Error(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/users/me", nil)
			if tt.authHeader != "" {
				req.Header.Set("Authorization", tt.authHeader)
			}

			resp, err := app.Test(req)
			require.NoError(t, err)
			defer func() { _ = resp.Body.Close() }()
			assert.Equal(t, tt.wantStatus, resp.StatusCode)

			var body map[string]any
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
			if tt.wantError != "" {
				assert.Equal(t, tt.wantError, body["error"])
				return
			}
			assert.EqualValues(t, 123, body["local"])
			assert.EqualValues(t, 123, body["ctx"])
		})
	}
}

func TestWebSocketAuthRequired(t *testing.T) {
	InitMiddleware(&config.Config{JWTSecret: testSecret})

	app := fiber.New()
	app.Get("/ws", WebSocketAuthRequired, func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"userID": c.Locals("userID")})
	})

	tests := []struct {
		name       string
		query      string
		authHeader string
		wantStatus int
		wantUser   uint
	}{
		{name: "query token", query: userToken(t, 7, time.Hour), wantStatus: http.StatusOK, wantUser: 7},
		{name: "header token", authHeader: "Bearer " + userToken(t, 8, time.Hour), wantStatus: http.StatusOK, wantUser: 8},
		{
			name:       "query wins over header",
			query:      userToken(t, 7, time.Hour),
			authHeader: "Bearer " + userToken(t, 8, time.Hour),
			wantStatus: http.StatusOK,
			wantUser:   7,
		},
		{name: "no token", wantStatus: http.StatusUnauthorized},
		{name: "bad query token", query: "invalid-token", wantStatus: http.StatusUnauthorized},
		{name: "bad header format", authHeader: "Token abc", wantStatus: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := "/ws"
			if tt.query != "" {
				path += "?token=" + tt.query
			}
			req := httptest.NewRequest(http.MethodGet, path, nil)
			if tt.authHeader != "" {
				req.Header.Set("Authorization", tt.authHeader)
			}

			resp, err := app.Test(req)
			require.NoError(t, err)
			defer func() { _ = resp.Body.Close() }()
			assert.Equal(t, tt.wantStatus, resp.StatusCode)

			if tt.wantStatus == http.StatusOK {
				var body map[string]any
				require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
				assert.EqualValues(t, tt.wantUser, body["userID"])
			}
		})
	}
}
