// Package middleware provides authentication, logging, tracing and rate limiting middleware.
package middleware

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"swarg/internal/config"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
)

var cfg *config.Config

// InitMiddleware initializes authentication middleware with the given config.
func InitMiddleware(c *config.Config) {
	cfg = c
}

var (
	errMissingSubject = errors.New("Invalid token structure - missing subject")
	errSubjectType    = errors.New("Invalid token subject type")
	errSubjectValue   = errors.New("Invalid user ID in token")
)

// UserIDFromToken validates an HMAC signed JWT and returns its "sub" claim
// (RFC 7519 subject) as a user id.
func UserIDFromToken(tokenString, secret string) (uint, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fiber.NewError(fiber.StatusUnauthorized, "Invalid signing method")
		}
		return []byte(secret), nil
	})
	if err != nil {
		return 0, err
	}
	if !token.Valid {
		return 0, jwt.ErrTokenInvalidClaims
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return 0, jwt.ErrTokenInvalidClaims
	}

	subClaim, ok := claims["sub"]
	if !ok {
		return 0, errMissingSubject
	}
	subStr, ok := subClaim.(string)
	if !ok {
		return 0, errSubjectType
	}
	userIDVal, err := strconv.ParseUint(subStr, 10, 32)
	if err != nil || userIDVal == 0 {
		return 0, errSubjectValue
	}
	return uint(userIDVal), nil
}

func bearerToken(c *fiber.Ctx) (string, bool) {
	authHeader := c.Get("Authorization")
	if authHeader == "" {
		return "", false
	}
	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || parts[0] != "Bearer" {
		return "", false
	}
	return parts[1], true
}

func authenticate(c *fiber.Ctx, tokenString string) error {
	userID, err := UserIDFromToken(tokenString, cfg.JWTSecret)
	if err != nil {
		msg := "Invalid or expired token"
		if errors.Is(err, errMissingSubject) || errors.Is(err, errSubjectType) || errors.Is(err, errSubjectValue) {
			msg = err.Error()
		}
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": msg,
		})
	}

	c.Locals("userID", userID)
	c.SetUserContext(context.WithValue(c.UserContext(), UserIDKey, userID))

	return c.Next()
}

// AuthRequired is a middleware that enforces authentication for protected routes.
func AuthRequired(c *fiber.Ctx) error {
	if c.Get("Authorization") == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Authorization header required",
		})
	}

	tokenString, ok := bearerToken(c)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Invalid authorization header format",
		})
	}

	return authenticate(c, tokenString)
}

// WebSocketAuthRequired validates JWT tokens from the query string, since
// browsers cannot set headers on websocket upgrades, falling back to the
// Authorization header.
func WebSocketAuthRequired(c *fiber.Ctx) error {
	token := c.Query("token")
	if token == "" {
		if c.Get("Authorization") == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Token required",
			})
		}
		var ok bool
		token, ok = bearerToken(c)
		if !ok {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Invalid authorization header format",
			})
		}
	}

	return authenticate(c, token)
}
