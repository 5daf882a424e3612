package server

import (
	"errors"
	"log"
	"strconv"
	"strings"
	"unicode"

	"swarg/internal/models"
	"swarg/internal/service"
	"swarg/internal/validation"

	"github.com/gofiber/fiber/v2"
)

// errResponseWritten is a sentinel indicating the HTTP response was already
// committed by a helper. Handlers must return nil (not this error) to avoid
// Fiber's ErrorHandler overwriting the response.
var errResponseWritten = errors.New("response already written")

// parseID extracts a route parameter by name as a positive uint.
// On failure it writes a 400 JSON response and returns errResponseWritten.
// Callers should check: if err != nil { return nil }
// The error message is derived from the parameter name (e.g. "id" -> "Invalid ID",
// "userId" -> "Invalid user ID", "groupId" -> "Invalid group ID").
func (s *Server) parseID(c *fiber.Ctx, param string) (uint, error) {
	id, err := c.ParamsInt(param)
	if err != nil || id <= 0 {
		_ = models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("Invalid "+humanizeParam(param)))
		return 0, errResponseWritten
	}
	return uint(id), nil
}

// humanizeParam converts a route param name into a human-readable label.
// Examples: "id" -> "ID", "userId" -> "user ID", "groupId" -> "group ID".
func humanizeParam(param string) string {
	if param == "id" {
		return "ID"
	}
	if strings.HasSuffix(param, "Id") {
		prefix := param[:len(param)-2]
		words := splitCamel(prefix)
		return strings.ToLower(strings.Join(words, " ")) + " ID"
	}
	return param
}

// splitCamel splits a camelCase string into words.
func splitCamel(s string) []string {
	var words []string
	start := 0
	for i, r := range s {
		if i > 0 && unicode.IsUpper(r) {
			words = append(words, s[start:i])
			start = i
		}
	}
	words = append(words, s[start:])
	return words
}

// currentUserID returns the authenticated user. AuthRequired guarantees it
// is set on protected routes.
func currentUserID(c *fiber.Ctx) uint {
	userID, _ := c.Locals("userID").(uint)
	return userID
}

// statusForError maps the error taxonomy onto HTTP status codes.
func statusForError(err error) int {
	var appErr *models.AppError
	if !errors.As(err, &appErr) {
		return fiber.StatusInternalServerError
	}
	switch appErr.Code {
	case models.CodeValidation:
		return fiber.StatusBadRequest
	case models.CodeNotAuthorized, models.CodeForbidden, models.CodeNotMember:
		return fiber.StatusForbidden
	case models.CodeExpired:
		return fiber.StatusGone
	case models.CodeNotFound:
		return fiber.StatusNotFound
	case models.CodeTransportFailure:
		return fiber.StatusBadGateway
	}
	return fiber.StatusInternalServerError
}

// respondError writes err with the status its code maps to. Errors outside
// the taxonomy are logged and reported as internal.
func respondError(c *fiber.Ctx, err error) error {
	status := statusForError(err)
	if status == fiber.StatusInternalServerError {
		log.Printf("%s %s: %v", c.Method(), c.Path(), err)
		var appErr *models.AppError
		if !errors.As(err, &appErr) {
			err = models.NewInternalError(err)
		}
	}
	return models.RespondWithError(c, status, err)
}

// bindAndValidate parses the JSON body into v and checks its validate tags.
// On failure it writes a 400 and returns errResponseWritten.
func bindAndValidate(c *fiber.Ctx, v interface{}) error {
	if err := c.BodyParser(v); err != nil {
		_ = models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("Invalid request body"))
		return errResponseWritten
	}
	if err := validation.Struct(v); err != nil {
		_ = models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError(err.Error()))
		return errResponseWritten
	}
	return nil
}

// parseHistoryQuery reads the limit, before and after cursors of a history
// request. Limits are clamped later by the service.
func parseHistoryQuery(c *fiber.Ctx) (service.HistoryQuery, error) {
	var q service.HistoryQuery
	for _, p := range []struct {
		name string
		dst  *uint
	}{{"before", &q.BeforeID}, {"after", &q.AfterID}} {
		raw := c.Query(p.name)
		if raw == "" {
			continue
		}
		v, err := strconv.ParseUint(raw, 10, 32)
		if err != nil || v == 0 {
			_ = models.RespondWithError(c, fiber.StatusBadRequest,
				models.NewValidationError("Invalid "+p.name+" cursor"))
			return q, errResponseWritten
		}
		*p.dst = uint(v)
	}
	q.Limit = c.QueryInt("limit", 0)
	return q, nil
}
