package models

import (
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"
)

// Error codes shared by the HTTP and websocket surfaces.
const (
	CodeValidation       = "VALIDATION_ERROR"
	CodeNotAuthorized    = "NOT_AUTHORIZED"
	CodeForbidden        = "FORBIDDEN"
	CodeNotMember        = "NOT_MEMBER"
	CodeExpired          = "EXPIRED"
	CodeNotFound         = "NOT_FOUND"
	CodeTransportFailure = "TRANSPORT_FAILURE"
	CodeInternal         = "INTERNAL_ERROR"
)

// ErrorResponse represents a standardized API error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

// AppError represents a custom application error
type AppError struct {
	Code    string
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Predefined error constructors
func NewNotFoundError(resource string, id interface{}) *AppError {
	return &AppError{
		Code:    CodeNotFound,
		Message: fmt.Sprintf("%s with ID %v not found", resource, id),
	}
}

func NewValidationError(message string) *AppError {
	return &AppError{
		Code:    CodeValidation,
		Message: message,
	}
}

// NewNotAuthorizedError is returned when a block exists between sender and receiver.
func NewNotAuthorizedError(message string) *AppError {
	return &AppError{
		Code:    CodeNotAuthorized,
		Message: message,
	}
}

func NewForbiddenError(message string) *AppError {
	return &AppError{
		Code:    CodeForbidden,
		Message: message,
	}
}

func NewNotMemberError(groupID uint) *AppError {
	return &AppError{
		Code:    CodeNotMember,
		Message: fmt.Sprintf("not a member of group %d", groupID),
	}
}

func NewExpiredError(message string) *AppError {
	return &AppError{
		Code:    CodeExpired,
		Message: message,
	}
}

func NewTransportError(err error) *AppError {
	return &AppError{
		Code:    CodeTransportFailure,
		Message: "push to session failed",
		Err:     err,
	}
}

func NewInternalError(err error) *AppError {
	return &AppError{
		Code:    CodeInternal,
		Message: "Internal server error",
		Err:     err,
	}
}

// IsCode reports whether err wraps an AppError with the given code.
func IsCode(err error, code string) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Code == code
}

// RespondWithError creates a standardized error response
func RespondWithError(c *fiber.Ctx, status int, err error) error {
	var response ErrorResponse

	var appErr *AppError
	if errors.As(err, &appErr) {
		response = ErrorResponse{
			Error: appErr.Message,
			Code:  appErr.Code,
		}
		if appErr.Err != nil && appErr.Code != CodeInternal {
			response.Details = appErr.Err.Error()
		}
	} else {
		response = ErrorResponse{
			Error: err.Error(),
		}
	}

	return c.Status(status).JSON(response)
}
