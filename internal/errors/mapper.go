package errors

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

// HTTPStatus converts a domain or infra error into an HTTP status code.
// Keeps handlers clean by centralizing error mapping.
func HTTPStatus(err error) int {
	var de *Error
	if errors.As(err, &de) {
		switch de.Category {
		case CategoryValidation:
			return fiber.StatusBadRequest
		case CategoryNotFound:
			return fiber.StatusNotFound
		case CategoryConflict, CategoryCapacity:
			return fiber.StatusConflict
		case CategoryExpired:
			return fiber.StatusGone
		}
	}

	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return fiber.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return fiber.StatusRequestTimeout
	default:
		return fiber.StatusInternalServerError
	}
}

// Code returns the stable machine-readable code for an error, or "internal".
func Code(err error) string {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "not_found"
	}
	return "internal"
}
