package server

import "github.com/gofiber/fiber/v2"

// Registrar is a common interface for all HTTP route groups
type Registrar interface {
	Register(router fiber.Router)
}
