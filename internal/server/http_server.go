package server

import (
	"fmt"

	"github.com/gofiber/fiber/v2"

	"github.com/alignhq/alignment-protocol/internal/config"
)

// New builds the fiber app and registers all provided route groups.
func New(registrars ...Registrar) *fiber.App {
	fiberApp := fiber.New(fiber.Config{
		AppName:               "alignment-protocol",
		DisableStartupMessage: true,
	})

	fiberApp.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	for _, r := range registrars {
		r.Register(fiberApp)
	}

	return fiberApp
}

// Start boots the HTTP server on the configured address.
func Start(cfg *config.Config, fiberApp *fiber.App) error {
	addr := fmt.Sprintf("%s:%s", cfg.HTTP.Host, cfg.HTTP.Port)
	if err := fiberApp.Listen(addr); err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return nil
}
