package handlers

import (
	"github.com/gofiber/fiber/v3"
)

// Healthz is the liveness probe. The proxy holds no local state worth
// checking; reachability is the signal.
func Healthz(c fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}
