package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/hashicorp/go-hclog"
)

// RequestLogger logs one line per request once the handler chain returns.
// Streaming downloads are logged when the handler hands the body off, not
// when the last byte is sent.
func RequestLogger(logger hclog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		logger.Info("HTTP request",
			"method", c.Method(),
			"path", c.Path(),
			"remote", c.IP(),
			"status", c.Response().StatusCode(),
			"duration", time.Since(start),
		)
		return err
	}
}
