package server

import (
	"log"
	"time"

	"chatrelay/config"

	"github.com/gofiber/fiber/v2"
)

// requestTiming logs every request's duration to the debug log and warns
// on logger when it took at least threshold. A zero threshold disables the
// warning.
func requestTiming(threshold time.Duration, logger *log.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		elapsed := time.Since(start)

		config.Debugf("[HTTP] %s %s took %.3fs", c.Method(), c.Path(), elapsed.Seconds())

		if err != nil && statusFor(err) >= fiber.StatusInternalServerError {
			logger.Printf("Request failed after %.3fs %s %s: %v", elapsed.Seconds(), c.Method(), c.Path(), err)
		}
		if threshold > 0 && elapsed >= threshold {
			logger.Printf("Slow request %.3fs >= %.3fs %s %s", elapsed.Seconds(), threshold.Seconds(), c.Method(), c.Path())
		}

		return err
	}
}
