package middleware

import (
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/noah-isme/toser-api/internal/utils"
)

// RateLimit creates a limiter keyed by the authenticated user, falling back
// to the client IP for anonymous callers.
func RateLimit(identifier string, max int, window time.Duration) fiber.Handler {
	if max <= 0 {
		max = 10
	}
	if window <= 0 {
		window = time.Minute
	}

	return limiter.New(limiter.Config{
		Max:        max,
		Expiration: window,
		KeyGenerator: func(c *fiber.Ctx) string {
			key := c.IP()
			switch id := c.Locals("user_id").(type) {
			case uint:
				if id > 0 {
					key = fmt.Sprintf("user-%d", id)
				}
			case int:
				if id > 0 {
					key = fmt.Sprintf("user-%d", id)
				}
			}
			return fmt.Sprintf("%s:%s", identifier, key)
		},
		LimitReached: func(c *fiber.Ctx) error {
			return utils.SendError(c, fiber.StatusTooManyRequests, "rate limit exceeded, try again later")
		},
	})
}
