package middleware

import (
	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/toser-api/internal/utils"
)

// RequireRole lets the request through when user_role is one of roles.
// Requests without any identity get 401, authenticated ones with another
// role get 403.
func RequireRole(roles ...string) fiber.Handler {
	allowed := make(map[string]struct{}, len(roles))
	for _, role := range roles {
		if normalized := normalizeRole(role); normalized != "" {
			allowed[normalized] = struct{}{}
		}
	}

	return func(c *fiber.Ctx) error {
		role := normalizeRole(c.Locals("user_role"))
		if role == "" && c.Locals("user_id") == nil {
			return utils.SendError(c, fiber.StatusUnauthorized, "authentication required")
		}
		if _, ok := allowed[role]; !ok {
			return utils.SendError(c, fiber.StatusForbidden, "insufficient permissions")
		}
		return c.Next()
	}
}
