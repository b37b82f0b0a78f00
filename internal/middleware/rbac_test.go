package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"
)

func TestRequireRole(t *testing.T) {
	cases := []struct {
		name   string
		role   interface{}
		status int
	}{
		{name: "admin", role: "admin", status: fiber.StatusOK},
		{name: "mixed case", role: " Admin ", status: fiber.StatusOK},
		{name: "auditor", role: "auditor", status: fiber.StatusOK},
		{name: "user", role: "user", status: fiber.StatusForbidden},
		{name: "anonymous", role: nil, status: fiber.StatusUnauthorized},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			app := fiber.New()
			app.Use(func(c *fiber.Ctx) error {
				if tc.role != nil {
					c.Locals("user_role", tc.role)
				}
				return c.Next()
			})
			app.Use(RequireRole("admin", "auditor", " "))
			app.Get("/admin/analyses", func(c *fiber.Ctx) error {
				return c.SendStatus(fiber.StatusOK)
			})

			resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/admin/analyses", nil))
			require.NoError(t, err)
			require.Equal(t, tc.status, resp.StatusCode)
		})
	}
}
