package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/toser-api/internal/config"
	"github.com/noah-isme/toser-api/internal/handler"
	"github.com/noah-isme/toser-api/internal/middleware"
	"github.com/noah-isme/toser-api/internal/observability"
	"github.com/noah-isme/toser-api/internal/utils"
)

// Dependencies groups router dependencies for registration.
type Dependencies struct {
	AnalysisHandler *handler.AnalysisHandler
	JWTMiddleware   fiber.Handler
	OptionalJWT     fiber.Handler
	RateLimiter     fiber.Handler
	SchemaVersion   string
}

// Register wires the HTTP routes into the fiber application.
func Register(app *fiber.App, cfg config.Config, deps Dependencies) {
	app.Get("/metrics", observability.MetricsHandler())

	api := app.Group("/api/v1", func(c *fiber.Ctx) error {
		c.Set("X-Application", cfg.AppName)
		return c.Next()
	})
	api.Get("/health", handler.HealthCheck(cfg, deps.SchemaVersion))

	// Routes stay open when no JWT middleware is configured.
	jwtMiddleware := passThrough(deps.JWTMiddleware)
	optionalJWT := passThrough(deps.OptionalJWT)
	rateLimiter := passThrough(deps.RateLimiter)

	if deps.AnalysisHandler != nil {
		analyses := api.Group("/analyses", jwtMiddleware, rateLimiter)
		deps.AnalysisHandler.Register(analyses)

		admin := api.Group("/admin/analyses", jwtMiddleware, middleware.RequireRole("admin"))
		deps.AnalysisHandler.RegisterAdmin(admin)

		app.Use("/analyze", optionalJWT, rateLimiter)
		deps.AnalysisHandler.RegisterLegacy(app)
	}

	app.Use(func(c *fiber.Ctx) error {
		return utils.SendError(c, fiber.StatusNotFound, "Not found")
	})
}

func passThrough(h fiber.Handler) fiber.Handler {
	if h == nil {
		return func(c *fiber.Ctx) error { return c.Next() }
	}
	return h
}
