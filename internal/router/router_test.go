package router_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toser-api/internal/config"
	"github.com/noah-isme/toser-api/internal/dto"
	"github.com/noah-isme/toser-api/internal/handler"
	"github.com/noah-isme/toser-api/internal/router"
)

type listOnlyService struct{}

func (listOnlyService) Analyze(context.Context, dto.AnalysisRequest) (dto.AnalysisResponse, error) {
	return dto.AnalysisResponse{}, nil
}

func (listOnlyService) Get(context.Context, string, *uint) (dto.AnalysisResponse, error) {
	return dto.AnalysisResponse{}, nil
}

func (listOnlyService) List(context.Context, dto.AnalysisListRequest) (dto.AnalysisListResponse, error) {
	return dto.AnalysisListResponse{Items: []dto.AnalysisResponse{}}, nil
}

func newApp(role string) *fiber.App {
	app := fiber.New()
	router.Register(app, config.Config{AppName: "toser"}, router.Dependencies{
		AnalysisHandler: handler.NewAnalysisHandler(listOnlyService{}, zerolog.New(io.Discard)),
		JWTMiddleware: func(c *fiber.Ctx) error {
			if role != "" {
				c.Locals("user_id", uint(1))
				c.Locals("user_role", role)
			}
			return c.Next()
		},
		SchemaVersion: "tos-v2",
	})
	return app
}

func get(t *testing.T, app *fiber.App, path string) *http.Response {
	t.Helper()
	resp, err := app.Test(httptest.NewRequest(http.MethodGet, path, nil))
	require.NoError(t, err)
	return resp
}

func TestRegisterRoutes(t *testing.T) {
	app := newApp("user")

	resp := get(t, app, "/api/v1/health")
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	require.Equal(t, "toser", resp.Header.Get("X-Application"))

	require.Equal(t, fiber.StatusOK, get(t, app, "/api/v1/analyses").StatusCode)
	require.Equal(t, fiber.StatusOK, get(t, app, "/metrics").StatusCode)
	require.Equal(t, fiber.StatusForbidden, get(t, app, "/api/v1/admin/analyses").StatusCode)
	require.Equal(t, fiber.StatusOK, get(t, newApp("admin"), "/api/v1/admin/analyses").StatusCode)
}

func TestUnknownRoute(t *testing.T) {
	resp := get(t, newApp(""), "/nope")
	require.Equal(t, fiber.StatusNotFound, resp.StatusCode)

	var body struct {
		Success bool   `json:"success"`
		Message string `json:"message"`
	}
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.False(t, body.Success)
	require.Equal(t, "Not found", body.Message)
}
