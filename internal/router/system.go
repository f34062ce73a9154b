package router

import (
	"github.com/CQNKZX/otree-core/internal/handler"
	"github.com/labstack/echo/v4"
)

// registerSystemRoutes registers endpoints that are not part of the
// experiment domain: health, docs UI and the static assets behind it.
func registerSystemRoutes(e *echo.Echo, h *handler.Handlers) {
	// Health status endpoint used by load balancers and monitors.
	e.GET("/status", h.Health.CheckHealth)

	// Serves openapi.json and openapi.html.
	e.Static("/static", "static")

	// Docs UI endpoint.
	e.GET("/docs", h.OpenAPI.ServeOpenAPIUI)
}
