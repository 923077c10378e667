package server

import (
	"net/http"

	"github.com/OFFIS-RIT/lkgb/backend/internal/server/middleware"
	"github.com/OFFIS-RIT/lkgb/backend/internal/server/routes"

	"github.com/labstack/echo/v4"
)

func RegisterRoutes(e *echo.Echo, app *middleware.App) {
	// Health check route
	e.GET("/health", func(c echo.Context) error {
		return c.String(http.StatusOK, "OK")
	})
	if app.Metrics != nil {
		e.GET("/metrics", echo.WrapHandler(app.Metrics))
	}

	apiRoutes := e.Group("/api", middleware.AuthMiddleware)

	apiRoutes.GET("/ontology", routes.GetOntologyHandler, middleware.RequirePermission("ontology.view"))
	apiRoutes.POST("/validate", routes.ValidateGraphHandler, middleware.RequirePermission("ontology.view"))

	// Extraction routes
	apiRoutes.POST("/extract", routes.ExtractHandler, middleware.RequirePermission("graph.extract"))
	apiRoutes.POST("/events", routes.EnqueueEventsHandler, middleware.RequirePermission("event.enqueue"))

	// Graph routes
	apiRoutes.GET("/graphs", routes.ListRunsHandler, middleware.RequirePermission("graph.view"))
	apiRoutes.GET("/graphs/:id", routes.GetGraphHandler, middleware.RequirePermission("graph.view"))
	apiRoutes.DELETE("/graphs/:id", routes.DeleteGraphHandler, middleware.RequirePermission("graph.delete"))
}
