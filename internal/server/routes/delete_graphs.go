package routes

import (
	"errors"
	"net/http"

	"github.com/OFFIS-RIT/lkgb/backend/internal/server/middleware"
	"github.com/OFFIS-RIT/lkgb/backend/pkg/logger"
	"github.com/OFFIS-RIT/lkgb/backend/pkg/store"

	"github.com/labstack/echo/v4"
)

// DeleteGraphHandler removes a stored graph and its run.
func DeleteGraphHandler(c echo.Context) error {
	type deleteGraphResponse struct {
		Message string `json:"message"`
	}

	app := c.(*middleware.AppContext).App
	if app.Storage == nil {
		return c.JSON(http.StatusServiceUnavailable, deleteGraphResponse{Message: "No storage configured"})
	}

	err := app.Storage.DeleteGraph(c.Request().Context(), c.Param("id"))
	if errors.Is(err, store.ErrNotFound) {
		return c.JSON(http.StatusNotFound, deleteGraphResponse{Message: "Graph not found"})
	}
	if err != nil {
		logger.Error("[Server] Failed to delete graph", "id", c.Param("id"), "err", err)
		return c.JSON(http.StatusInternalServerError, deleteGraphResponse{Message: "Internal server error"})
	}

	return c.JSON(http.StatusOK, deleteGraphResponse{Message: "Graph deleted"})
}
