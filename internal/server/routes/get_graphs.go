package routes

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/OFFIS-RIT/lkgb/backend/internal/server/middleware"
	"github.com/OFFIS-RIT/lkgb/backend/pkg/extract"
	"github.com/OFFIS-RIT/lkgb/backend/pkg/logger"
	"github.com/OFFIS-RIT/lkgb/backend/pkg/store"

	"github.com/labstack/echo/v4"
)

// GetGraphHandler returns a stored graph by session id.
func GetGraphHandler(c echo.Context) error {
	type getGraphResponse struct {
		Message string             `json:"message,omitempty"`
		Graph   *store.StoredGraph `json:"graph,omitempty"`
	}

	app := c.(*middleware.AppContext).App
	if app.Storage == nil {
		return c.JSON(http.StatusServiceUnavailable, getGraphResponse{Message: "No storage configured"})
	}

	stored, err := app.Storage.GetGraph(c.Request().Context(), c.Param("id"))
	if errors.Is(err, store.ErrNotFound) {
		return c.JSON(http.StatusNotFound, getGraphResponse{Message: "Graph not found"})
	}
	if err != nil {
		logger.Error("[Server] Failed to load graph", "id", c.Param("id"), "err", err)
		return c.JSON(http.StatusInternalServerError, getGraphResponse{Message: "Internal server error"})
	}

	return c.JSON(http.StatusOK, getGraphResponse{Graph: stored})
}

// ListRunsHandler lists stored runs, newest first.
func ListRunsHandler(c echo.Context) error {
	type listRunsResponse struct {
		Message string      `json:"message,omitempty"`
		Runs    []store.Run `json:"runs"`
	}

	app := c.(*middleware.AppContext).App
	if app.Storage == nil {
		return c.JSON(http.StatusServiceUnavailable, listRunsResponse{Message: "No storage configured"})
	}

	filter := store.RunFilter{
		Status:       extract.Status(c.QueryParam("status")),
		ExperimentID: c.QueryParam("experiment_id"),
	}
	for name, dst := range map[string]*int{"limit": &filter.Limit, "offset": &filter.Offset} {
		raw := c.QueryParam(name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return c.JSON(http.StatusBadRequest, listRunsResponse{Message: "Invalid " + name})
		}
		*dst = n
	}

	runs, err := app.Storage.ListRuns(c.Request().Context(), filter)
	if err != nil {
		logger.Error("[Server] Failed to list runs", "err", err)
		return c.JSON(http.StatusInternalServerError, listRunsResponse{Message: "Internal server error"})
	}
	if runs == nil {
		runs = []store.Run{}
	}

	return c.JSON(http.StatusOK, listRunsResponse{Runs: runs})
}
