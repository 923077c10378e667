package routes

import (
	"errors"
	"net/http"

	"github.com/OFFIS-RIT/lkgb/backend/internal/server/middleware"
	"github.com/OFFIS-RIT/lkgb/backend/pkg/extract"
	"github.com/OFFIS-RIT/lkgb/backend/pkg/logger"

	"github.com/labstack/echo/v4"
)

type eventBody struct {
	Event        string `json:"event" validate:"required"`
	Context      string `json:"context"`
	Source       string `json:"source"`
	Device       string `json:"device"`
	ExperimentID string `json:"experiment_id"`
}

func (b eventBody) input() extract.Input {
	return extract.Input{
		Event:   b.Event,
		Context: b.Context,
		Source:  b.Source,
		Device:  b.Device,
	}
}

// ExtractHandler runs one extraction session synchronously and returns its
// result. Exhausted sessions are answered with 422 and their best graph.
func ExtractHandler(c echo.Context) error {
	type extractResponse struct {
		Message string          `json:"message"`
		Result  *extract.Result `json:"result,omitempty"`
	}

	data := new(eventBody)
	if err := c.Bind(data); err != nil {
		return c.JSON(http.StatusBadRequest, extractResponse{Message: "Invalid request body"})
	}
	if err := c.Validate(data); err != nil {
		return c.JSON(http.StatusBadRequest, extractResponse{Message: "Invalid request body"})
	}

	app := c.(*middleware.AppContext).App
	ctx := c.Request().Context()

	res, err := app.Engine.Run(ctx, data.input())
	if err != nil {
		if errors.Is(err, extract.ErrEmptyEvent) {
			return c.JSON(http.StatusBadRequest, extractResponse{Message: "Event is empty"})
		}
		logger.Warn("[Server] Extraction aborted", "err", err)
		return c.JSON(http.StatusServiceUnavailable, extractResponse{Message: "Extraction aborted", Result: res})
	}

	if app.Storage != nil {
		experimentID := data.ExperimentID
		if experimentID == "" {
			experimentID = app.ExperimentID
		}
		if err := app.Storage.SaveResult(ctx, res, experimentID); err != nil {
			logger.Error("[Server] Failed to store result", "session", res.SessionID, "err", err)
			return c.JSON(http.StatusInternalServerError, extractResponse{Message: "Internal server error", Result: res})
		}
	}

	if !res.Accepted() {
		return c.JSON(http.StatusUnprocessableEntity, extractResponse{Message: "No valid graph within the attempt budget", Result: res})
	}
	return c.JSON(http.StatusOK, extractResponse{Message: "Graph accepted", Result: res})
}
