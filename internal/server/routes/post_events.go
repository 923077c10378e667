package routes

import (
	"encoding/json"
	"net/http"

	"github.com/OFFIS-RIT/lkgb/backend/internal/server/middleware"
	"github.com/OFFIS-RIT/lkgb/backend/pkg/logger"

	"github.com/labstack/echo/v4"
)

// EnqueueEventsHandler queues events for the worker.
func EnqueueEventsHandler(c echo.Context) error {
	type enqueueBody struct {
		Events []eventBody `json:"events" validate:"required,min=1,dive"`
	}

	type enqueueResponse struct {
		Message  string `json:"message"`
		Enqueued int    `json:"enqueued"`
	}

	data := new(enqueueBody)
	if err := c.Bind(data); err != nil {
		return c.JSON(http.StatusBadRequest, enqueueResponse{Message: "Invalid request body"})
	}
	if err := c.Validate(data); err != nil {
		return c.JSON(http.StatusBadRequest, enqueueResponse{Message: "Invalid request body"})
	}

	app := c.(*middleware.AppContext).App
	if app.Queue == nil {
		return c.JSON(http.StatusServiceUnavailable, enqueueResponse{Message: "No queue configured"})
	}

	ctx := c.Request().Context()
	enqueued := 0
	for _, ev := range data.Events {
		if ev.ExperimentID == "" {
			ev.ExperimentID = app.ExperimentID
		}
		body, err := json.Marshal(ev)
		if err != nil {
			return c.JSON(http.StatusInternalServerError, enqueueResponse{Message: "Internal server error", Enqueued: enqueued})
		}
		if err := app.Queue.Enqueue(ctx, body); err != nil {
			logger.Error("[Server] Failed to enqueue event", "err", err)
			return c.JSON(http.StatusInternalServerError, enqueueResponse{Message: "Internal server error", Enqueued: enqueued})
		}
		enqueued++
	}

	return c.JSON(http.StatusAccepted, enqueueResponse{Message: "Events enqueued", Enqueued: enqueued})
}
