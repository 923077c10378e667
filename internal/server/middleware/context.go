package middleware

import (
	"context"
	"net/http"

	"github.com/OFFIS-RIT/lkgb/backend/pkg/extract"
	"github.com/OFFIS-RIT/lkgb/backend/pkg/ontology"
	"github.com/OFFIS-RIT/lkgb/backend/pkg/store"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/labstack/echo/v4"
)

type AppUser struct {
	UserID      int64
	Role        string
	Permissions []string
}

// Engine runs extraction sessions against a fixed ontology.
type Engine interface {
	Run(ctx context.Context, in extract.Input) (*extract.Result, error)
	Schema() *ontology.Schema
}

// Enqueuer hands an encoded event message to the worker queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, data []byte) error
}

type App struct {
	Engine       Engine
	Storage      store.GraphStorage // nil when no database is configured
	Queue        Enqueuer           // nil when no broker is configured
	Key          *keyfunc.Keyfunc   // nil disables JWT auth
	Metrics      http.Handler
	MasterAPIKey string
	ExperimentID string
}

type AppContext struct {
	echo.Context
	App  *App
	User *AppUser
}

func AppContextMiddleware(app *App) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			cc := &AppContext{c, app, nil}
			return next(cc)
		}
	}
}
