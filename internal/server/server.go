package server

import (
	"context"
	"net/http"
	"time"

	"github.com/OFFIS-RIT/lkgb/backend/internal/config"
	"github.com/OFFIS-RIT/lkgb/backend/internal/metrics"
	"github.com/OFFIS-RIT/lkgb/backend/internal/queue"
	mid "github.com/OFFIS-RIT/lkgb/backend/internal/server/middleware"
	"github.com/OFFIS-RIT/lkgb/backend/internal/storage"
	"github.com/OFFIS-RIT/lkgb/backend/migrations"
	"github.com/OFFIS-RIT/lkgb/backend/pkg/extract"
	"github.com/OFFIS-RIT/lkgb/backend/pkg/logger"
	pgstore "github.com/OFFIS-RIT/lkgb/backend/pkg/store/pgx"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/go-playground/validator"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

type CustomValidator struct {
	validator *validator.Validate
}

func (cv *CustomValidator) Validate(i any) error {
	if err := cv.validator.Struct(i); err != nil {
		return err
	}
	return nil
}

// New builds the HTTP API around app.
func New(app *mid.App) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Validator = &CustomValidator{validator: validator.New()}

	e.Use(mid.AppContextMiddleware(app))
	e.Use(middleware.CORS())
	e.Use(middleware.RequestLogger())
	e.Use(middleware.Recover())
	e.Use(middleware.BodyLimit("8M"))

	RegisterRoutes(e, app)
	return e
}

// Init wires the server from cfg and serves until ctx is done.
func Init(ctx context.Context, cfg config.Config) {
	if err := cfg.Validate(); err != nil {
		logger.Fatal("Invalid configuration", "err", err)
	}

	loc := storage.NewLocation(nil)
	schema, err := cfg.LoadOntology(ctx, loc)
	if err != nil {
		logger.Fatal("Failed to load ontology", "err", err)
	}

	aiClient, err := cfg.NewAIClient()
	if err != nil {
		logger.Fatal("Failed to create AI client", "err", err)
	}

	app := &mid.App{
		MasterAPIKey: cfg.MasterAPIKey,
		ExperimentID: cfg.ExperimentID,
	}
	m := metrics.New()
	app.Metrics = m.Handler()
	opts := []extract.Option{extract.WithLookup(cfg.NewLookup()), extract.WithObserver(m)}

	if cfg.AuthURL != "" {
		k, err := keyfunc.NewDefault([]string{cfg.AuthURL + "/jwks"})
		if err != nil {
			logger.Fatal("Failed to load jwks keys", "err", err)
		}
		app.Key = &k
	}

	if cfg.DatabaseURL != "" {
		if err := migrations.Up(cfg.DatabaseURL); err != nil {
			logger.Fatal("Failed to migrate database", "err", err)
		}
		pool, err := cfg.OpenDatabase(ctx)
		if err != nil {
			logger.Fatal("Failed to connect to database", "err", err)
		}
		defer pool.Close()

		graphStorage, err := pgstore.NewGraphDBStorageWithConnection(ctx, pool, aiClient)
		if err != nil {
			logger.Fatal("Failed to create graph storage", "err", err)
		}
		if n, err := cfg.SeedExamples(ctx, loc, schema, graphStorage); err != nil {
			logger.Fatal("Failed to seed examples", "err", err)
		} else if n > 0 {
			logger.Info("Seeded examples", "count", n)
		}
		app.Storage = graphStorage
		opts = append(opts, extract.WithExamples(graphStorage))
	}

	if cfg.QueueEnabled {
		conn := queue.Init()
		defer conn.Close()
		ch, err := conn.Channel()
		if err != nil {
			logger.Fatal("Failed to open channel", "err", err)
		}
		defer ch.Close()
		if err := queue.SetupQueues(ch, []string{queue.EventQueue}); err != nil {
			logger.Fatal("Failed to set up queues", "err", err)
		}
		app.Queue = queue.NewChannelPublisher(ch)
	}

	engine, err := extract.NewEngine(schema, aiClient, cfg.Engine(), opts...)
	if err != nil {
		logger.Fatal("Failed to create extraction engine", "err", err)
	}
	app.Engine = engine

	e := New(app)

	go func() {
		logger.Info("Starting server", "port", cfg.Port)
		if err := e.Start(":" + cfg.Port); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed shutting down server", "err", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("Failed to shutdown server", "err", err)
	}
}
