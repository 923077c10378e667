package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/OFFIS-RIT/lkgb/backend/internal/config"
	"github.com/OFFIS-RIT/lkgb/backend/internal/metrics"
	"github.com/OFFIS-RIT/lkgb/backend/internal/queue"
	"github.com/OFFIS-RIT/lkgb/backend/internal/storage"
	"github.com/OFFIS-RIT/lkgb/backend/internal/util"
	"github.com/OFFIS-RIT/lkgb/backend/migrations"
	"github.com/OFFIS-RIT/lkgb/backend/pkg/extract"
	"github.com/OFFIS-RIT/lkgb/backend/pkg/leaselock"
	"github.com/OFFIS-RIT/lkgb/backend/pkg/logger"
	"github.com/OFFIS-RIT/lkgb/backend/pkg/logger/console"
	pgstore "github.com/OFFIS-RIT/lkgb/backend/pkg/store/pgx"

	amqp "github.com/rabbitmq/amqp091-go"
)

func main() {
	util.LoadEnv()
	cfg := config.FromEnv()

	// logger
	consoleLogger := console.NewConsoleLogger(console.ConsoleLoggerParams{
		Debug:  cfg.Debug,
		JSON:   cfg.JSONLogs,
		Prefix: "worker",
	})
	logger.Init(consoleLogger)

	if err := cfg.Validate(); err != nil {
		logger.Fatal("Invalid configuration", "err", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	loc := storage.NewLocation(nil)
	schema, err := cfg.LoadOntology(ctx, loc)
	if err != nil {
		logger.Fatal("Failed to load ontology", "err", err)
	}

	aiClient, err := cfg.NewAIClient()
	if err != nil {
		logger.Fatal("Could not create AI client", "err", err)
	}

	// database
	if err := migrations.Up(cfg.DatabaseURL); err != nil {
		logger.Fatal("Failed to migrate database", "err", err)
	}
	pgConn, err := cfg.OpenDatabase(ctx)
	if err != nil {
		logger.Fatal("Unable to connect to database", "err", err)
	}
	defer pgConn.Close()

	graphStorage, err := pgstore.NewGraphDBStorageWithConnection(ctx, pgConn, aiClient)
	if err != nil {
		logger.Fatal("Failed to create graph storage", "err", err)
	}

	if n, err := cfg.SeedExamples(ctx, loc, schema, graphStorage); err != nil {
		logger.Fatal("Failed to seed examples", "err", err)
	} else if n > 0 {
		logger.Info("Seeded examples", "count", n)
	}

	m := metrics.New()
	engine, err := extract.NewEngine(schema, aiClient, cfg.Engine(),
		extract.WithLookup(cfg.NewLookup()),
		extract.WithExamples(graphStorage),
		extract.WithObserver(m),
	)
	if err != nil {
		logger.Fatal("Failed to create extraction engine", "err", err)
	}

	metricsServer := &http.Server{Addr: ":" + util.GetEnvString("METRICS_PORT", "9090"), Handler: m.Handler()}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server stopped", "err", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	// rabbitmq
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

	handler := queue.NewHandler(queue.NewHandlerParams{
		Engine:       engine,
		Storage:      graphStorage,
		Publisher:    queue.NewChannelPublisher(ch),
		Locks:        leaselock.New(pgConn),
		ExperimentID: cfg.ExperimentID,
	})

	logger.Info("Listening for messages", "queue", queue.EventQueue, "parallel", cfg.AI.ParallelRequests)

	err = queue.Consume(ctx, conn, queue.EventQueue, cfg.AI.ParallelRequests, func(ctx context.Context, msg amqp.Delivery) error {
		res, err := handler.ProcessEventMessage(ctx, msg.Body)
		if errors.Is(err, queue.ErrBadMessage) {
			// retrying cannot fix the body
			logger.Error("Dropping malformed message", "err", err)
			return nil
		}
		if err != nil {
			return err
		}
		logger.Info(
			"AI Metrics",
			"session", res.SessionID,
			"input_tokens", res.Metrics.InputTokens,
			"output_tokens", res.Metrics.OutputTokens,
			"total_tokens", res.Metrics.TotalTokens,
		)
		return nil
	})
	if err != nil {
		logger.Fatal("Consumer stopped", "err", err)
	}

	logger.Info("Shutdown signal received, exiting...")
}
