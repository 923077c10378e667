package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/OFFIS-RIT/lkgb/backend/internal/config"
	"github.com/OFFIS-RIT/lkgb/backend/internal/server"
	"github.com/OFFIS-RIT/lkgb/backend/internal/util"
	"github.com/OFFIS-RIT/lkgb/backend/pkg/logger"
	"github.com/OFFIS-RIT/lkgb/backend/pkg/logger/console"
)

func main() {
	util.LoadEnv()
	cfg := config.FromEnv()

	consoleLogger := console.NewConsoleLogger(console.ConsoleLoggerParams{
		Debug: cfg.Debug,
		JSON:  cfg.JSONLogs,
	})
	logger.Init(consoleLogger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	server.Init(ctx, cfg)
}
