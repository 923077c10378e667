// Package main provides the lkgb command line tool. It extracts knowledge
// graphs from log events without the server or the queue.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/OFFIS-RIT/lkgb/backend/internal/config"
	"github.com/OFFIS-RIT/lkgb/backend/internal/storage"
	"github.com/OFFIS-RIT/lkgb/backend/internal/util"
	"github.com/OFFIS-RIT/lkgb/backend/pkg/logger"
	"github.com/OFFIS-RIT/lkgb/backend/pkg/logger/console"
	"github.com/OFFIS-RIT/lkgb/backend/pkg/ontology"

	"github.com/spf13/cobra"
)

const (
	Version = "0.1.0"
	appName = "lkgb"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// globals are the flags shared by every subcommand.
type globals struct {
	ontologyPath string
	debug        bool
	jsonLogs     bool
}

func rootCmd() *cobra.Command {
	g := &globals{}

	cmd := &cobra.Command{
		Use:   appName,
		Short: "Ontology-constrained knowledge graphs from log events",
		Long: `lkgb turns log events into small knowledge graphs that follow a fixed
ontology. A language model proposes each graph, every proposal is checked
against the ontology and structural rules, and rejected graphs are sent
back for repair until one is accepted or the attempt budget is spent.

Configuration is read from the environment (and a .env file); flags
override it.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			util.LoadEnv()
			cfg := config.FromEnv()
			logger.Init(console.NewConsoleLogger(console.ConsoleLoggerParams{
				Debug:  g.debug || cfg.Debug,
				JSON:   g.jsonLogs || cfg.JSONLogs,
				Prefix: appName,
			}))
		},
	}

	cmd.PersistentFlags().StringVarP(&g.ontologyPath, "ontology", "o", "", "Ontology file or s3:// location (default $ONTOLOGY_PATH)")
	cmd.PersistentFlags().BoolVar(&g.debug, "debug", false, "Enable debug logging")
	cmd.PersistentFlags().BoolVar(&g.jsonLogs, "json-logs", false, "Log one JSON object per line")

	cmd.AddCommand(
		parseCmd(g),
		extractCmd(g),
		describeCmd(g),
		validateCmd(g),
		seedCmd(g),
		clearCmd(g),
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Printf("%s version %s\n", appName, Version)
			},
		},
	)

	return cmd
}

// load resolves the configuration with flag overrides applied.
func (g *globals) load() config.Config {
	cfg := config.FromEnv()
	if g.ontologyPath != "" {
		cfg.OntologyPath = g.ontologyPath
	}
	return cfg
}

func (g *globals) schema(ctx context.Context, loc *storage.Location) (*ontology.Schema, error) {
	return g.load().LoadOntology(ctx, loc)
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
