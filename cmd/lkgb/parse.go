package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/OFFIS-RIT/lkgb/backend/internal/batch"
	"github.com/OFFIS-RIT/lkgb/backend/internal/config"
	"github.com/OFFIS-RIT/lkgb/backend/internal/storage"
	"github.com/OFFIS-RIT/lkgb/backend/migrations"
	"github.com/OFFIS-RIT/lkgb/backend/pkg/extract"
	"github.com/OFFIS-RIT/lkgb/backend/pkg/loader"
	"github.com/OFFIS-RIT/lkgb/backend/pkg/logger"
	pgstore "github.com/OFFIS-RIT/lkgb/backend/pkg/store/pgx"

	"github.com/spf13/cobra"
)

func parseCmd(g *globals) *cobra.Command {
	var (
		parallel int
		persist  bool
		out      string
	)

	cmd := &cobra.Command{
		Use:   "parse <events.csv>",
		Short: "Extract graphs for every event of a CSV file",
		Long: `Reads a CSV file with the columns "Log Event", "File" and "Device"
(local path or s3://bucket/key), extracts one graph per row and prints a
summary. Lines starting with # are ignored.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()
			return runParse(ctx, g.load(), args[0], parallel, persist, out)
		},
	}

	cmd.Flags().IntVarP(&parallel, "parallel", "p", 0, "Sessions in flight (default $AI_PARALLEL_REQ)")
	cmd.Flags().BoolVar(&persist, "store", false, "Store results in $DATABASE_URL and use stored graphs as examples")
	cmd.Flags().StringVar(&out, "out", "", "Write all results as JSON to this path or s3:// location")

	return cmd
}

func runParse(ctx context.Context, cfg config.Config, path string, parallel int, persist bool, out string) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if parallel <= 0 {
		parallel = cfg.AI.ParallelRequests
	}

	loc := storage.NewLocation(nil)
	schema, err := cfg.LoadOntology(ctx, loc)
	if err != nil {
		return err
	}

	content, err := loc.Read(ctx, path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	inputs, err := loader.ParseEventsCSV(content)
	if err != nil {
		return err
	}

	aiClient, err := cfg.NewAIClient()
	if err != nil {
		return err
	}

	opts := []extract.Option{extract.WithLookup(cfg.NewLookup())}
	var sink batch.Sink
	if persist {
		if err := migrations.Up(cfg.DatabaseURL); err != nil {
			return fmt.Errorf("migrate database: %w", err)
		}
		pool, err := cfg.OpenDatabase(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		graphStorage, err := pgstore.NewGraphDBStorageWithConnection(ctx, pool, aiClient)
		if err != nil {
			return err
		}
		if _, err := cfg.SeedExamples(ctx, loc, schema, graphStorage); err != nil {
			return fmt.Errorf("seed examples: %w", err)
		}
		opts = append(opts, extract.WithExamples(graphStorage))
		sink = func(ctx context.Context, i int, res *extract.Result) error {
			return graphStorage.SaveResult(ctx, res, cfg.ExperimentID)
		}
	}

	engine, err := extract.NewEngine(schema, aiClient, cfg.Engine(), opts...)
	if err != nil {
		return err
	}

	logger.Info("Parsing events", "file", path, "events", len(inputs), "parallel", parallel)
	results, runErr := batch.Run(ctx, engine, inputs, batch.Options{Parallel: parallel, Sink: sink})

	summary := extract.Summarize(results)
	fmt.Println(summary.String())
	for kind, n := range summary.Violations {
		fmt.Printf("  %s: %d\n", kind, n)
	}

	if out != "" {
		data, err := json.MarshalIndent(results, "", "  ")
		if err != nil {
			return err
		}
		if err := loc.Write(ctx, out, data); err != nil {
			return fmt.Errorf("write %s: %w", out, err)
		}
		logger.Info("Results written", "out", out)
	}

	if errors.Is(runErr, context.Canceled) {
		logger.Warn("Parsing interrupted", "finished", summary.Total-summary.Failed)
		return nil
	}
	return runErr
}
