package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/OFFIS-RIT/lkgb/backend/internal/config"
	"github.com/OFFIS-RIT/lkgb/backend/internal/storage"
	"github.com/OFFIS-RIT/lkgb/backend/migrations"
	"github.com/OFFIS-RIT/lkgb/backend/pkg/ai"
	"github.com/OFFIS-RIT/lkgb/backend/pkg/logger"
	pgstore "github.com/OFFIS-RIT/lkgb/backend/pkg/store/pgx"

	"github.com/spf13/cobra"
)

// openStorage migrates and connects $DATABASE_URL. close releases the pool.
func openStorage(ctx context.Context, cfg config.Config, aiClient ai.GraphAIClient) (s *pgstore.GraphDBStorage, close func(), err error) {
	if err := migrations.Up(cfg.DatabaseURL); err != nil {
		return nil, nil, fmt.Errorf("migrate database: %w", err)
	}
	pool, err := cfg.OpenDatabase(ctx)
	if err != nil {
		return nil, nil, err
	}
	s, err = pgstore.NewGraphDBStorageWithConnection(ctx, pool, aiClient)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	return s, pool.Close, nil
}

func seedCmd(g *globals) *cobra.Command {
	var check bool

	cmd := &cobra.Command{
		Use:   "seed [examples.json]",
		Short: "Store curated example graphs for few-shot prompting",
		Long: `Reads a JSON array of examples ({"event", "context", "graph"}) from a
local path or s3://bucket/key (default $EXAMPLES_PATH), validates every
graph against the ontology and stores the new ones in $DATABASE_URL with
an embedding of their event.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := g.load()
			if len(args) == 1 {
				cfg.ExamplesPath = args[0]
			}
			if cfg.ExamplesPath == "" {
				return errors.New("no examples file given and EXAMPLES_PATH is empty")
			}

			ctx := cmd.Context()
			loc := storage.NewLocation(nil)
			schema, err := cfg.LoadOntology(ctx, loc)
			if err != nil {
				return err
			}
			examples, err := config.LoadExamples(ctx, loc, schema, cfg.ExamplesPath)
			if err != nil {
				return err
			}
			if check {
				fmt.Printf("%d valid examples\n", len(examples))
				return nil
			}

			aiClient, err := cfg.NewAIClient()
			if err != nil {
				return err
			}
			graphStorage, closeStorage, err := openStorage(ctx, cfg, aiClient)
			if err != nil {
				return err
			}
			defer closeStorage()

			n, err := graphStorage.SeedExamples(ctx, examples)
			if err != nil {
				return err
			}
			logger.Info("Examples seeded", "new", n, "skipped", len(examples)-n)
			return nil
		},
	}

	cmd.Flags().BoolVar(&check, "check", false, "Only validate the examples, do not store them")
	return cmd
}

func clearCmd(g *globals) *cobra.Command {
	var (
		experiment string
		all        bool
	)

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete stored graphs",
		Long: `Deletes the stored graphs of one experiment (--experiment), or every
stored graph including seeded examples (--all).`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if experiment == "" && !all {
				return errors.New("pass --experiment <id> or --all")
			}
			if experiment != "" && all {
				return errors.New("--experiment and --all are mutually exclusive")
			}

			ctx := cmd.Context()
			graphStorage, closeStorage, err := openStorage(ctx, g.load(), nil)
			if err != nil {
				return err
			}
			defer closeStorage()

			n, err := graphStorage.Clear(ctx, experiment)
			if err != nil {
				return err
			}
			logger.Info("Store cleared", "experiment", experiment, "deleted", n)
			return nil
		},
	}

	cmd.Flags().StringVarP(&experiment, "experiment", "e", "", "Only delete graphs of this experiment")
	cmd.Flags().BoolVar(&all, "all", false, "Delete every stored graph")
	return cmd
}
