package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/OFFIS-RIT/lkgb/backend/internal/storage"
	"github.com/OFFIS-RIT/lkgb/backend/pkg/extract"

	"github.com/spf13/cobra"
)

func extractCmd(g *globals) *cobra.Command {
	var (
		in         extract.Input
		transcript bool
	)

	cmd := &cobra.Command{
		Use:   "extract <event>",
		Short: "Extract the graph of a single event and print the result as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()

			cfg := g.load()
			if err := cfg.Validate(); err != nil {
				return err
			}
			schema, err := g.schema(ctx, storage.NewLocation(nil))
			if err != nil {
				return err
			}
			aiClient, err := cfg.NewAIClient()
			if err != nil {
				return err
			}

			engineCfg := cfg.Engine()
			engineCfg.KeepTranscript = transcript
			engine, err := extract.NewEngine(schema, aiClient, engineCfg, extract.WithLookup(cfg.NewLookup()))
			if err != nil {
				return err
			}

			in.Event = args[0]
			res, err := engine.Run(ctx, in)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(res); err != nil {
				return err
			}
			if !res.Accepted() {
				return fmt.Errorf("no valid graph after %d attempts: %s", res.Attempts, res.Diagnostic)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&in.Context, "context", "", "Surrounding text of the event")
	cmd.Flags().StringVar(&in.Source, "file", "", "File the event was read from")
	cmd.Flags().StringVar(&in.Device, "device", "", "Device the event was collected on")
	cmd.Flags().BoolVar(&transcript, "transcript", false, "Include the model conversation in the output")

	return cmd
}
