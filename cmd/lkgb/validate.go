package main

import (
	"fmt"

	"github.com/OFFIS-RIT/lkgb/backend/internal/storage"
	"github.com/OFFIS-RIT/lkgb/backend/pkg/extract"
	"github.com/OFFIS-RIT/lkgb/backend/pkg/graph"

	"github.com/spf13/cobra"
)

func validateCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <graph.json>",
		Short: "Check a graph document against the ontology",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			loc := storage.NewLocation(nil)

			schema, err := g.schema(ctx, loc)
			if err != nil {
				return err
			}
			data, err := loc.Read(ctx, args[0])
			if err != nil {
				return fmt.Errorf("read %s: %w", args[0], err)
			}
			doc, err := graph.Decode(schema, data)
			if err != nil {
				return err
			}

			result := extract.Validate(doc)
			if result.Accepted() {
				fmt.Printf("%s: valid (%d nodes, %d edges)\n", args[0], doc.Len(), len(doc.Edges()))
				return nil
			}
			fmt.Printf("%s: %d violations\n%s\n", args[0], len(result.Violations), extract.FormatViolations(result.Violations))
			return fmt.Errorf("graph is not valid")
		},
	}
}
