package main

import (
	"fmt"

	"github.com/OFFIS-RIT/lkgb/backend/internal/storage"

	"github.com/spf13/cobra"
)

func describeCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "describe",
		Short: "Print the ontology the way the model sees it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, err := g.schema(cmd.Context(), storage.NewLocation(nil))
			if err != nil {
				return err
			}
			fmt.Println(schema.Describe())
			return nil
		},
	}
}
