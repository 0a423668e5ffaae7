package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List the models in the catalog",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cat, err := cfg.Catalog()
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tSIZE\tDESCRIPTION")
		for _, m := range cat.All() {
			id := m.ID
			if id == cfg.Engine.DefaultModel {
				id += " *"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", id, m.DisplayName, m.ApproximateSize, m.Description)
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(modelsCmd)
}
