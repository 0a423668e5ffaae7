package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

var clearCacheModel string

var clearCacheCmd = &cobra.Command{
	Use:   "clear-cache",
	Short: "Delete cached model artifacts",
	Long: `Deletes cached model artifacts.

With --model only that model's cache entries and keys are removed.
Without it every cache, key-value entry, database and worker
registration is wiped.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext()
		defer stop()

		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.CloseStores()

		var ok bool
		if clearCacheModel != "" {
			if !a.Catalog.Contains(clearCacheModel) {
				return fmt.Errorf("unknown model id %q (see modeldock models)", clearCacheModel)
			}
			ok = a.Controller.InvalidateModel(ctx, clearCacheModel)
		} else {
			ok = a.Controller.InvalidateAll(ctx)
		}

		if !ok {
			return errors.New("cache cleanup incomplete, see the log for details")
		}
		fmt.Println("Cache cleared.")
		return nil
	},
}

func init() {
	clearCacheCmd.Flags().StringVar(&clearCacheModel, "model", "", "only clear this model's cache")
	rootCmd.AddCommand(clearCacheCmd)
}
