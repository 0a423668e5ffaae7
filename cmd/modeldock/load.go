package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/flynn-ai/modeldock/internal/app"
	apperrors "github.com/flynn-ai/modeldock/internal/errors"
	"github.com/flynn-ai/modeldock/internal/loader"
)

var loadKeep bool

var loadCmd = &cobra.Command{
	Use:   "load <model-id>",
	Short: "Load a model and report progress",
	Long: `Loads a model on the inference server with the same retry policy as the
chat screen, printing progress as it goes.

By default the model is unloaded again on exit; pass --keep to leave it
loaded for other clients.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext()
		defer stop()

		a, err := openApp()
		if err != nil {
			return err
		}

		last := ""
		unsubscribe := a.Controller.Subscribe(func(s loader.Status) {
			if s.Progress != "" && s.Progress != last {
				last = s.Progress
				fmt.Println(s.Progress)
			}
		})

		start := time.Now()
		_, loadErr := a.Controller.Load(ctx, args[0])
		unsubscribe()

		s := a.Stats.Collect()
		fmt.Printf("\nattempts: %d, retries: %d, took %s\n", s.LoadAttempts, s.LoadRetries, time.Since(start).Round(time.Millisecond))

		if loadKeep {
			err = a.CloseStores()
		} else {
			closeCtx, cancel := context.WithTimeout(context.Background(), app.ShutdownTimeout)
			err = a.Close(closeCtx)
			cancel()
		}
		if loadErr != nil {
			if sugg := apperrors.GetSuggestions(loadErr); len(sugg) > 0 {
				fmt.Println(apperrors.FormatUserMessage(loadErr))
			}
			return loadErr
		}
		return err
	},
}

func init() {
	loadCmd.Flags().BoolVar(&loadKeep, "keep", false, "leave the model loaded on exit")
	rootCmd.AddCommand(loadCmd)
}
