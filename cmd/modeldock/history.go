package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/flynn-ai/modeldock/internal/history"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history [conversation-id]",
	Short: "List recent conversations or print one",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := history.Open(cfg.Paths.HistoryDB)
		if err != nil {
			return err
		}
		defer store.Close()

		ctx := context.Background()
		if len(args) == 1 {
			turns, err := store.Messages(ctx, args[0])
			if err != nil {
				return err
			}
			if len(turns) == 0 {
				return fmt.Errorf("no conversation %s", args[0])
			}
			for _, t := range turns {
				fmt.Printf("[%s] %s\n%s\n\n", t.CreatedAt.Format("15:04:05"), t.Role, t.Content)
			}
			return nil
		}

		recent, err := store.Recent(ctx, historyLimit)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tMODEL\tMESSAGES\tUPDATED")
		for _, s := range recent {
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", s.ID, s.ModelID, s.MessageCount, s.UpdatedAt.Format("2006-01-02 15:04"))
		}
		return w.Flush()
	},
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "number of conversations to list")
	rootCmd.AddCommand(historyCmd)
}
