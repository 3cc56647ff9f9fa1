package commands

import (
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var historyLimit int

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 50, "Maximum number of entries to show.")
	rootCmd.AddCommand(historyCmd)
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recently finished queries from the audit store.",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		entries, err := client.History(cmd.Context(), historyLimit)
		if err != nil {
			fatal(err)
		}

		t := newTable()
		t.AppendHeader(table.Row{"Id", "Identifier", "Status", "Failure", "Found", "Consistent", "Finished"})
		for _, e := range entries {
			t.AppendRow(table.Row{
				e.Id,
				e.Identifier,
				e.Status,
				e.Failure,
				e.Found,
				e.Consistent,
				e.FinishedAt.Format(time.DateTime),
			})
		}
		t.Render()
	},
}
