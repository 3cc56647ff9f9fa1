package commands

import (
	"fmt"
	"sort"

	"statuswatch-backend/services/statusquery"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func init() {
	rootCmd.AddCommand(queryCmd)
	rootCmd.AddCommand(cancelCmd)
}

var queryCmd = &cobra.Command{
	Use:   "query <identifier>...",
	Short: "Query the portal for one or more account identifiers and wait for the results.",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		// submissions fan out; the daemon serializes them against the
		// portal session in arrival order.
		queries := make([]statusquery.Query, len(args))
		group, ctx := errgroup.WithContext(cmd.Context())
		for i, identifier := range args {
			group.Go(func() error {
				q, err := client.Await(ctx, identifier)
				if err != nil {
					return fmt.Errorf("%s: %w", identifier, err)
				}
				queries[i] = q
				return nil
			})
		}
		if err := group.Wait(); err != nil {
			fatal(err)
		}

		for _, q := range queries {
			renderQuery(q)
		}
	},
}

var cancelCmd = &cobra.Command{
	Use:   "cancel <query id>",
	Short: "Cancel a queued or in-flight query.",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		q, err := client.Cancel(cmd.Context(), args[0])
		if err != nil {
			fatal(err)
		}
		fmt.Printf("%s: %s\n", q.Id, q.Status)
	},
}

func renderQuery(q statusquery.Query) {
	fmt.Printf("%s  [%s]  %s\n", q.Identifier, q.Status, q.Id)

	if q.Status == statusquery.StatusFailed {
		fmt.Printf("  failure: %s\n  cause:   %s\n", q.Failure, q.Cause)
		return
	}
	if q.Result == nil {
		return
	}
	if !q.Result.Found {
		fmt.Println("  no matching account")
		return
	}
	if !q.Result.Consistent {
		fmt.Println("  warning: extraction strategies disagreed, treat low confidence fields with suspicion")
	}

	names := make([]string, 0, len(q.Result.Fields))
	for name := range q.Result.Fields {
		names = append(names, name)
	}
	sort.Strings(names)

	t := newTable()
	t.AppendHeader(table.Row{"Field", "Value", "Strategy", "Confidence", "Consistent"})
	for _, name := range names {
		value := q.Result.Fields[name]
		if value.Absent {
			t.AppendRow(table.Row{name, "(absent)", "", "", ""})
			continue
		}
		t.AppendRow(table.Row{name, value.Value, value.SourceStrategy, value.Confidence, value.Consistent})
	}
	t.Render()
}
