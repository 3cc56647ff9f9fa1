package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var (
	baseUrl string
	token   string

	client *apiClient
)

var rootCmd = &cobra.Command{
	Use:   "statuswatch-cli",
	Short: "statuswatch-cli is a CLI for the StatusWatch account status daemon.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		client = newApiClient(baseUrl, token)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&baseUrl, "base-url",
		envOr("STATUSWATCH_BASE_URL", "http://localhost:8400"),
		"Base url of the statuswatchd api.",
	)
	rootCmd.PersistentFlags().StringVar(
		&token, "token",
		os.Getenv("STATUSWATCH_TOKEN"),
		"Api token, minted with `statuswatch-cli token create`.",
	)
}

func envOr(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func ExecuteContext(ctx context.Context) {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, err.Error())
	os.Exit(1)
}

func newTable() table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.SetOutputMirror(os.Stdout)
	return t
}
