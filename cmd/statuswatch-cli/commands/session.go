package commands

import (
	"fmt"
	"time"

	"statuswatch-backend/lib/scrapers/vantage"

	"github.com/spf13/cobra"
)

func init() {
	sessionCmd.AddCommand(sessionStatusCmd)
	sessionCmd.AddCommand(sessionResetCmd)
	rootCmd.AddCommand(sessionCmd)
}

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Inspect or reset the daemon's portal session.",
}

var sessionStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the portal session's current state.",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		status, err := client.SessionStatus(cmd.Context())
		if err != nil {
			fatal(err)
		}
		renderSession(status)
	},
}

var sessionResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Wipe rejection state and force a fresh login on next use.",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		status, err := client.SessionReset(cmd.Context())
		if err != nil {
			fatal(err)
		}
		renderSession(status)
	},
}

func renderSession(status vantage.SessionStatus) {
	fmt.Printf("state: %s\n", status.State)
	if !status.ExpiresAt.IsZero() {
		fmt.Printf("expires: %s\n", status.ExpiresAt.Format(time.DateTime))
	}
	if status.Cause != "" {
		fmt.Printf("cause: %s\n", status.Cause)
	}
	if status.Challenge != nil {
		fmt.Printf(
			"challenge: %s (%s)\n  prompt: %s\n  resolve with: statuswatch-cli challenge resolve %s <value>\n",
			status.Challenge.Id,
			status.Challenge.Kind,
			status.Challenge.Prompt,
			status.Challenge.Id,
		)
	}
}
