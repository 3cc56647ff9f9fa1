package commands

import (
	"github.com/spf13/cobra"
)

func init() {
	challengeCmd.AddCommand(challengeResolveCmd)
	rootCmd.AddCommand(challengeCmd)
}

var challengeCmd = &cobra.Command{
	Use:   "challenge",
	Short: "Answer portal challenges blocking the session.",
}

var challengeResolveCmd = &cobra.Command{
	Use:   "resolve <challenge id> <value>",
	Short: "Supply the answer to a pending challenge (otp code, security answer, captcha response).",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		status, err := client.ResolveChallenge(cmd.Context(), args[0], args[1])
		if err != nil {
			fatal(err)
		}
		renderSession(status)
	},
}
