package commands

import (
	"fmt"
	"time"

	"statuswatch-backend/lib/configutil"
	configlibsql "statuswatch-backend/lib/configutil/libsql"
	"statuswatch-backend/services/keychain"
	keychaindb "statuswatch-backend/services/keychain/db"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

// credential and token commands operate on the keychain database
// directly rather than through the api, so secrets never transit http
// and tokens can be minted before the daemon has any.

var keychainDbPath string

func init() {
	for _, cmd := range []*cobra.Command{credentialCmd, tokenCmd} {
		cmd.PersistentFlags().StringVar(
			&keychainDbPath, "db", "",
			"Path to the keychain database. Defaults to the keychain block of config.json5.",
		)
	}

	credentialCmd.AddCommand(credentialSetCmd)
	credentialCmd.AddCommand(credentialDelCmd)
	credentialCmd.AddCommand(credentialListCmd)
	rootCmd.AddCommand(credentialCmd)

	tokenCmd.AddCommand(tokenCreateCmd)
	tokenCmd.AddCommand(tokenRevokeCmd)
	tokenCmd.AddCommand(tokenListCmd)
	rootCmd.AddCommand(tokenCmd)
}

type keychainConfig struct {
	Keychain configlibsql.Struct `json:"keychain"`
}

func openKeychain() keychain.Service {
	dbConfig := configlibsql.Struct{File: keychainDbPath}
	if keychainDbPath == "" {
		cfg, err := configutil.ReadConfig[keychainConfig]("config.json5")
		if err != nil {
			fatal(fmt.Errorf("no --db given and config.json5 is unreadable: %w", err))
		}
		dbConfig = cfg.Keychain
	}
	database, err := dbConfig.OpenDB(keychaindb.Schema)
	if err != nil {
		fatal(err)
	}
	return keychain.NewService(database)
}

var credentialCmd = &cobra.Command{
	Use:   "credential",
	Short: "Manage stored portal credentials.",
}

var credentialSetCmd = &cobra.Command{
	Use:   "set <name> <username> <password>",
	Short: "Store or replace a portal credential.",
	Args:  cobra.ExactArgs(3),
	Run: func(cmd *cobra.Command, args []string) {
		err := openKeychain().SetCredential(cmd.Context(), args[0], args[1], args[2])
		if err != nil {
			fatal(err)
		}
		fmt.Printf("stored credential %q\n", args[0])
	},
}

var credentialDelCmd = &cobra.Command{
	Use:   "del <name>",
	Short: "Delete a stored credential.",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		err := openKeychain().DeleteCredential(cmd.Context(), args[0])
		if err != nil {
			fatal(err)
		}
		fmt.Printf("deleted credential %q\n", args[0])
	},
}

var credentialListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored credentials. Never prints secrets.",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		infos, err := openKeychain().ListCredentials(cmd.Context())
		if err != nil {
			fatal(err)
		}
		t := newTable()
		t.AppendHeader(table.Row{"Name", "Username", "Updated"})
		for _, info := range infos {
			t.AppendRow(table.Row{
				info.Name,
				info.Username,
				time.Unix(info.UpdatedAt, 0).Format(time.DateTime),
			})
		}
		t.Render()
	},
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Manage api tokens for the statuswatchd http surface.",
}

var tokenCreateCmd = &cobra.Command{
	Use:   "create <label>",
	Short: "Mint a new api token. The token is printed once and never again.",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		token, err := openKeychain().CreateApiToken(cmd.Context(), args[0])
		if err != nil {
			fatal(err)
		}
		fmt.Println(token)
	},
}

var tokenRevokeCmd = &cobra.Command{
	Use:   "revoke <token>",
	Short: "Revoke an api token.",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		err := openKeychain().RevokeApiToken(cmd.Context(), args[0])
		if err != nil {
			fatal(err)
		}
		fmt.Println("revoked")
	},
}

var tokenListCmd = &cobra.Command{
	Use:   "list",
	Short: "List api token labels.",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		infos, err := openKeychain().ListApiTokens(cmd.Context())
		if err != nil {
			fatal(err)
		}
		t := newTable()
		t.AppendHeader(table.Row{"Label", "Created"})
		for _, info := range infos {
			t.AppendRow(table.Row{
				info.Label,
				time.Unix(info.CreatedAt, 0).Format(time.DateTime),
			})
		}
		t.Render()
	},
}
