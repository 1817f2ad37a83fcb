package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/gurufinglobal/attestor/attestor/config"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default config.toml into the attestord home",
	Long: `Write a default config.toml into the attestord home.

The file carries no secrets or contract addresses. Fill in chain.hub_address and
chain.ledger_address, then supply the signing key and API keys in the file or as
ATTESTORD_KEY_PRIVATE_KEY, ATTESTORD_SOURCE_API_KEY and ATTESTORD_VERIFIER_API_KEY.
An existing config.toml is kept unless --force is given.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		force, err := cmd.Flags().GetBool("force")
		if err != nil {
			return err
		}

		if err := os.MkdirAll(home, 0o700); err != nil {
			return fmt.Errorf("create home %s: %w", home, err)
		}

		path := configFilePath()
		if _, err := os.Stat(path); err == nil && !force {
			console.Info().Str("path", path).Msg("config.toml exists, keeping it (use --force to rewrite)")
			return nil
		}

		if err := config.WriteDefaultFile(path); err != nil {
			return err
		}
		console.Info().Str("path", path).Msg("wrote default config; set contract addresses and secrets, then run `attestord check`")
		return nil
	},
}

func init() {
	initCmd.Flags().Bool("force", false, "overwrite an existing config.toml with defaults")
	rootCmd.AddCommand(initCmd)
}
