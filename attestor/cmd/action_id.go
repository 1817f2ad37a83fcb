package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/gurufinglobal/attestor/attestor/catalog"
	"github.com/gurufinglobal/attestor/attestor/types"
)

var actionIDCmd = &cobra.Command{
	Use:   "action-id [name]",
	Short: "Print the ledger ActionType of an action name",
	Long:  "Print the ledger ActionType (keccak256 of the name). Without arguments every built-in action is listed.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		if len(args) == 1 {
			name := strings.TrimSpace(args[0])
			if name == "" {
				return fmt.Errorf("action name is empty")
			}
			fmt.Fprintln(out, types.NewActionType(name).Hex())
			return nil
		}

		for _, name := range catalog.Builtins() {
			fmt.Fprintf(out, "%s\t%s\n", name, types.NewActionType(name).Hex())
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(actionIDCmd)
}
