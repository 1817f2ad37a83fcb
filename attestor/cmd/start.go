package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/gurufinglobal/attestor/attestor/daemon"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Serve the attestation gateway until SIGINT or SIGTERM",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		d, err := daemon.New(cfg, home)
		if err != nil {
			return fmt.Errorf("assemble daemon: %w", err)
		}
		if err := d.Start(ctx); err != nil {
			return err
		}
		console.Info().
			Str("home", home).
			Str("listen", cfg.Gateway.Listen).
			Dur("run_budget", cfg.RunBudget()).
			Msg("attestord serving")

		<-ctx.Done()
		console.Info().Msg("stopping gateway; tracked transactions settle before exit")
		<-d.Done()
		return nil
	},
}

func init() {
	rootCmd.AddCommand(startCmd)
}
