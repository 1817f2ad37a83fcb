// Package cmd is the attestord command tree.
package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/gurufinglobal/attestor/attestor/config"
	"github.com/gurufinglobal/attestor/attestor/types"
)

const (
	homeEnv        = config.EnvPrefix + "_HOME"
	configFileName = "config.toml"
)

var (
	home string

	// console carries CLI messages; the daemon's JSON logger is built from config.
	console = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}).
		With().Timestamp().Logger()

	rootCmd = &cobra.Command{
		Use:           types.ServiceName,
		Short:         "Attestation relay daemon: verifies real-world facts and records them on-chain",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&home, "home", defaultHome(),
		"attestord home holding config.toml and relative keystore files (env "+homeEnv+")")
}

// defaultHome is $ATTESTORD_HOME, else ~/.attestord.
func defaultHome() string {
	if dir := os.Getenv(homeEnv); dir != "" {
		return dir
	}
	userHome, err := os.UserHomeDir()
	if err != nil {
		return "." + types.ServiceName
	}
	return filepath.Join(userHome, "."+types.ServiceName)
}

func configFilePath() string {
	return filepath.Join(home, configFileName)
}

// loadConfig reads and validates config.toml from an initialized home. It never creates the home.
func loadConfig() (*config.Config, error) {
	if st, err := os.Stat(home); err != nil || !st.IsDir() {
		return nil, fmt.Errorf("no %s home at %s; run `attestord init --home %s`", types.ServiceName, home, home)
	}

	path := configFilePath()
	cfg, err := config.LoadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return nil, fmt.Errorf("%s is missing; run `attestord init --home %s`", path, home)
	case err != nil:
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	return cfg, nil
}

func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		console.Error().Err(err).Msg("command failed")
		return err
	}
	return nil
}
