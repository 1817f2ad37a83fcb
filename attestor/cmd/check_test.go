package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gurufinglobal/attestor/attestor/catalog"
	"github.com/gurufinglobal/attestor/attestor/types"
)

func TestCheckCmd_ListsActions(t *testing.T) {
	setRequiredEnv(t)
	dir := t.TempDir()
	withHome(t, dir, func() {
		require.NoError(t, initCmd.RunE(initCmd, nil))

		var out bytes.Buffer
		checkCmd.SetOut(&out)
		t.Cleanup(func() { checkCmd.SetOut(nil) })

		require.NoError(t, checkCmd.RunE(checkCmd, nil))
		got := out.String()
		require.Contains(t, got, catalog.TemperatureOverThreshold)
		require.Contains(t, got, types.NewActionType(catalog.SustainableTransportDistance).Hex())
		require.Contains(t, strings.ToLower(got), "hub 0x0000000000000000000000000000000000000a11")
		require.Contains(t, got, "slowest run 1m36.65s, gateway write timeout 2m0s")
		require.NotContains(t, got, "weather-secret")
		require.NotContains(t, got, "verifier-secret")
	})
}

func TestCheckCmd_RejectsInvalidConfig(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("ATTESTORD_CHAIN_AWAIT_CONFIRMATION", "true")
	dir := t.TempDir()
	withHome(t, dir, func() {
		require.NoError(t, initCmd.RunE(initCmd, nil))

		err := checkCmd.RunE(checkCmd, nil)
		require.ErrorContains(t, err, "write_timeout_sec")
	})
}

func TestCheckCmd_RequiresHome(t *testing.T) {
	withHome(t, filepath.Join(t.TempDir(), "nope"), func() {
		err := checkCmd.RunE(checkCmd, nil)
		require.ErrorContains(t, err, "attestord init")
		_, statErr := os.Stat(home)
		require.True(t, os.IsNotExist(statErr))
	})
}
