package cmd

import (
	"sync"
	"testing"
)

var homeMu sync.Mutex

func withHome(t *testing.T, dir string, fn func()) {
	t.Helper()
	homeMu.Lock()
	defer homeMu.Unlock()

	prev := home
	home = dir
	t.Cleanup(func() { home = prev })

	fn()
}

// setRequiredEnv supplies the values a default config.toml leaves empty.
func setRequiredEnv(t *testing.T) {
	t.Setenv("ATTESTORD_KEY_PRIVATE_KEY", "00")
	t.Setenv("ATTESTORD_SOURCE_API_KEY", "weather-secret")
	t.Setenv("ATTESTORD_VERIFIER_API_KEY", "verifier-secret")
	t.Setenv("ATTESTORD_CHAIN_HUB_ADDRESS", "0x0000000000000000000000000000000000000a11")
	t.Setenv("ATTESTORD_CHAIN_LEDGER_ADDRESS", "0x0000000000000000000000000000000000000b22")
}
