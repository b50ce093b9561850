package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T, keys ...string) {
	t.Helper()
	for _, k := range keys {
		old, had := os.LookupEnv(k)
		os.Unsetenv(k)
		t.Cleanup(func() {
			if had {
				os.Setenv(k, old)
			}
		})
	}
}

func TestLoadAppliesDefaultsAndValidates(t *testing.T) {
	clearEnv(t, "SYMBOLS", "APP_ROLE", "DRY_RUN")
	os.Setenv("SYMBOLS", "btc_try,eth_try")
	os.Setenv("APP_ROLE", "MONITOR")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, []string{"BTC_TRY", "ETH_TRY"}, cfg.Symbols)
	require.True(t, cfg.DryRun, "DRY_RUN must default to true")
	require.Equal(t, RoleMonitor, cfg.Role)
}

func TestValidateRejectsEmptySymbols(t *testing.T) {
	cfg := &Config{Role: RoleMonitor, TTLSeconds: 30, MaxOrdersPerCycle: 1, MaxOpenOrdersPerSymbol: 1, StateDBPath: "x.db"}
	err := cfg.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "SYMBOLS")
}

func TestValidateRejectsInvalidRole(t *testing.T) {
	cfg := &Config{Symbols: []string{"BTCTRY"}, Role: "BOGUS", TTLSeconds: 30, MaxOrdersPerCycle: 1, MaxOpenOrdersPerSymbol: 1, StateDBPath: "x.db"}
	err := cfg.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "APP_ROLE")
}

func TestValidateRequiresCredentialsForLiveNonDryRun(t *testing.T) {
	cfg := &Config{
		Symbols: []string{"BTCTRY"}, Role: RoleLive, DryRun: false,
		TTLSeconds: 30, MaxOrdersPerCycle: 1, MaxOpenOrdersPerSymbol: 1, StateDBPath: "x.db",
	}
	err := cfg.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "EXCHANGE_API_KEY")
}
