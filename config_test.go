// FILE: config_test.go
// Package main – configuration layering tests.
package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writePolicy(t *testing.T, yaml string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "risk_policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))
	return path
}

func TestLoadRiskPolicy(t *testing.T) {
	path := writePolicy(t, `
account:
  equity_usd: 250000
position_limits:
  per_trade:
    max_defined_risk_pct_equity: 0.01
    max_contracts_per_order: 25
portfolio_limits:
  max_abs_delta: 150.0
  max_abs_gamma: 8.0
  max_abs_vega: 15000.0
`)
	rp, err := loadRiskPolicy(path)
	require.NoError(t, err)
	assert.Equal(t, 250000.0, rp.Account.EquityUSD)
	assert.Equal(t, 0.01, rp.PositionLimits.PerTrade.MaxDefinedRiskPctEquity)
	assert.Equal(t, 150.0, rp.PortfolioLimits.MaxAbsDelta)
}

func TestLoadRiskPolicyMissingFile(t *testing.T) {
	_, err := loadRiskPolicy(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestConfigPolicyFileThenEnvOverride(t *testing.T) {
	path := writePolicy(t, `
account:
  equity_usd: 250000
portfolio_limits:
  max_abs_delta: 150.0
`)
	t.Setenv("RISK_POLICY_FILE", path)
	t.Setenv("STATE_DIR", t.TempDir())
	t.Setenv("RISK_ACCOUNT_EQUITY", "")
	t.Setenv("RISK_MAX_ABS_DELTA", "")
	t.Setenv("BROKER_MODE", "")

	cfg := loadConfigFromEnv()
	assert.Equal(t, 250000.0, cfg.AccountEquity, "policy file beats compiled default")
	assert.Equal(t, 150.0, cfg.Limits.MaxAbsDelta)
	// untouched axes keep defaults
	assert.Equal(t, 20000.0, cfg.Limits.MaxAbsVega)
	assert.Equal(t, BrokerModePlanOnly, cfg.BrokerMode)

	t.Setenv("RISK_ACCOUNT_EQUITY", "50000")
	t.Setenv("RISK_MAX_ABS_DELTA", "99")
	cfg = loadConfigFromEnv()
	assert.Equal(t, 50000.0, cfg.AccountEquity, "env beats policy file")
	assert.Equal(t, 99.0, cfg.Limits.MaxAbsDelta)
}

func TestConfigBrokerModeNormalization(t *testing.T) {
	t.Setenv("RISK_POLICY_FILE", filepath.Join(t.TempDir(), "absent.yaml"))
	t.Setenv("BROKER_MODE", "banana")
	cfg := loadConfigFromEnv()
	assert.Equal(t, BrokerModePlanOnly, cfg.BrokerMode, "unknown modes degrade to PLAN_ONLY")

	t.Setenv("BROKER_MODE", "LIVE")
	cfg = loadConfigFromEnv()
	assert.Equal(t, BrokerModeLive, cfg.BrokerMode)
}

func TestEnvHelpers(t *testing.T) {
	t.Setenv("X_STR", "  v  ")
	assert.Equal(t, "v", getEnv("X_STR", "d"))
	assert.Equal(t, "d", getEnv("X_ABSENT", "d"))

	t.Setenv("X_INT", "42")
	assert.Equal(t, 42, getEnvInt("X_INT", 1))
	t.Setenv("X_INT", "junk")
	assert.Equal(t, 1, getEnvInt("X_INT", 1))

	t.Setenv("X_F", "2.5")
	assert.Equal(t, 2.5, getEnvFloat("X_F", 0))

	t.Setenv("X_B", "yes")
	assert.True(t, getEnvBool("X_B", false))
	t.Setenv("X_B", "0")
	assert.False(t, getEnvBool("X_B", true))
}
