// FILE: config.go
// Package main – Runtime configuration model and loaders.
//
// Two layers feed the runtime knobs:
//   1) configs/risk_policy.yaml (optional) – account equity, per-trade sizing
//      policy, and hard portfolio greek limits.
//   2) Environment variables – operational toggles and overrides. Env wins
//      over the policy file, which wins over compiled defaults.
//
// Typical flow (see main.go):
//   loadGovEnv()
//   cfg := loadConfigFromEnv()
package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Limits are the hard portfolio greek limits enforced by the risk evaluator.
type Limits struct {
	MaxAbsDelta float64 `json:"max_abs_delta" yaml:"max_abs_delta"`
	MaxAbsGamma float64 `json:"max_abs_gamma" yaml:"max_abs_gamma"`
	MaxAbsVega  float64 `json:"max_abs_vega" yaml:"max_abs_vega"`
}

func defaultLimits() Limits {
	return Limits{MaxAbsDelta: 200.0, MaxAbsGamma: 10.0, MaxAbsVega: 20000.0}
}

// Config holds all runtime knobs for the governor and OMS.
type Config struct {
	// State plumbing
	StateDir string // e.g., "state"

	// Broker / execution
	BrokerMode         string // PLAN_ONLY | LIVE
	IntentMaxAgeSec    int    // close-intent freshness window
	OpenExecTimeoutSec int    // wall-clock budget for the OPEN state machine

	// Risk policy
	AccountEquity     float64
	MaxDefinedRiskPct float64
	RiskFreeRate      float64
	DefaultIV         float64
	Limits            Limits

	// Gateway
	GateMaxUnderlierSpreadPct float64

	// De-risk
	DeriskBufferPct    float64
	DeriskMaxContracts int
	DeriskMaxRounds    int

	// Ops
	Port            int
	TickIntervalSec int
}

// riskPolicyFile mirrors configs/risk_policy.yaml.
type riskPolicyFile struct {
	Account struct {
		EquityUSD float64 `yaml:"equity_usd"`
	} `yaml:"account"`
	PositionLimits struct {
		PerTrade struct {
			MaxDefinedRiskPctEquity float64 `yaml:"max_defined_risk_pct_equity"`
			MaxContractsPerOrder    int     `yaml:"max_contracts_per_order"`
		} `yaml:"per_trade"`
	} `yaml:"position_limits"`
	PortfolioLimits Limits `yaml:"portfolio_limits"`
}

// loadRiskPolicy parses the optional YAML policy file.
func loadRiskPolicy(path string) (*riskPolicyFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read risk policy: %w", err)
	}
	var rp riskPolicyFile
	if err := yaml.Unmarshal(data, &rp); err != nil {
		return nil, fmt.Errorf("parse risk policy YAML: %w", err)
	}
	return &rp, nil
}

// loadConfigFromEnv builds the runtime Config: defaults, then the policy file
// named by RISK_POLICY_FILE (if readable), then env overrides.
func loadConfigFromEnv() Config {
	cfg := Config{
		StateDir:                  getEnv("STATE_DIR", "state"),
		BrokerMode:                getEnv("BROKER_MODE", BrokerModePlanOnly),
		IntentMaxAgeSec:           getEnvInt("OMS_INTENT_MAX_AGE_SEC", 300),
		OpenExecTimeoutSec:        getEnvInt("OMS_OPEN_TIMEOUT_SEC", 60),
		AccountEquity:             100000.0,
		MaxDefinedRiskPct:         0.02,
		RiskFreeRate:              getEnvFloat("RISK_FREE_RATE", 0.03),
		DefaultIV:                 getEnvFloat("RISK_DEFAULT_IV", 0.25),
		Limits:                    defaultLimits(),
		GateMaxUnderlierSpreadPct: getEnvFloat("GATE_MAX_UNDERLIER_SPREAD_PCT", 1.0),
		DeriskBufferPct:           getEnvFloat("DERISK_BUFFER_PCT", 0.90),
		DeriskMaxContracts:        getEnvInt("DERISK_MAX_CONTRACTS_TO_CLOSE", 500),
		DeriskMaxRounds:           getEnvInt("DERISK_MAX_ROUNDS", 5),
		Port:                      getEnvInt("PORT", 8080),
		TickIntervalSec:           getEnvInt("TICK_INTERVAL_SEC", 60),
	}

	if rp, err := loadRiskPolicy(getEnv("RISK_POLICY_FILE", "configs/risk_policy.yaml")); err == nil {
		if rp.Account.EquityUSD > 0 {
			cfg.AccountEquity = rp.Account.EquityUSD
		}
		if rp.PositionLimits.PerTrade.MaxDefinedRiskPctEquity > 0 {
			cfg.MaxDefinedRiskPct = rp.PositionLimits.PerTrade.MaxDefinedRiskPctEquity
		}
		if rp.PortfolioLimits.MaxAbsDelta > 0 {
			cfg.Limits.MaxAbsDelta = rp.PortfolioLimits.MaxAbsDelta
		}
		if rp.PortfolioLimits.MaxAbsGamma > 0 {
			cfg.Limits.MaxAbsGamma = rp.PortfolioLimits.MaxAbsGamma
		}
		if rp.PortfolioLimits.MaxAbsVega > 0 {
			cfg.Limits.MaxAbsVega = rp.PortfolioLimits.MaxAbsVega
		}
	}

	// Env overrides (highest priority).
	cfg.AccountEquity = getEnvFloat("RISK_ACCOUNT_EQUITY", cfg.AccountEquity)
	cfg.MaxDefinedRiskPct = getEnvFloat("RISK_MAX_DEFINED_RISK_PCT", cfg.MaxDefinedRiskPct)
	cfg.Limits.MaxAbsDelta = getEnvFloat("RISK_MAX_ABS_DELTA", cfg.Limits.MaxAbsDelta)
	cfg.Limits.MaxAbsGamma = getEnvFloat("RISK_MAX_ABS_GAMMA", cfg.Limits.MaxAbsGamma)
	cfg.Limits.MaxAbsVega = getEnvFloat("RISK_MAX_ABS_VEGA", cfg.Limits.MaxAbsVega)

	if cfg.BrokerMode != BrokerModeLive {
		cfg.BrokerMode = BrokerModePlanOnly
	}
	return cfg
}
