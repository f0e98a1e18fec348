// FILE: helpers_test.go
// Package main – shared test fixtures.
package main

import (
	"testing"
	"time"
)

// testConfig returns a deterministic Config rooted in a fresh temp state dir,
// independent of the process env and of configs/risk_policy.yaml.
func testConfig(t *testing.T) Config {
	t.Helper()
	return Config{
		StateDir:                  t.TempDir(),
		BrokerMode:                BrokerModePlanOnly,
		IntentMaxAgeSec:           300,
		OpenExecTimeoutSec:        60,
		AccountEquity:             100000.0,
		MaxDefinedRiskPct:         0.02,
		RiskFreeRate:              0.04,
		DefaultIV:                 0.25,
		Limits:                    defaultLimits(),
		GateMaxUnderlierSpreadPct: 1.0,
		DeriskBufferPct:           0.90,
		DeriskMaxContracts:        500,
		DeriskMaxRounds:           5,
		Port:                      0,
		TickIntervalSec:           60,
	}
}

func stateDir(cfg Config) StateDir { return StateDir(cfg.StateDir) }

// writeMarketState installs a quote snapshot for the given underliers with a
// tight two-tick spread around each spot.
func writeMarketState(t *testing.T, sd StateDir, spots map[string]float64) {
	t.Helper()
	ms := MarketState{TS: utcISO(time.Now()), Symbols: map[string]MarketSymbol{}}
	for sym, spot := range spots {
		s := spot
		bid := spot - 0.05
		ask := spot + 0.05
		ms.Symbols[sym] = MarketSymbol{Spot: &s, SpotSrc: "TRADE", Bid: &bid, Ask: &ask}
	}
	if err := sd.WriteJSON(fileMarketState, ms); err != nil {
		t.Fatalf("write market state: %v", err)
	}
}

// writeBook installs a positions book directly (bypassing the fills log).
func writeBook(t *testing.T, sd StateDir, positions map[string]int) {
	t.Helper()
	book := PositionsBook{TS: utcISO(time.Now()), Positions: positionsFromMap(positions)}
	if err := sd.WriteJSON(filePositionsBook, book); err != nil {
		t.Fatalf("write book: %v", err)
	}
}

// writeGreeks installs a portfolio greeks snapshot directly.
func writeGreeks(t *testing.T, sd StateDir, g PortfolioGreeks) {
	t.Helper()
	if g.TS == "" {
		g.TS = utcISO(time.Now())
	}
	if err := sd.WriteJSON(filePortfolioGreek, g); err != nil {
		t.Fatalf("write greeks: %v", err)
	}
}
