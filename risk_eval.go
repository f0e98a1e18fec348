// FILE: risk_eval.go
// Package main – Portfolio risk evaluator.
//
// Compares the greeks totals to the hard limits and rewrites the risk mode:
//   any |total| over its limit              → HALT (breach list joined)
//   else any row with fallback-default IV  → DEGRADED
//   else                                   → NORMAL
package main

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// RiskEval is the decision breakdown written to risk_eval.json.
type RiskEval struct {
	TS                string             `json:"ts"`
	ModeDecision      RiskMode           `json:"mode_decision"`
	Reason            string             `json:"reason"`
	Limits            Limits             `json:"limits"`
	Totals            riskEvalTotals     `json:"totals"`
	Breaches          []string           `json:"breaches"`
	IVFallbackPresent bool               `json:"iv_fallback_present"`
}

type riskEvalTotals struct {
	AbsDelta float64 `json:"abs_delta"`
	AbsGamma float64 `json:"abs_gamma"`
	AbsVega  float64 `json:"abs_vega"`
	Delta    float64 `json:"delta"`
	Gamma    float64 `json:"gamma"`
	Vega     float64 `json:"vega"`
	Theta    float64 `json:"theta"`
}

// computeBreaches compares absolute totals to the limits.
func computeBreaches(t GreeksTotals, lim Limits) []string {
	var breaches []string
	if math.Abs(t.Delta) > lim.MaxAbsDelta {
		breaches = append(breaches, fmt.Sprintf("DELTA_LIMIT %.2f > %.1f", math.Abs(t.Delta), lim.MaxAbsDelta))
	}
	if math.Abs(t.Gamma) > lim.MaxAbsGamma {
		breaches = append(breaches, fmt.Sprintf("GAMMA_LIMIT %.2f > %.1f", math.Abs(t.Gamma), lim.MaxAbsGamma))
	}
	if math.Abs(t.Vega) > lim.MaxAbsVega {
		breaches = append(breaches, fmt.Sprintf("VEGA_LIMIT %.2f > %.1f", math.Abs(t.Vega), lim.MaxAbsVega))
	}
	return breaches
}

// hasIVFallback reports whether any position row carries a fallback IV source.
func hasIVFallback(g PortfolioGreeks) bool {
	for _, p := range g.Positions {
		switch strings.ToUpper(p.IVSrc) {
		case ivSourceFallback, "FALLBACK", "DEFAULT":
			return true
		}
	}
	return false
}

// evaluatePortfolioRisk reads the greeks snapshot, decides the mode, and
// atomically rewrites risk_eval.json and risk_mode.json.
func evaluatePortfolioRisk(sd StateDir, cfg Config) (RiskEval, error) {
	var g PortfolioGreeks
	if err := sd.ReadJSON(filePortfolioGreek, &g); err != nil {
		return RiskEval{}, err
	}

	breaches := computeBreaches(g.Totals, cfg.Limits)
	ivFallback := hasIVFallback(g)

	mode := ModeNormal
	reason := "OK"
	switch {
	case len(breaches) > 0:
		mode = ModeHalt
		reason = strings.Join(breaches, " | ")
	case ivFallback:
		mode = ModeDegraded
		reason = "IV_FALLBACK_DEFAULT_PRESENT"
	}

	ev := RiskEval{
		TS:           utcISO(time.Now()),
		ModeDecision: mode,
		Reason:       reason,
		Limits:       cfg.Limits,
		Totals: riskEvalTotals{
			AbsDelta: math.Abs(g.Totals.Delta),
			AbsGamma: math.Abs(g.Totals.Gamma),
			AbsVega:  math.Abs(g.Totals.Vega),
			Delta:    g.Totals.Delta,
			Gamma:    g.Totals.Gamma,
			Vega:     g.Totals.Vega,
			Theta:    g.Totals.Theta,
		},
		Breaches:          breaches,
		IVFallbackPresent: ivFallback,
	}
	if ev.Breaches == nil {
		ev.Breaches = []string{}
	}

	if err := sd.WriteJSON(fileRiskEval, ev); err != nil {
		return RiskEval{}, err
	}
	if err := setRiskMode(sd, mode, reason); err != nil {
		return RiskEval{}, err
	}
	return ev, nil
}
