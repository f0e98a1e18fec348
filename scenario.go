// FILE: scenario.go
// Package main – Shock-scenario valuation for multi-leg option structures.
//
// The gateway prices a candidate block under spot and vol shocks to find the
// worst-case loss that drives per-trade sizing. Shocks are relative for spot
// (−0.10 means −10%) and additive for vol (+0.10 means +10 vol points).
package main

// Leg is one side of an option structure. Side is +1 long, −1 short.
type Leg struct {
	K      float64 `json:"k"`
	IsCall bool    `json:"is_call"`
	Qty    int     `json:"qty"`
	Side   int     `json:"side"`
	IV     float64 `json:"iv"`
}

// ScenarioResult is one grid cell: shocked spot, vol shift, PnL vs base.
type ScenarioResult struct {
	Spot    float64 `json:"spot"`
	IVShift float64 `json:"iv"`
	PnL     float64 `json:"pnl"`
}

// structureValue returns the PV of the structure in dollars, BS on each leg.
func structureValue(S, r, T float64, legs []Leg, ivShift float64) float64 {
	total := 0.0
	for _, leg := range legs {
		sigma := leg.IV + ivShift
		if sigma < 1e-6 {
			sigma = 1e-6
		}
		px := bsPrice(S, leg.K, T, r, sigma, leg.IsCall)
		total += float64(leg.Side) * float64(leg.Qty) * contractMultiplier * px
	}
	return total
}

// scenarioGrid revalues the structure over the cross product of shocks and
// reports PnL against the unshocked base value.
func scenarioGrid(S0, r, T float64, legs []Leg, spotShocks, ivShocks []float64) []ScenarioResult {
	if len(spotShocks) == 0 {
		spotShocks = []float64{-0.10, -0.07, -0.03, -0.01, 0.0, 0.01, 0.03, 0.07, 0.10}
	}
	if len(ivShocks) == 0 {
		ivShocks = []float64{0.0, 0.05, 0.10, 0.20}
	}
	v0 := structureValue(S0, r, T, legs, 0.0)
	out := make([]ScenarioResult, 0, len(spotShocks)*len(ivShocks))
	for _, ds := range spotShocks {
		S := S0 * (1.0 + ds)
		for _, dv := range ivShocks {
			v := structureValue(S, r, T, legs, dv)
			out = append(out, ScenarioResult{Spot: S, IVShift: dv, PnL: v - v0})
		}
	}
	return out
}

// incrementalWorstLosses returns the two stress numbers the gateway sizes on:
// worst PnL over ±10% spot with no vol shock, and worst PnL over ±7% spot
// with vol +0.10.
func incrementalWorstLosses(S0, r, T float64, legs []Leg) (worstGap10, worstCombo float64) {
	worstGap10 = minPnL(scenarioGrid(S0, r, T, legs, []float64{-0.10, 0.10}, []float64{0.0}))
	worstCombo = minPnL(scenarioGrid(S0, r, T, legs, []float64{-0.07, 0.07}, []float64{0.10}))
	return worstGap10, worstCombo
}

func minPnL(grid []ScenarioResult) float64 {
	worst := grid[0].PnL
	for _, sc := range grid[1:] {
		if sc.PnL < worst {
			worst = sc.PnL
		}
	}
	return worst
}
