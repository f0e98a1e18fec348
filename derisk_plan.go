// FILE: derisk_plan.go
// Package main – Greedy de-risk planner.
//
// When the portfolio totals sit outside the buffered target band, the planner
// synthesizes the smallest sequence of single-contract reduce-only closes
// that walks the totals back inside. Each step closes one contract of the
// position with the highest limit-violation reduction score:
//
//   s = 5·vega_over·vega_red + 3·gamma_over·gamma_red + 1·delta_over·delta_red
//
// The vega term dominates because vega is carried per 1.00 vol; re-weight the
// score if that convention ever changes.
package main

import (
	"math"
	"sort"
	"time"
)

// DeriskAction is one aggregated close instruction.
type DeriskAction struct {
	Symbol    string `json:"symbol"`
	CloseSide string `json:"close_side"` // SELL closes longs, BUY closes shorts
	Qty       int    `json:"qty"`
}

// DeriskPlan is the durable planner output.
type DeriskPlan struct {
	TS           string         `json:"ts"`
	Status       string         `json:"status"` // NO_ACTION | OK | PARTIAL
	Reason       string         `json:"reason,omitempty"`
	HardLimits   Limits         `json:"hard_limits"`
	TargetLimits Limits         `json:"target_limits"`
	BufferPct    float64        `json:"buffer_pct"`
	StartTotals  GreeksTotals   `json:"start_totals"`
	EndTotals    GreeksTotals   `json:"end_totals"`
	Actions      []DeriskAction `json:"actions"`
}

func sgn(x int) int {
	switch {
	case x > 0:
		return 1
	case x < 0:
		return -1
	default:
		return 0
	}
}

// bufferedLimits scales the hard limits down to the target band.
func bufferedLimits(lim Limits, bufferPct float64) Limits {
	return Limits{
		MaxAbsDelta: lim.MaxAbsDelta * bufferPct,
		MaxAbsGamma: lim.MaxAbsGamma * bufferPct,
		MaxAbsVega:  lim.MaxAbsVega * bufferPct,
	}
}

func withinLimits(t GreeksTotals, lim Limits) bool {
	return math.Abs(t.Delta) <= lim.MaxAbsDelta &&
		math.Abs(t.Gamma) <= lim.MaxAbsGamma &&
		math.Abs(t.Vega) <= lim.MaxAbsVega
}

// deriskRow is the planner's mutable working copy of a greeks row.
type deriskRow struct {
	symbol string
	netQty int
	delta  float64
	gamma  float64
	vega   float64
}

// perContract derives per-contract greeks from a position-weighted row.
// Rows with netQty=0 never enter the working set.
func (r *deriskRow) perContract() (d, g, v float64) {
	nq := float64(r.netQty)
	return r.delta / nq, r.gamma / nq, r.vega / nq
}

// closeOneEffect is the change to the totals from closing one contract.
// Long positions subtract their per-contract greeks, shorts add them; either
// way the affected axes move toward zero.
func (r *deriskRow) closeOneEffect() (d, g, v float64) {
	pd, pg, pv := r.perContract()
	dir := float64(sgn(r.netQty))
	return -pd * dir, -pg * dir, -pv * dir
}

// scoreRow ranks rows by weighted overshoot reduction against the target.
func scoreRow(r *deriskRow, t GreeksTotals, target Limits) float64 {
	dOver := math.Max(0, math.Abs(t.Delta)-target.MaxAbsDelta)
	gOver := math.Max(0, math.Abs(t.Gamma)-target.MaxAbsGamma)
	vOver := math.Max(0, math.Abs(t.Vega)-target.MaxAbsVega)

	ed, eg, ev := r.closeOneEffect()
	red := func(x, dx float64) float64 { return math.Max(0, math.Abs(x)-math.Abs(x+dx)) }

	return 5.0*vOver*red(t.Vega, ev) + 3.0*gOver*red(t.Gamma, eg) + 1.0*dOver*red(t.Delta, ed)
}

// buildDeriskPlan runs the greedy loop over the current greeks snapshot and
// writes derisk_plan.json.
func buildDeriskPlan(sd StateDir, cfg Config) (DeriskPlan, error) {
	var g PortfolioGreeks
	if err := sd.ReadJSON(filePortfolioGreek, &g); err != nil {
		return DeriskPlan{}, err
	}

	target := bufferedLimits(cfg.Limits, cfg.DeriskBufferPct)
	totals := g.Totals
	plan := DeriskPlan{
		TS:           utcISO(time.Now()),
		HardLimits:   cfg.Limits,
		TargetLimits: target,
		BufferPct:    cfg.DeriskBufferPct,
		StartTotals:  g.Totals,
		Actions:      []DeriskAction{},
	}

	if withinLimits(totals, target) {
		plan.Status = "NO_ACTION"
		plan.Reason = "WITHIN_TARGET_LIMITS"
		plan.EndTotals = totals
		return plan, sd.WriteJSON(fileDeriskPlan, plan)
	}

	work := map[string]*deriskRow{}
	for _, p := range g.Positions {
		if p.NetQty == 0 {
			continue
		}
		work[p.Symbol] = &deriskRow{symbol: p.Symbol, netQty: p.NetQty, delta: p.Delta, gamma: p.Gamma, vega: p.Vega}
	}
	qtyBySide := map[[2]string]int{}

	closed := 0
	for closed < cfg.DeriskMaxContracts && !withinLimits(totals, target) && len(work) > 0 {
		var best *deriskRow
		bestScore := 0.0
		// deterministic tie-break on symbol order
		syms := make([]string, 0, len(work))
		for s := range work {
			syms = append(syms, s)
		}
		sort.Strings(syms)
		for _, s := range syms {
			r := work[s]
			if sc := scoreRow(r, totals, target); sc > bestScore {
				best, bestScore = r, sc
			}
		}
		if best == nil {
			break
		}

		closeSide := "SELL"
		if best.netQty < 0 {
			closeSide = "BUY"
		}
		ed, eg, ev := best.closeOneEffect()
		totals.Delta += ed
		totals.Gamma += eg
		totals.Vega += ev

		dir := sgn(best.netQty)
		// shrink the position-weighted greeks alongside the qty so the
		// per-contract view stays constant
		pd, pg, pv := best.perContract()
		best.netQty -= dir
		best.delta = pd * float64(best.netQty)
		best.gamma = pg * float64(best.netQty)
		best.vega = pv * float64(best.netQty)

		qtyBySide[[2]string{best.symbol, closeSide}]++
		if best.netQty == 0 {
			delete(work, best.symbol)
		}
		closed++
	}

	for key, q := range qtyBySide {
		plan.Actions = append(plan.Actions, DeriskAction{Symbol: key[0], CloseSide: key[1], Qty: q})
	}
	sort.Slice(plan.Actions, func(i, j int) bool {
		if plan.Actions[i].Symbol != plan.Actions[j].Symbol {
			return plan.Actions[i].Symbol < plan.Actions[j].Symbol
		}
		return plan.Actions[i].CloseSide < plan.Actions[j].CloseSide
	})

	if withinLimits(totals, target) {
		plan.Status = "OK"
	} else {
		plan.Status = "PARTIAL"
	}
	plan.EndTotals = totals
	AddDeriskContractsPlanned(closed)
	return plan, sd.WriteJSON(fileDeriskPlan, plan)
}
