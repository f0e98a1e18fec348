// FILE: dealloc.go
// Package main – Deallocator: size a resolved vertical against the portfolio
// limits.
//
// Given a gated plan whose two legs already carry greeks in the portfolio
// snapshot, find the largest spread count that keeps every portfolio total
// inside the hard limits, and publish the matching risk-mode downgrade:
// DEGRADED when a reduced size is still tradable, HALT when nothing fits.
package main

import (
	"fmt"
	"math"
	"time"
)

// DeallocPlan is the durable output of the deallocator.
type DeallocPlan struct {
	TS           string       `json:"ts"`
	Status       string       `json:"status"` // OK | CANNOT_DEALLOC
	Reason       string       `json:"reason,omitempty"`
	RequestedQty int          `json:"requested_qty"`
	AllowedQty   int          `json:"allowed_qty"`
	Limits       Limits       `json:"limits"`
	BaseTotals   GreeksTotals `json:"base_totals"`
	IncPerSpread GreeksTotals `json:"inc_per_spread"`
	Action       string       `json:"action"` // SET_QTY_TO_ALLOWED | NO_CHANGE
}

// maxQtyWithLimits finds the max integer q in [0, qtyMax] such that
// |base + q·inc| stays inside the limits on every axis. Binary search; the
// feasible set is a prefix because each axis is monotone in q.
func maxQtyWithLimits(base, inc GreeksTotals, lim Limits, qtyMax int) int {
	ok := func(q int) bool {
		fq := float64(q)
		return math.Abs(base.Delta+fq*inc.Delta) <= lim.MaxAbsDelta &&
			math.Abs(base.Gamma+fq*inc.Gamma) <= lim.MaxAbsGamma &&
			math.Abs(base.Vega+fq*inc.Vega) <= lim.MaxAbsVega
	}
	lo, hi, best := 0, qtyMax, 0
	for lo <= hi {
		mid := (lo + hi) / 2
		if ok(mid) {
			best = mid
			lo = mid + 1
		} else {
			hi = mid - 1
		}
	}
	return best
}

// perContractGreeks derives per-contract greeks from a position-weighted row.
func perContractGreeks(row GreeksRow) (GreeksTotals, error) {
	if row.NetQty == 0 {
		return GreeksTotals{}, fmt.Errorf("net_qty=0 cannot infer per-contract for %s", row.Symbol)
	}
	nq := float64(row.NetQty)
	return GreeksTotals{Delta: row.Delta / nq, Gamma: row.Gamma / nq, Vega: row.Vega / nq}, nil
}

// runDealloc sizes qtyRequested spreads of (longSym, shortSym) against the
// configured limits and republishes the risk mode accordingly.
func runDealloc(sd StateDir, cfg Config, longSym, shortSym string, qtyRequested int) (DeallocPlan, error) {
	var g PortfolioGreeks
	if err := sd.ReadJSON(filePortfolioGreek, &g); err != nil {
		return DeallocPlan{}, err
	}

	rows := map[string]GreeksRow{}
	for _, p := range g.Positions {
		rows[p.Symbol] = p
	}

	longRow, okL := rows[longSym]
	shortRow, okS := rows[shortSym]
	if !okL || !okS {
		out := DeallocPlan{
			TS:           utcISO(time.Now()),
			Status:       "CANNOT_DEALLOC",
			Reason:       "MISSING_LEG_GREEKS",
			RequestedQty: qtyRequested,
			Limits:       cfg.Limits,
			BaseTotals:   g.Totals,
		}
		return out, sd.WriteJSON(fileDeallocPlan, out)
	}

	longPC, err := perContractGreeks(longRow)
	if err != nil {
		return DeallocPlan{}, reject("dealloc: %v", err)
	}
	shortPC, err := perContractGreeks(shortRow)
	if err != nil {
		return DeallocPlan{}, reject("dealloc: %v", err)
	}

	inc := GreeksTotals{
		Delta: longPC.Delta + shortPC.Delta,
		Gamma: longPC.Gamma + shortPC.Gamma,
		Vega:  longPC.Vega + shortPC.Vega,
	}
	allowed := maxQtyWithLimits(g.Totals, inc, cfg.Limits, qtyRequested)

	action := "NO_CHANGE"
	if allowed < qtyRequested {
		action = "SET_QTY_TO_ALLOWED"
	}
	out := DeallocPlan{
		TS:           utcISO(time.Now()),
		Status:       "OK",
		RequestedQty: qtyRequested,
		AllowedQty:   allowed,
		Limits:       cfg.Limits,
		BaseTotals:   g.Totals,
		IncPerSpread: inc,
		Action:       action,
	}
	if err := sd.WriteJSON(fileDeallocPlan, out); err != nil {
		return DeallocPlan{}, err
	}

	if allowed > 0 {
		err = setRiskMode(sd, ModeDegraded, fmt.Sprintf("DEALLOC_ALLOWED_QTY=%d", allowed))
	} else {
		err = setRiskMode(sd, ModeHalt, "DEALLOC_ZERO_ALLOWED")
	}
	return out, err
}
