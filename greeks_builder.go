// FILE: greeks_builder.go
// Package main – Portfolio greeks snapshot builder.
//
// For every non-flat position: decode the OCC symbol, look up spot, solve the
// implied vol from the last known option mid (Newton, then bisection), fall
// back to the default vol when both fail, and accumulate position-weighted
// dollar greeks into portfolio totals. Mid/spread are preserved from the
// previous snapshot so the build stays consistent between option-quote
// refreshes.
package main

import (
	"time"
)

// GreeksRow is one per-position line of portfolio_greeks.json. Greeks are
// position-weighted dollars; IVSrc records provenance.
type GreeksRow struct {
	Symbol    string   `json:"symbol"`
	Underlier string   `json:"underlier"`
	Exp       string   `json:"exp"`
	IsCall    bool     `json:"is_call"`
	Strike    float64  `json:"strike"`
	Spot      *float64 `json:"spot"`
	SpotSrc   string   `json:"spot_src"`
	NetQty    int      `json:"net_qty"`
	Mid       float64  `json:"mid"`
	SprPct    float64  `json:"spr_pct"`
	IV        float64  `json:"iv"`
	IVSrc     string   `json:"iv_src"`
	Delta     float64  `json:"delta"`
	Gamma     float64  `json:"gamma"`
	Vega      float64  `json:"vega"`
	Theta     float64  `json:"theta"`
}

// GreeksTotals are the portfolio sums the risk evaluator gates on.
type GreeksTotals struct {
	Delta float64 `json:"delta"`
	Gamma float64 `json:"gamma"`
	Vega  float64 `json:"vega"`
	Theta float64 `json:"theta"`
}

// PortfolioGreeks is the durable snapshot.
type PortfolioGreeks struct {
	TS        string       `json:"ts"`
	Positions []GreeksRow  `json:"positions"`
	Totals    GreeksTotals `json:"totals"`
}

// loadPrevMids preserves last known per-symbol mid/spread across ticks.
func loadPrevMids(sd StateDir) map[string][2]float64 {
	out := map[string][2]float64{}
	var prev PortfolioGreeks
	if err := sd.ReadJSON(filePortfolioGreek, &prev); err != nil {
		return out
	}
	for _, p := range prev.Positions {
		if p.Symbol != "" {
			out[p.Symbol] = [2]float64{p.Mid, p.SprPct}
		}
	}
	return out
}

// buildPortfolioGreeks computes the snapshot as of now and writes it
// atomically. A missing positions book is NO_INPUT.
func buildPortfolioGreeks(sd StateDir, cfg Config, now time.Time) (PortfolioGreeks, error) {
	var book PositionsBook
	if err := sd.ReadJSON(filePositionsBook, &book); err != nil {
		return PortfolioGreeks{}, err
	}
	prevMids := loadPrevMids(sd)

	out := PortfolioGreeks{TS: utcISO(now)}
	for _, pos := range book.Positions {
		if pos.Symbol == "" || pos.NetQty == 0 {
			continue
		}
		occ, ok := parseOCCSymbol(pos.Symbol)
		if !ok {
			continue
		}

		ctx := readMarketCtx(sd, occ.Underlier)
		spot, spotSrc := spotForGreeks(ctx)
		T := yearfracToExpiry(occ.Exp, now)

		mid := prevMids[pos.Symbol][0]
		sprPct := prevMids[pos.Symbol][1]

		iv := ivFailed
		ivSrc := ""
		if mid > 0 && spot > 0 && T > 0 {
			iv, ivSrc = impliedVol(mid, spot, occ.Strike, T, cfg.RiskFreeRate, occ.IsCall)
		}
		if iv == ivFailed {
			iv = cfg.DefaultIV
			ivSrc = ivSourceFallback
		}

		tSafe := T
		if tSafe <= 0 {
			tSafe = 1e-9
		}
		pc := bsGreeksPerContract(spot, occ.Strike, tSafe, cfg.RiskFreeRate, iv, occ.IsCall)

		row := GreeksRow{
			Symbol:    pos.Symbol,
			Underlier: occ.Underlier,
			Exp:       occ.Exp,
			IsCall:    occ.IsCall,
			Strike:    occ.Strike,
			SpotSrc:   spotSrc,
			NetQty:    pos.NetQty,
			Mid:       mid,
			SprPct:    sprPct,
			IV:        iv,
			IVSrc:     ivSrc,
			Delta:     pc.Delta * float64(pos.NetQty),
			Gamma:     pc.Gamma * float64(pos.NetQty),
			Vega:      pc.Vega * float64(pos.NetQty),
			Theta:     pc.Theta * float64(pos.NetQty),
		}
		if spot > 0 {
			s := spot
			row.Spot = &s
		}
		out.Positions = append(out.Positions, row)

		out.Totals.Delta += row.Delta
		out.Totals.Gamma += row.Gamma
		out.Totals.Vega += row.Vega
		out.Totals.Theta += row.Theta
	}

	if err := sd.WriteJSON(filePortfolioGreek, out); err != nil {
		return PortfolioGreeks{}, err
	}
	SetPortfolioGreeksMetric(out.Totals)
	return out, nil
}
