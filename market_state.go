// FILE: market_state.go
// Package main – Reader for the market-data snapshot.
//
// market_state.json is produced by the external market-data ingest. The core
// only ever reads it; unknown fields are ignored for forward compatibility.
package main

import "math"

// MarketSymbol is the per-underlier quote context.
type MarketSymbol struct {
	Spot           *float64 `json:"spot"`
	SpotSrc        string   `json:"spot_src"`
	Bid            *float64 `json:"bid"`
	Ask            *float64 `json:"ask"`
	QuoteSpreadPct *float64 `json:"quote_spread_pct"`
	ChainContracts *int     `json:"chain_contracts"`
}

// MarketState is the full snapshot file.
type MarketState struct {
	TS      string                  `json:"ts"`
	Symbols map[string]MarketSymbol `json:"symbols"`
}

// UnderlierCtx is the normalized view consumed by the gateway and the greeks
// builder: spread recomputed from bid/ask when both are present.
type UnderlierCtx struct {
	Spot           *float64
	SpotSrc        string
	Bid            *float64
	Ask            *float64
	QuoteSpreadPct *float64
	ChainContracts *int
}

// readMarketCtx returns the quote context for one underlier. A missing file
// or unknown symbol yields an empty context (SpotSrc "NONE"), not an error.
func readMarketCtx(sd StateDir, underlier string) UnderlierCtx {
	var ms MarketState
	if err := sd.ReadJSON(fileMarketState, &ms); err != nil {
		return UnderlierCtx{SpotSrc: "NONE"}
	}
	sym, ok := ms.Symbols[underlier]
	if !ok {
		return UnderlierCtx{SpotSrc: "NONE"}
	}

	ctx := UnderlierCtx{
		Spot:           sanitizeFloat(sym.Spot),
		SpotSrc:        sym.SpotSrc,
		Bid:            sanitizeFloat(sym.Bid),
		Ask:            sanitizeFloat(sym.Ask),
		ChainContracts: sym.ChainContracts,
	}
	if ctx.SpotSrc == "" {
		ctx.SpotSrc = "NONE"
	}
	if ctx.Bid != nil && ctx.Ask != nil && *ctx.Bid > 0 && *ctx.Ask > 0 && *ctx.Ask >= *ctx.Bid {
		mid := 0.5 * (*ctx.Bid + *ctx.Ask)
		if mid > 0 {
			spr := (*ctx.Ask - *ctx.Bid) / mid * 100.0
			ctx.QuoteSpreadPct = &spr
		}
	}
	return ctx
}

// spotForGreeks picks the spot the greeks builder should price against:
// quote mid when the spread is tight (≤ 2%), else the reported trade spot.
func spotForGreeks(ctx UnderlierCtx) (float64, string) {
	if ctx.Bid != nil && ctx.Ask != nil && ctx.QuoteSpreadPct != nil && *ctx.QuoteSpreadPct <= 2.0 {
		return 0.5 * (*ctx.Bid + *ctx.Ask), "MID"
	}
	if ctx.Spot != nil && *ctx.Spot > 0 {
		src := ctx.SpotSrc
		if src == "" || src == "NONE" {
			src = "TRADE"
		}
		return *ctx.Spot, src
	}
	return 0, "NONE"
}

func sanitizeFloat(p *float64) *float64 {
	if p == nil || math.IsNaN(*p) || math.IsInf(*p, 0) {
		return nil
	}
	return p
}
