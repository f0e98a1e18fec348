// FILE: gateway.go
// Package main – Pre-trade gateway: liquidity gate + per-trade risk sizing.
//
// The gateway turns a strategy intent (a call/put vertical) into a gated
// order plan. Order of checks matters: the underlier quote is validated
// before any risk work, then the requested block is stress-priced over the
// gap (−10% spot) and combo (−7% spot, +10 vol points) scenarios, and the
// worst loss is sized against the defined-risk budget.
package main

import (
	"fmt"
	"time"
)

// VerticalIntent is the strategy-layer request for a two-leg vertical.
type VerticalIntent struct {
	Underlier    string  `json:"underlier"`
	IsCall       bool    `json:"is_call"`
	KLong        float64 `json:"k_long"`
	KShort       float64 `json:"k_short"`
	DTEDays      int     `json:"dte_days"`
	QtyRequested int     `json:"qty_requested"`
	R            float64 `json:"r"`
	IVLong       float64 `json:"iv_long"`
	IVShort      float64 `json:"iv_short"`
	Tag          string  `json:"tag"`
}

// OrderPlan is the broker-facing plan for an allowed candidate.
type OrderPlan struct {
	Type       string   `json:"type"` // VERTICAL
	Underlier  string   `json:"underlier"`
	IsCall     bool     `json:"is_call"`
	KLong      float64  `json:"K_long"`
	KShort     float64  `json:"K_short"`
	DTEDays    int      `json:"dte_days"`
	Qty        int      `json:"qty"`
	IVLong     float64  `json:"iv_long"`
	IVShort    float64  `json:"iv_short"`
	LimitLogic string   `json:"limit_logic"`
	Tag        string   `json:"tag"`
	SpotUsed   *float64 `json:"spot_used"`
	SpotSrc    string   `json:"spot_src"`
}

// GateDecision carries the sizing verdict and stress numbers for one block.
type GateDecision struct {
	Allow          bool     `json:"allow"`
	MaxContracts   int      `json:"max_contracts"`
	Reasons        []string `json:"reasons"`
	WorstPnLGap10  *float64 `json:"worst_pnl_gap10"`
	WorstPnLCombo  *float64 `json:"worst_pnl_combo"`
}

// GateCandidate is one gated plan in gate_out.json.
type GateCandidate struct {
	Allow     bool         `json:"allow"`
	OrderPlan *OrderPlan   `json:"order_plan"`
	Decision  GateDecision `json:"decision"`
}

// GateOut is the full gateway output file.
type GateOut struct {
	TS  string                   `json:"ts"`
	Out map[string]GateCandidate `json:"out"`
}

// validateUnderlierLiquidity applies the basic underlier sanity filter.
func validateUnderlierLiquidity(ctx UnderlierCtx, maxSpreadPct float64) []string {
	var reasons []string
	switch {
	case ctx.Bid == nil || ctx.Ask == nil:
		reasons = append(reasons, "NO_UNDERLIER_QUOTE")
	case *ctx.Bid <= 0 || *ctx.Ask <= 0 || *ctx.Ask < *ctx.Bid:
		reasons = append(reasons, "BAD_UNDERLIER_QUOTE")
	case ctx.QuoteSpreadPct != nil && *ctx.QuoteSpreadPct > maxSpreadPct:
		reasons = append(reasons, "WIDE_UNDERLIER_QUOTE_SPREAD")
	}
	return reasons
}

// decideVertical stress-prices the requested block and sizes it against the
// per-trade defined-risk budget.
func decideVertical(cfg Config, intent VerticalIntent, spot float64) GateDecision {
	T := float64(intent.DTEDays) / 365.0
	if T < 1e-6 {
		T = 1e-6
	}
	r := intent.R
	if r == 0 {
		r = cfg.RiskFreeRate
	}

	legs := []Leg{
		{K: intent.KLong, IsCall: intent.IsCall, Qty: intent.QtyRequested, Side: +1, IV: intent.IVLong},
		{K: intent.KShort, IsCall: intent.IsCall, Qty: intent.QtyRequested, Side: -1, IV: intent.IVShort},
	}

	worstGap, worstCombo := incrementalWorstLosses(spot, r, T, legs)
	worst := worstGap
	if worstCombo < worst {
		worst = worstCombo
	}

	d := GateDecision{
		Reasons:       []string{},
		WorstPnLGap10: &worstGap,
		WorstPnLCombo: &worstCombo,
	}

	lossMag := -worst
	if lossMag <= 0 {
		d.Allow = true
		d.MaxContracts = intent.QtyRequested
		return d
	}

	budget := cfg.AccountEquity * cfg.MaxDefinedRiskPct
	maxContracts := int(budget / lossMag)
	if maxContracts <= 0 {
		d.Reasons = append(d.Reasons, "SIZING_TO_ZERO_BY_LIMITS")
		d.MaxContracts = 0
		return d
	}
	if maxContracts > intent.QtyRequested {
		maxContracts = intent.QtyRequested
	}
	d.Allow = true
	d.MaxContracts = maxContracts
	return d
}

// buildVerticalPlan gates one intent: liquidity first, sizing second.
func buildVerticalPlan(sd StateDir, cfg Config, intent VerticalIntent) GateCandidate {
	ctx := readMarketCtx(sd, intent.Underlier)

	if liqReasons := validateUnderlierLiquidity(ctx, cfg.GateMaxUnderlierSpreadPct); len(liqReasons) > 0 {
		return GateCandidate{
			Decision: GateDecision{Reasons: liqReasons},
		}
	}

	spot, spotSrc := spotForGreeks(ctx)
	d := decideVertical(cfg, intent, spot)
	if !d.Allow {
		return GateCandidate{Decision: d}
	}

	qty := intent.QtyRequested
	if d.MaxContracts < qty {
		qty = d.MaxContracts
	}
	plan := OrderPlan{
		Type:       "VERTICAL",
		Underlier:  intent.Underlier,
		IsCall:     intent.IsCall,
		KLong:      intent.KLong,
		KShort:     intent.KShort,
		DTEDays:    intent.DTEDays,
		Qty:        qty,
		IVLong:     intent.IVLong,
		IVShort:    intent.IVShort,
		LimitLogic: "MID_THEN_STEP",
		Tag:        intent.Tag,
		SpotSrc:    spotSrc,
	}
	if spot > 0 {
		s := spot
		plan.SpotUsed = &s
	}
	return GateCandidate{Allow: true, OrderPlan: &plan, Decision: d}
}

// demoIntents are the built-in strategy stand-ins; qty is env-tunable so the
// same binary can drive different block sizes without a strategy layer.
func demoIntents(cfg Config) map[string]VerticalIntent {
	return map[string]VerticalIntent{
		"demo_qqq": {
			Underlier: "QQQ", IsCall: true, KLong: 600, KShort: 610, DTEDays: 30,
			QtyRequested: getEnvInt("DEMO_QQQ_QTY", 10),
			R:            cfg.RiskFreeRate, IVLong: 0.22, IVShort: 0.22,
			Tag: "LIVE_QQQ_GATE",
		},
		"demo_spy": {
			Underlier: "SPY", IsCall: true, KLong: 680, KShort: 690, DTEDays: 30,
			QtyRequested: getEnvInt("DEMO_SPY_QTY", 5),
			R:            cfg.RiskFreeRate, IVLong: 0.20, IVShort: 0.20,
			Tag: "LIVE_SPY_GATE",
		},
	}
}

// runGateway gates every candidate intent and writes gate_out.json.
func runGateway(sd StateDir, cfg Config, intents map[string]VerticalIntent) (GateOut, error) {
	out := GateOut{TS: utcISO(time.Now()), Out: map[string]GateCandidate{}}
	for name, intent := range intents {
		if intent.QtyRequested <= 0 {
			return GateOut{}, reject("gateway: candidate %s has qty_requested=%d", name, intent.QtyRequested)
		}
		out.Out[name] = buildVerticalPlan(sd, cfg, intent)
	}
	if err := sd.WriteJSON(fileGateOut, out); err != nil {
		return GateOut{}, fmt.Errorf("gateway write: %w", err)
	}
	return out, nil
}
