// FILE: oms_vertical.go
// Package main – Two-leg OPEN fill state machine.
//
//	INIT → SUBMIT_LONG → SUBMIT_SHORT → DONE
//	  ↓        ↓              ↓
//	 HALT     FAIL           FAIL
//
// Exits to HALT when the risk mode flips to HALT mid-flight, and to FAIL on
// LIVE-disabled or timeout. A durable snapshot lands before every transition
// so a crash resumes observably. In PLAN_ONLY each leg becomes a simulated
// ledger fill at its Black–Scholes value; this path is the sole writer of
// open fills.
package main

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// OmsVerticalState values.
const (
	VertInit        = "INIT"
	VertSubmitLong  = "SUBMIT_LONG"
	VertSubmitShort = "SUBMIT_SHORT"
	VertDone        = "DONE"
	VertHalt        = "HALT"
	VertFail        = "FAIL"
)

// vertLeg is one working leg of the machine. OrderID is the client order id
// stamped at creation; simulated fills reuse it the way a venue echo would.
type vertLeg struct {
	Symbol  string  `json:"symbol"`
	Qty     int     `json:"qty"`
	Limit   float64 `json:"limit"`
	OrderID string  `json:"order_id"`
}

// OmsVerticalSnapshot is the durable per-transition state.
type OmsVerticalSnapshot struct {
	TS          string   `json:"ts"`
	Mode        string   `json:"mode"`
	RiskMode    RiskMode `json:"risk_mode"`
	State       string   `json:"state"`
	ElapsedSec  int      `json:"elapsed_sec"`
	FilledLong  int      `json:"filled_long"`
	FilledShort int      `json:"filled_short"`
	Long        vertLeg  `json:"long"`
	Short       vertLeg  `json:"short"`
	Reason      string   `json:"reason,omitempty"`
}

// legLimitPrice prices a leg at its model value: the MID_THEN_STEP proxy used
// for simulated fills.
func legLimitPrice(plan OrderPlan, K, iv float64) float64 {
	spot := 0.0
	if plan.SpotUsed != nil {
		spot = *plan.SpotUsed
	}
	T := float64(plan.DTEDays) / 365.0
	return bsPrice(spot, K, T, 0.0, iv, plan.IsCall)
}

// runVerticalOMS walks the two-leg machine for the current open intent.
// Returns the final snapshot; the intent itself is left to the OPEN executor.
func runVerticalOMS(ctx context.Context, sd StateDir, cfg Config, broker Broker, jr *Journal) (OmsVerticalSnapshot, error) {
	var intent OpenIntent
	if err := sd.ReadJSON(fileOpenIntent, &intent); err != nil {
		return OmsVerticalSnapshot{}, err
	}
	if intent.OrderPlan == nil {
		snap := OmsVerticalSnapshot{TS: utcISO(time.Now()), Mode: broker.Mode(), State: VertFail, Reason: "PLAN_NOT_READY"}
		return snap, sd.WriteJSON(fileOmsState, snap)
	}
	plan := *intent.OrderPlan

	resolved, err := broker.ResolveVertical(ctx, plan)
	if err != nil {
		snap := OmsVerticalSnapshot{TS: utcISO(time.Now()), Mode: broker.Mode(), State: VertFail, Reason: "RESOLVE_FAILED:" + err.Error()}
		return snap, sd.WriteJSON(fileOmsState, snap)
	}

	long := vertLeg{
		Symbol: resolved.LongSymbol, Qty: plan.Qty,
		Limit: legLimitPrice(plan, plan.KLong, plan.IVLong), OrderID: uuid.New().String(),
	}
	short := vertLeg{
		Symbol: resolved.ShortSymbol, Qty: plan.Qty,
		Limit: legLimitPrice(plan, plan.KShort, plan.IVShort), OrderID: uuid.New().String(),
	}

	state := VertInit
	start := time.Now()
	filledLong, filledShort := 0, 0
	reason := ""

	for {
		elapsed := int(time.Since(start).Seconds())
		rm := getRiskMode(sd)

		switch {
		case rm.Mode == ModeHalt:
			state = VertHalt
			reason = "RISK_MODE_HALT"
		case elapsed > cfg.OpenExecTimeoutSec:
			state = VertFail
			reason = "TIMEOUT"
		}

		snap := OmsVerticalSnapshot{
			TS:          utcISO(time.Now()),
			Mode:        broker.Mode(),
			RiskMode:    rm.Mode,
			State:       state,
			ElapsedSec:  elapsed,
			FilledLong:  filledLong,
			FilledShort: filledShort,
			Long:        long,
			Short:       short,
			Reason:      reason,
		}
		if err := sd.WriteJSON(fileOmsState, snap); err != nil {
			return OmsVerticalSnapshot{}, err
		}

		if state == VertDone || state == VertFail || state == VertHalt {
			jr.Append(mkEvent(intent.Type, intent.TS, "VERTICAL_OMS", state == VertDone, broker.Mode(), reason,
				map[string]any{"filled_long": filledLong, "filled_short": filledShort}))
			return snap, nil
		}

		switch state {
		case VertInit:
			state = VertSubmitLong

		case VertSubmitLong:
			if broker.Mode() != BrokerModePlanOnly {
				state = VertFail
				reason = "LIVE_MODE_NOT_ENABLED"
				continue
			}
			filledLong = long.Qty
			if _, err := recordFill(sd, long.Symbol, filledLong, "BUY", long.Limit, "OMS_LONG_FILL_SIM"); err != nil {
				return OmsVerticalSnapshot{}, err
			}
			state = VertSubmitShort

		case VertSubmitShort:
			if broker.Mode() != BrokerModePlanOnly {
				state = VertFail
				reason = "LIVE_MODE_NOT_ENABLED"
				continue
			}
			filledShort = filledLong
			if _, err := recordFill(sd, short.Symbol, filledShort, "SELL", short.Limit, "OMS_SHORT_FILL_SIM"); err != nil {
				return OmsVerticalSnapshot{}, err
			}
			state = VertDone
		}
	}
}
