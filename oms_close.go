// FILE: oms_close.go
// Package main – CLOSE executor: reduce-only validation + fill application.
//
// Holds oms_close.lock for the whole batch. Checks, in order: mode permits
// closes, intent freshness, nonempty actions. Actions are normalized
// (aggregated by symbol+side, sorted) and the entire batch is validated
// reduce-only before anything is applied — one violation rejects everything.
// A stale intent is retained for audit; a consumed intent is deleted only
// after the rewritten positions book has landed.
package main

import (
	"fmt"
	"sort"
	"time"

	"github.com/relvacode/iso8601"
)

// CloseStep records one applied (or simulated) close fill.
type CloseStep struct {
	TS         string   `json:"ts"`
	Symbol     string   `json:"symbol"`
	Side       string   `json:"side"`
	Qty        int      `json:"qty"`
	PriceProxy *float64 `json:"price_proxy"`
	Result     string   `json:"result"`
}

// OmsCloseState is the per-run state of the close executor.
type OmsCloseState struct {
	TS              string         `json:"ts"`
	Mode            string         `json:"mode"`
	RiskMode        RiskMode       `json:"risk_mode"`
	State           string         `json:"state"` // LOCKED | HALT | NO_INTENT | REJECT | DONE
	Reason          string         `json:"reason,omitempty"`
	Breaches        []string       `json:"breaches,omitempty"`
	Steps           []CloseStep    `json:"steps"`
	IntentTS        string         `json:"intent_ts,omitempty"`
	IntentAgeSec    int            `json:"intent_age_sec,omitempty"`
	PositionsBefore []Position     `json:"positions_before,omitempty"`
	PositionsAfter  []Position     `json:"positions_after,omitempty"`
	Actions         []DeriskAction `json:"actions,omitempty"`
}

// normalizeActions aggregates by (symbol, side) and sorts, dropping garbage.
func normalizeActions(actions []DeriskAction) []DeriskAction {
	agg := map[[2]string]int{}
	for _, a := range actions {
		if a.Symbol == "" || a.Qty <= 0 {
			continue
		}
		if a.CloseSide != "BUY" && a.CloseSide != "SELL" {
			continue
		}
		agg[[2]string{a.Symbol, a.CloseSide}] += a.Qty
	}
	out := make([]DeriskAction, 0, len(agg))
	for k, q := range agg {
		out = append(out, DeriskAction{Symbol: k[0], CloseSide: k[1], Qty: q})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Symbol != out[j].Symbol {
			return out[i].Symbol < out[j].Symbol
		}
		return out[i].CloseSide < out[j].CloseSide
	})
	return out
}

// validateReduceOnly checks every action against the current net positions:
//
//	net > 0: SELL only, qty ≤ net
//	net < 0: BUY only, qty ≤ |net|
//	net = 0: nothing permitted
func validateReduceOnly(actions []DeriskAction, posMap map[string]int) []string {
	var breaches []string
	for _, a := range actions {
		net := posMap[a.Symbol]
		switch {
		case net == 0:
			breaches = append(breaches, fmt.Sprintf("REDUCE_ONLY_VIOLATION %s net=0 action=%s qty=%d", a.Symbol, a.CloseSide, a.Qty))
		case net > 0:
			if a.CloseSide != "SELL" {
				breaches = append(breaches, fmt.Sprintf("REDUCE_ONLY_VIOLATION %s net=%d requires SELL got %s", a.Symbol, net, a.CloseSide))
			}
			if a.Qty > net {
				breaches = append(breaches, fmt.Sprintf("REDUCE_ONLY_VIOLATION %s qty %d > net %d", a.Symbol, a.Qty, net))
			}
		default: // net < 0
			if a.CloseSide != "BUY" {
				breaches = append(breaches, fmt.Sprintf("REDUCE_ONLY_VIOLATION %s net=%d requires BUY got %s", a.Symbol, net, a.CloseSide))
			}
			if a.Qty > -net {
				breaches = append(breaches, fmt.Sprintf("REDUCE_ONLY_VIOLATION %s qty %d > abs(net) %d", a.Symbol, a.Qty, -net))
			}
		}
	}
	return breaches
}

// applyCloseFill mutates the net map: SELL decreases, BUY increases; flats
// are pruned.
func applyCloseFill(posMap map[string]int, sym, side string, qty int) {
	switch side {
	case "SELL":
		posMap[sym] -= qty
	case "BUY":
		posMap[sym] += qty
	}
	if posMap[sym] == 0 {
		delete(posMap, sym)
	}
}

// priceProxyForSymbol uses the greeks snapshot mid as the PLAN_ONLY fill
// price when available.
func priceProxyForSymbol(sd StateDir, sym string) *float64 {
	var g PortfolioGreeks
	if err := sd.ReadJSON(filePortfolioGreek, &g); err != nil {
		return nil
	}
	for _, p := range g.Positions {
		if p.Symbol == sym && p.Mid > 0 {
			mid := p.Mid
			return &mid
		}
	}
	return nil
}

// intentAgeSec computes the intent age, tolerant of foreign ISO-8601 forms.
func intentAgeSec(intentTS string, now time.Time) int {
	ts, err := iso8601.ParseString(intentTS)
	if err != nil {
		return int(^uint(0) >> 1) // unparsable = infinitely stale
	}
	age := int(now.Sub(ts).Seconds())
	if age < 0 {
		age = 0
	}
	return age
}

// runOmsClose executes the CLOSE executor once.
func runOmsClose(sd StateDir, cfg Config, jr *Journal, now time.Time) (OmsCloseState, error) {
	mode := BrokerModePlanOnly // close flow stays simulated; LIVE closes ship separately

	if !sd.AcquireLock(fileCloseLock) {
		st := OmsCloseState{
			TS:     utcISO(now),
			Mode:   mode,
			State:  "LOCKED",
			Reason: "ANOTHER_OMS_CLOSE_RUNNING",
			Steps:  []CloseStep{},
		}
		return st, sd.WriteJSON(fileOmsCloseState, st)
	}
	defer sd.ReleaseLock(fileCloseLock)

	rm := getRiskMode(sd)
	st := OmsCloseState{TS: utcISO(now), Mode: mode, RiskMode: rm.Mode, Steps: []CloseStep{}}
	finish := func() (OmsCloseState, error) {
		return st, sd.WriteJSON(fileOmsCloseState, st)
	}

	if !allowClose(rm.Mode) {
		st.State = "HALT"
		st.Reason = "RISK_MODE_BLOCKS_CLOSE:" + rm.Reason
		return finish()
	}

	var intent CloseIntent
	if err := sd.ReadJSON(fileCloseIntent, &intent); err != nil {
		st.State = "NO_INTENT"
		st.Reason = "NO_CLOSE_INTENT"
		return finish()
	}
	st.IntentTS = intent.TS

	age := intentAgeSec(intent.TS, now)
	st.IntentAgeSec = age
	if age > cfg.IntentMaxAgeSec {
		st.State = "REJECT"
		st.Reason = fmt.Sprintf("STALE_INTENT age_sec=%d > max_age=%d", age, cfg.IntentMaxAgeSec)
		jr.Append(mkEvent(intent.Type, intent.TS, "CLOSE_EXEC", false, mode, st.Reason, nil))
		return finish()
	}

	actions := normalizeActions(intent.Actions)
	if len(actions) == 0 {
		// delete the empty intent so the loop cannot spin on it
		sd.Remove(fileCloseIntent)
		st.State = "DONE"
		st.Reason = "NO_ACTIONS_IN_INTENT"
		return finish()
	}
	st.Actions = actions

	var book PositionsBook
	if err := sd.ReadJSON(filePositionsBook, &book); err != nil {
		book = PositionsBook{TS: utcISO(now)}
	}
	posMap := positionsToMap(book)

	if breaches := validateReduceOnly(actions, posMap); len(breaches) > 0 {
		st.State = "REJECT"
		st.Reason = "REDUCE_ONLY_VIOLATION"
		st.Breaches = breaches
		st.PositionsBefore = positionsFromMap(posMap)
		jr.Append(mkEvent(intent.Type, intent.TS, "CLOSE_EXEC", false, mode, st.Reason,
			map[string]any{"breaches": breaches}))
		return finish()
	}

	st.PositionsBefore = positionsFromMap(posMap)
	for _, a := range actions {
		step := CloseStep{
			TS:         utcISO(time.Now()),
			Symbol:     a.Symbol,
			Side:       a.CloseSide,
			Qty:        a.Qty,
			PriceProxy: priceProxyForSymbol(sd, a.Symbol),
			Result:     "SIM_FILLED",
		}
		applyCloseFill(posMap, a.Symbol, a.CloseSide, a.Qty)
		// the fill also lands on the append-only ledger so the next
		// book rebuild reproduces exactly this state
		px := 0.0
		if step.PriceProxy != nil {
			px = *step.PriceProxy
		}
		if _, err := recordFill(sd, a.Symbol, a.Qty, a.CloseSide, px, "OMS_CLOSE_FILL_SIM"); err != nil {
			return OmsCloseState{}, err
		}
		st.Steps = append(st.Steps, step)
	}

	newBook := PositionsBook{TS: utcISO(time.Now()), Positions: positionsFromMap(posMap)}
	if err := sd.WriteJSON(filePositionsBook, newBook); err != nil {
		return OmsCloseState{}, err
	}
	st.PositionsAfter = newBook.Positions

	jr.Append(mkEvent(intent.Type, intent.TS, "CLOSE_EXEC", true, mode,
		"", map[string]any{"n_actions": len(actions)}))
	if sd.Remove(fileCloseIntent) {
		IncIntent("CLOSE", "consumed")
	}

	st.State = "DONE"
	return finish()
}
