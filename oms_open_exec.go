// FILE: oms_open_exec.go
// Package main – OPEN executor: consumes open_intent.json.
//
// Every run journals a start event, hands the order plan to the configured
// broker variant, and deletes the intent file only after a success event has
// been journaled (consume-exactly-once). Retries are made idempotent by a
// dedup signature checked against still-active entries in open_orders.json.
package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// OpenExecState is the per-run state of the executor.
type OpenExecState struct {
	TS            string      `json:"ts"`
	Mode          string      `json:"mode"`
	State         string      `json:"state"` // NO_INTENT | INTENT_INVALID | PLAN_ONLY_TRANSLATED | OPEN_SUBMITTED | DUPLICATE_SUPPRESSED | BROKER_ERROR
	Reason        string      `json:"reason,omitempty"`
	IntentTS      string      `json:"intent_ts,omitempty"`
	Candidate     string      `json:"candidate,omitempty"`
	OrderPlan     *OrderPlan  `json:"order_plan,omitempty"`
	BrokerResult  *OpenResult `json:"broker_result,omitempty"`
	IntentDeleted bool        `json:"intent_deleted"`
	ElapsedMS     int64       `json:"elapsed_ms"`
}

// openSignature is the dedup key for idempotent retries:
// H(underlier | expiration | C/P | K_long | K_short | qty | tag).
func openSignature(plan OrderPlan, expiration string) string {
	cp := "P"
	if plan.IsCall {
		cp = "C"
	}
	raw := fmt.Sprintf("%s|%s|%s|%g|%g|%d|%s",
		plan.Underlier, expiration, cp, plan.KLong, plan.KShort, plan.Qty, plan.Tag)
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:16])
}

// isActiveOrderStatus reports whether a normalized status still counts as
// alive for dedup purposes.
func isActiveOrderStatus(s string) bool {
	switch normStatus(s) {
	case "new", "accepted", "pending_new", "partially_filled", "held", "replaced":
		return true
	}
	return false
}

// findActiveDuplicate scans the order store for a live order with the same
// signature.
func findActiveDuplicate(store OpenOrdersStore, sig string) (string, bool) {
	for id, e := range store.Orders {
		if e.Signature == sig && isActiveOrderStatus(e.Status) {
			return id, true
		}
	}
	return "", false
}

// runOmsOpenExec executes the OPEN executor once.
func runOmsOpenExec(ctx context.Context, sd StateDir, cfg Config, broker Broker, jr *Journal) (OpenExecState, error) {
	t0 := time.Now()
	mode := broker.Mode()

	st := OpenExecState{TS: utcISO(time.Now()), Mode: mode}
	finish := func() (OpenExecState, error) {
		st.ElapsedMS = time.Since(t0).Milliseconds()
		return st, sd.WriteJSON(fileOpenExecState, st)
	}

	var intent OpenIntent
	if err := sd.ReadJSON(fileOpenIntent, &intent); err != nil {
		st.State = "NO_INTENT"
		st.Reason = "NO_OPEN_INTENT"
		return finish()
	}
	st.IntentTS = intent.TS
	st.Candidate = intent.Candidate

	jr.Append(mkEvent(intent.Type, intent.TS, "OPEN_EXEC_START", true, mode, "",
		map[string]any{"candidate": intent.Candidate}))

	if intent.OrderPlan == nil {
		msg := "INVALID_INTENT_MISSING_ORDER_PLAN"
		jr.Append(mkEvent(intent.Type, intent.TS, "BROKER_TRANSLATE_SUBMIT", false, mode, msg, nil))
		st.State = "INTENT_INVALID"
		st.Reason = msg
		return finish()
	}
	plan := *intent.OrderPlan
	st.OrderPlan = &plan

	// Dedup against still-active submissions of the same plan.
	store := loadOpenOrders(sd, mode)
	if resolved, err := broker.ResolveVertical(ctx, plan); err == nil {
		sig := openSignature(plan, resolved.Expiration)
		if dupID, dup := findActiveDuplicate(store, sig); dup {
			jr.Append(mkEvent(intent.Type, intent.TS, "BROKER_TRANSLATE_SUBMIT", true, mode,
				"DUPLICATE_ACTIVE_ORDER", map[string]any{"order_id": dupID, "signature": sig}))
			st.IntentDeleted = sd.Remove(fileOpenIntent)
			if st.IntentDeleted {
				IncIntent("OPEN", "consumed")
			}
			st.State = "DUPLICATE_SUPPRESSED"
			st.Reason = "DUPLICATE_ACTIVE_ORDER"
			jr.Append(mkEvent(intent.Type, intent.TS, "INTENT_CONSUME_OK", true, mode, "", nil))
			return finish()
		}
	}

	result := broker.SubmitOpen(ctx, plan)
	st.BrokerResult = &result
	IncBrokerSubmit(mode, result.OK)

	jr.Append(mkEvent(intent.Type, intent.TS, "BROKER_TRANSLATE_SUBMIT", result.OK, mode, result.Error,
		map[string]any{"submitted": result.Submitted, "order_id": result.OrderID}))

	if !result.OK {
		st.State = "BROKER_ERROR"
		st.Reason = result.Error
		return finish()
	}

	// Track the live order before consuming the intent.
	if result.Submitted && result.OrderID != "" && result.Resolved != nil {
		entry := OpenOrderEntry{
			OrderID:   result.OrderID,
			Status:    "pending_new",
			LastSeen:  utcISO(time.Now()),
			Tag:       plan.Tag,
			Signature: openSignature(plan, result.Resolved.Expiration),
		}
		store.Orders[result.OrderID] = entry
		store.TS = utcISO(time.Now())
		store.Mode = mode
		if err := sd.WriteJSON(fileOpenOrders, store); err != nil {
			return OpenExecState{}, err
		}
	}

	// Delete the intent only after the success event has been journaled.
	st.IntentDeleted = sd.Remove(fileOpenIntent)
	if st.IntentDeleted {
		IncIntent("OPEN", "consumed")
	}
	jr.Append(mkEvent(intent.Type, intent.TS, "INTENT_CONSUME_OK", true, mode, "", nil))

	if result.Submitted {
		st.State = "OPEN_SUBMITTED"
	} else {
		st.State = "PLAN_ONLY_TRANSLATED"
	}
	return finish()
}
