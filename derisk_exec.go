// FILE: derisk_exec.go
// Package main – De-risk executor: plan → close intent, plus the
// partial-success risk-mode downgrade.
//
// With no actionable plan any stale close intent is deleted so the OMS can
// never act on old instructions. With actions, the intent is written and the
// risk mode is republished: DEGRADED when the bounded reduction planned any
// closes (later ticks can make progress), HALT when nothing is feasible.
package main

import (
	"strconv"
	"time"
)

// CloseIntent is the durable reduce-only instruction consumed by the CLOSE
// executor exactly once.
type CloseIntent struct {
	TS                string         `json:"ts"`
	Type              string         `json:"type"` // DERISK_CLOSE
	Mode              string         `json:"mode"` // PLAN_ONLY | LIVE
	Actions           []DeriskAction `json:"actions"`
	ExpectedEndTotals GreeksTotals   `json:"expected_end_totals"`
	HardLimits        Limits         `json:"hard_limits"`
	TargetLimits      Limits         `json:"target_limits"`
	BufferPct         float64        `json:"buffer_pct"`
}

// DeriskExecState is the audit record written to derisk_exec.json.
type DeriskExecState struct {
	TS                 string         `json:"ts"`
	Status             string         `json:"status"` // NO_EXEC | WROTE_INTENT
	Reason             string         `json:"reason,omitempty"`
	InputStatus        string         `json:"input_status,omitempty"`
	DeletedStaleIntent bool           `json:"deleted_stale_intent"`
	IntentPath         string         `json:"intent_path"`
	Actions            []DeriskAction `json:"actions"`
}

// runDeriskExecute consumes derisk_plan.json.
func runDeriskExecute(sd StateDir, cfg Config) (DeriskExecState, error) {
	var plan DeriskPlan
	if err := sd.ReadJSON(fileDeriskPlan, &plan); err != nil {
		return DeriskExecState{}, err
	}

	actionable := (plan.Status == "OK" || plan.Status == "PARTIAL") && len(plan.Actions) > 0

	if !actionable {
		deleted := sd.Remove(fileCloseIntent)
		out := DeriskExecState{
			TS:                 utcISO(time.Now()),
			Status:             "NO_EXEC",
			Reason:             "NO_ACTIONS",
			InputStatus:        plan.Status,
			DeletedStaleIntent: deleted,
			IntentPath:         sd.Path(fileCloseIntent),
			Actions:            []DeriskAction{},
		}
		if plan.Status == "PARTIAL" {
			// over limits and nothing closable: stay dark
			if err := setRiskMode(sd, ModeHalt, "DERISK_ZERO_CLOSABLE"); err != nil {
				return DeriskExecState{}, err
			}
		}
		return out, sd.WriteJSON(fileDeriskExec, out)
	}

	allowedQty := 0
	for _, a := range plan.Actions {
		allowedQty += a.Qty
	}

	intent := CloseIntent{
		TS:                utcISO(time.Now()),
		Type:              "DERISK_CLOSE",
		Mode:              BrokerModePlanOnly,
		Actions:           plan.Actions,
		ExpectedEndTotals: plan.EndTotals,
		HardLimits:        plan.HardLimits,
		TargetLimits:      plan.TargetLimits,
		BufferPct:         plan.BufferPct,
	}
	if err := sd.WriteJSON(fileCloseIntent, intent); err != nil {
		return DeriskExecState{}, err
	}
	IncIntent("CLOSE", "written")

	// Partial-success downgrade: closes are flowing, so HALT relaxes to
	// DEGRADED and the close executor can consume the intent this tick.
	if allowedQty > 0 && getRiskMode(sd).Mode == ModeHalt {
		if err := setRiskMode(sd, ModeDegraded, "DERISK_ALLOWED_QTY="+strconv.Itoa(allowedQty)); err != nil {
			return DeriskExecState{}, err
		}
	}

	out := DeriskExecState{
		TS:         utcISO(time.Now()),
		Status:     "WROTE_INTENT",
		IntentPath: sd.Path(fileCloseIntent),
		Actions:    plan.Actions,
	}
	return out, sd.WriteJSON(fileDeriskExec, out)
}
