// FILE: oms_open.go
// Package main – OPEN intent issuer.
//
// Reads the risk mode and the gateway output, selects the best candidate,
// and writes open_intent.json for the executor. Safety invariant enforced
// unconditionally on entry: whenever the mode is anything but NORMAL, any
// existing open intent is deleted before other work — stale opens may never
// survive a downgrade.
package main

import (
	"fmt"
	"time"
)

// OpenIntent is the durable open instruction consumed exactly once.
type OpenIntent struct {
	TS        string        `json:"ts"`
	Type      string        `json:"type"` // OPEN_INTENT
	Mode      string        `json:"mode"`
	Candidate string        `json:"candidate"`
	RiskMode  RiskModeState `json:"risk_mode"`
	OrderPlan *OrderPlan    `json:"order_plan"`
	Decision  *GateDecision `json:"decision"`
}

// OpenPlanSnapshot is the audit snapshot written alongside the intent.
type OpenPlanSnapshot struct {
	TS        string         `json:"ts"`
	Source    string         `json:"source"`
	Candidate string         `json:"candidate,omitempty"`
	RiskMode  RiskModeState  `json:"risk_mode"`
	Selected  *GateCandidate `json:"selected"`
}

// OmsOpenState is the per-run state of the issuer.
type OmsOpenState struct {
	TS                 string   `json:"ts"`
	Mode               string   `json:"mode"`
	RiskMode           RiskMode `json:"risk_mode"`
	State              string   `json:"state"` // DONE | OPEN_BLOCKED | NO_CANDIDATE | CANDIDATE_BLOCKED
	Reason             string   `json:"reason,omitempty"`
	Candidate          string   `json:"candidate,omitempty"`
	CandidateReasons   []string `json:"candidate_reasons,omitempty"`
	DeletedStaleIntent bool     `json:"deleted_stale_intent"`
	OpenIntentWritten  bool     `json:"open_intent_written"`
	ElapsedMS          int64    `json:"elapsed_ms"`
}

// candidateScore ranks gate candidates: allow first, then capacity, minus a
// penalty per reject reason.
func candidateScore(c GateCandidate) float64 {
	base := 0.0
	if c.Allow {
		base = 1.0
	}
	return base*1000.0 + float64(c.Decision.MaxContracts)*10.0 - float64(len(c.Decision.Reasons))*50.0
}

// selectBestCandidate returns the top-ranked candidate, "" when none exist.
// Names break score ties so the selection is deterministic.
func selectBestCandidate(out map[string]GateCandidate) (string, GateCandidate) {
	bestName := ""
	var best GateCandidate
	bestScore := 0.0
	for name, c := range out {
		s := candidateScore(c)
		if bestName == "" || s > bestScore || (s == bestScore && name < bestName) {
			bestName, best, bestScore = name, c, s
		}
	}
	return bestName, best
}

// runOmsOpen executes the issuer once.
func runOmsOpen(sd StateDir, cfg Config, jr *Journal) (OmsOpenState, error) {
	t0 := time.Now()
	rm := getRiskMode(sd)

	var gate GateOut
	gateErr := sd.ReadJSON(fileGateOut, &gate)

	candName, cand := "", GateCandidate{}
	if gateErr == nil {
		candName, cand = selectBestCandidate(gate.Out)
	}

	snap := OpenPlanSnapshot{
		TS:        utcISO(time.Now()),
		Source:    "gateway",
		Candidate: candName,
		RiskMode:  rm,
	}
	if candName != "" {
		c := cand
		snap.Selected = &c
	}
	if err := sd.WriteJSON(fileOpenPlan, snap); err != nil {
		return OmsOpenState{}, err
	}

	st := OmsOpenState{
		TS:       utcISO(time.Now()),
		Mode:     cfg.BrokerMode,
		RiskMode: rm.Mode,
		State:    "DONE",
	}
	finish := func() (OmsOpenState, error) {
		st.ElapsedMS = time.Since(t0).Milliseconds()
		return st, sd.WriteJSON(fileOmsOpenState, st)
	}

	// Safety override: non-NORMAL mode deletes any stale intent first.
	if !allowOpen(rm.Mode) {
		st.DeletedStaleIntent = sd.Remove(fileOpenIntent)
		st.State = "OPEN_BLOCKED"
		st.Reason = fmt.Sprintf("RISK_MODE_%s_OPEN_BLOCKED:%s", rm.Mode, rm.Reason)
		if st.DeletedStaleIntent {
			IncIntent("OPEN", "deleted")
		}
		jr.Append(mkEvent("OPEN_INTENT", "", "OPEN_ISSUE", false, cfg.BrokerMode, st.Reason, nil))
		return finish()
	}

	if candName == "" {
		st.DeletedStaleIntent = sd.Remove(fileOpenIntent)
		st.State = "NO_CANDIDATE"
		st.Reason = "NO_GATE_CANDIDATE"
		return finish()
	}

	if !cand.Allow {
		st.DeletedStaleIntent = sd.Remove(fileOpenIntent)
		st.State = "CANDIDATE_BLOCKED"
		st.Reason = "CANDIDATE_NOT_ALLOWED"
		st.Candidate = candName
		st.CandidateReasons = cand.Decision.Reasons
		return finish()
	}

	intent := OpenIntent{
		TS:        utcISO(time.Now()),
		Type:      "OPEN_INTENT",
		Mode:      BrokerModePlanOnly,
		Candidate: candName,
		RiskMode:  rm,
		OrderPlan: cand.OrderPlan,
	}
	d := cand.Decision
	intent.Decision = &d
	if err := sd.WriteJSON(fileOpenIntent, intent); err != nil {
		return OmsOpenState{}, err
	}
	IncIntent("OPEN", "written")

	st.Candidate = candName
	st.OpenIntentWritten = true
	jr.Append(mkEvent("OPEN_INTENT", intent.TS, "OPEN_ISSUE", true, cfg.BrokerMode, "", map[string]any{"candidate": candName}))
	return finish()
}
