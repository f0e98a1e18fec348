// FILE: risk_mode.go
// Package main – Durable risk-mode store and trading-permission gates.
//
// The mode file is rewritten only by the risk evaluator (limit transitions)
// and the de-risk path (partial-success downgrades). Everyone else reads.
// A missing or unreadable file reports UNKNOWN, which every consumer treats
// like HALT.
package main

import "time"

// RiskMode is the global trading permission level.
type RiskMode string

const (
	ModeNormal   RiskMode = "NORMAL"
	ModeDegraded RiskMode = "DEGRADED"
	ModeHalt     RiskMode = "HALT"
	ModeUnknown  RiskMode = "UNKNOWN"
)

// RiskModeState is the durable {ts, mode, reason} record.
type RiskModeState struct {
	TS     string   `json:"ts"`
	Mode   RiskMode `json:"mode"`
	Reason string   `json:"reason"`
}

// ensureRiskMode initializes the store to NORMAL on first boot.
func ensureRiskMode(sd StateDir) error {
	if sd.Exists(fileRiskMode) {
		return nil
	}
	return setRiskMode(sd, ModeNormal, "boot")
}

// getRiskMode reads the store. Missing or invalid content degrades to
// UNKNOWN rather than failing the caller.
func getRiskMode(sd StateDir) RiskModeState {
	var st RiskModeState
	if err := sd.ReadJSON(fileRiskMode, &st); err != nil {
		return RiskModeState{TS: utcISO(time.Now()), Mode: ModeUnknown, Reason: "missing_or_invalid"}
	}
	switch st.Mode {
	case ModeNormal, ModeDegraded, ModeHalt:
		return st
	default:
		st.Mode = ModeUnknown
		return st
	}
}

// setRiskMode rewrites the store atomically. Unrecognized modes are coerced
// down to DEGRADED, never up.
func setRiskMode(sd StateDir, mode RiskMode, reason string) error {
	switch mode {
	case ModeNormal, ModeDegraded, ModeHalt:
	default:
		mode = ModeDegraded
	}
	st := RiskModeState{TS: utcISO(time.Now()), Mode: mode, Reason: reason}
	if err := sd.WriteJSON(fileRiskMode, st); err != nil {
		return err
	}
	SetRiskModeMetric(string(mode))
	return nil
}

// allowOpen: only NORMAL may open new risk.
func allowOpen(mode RiskMode) bool { return mode == ModeNormal }

// allowClose: NORMAL and DEGRADED may reduce risk; HALT and UNKNOWN block.
func allowClose(mode RiskMode) bool { return mode == ModeNormal || mode == ModeDegraded }
