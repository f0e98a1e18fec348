// FILE: tick.go
// Package main – Single-shot tick orchestrator.
//
// Holds tick.lock for the whole run (immediate LOCKED on contention), walks
// the stages in dependency order, classifies each outcome (OK / NO_INPUT /
// REJECT / fatal), aborts the remaining stages on the first fatal, and always
// writes the tick summary and releases the lock.
//
// Stage order:
//   ledger → greeks → risk-eval → derisk-plan → derisk-exec → gateway →
//   open → open-exec → close
package main

import (
	"context"
	"errors"
	"log"
	"time"
)

// Governor wires one state directory to one broker variant. All stages hang
// off it so nothing reads globals.
type Governor struct {
	cfg    Config
	sd     StateDir
	broker Broker
	jr     *Journal
}

func NewGovernor(cfg Config) *Governor {
	sd := StateDir(cfg.StateDir)
	return &Governor{cfg: cfg, sd: sd, broker: newBroker(cfg), jr: NewJournal(sd)}
}

// StepResult is one stage line of tick_state.json.
type StepResult struct {
	Name      string `json:"name"`
	Critical  bool   `json:"critical"`
	OK        bool   `json:"ok"`
	Result    string `json:"result"` // OK | NO_INPUT | REJECT | ERR
	Err       string `json:"err,omitempty"`
	ElapsedMS int64  `json:"elapsed_ms"`
}

// TickSummary is the tail of tick_state.json: the operator's one-look view.
type TickSummary struct {
	RiskMode           *RiskModeState `json:"risk_mode"`
	OpenIntentPresent  bool           `json:"open_intent_present"`
	CloseIntentPresent bool           `json:"close_intent_present"`
	GateOutPresent     bool           `json:"gate_out_present"`
}

// TickState is the durable per-tick record.
type TickState struct {
	TS        string       `json:"ts"`
	OK        bool         `json:"ok"`
	State     string       `json:"state,omitempty"` // LOCKED when contended
	Reason    string       `json:"reason,omitempty"`
	HaltedBy  string       `json:"halted_by,omitempty"`
	ElapsedMS int64        `json:"elapsed_ms"`
	Steps     []StepResult `json:"steps"`
	Summary   TickSummary  `json:"summary"`
}

// classify maps a stage error to the recorded result and whether the tick
// must abort.
func classify(err error) (result string, fatal bool) {
	var rej *rejectError
	switch {
	case err == nil:
		return "OK", false
	case errors.Is(err, errNoInput):
		return "NO_INPUT", false
	case errors.As(err, &rej):
		return "REJECT", false
	default:
		return "ERR", true
	}
}

// runStep executes one stage and records its outcome.
func runStep(name string, fn func() error, steps *[]StepResult) (fatal bool) {
	t0 := time.Now()
	err := fn()
	result, fatal := classify(err)
	step := StepResult{
		Name:      name,
		Critical:  true,
		OK:        !fatal,
		Result:    result,
		ElapsedMS: time.Since(t0).Milliseconds(),
	}
	if err != nil {
		step.Err = err.Error()
	}
	*steps = append(*steps, step)
	IncStageResult(name, result)
	if fatal {
		log.Printf("[ERROR] stage %s: %v", name, err)
	}
	return fatal
}

// summarizeState collects the operator view at tick end.
func (g *Governor) summarizeState() TickSummary {
	s := TickSummary{
		OpenIntentPresent:  g.sd.Exists(fileOpenIntent),
		CloseIntentPresent: g.sd.Exists(fileCloseIntent),
		GateOutPresent:     g.sd.Exists(fileGateOut),
	}
	if g.sd.Exists(fileRiskMode) {
		rm := getRiskMode(g.sd)
		s.RiskMode = &rm
	}
	return s
}

// RunTick executes one orchestrated tick. The returned error is non-nil only
// for unrecoverable I/O failures (lock contention and halted ticks are normal
// outcomes recorded in the tick state).
func (g *Governor) RunTick(ctx context.Context) (TickState, error) {
	if err := ensureRiskMode(g.sd); err != nil {
		return TickState{}, err
	}

	if !g.sd.AcquireLock(fileTickLock) {
		st := TickState{
			TS:     utcISO(time.Now()),
			OK:     false,
			State:  "LOCKED",
			Reason: "ANOTHER_TICK_RUNNING",
			Steps:  []StepResult{},
		}
		IncTick("locked")
		return st, g.sd.WriteJSON(fileTickState, st)
	}
	defer g.sd.ReleaseLock(fileTickLock)

	t0 := time.Now()
	steps := []StepResult{}
	haltedBy := ""

	stages := []struct {
		name string
		fn   func() error
	}{
		{"portfolio.ledger", func() error {
			_, err := writePositionsBook(g.sd)
			return err
		}},
		{"portfolio.greeks", func() error {
			_, err := buildPortfolioGreeks(g.sd, g.cfg, time.Now())
			return err
		}},
		{"risk.evaluate", func() error {
			_, err := evaluatePortfolioRisk(g.sd, g.cfg)
			return err
		}},
		{"risk.derisk_plan", func() error {
			_, err := buildDeriskPlan(g.sd, g.cfg)
			return err
		}},
		{"risk.derisk_execute", func() error {
			_, err := runDeriskExecute(g.sd, g.cfg)
			return err
		}},
		{"gateway", func() error {
			_, err := runGateway(g.sd, g.cfg, demoIntents(g.cfg))
			return err
		}},
		{"oms.open", func() error {
			_, err := runOmsOpen(g.sd, g.cfg, g.jr)
			return err
		}},
		{"oms.open_exec", func() error {
			_, err := runOmsOpenExec(ctx, g.sd, g.cfg, g.broker, g.jr)
			return err
		}},
		{"oms.close", func() error {
			_, err := runOmsClose(g.sd, g.cfg, g.jr, time.Now())
			return err
		}},
	}

	ok := true
	for _, stage := range stages {
		if runStep(stage.name, stage.fn, &steps) {
			ok = false
			haltedBy = stage.name
			break
		}
	}

	st := TickState{
		TS:        utcISO(time.Now()),
		OK:        ok,
		HaltedBy:  haltedBy,
		ElapsedMS: time.Since(t0).Milliseconds(),
		Steps:     steps,
		Summary:   g.summarizeState(),
	}
	if ok {
		IncTick("ok")
	} else {
		IncTick("halted")
	}
	return st, g.sd.WriteJSON(fileTickState, st)
}
