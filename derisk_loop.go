// FILE: derisk_loop.go
// Package main – Bounded de-risk loop driver.
//
// Re-runs greeks → risk-eval → derisk-plan → derisk-exec → close until the
// risk mode leaves HALT or the round cap is hit. The cycle is a bounded
// iterator, never recursion: each round re-reads the rewritten book, so
// progress (or the lack of it) is observable per round.
package main

import (
	"context"
	"time"
)

// DeriskRound is one pass of the loop.
type DeriskRound struct {
	Round    int      `json:"round"`
	TS       string   `json:"ts"`
	Mode     RiskMode `json:"mode"`
	Breaches []string `json:"breaches"`
}

// DeriskLoopResult reports how the loop ended.
type DeriskLoopResult struct {
	TS        string        `json:"ts"`
	FinalMode RiskMode      `json:"final_mode"`
	Rounds    []DeriskRound `json:"rounds"`
}

// runDeriskLoop drives up to cfg.DeriskMaxRounds reduction rounds.
func (g *Governor) runDeriskLoop(ctx context.Context) (DeriskLoopResult, error) {
	res := DeriskLoopResult{Rounds: []DeriskRound{}}

	for round := 1; round <= g.cfg.DeriskMaxRounds; round++ {
		if _, err := buildPortfolioGreeks(g.sd, g.cfg, time.Now()); err != nil {
			return res, err
		}
		ev, err := evaluatePortfolioRisk(g.sd, g.cfg)
		if err != nil {
			return res, err
		}

		mode := getRiskMode(g.sd).Mode
		res.Rounds = append(res.Rounds, DeriskRound{
			Round:    round,
			TS:       utcISO(time.Now()),
			Mode:     mode,
			Breaches: ev.Breaches,
		})
		res.FinalMode = mode

		if mode != ModeHalt {
			break
		}

		if _, err := buildDeriskPlan(g.sd, g.cfg); err != nil {
			return res, err
		}
		if _, err := runDeriskExecute(g.sd, g.cfg); err != nil {
			return res, err
		}
		if _, err := runOmsClose(g.sd, g.cfg, g.jr, time.Now()); err != nil {
			return res, err
		}
	}

	res.TS = utcISO(time.Now())
	return res, nil
}
