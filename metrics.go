// FILE: metrics.go
// Package main – Prometheus metrics for observability.
//
// Primary metrics the governor updates during operation:
//   • gov_ticks_total{result}            – Ticks by outcome (ok|halted|locked)
//   • gov_stage_results_total{stage,result} – Per-stage outcomes
//   • gov_risk_mode{mode}                – Active risk mode (labeled 0/1 series)
//   • gov_portfolio_greeks{axis}         – Portfolio totals (delta|gamma|vega|theta)
//   • gov_derisk_contracts_planned_total – Contracts planned for closing
//   • gov_intents_total{type,event}      – Intent lifecycle (written|consumed|deleted)
//   • gov_broker_submits_total{mode,result} – Broker submit attempts
//   • gov_order_alerts_total{severity}   – Poller alerts by severity
//   • gov_journal_events_total{stage,ok} – Journal appends
//
// Registered in init() and served by the HTTP handler started by the serve
// command at /metrics (Prometheus text exposition format).

package main

import "github.com/prometheus/client_golang/prometheus"

var (
	mtxTicks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gov_ticks_total",
			Help: "Ticks by outcome",
		},
		[]string{"result"},
	)

	mtxStageResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gov_stage_results_total",
			Help: "Stage outcomes per tick",
		},
		[]string{"stage", "result"},
	)

	// gov_risk_mode exposes one labeled series per mode flipped between 0/1
	// to keep dashboards simple.
	govRiskMode = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gov_risk_mode",
			Help: "Active risk mode (one labeled series per mode).",
		},
		[]string{"mode"},
	)

	govGreeks = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gov_portfolio_greeks",
			Help: "Portfolio greeks totals in dollars.",
		},
		[]string{"axis"},
	)

	govDeriskPlanned = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "gov_derisk_contracts_planned_total",
			Help: "Single-contract closes planned by the de-risk planner.",
		},
	)

	mtxIntents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gov_intents_total",
			Help: "Intent lifecycle events",
		},
		[]string{"type", "event"}, // type: OPEN|CLOSE, event: written|consumed|deleted
	)

	mtxBrokerSubmits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gov_broker_submits_total",
			Help: "Broker submit attempts by mode and result",
		},
		[]string{"mode", "result"},
	)

	mtxOrderAlerts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gov_order_alerts_total",
			Help: "Order status alerts by severity",
		},
		[]string{"severity"},
	)

	mtxJournal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gov_journal_events_total",
			Help: "Journal events appended",
		},
		[]string{"stage", "ok"},
	)
)

func init() {
	prometheus.MustRegister(mtxTicks, mtxStageResults)
	prometheus.MustRegister(govRiskMode, govGreeks, govDeriskPlanned)
	prometheus.MustRegister(mtxIntents, mtxBrokerSubmits, mtxOrderAlerts, mtxJournal)
}

// Helper setters (used across files).

func IncTick(result string) { mtxTicks.WithLabelValues(result).Inc() }

func IncStageResult(stage, result string) { mtxStageResults.WithLabelValues(stage, result).Inc() }

func SetRiskModeMetric(mode string) {
	for _, m := range []string{"NORMAL", "DEGRADED", "HALT", "UNKNOWN"} {
		v := 0.0
		if m == mode {
			v = 1.0
		}
		govRiskMode.WithLabelValues(m).Set(v)
	}
}

func SetPortfolioGreeksMetric(t GreeksTotals) {
	govGreeks.WithLabelValues("delta").Set(t.Delta)
	govGreeks.WithLabelValues("gamma").Set(t.Gamma)
	govGreeks.WithLabelValues("vega").Set(t.Vega)
	govGreeks.WithLabelValues("theta").Set(t.Theta)
}

func AddDeriskContractsPlanned(n int) { govDeriskPlanned.Add(float64(n)) }

func IncIntent(intentType, event string) { mtxIntents.WithLabelValues(intentType, event).Inc() }

func IncBrokerSubmit(mode string, ok bool) {
	result := "error"
	if ok {
		result = "ok"
	}
	mtxBrokerSubmits.WithLabelValues(mode, result).Inc()
}

func IncOrderAlert(severity string) { mtxOrderAlerts.WithLabelValues(severity).Inc() }

func IncJournalEvent(stage string, ok bool) {
	okStr := "false"
	if ok {
		okStr = "true"
	}
	mtxJournal.WithLabelValues(stage, okStr).Inc()
}
