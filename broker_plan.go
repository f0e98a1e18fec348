// FILE: broker_plan.go
// Package main – PLAN_ONLY broker (no external calls).
//
// Resolves verticals to synthetic-but-well-formed OCC symbols at today+DTE
// and short-circuits submission. Used for dry runs, first-boot smoke tests,
// and every tick where BROKER_MODE is unset.
package main

import (
	"context"
	"errors"
	"strings"
	"time"
)

type PlanOnlyBroker struct{}

func NewPlanOnlyBroker() *PlanOnlyBroker { return &PlanOnlyBroker{} }

func (p *PlanOnlyBroker) Mode() string { return BrokerModePlanOnly }

// ResolveVertical synthesizes OCC leg symbols at exactly today+DTE. There is
// no chain lookup, so no expiration snapping happens in this mode.
func (p *PlanOnlyBroker) ResolveVertical(ctx context.Context, plan OrderPlan) (ResolvedVertical, error) {
	if plan.Underlier == "" || plan.KLong <= 0 || plan.KShort <= 0 || plan.KLong == plan.KShort {
		return ResolvedVertical{}, errors.New("invalid vertical plan")
	}
	exp := time.Now().UTC().AddDate(0, 0, plan.DTEDays)
	expISO := exp.Format("2006-01-02")
	root := strings.ToUpper(plan.Underlier)
	return ResolvedVertical{
		LongSymbol:  emitOCCSymbol(ParsedOCC{Underlier: root, Exp: expISO, IsCall: plan.IsCall, Strike: plan.KLong}),
		ShortSymbol: emitOCCSymbol(ParsedOCC{Underlier: root, Exp: expISO, IsCall: plan.IsCall, Strike: plan.KShort}),
		Expiration:  exp.Format("20060102"),
		DTEDays:     plan.DTEDays,
	}, nil
}

// SubmitOpen resolves and stops; nothing ever reaches a venue from here.
func (p *PlanOnlyBroker) SubmitOpen(ctx context.Context, plan OrderPlan) OpenResult {
	resolved, err := p.ResolveVertical(ctx, plan)
	if err != nil {
		return OpenResult{
			Mode:  BrokerModePlanOnly,
			Error: "RESOLVE_FAILED:" + err.Error(),
		}
	}
	return OpenResult{
		OK:       true,
		Mode:     BrokerModePlanOnly,
		Resolved: &resolved,
	}
}

func (p *PlanOnlyBroker) GetOrder(ctx context.Context, orderID string) (BrokerOrder, error) {
	return BrokerOrder{}, errors.New("get order not supported on plan-only")
}

func (p *PlanOnlyBroker) ListOpenOrders(ctx context.Context) ([]BrokerOrder, error) {
	return nil, nil
}
