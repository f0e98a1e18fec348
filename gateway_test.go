// FILE: gateway_test.go
// Package main – pre-trade gateway tests.
package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func qqqIntent(qty int) VerticalIntent {
	return VerticalIntent{
		Underlier: "QQQ", IsCall: true, KLong: 600, KShort: 610, DTEDays: 30,
		QtyRequested: qty, R: 0.04, IVLong: 0.22, IVShort: 0.22, Tag: "TEST_QQQ",
	}
}

func TestGatewaySizingToZero(t *testing.T) {
	cfg := testConfig(t) // equity 100000, max pct 0.02 → $2000 budget
	sd := stateDir(cfg)
	writeMarketState(t, sd, map[string]float64{"QQQ": 601.0})

	c := buildVerticalPlan(sd, cfg, qqqIntent(10))
	assert.False(t, c.Allow)
	assert.Nil(t, c.OrderPlan)
	assert.Contains(t, c.Decision.Reasons, "SIZING_TO_ZERO_BY_LIMITS")
	assert.Equal(t, 0, c.Decision.MaxContracts)
	require.NotNil(t, c.Decision.WorstPnLGap10)
	require.NotNil(t, c.Decision.WorstPnLCombo)
	// the requested 10-lot block loses more than the whole budget in the gap
	worst := *c.Decision.WorstPnLGap10
	if *c.Decision.WorstPnLCombo < worst {
		worst = *c.Decision.WorstPnLCombo
	}
	assert.Less(t, worst, -2000.0)
}

func TestGatewayAllowsAffordableBlock(t *testing.T) {
	cfg := testConfig(t)
	sd := stateDir(cfg)
	writeMarketState(t, sd, map[string]float64{"QQQ": 601.0})

	c := buildVerticalPlan(sd, cfg, qqqIntent(1))
	require.True(t, c.Allow)
	require.NotNil(t, c.OrderPlan)
	assert.Equal(t, 1, c.OrderPlan.Qty)
	assert.Equal(t, "VERTICAL", c.OrderPlan.Type)
	assert.Equal(t, "MID_THEN_STEP", c.OrderPlan.LimitLogic)
	require.NotNil(t, c.OrderPlan.SpotUsed)
	assert.InDelta(t, 601.0, *c.OrderPlan.SpotUsed, 0.1)
	assert.GreaterOrEqual(t, c.Decision.MaxContracts, 1)
}

func TestGatewayLiquidityRejects(t *testing.T) {
	cfg := testConfig(t)
	sd := stateDir(cfg)

	// no market state at all
	c := buildVerticalPlan(sd, cfg, qqqIntent(1))
	assert.False(t, c.Allow)
	assert.Equal(t, []string{"NO_UNDERLIER_QUOTE"}, c.Decision.Reasons)

	// crossed quote
	bid, ask, spot := 601.5, 600.5, 601.0
	ms := MarketState{TS: utcISO(time.Now()), Symbols: map[string]MarketSymbol{
		"QQQ": {Spot: &spot, SpotSrc: "TRADE", Bid: &bid, Ask: &ask},
	}}
	require.NoError(t, sd.WriteJSON(fileMarketState, ms))
	c = buildVerticalPlan(sd, cfg, qqqIntent(1))
	assert.Equal(t, []string{"BAD_UNDERLIER_QUOTE"}, c.Decision.Reasons)

	// wide spread: 597/605 around 601 ≈ 1.3% > 1.0% threshold
	bid2, ask2 := 597.0, 605.0
	ms.Symbols["QQQ"] = MarketSymbol{Spot: &spot, SpotSrc: "TRADE", Bid: &bid2, Ask: &ask2}
	require.NoError(t, sd.WriteJSON(fileMarketState, ms))
	c = buildVerticalPlan(sd, cfg, qqqIntent(1))
	assert.Equal(t, []string{"WIDE_UNDERLIER_QUOTE_SPREAD"}, c.Decision.Reasons)
}

func TestGatewayLiquidityBeforeSizing(t *testing.T) {
	cfg := testConfig(t)
	sd := stateDir(cfg)
	// with no quote, even an absurd block is rejected on liquidity alone
	c := buildVerticalPlan(sd, cfg, qqqIntent(100000))
	assert.Equal(t, []string{"NO_UNDERLIER_QUOTE"}, c.Decision.Reasons)
	assert.Nil(t, c.Decision.WorstPnLGap10)
}

func TestRunGatewayWritesAllCandidates(t *testing.T) {
	cfg := testConfig(t)
	sd := stateDir(cfg)
	writeMarketState(t, sd, map[string]float64{"QQQ": 601.0})

	out, err := runGateway(sd, cfg, map[string]VerticalIntent{
		"a": qqqIntent(1),
		"b": qqqIntent(10),
	})
	require.NoError(t, err)
	require.Len(t, out.Out, 2)
	assert.True(t, out.Out["a"].Allow)
	assert.False(t, out.Out["b"].Allow)

	var persisted GateOut
	require.NoError(t, sd.ReadJSON(fileGateOut, &persisted))
	assert.Len(t, persisted.Out, 2)
}
