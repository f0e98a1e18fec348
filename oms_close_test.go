// FILE: oms_close_test.go
// Package main – CLOSE executor tests: reduce-only, freshness, locking.
package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const spyCallSym = "SPY300117C00600000"

func writeCloseIntent(t *testing.T, sd StateDir, ts time.Time, actions ...DeriskAction) {
	t.Helper()
	intent := CloseIntent{
		TS: utcISO(ts), Type: "DERISK_CLOSE", Mode: BrokerModePlanOnly, Actions: actions,
	}
	require.NoError(t, sd.WriteJSON(fileCloseIntent, intent))
}

func TestCloseRejectsReduceOnlyViolation(t *testing.T) {
	cfg := testConfig(t)
	sd := stateDir(cfg)
	now := time.Now()
	require.NoError(t, setRiskMode(sd, ModeNormal, "OK"))
	writeBook(t, sd, map[string]int{spyCallSym: 3})
	writeCloseIntent(t, sd, now, DeriskAction{Symbol: spyCallSym, CloseSide: "BUY", Qty: 1})

	st, err := runOmsClose(sd, cfg, NewJournal(sd), now)
	require.NoError(t, err)
	assert.Equal(t, "REJECT", st.State)
	assert.Equal(t, "REDUCE_ONLY_VIOLATION", st.Reason)
	require.Len(t, st.Breaches, 1)
	assert.Equal(t, "REDUCE_ONLY_VIOLATION "+spyCallSym+" net=3 requires SELL got BUY", st.Breaches[0])

	// nothing applied: book unchanged
	var book PositionsBook
	require.NoError(t, sd.ReadJSON(filePositionsBook, &book))
	assert.Equal(t, []Position{{Symbol: spyCallSym, NetQty: 3}}, book.Positions)
}

func TestCloseRejectsWholeBatchOnOneViolation(t *testing.T) {
	cfg := testConfig(t)
	sd := stateDir(cfg)
	now := time.Now()
	require.NoError(t, setRiskMode(sd, ModeNormal, "OK"))
	writeBook(t, sd, map[string]int{spyCallSym: 3, testPutSym: -2})
	writeCloseIntent(t, sd, now,
		DeriskAction{Symbol: spyCallSym, CloseSide: "SELL", Qty: 2}, // fine alone
		DeriskAction{Symbol: testPutSym, CloseSide: "BUY", Qty: 5},  // qty > |net|
	)

	st, err := runOmsClose(sd, cfg, NewJournal(sd), now)
	require.NoError(t, err)
	assert.Equal(t, "REJECT", st.State)
	var book PositionsBook
	require.NoError(t, sd.ReadJSON(filePositionsBook, &book))
	assert.Len(t, book.Positions, 2, "valid sibling actions must not be applied either")
}

func TestCloseRejectsStaleIntentAndKeepsIt(t *testing.T) {
	cfg := testConfig(t) // max age 300s
	sd := stateDir(cfg)
	now := time.Now()
	require.NoError(t, setRiskMode(sd, ModeNormal, "OK"))
	writeBook(t, sd, map[string]int{spyCallSym: 3})
	writeCloseIntent(t, sd, now.Add(-600*time.Second), DeriskAction{Symbol: spyCallSym, CloseSide: "SELL", Qty: 1})

	st, err := runOmsClose(sd, cfg, NewJournal(sd), now)
	require.NoError(t, err)
	assert.Equal(t, "REJECT", st.State)
	assert.Equal(t, "STALE_INTENT age_sec=600 > max_age=300", st.Reason)
	assert.True(t, sd.Exists(fileCloseIntent), "stale intent retained for audit")
}

func TestCloseHaltBlocks(t *testing.T) {
	cfg := testConfig(t)
	sd := stateDir(cfg)
	now := time.Now()
	require.NoError(t, setRiskMode(sd, ModeHalt, "VEGA_LIMIT"))
	writeCloseIntent(t, sd, now, DeriskAction{Symbol: spyCallSym, CloseSide: "SELL", Qty: 1})

	st, err := runOmsClose(sd, cfg, NewJournal(sd), now)
	require.NoError(t, err)
	assert.Equal(t, "HALT", st.State)
	assert.Contains(t, st.Reason, "RISK_MODE_BLOCKS_CLOSE")
	assert.True(t, sd.Exists(fileCloseIntent))
}

func TestCloseDegradedMayClose(t *testing.T) {
	cfg := testConfig(t)
	sd := stateDir(cfg)
	now := time.Now()
	require.NoError(t, setRiskMode(sd, ModeDegraded, "IV_FALLBACK_DEFAULT_PRESENT"))
	writeBook(t, sd, map[string]int{spyCallSym: 3})
	writeCloseIntent(t, sd, now, DeriskAction{Symbol: spyCallSym, CloseSide: "SELL", Qty: 2})

	st, err := runOmsClose(sd, cfg, NewJournal(sd), now)
	require.NoError(t, err)
	assert.Equal(t, "DONE", st.State)
	assert.Equal(t, []Position{{Symbol: spyCallSym, NetQty: 1}}, st.PositionsAfter)
	assert.False(t, sd.Exists(fileCloseIntent), "consumed intent is deleted")
}

func TestCloseReduceOnlySoundness(t *testing.T) {
	cfg := testConfig(t)
	sd := stateDir(cfg)
	now := time.Now()
	require.NoError(t, setRiskMode(sd, ModeNormal, "OK"))
	before := map[string]int{spyCallSym: 5, testPutSym: -4}
	writeBook(t, sd, before)
	writeCloseIntent(t, sd, now,
		DeriskAction{Symbol: spyCallSym, CloseSide: "SELL", Qty: 5}, // to flat
		DeriskAction{Symbol: testPutSym, CloseSide: "BUY", Qty: 1},
	)

	st, err := runOmsClose(sd, cfg, NewJournal(sd), now)
	require.NoError(t, err)
	require.Equal(t, "DONE", st.State)

	after := map[string]int{}
	for _, p := range st.PositionsAfter {
		after[p.Symbol] = p.NetQty
	}
	for sym, net := range before {
		netAfter := after[sym]
		assert.LessOrEqual(t, abs(netAfter), abs(net), "magnitude may only shrink: %s", sym)
		if netAfter != 0 {
			assert.Equal(t, sgn(net), sgn(netAfter), "sign may never flip: %s", sym)
		}
	}
	// flat position pruned
	_, present := after[spyCallSym]
	assert.False(t, present)
}

func TestCloseAggregatesDuplicateActions(t *testing.T) {
	cfg := testConfig(t)
	sd := stateDir(cfg)
	now := time.Now()
	require.NoError(t, setRiskMode(sd, ModeNormal, "OK"))
	writeBook(t, sd, map[string]int{spyCallSym: 5})
	writeCloseIntent(t, sd, now,
		DeriskAction{Symbol: spyCallSym, CloseSide: "SELL", Qty: 1},
		DeriskAction{Symbol: spyCallSym, CloseSide: "SELL", Qty: 2},
		DeriskAction{Symbol: "", CloseSide: "SELL", Qty: 9},       // dropped
		DeriskAction{Symbol: spyCallSym, CloseSide: "HOLD", Qty: 1}, // dropped
	)

	st, err := runOmsClose(sd, cfg, NewJournal(sd), now)
	require.NoError(t, err)
	require.Equal(t, "DONE", st.State)
	require.Len(t, st.Actions, 1)
	assert.Equal(t, 3, st.Actions[0].Qty)
	assert.Equal(t, []Position{{Symbol: spyCallSym, NetQty: 2}}, st.PositionsAfter)
}

func TestCloseEmptyIntentDeleted(t *testing.T) {
	cfg := testConfig(t)
	sd := stateDir(cfg)
	now := time.Now()
	require.NoError(t, setRiskMode(sd, ModeNormal, "OK"))
	writeCloseIntent(t, sd, now)

	st, err := runOmsClose(sd, cfg, NewJournal(sd), now)
	require.NoError(t, err)
	assert.Equal(t, "DONE", st.State)
	assert.Equal(t, "NO_ACTIONS_IN_INTENT", st.Reason)
	assert.False(t, sd.Exists(fileCloseIntent))
}

func TestCloseLockContention(t *testing.T) {
	cfg := testConfig(t)
	sd := stateDir(cfg)
	now := time.Now()
	require.NoError(t, setRiskMode(sd, ModeNormal, "OK"))
	require.True(t, sd.AcquireLock(fileCloseLock))
	defer sd.ReleaseLock(fileCloseLock)

	st, err := runOmsClose(sd, cfg, NewJournal(sd), now)
	require.NoError(t, err)
	assert.Equal(t, "LOCKED", st.State)
	assert.Equal(t, "ANOTHER_OMS_CLOSE_RUNNING", st.Reason)
}

func TestCloseUsesGreeksMidAsPriceProxy(t *testing.T) {
	cfg := testConfig(t)
	sd := stateDir(cfg)
	now := time.Now()
	require.NoError(t, setRiskMode(sd, ModeNormal, "OK"))
	writeBook(t, sd, map[string]int{spyCallSym: 2})
	writeGreeks(t, sd, PortfolioGreeks{
		Positions: []GreeksRow{{Symbol: spyCallSym, NetQty: 2, Mid: 4.85}},
	})
	writeCloseIntent(t, sd, now, DeriskAction{Symbol: spyCallSym, CloseSide: "SELL", Qty: 1})

	st, err := runOmsClose(sd, cfg, NewJournal(sd), now)
	require.NoError(t, err)
	require.Len(t, st.Steps, 1)
	require.NotNil(t, st.Steps[0].PriceProxy)
	assert.Equal(t, 4.85, *st.Steps[0].PriceProxy)
	assert.Equal(t, "SIM_FILLED", st.Steps[0].Result)
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
