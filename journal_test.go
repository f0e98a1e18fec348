// FILE: journal_test.go
// Package main – journal and state-plumbing tests.
package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJournalAppendsParsableLines(t *testing.T) {
	cfg := testConfig(t)
	sd := stateDir(cfg)
	jr := NewJournal(sd)

	jr.Append(mkEvent("OPEN_INTENT", "2026-08-02T12:00:00Z", "OPEN_EXEC_START", true, BrokerModePlanOnly, "", map[string]any{"candidate": "demo"}))
	jr.Append(mkEvent("OMS_POLL", "", "POLL_DONE", false, BrokerModeLive, "boom", nil))

	f, err := os.Open(sd.Path(fileJournal))
	require.NoError(t, err)
	defer f.Close()
	var events []JournalEvent
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var ev JournalEvent
		require.NoError(t, json.Unmarshal(sc.Bytes(), &ev), "every line must parse")
		events = append(events, ev)
	}
	require.Len(t, events, 2)
	assert.Equal(t, "OPEN_EXEC_START", events[0].Stage)
	assert.Equal(t, "demo", events[0].Data["candidate"])
	assert.False(t, events[1].OK)
	assert.Equal(t, "boom", events[1].Msg)
}

func TestJournalNeverFailsOnUnserializableData(t *testing.T) {
	cfg := testConfig(t)
	sd := stateDir(cfg)
	jr := NewJournal(sd)

	// a channel cannot be marshalled; the journal must degrade, not crash
	jr.Append(mkEvent("OPEN_INTENT", "", "BROKER_TRANSLATE_SUBMIT", true, BrokerModePlanOnly, "",
		map[string]any{"bad": make(chan int), "err": errors.New("wrapped"), "when": time.Unix(0, 0).UTC()}))

	f, err := os.Open(sd.Path(fileJournal))
	require.NoError(t, err)
	defer f.Close()
	sc := bufio.NewScanner(f)
	require.True(t, sc.Scan(), "the degraded event still lands")
	var ev JournalEvent
	require.NoError(t, json.Unmarshal(sc.Bytes(), &ev))
	assert.NotEmpty(t, ev.Data["bad"])
	assert.Equal(t, "wrapped", ev.Data["err"])
}

func TestAtomicWriteAndTolerantRead(t *testing.T) {
	cfg := testConfig(t)
	sd := stateDir(cfg)

	require.NoError(t, sd.WriteJSON("x.json", map[string]any{"a": 1, "later_field": "ignored"}))
	var out struct {
		A int `json:"a"`
	}
	require.NoError(t, sd.ReadJSON("x.json", &out))
	assert.Equal(t, 1, out.A)

	// no temp residue left behind
	entries, err := os.ReadDir(cfg.StateDir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), ".tmp_")
	}
}

func TestReadJSONMissingIsNoInput(t *testing.T) {
	cfg := testConfig(t)
	var v map[string]any
	err := stateDir(cfg).ReadJSON("absent.json", &v)
	assert.ErrorIs(t, err, errNoInput)
}

func TestLockExclusivity(t *testing.T) {
	cfg := testConfig(t)
	sd := stateDir(cfg)
	require.True(t, sd.AcquireLock("x.lock"))
	assert.False(t, sd.AcquireLock("x.lock"), "second holder must fail immediately")
	sd.ReleaseLock("x.lock")
	assert.True(t, sd.AcquireLock("x.lock"), "released lock is reusable")
	sd.ReleaseLock("x.lock")
}
