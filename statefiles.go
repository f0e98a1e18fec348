// FILE: statefiles.go
// Package main – Durable state plumbing shared by every stage.
//
// All inter-stage communication goes through JSON files in one state
// directory. Writers create a sibling temp file and rename it over the
// destination, so readers always observe a complete snapshot. Append-only
// files (fills, journal) get line-at-a-time appends. Exclusive lock files
// use O_CREAT|O_EXCL semantics.
//
// The directory is an explicit value (StateDir) threaded through the stages;
// library code never reads STATE_DIR from the process environment.
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// State file names (all relative to the state directory).
const (
	fileMarketState    = "market_state.json"
	fileFills          = "positions.jsonl"
	filePositionsBook  = "positions_book.json"
	filePortfolioGreek = "portfolio_greeks.json"
	fileRiskMode       = "risk_mode.json"
	fileRiskEval       = "risk_eval.json"
	fileGateOut        = "gate_out.json"
	fileOpenPlan       = "open_plan.json"
	fileOpenIntent     = "open_intent.json"
	fileOpenOrders     = "open_orders.json"
	fileDeriskPlan     = "derisk_plan.json"
	fileDeriskExec     = "derisk_exec.json"
	fileDeallocPlan    = "dealloc_plan.json"
	fileCloseIntent    = "close_intent.json"
	fileJournal        = "execution_journal.jsonl"
	fileTickState      = "tick_state.json"
	fileOmsOpenState   = "oms_open_state.json"
	fileOpenExecState  = "oms_open_exec_state.json"
	fileOmsCloseState  = "oms_close_state.json"
	fileOmsState       = "oms_state.json"
	filePollState      = "oms_poll_state.json"
	fileTickLock       = "tick.lock"
	fileCloseLock      = "oms_close.lock"
)

// errNoInput tags a stage outcome where an upstream file is simply absent
// (first boot, quiet hours). The orchestrator records NO_INPUT and continues.
var errNoInput = errors.New("no input")

// rejectError tags an invalid-input outcome. The stage has already written its
// own state with the reason; the orchestrator records REJECT and continues.
type rejectError struct{ reason string }

func (e *rejectError) Error() string { return e.reason }

func reject(format string, args ...any) error {
	return &rejectError{reason: fmt.Sprintf(format, args...)}
}

// StateDir is the root of all durable state for one governor instance.
type StateDir string

func (sd StateDir) Path(name string) string { return filepath.Join(string(sd), name) }

func (sd StateDir) Ensure() error { return os.MkdirAll(string(sd), 0o755) }

func (sd StateDir) Exists(name string) bool {
	_, err := os.Stat(sd.Path(name))
	return err == nil
}

// ReadJSON decodes the named state file into v. A missing file maps to
// errNoInput; unknown fields in the input are ignored.
func (sd StateDir) ReadJSON(name string, v any) error {
	data, err := os.ReadFile(sd.Path(name))
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%s: %w", name, errNoInput)
		}
		return fmt.Errorf("read %s: %w", name, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", name, err)
	}
	return nil
}

// WriteJSON writes v atomically: temp file in the same directory, fsync-free
// rename over the destination.
func (sd StateDir) WriteJSON(name string, v any) error {
	if err := sd.Ensure(); err != nil {
		return err
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}
	dst := sd.Path(name)
	tmp, err := os.CreateTemp(string(sd), ".tmp_*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	_, werr := tmp.Write(append(data, '\n'))
	cerr := tmp.Close()
	if werr != nil || cerr != nil {
		_ = os.Remove(tmpName)
		if werr != nil {
			return werr
		}
		return cerr
	}
	if err := os.Rename(tmpName, dst); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return nil
}

// AppendLine appends one line to an append-only file. Lines are kept short so
// the write is atomic at the OS level.
func (sd StateDir) AppendLine(name string, line []byte) error {
	if err := sd.Ensure(); err != nil {
		return err
	}
	f, err := os.OpenFile(sd.Path(name), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.Write(append(line, '\n'))
	return err
}

// Remove deletes a state file if present; reports whether a file was removed.
func (sd StateDir) Remove(name string) bool {
	err := os.Remove(sd.Path(name))
	return err == nil
}

// AcquireLock creates an exclusive lock file. Returns false without waiting
// when another holder exists.
func (sd StateDir) AcquireLock(name string) bool {
	if err := sd.Ensure(); err != nil {
		return false
	}
	f, err := os.OpenFile(sd.Path(name), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return false
	}
	_, _ = fmt.Fprintf(f, "%d %s\n", os.Getpid(), utcISO(time.Now()))
	_ = f.Close()
	return true
}

func (sd StateDir) ReleaseLock(name string) { _ = os.Remove(sd.Path(name)) }

// utcISO renders the canonical timestamp used across all state files.
func utcISO(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05Z")
}
