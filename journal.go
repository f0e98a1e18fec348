// FILE: journal.go
// Package main – Append-only execution journal.
//
// Every stage appends JournalEvent lines to execution_journal.jsonl. The
// journal is audit-only: nothing in the core reads it back, and a journaling
// failure must never fail a tick. Marshal errors degrade to a stringified
// event rather than surfacing.
package main

import (
	"encoding/json"
	"fmt"
	"log"
	"time"
)

// JournalEvent is one audit line. Data must already be JSON-safe; anything the
// encoder rejects is downgraded to its string form.
type JournalEvent struct {
	TS         string         `json:"ts"`
	IntentType string         `json:"intent_type"`
	IntentTS   string         `json:"intent_ts"`
	Stage      string         `json:"stage"`
	OK         bool           `json:"ok"`
	Mode       string         `json:"mode"`
	Msg        string         `json:"msg"`
	Data       map[string]any `json:"data"`
}

// Journal appends events for a single state directory. Single writer per
// process; lines are short enough for OS-level write atomicity.
type Journal struct {
	sd StateDir
}

func NewJournal(sd StateDir) *Journal { return &Journal{sd: sd} }

func mkEvent(intentType, intentTS, stage string, ok bool, mode, msg string, data map[string]any) JournalEvent {
	if data == nil {
		data = map[string]any{}
	}
	return JournalEvent{
		TS:         utcISO(time.Now()),
		IntentType: intentType,
		IntentTS:   intentTS,
		Stage:      stage,
		OK:         ok,
		Mode:       mode,
		Msg:        msg,
		Data:       data,
	}
}

// Append writes one event line. Never returns an error to the caller: on a
// marshal failure the unserializable values are flattened to strings; on an
// I/O failure the event is logged and dropped.
func (j *Journal) Append(ev JournalEvent) {
	line, err := json.Marshal(ev)
	if err != nil {
		ev.Data = stringifyMap(ev.Data)
		line, err = json.Marshal(ev)
		if err != nil {
			log.Printf("[WARN] journal: unserializable event stage=%s: %v", ev.Stage, err)
			return
		}
	}
	if err := j.sd.AppendLine(fileJournal, line); err != nil {
		log.Printf("[WARN] journal append: %v", err)
		return
	}
	IncJournalEvent(ev.Stage, ev.OK)
}

// stringifyMap flattens every value to a JSON-safe string form.
func stringifyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		switch t := v.(type) {
		case nil, bool, string, float64, float32, int, int64:
			out[k] = t
		case time.Time:
			out[k] = utcISO(t)
		case error:
			out[k] = t.Error()
		default:
			if b, err := json.Marshal(t); err == nil {
				out[k] = json.RawMessage(b)
			} else {
				out[k] = fmt.Sprintf("%v", t)
			}
		}
	}
	return out
}
