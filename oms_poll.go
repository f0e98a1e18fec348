// FILE: oms_poll.go
// Package main – Order status poller and alert severity mapping.
//
// For every tracked order: fetch the broker status, normalize it to a stable
// lowercase token, journal transitions, alert on (status, severity) changes,
// and prune entries once terminal. PLAN_ONLY runs are a no-op whenever the
// tracked set is empty, which is the steady state in that mode.
package main

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
)

// OpenOrderEntry is one tracked order in open_orders.json.
type OpenOrderEntry struct {
	OrderID           string         `json:"order_id"`
	Status            string         `json:"status"`
	LastSeen          string         `json:"last_seen"`
	Tag               string         `json:"tag,omitempty"`
	Signature         string         `json:"signature,omitempty"`
	LastAlertStatus   string         `json:"last_alert_status,omitempty"`
	LastAlertSeverity string         `json:"last_alert_severity,omitempty"`
	Raw               map[string]any `json:"raw,omitempty"`
}

// OpenOrdersStore is the durable tracked-order set.
type OpenOrdersStore struct {
	TS     string                    `json:"ts"`
	Mode   string                    `json:"mode"`
	Orders map[string]OpenOrderEntry `json:"orders"`
}

// loadOpenOrders reads the store, defaulting to an empty tracked set.
func loadOpenOrders(sd StateDir, mode string) OpenOrdersStore {
	var store OpenOrdersStore
	if err := sd.ReadJSON(fileOpenOrders, &store); err != nil || store.Orders == nil {
		store = OpenOrdersStore{TS: utcISO(time.Now()), Mode: mode, Orders: map[string]OpenOrderEntry{}}
	}
	return store
}

// PollChange records one observed status transition.
type PollChange struct {
	OrderID string `json:"order_id"`
	Prev    string `json:"prev"`
	New     string `json:"new"`
}

// PollState is the per-run state of the poller.
type PollState struct {
	TS        string       `json:"ts"`
	Mode      string       `json:"mode"`
	OK        bool         `json:"ok"`
	State     string       `json:"state"` // NO_ORDERS | POLL_OK | POLL_PARTIAL
	NOrders   int          `json:"n_orders"`
	Changed   []PollChange `json:"changed"`
	Pruned    []string     `json:"pruned"`
	Errors    []string     `json:"errors"`
	ElapsedMS int64        `json:"elapsed_ms"`
}

// normStatus flattens broker status values ("OrderStatus.ACCEPTED", enums,
// mixed case) to stable lowercase tokens.
func normStatus(s string) string {
	txt := strings.TrimSpace(s)
	if txt == "" {
		return "unknown"
	}
	if i := strings.LastIndex(txt, "."); i >= 0 {
		txt = txt[i+1:]
	}
	return strings.ToLower(txt)
}

// isTerminalStatus reports whether an order can no longer change.
func isTerminalStatus(s string) bool {
	switch normStatus(s) {
	case "filled", "canceled", "rejected", "expired", "failed":
		return true
	}
	return false
}

// alertSeverity maps a normalized status to the external alert color.
func alertSeverity(s string) string {
	switch normStatus(s) {
	case "new", "pending_new", "accepted":
		return "YELLOW"
	case "partially_filled", "replaced":
		return "ORANGE"
	case "filled", "canceled", "rejected", "expired", "failed":
		return "RED"
	}
	return ""
}

// runOmsPoll polls every tracked order once.
func runOmsPoll(ctx context.Context, sd StateDir, broker Broker, jr *Journal) (PollState, error) {
	t0 := time.Now()
	ts := utcISO(t0)
	mode := broker.Mode()

	store := loadOpenOrders(sd, mode)
	orderIDs := make([]string, 0, len(store.Orders))
	for id := range store.Orders {
		orderIDs = append(orderIDs, id)
	}
	sort.Strings(orderIDs)

	jr.Append(mkEvent("OMS_POLL", ts, "POLL_START", true, mode,
		"", map[string]any{"n_orders": len(orderIDs)}))

	res := PollState{
		TS: ts, Mode: mode, OK: true, State: "NO_ORDERS",
		NOrders: len(orderIDs), Changed: []PollChange{}, Pruned: []string{}, Errors: []string{},
	}
	if len(orderIDs) == 0 {
		res.ElapsedMS = time.Since(t0).Milliseconds()
		jr.Append(mkEvent("OMS_POLL", ts, "POLL_DONE", true, mode, "", map[string]any{"state": res.State}))
		return res, sd.WriteJSON(filePollState, res)
	}

	for _, oid := range orderIDs {
		entry := store.Orders[oid]
		prev := normStatus(entry.Status)

		o, err := broker.GetOrder(ctx, oid)
		if err != nil {
			msg := fmt.Sprintf("ORDER_ERROR:%s:%v", oid, err)
			res.Errors = append(res.Errors, msg)
			jr.Append(mkEvent("OMS_POLL", ts, "ORDER_ERROR", false, mode, msg, map[string]any{"order_id": oid}))
			continue
		}
		next := normStatus(o.Status)

		entry.OrderID = oid
		entry.Status = next
		entry.LastSeen = ts
		entry.Raw = o.Raw

		if next != prev {
			res.Changed = append(res.Changed, PollChange{OrderID: oid, Prev: prev, New: next})
			jr.Append(mkEvent("OMS_POLL", ts, "OPEN_POLL", true, mode, "",
				map[string]any{"order_id": oid, "prev": prev, "new": next, "tag": entry.Tag}))
		}

		// Alert only when the (status, severity) pair moved.
		if sev := alertSeverity(next); sev != "" {
			if entry.LastAlertStatus != next || entry.LastAlertSeverity != sev {
				entry.LastAlertStatus = next
				entry.LastAlertSeverity = sev
				IncOrderAlert(sev)
				jr.Append(mkEvent("OMS_POLL", ts, "POLL_ALERT", true, mode, "",
					map[string]any{"order_id": oid, "status": next, "severity": sev, "tag": entry.Tag}))
			}
		}

		if isTerminalStatus(next) {
			delete(store.Orders, oid)
			res.Pruned = append(res.Pruned, oid)
			continue
		}
		store.Orders[oid] = entry
	}

	store.TS = ts
	store.Mode = mode
	if err := sd.WriteJSON(fileOpenOrders, store); err != nil {
		return PollState{}, err
	}

	res.OK = len(res.Errors) == 0
	if res.OK {
		res.State = "POLL_OK"
	} else {
		res.State = "POLL_PARTIAL"
	}
	res.ElapsedMS = time.Since(t0).Milliseconds()
	jr.Append(mkEvent("OMS_POLL", ts, "POLL_DONE", res.OK, mode,
		"", map[string]any{"state": res.State, "changed": len(res.Changed), "pruned": len(res.Pruned)}))
	return res, sd.WriteJSON(filePollState, res)
}
