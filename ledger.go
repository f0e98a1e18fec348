// FILE: ledger.go
// Package main – Append-only fills ledger and the derived net-position book.
//
// positions.jsonl is append-only and never edited; the positions book is a
// pure fold over it (BUY adds, SELL subtracts, unknown sides ignored, flat
// symbols pruned). Rebuilding the book from the log is deterministic and
// idempotent.
package main

import (
	"bufio"
	"encoding/json"
	"os"
	"sort"
	"time"
)

// Fill is one executed contract lot. Qty is always positive; Side carries
// the direction.
type Fill struct {
	TS     string  `json:"ts"`
	Type   string  `json:"type"`
	Symbol string  `json:"symbol"`
	Qty    int     `json:"qty"`
	Side   string  `json:"side"`
	Price  float64 `json:"price"`
	Tag    string  `json:"tag"`
}

// Position is one net line of the positions book. NetQty is never zero.
type Position struct {
	Symbol string `json:"symbol"`
	NetQty int    `json:"net_qty"`
}

// PositionsBook is the durable snapshot written to positions_book.json.
type PositionsBook struct {
	TS        string     `json:"ts"`
	Positions []Position `json:"positions"`
}

// recordFill appends one fill line to the ledger.
func recordFill(sd StateDir, symbol string, qty int, side string, price float64, tag string) (Fill, error) {
	f := Fill{
		TS:     utcISO(time.Now()),
		Type:   "FILL",
		Symbol: symbol,
		Qty:    qty,
		Side:   side,
		Price:  price,
		Tag:    tag,
	}
	line, err := json.Marshal(f)
	if err != nil {
		return Fill{}, err
	}
	return f, sd.AppendLine(fileFills, line)
}

// loadPositionsMap folds the fills log into symbol → net qty. A missing log
// is an empty book, not an error.
func loadPositionsMap(sd StateDir) (map[string]int, error) {
	book := map[string]int{}
	f, err := os.Open(sd.Path(fileFills))
	if err != nil {
		if os.IsNotExist(err) {
			return book, nil
		}
		return nil, err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var evt Fill
		if err := json.Unmarshal(line, &evt); err != nil {
			continue // tolerate foreign lines in the shared log
		}
		if evt.Type != "FILL" || evt.Symbol == "" {
			continue
		}
		switch evt.Side {
		case "BUY":
			book[evt.Symbol] += evt.Qty
		case "SELL":
			book[evt.Symbol] -= evt.Qty
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	for sym, q := range book {
		if q == 0 {
			delete(book, sym)
		}
	}
	return book, nil
}

// positionsFromMap drops flats and emits symbol-sorted lines.
func positionsFromMap(m map[string]int) []Position {
	out := make([]Position, 0, len(m))
	for sym, q := range m {
		if q != 0 {
			out = append(out, Position{Symbol: sym, NetQty: q})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// positionsToMap is the inverse view used by the close executor.
func positionsToMap(book PositionsBook) map[string]int {
	m := make(map[string]int, len(book.Positions))
	for _, p := range book.Positions {
		if p.Symbol != "" {
			m[p.Symbol] = p.NetQty
		}
	}
	return m
}

// writePositionsBook materializes the book snapshot from the fills log.
func writePositionsBook(sd StateDir) (PositionsBook, error) {
	m, err := loadPositionsMap(sd)
	if err != nil {
		return PositionsBook{}, err
	}
	snap := PositionsBook{TS: utcISO(time.Now()), Positions: positionsFromMap(m)}
	if err := sd.WriteJSON(filePositionsBook, snap); err != nil {
		return PositionsBook{}, err
	}
	return snap, nil
}
