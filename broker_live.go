// FILE: broker_live.go
// Package main – LIVE broker over the venue REST API.
//
// Talks to an Alpaca-compatible trading API: option-chain lookup for symbol
// resolution, multi-leg DAY limit submission, and order status reads. All
// HTTP goes through retryablehttp with a short bounded retry policy.
//
// Submission is double-guarded: ALLOW_LIVE_ORDERS=1 must be exported AND
// LIVE_LIMIT_PRICE must carry the operator-approved net limit. Missing either
// one degrades the submit to a tagged refusal, never an order.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

type LiveBroker struct {
	base      string
	keyID     string
	secretKey string
	hc        *http.Client
}

// NewLiveBrokerFromEnv wires the live client from broker credential env.
// Credentials are validated lazily so PLAN_ONLY environments can still
// construct the binary.
func NewLiveBrokerFromEnv() *LiveBroker {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 3
	rc.RetryWaitMin = 250 * time.Millisecond
	rc.RetryWaitMax = 2 * time.Second
	rc.Logger = nil
	base := strings.TrimRight(getEnv("APCA_API_BASE_URL", "https://paper-api.alpaca.markets"), "/")
	return &LiveBroker{
		base:      base,
		keyID:     getEnv("APCA_API_KEY_ID", ""),
		secretKey: getEnv("APCA_API_SECRET_KEY", ""),
		hc:        rc.StandardClient(),
	}
}

func (b *LiveBroker) Mode() string { return BrokerModeLive }

func (b *LiveBroker) do(ctx context.Context, method, path string, body any) ([]byte, error) {
	if b.keyID == "" || b.secretKey == "" {
		return nil, errors.New("MISSING_API_KEYS_SET_APCA_API_KEY_ID_AND_APCA_API_SECRET_KEY")
	}
	var rdr io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		rdr = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, b.base+path, rdr)
	if err != nil {
		return nil, err
	}
	req.Header.Set("APCA-API-KEY-ID", b.keyID)
	req.Header.Set("APCA-API-SECRET-KEY", b.secretKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := b.hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("broker %s %s %d: %s", method, path, resp.StatusCode, string(data))
	}
	return data, nil
}

// optionContract is the subset of the chain payload the resolver needs.
type optionContract struct {
	Symbol         string `json:"symbol"`
	ExpirationDate string `json:"expiration_date"` // YYYY-MM-DD
	StrikePrice    string `json:"strike_price"`
	Type           string `json:"type"` // call | put
}

// ResolveVertical picks the expiration nearest to today+DTE within ±10 days
// whose chain contains exact strike matches (tolerance 1e-6).
func (b *LiveBroker) ResolveVertical(ctx context.Context, plan OrderPlan) (ResolvedVertical, error) {
	today := time.Now().UTC().Truncate(24 * time.Hour)
	target := today.AddDate(0, 0, plan.DTEDays)
	start := target.AddDate(0, 0, -10)
	end := target.AddDate(0, 0, 10)

	side := "put"
	if plan.IsCall {
		side = "call"
	}
	kLo := math.Min(plan.KLong, plan.KShort) - 0.001
	kHi := math.Max(plan.KLong, plan.KShort) + 0.001

	q := url.Values{}
	q.Set("underlying_symbols", strings.ToUpper(plan.Underlier))
	q.Set("expiration_date_gte", start.Format("2006-01-02"))
	q.Set("expiration_date_lte", end.Format("2006-01-02"))
	q.Set("type", side)
	q.Set("strike_price_gte", fmt.Sprintf("%.3f", kLo))
	q.Set("strike_price_lte", fmt.Sprintf("%.3f", kHi))
	q.Set("limit", "1000")

	data, err := b.do(ctx, "GET", "/v2/options/contracts?"+q.Encode(), nil)
	if err != nil {
		return ResolvedVertical{}, err
	}

	var payload struct {
		OptionContracts []optionContract `json:"option_contracts"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return ResolvedVertical{}, err
	}
	if len(payload.OptionContracts) == 0 {
		return ResolvedVertical{}, errors.New("NO_CONTRACTS_FOUND")
	}

	// nearest expiration to the target date
	bestExp := ""
	bestDiff := 0
	for _, c := range payload.OptionContracts {
		exp, err := time.Parse("2006-01-02", c.ExpirationDate)
		if err != nil {
			continue
		}
		diff := int(math.Abs(exp.Sub(target).Hours() / 24))
		if bestExp == "" || diff < bestDiff {
			bestExp, bestDiff = c.ExpirationDate, diff
		}
	}
	if bestExp == "" {
		return ResolvedVertical{}, errors.New("NO_EXPIRATIONS")
	}

	const tol = 1e-6
	longSym, shortSym := "", ""
	for _, c := range payload.OptionContracts {
		if c.ExpirationDate != bestExp {
			continue
		}
		strike, err := strconv.ParseFloat(c.StrikePrice, 64)
		if err != nil {
			continue
		}
		if longSym == "" && math.Abs(strike-plan.KLong) <= tol {
			longSym = c.Symbol
		}
		if shortSym == "" && math.Abs(strike-plan.KShort) <= tol {
			shortSym = c.Symbol
		}
	}
	if longSym == "" || shortSym == "" {
		return ResolvedVertical{}, fmt.Errorf("LEG_SYMBOL_NOT_FOUND exp=%s", bestExp)
	}

	expDate, _ := time.Parse("2006-01-02", bestExp)
	return ResolvedVertical{
		LongSymbol:  longSym,
		ShortSymbol: shortSym,
		Expiration:  strings.ReplaceAll(bestExp, "-", ""),
		DTEDays:     int(expDate.Sub(today).Hours() / 24),
	}, nil
}

// SubmitOpen resolves, enforces the live guards, and submits one multi-leg
// DAY limit order: long leg BUY ratio 1, short leg SELL ratio 1.
func (b *LiveBroker) SubmitOpen(ctx context.Context, plan OrderPlan) OpenResult {
	resolved, err := b.ResolveVertical(ctx, plan)
	if err != nil {
		return OpenResult{Mode: BrokerModeLive, Error: "RESOLVE_FAILED:" + err.Error()}
	}

	if getEnv("ALLOW_LIVE_ORDERS", "0") != "1" {
		return OpenResult{Mode: BrokerModeLive, Resolved: &resolved, Error: "LIVE_BLOCKED_SET_ALLOW_LIVE_ORDERS=1"}
	}
	limitStr := getEnv("LIVE_LIMIT_PRICE", "")
	if limitStr == "" {
		return OpenResult{Mode: BrokerModeLive, Resolved: &resolved, Error: "LIVE_NEEDS_LIMIT_PRICE_SET_LIVE_LIMIT_PRICE"}
	}
	limitPrice, err := strconv.ParseFloat(limitStr, 64)
	if err != nil || limitPrice <= 0 {
		return OpenResult{Mode: BrokerModeLive, Resolved: &resolved, Error: "LIVE_NEEDS_LIMIT_PRICE_SET_LIVE_LIMIT_PRICE"}
	}

	// mleg order: no top-level symbol
	body := map[string]any{
		"order_class":   "mleg",
		"qty":           strconv.Itoa(plan.Qty),
		"type":          "limit",
		"limit_price":   fmt.Sprintf("%.2f", limitPrice),
		"time_in_force": "day",
		"legs": []map[string]any{
			{"symbol": resolved.LongSymbol, "ratio_qty": "1", "side": "buy"},
			{"symbol": resolved.ShortSymbol, "ratio_qty": "1", "side": "sell"},
		},
	}
	data, err := b.do(ctx, "POST", "/v2/orders", body)
	if err != nil {
		return OpenResult{Mode: BrokerModeLive, Resolved: &resolved, Error: "BROKER_SUBMIT_FAILED:" + err.Error()}
	}

	var ord struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &ord); err != nil || ord.ID == "" {
		return OpenResult{Mode: BrokerModeLive, Resolved: &resolved, Error: "BROKER_SUBMIT_FAILED:no order id in response"}
	}

	return OpenResult{OK: true, Mode: BrokerModeLive, Submitted: true, Resolved: &resolved, OrderID: ord.ID}
}

func (b *LiveBroker) GetOrder(ctx context.Context, orderID string) (BrokerOrder, error) {
	data, err := b.do(ctx, "GET", "/v2/orders/"+url.PathEscape(orderID), nil)
	if err != nil {
		return BrokerOrder{}, err
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return BrokerOrder{}, err
	}
	status, _ := raw["status"].(string)
	return BrokerOrder{ID: orderID, Status: status, Raw: raw}, nil
}

func (b *LiveBroker) ListOpenOrders(ctx context.Context) ([]BrokerOrder, error) {
	data, err := b.do(ctx, "GET", "/v2/orders?status=open", nil)
	if err != nil {
		return nil, err
	}
	var raws []map[string]any
	if err := json.Unmarshal(data, &raws); err != nil {
		return nil, err
	}
	out := make([]BrokerOrder, 0, len(raws))
	for _, raw := range raws {
		id, _ := raw["id"].(string)
		status, _ := raw["status"].(string)
		out = append(out, BrokerOrder{ID: id, Status: status, Raw: raw})
	}
	return out, nil
}
