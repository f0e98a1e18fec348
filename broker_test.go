// FILE: broker_test.go
// Package main – broker variant tests (PLAN_ONLY synthesis + LIVE REST).
package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlanOnlyResolveSynthesizesOCC(t *testing.T) {
	b := NewPlanOnlyBroker()
	plan := OrderPlan{Underlier: "qqq", IsCall: true, KLong: 600, KShort: 610, DTEDays: 30, Qty: 1}
	r, err := b.ResolveVertical(context.Background(), plan)
	require.NoError(t, err)
	assert.Equal(t, 30, r.DTEDays)

	long, ok := parseOCCSymbol(r.LongSymbol)
	require.True(t, ok)
	assert.Equal(t, "QQQ", long.Underlier)
	assert.Equal(t, 600.0, long.Strike)
	assert.True(t, long.IsCall)

	wantExp := time.Now().UTC().AddDate(0, 0, 30).Format("20060102")
	assert.Equal(t, wantExp, r.Expiration)
}

func TestPlanOnlyResolveRejectsDegenerate(t *testing.T) {
	b := NewPlanOnlyBroker()
	_, err := b.ResolveVertical(context.Background(), OrderPlan{Underlier: "QQQ", KLong: 600, KShort: 600})
	assert.Error(t, err)

	res := b.SubmitOpen(context.Background(), OrderPlan{})
	assert.False(t, res.OK)
	assert.Contains(t, res.Error, "RESOLVE_FAILED")
}

// chainHandler serves a minimal option-contract chain for QQQ calls.
func chainHandler(t *testing.T, expirations []string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		t.Helper()
		assert.Equal(t, "test-key", r.Header.Get("APCA-API-KEY-ID"))
		var contracts []map[string]any
		for _, exp := range expirations {
			for _, strike := range []string{"600", "610"} {
				contracts = append(contracts, map[string]any{
					"symbol":          "QQQ" + exp + "C" + strike,
					"expiration_date": exp[:4] + "-" + exp[4:6] + "-" + exp[6:],
					"strike_price":    strike,
					"type":            "call",
				})
			}
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"option_contracts": contracts})
	}
}

func liveBrokerFor(t *testing.T, url string) *LiveBroker {
	t.Helper()
	t.Setenv("APCA_API_KEY_ID", "test-key")
	t.Setenv("APCA_API_SECRET_KEY", "test-secret")
	t.Setenv("APCA_API_BASE_URL", url)
	return NewLiveBrokerFromEnv()
}

func TestLiveResolvePicksNearestExpiration(t *testing.T) {
	today := time.Now().UTC()
	near := today.AddDate(0, 0, 28).Format("20060102")
	far := today.AddDate(0, 0, 38).Format("20060102")

	mux := http.NewServeMux()
	mux.HandleFunc("/v2/options/contracts", chainHandler(t, []string{far, near}))
	srv := httptest.NewServer(mux)
	defer srv.Close()

	b := liveBrokerFor(t, srv.URL)
	plan := OrderPlan{Underlier: "QQQ", IsCall: true, KLong: 600, KShort: 610, DTEDays: 30, Qty: 2}
	r, err := b.ResolveVertical(context.Background(), plan)
	require.NoError(t, err)
	assert.Equal(t, near, r.Expiration, "28d beats 38d for a 30d target")
	assert.Equal(t, "QQQ"+near+"C600", r.LongSymbol)
	assert.Equal(t, "QQQ"+near+"C610", r.ShortSymbol)
}

func TestLiveSubmitGuards(t *testing.T) {
	today := time.Now().UTC().AddDate(0, 0, 30).Format("20060102")
	mux := http.NewServeMux()
	mux.HandleFunc("/v2/options/contracts", chainHandler(t, []string{today}))
	srv := httptest.NewServer(mux)
	defer srv.Close()

	b := liveBrokerFor(t, srv.URL)
	plan := OrderPlan{Underlier: "QQQ", IsCall: true, KLong: 600, KShort: 610, DTEDays: 30, Qty: 2}

	t.Setenv("ALLOW_LIVE_ORDERS", "0")
	res := b.SubmitOpen(context.Background(), plan)
	assert.False(t, res.OK)
	assert.Equal(t, "LIVE_BLOCKED_SET_ALLOW_LIVE_ORDERS=1", res.Error)
	require.NotNil(t, res.Resolved, "resolution happens before the guard")

	t.Setenv("ALLOW_LIVE_ORDERS", "1")
	t.Setenv("LIVE_LIMIT_PRICE", "")
	res = b.SubmitOpen(context.Background(), plan)
	assert.Equal(t, "LIVE_NEEDS_LIMIT_PRICE_SET_LIVE_LIMIT_PRICE", res.Error)
}

func TestLiveSubmitMultiLeg(t *testing.T) {
	exp := time.Now().UTC().AddDate(0, 0, 30).Format("20060102")

	var captured map[string]any
	mux := http.NewServeMux()
	mux.HandleFunc("/v2/options/contracts", chainHandler(t, []string{exp}))
	mux.HandleFunc("/v2/orders", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		_ = json.NewEncoder(w).Encode(map[string]any{"id": "ord-42", "status": "pending_new"})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	b := liveBrokerFor(t, srv.URL)
	t.Setenv("ALLOW_LIVE_ORDERS", "1")
	t.Setenv("LIVE_LIMIT_PRICE", "4.35")

	plan := OrderPlan{Underlier: "QQQ", IsCall: true, KLong: 600, KShort: 610, DTEDays: 30, Qty: 2, Tag: "T"}
	res := b.SubmitOpen(context.Background(), plan)
	require.True(t, res.OK, "error: %s", res.Error)
	assert.True(t, res.Submitted)
	assert.Equal(t, "ord-42", res.OrderID)

	assert.Equal(t, "mleg", captured["order_class"])
	assert.Equal(t, "day", captured["time_in_force"])
	assert.Equal(t, "limit", captured["type"])
	assert.Equal(t, "4.35", captured["limit_price"])
	legs := captured["legs"].([]any)
	require.Len(t, legs, 2)
	longLeg := legs[0].(map[string]any)
	shortLeg := legs[1].(map[string]any)
	assert.Equal(t, "buy", longLeg["side"])
	assert.Equal(t, "sell", shortLeg["side"])
	assert.Equal(t, "1", longLeg["ratio_qty"])
}

func TestLiveGetOrderAndMissingKeys(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v2/orders/ord-7", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"id": "ord-7", "status": "OrderStatus.FILLED"})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	b := liveBrokerFor(t, srv.URL)
	o, err := b.GetOrder(context.Background(), "ord-7")
	require.NoError(t, err)
	assert.Equal(t, "filled", normStatus(o.Status))

	t.Setenv("APCA_API_KEY_ID", "")
	noKeys := NewLiveBrokerFromEnv()
	_, err = noKeys.GetOrder(context.Background(), "ord-7")
	assert.ErrorContains(t, err, "MISSING_API_KEYS")
}
