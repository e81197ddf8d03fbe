package main

import (
	"encoding/json"
	"math/rand"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"btcalerts/internal/marketdata/ws"
)

func TestWalkPrice_StaysWithinStep(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	p := decimal.NewFromInt(43000)
	limit := decimal.NewFromFloat(0.0005)
	for i := 0; i < 1000; i++ {
		next := walkPrice(rng, p)
		if !next.IsPositive() {
			t.Fatalf("step %d: non-positive price %s", i, next)
		}
		// rounding to cents adds at most 0.005 on top of the relative step
		if next.Sub(p).Abs().GreaterThan(p.Mul(limit).Add(decimal.NewFromFloat(0.005))) {
			t.Fatalf("step %d: %s -> %s exceeds 0.05%%", i, p, next)
		}
		if next.Exponent() < -2 {
			t.Fatalf("step %d: %s has more than 2 decimals", i, next)
		}
		p = next
	}
}

func TestAggTrade_AcceptedByFeedParser(t *testing.T) {
	ts := time.Date(2024, 1, 2, 3, 4, 5, 120e6, time.UTC)
	b, err := json.Marshal(aggTrade{
		Event:     "aggTrade",
		EventTime: ts.UnixMilli(),
		Symbol:    "BTCUSDT",
		Price:     "43250.12",
		Qty:       "0.015",
		TradeTime: ts.UnixMilli(),
	})
	if err != nil {
		t.Fatal(err)
	}
	tick, err := ws.ParseAggTrade(b)
	if err != nil {
		t.Fatalf("ParseAggTrade: %v", err)
	}
	if !tick.Price.Equal(decimal.RequireFromString("43250.12")) {
		t.Errorf("price = %s", tick.Price)
	}
	if !tick.TS.Equal(ts) {
		t.Errorf("ts = %v, want %v", tick.TS, ts)
	}
}
