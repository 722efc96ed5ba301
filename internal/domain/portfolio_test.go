package domain

import (
	"math"
	"testing"
	"time"
)

func TestPortfolioApply(t *testing.T) {
	p := NewPortfolio(1000)
	ts := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

	// Buy 80 at 10.5 with change 2: pnl = 80*2 - 50.
	tr := p.Apply(Confirm{
		Ticker:         "AAPL",
		ExecutedAt:     ts,
		QuantityFilled: 80,
		ExecutedPrice:  10.5,
		TradingCosts:   50,
	}, 2)

	if tr.Quantity != 80 || tr.Price != 10.5 || tr.Ticker != "AAPL" {
		t.Errorf("Apply returned trade %+v", tr)
	}
	if p.Position != 80 {
		t.Errorf("Position = %d, want 80", p.Position)
	}
	if math.Abs(p.PnL-110) > 1e-9 {
		t.Errorf("PnL = %v, want 110", p.PnL)
	}

	// Sell 90 with change -1: position -10, pnl = 110 + (-10 * -1) - 45.
	p.Apply(Confirm{Ticker: "AAPL", ExecutedAt: ts, QuantityFilled: -90, ExecutedPrice: 9, TradingCosts: 45}, -1)
	if p.Position != -10 {
		t.Errorf("Position = %d, want -10", p.Position)
	}
	if math.Abs(p.PnL-75) > 1e-9 {
		t.Errorf("PnL = %v, want 75", p.PnL)
	}
	if len(p.Trades) != 2 {
		t.Fatalf("len(Trades) = %d, want 2", len(p.Trades))
	}
	if !p.IsShort() || p.IsLong() {
		t.Error("portfolio should be short")
	}
}

func TestPortfolioSnapshotIsDetached(t *testing.T) {
	p := NewPortfolio(500)
	p.Apply(Confirm{QuantityFilled: 5, ExecutedPrice: 1}, 0)

	snap := p.Snapshot()
	p.Apply(Confirm{QuantityFilled: 5, ExecutedPrice: 1}, 0)

	if snap.Position != 5 || snap.NumTrades != 1 {
		t.Errorf("snapshot changed after Apply: %+v", snap)
	}
	if !snap.IsLong() || snap.IsNotLong() {
		t.Error("snapshot should report long")
	}
}

func TestPortfolioClone(t *testing.T) {
	p := NewPortfolio(500)
	p.Apply(Confirm{QuantityFilled: 5, ExecutedPrice: 1}, 0)

	c := p.Clone()
	c.Trades[0].Quantity = 99
	if p.Trades[0].Quantity != 5 {
		t.Error("Clone shares the trade slice with the original")
	}
}

func TestConfirmPartial(t *testing.T) {
	o := Order{Quantity: 100}
	if (Confirm{QuantityFilled: 100}).Partial(o) {
		t.Error("full fill reported as partial")
	}
	if !(Confirm{QuantityFilled: 80}).Partial(o) {
		t.Error("80/100 fill not reported as partial")
	}
}
