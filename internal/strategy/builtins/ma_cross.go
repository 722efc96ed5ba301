// Package builtins provides the strategy implementations that ship with the
// backtester and the process-wide default registry that holds them.
package builtins

import (
	"gonum.org/v1/gonum/stat"

	"backtester/internal/domain"
	"backtester/internal/strategy"
)

// Compile-time interface check.
var _ strategy.Strategy = (*MACrossover)(nil)

// MACrossover compares the latest close with the mean close of the last
// Window bars. It buys when price is above the mean and the portfolio is not
// already long, and sells when price is below the mean and the portfolio is
// not already short. A price equal to the mean is a no-op.
type MACrossover struct {
	Window   int
	LongQty  int64
	ShortQty int64
}

// NewMACrossover creates a MACrossover strategy. shortQty is the signed
// quantity submitted on a sell signal and is expected to be negative.
func NewMACrossover(window int, longQty, shortQty int64) *MACrossover {
	return &MACrossover{
		Window:   window,
		LongQty:  longQty,
		ShortQty: shortQty,
	}
}

// OnData returns a buy or sell order on a crossover, nil otherwise. Fewer
// than Window bars of history is not an error; the strategy simply waits.
func (s *MACrossover) OnData(window []domain.Bar, inst domain.Instrument, pf domain.Snapshot) *domain.Order {
	n := len(window)
	if s.Window <= 0 || n < s.Window {
		return nil
	}

	closes := make([]float64, s.Window)
	for i, b := range window[n-s.Window:] {
		closes[i] = b.Close
	}
	mean := stat.Mean(closes, nil)
	last := closes[len(closes)-1]
	ts := window[n-1].Timestamp

	// The mean of a flat window can round away from its closes.
	if allEqual(closes) {
		return nil
	}

	switch {
	case last > mean && pf.IsNotLong():
		return domain.NewOrder(ts, inst.Symbol, s.LongQty)
	case last < mean && pf.IsNotShort():
		return domain.NewOrder(ts, inst.Symbol, s.ShortQty)
	default:
		return nil
	}
}

// allEqual reports whether every close equals the last one exactly.
func allEqual(closes []float64) bool {
	last := closes[len(closes)-1]
	for _, c := range closes {
		if c != last {
			return false
		}
	}
	return true
}
