package builtins

import (
	"backtester/internal/domain"
	"backtester/internal/strategy"
)

var (
	_ strategy.Strategy = (*BuyAndHold)(nil)
	_ strategy.Strategy = Noop{}
)

// BuyAndHold buys LongQty once the lookback window is filled and the
// portfolio is flat, then holds.
type BuyAndHold struct {
	Window  int
	LongQty int64
}

// NewBuyAndHold matches strategy.Constructor; the short quantity is unused.
func NewBuyAndHold(window int, longQty, _ int64) *BuyAndHold {
	return &BuyAndHold{Window: window, LongQty: longQty}
}

func (s *BuyAndHold) OnData(window []domain.Bar, inst domain.Instrument, pf domain.Snapshot) *domain.Order {
	if len(window) == 0 || len(window) < s.Window {
		return nil
	}
	if pf.Position != 0 || pf.NumTrades > 0 {
		return nil
	}
	return domain.NewOrder(window[len(window)-1].Timestamp, inst.Symbol, s.LongQty)
}

// Noop never trades. Useful as a baseline and for exercising data plumbing.
type Noop struct{}

func (Noop) OnData(_ []domain.Bar, _ domain.Instrument, _ domain.Snapshot) *domain.Order {
	return nil
}
