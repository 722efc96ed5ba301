package builtins

import (
	"sync"

	"backtester/internal/strategy"
)

// Names of the built-in strategies.
const (
	MACrossoverName = "ma_crossover"
	BuyAndHoldName  = "buy_and_hold"
	NoopName        = "noop"
)

var (
	defaultOnce     sync.Once
	defaultRegistry *strategy.Registry
)

// RegisterAll adds every built-in strategy to r.
func RegisterAll(r *strategy.Registry) {
	r.Register(MACrossoverName, func(w int, l, s int64) strategy.Strategy {
		return NewMACrossover(w, l, s)
	})
	r.Register(BuyAndHoldName, func(w int, l, s int64) strategy.Strategy {
		return NewBuyAndHold(w, l, s)
	})
	r.Register(NoopName, func(int, int64, int64) strategy.Strategy {
		return Noop{}
	})
}

// Default returns the process-wide registry populated with the built-in
// strategies. It is initialised exactly once, on first use.
func Default() *strategy.Registry {
	defaultOnce.Do(func() {
		r := strategy.NewRegistry()
		RegisterAll(r)
		defaultRegistry = r
	})
	return defaultRegistry
}
