package broker

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"testing"
	"time"

	"pgregory.net/rapid"

	"backtester/internal/domain"
)

// scriptedRand returns fixed draws so fills are exactly predictable.
type scriptedRand struct {
	noise    float64
	slippage int64
	bounds   []int64
}

func (r *scriptedRand) NormFloat64() float64 { return r.noise }

func (r *scriptedRand) Int64N(n int64) int64 {
	r.bounds = append(r.bounds, n)
	if r.slippage >= n {
		return n - 1
	}
	return r.slippage
}

func fixedQuote(price, change float64) QuoteSource {
	return QuoteSourceFunc(func(_ context.Context, ticker string, qty int64) (domain.Quote, error) {
		return domain.Quote{
			Ticker:    ticker,
			Price:     price,
			Change:    change,
			Quantity:  qty,
			Timestamp: time.Date(2024, 5, 1, 16, 0, 0, 0, time.UTC),
		}, nil
	})
}

func TestSimulatorBrokerName(t *testing.T) {
	b, err := NewSimulatorBroker(fixedQuote(1, 0), 0.5, &scriptedRand{})
	if err != nil {
		t.Fatalf("NewSimulatorBroker: %v", err)
	}
	if got := b.Name(); got != "simulator" {
		t.Errorf("SimulatorBroker.Name() = %q, want %q", got, "simulator")
	}
}

func TestNewSimulatorBrokerValidation(t *testing.T) {
	src := fixedQuote(1, 0)
	if _, err := NewSimulatorBroker(src, -0.1, &scriptedRand{}); err == nil {
		t.Error("negative rate accepted")
	}
	if _, err := NewSimulatorBroker(src, math.NaN(), &scriptedRand{}); err == nil {
		t.Error("NaN rate accepted")
	}
	if _, err := NewSimulatorBroker(nil, 0.5, &scriptedRand{}); err == nil {
		t.Error("nil source accepted")
	}
	if _, err := NewSimulatorBroker(src, 0.5, nil); err == nil {
		t.Error("nil rand accepted")
	}
}

func TestSimulatorBrokerExecute(t *testing.T) {
	tests := []struct {
		name       string
		qty        int64
		slippage   int64
		wantFilled int64
		wantBound  int64
	}{
		{"buy with slippage", 100, 7, 93, 25},
		{"sell with slippage", -100, 7, -93, 25},
		{"buy rounds bound up", 10, 2, 8, 3},
		{"single share never slips", 1, 0, 1, 1},
		{"zero quantity", 0, 0, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rng := &scriptedRand{noise: 0.25, slippage: tt.slippage}
			b, err := NewSimulatorBroker(fixedQuote(150, 1.5), 0.5, rng)
			if err != nil {
				t.Fatalf("NewSimulatorBroker: %v", err)
			}

			c, err := b.Execute(context.Background(), domain.Order{Ticker: "AAPL", Quantity: tt.qty})
			if err != nil {
				t.Fatalf("Execute: %v", err)
			}
			if c.QuantityFilled != tt.wantFilled {
				t.Errorf("QuantityFilled = %d, want %d", c.QuantityFilled, tt.wantFilled)
			}
			if c.ExecutedPrice != 150.25 {
				t.Errorf("ExecutedPrice = %v, want 150.25", c.ExecutedPrice)
			}
			wantCosts := 0.5 * math.Abs(float64(tt.qty))
			if c.TradingCosts != wantCosts {
				t.Errorf("TradingCosts = %v, want %v", c.TradingCosts, wantCosts)
			}
			if c.Ticker != "AAPL" {
				t.Errorf("Ticker = %q, want AAPL", c.Ticker)
			}
			if tt.wantBound > 0 {
				if len(rng.bounds) != 1 || rng.bounds[0] != tt.wantBound {
					t.Errorf("slippage bound = %v, want [%d]", rng.bounds, tt.wantBound)
				}
			} else if len(rng.bounds) != 0 {
				t.Errorf("zero quantity drew slippage %v", rng.bounds)
			}
		})
	}
}

func TestSimulatorBrokerExecuteQuoteUsesGivenQuote(t *testing.T) {
	calls := 0
	src := QuoteSourceFunc(func(_ context.Context, ticker string, qty int64) (domain.Quote, error) {
		calls++
		return domain.Quote{Ticker: ticker, Price: 999}, nil
	})
	b, err := NewSimulatorBroker(src, 0, &scriptedRand{})
	if err != nil {
		t.Fatalf("NewSimulatorBroker: %v", err)
	}

	c, err := b.ExecuteQuote(context.Background(), domain.Order{Ticker: "X", Quantity: 4}, domain.Quote{Ticker: "X", Price: 20})
	if err != nil {
		t.Fatalf("ExecuteQuote: %v", err)
	}
	if calls != 0 {
		t.Errorf("ExecuteQuote fetched %d quotes, want 0", calls)
	}
	if c.ExecutedPrice != 20 {
		t.Errorf("ExecutedPrice = %v, want 20", c.ExecutedPrice)
	}
	if c.ExecutedAt.IsZero() {
		t.Error("ExecutedAt not stamped for quote without timestamp")
	}
}

func TestSimulatorBrokerExtremeQuantity(t *testing.T) {
	b, err := NewSimulatorBroker(fixedQuote(10, 0), 0.5, &scriptedRand{})
	if err != nil {
		t.Fatalf("NewSimulatorBroker: %v", err)
	}

	c, err := b.Execute(context.Background(), domain.Order{Ticker: "X", Quantity: math.MinInt64})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if want := 0.5 * math.Pow(2, 63); c.TradingCosts != want {
		t.Errorf("TradingCosts = %v, want %v", c.TradingCosts, want)
	}
	if c.QuantityFilled >= 0 {
		t.Errorf("QuantityFilled = %d, want negative", c.QuantityFilled)
	}
}

func TestSimulatorBrokerQuoteErrors(t *testing.T) {
	upstream := errors.New("connection refused")
	b, err := NewSimulatorBroker(QuoteSourceFunc(func(context.Context, string, int64) (domain.Quote, error) {
		return domain.Quote{}, upstream
	}), 0.5, &scriptedRand{})
	if err != nil {
		t.Fatalf("NewSimulatorBroker: %v", err)
	}

	_, err = b.Execute(context.Background(), domain.Order{Ticker: "AAPL", Quantity: 10})
	if !errors.Is(err, domain.ErrDataUnavailable) {
		t.Errorf("Execute error = %v, want ErrDataUnavailable", err)
	}
	if !errors.Is(err, upstream) {
		t.Errorf("Execute error = %v, want upstream cause preserved", err)
	}

	cfgErr := quoteErrorFrom(t, domain.ErrConfigMissing)
	if !errors.Is(cfgErr, domain.ErrConfigMissing) || errors.Is(cfgErr, domain.ErrDataUnavailable) {
		t.Errorf("config error = %v, want ErrConfigMissing only", cfgErr)
	}
}

func quoteErrorFrom(t *testing.T, cause error) error {
	t.Helper()
	b, err := NewSimulatorBroker(QuoteSourceFunc(func(context.Context, string, int64) (domain.Quote, error) {
		return domain.Quote{}, cause
	}), 0.5, &scriptedRand{})
	if err != nil {
		t.Fatalf("NewSimulatorBroker: %v", err)
	}
	_, err = b.Quote(context.Background(), "AAPL", 1)
	return err
}

func TestNewRandRejectsBadVariance(t *testing.T) {
	for _, v := range []float64{-1, math.NaN(), math.Inf(1)} {
		if _, err := NewRand(rand.NewPCG(1, 2), v); err == nil {
			t.Errorf("NewRand(variance=%v) returned nil error", v)
		}
	}
	if _, err := NewRand(nil, 1); err == nil {
		t.Error("NewRand(nil source) returned nil error")
	}
}

func TestSeededRandReproducible(t *testing.T) {
	a, err := NewSeededRand(42, 1)
	if err != nil {
		t.Fatalf("NewSeededRand: %v", err)
	}
	b, err := NewSeededRand(42, 1)
	if err != nil {
		t.Fatalf("NewSeededRand: %v", err)
	}
	for i := 0; i < 10; i++ {
		if x, y := a.NormFloat64(), b.NormFloat64(); x != y {
			t.Fatalf("draw %d: %v != %v", i, x, y)
		}
		if x, y := a.Int64N(100), b.Int64N(100); x != y {
			t.Fatalf("draw %d: %v != %v", i, x, y)
		}
	}
}

func TestNoiseMoments(t *testing.T) {
	r, err := NewRand(rand.NewPCG(7, 11), 1)
	if err != nil {
		t.Fatalf("NewRand: %v", err)
	}
	const n = 20000
	var sum, sumSq float64
	for i := 0; i < n; i++ {
		x := r.NormFloat64()
		sum += x
		sumSq += x * x
	}
	mean := sum / n
	variance := sumSq/n - mean*mean
	if math.Abs(mean) > 0.05 {
		t.Errorf("noise mean = %v, want ~0", mean)
	}
	if math.Abs(variance-1) > 0.05 {
		t.Errorf("noise variance = %v, want ~1", variance)
	}
}

func TestFillBoundProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		q := rapid.Int64Range(-1_000_000, 1_000_000).Draw(t, "quantity")
		seed := rapid.Uint64Min(1).Draw(t, "seed")

		rng, err := NewSeededRand(seed, 1)
		if err != nil {
			t.Fatalf("NewSeededRand: %v", err)
		}
		b, err := NewSimulatorBroker(fixedQuote(100, 0), 0.5, rng)
		if err != nil {
			t.Fatalf("NewSimulatorBroker: %v", err)
		}

		c, err := b.Execute(context.Background(), domain.Order{Ticker: "T", Quantity: q})
		if err != nil {
			t.Fatalf("Execute: %v", err)
		}
		f := c.QuantityFilled
		if q == 0 {
			if f != 0 {
				t.Fatalf("zero order filled %d", f)
			}
			return
		}
		if (f > 0) != (q > 0) || f == 0 {
			t.Fatalf("fill %d has different sign from request %d", f, q)
		}
		if abs(f) > abs(q) {
			t.Fatalf("|fill| %d exceeds |request| %d", abs(f), abs(q))
		}
		if float64(abs(q)-abs(f)) >= maxSlippageFraction*float64(abs(q)) {
			t.Fatalf("slippage %d not below a quarter of %d", abs(q)-abs(f), abs(q))
		}
	})
}

func TestTradingCostsIndependentOfSeedProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		q := rapid.Int64Range(-100_000, 100_000).Draw(t, "quantity")
		rate := rapid.Float64Range(0, 5).Draw(t, "rate")
		seedA := rapid.Uint64Min(1).Draw(t, "seedA")
		seedB := rapid.Uint64Min(1).Draw(t, "seedB")

		costs := func(seed uint64) float64 {
			rng, err := NewSeededRand(seed, 1)
			if err != nil {
				t.Fatalf("NewSeededRand: %v", err)
			}
			b, err := NewSimulatorBroker(fixedQuote(50, 0), rate, rng)
			if err != nil {
				t.Fatalf("NewSimulatorBroker: %v", err)
			}
			c, err := b.Execute(context.Background(), domain.Order{Ticker: "T", Quantity: q})
			if err != nil {
				t.Fatalf("Execute: %v", err)
			}
			return c.TradingCosts
		}

		want := rate * float64(abs(q))
		if a, b := costs(seedA), costs(seedB); a != want || b != want {
			t.Fatalf("costs = (%v, %v), want %v", a, b, want)
		}
	})
}
