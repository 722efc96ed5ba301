package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"backtester/internal/domain"
)

// Compile-time interface check.
var _ Broker = (*SimulatorBroker)(nil)

// maxSlippageFraction bounds quantity slippage to a quarter of the requested
// size, so a fill can shrink but never flips direction.
const maxSlippageFraction = 0.25

// SimulatorBroker implements the Broker interface for backtesting. Prices
// come from a QuoteSource; fills add Normal noise to the quoted price and
// shave a uniform random amount off the requested quantity. Trading costs
// are charged per requested share.
//
// A SimulatorBroker is not safe for concurrent use because its Rand is not;
// give each backtest run its own instance.
type SimulatorBroker struct {
	source QuoteSource
	rate   float64
	rng    Rand
	now    func() time.Time
	log    *slog.Logger
}

// Option configures a SimulatorBroker.
type Option func(*SimulatorBroker)

// WithClock overrides the clock used to stamp confirms when the quote
// carries no timestamp.
func WithClock(now func() time.Time) Option {
	return func(b *SimulatorBroker) { b.now = now }
}

// WithLogger sets the logger used for fill diagnostics.
func WithLogger(log *slog.Logger) Option {
	return func(b *SimulatorBroker) { b.log = log }
}

// NewSimulatorBroker creates a SimulatorBroker charging rate per requested
// share. rate must be non-negative and finite.
func NewSimulatorBroker(source QuoteSource, rate float64, rng Rand, opts ...Option) (*SimulatorBroker, error) {
	if source == nil {
		return nil, errors.New("simulator broker: nil quote source")
	}
	if rng == nil {
		return nil, errors.New("simulator broker: nil random source")
	}
	if rate < 0 || math.IsNaN(rate) || math.IsInf(rate, 0) {
		return nil, fmt.Errorf("simulator broker: invalid trading cost rate %v", rate)
	}

	b := &SimulatorBroker{
		source: source,
		rate:   rate,
		rng:    rng,
		now:    time.Now,
		log:    slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.log = b.log.With("component", "broker", "broker", b.Name())
	return b, nil
}

// Name returns "simulator".
func (b *SimulatorBroker) Name() string {
	return "simulator"
}

// Rate returns the trading cost charged per requested share.
func (b *SimulatorBroker) Rate() float64 {
	return b.rate
}

// Quote delegates to the quote source. Failures are reported as
// domain.ErrDataUnavailable unless the source already classified them.
func (b *SimulatorBroker) Quote(ctx context.Context, ticker string, quantity int64) (domain.Quote, error) {
	q, err := b.source.Quote(ctx, ticker, quantity)
	if err != nil {
		if errors.Is(err, domain.ErrDataUnavailable) || errors.Is(err, domain.ErrConfigMissing) {
			return domain.Quote{}, fmt.Errorf("quoting %s: %w", ticker, err)
		}
		return domain.Quote{}, fmt.Errorf("quoting %s: %w: %w", ticker, domain.ErrDataUnavailable, err)
	}
	if q.Ticker == "" {
		q.Ticker = ticker
	}
	q.Quantity = quantity
	return q, nil
}

// Execute fetches a fresh quote for the order and fills against it.
func (b *SimulatorBroker) Execute(ctx context.Context, order domain.Order) (domain.Confirm, error) {
	quote, err := b.Quote(ctx, order.Ticker, order.Quantity)
	if err != nil {
		return domain.Confirm{}, err
	}
	return b.ExecuteQuote(ctx, order, quote)
}

// ExecuteQuote fills order against quote and returns the confirm.
func (b *SimulatorBroker) ExecuteQuote(_ context.Context, order domain.Order, quote domain.Quote) (domain.Confirm, error) {
	costs := b.TradingCosts(order)
	res := b.Fill(order, quote)

	b.log.Debug("order filled",
		"ticker", order.Ticker,
		"requested", order.Quantity,
		"filled", res.FilledQuantity,
		"quote", quote.Price,
		"price", res.FilledPrice,
		"costs", costs,
	)

	return domain.Confirm{
		Ticker:         res.Ticker,
		ExecutedAt:     res.Timestamp,
		QuantityFilled: res.FilledQuantity,
		ExecutedPrice:  res.FilledPrice,
		TradingCosts:   costs,
	}, nil
}

// TradingCosts returns rate * |order.Quantity|. Costs are priced on the
// requested size, not the filled size.
func (b *SimulatorBroker) TradingCosts(order domain.Order) float64 {
	return b.rate * float64(abs(order.Quantity))
}

// Fill draws the stochastic execution outcome of order against quote.
func (b *SimulatorBroker) Fill(order domain.Order, quote domain.Quote) domain.OrderResult {
	ts := quote.Timestamp
	if ts.IsZero() {
		ts = b.now().UTC()
	}
	return domain.OrderResult{
		Ticker:         order.Ticker,
		Timestamp:      ts,
		FilledQuantity: b.filledQuantity(order.Quantity),
		FilledPrice:    quote.Price + b.rng.NormFloat64(),
	}
}

// filledQuantity shaves a uniform slippage in [0, ceil(0.25*|q|)) off the
// magnitude of q. The largest draw is strictly below a quarter of |q|, so
// the sign of a non-zero request is preserved.
func (b *SimulatorBroker) filledQuantity(q int64) int64 {
	if q == 0 {
		return 0
	}
	bound := int64(math.Ceil(maxSlippageFraction * float64(abs(q))))
	if bound < 1 {
		bound = 1
	}
	slippage := b.rng.Int64N(bound)
	if q < 0 {
		return q + slippage
	}
	return q - slippage
}

// abs returns |v| as a uint64 so math.MinInt64 does not overflow.
func abs(v int64) uint64 {
	if v < 0 {
		return uint64(-v)
	}
	return uint64(v)
}
