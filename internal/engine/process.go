package engine

import (
	"context"
	"fmt"
	"log/slog"

	"backtester/internal/broker"
	"backtester/internal/domain"
	"backtester/internal/metrics"
)

// Processor routes orders through a broker and books the results. The zero
// value logs to slog.Default and records no metrics.
type Processor struct {
	Log     *slog.Logger
	Metrics *metrics.Metrics
}

// Process executes order through b and books the confirm on pf using a zero
// Processor.
func Process(ctx context.Context, order domain.Order, b broker.Broker, pf *domain.Portfolio) (domain.Confirm, error) {
	return Processor{}.Process(ctx, order, b, pf)
}

// Process reads one quote for order, fills the order against it and applies
// the confirm to pf. The same quote's change marks the post-trade position.
// A quote or execution failure leaves pf untouched.
func (p Processor) Process(ctx context.Context, order domain.Order, b broker.Broker, pf *domain.Portfolio) (domain.Confirm, error) {
	quote, err := b.Quote(ctx, order.Ticker, order.Quantity)
	if err != nil {
		return domain.Confirm{}, err
	}
	confirm, err := b.ExecuteQuote(ctx, order, quote)
	if err != nil {
		return domain.Confirm{}, fmt.Errorf("executing order for %s: %w", order.Ticker, err)
	}

	trade := pf.Apply(confirm, quote.Change)

	log := p.Log
	if log == nil {
		log = slog.Default()
	}
	partial := confirm.Partial(order)
	if partial {
		log.Warn("partial fill",
			"ticker", order.Ticker,
			"requested", order.Quantity,
			"filled", confirm.QuantityFilled,
		)
	}
	log.Debug("trade booked",
		"ticker", trade.Ticker,
		"quantity", trade.Quantity,
		"price", trade.Price,
		"costs", trade.TradingCosts,
		"position", pf.Position,
		"pnl", pf.PnL,
	)
	p.Metrics.RecordOrder(order.Ticker, string(order.Side()), confirm.TradingCosts, partial)
	return confirm, nil
}
