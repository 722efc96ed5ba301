// Package broker defines the Broker interface and the simulated broker that
// sources quotes and fills orders with randomised price and quantity
// slippage.
package broker

import (
	"context"

	"backtester/internal/domain"
)

// Broker abstracts quote retrieval and order execution for one order at a
// time.
type Broker interface {
	// Name returns the broker identifier (e.g. "simulator").
	Name() string

	// Quote fetches the current price and latest change for ticker.
	Quote(ctx context.Context, ticker string, quantity int64) (domain.Quote, error)

	// Execute fetches a fresh quote and fills the order against it.
	Execute(ctx context.Context, order domain.Order) (domain.Confirm, error)

	// ExecuteQuote fills the order against a quote the caller already holds,
	// so the same quote can be reused for marking the position.
	ExecuteQuote(ctx context.Context, order domain.Order, quote domain.Quote) (domain.Confirm, error)
}

// QuoteSource is the market-data collaborator the simulator prices against.
type QuoteSource interface {
	Quote(ctx context.Context, ticker string, quantity int64) (domain.Quote, error)
}

// QuoteSourceFunc adapts a function to QuoteSource.
type QuoteSourceFunc func(ctx context.Context, ticker string, quantity int64) (domain.Quote, error)

func (f QuoteSourceFunc) Quote(ctx context.Context, ticker string, quantity int64) (domain.Quote, error) {
	return f(ctx, ticker, quantity)
}
