// Package domain defines the core value types shared by the backtester:
// market bars, orders, quotes, execution confirms, trades and the portfolio
// ledger.
package domain

import (
	"fmt"
	"strings"
	"time"
)

// dateLayout is the date rendering used for daily and coarser bars.
const dateLayout = "2006-01-02"

// ---------------------------------------------------------------------------
// Market data
// ---------------------------------------------------------------------------

// Bar represents a single OHLCV bar for one instrument. Bars are produced by
// a market-data source and are never modified by the engine.
type Bar struct {
	Symbol    string    `json:"symbol"`
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    uint64    `json:"volume"`
}

// Date renders the bar timestamp the way the data provider keys it: a plain
// date for bars aligned to midnight, a date-time otherwise.
func (b Bar) Date() string {
	ts := b.Timestamp.UTC()
	if ts.Hour() == 0 && ts.Minute() == 0 && ts.Second() == 0 {
		return ts.Format(dateLayout)
	}
	return ts.Format(time.DateTime)
}

// Instrument identifies the instrument a backtest run targets.
type Instrument struct {
	Symbol string `json:"symbol"`
}

// NewInstrument returns an Instrument with a normalised symbol.
func NewInstrument(symbol string) Instrument {
	return Instrument{Symbol: strings.ToUpper(strings.TrimSpace(symbol))}
}

// Interval is the sampling frequency of a bar series.
type Interval string

const (
	IntervalMinute Interval = "minute"
	IntervalHour   Interval = "hour"
	IntervalDay    Interval = "day"
	IntervalWeek   Interval = "week"
	IntervalMonth  Interval = "month"
)

// Intervals lists every supported interval from finest to coarsest.
var Intervals = []Interval{IntervalMinute, IntervalHour, IntervalDay, IntervalWeek, IntervalMonth}

// ParseInterval converts a user supplied string into an Interval. Common
// abbreviations ("1m", "1h", "1d", "1w", "1mo") are accepted.
func ParseInterval(s string) (Interval, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "minute", "min", "1m", "1min":
		return IntervalMinute, nil
	case "hour", "1h", "60min":
		return IntervalHour, nil
	case "day", "daily", "1d", "":
		return IntervalDay, nil
	case "week", "weekly", "1w":
		return IntervalWeek, nil
	case "month", "monthly", "1mo":
		return IntervalMonth, nil
	default:
		return "", fmt.Errorf("unknown interval %q", s)
	}
}

// ---------------------------------------------------------------------------
// Orders and execution
// ---------------------------------------------------------------------------

// Side is the direction of an order derived from its quantity sign.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
	SideNone Side = "none"
)

// Order is a strategy's intent to trade. Positive quantities buy, negative
// quantities sell.
type Order struct {
	Timestamp time.Time `json:"timestamp"`
	Ticker    string    `json:"ticker"`
	Quantity  int64     `json:"quantity"`
}

// NewOrder creates an Order stamped with the given time.
func NewOrder(ts time.Time, ticker string, quantity int64) *Order {
	return &Order{Timestamp: ts, Ticker: ticker, Quantity: quantity}
}

// Side returns the direction encoded by the quantity sign.
func (o Order) Side() Side {
	switch {
	case o.Quantity > 0:
		return SideBuy
	case o.Quantity < 0:
		return SideSell
	default:
		return SideNone
	}
}

// Quote is the broker's view of the market for one order: the current price
// and the latest price change used to mark the open position.
type Quote struct {
	Ticker    string    `json:"ticker"`
	Price     float64   `json:"price"`
	Change    float64   `json:"change"`
	Quantity  int64     `json:"quantity"`
	Timestamp time.Time `json:"timestamp"`
}

// OrderResult is the raw stochastic outcome of attempting to fill an order.
type OrderResult struct {
	Ticker         string    `json:"ticker"`
	Timestamp      time.Time `json:"timestamp"`
	FilledQuantity int64     `json:"filled_quantity"`
	FilledPrice    float64   `json:"filled_price"`
}

// Confirm is the final execution record returned by the broker.
type Confirm struct {
	Ticker         string    `json:"ticker"`
	ExecutedAt     time.Time `json:"executed_at"`
	QuantityFilled int64     `json:"quantity_filled"`
	ExecutedPrice  float64   `json:"executed_price"`
	TradingCosts   float64   `json:"trading_costs"`
}

// Partial reports whether the confirm filled less than the order requested.
func (c Confirm) Partial(o Order) bool {
	return c.QuantityFilled != o.Quantity
}

// Trade is an append-only ledger entry created from exactly one Confirm.
type Trade struct {
	Timestamp    time.Time `json:"timestamp"`
	Ticker       string    `json:"ticker"`
	Price        float64   `json:"price"`
	Quantity     int64     `json:"quantity"`
	TradingCosts float64   `json:"trading_costs"`
}

// TradeFromConfirm converts an execution confirm into a ledger entry.
func TradeFromConfirm(c Confirm) Trade {
	return Trade{
		Timestamp:    c.ExecutedAt,
		Ticker:       c.Ticker,
		Price:        c.ExecutedPrice,
		Quantity:     c.QuantityFilled,
		TradingCosts: c.TradingCosts,
	}
}
