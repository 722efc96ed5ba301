package domain

// Portfolio is the position and PnL ledger of a single backtest run. It is
// owned by exactly one run and must not be shared between goroutines.
type Portfolio struct {
	Capital  int64   `json:"capital"`
	Position int64   `json:"position"`
	PnL      float64 `json:"pnl"`
	Trades   []Trade `json:"trades"`
}

// NewPortfolio creates a flat portfolio with the given initial capital.
func NewPortfolio(capital int64) *Portfolio {
	return &Portfolio{Capital: capital, Trades: []Trade{}}
}

func (p *Portfolio) IsLong() bool     { return p.Position > 0 }
func (p *Portfolio) IsShort() bool    { return p.Position < 0 }
func (p *Portfolio) IsNotLong() bool  { return !p.IsLong() }
func (p *Portfolio) IsNotShort() bool { return !p.IsShort() }

// Apply books an execution confirm. The trade is appended, the position is
// moved by the filled quantity, the post-trade position is marked against
// the quote's change and finally the trading costs are deducted. The order
// of the PnL steps is significant.
func (p *Portfolio) Apply(c Confirm, change float64) Trade {
	t := TradeFromConfirm(c)
	p.Trades = append(p.Trades, t)
	p.Position += c.QuantityFilled
	p.PnL += float64(p.Position) * change
	p.PnL -= c.TradingCosts
	return t
}

// Snapshot returns a read-only copy of the ledger totals.
func (p *Portfolio) Snapshot() Snapshot {
	return Snapshot{
		Capital:   p.Capital,
		Position:  p.Position,
		PnL:       p.PnL,
		NumTrades: len(p.Trades),
	}
}

// Clone returns a deep copy of the portfolio.
func (p *Portfolio) Clone() Portfolio {
	out := *p
	out.Trades = make([]Trade, len(p.Trades))
	copy(out.Trades, p.Trades)
	return out
}

// Snapshot is the view of a Portfolio handed to strategies. It is a value
// type so a strategy cannot alter the ledger it observes.
type Snapshot struct {
	Capital   int64
	Position  int64
	PnL       float64
	NumTrades int
}

func (s Snapshot) IsLong() bool     { return s.Position > 0 }
func (s Snapshot) IsShort() bool    { return s.Position < 0 }
func (s Snapshot) IsNotLong() bool  { return !s.IsLong() }
func (s Snapshot) IsNotShort() bool { return !s.IsShort() }
