package domain

import "time"

// Position represents the single open position for a symbol.
// At most one position exists per symbol; re-entering the same symbol
// merges into the existing position at a quantity-weighted average entry.
type Position struct {
	ID           int64
	Symbol       string
	Side         OrderSide
	Quantity     float64
	EntryPrice   float64 // quantity-weighted average across entries
	CurrentPrice float64
	StopLoss     float64 // 0 if not set
	TakeProfit   float64 // 0 if not set
	OpenedAt     time.Time
	Status       PositionStatus
}

// IsOpen checks if the position status is open.
func (p *Position) IsOpen() bool {
	return p.Status == StatusOpen
}

// UnrealizedPnL returns the mark-to-market profit at the current price.
func (p *Position) UnrealizedPnL() float64 {
	return p.PnLAt(p.CurrentPrice)
}

// PnLAt returns the profit the position would realize when exited at price.
func (p *Position) PnLAt(price float64) float64 {
	if p.Side == Sell {
		return (p.EntryPrice - price) * p.Quantity
	}
	return (price - p.EntryPrice) * p.Quantity
}

// Notional returns the position value at the given price.
func (p *Position) Notional(price float64) float64 {
	return p.Quantity * price
}

// Clone returns a copy so callers can hand out read-only snapshots.
func (p *Position) Clone() *Position {
	c := *p
	return &c
}
