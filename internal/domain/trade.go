package domain

import "time"

// Trade is the persisted record of an executed entry fill.
// It is created open by the ledger and marked closed when the position exits.
type Trade struct {
	ID         int64  // database identifier
	ClientID   string // ULID assigned at execution time
	Symbol     string
	Side       OrderSide
	Quantity   float64
	EntryPrice float64
	ExitPrice  float64 // 0 while open
	PnL        float64 // 0 while open
	Status     PositionStatus
	IsPaper    bool
	EntryTime  time.Time
	ExitTime   time.Time // zero value while open
}
