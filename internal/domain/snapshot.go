package domain

// PortfolioSnapshot is a point-in-time, read-only view of the portfolio.
// Guardrail and risk checks evaluate against a snapshot so a single
// approval sees one consistent state.
type PortfolioSnapshot struct {
	TotalValue        float64 // cash plus mark-to-market position value
	CashAvailable     float64
	TotalExposure     float64 // sum of position notionals at current prices
	ExposurePct       float64 // TotalExposure / TotalValue
	UnrealizedPnL     float64
	DailyPnL          float64
	DrawdownPct       float64 // positive when below the daily starting value
	PositionCount     int
	ConsecutiveLosses int
	TradesToday       int
	Positions         []*Position
}

// HasPosition reports whether the snapshot holds a position for symbol.
func (s *PortfolioSnapshot) HasPosition(symbol string) bool {
	for _, p := range s.Positions {
		if p.Symbol == symbol {
			return true
		}
	}
	return false
}
