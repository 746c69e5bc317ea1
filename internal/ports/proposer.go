package ports

import (
	"context"

	"riskcore/internal/domain"
)

// Proposer produces trade proposals for the orchestrator's decision step.
// Implementations live outside the risk core (LLM-driven agents, signal
// engines, manual consoles); the core only approves, sizes and settles.
type Proposer interface {
	// RequiredDataPoints returns the candle history needed before the
	// proposer is consulted.
	RequiredDataPoints() int

	// ProposeOrder inspects recent candles and the portfolio snapshot and
	// returns an order proposal, or nil when no action is wanted.
	ProposeOrder(ctx context.Context, symbol string, candles []*domain.Candle, snapshot *domain.PortfolioSnapshot) (*domain.OrderRequest, error)
}
