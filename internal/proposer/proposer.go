// Package proposer holds in-process implementations of the ports.Proposer
// boundary. Real decision sources (signal engines, LLM agents, manual
// consoles) live outside this module and are injected in main.
package proposer

import (
	"context"

	"riskcore/internal/domain"
)

// Noop never proposes a trade. It is the default when no external
// decision source is wired in: the core still tracks prices, trails
// stops on restored positions and settles exits.
type Noop struct{}

// NewNoop creates a proposer that takes no action.
func NewNoop() *Noop { return &Noop{} }

func (*Noop) RequiredDataPoints() int { return 0 }

func (*Noop) ProposeOrder(ctx context.Context, symbol string, candles []*domain.Candle, snapshot *domain.PortfolioSnapshot) (*domain.OrderRequest, error) {
	return nil, nil
}

// Func adapts a plain function to the Proposer interface. Useful for
// tests and for embedding callers that already have a decision callback.
type Func struct {
	DataPoints int
	Propose    func(ctx context.Context, symbol string, candles []*domain.Candle, snapshot *domain.PortfolioSnapshot) (*domain.OrderRequest, error)
}

func (f *Func) RequiredDataPoints() int { return f.DataPoints }

func (f *Func) ProposeOrder(ctx context.Context, symbol string, candles []*domain.Candle, snapshot *domain.PortfolioSnapshot) (*domain.OrderRequest, error) {
	if f.Propose == nil {
		return nil, nil
	}
	return f.Propose(ctx, symbol, candles, snapshot)
}
