// Package guardrail implements the hard, non-configurable safety
// ceilings that run before any policy-level risk check. The enforcer is
// a pure function over an order and a portfolio snapshot; it holds no
// mutable state and cannot be bypassed by profile selection.
package guardrail

import (
	"fmt"
	"strings"

	"riskcore/internal/domain"
)

// Hard ceilings. These are deliberately constants, not configuration:
// a risk profile can tighten behaviour via the risk manager but nothing
// may loosen these.
const (
	// MaxPositionPct caps a single projected position at a fraction of
	// total equity.
	MaxPositionPct = 0.25
	// MaxExposurePct caps projected aggregate exposure at a fraction of
	// total equity.
	MaxExposurePct = 0.80
)

// Enforcer validates orders against the hard ceilings and the symbol
// allow-list.
type Enforcer struct {
	allowed map[string]struct{}
}

// NewEnforcer creates an enforcer restricted to the given symbols.
// An empty list means no symbol is tradable.
func NewEnforcer(allowedSymbols []string) *Enforcer {
	allowed := make(map[string]struct{}, len(allowedSymbols))
	for _, s := range allowedSymbols {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s != "" {
			allowed[s] = struct{}{}
		}
	}
	return &Enforcer{allowed: allowed}
}

// Validate checks an order against the hard limits using a live portfolio
// snapshot. It runs before the risk manager and its verdict is final.
func (e *Enforcer) Validate(order domain.OrderRequest, snapshot *domain.PortfolioSnapshot) domain.GuardrailResult {
	if _, ok := e.allowed[strings.ToUpper(order.Symbol)]; !ok {
		return domain.GuardrailResult{
			Violation: domain.ViolationSymbolNotAllowed,
			Message:   fmt.Sprintf("symbol %s is not on the allow-list", order.Symbol),
		}
	}

	equity := snapshot.TotalValue
	if equity <= 0 {
		// With no equity every sized order is oversized.
		return domain.GuardrailResult{
			Violation: domain.ViolationPositionTooLarge,
			Message:   "portfolio has no equity to size against",
			Limit:     0,
			Observed:  order.Value(),
		}
	}

	positionValue := order.Value()
	if maxPosition := equity * MaxPositionPct; positionValue > maxPosition {
		return domain.GuardrailResult{
			Violation: domain.ViolationPositionTooLarge,
			Message: fmt.Sprintf("position value %.2f exceeds %.0f%% of equity (max %.2f)",
				positionValue, MaxPositionPct*100, maxPosition),
			Limit:    maxPosition,
			Observed: positionValue,
		}
	}

	projected := snapshot.TotalExposure + positionValue
	if maxExposure := equity * MaxExposurePct; projected > maxExposure {
		return domain.GuardrailResult{
			Violation: domain.ViolationExposureTooHigh,
			Message: fmt.Sprintf("projected exposure %.2f exceeds %.0f%% of equity (max %.2f)",
				projected, MaxExposurePct*100, maxExposure),
			Limit:    maxExposure,
			Observed: projected,
		}
	}

	return domain.GuardrailResult{Allowed: true}
}
