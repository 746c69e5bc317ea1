// Package risk implements the configurable policy gate in front of order
// execution. Hard, non-negotiable ceilings live in the guardrail package
// and run first; this manager applies the session risk profile on top
// and owns the circuit breaker.
package risk

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"riskcore/internal/domain"
	"riskcore/internal/events"
	"riskcore/internal/ports"
	"riskcore/internal/quant"
)

// sizeTolerance lets requested quantities exceed the quant-safe size by a
// small margin before rejecting, so callers rounding up a suggestion are
// not bounced.
const sizeTolerance = 1.1

// Config holds the dependencies and tunables for the manager.
type Config struct {
	Profile        domain.RiskProfile
	Logger         ports.Logger
	Bus            *events.Bus // optional; circuit breaker trips are published here
	AllowedSymbols []string
	DefaultStopPct float64 // suggested stop distance when an order has none
	InitialBalance float64

	// Now overrides the clock; tests use it to cross UTC day boundaries.
	Now func() time.Time
}

// Manager is the session-scoped policy gate. All mutable state is owned
// here and reached only through its methods.
type Manager struct {
	logger         ports.Logger
	bus            *events.Bus
	profile        domain.RiskProfile
	allowed        map[string]struct{}
	defaultStopPct float64
	now            func() time.Time

	mu                   sync.Mutex
	currentBalance       float64
	dailyStartingBalance float64
	dailyPnL             float64
	openPositions        int
	circuitBreakerActive bool
	breakerReason        string
	lastResetDate        time.Time // UTC midnight of the last daily reset
}

// NewManager creates a risk manager for one trading session.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for risk manager")
	}
	if err := cfg.Profile.Validate(); err != nil {
		return nil, fmt.Errorf("invalid risk profile: %w", err)
	}
	if cfg.InitialBalance <= 0 {
		return nil, fmt.Errorf("initial balance must be positive, got %f", cfg.InitialBalance)
	}
	if cfg.DefaultStopPct <= 0 || cfg.DefaultStopPct >= 1 {
		cfg.DefaultStopPct = 0.02
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	allowed := make(map[string]struct{}, len(cfg.AllowedSymbols))
	for _, s := range cfg.AllowedSymbols {
		allowed[strings.ToUpper(strings.TrimSpace(s))] = struct{}{}
	}

	m := &Manager{
		logger:               cfg.Logger,
		bus:                  cfg.Bus,
		profile:              cfg.Profile,
		allowed:              allowed,
		defaultStopPct:       cfg.DefaultStopPct,
		now:                  now,
		currentBalance:       cfg.InitialBalance,
		dailyStartingBalance: cfg.InitialBalance,
	}
	m.lastResetDate = utcDate(now())
	return m, nil
}

// ApproveOrder runs the policy checks in their fixed short-circuit order
// and returns the first failure, or an approval with risk figures.
// Rejections are results, never errors.
func (m *Manager) ApproveOrder(ctx context.Context, order domain.OrderRequest) domain.ApprovalResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.approveLocked(ctx, order, m.currentBalance)
}

// ApproveOrderWithBalance is ApproveOrder evaluated against an explicit
// balance instead of the session balance (used when the caller already
// holds a fresher ledger figure).
func (m *Manager) ApproveOrderWithBalance(ctx context.Context, order domain.OrderRequest, balance float64) domain.ApprovalResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.approveLocked(ctx, order, balance)
}

func (m *Manager) approveLocked(ctx context.Context, order domain.OrderRequest, balance float64) domain.ApprovalResult {
	// 1. Lazy daily reset on UTC date change.
	m.maybeResetDailyLocked(ctx)

	// 2. Standing fault: the breaker never self-clears.
	if m.circuitBreakerActive {
		return domain.Reject(domain.ReasonCircuitBreakerActive,
			"trading halted by circuit breaker",
			fmt.Sprintf("circuit breaker active: %s", m.breakerReason))
	}

	// 3. Daily drawdown. Crossing the limit trips the breaker so every
	// later order fails fast even if the drawdown later improves.
	if m.dailyStartingBalance > 0 {
		drawdown := -m.dailyPnL / m.dailyStartingBalance
		if drawdown >= m.profile.MaxDailyDrawdown {
			m.tripBreakerLocked(ctx, fmt.Sprintf("daily drawdown %.2f%% reached limit %.2f%%",
				drawdown*100, m.profile.MaxDailyDrawdown*100))
			return domain.Reject(domain.ReasonDailyDrawdownExceeded,
				"daily loss limit reached, trading halted for the day",
				fmt.Sprintf("dailyPnL=%.2f startingBalance=%.2f drawdown=%.4f limit=%.4f",
					m.dailyPnL, m.dailyStartingBalance, drawdown, m.profile.MaxDailyDrawdown))
		}
	}

	// 4. Position count.
	if m.openPositions >= m.profile.MaxOpenPositions {
		return domain.Reject(domain.ReasonMaxPositionsReached,
			"maximum number of open positions reached",
			fmt.Sprintf("openPositions=%d limit=%d", m.openPositions, m.profile.MaxOpenPositions))
	}

	// 5. Symbol allow-list.
	if _, ok := m.allowed[strings.ToUpper(order.Symbol)]; !ok {
		return domain.Reject(domain.ReasonSymbolNotAllowed,
			fmt.Sprintf("symbol %s is not tradable", order.Symbol),
			fmt.Sprintf("symbol %s not in allow-list", order.Symbol))
	}

	// Malformed orders fail before any sizing math.
	if err := order.Validate(); err != nil {
		return domain.Reject(domain.ReasonInvalidOrder, "order is malformed", err.Error())
	}

	// 6. A protective stop is mandatory; suggest the default one.
	if order.StopLoss <= 0 {
		res := domain.Reject(domain.ReasonInvalidOrder,
			"order has no stop loss",
			fmt.Sprintf("stop loss is required; suggested default %.1f%% stop", m.defaultStopPct*100))
		res.SuggestedStopLoss = quant.DefaultStop(order.EntryPrice, order.Side, m.defaultStopPct)
		return res
	}

	// 7. Quantity against the quant-safe size.
	safeSize := quant.SafePositionSize(balance, order.EntryPrice, order.StopLoss, m.profile.RiskPerTrade)
	if safeSize > 0 && order.Quantity > safeSize*sizeTolerance {
		res := domain.Reject(domain.ReasonRiskTooHigh,
			"requested size risks more than the profile allows",
			fmt.Sprintf("quantity=%.8f safeSize=%.8f riskPerTrade=%.4f", order.Quantity, safeSize, m.profile.RiskPerTrade))
		res.SuggestedQuantity = safeSize
		return res
	}

	// 8. Risk/reward when a take profit is set. Skipped silently when the
	// ratio is undefined.
	if order.TakeProfit > 0 {
		if ratio, ok := quant.RiskReward(order.EntryPrice, order.StopLoss, order.TakeProfit); ok && ratio < m.profile.MinRiskReward {
			return domain.Reject(domain.ReasonPoorRiskReward,
				"risk/reward ratio below profile minimum",
				fmt.Sprintf("ratio=%.2f minimum=%.2f", ratio, m.profile.MinRiskReward))
		}
	}

	// 9. The position value must be coverable.
	if order.Value() > balance {
		return domain.Reject(domain.ReasonInsufficientBalance,
			"order value exceeds available balance",
			fmt.Sprintf("positionValue=%.2f balance=%.2f", order.Value(), balance))
	}

	// 10. Approved.
	riskAmount := quant.DollarRisk(order.Quantity, order.EntryPrice, order.StopLoss)
	riskPct := 0.0
	if balance > 0 {
		riskPct = riskAmount / balance
	}
	return domain.ApprovalResult{
		Approved:    true,
		Message:     fmt.Sprintf("approved: risking %.2f (%.2f%% of balance)", riskAmount, riskPct*100),
		RiskAmount:  riskAmount,
		RiskPercent: riskPct,
	}
}

// ActivateCircuitBreaker trips the breaker manually. Once active, every
// approval fails until DeactivateCircuitBreaker is called.
func (m *Manager) ActivateCircuitBreaker(ctx context.Context, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tripBreakerLocked(ctx, reason)
}

// DeactivateCircuitBreaker clears the breaker. This is the only way the
// breaker resets; it never self-clears.
func (m *Manager) DeactivateCircuitBreaker(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.circuitBreakerActive {
		return
	}
	m.circuitBreakerActive = false
	m.breakerReason = ""
	m.logger.Warn(ctx, "Circuit breaker manually deactivated")
}

// CircuitBreakerActive reports the breaker state.
func (m *Manager) CircuitBreakerActive() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.circuitBreakerActive
}

// OnPositionOpened records a newly opened position.
func (m *Manager) OnPositionOpened() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.openPositions++
}

// OnPositionClosed records a close and folds the realized result into the
// session and daily figures.
func (m *Manager) OnPositionClosed(pnl float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.openPositions > 0 {
		m.openPositions--
	}
	m.currentBalance += pnl
	m.dailyPnL += pnl
}

// SyncPortfolio reconciles the session view with the authoritative
// ledger (used after startup reload and after panic closes).
func (m *Manager) SyncPortfolio(balance float64, openPositions int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.currentBalance = balance
	m.openPositions = openPositions
	if m.dailyStartingBalance <= 0 {
		m.dailyStartingBalance = balance
	}
}

// Status is a read-only view of the session state.
type Status struct {
	CurrentBalance       float64
	DailyStartingBalance float64
	DailyPnL             float64
	OpenPositions        int
	CircuitBreakerActive bool
	BreakerReason        string
}

// Status returns a copy of the current session state.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Status{
		CurrentBalance:       m.currentBalance,
		DailyStartingBalance: m.dailyStartingBalance,
		DailyPnL:             m.dailyPnL,
		OpenPositions:        m.openPositions,
		CircuitBreakerActive: m.circuitBreakerActive,
		BreakerReason:        m.breakerReason,
	}
}

func (m *Manager) tripBreakerLocked(ctx context.Context, reason string) {
	if m.circuitBreakerActive {
		return
	}
	m.circuitBreakerActive = true
	m.breakerReason = reason
	m.logger.Warn(ctx, "Circuit breaker tripped", map[string]interface{}{"reason": reason})
	if m.bus != nil {
		m.bus.Publish(events.TypeCircuitBreaker, events.CircuitBreaker{Reason: reason})
	}
}

// maybeResetDailyLocked resets the daily baseline exactly once per UTC
// day, lazily, on the first approval after midnight. The circuit breaker
// is deliberately untouched: it only clears manually.
func (m *Manager) maybeResetDailyLocked(ctx context.Context) {
	today := utcDate(m.now())
	if !today.After(m.lastResetDate) {
		return
	}
	m.logger.Info(ctx, "Daily risk baseline reset", map[string]interface{}{
		"previousDate":    m.lastResetDate.Format("2006-01-02"),
		"date":            today.Format("2006-01-02"),
		"startingBalance": m.currentBalance,
	})
	m.dailyStartingBalance = m.currentBalance
	m.dailyPnL = 0
	m.lastResetDate = today
}

func utcDate(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
