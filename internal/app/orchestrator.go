// Package app wires the decision core together: it consumes the candle
// stream, runs the trailing stops, and drives proposals through the
// guardrail, risk and ledger layers in that fixed order.
package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"riskcore/internal/domain"
	"riskcore/internal/events"
	"riskcore/internal/guardrail"
	"riskcore/internal/ledger"
	"riskcore/internal/ports"
	"riskcore/internal/risk"
	"riskcore/internal/trailing"
)

// State is the orchestrator lifecycle state.
type State string

const (
	StateIdle     State = "idle"
	StateRunning  State = "running"
	StatePaused   State = "paused"
	StateStopping State = "stopping"
	StateStopped  State = "stopped"
	StateError    State = "error"
)

const (
	defaultCandleBuffer = 500
	streamStopTimeout   = 5 * time.Second
)

// Config holds the orchestrator tunables.
type Config struct {
	Symbols  []string
	Interval string // candle interval, e.g. "1m"

	// MinCandles is the history floor before the proposer is consulted;
	// the proposer's own requirement can only raise it.
	MinCandles int
	// MaxCandleBuffer caps the rolling per-symbol buffer.
	MaxCandleBuffer int
	// DecisionInterval is the minimum gap between decisions for a symbol
	// on non-final candles. Final candles always pass the gate.
	DecisionInterval time.Duration

	// Now overrides the clock for tests.
	Now func() time.Time
}

// Orchestrator owns the trading session. All price handling for one
// symbol is serialized; different symbols proceed independently.
type Orchestrator struct {
	cfg      Config
	logger   ports.Logger
	feed     ports.PriceFeed
	proposer ports.Proposer
	ledger   *ledger.Ledger
	risk     *risk.Manager
	guard    *guardrail.Enforcer
	trailing *trailing.Engine
	bus      *events.Bus
	now      func() time.Time

	stateMu  sync.Mutex
	state    State
	wsDoneCh chan struct{}
	wsStopCh chan struct{}

	// Per-symbol serialization. The maps below are only touched while
	// holding the symbol's lock.
	symLocks     map[string]*sync.Mutex
	buffers      map[string][]*domain.Candle
	lastDecision map[string]time.Time
}

// New creates an orchestrator in the idle state.
func New(cfg Config, logger ports.Logger, feed ports.PriceFeed, proposer ports.Proposer,
	ldg *ledger.Ledger, riskMgr *risk.Manager, guard *guardrail.Enforcer,
	trail *trailing.Engine, bus *events.Bus) (*Orchestrator, error) {

	if logger == nil || feed == nil || proposer == nil || ldg == nil || riskMgr == nil || guard == nil || trail == nil {
		return nil, fmt.Errorf("missing required dependencies for orchestrator")
	}
	if len(cfg.Symbols) == 0 {
		return nil, fmt.Errorf("at least one symbol is required")
	}
	if cfg.Interval == "" {
		cfg.Interval = "1m"
	}
	if cfg.MaxCandleBuffer <= 0 {
		cfg.MaxCandleBuffer = defaultCandleBuffer
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	o := &Orchestrator{
		cfg:          cfg,
		logger:       logger,
		feed:         feed,
		proposer:     proposer,
		ledger:       ldg,
		risk:         riskMgr,
		guard:        guard,
		trailing:     trail,
		bus:          bus,
		now:          cfg.Now,
		state:        StateIdle,
		symLocks:     make(map[string]*sync.Mutex, len(cfg.Symbols)),
		buffers:      make(map[string][]*domain.Candle, len(cfg.Symbols)),
		lastDecision: make(map[string]time.Time, len(cfg.Symbols)),
	}
	for _, sym := range cfg.Symbols {
		o.symLocks[sym] = &sync.Mutex{}
	}
	return o, nil
}

// State returns the current lifecycle state.
func (o *Orchestrator) State() State {
	o.stateMu.Lock()
	defer o.stateMu.Unlock()
	return o.state
}

// Start preloads candle history, reconciles the risk session with the
// ledger and opens the market data stream. It returns once the session
// is running; the work then happens in the stream handler. The context
// cancels the preload if shutdown arrives mid-startup.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.stateMu.Lock()
	if o.state != StateIdle && o.state != StateStopped {
		o.stateMu.Unlock()
		return fmt.Errorf("%w: state is %s", ports.ErrAlreadyRunning, o.state)
	}
	o.stateMu.Unlock()

	o.logger.Info(ctx, "Starting trading session", map[string]interface{}{
		"symbols": o.cfg.Symbols, "interval": o.cfg.Interval,
	})

	need := o.historyFloor()
	for _, sym := range o.cfg.Symbols {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("startup cancelled: %w", err)
		}
		candles, err := o.feed.GetCandles(ctx, sym, o.cfg.Interval, o.cfg.MaxCandleBuffer)
		if err != nil {
			o.setState(StateError)
			return fmt.Errorf("failed to preload candles for %s: %w", sym, err)
		}
		if len(candles) < need {
			o.logger.Warn(ctx, "Preloaded history below decision floor, decisions deferred", map[string]interface{}{
				"symbol": sym, "loaded": len(candles), "required": need,
			})
		}
		lock := o.symLocks[sym]
		lock.Lock()
		o.buffers[sym] = candles
		lock.Unlock()
		if len(candles) > 0 {
			o.ledger.UpdatePrice(sym, candles[len(candles)-1].Close)
		}
	}

	// Reconcile the session view with the authoritative ledger, and
	// resume stop tracking for positions that survived a restart.
	snap := o.ledger.Snapshot()
	o.risk.SyncPortfolio(snap.TotalValue, snap.PositionCount)
	for _, pos := range snap.Positions {
		o.trailing.StartTracking(ctx, pos.Symbol, pos.Side, pos.EntryPrice)
	}

	doneCh, stopCh, err := o.feed.StreamCandles(ctx, o.cfg.Symbols, o.cfg.Interval, o.handleCandle, o.handleStreamError)
	if err != nil {
		o.setState(StateError)
		return fmt.Errorf("failed to start market data stream: %w", err)
	}

	o.stateMu.Lock()
	o.wsDoneCh = doneCh
	o.wsStopCh = stopCh
	o.state = StateRunning
	o.stateMu.Unlock()

	o.logger.Info(ctx, "Trading session running", map[string]interface{}{
		"positions": snap.PositionCount, "totalValue": snap.TotalValue,
	})
	return nil
}

// Run starts the session and blocks until the context is cancelled or
// the stream dies, then shuts down.
func (o *Orchestrator) Run(ctx context.Context) error {
	if err := o.Start(ctx); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		o.logger.Info(ctx, "Shutdown requested")
		return o.Stop(context.Background())
	case <-o.wsDoneCh:
		o.setState(StateError)
		err := fmt.Errorf("market data stream stopped unexpectedly")
		o.logger.Error(ctx, err, "Trading session aborted")
		return err
	}
}

// Pause suspends decision making; incoming ticks are dropped entirely,
// including trailing stop updates, until Resume.
func (o *Orchestrator) Pause(ctx context.Context) error {
	o.stateMu.Lock()
	defer o.stateMu.Unlock()
	if o.state != StateRunning {
		return fmt.Errorf("%w: state is %s", ports.ErrNotRunning, o.state)
	}
	o.state = StatePaused
	o.logger.Warn(ctx, "Trading session paused")
	if o.bus != nil {
		o.bus.Publish(events.TypeSystemPaused, nil)
	}
	return nil
}

// Resume re-enables tick handling after a pause.
func (o *Orchestrator) Resume(ctx context.Context) error {
	o.stateMu.Lock()
	defer o.stateMu.Unlock()
	if o.state != StatePaused {
		return fmt.Errorf("%w: state is %s", ports.ErrNotRunning, o.state)
	}
	o.state = StateRunning
	o.logger.Info(ctx, "Trading session resumed")
	if o.bus != nil {
		o.bus.Publish(events.TypeSystemResumed, nil)
	}
	return nil
}

// Stop shuts the stream down and moves to stopped. Safe to call from
// running or paused.
func (o *Orchestrator) Stop(ctx context.Context) error {
	o.stateMu.Lock()
	if o.state != StateRunning && o.state != StatePaused {
		o.stateMu.Unlock()
		return fmt.Errorf("%w: state is %s", ports.ErrNotRunning, o.state)
	}
	o.state = StateStopping
	doneCh, stopCh := o.wsDoneCh, o.wsStopCh
	o.stateMu.Unlock()

	o.logger.Info(ctx, "Stopping trading session")
	select {
	case stopCh <- struct{}{}:
	default:
	}
	select {
	case <-doneCh:
	case <-time.After(streamStopTimeout):
		o.logger.Warn(ctx, "Timeout waiting for market data stream to stop")
	}

	o.setState(StateStopped)
	o.logger.Info(ctx, "Trading session stopped")
	return nil
}

// Panic force-closes everything: trailing state is flushed, every open
// position is closed best-effort at the last quote, and the circuit
// breaker trips so nothing reopens until an operator clears it.
func (o *Orchestrator) Panic(ctx context.Context, reason string) {
	o.logger.Warn(ctx, "PANIC: force-closing all positions", map[string]interface{}{"reason": reason})

	o.trailing.ResetAll()
	o.risk.ActivateCircuitBreaker(ctx, fmt.Sprintf("panic: %s", reason))

	outcomes := o.ledger.CloseAllPositions(ctx, domain.CloseReasonPanic)
	closed, failed := 0, 0
	for sym, out := range outcomes {
		if out.Err != nil {
			failed++
			o.logger.Error(ctx, out.Err, "Panic close failed, position remains open", map[string]interface{}{"symbol": sym})
			continue
		}
		closed++
		o.risk.OnPositionClosed(out.Result.PnL)
	}

	snap := o.ledger.Snapshot()
	o.risk.SyncPortfolio(snap.TotalValue, snap.PositionCount)

	o.logger.Warn(ctx, "Panic complete", map[string]interface{}{"closed": closed, "failed": failed})
	if o.bus != nil {
		o.bus.Publish(events.TypePanic, events.PanicTriggered{Closed: closed, Failed: failed})
	}
}

// handleCandle is the tick pipeline. Trailing stops run before anything
// else so a protective exit can never be delayed by decision work.
func (o *Orchestrator) handleCandle(candle *domain.Candle) {
	if o.State() != StateRunning {
		return
	}
	lock, ok := o.symLocks[candle.Symbol]
	if !ok {
		return // not a configured symbol
	}
	ctx := context.Background()
	price := candle.Close
	if price <= 0 {
		return
	}

	lock.Lock()
	defer lock.Unlock()

	o.ledger.UpdatePrice(candle.Symbol, price)
	if o.bus != nil {
		o.bus.Publish(events.TypePriceUpdate, events.PriceUpdate{Symbol: candle.Symbol, Price: price})
	}

	// 1. Trailing stop. A trigger closes the position and ends the tick.
	o.trailing.OnPriceUpdate(ctx, candle.Symbol, price)
	if o.trailing.ShouldTrigger(ctx, candle.Symbol, price) {
		o.closePosition(ctx, candle.Symbol, price, domain.CloseReasonTrailingStop)
		return
	}

	// 2. Candle buffer. Final candles extend the history; in-progress
	// ticks only update the price above.
	if candle.IsFinal {
		buf := append(o.buffers[candle.Symbol], candle)
		if len(buf) > o.cfg.MaxCandleBuffer {
			buf = buf[len(buf)-o.cfg.MaxCandleBuffer:]
		}
		o.buffers[candle.Symbol] = buf
	}

	// 3. Gated decision step.
	o.maybeDecide(ctx, candle)
}

// maybeDecide consults the proposer when the gate allows and pushes any
// proposal through guardrail, risk and ledger in that order.
// Caller holds the symbol lock.
func (o *Orchestrator) maybeDecide(ctx context.Context, candle *domain.Candle) {
	symbol := candle.Symbol
	buf := o.buffers[symbol]
	if len(buf) < o.historyFloor() {
		return
	}
	if !candle.IsFinal && o.cfg.DecisionInterval > 0 {
		if last, ok := o.lastDecision[symbol]; ok && o.now().Sub(last) < o.cfg.DecisionInterval {
			return
		}
	}

	snap := o.ledger.Snapshot()
	if snap.HasPosition(symbol) {
		return
	}
	o.lastDecision[symbol] = o.now()

	order, err := o.proposer.ProposeOrder(ctx, symbol, buf, snap)
	if err != nil {
		o.logger.Error(ctx, err, "Proposer failed", map[string]interface{}{"symbol": symbol})
		return
	}
	if order == nil {
		return
	}

	// Hard ceilings first; their verdict is final.
	if gr := o.guard.Validate(*order, snap); !gr.Allowed {
		o.logger.Warn(ctx, "Order blocked by guardrail", map[string]interface{}{
			"symbol": symbol, "violation": string(gr.Violation), "message": gr.Message,
		})
		if o.bus != nil {
			o.bus.Publish(events.TypeOrderRejected, events.OrderRejected{
				Order: *order, Violation: gr.Violation, Message: gr.Message,
			})
		}
		return
	}

	res := o.risk.ApproveOrderWithBalance(ctx, *order, snap.TotalValue)
	if !res.Approved {
		o.logger.Info(ctx, "Order rejected by risk policy", map[string]interface{}{
			"symbol": symbol, "reason": string(res.Reason), "message": res.Message, "detail": res.Detail,
		})
		if o.bus != nil {
			o.bus.Publish(events.TypeOrderRejected, events.OrderRejected{
				Order: *order, Reason: res.Reason, Message: res.Message,
			})
		}
		return
	}
	if o.bus != nil {
		o.bus.Publish(events.TypeOrderApproved, events.OrderApproved{Order: *order, Result: res})
	}

	pos, err := o.ledger.OpenPosition(ctx, *order)
	if err != nil {
		o.logger.Error(ctx, err, "Approved order failed to settle", map[string]interface{}{"symbol": symbol})
		return
	}
	o.risk.OnPositionOpened()
	o.trailing.StartTracking(ctx, symbol, pos.Side, pos.EntryPrice)
	o.logger.Info(ctx, "Position opened", map[string]interface{}{
		"symbol": symbol, "side": string(pos.Side), "quantity": pos.Quantity,
		"entry": pos.EntryPrice, "riskAmount": res.RiskAmount,
	})
}

func (o *Orchestrator) closePosition(ctx context.Context, symbol string, price float64, reason domain.CloseReason) {
	res, err := o.ledger.ClosePosition(ctx, symbol, price, reason)
	if err != nil {
		o.logger.Error(ctx, err, "Failed to close position", map[string]interface{}{
			"symbol": symbol, "reason": string(reason),
		})
		return
	}
	o.risk.OnPositionClosed(res.PnL)
	o.logger.Info(ctx, "Position closed", map[string]interface{}{
		"symbol": symbol, "pnl": res.PnL, "reason": string(reason),
	})
}

func (o *Orchestrator) handleStreamError(err error) {
	// Reconnection is the adapter's job; this is for visibility only.
	o.logger.Error(context.Background(), err, "Market data stream error")
}

// historyFloor is the candle count required before decisions, the
// larger of the configured floor and the proposer's requirement.
func (o *Orchestrator) historyFloor() int {
	need := o.cfg.MinCandles
	if r := o.proposer.RequiredDataPoints(); r > need {
		need = r
	}
	return need
}

func (o *Orchestrator) setState(s State) {
	o.stateMu.Lock()
	o.state = s
	o.stateMu.Unlock()
}
