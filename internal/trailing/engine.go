// Package trailing tracks the protective stop for each open position.
// The stop only ever ratchets in the profitable direction; once breakeven
// is activated it never deactivates. Stop state is session-only and does
// not survive a restart.
package trailing

import (
	"context"
	"fmt"
	"sync"

	"riskcore/internal/domain"
	"riskcore/internal/events"
	"riskcore/internal/ports"
	"riskcore/internal/quant"
)

// Config holds the trailing parameters shared by all tracked symbols.
type Config struct {
	// TrailPct is the distance kept between the best price seen and the
	// stop (e.g. 0.02 for 2%).
	TrailPct float64
	// BreakevenTriggerPct is the profit that moves the stop to at least
	// the entry price (e.g. 0.01 for 1%).
	BreakevenTriggerPct float64
}

// State is the tracked stop for one symbol.
type State struct {
	Symbol             string
	Side               domain.OrderSide
	EntryPrice         float64
	ExtremePrice       float64 // highest seen for longs, lowest for shorts
	CurrentStop        float64
	BreakevenActivated bool
}

// Engine owns all per-symbol trailing stop state.
type Engine struct {
	cfg    Config
	logger ports.Logger
	bus    *events.Bus // optional; stop moves are published here

	mu     sync.Mutex
	states map[string]*State
}

// NewEngine creates a trailing stop engine.
func NewEngine(cfg Config, logger ports.Logger, bus *events.Bus) (*Engine, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required for trailing stop engine")
	}
	if cfg.TrailPct <= 0 || cfg.TrailPct >= 1 {
		return nil, fmt.Errorf("TrailPct must be in (0,1), got %f", cfg.TrailPct)
	}
	if cfg.BreakevenTriggerPct <= 0 || cfg.BreakevenTriggerPct >= 1 {
		return nil, fmt.Errorf("BreakevenTriggerPct must be in (0,1), got %f", cfg.BreakevenTriggerPct)
	}
	return &Engine{
		cfg:    cfg,
		logger: logger,
		bus:    bus,
		states: make(map[string]*State),
	}, nil
}

// StartTracking begins tracking a stop for a freshly opened position.
// The initial stop sits TrailPct away from the entry. Re-tracking a
// symbol replaces any previous state.
func (e *Engine) StartTracking(ctx context.Context, symbol string, side domain.OrderSide, entryPrice float64) {
	stop := quant.TrailingStop(entryPrice, side, e.cfg.TrailPct)
	e.mu.Lock()
	e.states[symbol] = &State{
		Symbol:       symbol,
		Side:         side,
		EntryPrice:   entryPrice,
		ExtremePrice: entryPrice,
		CurrentStop:  stop,
	}
	e.mu.Unlock()

	e.logger.Info(ctx, "Trailing stop tracking started", map[string]interface{}{
		"symbol": symbol, "side": string(side), "entryPrice": entryPrice, "initialStop": stop,
	})
}

// OnPriceUpdate folds a new price into the tracked state. Moves that
// raise (long) or lower (short) the stop publish an event; updates that
// leave the stop unchanged publish nothing.
func (e *Engine) OnPriceUpdate(ctx context.Context, symbol string, price float64) {
	e.mu.Lock()
	st, ok := e.states[symbol]
	if !ok {
		e.mu.Unlock()
		return
	}

	var (
		breakeven bool
		oldStop   = st.CurrentStop
	)

	// Breakeven: one-way transition that lifts the stop to at least the
	// entry. It never lowers an already better stop.
	if !st.BreakevenActivated && crossed(st.Side, price, quant.BreakevenTrigger(st.EntryPrice, st.Side, e.cfg.BreakevenTriggerPct)) {
		st.BreakevenActivated = true
		if improves(st.Side, st.EntryPrice, st.CurrentStop) {
			st.CurrentStop = st.EntryPrice
		}
		breakeven = true
	}

	// Ratchet: a new extreme produces a candidate stop that replaces the
	// current one only when it is more protective.
	if newExtreme(st.Side, price, st.ExtremePrice) {
		st.ExtremePrice = price
		if candidate := quant.TrailingStop(price, st.Side, e.cfg.TrailPct); improves(st.Side, candidate, st.CurrentStop) {
			st.CurrentStop = candidate
		}
	}

	newStop := st.CurrentStop
	e.mu.Unlock()

	if breakeven {
		e.logger.Info(ctx, "Breakeven activated", map[string]interface{}{
			"symbol": symbol, "stop": newStop,
		})
		if e.bus != nil {
			e.bus.Publish(events.TypeStopBreakeven, events.StopBreakeven{Symbol: symbol, Stop: newStop})
		}
	}
	if newStop != oldStop {
		e.logger.Debug(ctx, "Trailing stop moved", map[string]interface{}{
			"symbol": symbol, "oldStop": oldStop, "newStop": newStop, "price": price,
		})
		if e.bus != nil {
			e.bus.Publish(events.TypeStopTrailed, events.StopTrailed{Symbol: symbol, OldStop: oldStop, NewStop: newStop})
		}
	}
}

// ShouldTrigger reports whether the price has crossed the tracked stop.
// When it has, tracking stops immediately so the same stop cannot fire
// twice; the caller then closes the position exactly once.
func (e *Engine) ShouldTrigger(ctx context.Context, symbol string, price float64) bool {
	e.mu.Lock()
	st, ok := e.states[symbol]
	if !ok {
		e.mu.Unlock()
		return false
	}
	triggered := crossedStop(st.Side, price, st.CurrentStop)
	if triggered {
		delete(e.states, symbol)
	}
	stop := st.CurrentStop
	e.mu.Unlock()

	if triggered {
		e.logger.Info(ctx, "Trailing stop triggered", map[string]interface{}{
			"symbol": symbol, "stop": stop, "price": price,
		})
	}
	return triggered
}

// StopLevel returns the current stop for a tracked symbol.
func (e *Engine) StopLevel(symbol string) (float64, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.states[symbol]
	if !ok {
		return 0, false
	}
	return st.CurrentStop, true
}

// Tracked returns a snapshot of the state for a symbol.
func (e *Engine) Tracked(symbol string) (State, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.states[symbol]
	if !ok {
		return State{}, false
	}
	return *st, true
}

// Reset clears the tracked state for a symbol.
func (e *Engine) Reset(symbol string) {
	e.mu.Lock()
	delete(e.states, symbol)
	e.mu.Unlock()
}

// ResetAll clears every tracked symbol and returns which were cleared.
// Used by the panic path before force-closing positions.
func (e *Engine) ResetAll() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	symbols := make([]string, 0, len(e.states))
	for sym := range e.states {
		symbols = append(symbols, sym)
	}
	e.states = make(map[string]*State)
	return symbols
}

// crossed reports whether price has reached the trigger level in the
// profitable direction for the side.
func crossed(side domain.OrderSide, price, trigger float64) bool {
	if side == domain.Sell {
		return price <= trigger
	}
	return price >= trigger
}

// crossedStop reports whether price has reached the stop in the losing
// direction for the side.
func crossedStop(side domain.OrderSide, price, stop float64) bool {
	if side == domain.Sell {
		return price >= stop
	}
	return price <= stop
}

// improves reports whether candidate is a more protective stop than
// current for the side.
func improves(side domain.OrderSide, candidate, current float64) bool {
	if side == domain.Sell {
		return candidate < current
	}
	return candidate > current
}

// newExtreme reports whether price is more favourable than the recorded
// extreme for the side.
func newExtreme(side domain.OrderSide, price, extreme float64) bool {
	if side == domain.Sell {
		return price < extreme
	}
	return price > extreme
}
