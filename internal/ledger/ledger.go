// Package ledger is the authoritative record of balances and positions.
// Every other decision in the core evaluates against the state held
// here. All mutation happens inside a single critical section that is
// never split across blocking calls, so concurrent readers always see a
// consistent portfolio.
package ledger

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"riskcore/internal/domain"
	"riskcore/internal/events"
	"riskcore/internal/ids"
	"riskcore/internal/ports"
)

// Config holds the dependencies and tunables for the ledger.
type Config struct {
	QuoteCurrency string  // settlement currency, e.g. "USDT"
	SlippagePct   float64 // simulated execution offset for market orders
	IsPaper       bool

	Logger    ports.Logger
	Bus       *events.Bus // optional
	Trades    ports.TradeRepository
	Positions ports.PositionRepository
	Balances  ports.BalanceRepository

	// StartingBalances seeds the store on first run (currency -> total).
	StartingBalances map[string]float64

	// Now overrides the clock for tests.
	Now func() time.Time
}

// Fill describes one executed market order.
type Fill struct {
	Symbol   string
	Side     domain.OrderSide
	Quantity float64
	Price    float64 // slippage-adjusted execution price
	Trade    *domain.Trade
}

// CloseResult describes one closed position.
type CloseResult struct {
	Symbol    string
	Side      domain.OrderSide
	Quantity  float64
	ExitPrice float64
	PnL       float64
}

// CloseOutcome is the per-symbol result of CloseAllPositions.
type CloseOutcome struct {
	Result *CloseResult
	Err    error
}

// Ledger executes fills against in-memory balances and positions and
// persists both, plus an immutable trade journal, through repositories.
type Ledger struct {
	cfg    Config
	logger ports.Logger
	bus    *events.Bus
	now    func() time.Time

	mu            sync.Mutex
	balances      map[string]*domain.Balance
	positions     map[string]*domain.Position
	openTrades    map[string][]*domain.Trade // entry records per open position
	lastPrice     map[string]float64
	tradesToday   int
	consecLosses  int
	dayStartValue float64
	dayDate       time.Time
}

// New creates a ledger and loads persisted state. When the balance store
// is empty the configured starting balances seed it.
func New(ctx context.Context, cfg Config) (*Ledger, error) {
	if cfg.Logger == nil || cfg.Trades == nil || cfg.Positions == nil || cfg.Balances == nil {
		return nil, fmt.Errorf("missing required dependencies for ledger")
	}
	if cfg.QuoteCurrency == "" {
		return nil, fmt.Errorf("quote currency must be set")
	}
	if cfg.SlippagePct < 0 || cfg.SlippagePct >= 0.1 {
		return nil, fmt.Errorf("SlippagePct must be in [0,0.1), got %f", cfg.SlippagePct)
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	l := &Ledger{
		cfg:        cfg,
		logger:     cfg.Logger,
		bus:        cfg.Bus,
		now:        now,
		balances:   make(map[string]*domain.Balance),
		positions:  make(map[string]*domain.Position),
		openTrades: make(map[string][]*domain.Trade),
		lastPrice:  make(map[string]float64),
	}
	if err := l.load(ctx); err != nil {
		return nil, err
	}
	return l, nil
}

// load restores balances, open positions and open trade records.
func (l *Ledger) load(ctx context.Context) error {
	bals, err := l.cfg.Balances.FindBalances(ctx)
	if err != nil {
		return fmt.Errorf("failed to load balances: %w", err)
	}
	for _, b := range bals {
		l.balances[b.Currency] = b
	}
	if len(l.balances) == 0 {
		for currency, total := range l.cfg.StartingBalances {
			b := &domain.Balance{Currency: currency, Total: total, Free: total}
			l.balances[currency] = b
			if err := l.cfg.Balances.UpsertBalance(ctx, b); err != nil {
				return fmt.Errorf("failed to seed balance %s: %w", currency, err)
			}
		}
		l.logger.Info(ctx, "Seeded starting balances", map[string]interface{}{"currencies": len(l.balances)})
	}

	positions, err := l.cfg.Positions.FindOpenPositions(ctx)
	if err != nil {
		return fmt.Errorf("failed to load open positions: %w", err)
	}
	for _, p := range positions {
		l.positions[p.Symbol] = p
		if p.CurrentPrice > 0 {
			l.lastPrice[p.Symbol] = p.CurrentPrice
		}
		trades, err := l.cfg.Trades.FindOpenTradesBySymbol(ctx, p.Symbol)
		if err != nil {
			return fmt.Errorf("failed to load open trades for %s: %w", p.Symbol, err)
		}
		l.openTrades[p.Symbol] = trades
	}

	l.tradesToday, err = l.cfg.Trades.CountTradesToday(ctx)
	if err != nil {
		return fmt.Errorf("failed to count today's trades: %w", err)
	}

	l.dayDate = utcDate(l.now())
	l.dayStartValue = l.totalValueLocked()
	l.logger.Info(ctx, "Ledger state loaded", map[string]interface{}{
		"balances":    len(l.balances),
		"positions":   len(l.positions),
		"tradesToday": l.tradesToday,
		"totalValue":  l.dayStartValue,
	})
	return nil
}

// UpdatePrice records the latest quote for a symbol and marks any open
// position to market.
func (l *Ledger) UpdatePrice(symbol string, price float64) {
	if price <= 0 {
		return
	}
	l.mu.Lock()
	l.lastPrice[symbol] = price
	if pos, ok := l.positions[symbol]; ok {
		pos.CurrentPrice = price
	}
	l.mu.Unlock()
}

// ExecuteMarketOrder settles a standalone market order: it resolves the
// price (falling back to the last quote), applies slippage, atomically
// moves both currency balances and appends an immutable trade record.
func (l *Ledger) ExecuteMarketOrder(ctx context.Context, symbol string, side domain.OrderSide, quantity, price float64) (*Fill, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.executeLocked(ctx, symbol, side, quantity, price)
}

func (l *Ledger) executeLocked(ctx context.Context, symbol string, side domain.OrderSide, quantity, price float64) (*Fill, error) {
	if quantity <= 0 {
		return nil, fmt.Errorf("%w: quantity must be positive", ports.ErrInvalidRequest)
	}
	if !side.IsValid() {
		return nil, fmt.Errorf("%w: unknown side %q", ports.ErrInvalidRequest, side)
	}
	execPrice, err := l.resolvePriceLocked(symbol, price)
	if err != nil {
		return nil, err
	}
	execPrice = l.applySlippage(side, execPrice)

	if err := l.settleLocked(ctx, symbol, side, quantity, execPrice); err != nil {
		return nil, err
	}
	l.lastPrice[symbol] = execPrice

	trade := &domain.Trade{
		ClientID:   ids.New(),
		Symbol:     symbol,
		Side:       side,
		Quantity:   quantity,
		EntryPrice: execPrice,
		Status:     domain.StatusOpen,
		IsPaper:    l.cfg.IsPaper,
		EntryTime:  l.now().UTC(),
	}
	id, err := l.cfg.Trades.CreateTrade(ctx, trade)
	if err != nil {
		// Balances already moved; the journal write is the failure.
		l.logger.Error(ctx, err, "Failed to persist trade record after settlement", map[string]interface{}{
			"symbol": symbol, "clientID": trade.ClientID,
		})
		return nil, fmt.Errorf("failed to persist trade record: %w", err)
	}
	trade.ID = id
	l.tradesToday++

	fill := &Fill{Symbol: symbol, Side: side, Quantity: quantity, Price: execPrice, Trade: trade}
	l.logger.Info(ctx, "Market order executed", map[string]interface{}{
		"symbol": symbol, "side": string(side), "quantity": quantity, "price": execPrice,
	})
	if l.bus != nil {
		l.bus.Publish(events.TypeOrderFilled, events.OrderFilled{
			Symbol: symbol, Side: side, Quantity: quantity, Price: execPrice, TradeID: trade.ClientID,
		})
	}
	return fill, nil
}

// OpenPosition executes the entry fill and creates the position, or
// merges into the existing one at a quantity-weighted average entry.
// At most one position exists per symbol.
func (l *Ledger) OpenPosition(ctx context.Context, req domain.OrderRequest) (*domain.Position, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	existing := l.positions[req.Symbol]
	if existing != nil && existing.Side != req.Side {
		return nil, fmt.Errorf("%w: %s position is %s, order is %s",
			ports.ErrSideMismatch, req.Symbol, existing.Side, req.Side)
	}

	fill, err := l.executeLocked(ctx, req.Symbol, req.Side, req.Quantity, req.EntryPrice)
	if err != nil {
		return nil, err
	}

	// Long inventory is locked to the position while it is open.
	if req.Side == domain.Buy {
		if err := l.holdLocked(ctx, req.Symbol, fill.Quantity); err != nil {
			return nil, err
		}
	}

	var pos *domain.Position
	if existing != nil {
		mergedQty := existing.Quantity + fill.Quantity
		existing.EntryPrice = (existing.EntryPrice*existing.Quantity + fill.Price*fill.Quantity) / mergedQty
		existing.Quantity = mergedQty
		existing.CurrentPrice = fill.Price
		if req.StopLoss > 0 {
			existing.StopLoss = req.StopLoss
		}
		if req.TakeProfit > 0 {
			existing.TakeProfit = req.TakeProfit
		}
		if err := l.cfg.Positions.UpdatePosition(ctx, existing); err != nil {
			return nil, fmt.Errorf("failed to persist merged position: %w", err)
		}
		pos = existing
		l.logger.Info(ctx, "Averaged into existing position", map[string]interface{}{
			"symbol": pos.Symbol, "quantity": pos.Quantity, "avgEntry": pos.EntryPrice,
		})
	} else {
		pos = &domain.Position{
			Symbol:       req.Symbol,
			Side:         req.Side,
			Quantity:     fill.Quantity,
			EntryPrice:   fill.Price,
			CurrentPrice: fill.Price,
			StopLoss:     req.StopLoss,
			TakeProfit:   req.TakeProfit,
			OpenedAt:     l.now().UTC(),
			Status:       domain.StatusOpen,
		}
		id, err := l.cfg.Positions.CreatePosition(ctx, pos)
		if err != nil {
			return nil, fmt.Errorf("failed to persist new position: %w", err)
		}
		pos.ID = id
		l.positions[req.Symbol] = pos
		l.logger.Info(ctx, "Position opened", map[string]interface{}{
			"symbol": pos.Symbol, "side": string(pos.Side), "quantity": pos.Quantity, "entry": pos.EntryPrice,
		})
	}
	l.openTrades[req.Symbol] = append(l.openTrades[req.Symbol], fill.Trade)

	if l.bus != nil {
		l.bus.Publish(events.TypePositionOpened, events.PositionOpened{Position: *pos})
	}
	return pos.Clone(), nil
}

// ClosePosition realizes the P&L for a symbol: it executes the
// offsetting order, marks the linked trade records closed and destroys
// the position.
func (l *Ledger) ClosePosition(ctx context.Context, symbol string, price float64, reason domain.CloseReason) (*CloseResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closeLocked(ctx, symbol, price, reason)
}

func (l *Ledger) closeLocked(ctx context.Context, symbol string, price float64, reason domain.CloseReason) (*CloseResult, error) {
	pos, ok := l.positions[symbol]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ports.ErrPositionNotFound, symbol)
	}
	execPrice, err := l.resolvePriceLocked(symbol, price)
	if err != nil {
		return nil, err
	}
	closeSide := pos.Side.Opposite()
	execPrice = l.applySlippage(closeSide, execPrice)

	// Release the inventory hold before settling the offsetting order.
	if pos.Side == domain.Buy {
		if err := l.releaseLocked(ctx, symbol, pos.Quantity); err != nil {
			return nil, err
		}
	}
	if err := l.settleLocked(ctx, symbol, closeSide, pos.Quantity, execPrice); err != nil {
		return nil, err
	}

	pnl := pos.PnLAt(execPrice)
	exitTime := l.now().UTC()

	// Mark every entry record closed, attributing P&L by quantity share.
	for _, trade := range l.openTrades[symbol] {
		trade.ExitPrice = execPrice
		trade.ExitTime = exitTime
		trade.Status = domain.StatusClosed
		if pos.Quantity > 0 {
			trade.PnL = pnl * (trade.Quantity / pos.Quantity)
		}
		if err := l.cfg.Trades.UpdateTrade(ctx, trade); err != nil {
			return nil, fmt.Errorf("failed to mark trade %s closed: %w", trade.ClientID, err)
		}
	}
	delete(l.openTrades, symbol)

	pos.Status = domain.StatusClosed
	pos.CurrentPrice = execPrice
	if err := l.cfg.Positions.UpdatePosition(ctx, pos); err != nil {
		return nil, fmt.Errorf("failed to persist closed position: %w", err)
	}
	delete(l.positions, symbol)

	if pnl < 0 {
		l.consecLosses++
	} else {
		l.consecLosses = 0
	}

	res := &CloseResult{Symbol: symbol, Side: pos.Side, Quantity: pos.Quantity, ExitPrice: execPrice, PnL: pnl}
	l.logger.Info(ctx, "Position closed", map[string]interface{}{
		"symbol": symbol, "exitPrice": execPrice, "pnl": pnl, "reason": string(reason),
	})
	if l.bus != nil {
		l.bus.Publish(events.TypePositionClosed, events.PositionClosed{
			Symbol: symbol, Quantity: pos.Quantity, ExitPrice: execPrice, PnL: pnl, Reason: reason,
		})
	}
	return res, nil
}

// CloseAllPositions closes every open position at the last quote,
// best-effort: one symbol's failure does not stop the attempts on, or
// the reporting of, the rest.
func (l *Ledger) CloseAllPositions(ctx context.Context, reason domain.CloseReason) map[string]CloseOutcome {
	l.mu.Lock()
	symbols := make([]string, 0, len(l.positions))
	for sym := range l.positions {
		symbols = append(symbols, sym)
	}
	l.mu.Unlock()

	outcomes := make(map[string]CloseOutcome, len(symbols))
	for _, sym := range symbols {
		res, err := l.ClosePosition(ctx, sym, 0, reason)
		if err != nil {
			l.logger.Error(ctx, err, "Failed to close position during close-all", map[string]interface{}{"symbol": sym})
		}
		outcomes[sym] = CloseOutcome{Result: res, Err: err}
	}
	return outcomes
}

// GetBalance returns a copy of the balance for a currency.
func (l *Ledger) GetBalance(currency string) (*domain.Balance, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.balances[currency]
	if !ok {
		return nil, false
	}
	return b.Clone(), true
}

// GetBalances returns copies of all balances.
func (l *Ledger) GetBalances() []*domain.Balance {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*domain.Balance, 0, len(l.balances))
	for _, b := range l.balances {
		out = append(out, b.Clone())
	}
	return out
}

// GetPositions returns copies of all open positions.
func (l *Ledger) GetPositions() []*domain.Position {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*domain.Position, 0, len(l.positions))
	for _, p := range l.positions {
		out = append(out, p.Clone())
	}
	return out
}

// GetPosition returns a copy of the open position for a symbol.
func (l *Ledger) GetPosition(symbol string) (*domain.Position, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.positions[symbol]
	if !ok {
		return nil, false
	}
	return p.Clone(), true
}

// Snapshot builds a consistent point-in-time view of the portfolio for
// the guardrail and risk checks.
func (l *Ledger) Snapshot() *domain.PortfolioSnapshot {
	l.mu.Lock()
	defer l.mu.Unlock()

	// Roll the daily baseline on the first snapshot of a new UTC day.
	if today := utcDate(l.now()); today.After(l.dayDate) {
		l.dayDate = today
		l.dayStartValue = l.totalValueLocked()
		l.tradesToday = 0
	}

	snap := &domain.PortfolioSnapshot{
		ConsecutiveLosses: l.consecLosses,
		TradesToday:       l.tradesToday,
	}
	if quote, ok := l.balances[l.cfg.QuoteCurrency]; ok {
		snap.CashAvailable = quote.Free
	}
	for _, p := range l.positions {
		price := p.CurrentPrice
		if price <= 0 {
			price = p.EntryPrice
		}
		snap.TotalExposure += p.Notional(price)
		snap.UnrealizedPnL += p.PnLAt(price)
		snap.Positions = append(snap.Positions, p.Clone())
	}
	snap.PositionCount = len(snap.Positions)
	snap.TotalValue = l.totalValueLocked()
	if snap.TotalValue > 0 {
		snap.ExposurePct = snap.TotalExposure / snap.TotalValue
	}
	if l.dayStartValue > 0 {
		snap.DailyPnL = snap.TotalValue - l.dayStartValue
		if snap.DailyPnL < 0 {
			snap.DrawdownPct = -snap.DailyPnL / l.dayStartValue
		}
	}
	return snap
}

// --- internal helpers (callers hold l.mu) ---

// totalValueLocked is quote cash plus the mark-to-market value of
// non-quote holdings.
func (l *Ledger) totalValueLocked() float64 {
	total := 0.0
	for currency, b := range l.balances {
		if currency == l.cfg.QuoteCurrency {
			total += b.Total
			continue
		}
		if price, ok := l.lastPrice[currency+l.cfg.QuoteCurrency]; ok {
			total += b.Total * price
		}
	}
	// Short positions carry their unrealized P&L outside the balances.
	for _, p := range l.positions {
		if p.Side == domain.Sell {
			price := p.CurrentPrice
			if price <= 0 {
				price = p.EntryPrice
			}
			total += p.PnLAt(price)
		}
	}
	return total
}

func (l *Ledger) resolvePriceLocked(symbol string, price float64) (float64, error) {
	if price > 0 {
		return price, nil
	}
	if last, ok := l.lastPrice[symbol]; ok && last > 0 {
		return last, nil
	}
	return 0, fmt.Errorf("%w: %s", ports.ErrNoPrice, symbol)
}

// applySlippage worsens the price in the taker's disfavour: buys pay a
// little more, sells receive a little less.
func (l *Ledger) applySlippage(side domain.OrderSide, price float64) float64 {
	if side == domain.Buy {
		return price * (1 + l.cfg.SlippagePct)
	}
	return price * (1 - l.cfg.SlippagePct)
}

// settleLocked atomically moves both currency balances for a fill and
// persists them. The paying side must have sufficient free funds.
func (l *Ledger) settleLocked(ctx context.Context, symbol string, side domain.OrderSide, quantity, price float64) error {
	base, err := l.splitSymbol(symbol)
	if err != nil {
		return err
	}
	quote := l.cfg.QuoteCurrency
	cost := quantity * price

	baseBal := l.balanceLocked(base)
	quoteBal := l.balanceLocked(quote)

	if side == domain.Buy {
		if quoteBal.Free < cost {
			return fmt.Errorf("%w: need %.2f %s, have %.2f free", ports.ErrInsufficientBalance, cost, quote, quoteBal.Free)
		}
		quoteBal.Free -= cost
		quoteBal.Total -= cost
		baseBal.Free += quantity
		baseBal.Total += quantity
	} else {
		if baseBal.Free < quantity {
			return fmt.Errorf("%w: need %.8f %s, have %.8f free", ports.ErrInsufficientBalance, quantity, base, baseBal.Free)
		}
		baseBal.Free -= quantity
		baseBal.Total -= quantity
		quoteBal.Free += cost
		quoteBal.Total += cost
	}

	if err := l.cfg.Balances.UpsertBalance(ctx, baseBal); err != nil {
		return fmt.Errorf("failed to persist %s balance: %w", base, err)
	}
	if err := l.cfg.Balances.UpsertBalance(ctx, quoteBal); err != nil {
		return fmt.Errorf("failed to persist %s balance: %w", quote, err)
	}
	return nil
}

// holdLocked moves base inventory from free to used while a position
// holds it.
func (l *Ledger) holdLocked(ctx context.Context, symbol string, quantity float64) error {
	base, err := l.splitSymbol(symbol)
	if err != nil {
		return err
	}
	bal := l.balanceLocked(base)
	if bal.Free < quantity {
		return fmt.Errorf("%w: cannot hold %.8f %s", ports.ErrInsufficientBalance, quantity, base)
	}
	bal.Free -= quantity
	bal.Used += quantity
	if err := l.cfg.Balances.UpsertBalance(ctx, bal); err != nil {
		return fmt.Errorf("failed to persist %s balance: %w", base, err)
	}
	return nil
}

// releaseLocked returns held inventory to free before a close settles.
func (l *Ledger) releaseLocked(ctx context.Context, symbol string, quantity float64) error {
	base, err := l.splitSymbol(symbol)
	if err != nil {
		return err
	}
	bal := l.balanceLocked(base)
	if bal.Used < quantity {
		// Held amount drifted (e.g. restart without holds); release what
		// is there rather than failing the close.
		quantity = bal.Used
	}
	bal.Used -= quantity
	bal.Free += quantity
	if err := l.cfg.Balances.UpsertBalance(ctx, bal); err != nil {
		return fmt.Errorf("failed to persist %s balance: %w", base, err)
	}
	return nil
}

func (l *Ledger) balanceLocked(currency string) *domain.Balance {
	b, ok := l.balances[currency]
	if !ok {
		b = &domain.Balance{Currency: currency}
		l.balances[currency] = b
	}
	return b
}

// splitSymbol extracts the base currency from a symbol like "BTCUSDT".
func (l *Ledger) splitSymbol(symbol string) (string, error) {
	base := strings.TrimSuffix(symbol, l.cfg.QuoteCurrency)
	if base == "" || base == symbol {
		return "", fmt.Errorf("%w: symbol %s does not end with %s", ports.ErrInvalidRequest, symbol, l.cfg.QuoteCurrency)
	}
	return base, nil
}

func utcDate(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
