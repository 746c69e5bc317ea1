package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"riskcore/internal/domain"
	"riskcore/internal/ports"
)

type nopLogger struct{}

func (nopLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (nopLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (nopLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (nopLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

// memStore is an in-memory implementation of all three repositories.
type memStore struct {
	mu        sync.Mutex
	trades    []*domain.Trade
	positions []*domain.Position
	balances  map[string]domain.Balance
	nextID    int64

	failUpdateTradeFor string // symbol whose trade updates fail
}

func newMemStore() *memStore {
	return &memStore{balances: make(map[string]domain.Balance)}
}

func (s *memStore) CreateTrade(ctx context.Context, trade *domain.Trade) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	trade.ID = s.nextID
	c := *trade
	s.trades = append(s.trades, &c)
	return trade.ID, nil
}

func (s *memStore) UpdateTrade(ctx context.Context, trade *domain.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if trade.Symbol == s.failUpdateTradeFor {
		return errors.New("update failed")
	}
	for i, t := range s.trades {
		if t.ID == trade.ID {
			c := *trade
			s.trades[i] = &c
			return nil
		}
	}
	return ports.ErrNotFound
}

func (s *memStore) FindRecentTrades(ctx context.Context, limit int) ([]*domain.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*domain.Trade, 0, limit)
	for i := len(s.trades) - 1; i >= 0 && len(out) < limit; i-- {
		c := *s.trades[i]
		out = append(out, &c)
	}
	return out, nil
}

func (s *memStore) FindOpenTradesBySymbol(ctx context.Context, symbol string) ([]*domain.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.Trade
	for _, t := range s.trades {
		if t.Symbol == symbol && t.Status == domain.StatusOpen {
			c := *t
			out = append(out, &c)
		}
	}
	return out, nil
}

func (s *memStore) CountTradesToday(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	n := 0
	for _, t := range s.trades {
		if t.EntryTime.UTC().Year() == now.Year() && t.EntryTime.UTC().YearDay() == now.YearDay() {
			n++
		}
	}
	return n, nil
}

func (s *memStore) CreatePosition(ctx context.Context, pos *domain.Position) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	pos.ID = s.nextID
	c := *pos
	s.positions = append(s.positions, &c)
	return pos.ID, nil
}

func (s *memStore) UpdatePosition(ctx context.Context, pos *domain.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, p := range s.positions {
		if p.ID == pos.ID {
			c := *pos
			s.positions[i] = &c
			return nil
		}
	}
	return ports.ErrNotFound
}

func (s *memStore) FindOpenPositions(ctx context.Context) ([]*domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.Position
	for _, p := range s.positions {
		if p.Status == domain.StatusOpen {
			c := *p
			out = append(out, &c)
		}
	}
	return out, nil
}

func (s *memStore) UpsertBalance(ctx context.Context, bal *domain.Balance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[bal.Currency] = *bal
	return nil
}

func (s *memStore) FindBalances(ctx context.Context) ([]*domain.Balance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.Balance
	for _, b := range s.balances {
		c := b
		out = append(out, &c)
	}
	return out, nil
}

func newTestLedger(t *testing.T, store *memStore, slippage float64) *Ledger {
	t.Helper()
	l, err := New(context.Background(), Config{
		QuoteCurrency:    "USDT",
		SlippagePct:      slippage,
		IsPaper:          true,
		Logger:           nopLogger{},
		Trades:           store,
		Positions:        store,
		Balances:         store,
		StartingBalances: map[string]float64{"USDT": 10000},
	})
	require.NoError(t, err)
	return l
}

func TestSeedsStartingBalances(t *testing.T) {
	store := newMemStore()
	l := newTestLedger(t, store, 0)

	b, ok := l.GetBalance("USDT")
	require.True(t, ok)
	assert.Equal(t, 10000.0, b.Total)
	assert.Equal(t, 10000.0, b.Free)
	assert.True(t, b.Consistent())

	// Seed reached the store.
	assert.Equal(t, 10000.0, store.balances["USDT"].Total)
}

func TestExecuteMarketOrderBuy(t *testing.T) {
	store := newMemStore()
	l := newTestLedger(t, store, 0)
	ctx := context.Background()

	fill, err := l.ExecuteMarketOrder(ctx, "BTCUSDT", domain.Buy, 0.1, 50000)
	require.NoError(t, err)
	assert.Equal(t, 50000.0, fill.Price)
	require.NotNil(t, fill.Trade)
	assert.NotEmpty(t, fill.Trade.ClientID)
	assert.Equal(t, domain.StatusOpen, fill.Trade.Status)

	usdt, _ := l.GetBalance("USDT")
	assert.InDelta(t, 5000.0, usdt.Free, 1e-9)
	assert.True(t, usdt.Consistent())

	btc, _ := l.GetBalance("BTC")
	assert.InDelta(t, 0.1, btc.Free, 1e-9)
	assert.True(t, btc.Consistent())

	require.Len(t, store.trades, 1)
}

func TestExecuteMarketOrderInsufficientBalance(t *testing.T) {
	store := newMemStore()
	l := newTestLedger(t, store, 0)

	_, err := l.ExecuteMarketOrder(context.Background(), "BTCUSDT", domain.Buy, 1, 50000)
	require.ErrorIs(t, err, ports.ErrInsufficientBalance)

	// Nothing moved.
	usdt, _ := l.GetBalance("USDT")
	assert.Equal(t, 10000.0, usdt.Free)
	assert.Empty(t, store.trades)
}

func TestSlippageWorsensExecution(t *testing.T) {
	store := newMemStore()
	l := newTestLedger(t, store, 0.001)
	ctx := context.Background()

	fill, err := l.ExecuteMarketOrder(ctx, "BTCUSDT", domain.Buy, 0.1, 50000)
	require.NoError(t, err)
	assert.InDelta(t, 50050.0, fill.Price, 1e-9)

	fill, err = l.ExecuteMarketOrder(ctx, "BTCUSDT", domain.Sell, 0.1, 50000)
	require.NoError(t, err)
	assert.InDelta(t, 49950.0, fill.Price, 1e-9)
}

func TestPriceFallsBackToLastQuote(t *testing.T) {
	store := newMemStore()
	l := newTestLedger(t, store, 0)
	ctx := context.Background()

	_, err := l.ExecuteMarketOrder(ctx, "BTCUSDT", domain.Buy, 0.1, 0)
	require.ErrorIs(t, err, ports.ErrNoPrice)

	l.UpdatePrice("BTCUSDT", 40000)
	fill, err := l.ExecuteMarketOrder(ctx, "BTCUSDT", domain.Buy, 0.1, 0)
	require.NoError(t, err)
	assert.Equal(t, 40000.0, fill.Price)
}

func TestOpenAndClosePosition(t *testing.T) {
	store := newMemStore()
	l := newTestLedger(t, store, 0)
	ctx := context.Background()

	pos, err := l.OpenPosition(ctx, domain.OrderRequest{
		Symbol: "BTCUSDT", Side: domain.Buy, Quantity: 0.1, EntryPrice: 50000, StopLoss: 49000,
	})
	require.NoError(t, err)
	assert.Equal(t, 0.1, pos.Quantity)
	assert.Equal(t, 50000.0, pos.EntryPrice)

	// Long inventory is held while the position is open.
	btc, _ := l.GetBalance("BTC")
	assert.InDelta(t, 0.1, btc.Used, 1e-9)
	assert.InDelta(t, 0.0, btc.Free, 1e-9)
	assert.True(t, btc.Consistent())

	res, err := l.ClosePosition(ctx, "BTCUSDT", 52000, domain.CloseReasonManual)
	require.NoError(t, err)
	assert.InDelta(t, 200.0, res.PnL, 1e-9)

	usdt, _ := l.GetBalance("USDT")
	assert.InDelta(t, 10200.0, usdt.Free, 1e-9)
	btc, _ = l.GetBalance("BTC")
	assert.InDelta(t, 0.0, btc.Total, 1e-9)

	_, ok := l.GetPosition("BTCUSDT")
	assert.False(t, ok)

	// The entry record was marked closed with the realized P&L.
	require.Len(t, store.trades, 1)
	assert.Equal(t, domain.StatusClosed, store.trades[0].Status)
	assert.InDelta(t, 200.0, store.trades[0].PnL, 1e-9)
	assert.Equal(t, 52000.0, store.trades[0].ExitPrice)
}

func TestReentryMergesWeightedAverage(t *testing.T) {
	store := newMemStore()
	l := newTestLedger(t, store, 0)
	ctx := context.Background()

	_, err := l.OpenPosition(ctx, domain.OrderRequest{
		Symbol: "BTCUSDT", Side: domain.Buy, Quantity: 0.1, EntryPrice: 50000,
	})
	require.NoError(t, err)
	pos, err := l.OpenPosition(ctx, domain.OrderRequest{
		Symbol: "BTCUSDT", Side: domain.Buy, Quantity: 0.1, EntryPrice: 52000,
	})
	require.NoError(t, err)

	assert.InDelta(t, 0.2, pos.Quantity, 1e-9)
	assert.InDelta(t, 51000.0, pos.EntryPrice, 1e-9)

	// Still a single position, and both entry records close together.
	assert.Len(t, l.GetPositions(), 1)
	res, err := l.ClosePosition(ctx, "BTCUSDT", 51000, domain.CloseReasonManual)
	require.NoError(t, err)
	assert.InDelta(t, 0.0, res.PnL, 1e-9)
	for _, tr := range store.trades {
		assert.Equal(t, domain.StatusClosed, tr.Status)
	}
}

func TestOppositeSideIsRejected(t *testing.T) {
	store := newMemStore()
	l := newTestLedger(t, store, 0)
	ctx := context.Background()

	_, err := l.OpenPosition(ctx, domain.OrderRequest{
		Symbol: "BTCUSDT", Side: domain.Buy, Quantity: 0.1, EntryPrice: 50000,
	})
	require.NoError(t, err)

	_, err = l.OpenPosition(ctx, domain.OrderRequest{
		Symbol: "BTCUSDT", Side: domain.Sell, Quantity: 0.1, EntryPrice: 50000,
	})
	require.ErrorIs(t, err, ports.ErrSideMismatch)
}

func TestCloseUnknownPosition(t *testing.T) {
	store := newMemStore()
	l := newTestLedger(t, store, 0)

	_, err := l.ClosePosition(context.Background(), "BTCUSDT", 50000, domain.CloseReasonManual)
	require.ErrorIs(t, err, ports.ErrPositionNotFound)
}

func TestCloseAllIsBestEffort(t *testing.T) {
	store := newMemStore()
	l := newTestLedger(t, store, 0)
	ctx := context.Background()

	_, err := l.OpenPosition(ctx, domain.OrderRequest{
		Symbol: "BTCUSDT", Side: domain.Buy, Quantity: 0.1, EntryPrice: 50000,
	})
	require.NoError(t, err)
	_, err = l.OpenPosition(ctx, domain.OrderRequest{
		Symbol: "ETHUSDT", Side: domain.Buy, Quantity: 1, EntryPrice: 3000,
	})
	require.NoError(t, err)

	// One symbol's journal update fails; the other must still close.
	store.failUpdateTradeFor = "ETHUSDT"
	outcomes := l.CloseAllPositions(ctx, domain.CloseReasonPanic)
	require.Len(t, outcomes, 2)
	assert.NoError(t, outcomes["BTCUSDT"].Err)
	assert.Error(t, outcomes["ETHUSDT"].Err)

	_, ok := l.GetPosition("BTCUSDT")
	assert.False(t, ok)
}

func TestConsecutiveLossTracking(t *testing.T) {
	store := newMemStore()
	l := newTestLedger(t, store, 0)
	ctx := context.Background()

	loseOnce := func(i int) {
		symbol := fmt.Sprintf("SYM%dUSDT", i)
		_, err := l.OpenPosition(ctx, domain.OrderRequest{
			Symbol: symbol, Side: domain.Buy, Quantity: 0.01, EntryPrice: 1000,
		})
		require.NoError(t, err)
		_, err = l.ClosePosition(ctx, symbol, 900, domain.CloseReasonManual)
		require.NoError(t, err)
	}
	loseOnce(1)
	loseOnce(2)
	assert.Equal(t, 2, l.Snapshot().ConsecutiveLosses)

	// A winner resets the streak.
	_, err := l.OpenPosition(ctx, domain.OrderRequest{
		Symbol: "BTCUSDT", Side: domain.Buy, Quantity: 0.01, EntryPrice: 1000,
	})
	require.NoError(t, err)
	_, err = l.ClosePosition(ctx, "BTCUSDT", 1100, domain.CloseReasonManual)
	require.NoError(t, err)
	assert.Equal(t, 0, l.Snapshot().ConsecutiveLosses)
}

func TestSnapshot(t *testing.T) {
	store := newMemStore()
	l := newTestLedger(t, store, 0)
	ctx := context.Background()

	_, err := l.OpenPosition(ctx, domain.OrderRequest{
		Symbol: "BTCUSDT", Side: domain.Buy, Quantity: 0.1, EntryPrice: 50000,
	})
	require.NoError(t, err)
	l.UpdatePrice("BTCUSDT", 52000)

	snap := l.Snapshot()
	assert.Equal(t, 1, snap.PositionCount)
	assert.InDelta(t, 5000.0, snap.CashAvailable, 1e-9)
	assert.InDelta(t, 5200.0, snap.TotalExposure, 1e-9)
	assert.InDelta(t, 10200.0, snap.TotalValue, 1e-9)
	assert.InDelta(t, 200.0, snap.UnrealizedPnL, 1e-9)
	assert.InDelta(t, 200.0, snap.DailyPnL, 1e-9)
	assert.InDelta(t, 0.0, snap.DrawdownPct, 1e-9)
	assert.Equal(t, 1, snap.TradesToday)
	assert.True(t, snap.HasPosition("BTCUSDT"))
}

func TestStateSurvivesReload(t *testing.T) {
	store := newMemStore()
	l := newTestLedger(t, store, 0)
	ctx := context.Background()

	_, err := l.OpenPosition(ctx, domain.OrderRequest{
		Symbol: "BTCUSDT", Side: domain.Buy, Quantity: 0.1, EntryPrice: 50000,
	})
	require.NoError(t, err)

	// A second ledger over the same store sees the position and balances.
	l2 := newTestLedger(t, store, 0)
	pos, ok := l2.GetPosition("BTCUSDT")
	require.True(t, ok)
	assert.Equal(t, 0.1, pos.Quantity)
	usdt, _ := l2.GetBalance("USDT")
	assert.InDelta(t, 5000.0, usdt.Free, 1e-9)

	// Closing through the reloaded ledger still settles the journal.
	_, err = l2.ClosePosition(ctx, "BTCUSDT", 51000, domain.CloseReasonManual)
	require.NoError(t, err)
	require.Len(t, store.trades, 1)
	assert.Equal(t, domain.StatusClosed, store.trades[0].Status)
}
