package app

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"riskcore/internal/domain"
	"riskcore/internal/guardrail"
	"riskcore/internal/ledger"
	"riskcore/internal/ports"
	"riskcore/internal/risk"
	"riskcore/internal/trailing"
)

type nopLogger struct{}

func (nopLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (nopLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (nopLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (nopLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

// --- mocks ---

type mockFeed struct {
	mu      sync.Mutex
	history map[string][]*domain.Candle
	handler func(*domain.Candle)
	doneCh  chan struct{}
	stopCh  chan struct{}
}

func newMockFeed() *mockFeed {
	return &mockFeed{history: make(map[string][]*domain.Candle)}
}

func (f *mockFeed) GetTickerPrice(ctx context.Context, symbol string) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if h := f.history[symbol]; len(h) > 0 {
		return h[len(h)-1].Close, nil
	}
	return 0, ports.ErrNoPrice
}

func (f *mockFeed) GetCandles(ctx context.Context, symbol, interval string, limit int) ([]*domain.Candle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.history[symbol], nil
}

func (f *mockFeed) StreamCandles(ctx context.Context, symbols []string, interval string,
	handler func(*domain.Candle), errHandler func(error)) (chan struct{}, chan struct{}, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handler = handler
	f.doneCh = make(chan struct{})
	f.stopCh = make(chan struct{}, 1)
	go func() {
		<-f.stopCh
		close(f.doneCh)
	}()
	return f.doneCh, f.stopCh, nil
}

// push delivers a candle the way the stream would.
func (f *mockFeed) push(c *domain.Candle) {
	f.mu.Lock()
	h := f.handler
	f.mu.Unlock()
	h(c)
}

type mockProposer struct {
	required int

	mu    sync.Mutex
	calls int
	next  *domain.OrderRequest
}

func (p *mockProposer) RequiredDataPoints() int { return p.required }

func (p *mockProposer) ProposeOrder(ctx context.Context, symbol string, candles []*domain.Candle, snap *domain.PortfolioSnapshot) (*domain.OrderRequest, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	return p.next, nil
}

func (p *mockProposer) propose(order *domain.OrderRequest) {
	p.mu.Lock()
	p.next = order
	p.mu.Unlock()
}

func (p *mockProposer) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// memRepo is an in-memory stand-in for all three repositories.
type memRepo struct {
	mu        sync.Mutex
	trades    []*domain.Trade
	positions []*domain.Position
	balances  map[string]domain.Balance
	nextID    int64
}

func newMemRepo() *memRepo { return &memRepo{balances: make(map[string]domain.Balance)} }

func (r *memRepo) CreateTrade(ctx context.Context, t *domain.Trade) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	t.ID = r.nextID
	c := *t
	r.trades = append(r.trades, &c)
	return t.ID, nil
}

func (r *memRepo) UpdateTrade(ctx context.Context, t *domain.Trade) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, old := range r.trades {
		if old.ID == t.ID {
			c := *t
			r.trades[i] = &c
			return nil
		}
	}
	return ports.ErrNotFound
}

func (r *memRepo) FindRecentTrades(ctx context.Context, limit int) ([]*domain.Trade, error) {
	return nil, nil
}

func (r *memRepo) FindOpenTradesBySymbol(ctx context.Context, symbol string) ([]*domain.Trade, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Trade
	for _, t := range r.trades {
		if t.Symbol == symbol && t.Status == domain.StatusOpen {
			c := *t
			out = append(out, &c)
		}
	}
	return out, nil
}

func (r *memRepo) CountTradesToday(ctx context.Context) (int, error) { return 0, nil }

func (r *memRepo) CreatePosition(ctx context.Context, p *domain.Position) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	p.ID = r.nextID
	c := *p
	r.positions = append(r.positions, &c)
	return p.ID, nil
}

func (r *memRepo) UpdatePosition(ctx context.Context, p *domain.Position) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, old := range r.positions {
		if old.ID == p.ID {
			c := *p
			r.positions[i] = &c
			return nil
		}
	}
	return ports.ErrNotFound
}

func (r *memRepo) FindOpenPositions(ctx context.Context) ([]*domain.Position, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Position
	for _, p := range r.positions {
		if p.Status == domain.StatusOpen {
			c := *p
			out = append(out, &c)
		}
	}
	return out, nil
}

func (r *memRepo) UpsertBalance(ctx context.Context, b *domain.Balance) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.balances[b.Currency] = *b
	return nil
}

func (r *memRepo) FindBalances(ctx context.Context) ([]*domain.Balance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Balance
	for _, b := range r.balances {
		c := b
		out = append(out, &c)
	}
	return out, nil
}

// --- fixtures ---

type fixture struct {
	orch     *Orchestrator
	feed     *mockFeed
	proposer *mockProposer
	ledger   *ledger.Ledger
	risk     *risk.Manager
}

func candles(symbol string, n int, price float64) []*domain.Candle {
	out := make([]*domain.Candle, n)
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	for i := range out {
		out[i] = &domain.Candle{
			Symbol:    symbol,
			Interval:  "1m",
			OpenTime:  base.Add(time.Duration(i) * time.Minute),
			CloseTime: base.Add(time.Duration(i+1) * time.Minute),
			Open:      price, High: price, Low: price, Close: price,
			IsFinal: true,
		}
	}
	return out
}

func finalCandle(symbol string, price float64) *domain.Candle {
	return &domain.Candle{Symbol: symbol, Interval: "1m", Close: price, IsFinal: true}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	repo := newMemRepo()
	ldg, err := ledger.New(ctx, ledger.Config{
		QuoteCurrency:    "USDT",
		IsPaper:          true,
		Logger:           nopLogger{},
		Trades:           repo,
		Positions:        repo,
		Balances:         repo,
		StartingBalances: map[string]float64{"USDT": 10000},
	})
	require.NoError(t, err)

	riskMgr, err := risk.NewManager(risk.Config{
		Profile: domain.RiskProfile{
			Name: "test", RiskPerTrade: 0.01, MaxDailyDrawdown: 0.05,
			MaxOpenPositions: 4, MinRiskReward: 1.5,
		},
		Logger:         nopLogger{},
		AllowedSymbols: []string{"BTCUSDT", "ETHUSDT"},
		DefaultStopPct: 0.02,
		InitialBalance: 10000,
	})
	require.NoError(t, err)

	trail, err := trailing.NewEngine(trailing.Config{TrailPct: 0.02, BreakevenTriggerPct: 0.01}, nopLogger{}, nil)
	require.NoError(t, err)

	feed := newMockFeed()
	feed.history["BTCUSDT"] = candles("BTCUSDT", 10, 50000)
	feed.history["ETHUSDT"] = candles("ETHUSDT", 10, 3000)

	prop := &mockProposer{required: 5}

	orch, err := New(Config{
		Symbols:    []string{"BTCUSDT", "ETHUSDT"},
		Interval:   "1m",
		MinCandles: 5,
	}, nopLogger{}, feed, prop, ldg, riskMgr, guardrail.NewEnforcer([]string{"BTCUSDT", "ETHUSDT"}), trail, nil)
	require.NoError(t, err)

	return &fixture{orch: orch, feed: feed, proposer: prop, ledger: ldg, risk: riskMgr}
}

func btcOrder() *domain.OrderRequest {
	return &domain.OrderRequest{
		Symbol: "BTCUSDT", Side: domain.Buy, Quantity: 0.02, EntryPrice: 50000, StopLoss: 49000,
	}
}

// --- tests ---

func TestStartTransitionsToRunning(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.orch.Start(context.Background()))
	assert.Equal(t, StateRunning, f.orch.State())

	// A second start is rejected.
	err := f.orch.Start(context.Background())
	require.ErrorIs(t, err, ports.ErrAlreadyRunning)
}

func TestStartCancelledDuringPreload(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := f.orch.Start(ctx)
	require.Error(t, err)
	assert.NotEqual(t, StateRunning, f.orch.State())
}

func TestDecisionOpensPosition(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.orch.Start(context.Background()))

	f.proposer.propose(btcOrder())
	f.feed.push(finalCandle("BTCUSDT", 50000))

	pos, ok := f.ledger.GetPosition("BTCUSDT")
	require.True(t, ok)
	assert.Equal(t, 0.02, pos.Quantity)
	assert.Equal(t, 1, f.risk.Status().OpenPositions)

	// No second entry while the position is open.
	f.feed.push(finalCandle("BTCUSDT", 50100))
	assert.Len(t, f.ledger.GetPositions(), 1)
}

func TestNilProposalIsNoTrade(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.orch.Start(context.Background()))

	f.feed.push(finalCandle("BTCUSDT", 50000))
	assert.Equal(t, 1, f.proposer.callCount())
	assert.Empty(t, f.ledger.GetPositions())
}

func TestPauseDropsTicksResumeReenables(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.orch.Start(context.Background()))
	require.NoError(t, f.orch.Pause(context.Background()))
	assert.Equal(t, StatePaused, f.orch.State())

	f.proposer.propose(btcOrder())
	f.feed.push(finalCandle("BTCUSDT", 50000))
	assert.Equal(t, 0, f.proposer.callCount())
	assert.Empty(t, f.ledger.GetPositions())

	require.NoError(t, f.orch.Resume(context.Background()))
	f.feed.push(finalCandle("BTCUSDT", 50000))
	assert.Len(t, f.ledger.GetPositions(), 1)
}

func TestTrailingStopClosesBeforeDecisions(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.orch.Start(context.Background()))

	f.proposer.propose(btcOrder())
	f.feed.push(finalCandle("BTCUSDT", 50000))
	require.Len(t, f.ledger.GetPositions(), 1)
	calls := f.proposer.callCount()

	// Entry 50000 at 2% trail puts the stop at 49000. Crossing it closes
	// the position and the tick ends without consulting the proposer.
	f.feed.push(finalCandle("BTCUSDT", 48900))
	assert.Empty(t, f.ledger.GetPositions())
	assert.Equal(t, calls, f.proposer.callCount())
	assert.Equal(t, 0, f.risk.Status().OpenPositions)

	// The realized loss reached the risk session.
	assert.InDelta(t, (48900.0-50000.0)*0.02, f.risk.Status().DailyPnL, 1e-9)
}

func TestGuardrailBlocksOversizedOrder(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.orch.Start(context.Background()))

	// 0.06 * 50000 = 3000 notional, over 25% of the 10000 equity.
	order := btcOrder()
	order.Quantity = 0.06
	order.StopLoss = 49900 // keep per-trade risk low so only the guardrail fires
	f.proposer.propose(order)
	f.feed.push(finalCandle("BTCUSDT", 50000))

	assert.Empty(t, f.ledger.GetPositions())
	assert.Equal(t, 0, f.risk.Status().OpenPositions)
}

func TestRiskRejectionPreventsSettlement(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.orch.Start(context.Background()))

	order := btcOrder()
	order.StopLoss = 0 // missing stop is rejected by policy
	f.proposer.propose(order)
	f.feed.push(finalCandle("BTCUSDT", 50000))

	assert.Empty(t, f.ledger.GetPositions())
}

func TestInsufficientHistoryDefersDecisions(t *testing.T) {
	f := newFixture(t)
	f.feed.history["BTCUSDT"] = candles("BTCUSDT", 2, 50000)
	require.NoError(t, f.orch.Start(context.Background()))

	f.proposer.propose(btcOrder())
	f.feed.push(finalCandle("BTCUSDT", 50000)) // buffer now 3, floor is 5
	assert.Equal(t, 0, f.proposer.callCount())

	f.feed.push(finalCandle("BTCUSDT", 50000))
	f.feed.push(finalCandle("BTCUSDT", 50000)) // buffer reaches 5
	assert.Equal(t, 1, f.proposer.callCount())
}

func TestPanicForceClosesEverything(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.orch.Start(context.Background()))

	f.proposer.propose(btcOrder())
	f.feed.push(finalCandle("BTCUSDT", 50000))
	f.proposer.propose(&domain.OrderRequest{
		Symbol: "ETHUSDT", Side: domain.Buy, Quantity: 0.3, EntryPrice: 3000, StopLoss: 2940,
	})
	f.feed.push(finalCandle("ETHUSDT", 3000))
	require.Len(t, f.ledger.GetPositions(), 2)

	f.orch.Panic(context.Background(), "operator")

	assert.Empty(t, f.ledger.GetPositions())
	assert.True(t, f.risk.CircuitBreakerActive())
	assert.Equal(t, 0, f.risk.Status().OpenPositions)

	// Nothing reopens while the breaker is active.
	f.proposer.propose(btcOrder())
	f.feed.push(finalCandle("BTCUSDT", 50000))
	assert.Empty(t, f.ledger.GetPositions())
}

func TestStopShutsDownStream(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.orch.Start(context.Background()))
	require.NoError(t, f.orch.Stop(context.Background()))
	assert.Equal(t, StateStopped, f.orch.State())

	select {
	case <-f.feed.doneCh:
	default:
		t.Fatal("stream was not stopped")
	}

	// Stop when not running is an error.
	err := f.orch.Stop(context.Background())
	require.ErrorIs(t, err, ports.ErrNotRunning)
}

func TestRestartResumesTrackingOpenPositions(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.orch.Start(context.Background()))
	f.proposer.propose(btcOrder())
	f.feed.push(finalCandle("BTCUSDT", 50000))
	require.Len(t, f.ledger.GetPositions(), 1)
	require.NoError(t, f.orch.Stop(context.Background()))

	// A fresh orchestrator over the same ledger picks the position up and
	// its trailing stop fires on the next adverse tick.
	trail, err := trailing.NewEngine(trailing.Config{TrailPct: 0.02, BreakevenTriggerPct: 0.01}, nopLogger{}, nil)
	require.NoError(t, err)
	orch2, err := New(Config{
		Symbols: []string{"BTCUSDT", "ETHUSDT"}, Interval: "1m", MinCandles: 5,
	}, nopLogger{}, f.feed, f.proposer, f.ledger, f.risk,
		guardrail.NewEnforcer([]string{"BTCUSDT", "ETHUSDT"}), trail, nil)
	require.NoError(t, err)
	require.NoError(t, orch2.Start(context.Background()))

	f.feed.push(finalCandle("BTCUSDT", 48900))
	assert.Empty(t, f.ledger.GetPositions())
}
