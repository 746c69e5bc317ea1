package trailing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"riskcore/internal/domain"
)

type nopLogger struct{}

func (nopLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (nopLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (nopLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (nopLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := NewEngine(Config{TrailPct: 0.02, BreakevenTriggerPct: 0.01}, nopLogger{}, nil)
	require.NoError(t, err)
	return e
}

func TestInitialStop(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	e.StartTracking(ctx, "BTCUSDT", domain.Buy, 50000)
	stop, ok := e.StopLevel("BTCUSDT")
	require.True(t, ok)
	assert.InDelta(t, 49000.0, stop, 1e-9)

	e.StartTracking(ctx, "ETHUSDT", domain.Sell, 3000)
	stop, ok = e.StopLevel("ETHUSDT")
	require.True(t, ok)
	assert.InDelta(t, 3060.0, stop, 1e-9)
}

func TestStopRatchetsUpAndNeverDown(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	e.StartTracking(ctx, "BTCUSDT", domain.Buy, 50000)

	// Rally to 52000 drags the stop to 50960.
	e.OnPriceUpdate(ctx, "BTCUSDT", 51000)
	e.OnPriceUpdate(ctx, "BTCUSDT", 52000)
	stop, _ := e.StopLevel("BTCUSDT")
	assert.InDelta(t, 50960.0, stop, 1e-9)

	// Pullback to 51000 leaves the stop where it was.
	e.OnPriceUpdate(ctx, "BTCUSDT", 51000)
	stop, _ = e.StopLevel("BTCUSDT")
	assert.InDelta(t, 50960.0, stop, 1e-9)
}

func TestStopRatchetsDownForShorts(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	e.StartTracking(ctx, "BTCUSDT", domain.Sell, 50000)

	e.OnPriceUpdate(ctx, "BTCUSDT", 48000)
	stop, _ := e.StopLevel("BTCUSDT")
	assert.InDelta(t, 48960.0, stop, 1e-6)

	// A bounce must not loosen the stop.
	e.OnPriceUpdate(ctx, "BTCUSDT", 49500)
	stop, _ = e.StopLevel("BTCUSDT")
	assert.InDelta(t, 48960.0, stop, 1e-6)
}

func TestBreakevenIsOneWay(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	e.StartTracking(ctx, "BTCUSDT", domain.Buy, 50000)

	// 1% profit activates breakeven and lifts the stop to the entry.
	e.OnPriceUpdate(ctx, "BTCUSDT", 50500)
	st, ok := e.Tracked("BTCUSDT")
	require.True(t, ok)
	assert.True(t, st.BreakevenActivated)
	assert.GreaterOrEqual(t, st.CurrentStop, 50000.0)

	// Price falling back below the trigger does not deactivate it.
	e.OnPriceUpdate(ctx, "BTCUSDT", 50100)
	st, _ = e.Tracked("BTCUSDT")
	assert.True(t, st.BreakevenActivated)
	assert.GreaterOrEqual(t, st.CurrentStop, 50000.0)
}

func TestBreakevenNeverLowersStop(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	e.StartTracking(ctx, "BTCUSDT", domain.Buy, 50000)

	// Rally far enough that the trailed stop is already above the entry,
	// with breakeven still pending on the first update.
	e.OnPriceUpdate(ctx, "BTCUSDT", 53000)
	st, _ := e.Tracked("BTCUSDT")
	assert.True(t, st.BreakevenActivated)
	// Trailed stop 53000*0.98 = 51940 beats the entry; breakeven must
	// not pull it back down to 50000.
	assert.InDelta(t, 51940.0, st.CurrentStop, 1e-9)
}

func TestShouldTriggerStopsTrackingFirst(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	e.StartTracking(ctx, "BTCUSDT", domain.Buy, 50000)

	assert.False(t, e.ShouldTrigger(ctx, "BTCUSDT", 49500))

	// Crossing the stop triggers once; the state is gone immediately so a
	// second identical tick cannot trigger again.
	assert.True(t, e.ShouldTrigger(ctx, "BTCUSDT", 48900))
	assert.False(t, e.ShouldTrigger(ctx, "BTCUSDT", 48900))
	_, ok := e.StopLevel("BTCUSDT")
	assert.False(t, ok)
}

func TestShortTrigger(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	e.StartTracking(ctx, "BTCUSDT", domain.Sell, 50000)

	assert.False(t, e.ShouldTrigger(ctx, "BTCUSDT", 50500))
	assert.True(t, e.ShouldTrigger(ctx, "BTCUSDT", 51100))
}

func TestResetAll(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	e.StartTracking(ctx, "BTCUSDT", domain.Buy, 50000)
	e.StartTracking(ctx, "ETHUSDT", domain.Buy, 3000)

	cleared := e.ResetAll()
	assert.Len(t, cleared, 2)
	_, ok := e.StopLevel("BTCUSDT")
	assert.False(t, ok)
	_, ok = e.StopLevel("ETHUSDT")
	assert.False(t, ok)
}

func TestUntrackedSymbolIsNoop(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	e.OnPriceUpdate(ctx, "BTCUSDT", 50000)
	assert.False(t, e.ShouldTrigger(ctx, "BTCUSDT", 1))
	_, ok := e.StopLevel("BTCUSDT")
	assert.False(t, ok)
}
