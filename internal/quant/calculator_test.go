package quant

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"riskcore/internal/domain"
)

func TestSafePositionSize(t *testing.T) {
	tests := []struct {
		name         string
		balance      float64
		entry        float64
		stop         float64
		riskPerTrade float64
		want         float64
	}{
		{
			// 1% of $10,000 risked over a $1,000 stop distance.
			name:         "one percent risk",
			balance:      10000,
			entry:        50000,
			stop:         49000,
			riskPerTrade: 0.01,
			want:         0.1,
		},
		{
			name:         "short side stop above entry",
			balance:      10000,
			entry:        50000,
			stop:         51000,
			riskPerTrade: 0.01,
			want:         0.1,
		},
		{
			name:         "zero stop distance",
			balance:      10000,
			entry:        50000,
			stop:         50000,
			riskPerTrade: 0.01,
			want:         0,
		},
		{
			name:         "zero balance",
			balance:      0,
			entry:        50000,
			stop:         49000,
			riskPerTrade: 0.01,
			want:         0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SafePositionSize(tt.balance, tt.entry, tt.stop, tt.riskPerTrade)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestRiskReward(t *testing.T) {
	ratio, ok := RiskReward(100, 95, 110)
	assert.True(t, ok)
	assert.InDelta(t, 2.0, ratio, 1e-9)

	// Undefined when no take profit.
	_, ok = RiskReward(100, 95, 0)
	assert.False(t, ok)

	// Undefined when stop equals entry.
	_, ok = RiskReward(100, 100, 110)
	assert.False(t, ok)
}

func TestStopLevels(t *testing.T) {
	assert.InDelta(t, 49000.0, DefaultStop(50000, domain.Buy, 0.02), 1e-9)
	assert.InDelta(t, 51000.0, DefaultStop(50000, domain.Sell, 0.02), 1e-9)

	assert.InDelta(t, 50960.0, TrailingStop(52000, domain.Buy, 0.02), 1e-9)
	assert.InDelta(t, 48960.0, TrailingStop(48000, domain.Sell, 0.02), 1e-6)

	assert.InDelta(t, 50500.0, BreakevenTrigger(50000, domain.Buy, 0.01), 1e-9)
	assert.InDelta(t, 49500.0, BreakevenTrigger(50000, domain.Sell, 0.01), 1e-9)
}

func TestDollarRisk(t *testing.T) {
	assert.InDelta(t, 100.0, DollarRisk(0.1, 50000, 49000), 1e-9)
}
