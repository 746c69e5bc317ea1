// Package quant holds the pure position-sizing and price-level math used
// by the risk gate and the trailing stop engine. Everything here is
// stateless and synchronous.
package quant

import (
	"math"

	"riskcore/internal/domain"
)

// SafePositionSize returns the quantity that risks balance*riskPerTrade
// dollars between the entry and stop prices. Returns 0 when the inputs
// cannot produce a meaningful size.
func SafePositionSize(balance, entryPrice, stopPrice, riskPerTrade float64) float64 {
	if balance <= 0 || entryPrice <= 0 || stopPrice <= 0 || riskPerTrade <= 0 {
		return 0
	}
	perUnitRisk := math.Abs(entryPrice - stopPrice)
	if perUnitRisk == 0 {
		return 0
	}
	return balance * riskPerTrade / perUnitRisk
}

// RiskReward returns the reward/risk ratio for the given levels.
// ok is false when the ratio is undefined (missing levels or zero risk);
// callers are expected to skip the check silently in that case.
func RiskReward(entryPrice, stopPrice, takeProfit float64) (ratio float64, ok bool) {
	if entryPrice <= 0 || stopPrice <= 0 || takeProfit <= 0 {
		return 0, false
	}
	risk := math.Abs(entryPrice - stopPrice)
	if risk == 0 {
		return 0, false
	}
	reward := math.Abs(takeProfit - entryPrice)
	return reward / risk, true
}

// DefaultStop returns the default protective stop for an entry, pct below
// the entry for longs and above for shorts.
func DefaultStop(entryPrice float64, side domain.OrderSide, pct float64) float64 {
	if side == domain.Sell {
		return entryPrice * (1 + pct)
	}
	return entryPrice * (1 - pct)
}

// TrailingStop returns the candidate stop derived from the most
// favourable price seen so far.
func TrailingStop(extremePrice float64, side domain.OrderSide, trailPct float64) float64 {
	if side == domain.Sell {
		return extremePrice * (1 + trailPct)
	}
	return extremePrice * (1 - trailPct)
}

// BreakevenTrigger returns the price that, once crossed in the
// profitable direction, moves the stop to at least the entry.
func BreakevenTrigger(entryPrice float64, side domain.OrderSide, triggerPct float64) float64 {
	if side == domain.Sell {
		return entryPrice * (1 - triggerPct)
	}
	return entryPrice * (1 + triggerPct)
}

// DollarRisk returns the loss realized if the stop is hit.
func DollarRisk(quantity, entryPrice, stopPrice float64) float64 {
	return quantity * math.Abs(entryPrice-stopPrice)
}
