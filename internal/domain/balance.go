package domain

import "math"

// balanceEpsilon absorbs float rounding when checking the balance invariant.
const balanceEpsilon = 1e-9

// Balance tracks the funds held in a single currency.
// The invariant Total = Free + Used must hold after every mutation.
type Balance struct {
	Currency string
	Total    float64
	Free     float64
	Used     float64
}

// Consistent reports whether the balance invariant holds.
func (b *Balance) Consistent() bool {
	if b.Free < -balanceEpsilon || b.Used < -balanceEpsilon {
		return false
	}
	return math.Abs(b.Total-(b.Free+b.Used)) <= balanceEpsilon
}

// Clone returns a copy so callers can hand out read-only snapshots.
func (b *Balance) Clone() *Balance {
	c := *b
	return &c
}
