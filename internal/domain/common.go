package domain

// OrderSide represents the side of an order (BUY or SELL).
type OrderSide string

const (
	Buy  OrderSide = "BUY"
	Sell OrderSide = "SELL"
)

// Opposite returns the closing side for a position opened on this side.
func (s OrderSide) Opposite() OrderSide {
	if s == Buy {
		return Sell
	}
	return Buy
}

// IsValid reports whether the side is one of the two known values.
func (s OrderSide) IsValid() bool {
	return s == Buy || s == Sell
}

// PositionStatus represents the status of a trading position or trade record.
type PositionStatus string

const (
	StatusOpen   PositionStatus = "open"
	StatusClosed PositionStatus = "closed"
)

// CloseReason indicates why a position was closed.
type CloseReason string

const (
	CloseReasonTrailingStop CloseReason = "TRAILING_STOP"
	CloseReasonManual       CloseReason = "MANUAL"
	CloseReasonPanic        CloseReason = "PANIC"
	CloseReasonUnknown      CloseReason = "Unknown"
)

// RejectionReason is the closed set of reasons an order approval can fail.
// An empty reason means the order was approved.
type RejectionReason string

const (
	ReasonNone                  RejectionReason = ""
	ReasonInsufficientBalance   RejectionReason = "INSUFFICIENT_BALANCE"
	ReasonMaxPositionsReached   RejectionReason = "MAX_POSITIONS_REACHED"
	ReasonDailyDrawdownExceeded RejectionReason = "DAILY_DRAWDOWN_EXCEEDED"
	ReasonRiskTooHigh           RejectionReason = "RISK_TOO_HIGH"
	ReasonPoorRiskReward        RejectionReason = "POOR_RISK_REWARD"
	ReasonCircuitBreakerActive  RejectionReason = "CIRCUIT_BREAKER_ACTIVE"
	ReasonInvalidOrder          RejectionReason = "INVALID_ORDER"
	ReasonSymbolNotAllowed      RejectionReason = "SYMBOL_NOT_ALLOWED"
)

// GuardrailViolation is the closed set of hard-limit violations.
type GuardrailViolation string

const (
	ViolationNone             GuardrailViolation = ""
	ViolationPositionTooLarge GuardrailViolation = "POSITION_TOO_LARGE"
	ViolationExposureTooHigh  GuardrailViolation = "EXPOSURE_TOO_HIGH"
	ViolationSymbolNotAllowed GuardrailViolation = "SYMBOL_NOT_ALLOWED"
)
