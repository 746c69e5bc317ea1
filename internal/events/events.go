// Package events provides the async pub/sub backbone connecting the
// trading components. Publishing never blocks the caller: the bus uses a
// bounded queue and drops (and logs) when full.
package events

import (
	"time"

	"riskcore/internal/domain"
)

// Type tags an event with its kind.
type Type string

const (
	TypePriceUpdate    Type = "priceUpdate"
	TypeOrderApproved  Type = "orderApproved"
	TypeOrderRejected  Type = "orderRejected"
	TypeOrderFilled    Type = "orderFilled"
	TypePositionOpened Type = "positionOpened"
	TypePositionClosed Type = "positionClosed"
	TypeStopTrailed    Type = "stopTrailed"
	TypeStopBreakeven  Type = "stopBreakeven"
	TypeCircuitBreaker Type = "circuitBreakerTriggered"
	TypeSystemPaused   Type = "systemPaused"
	TypeSystemResumed  Type = "systemResumed"
	TypePanic          Type = "panicTriggered"
)

// Event is a typed tag plus an immutable payload, timestamped at publish.
type Event struct {
	ID      string // ULID assigned by the bus
	Type    Type
	At      time.Time
	Payload any
}

// Payloads. Each event type carries exactly one of these.

type PriceUpdate struct {
	Symbol string
	Price  float64
}

type OrderApproved struct {
	Order  domain.OrderRequest
	Result domain.ApprovalResult
}

type OrderRejected struct {
	Order     domain.OrderRequest
	Reason    domain.RejectionReason
	Violation domain.GuardrailViolation // set when a guardrail rejected
	Message   string
}

type OrderFilled struct {
	Symbol   string
	Side     domain.OrderSide
	Quantity float64
	Price    float64
	TradeID  string
}

type PositionOpened struct {
	Position domain.Position
}

type PositionClosed struct {
	Symbol    string
	Quantity  float64
	ExitPrice float64
	PnL       float64
	Reason    domain.CloseReason
}

type StopTrailed struct {
	Symbol  string
	OldStop float64
	NewStop float64
}

type StopBreakeven struct {
	Symbol string
	Stop   float64
}

type CircuitBreaker struct {
	Reason string
}

type PanicTriggered struct {
	Closed int
	Failed int
}
