package domain

import "fmt"

// OrderRequest is an immutable proposal to open a position.
// StopLoss and TakeProfit are optional; zero means not set.
type OrderRequest struct {
	Symbol     string
	Side       OrderSide
	Quantity   float64
	EntryPrice float64
	StopLoss   float64
	TakeProfit float64
}

// Validate performs basic shape validation on the request.
// It does not apply any risk policy; that is the approval pipeline's job.
func (o OrderRequest) Validate() error {
	if o.Symbol == "" {
		return fmt.Errorf("order symbol must be set")
	}
	if !o.Side.IsValid() {
		return fmt.Errorf("order side %q is not valid", o.Side)
	}
	if o.Quantity <= 0 {
		return fmt.Errorf("order quantity must be positive, got %f", o.Quantity)
	}
	if o.EntryPrice <= 0 {
		return fmt.Errorf("order entry price must be positive, got %f", o.EntryPrice)
	}
	return nil
}

// Value returns the notional value of the request at its entry price.
func (o OrderRequest) Value() float64 {
	return o.Quantity * o.EntryPrice
}

// ApprovalResult is the outcome of running an order through the risk gate.
// A rejection is an expected outcome, not an error.
type ApprovalResult struct {
	Approved bool
	Reason   RejectionReason
	Message  string // human readable summary
	Detail   string // technical detail for logs

	// Suggestions populated on certain rejections.
	SuggestedQuantity float64
	SuggestedStopLoss float64

	// Risk figures populated on approval.
	RiskAmount  float64 // dollars at risk between entry and stop
	RiskPercent float64 // RiskAmount relative to balance
}

// Reject builds a rejection result.
func Reject(reason RejectionReason, message, detail string) ApprovalResult {
	return ApprovalResult{Approved: false, Reason: reason, Message: message, Detail: detail}
}

// GuardrailResult is the outcome of the hard-limit check.
type GuardrailResult struct {
	Allowed   bool
	Violation GuardrailViolation
	Message   string

	// Structured details: the limit that applied and the value observed.
	Limit    float64
	Observed float64
}
