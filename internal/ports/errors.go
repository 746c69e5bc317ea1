package ports

import "errors"

// Standard application-level errors.
// Adapters and components wrap underlying failures with these so callers
// can branch with errors.Is without knowing the infrastructure.
var (
	// General
	ErrNotFound           = errors.New("resource not found")
	ErrInvalidRequest     = errors.New("invalid request parameters or format")
	ErrConfigurationError = errors.New("invalid or missing configuration")

	// Ledger
	ErrInsufficientBalance = errors.New("insufficient free balance for operation")
	ErrNoPrice             = errors.New("no price available for symbol")
	ErrPositionNotFound    = errors.New("no open position for symbol")
	ErrSideMismatch        = errors.New("order side conflicts with existing position")

	// Orchestrator lifecycle
	ErrNotRunning     = errors.New("orchestrator is not running")
	ErrAlreadyRunning = errors.New("orchestrator is already running")

	// Price feed
	ErrFeedUnavailable  = errors.New("price feed is unavailable")
	ErrConnectionFailed = errors.New("failed to connect to the price feed")

	// Database
	ErrDBConnection = errors.New("database connection error")
	ErrQueryFailed  = errors.New("database query failed")
)
