package ports

import (
	"context"

	"riskcore/internal/domain"
)

// TradeRepository defines the interface for persisting trade records.
type TradeRepository interface {
	// CreateTrade saves a new trade record and returns its assigned ID.
	CreateTrade(ctx context.Context, trade *domain.Trade) (int64, error)
	// UpdateTrade modifies an existing trade record (used to mark it closed).
	UpdateTrade(ctx context.Context, trade *domain.Trade) error
	// FindRecentTrades retrieves the most recent trades, up to a limit.
	FindRecentTrades(ctx context.Context, limit int) ([]*domain.Trade, error)
	// FindOpenTradesBySymbol retrieves the open trade records for a symbol.
	FindOpenTradesBySymbol(ctx context.Context, symbol string) ([]*domain.Trade, error)
	// CountTradesToday counts the trades entered on the current UTC day.
	CountTradesToday(ctx context.Context) (int, error)
}

// PositionRepository defines the interface for persisting positions.
type PositionRepository interface {
	// CreatePosition saves a new position and returns its assigned ID.
	CreatePosition(ctx context.Context, pos *domain.Position) (int64, error)
	// UpdatePosition modifies an existing position.
	UpdatePosition(ctx context.Context, pos *domain.Position) error
	// FindOpenPositions retrieves all currently open positions.
	FindOpenPositions(ctx context.Context) ([]*domain.Position, error)
}

// BalanceRepository defines the interface for persisting currency balances.
type BalanceRepository interface {
	// UpsertBalance inserts or replaces the balance row for a currency.
	UpsertBalance(ctx context.Context, bal *domain.Balance) error
	// FindBalances retrieves all stored balances.
	FindBalances(ctx context.Context) ([]*domain.Balance, error)
}
