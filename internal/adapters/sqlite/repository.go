// Package sqlite persists the trade journal, positions and balances.
// One Repository value implements all three repository ports.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"riskcore/internal/domain"
	"riskcore/internal/ports"
)

// Repository implements ports.TradeRepository, ports.PositionRepository
// and ports.BalanceRepository over a single SQLite database.
type Repository struct {
	db     *sql.DB
	logger ports.Logger
}

// Config holds configuration for the SQLite repository.
type Config struct {
	DBPath string
	Logger ports.Logger
}

// NewRepository opens (or creates) the database and prepares the schema.
func NewRepository(cfg Config) (*Repository, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for SQLite repository")
	}
	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = "./data/riskcore.db"
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory %q: %w", filepath.Dir(dbPath), err)
	}

	// WAL mode for concurrent readers alongside the writer.
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open database at %q: %w", ports.ErrDBConnection, dbPath, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: failed to ping database at %q: %w", ports.ErrDBConnection, dbPath, err)
	}

	// The Go driver benefits from a single connection with SQLite.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	repo := &Repository{db: db, logger: cfg.Logger}
	if err := repo.initializeSchema(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}
	cfg.Logger.Info(context.Background(), "SQLite database ready", map[string]interface{}{"path": dbPath})
	return repo, nil
}

func (r *Repository) initializeSchema(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS trades (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		client_id TEXT NOT NULL UNIQUE,
		symbol TEXT NOT NULL,
		side TEXT NOT NULL,
		quantity REAL NOT NULL,
		entry_price REAL NOT NULL,
		exit_price REAL DEFAULT NULL,
		pnl REAL DEFAULT NULL,
		status TEXT NOT NULL,
		is_paper INTEGER NOT NULL DEFAULT 0,
		entry_time TIMESTAMP NOT NULL,
		exit_time TIMESTAMP DEFAULT NULL
	);

	CREATE TABLE IF NOT EXISTS positions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		symbol TEXT NOT NULL,
		side TEXT NOT NULL,
		quantity REAL NOT NULL,
		entry_price REAL NOT NULL,
		current_price REAL NOT NULL DEFAULT 0,
		stop_loss REAL NOT NULL DEFAULT 0,
		take_profit REAL NOT NULL DEFAULT 0,
		opened_at TIMESTAMP NOT NULL,
		status TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS balances (
		currency TEXT PRIMARY KEY,
		total REAL NOT NULL,
		free REAL NOT NULL,
		used REAL NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_trades_symbol_status ON trades (symbol, status);
	CREATE INDEX IF NOT EXISTS idx_trades_entry_time ON trades (entry_time);
	CREATE INDEX IF NOT EXISTS idx_positions_symbol_status ON positions (symbol, status);
	`
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("%w: schema initialization: %w", ports.ErrQueryFailed, err)
	}
	return nil
}

// Close closes the database connection.
func (r *Repository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// --- TradeRepository ---

// CreateTrade saves a new trade record and returns its assigned ID.
func (r *Repository) CreateTrade(ctx context.Context, trade *domain.Trade) (int64, error) {
	const query = `
	INSERT INTO trades (client_id, symbol, side, quantity, entry_price, exit_price, pnl, status, is_paper, entry_time, exit_time)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	result, err := r.db.ExecContext(ctx, query,
		trade.ClientID, trade.Symbol, string(trade.Side), trade.Quantity, trade.EntryPrice,
		trade.ExitPrice, trade.PnL, string(trade.Status), trade.IsPaper, trade.EntryTime, nullTime(trade.ExitTime))
	if err != nil {
		return 0, fmt.Errorf("%w: insert trade for %s: %w", ports.ErrQueryFailed, trade.Symbol, err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("%w: last insert ID for trade %s: %w", ports.ErrQueryFailed, trade.Symbol, err)
	}
	trade.ID = id
	r.logger.Debug(ctx, "Trade created", map[string]interface{}{"tradeID": id, "clientID": trade.ClientID, "symbol": trade.Symbol})
	return id, nil
}

// UpdateTrade modifies an existing trade record (used to mark it closed).
func (r *Repository) UpdateTrade(ctx context.Context, trade *domain.Trade) error {
	const query = `
	UPDATE trades
	SET quantity = ?, entry_price = ?, exit_price = ?, pnl = ?, status = ?, exit_time = ?
	WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query,
		trade.Quantity, trade.EntryPrice, trade.ExitPrice, trade.PnL, string(trade.Status), nullTime(trade.ExitTime), trade.ID)
	if err != nil {
		return fmt.Errorf("%w: update trade ID %d: %w", ports.ErrQueryFailed, trade.ID, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: rows affected for trade ID %d: %w", ports.ErrQueryFailed, trade.ID, err)
	}
	if affected == 0 {
		return fmt.Errorf("trade ID %d not found for update: %w", trade.ID, ports.ErrNotFound)
	}
	return nil
}

// FindRecentTrades retrieves the most recent trades, newest first.
func (r *Repository) FindRecentTrades(ctx context.Context, limit int) ([]*domain.Trade, error) {
	const query = `
	SELECT id, client_id, symbol, side, quantity, entry_price, COALESCE(exit_price, 0), COALESCE(pnl, 0), status, is_paper, entry_time, exit_time
	FROM trades ORDER BY entry_time DESC LIMIT ?`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: query recent trades: %w", ports.ErrQueryFailed, err)
	}
	defer rows.Close()
	return collectTrades(rows)
}

// FindOpenTradesBySymbol retrieves the open trade records for a symbol.
func (r *Repository) FindOpenTradesBySymbol(ctx context.Context, symbol string) ([]*domain.Trade, error) {
	const query = `
	SELECT id, client_id, symbol, side, quantity, entry_price, COALESCE(exit_price, 0), COALESCE(pnl, 0), status, is_paper, entry_time, exit_time
	FROM trades WHERE symbol = ? AND status = ? ORDER BY entry_time ASC`

	rows, err := r.db.QueryContext(ctx, query, symbol, string(domain.StatusOpen))
	if err != nil {
		return nil, fmt.Errorf("%w: query open trades for %s: %w", ports.ErrQueryFailed, symbol, err)
	}
	defer rows.Close()
	return collectTrades(rows)
}

// CountTradesToday counts trades entered on the current UTC day.
func (r *Repository) CountTradesToday(ctx context.Context) (int, error) {
	const query = `SELECT COUNT(*) FROM trades WHERE date(entry_time) = date('now')`
	var count int
	if err := r.db.QueryRowContext(ctx, query).Scan(&count); err != nil {
		return 0, fmt.Errorf("%w: count trades today: %w", ports.ErrQueryFailed, err)
	}
	return count, nil
}

// --- PositionRepository ---

// CreatePosition saves a new position and returns its assigned ID.
func (r *Repository) CreatePosition(ctx context.Context, pos *domain.Position) (int64, error) {
	const query = `
	INSERT INTO positions (symbol, side, quantity, entry_price, current_price, stop_loss, take_profit, opened_at, status)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	result, err := r.db.ExecContext(ctx, query,
		pos.Symbol, string(pos.Side), pos.Quantity, pos.EntryPrice, pos.CurrentPrice,
		pos.StopLoss, pos.TakeProfit, pos.OpenedAt, string(pos.Status))
	if err != nil {
		return 0, fmt.Errorf("%w: insert position for %s: %w", ports.ErrQueryFailed, pos.Symbol, err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("%w: last insert ID for position %s: %w", ports.ErrQueryFailed, pos.Symbol, err)
	}
	pos.ID = id
	r.logger.Debug(ctx, "Position created", map[string]interface{}{"positionID": id, "symbol": pos.Symbol})
	return id, nil
}

// UpdatePosition modifies an existing position.
func (r *Repository) UpdatePosition(ctx context.Context, pos *domain.Position) error {
	const query = `
	UPDATE positions
	SET quantity = ?, entry_price = ?, current_price = ?, stop_loss = ?, take_profit = ?, status = ?
	WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query,
		pos.Quantity, pos.EntryPrice, pos.CurrentPrice, pos.StopLoss, pos.TakeProfit, string(pos.Status), pos.ID)
	if err != nil {
		return fmt.Errorf("%w: update position ID %d: %w", ports.ErrQueryFailed, pos.ID, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: rows affected for position ID %d: %w", ports.ErrQueryFailed, pos.ID, err)
	}
	if affected == 0 {
		return fmt.Errorf("position ID %d not found for update: %w", pos.ID, ports.ErrNotFound)
	}
	return nil
}

// FindOpenPositions retrieves all currently open positions.
func (r *Repository) FindOpenPositions(ctx context.Context) ([]*domain.Position, error) {
	const query = `
	SELECT id, symbol, side, quantity, entry_price, current_price, stop_loss, take_profit, opened_at, status
	FROM positions WHERE status = ?`

	rows, err := r.db.QueryContext(ctx, query, string(domain.StatusOpen))
	if err != nil {
		return nil, fmt.Errorf("%w: query open positions: %w", ports.ErrQueryFailed, err)
	}
	defer rows.Close()

	positions := make([]*domain.Position, 0)
	for rows.Next() {
		pos, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: scan open position: %w", ports.ErrQueryFailed, err)
		}
		positions = append(positions, pos)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterating position rows: %w", ports.ErrQueryFailed, err)
	}
	return positions, nil
}

// --- BalanceRepository ---

// UpsertBalance inserts or replaces the balance row for a currency.
func (r *Repository) UpsertBalance(ctx context.Context, bal *domain.Balance) error {
	const query = `
	INSERT INTO balances (currency, total, free, used) VALUES (?, ?, ?, ?)
	ON CONFLICT(currency) DO UPDATE SET total = excluded.total, free = excluded.free, used = excluded.used`

	if _, err := r.db.ExecContext(ctx, query, bal.Currency, bal.Total, bal.Free, bal.Used); err != nil {
		return fmt.Errorf("%w: upsert balance for %s: %w", ports.ErrQueryFailed, bal.Currency, err)
	}
	return nil
}

// FindBalances retrieves all stored balances.
func (r *Repository) FindBalances(ctx context.Context) ([]*domain.Balance, error) {
	const query = `SELECT currency, total, free, used FROM balances`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: query balances: %w", ports.ErrQueryFailed, err)
	}
	defer rows.Close()

	balances := make([]*domain.Balance, 0)
	for rows.Next() {
		b := &domain.Balance{}
		if err := rows.Scan(&b.Currency, &b.Total, &b.Free, &b.Used); err != nil {
			return nil, fmt.Errorf("%w: scan balance: %w", ports.ErrQueryFailed, err)
		}
		balances = append(balances, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterating balance rows: %w", ports.ErrQueryFailed, err)
	}
	return balances, nil
}

// --- scan helpers ---

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanTrade(s scanner) (*domain.Trade, error) {
	t := &domain.Trade{}
	var side, status string
	var exitTime sql.NullTime
	err := s.Scan(&t.ID, &t.ClientID, &t.Symbol, &side, &t.Quantity, &t.EntryPrice,
		&t.ExitPrice, &t.PnL, &status, &t.IsPaper, &t.EntryTime, &exitTime)
	if err != nil {
		return nil, err
	}
	t.Side = domain.OrderSide(side)
	t.Status = domain.PositionStatus(status)
	if exitTime.Valid {
		t.ExitTime = exitTime.Time
	}
	return t, nil
}

func scanPosition(s scanner) (*domain.Position, error) {
	p := &domain.Position{}
	var side, status string
	err := s.Scan(&p.ID, &p.Symbol, &side, &p.Quantity, &p.EntryPrice, &p.CurrentPrice,
		&p.StopLoss, &p.TakeProfit, &p.OpenedAt, &status)
	if err != nil {
		return nil, err
	}
	p.Side = domain.OrderSide(side)
	p.Status = domain.PositionStatus(status)
	return p, nil
}

func collectTrades(rows *sql.Rows) ([]*domain.Trade, error) {
	trades := make([]*domain.Trade, 0)
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: scan trade: %w", ports.ErrQueryFailed, err)
		}
		trades = append(trades, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterating trade rows: %w", ports.ErrQueryFailed, err)
	}
	return trades, nil
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}
