package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/krishnaAiGen/telegram-listing/internal/domain"
	"github.com/krishnaAiGen/telegram-listing/internal/ports"
)

// Ledger implements the ports.TradeLedger interface using SQLite.
//
// The single-active-trade invariant is enforced by a partial unique index on
// the status column: at most one row may hold status ACTIVE. TryReserve
// relies on the resulting constraint violation as its compare-and-set.
type Ledger struct {
	db     *sql.DB
	logger ports.Logger
}

// Config holds configuration for the SQLite ledger.
type Config struct {
	DBPath string
	Logger ports.Logger
}

// NewLedger creates a new SQLite ledger instance.
func NewLedger(cfg Config) (*Ledger, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for SQLite ledger")
	}
	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = "./data/trades.db" // Default path
	}

	// Create data directory if it doesn't exist
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		err = fmt.Errorf("failed to create data directory '%s': %w", filepath.Dir(dbPath), err)
		cfg.Logger.Error(context.Background(), err, "SQLite ledger initialization failed")
		return nil, err
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000") // WAL mode for better concurrency
	if err != nil {
		err = fmt.Errorf("failed to open database at '%s': %w: %w", dbPath, ports.ErrDBConnection, err)
		cfg.Logger.Error(context.Background(), err, "SQLite ledger initialization failed")
		return nil, err
	}

	if err := db.Ping(); err != nil {
		db.Close()
		err = fmt.Errorf("failed to ping database at '%s': %w: %w", dbPath, ports.ErrDBConnection, err)
		cfg.Logger.Error(context.Background(), err, "SQLite ledger initialization failed")
		return nil, err
	}

	// Set connection pool settings (important for SQLite)
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	cfg.Logger.Info(context.Background(), "SQLite database connection established", map[string]interface{}{"path": dbPath})

	ledger := &Ledger{db: db, logger: cfg.Logger}

	if err := ledger.initializeSchema(context.Background()); err != nil {
		db.Close()
		err = fmt.Errorf("failed to initialize database schema: %w", err)
		cfg.Logger.Error(context.Background(), err, "SQLite ledger initialization failed")
		return nil, err
	}
	cfg.Logger.Info(context.Background(), "Database schema initialized/verified")

	return ledger, nil
}

// initializeSchema creates tables and indexes if they don't exist.
func (l *Ledger) initializeSchema(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS trades (
		id TEXT PRIMARY KEY,
		symbol TEXT NOT NULL,
		side TEXT NOT NULL,
		entry_time TIMESTAMP NOT NULL,
		entry_price REAL NOT NULL,
		quantity REAL NOT NULL,
		stop_loss_price REAL NOT NULL,
		take_profit_price REAL NOT NULL,
		leverage INTEGER NOT NULL,
		notional_amount REAL NOT NULL,
		source_message TEXT NOT NULL,
		status TEXT NOT NULL,
		max_hold_until TIMESTAMP NOT NULL,
		close_reason TEXT DEFAULT NULL,
		exit_time TIMESTAMP DEFAULT NULL,
		exit_price REAL DEFAULT NULL,
		pnl REAL DEFAULT NULL
	);

	-- At most one row may be ACTIVE at any time. This index is the
	-- serialization point for concurrent admissions.
	CREATE UNIQUE INDEX IF NOT EXISTS idx_trades_single_active
		ON trades (status) WHERE status = 'ACTIVE';

	CREATE INDEX IF NOT EXISTS idx_trades_symbol_entry_time ON trades (symbol, entry_time);
	`
	_, err := l.db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("failed to execute schema initialization: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (l *Ledger) Close() error {
	if l.db != nil {
		l.logger.Info(context.Background(), "Closing SQLite database connection")
		return l.db.Close()
	}
	return nil
}

const tradeColumns = `
	id, symbol, side, entry_time, entry_price, quantity, stop_loss_price,
	take_profit_price, leverage, notional_amount, source_message, status,
	max_hold_until, close_reason, exit_time, COALESCE(exit_price, 0), COALESCE(pnl, 0)`

// TryReserve atomically inserts a new ACTIVE record. The partial unique
// index rejects the insert when another active record exists, which is
// mapped to ports.ErrActiveTradeExists. A violation of the primary key is a
// different condition (same symbol admitted twice within one second) and is
// reported as a plain failure.
func (l *Ledger) TryReserve(ctx context.Context, trade *domain.Trade) error {
	const query = `
	INSERT INTO trades (id, symbol, side, entry_time, entry_price, quantity,
	                    stop_loss_price, take_profit_price, leverage, notional_amount,
	                    source_message, status, max_hold_until)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := l.db.ExecContext(ctx, query,
		trade.ID, trade.Symbol, trade.Side, trade.EntryTime, trade.EntryPrice, trade.Quantity,
		trade.StopLossPrice, trade.TakeProfitPrice, trade.Leverage, trade.NotionalAmount,
		trade.SourceMessage, trade.Status, trade.MaxHoldUntil)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			// SQLite names the violated constraint in the message:
			// "trades.id" for the primary key, the index name for the
			// single-active guard.
			if strings.Contains(sqliteErr.Error(), "trades.id") {
				return fmt.Errorf("trade ID %s already recorded: %w", trade.ID, err)
			}
			l.logger.Debug(ctx, "Admission slot already held", map[string]interface{}{"tradeID": trade.ID, "symbol": trade.Symbol})
			return fmt.Errorf("active trade record exists: %w", ports.ErrActiveTradeExists)
		}
		return fmt.Errorf("failed to reserve trade %s: %w: %w", trade.ID, ports.ErrUpdateFailed, err)
	}
	l.logger.Debug(ctx, "Trade reserved", map[string]interface{}{"tradeID": trade.ID, "symbol": trade.Symbol})
	return nil
}

// Release deletes a reserved record whose entry never filled, reverting the
// admission. Releasing an unknown ID is not an error.
func (l *Ledger) Release(ctx context.Context, id string) error {
	const query = `DELETE FROM trades WHERE id = ?`

	result, err := l.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to release trade %s: %w: %w", id, ports.ErrUpdateFailed, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected for release of trade %s: %w", id, err)
	}
	l.logger.Debug(ctx, "Trade released", map[string]interface{}{"tradeID": id, "rowsAffected": rowsAffected})
	return nil
}

// Update overwrites an existing record keyed by its ID.
func (l *Ledger) Update(ctx context.Context, trade *domain.Trade) error {
	const query = `
	UPDATE trades
	SET symbol = ?, side = ?, entry_time = ?, entry_price = ?, quantity = ?,
	    stop_loss_price = ?, take_profit_price = ?, leverage = ?, notional_amount = ?,
	    source_message = ?, status = ?, max_hold_until = ?, close_reason = ?,
	    exit_time = ?, exit_price = ?, pnl = ?
	WHERE id = ?`

	var closeReason sql.NullString
	if trade.CloseReason != "" {
		closeReason = sql.NullString{String: string(trade.CloseReason), Valid: true}
	}
	var exitTime sql.NullTime
	if !trade.ExitTime.IsZero() {
		exitTime = sql.NullTime{Time: trade.ExitTime, Valid: true}
	}

	result, err := l.db.ExecContext(ctx, query,
		trade.Symbol, trade.Side, trade.EntryTime, trade.EntryPrice, trade.Quantity,
		trade.StopLossPrice, trade.TakeProfitPrice, trade.Leverage, trade.NotionalAmount,
		trade.SourceMessage, trade.Status, trade.MaxHoldUntil, closeReason,
		exitTime, trade.ExitPrice, trade.PNL,
		trade.ID)
	if err != nil {
		return fmt.Errorf("failed to update trade %s: %w: %w", trade.ID, ports.ErrUpdateFailed, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected for update of trade %s: %w", trade.ID, err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("trade %s not found for update: %w", trade.ID, ports.ErrNotFound)
	}
	l.logger.Debug(ctx, "Trade updated", map[string]interface{}{"tradeID": trade.ID, "status": trade.Status})
	return nil
}

// FindActive retrieves the currently active trade, if any. Returns nil, nil
// when no trade is active. More than one active row means the unique index
// was bypassed somehow and the store can no longer be trusted.
func (l *Ledger) FindActive(ctx context.Context) (*domain.Trade, error) {
	query := `SELECT ` + tradeColumns + ` FROM trades WHERE status = ?`

	rows, err := l.db.QueryContext(ctx, query, domain.StatusActive)
	if err != nil {
		return nil, fmt.Errorf("failed to query active trade: %w: %w", ports.ErrQueryFailed, err)
	}
	defer rows.Close()

	var active *domain.Trade
	for rows.Next() {
		trade, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan active trade: %w", err)
		}
		if active != nil {
			return nil, fmt.Errorf("multiple active trade records found: %w", ports.ErrLedgerCorrupted)
		}
		active = trade
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating active trade rows: %w", err)
	}
	if active == nil {
		l.logger.Debug(ctx, "No active trade found")
		return nil, nil
	}
	return active, nil
}

// FindAll retrieves all trade records, ordered by entry time descending.
func (l *Ledger) FindAll(ctx context.Context) ([]*domain.Trade, error) {
	query := `SELECT ` + tradeColumns + ` FROM trades ORDER BY entry_time DESC`

	rows, err := l.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query all trades: %w: %w", ports.ErrQueryFailed, err)
	}
	defer rows.Close()

	trades := make([]*domain.Trade, 0)
	for rows.Next() {
		trade, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trade during FindAll: %w", err)
		}
		trades = append(trades, trade)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating trade rows: %w", err)
	}
	return trades, nil
}

// scanner defines an interface compatible with *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

// scanTrade scans a row into a domain.Trade struct.
func scanTrade(s scanner) (*domain.Trade, error) {
	t := &domain.Trade{}
	var side, status string
	var closeReason sql.NullString
	var exitTime sql.NullTime
	err := s.Scan(
		&t.ID, &t.Symbol, &side, &t.EntryTime, &t.EntryPrice, &t.Quantity, &t.StopLossPrice,
		&t.TakeProfitPrice, &t.Leverage, &t.NotionalAmount, &t.SourceMessage, &status,
		&t.MaxHoldUntil, &closeReason, &exitTime, &t.ExitPrice, &t.PNL)
	if err != nil {
		return nil, err // Handle sql.ErrNoRows in the caller
	}
	t.Side = domain.OrderSide(side)
	t.Status = domain.TradeStatus(status)
	if closeReason.Valid {
		t.CloseReason = domain.CloseReason(closeReason.String)
	}
	if exitTime.Valid {
		t.ExitTime = exitTime.Time
	}
	return t, nil
}
