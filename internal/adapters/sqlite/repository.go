package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"perpbot/internal/domain"
	"perpbot/internal/ports"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// Repository implements ports.Store using SQLite. One connection, WAL mode.
type Repository struct {
	db     *sql.DB
	logger ports.Logger
}

// Config holds configuration for the SQLite repository.
type Config struct {
	DBPath string
	Logger ports.Logger
}

// NewRepository creates a new SQLite repository instance.
func NewRepository(cfg Config) (*Repository, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for SQLite repository")
	}
	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = "./data/perpbot.db" // Default path
	}

	// Create data directory if it doesn't exist
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		err = fmt.Errorf("failed to create data directory '%s': %w", filepath.Dir(dbPath), err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000") // WAL mode for better concurrency
	if err != nil {
		err = fmt.Errorf("failed to open database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	if err := db.Ping(); err != nil {
		db.Close()
		err = fmt.Errorf("failed to ping database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// SQLite handles concurrency internally; the Go driver benefits from a single connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	cfg.Logger.Info(context.Background(), "SQLite database connection established", map[string]interface{}{"path": dbPath})

	repo := &Repository{db: db, logger: cfg.Logger}

	if err := repo.initializeSchema(context.Background()); err != nil {
		db.Close()
		err = fmt.Errorf("failed to initialize database schema: %w", err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}
	cfg.Logger.Info(context.Background(), "Database schema initialized/verified")

	return repo, nil
}

// initializeSchema creates tables if they don't exist.
// NOTE: This is a basic approach. A proper migration tool is recommended for production.
func (r *Repository) initializeSchema(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS positions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		symbol TEXT NOT NULL,
		side TEXT NOT NULL,
		quantity REAL NOT NULL,
		entry_price REAL NOT NULL,
		leverage INTEGER NOT NULL,
		opened_at TIMESTAMP NOT NULL,
		closed_at TIMESTAMP DEFAULT NULL,
		status TEXT NOT NULL,
		close_price REAL DEFAULT NULL,
		pnl REAL DEFAULT NULL,
		close_reason TEXT DEFAULT NULL,
		stop_loss_order_ref TEXT DEFAULT NULL,
		take_profit_order_ref TEXT DEFAULT NULL,
		stop_loss_price REAL NOT NULL DEFAULT 0,
		take_profit_price REAL NOT NULL DEFAULT 0,
		initial_risk REAL NOT NULL DEFAULT 0,
		stages_fired INTEGER NOT NULL DEFAULT 0,
		trailing_extreme REAL NOT NULL DEFAULT 0,
		trailing_activated INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS trades (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		type TEXT NOT NULL,
		symbol TEXT NOT NULL,
		side TEXT NOT NULL,
		price REAL NOT NULL,
		quantity REAL NOT NULL,
		pnl REAL NOT NULL DEFAULT 0,
		fee REAL NOT NULL DEFAULT 0,
		timestamp TIMESTAMP NOT NULL,
		order_id TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS conditional_orders (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		exchange_id TEXT NOT NULL,
		symbol TEXT NOT NULL,
		kind TEXT NOT NULL,
		trigger_price REAL NOT NULL,
		status TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS close_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		symbol TEXT NOT NULL,
		reason TEXT NOT NULL,
		close_price REAL NOT NULL,
		pnl REAL NOT NULL,
		pnl_percent REAL NOT NULL,
		occurred_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS partial_take_profits (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		position_id INTEGER NOT NULL,
		symbol TEXT NOT NULL,
		stage INTEGER NOT NULL,
		r_multiple REAL NOT NULL,
		close_percent REAL NOT NULL,
		trigger_price REAL NOT NULL,
		pnl REAL NOT NULL,
		executed_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_positions_symbol_status ON positions (symbol, status);
	CREATE INDEX IF NOT EXISTS idx_trades_symbol_timestamp ON trades (symbol, timestamp);
	CREATE INDEX IF NOT EXISTS idx_conditional_orders_symbol_status ON conditional_orders (symbol, status);
	CREATE INDEX IF NOT EXISTS idx_close_events_symbol ON close_events (symbol, occurred_at);
	CREATE INDEX IF NOT EXISTS idx_partials_position ON partial_take_profits (position_id);
	`
	_, err := r.db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("failed to execute schema initialization: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (r *Repository) Close() error {
	if r.db != nil {
		r.logger.Info(context.Background(), "Closing SQLite database connection")
		return r.db.Close()
	}
	return nil
}

// --- PositionRepository Implementation ---

// Create saves a new position and returns its assigned ID.
func (r *Repository) Create(ctx context.Context, pos *domain.Position) (int64, error) {
	const query = `
	INSERT INTO positions (symbol, side, quantity, entry_price, leverage, opened_at, status,
	                       stop_loss_price, take_profit_price, initial_risk, stages_fired,
	                       trailing_extreme, trailing_activated)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	result, err := r.db.ExecContext(ctx, query,
		pos.Symbol, pos.Side, pos.Quantity, pos.EntryPrice, pos.Leverage, pos.OpenedAt, pos.Status,
		pos.StopLossPrice, pos.TakeProfitPrice, pos.InitialRisk, pos.StagesFired,
		pos.Trailing.HighestFavorablePrice, boolToInt(pos.Trailing.Activated))
	if err != nil {
		return 0, fmt.Errorf("failed to insert position for symbol %s: %w", pos.Symbol, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID for position %s: %w", pos.Symbol, err)
	}
	pos.ID = id
	r.logger.Debug(ctx, "Position created", map[string]interface{}{"positionID": id, "symbol": pos.Symbol, "side": pos.Side})
	return id, nil
}

// Update modifies an existing position based on its ID.
func (r *Repository) Update(ctx context.Context, pos *domain.Position) error {
	const query = `
	UPDATE positions
	SET symbol = ?, side = ?, quantity = ?, entry_price = ?, leverage = ?, opened_at = ?,
	    closed_at = ?, status = ?, close_price = ?, pnl = ?, close_reason = ?,
	    stop_loss_order_ref = ?, take_profit_order_ref = ?, stop_loss_price = ?,
	    take_profit_price = ?, initial_risk = ?, stages_fired = ?,
	    trailing_extreme = ?, trailing_activated = ?
	WHERE id = ?`

	var closedAt sql.NullTime
	if !pos.ClosedAt.IsZero() {
		closedAt = sql.NullTime{Time: pos.ClosedAt, Valid: true}
	}
	var closeReason sql.NullString
	if pos.Reason != "" {
		closeReason = sql.NullString{String: string(pos.Reason), Valid: true}
	}

	result, err := r.db.ExecContext(ctx, query,
		pos.Symbol, pos.Side, pos.Quantity, pos.EntryPrice, pos.Leverage, pos.OpenedAt,
		closedAt, pos.Status, pos.ClosePrice, pos.PNL, closeReason,
		nullableString(pos.StopLossOrderRef), nullableString(pos.TakeProfitOrderRef), pos.StopLossPrice,
		pos.TakeProfitPrice, pos.InitialRisk, pos.StagesFired,
		pos.Trailing.HighestFavorablePrice, boolToInt(pos.Trailing.Activated),
		pos.ID)
	if err != nil {
		return fmt.Errorf("failed to update position ID %d: %w", pos.ID, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected for update position ID %d: %w", pos.ID, err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("position ID %d not found for update: %w", pos.ID, ports.ErrNotFound)
	}
	r.logger.Debug(ctx, "Position updated", map[string]interface{}{"positionID": pos.ID, "symbol": pos.Symbol, "status": pos.Status})
	return nil
}

const positionColumns = `
	id, symbol, side, quantity, entry_price, leverage, opened_at, closed_at, status,
	COALESCE(close_price, 0), COALESCE(pnl, 0), close_reason,
	stop_loss_order_ref, take_profit_order_ref, stop_loss_price, take_profit_price,
	initial_risk, stages_fired, trailing_extreme, trailing_activated`

// FindOpenBySymbol retrieves the currently open position for a given symbol, if any.
func (r *Repository) FindOpenBySymbol(ctx context.Context, symbol string) (*domain.Position, error) {
	query := `SELECT` + positionColumns + ` FROM positions WHERE symbol = ? AND status = ?`

	row := r.db.QueryRowContext(ctx, query, symbol, domain.StatusOpen)
	pos, err := scanPosition(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not an error, just not found
		}
		return nil, fmt.Errorf("failed to query open position for symbol %s: %w", symbol, err)
	}
	return pos, nil
}

// FindOpen retrieves all currently open positions.
func (r *Repository) FindOpen(ctx context.Context) ([]*domain.Position, error) {
	query := `SELECT` + positionColumns + ` FROM positions WHERE status = ? ORDER BY opened_at`

	rows, err := r.db.QueryContext(ctx, query, domain.StatusOpen)
	if err != nil {
		return nil, fmt.Errorf("failed to query open positions: %w", err)
	}
	defer rows.Close()

	positions := make([]*domain.Position, 0)
	for rows.Next() {
		pos, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan position during FindOpen: %w", err)
		}
		positions = append(positions, pos)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating position rows: %w", err)
	}
	return positions, nil
}

// FindByID retrieves a position by its unique ID.
func (r *Repository) FindByID(ctx context.Context, id int64) (*domain.Position, error) {
	query := `SELECT` + positionColumns + ` FROM positions WHERE id = ?`

	row := r.db.QueryRowContext(ctx, query, id)
	pos, err := scanPosition(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not an error, just not found
		}
		return nil, fmt.Errorf("failed to query position by ID %d: %w", id, err)
	}
	return pos, nil
}

// --- TradeRepository Implementation ---

// CreateTrade saves a new trade record and returns its assigned ID.
func (r *Repository) CreateTrade(ctx context.Context, trade *domain.Trade) (int64, error) {
	const query = `
	INSERT INTO trades (type, symbol, side, price, quantity, pnl, fee, timestamp, order_id, status)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	result, err := r.db.ExecContext(ctx, query,
		trade.Type, trade.Symbol, trade.Side, trade.Price, trade.Quantity,
		trade.PNL, trade.Fee, trade.Timestamp, trade.OrderID, trade.Status)
	if err != nil {
		return 0, fmt.Errorf("failed to insert trade for symbol %s: %w", trade.Symbol, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID for trade %s: %w", trade.Symbol, err)
	}
	trade.ID = id
	r.logger.Debug(ctx, "Trade recorded", map[string]interface{}{"tradeID": id, "symbol": trade.Symbol, "type": trade.Type, "pnl": trade.PNL})
	return id, nil
}

const tradeColumns = ` id, type, symbol, side, price, quantity, pnl, fee, timestamp, order_id, status`

// FindBySymbol retrieves the most recent trades for a given symbol, up to a limit.
func (r *Repository) FindBySymbol(ctx context.Context, symbol string, limit int) ([]*domain.Trade, error) {
	query := `SELECT` + tradeColumns + ` FROM trades WHERE symbol = ? ORDER BY timestamp DESC LIMIT ?`

	rows, err := r.db.QueryContext(ctx, query, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades for symbol %s: %w", symbol, err)
	}
	defer rows.Close()
	return collectTrades(rows)
}

// FindClosedTrades retrieves all closing trades, oldest first.
func (r *Repository) FindClosedTrades(ctx context.Context) ([]*domain.Trade, error) {
	query := `SELECT` + tradeColumns + ` FROM trades WHERE type = ? ORDER BY timestamp`

	rows, err := r.db.QueryContext(ctx, query, domain.TradeTypeClose)
	if err != nil {
		return nil, fmt.Errorf("failed to query closed trades: %w", err)
	}
	defer rows.Close()
	return collectTrades(rows)
}

// FindClosedBySymbolSince retrieves the closing trades for a symbol at or
// after the given instant, oldest first.
func (r *Repository) FindClosedBySymbolSince(ctx context.Context, symbol string, since time.Time) ([]*domain.Trade, error) {
	query := `SELECT` + tradeColumns + ` FROM trades
	WHERE symbol = ? AND type = ? AND timestamp >= ?
	ORDER BY timestamp`

	rows, err := r.db.QueryContext(ctx, query, symbol, domain.TradeTypeClose, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query closed trades for symbol %s: %w", symbol, err)
	}
	defer rows.Close()
	return collectTrades(rows)
}

// FindOpenTradeBefore retrieves the most recent opening trade for a symbol
// before the given instant.
func (r *Repository) FindOpenTradeBefore(ctx context.Context, symbol string, before time.Time) (*domain.Trade, error) {
	query := `SELECT` + tradeColumns + ` FROM trades
	WHERE symbol = ? AND type = ? AND timestamp < ?
	ORDER BY timestamp DESC LIMIT 1`

	row := r.db.QueryRowContext(ctx, query, symbol, domain.TradeTypeOpen, before)
	trade, err := scanTrade(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not an error, just not found
		}
		return nil, fmt.Errorf("failed to query opening trade for symbol %s: %w", symbol, err)
	}
	return trade, nil
}

// CorrectTrade overwrites the PnL and fee of an existing trade record.
func (r *Repository) CorrectTrade(ctx context.Context, id int64, pnl, fee float64) error {
	const query = `UPDATE trades SET pnl = ?, fee = ? WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query, pnl, fee, id)
	if err != nil {
		return fmt.Errorf("failed to correct trade ID %d: %w", id, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected for trade correction ID %d: %w", id, err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("trade ID %d not found for correction: %w", id, ports.ErrNotFound)
	}
	r.logger.Debug(ctx, "Trade corrected", map[string]interface{}{"tradeID": id, "pnl": pnl, "fee": fee})
	return nil
}

// CountTodayBySymbol counts the number of trades executed today for a given symbol.
func (r *Repository) CountTodayBySymbol(ctx context.Context, symbol string) (int, error) {
	const query = `SELECT COUNT(*) FROM trades WHERE symbol = ? AND date(timestamp) = date('now', 'localtime')`
	var count int
	err := r.db.QueryRowContext(ctx, query, symbol).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count trades today for symbol %s: %w", symbol, err)
	}
	return count, nil
}

// --- ConditionalOrderRepository Implementation ---

// CreateConditionalOrder saves the local cache record of an exchange-side order.
func (r *Repository) CreateConditionalOrder(ctx context.Context, order *domain.ConditionalOrder) (int64, error) {
	const query = `
	INSERT INTO conditional_orders (exchange_id, symbol, kind, trigger_price, status, created_at)
	VALUES (?, ?, ?, ?, ?, ?)`

	result, err := r.db.ExecContext(ctx, query,
		order.ExchangeID, order.Symbol, order.Kind, order.TriggerPrice, order.Status, order.CreatedAt)
	if err != nil {
		return 0, fmt.Errorf("failed to insert conditional order for symbol %s: %w", order.Symbol, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID for conditional order %s: %w", order.Symbol, err)
	}
	order.ID = id
	r.logger.Debug(ctx, "Conditional order cached", map[string]interface{}{"orderID": id, "symbol": order.Symbol, "kind": order.Kind})
	return id, nil
}

// UpdateConditionalOrderStatus moves an order through its lifecycle.
func (r *Repository) UpdateConditionalOrderStatus(ctx context.Context, id int64, status domain.ConditionalOrderStatus) error {
	const query = `UPDATE conditional_orders SET status = ? WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query, status, id)
	if err != nil {
		return fmt.Errorf("failed to update conditional order ID %d: %w", id, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected for conditional order ID %d: %w", id, err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("conditional order ID %d not found: %w", id, ports.ErrNotFound)
	}
	return nil
}

// FindActiveBySymbol retrieves the active conditional orders for a symbol.
func (r *Repository) FindActiveBySymbol(ctx context.Context, symbol string) ([]*domain.ConditionalOrder, error) {
	const query = `
	SELECT id, exchange_id, symbol, kind, trigger_price, status, created_at
	FROM conditional_orders
	WHERE symbol = ? AND status = ?
	ORDER BY created_at`

	rows, err := r.db.QueryContext(ctx, query, symbol, domain.ConditionalActive)
	if err != nil {
		return nil, fmt.Errorf("failed to query conditional orders for symbol %s: %w", symbol, err)
	}
	defer rows.Close()

	orders := make([]*domain.ConditionalOrder, 0)
	for rows.Next() {
		o := &domain.ConditionalOrder{}
		if err := rows.Scan(&o.ID, &o.ExchangeID, &o.Symbol, &o.Kind, &o.TriggerPrice, &o.Status, &o.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan conditional order: %w", err)
		}
		orders = append(orders, o)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating conditional order rows: %w", err)
	}
	return orders, nil
}

// --- CloseEventRepository Implementation ---

// CreateCloseEvent records why a position left the books.
func (r *Repository) CreateCloseEvent(ctx context.Context, event *domain.CloseEvent) (int64, error) {
	const query = `
	INSERT INTO close_events (symbol, reason, close_price, pnl, pnl_percent, occurred_at)
	VALUES (?, ?, ?, ?, ?, ?)`

	result, err := r.db.ExecContext(ctx, query,
		event.Symbol, event.Reason, event.ClosePrice, event.PNL, event.PNLPercent, event.OccurredAt)
	if err != nil {
		return 0, fmt.Errorf("failed to insert close event for symbol %s: %w", event.Symbol, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID for close event %s: %w", event.Symbol, err)
	}
	event.ID = id
	return id, nil
}

// FindCloseEvents retrieves the most recent close events for a symbol.
func (r *Repository) FindCloseEvents(ctx context.Context, symbol string, limit int) ([]*domain.CloseEvent, error) {
	const query = `
	SELECT id, symbol, reason, close_price, pnl, pnl_percent, occurred_at
	FROM close_events
	WHERE symbol = ? ORDER BY occurred_at DESC LIMIT ?`

	rows, err := r.db.QueryContext(ctx, query, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query close events for symbol %s: %w", symbol, err)
	}
	defer rows.Close()

	events := make([]*domain.CloseEvent, 0)
	for rows.Next() {
		e := &domain.CloseEvent{}
		if err := rows.Scan(&e.ID, &e.Symbol, &e.Reason, &e.ClosePrice, &e.PNL, &e.PNLPercent, &e.OccurredAt); err != nil {
			return nil, fmt.Errorf("failed to scan close event: %w", err)
		}
		events = append(events, e)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating close event rows: %w", err)
	}
	return events, nil
}

// --- PartialTakeProfitRepository Implementation ---

// CreatePartialTakeProfit records one executed partial take-profit stage.
func (r *Repository) CreatePartialTakeProfit(ctx context.Context, record *domain.PartialTakeProfit) (int64, error) {
	const query = `
	INSERT INTO partial_take_profits (position_id, symbol, stage, r_multiple, close_percent, trigger_price, pnl, executed_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	result, err := r.db.ExecContext(ctx, query,
		record.PositionID, record.Symbol, record.Stage, record.RMultiple,
		record.ClosePercent, record.TriggerPrice, record.PNL, record.ExecutedAt)
	if err != nil {
		return 0, fmt.Errorf("failed to insert partial take-profit for position %d: %w", record.PositionID, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID for partial take-profit: %w", err)
	}
	record.ID = id
	r.logger.Debug(ctx, "Partial take-profit recorded", map[string]interface{}{
		"recordID": id, "positionID": record.PositionID, "stage": record.Stage, "pnl": record.PNL,
	})
	return id, nil
}

// FindPartialsByPosition retrieves the executed stages for a position, in order.
func (r *Repository) FindPartialsByPosition(ctx context.Context, positionID int64) ([]*domain.PartialTakeProfit, error) {
	const query = `
	SELECT id, position_id, symbol, stage, r_multiple, close_percent, trigger_price, pnl, executed_at
	FROM partial_take_profits
	WHERE position_id = ? ORDER BY stage`

	rows, err := r.db.QueryContext(ctx, query, positionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query partial take-profits for position %d: %w", positionID, err)
	}
	defer rows.Close()

	records := make([]*domain.PartialTakeProfit, 0)
	for rows.Next() {
		p := &domain.PartialTakeProfit{}
		if err := rows.Scan(&p.ID, &p.PositionID, &p.Symbol, &p.Stage, &p.RMultiple,
			&p.ClosePercent, &p.TriggerPrice, &p.PNL, &p.ExecutedAt); err != nil {
			return nil, fmt.Errorf("failed to scan partial take-profit: %w", err)
		}
		records = append(records, p)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating partial take-profit rows: %w", err)
	}
	return records, nil
}

// --- Helper Scan Functions ---

// scanner defines an interface compatible with *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanPosition(s scanner) (*domain.Position, error) {
	p := &domain.Position{}
	var (
		side, status      string
		closedAt          sql.NullTime
		closeReason       sql.NullString
		stopRef, tpRef    sql.NullString
		trailingActivated int
	)
	err := s.Scan(
		&p.ID, &p.Symbol, &side, &p.Quantity, &p.EntryPrice, &p.Leverage, &p.OpenedAt,
		&closedAt, &status, &p.ClosePrice, &p.PNL, &closeReason,
		&stopRef, &tpRef, &p.StopLossPrice, &p.TakeProfitPrice,
		&p.InitialRisk, &p.StagesFired, &p.Trailing.HighestFavorablePrice, &trailingActivated)
	if err != nil {
		return nil, err // Handle sql.ErrNoRows in the caller
	}
	p.Side = domain.PositionSide(side)
	p.Status = domain.PositionStatus(status)
	if closedAt.Valid {
		p.ClosedAt = closedAt.Time
	}
	if closeReason.Valid {
		p.Reason = domain.CloseReason(closeReason.String)
	}
	if stopRef.Valid {
		ref := stopRef.String
		p.StopLossOrderRef = &ref
	}
	if tpRef.Valid {
		ref := tpRef.String
		p.TakeProfitOrderRef = &ref
	}
	p.Trailing.Activated = trailingActivated != 0
	return p, nil
}

func scanTrade(s scanner) (*domain.Trade, error) {
	t := &domain.Trade{}
	var tradeType, side string
	err := s.Scan(
		&t.ID, &tradeType, &t.Symbol, &side, &t.Price, &t.Quantity,
		&t.PNL, &t.Fee, &t.Timestamp, &t.OrderID, &t.Status)
	if err != nil {
		return nil, err // Handle sql.ErrNoRows in the caller
	}
	t.Type = domain.TradeType(tradeType)
	t.Side = domain.PositionSide(side)
	return t, nil
}

func collectTrades(rows *sql.Rows) ([]*domain.Trade, error) {
	trades := make([]*domain.Trade, 0)
	for rows.Next() {
		trade, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		trades = append(trades, trade)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating trade rows: %w", err)
	}
	return trades, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullableString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}
