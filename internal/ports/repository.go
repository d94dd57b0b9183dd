package ports

import (
	"context"
	"time"

	"perpbot/internal/domain"
)

// PositionRepository defines the interface for storing and retrieving trading positions.
type PositionRepository interface {
	// Create saves a new position and returns its assigned ID.
	Create(ctx context.Context, pos *domain.Position) (int64, error)
	// Update modifies an existing position.
	Update(ctx context.Context, pos *domain.Position) error
	// FindOpenBySymbol retrieves the currently open position for a given symbol, if any.
	// Returns nil, nil if no open position is found.
	FindOpenBySymbol(ctx context.Context, symbol string) (*domain.Position, error)
	// FindOpen retrieves all currently open positions.
	FindOpen(ctx context.Context) ([]*domain.Position, error)
	// FindByID retrieves a position by its unique ID. Returns nil, nil if not found.
	FindByID(ctx context.Context, id int64) (*domain.Position, error)
}

// TradeRepository defines the interface for the append-only trade history.
type TradeRepository interface {
	// CreateTrade saves a new trade record and returns its assigned ID.
	CreateTrade(ctx context.Context, trade *domain.Trade) (int64, error)
	// FindBySymbol retrieves the most recent trades for a given symbol, up to a limit.
	FindBySymbol(ctx context.Context, symbol string, limit int) ([]*domain.Trade, error)
	// FindClosedTrades retrieves all closing trades, oldest first.
	FindClosedTrades(ctx context.Context) ([]*domain.Trade, error)
	// FindClosedBySymbolSince retrieves the closing trades for a symbol with
	// a timestamp at or after the given instant, oldest first.
	FindClosedBySymbolSince(ctx context.Context, symbol string, since time.Time) ([]*domain.Trade, error)
	// FindOpenTradeBefore retrieves the most recent opening trade for a
	// symbol with a timestamp before the given instant. Returns nil, nil
	// when no match exists.
	FindOpenTradeBefore(ctx context.Context, symbol string, before time.Time) (*domain.Trade, error)
	// CorrectTrade overwrites the PnL and fee of an existing trade record.
	// This is the auditor's controlled exception to trade immutability.
	CorrectTrade(ctx context.Context, id int64, pnl, fee float64) error
	// CountTodayBySymbol counts the number of trades executed today for a given symbol.
	CountTodayBySymbol(ctx context.Context, symbol string) (int, error)
}

// ConditionalOrderRepository caches the exchange-side protective orders.
type ConditionalOrderRepository interface {
	CreateConditionalOrder(ctx context.Context, order *domain.ConditionalOrder) (int64, error)
	// UpdateConditionalOrderStatus moves an order through its lifecycle.
	UpdateConditionalOrderStatus(ctx context.Context, id int64, status domain.ConditionalOrderStatus) error
	// FindActiveBySymbol retrieves the active conditional orders for a symbol.
	FindActiveBySymbol(ctx context.Context, symbol string) ([]*domain.ConditionalOrder, error)
}

// CloseEventRepository records why positions left the books.
type CloseEventRepository interface {
	CreateCloseEvent(ctx context.Context, event *domain.CloseEvent) (int64, error)
	FindCloseEvents(ctx context.Context, symbol string, limit int) ([]*domain.CloseEvent, error)
}

// PartialTakeProfitRepository records executed partial take-profit stages.
type PartialTakeProfitRepository interface {
	CreatePartialTakeProfit(ctx context.Context, record *domain.PartialTakeProfit) (int64, error)
	FindPartialsByPosition(ctx context.Context, positionID int64) ([]*domain.PartialTakeProfit, error)
}

// Store aggregates the persistence interfaces implemented by the sqlite adapter.
type Store interface {
	PositionRepository
	TradeRepository
	ConditionalOrderRepository
	CloseEventRepository
	PartialTakeProfitRepository
}
