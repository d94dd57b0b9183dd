package ports

import (
	"context"
	"time"

	"perpbot/internal/domain"
)

// OrderResponse represents the essential details returned after placing an order.
type OrderResponse struct {
	OrderID       int64     // Exchange's order ID
	Symbol        string    // Exchange-native contract id for the order
	ClientOrderID string    // User-defined order ID
	Price         float64   // Price of the order (0 for market orders initially)
	AvgPrice      float64   // Average filled price
	OrigQuantity  float64   // Original quantity requested
	ExecutedQty   float64   // Quantity filled
	Status        string    // Order status (e.g., NEW, FILLED, CANCELED)
	Type          string    // Order type (e.g., MARKET, STOP_MARKET)
	Side          string    // Order side (BUY, SELL)
	Timestamp     time.Time // Time the order response was generated
}

// ExchangePosition is a live position as reported by the exchange. The
// exchange is the source of truth for live exposure; reconciliation treats
// these values as authoritative.
type ExchangePosition struct {
	Symbol        string // Base asset symbol (already extracted from the contract id)
	ContractID    string // Exchange-native contract id
	Side          domain.PositionSide
	Quantity      float64 // Contract units, always > 0 (side carries direction)
	EntryPrice    float64
	MarkPrice     float64
	UnrealizedPnl float64
	Leverage      int
}

// HistoricalFill is a single execution from the exchange's trade history.
type HistoricalFill struct {
	Symbol      string
	OrderID     int64
	Side        domain.OrderSide
	Price       float64
	Quantity    float64
	RealizedPnl float64
	Fee         float64
	Time        time.Time
}

// SettlementRecord is one funding/settlement entry from the exchange.
type SettlementRecord struct {
	Symbol string
	Type   string // e.g., FUNDING_FEE
	Amount float64
	Asset  string
	Time   time.Time
}

// ConditionalOrderRequest describes a protective order to be placed
// server-side so that triggering does not depend on local process liveness.
type ConditionalOrderRequest struct {
	Symbol       string // Base asset symbol; adapters normalize to the contract id
	Kind         domain.ConditionalOrderKind
	Side         domain.OrderSide // Side that reduces the protected position
	Quantity     float64          // Contract units; 0 means close-position order
	TriggerPrice float64
}

// ExchangeClient is the single exchange abstraction. It is implemented once
// per exchange (inverse and linear variants) and selected by a factory at
// startup; callers never branch on exchange identity, only on ContractType.
type ExchangeClient interface {
	// ContractType reports whether this exchange settles contracts
	// inverse/coin-margined or linear/USDT-margined.
	ContractType() domain.ContractType

	// NormalizeContract maps a base asset symbol to the exchange-native
	// contract id (e.g., "BTC" -> "BTCUSD_PERP").
	NormalizeContract(symbol string) string

	// ExtractSymbol maps an exchange-native contract id back to the base
	// asset symbol.
	ExtractSymbol(contractID string) string

	// GetContractInfo fetches contract metadata (size multiplier, leverage
	// and precision bounds) for a base asset symbol.
	GetContractInfo(ctx context.Context, symbol string) (*domain.Contract, error)

	// CalculatePnl computes the gross quote-currency PnL for a fill using
	// the contract-type arithmetic of this exchange. Entry equal to exit
	// yields exactly zero for any quantity and side.
	CalculatePnl(entryPrice, exitPrice, quantity float64, side domain.PositionSide, contract *domain.Contract) float64

	// GetPositions returns all live positions with non-zero size.
	GetPositions(ctx context.Context) ([]*ExchangePosition, error)

	// PlaceOrder places a market order for a base asset symbol.
	PlaceOrder(ctx context.Context, symbol string, side domain.OrderSide, quantity float64, reduceOnly bool) (*OrderResponse, error)

	// PlaceConditionalOrder places a server-side stop-loss or take-profit
	// order that executes independently of the local process.
	PlaceConditionalOrder(ctx context.Context, req ConditionalOrderRequest) (*OrderResponse, error)

	// CancelOrder cancels an existing open order by its exchange ID.
	CancelOrder(ctx context.Context, symbol string, orderID int64) (*OrderResponse, error)

	// GetPositionHistory returns recent fills for a symbol, newest last.
	GetPositionHistory(ctx context.Context, symbol string, limit int) ([]*HistoricalFill, error)

	// GetSettlementHistory returns recent funding/settlement records.
	GetSettlementHistory(ctx context.Context, symbol string, limit int) ([]*SettlementRecord, error)

	// GetAccountBalance retrieves the wallet balance and unrealized PnL in
	// margin-asset units (quote currency for linear, base for inverse).
	GetAccountBalance(ctx context.Context) (balance float64, unrealized float64, err error)

	// GetMarkPrice retrieves the current mark price for a base asset symbol.
	GetMarkPrice(ctx context.Context, symbol string) (float64, error)

	// GetKlines retrieves historical candlesticks for indicator computation.
	GetKlines(ctx context.Context, symbol, interval string, limit int) ([]*domain.Kline, error)

	// SetLeverage sets the leverage for a base asset symbol.
	SetLeverage(ctx context.Context, symbol string, leverage int) error

	// Ping checks connectivity to the exchange API.
	Ping(ctx context.Context) error
}
