package domain

import "time"

// ConditionalOrderKind distinguishes protective order types.
type ConditionalOrderKind string

const (
	KindStopLoss   ConditionalOrderKind = "stop_loss"
	KindTakeProfit ConditionalOrderKind = "take_profit"
)

// ConditionalOrderStatus is the lifecycle state of a conditional order.
type ConditionalOrderStatus string

const (
	ConditionalActive    ConditionalOrderStatus = "active"
	ConditionalTriggered ConditionalOrderStatus = "triggered"
	ConditionalCancelled ConditionalOrderStatus = "cancelled"
)

// ConditionalOrder mirrors a protective order living on the exchange.
// The local record is a cache, not the source of truth: triggering happens
// server-side, independent of local process liveness. Invariant: at most one
// active stop_loss and one active take_profit per open position.
type ConditionalOrder struct {
	ID           int64
	ExchangeID   string // Exchange-assigned order ID
	Symbol       string
	Kind         ConditionalOrderKind
	TriggerPrice float64
	Status       ConditionalOrderStatus
	CreatedAt    time.Time
}
