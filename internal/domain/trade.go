package domain

import "time"

// Trade is an append-only record of a confirmed execution. It is never
// mutated after creation except by the PnL auditor's corrective pass, which
// is a controlled exception with its own tolerance and logging, not a
// general update path.
type Trade struct {
	ID        int64
	Type      TradeType
	Symbol    string
	Side      PositionSide
	Price     float64
	Quantity  float64 // Contract units
	PNL       float64 // Zero for opening trades
	Fee       float64 // Quote-currency fee estimate
	Timestamp time.Time
	OrderID   string
	Status    string
}

// CloseEvent records why and at what price a position left the books.
type CloseEvent struct {
	ID         int64
	Symbol     string
	Reason     CloseReason
	ClosePrice float64
	PNL        float64
	PNLPercent float64
	OccurredAt time.Time
}
