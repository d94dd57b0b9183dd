package domain

import "time"

// TrailingState tracks the ratchet state for a trailing stop.
// HighestFavorablePrice is updated only when it strictly improves (higher
// for longs, lower for shorts); the derived stop level never moves back
// toward loss once raised.
type TrailingState struct {
	HighestFavorablePrice float64
	Activated             bool
}

// Improve records a favorable price observation. Returns true when the
// extreme actually advanced.
func (t *TrailingState) Improve(price float64, side PositionSide) bool {
	if t.HighestFavorablePrice == 0 {
		t.HighestFavorablePrice = price
		return true
	}
	if side == Long && price > t.HighestFavorablePrice {
		t.HighestFavorablePrice = price
		return true
	}
	if side == Short && price < t.HighestFavorablePrice {
		t.HighestFavorablePrice = price
		return true
	}
	return false
}

// Position represents an open or closed perpetual-futures position.
// Owned exclusively by the trading subsystem; mutated only through
// open/close/adjust operations and destroyed when quantity reaches zero.
type Position struct {
	ID         int64
	Symbol     string // Base asset symbol, not the exchange contract id
	Side       PositionSide
	Quantity   float64 // Contract units, > 0 while open
	EntryPrice float64
	Leverage   int
	OpenedAt   time.Time
	ClosedAt   time.Time
	Status     PositionStatus
	ClosePrice float64
	PNL        float64
	Reason     CloseReason

	// Protective order references (exchange order IDs, nil when not placed).
	StopLossOrderRef   *string
	TakeProfitOrderRef *string
	StopLossPrice      float64
	TakeProfitPrice    float64

	// InitialRisk is the entry-to-stop distance at open time, the unit for
	// all R-multiple arithmetic.
	InitialRisk float64
	// StagesFired counts how many partial take-profit stages have executed;
	// a fired stage never re-fires for the same position.
	StagesFired int

	Trailing TrailingState
}

// IsOpen checks if the position status is open.
func (p *Position) IsOpen() bool {
	return p.Status == StatusOpen
}

// RMultiple expresses the favorable distance from entry to price in units of
// the initial risk. Returns 0 when no initial risk was recorded.
func (p *Position) RMultiple(price float64) float64 {
	if p.InitialRisk <= 0 {
		return 0
	}
	return p.Side.Sign() * (price - p.EntryPrice) / p.InitialRisk
}

// PartialTakeProfit records one executed partial take-profit stage.
type PartialTakeProfit struct {
	ID           int64
	PositionID   int64
	Symbol       string
	Stage        int
	RMultiple    float64
	ClosePercent float64
	TriggerPrice float64
	PNL          float64
	ExecutedAt   time.Time
}
