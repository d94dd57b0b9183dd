package domain

import "math"

// Contract holds per-symbol contract metadata resolved from the exchange.
// A Contract is immutable once resolved within a session; the registry
// refreshes it only on explicit cache invalidation.
type Contract struct {
	Symbol             string       // Base asset symbol (e.g., "BTC")
	ExchangeContractID string       // Exchange-native identifier (e.g., "BTCUSD_PERP")
	Type               ContractType // inverse or linear
	SizeMultiplier     float64      // Quantity of base asset (or USD for inverse) per contract unit
	LeverageMin        int
	LeverageMax        int
	SizePrecision      int // Decimal places accepted for order quantity
	IsFallback         bool
}

// Valid reports whether the contract metadata can be used for sizing and
// PnL arithmetic. A non-finite or non-positive multiplier is the classic
// malformed-response case and must never be cached as authoritative.
func (c *Contract) Valid() bool {
	if c == nil {
		return false
	}
	if math.IsNaN(c.SizeMultiplier) || math.IsInf(c.SizeMultiplier, 0) {
		return false
	}
	return c.SizeMultiplier > 0
}
