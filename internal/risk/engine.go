package risk

import (
	"fmt"
	"math"

	"perpbot/internal/domain"
	"perpbot/internal/ports"
)

// PartialStage is one step of the staged take-profit schedule. Stage i closes
// ClosePercent of the remaining quantity once the position reaches RMultiple
// times the initial risk in favorable distance.
type PartialStage struct {
	RMultiple    float64
	ClosePercent float64
}

// Config holds the risk engine parameters for one strategy profile.
type Config struct {
	ATRMultiplier     float64
	MinStopPercent    float64 // minimum stop distance as a fraction of entry price
	MaxStopPercent    float64 // maximum stop distance as a fraction of entry price
	TakeProfitPercent float64 // fixed take-profit target, fraction of entry price

	TrailingEnabled  bool
	TrailActivationR float64 // R-multiples of favorable movement before trailing arms
	TrailDistanceR   float64 // trail distance behind the extreme, in R-multiples

	PartialStages []PartialStage // empty disables staged take-profit

	MaxLeverage         int
	MaxPositionSize     float64
	MaxOpenPositions    int
	PositionSizePercent float64
}

// Engine computes protective levels and entry constraints. It is stateless;
// per-position state (fired stages, trailing extreme) lives on the position.
type Engine struct {
	cfg Config
}

// NewEngine validates the configuration and creates a risk engine.
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.ATRMultiplier <= 0 {
		return nil, fmt.Errorf("ATR multiplier must be positive: %w", ports.ErrFatalConfig)
	}
	if cfg.MinStopPercent <= 0 || cfg.MaxStopPercent <= cfg.MinStopPercent {
		return nil, fmt.Errorf("stop band [%v, %v] must be positive and ascending: %w",
			cfg.MinStopPercent, cfg.MaxStopPercent, ports.ErrFatalConfig)
	}
	total := 0.0
	for i, stage := range cfg.PartialStages {
		if stage.RMultiple <= 0 || stage.ClosePercent <= 0 || stage.ClosePercent > 1 {
			return nil, fmt.Errorf("partial stage %d is malformed: %w", i+1, ports.ErrFatalConfig)
		}
		if i > 0 && stage.RMultiple <= cfg.PartialStages[i-1].RMultiple {
			return nil, fmt.Errorf("partial stage %d R-multiple must ascend: %w", i+1, ports.ErrFatalConfig)
		}
		total += stage.ClosePercent
	}
	if total > 1.0+1e-9 {
		return nil, fmt.Errorf("partial stages close more than 100%% of the position: %w", ports.ErrFatalConfig)
	}
	return &Engine{cfg: cfg}, nil
}

// InitialStop derives the stop price and initial risk for a candidate entry
// from current volatility. The raw distance is ATR * multiplier; a distance
// below the minimum band rejects the entry with ErrInsufficientStopDistance,
// a distance above the maximum band is clamped down.
func (e *Engine) InitialStop(entryPrice, atr float64, side domain.PositionSide) (stopPrice, initialRisk float64, err error) {
	if entryPrice <= 0 || atr <= 0 {
		return 0, 0, fmt.Errorf("entry price %v and ATR %v must be positive: %w", entryPrice, atr, ports.ErrInsufficientStopDistance)
	}
	distance := atr * e.cfg.ATRMultiplier
	minDistance := entryPrice * e.cfg.MinStopPercent
	maxDistance := entryPrice * e.cfg.MaxStopPercent
	if distance < minDistance {
		return 0, 0, fmt.Errorf("stop distance %.8f below minimum %.8f: %w",
			distance, minDistance, ports.ErrInsufficientStopDistance)
	}
	if distance > maxDistance {
		distance = maxDistance
	}
	stopPrice = entryPrice - side.Sign()*distance
	return stopPrice, distance, nil
}

// RecoveryStop derives protective levels for a live position that has none,
// such as one adopted from the exchange during reconciliation. Unlike
// InitialStop it never rejects: a distance outside the band is clamped from
// both sides, because an unprotected live position is worse than a tight stop.
func (e *Engine) RecoveryStop(entryPrice, atr float64, side domain.PositionSide) (stopPrice, initialRisk float64) {
	if entryPrice <= 0 {
		return 0, 0
	}
	distance := atr * e.cfg.ATRMultiplier
	minDistance := entryPrice * e.cfg.MinStopPercent
	maxDistance := entryPrice * e.cfg.MaxStopPercent
	if distance < minDistance {
		distance = minDistance
	}
	if distance > maxDistance {
		distance = maxDistance
	}
	return entryPrice - side.Sign()*distance, distance
}

// TakeProfitPrice returns the fixed-percent take-profit target.
func (e *Engine) TakeProfitPrice(entryPrice float64, side domain.PositionSide) float64 {
	return entryPrice * (1 + side.Sign()*e.cfg.TakeProfitPercent)
}

// StageTrigger describes a partial take-profit stage that is due.
type StageTrigger struct {
	Stage           int // 1-based stage number
	RMultiple       float64
	ClosePercent    float64
	QuantityToClose float64
}

// NextStage returns the next due partial take-profit stage for the position
// at the given price, or nil when no stage is due. Fired stages never
// re-fire: the check starts at pos.StagesFired.
func (e *Engine) NextStage(pos *domain.Position, price float64) *StageTrigger {
	if len(e.cfg.PartialStages) == 0 || pos.StagesFired >= len(e.cfg.PartialStages) {
		return nil
	}
	stage := e.cfg.PartialStages[pos.StagesFired]
	if pos.RMultiple(price) < stage.RMultiple {
		return nil
	}
	return &StageTrigger{
		Stage:           pos.StagesFired + 1,
		RMultiple:       stage.RMultiple,
		ClosePercent:    stage.ClosePercent,
		QuantityToClose: pos.Quantity * stage.ClosePercent,
	}
}

// UpdateTrailing advances the trailing stop for the position given a new
// price observation. Returns the new stop price and true when the stop
// actually moved. The stop only ratchets in the favorable direction: once
// raised (for longs; lowered for shorts) it never moves back.
func (e *Engine) UpdateTrailing(pos *domain.Position, price float64) (float64, bool) {
	if !e.cfg.TrailingEnabled || pos.InitialRisk <= 0 {
		return pos.StopLossPrice, false
	}

	if !pos.Trailing.Activated {
		if pos.RMultiple(price) < e.cfg.TrailActivationR {
			return pos.StopLossPrice, false
		}
		pos.Trailing.Activated = true
		pos.Trailing.HighestFavorablePrice = price
	} else {
		// The extreme updates on strict improvement only, but the candidate
		// is evaluated every call: a ratchet that was computed earlier and
		// not applied to the live stop is picked up again here.
		pos.Trailing.Improve(price, pos.Side)
	}

	trailDistance := e.cfg.TrailDistanceR * pos.InitialRisk
	candidate := pos.Trailing.HighestFavorablePrice - pos.Side.Sign()*trailDistance

	// Sign-aware monotonicity: the candidate must strictly improve on the
	// current stop or the ratchet stays put.
	if pos.Side.Sign()*(candidate-pos.StopLossPrice) <= 0 {
		return pos.StopLossPrice, false
	}
	pos.StopLossPrice = candidate
	return candidate, true
}

// PositionSize computes the contract quantity for a new entry from the
// account balance and current price.
func (e *Engine) PositionSize(balance, price float64) float64 {
	if price <= 0 {
		return 0
	}
	size := balance * e.cfg.PositionSizePercent / price
	if e.cfg.MaxPositionSize > 0 {
		size = math.Min(size, e.cfg.MaxPositionSize)
	}
	return size
}

// ValidateEntry checks a candidate entry against the configured ceilings.
func (e *Engine) ValidateEntry(quantity float64, leverage, openPositions int) error {
	if quantity <= 0 {
		return fmt.Errorf("position size %v must be positive", quantity)
	}
	if e.cfg.MaxPositionSize > 0 && quantity > e.cfg.MaxPositionSize {
		return fmt.Errorf("position size %v exceeds maximum allowed %v", quantity, e.cfg.MaxPositionSize)
	}
	if e.cfg.MaxLeverage > 0 && leverage > e.cfg.MaxLeverage {
		return fmt.Errorf("leverage %d exceeds maximum allowed %d", leverage, e.cfg.MaxLeverage)
	}
	if e.cfg.MaxOpenPositions > 0 && openPositions >= e.cfg.MaxOpenPositions {
		return fmt.Errorf("number of open positions %d exceeds maximum allowed %d", openPositions, e.cfg.MaxOpenPositions)
	}
	return nil
}
