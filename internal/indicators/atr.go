package indicators

import (
	"context"
	"fmt"
	"math"

	"perpbot/internal/domain"
)

// ATRConfig holds configuration for the Average True Range indicator
type ATRConfig struct {
	IndicatorConfig
}

// ATR implements the Average True Range indicator. It is the volatility
// measure the risk engine scales to derive initial stop distances.
type ATR struct {
	BaseIndicator
}

// NewATR creates a new Average True Range indicator instance
func NewATR(config ATRConfig) *ATR {
	return &ATR{BaseIndicator: BaseIndicator{Config: config.IndicatorConfig}}
}

// Name returns the name of the indicator
func (a *ATR) Name() string {
	return "ATR"
}

// Calculate computes the Average True Range using Wilder's smoothing method.
func (a *ATR) Calculate(ctx context.Context, klines []*domain.Kline) (float64, error) {
	period := a.Config.Period
	if len(klines) < period+1 {
		return 0, fmt.Errorf("not enough data points for ATR calculation: need %d, got %d", period+1, len(klines))
	}

	trueRanges := make([]float64, len(klines))

	// First TR is just the high-low range.
	trueRanges[0] = klines[0].High - klines[0].Low

	// True Range is the greatest of high-low, |high-prevClose|, |low-prevClose|.
	for i := 1; i < len(klines); i++ {
		high := klines[i].High
		low := klines[i].Low
		prevClose := klines[i-1].Close

		tr := math.Max(high-low, math.Max(math.Abs(high-prevClose), math.Abs(low-prevClose)))
		trueRanges[i] = tr
	}

	// Seed with the simple average of the first 'period' true ranges.
	atr := 0.0
	for i := 0; i < period; i++ {
		atr += trueRanges[i]
	}
	atr /= float64(period)

	// Wilder smoothing for the remainder.
	for i := period; i < len(klines); i++ {
		atr = (atr*float64(period-1) + trueRanges[i]) / float64(period)
	}

	return atr, nil
}
