package indicators

import (
	"context"

	"perpbot/internal/domain"
)

// Indicator is a single technical measure computed over a kline window.
// Callers pass the window oldest first; the value reflects the newest kline.
type Indicator interface {
	Calculate(ctx context.Context, klines []*domain.Kline) (float64, error)

	// RequiredDataPoints is the smallest window Calculate accepts.
	RequiredDataPoints() int

	Name() string
}

// IndicatorConfig carries the lookback period shared by all indicators.
type IndicatorConfig struct {
	Period int
}

// BaseIndicator supplies the period-derived minimum window size.
type BaseIndicator struct {
	Config IndicatorConfig
}

func (b *BaseIndicator) RequiredDataPoints() int {
	return b.Config.Period
}

// closeSeries extracts the closing prices of a kline window, oldest first.
func closeSeries(klines []*domain.Kline) []float64 {
	series := make([]float64, len(klines))
	for i, k := range klines {
		series[i] = k.Close
	}
	return series
}
