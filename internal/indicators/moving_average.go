package indicators

import (
	"context"
	"fmt"

	"perpbot/internal/domain"
)

// MovingAverageType selects the smoothing applied to the close series.
type MovingAverageType string

const (
	SimpleMovingAverage      MovingAverageType = "SMA"
	ExponentialMovingAverage MovingAverageType = "EMA"
)

// MovingAverageConfig holds configuration for moving average indicators.
type MovingAverageConfig struct {
	IndicatorConfig
	Type MovingAverageType
}

// MovingAverage computes an SMA or EMA over closing prices.
type MovingAverage struct {
	BaseIndicator
	maType MovingAverageType
}

// NewMovingAverage creates a moving average of the configured type and period.
func NewMovingAverage(config MovingAverageConfig) *MovingAverage {
	return &MovingAverage{
		BaseIndicator: BaseIndicator{Config: config.IndicatorConfig},
		maType:        config.Type,
	}
}

func (m *MovingAverage) Name() string {
	return string(m.maType)
}

// Calculate computes the configured average over the window's closes.
func (m *MovingAverage) Calculate(ctx context.Context, klines []*domain.Kline) (float64, error) {
	period := m.Config.Period
	if len(klines) < period {
		return 0, fmt.Errorf("not enough data (%d) to calculate %s for period %d", len(klines), m.maType, period)
	}
	closes := closeSeries(klines)
	switch m.maType {
	case SimpleMovingAverage:
		return sma(closes, period), nil
	case ExponentialMovingAverage:
		return ema(closes, period), nil
	default:
		return 0, fmt.Errorf("unsupported moving average type: %s", m.maType)
	}
}

// sma averages the last period values.
func sma(values []float64, period int) float64 {
	sum := 0.0
	for _, v := range values[len(values)-period:] {
		sum += v
	}
	return sum / float64(period)
}

// ema seeds with the SMA of the first period values, then folds in the rest
// with the standard 2/(period+1) weight.
func ema(values []float64, period int) float64 {
	weight := 2.0 / float64(period+1)
	avg := sma(values[:period], period)
	for _, v := range values[period:] {
		avg += (v - avg) * weight
	}
	return avg
}
