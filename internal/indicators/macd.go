package indicators

import (
	"context"
	"fmt"

	"perpbot/internal/domain"
)

// MACDConfig holds configuration for the MACD indicator.
type MACDConfig struct {
	FastPeriod int // typically 12
	SlowPeriod int // typically 26
}

// MACD implements the Moving Average Convergence Divergence line
// (fast EMA minus slow EMA of closing prices).
type MACD struct {
	config MACDConfig
	fast   *MovingAverage
	slow   *MovingAverage
}

// NewMACD creates a new MACD indicator instance.
func NewMACD(config MACDConfig) *MACD {
	ema := func(period int) *MovingAverage {
		return NewMovingAverage(MovingAverageConfig{
			IndicatorConfig: IndicatorConfig{Period: period},
			Type:            ExponentialMovingAverage,
		})
	}
	return &MACD{
		config: config,
		fast:   ema(config.FastPeriod),
		slow:   ema(config.SlowPeriod),
	}
}

// Name returns the name of the indicator
func (m *MACD) Name() string {
	return "MACD"
}

// RequiredDataPoints returns the minimum number of klines needed for calculation
func (m *MACD) RequiredDataPoints() int {
	return m.config.SlowPeriod
}

// Calculate computes the MACD line for the given klines.
func (m *MACD) Calculate(ctx context.Context, klines []*domain.Kline) (float64, error) {
	if m.config.FastPeriod >= m.config.SlowPeriod {
		return 0, fmt.Errorf("MACD fast period %d must be less than slow period %d", m.config.FastPeriod, m.config.SlowPeriod)
	}
	fast, err := m.fast.Calculate(ctx, klines)
	if err != nil {
		return 0, fmt.Errorf("MACD fast EMA: %w", err)
	}
	slow, err := m.slow.Calculate(ctx, klines)
	if err != nil {
		return 0, fmt.Errorf("MACD slow EMA: %w", err)
	}
	return fast - slow, nil
}
