package indicators

import (
	"context"
	"testing"
	"time"

	"perpbot/internal/domain"
)

func TestRSI_Calculate(t *testing.T) {
	now := time.Now()
	klines := []*domain.Kline{
		{OpenTime: now.Add(-5 * time.Hour), Close: 100.0},
		{OpenTime: now.Add(-4 * time.Hour), Close: 102.0}, // +2
		{OpenTime: now.Add(-3 * time.Hour), Close: 101.0}, // -1
		{OpenTime: now.Add(-2 * time.Hour), Close: 103.0}, // +2
		{OpenTime: now.Add(-1 * time.Hour), Close: 102.0}, // -1
		{OpenTime: now, Close: 104.0},                     // +2
	}

	tests := []struct {
		name          string
		config        RSIConfig
		klines        []*domain.Kline
		expectedValue float64
		expectError   bool
	}{
		{
			name:          "RSI with sufficient data",
			config:        RSIConfig{IndicatorConfig: IndicatorConfig{Period: 3}},
			klines:        klines,
			expectedValue: 77.272727, // Wilder's smoothing
		},
		{
			name:        "Insufficient data",
			config:      RSIConfig{IndicatorConfig: IndicatorConfig{Period: 7}},
			klines:      klines,
			expectError: true,
		},
		{
			name:   "All gains",
			config: RSIConfig{IndicatorConfig: IndicatorConfig{Period: 3}},
			klines: []*domain.Kline{
				{OpenTime: now.Add(-3 * time.Hour), Close: 100.0},
				{OpenTime: now.Add(-2 * time.Hour), Close: 102.0},
				{OpenTime: now.Add(-1 * time.Hour), Close: 104.0},
				{OpenTime: now, Close: 106.0},
			},
			expectedValue: 100.0,
		},
		{
			name:   "All losses",
			config: RSIConfig{IndicatorConfig: IndicatorConfig{Period: 3}},
			klines: []*domain.Kline{
				{OpenTime: now.Add(-3 * time.Hour), Close: 106.0},
				{OpenTime: now.Add(-2 * time.Hour), Close: 104.0},
				{OpenTime: now.Add(-1 * time.Hour), Close: 102.0},
				{OpenTime: now, Close: 100.0},
			},
			expectedValue: 0.0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rsi := NewRSI(tt.config)
			value, err := rsi.Calculate(context.Background(), tt.klines)

			if tt.expectError {
				if err == nil {
					t.Error("Expected error but got none")
				}
				return
			}

			if err != nil {
				t.Errorf("Unexpected error: %v", err)
				return
			}

			if value-tt.expectedValue > 0.0001 || value-tt.expectedValue < -0.0001 {
				t.Errorf("Expected value %f, got %f", tt.expectedValue, value)
			}
		})
	}
}
