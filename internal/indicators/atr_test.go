package indicators

import (
	"context"
	"testing"

	"perpbot/internal/domain"
)

func TestATR_Calculate(t *testing.T) {
	klines := []*domain.Kline{
		{High: 105, Low: 95, Close: 100},
		{High: 110, Low: 100, Close: 108},
		{High: 112, Low: 104, Close: 106},
		{High: 109, Low: 101, Close: 103},
		{High: 107, Low: 99, Close: 105},
	}

	t.Run("constant range", func(t *testing.T) {
		atr := NewATR(ATRConfig{IndicatorConfig: IndicatorConfig{Period: 3}})
		value, err := atr.Calculate(context.Background(), klines)
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		// Every true range in this series is at least high-low = 8.
		if value < 8.0 {
			t.Errorf("Expected ATR >= 8, got %f", value)
		}
	})

	t.Run("insufficient data", func(t *testing.T) {
		atr := NewATR(ATRConfig{IndicatorConfig: IndicatorConfig{Period: 10}})
		if _, err := atr.Calculate(context.Background(), klines); err == nil {
			t.Error("Expected error but got none")
		}
	})

	t.Run("gap beyond range dominates true range", func(t *testing.T) {
		gapped := []*domain.Kline{
			{High: 101, Low: 99, Close: 100},
			{High: 121, Low: 119, Close: 120}, // gap of 20 from previous close
			{High: 121, Low: 119, Close: 120},
			{High: 121, Low: 119, Close: 120},
		}
		atr := NewATR(ATRConfig{IndicatorConfig: IndicatorConfig{Period: 3}})
		value, err := atr.Calculate(context.Background(), gapped)
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if value <= 2.0 {
			t.Errorf("Expected ATR to reflect the gap, got %f", value)
		}
	})
}
