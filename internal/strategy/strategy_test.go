package strategy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"perpbot/internal/domain"
)

// mockLogger implements ports.Logger for testing
type mockLogger struct {
	debugMsgs []string
	infoMsgs  []string
	errorMsgs []string
}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {
	m.debugMsgs = append(m.debugMsgs, msg)
}

func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{}) {
	m.infoMsgs = append(m.infoMsgs, msg)
}

func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{}) {}

func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
	m.errorMsgs = append(m.errorMsgs, msg)
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{name: "valid thresholds", cfg: Config{RSIOverbought: 70, RSIOversold: 30}, wantErr: false},
		{name: "overbought below oversold", cfg: Config{RSIOverbought: 30, RSIOversold: 70}, wantErr: true},
		{name: "overbought above 100", cfg: Config{RSIOverbought: 110, RSIOversold: 30}, wantErr: true},
		{name: "negative oversold", cfg: Config{RSIOverbought: 70, RSIOversold: -5}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg, &mockLogger{})
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}

	_, err := New(Config{RSIOverbought: 70, RSIOversold: 30}, nil)
	assert.Error(t, err, "nil logger must be rejected")
}

func TestDecide(t *testing.T) {
	s, err := New(Config{RSIOverbought: 70, RSIOversold: 30}, &mockLogger{})
	require.NoError(t, err)

	tests := []struct {
		name       string
		indicators domain.IndicatorSet
		position   *domain.Position
		want       domain.DecisionAction
	}{
		{
			name:       "long on uptrend with positive momentum",
			indicators: domain.IndicatorSet{Price: 105, EMA: 100, MACD: 1.5, RSI: 55},
			want:       domain.ActionOpenLong,
		},
		{
			name:       "short on downtrend with negative momentum",
			indicators: domain.IndicatorSet{Price: 95, EMA: 100, MACD: -1.5, RSI: 45},
			want:       domain.ActionOpenShort,
		},
		{
			name:       "overbought blocks long",
			indicators: domain.IndicatorSet{Price: 105, EMA: 100, MACD: 1.5, RSI: 75},
			want:       domain.ActionHold,
		},
		{
			name:       "oversold blocks short",
			indicators: domain.IndicatorSet{Price: 95, EMA: 100, MACD: -1.5, RSI: 25},
			want:       domain.ActionHold,
		},
		{
			name:       "conflicting trend and momentum holds",
			indicators: domain.IndicatorSet{Price: 105, EMA: 100, MACD: -0.5, RSI: 55},
			want:       domain.ActionHold,
		},
		{
			name:       "open position holds",
			indicators: domain.IndicatorSet{Price: 105, EMA: 100, MACD: 1.5, RSI: 55},
			position:   &domain.Position{Symbol: "BTC", Status: domain.StatusOpen},
			want:       domain.ActionHold,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ind := tt.indicators
			decision, err := s.Decide(context.Background(), &domain.MarketSnapshot{
				Symbol:     "BTC",
				Indicators: &ind,
				Position:   tt.position,
			})
			require.NoError(t, err)
			assert.Equal(t, tt.want, decision.Action)
		})
	}

	_, err = s.Decide(context.Background(), nil)
	assert.Error(t, err, "nil snapshot must be rejected")
}
