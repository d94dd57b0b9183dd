package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"perpbot/internal/domain"
	"perpbot/internal/risk"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("BINANCE_API_KEY", "test-key")
	t.Setenv("BINANCE_API_SECRET", "test-secret")
}

func TestLoadConfig_Defaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, domain.ContractTypeLinear, cfg.ContractType)
	assert.True(t, cfg.IsTestnet, "must default to testnet")
	assert.Equal(t, []string{"ETH"}, cfg.Symbols)
	assert.Equal(t, 4, cfg.Leverage)
	assert.Equal(t, 0.0005, cfg.FeeRate)
	assert.Equal(t, 20.0, cfg.DrawdownWarningPct)
	assert.Equal(t, 30.0, cfg.DrawdownNoNewPct)
	assert.Equal(t, 50.0, cfg.DrawdownForceClosePct)
	require.Len(t, cfg.Risk.PartialStages, 3)
	assert.Equal(t, risk.PartialStage{RMultiple: 1.0, ClosePercent: 0.3}, cfg.Risk.PartialStages[0])
}

func TestLoadConfig_InverseRequiresMarginAsset(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("CONTRACT_TYPE", "inverse")

	_, err := LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MARGIN_ASSET")

	t.Setenv("MARGIN_ASSET", "btc")
	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, domain.ContractTypeInverse, cfg.ContractType)
	assert.Equal(t, "BTC", cfg.MarginAsset)
}

func TestLoadConfig_RejectsUnorderedDrawdownThresholds(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("DRAWDOWN_WARNING_PCT", "40")
	t.Setenv("DRAWDOWN_NO_NEW_PCT", "30")

	_, err := LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "strictly ascending")
}

func TestLoadConfig_SymbolList(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("SYMBOLS", " btc, eth ,sol")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, []string{"BTC", "ETH", "SOL"}, cfg.Symbols)
}

func TestParsePartialStages(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    []risk.PartialStage
		wantErr bool
	}{
		{
			name: "three stages",
			raw:  "1.0:0.3,2.0:0.3,3.0:0.4",
			want: []risk.PartialStage{
				{RMultiple: 1.0, ClosePercent: 0.3},
				{RMultiple: 2.0, ClosePercent: 0.3},
				{RMultiple: 3.0, ClosePercent: 0.4},
			},
		},
		{
			name: "whitespace tolerated",
			raw:  " 1.5 : 0.5 ",
			want: []risk.PartialStage{{RMultiple: 1.5, ClosePercent: 0.5}},
		},
		{name: "empty disables stages", raw: "", want: nil},
		{name: "missing percent", raw: "1.0", wantErr: true},
		{name: "non-numeric R", raw: "one:0.3", wantErr: true},
		{name: "non-numeric percent", raw: "1.0:lots", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parsePartialStages(tt.raw)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
