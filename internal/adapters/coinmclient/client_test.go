package coinmclient

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"perpbot/internal/domain"
)

func inverseContract(multiplier float64) *domain.Contract {
	return &domain.Contract{
		Symbol:             "BTC",
		ExchangeContractID: "BTCUSD_PERP",
		Type:               domain.ContractTypeInverse,
		SizeMultiplier:     multiplier,
	}
}

func TestCalculatePnl_Inverse(t *testing.T) {
	client := &Client{}
	contract := inverseContract(100)

	tests := []struct {
		name     string
		entry    float64
		exit     float64
		quantity float64
		side     domain.PositionSide
		want     float64
	}{
		// 10 contracts x 100 USD: base pnl = 1000*(1/100 - 1/110),
		// converted at exit = 1000*(110-100)/100 = 100 quote units.
		{"long gain", 100, 110, 10, domain.Long, 100.0},
		{"short loss", 100, 110, 10, domain.Short, -100.0},
		{"long loss", 100, 90, 10, domain.Long, -100.0},
		{"short gain", 100, 90, 10, domain.Short, 100.0},
		{"round trip is zero", 100, 100, 10, domain.Long, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := client.CalculatePnl(tt.entry, tt.exit, tt.quantity, tt.side, contract)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestCalculatePnl_InverseDiffersFromLinear(t *testing.T) {
	client := &Client{}
	contract := inverseContract(100)

	// The linear formula would yield qty*mult*(exit-entry) = 100000; the
	// inverse result scales the move down by the entry price instead.
	got := client.CalculatePnl(200, 300, 10, domain.Long, contract)
	assert.InDelta(t, 1000*(1.0/200-1.0/300)*300, got, 1e-9)
	assert.InDelta(t, 500.0, got, 1e-9)
}

func TestCalculatePnl_InverseRejectsNonPositivePrices(t *testing.T) {
	client := &Client{}
	contract := inverseContract(100)

	assert.Zero(t, client.CalculatePnl(0, 110, 10, domain.Long, contract))
	assert.Zero(t, client.CalculatePnl(100, 0, 10, domain.Long, contract))
}

func TestNormalizeContract(t *testing.T) {
	client := &Client{}
	assert.Equal(t, "BTCUSD_PERP", client.NormalizeContract("BTC"))
	assert.Equal(t, "ETHUSD_PERP", client.NormalizeContract("eth"))
	assert.Equal(t, "BTC", client.ExtractSymbol("BTCUSD_PERP"))
	assert.Equal(t, "XRP", client.ExtractSymbol(client.NormalizeContract("XRP")))
}

func TestContractType(t *testing.T) {
	client := &Client{}
	assert.Equal(t, domain.ContractTypeInverse, client.ContractType())
}
