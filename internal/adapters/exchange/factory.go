package exchange

import (
	"fmt"

	"perpbot/internal/adapters/coinmclient"
	"perpbot/internal/adapters/usdmclient"
	"perpbot/internal/domain"
	"perpbot/internal/ports"
)

// Config selects and configures the exchange client variant. The contract
// type is fixed for the lifetime of the process; all settlement-specific
// arithmetic lives behind the returned interface.
type Config struct {
	ContractType domain.ContractType
	APIKey       string
	SecretKey    string
	UseTestnet   bool
	MarginAsset  string // Inverse only: the coin funding the positions
	Logger       ports.Logger
}

// New builds the exchange client for the configured contract type.
func New(cfg Config) (ports.ExchangeClient, error) {
	switch cfg.ContractType {
	case domain.ContractTypeLinear:
		return usdmclient.New(usdmclient.Config{
			APIKey:     cfg.APIKey,
			SecretKey:  cfg.SecretKey,
			UseTestnet: cfg.UseTestnet,
			Logger:     cfg.Logger,
		})
	case domain.ContractTypeInverse:
		return coinmclient.New(coinmclient.Config{
			APIKey:      cfg.APIKey,
			SecretKey:   cfg.SecretKey,
			UseTestnet:  cfg.UseTestnet,
			MarginAsset: cfg.MarginAsset,
			Logger:      cfg.Logger,
		})
	default:
		return nil, fmt.Errorf("unsupported contract type %q: %w", cfg.ContractType, ports.ErrFatalConfig)
	}
}
