package contracts

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"perpbot/internal/domain"
	"perpbot/internal/ports"
)

// defaultMultipliers is the static fallback table used when the exchange
// cannot supply contract metadata. Values follow the common contract sizes
// published for coin-margined perpetuals; linear contracts default to 1.
var defaultMultipliers = map[string]float64{
	"BTC": 100, // 100 USD per contract on coin-margined BTC perpetuals
	"ETH": 10,
	"XRP": 10,
	"SOL": 10,
	"BNB": 10,
}

const defaultLinearMultiplier = 1.0

// Registry resolves and caches per-symbol contract metadata. The cache is
// shared and read-mostly; concurrent first-time resolution of the same
// symbol is coalesced so only one network call is issued. Cached values
// (authoritative or fallback) live until explicit invalidation.
type Registry struct {
	exchange ports.ExchangeClient
	logger   ports.Logger

	mu    sync.RWMutex
	cache map[string]*domain.Contract
	group singleflight.Group
}

// NewRegistry creates a contract registry backed by the given exchange client.
func NewRegistry(exchange ports.ExchangeClient, logger ports.Logger) (*Registry, error) {
	if exchange == nil || logger == nil {
		return nil, fmt.Errorf("exchange client and logger are required for contract registry")
	}
	return &Registry{
		exchange: exchange,
		logger:   logger,
		cache:    make(map[string]*domain.Contract),
	}, nil
}

// Resolve returns the contract metadata for a base asset symbol. The first
// call queries the exchange; on failure or malformed metadata it falls back
// to the static default table. Either result is cached so repeated failures
// never repeat network calls.
func (r *Registry) Resolve(ctx context.Context, symbol string) (*domain.Contract, error) {
	r.mu.RLock()
	cached, ok := r.cache[symbol]
	r.mu.RUnlock()
	if ok {
		return cached, nil
	}

	// singleflight coalesces concurrent first-time lookups of one symbol.
	// No lock is held across the network call.
	v, err, _ := r.group.Do(symbol, func() (interface{}, error) {
		r.mu.RLock()
		cached, ok := r.cache[symbol]
		r.mu.RUnlock()
		if ok {
			return cached, nil
		}

		contract := r.fetchOrFallback(ctx, symbol)

		r.mu.Lock()
		r.cache[symbol] = contract
		r.mu.Unlock()
		return contract, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*domain.Contract), nil
}

func (r *Registry) fetchOrFallback(ctx context.Context, symbol string) *domain.Contract {
	contract, err := r.exchange.GetContractInfo(ctx, symbol)
	if err == nil && contract.Valid() {
		r.logger.Debug(ctx, "Resolved contract metadata", map[string]interface{}{
			"symbol":     symbol,
			"contractID": contract.ExchangeContractID,
			"multiplier": contract.SizeMultiplier,
		})
		return contract
	}

	fallback := r.fallbackContract(symbol)
	fields := map[string]interface{}{
		"symbol":             symbol,
		"fallbackMultiplier": fallback.SizeMultiplier,
	}
	if err != nil {
		r.logger.Warn(ctx, "Contract metadata fetch failed, using fallback table", fields)
	} else {
		fields["fetchedMultiplier"] = contract.SizeMultiplier
		r.logger.Warn(ctx, "Contract metadata invalid, using fallback table", fields)
	}
	return fallback
}

func (r *Registry) fallbackContract(symbol string) *domain.Contract {
	contractType := r.exchange.ContractType()
	multiplier := defaultLinearMultiplier
	if contractType == domain.ContractTypeInverse {
		if m, ok := defaultMultipliers[symbol]; ok {
			multiplier = m
		} else {
			multiplier = 10 // conservative default for unlisted coin-margined alts
		}
	}
	return &domain.Contract{
		Symbol:             symbol,
		ExchangeContractID: r.exchange.NormalizeContract(symbol),
		Type:               contractType,
		SizeMultiplier:     multiplier,
		LeverageMin:        1,
		LeverageMax:        20,
		SizePrecision:      0,
		IsFallback:         true,
	}
}

// Invalidate clears the cache entry for one symbol.
func (r *Registry) Invalidate(symbol string) {
	r.mu.Lock()
	delete(r.cache, symbol)
	r.mu.Unlock()
}

// InvalidateAll clears every cache entry.
func (r *Registry) InvalidateAll() {
	r.mu.Lock()
	r.cache = make(map[string]*domain.Contract)
	r.mu.Unlock()
}

// Preload warms the cache for the given symbols in parallel. Individual
// failures are tolerated; the count of successful resolutions is returned.
func (r *Registry) Preload(ctx context.Context, symbols []string) int {
	var (
		g       errgroup.Group
		mu      sync.Mutex
		success int
	)
	g.SetLimit(4)
	for _, symbol := range symbols {
		symbol := symbol
		g.Go(func() error {
			if _, err := r.Resolve(ctx, symbol); err != nil {
				r.logger.Warn(ctx, "Contract preload failed for symbol", map[string]interface{}{"symbol": symbol, "error": err.Error()})
				return nil // partial success is acceptable
			}
			mu.Lock()
			success++
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	r.logger.Info(ctx, "Contract cache preloaded", map[string]interface{}{"requested": len(symbols), "resolved": success})
	return success
}
