package marketdata

import (
	"context"
	"fmt"

	"perpbot/internal/domain"
	"perpbot/internal/indicators"
	"perpbot/internal/ports"
)

// Config holds indicator parameters for the market data feed.
type Config struct {
	EMAPeriod      int
	RSIPeriod      int
	MACDFastPeriod int
	MACDSlowPeriod int
	ATRPeriod      int
	KlineLimit     int
}

// DefaultConfig returns commonly used indicator periods.
func DefaultConfig() Config {
	return Config{
		EMAPeriod:      20,
		RSIPeriod:      14,
		MACDFastPeriod: 12,
		MACDSlowPeriod: 26,
		ATRPeriod:      14,
		KlineLimit:     100,
	}
}

// Feed computes indicator snapshots from exchange candlestick data. It
// implements ports.MarketDataFeed.
type Feed struct {
	exchange ports.ExchangeClient
	logger   ports.Logger
	cfg      Config

	ema  *indicators.MovingAverage
	rsi  *indicators.RSI
	macd *indicators.MACD
	atr  *indicators.ATR
}

// NewFeed creates a market data feed backed by the given exchange client.
func NewFeed(exchange ports.ExchangeClient, logger ports.Logger, cfg Config) (*Feed, error) {
	if exchange == nil || logger == nil {
		return nil, fmt.Errorf("exchange client and logger are required for market data feed")
	}
	if cfg.KlineLimit < cfg.MACDSlowPeriod || cfg.KlineLimit < cfg.EMAPeriod {
		return nil, fmt.Errorf("kline limit %d is below the longest indicator period: %w", cfg.KlineLimit, ports.ErrFatalConfig)
	}
	return &Feed{
		exchange: exchange,
		logger:   logger,
		cfg:      cfg,
		ema: indicators.NewMovingAverage(indicators.MovingAverageConfig{
			IndicatorConfig: indicators.IndicatorConfig{Period: cfg.EMAPeriod},
			Type:            indicators.ExponentialMovingAverage,
		}),
		rsi:  indicators.NewRSI(indicators.RSIConfig{IndicatorConfig: indicators.IndicatorConfig{Period: cfg.RSIPeriod}}),
		macd: indicators.NewMACD(indicators.MACDConfig{FastPeriod: cfg.MACDFastPeriod, SlowPeriod: cfg.MACDSlowPeriod}),
		atr:  indicators.NewATR(indicators.ATRConfig{IndicatorConfig: indicators.IndicatorConfig{Period: cfg.ATRPeriod}}),
	}, nil
}

// GetIndicators fetches recent klines for the symbol and computes the full
// indicator set over them. The price is the latest close.
func (f *Feed) GetIndicators(ctx context.Context, symbol, timeframe string) (*domain.IndicatorSet, error) {
	klines, err := f.exchange.GetKlines(ctx, symbol, timeframe, f.cfg.KlineLimit)
	if err != nil {
		return nil, fmt.Errorf("fetching klines for %s: %w", symbol, err)
	}
	if len(klines) == 0 {
		return nil, fmt.Errorf("no klines returned for %s %s: %w", symbol, timeframe, ports.ErrInvalidResponse)
	}

	ema, err := f.ema.Calculate(ctx, klines)
	if err != nil {
		return nil, fmt.Errorf("EMA for %s: %w", symbol, err)
	}
	rsi, err := f.rsi.Calculate(ctx, klines)
	if err != nil {
		return nil, fmt.Errorf("RSI for %s: %w", symbol, err)
	}
	macd, err := f.macd.Calculate(ctx, klines)
	if err != nil {
		return nil, fmt.Errorf("MACD for %s: %w", symbol, err)
	}
	atr, err := f.atr.Calculate(ctx, klines)
	if err != nil {
		return nil, fmt.Errorf("ATR for %s: %w", symbol, err)
	}

	set := &domain.IndicatorSet{
		Symbol:    symbol,
		Timeframe: timeframe,
		Price:     klines[len(klines)-1].Close,
		EMA:       ema,
		RSI:       rsi,
		MACD:      macd,
		ATR:       atr,
	}
	f.logger.Debug(ctx, "Computed indicator set", map[string]interface{}{
		"symbol": symbol, "timeframe": timeframe, "price": set.Price,
		"ema": ema, "rsi": rsi, "macd": macd, "atr": atr,
	})
	return set, nil
}
