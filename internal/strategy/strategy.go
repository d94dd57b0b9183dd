package strategy

import (
	"context"
	"fmt"

	"perpbot/internal/domain"
	"perpbot/internal/ports"
)

// Config holds parameters for the momentum decision rules.
type Config struct {
	RSIOverbought float64 // e.g., 70.0
	RSIOversold   float64 // e.g., 30.0
}

// Strategy is the built-in momentum decider. Entries follow trend and
// momentum agreement: price relative to EMA, MACD sign, and an RSI band
// filter. It never sizes or filters risk; that happens downstream.
type Strategy struct {
	cfg    Config
	logger ports.Logger
}

// New creates a new Strategy instance.
func New(cfg Config, logger ports.Logger) (*Strategy, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required for strategy")
	}
	if cfg.RSIOverbought <= cfg.RSIOversold || cfg.RSIOverbought > 100 || cfg.RSIOversold < 0 {
		return nil, fmt.Errorf("invalid RSI thresholds: overbought %.1f, oversold %.1f", cfg.RSIOverbought, cfg.RSIOversold)
	}
	return &Strategy{cfg: cfg, logger: logger}, nil
}

// Decide implements ports.Decider. Size and Leverage are left zero so the
// risk engine applies its own percent-of-balance sizing and configured
// leverage.
func (s *Strategy) Decide(ctx context.Context, snapshot *domain.MarketSnapshot) (*domain.Decision, error) {
	if snapshot == nil || snapshot.Indicators == nil {
		return nil, fmt.Errorf("market snapshot with indicators is required")
	}
	ind := snapshot.Indicators

	// Holding a position is managed elsewhere; the decider only picks
	// entries when flat.
	if snapshot.Position != nil {
		return &domain.Decision{Action: domain.ActionHold}, nil
	}

	longSetup := ind.Price > ind.EMA && ind.MACD > 0 && ind.RSI < s.cfg.RSIOverbought
	shortSetup := ind.Price < ind.EMA && ind.MACD < 0 && ind.RSI > s.cfg.RSIOversold

	switch {
	case longSetup:
		s.logger.Info(ctx, "Long entry conditions met", map[string]interface{}{
			"symbol": snapshot.Symbol, "price": ind.Price, "ema": ind.EMA,
			"macd": ind.MACD, "rsi": ind.RSI,
		})
		return &domain.Decision{Action: domain.ActionOpenLong}, nil
	case shortSetup:
		s.logger.Info(ctx, "Short entry conditions met", map[string]interface{}{
			"symbol": snapshot.Symbol, "price": ind.Price, "ema": ind.EMA,
			"macd": ind.MACD, "rsi": ind.RSI,
		})
		return &domain.Decision{Action: domain.ActionOpenShort}, nil
	default:
		s.logger.Debug(ctx, "No entry conditions met", map[string]interface{}{
			"symbol": snapshot.Symbol, "price": ind.Price, "ema": ind.EMA,
			"macd": ind.MACD, "rsi": ind.RSI,
		})
		return &domain.Decision{Action: domain.ActionHold}, nil
	}
}
