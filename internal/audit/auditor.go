package audit

import (
	"context"
	"fmt"
	"math"

	"perpbot/internal/domain"
	"perpbot/internal/ports"
)

// Correction thresholds. Differences inside the tolerance are noise from
// rounding and partial fills, not bookkeeping errors.
const (
	pnlTolerance = 0.5
	feeTolerance = 0.1
)

// ContractResolver resolves contract metadata for a symbol.
type ContractResolver interface {
	Resolve(ctx context.Context, symbol string) (*domain.Contract, error)
}

// Report summarizes one audit pass.
type Report struct {
	Checked   int
	Corrected int
	Skipped   int // closed trades with no matching opening trade
}

// Auditor recomputes the recorded PnL and fees of closed trades against the
// current contract multiplier and fee model. It is the only component
// permitted to mutate trade history, and only through CorrectTrade.
type Auditor struct {
	exchange  ports.ExchangeClient
	contracts ContractResolver
	trades    ports.TradeRepository
	logger    ports.Logger
	feeRate   float64 // taker fee rate, e.g. 0.0005
}

// NewAuditor creates a PnL auditor.
func NewAuditor(exchange ports.ExchangeClient, contracts ContractResolver, trades ports.TradeRepository, logger ports.Logger, feeRate float64) (*Auditor, error) {
	if exchange == nil || contracts == nil || trades == nil || logger == nil {
		return nil, fmt.Errorf("exchange client, contract resolver, trade repository and logger are required for auditor")
	}
	if feeRate < 0 {
		return nil, fmt.Errorf("fee rate must be non-negative: %w", ports.ErrFatalConfig)
	}
	return &Auditor{
		exchange:  exchange,
		contracts: contracts,
		trades:    trades,
		logger:    logger,
		feeRate:   feeRate,
	}, nil
}

// Audit walks all closed trades oldest first, recomputes each against its
// matching opening trade, and corrects records that drift past tolerance.
func (a *Auditor) Audit(ctx context.Context) (Report, error) {
	var report Report

	closed, err := a.trades.FindClosedTrades(ctx)
	if err != nil {
		return report, fmt.Errorf("fetching closed trades: %w", err)
	}

	for _, trade := range closed {
		opening, err := a.trades.FindOpenTradeBefore(ctx, trade.Symbol, trade.Timestamp)
		if err != nil {
			return report, fmt.Errorf("matching opening trade for trade %d: %w", trade.ID, err)
		}
		if opening == nil {
			report.Skipped++
			a.logger.Warn(ctx, "No opening trade found for closed trade, skipping audit", map[string]interface{}{
				"tradeID": trade.ID, "symbol": trade.Symbol,
			})
			continue
		}
		report.Checked++

		contract, err := a.contracts.Resolve(ctx, trade.Symbol)
		if err != nil {
			return report, fmt.Errorf("resolving contract for %s: %w", trade.Symbol, err)
		}

		expectedPnl := a.exchange.CalculatePnl(opening.Price, trade.Price, trade.Quantity, trade.Side, contract)
		expectedFee := a.fee(trade.Price, trade.Quantity, contract)

		pnlDrift := math.Abs(expectedPnl - trade.PNL)
		feeDrift := math.Abs(expectedFee - trade.Fee)
		if pnlDrift <= pnlTolerance && feeDrift <= feeTolerance {
			continue
		}

		a.logger.Warn(ctx, "Trade record drifted from recomputed values, correcting", map[string]interface{}{
			"tradeID":     trade.ID,
			"symbol":      trade.Symbol,
			"recordedPnl": trade.PNL,
			"expectedPnl": expectedPnl,
			"recordedFee": trade.Fee,
			"expectedFee": expectedFee,
			"multiplier":  contract.SizeMultiplier,
			"fallback":    contract.IsFallback,
		})
		if err := a.trades.CorrectTrade(ctx, trade.ID, expectedPnl, expectedFee); err != nil {
			return report, fmt.Errorf("correcting trade %d: %w", trade.ID, err)
		}
		report.Corrected++
	}

	a.logger.Info(ctx, "PnL audit complete", map[string]interface{}{
		"checked": report.Checked, "corrected": report.Corrected, "skipped": report.Skipped,
	})
	return report, nil
}

// fee estimates the quote-currency taker fee for one fill. Linear contracts
// charge on notional price*qty*multiplier. Inverse contracts charge in the
// base asset on qty*multiplier/price; converting back at the same price
// leaves rate*qty*multiplier in quote terms.
func (a *Auditor) fee(price, quantity float64, contract *domain.Contract) float64 {
	if contract.Type == domain.ContractTypeInverse {
		return a.feeRate * quantity * contract.SizeMultiplier
	}
	return a.feeRate * price * quantity * contract.SizeMultiplier
}
