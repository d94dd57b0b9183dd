package reconcile

import (
	"context"
	"fmt"
	"time"

	"perpbot/internal/domain"
	"perpbot/internal/ports"
)

// Report summarizes one reconciliation pass.
type Report struct {
	Inserted  int // exchange-only positions adopted locally
	Closed    int // local-only positions marked closed
	Corrected int // side/quantity mismatches corrected to exchange values
}

// Clean reports whether the pass found local and exchange state in agreement.
func (r Report) Clean() bool {
	return r.Inserted == 0 && r.Closed == 0 && r.Corrected == 0
}

// Reconciler aligns locally persisted positions with exchange-reported
// positions. The exchange is the source of truth: live positions there are
// adopted, dead positions here are closed, and disagreements on side or
// quantity are overwritten with exchange values. A second pass with no
// exchange change is a no-op.
type Reconciler struct {
	exchange     ports.ExchangeClient
	positions    ports.PositionRepository
	trades       ports.TradeRepository
	conditionals ports.ConditionalOrderRepository
	logger       ports.Logger
}

// NewReconciler creates a position reconciler.
func NewReconciler(exchange ports.ExchangeClient, positions ports.PositionRepository, trades ports.TradeRepository, conditionals ports.ConditionalOrderRepository, logger ports.Logger) (*Reconciler, error) {
	if exchange == nil || positions == nil || trades == nil || conditionals == nil || logger == nil {
		return nil, fmt.Errorf("exchange client, repositories and logger are required for reconciler")
	}
	return &Reconciler{exchange: exchange, positions: positions, trades: trades, conditionals: conditionals, logger: logger}, nil
}

// Reconcile runs one pass and returns the correction report. Individual
// record failures abort the pass; partial application is safe to retry
// because every step is idempotent.
func (r *Reconciler) Reconcile(ctx context.Context) (Report, error) {
	var report Report

	exchangePositions, err := r.exchange.GetPositions(ctx)
	if err != nil {
		return report, fmt.Errorf("fetching exchange positions: %w", err)
	}
	localPositions, err := r.positions.FindOpen(ctx)
	if err != nil {
		return report, fmt.Errorf("fetching local open positions: %w", err)
	}

	exchangeBySymbol := make(map[string]*ports.ExchangePosition, len(exchangePositions))
	for _, pos := range exchangePositions {
		exchangeBySymbol[pos.Symbol] = pos
	}
	localBySymbol := make(map[string]*domain.Position, len(localPositions))
	for _, pos := range localPositions {
		localBySymbol[pos.Symbol] = pos
	}

	for symbol, remote := range exchangeBySymbol {
		local, ok := localBySymbol[symbol]
		if !ok {
			if err := r.adopt(ctx, remote); err != nil {
				return report, err
			}
			report.Inserted++
			continue
		}
		corrected, err := r.correct(ctx, local, remote)
		if err != nil {
			return report, err
		}
		if corrected {
			report.Corrected++
		}
	}

	for symbol, local := range localBySymbol {
		if _, ok := exchangeBySymbol[symbol]; ok {
			continue
		}
		if err := r.closeOrphan(ctx, local); err != nil {
			return report, err
		}
		report.Closed++
	}

	if !report.Clean() {
		r.logger.Info(ctx, "Reconciliation applied corrections", map[string]interface{}{
			"inserted": report.Inserted, "closed": report.Closed, "corrected": report.Corrected,
		})
	}
	return report, nil
}

// adopt inserts an authoritative local record for an exchange-only position.
func (r *Reconciler) adopt(ctx context.Context, remote *ports.ExchangePosition) error {
	pos := &domain.Position{
		Symbol:     remote.Symbol,
		Side:       remote.Side,
		Quantity:   remote.Quantity,
		EntryPrice: remote.EntryPrice,
		Leverage:   remote.Leverage,
		OpenedAt:   time.Now(),
		Status:     domain.StatusOpen,
	}
	if _, err := r.positions.Create(ctx, pos); err != nil {
		return fmt.Errorf("adopting exchange position for %s: %w", remote.Symbol, err)
	}
	r.logger.Warn(ctx, "Adopted exchange-only position", map[string]interface{}{
		"symbol": remote.Symbol, "side": remote.Side, "quantity": remote.Quantity,
		"entryPrice": remote.EntryPrice, "error": ports.ErrInconsistentState.Error(),
	})
	return nil
}

// closeOrphan marks a local-only position closed. The close price and PnL
// come from trade history when closing trades exist: PnL sums every closing
// trade since the position opened so partial closes are counted, and the
// final trade's price against the recorded protective levels attributes the
// close reason. Without history the record is closed with unknown reason and
// flagged for manual audit.
func (r *Reconciler) closeOrphan(ctx context.Context, local *domain.Position) error {
	local.Status = domain.StatusClosed
	local.ClosedAt = time.Now()
	local.Reason = domain.CloseReasonUnknown

	closes, err := r.trades.FindClosedBySymbolSince(ctx, local.Symbol, local.OpenedAt)
	if err != nil {
		return fmt.Errorf("looking up trade history for %s: %w", local.Symbol, err)
	}
	audited := len(closes) > 0
	if audited {
		total := 0.0
		for _, trade := range closes {
			total += trade.PNL
		}
		final := closes[len(closes)-1]
		local.ClosePrice = final.Price
		local.PNL = total
		local.Reason = r.attributeClose(local, final.Price)
	}

	if err := r.positions.Update(ctx, local); err != nil {
		return fmt.Errorf("closing orphaned position %d: %w", local.ID, err)
	}
	r.resolveConditionals(ctx, local)

	fields := map[string]interface{}{
		"symbol": local.Symbol, "positionID": local.ID, "pnl": local.PNL,
		"reason": local.Reason, "error": ports.ErrInconsistentState.Error(),
	}
	if audited {
		r.logger.Warn(ctx, "Closed local-only position from trade history", fields)
	} else {
		r.logger.Warn(ctx, "Closed local-only position, no closing trade found, manual audit required", fields)
	}
	return nil
}

// attributeClose infers why the position left the exchange from where the
// exit price landed relative to the recorded protective levels.
func (r *Reconciler) attributeClose(local *domain.Position, exitPrice float64) domain.CloseReason {
	sign := local.Side.Sign()
	if local.StopLossPrice > 0 && sign*(exitPrice-local.StopLossPrice) <= 0 {
		return domain.CloseReasonStopLoss
	}
	if local.TakeProfitPrice > 0 && sign*(exitPrice-local.TakeProfitPrice) >= 0 {
		return domain.CloseReasonTakeProfit
	}
	return domain.CloseReasonUnknown
}

// resolveConditionals retires the cached protective orders of a closed
// position: the order matching the attributed close reason triggered, the
// rest were cancelled server-side when the position went flat.
func (r *Reconciler) resolveConditionals(ctx context.Context, local *domain.Position) {
	active, err := r.conditionals.FindActiveBySymbol(ctx, local.Symbol)
	if err != nil {
		r.logger.Warn(ctx, "Failed to load cached conditional orders", map[string]interface{}{
			"symbol": local.Symbol, "error": err.Error(),
		})
		return
	}
	triggeredKind := domain.ConditionalOrderKind("")
	switch local.Reason {
	case domain.CloseReasonStopLoss:
		triggeredKind = domain.KindStopLoss
	case domain.CloseReasonTakeProfit:
		triggeredKind = domain.KindTakeProfit
	}
	for _, order := range active {
		status := domain.ConditionalCancelled
		if order.Kind == triggeredKind {
			status = domain.ConditionalTriggered
		}
		if err := r.conditionals.UpdateConditionalOrderStatus(ctx, order.ID, status); err != nil {
			r.logger.Warn(ctx, "Failed to retire cached conditional order", map[string]interface{}{
				"symbol": local.Symbol, "orderID": order.ID, "status": status, "error": err.Error(),
			})
		}
	}
}

// correct overwrites local side/quantity with the exchange values when they
// disagree. Returns true when a correction was written.
func (r *Reconciler) correct(ctx context.Context, local *domain.Position, remote *ports.ExchangePosition) (bool, error) {
	const quantityTolerance = 1e-9
	sideMatch := local.Side == remote.Side
	qtyMatch := local.Quantity > remote.Quantity-quantityTolerance && local.Quantity < remote.Quantity+quantityTolerance
	if sideMatch && qtyMatch {
		return false, nil
	}

	r.logger.Warn(ctx, "Local position disagrees with exchange, correcting to exchange values", map[string]interface{}{
		"symbol":           local.Symbol,
		"localSide":        local.Side,
		"exchangeSide":     remote.Side,
		"localQuantity":    local.Quantity,
		"exchangeQuantity": remote.Quantity,
		"error":            ports.ErrInconsistentState.Error(),
	})

	local.Side = remote.Side
	local.Quantity = remote.Quantity
	local.EntryPrice = remote.EntryPrice
	local.Leverage = remote.Leverage
	if err := r.positions.Update(ctx, local); err != nil {
		return false, fmt.Errorf("correcting position %d for %s: %w", local.ID, local.Symbol, err)
	}
	return true, nil
}
