package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"perpbot/internal/domain"
	"perpbot/internal/ports"
	"perpbot/internal/reconcile"
	"perpbot/internal/risk"
)

// ContractResolver resolves contract metadata for a symbol.
type ContractResolver interface {
	Resolve(ctx context.Context, symbol string) (*domain.Contract, error)
}

// Reconciler aligns local position state with the exchange.
type Reconciler interface {
	Reconcile(ctx context.Context) (reconcile.Report, error)
}

// Config holds the service-level trading parameters.
type Config struct {
	Symbols       []string
	Timeframe     string
	CycleInterval time.Duration
	Leverage      int
	FeeRate       float64 // taker fee estimate recorded on trades
}

// TradingService orchestrates the periodic trading cycle: account snapshot,
// drawdown evaluation, reconciliation, then per-symbol position management
// and entry decisions. Per-symbol failures never abort the cycle for the
// other symbols.
type TradingService struct {
	cfg        Config
	logger     ports.Logger
	exchange   ports.ExchangeClient
	store      ports.Store
	contracts  ContractResolver
	engine     *risk.Engine
	guard      *risk.Guard
	reconciler Reconciler
	decider    ports.Decider
	feed       ports.MarketDataFeed

	mu          sync.Mutex
	balance     float64
	symbolLocks map[string]*sync.Mutex
}

// NewTradingService creates a new application service instance.
func NewTradingService(
	cfg Config,
	logger ports.Logger,
	exchange ports.ExchangeClient,
	store ports.Store,
	contracts ContractResolver,
	engine *risk.Engine,
	guard *risk.Guard,
	reconciler Reconciler,
	decider ports.Decider,
	feed ports.MarketDataFeed,
) (*TradingService, error) {
	if logger == nil || exchange == nil || store == nil || contracts == nil ||
		engine == nil || guard == nil || reconciler == nil || decider == nil || feed == nil {
		return nil, fmt.Errorf("missing required dependencies for TradingService")
	}
	if len(cfg.Symbols) == 0 {
		return nil, fmt.Errorf("at least one symbol is required: %w", ports.ErrFatalConfig)
	}
	if cfg.CycleInterval <= 0 {
		return nil, fmt.Errorf("cycle interval must be positive: %w", ports.ErrFatalConfig)
	}
	if cfg.Leverage <= 0 {
		return nil, fmt.Errorf("leverage must be positive: %w", ports.ErrFatalConfig)
	}

	locks := make(map[string]*sync.Mutex, len(cfg.Symbols))
	for _, symbol := range cfg.Symbols {
		locks[symbol] = &sync.Mutex{}
	}
	return &TradingService{
		cfg:         cfg,
		logger:      logger,
		exchange:    exchange,
		store:       store,
		contracts:   contracts,
		engine:      engine,
		guard:       guard,
		reconciler:  reconciler,
		decider:     decider,
		feed:        feed,
		symbolLocks: locks,
	}, nil
}

// Start runs the trading loop until the context is canceled or a shutdown
// signal arrives. Cancellation takes effect between cycles.
func (s *TradingService) Start(ctx context.Context) error {
	s.logger.Info(ctx, "Starting trading service", map[string]interface{}{
		"symbols": s.cfg.Symbols, "interval": s.cfg.CycleInterval.String(),
	})

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			s.logger.Info(ctx, "Received shutdown signal", map[string]interface{}{"signal": sig.String()})
			cancel()
		case <-ctx.Done():
		}
	}()

	if err := s.exchange.Ping(ctx); err != nil {
		return fmt.Errorf("exchange connectivity check failed: %w", err)
	}

	for _, symbol := range s.cfg.Symbols {
		if err := s.exchange.SetLeverage(ctx, symbol, s.cfg.Leverage); err != nil {
			s.logger.Warn(ctx, "Failed to set leverage, continuing with exchange default", map[string]interface{}{
				"symbol": symbol, "leverage": s.cfg.Leverage, "error": err.Error(),
			})
		}
	}

	// Startup reconciliation recovers from crashes that left local and
	// exchange state disagreeing.
	if report, err := s.reconciler.Reconcile(ctx); err != nil {
		s.logger.Error(ctx, err, "Startup reconciliation failed")
	} else if !report.Clean() {
		s.logger.Warn(ctx, "Startup reconciliation corrected state", map[string]interface{}{
			"inserted": report.Inserted, "closed": report.Closed, "corrected": report.Corrected,
		})
	}

	ticker := time.NewTicker(s.cfg.CycleInterval)
	defer ticker.Stop()

	s.runCycle(ctx)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info(ctx, "Trading service stopped")
			return nil
		case <-ticker.C:
			s.runCycle(ctx)
		}
	}
}

// runCycle executes one full trading cycle. Every step degrades gracefully:
// a failing step is logged and the rest of the cycle continues where safe.
func (s *TradingService) runCycle(ctx context.Context) {
	balance, unrealized, err := s.exchange.GetAccountBalance(ctx)
	if err != nil {
		s.logger.Error(ctx, err, "Failed to refresh account snapshot, skipping cycle")
		return
	}
	s.mu.Lock()
	s.balance = balance
	s.mu.Unlock()

	state := s.guard.Evaluate(balance)
	switch state {
	case risk.GuardWarning:
		s.logger.Warn(ctx, "Drawdown warning threshold crossed", map[string]interface{}{
			"balance": balance, "unrealizedPnl": unrealized, "drawdownPct": s.guard.Drawdown(balance),
		})
	case risk.GuardNoNewPosition:
		s.logger.Warn(ctx, "Drawdown blocks new positions", map[string]interface{}{
			"balance": balance, "drawdownPct": s.guard.Drawdown(balance),
		})
	case risk.GuardForceClose:
		s.logger.Error(ctx, nil, "Drawdown force-close threshold crossed, closing all positions", map[string]interface{}{
			"balance": balance, "drawdownPct": s.guard.Drawdown(balance),
		})
		s.forceCloseAll(ctx)
	}

	if _, err := s.reconciler.Reconcile(ctx); err != nil {
		s.logger.Error(ctx, err, "Cycle reconciliation failed")
	}

	if s.guard.DemandForceClose() {
		return
	}

	for _, symbol := range s.cfg.Symbols {
		if ctx.Err() != nil {
			return
		}
		if err := s.processSymbol(ctx, symbol); err != nil {
			s.logger.Error(ctx, err, "Symbol cycle failed", map[string]interface{}{"symbol": symbol})
		}
	}
}

// processSymbol manages the open position for one symbol, or consults the
// decision function for an entry when flat.
func (s *TradingService) processSymbol(ctx context.Context, symbol string) error {
	lock := s.symbolLock(symbol)
	lock.Lock()
	defer lock.Unlock()

	indicators, err := s.feed.GetIndicators(ctx, symbol, s.cfg.Timeframe)
	if err != nil {
		return fmt.Errorf("fetching indicators: %w", err)
	}

	pos, err := s.store.FindOpenBySymbol(ctx, symbol)
	if err != nil {
		return fmt.Errorf("loading open position: %w", err)
	}

	s.mu.Lock()
	balance := s.balance
	s.mu.Unlock()

	if pos != nil {
		decision, err := s.decider.Decide(ctx, &domain.MarketSnapshot{
			Symbol:     symbol,
			Indicators: indicators,
			Position:   pos,
			Balance:    balance,
		})
		if err != nil {
			return fmt.Errorf("decision function: %w", err)
		}
		if decision.Action == domain.ActionClose {
			return s.closePosition(ctx, pos, domain.CloseReasonSignal)
		}
		return s.managePosition(ctx, pos, indicators)
	}

	if !s.guard.AllowNewPosition() {
		return nil
	}

	decision, err := s.decider.Decide(ctx, &domain.MarketSnapshot{
		Symbol:     symbol,
		Indicators: indicators,
		Balance:    balance,
	})
	if err != nil {
		return fmt.Errorf("decision function: %w", err)
	}
	switch decision.Action {
	case domain.ActionOpenLong:
		return s.openPosition(ctx, symbol, domain.Long, indicators, decision, balance)
	case domain.ActionOpenShort:
		return s.openPosition(ctx, symbol, domain.Short, indicators, decision, balance)
	default:
		return nil
	}
}

// managePosition advances the trailing stop and fires due partial
// take-profit stages for an open position. Positions that arrived without
// protective orders, such as ones adopted during reconciliation, get them
// placed before anything else.
func (s *TradingService) managePosition(ctx context.Context, pos *domain.Position, indicators *domain.IndicatorSet) error {
	price := indicators.Price

	if pos.StopLossOrderRef == nil || pos.TakeProfitOrderRef == nil || pos.InitialRisk <= 0 {
		if err := s.bootstrapProtection(ctx, pos, indicators); err != nil {
			return fmt.Errorf("placing protective orders for position %d: %w", pos.ID, err)
		}
	}

	prevStop := pos.StopLossPrice
	if newStop, moved := s.engine.UpdateTrailing(pos, price); moved {
		if err := s.replaceStopOrder(ctx, pos, newStop); err != nil {
			// Keep the old level locally: the next cycle recomputes the same
			// candidate against it and retries the replacement.
			pos.StopLossPrice = prevStop
			s.logger.Error(ctx, err, "Failed to move trailing stop on exchange", map[string]interface{}{
				"symbol": pos.Symbol, "positionID": pos.ID, "newStop": newStop,
			})
		} else {
			s.logger.Info(ctx, "Trailing stop advanced", map[string]interface{}{
				"symbol": pos.Symbol, "positionID": pos.ID, "stopPrice": newStop, "price": price,
			})
		}
		if err := s.store.Update(ctx, pos); err != nil {
			return fmt.Errorf("persisting trailing update for position %d: %w", pos.ID, err)
		}
	}

	if trigger := s.engine.NextStage(pos, price); trigger != nil {
		if err := s.firePartialStage(ctx, pos, price, trigger); err != nil {
			return fmt.Errorf("partial take-profit stage %d: %w", trigger.Stage, err)
		}
	}
	return nil
}

// bootstrapProtection derives and places missing protective orders for a
// position that has none, then persists the levels. Partial progress is
// persisted so a failed step is retried next cycle without re-placing what
// already stuck.
func (s *TradingService) bootstrapProtection(ctx context.Context, pos *domain.Position, indicators *domain.IndicatorSet) error {
	stopPrice, initialRisk := s.engine.RecoveryStop(pos.EntryPrice, indicators.ATR, pos.Side)
	if initialRisk <= 0 {
		return fmt.Errorf("cannot derive recovery stop for position %d: %w", pos.ID, ports.ErrInconsistentState)
	}
	if pos.InitialRisk <= 0 {
		pos.InitialRisk = initialRisk
	}

	if pos.StopLossOrderRef == nil {
		if err := s.replaceStopOrder(ctx, pos, stopPrice); err != nil {
			return err
		}
		pos.StopLossPrice = stopPrice
	}

	if pos.TakeProfitOrderRef == nil {
		takeProfitPrice := s.engine.TakeProfitPrice(pos.EntryPrice, pos.Side)
		tpOrder, err := s.exchange.PlaceConditionalOrder(ctx, ports.ConditionalOrderRequest{
			Symbol:       pos.Symbol,
			Kind:         domain.KindTakeProfit,
			Side:         pos.Side.CloseOrderSide(),
			TriggerPrice: takeProfitPrice,
		})
		if err != nil {
			if uerr := s.store.Update(ctx, pos); uerr != nil {
				s.logger.Warn(ctx, "Failed to persist partial protection", map[string]interface{}{
					"symbol": pos.Symbol, "positionID": pos.ID, "error": uerr.Error(),
				})
			}
			return fmt.Errorf("placing recovery take-profit order: %w", err)
		}
		ref := strconv.FormatInt(tpOrder.OrderID, 10)
		pos.TakeProfitOrderRef = &ref
		pos.TakeProfitPrice = takeProfitPrice
		if _, err := s.store.CreateConditionalOrder(ctx, &domain.ConditionalOrder{
			ExchangeID:   ref,
			Symbol:       pos.Symbol,
			Kind:         domain.KindTakeProfit,
			TriggerPrice: takeProfitPrice,
			Status:       domain.ConditionalActive,
			CreatedAt:    time.Now().UTC(),
		}); err != nil {
			s.logger.Warn(ctx, "Failed to cache recovery take-profit order", map[string]interface{}{
				"symbol": pos.Symbol, "orderRef": ref, "error": err.Error(),
			})
		}
	}

	if err := s.store.Update(ctx, pos); err != nil {
		return fmt.Errorf("persisting recovered protection for position %d: %w", pos.ID, err)
	}
	s.logger.Info(ctx, "Protective orders placed for unprotected position", map[string]interface{}{
		"symbol": pos.Symbol, "positionID": pos.ID, "stopLoss": pos.StopLossPrice,
		"takeProfit": pos.TakeProfitPrice, "initialRisk": pos.InitialRisk,
	})
	return nil
}

// replaceStopOrder places the stop order at the new level and only then
// retires the superseded one, so the position is never left without a live
// stop on the exchange.
func (s *TradingService) replaceStopOrder(ctx context.Context, pos *domain.Position, stopPrice float64) error {
	resp, err := s.exchange.PlaceConditionalOrder(ctx, ports.ConditionalOrderRequest{
		Symbol:       pos.Symbol,
		Kind:         domain.KindStopLoss,
		Side:         pos.Side.CloseOrderSide(),
		TriggerPrice: stopPrice,
	})
	if err != nil {
		return fmt.Errorf("placing replacement stop order: %w", err)
	}

	if pos.StopLossOrderRef != nil {
		if orderID, perr := strconv.ParseInt(*pos.StopLossOrderRef, 10, 64); perr == nil {
			_ = s.cancelOrderWarn(ctx, pos.Symbol, orderID, "SL")
		}
	}

	ref := strconv.FormatInt(resp.OrderID, 10)
	pos.StopLossOrderRef = &ref
	if _, err := s.store.CreateConditionalOrder(ctx, &domain.ConditionalOrder{
		ExchangeID:   ref,
		Symbol:       pos.Symbol,
		Kind:         domain.KindStopLoss,
		TriggerPrice: stopPrice,
		Status:       domain.ConditionalActive,
		CreatedAt:    time.Now().UTC(),
	}); err != nil {
		s.logger.Warn(ctx, "Failed to cache replacement stop order", map[string]interface{}{
			"symbol": pos.Symbol, "orderRef": ref, "error": err.Error(),
		})
	}
	return nil
}

// firePartialStage closes part of the position at market and records the
// stage so it never re-fires.
func (s *TradingService) firePartialStage(ctx context.Context, pos *domain.Position, price float64, trigger *risk.StageTrigger) error {
	contract, err := s.contracts.Resolve(ctx, pos.Symbol)
	if err != nil {
		return fmt.Errorf("resolving contract: %w", err)
	}

	resp, err := s.exchange.PlaceOrder(ctx, pos.Symbol, pos.Side.CloseOrderSide(), trigger.QuantityToClose, true)
	if err != nil {
		return fmt.Errorf("placing partial close order: %w", err)
	}
	fillPrice := resp.AvgPrice
	if fillPrice == 0 {
		fillPrice = price
	}

	pnl := s.exchange.CalculatePnl(pos.EntryPrice, fillPrice, trigger.QuantityToClose, pos.Side, contract)
	pos.StagesFired = trigger.Stage
	pos.Quantity -= trigger.QuantityToClose

	if _, err := s.store.CreatePartialTakeProfit(ctx, &domain.PartialTakeProfit{
		PositionID:   pos.ID,
		Symbol:       pos.Symbol,
		Stage:        trigger.Stage,
		RMultiple:    trigger.RMultiple,
		ClosePercent: trigger.ClosePercent,
		TriggerPrice: fillPrice,
		PNL:          pnl,
		ExecutedAt:   time.Now().UTC(),
	}); err != nil {
		return fmt.Errorf("recording partial take-profit: %w", err)
	}
	if _, err := s.store.CreateTrade(ctx, &domain.Trade{
		Type:      domain.TradeTypeClose,
		Symbol:    pos.Symbol,
		Side:      pos.Side,
		Price:     fillPrice,
		Quantity:  trigger.QuantityToClose,
		PNL:       pnl,
		Fee:       s.feeEstimate(fillPrice, trigger.QuantityToClose, contract),
		Timestamp: time.Now().UTC(),
		OrderID:   strconv.FormatInt(resp.OrderID, 10),
		Status:    resp.Status,
	}); err != nil {
		return fmt.Errorf("recording partial close trade: %w", err)
	}

	if pos.Quantity <= 1e-9 {
		pos.Quantity = 0
		return s.finalizeClose(ctx, pos, fillPrice, pnl, domain.CloseReasonTakeProfit)
	}
	if err := s.store.Update(ctx, pos); err != nil {
		return fmt.Errorf("persisting partial close for position %d: %w", pos.ID, err)
	}
	s.logger.Info(ctx, "Partial take-profit stage executed", map[string]interface{}{
		"symbol": pos.Symbol, "positionID": pos.ID, "stage": trigger.Stage,
		"closedQuantity": trigger.QuantityToClose, "remaining": pos.Quantity, "pnl": pnl,
	})
	return nil
}

// openPosition places the entry order and both protective orders, then
// persists the position. A stop-loss placement failure triggers an emergency
// market close: a position without a stop never survives the cycle.
func (s *TradingService) openPosition(ctx context.Context, symbol string, side domain.PositionSide, indicators *domain.IndicatorSet, decision *domain.Decision, balance float64) error {
	op := "openPosition"
	price := indicators.Price

	contract, err := s.contracts.Resolve(ctx, symbol)
	if err != nil {
		return fmt.Errorf("resolving contract: %w", err)
	}

	stopPrice, initialRisk, err := s.engine.InitialStop(price, indicators.ATR, side)
	if err != nil {
		if errors.Is(err, ports.ErrInsufficientStopDistance) {
			s.logger.Info(ctx, op+": entry skipped, stop distance too small", map[string]interface{}{
				"symbol": symbol, "price": price, "atr": indicators.ATR,
			})
			return nil
		}
		return err
	}

	quantity := decision.Size
	if quantity <= 0 {
		quantity = s.engine.PositionSize(balance, price)
	}
	leverage := decision.Leverage
	if leverage <= 0 {
		leverage = s.cfg.Leverage
	}
	openCount, err := s.openPositionCount(ctx)
	if err != nil {
		return err
	}
	if err := s.engine.ValidateEntry(quantity, leverage, openCount); err != nil {
		s.logger.Warn(ctx, op+": entry rejected by risk limits", map[string]interface{}{
			"symbol": symbol, "quantity": quantity, "leverage": leverage, "error": err.Error(),
		})
		return nil
	}

	entryOrder, err := s.exchange.PlaceOrder(ctx, symbol, side.EntryOrderSide(), quantity, false)
	if err != nil {
		return fmt.Errorf("entry order failed: %w", err)
	}
	entryPrice := entryOrder.AvgPrice
	if entryPrice == 0 {
		s.logger.Warn(ctx, op+": entry order AvgPrice is 0, using indicator price as fallback", map[string]interface{}{
			"symbol": symbol, "orderID": entryOrder.OrderID, "fallbackPrice": price,
		})
		entryPrice = price
	}

	takeProfitPrice := s.engine.TakeProfitPrice(entryPrice, side)

	slOrder, err := s.exchange.PlaceConditionalOrder(ctx, ports.ConditionalOrderRequest{
		Symbol:       symbol,
		Kind:         domain.KindStopLoss,
		Side:         side.CloseOrderSide(),
		TriggerPrice: stopPrice,
	})
	if err != nil {
		s.logger.Error(ctx, err, op+": stop-loss placement failed, emergency closing", map[string]interface{}{"symbol": symbol})
		if closeErr := s.emergencyClose(ctx, symbol, side, quantity); closeErr != nil {
			s.logger.Error(ctx, closeErr, op+": EMERGENCY CLOSE FAILED, manual intervention required", map[string]interface{}{"symbol": symbol})
		}
		return fmt.Errorf("stop-loss order failed after entry: %w", err)
	}

	tpOrder, err := s.exchange.PlaceConditionalOrder(ctx, ports.ConditionalOrderRequest{
		Symbol:       symbol,
		Kind:         domain.KindTakeProfit,
		Side:         side.CloseOrderSide(),
		TriggerPrice: takeProfitPrice,
	})
	if err != nil {
		s.logger.Error(ctx, err, op+": take-profit placement failed, emergency closing", map[string]interface{}{"symbol": symbol})
		_ = s.cancelOrderWarn(ctx, symbol, slOrder.OrderID, "SL")
		if closeErr := s.emergencyClose(ctx, symbol, side, quantity); closeErr != nil {
			s.logger.Error(ctx, closeErr, op+": EMERGENCY CLOSE FAILED, manual intervention required", map[string]interface{}{"symbol": symbol})
		}
		return fmt.Errorf("take-profit order failed after entry: %w", err)
	}

	slRef := strconv.FormatInt(slOrder.OrderID, 10)
	tpRef := strconv.FormatInt(tpOrder.OrderID, 10)
	pos := &domain.Position{
		Symbol:             symbol,
		Side:               side,
		Quantity:           quantity,
		EntryPrice:         entryPrice,
		Leverage:           leverage,
		OpenedAt:           time.Now().UTC(),
		Status:             domain.StatusOpen,
		StopLossOrderRef:   &slRef,
		TakeProfitOrderRef: &tpRef,
		StopLossPrice:      stopPrice,
		TakeProfitPrice:    takeProfitPrice,
		InitialRisk:        initialRisk,
	}
	if _, err := s.store.Create(ctx, pos); err != nil {
		s.logger.Error(ctx, err, op+": failed to persist position, emergency closing", map[string]interface{}{"symbol": symbol})
		_ = s.cancelOrderWarn(ctx, symbol, slOrder.OrderID, "SL")
		_ = s.cancelOrderWarn(ctx, symbol, tpOrder.OrderID, "TP")
		if closeErr := s.emergencyClose(ctx, symbol, side, quantity); closeErr != nil {
			s.logger.Error(ctx, closeErr, op+": EMERGENCY CLOSE FAILED after DB failure", map[string]interface{}{"symbol": symbol})
		}
		return fmt.Errorf("failed to persist position after placing orders: %w", err)
	}

	for _, cached := range []*domain.ConditionalOrder{
		{ExchangeID: slRef, Symbol: symbol, Kind: domain.KindStopLoss, TriggerPrice: stopPrice, Status: domain.ConditionalActive, CreatedAt: time.Now().UTC()},
		{ExchangeID: tpRef, Symbol: symbol, Kind: domain.KindTakeProfit, TriggerPrice: takeProfitPrice, Status: domain.ConditionalActive, CreatedAt: time.Now().UTC()},
	} {
		if _, err := s.store.CreateConditionalOrder(ctx, cached); err != nil {
			s.logger.Warn(ctx, op+": failed to cache conditional order", map[string]interface{}{
				"symbol": symbol, "orderRef": cached.ExchangeID, "error": err.Error(),
			})
		}
	}

	if _, err := s.store.CreateTrade(ctx, &domain.Trade{
		Type:      domain.TradeTypeOpen,
		Symbol:    symbol,
		Side:      side,
		Price:     entryPrice,
		Quantity:  quantity,
		Fee:       s.feeEstimate(entryPrice, quantity, contract),
		Timestamp: time.Now().UTC(),
		OrderID:   strconv.FormatInt(entryOrder.OrderID, 10),
		Status:    entryOrder.Status,
	}); err != nil {
		s.logger.Warn(ctx, op+": failed to record opening trade", map[string]interface{}{"symbol": symbol, "error": err.Error()})
	}

	s.logger.Info(ctx, op+": position opened", map[string]interface{}{
		"symbol": symbol, "positionID": pos.ID, "side": side, "quantity": quantity,
		"entryPrice": entryPrice, "stopLoss": stopPrice, "takeProfit": takeProfitPrice,
		"initialRisk": initialRisk,
	})
	return nil
}

// closePosition closes the full remaining quantity at market and finalizes
// the records.
func (s *TradingService) closePosition(ctx context.Context, pos *domain.Position, reason domain.CloseReason) error {
	op := "closePosition"

	contract, err := s.contracts.Resolve(ctx, pos.Symbol)
	if err != nil {
		return fmt.Errorf("resolving contract: %w", err)
	}
	markPrice, err := s.exchange.GetMarkPrice(ctx, pos.Symbol)
	if err != nil {
		return fmt.Errorf("fetching mark price: %w", err)
	}

	closeOrder, err := s.exchange.PlaceOrder(ctx, pos.Symbol, pos.Side.CloseOrderSide(), pos.Quantity, true)
	if err != nil {
		return fmt.Errorf("closing market order failed for position %d: %w", pos.ID, err)
	}
	exitPrice := closeOrder.AvgPrice
	if exitPrice == 0 {
		s.logger.Warn(ctx, op+": close order AvgPrice is 0, using mark price as fallback", map[string]interface{}{
			"symbol": pos.Symbol, "orderID": closeOrder.OrderID, "fallbackPrice": markPrice,
		})
		exitPrice = markPrice
	}

	pnl := s.exchange.CalculatePnl(pos.EntryPrice, exitPrice, pos.Quantity, pos.Side, contract)
	if _, err := s.store.CreateTrade(ctx, &domain.Trade{
		Type:      domain.TradeTypeClose,
		Symbol:    pos.Symbol,
		Side:      pos.Side,
		Price:     exitPrice,
		Quantity:  pos.Quantity,
		PNL:       pnl,
		Fee:       s.feeEstimate(exitPrice, pos.Quantity, contract),
		Timestamp: time.Now().UTC(),
		OrderID:   strconv.FormatInt(closeOrder.OrderID, 10),
		Status:    closeOrder.Status,
	}); err != nil {
		s.logger.Warn(ctx, op+": failed to record closing trade", map[string]interface{}{"symbol": pos.Symbol, "error": err.Error()})
	}
	return s.finalizeClose(ctx, pos, exitPrice, pnl, reason)
}

// finalizeClose cancels protective orders and persists the closed state.
func (s *TradingService) finalizeClose(ctx context.Context, pos *domain.Position, exitPrice, pnl float64, reason domain.CloseReason) error {
	if pos.StopLossOrderRef != nil {
		if orderID, err := strconv.ParseInt(*pos.StopLossOrderRef, 10, 64); err == nil {
			_ = s.cancelOrderWarn(ctx, pos.Symbol, orderID, "SL")
		}
	}
	if pos.TakeProfitOrderRef != nil {
		if orderID, err := strconv.ParseInt(*pos.TakeProfitOrderRef, 10, 64); err == nil {
			_ = s.cancelOrderWarn(ctx, pos.Symbol, orderID, "TP")
		}
	}

	pos.Status = domain.StatusClosed
	pos.ClosedAt = time.Now().UTC()
	pos.ClosePrice = exitPrice
	pos.PNL = pnl
	pos.Reason = reason
	if err := s.store.Update(ctx, pos); err != nil {
		return fmt.Errorf("persisting closed position %d: %w", pos.ID, err)
	}

	pnlPercent := 0.0
	if pos.EntryPrice > 0 {
		pnlPercent = pos.Side.Sign() * (exitPrice - pos.EntryPrice) / pos.EntryPrice * 100
	}
	if _, err := s.store.CreateCloseEvent(ctx, &domain.CloseEvent{
		Symbol:     pos.Symbol,
		Reason:     reason,
		ClosePrice: exitPrice,
		PNL:        pnl,
		PNLPercent: pnlPercent,
		OccurredAt: time.Now().UTC(),
	}); err != nil {
		s.logger.Warn(ctx, "Failed to record close event", map[string]interface{}{"symbol": pos.Symbol, "error": err.Error()})
	}

	s.logger.Info(ctx, "Position closed", map[string]interface{}{
		"symbol": pos.Symbol, "positionID": pos.ID, "reason": reason,
		"exitPrice": exitPrice, "pnl": pnl, "pnlPercent": pnlPercent,
	})
	return nil
}

// forceCloseAll market-closes every open position. Used when the drawdown
// guard latches force-close.
func (s *TradingService) forceCloseAll(ctx context.Context) {
	open, err := s.store.FindOpen(ctx)
	if err != nil {
		s.logger.Error(ctx, err, "Force-close could not list open positions")
		return
	}
	for _, pos := range open {
		lock := s.symbolLock(pos.Symbol)
		lock.Lock()
		if err := s.closePosition(ctx, pos, domain.CloseReasonForced); err != nil {
			s.logger.Error(ctx, err, "Force-close failed for position", map[string]interface{}{
				"symbol": pos.Symbol, "positionID": pos.ID,
			})
		}
		lock.Unlock()
	}
}

// emergencyClose places a reduce-only market order against the just-opened
// exposure. Exchange-side safety only; no DB state is touched.
func (s *TradingService) emergencyClose(ctx context.Context, symbol string, side domain.PositionSide, quantity float64) error {
	_, err := s.exchange.PlaceOrder(ctx, symbol, side.CloseOrderSide(), quantity, true)
	if err != nil {
		return fmt.Errorf("emergency close order placement failed: %w", err)
	}
	s.logger.Info(ctx, "Emergency close order placed", map[string]interface{}{"symbol": symbol, "quantity": quantity})
	return nil
}

// cancelOrderWarn attempts to cancel an order and logs a warning on failure.
// Cancelled orders are retired in the local cache as well.
func (s *TradingService) cancelOrderWarn(ctx context.Context, symbol string, orderID int64, orderType string) error {
	_, err := s.exchange.CancelOrder(ctx, symbol, orderID)
	if err != nil {
		// Already-gone orders were filled or cancelled server-side.
		if errors.Is(err, ports.ErrOrderNotFound) {
			s.logger.Warn(ctx, "Order not found during cancel, likely already filled", map[string]interface{}{
				"symbol": symbol, "orderID": orderID, "type": orderType,
			})
			s.markConditionalOrder(ctx, symbol, orderID, domain.ConditionalTriggered)
			return nil
		}
		s.logger.Error(ctx, err, "Failed to cancel order", map[string]interface{}{
			"symbol": symbol, "orderID": orderID, "type": orderType,
		})
		return err
	}
	s.markConditionalOrder(ctx, symbol, orderID, domain.ConditionalCancelled)
	return nil
}

// markConditionalOrder records the terminal status of a cached conditional
// order identified by its exchange order ID. Bookkeeping only; a failure is
// logged and never propagated.
func (s *TradingService) markConditionalOrder(ctx context.Context, symbol string, orderID int64, status domain.ConditionalOrderStatus) {
	exchangeID := strconv.FormatInt(orderID, 10)
	orders, err := s.store.FindActiveBySymbol(ctx, symbol)
	if err != nil {
		s.logger.Warn(ctx, "Failed to load cached conditional orders", map[string]interface{}{
			"symbol": symbol, "error": err.Error(),
		})
		return
	}
	for _, order := range orders {
		if order.ExchangeID != exchangeID {
			continue
		}
		if err := s.store.UpdateConditionalOrderStatus(ctx, order.ID, status); err != nil {
			s.logger.Warn(ctx, "Failed to update cached conditional order status", map[string]interface{}{
				"symbol": symbol, "orderID": orderID, "status": status, "error": err.Error(),
			})
		}
		return
	}
}

func (s *TradingService) openPositionCount(ctx context.Context) (int, error) {
	open, err := s.store.FindOpen(ctx)
	if err != nil {
		return 0, fmt.Errorf("counting open positions: %w", err)
	}
	return len(open), nil
}

func (s *TradingService) symbolLock(symbol string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.symbolLocks[symbol]
	if !ok {
		lock = &sync.Mutex{}
		s.symbolLocks[symbol] = lock
	}
	return lock
}

// feeEstimate mirrors the auditor's fee model so recorded trades start close
// to their audited values.
func (s *TradingService) feeEstimate(price, quantity float64, contract *domain.Contract) float64 {
	if contract.Type == domain.ContractTypeInverse {
		return s.cfg.FeeRate * quantity * contract.SizeMultiplier
	}
	return s.cfg.FeeRate * price * quantity * contract.SizeMultiplier
}
