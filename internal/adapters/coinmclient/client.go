package coinmclient

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/delivery"
	"github.com/google/uuid"
	"github.com/jpillora/backoff"

	"perpbot/internal/domain"
	"perpbot/internal/ports"
)

const (
	baseURLProduction = "https://dapi.binance.com"
	baseURLTestnet    = "https://testnet.binancefuture.com"

	contractSuffix = "USD_PERP"
	maxAttempts    = 3
)

// Client implements ports.ExchangeClient for the inverse (coin-margined)
// exchange using the go-binance delivery API. Contract value and margin are
// denominated in the base asset; PnL conversion to quote currency goes
// through the price ratio, never the linear formula.
type Client struct {
	deliveryClient *delivery.Client
	logger         ports.Logger
	marginAsset    string
	retryMin       time.Duration
	retryMax       time.Duration
}

// Config holds configuration specific to the inverse client adapter.
type Config struct {
	APIKey      string
	SecretKey   string
	UseTestnet  bool
	MarginAsset string // Coin whose wallet funds the positions (e.g., "BTC")
	Logger      ports.Logger
	RetryMin    time.Duration
	RetryMax    time.Duration
}

// New creates a new inverse exchange client adapter.
func New(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for inverse exchange client")
	}
	if cfg.MarginAsset == "" {
		return nil, fmt.Errorf("margin asset is required for inverse exchange client")
	}
	if cfg.APIKey == "" || cfg.SecretKey == "" {
		cfg.Logger.Warn(context.Background(), "APIKey or SecretKey is empty. Client will only work for public endpoints.")
	}

	client := delivery.NewClient(cfg.APIKey, cfg.SecretKey)
	if cfg.UseTestnet {
		client.BaseURL = baseURLTestnet
	} else {
		client.BaseURL = baseURLProduction
	}
	cfg.Logger.Info(context.Background(), "Inverse exchange client configured", map[string]interface{}{
		"baseURL": client.BaseURL, "marginAsset": cfg.MarginAsset,
	})

	retryMin := cfg.RetryMin
	if retryMin <= 0 {
		retryMin = 200 * time.Millisecond
	}
	retryMax := cfg.RetryMax
	if retryMax <= 0 {
		retryMax = 2 * time.Second
	}

	return &Client{
		deliveryClient: client,
		logger:         cfg.Logger,
		marginAsset:    strings.ToUpper(cfg.MarginAsset),
		retryMin:       retryMin,
		retryMax:       retryMax,
	}, nil
}

// ContractType reports the inverse settlement model.
func (c *Client) ContractType() domain.ContractType {
	return domain.ContractTypeInverse
}

// NormalizeContract maps a base asset symbol to the coin-margined perpetual id.
func (c *Client) NormalizeContract(symbol string) string {
	return strings.ToUpper(symbol) + contractSuffix
}

// ExtractSymbol maps a contract id back to the base asset symbol.
func (c *Client) ExtractSymbol(contractID string) string {
	return strings.TrimSuffix(strings.ToUpper(contractID), contractSuffix)
}

// CalculatePnl computes gross quote-currency PnL with inverse arithmetic.
// Each contract unit is worth SizeMultiplier quote units; the position's
// base-asset PnL is qty * multiplier * (1/entry - 1/exit), converted to
// quote currency at the exit price. Entry equal to exit yields exactly zero.
// Applying the linear formula here silently corrupts PnL.
func (c *Client) CalculatePnl(entryPrice, exitPrice, quantity float64, side domain.PositionSide, contract *domain.Contract) float64 {
	if entryPrice <= 0 || exitPrice <= 0 {
		return 0
	}
	basePnl := side.Sign() * quantity * contract.SizeMultiplier * (1/entryPrice - 1/exitPrice)
	return basePnl * exitPrice
}

// GetContractInfo fetches contract metadata for a base asset symbol.
func (c *Client) GetContractInfo(ctx context.Context, symbol string) (*domain.Contract, error) {
	op := "GetContractInfo"
	contractID := c.NormalizeContract(symbol)

	var info *delivery.ExchangeInfo
	err := c.withRetry(ctx, op, func() error {
		var err error
		info, err = c.deliveryClient.NewExchangeInfoService().Do(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}

	for i := range info.Symbols {
		s := &info.Symbols[i]
		if s.Symbol != contractID {
			continue
		}
		multiplier := float64(s.ContractSize)
		if multiplier <= 0 {
			err := fmt.Errorf("contract %s reports size %v: %w", contractID, s.ContractSize, ports.ErrInvalidContract)
			c.logger.Warn(ctx, op+": malformed contract size", map[string]interface{}{"symbol": symbol, "contractSize": s.ContractSize})
			return nil, err
		}
		return &domain.Contract{
			Symbol:             symbol,
			ExchangeContractID: contractID,
			Type:               domain.ContractTypeInverse,
			// Coin-margined contracts are sized in quote units per contract.
			SizeMultiplier: multiplier,
			LeverageMin:    1,
			LeverageMax:    125,
			SizePrecision:  s.QuantityPrecision,
		}, nil
	}

	err = fmt.Errorf("contract %s not listed: %w", contractID, ports.ErrInvalidContract)
	c.logger.Warn(ctx, op+": contract not found in exchange info", map[string]interface{}{"symbol": symbol, "contractID": contractID})
	return nil, err
}

// GetPositions returns all live positions with non-zero size.
func (c *Client) GetPositions(ctx context.Context) ([]*ports.ExchangePosition, error) {
	op := "GetPositions"

	var risks []*delivery.PositionRisk
	err := c.withRetry(ctx, op, func() error {
		var err error
		risks, err = c.deliveryClient.NewGetPositionRiskService().Do(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}

	positions := make([]*ports.ExchangePosition, 0, len(risks))
	for _, risk := range risks {
		// Only perpetuals are traded; quarterly contracts are skipped.
		if !strings.HasSuffix(risk.Symbol, contractSuffix) {
			continue
		}
		pos, err := c.translatePosition(risk)
		if err != nil {
			return nil, c.invalidResponse(ctx, err, op)
		}
		if pos != nil {
			positions = append(positions, pos)
		}
	}
	return positions, nil
}

func (c *Client) translatePosition(risk *delivery.PositionRisk) (*ports.ExchangePosition, error) {
	amt, err := strconv.ParseFloat(risk.PositionAmt, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing position amount '%s': %w", risk.PositionAmt, err)
	}
	if amt == 0 {
		return nil, nil
	}
	entry, err := strconv.ParseFloat(risk.EntryPrice, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing entry price '%s': %w", risk.EntryPrice, err)
	}
	mark, err := strconv.ParseFloat(risk.MarkPrice, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing mark price '%s': %w", risk.MarkPrice, err)
	}
	unrealized, err := strconv.ParseFloat(risk.UnRealizedProfit, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing unrealized profit '%s': %w", risk.UnRealizedProfit, err)
	}
	leverage, _ := strconv.Atoi(risk.Leverage)

	side := domain.Long
	if amt < 0 {
		side = domain.Short
		amt = -amt
	}
	return &ports.ExchangePosition{
		Symbol:        c.ExtractSymbol(risk.Symbol),
		ContractID:    risk.Symbol,
		Side:          side,
		Quantity:      amt,
		EntryPrice:    entry,
		MarkPrice:     mark,
		UnrealizedPnl: unrealized,
		Leverage:      leverage,
	}, nil
}

// PlaceOrder places a market order. Placement is never retried: a network
// error leaves the exchange-side state ambiguous.
func (c *Client) PlaceOrder(ctx context.Context, symbol string, side domain.OrderSide, quantity float64, reduceOnly bool) (*ports.OrderResponse, error) {
	op := "PlaceOrder"
	contractID := c.NormalizeContract(symbol)

	svc := c.deliveryClient.NewCreateOrderService().
		Symbol(contractID).
		Side(delivery.SideType(side)).
		Type(delivery.OrderTypeMarket).
		Quantity(formatQuantity(quantity)).
		NewClientOrderID(clientOrderID())
	if reduceOnly {
		svc = svc.ReduceOnly(true)
	}

	order, err := svc.Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}

	resp := translateOrderResponse(order)
	c.logger.Info(ctx, op+" successful", map[string]interface{}{
		"symbol": symbol, "side": side, "quantity": quantity, "orderID": resp.OrderID, "avgPrice": resp.AvgPrice,
	})
	return resp, nil
}

// PlaceConditionalOrder places a server-side protective order.
func (c *Client) PlaceConditionalOrder(ctx context.Context, req ports.ConditionalOrderRequest) (*ports.OrderResponse, error) {
	op := "PlaceConditionalOrder"
	contractID := c.NormalizeContract(req.Symbol)

	orderType := delivery.OrderTypeStopMarket
	if req.Kind == domain.KindTakeProfit {
		orderType = delivery.OrderTypeTakeProfitMarket
	}

	svc := c.deliveryClient.NewCreateOrderService().
		Symbol(contractID).
		Side(delivery.SideType(req.Side)).
		Type(orderType).
		StopPrice(formatPrice(req.TriggerPrice)).
		NewClientOrderID(clientOrderID())
	if req.Quantity > 0 {
		svc = svc.Quantity(formatQuantity(req.Quantity)).ReduceOnly(true)
	} else {
		svc = svc.ClosePosition(true)
	}

	order, err := svc.Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}

	resp := translateOrderResponse(order)
	c.logger.Info(ctx, op+" successful", map[string]interface{}{
		"symbol": req.Symbol, "kind": req.Kind, "side": req.Side,
		"quantity": req.Quantity, "triggerPrice": req.TriggerPrice, "orderID": resp.OrderID,
	})
	return resp, nil
}

// CancelOrder cancels an existing open order by its exchange ID.
func (c *Client) CancelOrder(ctx context.Context, symbol string, orderID int64) (*ports.OrderResponse, error) {
	op := "CancelOrder"
	contractID := c.NormalizeContract(symbol)

	res, err := c.deliveryClient.NewCancelOrderService().
		Symbol(contractID).
		OrderID(orderID).
		Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}

	resp := translateOrderResponse(&delivery.CreateOrderResponse{
		OrderID:       res.OrderID,
		Symbol:        res.Symbol,
		ClientOrderID: res.ClientOrderID,
		Price:         res.Price,
		OrigQuantity:  res.OrigQuantity,
		Status:        res.Status,
		Type:          res.Type,
		Side:          res.Side,
	})
	c.logger.Info(ctx, op+" successful", map[string]interface{}{"symbol": symbol, "orderID": orderID, "status": resp.Status})
	return resp, nil
}

// GetPositionHistory returns recent fills for a symbol.
func (c *Client) GetPositionHistory(ctx context.Context, symbol string, limit int) ([]*ports.HistoricalFill, error) {
	op := "GetPositionHistory"
	contractID := c.NormalizeContract(symbol)

	var trades []*delivery.AccountTrade
	err := c.withRetry(ctx, op, func() error {
		var err error
		trades, err = c.deliveryClient.NewListAccountTradeService().Symbol(contractID).Limit(limit).Do(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}

	fills := make([]*ports.HistoricalFill, 0, len(trades))
	for _, t := range trades {
		price, err := strconv.ParseFloat(t.Price, 64)
		if err != nil {
			return nil, c.invalidResponse(ctx, fmt.Errorf("parsing fill price '%s': %w", t.Price, err), op)
		}
		qty, err := strconv.ParseFloat(t.Qty, 64)
		if err != nil {
			return nil, c.invalidResponse(ctx, fmt.Errorf("parsing fill quantity '%s': %w", t.Qty, err), op)
		}
		pnl, _ := strconv.ParseFloat(t.RealizedPnl, 64)
		fee, _ := strconv.ParseFloat(t.Commission, 64)
		fills = append(fills, &ports.HistoricalFill{
			Symbol:      symbol,
			OrderID:     t.OrderID,
			Side:        domain.OrderSide(t.Side),
			Price:       price,
			Quantity:    qty,
			RealizedPnl: pnl,
			Fee:         fee,
			Time:        time.UnixMilli(t.Time),
		})
	}
	return fills, nil
}

// GetSettlementHistory returns recent funding records for a symbol.
func (c *Client) GetSettlementHistory(ctx context.Context, symbol string, limit int) ([]*ports.SettlementRecord, error) {
	op := "GetSettlementHistory"
	contractID := c.NormalizeContract(symbol)

	var entries []*delivery.IncomeHistory
	err := c.withRetry(ctx, op, func() error {
		var err error
		entries, err = c.deliveryClient.NewGetIncomeHistoryService().
			Symbol(contractID).
			IncomeType("FUNDING_FEE").
			Limit(int64(limit)).
			Do(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}

	records := make([]*ports.SettlementRecord, 0, len(entries))
	for _, e := range entries {
		amount, err := strconv.ParseFloat(e.Income, 64)
		if err != nil {
			return nil, c.invalidResponse(ctx, fmt.Errorf("parsing income amount '%s': %w", e.Income, err), op)
		}
		records = append(records, &ports.SettlementRecord{
			Symbol: symbol,
			Type:   e.IncomeType,
			Amount: amount,
			Asset:  e.Asset,
			Time:   time.UnixMilli(e.Time),
		})
	}
	return records, nil
}

// GetAccountBalance retrieves the margin-asset wallet balance and unrealized
// PnL. Both are denominated in the margin coin; drawdown arithmetic is a
// ratio, so the unit cancels.
func (c *Client) GetAccountBalance(ctx context.Context) (float64, float64, error) {
	op := "GetAccountBalance"

	var balances []*delivery.Balance
	err := c.withRetry(ctx, op, func() error {
		var err error
		balances, err = c.deliveryClient.NewGetBalanceService().Do(ctx)
		return err
	})
	if err != nil {
		return 0, 0, err
	}

	for _, bal := range balances {
		if bal.Asset != c.marginAsset {
			continue
		}
		balance, err := strconv.ParseFloat(bal.Balance, 64)
		if err != nil {
			return 0, 0, c.invalidResponse(ctx, fmt.Errorf("parsing balance '%s': %w", bal.Balance, err), op)
		}
		unrealized, err := strconv.ParseFloat(bal.CrossUnPnl, 64)
		if err != nil {
			return 0, 0, c.invalidResponse(ctx, fmt.Errorf("parsing unrealized pnl '%s': %w", bal.CrossUnPnl, err), op)
		}
		return balance, unrealized, nil
	}
	return 0, 0, c.invalidResponse(ctx, fmt.Errorf("asset %s not found in account balances", c.marginAsset), op)
}

// GetMarkPrice retrieves the current mark price for a base asset symbol.
func (c *Client) GetMarkPrice(ctx context.Context, symbol string) (float64, error) {
	op := "GetMarkPrice"
	contractID := c.NormalizeContract(symbol)

	var tickers []*delivery.PremiumIndex
	err := c.withRetry(ctx, op, func() error {
		var err error
		tickers, err = c.deliveryClient.NewPremiumIndexService().Symbol(contractID).Do(ctx)
		return err
	})
	if err != nil {
		return 0, err
	}
	if len(tickers) == 0 {
		return 0, c.invalidResponse(ctx, fmt.Errorf("no mark price data returned for %s", contractID), op)
	}
	price, err := strconv.ParseFloat(tickers[0].MarkPrice, 64)
	if err != nil {
		return 0, c.invalidResponse(ctx, fmt.Errorf("parsing mark price '%s': %w", tickers[0].MarkPrice, err), op)
	}
	return price, nil
}

// GetKlines retrieves historical candlesticks for indicator computation.
func (c *Client) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]*domain.Kline, error) {
	op := "GetKlines"
	contractID := c.NormalizeContract(symbol)

	var raw []*delivery.Kline
	err := c.withRetry(ctx, op, func() error {
		var err error
		raw, err = c.deliveryClient.NewKlinesService().Symbol(contractID).Interval(interval).Limit(limit).Do(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}

	klines := make([]*domain.Kline, 0, len(raw))
	for _, k := range raw {
		dk, err := translateKline(k, symbol, interval)
		if err != nil {
			return nil, c.invalidResponse(ctx, err, op)
		}
		klines = append(klines, dk)
	}
	return klines, nil
}

// SetLeverage sets the leverage for a base asset symbol.
func (c *Client) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	op := "SetLeverage"
	contractID := c.NormalizeContract(symbol)
	_, err := c.deliveryClient.NewChangeLeverageService().Symbol(contractID).Leverage(leverage).Do(ctx)
	if err != nil {
		return c.handleError(ctx, err, op)
	}
	c.logger.Info(ctx, op+" successful", map[string]interface{}{"symbol": symbol, "leverage": leverage})
	return nil
}

// Ping checks connectivity to the exchange API.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.deliveryClient.NewPingService().Do(ctx); err != nil {
		return c.handleError(ctx, err, "Ping")
	}
	return nil
}

// --- Retry and error classification ---

func (c *Client) withRetry(ctx context.Context, op string, fn func() error) error {
	b := &backoff.Backoff{Min: c.retryMin, Max: c.retryMax, Factor: 2, Jitter: true}
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !isTransient(lastErr) {
			return c.handleError(ctx, lastErr, op)
		}
		if attempt == maxAttempts {
			break
		}
		delay := b.Duration()
		c.logger.Warn(ctx, op+": transient error, retrying", map[string]interface{}{
			"attempt": attempt, "delay": delay.String(), "error": lastErr.Error(),
		})
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return c.handleError(ctx, ctx.Err(), op)
		}
	}
	return c.handleError(ctx, lastErr, op)
}

func isTransient(err error) bool {
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == -1003 || apiErr.Code == -1001
	}
	msg := err.Error()
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "connection reset by peer") ||
		strings.Contains(msg, "use of closed network connection") ||
		strings.Contains(msg, "EOF") ||
		strings.Contains(msg, "no such host") ||
		errors.Is(err, context.DeadlineExceeded)
}

func (c *Client) handleError(ctx context.Context, err error, operation string) error {
	if err == nil {
		return nil
	}

	fields := map[string]interface{}{"operation": operation, "originalError": err.Error()}

	var mappedErr error
	var apiErr *common.APIError
	switch {
	case errors.As(err, &apiErr):
		fields["apiErrorCode"] = apiErr.Code
		switch apiErr.Code {
		case -1003:
			mappedErr = ports.ErrRateLimited
		case -1022:
			mappedErr = ports.ErrAuthenticationFailed
		case -2010:
			mappedErr = ports.ErrOrderPlacementFailed
		case -2011:
			mappedErr = ports.ErrOrderCancelFailed
		case -2013:
			mappedErr = ports.ErrOrderNotFound
		case -2014, -2015:
			mappedErr = ports.ErrAuthenticationFailed
		case -2019, -3005, -3041, -4047:
			mappedErr = ports.ErrInsufficientFunds
		case -4003, -4014, -4015:
			mappedErr = ports.ErrInvalidRequest
		case -4044:
			mappedErr = ports.ErrPositionNotFound
		default:
			mappedErr = ports.ErrUnknown
		}
	case errors.Is(err, context.Canceled):
		mappedErr = ports.ErrContextCanceled
	case isTransient(err):
		mappedErr = ports.ErrTransientNetwork
	default:
		mappedErr = ports.ErrUnknown
	}

	finalErr := fmt.Errorf("%s failed: %w: %w", operation, mappedErr, err)
	c.logger.Error(ctx, err, operation+" failed", fields)
	return finalErr
}

func (c *Client) invalidResponse(ctx context.Context, err error, operation string) error {
	finalErr := fmt.Errorf("%s failed: %w: %w", operation, ports.ErrInvalidResponse, err)
	c.logger.Error(ctx, err, operation+" returned malformed response")
	return finalErr
}

// --- Translation helpers ---

func clientOrderID() string {
	return "perpbot-" + uuid.NewString()[:18]
}

func formatQuantity(quantity float64) string {
	return strconv.FormatFloat(quantity, 'f', -1, 64)
}

func formatPrice(price float64) string {
	return strconv.FormatFloat(price, 'f', -1, 64)
}

func translateOrderResponse(order *delivery.CreateOrderResponse) *ports.OrderResponse {
	if order == nil {
		return nil
	}
	price, _ := strconv.ParseFloat(order.Price, 64)
	avgPrice, _ := strconv.ParseFloat(order.AvgPrice, 64)
	origQty, _ := strconv.ParseFloat(order.OrigQuantity, 64)
	execQty, _ := strconv.ParseFloat(order.ExecutedQuantity, 64)

	return &ports.OrderResponse{
		OrderID:       order.OrderID,
		Symbol:        order.Symbol,
		ClientOrderID: order.ClientOrderID,
		Price:         price,
		AvgPrice:      avgPrice,
		OrigQuantity:  origQty,
		ExecutedQty:   execQty,
		Status:        string(order.Status),
		Type:          string(order.Type),
		Side:          string(order.Side),
		Timestamp:     time.UnixMilli(order.UpdateTime),
	}
}

func translateKline(k *delivery.Kline, symbol, interval string) (*domain.Kline, error) {
	open, err := strconv.ParseFloat(k.Open, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing open price '%s': %w", k.Open, err)
	}
	high, err := strconv.ParseFloat(k.High, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing high price '%s': %w", k.High, err)
	}
	low, err := strconv.ParseFloat(k.Low, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing low price '%s': %w", k.Low, err)
	}
	cls, err := strconv.ParseFloat(k.Close, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing close price '%s': %w", k.Close, err)
	}
	volume, err := strconv.ParseFloat(k.Volume, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing volume '%s': %w", k.Volume, err)
	}
	return &domain.Kline{
		OpenTime:  time.UnixMilli(k.OpenTime),
		CloseTime: time.UnixMilli(k.CloseTime),
		Symbol:    symbol,
		Interval:  interval,
		Open:      open,
		High:      high,
		Low:       low,
		Close:     cls,
		Volume:    volume,
	}, nil
}
