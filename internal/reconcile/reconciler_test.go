package reconcile

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"perpbot/internal/domain"
	"perpbot/internal/ports"
)

type nopLogger struct{}

func (nopLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (nopLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (nopLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (nopLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

// memPositions is an in-memory ports.PositionRepository.
type memPositions struct {
	nextID    int64
	positions map[int64]*domain.Position
}

func newMemPositions() *memPositions {
	return &memPositions{nextID: 1, positions: make(map[int64]*domain.Position)}
}

func (m *memPositions) Create(ctx context.Context, pos *domain.Position) (int64, error) {
	pos.ID = m.nextID
	m.nextID++
	cp := *pos
	m.positions[pos.ID] = &cp
	return pos.ID, nil
}

func (m *memPositions) Update(ctx context.Context, pos *domain.Position) error {
	if _, ok := m.positions[pos.ID]; !ok {
		return ports.ErrNotFound
	}
	cp := *pos
	m.positions[pos.ID] = &cp
	return nil
}

func (m *memPositions) FindOpenBySymbol(ctx context.Context, symbol string) (*domain.Position, error) {
	for _, pos := range m.positions {
		if pos.Symbol == symbol && pos.IsOpen() {
			cp := *pos
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memPositions) FindOpen(ctx context.Context) ([]*domain.Position, error) {
	open := make([]*domain.Position, 0)
	for _, pos := range m.positions {
		if pos.IsOpen() {
			cp := *pos
			open = append(open, &cp)
		}
	}
	return open, nil
}

func (m *memPositions) FindByID(ctx context.Context, id int64) (*domain.Position, error) {
	pos, ok := m.positions[id]
	if !ok {
		return nil, nil
	}
	cp := *pos
	return &cp, nil
}

// memTrades implements the subset of ports.TradeRepository the reconciler uses.
type memTrades struct {
	trades []*domain.Trade
}

func (m *memTrades) CreateTrade(ctx context.Context, trade *domain.Trade) (int64, error) {
	trade.ID = int64(len(m.trades) + 1)
	m.trades = append(m.trades, trade)
	return trade.ID, nil
}

func (m *memTrades) FindBySymbol(ctx context.Context, symbol string, limit int) ([]*domain.Trade, error) {
	matched := make([]*domain.Trade, 0)
	for i := len(m.trades) - 1; i >= 0 && len(matched) < limit; i-- {
		if m.trades[i].Symbol == symbol {
			matched = append(matched, m.trades[i])
		}
	}
	return matched, nil
}

func (m *memTrades) FindClosedTrades(ctx context.Context) ([]*domain.Trade, error) { return nil, nil }

func (m *memTrades) FindClosedBySymbolSince(ctx context.Context, symbol string, since time.Time) ([]*domain.Trade, error) {
	matched := make([]*domain.Trade, 0)
	for _, trade := range m.trades {
		if trade.Symbol == symbol && trade.Type == domain.TradeTypeClose && !trade.Timestamp.Before(since) {
			matched = append(matched, trade)
		}
	}
	return matched, nil
}

func (m *memTrades) FindOpenTradeBefore(ctx context.Context, symbol string, before time.Time) (*domain.Trade, error) {
	return nil, nil
}

func (m *memTrades) CorrectTrade(ctx context.Context, id int64, pnl, fee float64) error { return nil }

func (m *memTrades) CountTodayBySymbol(ctx context.Context, symbol string) (int, error) {
	return 0, nil
}

// memConditionals is an in-memory ports.ConditionalOrderRepository.
type memConditionals struct {
	orders []*domain.ConditionalOrder
}

func (m *memConditionals) CreateConditionalOrder(ctx context.Context, order *domain.ConditionalOrder) (int64, error) {
	order.ID = int64(len(m.orders) + 1)
	m.orders = append(m.orders, order)
	return order.ID, nil
}

func (m *memConditionals) UpdateConditionalOrderStatus(ctx context.Context, id int64, status domain.ConditionalOrderStatus) error {
	for _, order := range m.orders {
		if order.ID == id {
			order.Status = status
			return nil
		}
	}
	return ports.ErrNotFound
}

func (m *memConditionals) FindActiveBySymbol(ctx context.Context, symbol string) ([]*domain.ConditionalOrder, error) {
	active := make([]*domain.ConditionalOrder, 0)
	for _, order := range m.orders {
		if order.Symbol == symbol && order.Status == domain.ConditionalActive {
			active = append(active, order)
		}
	}
	return active, nil
}

// stubExchange returns a fixed set of exchange positions.
type stubExchange struct {
	ports.ExchangeClient

	positions []*ports.ExchangePosition
}

func (s *stubExchange) GetPositions(ctx context.Context) ([]*ports.ExchangePosition, error) {
	return s.positions, nil
}

func newReconciler(t *testing.T, exchange *stubExchange, positions *memPositions, trades *memTrades) *Reconciler {
	t.Helper()
	r, err := NewReconciler(exchange, positions, trades, &memConditionals{}, nopLogger{})
	require.NoError(t, err)
	return r
}

func TestReconcile_AdoptsExchangeOnlyPosition(t *testing.T) {
	exchange := &stubExchange{positions: []*ports.ExchangePosition{{
		Symbol:     "BTC",
		ContractID: "BTCUSD_PERP",
		Side:       domain.Short,
		Quantity:   5,
		EntryPrice: 30000,
		Leverage:   3,
	}}}
	positions := newMemPositions()
	r := newReconciler(t, exchange, positions, &memTrades{})

	report, err := r.Reconcile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Inserted)

	adopted, err := positions.FindOpenBySymbol(context.Background(), "BTC")
	require.NoError(t, err)
	require.NotNil(t, adopted)
	assert.Equal(t, domain.Short, adopted.Side)
	assert.Equal(t, 5.0, adopted.Quantity)
	assert.Equal(t, 30000.0, adopted.EntryPrice)
	assert.Equal(t, domain.StatusOpen, adopted.Status)
}

func TestReconcile_ClosesLocalOnlyPositionWithTradeHistory(t *testing.T) {
	exchange := &stubExchange{}
	positions := newMemPositions()
	trades := &memTrades{}

	_, err := positions.Create(context.Background(), &domain.Position{
		Symbol: "ETH", Side: domain.Long, Quantity: 2, EntryPrice: 2000,
		OpenedAt: time.Now().Add(-time.Hour), Status: domain.StatusOpen,
	})
	require.NoError(t, err)
	_, err = trades.CreateTrade(context.Background(), &domain.Trade{
		Type: domain.TradeTypeClose, Symbol: "ETH", Side: domain.Long,
		Price: 2100, Quantity: 2, PNL: 200, Timestamp: time.Now(),
	})
	require.NoError(t, err)

	r := newReconciler(t, exchange, positions, trades)
	report, err := r.Reconcile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Closed)

	closed, err := positions.FindByID(context.Background(), 1)
	require.NoError(t, err)
	require.NotNil(t, closed)
	assert.Equal(t, domain.StatusClosed, closed.Status)
	assert.Equal(t, 2100.0, closed.ClosePrice)
	assert.Equal(t, 200.0, closed.PNL)
}

func TestReconcile_CorrectsQuantityMismatch(t *testing.T) {
	exchange := &stubExchange{positions: []*ports.ExchangePosition{{
		Symbol: "BTC", Side: domain.Long, Quantity: 8, EntryPrice: 30000, Leverage: 2,
	}}}
	positions := newMemPositions()
	_, err := positions.Create(context.Background(), &domain.Position{
		Symbol: "BTC", Side: domain.Long, Quantity: 10, EntryPrice: 30000,
		OpenedAt: time.Now(), Status: domain.StatusOpen,
	})
	require.NoError(t, err)

	r := newReconciler(t, exchange, positions, &memTrades{})
	report, err := r.Reconcile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Corrected)

	corrected, err := positions.FindOpenBySymbol(context.Background(), "BTC")
	require.NoError(t, err)
	require.NotNil(t, corrected)
	assert.Equal(t, 8.0, corrected.Quantity)
}

func TestReconcile_SecondPassIsClean(t *testing.T) {
	exchange := &stubExchange{positions: []*ports.ExchangePosition{
		{Symbol: "BTC", Side: domain.Short, Quantity: 5, EntryPrice: 30000, Leverage: 3},
		{Symbol: "ETH", Side: domain.Long, Quantity: 2, EntryPrice: 2000, Leverage: 5},
	}}
	positions := newMemPositions()
	_, err := positions.Create(context.Background(), &domain.Position{
		Symbol: "ETH", Side: domain.Long, Quantity: 3, EntryPrice: 2000,
		OpenedAt: time.Now(), Status: domain.StatusOpen,
	})
	require.NoError(t, err)
	_, err = positions.Create(context.Background(), &domain.Position{
		Symbol: "SOL", Side: domain.Long, Quantity: 1, EntryPrice: 100,
		OpenedAt: time.Now(), Status: domain.StatusOpen,
	})
	require.NoError(t, err)

	r := newReconciler(t, exchange, positions, &memTrades{})

	first, err := r.Reconcile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, first.Inserted)  // BTC adopted
	assert.Equal(t, 1, first.Closed)    // SOL closed
	assert.Equal(t, 1, first.Corrected) // ETH quantity 3 -> 2
	assert.False(t, first.Clean())

	second, err := r.Reconcile(context.Background())
	require.NoError(t, err)
	assert.True(t, second.Clean(), "second pass with unchanged exchange state must be a no-op")
}

func TestReconcile_OrphanCloseSumsPartialClosePnl(t *testing.T) {
	exchange := &stubExchange{}
	positions := newMemPositions()
	trades := &memTrades{}
	opened := time.Now().Add(-2 * time.Hour)

	_, err := positions.Create(context.Background(), &domain.Position{
		Symbol: "ETH", Side: domain.Long, Quantity: 4, EntryPrice: 2000,
		OpenedAt: opened, Status: domain.StatusOpen,
	})
	require.NoError(t, err)

	// A stale closing trade from an earlier position must not count.
	_, err = trades.CreateTrade(context.Background(), &domain.Trade{
		Type: domain.TradeTypeClose, Symbol: "ETH", Side: domain.Short,
		Price: 1900, Quantity: 1, PNL: -50, Timestamp: opened.Add(-time.Hour),
	})
	require.NoError(t, err)
	_, err = trades.CreateTrade(context.Background(), &domain.Trade{
		Type: domain.TradeTypeClose, Symbol: "ETH", Side: domain.Long,
		Price: 2050, Quantity: 1, PNL: 50, Timestamp: opened.Add(30 * time.Minute),
	})
	require.NoError(t, err)
	_, err = trades.CreateTrade(context.Background(), &domain.Trade{
		Type: domain.TradeTypeClose, Symbol: "ETH", Side: domain.Long,
		Price: 2100, Quantity: 3, PNL: 300, Timestamp: opened.Add(time.Hour),
	})
	require.NoError(t, err)

	r := newReconciler(t, exchange, positions, trades)
	report, err := r.Reconcile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Closed)

	closed, err := positions.FindByID(context.Background(), 1)
	require.NoError(t, err)
	require.NotNil(t, closed)
	assert.Equal(t, 350.0, closed.PNL, "PnL must sum every closing trade since the position opened")
	assert.Equal(t, 2100.0, closed.ClosePrice, "close price comes from the final closing trade")
}

func TestReconcile_OrphanCloseAttributesReason(t *testing.T) {
	cases := []struct {
		name       string
		side       domain.PositionSide
		exitPrice  float64
		wantReason domain.CloseReason
	}{
		{"long stopped out", domain.Long, 1890, domain.CloseReasonStopLoss},
		{"long took profit", domain.Long, 2085, domain.CloseReasonTakeProfit},
		{"long between levels", domain.Long, 2010, domain.CloseReasonUnknown},
		{"short stopped out", domain.Short, 2110, domain.CloseReasonStopLoss},
		{"short took profit", domain.Short, 1915, domain.CloseReasonTakeProfit},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			positions := newMemPositions()
			trades := &memTrades{}
			opened := time.Now().Add(-time.Hour)

			stopLoss, takeProfit := 1900.0, 2080.0
			if tc.side == domain.Short {
				stopLoss, takeProfit = 2100.0, 1920.0
			}
			_, err := positions.Create(context.Background(), &domain.Position{
				Symbol: "ETH", Side: tc.side, Quantity: 2, EntryPrice: 2000,
				StopLossPrice: stopLoss, TakeProfitPrice: takeProfit,
				OpenedAt: opened, Status: domain.StatusOpen,
			})
			require.NoError(t, err)
			_, err = trades.CreateTrade(context.Background(), &domain.Trade{
				Type: domain.TradeTypeClose, Symbol: "ETH", Side: tc.side,
				Price: tc.exitPrice, Quantity: 2, Timestamp: time.Now(),
			})
			require.NoError(t, err)

			r := newReconciler(t, &stubExchange{}, positions, trades)
			_, err = r.Reconcile(context.Background())
			require.NoError(t, err)

			closed, err := positions.FindByID(context.Background(), 1)
			require.NoError(t, err)
			require.NotNil(t, closed)
			assert.Equal(t, tc.wantReason, closed.Reason)
		})
	}
}

func TestReconcile_OrphanCloseRetiresConditionalOrders(t *testing.T) {
	positions := newMemPositions()
	trades := &memTrades{}
	conditionals := &memConditionals{}
	opened := time.Now().Add(-time.Hour)

	_, err := positions.Create(context.Background(), &domain.Position{
		Symbol: "BTC", Side: domain.Long, Quantity: 1, EntryPrice: 30000,
		StopLossPrice: 29400, TakeProfitPrice: 31200,
		OpenedAt: opened, Status: domain.StatusOpen,
	})
	require.NoError(t, err)
	_, err = trades.CreateTrade(context.Background(), &domain.Trade{
		Type: domain.TradeTypeClose, Symbol: "BTC", Side: domain.Long,
		Price: 29390, Quantity: 1, PNL: -610, Timestamp: time.Now(),
	})
	require.NoError(t, err)
	_, err = conditionals.CreateConditionalOrder(context.Background(), &domain.ConditionalOrder{
		ExchangeID: "101", Symbol: "BTC", Kind: domain.KindStopLoss,
		TriggerPrice: 29400, Status: domain.ConditionalActive, CreatedAt: opened,
	})
	require.NoError(t, err)
	_, err = conditionals.CreateConditionalOrder(context.Background(), &domain.ConditionalOrder{
		ExchangeID: "102", Symbol: "BTC", Kind: domain.KindTakeProfit,
		TriggerPrice: 31200, Status: domain.ConditionalActive, CreatedAt: opened,
	})
	require.NoError(t, err)

	r, err := NewReconciler(&stubExchange{}, positions, trades, conditionals, nopLogger{})
	require.NoError(t, err)
	_, err = r.Reconcile(context.Background())
	require.NoError(t, err)

	assert.Equal(t, domain.ConditionalTriggered, conditionals.orders[0].Status,
		"the stop matching the attributed reason must be marked triggered")
	assert.Equal(t, domain.ConditionalCancelled, conditionals.orders[1].Status,
		"the surviving protective order must be marked cancelled")
}

func TestReconcile_AgreementIsNoOp(t *testing.T) {
	exchange := &stubExchange{positions: []*ports.ExchangePosition{
		{Symbol: "BTC", Side: domain.Long, Quantity: 5, EntryPrice: 30000, Leverage: 2},
	}}
	positions := newMemPositions()
	_, err := positions.Create(context.Background(), &domain.Position{
		Symbol: "BTC", Side: domain.Long, Quantity: 5, EntryPrice: 30000,
		OpenedAt: time.Now(), Status: domain.StatusOpen,
	})
	require.NoError(t, err)

	r := newReconciler(t, exchange, positions, &memTrades{})
	report, err := r.Reconcile(context.Background())
	require.NoError(t, err)
	assert.True(t, report.Clean())
}
