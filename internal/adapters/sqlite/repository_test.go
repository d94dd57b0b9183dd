package sqlite

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"perpbot/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockLogger implements ports.Logger for testing
type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

// setupTestDB creates a temporary database for testing
func setupTestDB(t *testing.T) (*Repository, func()) {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "perpbot-test-*")
	require.NoError(t, err)

	dbPath := filepath.Join(tmpDir, "test.db")
	repo, err := NewRepository(Config{
		DBPath: dbPath,
		Logger: &mockLogger{},
	})
	require.NoError(t, err)

	cleanup := func() {
		repo.Close()
		os.RemoveAll(tmpDir)
	}

	return repo, cleanup
}

func openPosition(symbol string) *domain.Position {
	return &domain.Position{
		Symbol:          symbol,
		Side:            domain.Long,
		Quantity:        10,
		EntryPrice:      2000.0,
		Leverage:        4,
		OpenedAt:        time.Now(),
		Status:          domain.StatusOpen,
		StopLossPrice:   1900.0,
		TakeProfitPrice: 2200.0,
		InitialRisk:     100.0,
	}
}

func TestRepository_CreateAndFindPosition(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	pos := openPosition("BTC")
	pos.Trailing = domain.TrailingState{HighestFavorablePrice: 2050.0, Activated: true}

	id, err := repo.Create(ctx, pos)
	require.NoError(t, err)
	assert.Greater(t, id, int64(0))

	found, err := repo.FindByID(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, found)

	assert.Equal(t, pos.Symbol, found.Symbol)
	assert.Equal(t, pos.Side, found.Side)
	assert.Equal(t, pos.Quantity, found.Quantity)
	assert.Equal(t, pos.EntryPrice, found.EntryPrice)
	assert.Equal(t, pos.Leverage, found.Leverage)
	assert.Equal(t, pos.StopLossPrice, found.StopLossPrice)
	assert.Equal(t, pos.TakeProfitPrice, found.TakeProfitPrice)
	assert.Equal(t, pos.InitialRisk, found.InitialRisk)
	assert.Equal(t, pos.Status, found.Status)
	assert.Equal(t, pos.Trailing.HighestFavorablePrice, found.Trailing.HighestFavorablePrice)
	assert.True(t, found.Trailing.Activated)
	assert.Nil(t, found.StopLossOrderRef)
}

func TestRepository_FindByIDNotFound(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()

	found, err := repo.FindByID(context.Background(), 999)
	require.NoError(t, err)
	assert.Nil(t, found)
}

func TestRepository_UpdatePosition(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(*Repository) (*domain.Position, error)
		update  func(*domain.Position)
		wantErr bool
	}{
		{
			name: "close position",
			setup: func(r *Repository) (*domain.Position, error) {
				pos := openPosition("ETH")
				_, err := r.Create(context.Background(), pos)
				return pos, err
			},
			update: func(p *domain.Position) {
				p.Status = domain.StatusClosed
				p.ClosePrice = 2100.0
				p.ClosedAt = time.Now()
				p.PNL = 100.0
				p.Reason = domain.CloseReasonTakeProfit
			},
			wantErr: false,
		},
		{
			name: "record protective order refs and fired stages",
			setup: func(r *Repository) (*domain.Position, error) {
				pos := openPosition("ETH")
				_, err := r.Create(context.Background(), pos)
				return pos, err
			},
			update: func(p *domain.Position) {
				stopRef := "123456"
				tpRef := "123457"
				p.StopLossOrderRef = &stopRef
				p.TakeProfitOrderRef = &tpRef
				p.StagesFired = 2
				p.Quantity = 4
			},
			wantErr: false,
		},
		{
			name: "update non-existent position",
			setup: func(r *Repository) (*domain.Position, error) {
				pos := openPosition("ETH")
				pos.ID = 999
				return pos, nil
			},
			update:  func(p *domain.Position) { p.Status = domain.StatusClosed },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, cleanup := setupTestDB(t)
			defer cleanup()
			ctx := context.Background()

			pos, err := tt.setup(repo)
			require.NoError(t, err)

			tt.update(pos)
			err = repo.Update(ctx, pos)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)

			found, err := repo.FindByID(ctx, pos.ID)
			require.NoError(t, err)
			require.NotNil(t, found)

			assert.Equal(t, pos.Status, found.Status)
			assert.Equal(t, pos.ClosePrice, found.ClosePrice)
			assert.Equal(t, pos.PNL, found.PNL)
			assert.Equal(t, pos.Reason, found.Reason)
			assert.Equal(t, pos.StagesFired, found.StagesFired)
			assert.Equal(t, pos.Quantity, found.Quantity)
			if pos.StopLossOrderRef != nil {
				require.NotNil(t, found.StopLossOrderRef)
				assert.Equal(t, *pos.StopLossOrderRef, *found.StopLossOrderRef)
			}
		})
	}
}

func TestRepository_FindOpenBySymbol(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	created := openPosition("BTC")
	_, err := repo.Create(ctx, created)
	require.NoError(t, err)

	got, err := repo.FindOpenBySymbol(ctx, "BTC")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, created.ID, got.ID)

	none, err := repo.FindOpenBySymbol(ctx, "ETH")
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestRepository_FindOpen(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	first := openPosition("BTC")
	_, err := repo.Create(ctx, first)
	require.NoError(t, err)

	second := openPosition("ETH")
	second.Side = domain.Short
	_, err = repo.Create(ctx, second)
	require.NoError(t, err)

	closed := openPosition("SOL")
	_, err = repo.Create(ctx, closed)
	require.NoError(t, err)
	closed.Status = domain.StatusClosed
	closed.ClosedAt = time.Now()
	require.NoError(t, repo.Update(ctx, closed))

	open, err := repo.FindOpen(ctx)
	require.NoError(t, err)
	require.Len(t, open, 2)
	symbols := []string{open[0].Symbol, open[1].Symbol}
	assert.ElementsMatch(t, []string{"BTC", "ETH"}, symbols)
}

func TestRepository_TradeLifecycle(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	openedAt := time.Now().Add(-time.Hour)
	opening := &domain.Trade{
		Type:      domain.TradeTypeOpen,
		Symbol:    "BTC",
		Side:      domain.Long,
		Price:     30000.0,
		Quantity:  5,
		Fee:       0.75,
		Timestamp: openedAt,
		OrderID:   "1001",
		Status:    "FILLED",
	}
	openID, err := repo.CreateTrade(ctx, opening)
	require.NoError(t, err)
	assert.Greater(t, openID, int64(0))

	closing := &domain.Trade{
		Type:      domain.TradeTypeClose,
		Symbol:    "BTC",
		Side:      domain.Long,
		Price:     31000.0,
		Quantity:  5,
		PNL:       50.0,
		Fee:       0.78,
		Timestamp: time.Now(),
		OrderID:   "1002",
		Status:    "FILLED",
	}
	_, err = repo.CreateTrade(ctx, closing)
	require.NoError(t, err)

	closed, err := repo.FindClosedTrades(ctx)
	require.NoError(t, err)
	require.Len(t, closed, 1)
	assert.Equal(t, domain.TradeTypeClose, closed[0].Type)
	assert.Equal(t, 50.0, closed[0].PNL)

	match, err := repo.FindOpenTradeBefore(ctx, "BTC", closing.Timestamp)
	require.NoError(t, err)
	require.NotNil(t, match)
	assert.Equal(t, openID, match.ID)

	none, err := repo.FindOpenTradeBefore(ctx, "BTC", openedAt)
	require.NoError(t, err)
	assert.Nil(t, none)

	recent, err := repo.FindBySymbol(ctx, "BTC", 10)
	require.NoError(t, err)
	assert.Len(t, recent, 2)
}

func TestRepository_FindClosedBySymbolSince(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	opened := time.Now().Add(-time.Hour)
	history := []*domain.Trade{
		{Type: domain.TradeTypeClose, Symbol: "BTC", Side: domain.Long, Price: 29000, Quantity: 1, PNL: -30, Timestamp: opened.Add(-time.Hour)},
		{Type: domain.TradeTypeClose, Symbol: "BTC", Side: domain.Long, Price: 30500, Quantity: 2, PNL: 40, Timestamp: opened.Add(10 * time.Minute)},
		{Type: domain.TradeTypeClose, Symbol: "BTC", Side: domain.Long, Price: 31000, Quantity: 3, PNL: 90, Timestamp: opened.Add(30 * time.Minute)},
		{Type: domain.TradeTypeOpen, Symbol: "BTC", Side: domain.Long, Price: 30000, Quantity: 5, Timestamp: opened},
		{Type: domain.TradeTypeClose, Symbol: "ETH", Side: domain.Long, Price: 2100, Quantity: 1, PNL: 10, Timestamp: opened.Add(20 * time.Minute)},
	}
	for _, trade := range history {
		_, err := repo.CreateTrade(ctx, trade)
		require.NoError(t, err)
	}

	closes, err := repo.FindClosedBySymbolSince(ctx, "BTC", opened)
	require.NoError(t, err)
	require.Len(t, closes, 2)
	assert.Equal(t, 40.0, closes[0].PNL)
	assert.Equal(t, 90.0, closes[1].PNL)
	assert.True(t, closes[0].Timestamp.Before(closes[1].Timestamp), "results must be oldest first")

	none, err := repo.FindClosedBySymbolSince(ctx, "SOL", opened)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestRepository_CorrectTrade(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	trade := &domain.Trade{
		Type:      domain.TradeTypeClose,
		Symbol:    "ETH",
		Side:      domain.Short,
		Price:     2000.0,
		Quantity:  3,
		PNL:       -10.0,
		Fee:       0.2,
		Timestamp: time.Now(),
	}
	id, err := repo.CreateTrade(ctx, trade)
	require.NoError(t, err)

	require.NoError(t, repo.CorrectTrade(ctx, id, -12.5, 0.25))

	trades, err := repo.FindBySymbol(ctx, "ETH", 1)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, -12.5, trades[0].PNL)
	assert.Equal(t, 0.25, trades[0].Fee)

	err = repo.CorrectTrade(ctx, 999, 0, 0)
	assert.Error(t, err)
}

func TestRepository_ConditionalOrders(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	stop := &domain.ConditionalOrder{
		ExchangeID:   "555",
		Symbol:       "BTC",
		Kind:         domain.KindStopLoss,
		TriggerPrice: 29000.0,
		Status:       domain.ConditionalActive,
		CreatedAt:    time.Now(),
	}
	tp := &domain.ConditionalOrder{
		ExchangeID:   "556",
		Symbol:       "BTC",
		Kind:         domain.KindTakeProfit,
		TriggerPrice: 33000.0,
		Status:       domain.ConditionalActive,
		CreatedAt:    time.Now(),
	}
	stopID, err := repo.CreateConditionalOrder(ctx, stop)
	require.NoError(t, err)
	_, err = repo.CreateConditionalOrder(ctx, tp)
	require.NoError(t, err)

	active, err := repo.FindActiveBySymbol(ctx, "BTC")
	require.NoError(t, err)
	assert.Len(t, active, 2)

	require.NoError(t, repo.UpdateConditionalOrderStatus(ctx, stopID, domain.ConditionalCancelled))

	active, err = repo.FindActiveBySymbol(ctx, "BTC")
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, domain.KindTakeProfit, active[0].Kind)
}

func TestRepository_CloseEvents(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	event := &domain.CloseEvent{
		Symbol:     "BTC",
		Reason:     domain.CloseReasonStopLoss,
		ClosePrice: 29000.0,
		PNL:        -100.0,
		PNLPercent: -3.3,
		OccurredAt: time.Now(),
	}
	id, err := repo.CreateCloseEvent(ctx, event)
	require.NoError(t, err)
	assert.Greater(t, id, int64(0))

	events, err := repo.FindCloseEvents(ctx, "BTC", 5)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, domain.CloseReasonStopLoss, events[0].Reason)
	assert.Equal(t, -100.0, events[0].PNL)
}

func TestRepository_PartialTakeProfits(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	pos := openPosition("BTC")
	posID, err := repo.Create(ctx, pos)
	require.NoError(t, err)

	for stage := 1; stage <= 2; stage++ {
		_, err := repo.CreatePartialTakeProfit(ctx, &domain.PartialTakeProfit{
			PositionID:   posID,
			Symbol:       "BTC",
			Stage:        stage,
			RMultiple:    float64(stage),
			ClosePercent: 0.3,
			TriggerPrice: 2000.0 + float64(stage)*100,
			PNL:          float64(stage) * 30,
			ExecutedAt:   time.Now(),
		})
		require.NoError(t, err)
	}

	records, err := repo.FindPartialsByPosition(ctx, posID)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, 1, records[0].Stage)
	assert.Equal(t, 2, records[1].Stage)
}
