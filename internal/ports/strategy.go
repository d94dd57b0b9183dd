package ports

import (
	"context"

	"perpbot/internal/domain"
)

// Decider is the external decision-making collaborator. The trading cycle
// consumes it as an opaque function choosing direction and sizing; all risk
// filtering happens after the decision, never inside it.
type Decider interface {
	Decide(ctx context.Context, snapshot *domain.MarketSnapshot) (*domain.Decision, error)
}

// MarketDataFeed is the read-only price/indicator collaborator.
type MarketDataFeed interface {
	GetIndicators(ctx context.Context, symbol, timeframe string) (*domain.IndicatorSet, error)
}
