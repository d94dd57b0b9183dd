package domain

// IndicatorSet is the read-only view of market data consumed from the
// indicator feed collaborator.
type IndicatorSet struct {
	Symbol    string
	Timeframe string
	Price     float64
	EMA       float64
	RSI       float64
	MACD      float64
	ATR       float64
}

// MarketSnapshot is the input handed to the external decision collaborator.
type MarketSnapshot struct {
	Symbol     string
	Indicators *IndicatorSet
	Position   *Position // nil when flat
	Balance    float64
}

// Decision is the opaque action returned by the decision collaborator.
type Decision struct {
	Action   DecisionAction
	Size     float64 // Quantity in contract units
	Leverage int
}
