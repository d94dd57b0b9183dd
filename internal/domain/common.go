package domain

// OrderSide represents the side of an order (BUY or SELL).
type OrderSide string

const (
	Buy  OrderSide = "BUY"
	Sell OrderSide = "SELL"
)

// PositionSide represents the direction of a position.
type PositionSide string

const (
	Long  PositionSide = "long"
	Short PositionSide = "short"
)

// Sign returns +1 for long positions and -1 for short positions.
func (s PositionSide) Sign() float64 {
	if s == Short {
		return -1
	}
	return 1
}

// CloseOrderSide returns the order side that reduces a position on this side.
func (s PositionSide) CloseOrderSide() OrderSide {
	if s == Short {
		return Buy
	}
	return Sell
}

// EntryOrderSide returns the order side that opens a position on this side.
func (s PositionSide) EntryOrderSide() OrderSide {
	if s == Short {
		return Sell
	}
	return Buy
}

// ContractType distinguishes the settlement model of a perpetual contract.
type ContractType string

const (
	// ContractTypeInverse is coin-margined: contract value and margin are
	// denominated in the base asset.
	ContractTypeInverse ContractType = "inverse"
	// ContractTypeLinear is USDT-margined: contract value and margin are
	// denominated directly in the quote currency.
	ContractTypeLinear ContractType = "linear"
)

// PositionStatus represents the status of a trading position.
type PositionStatus string

const (
	StatusOpen   PositionStatus = "open"
	StatusClosed PositionStatus = "closed"
)

// CloseReason indicates why a position was closed.
type CloseReason string

const (
	CloseReasonStopLoss   CloseReason = "stop_loss_triggered"
	CloseReasonTakeProfit CloseReason = "take_profit_triggered"
	CloseReasonManual     CloseReason = "manual"
	CloseReasonSignal     CloseReason = "signal"
	CloseReasonForced     CloseReason = "forced"
	CloseReasonUnknown    CloseReason = "unknown"
)

// TradeType distinguishes opening executions from closing executions.
type TradeType string

const (
	TradeTypeOpen  TradeType = "open"
	TradeTypeClose TradeType = "close"
)

// DecisionAction is the action returned by the external decision collaborator.
type DecisionAction string

const (
	ActionOpenLong  DecisionAction = "open_long"
	ActionOpenShort DecisionAction = "open_short"
	ActionClose     DecisionAction = "close"
	ActionHold      DecisionAction = "hold"
)
