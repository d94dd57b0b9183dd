package domain

// AccountSnapshot captures the account state used for drawdown evaluation.
type AccountSnapshot struct {
	Balance       float64
	PeakBalance   float64 // Monotonic high-water mark, reset only explicitly
	UnrealizedPnl float64
}

// DrawdownPercent returns the decline of the current balance from the peak
// as a fraction (0.30 == 30% drawdown). Zero when no peak has been recorded.
func (a *AccountSnapshot) DrawdownPercent() float64 {
	if a.PeakBalance <= 0 {
		return 0
	}
	dd := (a.PeakBalance - a.Balance) / a.PeakBalance
	if dd < 0 {
		return 0
	}
	return dd
}
