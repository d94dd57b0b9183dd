package risk

import (
	"fmt"
	"sync"

	"perpbot/internal/domain"
	"perpbot/internal/ports"
)

// GuardState is the drawdown protection state.
type GuardState string

const (
	// GuardNormal allows all operations.
	GuardNormal GuardState = "normal"
	// GuardWarning allows all operations but emits alert logs.
	GuardWarning GuardState = "warning"
	// GuardNoNewPosition rejects new entries; open positions are managed.
	GuardNoNewPosition GuardState = "no_new_position"
	// GuardForceClose demands market-close of all open positions. The state
	// latches until an operator resets the peak.
	GuardForceClose GuardState = "force_close"
)

// Guard is the drawdown protection state machine. Drawdown is measured
// against the running peak balance; the peak only ever rises, so the ratio
// is unit-independent and works for both settlement models.
type Guard struct {
	warningPct    float64
	noNewPct      float64
	forceClosePct float64

	mu      sync.Mutex
	peak    float64
	state   GuardState
	latched bool
}

// NewGuard creates a drawdown guard with the given thresholds, expressed in
// percent of peak balance. Thresholds must be strictly ascending.
func NewGuard(warningPct, noNewPct, forceClosePct float64) (*Guard, error) {
	if warningPct <= 0 || noNewPct <= warningPct || forceClosePct <= noNewPct {
		return nil, fmt.Errorf("drawdown thresholds %v/%v/%v must be positive and strictly ascending: %w",
			warningPct, noNewPct, forceClosePct, ports.ErrFatalConfig)
	}
	return &Guard{
		warningPct:    warningPct,
		noNewPct:      noNewPct,
		forceClosePct: forceClosePct,
		state:         GuardNormal,
	}, nil
}

// Evaluate folds a new balance observation into the state machine and
// returns the resulting state. The peak is raised before the ratio is taken,
// so a fresh high always reads as zero drawdown.
func (g *Guard) Evaluate(balance float64) GuardState {
	g.mu.Lock()
	defer g.mu.Unlock()

	if balance > g.peak {
		g.peak = balance
	}
	if g.latched {
		return GuardForceClose
	}
	dd := g.drawdownLocked(balance)
	switch {
	case dd >= g.forceClosePct:
		g.state = GuardForceClose
		g.latched = true
	case dd >= g.noNewPct:
		g.state = GuardNoNewPosition
	case dd >= g.warningPct:
		g.state = GuardWarning
	default:
		g.state = GuardNormal
	}
	return g.state
}

func (g *Guard) drawdownLocked(balance float64) float64 {
	snap := domain.AccountSnapshot{Balance: balance, PeakBalance: g.peak}
	return snap.DrawdownPercent() * 100
}

// Snapshot returns the account state the guard is currently judging against.
func (g *Guard) Snapshot(balance, unrealized float64) domain.AccountSnapshot {
	g.mu.Lock()
	defer g.mu.Unlock()
	return domain.AccountSnapshot{Balance: balance, PeakBalance: g.peak, UnrealizedPnl: unrealized}
}

// State returns the current guard state without folding in a new observation.
func (g *Guard) State() GuardState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// AllowNewPosition reports whether entries are currently permitted.
func (g *Guard) AllowNewPosition() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state == GuardNormal || g.state == GuardWarning
}

// DemandForceClose reports whether all open positions must be closed.
func (g *Guard) DemandForceClose() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state == GuardForceClose
}

// Drawdown returns the current drawdown percent for the given balance.
func (g *Guard) Drawdown(balance float64) float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.drawdownLocked(balance)
}

// ResetPeak is the sole exit from the latched force-close state. It restarts
// the peak from the given balance and returns the guard to normal.
func (g *Guard) ResetPeak(balance float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.peak = balance
	g.state = GuardNormal
	g.latched = false
}
