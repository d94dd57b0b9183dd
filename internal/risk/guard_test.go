package risk

import (
	"errors"
	"testing"

	"perpbot/internal/ports"
)

func TestNewGuard_ThresholdOrdering(t *testing.T) {
	tests := []struct {
		name                  string
		warning, noNew, force float64
		wantErr               bool
	}{
		{"ascending", 20, 30, 50, false},
		{"equal thresholds", 20, 20, 50, true},
		{"descending", 50, 30, 20, true},
		{"zero warning", 0, 30, 50, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewGuard(tt.warning, tt.noNew, tt.force)
			if tt.wantErr {
				if !errors.Is(err, ports.ErrFatalConfig) {
					t.Errorf("Expected ErrFatalConfig, got %v", err)
				}
				return
			}
			if err != nil {
				t.Errorf("Unexpected error: %v", err)
			}
		})
	}
}

func TestGuard_StateTransitions(t *testing.T) {
	guard, err := NewGuard(20, 30, 50)
	if err != nil {
		t.Fatalf("NewGuard failed: %v", err)
	}

	if state := guard.Evaluate(1000); state != GuardNormal {
		t.Errorf("Expected normal at peak, got %s", state)
	}
	// 10% drawdown.
	if state := guard.Evaluate(900); state != GuardNormal {
		t.Errorf("Expected normal at 10%%, got %s", state)
	}
	// 20% drawdown.
	if state := guard.Evaluate(800); state != GuardWarning {
		t.Errorf("Expected warning at 20%%, got %s", state)
	}
	// 30% drawdown: 1000 -> 700.
	if state := guard.Evaluate(700); state != GuardNoNewPosition {
		t.Errorf("Expected no_new_position at 30%%, got %s", state)
	}
	if guard.AllowNewPosition() {
		t.Error("Entries must be rejected in no_new_position")
	}
	// Recovery drops the drawdown again.
	if state := guard.Evaluate(950); state != GuardNormal {
		t.Errorf("Expected normal after recovery, got %s", state)
	}
	if !guard.AllowNewPosition() {
		t.Error("Entries must be allowed after recovery")
	}
}

func TestGuard_NewPeakRaisesBaseline(t *testing.T) {
	guard, _ := NewGuard(20, 30, 50)
	guard.Evaluate(1000)
	guard.Evaluate(1200) // new peak
	// 1200 -> 960 is a 20% drawdown against the new peak.
	if state := guard.Evaluate(960); state != GuardWarning {
		t.Errorf("Expected warning against raised peak, got %s", state)
	}
	if dd := guard.Drawdown(960); dd < 19.9 || dd > 20.1 {
		t.Errorf("Expected ~20%% drawdown, got %f", dd)
	}
}

func TestGuard_ForceCloseLatches(t *testing.T) {
	guard, _ := NewGuard(20, 30, 50)
	guard.Evaluate(1000)

	if state := guard.Evaluate(490); state != GuardForceClose {
		t.Errorf("Expected force_close at 51%%, got %s", state)
	}
	if !guard.DemandForceClose() {
		t.Error("DemandForceClose must report true when latched")
	}

	// Balance recovery alone must not unlatch.
	if state := guard.Evaluate(990); state != GuardForceClose {
		t.Errorf("Expected latched force_close after recovery, got %s", state)
	}
	if guard.AllowNewPosition() {
		t.Error("Entries must stay rejected while latched")
	}

	// Explicit peak reset is the only exit.
	guard.ResetPeak(990)
	if state := guard.State(); state != GuardNormal {
		t.Errorf("Expected normal after ResetPeak, got %s", state)
	}
	if state := guard.Evaluate(980); state != GuardNormal {
		t.Errorf("Expected normal with fresh peak, got %s", state)
	}
}
