package budget

import (
	"sync"
	"testing"

	"github.com/veridict/veridict/internal/errors"
)

func TestCharge_WithinLimit(t *testing.T) {
	l := NewLedger(1000, 0)

	if err := l.Charge(400); err != nil {
		t.Fatalf("Charge(400): %v", err)
	}
	if err := l.Charge(600); err != nil {
		t.Fatalf("Charge(600): %v", err)
	}
	if got := l.UsedTokens(); got != 1000 {
		t.Errorf("UsedTokens() = %d, want 1000", got)
	}
	if got := l.UsedCalls(); got != 2 {
		t.Errorf("UsedCalls() = %d, want 2", got)
	}
}

func TestCharge_BreachIsFatalAndNotRecorded(t *testing.T) {
	l := NewLedger(1000, 0)

	if err := l.Charge(900); err != nil {
		t.Fatalf("Charge(900): %v", err)
	}

	err := l.Charge(200)
	if err == nil {
		t.Fatal("charge past the limit accepted, want error")
	}
	if !errors.Is(err, errors.ErrBudgetExceeded) {
		t.Errorf("error does not match ErrBudgetExceeded: %v", err)
	}
	if !errors.IsFatal(err) {
		t.Error("budget breach not classified fatal")
	}
	if got := l.UsedTokens(); got != 900 {
		t.Errorf("UsedTokens() after refused charge = %d, want 900", got)
	}
}

func TestCharge_CallLimit(t *testing.T) {
	l := NewLedger(0, 2)

	if err := l.Charge(10); err != nil {
		t.Fatalf("Charge: %v", err)
	}
	if err := l.Charge(10); err != nil {
		t.Fatalf("Charge: %v", err)
	}
	if err := l.Charge(10); err == nil {
		t.Error("third call accepted with max_calls=2, want error")
	}
}

func TestCharge_ZeroLimitsUnlimited(t *testing.T) {
	l := NewLedger(0, 0)
	for i := 0; i < 100; i++ {
		if err := l.Charge(1_000_000); err != nil {
			t.Fatalf("Charge with unlimited budget: %v", err)
		}
	}
}

func TestCharge_ConcurrentNeverOvershoots(t *testing.T) {
	l := NewLedger(500, 0)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			// Errors expected once the budget fills; only the total matters.
			_ = l.Charge(10)
		}()
	}
	wg.Wait()

	if got := l.UsedTokens(); got > 500 {
		t.Errorf("UsedTokens() = %d, exceeds limit 500", got)
	}
	if got := l.UsedTokens(); got != 500 {
		t.Errorf("UsedTokens() = %d, want exactly 500", got)
	}
}
