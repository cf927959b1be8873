// Package budget tracks token and call usage across all workers of a run.
// The ledger is the single shared mutable resource of the pipeline, so the
// check against the limit and the increment happen under one lock: a breach
// stops the run immediately, never after the fact.
package budget

import (
	"sync"

	"github.com/veridict/veridict/internal/errors"
)

// Ledger accumulates usage against optional limits. A zero limit means
// unlimited. Safe for concurrent use by every worker completion.
type Ledger struct {
	mu sync.Mutex

	maxTokens int64
	maxCalls  int64

	usedTokens int64
	usedCalls  int64
}

// NewLedger creates a Ledger with the given limits. Zero disables a limit.
func NewLedger(maxTokens, maxCalls int64) *Ledger {
	return &Ledger{maxTokens: maxTokens, maxCalls: maxCalls}
}

// Charge records one completed call of the given token cost. If the charge
// would push usage past either limit, nothing is recorded and a fatal
// BudgetError is returned.
func (l *Ledger) Charge(tokens int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.maxTokens > 0 && l.usedTokens+tokens > l.maxTokens {
		return errors.NewBudgetError(l.maxTokens, l.usedTokens, tokens)
	}
	if l.maxCalls > 0 && l.usedCalls+1 > l.maxCalls {
		return errors.NewBudgetError(l.maxCalls, l.usedCalls, 1)
	}

	l.usedTokens += tokens
	l.usedCalls++
	return nil
}

// UsedTokens returns the tokens charged so far.
func (l *Ledger) UsedTokens() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.usedTokens
}

// UsedCalls returns the calls charged so far.
func (l *Ledger) UsedCalls() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.usedCalls
}
