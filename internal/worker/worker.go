// Package worker defines the boundary contract to inference endpoints.
// The pipeline treats a worker call as an opaque, fallible remote call;
// transport and auth live behind the Caller interface.
package worker

import (
	"context"
	"time"
)

// Request is one inference call on behalf of a worker role.
type Request struct {
	WorkerID    string
	Prompt      string
	System      string
	Temperature float64
	MaxOutput   int // output token budget
}

// Usage reports token consumption of one call. Every completion is charged
// against the run's budget ledger.
type Usage struct {
	PromptTokens     int64
	CompletionTokens int64
}

// Total returns the combined token count of the call.
func (u Usage) Total() int64 {
	return u.PromptTokens + u.CompletionTokens
}

// Response is the raw result of one inference call.
type Response struct {
	Content      string
	Usage        Usage
	FinishReason string // "stop", "length", "refusal", or endpoint-specific
}

// Truncated reports whether the endpoint cut the response at the output
// budget. Truncated responses fail the default quality gates.
func (r *Response) Truncated() bool {
	return r.FinishReason == "length"
}

// Caller executes inference calls against a named model. Implementations
// must honor context cancellation and return an error for transport-level
// failures; content-level problems (empty, truncated, unparseable) are the
// caller's concern.
type Caller interface {
	Call(ctx context.Context, model string, req Request) (*Response, error)
}

// ModelSpec carries the per-model execution budget. Some models get zero
// retries because retrying reproduces the same refusal.
type ModelSpec struct {
	Timeout    time.Duration
	MaxOutput  int
	MaxRetries int
	Backoff    time.Duration // base backoff, doubled per attempt
}

// RoleBinding assigns a primary model and its ordered failover substitutes
// to one worker role. Bindings are immutable per run; the orchestrator
// copies them out of configuration at run start.
type RoleBinding struct {
	Role        string
	Primary     string
	Substitutes []string // tried in order after the primary's retries exhaust
	Temperature float64
}

// Chain returns the primary followed by the substitutes, in failover order.
func (b RoleBinding) Chain() []string {
	chain := make([]string, 0, 1+len(b.Substitutes))
	chain = append(chain, b.Primary)
	chain = append(chain, b.Substitutes...)
	return chain
}
