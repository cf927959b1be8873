// Package resilient executes worker calls with deadlines, quality gates,
// bounded retries and ordered model failover. Every worker-calling stage
// goes through this package. Failures are values: callers branch on an
// Outcome's FailureKind instead of catching errors.
package resilient

import (
	"github.com/veridict/veridict/internal/worker"
)

// FailureKind classifies why a call produced no usable response.
type FailureKind string

const (
	// FailureNone marks a successful outcome.
	FailureNone FailureKind = ""

	// FailureTimeout: the model-specific timeout elapsed.
	FailureTimeout FailureKind = "timeout"

	// FailureEmpty: the endpoint returned no content.
	FailureEmpty FailureKind = "empty"

	// FailureQualityGate: the response failed the stage's structural gate.
	FailureQualityGate FailureKind = "quality_gate"

	// FailureTransport: the call itself errored below the content level.
	FailureTransport FailureKind = "transport"

	// FailureExhausted: the primary and every substitute ran out of
	// retries. The worker is dropped for this unit of work.
	FailureExhausted FailureKind = "exhausted"

	// FailureBudget: the usage ledger refused the charge. Fatal for the
	// whole run, not just this worker.
	FailureBudget FailureKind = "budget"

	// FailureCanceled: the stage deadline or the run context canceled the
	// call before it completed.
	FailureCanceled FailureKind = "canceled"
)

// Outcome is the result of one resilient worker invocation.
type Outcome struct {
	WorkerID string
	Model    string // model that produced the response, after any promotion
	Chunk    int    // -1 when the unit of work is not chunk-scoped

	Response *worker.Response
	Kind     FailureKind
	Err      error
	Attempts int // total calls made across the failover chain
}

// OK reports whether the outcome carries a usable response.
func (o Outcome) OK() bool {
	return o.Kind == FailureNone && o.Response != nil
}

// Fatal reports whether the outcome must abort the run rather than drop the
// worker.
func (o Outcome) Fatal() bool {
	return o.Kind == FailureBudget
}

// QualityGate is a cheap structural check on a raw response, run before a
// response is accepted. A non-nil error triggers a retry.
type QualityGate func(resp *worker.Response) error

// GateNonEmpty rejects responses with no content or a truncation marker.
// It is the baseline gate every stage composes with its own schema checks.
func GateNonEmpty(resp *worker.Response) error {
	if resp == nil || len(resp.Content) == 0 {
		return errEmptyResponse
	}
	if resp.Truncated() {
		return errTruncatedResponse
	}
	return nil
}
