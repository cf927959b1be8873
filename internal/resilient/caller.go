package resilient

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/veridict/veridict/internal/budget"
	"github.com/veridict/veridict/internal/errors"
	"github.com/veridict/veridict/internal/event"
	"github.com/veridict/veridict/internal/logging"
	"github.com/veridict/veridict/internal/worker"
)

var (
	errEmptyResponse     = errors.Wrap(errors.ErrWorkerEmpty, "response has no content")
	errTruncatedResponse = errors.Wrap(errors.ErrQualityGate, "response truncated at output budget")
)

// defaultSpec is used for models without an explicit spec.
var defaultSpec = worker.ModelSpec{
	Timeout:    120 * time.Second,
	MaxOutput:  8192,
	MaxRetries: 1,
	Backoff:    500 * time.Millisecond,
}

// Caller wraps a worker.Caller with retries, quality gates and sticky
// failover. Promotion state is per role and per run: once a substitute
// succeeds, it handles all remaining units for that role and the dead
// primary is not retried per unit.
type Caller struct {
	inner  worker.Caller
	models map[string]worker.ModelSpec
	ledger *budget.Ledger
	logger *logging.Logger
	bus    *event.Bus
	runID  string

	mu       sync.Mutex
	promoted map[string]int // role -> index into the failover chain
}

// NewCaller creates a resilient Caller. The bus may be nil when no observer
// cares about promotion events.
func NewCaller(inner worker.Caller, models map[string]worker.ModelSpec, ledger *budget.Ledger, logger *logging.Logger, bus *event.Bus, runID string) *Caller {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Caller{
		inner:    inner,
		models:   models,
		ledger:   ledger,
		logger:   logger,
		bus:      bus,
		runID:    runID,
		promoted: make(map[string]int),
	}
}

func (c *Caller) spec(model string) worker.ModelSpec {
	if s, ok := c.models[model]; ok {
		return s
	}
	return defaultSpec
}

func (c *Caller) chainStart(role string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.promoted[role]
}

func (c *Caller) promote(role string, index int, from, to string) {
	c.mu.Lock()
	already := c.promoted[role] >= index
	if !already {
		c.promoted[role] = index
	}
	c.mu.Unlock()

	if already {
		return
	}
	c.logger.WithWorker(role).Warn("substitute promoted", "from", from, "to", to)
	if c.bus != nil {
		c.bus.Publish(event.NewWorkerPromotedEvent(c.runID, role, from, to))
	}
}

// progress publishes a best-effort stage progress event. Safe with a nil
// bus.
func (c *Caller) progress(stage string, percent float64, message string) {
	if c.bus == nil {
		return
	}
	c.bus.Publish(event.NewStageProgressEvent(c.runID, stage, percent, message))
}

// Invoke executes one unit of work for a role, walking the failover chain
// from the role's current promotion point. The returned Outcome is never
// an error value; inspect its Kind.
func (c *Caller) Invoke(ctx context.Context, binding worker.RoleBinding, req worker.Request, chunk int, gate QualityGate) Outcome {
	out := Outcome{WorkerID: req.WorkerID, Chunk: chunk}
	chain := binding.Chain()
	start := c.chainStart(binding.Role)
	if start >= len(chain) {
		start = len(chain) - 1
	}

	var lastKind FailureKind
	var lastErr error

	for i := start; i < len(chain); i++ {
		model := chain[i]
		spec := c.spec(model)
		req.Temperature = binding.Temperature
		if req.MaxOutput == 0 {
			req.MaxOutput = spec.MaxOutput
		}

		// Some models get zero retries: retrying reproduces the refusal.
		for attempt := 0; attempt <= spec.MaxRetries; attempt++ {
			if attempt > 0 {
				if !c.backoff(ctx, spec.Backoff, attempt) {
					out.Kind = FailureCanceled
					out.Err = ctx.Err()
					return out
				}
			}

			resp, kind, err := c.callOnce(ctx, model, spec, req)
			out.Attempts++
			lastKind, lastErr = kind, err

			if kind == FailureNone {
				if chargeErr := c.charge(resp); chargeErr != nil {
					out.Kind = FailureBudget
					out.Err = chargeErr
					return out
				}
				if gate != nil {
					if gateErr := gate(resp); gateErr != nil {
						lastKind = FailureQualityGate
						lastErr = errors.Wrap(errors.ErrQualityGate, gateErr.Error())
						c.logger.WithWorker(req.WorkerID).Debug("quality gate rejected response",
							"model", model, "attempt", attempt+1, "reason", gateErr.Error())
						continue
					}
				}
				if i > start {
					c.promote(binding.Role, i, chain[start], model)
				}
				out.Model = model
				out.Response = resp
				return out
			}

			if kind == FailureCanceled && ctx.Err() != nil {
				// The stage deadline or the run was canceled; no model in
				// the chain can help.
				out.Kind = FailureCanceled
				out.Err = err
				return out
			}

			c.logger.WithWorker(req.WorkerID).Debug("worker call failed",
				"model", model, "attempt", attempt+1, "kind", string(kind), "error", err)
		}
	}

	out.Kind = FailureExhausted
	out.Err = errors.NewWorkerError("failover chain exhausted", errors.ErrChainExhausted).
		WithWorkerID(req.WorkerID).
		WithModel(strings.Join(chain, ",")).
		WithChunk(chunk).
		WithAttempts(out.Attempts)
	if lastKind != FailureNone && lastErr != nil {
		out.Err = errors.Wrapf(out.Err, "last failure (%s)", lastKind)
	}
	return out
}

// callOnce makes one call under the model's timeout and classifies the
// result.
func (c *Caller) callOnce(ctx context.Context, model string, spec worker.ModelSpec, req worker.Request) (*worker.Response, FailureKind, error) {
	callCtx, cancel := context.WithTimeout(ctx, spec.Timeout)
	defer cancel()

	resp, err := c.inner.Call(callCtx, model, req)
	if err != nil {
		switch {
		case ctx.Err() != nil:
			return nil, FailureCanceled, errors.Wrap(errors.ErrCanceled, err.Error())
		case callCtx.Err() == context.DeadlineExceeded:
			return nil, FailureTimeout, errors.Wrap(errors.ErrWorkerTimeout, err.Error())
		default:
			return nil, FailureTransport, err
		}
	}
	if resp == nil || resp.Content == "" {
		return nil, FailureEmpty, errors.Wrap(errors.ErrWorkerEmpty, "model returned no content")
	}
	return resp, FailureNone, nil
}

// charge records the call's token usage. A refusal from the ledger is fatal
// and propagates unchanged.
func (c *Caller) charge(resp *worker.Response) error {
	if c.ledger == nil {
		return nil
	}
	if err := c.ledger.Charge(resp.Usage.Total()); err != nil {
		if c.bus != nil {
			var berr *errors.BudgetError
			if errors.As(err, &berr) {
				c.bus.Publish(event.NewBudgetExceededEvent(c.runID, berr.LimitTokens, berr.UsedTokens))
			}
		}
		return err
	}
	return nil
}

// backoff sleeps base << (attempt-1), honoring cancellation. Returns false
// when the context ended during the wait.
func (c *Caller) backoff(ctx context.Context, base time.Duration, attempt int) bool {
	if base <= 0 {
		return ctx.Err() == nil
	}
	d := base << (attempt - 1)
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
