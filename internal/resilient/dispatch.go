package resilient

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/veridict/veridict/internal/errors"
	"github.com/veridict/veridict/internal/worker"
)

// Task is one unit of work inside a stage dispatch.
type Task struct {
	Binding worker.RoleBinding
	Request worker.Request
	Chunk   int // -1 when not chunk-scoped
	Gate    QualityGate
}

// StageResult is the merged output of a stage dispatch.
type StageResult struct {
	Stage    string
	Outcomes []Outcome // one per task, in task order
	Duration time.Duration
}

// Succeeded returns the successful outcomes.
func (r StageResult) Succeeded() []Outcome {
	var ok []Outcome
	for _, o := range r.Outcomes {
		if o.OK() {
			ok = append(ok, o)
		}
	}
	return ok
}

// FailedWorkers returns the worker ids of failed outcomes, in task order.
func (r StageResult) FailedWorkers() []string {
	var failed []string
	for _, o := range r.Outcomes {
		if !o.OK() {
			failed = append(failed, o.WorkerID)
		}
	}
	return failed
}

// Dispatcher runs a stage's tasks concurrently under a bounded pool and a
// stage deadline. Each task writes into its own result channel; channels
// are merged only after all tasks finished or the deadline elapsed, so
// merge order never affects the result.
type Dispatcher struct {
	caller  *Caller
	maxPool int64
}

// NewDispatcher creates a Dispatcher. maxPool caps concurrent calls per
// stage regardless of how many workers are configured.
func NewDispatcher(caller *Caller, maxPool int64) *Dispatcher {
	if maxPool <= 0 {
		maxPool = 1
	}
	return &Dispatcher{caller: caller, maxPool: maxPool}
}

// Progress publishes a best-effort progress event for the stage on the
// run's bus. Never required for correctness; stages report coarse units
// of completed work, like chunks.
func (d *Dispatcher) Progress(stage string, percent float64, message string) {
	d.caller.progress(stage, percent, message)
}

// Dispatch runs all tasks and enforces the stage's minimum-success
// threshold. When the deadline elapses, stragglers are abandoned (their
// in-flight calls canceled, their results discarded on arrival) and the
// stage proceeds with whatever completed. Fewer than minSuccess successful
// outcomes abort with a fatal StageError; a budget breach aborts with the
// BudgetError itself.
func (d *Dispatcher) Dispatch(ctx context.Context, stage string, tasks []Task, minSuccess int, deadline time.Duration) (StageResult, error) {
	start := time.Now()
	result := StageResult{Stage: stage, Outcomes: make([]Outcome, len(tasks))}

	stageCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	sem := semaphore.NewWeighted(d.maxPool)
	channels := make([]chan Outcome, len(tasks))
	for i := range channels {
		channels[i] = make(chan Outcome, 1)
	}

	var wg sync.WaitGroup
	for i, task := range tasks {
		wg.Add(1)
		go func(i int, task Task) {
			defer wg.Done()
			if err := sem.Acquire(stageCtx, 1); err != nil {
				channels[i] <- Outcome{
					WorkerID: task.Request.WorkerID,
					Chunk:    task.Chunk,
					Kind:     FailureCanceled,
					Err:      errors.Wrap(errors.ErrStageDeadline, "never started"),
				}
				return
			}
			defer sem.Release(1)

			out := d.caller.Invoke(stageCtx, task.Binding, task.Request, task.Chunk, task.Gate)
			channels[i] <- out
			if out.Fatal() {
				// A budget breach stops the run immediately; abandon the
				// rest of the stage.
				cancel()
			}
		}(i, task)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-stageCtx.Done():
		// Deadline elapsed; cancel stragglers and collect what arrived.
		// Not waiting on the pool here: a caller that ignores
		// cancellation must not stall the stage, and the buffered
		// channels absorb its late result, which is never read.
		cancel()
	}

	for i := range channels {
		select {
		case out := <-channels[i]:
			result.Outcomes[i] = out
		default:
			result.Outcomes[i] = Outcome{
				WorkerID: tasks[i].Request.WorkerID,
				Chunk:    tasks[i].Chunk,
				Kind:     FailureCanceled,
				Err:      errors.Wrap(errors.ErrStageDeadline, "abandoned at stage deadline"),
			}
		}
	}
	result.Duration = time.Since(start)

	for _, o := range result.Outcomes {
		if o.Fatal() {
			return result, o.Err
		}
	}

	succeeded := len(result.Succeeded())
	if succeeded < minSuccess {
		return result, errors.NewStageError(stage, succeeded, minSuccess, errors.ErrStageInsufficient).
			WithFailedWorkers(result.FailedWorkers())
	}
	return result, nil
}
