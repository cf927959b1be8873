// Package event defines event types for decoupling components in veridict.
// These events let the orchestrator, progress observers and logging
// communicate without direct dependencies.
package event

import "time"

// Event is the interface that all events must implement.
type Event interface {
	// EventType returns a string identifier for this event type.
	// Convention: "category.action" (e.g., "stage.started", "worker.promoted")
	EventType() string

	// Timestamp returns when the event occurred.
	Timestamp() time.Time
}

// baseEvent provides common fields for all events.
// Embed this in concrete event types to satisfy the Event interface.
type baseEvent struct {
	eventType string
	timestamp time.Time
}

func (e baseEvent) EventType() string    { return e.eventType }
func (e baseEvent) Timestamp() time.Time { return e.timestamp }

// newBaseEvent creates a baseEvent with the current time.
func newBaseEvent(eventType string) baseEvent {
	return baseEvent{
		eventType: eventType,
		timestamp: time.Now(),
	}
}

// -----------------------------------------------------------------------------
// Stage Lifecycle Events
// -----------------------------------------------------------------------------

// StageStartedEvent is emitted when a pipeline stage begins.
type StageStartedEvent struct {
	baseEvent
	RunID   string
	Stage   string
	Workers int // Number of workers dispatched for the stage
}

// NewStageStartedEvent creates a StageStartedEvent.
func NewStageStartedEvent(runID, stage string, workers int) StageStartedEvent {
	return StageStartedEvent{
		baseEvent: newBaseEvent("stage.started"),
		RunID:     runID,
		Stage:     stage,
		Workers:   workers,
	}
}

// StageProgressEvent reports best-effort progress within a stage.
type StageProgressEvent struct {
	baseEvent
	RunID   string
	Stage   string
	Percent float64 // 0..100
	Message string
}

// NewStageProgressEvent creates a StageProgressEvent.
func NewStageProgressEvent(runID, stage string, percent float64, message string) StageProgressEvent {
	return StageProgressEvent{
		baseEvent: newBaseEvent("stage.progress"),
		RunID:     runID,
		Stage:     stage,
		Percent:   percent,
		Message:   message,
	}
}

// StageCompletedEvent is emitted when a stage finishes at or above its
// minimum-success threshold.
type StageCompletedEvent struct {
	baseEvent
	RunID     string
	Stage     string
	Succeeded int
	Failed    int
	Duration  time.Duration
}

// NewStageCompletedEvent creates a StageCompletedEvent.
func NewStageCompletedEvent(runID, stage string, succeeded, failed int, duration time.Duration) StageCompletedEvent {
	return StageCompletedEvent{
		baseEvent: newBaseEvent("stage.completed"),
		RunID:     runID,
		Stage:     stage,
		Succeeded: succeeded,
		Failed:    failed,
		Duration:  duration,
	}
}

// StageFailedEvent is emitted when a stage aborts the run.
type StageFailedEvent struct {
	baseEvent
	RunID string
	Stage string
	Err   string
}

// NewStageFailedEvent creates a StageFailedEvent.
func NewStageFailedEvent(runID, stage, errMsg string) StageFailedEvent {
	return StageFailedEvent{
		baseEvent: newBaseEvent("stage.failed"),
		RunID:     runID,
		Stage:     stage,
		Err:       errMsg,
	}
}

// -----------------------------------------------------------------------------
// Worker Events
// -----------------------------------------------------------------------------

// WorkerFailedEvent is emitted when a worker is dropped for a unit of work
// after its retry and failover chain is spent.
type WorkerFailedEvent struct {
	baseEvent
	RunID    string
	Stage    string
	WorkerID string
	Chunk    int // -1 when not chunk-scoped
	Reason   string
}

// NewWorkerFailedEvent creates a WorkerFailedEvent.
func NewWorkerFailedEvent(runID, stage, workerID string, chunk int, reason string) WorkerFailedEvent {
	return WorkerFailedEvent{
		baseEvent: newBaseEvent("worker.failed"),
		RunID:     runID,
		Stage:     stage,
		WorkerID:  workerID,
		Chunk:     chunk,
		Reason:    reason,
	}
}

// WorkerPromotedEvent is emitted when a substitute model is promoted after
// the primary exhausted its retries. The promoted model handles all
// remaining units for that worker role.
type WorkerPromotedEvent struct {
	baseEvent
	RunID     string
	WorkerID  string
	FromModel string
	ToModel   string
}

// NewWorkerPromotedEvent creates a WorkerPromotedEvent.
func NewWorkerPromotedEvent(runID, workerID, fromModel, toModel string) WorkerPromotedEvent {
	return WorkerPromotedEvent{
		baseEvent: newBaseEvent("worker.promoted"),
		RunID:     runID,
		WorkerID:  workerID,
		FromModel: fromModel,
		ToModel:   toModel,
	}
}

// -----------------------------------------------------------------------------
// Integrity and Budget Events
// -----------------------------------------------------------------------------

// IntegrityWarningEvent is emitted for each citation that failed verification.
type IntegrityWarningEvent struct {
	baseEvent
	RunID    string
	Code     string // annotation code, e.g. "EXCERPT_MISMATCH"
	WorkerID string
	Detail   string
}

// NewIntegrityWarningEvent creates an IntegrityWarningEvent.
func NewIntegrityWarningEvent(runID, code, workerID, detail string) IntegrityWarningEvent {
	return IntegrityWarningEvent{
		baseEvent: newBaseEvent("integrity.warning"),
		RunID:     runID,
		Code:      code,
		WorkerID:  workerID,
		Detail:    detail,
	}
}

// BudgetExceededEvent is emitted once when the usage ledger refuses a charge.
type BudgetExceededEvent struct {
	baseEvent
	RunID       string
	LimitTokens int64
	UsedTokens  int64
}

// NewBudgetExceededEvent creates a BudgetExceededEvent.
func NewBudgetExceededEvent(runID string, limit, used int64) BudgetExceededEvent {
	return BudgetExceededEvent{
		baseEvent:   newBaseEvent("budget.exceeded"),
		RunID:       runID,
		LimitTokens: limit,
		UsedTokens:  used,
	}
}

// -----------------------------------------------------------------------------
// Run Lifecycle Events
// -----------------------------------------------------------------------------

// RunCompletedEvent is emitted when the pipeline produces a final decision.
type RunCompletedEvent struct {
	baseEvent
	RunID      string
	Outcome    string
	Confidence float64
	Warnings   int
}

// NewRunCompletedEvent creates a RunCompletedEvent.
func NewRunCompletedEvent(runID, outcome string, confidence float64, warnings int) RunCompletedEvent {
	return RunCompletedEvent{
		baseEvent:  newBaseEvent("run.completed"),
		RunID:      runID,
		Outcome:    outcome,
		Confidence: confidence,
		Warnings:   warnings,
	}
}
