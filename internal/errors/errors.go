// Package errors provides centralized error definitions and error handling
// utilities for the veridict pipeline. It defines domain-specific errors,
// semantic error types, error constructors with context wrapping, and error
// classification helpers.
//
// # Error Types
//
// Domain-specific errors represent errors from specific subsystems:
//   - WorkerError: a single inference worker failed for a unit of work
//   - StageError: a pipeline stage finished below its minimum-success threshold
//   - BudgetError: the shared usage ledger refused a charge
//
// Semantic errors represent common error conditions:
//   - NotFoundError: resource not found
//   - ValidationError: invalid input or state
//   - TimeoutError: operation timed out
//
// # Error Classification
//
// Errors can be classified by severity and behavior:
//   - Retryable: transient worker failures that may succeed on retry
//   - Fatal: errors that must abort the run and may not be swallowed
//     by any stage (stage insufficiency, budget breach)
package errors

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Re-export standard library functions for convenience.
// This allows callers to import only this package for all error handling.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	New    = errors.New
	Join   = errors.Join
)

// Severity represents the severity level of an error.
type Severity int

const (
	// SeverityDebug is for errors that are useful for debugging but not critical.
	SeverityDebug Severity = iota
	// SeverityInfo is for informational errors that don't indicate a problem.
	SeverityInfo
	// SeverityWarning is for errors that might indicate a problem but aren't critical.
	SeverityWarning
	// SeverityError is for errors that indicate a real problem.
	SeverityError
	// SeverityCritical is for errors that abort the run.
	SeverityCritical
)

// String returns the string representation of the severity level.
func (s Severity) String() string {
	switch s {
	case SeverityDebug:
		return "debug"
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// -----------------------------------------------------------------------------
// Sentinel Errors
// -----------------------------------------------------------------------------

// Worker-related sentinel errors
var (
	// ErrWorkerTimeout indicates a worker call exceeded its model timeout.
	ErrWorkerTimeout = New("worker call timed out")
	// ErrWorkerEmpty indicates a worker returned a missing or empty response.
	ErrWorkerEmpty = New("worker returned empty response")
	// ErrQualityGate indicates a worker response failed the stage quality gate.
	ErrQualityGate = New("worker response rejected by quality gate")
	// ErrParseFailed indicates a worker's raw output could not be rescued by
	// any repair strategy.
	ErrParseFailed = New("worker output could not be parsed")
	// ErrChainExhausted indicates the primary worker and every ordered
	// substitute exhausted their retries.
	ErrChainExhausted = New("worker substitution chain exhausted")
)

// Stage-related sentinel errors
var (
	// ErrStageInsufficient indicates fewer workers succeeded than the stage minimum.
	ErrStageInsufficient = New("stage below minimum successful workers")
	// ErrStageDeadline indicates the stage deadline elapsed below the minimum.
	ErrStageDeadline = New("stage deadline elapsed")
	// ErrArbiterUnavailable indicates the arbiter and all substitutes failed;
	// no later stage can compensate for a missing final decision.
	ErrArbiterUnavailable = New("arbiter unavailable")
)

// Resource sentinel errors
var (
	// ErrBudgetExceeded indicates the usage ledger refused a charge.
	ErrBudgetExceeded = New("usage budget exceeded")
)

// General sentinel errors
var (
	// ErrTimeout indicates that an operation timed out.
	ErrTimeout = New("operation timed out")
	// ErrCanceled indicates that an operation was canceled.
	ErrCanceled = New("operation canceled")
	// ErrInvalidInput indicates that input validation failed.
	ErrInvalidInput = New("invalid input")
)

// -----------------------------------------------------------------------------
// Base Error Interface
// -----------------------------------------------------------------------------

// PipelineError is the base interface for all veridict errors. It extends the
// standard error interface with classification methods.
type PipelineError interface {
	error

	// Unwrap returns the underlying error, if any.
	Unwrap() error

	// Is reports whether this error matches the target error.
	Is(target error) bool

	// Severity returns the severity level of this error.
	Severity() Severity

	// IsRetryable returns true if the error is transient and the operation
	// may succeed on retry.
	IsRetryable() bool

	// IsFatal returns true if the error must abort the run and must
	// propagate through every stage.
	IsFatal() bool
}

// baseError provides common functionality for all error types.
type baseError struct {
	message   string
	cause     error
	severity  Severity
	retryable bool
	fatal     bool
}

func (e *baseError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

func (e *baseError) Unwrap() error {
	return e.cause
}

func (e *baseError) Is(target error) bool {
	if e.cause != nil {
		return errors.Is(e.cause, target)
	}
	return false
}

func (e *baseError) Severity() Severity {
	return e.severity
}

func (e *baseError) IsRetryable() bool {
	return e.retryable
}

func (e *baseError) IsFatal() bool {
	return e.fatal
}

// -----------------------------------------------------------------------------
// Domain-Specific Errors
// -----------------------------------------------------------------------------

// WorkerError represents a failure of a single inference worker for one unit
// of work (one chunk, one audit pass, one opinion).
//
// Example:
//
//	err := errors.NewWorkerError("quality gate rejected output", errors.ErrQualityGate)
//	err = err.WithWorkerID("extractor-2").WithModel("sonnet-large").WithChunk(3)
type WorkerError struct {
	baseError
	WorkerID string
	Model    string
	Stage    string
	Chunk    int
	Attempts int
}

// NewWorkerError creates a new WorkerError. Worker failures are retryable by
// default; the resilient caller decides when the retry budget is spent.
func NewWorkerError(message string, cause error) *WorkerError {
	return &WorkerError{
		baseError: baseError{
			message:   message,
			cause:     cause,
			severity:  SeverityWarning,
			retryable: true,
		},
		Chunk: -1, // -1 indicates not chunk-scoped
	}
}

// WithWorkerID adds the worker id to the error context.
func (e *WorkerError) WithWorkerID(id string) *WorkerError {
	e.WorkerID = id
	return e
}

// WithModel adds the model name to the error context.
func (e *WorkerError) WithModel(model string) *WorkerError {
	e.Model = model
	return e
}

// WithStage adds the stage name to the error context.
func (e *WorkerError) WithStage(stage string) *WorkerError {
	e.Stage = stage
	return e
}

// WithChunk adds the chunk index to the error context.
func (e *WorkerError) WithChunk(idx int) *WorkerError {
	e.Chunk = idx
	return e
}

// WithAttempts records how many attempts were made before giving up.
func (e *WorkerError) WithAttempts(n int) *WorkerError {
	e.Attempts = n
	return e
}

// WithRetryable sets whether the error is retryable.
func (e *WorkerError) WithRetryable(r bool) *WorkerError {
	e.retryable = r
	return e
}

// Error returns the formatted error message.
func (e *WorkerError) Error() string {
	var parts []string
	if e.WorkerID != "" {
		parts = append(parts, fmt.Sprintf("worker=%s", e.WorkerID))
	}
	if e.Model != "" {
		parts = append(parts, fmt.Sprintf("model=%s", e.Model))
	}
	if e.Stage != "" {
		parts = append(parts, fmt.Sprintf("stage=%s", e.Stage))
	}
	if e.Chunk >= 0 {
		parts = append(parts, fmt.Sprintf("chunk=%d", e.Chunk))
	}

	prefix := "worker error"
	if len(parts) > 0 {
		prefix = fmt.Sprintf("worker error [%s]", strings.Join(parts, ", "))
	}

	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// Is checks if this error matches the target.
func (e *WorkerError) Is(target error) bool {
	if _, ok := target.(*WorkerError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// StageError represents a pipeline stage that finished below its
// minimum-success threshold. Stage errors are fatal: the run aborts and the
// error reports which workers failed.
//
// Example:
//
//	err := errors.NewStageError("extraction", 1, 2, errors.ErrStageInsufficient)
//	err = err.WithFailedWorkers([]string{"extractor-2", "extractor-3"})
type StageError struct {
	baseError
	Stage     string
	Succeeded int
	Required  int
	Failed    []string
}

// NewStageError creates a new StageError.
func NewStageError(stage string, succeeded, required int, cause error) *StageError {
	return &StageError{
		baseError: baseError{
			message:  fmt.Sprintf("%d of %d required workers succeeded", succeeded, required),
			cause:    cause,
			severity: SeverityCritical,
			fatal:    true,
		},
		Stage:     stage,
		Succeeded: succeeded,
		Required:  required,
	}
}

// WithFailedWorkers records which workers failed.
func (e *StageError) WithFailedWorkers(ids []string) *StageError {
	e.Failed = ids
	return e
}

// Error returns the formatted error message.
func (e *StageError) Error() string {
	prefix := fmt.Sprintf("stage error [stage=%s]", e.Stage)
	msg := e.message
	if len(e.Failed) > 0 {
		msg = fmt.Sprintf("%s (failed: %s)", msg, strings.Join(e.Failed, ", "))
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, msg, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, msg)
}

// Is checks if this error matches the target.
func (e *StageError) Is(target error) bool {
	if _, ok := target.(*StageError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// BudgetError represents a refused charge on the shared usage ledger. Budget
// errors are fatal and must not be swallowed by per-worker error handling.
type BudgetError struct {
	baseError
	LimitTokens int64
	UsedTokens  int64
	Attempted   int64
}

// NewBudgetError creates a new BudgetError.
func NewBudgetError(limit, used, attempted int64) *BudgetError {
	return &BudgetError{
		baseError: baseError{
			message:  fmt.Sprintf("charge of %d tokens would exceed limit %d (used %d)", attempted, limit, used),
			cause:    ErrBudgetExceeded,
			severity: SeverityCritical,
			fatal:    true,
		},
		LimitTokens: limit,
		UsedTokens:  used,
		Attempted:   attempted,
	}
}

// Error returns the formatted error message.
func (e *BudgetError) Error() string {
	return fmt.Sprintf("budget error: %s", e.message)
}

// Is checks if this error matches the target.
func (e *BudgetError) Is(target error) bool {
	if _, ok := target.(*BudgetError); ok {
		return true
	}
	return errors.Is(target, ErrBudgetExceeded) || e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// Semantic Errors
// -----------------------------------------------------------------------------

// NotFoundError represents a resource that could not be found.
type NotFoundError struct {
	baseError
	ResourceType string
	ResourceID   string
}

// NewNotFoundError creates a new NotFoundError.
func NewNotFoundError(resourceType, resourceID string) *NotFoundError {
	return &NotFoundError{
		baseError: baseError{
			message:  fmt.Sprintf("%s '%s' not found", resourceType, resourceID),
			severity: SeverityWarning,
		},
		ResourceType: resourceType,
		ResourceID:   resourceID,
	}
}

// WithCause adds a cause to the error.
func (e *NotFoundError) WithCause(cause error) *NotFoundError {
	e.cause = cause
	return e
}

// Error returns the formatted error message.
func (e *NotFoundError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s '%s' not found: %v", e.ResourceType, e.ResourceID, e.cause)
	}
	return fmt.Sprintf("%s '%s' not found", e.ResourceType, e.ResourceID)
}

// Is checks if this error matches the target.
func (e *NotFoundError) Is(target error) bool {
	if _, ok := target.(*NotFoundError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// ValidationError represents invalid input or state, typically a worker
// payload rejected at the boundary.
type ValidationError struct {
	baseError
	Field string
	Value any
}

// NewValidationError creates a new ValidationError.
func NewValidationError(message string) *ValidationError {
	return &ValidationError{
		baseError: baseError{
			message:  message,
			severity: SeverityWarning,
		},
	}
}

// WithField adds a field name to the error context.
func (e *ValidationError) WithField(field string) *ValidationError {
	e.Field = field
	return e
}

// WithValue adds the invalid value to the error context.
func (e *ValidationError) WithValue(value any) *ValidationError {
	e.Value = value
	return e
}

// WithCause adds a cause to the error.
func (e *ValidationError) WithCause(cause error) *ValidationError {
	e.cause = cause
	return e
}

// Error returns the formatted error message.
func (e *ValidationError) Error() string {
	var parts []string
	if e.Field != "" {
		parts = append(parts, fmt.Sprintf("field=%s", e.Field))
	}
	if e.Value != nil {
		parts = append(parts, fmt.Sprintf("value=%v", e.Value))
	}

	prefix := "validation error"
	if len(parts) > 0 {
		prefix = fmt.Sprintf("validation error [%s]", strings.Join(parts, ", "))
	}

	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// Is checks if this error matches the target.
func (e *ValidationError) Is(target error) bool {
	if _, ok := target.(*ValidationError); ok {
		return true
	}
	if errors.Is(target, ErrInvalidInput) {
		return true
	}
	return e.baseError.Is(target)
}

// TimeoutError represents an operation that timed out.
type TimeoutError struct {
	baseError
	Operation string
	Duration  time.Duration
}

// NewTimeoutError creates a new TimeoutError.
func NewTimeoutError(operation string, duration time.Duration) *TimeoutError {
	return &TimeoutError{
		baseError: baseError{
			message:   operation,
			severity:  SeverityWarning,
			retryable: true, // Timeouts are generally retryable
		},
		Operation: operation,
		Duration:  duration,
	}
}

// WithCause adds a cause to the error.
func (e *TimeoutError) WithCause(cause error) *TimeoutError {
	e.cause = cause
	return e
}

// WithRetryable sets whether the error is retryable (default true for timeouts).
func (e *TimeoutError) WithRetryable(r bool) *TimeoutError {
	e.retryable = r
	return e
}

// Error returns the formatted error message.
func (e *TimeoutError) Error() string {
	base := fmt.Sprintf("timeout error: %s (timeout: %s)", e.Operation, e.Duration)
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", base, e.cause)
	}
	return base
}

// Is checks if this error matches the target.
func (e *TimeoutError) Is(target error) bool {
	if _, ok := target.(*TimeoutError); ok {
		return true
	}
	if errors.Is(target, ErrTimeout) {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// Error Classification Helpers
// -----------------------------------------------------------------------------

// IsRetryable returns true if the error represents a transient condition that
// may succeed on retry. Fatal errors are never retryable, even when wrapped
// by a retryable error type.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if IsFatal(err) {
		return false
	}

	var perr PipelineError
	if As(err, &perr) {
		return perr.IsRetryable()
	}

	return Is(err, ErrTimeout) || Is(err, ErrWorkerTimeout) ||
		Is(err, ErrWorkerEmpty) || Is(err, ErrQualityGate) || Is(err, ErrParseFailed)
}

// IsFatal returns true if the error must abort the run. Fatal errors
// propagate through every stage and are never folded into per-worker
// recovery.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}

	var stageErr *StageError
	var budgetErr *BudgetError
	if As(err, &stageErr) || As(err, &budgetErr) {
		return true
	}

	return Is(err, ErrBudgetExceeded) || Is(err, ErrStageInsufficient) ||
		Is(err, ErrArbiterUnavailable)
}

// GetSeverity returns the severity level of the error. Returns SeverityError
// for errors that don't implement PipelineError.
func GetSeverity(err error) Severity {
	if err == nil {
		return SeverityDebug
	}

	var perr PipelineError
	if As(err, &perr) {
		return perr.Severity()
	}

	return SeverityError
}

// -----------------------------------------------------------------------------
// Convenience Constructors
// -----------------------------------------------------------------------------

// Wrap wraps an error with additional context message.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with a formatted context message.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}
