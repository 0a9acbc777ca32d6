// Package errors provides unified, structured error handling for the graph
// engine, matching the error taxonomy the engine's design calls for: user-code
// failures, broker job failures, ledger I/O failures, topology errors, and
// iteration-cap exhaustion.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unique error code.
type ErrorCode string

const (
	// User-code failure inside a node callback. Fatal to the run.
	ErrCodeUserCode ErrorCode = "ENGINE_1001"

	// Broker job failure. Never fatal; surfaced via the owning op's
	// failure_behavior.
	ErrCodeBrokerJob ErrorCode = "ENGINE_2001"

	// Ledger I/O failure. Fatal; the node raises and the scheduler aborts.
	ErrCodeLedgerIO ErrorCode = "ENGINE_3001"

	// Topology error, raised at compile/build time.
	ErrCodeTopology ErrorCode = "ENGINE_4001"

	// Iteration-cap exhaustion.
	ErrCodeIterationCap ErrorCode = "ENGINE_5001"

	// Generic internal error.
	ErrCodeInternal ErrorCode = "ENGINE_5999"
)

// EngineError represents a structured error with a code, a message, and
// optional details for diagnostics.
type EngineError struct {
	Code    ErrorCode              `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
	Err     error                  `json:"-"`
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *EngineError) Unwrap() error {
	return e.Err
}

// WithDetails adds additional details to the error.
func (e *EngineError) WithDetails(key string, value interface{}) *EngineError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// New creates a new EngineError.
func New(code ErrorCode, message string) *EngineError {
	return &EngineError{Code: code, Message: message}
}

// Wrap wraps an existing error with an EngineError.
func Wrap(code ErrorCode, message string, err error) *EngineError {
	return &EngineError{Code: code, Message: message, Err: err}
}

// UserCodeFailure wraps a panic or error raised inside a node callback.
// Per the error-handling design, this aborts the run with partial state
// intact in buffers and ledgers so a resume can retry.
func UserCodeFailure(node string, err error) *EngineError {
	return Wrap(ErrCodeUserCode, "user code failed inside node callback", err).
		WithDetails("node", node)
}

// BrokerJobFailed records a terminal FAILED broker job. Never fatal; the
// owning BrokerOp's failure_behavior decides what happens next.
func BrokerJobFailed(jobIdx string, err error) *EngineError {
	return Wrap(ErrCodeBrokerJob, "broker job failed", err).
		WithDetails("job_idx", jobIdx)
}

// LedgerIOFailure wraps a fatal I/O error encountered while appending to or
// compacting a ledger.
func LedgerIOFailure(path, op string, err error) *EngineError {
	return Wrap(ErrCodeLedgerIO, "ledger I/O failed", err).
		WithDetails("path", path).
		WithDetails("op", op)
}

// TopologyError is raised at graph-build time: mismatched port arity,
// invalid node or port references, a disallowed fan-out, or an invalid or
// overlapping segment concatenation. Cycles are not checked.
func TopologyError(reason string) *EngineError {
	return New(ErrCodeTopology, reason)
}

// IterationCapExceeded is returned when execute() exhausts max_iterations.
func IterationCapExceeded(maxIterations int) *EngineError {
	return New(ErrCodeIterationCap, "scheduler iteration cap exceeded").
		WithDetails("max_iterations", maxIterations)
}

// Internal wraps an unexpected internal error.
func Internal(message string, err error) *EngineError {
	return Wrap(ErrCodeInternal, message, err)
}

// IsEngineError checks if an error is an EngineError.
func IsEngineError(err error) bool {
	var engineErr *EngineError
	return errors.As(err, &engineErr)
}

// GetEngineError extracts an EngineError from an error chain.
func GetEngineError(err error) *EngineError {
	var engineErr *EngineError
	if errors.As(err, &engineErr) {
		return engineErr
	}
	return nil
}

// Code returns the ErrorCode carried by err, or "" if err is not (or does
// not wrap) an EngineError.
func Code(err error) ErrorCode {
	if e := GetEngineError(err); e != nil {
		return e.Code
	}
	return ""
}
