package orchestrator

import (
	"errors"
	"fmt"
	"time"
)

// ErrorType classifies pipeline failures
type ErrorType string

const (
	ErrorTypeExecution    ErrorType = "execution"
	ErrorTypeTimeout      ErrorType = "timeout"
	ErrorTypeCancellation ErrorType = "cancellation"
	ErrorTypeNotFound     ErrorType = "not_found"
)

// StageError represents a failure attributed to one pipeline stage
type StageError struct {
	Type    ErrorType
	Stage   string
	Message string
	Cause   error
}

// Error implements the error interface
func (e *StageError) Error() string {
	if e == nil {
		return "unknown stage error"
	}
	if e.Stage != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Type, e.Stage, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

// Unwrap returns the underlying error
func (e *StageError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// NewExecutionError wraps a collaborator failure in a stage
func NewExecutionError(stage string, cause error) *StageError {
	return &StageError{
		Type:    ErrorTypeExecution,
		Stage:   stage,
		Message: cause.Error(),
		Cause:   cause,
	}
}

// NewTimeoutError reports a stage that exceeded its deadline
func NewTimeoutError(stage string, timeout time.Duration) *StageError {
	return &StageError{
		Type:    ErrorTypeTimeout,
		Stage:   stage,
		Message: fmt.Sprintf("stage exceeded timeout of %s", timeout),
	}
}

// NewCancellationError reports a run stopped before completion
func NewCancellationError(stage string) *StageError {
	return &StageError{
		Type:    ErrorTypeCancellation,
		Stage:   stage,
		Message: "analysis cancelled",
	}
}

// NewDatasetNotFoundError reports a run started without an upload
func NewDatasetNotFoundError(jobID string) *StageError {
	return &StageError{
		Type:    ErrorTypeNotFound,
		Message: fmt.Sprintf("no dataset uploaded for job %s", jobID),
	}
}

// IsCancellation checks whether err stems from a cancelled run
func IsCancellation(err error) bool {
	var se *StageError
	if errors.As(err, &se) {
		return se.Type == ErrorTypeCancellation
	}
	return false
}
