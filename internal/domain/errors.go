package domain

import (
	"errors"
	"fmt"
)

var (
	ErrRunNotFound       = errors.New("run not found")
	ErrLookNotFound      = errors.New("look not found")
	ErrItemNotFound      = errors.New("catalog item not found")
	ErrProfileNotFound   = errors.New("user profile not found")
	ErrUnknownStep       = errors.New("unknown step")
	ErrUnknownWorkflow   = errors.New("unknown workflow type")
	ErrInvalidTransition = errors.New("invalid run status transition")

	// ErrStepConflict is returned when a claim or outcome write loses the
	// version compare-and-set.
	ErrStepConflict = errors.New("step record changed concurrently")

	// ErrStepInFlight means another executor holds a live lease on the step.
	ErrStepInFlight = errors.New("step attempt in flight elsewhere")

	ErrLimiterTimeout = errors.New("timed out waiting for a model slot")

	// ErrRunSuspended means a run cannot progress right now and must stay
	// running to be driven again later.
	ErrRunSuspended = errors.New("run suspended")
)

// ErrorKind classifies a recorded step failure.
type ErrorKind string

const (
	KindNone             ErrorKind = ""
	KindFatalInput       ErrorKind = "fatal_input"
	KindRetryable        ErrorKind = "retryable"
	KindTerminal         ErrorKind = "terminal"
	KindRetriesExhausted ErrorKind = "retries_exhausted"
	KindStoreConsistency ErrorKind = "store_consistency"
)

// FatalInputError marks malformed or missing input. Never retried.
type FatalInputError struct {
	Err error
}

func (e *FatalInputError) Error() string { return "fatal input: " + e.Err.Error() }
func (e *FatalInputError) Unwrap() error { return e.Err }

func NewFatalInputError(format string, args ...any) error {
	return &FatalInputError{Err: fmt.Errorf(format, args...)}
}

// RetryableError marks a transient external failure.
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string { return "retryable: " + e.Err.Error() }
func (e *RetryableError) Unwrap() error { return e.Err }

func NewRetryableError(err error) error {
	return &RetryableError{Err: err}
}

// TerminalError marks an explicit rejection that must not be retried.
type TerminalError struct {
	Err error
}

func (e *TerminalError) Error() string { return "terminal: " + e.Err.Error() }
func (e *TerminalError) Unwrap() error { return e.Err }

func NewTerminalError(err error) error {
	return &TerminalError{Err: err}
}

// StoreConsistencyError wraps a concurrent-write conflict on a step record.
type StoreConsistencyError struct {
	Ref string
	Err error
}

func (e *StoreConsistencyError) Error() string {
	return fmt.Sprintf("store consistency on %s: %v", e.Ref, e.Err)
}
func (e *StoreConsistencyError) Unwrap() error { return e.Err }

// StepFailedError is what the executor surfaces for a step that reached
// failed_terminal, whether now or on an earlier attempt.
type StepFailedError struct {
	StepName string
	StepKey  string
	Attempt  int
	Kind     ErrorKind
	Reason   string
}

func (e *StepFailedError) Error() string {
	return fmt.Sprintf("step %s/%s failed after %d attempt(s) (%s): %s",
		e.StepName, e.StepKey, e.Attempt, e.Kind, e.Reason)
}
