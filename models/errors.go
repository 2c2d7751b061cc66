package models

import (
	"errors"
	"fmt"
)

// FailureKind classifies why a conversion did not produce an artifact.
type FailureKind string

const (
	// FailureEngineCrashed: the engine process exited nonzero without
	// usable output. Retried once; crashes are often transient.
	FailureEngineCrashed FailureKind = "engine_crashed"

	// FailureEngineTimedOut: the engine exceeded the job timeout and was
	// killed. Never retried; the input is fundamentally oversized.
	FailureEngineTimedOut FailureKind = "engine_timed_out"

	// FailureInvalidOutput: the engine exited cleanly but the output was
	// empty or did not match the target format signature.
	FailureInvalidOutput FailureKind = "engine_invalid_output"

	// FailureEngineUnavailable: the engine binary is missing or could not
	// start. Fatal at startup, never retried per job.
	FailureEngineUnavailable FailureKind = "engine_unavailable"

	// FailureOverloaded: the queue is full; the job was never admitted.
	FailureOverloaded FailureKind = "overloaded"

	// FailureCancelled: the caller cancelled the job before it finished.
	FailureCancelled FailureKind = "cancelled"

	// FailureNotFound / FailureNotReady classify retrieval outcomes, not
	// job outcomes; they never appear on a terminal job.
	FailureNotFound FailureKind = "not_found"
	FailureNotReady FailureKind = "not_ready"
)

// Failure is the terminal error detail carried by a failed job.
type Failure struct {
	Kind    FailureKind `json:"kind"`
	Message string      `json:"message"`
	err     error
}

func NewFailure(kind FailureKind, message string, err error) *Failure {
	return &Failure{Kind: kind, Message: message, err: err}
}

func (f *Failure) Error() string {
	if f.err != nil {
		return fmt.Sprintf("%s: %s: %v", f.Kind, f.Message, f.err)
	}
	return fmt.Sprintf("%s: %s", f.Kind, f.Message)
}

func (f *Failure) Unwrap() error { return f.err }

// FailureOf extracts the Failure from an error chain. Errors without one are
// classified as engine_unavailable: anything outside the engine's own
// taxonomy is an environment defect (workspace IO, disk full) and must not
// be retried as if it were a crash.
func FailureOf(err error) *Failure {
	var f *Failure
	if errors.As(err, &f) {
		return f
	}
	return NewFailure(FailureEngineUnavailable, err.Error(), err)
}

// StateForFailure maps a failure kind to the terminal job state it implies.
func StateForFailure(kind FailureKind) JobState {
	switch kind {
	case FailureEngineTimedOut:
		return StateTimedOut
	case FailureCancelled:
		return StateCancelled
	default:
		return StateFailed
	}
}

// ErrOverloaded is returned by Submit when pool and queue are both full.
var ErrOverloaded = NewFailure(FailureOverloaded, "conversion queue is full", nil)
