package models

import (
	"time"

	"github.com/google/uuid"
)

// JobState is the lifecycle state of a conversion job.
type JobState string

const (
	StateQueued    JobState = "queued"
	StateRunning   JobState = "running"
	StateSucceeded JobState = "succeeded"
	StateFailed    JobState = "failed"
	StateTimedOut  JobState = "timed_out"
	StateCancelled JobState = "cancelled"
)

// Terminal reports whether a job in this state will never change state again.
func (s JobState) Terminal() bool {
	switch s {
	case StateSucceeded, StateFailed, StateTimedOut, StateCancelled:
		return true
	}
	return false
}

// CanTransition reports whether moving from s to next is a legal state
// transition. Transitions are monotonic: once terminal, always terminal.
func (s JobState) CanTransition(next JobState) bool {
	switch s {
	case StateQueued:
		return next == StateRunning || next == StateCancelled
	case StateRunning:
		return next.Terminal()
	}
	return false
}

// ConversionJob is one unit of conversion work. The scheduler owns the job
// until it reaches a terminal state, after which it is handed to the result
// store and served read-only.
type ConversionJob struct {
	ID           string     `json:"jobId"`
	InputName    string     `json:"inputName"`
	InputType    string     `json:"inputType"`
	TargetFormat string     `json:"targetFormat"`
	State        JobState   `json:"state"`
	Attempts     int        `json:"attempts"`
	SubmittedAt  time.Time  `json:"submittedAt"`
	StartedAt    *time.Time `json:"startedAt,omitempty"`
	CompletedAt  *time.Time `json:"completedAt,omitempty"`
	Failure      *Failure   `json:"failure,omitempty"`
	Artifact     *Artifact  `json:"-"`

	// Input holds the raw document bytes until the engine has consumed
	// them. The worker drops the reference once the job is terminal so
	// queued payloads do not outlive their usefulness.
	Input []byte `json:"-"`
}

// NewConversionJob creates a queued job with a fresh id.
func NewConversionJob(name, contentType, targetFormat string, input []byte) *ConversionJob {
	return &ConversionJob{
		ID:           uuid.NewString(),
		InputName:    name,
		InputType:    contentType,
		TargetFormat: targetFormat,
		State:        StateQueued,
		SubmittedAt:  time.Now().UTC(),
		Input:        input,
	}
}

// Snapshot returns a copy safe to hand outside the scheduler's lock.
// The artifact pointer is shared; artifacts are immutable.
func (j *ConversionJob) Snapshot() *ConversionJob {
	c := *j
	c.Input = nil
	if j.StartedAt != nil {
		t := *j.StartedAt
		c.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		c.CompletedAt = &t
	}
	if j.Failure != nil {
		f := *j.Failure
		c.Failure = &f
	}
	return &c
}

// Duration returns the wall time the job spent running, or zero if it never
// started or has not finished.
func (j *ConversionJob) Duration() time.Duration {
	if j.StartedAt == nil || j.CompletedAt == nil {
		return 0
	}
	return j.CompletedAt.Sub(*j.StartedAt)
}
