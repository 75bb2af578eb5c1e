package core

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind classifies a chunk failure for retry decisions.
type ErrorKind string

const (
	// KindTransient covers upstream rate limits, network faults, and other
	// failures that may succeed on a later attempt.
	KindTransient ErrorKind = "transient"

	// KindTimeout marks an attempt that exceeded its hard deadline.
	KindTimeout ErrorKind = "timeout"

	// KindContent marks chunks with no processable content; retrying will
	// not change the outcome.
	KindContent ErrorKind = "content"

	// KindSystem marks worker crashes and serialization faults, including
	// chunks reclaimed by the stale-processing sweep.
	KindSystem ErrorKind = "system"

	// KindCancelled marks attempts abandoned because the owning job was
	// cancelled.
	KindCancelled ErrorKind = "cancelled"
)

// Retryable reports whether a failure of this kind is worth retrying.
func (k ErrorKind) Retryable() bool {
	switch k {
	case KindTransient, KindTimeout, KindSystem:
		return true
	}
	return false
}

// Outcome is the normalized result of one chunk attempt. Workers convert
// every processor result and fault into an Outcome before it reaches
// persistence or the finalizer.
type Outcome struct {
	Success bool
	Payload []byte
	Kind    ErrorKind
	Message string
}

// Succeeded builds a successful outcome carrying the processed payload.
func Succeeded(payload []byte) Outcome {
	return Outcome{Success: true, Payload: payload}
}

// Failed builds a classified failure outcome.
func Failed(kind ErrorKind, message string) Outcome {
	return Outcome{Kind: kind, Message: message}
}

// ContentError indicates the chunk has no processable content and should
// not be retried.
type ContentError struct {
	Err error
}

func (e *ContentError) Error() string {
	return fmt.Sprintf("no processable content: %v", e.Err)
}

func (e *ContentError) Unwrap() error {
	return e.Err
}

// Content wraps an error to mark it as a content failure.
func Content(err error) error {
	return &ContentError{Err: err}
}

// TransientError indicates a failure that may succeed on retry.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient: %v", e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// Transient wraps an error to mark it as retryable.
func Transient(err error) error {
	return &TransientError{Err: err}
}

// Classify maps an error from the processing boundary to an ErrorKind.
// Unrecognized errors default to transient; permanent failures must be
// marked explicitly with Content.
func Classify(err error) ErrorKind {
	var contentErr *ContentError
	if errors.As(err, &contentErr) {
		return KindContent
	}
	var transientErr *TransientError
	if errors.As(err, &transientErr) {
		return KindTransient
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	if errors.Is(err, context.Canceled) {
		return KindCancelled
	}
	return KindTransient
}
