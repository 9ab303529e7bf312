package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrTransport marks subscription/connection failures after retries ran out.
	ErrTransport = errors.New("realtime transport failure")
	// ErrWriteRejected marks a server-side rejection of a write.
	ErrWriteRejected = errors.New("write rejected")
	// ErrPreconditionFailed marks a local precondition that blocked a write.
	ErrPreconditionFailed = errors.New("precondition failed")
	// ErrStaleEvent marks an event whose topic is no longer the active scope.
	ErrStaleEvent = errors.New("stale event")
	// ErrNotFound marks a confirm whose entry was removed in the meantime.
	ErrNotFound = errors.New("not found")
)

// RejectedError carries a display-ready reason for a rolled back mutation.
type RejectedError struct {
	Op     string
	Reason error
}

func (e *RejectedError) Error() string {
	if e.Reason == nil {
		return e.Op + ": " + ErrWriteRejected.Error()
	}

	return fmt.Sprintf("%s: %v", e.Op, e.Reason)
}

func (e *RejectedError) Is(target error) bool {
	return target == ErrWriteRejected
}

func (e *RejectedError) Unwrap() error {
	return e.Reason
}

// PreconditionError is surfaced before any write is attempted.
type PreconditionError struct {
	Reason string
	Err    error
}

func (e *PreconditionError) Error() string {
	return e.Reason
}

func (e *PreconditionError) Is(target error) bool {
	return target == ErrPreconditionFailed
}

func (e *PreconditionError) Unwrap() error {
	return e.Err
}

// UserMessage returns the text shown next to a reverted change.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var pre *PreconditionError
	if errors.As(err, &pre) {
		return pre.Reason
	}
	var rejected *RejectedError
	if errors.As(err, &rejected) && rejected.Reason != nil {
		return strings.TrimSpace(rejected.Reason.Error())
	}

	return err.Error()
}
