package domain

import (
	"context"
	"errors"
	"fmt"
)

// ErrCheckpointNotFound is returned when a run has no checkpoint yet.
var ErrCheckpointNotFound = errors.New("checkpoint not found")

// ErrActivityNotFound is returned when no record exists for a node attempt.
var ErrActivityNotFound = errors.New("activity not found")

// ErrProgramNotFound is returned when a program id is unknown to the store.
var ErrProgramNotFound = errors.New("program not found")

// ErrRunFinished is returned when resuming a run that already completed.
var ErrRunFinished = errors.New("run already finished")

// ErrNodeAlreadyExecuted signals an attempt to run an executed node again.
var ErrNodeAlreadyExecuted = errors.New("node is already executed")

// ErrUnknownNodeType is returned when the registry has no factory for a tag.
var ErrUnknownNodeType = errors.New("unknown node type")

// NodeFault wraps a failure of a node's own logic.
type NodeFault struct {
	NodeID  string
	Attempt int
	Err     error
}

func (e *NodeFault) Error() string {
	return fmt.Sprintf("node %s failed (attempt %d): %v", e.NodeID, e.Attempt, e.Err)
}

func (e *NodeFault) Unwrap() error { return e.Err }

// RaiseError is an explicit in-program failure. It always ends the run.
type RaiseError struct {
	Code    string
	Message string
}

func (e *RaiseError) Error() string {
	if e.Message == "" {
		return "raised " + e.Code
	}
	return fmt.Sprintf("raised %s: %s", e.Code, e.Message)
}

// StoreFault wraps an I/O failure of the state store or the backplane.
type StoreFault struct {
	Op  string
	Err error
}

func (e *StoreFault) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *StoreFault) Unwrap() error { return e.Err }

// Retryable reports that the operation may succeed on redelivery.
func (e *StoreFault) Retryable() bool { return true }

type retryableError struct {
	err error
}

func (e *retryableError) Error() string   { return e.err.Error() }
func (e *retryableError) Unwrap() error   { return e.err }
func (e *retryableError) Retryable() bool { return true }

// Retryable marks err as transient. Node implementations use it to classify
// their own failures.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &retryableError{err: err}
}

// IsRetryable reports whether err was classified as transient anywhere in its
// chain. Cancellation and deadlines count as transient: another worker may
// pick the frame up.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var r interface{ Retryable() bool }
	if errors.As(err, &r) {
		return r.Retryable()
	}
	return false
}
