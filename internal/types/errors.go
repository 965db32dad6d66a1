package types

import (
	"errors"
	"fmt"
)

// ErrSizeUnknown is carried by a ProbeError when the server is reachable but
// never reveals the resource length. The download can still proceed as a
// single unsized stream.
var ErrSizeUnknown = errors.New("size unknown")

type ProbeError struct {
	URL string
	Err error
}

func (e *ProbeError) Error() string {
	return fmt.Sprintf("probe %s: %v", e.URL, e.Err)
}

func (e *ProbeError) Unwrap() error { return e.Err }

type PlanError struct {
	Reason string
}

func (e *PlanError) Error() string {
	return "invalid plan: " + e.Reason
}

// NetworkError is a failed request or body read. Retryable errors are
// absorbed by the segment worker's retry loop.
type NetworkError struct {
	Op        string
	Retryable bool
	Err       error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

type RetryExhaustedError struct {
	Segment  int
	Attempts int
	Err      error
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("segment %d failed after %d attempts: %v", e.Segment, e.Attempts, e.Err)
}

func (e *RetryExhaustedError) Unwrap() error { return e.Err }

type DiskError struct {
	Path string
	Err  error
}

func (e *DiskError) Error() string {
	return fmt.Sprintf("disk error on %s: %v", e.Path, e.Err)
}

func (e *DiskError) Unwrap() error { return e.Err }

type MergeError struct {
	Segment  int
	Path     string
	Expected int64
	Actual   int64
	Err      error
}

func (e *MergeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("merge segment %d (%s): %v", e.Segment, e.Path, e.Err)
	}
	return fmt.Sprintf("merge segment %d (%s): expected %d bytes, found %d", e.Segment, e.Path, e.Expected, e.Actual)
}

func (e *MergeError) Unwrap() error { return e.Err }

// ProtocolError means the inbound channel can no longer be trusted.
type ProtocolError struct {
	Reason string
	Err    error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("protocol error: %s: %v", e.Reason, e.Err)
	}
	return "protocol error: " + e.Reason
}

func (e *ProtocolError) Unwrap() error { return e.Err }

type UnknownJobError struct {
	ID string
}

func (e *UnknownJobError) Error() string {
	return "unknown job: " + e.ID
}
