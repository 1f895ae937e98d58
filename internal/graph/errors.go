package graph

import (
	"errors"
	"fmt"
)

// Common errors returned by gateway operations.
//
// These errors can be checked using errors.Is() for proper error handling:
//
//	if errors.Is(err, graph.ErrNotFound) {
//	    // Entity does not exist on the remote yet
//	}
var (
	// ErrNotFound is returned when the requested entity does not exist
	// in the remote graph.
	ErrNotFound = errors.New("entity not found in graph")

	// ErrAuth is returned when authentication fails after the single
	// token-refresh retry. Matched by all AuthError values.
	ErrAuth = errors.New("graph authentication failed")

	// ErrNetwork is returned for transient transport failures after
	// retries are exhausted. Matched by all NetworkError values.
	// Callers treat it as "offline": state mutations go to the queue,
	// content pushes are retried on the next run.
	ErrNetwork = errors.New("graph unreachable")

	// ErrDuplicate is returned when an upsert failed to merge on
	// (graph_id, id) and the remote reported a duplicate node. This is
	// a data-integrity problem, never safe to ignore or retry.
	ErrDuplicate = errors.New("duplicate graph node")
)

// NetworkError wraps a transport failure with the operation that hit it.
type NetworkError struct {
	Op  string // "get", "upsert", "children"
	ID  string // entity id, if any
	Err error
}

func (e *NetworkError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("graph %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("graph %s %s: %v", e.Op, e.ID, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// Is reports ErrNetwork so callers can branch without the concrete type.
func (e *NetworkError) Is(target error) bool { return target == ErrNetwork }

// AuthError is returned when the remote rejected credentials and the
// one allowed refresh retry did not help.
type AuthError struct {
	Status int // HTTP status from the final attempt
	Hint   string
}

func (e *AuthError) Error() string {
	if e.Hint != "" {
		return fmt.Sprintf("authentication failed (HTTP %d): %s", e.Status, e.Hint)
	}
	return fmt.Sprintf("authentication failed (HTTP %d): run `tether init` to refresh credentials", e.Status)
}

func (e *AuthError) Is(target error) bool { return target == ErrAuth }

// DuplicateError is returned when the remote reports that an upsert
// created or found a duplicate node instead of merging.
type DuplicateError struct {
	ID     string
	Detail string
}

func (e *DuplicateError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("duplicate node for %s: %s", e.ID, e.Detail)
	}
	return fmt.Sprintf("duplicate node for %s: remote upsert did not merge", e.ID)
}

func (e *DuplicateError) Is(target error) bool { return target == ErrDuplicate }

// StatusError covers remote responses that do not map to a more
// specific error, preserving the status code and response body.
type StatusError struct {
	Op     string
	ID     string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("graph %s %s: HTTP %d: %s", e.Op, e.ID, e.Status, e.Body)
}
