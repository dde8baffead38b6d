// Package memerr defines the error taxonomy shared across the memory
// service: validation failures that must be rejected before any store
// mutation, and upstream failures that surface as failed operation
// results rather than crashes. Empty retrieval results are not errors
// and have no type here.
package memerr

import (
	"errors"
	"fmt"
)

// ValidationError reports malformed or unacceptable input. It is always
// raised before any graph mutation is attempted.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// NewValidation creates a ValidationError for the given field.
func NewValidation(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// UpstreamError reports a failure in a dependency (graph store, model
// endpoint, index). Callers translate it into a failed result, not a
// process fault.
type UpstreamError struct {
	System string
	Op     string
	Err    error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.System, e.Op, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// NewUpstream wraps err as a failure of the named system and operation.
func NewUpstream(system, op string, err error) *UpstreamError {
	return &UpstreamError{System: system, Op: op, Err: err}
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsUpstream reports whether err is (or wraps) an UpstreamError.
func IsUpstream(err error) bool {
	var ue *UpstreamError
	return errors.As(err, &ue)
}
