package domain

import (
	"errors"
	"fmt"

	"github.com/containerd/errdefs"
)

// ErrSuperseded is returned when a generation result arrives for a request
// that was cancelled or replaced while it was in flight. The result has been
// discarded.
var ErrSuperseded = fmt.Errorf("generation superseded: %w", errdefs.ErrAborted)

// NotFoundError reports a referenced id that is absent.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

// Unwrap classes the error as errdefs.ErrNotFound.
func (e *NotFoundError) Unwrap() error { return errdefs.ErrNotFound }

// DuplicateIDError reports an id collision on insert.
type DuplicateIDError struct {
	Kind string
	ID   string
}

func (e *DuplicateIDError) Error() string {
	return fmt.Sprintf("%s %q already exists", e.Kind, e.ID)
}

// Unwrap classes the error as errdefs.ErrAlreadyExists.
func (e *DuplicateIDError) Unwrap() error { return errdefs.ErrAlreadyExists }

// InvalidDepthError reports an insert or restore that would break the
// depth-contiguity invariant of a segment sequence.
type InvalidDepthError struct {
	ID    string
	Depth int
	// Max is the deepest depth allowed at that position.
	Max int
}

func (e *InvalidDepthError) Error() string {
	return fmt.Sprintf("segment %q: depth %d exceeds allowed depth %d", e.ID, e.Depth, e.Max)
}

// Unwrap classes the error as errdefs.ErrInvalidArgument.
func (e *InvalidDepthError) Unwrap() error { return errdefs.ErrInvalidArgument }

// ExternalCollaboratorError wraps a failure of the text-generation or
// summarisation collaborator. The cause is carried opaquely.
type ExternalCollaboratorError struct {
	Op    string
	Cause error
}

func (e *ExternalCollaboratorError) Error() string {
	return fmt.Sprintf("%s: external collaborator failed: %v", e.Op, e.Cause)
}

func (e *ExternalCollaboratorError) Unwrap() error { return e.Cause }

// Retryable is always true: collaborator failures leave state untouched.
func (e *ExternalCollaboratorError) Retryable() bool { return true }

// IsExternal reports whether err is (or wraps) an ExternalCollaboratorError.
func IsExternal(err error) bool {
	var ext *ExternalCollaboratorError
	return errors.As(err, &ext)
}
