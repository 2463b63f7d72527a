// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package palaver

import "fmt"

// Kind classifies the errors reported by store operations. A Kind is itself
// an error, so that callers can test the class of an error with errors.Is:
//
//	if errors.Is(err, palaver.ResourceExhausted) { ... try again later ... }
type Kind byte

const (
	// ResourceExhausted means no free dialog, message, or participant slot
	// was available. The store is unchanged, and the caller may retry later.
	ResourceExhausted Kind = 1

	// NotFound means the dialog ID is unknown or the dialog has closed.
	NotFound Kind = 2

	// Unavailable means the shared segment or its lock is missing or
	// inoperable. The handle is no longer usable; the caller must detach and
	// either attach again or give up.
	Unavailable Kind = 3

	// InvalidArgument means an argument was rejected before any mutation.
	InvalidArgument Kind = 4
)

// Error implements the error interface.
func (k Kind) Error() string { return k.String() }

func (k Kind) String() string {
	switch k {
	case ResourceExhausted:
		return "resource exhausted"
	case NotFound:
		return "not found"
	case Unavailable:
		return "unavailable"
	case InvalidArgument:
		return "invalid argument"
	default:
		return fmt.Sprintf("kind %d", byte(k))
	}
}

// Error is the concrete type of the sentinel errors reported by this package.
// An *Error matches its own Kind under errors.Is.
type Error struct {
	Kind    Kind
	Message string
}

// Error implements the error interface.
func (e *Error) Error() string { return e.Message }

// Is reports whether target is e or the Kind of e.
func (e *Error) Is(target error) bool {
	if k, ok := target.(Kind); ok {
		return k == e.Kind
	}
	return target == e
}

var (
	ErrNoFreeDialogSlot   = &Error{ResourceExhausted, "no free dialog slot"}
	ErrDialogFull         = &Error{ResourceExhausted, "dialog is full"}
	ErrQueueFull          = &Error{ResourceExhausted, "message queue is full"}
	ErrDialogNotFound     = &Error{NotFound, "dialog not found"}
	ErrSegmentUnavailable = &Error{Unavailable, "shared segment unavailable"}
	ErrLockUnavailable    = &Error{Unavailable, "segment lock unavailable"}
	ErrAlreadyJoined      = &Error{InvalidArgument, "process already joined the dialog"}
	ErrInvalidID          = &Error{InvalidArgument, "invalid identifier"}
)

// opError wraps err with the name of the operation that reported it, and the
// underlying cause if one is known.
func opError(op string, err error, cause error) error {
	if cause != nil {
		return fmt.Errorf("%s: %w: %w", op, err, cause)
	}
	return fmt.Errorf("%s: %w", op, err)
}
