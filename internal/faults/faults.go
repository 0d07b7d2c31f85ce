// Package faults classifies errors raised while ingesting and enriching
// places into the kinds the pipeline and queue know how to handle.
package faults

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Kind is the failure category of an error
type Kind int

const (
	// KindUnclassified is anything not recognised. It aborts the chunk.
	KindUnclassified Kind = iota
	// KindValidation covers format, parse and domain-rule violations of a single item.
	KindValidation
	// KindTransient covers remote failures and timeouts that may succeed on retry.
	KindTransient
	// KindNotFound means the remote resource no longer exists.
	KindNotFound
	// KindStorage covers persistence failures.
	KindStorage
)

// String returns the string representation of the kind.
func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindTransient:
		return "transient"
	case KindNotFound:
		return "not_found"
	case KindStorage:
		return "storage"
	default:
		return "unclassified"
	}
}

// Transient error classes. Each class has its own retry limit.
const (
	ClassRemote  = "remote"
	ClassTimeout = "timeout"
)

// Decision is what the caller should do with a failed item
type Decision int

const (
	Abort Decision = iota
	Skip
	Retry
)

func (d Decision) String() string {
	switch d {
	case Skip:
		return "skip"
	case Retry:
		return "retry"
	default:
		return "abort"
	}
}

// Error attaches a Kind (and for transient errors a class) to an underlying error
type Error struct {
	Kind  Kind
	Class string
	Err   error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	if e.Class != "" {
		return fmt.Sprintf("%s (%s): %v", e.Kind, e.Class, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Validation wraps err as a validation fault
func Validation(err error) error {
	return &Error{Kind: KindValidation, Err: err}
}

// Transient wraps err as a transient fault of the given class
func Transient(class string, err error) error {
	return &Error{Kind: KindTransient, Class: class, Err: err}
}

// NotFound wraps err as a not-found fault
func NotFound(err error) error {
	return &Error{Kind: KindNotFound, Err: err}
}

// Storage wraps err as a storage fault
func Storage(err error) error {
	return &Error{Kind: KindStorage, Err: err}
}

// KindOf returns the kind of err along with its transient class, if any.
func KindOf(err error) (Kind, string) {
	if err == nil {
		return KindUnclassified, ""
	}

	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind, fe.Class
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransient, ClassTimeout
	}

	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return KindTransient, ClassTimeout
	}

	return KindUnclassified, ""
}

// Is reports whether err is of kind k
func Is(err error, k Kind) bool {
	kind, _ := KindOf(err)
	return err != nil && kind == k
}

// Classify maps an error to the default handling decision. It has no side
// effects; retry limits and the skip budget are applied by Policy.
func Classify(err error) Decision {
	kind, _ := KindOf(err)
	switch kind {
	case KindValidation, KindNotFound:
		return Skip
	case KindTransient:
		return Retry
	default:
		return Abort
	}
}
