package faults

import (
	"errors"
	"fmt"
)

// Kind classifies a failure for propagation and surfacing decisions.
type Kind int

const (
	KindInvalidInput Kind = iota
	KindDocumentNotFound
	KindNotReady
	KindDependencyUnavailable
	KindDeadlineExceeded
	KindOverloaded
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindInvalidInput:
		return "invalid_input"
	case KindDocumentNotFound:
		return "document_not_found"
	case KindNotReady:
		return "not_ready"
	case KindDependencyUnavailable:
		return "dependency_unavailable"
	case KindDeadlineExceeded:
		return "deadline_exceeded"
	case KindOverloaded:
		return "overloaded"
	case KindInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// Retryable reports whether a caller may reasonably retry the request.
func (k Kind) Retryable() bool {
	switch k {
	case KindNotReady, KindDependencyUnavailable, KindOverloaded:
		return true
	default:
		return false
	}
}

// Fault is the error type crossing component boundaries. It carries a kind
// for the caller and an optional wrapped cause for logs.
type Fault struct {
	Kind  Kind
	Msg   string
	cause error
}

func (f *Fault) Error() string {
	if f.cause != nil {
		return fmt.Sprintf("%s: %s: %v", f.Kind, f.Msg, f.cause)
	}
	return fmt.Sprintf("%s: %s", f.Kind, f.Msg)
}

func (f *Fault) Unwrap() error { return f.cause }

// Is matches faults by kind so callers can use errors.Is with sentinel faults.
func (f *Fault) Is(target error) bool {
	var t *Fault
	if errors.As(target, &t) {
		return f.Kind == t.Kind
	}
	return false
}

// New creates a fault with the given kind and message.
func New(kind Kind, format string, args ...interface{}) *Fault {
	return &Fault{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a cause to a new fault. A nil cause behaves like New.
func Wrap(kind Kind, cause error, format string, args ...interface{}) *Fault {
	return &Fault{Kind: kind, Msg: fmt.Sprintf(format, args...), cause: cause}
}

// KindOf extracts the kind from an error chain; unknown errors map to Internal.
func KindOf(err error) Kind {
	var f *Fault
	if errors.As(err, &f) {
		return f.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind anywhere in its chain.
func IsKind(err error, kind Kind) bool {
	var f *Fault
	if errors.As(err, &f) {
		return f.Kind == kind
	}
	return false
}
