package engine

import (
	"errors"
	"fmt"
)

// Kind classifies engine failures.
type Kind int

const (
	// KindPerceptionTimeout is a quiescence wait that ran out. It is logged
	// and the operation proceeds.
	KindPerceptionTimeout Kind = iota + 1
	// KindUnresolvableTarget means no path candidate attached in time.
	KindUnresolvableTarget
	// KindUnsupportedCommand is a method the driver cannot dispatch.
	KindUnsupportedCommand
	// KindCommandExecution is a browser command that failed.
	KindCommandExecution
	// KindReasonerProtocol is a reasoner answer that could not be used.
	KindReasonerProtocol
	// KindCacheIO is a cache read or write failure. Caches heal themselves
	// and never surface it.
	KindCacheIO
)

func (k Kind) String() string {
	switch k {
	case KindPerceptionTimeout:
		return "perception_timeout"
	case KindUnresolvableTarget:
		return "unresolvable_target"
	case KindUnsupportedCommand:
		return "unsupported_command"
	case KindCommandExecution:
		return "command_execution"
	case KindReasonerProtocol:
		return "reasoner_protocol"
	case KindCacheIO:
		return "cache_io"
	default:
		return "unknown"
	}
}

// Retryable reports whether an act attempt failing with k may restart.
func (k Kind) Retryable() bool {
	return k == KindUnresolvableTarget || k == KindCommandExecution
}

// Error is an engine failure.
type Error struct {
	Kind Kind
	// Op is the stage or command that failed.
	Op  string
	Err error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// IsKind reports whether err is an engine Error of kind k.
func IsKind(err error, k Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == k
}

// kindOf returns the kind of an engine error, or KindCommandExecution for
// any other error.
func kindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindCommandExecution
}

func newError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}
