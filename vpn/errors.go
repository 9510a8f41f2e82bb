package vpn

import (
	"fmt"

	"github.com/yllada/vpnd-client/common"
)

// CommandErrorKind classifies why a command was not accepted.
type CommandErrorKind int

const (
	// Unavailable means the daemon could not be reached. The command was not sent.
	Unavailable CommandErrorKind = iota
	// Rejected means the daemon refused the command.
	Rejected
	// InvalidArgument means the command failed validation, locally or in the daemon.
	InvalidArgument
)

// String returns a human-readable kind.
func (k CommandErrorKind) String() string {
	switch k {
	case Unavailable:
		return "unavailable"
	case Rejected:
		return "rejected"
	case InvalidArgument:
		return "invalid argument"
	default:
		return "unknown"
	}
}

func (k CommandErrorKind) sentinel() error {
	switch k {
	case Rejected:
		return common.ErrRejected
	case InvalidArgument:
		return common.ErrInvalidArgument
	default:
		return common.ErrUnavailable
	}
}

// CommandError is returned by Submit. Commands are never retried.
type CommandError struct {
	Command   string
	Kind      CommandErrorKind
	RequestID string
	Err       error
}

func (e *CommandError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Command, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Command, e.Kind, e.Err)
}

// Unwrap exposes the kind's sentinel and the underlying cause.
func (e *CommandError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind.sentinel()}
	}
	return []error{e.Kind.sentinel(), e.Err}
}

// ReconcileError reports a daemon event or fetch result that could not be
// turned into state. The offending event is dropped and a resync follows.
type ReconcileError struct {
	Kind string
	Seq  uint64
	Err  error
}

func (e *ReconcileError) Error() string {
	return fmt.Sprintf("malformed %s event (seq %d): %v", e.Kind, e.Seq, e.Err)
}

// Unwrap exposes common.ErrMalformedEvent and the underlying cause.
func (e *ReconcileError) Unwrap() []error {
	return []error{common.ErrMalformedEvent, e.Err}
}
