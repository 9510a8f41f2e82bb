package rpc

import (
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/yllada/vpnd-client/common"
)

// ErrorKind classifies a failure to reach the daemon.
type ErrorKind int

const (
	// KindDisconnected means there was no connection when the call was made,
	// or the connection was torn down while the call was in flight.
	KindDisconnected ErrorKind = iota
	// KindRefused means the socket did not accept a connection.
	KindRefused
	// KindBroken means an established connection failed mid-call.
	KindBroken
	// KindTimeout means the daemon did not answer in time.
	KindTimeout
)

// String returns a human-readable kind.
func (k ErrorKind) String() string {
	switch k {
	case KindDisconnected:
		return "disconnected"
	case KindRefused:
		return "connection refused"
	case KindBroken:
		return "broken connection"
	case KindTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

func (k ErrorKind) sentinel() error {
	switch k {
	case KindRefused:
		return common.ErrConnectionFailed
	case KindTimeout:
		return common.ErrTimeout
	default:
		return common.ErrDisconnected
	}
}

// TransportError reports that the daemon could not be reached. It is always
// retryable: the supervisor backs off and reconnects.
type TransportError struct {
	Op   string
	Kind ErrorKind
	Err  error
}

func (e *TransportError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

// Unwrap exposes both the kind's sentinel from package common and the
// underlying cause to errors.Is and errors.As.
func (e *TransportError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind.sentinel()}
	}
	return []error{e.Kind.sentinel(), e.Err}
}

// IsTransportError reports whether err means the daemon was unreachable,
// as opposed to the daemon answering with an error.
func IsTransportError(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// Classify maps err to a transport failure kind. The second result is false
// when err is not a transport failure, e.g. a daemon-side rejection.
func Classify(err error) (ErrorKind, bool) {
	if err == nil {
		return 0, false
	}
	var te *TransportError
	if errors.As(err, &te) {
		return te.Kind, true
	}
	switch status.Code(err) {
	case codes.Unavailable:
		return KindBroken, true
	case codes.DeadlineExceeded:
		return KindTimeout, true
	}
	return 0, false
}
