// Package common provides shared constants, types, and utilities
// used across the VPN daemon client.
package common

import "errors"

// Sentinel errors for daemon client operations.
// These can be checked with errors.Is() for proper error handling.
var (
	// Transport errors.
	ErrDisconnected     = errors.New("daemon connection lost")
	ErrConnectionFailed = errors.New("connection to daemon failed")
	ErrTimeout          = errors.New("operation timed out")
	ErrClosed           = errors.New("client closed")

	// Command errors.
	ErrUnavailable     = errors.New("daemon unavailable")
	ErrRejected        = errors.New("rejected by daemon")
	ErrInvalidArgument = errors.New("invalid argument")

	// Reconciliation errors.
	ErrMalformedEvent = errors.New("malformed daemon event")
	ErrResyncRequired = errors.New("event stream gap, resync required")
	ErrStreamEnded    = errors.New("event stream ended")

	// Credential errors.
	ErrCredentialsNotFound = errors.New("credentials not found")
	ErrCredentialStorage   = errors.New("failed to store credentials")

	// Configuration errors.
	ErrConfigLoad = errors.New("failed to load configuration")
	ErrConfigSave = errors.New("failed to save configuration")
)

// WrapError wraps an error with additional context.
func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return &wrappedError{
		msg: message,
		err: err,
	}
}

type wrappedError struct {
	msg string
	err error
}

func (e *wrappedError) Error() string {
	return e.msg + ": " + e.err.Error()
}

func (e *wrappedError) Unwrap() error {
	return e.err
}
