// Package common provides shared constants, types, and utilities
// used across the VPN daemon client.
package common

// Logger defines the interface for leveled logging.
// *AppLogger satisfies it.
type Logger interface {
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
}

// Notifier defines the interface for sending desktop notifications.
type Notifier interface {
	// Notify sends a notification with the given title and message.
	Notify(title, message string) error
}

// CredentialStore defines the interface for credential storage.
// Implementations may use the system keyring, encrypted files, etc.
type CredentialStore interface {
	Store(key, secret string) error
	Get(key string) (string, error)
	Delete(key string) error
	Exists(key string) bool
}
