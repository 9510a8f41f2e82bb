// Package common provides shared constants, types, utilities, and interfaces
// used throughout the VPN daemon client.
//
// This package serves as the foundation for cross-cutting concerns:
//
//   - Constants: socket path, timeouts, file names, and queue sizes
//   - Errors: sentinel errors checked with errors.Is across packages
//   - Interfaces: small abstractions for logging, notifications, and credentials
//   - Logger: leveled logging with optional rotated file output
//   - Utils: config directory lookup and display formatting helpers
//
// # Usage
//
//	import "github.com/yllada/vpnd-client/common"
//
//	timeout := common.ManagementTimeout
//
//	common.LogInfo("Connecting to daemon at %s", socketPath)
//
//	if errors.Is(err, common.ErrDisconnected) {
//	    // the daemon went away, the supervisor will reconnect
//	}
package common
