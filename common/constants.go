// Package common provides shared constants, types, and utilities
// used across the VPN daemon client.
package common

import "time"

// Application metadata.
const (
	// AppID is the unique identifier for the application.
	AppID = "io.vpnd.client"
	// AppName is the display name of the application.
	AppName = "VPN Daemon Client"
	// ConfigDirName is the name of the configuration directory.
	ConfigDirName = "vpnd-client"
)

// File names used by the application.
const (
	ConfigFileName      = "config.yaml"
	CredentialsFileName = ".credentials"
	LogFileName         = "vpnd-client.log"
)

// DefaultSocketPath is where the daemon exposes its management interface.
const DefaultSocketPath = "/var/run/vpnd.sock"

// Default timeouts and intervals.
const (
	// DialTimeout bounds a single attempt to reach the daemon socket.
	DialTimeout = 3 * time.Second
	// ManagementTimeout is the timeout for management interface calls.
	ManagementTimeout = 5 * time.Second
	// ConnectionTimeout is how long the CLI waits for the tunnel to settle.
	ConnectionTimeout = 30 * time.Second
	// ReconnectInitialDelay is the first backoff delay after losing the daemon.
	ReconnectInitialDelay = 250 * time.Millisecond
	// ReconnectMaxDelay caps the reconnect backoff.
	ReconnectMaxDelay = 5 * time.Second
)

// SubscriberQueueSize is how many snapshots a consumer may lag behind
// before it is dropped to latest-only delivery.
const SubscriberQueueSize = 64
