// Package vpn keeps a consistent, observable view of the VPN daemon's state
// and sends commands to it.
//
// The daemon is the source of truth. This package mirrors its tunnel state,
// relay list, settings, account and version, and publishes every change as
// an immutable Snapshot.
//
// # Architecture
//
// The package is organized around a single supervisor, Client, which owns:
//
//   - Subscriber: opens the daemon's event stream and stamps each event
//   - Reconciler: folds resyncs and events into snapshots, one per change
//   - Broadcaster: fans snapshots out to any number of subscriptions
//   - Dispatcher: validates and submits commands, returning an Ack
//
// # Synchronization Flow
//
// A typical session:
//
//  1. Client.Run dials the daemon socket and performs a version handshake
//  2. The event stream is opened before any state is fetched
//  3. A resync fetches every sub-record and publishes a fresh snapshot
//  4. Each event then replaces exactly one sub-record and is published
//  5. When the link fails the last snapshot is republished as stale and
//     the client reconnects with exponential backoff
//
// Events already covered by a resync are recognized by the daemon's
// sequence numbers and dropped. A gap in the sequence or a malformed
// payload triggers a new resync instead.
//
// # Commands
//
// Commands are never queued. While the daemon is unreachable Submit fails
// at once with an Unavailable *CommandError. An Ack only means the daemon
// accepted the request; its effect arrives later as a snapshot.
//
// # Thread Safety
//
// Client, Broadcaster, Subscription and Dispatcher are safe for concurrent
// use. Reconciler is owned by the goroutine running Client.Run.
package vpn
