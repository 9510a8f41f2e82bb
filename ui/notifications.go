package ui

import (
	"context"
	"errors"
	"os/exec"
	"sync"

	"github.com/godbus/dbus/v5"

	"github.com/yllada/vpnd-client/common"
	"github.com/yllada/vpnd-client/rpc"
	"github.com/yllada/vpnd-client/vpn"
)

const (
	notifyDest      = "org.freedesktop.Notifications"
	notifyPath      = dbus.ObjectPath("/org/freedesktop/Notifications")
	notifyMethod    = notifyDest + ".Notify"
	notifyTimeoutMs = int32(5000)
)

// NotificationType represents the type of notification
type NotificationType int

const (
	NotificationInfo NotificationType = iota
	NotificationSuccess
	NotificationWarning
	NotificationError
)

// Notification represents a system notification
type Notification struct {
	Title   string
	Message string
	Type    NotificationType
}

func (n Notification) icon() string {
	switch n.Type {
	case NotificationSuccess:
		return "network-vpn"
	case NotificationWarning:
		return "dialog-warning"
	case NotificationError:
		return "dialog-error"
	default:
		return "network-vpn-disconnected"
	}
}

// urgency follows the freedesktop hint values: 0 low, 1 normal, 2 critical.
func (n Notification) urgency() byte {
	switch n.Type {
	case NotificationError:
		return 2
	case NotificationWarning:
		return 1
	default:
		return 0
	}
}

// DesktopNotifier sends notifications over the session bus. Each
// notification replaces the previous one so only the latest is shown.
// When no session bus is available it falls back to notify-send.
type DesktopNotifier struct {
	mu     sync.Mutex
	conn   *dbus.Conn
	lastID uint32
}

var _ common.Notifier = (*DesktopNotifier)(nil)

// NewDesktopNotifier connects to the session bus.
func NewDesktopNotifier() *DesktopNotifier {
	n := &DesktopNotifier{}
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		common.LogDebug("Session bus unavailable, notifications use notify-send: %v", err)
		return n
	}
	n.conn = conn
	return n
}

// Notify shows an informational notification.
func (n *DesktopNotifier) Notify(title, message string) error {
	return n.Show(Notification{Title: title, Message: message, Type: NotificationInfo})
}

// Show displays a notification.
func (n *DesktopNotifier) Show(note Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.conn == nil {
		return n.showExec(note)
	}

	hints := map[string]dbus.Variant{
		"urgency": dbus.MakeVariant(note.urgency()),
	}
	obj := n.conn.Object(notifyDest, notifyPath)
	call := obj.Call(notifyMethod, 0,
		common.AppName, n.lastID, note.icon(), note.Title, note.Message,
		[]string{}, hints, notifyTimeoutMs)
	if call.Err != nil {
		return call.Err
	}
	return call.Store(&n.lastID)
}

// showExec displays a notification using notify-send
func (n *DesktopNotifier) showExec(note Notification) error {
	urgency := "low"
	switch note.Type {
	case NotificationError:
		urgency = "critical"
	case NotificationWarning:
		urgency = "normal"
	}

	cmd := exec.Command("notify-send",
		"--app-name="+common.AppName,
		"--icon="+note.icon(),
		"--urgency="+urgency,
		note.Title,
		note.Message,
	)
	return cmd.Run()
}

// Close releases the session bus connection.
func (n *DesktopNotifier) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.conn == nil {
		return nil
	}
	err := n.conn.Close()
	n.conn = nil
	return err
}

// transitions turns a stream of snapshots into notifications. Snapshots
// that cannot be trusted update the daemon state but not the tunnel state,
// so a daemon restart does not repeat the last tunnel notification.
type transitions struct {
	daemon  rpc.ConnState
	status  StatusKind
	revoked bool
}

// observe records snap and returns the notification for the transition
// into it, if it is worth one. The first trusted snapshot only sets the
// baseline.
func (t *transitions) observe(snap *vpn.Snapshot) (Notification, bool) {
	if snap == nil {
		return Notification{}, false
	}
	prevDaemon := t.daemon
	t.daemon = snap.Daemon
	if prevDaemon == rpc.StateConnected && snap.Daemon == rpc.StateDisconnected {
		return Notification{
			Title:   "VPN daemon unavailable",
			Message: "Lost connection to the VPN daemon",
			Type:    NotificationWarning,
		}, true
	}

	after := StatusOf(snap)
	if after == StatusUnavailable {
		return Notification{}, false
	}

	before := t.status
	wasRevoked := t.revoked
	t.status = after
	t.revoked = snap.Account.Revoked
	if before == StatusUnavailable {
		return Notification{}, false
	}

	if snap.Account.Revoked && !wasRevoked {
		return Notification{
			Title:   "Device removed",
			Message: "This device was removed from the account",
			Type:    NotificationError,
		}, true
	}
	if before == after {
		return Notification{}, false
	}

	switch after {
	case StatusSecure:
		msg := "Your connection is secure"
		if loc := vpn.LocationOf(snap.Tunnel); loc != nil && loc.Place() != "" {
			msg = "Secured in " + loc.Place()
		}
		return Notification{Title: "VPN Connected", Message: msg, Type: NotificationSuccess}, true
	case StatusBlocked:
		msg := "Internet traffic is blocked"
		if e, ok := snap.Tunnel.(vpn.ErrorState); ok {
			msg += ": " + e.Cause
		}
		return Notification{Title: "Connection Blocked", Message: msg, Type: NotificationWarning}, true
	case StatusUnsecured:
		if e, ok := snap.Tunnel.(vpn.ErrorState); ok {
			return Notification{Title: "Connection Error", Message: e.Cause, Type: NotificationError}, true
		}
		return Notification{Title: "VPN Disconnected", Message: "Your connection is unsecured", Type: NotificationInfo}, true
	}
	return Notification{}, false
}

// RunNotifications shows a notification for every notable transition seen
// through sub until ctx is done or the subscription ends.
func RunNotifications(ctx context.Context, sub *vpn.Subscription, n *DesktopNotifier) error {
	var t transitions
	for {
		snap, err := sub.Next(ctx)
		if err != nil {
			if errors.Is(err, common.ErrClosed) {
				return nil
			}
			return err
		}
		if note, ok := t.observe(snap); ok {
			if err := n.Show(note); err != nil {
				common.LogWarn("Error showing notification: %v", err)
			}
		}
	}
}
