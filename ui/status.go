package ui

import (
	"fmt"
	"time"

	"github.com/yllada/vpnd-client/rpc"
	"github.com/yllada/vpnd-client/vpn"
)

// StatusKind is the coarse state every front-end renders.
type StatusKind int

const (
	// StatusUnavailable means the snapshot cannot be trusted: the daemon
	// is down or the client is resynchronizing.
	StatusUnavailable StatusKind = iota
	StatusSecure
	StatusPending
	StatusUnsecured
	StatusBlocked
)

// String returns a short name for the status.
func (k StatusKind) String() string {
	switch k {
	case StatusSecure:
		return "secure"
	case StatusPending:
		return "pending"
	case StatusUnsecured:
		return "unsecured"
	case StatusBlocked:
		return "blocked"
	default:
		return "unavailable"
	}
}

// StatusOf classifies a snapshot.
func StatusOf(s *vpn.Snapshot) StatusKind {
	if s == nil || s.Stale || s.Daemon != rpc.StateConnected || s.Tunnel == nil {
		return StatusUnavailable
	}
	switch st := s.Tunnel.(type) {
	case vpn.Connected:
		return StatusSecure
	case vpn.Connecting:
		return StatusPending
	case vpn.Disconnecting:
		if st.After == vpn.AfterBlock {
			return StatusBlocked
		}
		return StatusPending
	case vpn.ErrorState:
		if st.Blocking {
			return StatusBlocked
		}
	case vpn.Disconnected:
		if st.LockedDown {
			return StatusBlocked
		}
	}
	return StatusUnsecured
}

// Headline returns the status line for a snapshot.
func Headline(s *vpn.Snapshot) string {
	switch {
	case s == nil || s.Daemon == rpc.StateDisconnected:
		return "DAEMON UNAVAILABLE"
	case s.Daemon == rpc.StateConnecting:
		return "CONNECTING TO DAEMON"
	case s.Stale || s.Tunnel == nil:
		return "SYNCHRONIZING"
	}
	return vpn.Label(s.Tunnel)
}

// Details returns label/value rows describing the tunnel and account.
func Details(s *vpn.Snapshot, now time.Time) [][2]string {
	if s == nil || s.Tunnel == nil {
		return nil
	}
	var rows [][2]string
	if loc := vpn.LocationOf(s.Tunnel); loc != nil {
		if place := loc.Place(); place != "" {
			rows = append(rows, [2]string{"Location", place})
		}
		if host := loc.HostnameVia(); host != "" {
			rows = append(rows, [2]string{"Relay", host})
		}
	}
	if ep, ok := vpn.EndpointOf(s.Tunnel); ok {
		rows = append(rows, [2]string{"Protocol", ep.Protocol()})
		rows = append(rows, [2]string{"Tunnel in", ep.TunnelIn()})
	}
	if c, ok := s.Tunnel.(vpn.Connected); ok {
		if c.Location != nil {
			rows = append(rows, [2]string{"Tunnel out", c.Location.TunnelOut()})
		}
		if !c.Since.IsZero() {
			rows = append(rows, [2]string{"Uptime", formatUptime(now.Sub(c.Since))})
		}
	}
	if e, ok := s.Tunnel.(vpn.ErrorState); ok {
		rows = append(rows, [2]string{"Error", e.Cause})
	}

	switch {
	case s.Account.Revoked:
		rows = append(rows, [2]string{"Account", "device revoked"})
	case s.Account.LoggedIn:
		rows = append(rows, [2]string{"Account", "time left: " + s.Account.DaysLeft(now)})
	default:
		rows = append(rows, [2]string{"Account", "logged out"})
	}
	if s.Version.Current != "" {
		v := s.Version.Current
		if s.Version.UpdateAvailable() {
			v += " (update: " + s.Version.LatestStable + ")"
		}
		rows = append(rows, [2]string{"Daemon", v})
	}
	return rows
}

// formatUptime formats d as "hh:mm:ss".
func formatUptime(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	d = d.Round(time.Second)
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d:%02d", hours, minutes, seconds)
}
