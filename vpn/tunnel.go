package vpn

import (
	"fmt"
	"time"
)

// TunnelState is the daemon's tunnel state: one of Disconnected,
// Connecting, Connected, Disconnecting or ErrorState. It only changes
// through daemon events.
type TunnelState interface {
	// Name returns the lower-case state name.
	Name() string
	isTunnelState()
}

// AfterDisconnect is what the daemon does once a disconnect completes.
type AfterDisconnect int

const (
	AfterNothing AfterDisconnect = iota
	AfterBlock
	AfterReconnect
)

// String returns the wire name of the action.
func (a AfterDisconnect) String() string {
	switch a {
	case AfterNothing:
		return "nothing"
	case AfterBlock:
		return "block"
	case AfterReconnect:
		return "reconnect"
	default:
		return "unknown"
	}
}

// Disconnected means no tunnel is up. LockedDown is set when the firewall
// blocks all traffic while disconnected.
type Disconnected struct {
	LockedDown bool
	Location   *Location
}

// Connecting means a tunnel to Relay is being established.
type Connecting struct {
	Relay    string
	Endpoint Endpoint
	Location *Location
}

// Connected means the tunnel to Relay is up.
type Connected struct {
	Relay    string
	Endpoint Endpoint
	Since    time.Time
	Location *Location
}

// Disconnecting means the tunnel is being torn down.
type Disconnecting struct {
	After AfterDisconnect
}

// ErrorState means the daemon failed to set up the tunnel. Blocking is set
// when traffic is blocked as a consequence.
type ErrorState struct {
	Cause    string
	Blocking bool
}

func (Disconnected) Name() string  { return "disconnected" }
func (Connecting) Name() string    { return "connecting" }
func (Connected) Name() string     { return "connected" }
func (Disconnecting) Name() string { return "disconnecting" }
func (ErrorState) Name() string    { return "error" }

func (Disconnected) isTunnelState()  {}
func (Connecting) isTunnelState()    {}
func (Connected) isTunnelState()     {}
func (Disconnecting) isTunnelState() {}
func (ErrorState) isTunnelState()    {}

func cloneLocation(l *Location) *Location {
	if l == nil {
		return nil
	}
	c := *l
	return &c
}

func (e Endpoint) clone() Endpoint {
	c := e
	if e.Obfuscation != nil {
		o := *e.Obfuscation
		c.Obfuscation = &o
	}
	if e.Proxy != nil {
		p := *e.Proxy
		c.Proxy = &p
	}
	return c
}

func cloneTunnelState(s TunnelState) TunnelState {
	switch st := s.(type) {
	case Disconnected:
		st.Location = cloneLocation(st.Location)
		return st
	case Connecting:
		st.Location = cloneLocation(st.Location)
		st.Endpoint = st.Endpoint.clone()
		return st
	case Connected:
		st.Location = cloneLocation(st.Location)
		st.Endpoint = st.Endpoint.clone()
		return st
	default:
		return s
	}
}

// IsConnected reports whether the tunnel is up.
func IsConnected(s TunnelState) bool {
	_, ok := s.(Connected)
	return ok
}

// IsConnectingOrReconnecting reports whether a tunnel is being set up,
// including a disconnect that will be followed by a reconnect.
func IsConnectingOrReconnecting(s TunnelState) bool {
	switch st := s.(type) {
	case Connecting:
		return true
	case Disconnecting:
		return st.After == AfterReconnect
	}
	return false
}

// IsBlocking reports whether traffic is blocked while no tunnel is up.
func IsBlocking(s TunnelState) bool {
	switch st := s.(type) {
	case Disconnected:
		return st.LockedDown
	case ErrorState:
		return st.Blocking
	case Disconnecting:
		return st.After == AfterBlock
	}
	return false
}

// Label returns the headline shown for the tunnel state.
func Label(s TunnelState) string {
	switch st := s.(type) {
	case Connected:
		if st.Endpoint.QuantumResistant {
			return "QUANTUM SECURE CONNECTION"
		}
		return "SECURE CONNECTION"
	case Connecting:
		if st.Endpoint.QuantumResistant {
			return "CREATING QUANTUM SECURE CONNECTION"
		}
		return "CREATING SECURE CONNECTION"
	case Disconnected:
		if st.LockedDown {
			return "BLOCKED CONNECTION"
		}
		return "UNSECURED CONNECTION"
	case Disconnecting:
		if st.After == AfterReconnect {
			return "CREATING SECURE CONNECTION"
		}
		return "DISCONNECTING"
	case ErrorState:
		if st.Blocking {
			return "BLOCKED CONNECTION"
		}
		return "UNSECURED CONNECTION"
	}
	return "UNSECURED CONNECTION"
}

// LocationOf returns the exit location of the tunnel state, if known.
func LocationOf(s TunnelState) *Location {
	switch st := s.(type) {
	case Disconnected:
		return st.Location
	case Connecting:
		return st.Location
	case Connected:
		return st.Location
	}
	return nil
}

// EndpointOf returns the relay endpoint while connecting or connected.
func EndpointOf(s TunnelState) (Endpoint, bool) {
	switch st := s.(type) {
	case Connecting:
		return st.Endpoint, true
	case Connected:
		return st.Endpoint, true
	}
	return Endpoint{}, false
}

// HostnameVia returns the exit hostname, followed by " via <entry>" when
// traffic enters through a different host.
func (l Location) HostnameVia() string {
	if l.Hostname == "" {
		return ""
	}
	via := l.BridgeHostname
	if via == "" {
		via = l.ObfuscatorHostname
	}
	if via == "" {
		via = l.EntryHostname
	}
	if via != "" && via != l.Hostname {
		return l.Hostname + " via " + via
	}
	return l.Hostname
}

// Place returns "City, Country" or just the country.
func (l Location) Place() string {
	if l.City == "" {
		return l.Country
	}
	return l.City + ", " + l.Country
}

// Protocol returns the tunnel protocol, with the proxy or obfuscation
// in use, e.g. "WireGuard via shadowsocks".
func (e Endpoint) Protocol() string {
	p := e.TunnelType.String()
	if e.Proxy != nil {
		return fmt.Sprintf("%s via %s", p, e.Proxy.Type)
	}
	if e.Obfuscation != nil {
		return fmt.Sprintf("%s via %s", p, e.Obfuscation.Type)
	}
	return p
}

// TunnelIn returns the address traffic is sent to first.
func (e Endpoint) TunnelIn() string {
	switch {
	case e.Proxy != nil:
		return e.Proxy.Address
	case e.Obfuscation != nil:
		return e.Obfuscation.Address
	case e.EntryAddress != "":
		return e.EntryAddress
	}
	return e.Address
}

// TunnelOut returns the exit IP addresses, one per line, or "..." while unknown.
func (l Location) TunnelOut() string {
	out := l.IPv4
	if l.IPv6 != "" {
		if out != "" {
			out += "\n"
		}
		out += l.IPv6
	}
	if out == "" {
		return "..."
	}
	return out
}
