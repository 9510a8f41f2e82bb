package vpn

import (
	"fmt"
	"net/netip"
	"time"

	"github.com/yllada/vpnd-client/rpc"
)

// TunnelProtocol selects the VPN protocol.
type TunnelProtocol string

const (
	ProtocolAutomatic TunnelProtocol = "automatic"
	ProtocolWireGuard TunnelProtocol = "wireguard"
	ProtocolOpenVPN   TunnelProtocol = "openvpn"
)

// String returns the display name of the protocol.
func (p TunnelProtocol) String() string {
	switch p {
	case ProtocolAutomatic:
		return "Automatic"
	case ProtocolWireGuard:
		return "WireGuard"
	case ProtocolOpenVPN:
		return "OpenVPN"
	default:
		return string(p)
	}
}

// Obfuscation selects how tunnel traffic is disguised.
type Obfuscation string

const (
	ObfuscationAutomatic   Obfuscation = "automatic"
	ObfuscationOff         Obfuscation = "off"
	ObfuscationUDP2TCP     Obfuscation = "udp2tcp"
	ObfuscationShadowsocks Obfuscation = "shadowsocks"
)

// QuantumResistance selects post-quantum key exchange.
type QuantumResistance string

const (
	QuantumAuto QuantumResistance = "auto"
	QuantumOn   QuantumResistance = "on"
	QuantumOff  QuantumResistance = "off"
)

// Location is where the tunnel exits, and the hops it goes through.
type Location struct {
	Country            string
	City               string
	Hostname           string
	EntryHostname      string
	ObfuscatorHostname string
	BridgeHostname     string
	IPv4               string
	IPv6               string
}

// ProxyHop is an obfuscator or bridge in front of the relay.
type ProxyHop struct {
	Address string
	Type    string
}

// Endpoint is the relay endpoint of a tunnel.
type Endpoint struct {
	Address          string
	Transport        string
	TunnelType       TunnelProtocol
	QuantumResistant bool
	EntryAddress     string
	Obfuscation      *ProxyHop
	Proxy            *ProxyHop
}

// Relay is a single VPN server.
type Relay struct {
	Hostname   string
	IPv4       string
	IPv6       string
	TunnelType TunnelProtocol
	Provider   string
	Owned      bool
	Active     bool
}

// City groups the relays of one city.
type City struct {
	Name   string
	Code   string
	Relays []Relay
}

// Country groups the cities of one country.
type Country struct {
	Name   string
	Code   string
	Cities []City
}

// RelayList is the full relay inventory. It is only ever replaced whole.
type RelayList struct {
	Etag      string
	Countries []Country
}

// Count returns the number of active relays and the total.
func (l RelayList) Count() (active, total int) {
	for _, country := range l.Countries {
		for _, city := range country.Cities {
			for _, relay := range city.Relays {
				total++
				if relay.Active {
					active++
				}
			}
		}
	}
	return active, total
}

// Find looks up a relay by hostname.
func (l RelayList) Find(hostname string) (Country, City, Relay, bool) {
	for _, country := range l.Countries {
		for _, city := range country.Cities {
			for _, relay := range city.Relays {
				if relay.Hostname == hostname {
					return country, city, relay, true
				}
			}
		}
	}
	return Country{}, City{}, Relay{}, false
}

// LocationConstraint narrows relay selection by country, city or hostname code.
type LocationConstraint struct {
	Country  string
	City     string
	Hostname string
}

// String returns "se", "se/got" or "se/got/se-got-wg-001".
func (c LocationConstraint) String() string {
	s := c.Country
	if c.City != "" {
		s += "/" + c.City
	}
	if c.Hostname != "" {
		s += "/" + c.Hostname
	}
	return s
}

// RelayConstraint is the relay selection policy. A nil Location means any.
type RelayConstraint struct {
	Location       *LocationConstraint
	TunnelProtocol TunnelProtocol
	Providers      []string
	Ownership      string
}

// DNSOptions configures content blocking and custom resolvers.
type DNSOptions struct {
	BlockAds      bool
	BlockTrackers bool
	BlockMalware  bool
	Custom        bool
	Servers       []netip.Addr
}

// Settings is the daemon's settings record.
type Settings struct {
	AutoConnect           bool
	AllowLAN              bool
	BlockWhenDisconnected bool
	EnableIPv6            bool
	TunnelProtocol        TunnelProtocol
	Obfuscation           Obfuscation
	QuantumResistant      QuantumResistance
	DNS                   DNSOptions
	Relay                 RelayConstraint
}

// Device is this machine's registration on the account.
type Device struct {
	ID      string
	Name    string
	Created time.Time
}

// AccountState is the account and device identity. A zero Expiry means unknown.
type AccountState struct {
	LoggedIn      bool
	AccountNumber string
	Device        *Device
	Expiry        time.Time
	Revoked       bool
}

// VersionInfo describes the daemon build.
type VersionInfo struct {
	Current      string
	LatestStable string
	Supported    bool
}

// UpdateAvailable reports whether a newer stable release exists.
func (v VersionInfo) UpdateAvailable() bool {
	return v.LatestStable != "" && v.Current != "" && v.LatestStable != v.Current
}

// Snapshot is one published, consistent view of the daemon's state.
// Published snapshots are shared between consumers and must not be
// modified; use Clone for a private copy.
type Snapshot struct {
	Generation uint64
	Tunnel     TunnelState
	Relays     RelayList
	Settings   Settings
	Account    AccountState
	Version    VersionInfo
	Daemon     rpc.ConnState
	Stale      bool
	At         time.Time
}

// Clone returns a deep copy of the snapshot.
func (s *Snapshot) Clone() *Snapshot {
	if s == nil {
		return nil
	}
	c := *s
	c.Tunnel = cloneTunnelState(s.Tunnel)
	c.Relays = s.Relays.clone()
	c.Settings = s.Settings.clone()
	c.Account = s.Account.clone()
	return &c
}

func (l RelayList) clone() RelayList {
	c := RelayList{Etag: l.Etag}
	if l.Countries == nil {
		return c
	}
	c.Countries = make([]Country, len(l.Countries))
	for i, country := range l.Countries {
		c.Countries[i] = Country{Name: country.Name, Code: country.Code}
		if country.Cities == nil {
			continue
		}
		c.Countries[i].Cities = make([]City, len(country.Cities))
		for j, city := range country.Cities {
			c.Countries[i].Cities[j] = City{
				Name:   city.Name,
				Code:   city.Code,
				Relays: append([]Relay(nil), city.Relays...),
			}
		}
	}
	return c
}

func (s Settings) clone() Settings {
	c := s
	c.DNS.Servers = append([]netip.Addr(nil), s.DNS.Servers...)
	c.Relay.Providers = append([]string(nil), s.Relay.Providers...)
	if s.Relay.Location != nil {
		loc := *s.Relay.Location
		c.Relay.Location = &loc
	}
	return c
}

func (a AccountState) clone() AccountState {
	c := a
	if a.Device != nil {
		d := *a.Device
		c.Device = &d
	}
	return c
}

// TimeLeft returns the paid time remaining, or zero when expired or unknown.
func (a AccountState) TimeLeft(now time.Time) time.Duration {
	if a.Expiry.IsZero() || !a.Expiry.After(now) {
		return 0
	}
	return a.Expiry.Sub(now)
}

// Expired reports whether the account has a known expiry in the past.
func (a AccountState) Expired(now time.Time) bool {
	return !a.Expiry.IsZero() && !a.Expiry.After(now)
}

// DaysLeft formats the remaining time as "N days".
func (a AccountState) DaysLeft(now time.Time) string {
	if a.Expiry.IsZero() {
		return "unknown"
	}
	days := int(a.TimeLeft(now) / (24 * time.Hour))
	switch {
	case a.Expired(now):
		return "expired"
	case days == 0:
		return "less than a day"
	case days == 1:
		return "1 day"
	}
	return fmt.Sprintf("%d days", days)
}

// daemonReady reports whether the snapshot reflects a live daemon.
func (s *Snapshot) daemonReady() bool {
	return s.Daemon == rpc.StateConnected && !s.Stale && s.Tunnel != nil
}

// IsConnected reports whether the tunnel is up.
func (s *Snapshot) IsConnected() bool {
	return s.daemonReady() && IsConnected(s.Tunnel)
}

// IsConnectingOrReconnecting reports whether a tunnel is being set up or
// the daemon is retrying after an error.
func (s *Snapshot) IsConnectingOrReconnecting() bool {
	if !s.daemonReady() {
		return false
	}
	_, isErr := s.Tunnel.(ErrorState)
	return IsConnectingOrReconnecting(s.Tunnel) || isErr
}

// CanSecure reports whether a Connect command makes sense now.
func (s *Snapshot) CanSecure() bool {
	if !s.daemonReady() {
		return false
	}
	switch st := s.Tunnel.(type) {
	case Disconnected:
		return true
	case Disconnecting:
		return st.After != AfterReconnect
	}
	return false
}

// CanDisconnect reports whether a Disconnect command makes sense now.
func (s *Snapshot) CanDisconnect() bool {
	return s.IsConnected()
}

// CanReconnect reports whether a Reconnect command makes sense now.
func (s *Snapshot) CanReconnect() bool {
	return s.daemonReady() && (IsConnected(s.Tunnel) || IsConnectingOrReconnecting(s.Tunnel))
}
