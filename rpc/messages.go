package rpc

import "time"

// Tunnel state names carried in TunnelState.State.
const (
	TunnelDisconnected  = "disconnected"
	TunnelConnecting    = "connecting"
	TunnelConnected     = "connected"
	TunnelDisconnecting = "disconnecting"
	TunnelError         = "error"
)

// Event kinds carried in DaemonEvent.Kind.
const (
	EventTunnelState  = "tunnel_state"
	EventRelayList    = "relay_list"
	EventSettings     = "settings"
	EventAccount      = "account"
	EventVersion      = "version"
	EventRemoveDevice = "remove_device"
)

// Empty is the request or response of calls without a payload.
type Empty struct{}

// VersionInfo describes the daemon build and the latest available release.
type VersionInfo struct {
	Current      string `json:"current"`
	LatestStable string `json:"latest_stable,omitempty"`
	Supported    bool   `json:"supported"`
}

// VersionResponse is returned by GetCurrentVersion.
type VersionResponse struct {
	Version VersionInfo `json:"version"`
	Seq     uint64      `json:"seq"`
}

// GeoLocation is the exit location reported while a tunnel is up.
type GeoLocation struct {
	Country            string  `json:"country"`
	City               string  `json:"city,omitempty"`
	Hostname           string  `json:"hostname,omitempty"`
	EntryHostname      string  `json:"entry_hostname,omitempty"`
	ObfuscatorHostname string  `json:"obfuscator_hostname,omitempty"`
	BridgeHostname     string  `json:"bridge_hostname,omitempty"`
	IPv4               string  `json:"ipv4,omitempty"`
	IPv6               string  `json:"ipv6,omitempty"`
	Latitude           float64 `json:"latitude,omitempty"`
	Longitude          float64 `json:"longitude,omitempty"`
}

// ProxyEndpoint is an intermediate hop in front of the relay, either an
// obfuscator or a bridge proxy.
type ProxyEndpoint struct {
	Address string `json:"address"`
	Type    string `json:"type"`
}

// TunnelEndpoint describes the relay endpoint a tunnel is using.
type TunnelEndpoint struct {
	Address          string         `json:"address"`
	Transport        string         `json:"transport,omitempty"`
	TunnelType       string         `json:"tunnel_type"`
	QuantumResistant bool           `json:"quantum_resistant,omitempty"`
	EntryAddress     string         `json:"entry_address,omitempty"`
	Obfuscation      *ProxyEndpoint `json:"obfuscation,omitempty"`
	Proxy            *ProxyEndpoint `json:"proxy,omitempty"`
}

// TunnelState is the daemon's tunnel state. State selects which of the
// remaining fields are meaningful.
type TunnelState struct {
	State           string          `json:"state"`
	LockedDown      bool            `json:"locked_down,omitempty"`
	Relay           string          `json:"relay,omitempty"`
	Endpoint        *TunnelEndpoint `json:"endpoint,omitempty"`
	Location        *GeoLocation    `json:"location,omitempty"`
	ConnectedSince  *time.Time      `json:"connected_since,omitempty"`
	AfterDisconnect string          `json:"after_disconnect,omitempty"`
	ErrorCause      string          `json:"error_cause,omitempty"`
	Blocking        bool            `json:"blocking,omitempty"`
}

// TunnelStateResponse is returned by GetTunnelState.
type TunnelStateResponse struct {
	State TunnelState `json:"state"`
	Seq   uint64      `json:"seq"`
}

// Relay is a single VPN server.
type Relay struct {
	Hostname   string `json:"hostname"`
	IPv4       string `json:"ipv4,omitempty"`
	IPv6       string `json:"ipv6,omitempty"`
	TunnelType string `json:"tunnel_type"`
	Provider   string `json:"provider,omitempty"`
	Owned      bool   `json:"owned,omitempty"`
	Active     bool   `json:"active"`
	Weight     uint64 `json:"weight,omitempty"`
}

// City groups the relays of one city.
type City struct {
	Name      string  `json:"name"`
	Code      string  `json:"code"`
	Latitude  float64 `json:"latitude,omitempty"`
	Longitude float64 `json:"longitude,omitempty"`
	Relays    []Relay `json:"relays"`
}

// Country groups the cities of one country.
type Country struct {
	Name   string `json:"name"`
	Code   string `json:"code"`
	Cities []City `json:"cities"`
}

// RelayList is the full relay inventory. The daemon always sends it whole.
type RelayList struct {
	Etag      string    `json:"etag,omitempty"`
	Countries []Country `json:"countries"`
}

// RelayListResponse is returned by GetRelayLocations.
type RelayListResponse struct {
	List RelayList `json:"list"`
	Seq  uint64    `json:"seq"`
}

// LocationConstraint narrows relay selection. Codes, not display names.
type LocationConstraint struct {
	Country  string `json:"country"`
	City     string `json:"city,omitempty"`
	Hostname string `json:"hostname,omitempty"`
}

// RelayConstraint is the relay selection policy.
type RelayConstraint struct {
	Location       *LocationConstraint `json:"location,omitempty"`
	TunnelProtocol string              `json:"tunnel_protocol,omitempty"`
	Providers      []string            `json:"providers,omitempty"`
	Ownership      string              `json:"ownership,omitempty"`
}

// DNSOptions configures content blocking and custom resolvers.
type DNSOptions struct {
	BlockAds      bool     `json:"block_ads,omitempty"`
	BlockTrackers bool     `json:"block_trackers,omitempty"`
	BlockMalware  bool     `json:"block_malware,omitempty"`
	Custom        bool     `json:"custom,omitempty"`
	Servers       []string `json:"servers,omitempty"`
}

// Settings is the daemon's complete settings record.
type Settings struct {
	AutoConnect           bool            `json:"auto_connect"`
	AllowLAN              bool            `json:"allow_lan"`
	BlockWhenDisconnected bool            `json:"block_when_disconnected"`
	EnableIPv6            bool            `json:"enable_ipv6"`
	TunnelProtocol        string          `json:"tunnel_protocol"`
	Obfuscation           string          `json:"obfuscation"`
	QuantumResistant      string          `json:"quantum_resistant"`
	DNS                   DNSOptions      `json:"dns"`
	Relay                 RelayConstraint `json:"relay"`
}

// SettingsResponse is returned by GetSettings.
type SettingsResponse struct {
	Settings Settings `json:"settings"`
	Seq      uint64   `json:"seq"`
}

// SettingsPatch is the UpdateSettings request. Nil fields are left as is.
type SettingsPatch struct {
	AutoConnect           *bool       `json:"auto_connect,omitempty"`
	AllowLAN              *bool       `json:"allow_lan,omitempty"`
	BlockWhenDisconnected *bool       `json:"block_when_disconnected,omitempty"`
	EnableIPv6            *bool       `json:"enable_ipv6,omitempty"`
	TunnelProtocol        *string     `json:"tunnel_protocol,omitempty"`
	Obfuscation           *string     `json:"obfuscation,omitempty"`
	QuantumResistant      *string     `json:"quantum_resistant,omitempty"`
	DNS                   *DNSOptions `json:"dns,omitempty"`
}

// Device is this machine's registration on the account.
type Device struct {
	ID      string    `json:"id"`
	Name    string    `json:"name"`
	Created time.Time `json:"created"`
}

// AccountState is the account and device identity.
type AccountState struct {
	LoggedIn      bool       `json:"logged_in"`
	AccountNumber string     `json:"account_number,omitempty"`
	Device        *Device    `json:"device,omitempty"`
	Expiry        *time.Time `json:"expiry,omitempty"`
	Revoked       bool       `json:"revoked,omitempty"`
}

// AccountResponse is returned by GetAccountState.
type AccountResponse struct {
	Account AccountState `json:"account"`
	Seq     uint64       `json:"seq"`
}

// RemovedDevice is the payload of a remove_device event.
type RemovedDevice struct {
	AccountNumber string `json:"account_number"`
	DeviceID      string `json:"device_id"`
}

// LoginRequest is the LoginAccount request.
type LoginRequest struct {
	AccountNumber string `json:"account_number"`
}

// CommandResponse acknowledges a mutating call. Changed is false when the
// daemon was already in the requested state.
type CommandResponse struct {
	Changed bool `json:"changed"`
}

// DaemonEvent is one message of the EventsListen stream. Kind selects the
// populated payload field. Seq increases by one per event emitted by the
// daemon, across all kinds.
type DaemonEvent struct {
	Seq           uint64         `json:"seq"`
	Kind          string         `json:"kind"`
	TunnelState   *TunnelState   `json:"tunnel_state,omitempty"`
	RelayList     *RelayList     `json:"relay_list,omitempty"`
	Settings      *Settings      `json:"settings,omitempty"`
	Account       *AccountState  `json:"account,omitempty"`
	Version       *VersionInfo   `json:"version,omitempty"`
	RemovedDevice *RemovedDevice `json:"removed_device,omitempty"`
}
