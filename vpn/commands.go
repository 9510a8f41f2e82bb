package vpn

import (
	"errors"
	"fmt"
	"strings"

	"github.com/yllada/vpnd-client/rpc"
)

// Command is a request the dispatcher can submit to the daemon.
type Command interface {
	// Name identifies the command in logs, errors and metrics.
	Name() string
	validate() error
	request() (method string, req any)
}

// ConnectCommand asks the daemon to secure the connection.
type ConnectCommand struct{}

// DisconnectCommand asks the daemon to tear the tunnel down.
type DisconnectCommand struct{}

// ReconnectCommand asks the daemon to pick a new relay and reconnect.
type ReconnectCommand struct{}

// SetRelayConstraintCommand replaces the relay selection policy.
type SetRelayConstraintCommand struct {
	Constraint RelayConstraint
}

// UpdateSettingsCommand changes the fields set in Patch.
type UpdateSettingsCommand struct {
	Patch SettingsPatch
}

// LoginCommand logs the device into an account.
type LoginCommand struct {
	AccountNumber string
}

// LogoutCommand logs the device out and removes it from the account.
type LogoutCommand struct{}

// SettingsPatch selects settings to change. Nil fields are left as they are.
type SettingsPatch struct {
	AutoConnect           *bool
	AllowLAN              *bool
	BlockWhenDisconnected *bool
	EnableIPv6            *bool
	TunnelProtocol        *TunnelProtocol
	Obfuscation           *Obfuscation
	QuantumResistant      *QuantumResistance
	DNS                   *DNSOptions
}

// IsEmpty reports whether the patch changes nothing.
func (p SettingsPatch) IsEmpty() bool {
	return p.AutoConnect == nil && p.AllowLAN == nil && p.BlockWhenDisconnected == nil &&
		p.EnableIPv6 == nil && p.TunnelProtocol == nil && p.Obfuscation == nil &&
		p.QuantumResistant == nil && p.DNS == nil
}

func (ConnectCommand) Name() string            { return "connect" }
func (DisconnectCommand) Name() string         { return "disconnect" }
func (ReconnectCommand) Name() string          { return "reconnect" }
func (SetRelayConstraintCommand) Name() string { return "set_relay_constraint" }
func (UpdateSettingsCommand) Name() string     { return "update_settings" }
func (LoginCommand) Name() string              { return "login" }
func (LogoutCommand) Name() string             { return "logout" }

func (ConnectCommand) validate() error    { return nil }
func (DisconnectCommand) validate() error { return nil }
func (ReconnectCommand) validate() error  { return nil }
func (LogoutCommand) validate() error     { return nil }

func (ConnectCommand) request() (string, any) {
	return rpc.MethodConnectTunnel, &rpc.Empty{}
}

func (DisconnectCommand) request() (string, any) {
	return rpc.MethodDisconnectTunnel, &rpc.Empty{}
}

func (ReconnectCommand) request() (string, any) {
	return rpc.MethodReconnectTunnel, &rpc.Empty{}
}

func (LogoutCommand) request() (string, any) {
	return rpc.MethodLogoutAccount, &rpc.Empty{}
}

func (c SetRelayConstraintCommand) validate() error {
	if loc := c.Constraint.Location; loc != nil {
		if loc.Country == "" {
			return errors.New("relay location needs a country")
		}
		if loc.Hostname != "" && loc.City == "" {
			return errors.New("relay hostname needs a city")
		}
	}
	return validProtocol(c.Constraint.TunnelProtocol, true)
}

func (c SetRelayConstraintCommand) request() (string, any) {
	return rpc.MethodSetRelayConstraint, relayConstraintToWire(c.Constraint)
}

func (c UpdateSettingsCommand) validate() error {
	p := c.Patch
	if p.IsEmpty() {
		return errors.New("settings patch is empty")
	}
	if p.TunnelProtocol != nil {
		if err := validProtocol(*p.TunnelProtocol, false); err != nil {
			return err
		}
	}
	if p.Obfuscation != nil {
		if _, err := obfuscationFromWire(string(*p.Obfuscation)); err != nil || *p.Obfuscation == "" {
			return fmt.Errorf("unknown obfuscation %q", *p.Obfuscation)
		}
	}
	if p.QuantumResistant != nil {
		if _, err := quantumFromWire(string(*p.QuantumResistant)); err != nil || *p.QuantumResistant == "" {
			return fmt.Errorf("unknown quantum resistance %q", *p.QuantumResistant)
		}
	}
	if p.DNS != nil {
		if p.DNS.Custom && len(p.DNS.Servers) == 0 {
			return errors.New("custom DNS needs at least one server")
		}
		for i, addr := range p.DNS.Servers {
			if !addr.IsValid() {
				return fmt.Errorf("custom DNS server %d is not an IP address", i+1)
			}
		}
	}
	return nil
}

func (c UpdateSettingsCommand) request() (string, any) {
	p := c.Patch
	w := &rpc.SettingsPatch{
		AutoConnect:           p.AutoConnect,
		AllowLAN:              p.AllowLAN,
		BlockWhenDisconnected: p.BlockWhenDisconnected,
		EnableIPv6:            p.EnableIPv6,
	}
	if p.TunnelProtocol != nil {
		s := string(*p.TunnelProtocol)
		w.TunnelProtocol = &s
	}
	if p.Obfuscation != nil {
		s := string(*p.Obfuscation)
		w.Obfuscation = &s
	}
	if p.QuantumResistant != nil {
		s := string(*p.QuantumResistant)
		w.QuantumResistant = &s
	}
	if p.DNS != nil {
		w.DNS = dnsToWire(*p.DNS)
	}
	return rpc.MethodUpdateSettings, w
}

func (c LoginCommand) validate() error {
	_, err := NormalizeAccountNumber(c.AccountNumber)
	return err
}

func (c LoginCommand) request() (string, any) {
	number, _ := NormalizeAccountNumber(c.AccountNumber)
	return rpc.MethodLoginAccount, &rpc.LoginRequest{AccountNumber: number}
}

// NormalizeAccountNumber strips spaces and checks for exactly 16 digits.
func NormalizeAccountNumber(s string) (string, error) {
	number := strings.Join(strings.Fields(s), "")
	if len(number) != 16 {
		return "", fmt.Errorf("account number must have 16 digits, got %d", len(number))
	}
	for _, r := range number {
		if r < '0' || r > '9' {
			return "", errors.New("account number must only contain digits")
		}
	}
	return number, nil
}

// FormatAccountNumber groups an account number in blocks of four.
func FormatAccountNumber(number string) string {
	var b strings.Builder
	for i, r := range number {
		if i > 0 && i%4 == 0 {
			b.WriteByte(' ')
		}
		b.WriteRune(r)
	}
	return b.String()
}

func validProtocol(p TunnelProtocol, allowEmpty bool) error {
	if p == "" && allowEmpty {
		return nil
	}
	if _, err := protocolFromWire(string(p), true); err != nil || p == "" {
		return fmt.Errorf("unknown tunnel protocol %q", p)
	}
	return nil
}
