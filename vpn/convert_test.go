package vpn

import (
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yllada/vpnd-client/rpc"
)

func TestTunnelStateFromWire(t *testing.T) {
	since := time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC)
	endpoint := &rpc.TunnelEndpoint{
		Address:     "185.213.154.66:51820",
		Transport:   "udp",
		TunnelType:  "wireguard",
		Obfuscation: &rpc.ProxyEndpoint{Address: "185.213.154.66:443", Type: "shadowsocks"},
	}

	tests := []struct {
		name    string
		in      rpc.TunnelState
		want    TunnelState
		wantErr bool
	}{
		{
			name: "disconnected locked down",
			in:   rpc.TunnelState{State: rpc.TunnelDisconnected, LockedDown: true, Location: &rpc.GeoLocation{Country: "Sweden"}},
			want: Disconnected{LockedDown: true, Location: &Location{Country: "Sweden"}},
		},
		{
			name: "connected",
			in:   rpc.TunnelState{State: rpc.TunnelConnected, Relay: "se-got-wg-001", Endpoint: endpoint, ConnectedSince: &since},
			want: Connected{
				Relay: "se-got-wg-001",
				Since: since,
				Endpoint: Endpoint{
					Address:     "185.213.154.66:51820",
					Transport:   "udp",
					TunnelType:  ProtocolWireGuard,
					Obfuscation: &ProxyHop{Address: "185.213.154.66:443", Type: "shadowsocks"},
				},
			},
		},
		{
			name: "disconnecting to reconnect",
			in:   rpc.TunnelState{State: rpc.TunnelDisconnecting, AfterDisconnect: "reconnect"},
			want: Disconnecting{After: AfterReconnect},
		},
		{
			name: "disconnecting default",
			in:   rpc.TunnelState{State: rpc.TunnelDisconnecting},
			want: Disconnecting{After: AfterNothing},
		},
		{
			name: "error without cause",
			in:   rpc.TunnelState{State: rpc.TunnelError, Blocking: true},
			want: ErrorState{Cause: "unknown error", Blocking: true},
		},
		{name: "connected without relay", in: rpc.TunnelState{State: rpc.TunnelConnected, Endpoint: endpoint}, wantErr: true},
		{name: "connecting without endpoint", in: rpc.TunnelState{State: rpc.TunnelConnecting, Relay: "x"}, wantErr: true},
		{name: "automatic endpoint protocol", in: rpc.TunnelState{State: rpc.TunnelConnecting, Endpoint: &rpc.TunnelEndpoint{Address: "a", TunnelType: "automatic"}}, wantErr: true},
		{name: "bad after disconnect", in: rpc.TunnelState{State: rpc.TunnelDisconnecting, AfterDisconnect: "explode"}, wantErr: true},
		{name: "unknown state", in: rpc.TunnelState{State: "teleporting"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tunnelStateFromWire(&tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := tunnelStateFromWire(nil)
	assert.Error(t, err)
}

func TestSettingsFromWire_Defaults(t *testing.T) {
	got, err := settingsFromWire(&rpc.Settings{})
	require.NoError(t, err)
	assert.Equal(t, ProtocolAutomatic, got.TunnelProtocol)
	assert.Equal(t, ObfuscationAutomatic, got.Obfuscation)
	assert.Equal(t, QuantumAuto, got.QuantumResistant)
	assert.Nil(t, got.Relay.Location)
}

func TestSettingsFromWire_Full(t *testing.T) {
	got, err := settingsFromWire(&rpc.Settings{
		AutoConnect:           true,
		BlockWhenDisconnected: true,
		TunnelProtocol:        "openvpn",
		Obfuscation:           "udp2tcp",
		QuantumResistant:      "on",
		DNS:                   rpc.DNSOptions{Custom: true, Servers: []string{"10.64.0.1", "fc00::1"}},
		Relay: rpc.RelayConstraint{
			Location:  &rpc.LocationConstraint{Country: "se", City: "got"},
			Providers: []string{"31173"},
			Ownership: "owned",
		},
	})
	require.NoError(t, err)
	assert.True(t, got.AutoConnect)
	assert.True(t, got.BlockWhenDisconnected)
	assert.Equal(t, ProtocolOpenVPN, got.TunnelProtocol)
	assert.Equal(t, ObfuscationUDP2TCP, got.Obfuscation)
	assert.Equal(t, QuantumOn, got.QuantumResistant)
	assert.Equal(t, []netip.Addr{netip.MustParseAddr("10.64.0.1"), netip.MustParseAddr("fc00::1")}, got.DNS.Servers)
	assert.Equal(t, &LocationConstraint{Country: "se", City: "got"}, got.Relay.Location)
	assert.Equal(t, []string{"31173"}, got.Relay.Providers)
	assert.Equal(t, "owned", got.Relay.Ownership)
}

func TestSettingsFromWire_Invalid(t *testing.T) {
	tests := []struct {
		name string
		in   rpc.Settings
	}{
		{"protocol", rpc.Settings{TunnelProtocol: "ipsec"}},
		{"obfuscation", rpc.Settings{Obfuscation: "rot13"}},
		{"quantum", rpc.Settings{QuantumResistant: "maybe"}},
		{"dns", rpc.Settings{DNS: rpc.DNSOptions{Servers: []string{"dns.example"}}}},
		{"relay protocol", rpc.Settings{Relay: rpc.RelayConstraint{TunnelProtocol: "ipsec"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := settingsFromWire(&tt.in)
			assert.Error(t, err)
		})
	}
}

func TestRelayListFromWire(t *testing.T) {
	got, err := relayListFromWire(&rpc.RelayList{Etag: "r1", Countries: []rpc.Country{
		{Name: "Sweden", Code: "se", Cities: []rpc.City{
			{Name: "Gothenburg", Code: "got", Relays: []rpc.Relay{
				{Hostname: "se-got-wg-001", TunnelType: "wireguard", Active: true, Owned: true},
			}},
		}},
	}})
	require.NoError(t, err)
	assert.Equal(t, "r1", got.Etag)
	_, city, relay, ok := got.Find("se-got-wg-001")
	require.True(t, ok)
	assert.Equal(t, "Gothenburg", city.Name)
	assert.Equal(t, ProtocolWireGuard, relay.TunnelType)
	assert.True(t, relay.Owned)

	_, err = relayListFromWire(&rpc.RelayList{Countries: []rpc.Country{{Name: "Nowhere"}}})
	assert.Error(t, err)
	_, err = relayListFromWire(&rpc.RelayList{Countries: []rpc.Country{{Code: "se", Cities: []rpc.City{{Name: "Nowhere"}}}}})
	assert.Error(t, err)
}

func TestRoundTripToWire(t *testing.T) {
	c := RelayConstraint{Location: &LocationConstraint{Country: "de", City: "fra", Hostname: "de-fra-wg-002"}, TunnelProtocol: ProtocolWireGuard}
	back, err := relayConstraintFromWire(*relayConstraintToWire(c))
	require.NoError(t, err)
	assert.Equal(t, c, back)

	dns := DNSOptions{BlockAds: true, Custom: true, Servers: []netip.Addr{netip.MustParseAddr("9.9.9.9")}}
	dnsBack, err := dnsFromWire(*dnsToWire(dns))
	require.NoError(t, err)
	assert.Equal(t, dns, dnsBack)
}

func TestAccountFromWire(t *testing.T) {
	expiry := time.Date(2026, 12, 1, 0, 0, 0, 0, time.UTC)
	got, err := accountFromWire(&rpc.AccountState{
		LoggedIn:      true,
		AccountNumber: "1234567890123456",
		Device:        &rpc.Device{ID: "dev-1", Name: "Brave Fox"},
		Expiry:        &expiry,
	})
	require.NoError(t, err)
	assert.Equal(t, "Brave Fox", got.Device.Name)
	assert.Equal(t, expiry, got.Expiry)

	loggedOut, err := accountFromWire(&rpc.AccountState{})
	require.NoError(t, err)
	assert.False(t, loggedOut.LoggedIn)
	assert.True(t, loggedOut.Expiry.IsZero())
}
