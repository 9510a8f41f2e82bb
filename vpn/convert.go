package vpn

import (
	"errors"
	"fmt"
	"net/netip"

	"github.com/yllada/vpnd-client/rpc"
)

// Conversions between the wire format in package rpc and the state model.
// Every fromWire function rejects payloads that cannot be represented.

func tunnelStateFromWire(w *rpc.TunnelState) (TunnelState, error) {
	if w == nil {
		return nil, errors.New("missing tunnel state")
	}
	switch w.State {
	case rpc.TunnelDisconnected:
		return Disconnected{LockedDown: w.LockedDown, Location: locationFromWire(w.Location)}, nil
	case rpc.TunnelConnecting:
		endpoint, err := endpointFromWire(w.Endpoint)
		if err != nil {
			return nil, err
		}
		return Connecting{Relay: w.Relay, Endpoint: endpoint, Location: locationFromWire(w.Location)}, nil
	case rpc.TunnelConnected:
		endpoint, err := endpointFromWire(w.Endpoint)
		if err != nil {
			return nil, err
		}
		if w.Relay == "" {
			return nil, errors.New("connected without relay")
		}
		st := Connected{Relay: w.Relay, Endpoint: endpoint, Location: locationFromWire(w.Location)}
		if w.ConnectedSince != nil {
			st.Since = *w.ConnectedSince
		}
		return st, nil
	case rpc.TunnelDisconnecting:
		after, err := afterDisconnectFromWire(w.AfterDisconnect)
		if err != nil {
			return nil, err
		}
		return Disconnecting{After: after}, nil
	case rpc.TunnelError:
		cause := w.ErrorCause
		if cause == "" {
			cause = "unknown error"
		}
		return ErrorState{Cause: cause, Blocking: w.Blocking}, nil
	}
	return nil, fmt.Errorf("unknown tunnel state %q", w.State)
}

func afterDisconnectFromWire(s string) (AfterDisconnect, error) {
	switch s {
	case "", "nothing":
		return AfterNothing, nil
	case "block":
		return AfterBlock, nil
	case "reconnect":
		return AfterReconnect, nil
	}
	return AfterNothing, fmt.Errorf("unknown after-disconnect action %q", s)
}

func locationFromWire(w *rpc.GeoLocation) *Location {
	if w == nil {
		return nil
	}
	return &Location{
		Country:            w.Country,
		City:               w.City,
		Hostname:           w.Hostname,
		EntryHostname:      w.EntryHostname,
		ObfuscatorHostname: w.ObfuscatorHostname,
		BridgeHostname:     w.BridgeHostname,
		IPv4:               w.IPv4,
		IPv6:               w.IPv6,
	}
}

func endpointFromWire(w *rpc.TunnelEndpoint) (Endpoint, error) {
	if w == nil {
		return Endpoint{}, errors.New("missing tunnel endpoint")
	}
	if w.Address == "" {
		return Endpoint{}, errors.New("tunnel endpoint without address")
	}
	tunnelType, err := protocolFromWire(w.TunnelType, false)
	if err != nil {
		return Endpoint{}, err
	}
	e := Endpoint{
		Address:          w.Address,
		Transport:        w.Transport,
		TunnelType:       tunnelType,
		QuantumResistant: w.QuantumResistant,
		EntryAddress:     w.EntryAddress,
	}
	if w.Obfuscation != nil {
		e.Obfuscation = &ProxyHop{Address: w.Obfuscation.Address, Type: w.Obfuscation.Type}
	}
	if w.Proxy != nil {
		e.Proxy = &ProxyHop{Address: w.Proxy.Address, Type: w.Proxy.Type}
	}
	return e, nil
}

// protocolFromWire parses a tunnel protocol. Relays and endpoints always
// name a concrete protocol, so "automatic" is only allowed in settings.
func protocolFromWire(s string, allowAutomatic bool) (TunnelProtocol, error) {
	switch p := TunnelProtocol(s); p {
	case ProtocolWireGuard, ProtocolOpenVPN:
		return p, nil
	case ProtocolAutomatic:
		if allowAutomatic {
			return p, nil
		}
	case "":
		if allowAutomatic {
			return ProtocolAutomatic, nil
		}
	}
	return "", fmt.Errorf("unknown tunnel protocol %q", s)
}

func relayListFromWire(w *rpc.RelayList) (RelayList, error) {
	if w == nil {
		return RelayList{}, errors.New("missing relay list")
	}
	list := RelayList{Etag: w.Etag}
	for _, wc := range w.Countries {
		if wc.Code == "" {
			return RelayList{}, fmt.Errorf("country %q without code", wc.Name)
		}
		country := Country{Name: wc.Name, Code: wc.Code}
		for _, wcity := range wc.Cities {
			if wcity.Code == "" {
				return RelayList{}, fmt.Errorf("city %q in %s without code", wcity.Name, wc.Code)
			}
			city := City{Name: wcity.Name, Code: wcity.Code}
			for _, wr := range wcity.Relays {
				if wr.Hostname == "" {
					return RelayList{}, fmt.Errorf("relay without hostname in %s/%s", wc.Code, wcity.Code)
				}
				tunnelType, err := protocolFromWire(wr.TunnelType, false)
				if err != nil {
					return RelayList{}, fmt.Errorf("relay %s: %w", wr.Hostname, err)
				}
				city.Relays = append(city.Relays, Relay{
					Hostname:   wr.Hostname,
					IPv4:       wr.IPv4,
					IPv6:       wr.IPv6,
					TunnelType: tunnelType,
					Provider:   wr.Provider,
					Owned:      wr.Owned,
					Active:     wr.Active,
				})
			}
			country.Cities = append(country.Cities, city)
		}
		list.Countries = append(list.Countries, country)
	}
	return list, nil
}

func obfuscationFromWire(s string) (Obfuscation, error) {
	switch o := Obfuscation(s); o {
	case ObfuscationAutomatic, ObfuscationOff, ObfuscationUDP2TCP, ObfuscationShadowsocks:
		return o, nil
	case "":
		return ObfuscationAutomatic, nil
	}
	return "", fmt.Errorf("unknown obfuscation %q", s)
}

func quantumFromWire(s string) (QuantumResistance, error) {
	switch q := QuantumResistance(s); q {
	case QuantumAuto, QuantumOn, QuantumOff:
		return q, nil
	case "":
		return QuantumAuto, nil
	}
	return "", fmt.Errorf("unknown quantum resistance %q", s)
}

func dnsFromWire(w rpc.DNSOptions) (DNSOptions, error) {
	dns := DNSOptions{
		BlockAds:      w.BlockAds,
		BlockTrackers: w.BlockTrackers,
		BlockMalware:  w.BlockMalware,
		Custom:        w.Custom,
	}
	for _, s := range w.Servers {
		addr, err := netip.ParseAddr(s)
		if err != nil {
			return DNSOptions{}, fmt.Errorf("custom DNS server: %w", err)
		}
		dns.Servers = append(dns.Servers, addr)
	}
	return dns, nil
}

func relayConstraintFromWire(w rpc.RelayConstraint) (RelayConstraint, error) {
	protocol, err := protocolFromWire(w.TunnelProtocol, true)
	if err != nil {
		return RelayConstraint{}, err
	}
	c := RelayConstraint{
		TunnelProtocol: protocol,
		Ownership:      w.Ownership,
	}
	if len(w.Providers) > 0 {
		c.Providers = append([]string(nil), w.Providers...)
	}
	if w.Location != nil {
		c.Location = &LocationConstraint{
			Country:  w.Location.Country,
			City:     w.Location.City,
			Hostname: w.Location.Hostname,
		}
	}
	return c, nil
}

func settingsFromWire(w *rpc.Settings) (Settings, error) {
	if w == nil {
		return Settings{}, errors.New("missing settings")
	}
	protocol, err := protocolFromWire(w.TunnelProtocol, true)
	if err != nil {
		return Settings{}, err
	}
	obfuscation, err := obfuscationFromWire(w.Obfuscation)
	if err != nil {
		return Settings{}, err
	}
	quantum, err := quantumFromWire(w.QuantumResistant)
	if err != nil {
		return Settings{}, err
	}
	dns, err := dnsFromWire(w.DNS)
	if err != nil {
		return Settings{}, err
	}
	relay, err := relayConstraintFromWire(w.Relay)
	if err != nil {
		return Settings{}, err
	}
	return Settings{
		AutoConnect:           w.AutoConnect,
		AllowLAN:              w.AllowLAN,
		BlockWhenDisconnected: w.BlockWhenDisconnected,
		EnableIPv6:            w.EnableIPv6,
		TunnelProtocol:        protocol,
		Obfuscation:           obfuscation,
		QuantumResistant:      quantum,
		DNS:                   dns,
		Relay:                 relay,
	}, nil
}

func accountFromWire(w *rpc.AccountState) (AccountState, error) {
	if w == nil {
		return AccountState{}, errors.New("missing account state")
	}
	if w.LoggedIn && w.AccountNumber == "" {
		return AccountState{}, errors.New("logged in without account number")
	}
	a := AccountState{
		LoggedIn:      w.LoggedIn,
		AccountNumber: w.AccountNumber,
		Revoked:       w.Revoked,
	}
	if w.Device != nil {
		a.Device = &Device{ID: w.Device.ID, Name: w.Device.Name, Created: w.Device.Created}
	}
	if w.Expiry != nil {
		a.Expiry = *w.Expiry
	}
	return a, nil
}

func versionFromWire(w *rpc.VersionInfo) (VersionInfo, error) {
	if w == nil {
		return VersionInfo{}, errors.New("missing version info")
	}
	if w.Current == "" {
		return VersionInfo{}, errors.New("version info without current version")
	}
	return VersionInfo{Current: w.Current, LatestStable: w.LatestStable, Supported: w.Supported}, nil
}

func relayConstraintToWire(c RelayConstraint) *rpc.RelayConstraint {
	w := &rpc.RelayConstraint{
		TunnelProtocol: string(c.TunnelProtocol),
		Providers:      c.Providers,
		Ownership:      c.Ownership,
	}
	if c.Location != nil {
		w.Location = &rpc.LocationConstraint{
			Country:  c.Location.Country,
			City:     c.Location.City,
			Hostname: c.Location.Hostname,
		}
	}
	return w
}

func dnsToWire(d DNSOptions) *rpc.DNSOptions {
	w := &rpc.DNSOptions{
		BlockAds:      d.BlockAds,
		BlockTrackers: d.BlockTrackers,
		BlockMalware:  d.BlockMalware,
		Custom:        d.Custom,
	}
	for _, addr := range d.Servers {
		w.Servers = append(w.Servers, addr.String())
	}
	return w
}
