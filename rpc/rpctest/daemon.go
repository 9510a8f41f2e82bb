// Package rpctest provides an in-process fake daemon serving the management
// interface on a temporary unix socket.
package rpctest

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/yllada/vpnd-client/rpc"
)

// Call records one unary request received by the fake.
type Call struct {
	Method    string
	RequestID string
}

// FakeDaemon is a scriptable management server. Tests drive state changes
// through Emit and the command handlers, which behave like a small daemon.
type FakeDaemon struct {
	tb         testing.TB
	dir        string
	socketPath string

	mu       sync.Mutex
	server   *grpc.Server
	seq      uint64
	version  rpc.VersionInfo
	tunnel   rpc.TunnelState
	relays   rpc.RelayList
	settings rpc.Settings
	account  rpc.AccountState
	subs     map[int]chan *rpc.DaemonEvent
	nextSub  int
	calls    []Call
	failures map[string]error
	onGet    func(method string)
}

// New starts a fake daemon with default state. It is stopped on test cleanup.
func New(tb testing.TB) *FakeDaemon {
	tb.Helper()

	// Kept short: unix socket paths are limited to about 100 bytes.
	dir, err := os.MkdirTemp("", "vpnd")
	if err != nil {
		tb.Fatalf("create socket dir: %v", err)
	}

	d := &FakeDaemon{
		tb:         tb,
		dir:        dir,
		socketPath: filepath.Join(dir, "d.sock"),
		version:    rpc.VersionInfo{Current: "2026.4", LatestStable: "2026.4", Supported: true},
		tunnel:     rpc.TunnelState{State: rpc.TunnelDisconnected},
		relays:     DefaultRelays(),
		settings:   DefaultSettings(),
		subs:       make(map[int]chan *rpc.DaemonEvent),
		failures:   make(map[string]error),
	}
	if err := d.Start(); err != nil {
		os.RemoveAll(dir)
		tb.Fatalf("start fake daemon: %v", err)
	}
	tb.Cleanup(func() {
		d.Stop()
		os.RemoveAll(dir)
	})
	return d
}

// DefaultRelays returns a small relay list with two countries.
func DefaultRelays() rpc.RelayList {
	return rpc.RelayList{
		Etag: "r0",
		Countries: []rpc.Country{
			{Name: "Sweden", Code: "se", Cities: []rpc.City{
				{Name: "Gothenburg", Code: "got", Relays: []rpc.Relay{
					{Hostname: "se-got-wg-001", IPv4: "185.213.154.66", TunnelType: "wireguard", Provider: "31173", Owned: true, Active: true},
				}},
			}},
			{Name: "Germany", Code: "de", Cities: []rpc.City{
				{Name: "Frankfurt", Code: "fra", Relays: []rpc.Relay{
					{Hostname: "de-fra-wg-002", IPv4: "185.209.196.70", TunnelType: "wireguard", Provider: "M247", Active: true},
					{Hostname: "de-fra-ovpn-001", IPv4: "185.209.196.71", TunnelType: "openvpn", Provider: "M247", Active: false},
				}},
			}},
		},
	}
}

// DefaultSettings returns the settings a freshly installed daemon reports.
func DefaultSettings() rpc.Settings {
	return rpc.Settings{
		TunnelProtocol:   "automatic",
		Obfuscation:      "automatic",
		QuantumResistant: "auto",
		Relay: rpc.RelayConstraint{
			Location: &rpc.LocationConstraint{Country: "se"},
		},
	}
}

// SocketPath returns the path clients should dial.
func (d *FakeDaemon) SocketPath() string {
	return d.socketPath
}

// Start serves on the socket path. It is called by New and may be called
// again after Stop to simulate a daemon restart.
func (d *FakeDaemon) Start() error {
	os.Remove(d.socketPath)
	lis, err := net.Listen("unix", d.socketPath)
	if err != nil {
		return err
	}
	server := grpc.NewServer()
	rpc.RegisterManagementServer(server, &service{d: d})

	d.mu.Lock()
	d.server = server
	d.mu.Unlock()

	go server.Serve(lis)
	return nil
}

// Stop closes the listener and every open stream, like a daemon exiting.
func (d *FakeDaemon) Stop() {
	d.mu.Lock()
	server := d.server
	d.server = nil
	for id, ch := range d.subs {
		close(ch)
		delete(d.subs, id)
	}
	d.mu.Unlock()

	if server != nil {
		server.Stop()
	}
}

// EndStreams closes every EventsListen stream cleanly while the server keeps running.
func (d *FakeDaemon) EndStreams() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for id, ch := range d.subs {
		close(ch)
		delete(d.subs, id)
	}
}

// Subscribers returns the number of open event streams.
func (d *FakeDaemon) Subscribers() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.subs)
}

// WaitSubscribers blocks until at least n streams are open or the timeout expires.
func (d *FakeDaemon) WaitSubscribers(n int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if d.Subscribers() >= n {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return false
}

// Calls returns the unary calls received so far.
func (d *FakeDaemon) Calls() []Call {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Call(nil), d.calls...)
}

// FailNext makes the next call to method return err.
func (d *FakeDaemon) FailNext(method string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failures[method] = err
}

// OnGet installs a hook run at the start of every state query, before the
// state is read. Tests use it to race events against a resync.
func (d *FakeDaemon) OnGet(fn func(method string)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onGet = fn
}

// Emit assigns the next sequence number to ev, applies it to the fake's
// state and sends it to every open stream. It returns the assigned sequence.
func (d *FakeDaemon) Emit(ev rpc.DaemonEvent) uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seq++
	ev.Seq = d.seq
	d.applyLocked(&ev)
	d.broadcastLocked(&ev)
	return ev.Seq
}

// EmitRaw sends ev unchanged, without touching the fake's state or sequence.
func (d *FakeDaemon) EmitRaw(ev rpc.DaemonEvent) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.broadcastLocked(&ev)
}

// SkipSeq advances the sequence without emitting, producing a gap.
func (d *FakeDaemon) SkipSeq(n uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seq += n
}

// SetTunnelState emits a tunnel state event.
func (d *FakeDaemon) SetTunnelState(ts rpc.TunnelState) uint64 {
	return d.Emit(rpc.DaemonEvent{Kind: rpc.EventTunnelState, TunnelState: &ts})
}

func (d *FakeDaemon) applyLocked(ev *rpc.DaemonEvent) {
	switch ev.Kind {
	case rpc.EventTunnelState:
		if ev.TunnelState != nil {
			d.tunnel = *ev.TunnelState
		}
	case rpc.EventRelayList:
		if ev.RelayList != nil {
			d.relays = *ev.RelayList
		}
	case rpc.EventSettings:
		if ev.Settings != nil {
			d.settings = *ev.Settings
		}
	case rpc.EventAccount:
		if ev.Account != nil {
			d.account = *ev.Account
		}
	case rpc.EventVersion:
		if ev.Version != nil {
			d.version = *ev.Version
		}
	case rpc.EventRemoveDevice:
		if ev.RemovedDevice != nil && d.account.Device != nil && d.account.Device.ID == ev.RemovedDevice.DeviceID {
			d.account = rpc.AccountState{}
		}
	}
}

func (d *FakeDaemon) broadcastLocked(ev *rpc.DaemonEvent) {
	for _, ch := range d.subs {
		select {
		case ch <- ev:
		default:
			d.tb.Logf("fake daemon: subscriber queue full, dropping event %d", ev.Seq)
		}
	}
}

// record notes the call and returns an injected failure, if any.
func (d *FakeDaemon) record(ctx context.Context, method string) error {
	var requestID string
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if ids := md.Get("x-request-id"); len(ids) > 0 {
			requestID = ids[0]
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, Call{Method: method, RequestID: requestID})
	if err, ok := d.failures[method]; ok {
		delete(d.failures, method)
		return err
	}
	return nil
}

func (d *FakeDaemon) beforeGet(ctx context.Context, method string) error {
	if err := d.record(ctx, method); err != nil {
		return err
	}
	d.mu.Lock()
	hook := d.onGet
	d.mu.Unlock()
	if hook != nil {
		hook(method)
	}
	return nil
}

// service adapts FakeDaemon to rpc.ManagementServer.
type service struct {
	d *FakeDaemon
}

func (s *service) GetCurrentVersion(ctx context.Context, _ *rpc.Empty) (*rpc.VersionResponse, error) {
	if err := s.d.record(ctx, rpc.MethodGetCurrentVersion); err != nil {
		return nil, err
	}
	s.d.mu.Lock()
	defer s.d.mu.Unlock()
	return &rpc.VersionResponse{Version: s.d.version, Seq: s.d.seq}, nil
}

func (s *service) GetTunnelState(ctx context.Context, _ *rpc.Empty) (*rpc.TunnelStateResponse, error) {
	if err := s.d.beforeGet(ctx, rpc.MethodGetTunnelState); err != nil {
		return nil, err
	}
	s.d.mu.Lock()
	defer s.d.mu.Unlock()
	return &rpc.TunnelStateResponse{State: s.d.tunnel, Seq: s.d.seq}, nil
}

func (s *service) GetRelayLocations(ctx context.Context, _ *rpc.Empty) (*rpc.RelayListResponse, error) {
	if err := s.d.beforeGet(ctx, rpc.MethodGetRelayLocations); err != nil {
		return nil, err
	}
	s.d.mu.Lock()
	defer s.d.mu.Unlock()
	return &rpc.RelayListResponse{List: s.d.relays, Seq: s.d.seq}, nil
}

func (s *service) GetSettings(ctx context.Context, _ *rpc.Empty) (*rpc.SettingsResponse, error) {
	if err := s.d.beforeGet(ctx, rpc.MethodGetSettings); err != nil {
		return nil, err
	}
	s.d.mu.Lock()
	defer s.d.mu.Unlock()
	return &rpc.SettingsResponse{Settings: s.d.settings, Seq: s.d.seq}, nil
}

func (s *service) GetAccountState(ctx context.Context, _ *rpc.Empty) (*rpc.AccountResponse, error) {
	if err := s.d.beforeGet(ctx, rpc.MethodGetAccountState); err != nil {
		return nil, err
	}
	s.d.mu.Lock()
	defer s.d.mu.Unlock()
	return &rpc.AccountResponse{Account: s.d.account, Seq: s.d.seq}, nil
}

func (s *service) currentTunnel() rpc.TunnelState {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()
	return s.d.tunnel
}

func (s *service) selectedRelay() string {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()
	if loc := s.d.settings.Relay.Location; loc != nil && loc.Hostname != "" {
		return loc.Hostname
	}
	return "se-got-wg-001"
}

// establish emits Connecting then Connected for the selected relay.
func (s *service) establish() {
	relay := s.selectedRelay()
	endpoint := &rpc.TunnelEndpoint{Address: "185.213.154.66:51820", Transport: "udp", TunnelType: "wireguard"}
	location := &rpc.GeoLocation{Country: "Sweden", City: "Gothenburg", Hostname: relay}
	s.d.SetTunnelState(rpc.TunnelState{State: rpc.TunnelConnecting, Relay: relay, Endpoint: endpoint, Location: location})
	since := time.Now().UTC()
	s.d.SetTunnelState(rpc.TunnelState{State: rpc.TunnelConnected, Relay: relay, Endpoint: endpoint, Location: location, ConnectedSince: &since})
}

func (s *service) ConnectTunnel(ctx context.Context, _ *rpc.Empty) (*rpc.CommandResponse, error) {
	if err := s.d.record(ctx, rpc.MethodConnectTunnel); err != nil {
		return nil, err
	}
	if st := s.currentTunnel().State; st == rpc.TunnelConnected || st == rpc.TunnelConnecting {
		return &rpc.CommandResponse{Changed: false}, nil
	}
	s.establish()
	return &rpc.CommandResponse{Changed: true}, nil
}

func (s *service) DisconnectTunnel(ctx context.Context, _ *rpc.Empty) (*rpc.CommandResponse, error) {
	if err := s.d.record(ctx, rpc.MethodDisconnectTunnel); err != nil {
		return nil, err
	}
	changed := s.currentTunnel().State != rpc.TunnelDisconnected
	s.d.SetTunnelState(rpc.TunnelState{State: rpc.TunnelDisconnected})
	return &rpc.CommandResponse{Changed: changed}, nil
}

func (s *service) ReconnectTunnel(ctx context.Context, _ *rpc.Empty) (*rpc.CommandResponse, error) {
	if err := s.d.record(ctx, rpc.MethodReconnectTunnel); err != nil {
		return nil, err
	}
	if s.currentTunnel().State != rpc.TunnelConnected {
		return &rpc.CommandResponse{Changed: false}, nil
	}
	s.establish()
	return &rpc.CommandResponse{Changed: true}, nil
}

func (s *service) SetRelayConstraint(ctx context.Context, req *rpc.RelayConstraint) (*rpc.CommandResponse, error) {
	if err := s.d.record(ctx, rpc.MethodSetRelayConstraint); err != nil {
		return nil, err
	}
	if req.Location != nil && req.Location.Country == "zz" {
		return nil, status.Error(codes.InvalidArgument, "unknown country code")
	}
	s.d.mu.Lock()
	settings := s.d.settings
	s.d.mu.Unlock()
	settings.Relay = *req
	s.d.Emit(rpc.DaemonEvent{Kind: rpc.EventSettings, Settings: &settings})
	return &rpc.CommandResponse{Changed: true}, nil
}

func (s *service) UpdateSettings(ctx context.Context, req *rpc.SettingsPatch) (*rpc.CommandResponse, error) {
	if err := s.d.record(ctx, rpc.MethodUpdateSettings); err != nil {
		return nil, err
	}
	s.d.mu.Lock()
	settings := s.d.settings
	s.d.mu.Unlock()

	if req.AutoConnect != nil {
		settings.AutoConnect = *req.AutoConnect
	}
	if req.AllowLAN != nil {
		settings.AllowLAN = *req.AllowLAN
	}
	if req.BlockWhenDisconnected != nil {
		settings.BlockWhenDisconnected = *req.BlockWhenDisconnected
	}
	if req.EnableIPv6 != nil {
		settings.EnableIPv6 = *req.EnableIPv6
	}
	if req.TunnelProtocol != nil {
		settings.TunnelProtocol = *req.TunnelProtocol
	}
	if req.Obfuscation != nil {
		settings.Obfuscation = *req.Obfuscation
	}
	if req.QuantumResistant != nil {
		settings.QuantumResistant = *req.QuantumResistant
	}
	if req.DNS != nil {
		settings.DNS = *req.DNS
	}
	s.d.Emit(rpc.DaemonEvent{Kind: rpc.EventSettings, Settings: &settings})
	return &rpc.CommandResponse{Changed: true}, nil
}

func (s *service) LoginAccount(ctx context.Context, req *rpc.LoginRequest) (*rpc.CommandResponse, error) {
	if err := s.d.record(ctx, rpc.MethodLoginAccount); err != nil {
		return nil, err
	}
	expiry := time.Now().UTC().Add(30 * 24 * time.Hour)
	account := rpc.AccountState{
		LoggedIn:      true,
		AccountNumber: req.AccountNumber,
		Device:        &rpc.Device{ID: "dev-1", Name: "Brave Fox", Created: time.Now().UTC()},
		Expiry:        &expiry,
	}
	s.d.Emit(rpc.DaemonEvent{Kind: rpc.EventAccount, Account: &account})
	return &rpc.CommandResponse{Changed: true}, nil
}

func (s *service) LogoutAccount(ctx context.Context, _ *rpc.Empty) (*rpc.CommandResponse, error) {
	if err := s.d.record(ctx, rpc.MethodLogoutAccount); err != nil {
		return nil, err
	}
	s.d.mu.Lock()
	loggedIn := s.d.account.LoggedIn
	s.d.mu.Unlock()
	if !loggedIn {
		return &rpc.CommandResponse{Changed: false}, nil
	}
	s.d.Emit(rpc.DaemonEvent{Kind: rpc.EventAccount, Account: &rpc.AccountState{}})
	return &rpc.CommandResponse{Changed: true}, nil
}

func (s *service) EventsListen(_ *rpc.Empty, stream grpc.ServerStreamingServer[rpc.DaemonEvent]) error {
	ch := make(chan *rpc.DaemonEvent, 1024)

	s.d.mu.Lock()
	id := s.d.nextSub
	s.d.nextSub++
	s.d.subs[id] = ch
	s.d.mu.Unlock()

	defer func() {
		s.d.mu.Lock()
		if cur, ok := s.d.subs[id]; ok && cur == ch {
			delete(s.d.subs, id)
		}
		s.d.mu.Unlock()
	}()

	for {
		select {
		case <-stream.Context().Done():
			return nil
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			if err := stream.Send(ev); err != nil {
				return err
			}
		}
	}
}
