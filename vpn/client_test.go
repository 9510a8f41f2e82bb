package vpn

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yllada/vpnd-client/common"
	"github.com/yllada/vpnd-client/rpc"
	"github.com/yllada/vpnd-client/rpc/rpctest"
)

const waitTimeout = 5 * time.Second

func newTestClient(t *testing.T, daemon *rpctest.FakeDaemon, watch bool) *Client {
	t.Helper()
	c := NewClient(ClientOptions{
		SocketPath:  daemon.SocketPath(),
		DialTimeout: time.Second,
		CallTimeout: time.Second,
		Backoff:     Backoff{Initial: 10 * time.Millisecond, Max: 50 * time.Millisecond, Multiplier: 2},
		WatchSocket: watch,
		Logger:      quietLogger(),
	})
	t.Cleanup(c.Stop)
	return c
}

func startSynced(t *testing.T, daemon *rpctest.FakeDaemon) *Client {
	t.Helper()
	c := newTestClient(t, daemon, false)
	c.Start(context.Background())
	waitFor(t, c, func(s *Snapshot) bool { return !s.Stale })
	require.True(t, daemon.WaitSubscribers(1, waitTimeout))
	return c
}

func waitFor(t *testing.T, c *Client, pred func(*Snapshot) bool) *Snapshot {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	snap, err := c.WaitFor(ctx, pred)
	require.NoError(t, err)
	return snap
}

func next(t *testing.T, sub *Subscription) *Snapshot {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	snap, err := sub.Next(ctx)
	require.NoError(t, err)
	return snap
}

func assertNoMore(t *testing.T, sub *Subscription) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	snap, err := sub.Next(ctx)
	if err == nil {
		t.Errorf("unexpected snapshot generation %d (%s)", snap.Generation, snap.Tunnel.Name())
	}
}

func countCalls(daemon *rpctest.FakeDaemon, method string) int {
	n := 0
	for _, call := range daemon.Calls() {
		if call.Method == method {
			n++
		}
	}
	return n
}

func TestClient_InitialSync(t *testing.T) {
	daemon := rpctest.New(t)
	c := startSynced(t, daemon)

	snap := c.Current()
	assert.False(t, snap.Stale)
	assert.Equal(t, rpc.StateConnected, snap.Daemon)
	assert.Equal(t, Disconnected{}, snap.Tunnel)
	assert.Equal(t, "2026.4", snap.Version.Current)
	assert.Equal(t, "se", snap.Settings.Relay.Location.Country)
	active, total := snap.Relays.Count()
	assert.Equal(t, 2, active)
	assert.Equal(t, 3, total)
	assert.True(t, snap.CanSecure())
	assert.Equal(t, HealthHealthy, c.Health().State)
	assert.True(t, c.IsRunning())
}

func TestClient_ConnectThenDisconnectIsThreeSnapshots(t *testing.T) {
	daemon := rpctest.New(t)
	c := startSynced(t, daemon)
	ctx := context.Background()

	sub := c.Subscribe()
	defer sub.Close()
	start := next(t, sub)

	ack, err := c.Submit(ctx, ConnectCommand{})
	require.NoError(t, err)
	assert.True(t, ack.Changed)
	_, err = c.Submit(ctx, DisconnectCommand{})
	require.NoError(t, err)

	connecting := next(t, sub)
	connected := next(t, sub)
	disconnected := next(t, sub)

	assert.IsType(t, Connecting{}, connecting.Tunnel)
	assert.IsType(t, Connected{}, connected.Tunnel)
	assert.IsType(t, Disconnected{}, disconnected.Tunnel)
	assert.Equal(t, start.Generation+1, connecting.Generation)
	assert.Equal(t, start.Generation+2, connected.Generation)
	assert.Equal(t, start.Generation+3, disconnected.Generation)
	assert.Equal(t, "SECURE CONNECTION", Label(connected.Tunnel))
	assert.Equal(t, "Gothenburg, Sweden", LocationOf(connected.Tunnel).Place())
	assertNoMore(t, sub)
}

func TestClient_LateSubscriberStartsAtCurrent(t *testing.T) {
	daemon := rpctest.New(t)
	c := startSynced(t, daemon)

	_, err := c.Submit(context.Background(), ConnectCommand{})
	require.NoError(t, err)
	waitFor(t, c, func(s *Snapshot) bool { return s.IsConnected() })

	sub := c.Subscribe()
	defer sub.Close()
	first := next(t, sub)
	assert.Same(t, c.Current(), first)
	assert.True(t, first.IsConnected())
}

func TestClient_SubmitWhileDaemonDown(t *testing.T) {
	daemon := rpctest.New(t)
	c := startSynced(t, daemon)

	daemon.Stop()
	// While retrying, the daemon is reported as being connected to.
	stale := waitFor(t, c, func(s *Snapshot) bool { return s.Stale && s.Daemon == rpc.StateConnecting })
	assert.True(t, stale.Stale)

	sub := c.Subscribe()
	defer sub.Close()
	first := next(t, sub)

	_, err := c.Submit(context.Background(), ConnectCommand{})
	var ce *CommandError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, Unavailable, ce.Kind)
	assert.ErrorIs(t, err, common.ErrUnavailable)

	assertNoMore(t, sub)
	assert.Equal(t, first.Generation, c.Current().Generation)
}

func TestClient_SubmitBeforeStart(t *testing.T) {
	daemon := rpctest.New(t)
	c := newTestClient(t, daemon, false)

	_, err := c.Submit(context.Background(), ConnectCommand{})
	assert.ErrorIs(t, err, common.ErrUnavailable)
	assert.Equal(t, uint64(0), c.Current().Generation)
	assert.Empty(t, daemon.Calls())
}

func TestClient_ReconnectResyncs(t *testing.T) {
	daemon := rpctest.New(t)
	c := newTestClient(t, daemon, true)
	c.Start(context.Background())
	waitFor(t, c, func(s *Snapshot) bool { return !s.Stale })
	require.True(t, daemon.WaitSubscribers(1, waitTimeout))

	sub := c.Subscribe()
	defer sub.Close()
	live := next(t, sub)
	require.False(t, live.Stale)

	daemon.Stop()
	// The daemon changes state while the client cannot see it.
	settings := rpctest.DefaultSettings()
	settings.AllowLAN = true
	daemon.Emit(rpc.DaemonEvent{Kind: rpc.EventSettings, Settings: &settings})

	stale := next(t, sub)
	assert.True(t, stale.Stale)
	assert.Equal(t, live.Generation+1, stale.Generation)
	assert.False(t, stale.Settings.AllowLAN)
	assert.Eventually(t, func() bool { return c.Health().State == HealthUnhealthy }, waitTimeout, 10*time.Millisecond)

	require.NoError(t, daemon.Start())

	var resynced *Snapshot
	for resynced == nil {
		snap := next(t, sub)
		if snap.Stale {
			continue
		}
		resynced = snap
	}
	assert.True(t, resynced.Settings.AllowLAN, "first live snapshot after reconnect is a full resync")
	assert.Equal(t, rpc.StateConnected, resynced.Daemon)
	assert.GreaterOrEqual(t, c.Health().Sessions, 2)
}

func TestClient_ReportsConnectingUntilResynced(t *testing.T) {
	daemon := rpctest.New(t)
	c := startSynced(t, daemon)
	sub := c.Subscribe()
	defer sub.Close()
	live := next(t, sub)
	require.False(t, live.Stale)

	entered := make(chan struct{})
	release := make(chan struct{})
	unblock := sync.OnceFunc(func() { close(release) })
	defer unblock()
	var once sync.Once
	daemon.OnGet(func(method string) {
		if method != rpc.MethodGetSettings {
			return
		}
		once.Do(func() {
			close(entered)
			<-release
		})
	})

	daemon.Stop()
	lost := next(t, sub)
	assert.True(t, lost.Stale)
	assert.Equal(t, rpc.StateDisconnected, lost.Daemon)

	require.NoError(t, daemon.Start())
	select {
	case <-entered:
	case <-time.After(waitTimeout):
		t.Fatal("client did not resync after the daemon came back")
	}
	// The link is up again but the state has not been fetched yet.
	during := c.Current()
	assert.True(t, during.Stale)
	assert.Equal(t, rpc.StateConnecting, during.Daemon)
	unblock()

	var states []rpc.ConnState
	for {
		snap := next(t, sub)
		states = append(states, snap.Daemon)
		if !snap.Stale {
			break
		}
	}
	assert.Contains(t, states, rpc.StateConnecting)
	assert.Equal(t, rpc.StateConnected, states[len(states)-1])
}

func TestClient_GapTriggersResync(t *testing.T) {
	daemon := rpctest.New(t)
	c := startSynced(t, daemon)
	resyncs := countCalls(daemon, rpc.MethodGetSettings)

	daemon.SkipSeq(3)
	settings := rpctest.DefaultSettings()
	settings.EnableIPv6 = true
	daemon.Emit(rpc.DaemonEvent{Kind: rpc.EventSettings, Settings: &settings})

	snap := waitFor(t, c, func(s *Snapshot) bool { return s.Settings.EnableIPv6 })
	assert.False(t, snap.Stale)
	assert.Greater(t, countCalls(daemon, rpc.MethodGetSettings), resyncs)

	// Incremental updates resume after the resync.
	_, err := c.Submit(context.Background(), ConnectCommand{})
	require.NoError(t, err)
	waitFor(t, c, func(s *Snapshot) bool { return s.IsConnected() })
}

func TestClient_MalformedEventTriggersResync(t *testing.T) {
	daemon := rpctest.New(t)
	c := startSynced(t, daemon)
	before := countCalls(daemon, rpc.MethodGetTunnelState)
	gen := c.Current().Generation

	daemon.EmitRaw(rpc.DaemonEvent{Kind: rpc.EventTunnelState, TunnelState: &rpc.TunnelState{State: "teleporting"}})

	snap := waitFor(t, c, func(s *Snapshot) bool { return s.Generation > gen })
	assert.False(t, snap.Stale)
	assert.Equal(t, Disconnected{}, snap.Tunnel)
	assert.Greater(t, countCalls(daemon, rpc.MethodGetTunnelState), before)
}

func TestClient_EventDuringResyncIsKept(t *testing.T) {
	daemon := rpctest.New(t)

	var once sync.Once
	daemon.OnGet(func(method string) {
		if method != rpc.MethodGetSettings {
			return
		}
		once.Do(func() {
			// Tunnel state has been read already; this change must still arrive.
			daemon.WaitSubscribers(1, waitTimeout)
			daemon.SetTunnelState(rpc.TunnelState{
				State:    rpc.TunnelConnecting,
				Relay:    "se-got-wg-001",
				Endpoint: &rpc.TunnelEndpoint{Address: "185.213.154.66:51820", Transport: "udp", TunnelType: "wireguard"},
			})
		})
	})

	c := newTestClient(t, daemon, false)
	c.Start(context.Background())

	snap := waitFor(t, c, func(s *Snapshot) bool { return !s.Stale && IsConnectingOrReconnecting(s.Tunnel) })
	assert.Equal(t, "se-got-wg-001", snap.Tunnel.(Connecting).Relay)
}

func TestClient_EventBeforeResyncReadIsSuperseded(t *testing.T) {
	daemon := rpctest.New(t)

	var once sync.Once
	daemon.OnGet(func(method string) {
		if method != rpc.MethodGetTunnelState {
			return
		}
		once.Do(func() {
			daemon.WaitSubscribers(1, waitTimeout)
			daemon.SetTunnelState(rpc.TunnelState{State: rpc.TunnelDisconnected, LockedDown: true})
		})
	})

	c := newTestClient(t, daemon, false)
	sub := c.Subscribe()
	defer sub.Close()
	c.Start(context.Background())

	var live []*Snapshot
	for len(live) == 0 {
		if snap := next(t, sub); !snap.Stale {
			live = append(live, snap)
		}
	}
	assert.Equal(t, Disconnected{LockedDown: true}, live[0].Tunnel)
	// The event is already part of the resync and must not publish again.
	assertNoMore(t, sub)
}

func TestClient_CommandsReachDaemon(t *testing.T) {
	daemon := rpctest.New(t)
	c := startSynced(t, daemon)
	ctx := context.Background()

	ack, err := c.Submit(ctx, LoginCommand{AccountNumber: "1234 5678 9012 3456"})
	require.NoError(t, err)
	snap := waitFor(t, c, func(s *Snapshot) bool { return s.Account.LoggedIn })
	assert.Equal(t, "1234567890123456", snap.Account.AccountNumber)
	assert.Equal(t, "Brave Fox", snap.Account.Device.Name)
	assert.Equal(t, "30 days", snap.Account.DaysLeft(time.Now().Add(-time.Minute)))

	var found bool
	for _, call := range daemon.Calls() {
		if call.Method == rpc.MethodLoginAccount {
			found = true
			assert.Equal(t, ack.RequestID, call.RequestID)
		}
	}
	assert.True(t, found)

	_, err = c.Submit(ctx, SetRelayConstraintCommand{Constraint: RelayConstraint{
		Location: &LocationConstraint{Country: "zz"},
	}})
	var ce *CommandError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, InvalidArgument, ce.Kind)

	_, err = c.Submit(ctx, SetRelayConstraintCommand{Constraint: RelayConstraint{
		Location: &LocationConstraint{Country: "de", City: "fra"},
	}})
	require.NoError(t, err)
	snap = waitFor(t, c, func(s *Snapshot) bool {
		loc := s.Settings.Relay.Location
		return loc != nil && loc.Country == "de"
	})
	assert.Equal(t, "de/fra", snap.Settings.Relay.Location.String())

	_, err = c.Submit(ctx, UpdateSettingsCommand{Patch: SettingsPatch{BlockWhenDisconnected: ptr(true)}})
	require.NoError(t, err)
	waitFor(t, c, func(s *Snapshot) bool { return s.Settings.BlockWhenDisconnected })

	_, err = c.Submit(ctx, LogoutCommand{})
	require.NoError(t, err)
	waitFor(t, c, func(s *Snapshot) bool { return !s.Account.LoggedIn })
}

func TestClient_StopShutsDown(t *testing.T) {
	daemon := rpctest.New(t)
	c := startSynced(t, daemon)
	sub := c.Subscribe()

	c.Stop()
	assert.False(t, c.IsRunning())
	assert.Eventually(t, func() bool { return daemon.Subscribers() == 0 }, waitTimeout, 10*time.Millisecond)

	// Drain what was queued, then the subscription reports closed.
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	var err error
	var last *Snapshot
	for err == nil {
		var snap *Snapshot
		snap, err = sub.Next(ctx)
		if snap != nil {
			last = snap
		}
	}
	assert.ErrorIs(t, err, common.ErrClosed)
	require.NotNil(t, last)
	assert.True(t, last.Stale)

	_, err = c.Submit(context.Background(), ConnectCommand{})
	assert.ErrorIs(t, err, common.ErrUnavailable)

	// Stop is idempotent.
	c.Stop()
}

func TestClient_StartAfterStop(t *testing.T) {
	daemon := rpctest.New(t)
	c := startSynced(t, daemon)
	c.Stop()
	stopped := c.Current()

	c.Start(context.Background())
	assert.False(t, c.IsRunning())
	assert.Same(t, stopped, c.Current())

	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	assert.ErrorIs(t, c.Run(ctx), common.ErrClosed)
	assert.NoError(t, ctx.Err(), "Run must not retry a closed transport")
}

func TestClient_RunReturnsOnCancel(t *testing.T) {
	daemon := rpctest.New(t)
	daemon.Stop()
	c := newTestClient(t, daemon, false)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(waitTimeout):
		t.Fatal("Run did not return after cancel")
	}
	assert.Positive(t, c.Health().ReconnectAttempts)
}
