package cli

import (
	"bytes"
	"context"
	"net/netip"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yllada/vpnd-client/common"
	"github.com/yllada/vpnd-client/config"
	"github.com/yllada/vpnd-client/keyring"
	"github.com/yllada/vpnd-client/rpc"
	"github.com/yllada/vpnd-client/rpc/rpctest"
	"github.com/yllada/vpnd-client/vpn"
)

// lockedBuffer is written by the command under test and read by the test.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func testConfig(socket string) *config.Config {
	cfg := config.DefaultConfig()
	cfg.SocketPath = socket
	cfg.DialTimeout = time.Second
	cfg.CallTimeout = time.Second
	cfg.Reconnect = config.ReconnectConfig{InitialDelay: 10 * time.Millisecond, MaxDelay: 50 * time.Millisecond}
	return cfg
}

func newTestCLI(t *testing.T, daemon *rpctest.FakeDaemon) (*CLI, *lockedBuffer) {
	t.Helper()
	common.GetLogger().SetOutput(os.Stderr)
	common.GetLogger().SetLevel(common.LevelError)

	out := &lockedBuffer{}
	c := New(testConfig(daemon.SocketPath()), out)
	c.creds = keyring.NewFileStore(t.TempDir())
	t.Cleanup(c.Close)
	return c, out
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func called(daemon *rpctest.FakeDaemon, method string) bool {
	for _, call := range daemon.Calls() {
		if call.Method == method {
			return true
		}
	}
	return false
}

func TestStatus(t *testing.T) {
	daemon := rpctest.New(t)
	c, out := newTestCLI(t, daemon)

	require.NoError(t, c.Status(testContext(t)))

	got := out.String()
	for _, want := range []string{"UNSECURED CONNECTION", "logged out", "2026.4", "Relay constraint:", "se"} {
		assert.Contains(t, got, want)
	}
}

func TestStatus_DaemonUnreachable(t *testing.T) {
	daemon := rpctest.New(t)
	daemon.Stop()
	c, _ := newTestCLI(t, daemon)

	start := time.Now()
	err := c.Status(testContext(t))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "daemon not reachable")
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestOpen_ReplacesStoppedClient(t *testing.T) {
	daemon := rpctest.New(t)
	c, _ := newTestCLI(t, daemon)
	ctx := testContext(t)

	first := c.open(ctx)
	assert.Same(t, first, c.open(ctx))

	first.Stop()
	second := c.open(ctx)
	assert.NotSame(t, first, second)
	assert.True(t, second.IsRunning())

	_, err := c.synced(ctx)
	require.NoError(t, err)
}

func TestConnect_Wait(t *testing.T) {
	daemon := rpctest.New(t)
	c, out := newTestCLI(t, daemon)
	ctx := testContext(t)

	require.NoError(t, c.Connect(ctx, true))
	assert.Contains(t, out.String(), "✓ SECURE CONNECTION")
	assert.True(t, called(daemon, rpc.MethodConnectTunnel))
	assert.True(t, c.client.Current().IsConnected())

	require.NoError(t, c.Connect(ctx, true))
	assert.Contains(t, out.String(), "connect: nothing to do")
}

func TestDisconnect_Wait(t *testing.T) {
	daemon := rpctest.New(t)
	c, out := newTestCLI(t, daemon)
	ctx := testContext(t)

	require.NoError(t, c.Connect(ctx, false))
	assert.Contains(t, out.String(), "connect: accepted")

	require.NoError(t, c.Disconnect(ctx, true))
	assert.Contains(t, out.String(), "✓ UNSECURED CONNECTION")
	_, down := c.client.Current().Tunnel.(vpn.Disconnected)
	assert.True(t, down)
}

func TestReconnect_Wait(t *testing.T) {
	daemon := rpctest.New(t)
	c, out := newTestCLI(t, daemon)
	ctx := testContext(t)

	require.NoError(t, c.Connect(ctx, true))
	require.NoError(t, c.Reconnect(ctx, true))

	assert.True(t, called(daemon, rpc.MethodReconnectTunnel))
	assert.Equal(t, 2, strings.Count(out.String(), "✓ SECURE CONNECTION"))
}

func TestCommand_ErrorFromDaemon(t *testing.T) {
	daemon := rpctest.New(t)
	c, _ := newTestCLI(t, daemon)

	err := c.SetRelay(testContext(t), "zz", "")

	var cmdErr *vpn.CommandError
	require.ErrorAs(t, err, &cmdErr)
	assert.ErrorIs(t, err, common.ErrInvalidArgument)
}

func TestSetRelay(t *testing.T) {
	daemon := rpctest.New(t)
	c, _ := newTestCLI(t, daemon)
	ctx := testContext(t)

	require.NoError(t, c.SetRelay(ctx, "de/fra", vpn.ProtocolWireGuard))

	snap, err := c.client.WaitFor(ctx, func(s *vpn.Snapshot) bool {
		loc := s.Settings.Relay.Location
		return loc != nil && loc.Country == "de"
	})
	require.NoError(t, err)
	assert.Equal(t, "de/fra", snap.Settings.Relay.Location.String())
	assert.Equal(t, vpn.ProtocolWireGuard, snap.Settings.Relay.TunnelProtocol)
}

func TestParseLocation(t *testing.T) {
	tests := []struct {
		in      string
		want    *vpn.LocationConstraint
		wantErr bool
	}{
		{"any", nil, false},
		{"", nil, false},
		{"SE", &vpn.LocationConstraint{Country: "se"}, false},
		{"se/got", &vpn.LocationConstraint{Country: "se", City: "got"}, false},
		{"se/got/se-got-wg-001", &vpn.LocationConstraint{Country: "se", City: "got", Hostname: "se-got-wg-001"}, false},
		{"se//x", nil, true},
		{"a/b/c/d", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLocation(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseDNSServers(t *testing.T) {
	servers, err := ParseDNSServers(" 1.1.1.1, 2606:4700::1111 ,")
	require.NoError(t, err)
	assert.Equal(t, []netip.Addr{netip.MustParseAddr("1.1.1.1"), netip.MustParseAddr("2606:4700::1111")}, servers)

	servers, err = ParseDNSServers("")
	require.NoError(t, err)
	assert.Empty(t, servers)

	_, err = ParseDNSServers("1.1.1.1,dns.example")
	assert.Error(t, err)
}

func TestRelays(t *testing.T) {
	daemon := rpctest.New(t)
	c, out := newTestCLI(t, daemon)

	require.NoError(t, c.Relays(testContext(t)))

	got := out.String()
	assert.Contains(t, got, "se/got")
	assert.Contains(t, got, "de-fra-ovpn-001")
	assert.Contains(t, got, "2 of 3 relays active")
}

func TestLogin_RemembersAccount(t *testing.T) {
	daemon := rpctest.New(t)
	c, out := newTestCLI(t, daemon)
	c.cfg.RememberAccount = true
	ctx := testContext(t)

	require.NoError(t, c.Login(ctx, "1234 5678 9012 3456"))
	assert.Contains(t, out.String(), "************3456")

	stored, err := c.credentials().Get(keyring.AccountKey)
	require.NoError(t, err)
	assert.Equal(t, "1234567890123456", stored)

	snap, err := c.client.WaitFor(ctx, func(s *vpn.Snapshot) bool { return s.Account.LoggedIn })
	require.NoError(t, err)
	assert.Equal(t, "Brave Fox", snap.Account.Device.Name)

	require.NoError(t, c.Logout(ctx))
	_, err = c.credentials().Get(keyring.AccountKey)
	assert.ErrorIs(t, err, common.ErrCredentialsNotFound)
	assert.Contains(t, out.String(), "Forgot the stored account number")
}

func TestLogout_NothingStored(t *testing.T) {
	daemon := rpctest.New(t)
	c, out := newTestCLI(t, daemon)

	require.NoError(t, c.Logout(testContext(t)))
	assert.True(t, called(daemon, rpc.MethodLogoutAccount))
	assert.NotContains(t, out.String(), "Forgot")
}

func TestLogin_StoredAccount(t *testing.T) {
	daemon := rpctest.New(t)
	c, _ := newTestCLI(t, daemon)
	require.NoError(t, c.credentials().Store(keyring.AccountKey, "1111222233334444"))

	require.NoError(t, c.Login(testContext(t), ""))
	assert.True(t, called(daemon, rpc.MethodLoginAccount))
}

func TestLogin_InvalidNumber(t *testing.T) {
	daemon := rpctest.New(t)
	c, _ := newTestCLI(t, daemon)

	err := c.Login(testContext(t), "1234")
	assert.Error(t, err)
	assert.False(t, called(daemon, rpc.MethodLoginAccount))
}

func TestWatch(t *testing.T) {
	daemon := rpctest.New(t)
	c, out := newTestCLI(t, daemon)
	ctx, cancel := context.WithCancel(testContext(t))

	done := make(chan error, 1)
	go func() { done <- c.Watch(ctx) }()

	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "UNSECURED CONNECTION")
	}, 5*time.Second, 10*time.Millisecond)

	daemon.SetTunnelState(rpc.TunnelState{State: rpc.TunnelDisconnected, LockedDown: true})
	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "BLOCKED CONNECTION")
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Watch did not return after cancel")
	}
}

func TestRootCommand_SettingsSet(t *testing.T) {
	daemon := rpctest.New(t)
	out := &lockedBuffer{}
	root := NewRootCommand(out, BuildInfo{Version: "test"})
	root.SetArgs([]string{
		"--config", filepath.Join(t.TempDir(), "config.yaml"),
		"--socket", daemon.SocketPath(),
		"settings", "set", "--allow-lan", "--dns", "1.1.1.1",
	})

	require.NoError(t, root.ExecuteContext(testContext(t)))
	assert.True(t, called(daemon, rpc.MethodUpdateSettings))
	assert.Contains(t, out.String(), "update_settings: accepted")
}

func TestRootCommand_SettingsSetRequiresFlag(t *testing.T) {
	daemon := rpctest.New(t)
	root := NewRootCommand(&lockedBuffer{}, BuildInfo{})
	root.SetArgs([]string{
		"--config", filepath.Join(t.TempDir(), "config.yaml"),
		"--socket", daemon.SocketPath(),
		"settings", "set",
	})

	err := root.ExecuteContext(testContext(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no setting given")
	assert.False(t, called(daemon, rpc.MethodUpdateSettings))
}

func TestRootCommand_Version(t *testing.T) {
	out := &lockedBuffer{}
	root := NewRootCommand(out, BuildInfo{Version: "1.2.3", Time: "2026-05-01", Commit: "abc123"})
	root.SetArgs([]string{"version"})

	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), common.AppName+" 1.2.3")
	assert.Contains(t, out.String(), "Commit: abc123")
}
