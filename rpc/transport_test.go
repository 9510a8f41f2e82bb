package rpc_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/yllada/vpnd-client/common"
	"github.com/yllada/vpnd-client/rpc"
	"github.com/yllada/vpnd-client/rpc/rpctest"
)

func newTransport(t *testing.T, socketPath string) *rpc.Transport {
	t.Helper()
	tr := rpc.NewTransport(socketPath, rpc.Options{
		DialTimeout: time.Second,
		CallTimeout: time.Second,
	})
	t.Cleanup(func() { tr.Close() })
	return tr
}

func TestTransport_ConnectHandshake(t *testing.T) {
	daemon := rpctest.New(t)
	tr := newTransport(t, daemon.SocketPath())

	version, err := tr.Connect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "2026.4", version.Version.Current)
	assert.Equal(t, rpc.StateConnected, tr.State())

	calls := daemon.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, rpc.MethodGetCurrentVersion, calls[0].Method)
}

func TestTransport_ConnectRefused(t *testing.T) {
	tr := newTransport(t, filepath.Join(t.TempDir(), "missing.sock"))

	_, err := tr.Connect(context.Background())
	require.Error(t, err)

	var te *rpc.TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, rpc.KindRefused, te.Kind)
	assert.ErrorIs(t, err, common.ErrConnectionFailed)
	assert.Equal(t, rpc.StateDisconnected, tr.State())
}

func TestTransport_CallWhileDisconnected(t *testing.T) {
	daemon := rpctest.New(t)
	tr := newTransport(t, daemon.SocketPath())

	var resp rpc.TunnelStateResponse
	err := tr.Call(context.Background(), rpc.MethodGetTunnelState, &rpc.Empty{}, &resp)

	var te *rpc.TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, rpc.KindDisconnected, te.Kind)
	assert.ErrorIs(t, err, common.ErrDisconnected)
	assert.Empty(t, daemon.Calls(), "no request may reach the daemon")
}

func TestTransport_CallReturnsDaemonErrors(t *testing.T) {
	daemon := rpctest.New(t)
	tr := newTransport(t, daemon.SocketPath())
	_, err := tr.Connect(context.Background())
	require.NoError(t, err)

	daemon.FailNext(rpc.MethodConnectTunnel, status.Error(codes.FailedPrecondition, "account expired"))

	var resp rpc.CommandResponse
	err = tr.Call(context.Background(), rpc.MethodConnectTunnel, &rpc.Empty{}, &resp)
	require.Error(t, err)
	assert.False(t, rpc.IsTransportError(err))
	assert.Equal(t, codes.FailedPrecondition, status.Code(err))
	assert.Equal(t, rpc.StateConnected, tr.State())
}

func TestTransport_MarkDisconnectedFailsStreams(t *testing.T) {
	daemon := rpctest.New(t)
	tr := newTransport(t, daemon.SocketPath())
	_, err := tr.Connect(context.Background())
	require.NoError(t, err)

	stream, err := tr.OpenStream(context.Background(), rpc.MethodEventsListen, &rpc.Empty{})
	require.NoError(t, err)
	require.True(t, daemon.WaitSubscribers(1, 2*time.Second))

	errCh := make(chan error, 1)
	go func() {
		var ev rpc.DaemonEvent
		errCh <- stream.Recv(&ev)
	}()

	tr.MarkDisconnected(errors.New("test"))

	select {
	case err := <-errCh:
		var te *rpc.TransportError
		require.ErrorAs(t, err, &te)
		assert.Equal(t, rpc.KindDisconnected, te.Kind)
	case <-time.After(2 * time.Second):
		t.Fatal("stream read was not cancelled")
	}
	assert.Equal(t, rpc.StateDisconnected, tr.State())
}

func TestTransport_StreamDeliversEvents(t *testing.T) {
	daemon := rpctest.New(t)
	tr := newTransport(t, daemon.SocketPath())
	_, err := tr.Connect(context.Background())
	require.NoError(t, err)

	stream, err := tr.OpenStream(context.Background(), rpc.MethodEventsListen, &rpc.Empty{})
	require.NoError(t, err)
	defer stream.Close()
	require.True(t, daemon.WaitSubscribers(1, 2*time.Second))

	seq := daemon.SetTunnelState(rpc.TunnelState{State: rpc.TunnelConnecting, Relay: "se-got-wg-001"})

	var ev rpc.DaemonEvent
	require.NoError(t, stream.Recv(&ev))
	assert.Equal(t, seq, ev.Seq)
	assert.Equal(t, rpc.EventTunnelState, ev.Kind)
	require.NotNil(t, ev.TunnelState)
	assert.Equal(t, "se-got-wg-001", ev.TunnelState.Relay)
}

func TestTransport_DaemonStopBreaksCalls(t *testing.T) {
	daemon := rpctest.New(t)
	tr := newTransport(t, daemon.SocketPath())
	_, err := tr.Connect(context.Background())
	require.NoError(t, err)

	daemon.Stop()

	var resp rpc.TunnelStateResponse
	err = tr.Call(context.Background(), rpc.MethodGetTunnelState, &rpc.Empty{}, &resp)
	require.Error(t, err)
	assert.True(t, rpc.IsTransportError(err))
	assert.ErrorIs(t, err, common.ErrDisconnected)
	assert.Equal(t, rpc.StateDisconnected, tr.State())
}

func TestTransport_StateChangeListeners(t *testing.T) {
	daemon := rpctest.New(t)
	tr := newTransport(t, daemon.SocketPath())

	var mu sync.Mutex
	var seen []rpc.ConnState
	tr.OnStateChange(func(s rpc.ConnState) {
		mu.Lock()
		seen = append(seen, s)
		mu.Unlock()
	})

	_, err := tr.Connect(context.Background())
	require.NoError(t, err)
	require.NoError(t, tr.Close())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []rpc.ConnState{rpc.StateConnecting, rpc.StateConnected, rpc.StateDisconnected}, seen)
}

func TestTransport_ConnectAfterClose(t *testing.T) {
	daemon := rpctest.New(t)
	tr := newTransport(t, daemon.SocketPath())
	require.NoError(t, tr.Close())

	_, err := tr.Connect(context.Background())
	assert.ErrorIs(t, err, common.ErrClosed)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantKind rpc.ErrorKind
		wantOK   bool
	}{
		{"nil", nil, 0, false},
		{"transport error", &rpc.TransportError{Op: "x", Kind: rpc.KindTimeout}, rpc.KindTimeout, true},
		{"unavailable", status.Error(codes.Unavailable, "gone"), rpc.KindBroken, true},
		{"deadline", status.Error(codes.DeadlineExceeded, "slow"), rpc.KindTimeout, true},
		{"invalid argument", status.Error(codes.InvalidArgument, "bad"), 0, false},
		{"plain error", errors.New("boom"), 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kind, ok := rpc.Classify(tt.err)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, tt.wantKind, kind)
			}
		})
	}
}

func TestTransportError_Unwrap(t *testing.T) {
	cause := errors.New("socket closed")
	err := &rpc.TransportError{Op: "GetSettings", Kind: rpc.KindBroken, Err: cause}

	assert.ErrorIs(t, err, common.ErrDisconnected)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "GetSettings")
	assert.Contains(t, err.Error(), "broken connection")
}

func TestSocketWatcher_SignalsOnCreate(t *testing.T) {
	dir := t.TempDir()
	socketPath := filepath.Join(dir, "vpnd.sock")

	w, err := rpc.NewSocketWatcher(socketPath, nil)
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "other"), nil, 0600))
	require.NoError(t, os.WriteFile(socketPath, nil, 0600))

	select {
	case <-w.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("no signal after socket creation")
	}
}
