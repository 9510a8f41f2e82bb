package rpc

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/yllada/vpnd-client/common"
)

// ConnState is the state of the connection to the daemon.
type ConnState int

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
)

// String returns a human-readable connection state.
func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "Disconnected"
	case StateConnecting:
		return "Connecting..."
	case StateConnected:
		return "Connected"
	default:
		return "Unknown"
	}
}

// Options tunes a Transport. Zero values select the defaults from package common.
type Options struct {
	DialTimeout time.Duration
	CallTimeout time.Duration
	Logger      common.Logger
}

// Transport is a single gRPC connection to the daemon's management socket.
// It is safe for concurrent use.
type Transport struct {
	socketPath  string
	dialTimeout time.Duration
	callTimeout time.Duration
	logger      common.Logger

	mu        sync.Mutex
	conn      *grpc.ClientConn
	state     ConnState
	closed    bool
	inflight  map[uint64]context.CancelCauseFunc
	nextID    uint64
	listeners []func(ConnState)
}

// NewTransport creates a disconnected transport for the socket at socketPath.
func NewTransport(socketPath string, opts Options) *Transport {
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = common.DialTimeout
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = common.ManagementTimeout
	}
	if opts.Logger == nil {
		opts.Logger = common.GetLogger()
	}
	return &Transport{
		socketPath:  socketPath,
		dialTimeout: opts.DialTimeout,
		callTimeout: opts.CallTimeout,
		logger:      opts.Logger,
		inflight:    make(map[uint64]context.CancelCauseFunc),
	}
}

// SocketPath returns the daemon socket this transport dials.
func (t *Transport) SocketPath() string {
	return t.socketPath
}

// State returns the current connection state.
func (t *Transport) State() ConnState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// OnStateChange registers fn to be called after every state transition.
// fn runs on the goroutine that caused the transition.
func (t *Transport) OnStateChange(fn func(ConnState)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.listeners = append(t.listeners, fn)
}

// setStateLocked updates the state and returns the listeners to notify.
func (t *Transport) setStateLocked(s ConnState) []func(ConnState) {
	if t.state == s {
		return nil
	}
	t.state = s
	return append([]func(ConnState){}, t.listeners...)
}

func notify(listeners []func(ConnState), s ConnState) {
	for _, fn := range listeners {
		fn(s)
	}
}

func (t *Transport) target() string {
	path := t.socketPath
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	return "unix://" + path
}

// Connect dials the daemon and performs a version handshake. On success
// the transport is Connected and the daemon's version is returned.
func (t *Transport) Connect(ctx context.Context) (*VersionResponse, error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, common.ErrClosed
	}
	if t.state != StateDisconnected {
		t.mu.Unlock()
		return nil, &TransportError{Op: "connect", Kind: KindRefused, Err: errors.New("already connecting or connected")}
	}
	ls := t.setStateLocked(StateConnecting)
	t.mu.Unlock()
	notify(ls, StateConnecting)

	conn, err := grpc.NewClient(t.target(),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(CodecName)),
	)
	if err != nil {
		t.failConnect()
		return nil, &TransportError{Op: "connect", Kind: KindRefused, Err: err}
	}

	hctx, cancel := context.WithTimeout(ctx, t.dialTimeout)
	defer cancel()

	var version VersionResponse
	if err := conn.Invoke(hctx, FullMethod(MethodGetCurrentVersion), &Empty{}, &version); err != nil {
		conn.Close()
		t.failConnect()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		kind := KindRefused
		if status.Code(err) == codes.DeadlineExceeded {
			kind = KindTimeout
		}
		return nil, &TransportError{Op: "connect", Kind: kind, Err: err}
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		conn.Close()
		t.failConnect()
		return nil, common.ErrClosed
	}
	t.conn = conn
	ls = t.setStateLocked(StateConnected)
	t.mu.Unlock()
	notify(ls, StateConnected)

	t.logger.Info("Connected to daemon %s at %s", version.Version.Current, t.socketPath)
	return &version, nil
}

func (t *Transport) failConnect() {
	t.mu.Lock()
	ls := t.setStateLocked(StateDisconnected)
	t.mu.Unlock()
	notify(ls, StateDisconnected)
}

// begin registers a call and returns the connection together with a
// cancellable context for it. done must be called when the call finishes.
func (t *Transport) begin(ctx context.Context, op string, timeout time.Duration) (*grpc.ClientConn, context.Context, func(), error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != StateConnected || t.conn == nil {
		return nil, nil, nil, &TransportError{Op: op, Kind: KindDisconnected}
	}

	var timeoutCancel context.CancelFunc = func() {}
	if _, ok := ctx.Deadline(); !ok && timeout > 0 {
		ctx, timeoutCancel = context.WithTimeout(ctx, timeout)
	}
	callCtx, cancel := context.WithCancelCause(ctx)

	t.nextID++
	id := t.nextID
	t.inflight[id] = cancel

	var once sync.Once
	done := func() {
		once.Do(func() {
			t.mu.Lock()
			delete(t.inflight, id)
			t.mu.Unlock()
			cancel(nil)
			timeoutCancel()
		})
	}
	return t.conn, callCtx, done, nil
}

// Call performs a unary call. It fails immediately with a KindDisconnected
// *TransportError when the transport is not connected. Errors answered by
// the daemon are returned as gRPC status errors.
func (t *Transport) Call(ctx context.Context, method string, req, resp any, opts ...grpc.CallOption) error {
	conn, callCtx, done, err := t.begin(ctx, method, t.callTimeout)
	if err != nil {
		return err
	}
	defer done()

	if err := conn.Invoke(callCtx, FullMethod(method), req, resp, opts...); err != nil {
		return t.wrapError(callCtx, method, err)
	}
	return nil
}

// wrapError turns connection failures into *TransportError and marks the
// transport lost when the daemon went away.
func (t *Transport) wrapError(ctx context.Context, op string, err error) error {
	if errors.Is(context.Cause(ctx), common.ErrDisconnected) {
		return &TransportError{Op: op, Kind: KindDisconnected, Err: err}
	}
	switch status.Code(err) {
	case codes.Unavailable:
		t.MarkDisconnected(err)
		return &TransportError{Op: op, Kind: KindBroken, Err: err}
	case codes.DeadlineExceeded:
		return &TransportError{Op: op, Kind: KindTimeout, Err: err}
	}
	return err
}

// Stream is an open server stream. It is not restartable: after Recv
// returns an error, open a new one.
type Stream struct {
	t    *Transport
	op   string
	ctx  context.Context
	cs   grpc.ClientStream
	done func()
}

// OpenStream starts a server-streaming call with a single request message.
// Unlike unary calls it has no call timeout.
func (t *Transport) OpenStream(ctx context.Context, method string, req any) (*Stream, error) {
	conn, streamCtx, done, err := t.begin(ctx, method, 0)
	if err != nil {
		return nil, err
	}

	desc := &grpc.StreamDesc{StreamName: method, ServerStreams: true}
	cs, err := conn.NewStream(streamCtx, desc, FullMethod(method))
	if err != nil {
		done()
		return nil, t.wrapError(streamCtx, method, err)
	}
	if err := cs.SendMsg(req); err != nil {
		done()
		return nil, t.wrapError(streamCtx, method, err)
	}
	if err := cs.CloseSend(); err != nil {
		done()
		return nil, t.wrapError(streamCtx, method, err)
	}
	return &Stream{t: t, op: method, ctx: streamCtx, cs: cs, done: done}, nil
}

// Recv reads the next message into m. It returns io.EOF when the daemon
// closed the stream.
func (s *Stream) Recv(m any) error {
	err := s.cs.RecvMsg(m)
	if err == nil {
		return nil
	}
	s.done()
	if errors.Is(err, io.EOF) {
		return io.EOF
	}
	return s.t.wrapError(s.ctx, s.op, err)
}

// Close cancels the stream.
func (s *Stream) Close() {
	s.done()
}

// MarkDisconnected tears down the connection and fails every in-flight
// call and stream with a KindDisconnected *TransportError.
func (t *Transport) MarkDisconnected(cause error) {
	t.mu.Lock()
	conn := t.conn
	t.conn = nil
	for id, cancel := range t.inflight {
		cancel(common.ErrDisconnected)
		delete(t.inflight, id)
	}
	ls := t.setStateLocked(StateDisconnected)
	t.mu.Unlock()

	if conn != nil {
		conn.Close()
		if cause != nil {
			t.logger.Warn("Lost connection to daemon: %v", cause)
		}
	}
	notify(ls, StateDisconnected)
}

// Close releases the connection. The transport cannot be reconnected.
func (t *Transport) Close() error {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	t.MarkDisconnected(nil)
	return nil
}
