package vpn

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/yllada/vpnd-client/common"
	"github.com/yllada/vpnd-client/metrics"
	"github.com/yllada/vpnd-client/rpc"
)

// ClientOptions configures a Client. Zero values select the defaults.
type ClientOptions struct {
	SocketPath  string
	DialTimeout time.Duration
	CallTimeout time.Duration
	Backoff     Backoff
	QueueSize   int
	// WatchSocket cuts reconnect backoff short when the socket is recreated.
	WatchSocket bool
	Logger      common.Logger
	Recorder    metrics.Recorder
}

// Client keeps a live, consistent view of the daemon's state and submits
// commands to it. Run owns the transport, the event stream and the
// reconciler; consumers only use Subscribe, Current and Submit.
type Client struct {
	transport   *rpc.Transport
	subscriber  *Subscriber
	fetcher     Fetcher
	reconciler  *Reconciler
	broadcaster *Broadcaster
	dispatcher  *Dispatcher
	health      *HealthTracker
	backoff     Backoff
	watchSocket bool
	logger      common.Logger
	recorder    metrics.Recorder

	mu      sync.Mutex
	started bool
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewClient creates a client for the daemon at opts.SocketPath. Nothing
// is dialled until Run or Start.
func NewClient(opts ClientOptions) *Client {
	if opts.SocketPath == "" {
		opts.SocketPath = common.DefaultSocketPath
	}
	if opts.Backoff.Initial <= 0 {
		opts.Backoff = DefaultBackoff()
	}
	if opts.Logger == nil {
		opts.Logger = common.GetLogger()
	}
	if opts.Recorder == nil {
		opts.Recorder = metrics.NoopRecorder{}
	}

	transport := rpc.NewTransport(opts.SocketPath, rpc.Options{
		DialTimeout: opts.DialTimeout,
		CallTimeout: opts.CallTimeout,
		Logger:      opts.Logger,
	})
	broadcaster := NewBroadcaster(InitialSnapshot(), opts.QueueSize, opts.Recorder)

	c := &Client{
		transport:   transport,
		subscriber:  NewSubscriber(transport, opts.Logger),
		fetcher:     NewRPCFetcher(transport),
		reconciler:  NewReconciler(broadcaster, opts.Logger, opts.Recorder),
		broadcaster: broadcaster,
		dispatcher:  NewDispatcher(transport, opts.Logger, opts.Recorder),
		health:      NewHealthTracker(),
		backoff:     opts.Backoff,
		watchSocket: opts.WatchSocket,
		logger:      opts.Logger,
		recorder:    opts.Recorder,
	}
	transport.OnStateChange(func(s rpc.ConnState) {
		c.recorder.SetDaemonConnected(s == rpc.StateConnected)
	})
	return c
}

// Subscribe returns a subscription whose first value is the current snapshot.
func (c *Client) Subscribe() *Subscription {
	return c.broadcaster.Subscribe()
}

// Current returns the last published snapshot.
func (c *Client) Current() *Snapshot {
	return c.broadcaster.Current()
}

// Submit sends a command to the daemon. It fails with an Unavailable
// *CommandError when the daemon is not reachable.
func (c *Client) Submit(ctx context.Context, cmd Command) (Ack, error) {
	return c.dispatcher.Submit(ctx, cmd)
}

// Health returns the state of the link to the daemon.
func (c *Client) Health() DaemonHealth {
	return c.health.Get()
}

// WaitFor blocks until a published snapshot satisfies pred and returns it.
func (c *Client) WaitFor(ctx context.Context, pred func(*Snapshot) bool) (*Snapshot, error) {
	sub := c.Subscribe()
	defer sub.Close()
	for {
		snap, err := sub.Next(ctx)
		if err != nil {
			return nil, err
		}
		if pred(snap) {
			return snap, nil
		}
	}
}

// Start runs the client in the background until Stop is called. A
// stopped client cannot be started again; later calls do nothing.
func (c *Client) Start(ctx context.Context) {
	c.mu.Lock()
	if c.started {
		stopped := !c.running
		c.mu.Unlock()
		if stopped {
			c.logger.Warn("Daemon client already stopped, not restarting")
		}
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	c.started = true
	c.running = true
	c.cancel = cancel
	c.done = make(chan struct{})
	done := c.done
	c.mu.Unlock()

	go func() {
		defer close(done)
		if err := c.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			c.logger.Error("Client stopped: %v", err)
		}
	}()
}

// Stop cancels a client started with Start and waits for it to shut down.
func (c *Client) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	cancel, done := c.cancel, c.done
	c.mu.Unlock()

	cancel()
	<-done
}

// IsRunning reports whether Start has been called without a matching Stop.
func (c *Client) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Run connects to the daemon and keeps the published state in sync until
// ctx is cancelled, reconnecting with backoff whenever the link fails.
// It returns ctx's error after the event stream, any backoff sleep and
// the transport have all been shut down. A client runs at most once;
// running it again returns common.ErrClosed.
func (c *Client) Run(ctx context.Context) error {
	var wake <-chan struct{}
	if c.watchSocket {
		watcher, err := rpc.NewSocketWatcher(c.transport.SocketPath(), c.logger)
		if err != nil {
			c.logger.Warn("Not watching daemon socket: %v", err)
		} else {
			defer watcher.Close()
			wake = watcher.Ready()
		}
	}
	defer c.shutdown()

	c.logger.Info("Starting daemon client for %s", c.transport.SocketPath())
	attempt := 0
	for {
		c.reconciler.MarkStale(rpc.StateConnecting)
		if _, err := c.transport.Connect(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, common.ErrClosed) {
				return err
			}
			attempt++
			c.health.recordFailure(err, attempt)
			if attempt == 1 {
				c.logger.Warn("Cannot reach daemon at %s: %v", c.transport.SocketPath(), err)
			} else {
				c.logger.Debug("Reconnect attempt %d failed: %v", attempt, err)
			}
			if err := c.backoff.Sleep(ctx, attempt, wake); err != nil {
				return err
			}
			continue
		}
		if c.health.Get().Sessions > 0 {
			c.recorder.IncReconnect()
		}
		attempt = 0
		c.health.recordConnected()

		err := c.session(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.transport.MarkDisconnected(err)
		c.reconciler.MarkStale(rpc.StateDisconnected)
		c.health.recordFailure(err, 0)
		c.logger.Warn("Daemon session ended: %v", err)

		attempt++
		if err := c.backoff.Sleep(ctx, attempt, wake); err != nil {
			return err
		}
	}
}

func (c *Client) shutdown() {
	c.transport.Close()
	c.reconciler.MarkStale(rpc.StateDisconnected)
	c.broadcaster.Close()
	c.logger.Info("Daemon client stopped")
}

// session subscribes, resyncs and applies events until the stream ends.
// The stream is opened before the resync so no event falls between them.
func (c *Client) session(ctx context.Context) error {
	stream, err := c.subscriber.Subscribe(ctx)
	if err != nil {
		return err
	}
	defer stream.Close()

	if err := c.resync(ctx, stream); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-stream.Events():
			if !ok {
				return stream.Ended()
			}
			if err := c.reconciler.Apply(ev); err != nil {
				c.logger.Warn("Resynchronizing: %v", err)
				if err := c.resync(ctx, stream); err != nil {
					return err
				}
			}
		}
	}
}

// resync retries until the daemon's state has been fetched. Transport
// failures end the session instead, since the link has to be rebuilt.
func (c *Client) resync(ctx context.Context, stream *EventStream) error {
	for attempt := 1; ; attempt++ {
		err := c.reconciler.Resync(ctx, c.fetcher)
		if err == nil {
			c.recorder.IncResync(metrics.ResultSuccess)
			c.health.recordSynced()
			return nil
		}
		c.recorder.IncResync(metrics.ResultFailed)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if rpc.IsTransportError(err) {
			return err
		}
		if ended := stream.Ended(); ended != nil {
			return ended
		}

		c.reconciler.MarkStale(rpc.StateConnecting)
		c.health.recordResyncFailure(err)
		c.logger.Warn("Resync attempt %d failed: %v", attempt, err)
		if err := c.backoff.Sleep(ctx, attempt, nil); err != nil {
			return err
		}
	}
}
