package vpn

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc"

	"github.com/yllada/vpnd-client/common"
	"github.com/yllada/vpnd-client/metrics"
	"github.com/yllada/vpnd-client/rpc"
)

// FullState is the result of the queries made by a resync. Each part
// carries the daemon's event sequence number at the time it was read.
type FullState struct {
	Version  rpc.VersionResponse
	Tunnel   rpc.TunnelStateResponse
	Relays   rpc.RelayListResponse
	Settings rpc.SettingsResponse
	Account  rpc.AccountResponse
}

// Fetcher performs the full-state queries of a resync.
type Fetcher interface {
	FetchState(ctx context.Context) (*FullState, error)
}

// Caller performs unary management calls. *rpc.Transport implements it.
type Caller interface {
	Call(ctx context.Context, method string, req, resp any, opts ...grpc.CallOption) error
	State() rpc.ConnState
}

// RPCFetcher fetches the full state with one unary call per sub-record.
type RPCFetcher struct {
	caller Caller
}

// NewRPCFetcher creates a fetcher calling through caller.
func NewRPCFetcher(caller Caller) *RPCFetcher {
	return &RPCFetcher{caller: caller}
}

// FetchState queries version, tunnel state, relays, settings and account.
func (f *RPCFetcher) FetchState(ctx context.Context) (*FullState, error) {
	var st FullState
	calls := []struct {
		method string
		resp   any
	}{
		{rpc.MethodGetCurrentVersion, &st.Version},
		{rpc.MethodGetTunnelState, &st.Tunnel},
		{rpc.MethodGetRelayLocations, &st.Relays},
		{rpc.MethodGetSettings, &st.Settings},
		{rpc.MethodGetAccountState, &st.Account},
	}
	for _, c := range calls {
		if err := f.caller.Call(ctx, c.method, &rpc.Empty{}, c.resp); err != nil {
			return nil, err
		}
	}
	return &st, nil
}

// InitialSnapshot is the value published before the daemon has been reached.
func InitialSnapshot() *Snapshot {
	return &Snapshot{
		Generation: 0,
		Tunnel:     Disconnected{},
		Daemon:     rpc.StateDisconnected,
		Stale:      true,
		At:         time.Now(),
	}
}

// Reconciler folds resyncs and daemon events into snapshots. It is owned
// by a single goroutine and is not safe for concurrent use.
type Reconciler struct {
	broadcaster *Broadcaster
	logger      common.Logger
	recorder    metrics.Recorder
	now         func() time.Time

	current *Snapshot
	// anchors holds, per event kind, the daemon sequence the last resync
	// read. Events at or below it are already reflected in the state.
	anchors map[string]uint64
	lastSeq uint64
	// seqKnown is set once a resync has fixed lastSeq, including at 0.
	seqKnown bool
	// resyncAt is when the last successful resync started fetching.
	// Unsequenced events received before it are already in the state.
	resyncAt time.Time
	synced   bool
}

// NewReconciler creates a reconciler publishing to b, starting from b's
// current snapshot.
func NewReconciler(b *Broadcaster, logger common.Logger, recorder metrics.Recorder) *Reconciler {
	if logger == nil {
		logger = common.GetLogger()
	}
	if recorder == nil {
		recorder = metrics.NoopRecorder{}
	}
	current := b.Current()
	if current == nil {
		current = InitialSnapshot()
		b.Publish(current)
	}
	return &Reconciler{
		broadcaster: b,
		logger:      logger,
		recorder:    recorder,
		now:         time.Now,
		current:     current,
		anchors:     make(map[string]uint64),
	}
}

// Snapshot returns the last published snapshot.
func (r *Reconciler) Snapshot() *Snapshot {
	return r.current
}

// Synced reports whether events can be applied incrementally.
func (r *Reconciler) Synced() bool {
	return r.synced
}

func (r *Reconciler) publish(next *Snapshot) {
	next.Generation = r.current.Generation + 1
	next.At = r.now()
	r.current = next
	r.broadcaster.Publish(next)
	r.recorder.ObserveSnapshot(next.Generation, next.Stale)
}

// Resync replaces the whole working copy with freshly fetched state and
// publishes it as a non-stale snapshot.
func (r *Reconciler) Resync(ctx context.Context, f Fetcher) error {
	start := r.now()
	st, err := f.FetchState(ctx)
	if err != nil {
		return fmt.Errorf("resync: %w", err)
	}

	tunnel, err := tunnelStateFromWire(&st.Tunnel.State)
	if err != nil {
		return &ReconcileError{Kind: rpc.EventTunnelState, Seq: st.Tunnel.Seq, Err: err}
	}
	relays, err := relayListFromWire(&st.Relays.List)
	if err != nil {
		return &ReconcileError{Kind: rpc.EventRelayList, Seq: st.Relays.Seq, Err: err}
	}
	settings, err := settingsFromWire(&st.Settings.Settings)
	if err != nil {
		return &ReconcileError{Kind: rpc.EventSettings, Seq: st.Settings.Seq, Err: err}
	}
	account, err := accountFromWire(&st.Account.Account)
	if err != nil {
		return &ReconcileError{Kind: rpc.EventAccount, Seq: st.Account.Seq, Err: err}
	}
	version, err := versionFromWire(&st.Version.Version)
	if err != nil {
		return &ReconcileError{Kind: rpc.EventVersion, Seq: st.Version.Seq, Err: err}
	}

	r.anchors = map[string]uint64{
		rpc.EventTunnelState:  st.Tunnel.Seq,
		rpc.EventRelayList:    st.Relays.Seq,
		rpc.EventSettings:     st.Settings.Seq,
		rpc.EventAccount:      st.Account.Seq,
		rpc.EventRemoveDevice: st.Account.Seq,
		rpc.EventVersion:      st.Version.Seq,
	}
	r.lastSeq = 0
	for _, seq := range r.anchors {
		r.lastSeq = max(r.lastSeq, seq)
	}
	r.seqKnown = true
	r.resyncAt = start
	r.synced = true

	r.publish(&Snapshot{
		Tunnel:   tunnel,
		Relays:   relays,
		Settings: settings,
		Account:  account,
		Version:  version,
		Daemon:   rpc.StateConnected,
		Stale:    false,
	})
	r.logger.Info("Resynchronized with daemon: %s, generation %d", tunnel.Name(), r.current.Generation)
	return nil
}

// Apply folds one daemon event into a new snapshot. It returns
// common.ErrResyncRequired on a sequence gap and a *ReconcileError for a
// malformed payload; in both cases nothing is published and the caller
// must resync.
func (r *Reconciler) Apply(ev Event) error {
	p := ev.Payload
	if !r.synced {
		return fmt.Errorf("event %d before resync: %w", p.Seq, common.ErrResyncRequired)
	}

	if p.Seq == 0 {
		if !ev.RecvAt.IsZero() && ev.RecvAt.Before(r.resyncAt) {
			r.logger.Debug("Dropping unsequenced %s event received before resync", p.Kind)
			r.recorder.IncDroppedEvent(metrics.DropSuperseded)
			return nil
		}
	} else {
		if p.Seq <= r.anchors[p.Kind] {
			r.logger.Debug("Dropping %s event %d, superseded by resync", p.Kind, p.Seq)
			r.recorder.IncDroppedEvent(metrics.DropSuperseded)
			return nil
		}
		if r.seqKnown && p.Seq > r.lastSeq+1 {
			r.markUnsynced()
			r.recorder.IncDroppedEvent(metrics.DropGap)
			return fmt.Errorf("expected event %d, got %d: %w", r.lastSeq+1, p.Seq, common.ErrResyncRequired)
		}
		r.lastSeq = max(r.lastSeq, p.Seq)
	}

	next := *r.current
	var err error
	switch p.Kind {
	case rpc.EventTunnelState:
		next.Tunnel, err = tunnelStateFromWire(p.TunnelState)
	case rpc.EventRelayList:
		next.Relays, err = relayListFromWire(p.RelayList)
	case rpc.EventSettings:
		next.Settings, err = settingsFromWire(p.Settings)
	case rpc.EventAccount:
		next.Account, err = accountFromWire(p.Account)
	case rpc.EventVersion:
		next.Version, err = versionFromWire(p.Version)
	case rpc.EventRemoveDevice:
		next.Account, err = r.removeDevice(p.RemovedDevice)
	default:
		r.logger.Debug("Ignoring unknown %q event %d", p.Kind, p.Seq)
		return nil
	}
	if err != nil {
		r.markUnsynced()
		r.recorder.IncDroppedEvent(metrics.DropMalformed)
		return &ReconcileError{Kind: p.Kind, Seq: p.Seq, Err: err}
	}

	r.publish(&next)
	r.recorder.IncEvent(p.Kind)
	r.logger.Debug("Applied %s event %d (received #%d) as generation %d", p.Kind, p.Seq, ev.RecvSeq, next.Generation)
	return nil
}

// markUnsynced forgets the sequence baseline until the next resync.
func (r *Reconciler) markUnsynced() {
	r.synced = false
	r.seqKnown = false
	r.lastSeq = 0
}

// removeDevice logs the account out when the removed device is this one.
func (r *Reconciler) removeDevice(removed *rpc.RemovedDevice) (AccountState, error) {
	if removed == nil || removed.DeviceID == "" {
		return AccountState{}, fmt.Errorf("remove device event without device")
	}
	account := r.current.Account
	if account.Device != nil && account.Device.ID == removed.DeviceID {
		r.logger.Warn("This device was removed from the account")
		return AccountState{Revoked: true}, nil
	}
	return account, nil
}

// MarkStale republishes the current state flagged stale, with the given
// daemon connection state, and requires a resync before further events.
// It does nothing when the snapshot is already stale with that state.
func (r *Reconciler) MarkStale(daemon rpc.ConnState) {
	r.markUnsynced()
	if r.current.Stale && r.current.Daemon == daemon {
		return
	}
	next := *r.current
	next.Stale = true
	next.Daemon = daemon
	r.publish(&next)
	r.logger.Debug("Snapshot marked stale (daemon %s), generation %d", daemon, next.Generation)
}
