package vpn

import (
	"context"
	"sync"

	"github.com/yllada/vpnd-client/common"
	"github.com/yllada/vpnd-client/metrics"
)

// Broadcaster fans published snapshots out to any number of subscriptions.
// Publish never blocks: a subscription whose queue is full drops its
// backlog and keeps only the newest snapshot.
type Broadcaster struct {
	mu        sync.Mutex
	current   *Snapshot
	subs      map[*Subscription]struct{}
	queueSize int
	closed    bool
	recorder  metrics.Recorder
}

// NewBroadcaster creates a broadcaster whose current value is initial.
func NewBroadcaster(initial *Snapshot, queueSize int, recorder metrics.Recorder) *Broadcaster {
	if queueSize <= 0 {
		queueSize = common.SubscriberQueueSize
	}
	if recorder == nil {
		recorder = metrics.NoopRecorder{}
	}
	return &Broadcaster{
		current:   initial,
		subs:      make(map[*Subscription]struct{}),
		queueSize: queueSize,
		recorder:  recorder,
	}
}

// Current returns the last published snapshot.
func (b *Broadcaster) Current() *Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current
}

// Publish makes s the current snapshot and enqueues it for every subscription.
func (b *Broadcaster) Publish(s *Snapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.current = s
	for sub := range b.subs {
		if dropped := sub.push(s); dropped > 0 {
			b.recorder.AddSubscriberDrops(dropped)
		}
	}
}

// Subscribe returns a subscription whose first value is the current snapshot.
func (b *Broadcaster) Subscribe() *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &Subscription{
		b:      b,
		size:   b.queueSize,
		notify: make(chan struct{}, 1),
	}
	if b.closed {
		sub.closed = true
		return sub
	}
	sub.push(b.current)
	b.subs[sub] = struct{}{}
	b.recorder.SetSubscribers(len(b.subs))
	return sub
}

// SubscriberCount returns the number of open subscriptions.
func (b *Broadcaster) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

func (b *Broadcaster) remove(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[sub]; ok {
		delete(b.subs, sub)
		b.recorder.SetSubscribers(len(b.subs))
	}
}

// Close ends every subscription. Snapshots already queued can still be read.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for sub := range b.subs {
		sub.end()
		delete(b.subs, sub)
	}
	b.recorder.SetSubscribers(0)
}

// Subscription is one consumer's view of the published snapshots.
// Generations seen through Next strictly increase.
type Subscription struct {
	b      *Broadcaster
	size   int
	notify chan struct{}

	mu      sync.Mutex
	queue   []*Snapshot
	latest  *Snapshot
	dropped uint64
	closed  bool
}

// push enqueues s and returns how many queued snapshots were discarded.
func (s *Subscription) push(snap *Snapshot) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || snap == nil {
		return 0
	}

	dropped := 0
	if len(s.queue) >= s.size {
		dropped = len(s.queue)
		s.dropped += uint64(dropped)
		clear(s.queue)
		s.queue = s.queue[:0]
	}
	s.queue = append(s.queue, snap)
	s.latest = snap

	select {
	case s.notify <- struct{}{}:
	default:
	}
	return dropped
}

func (s *Subscription) end() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Next returns the next snapshot, waiting for one to be published. It
// returns common.ErrClosed once the subscription is closed and drained.
func (s *Subscription) Next(ctx context.Context) (*Snapshot, error) {
	for {
		s.mu.Lock()
		if len(s.queue) > 0 {
			snap := s.queue[0]
			s.queue[0] = nil
			s.queue = s.queue[1:]
			s.mu.Unlock()
			return snap, nil
		}
		closed := s.closed
		s.mu.Unlock()

		if closed {
			return nil, common.ErrClosed
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-s.notify:
		}
	}
}

// Latest returns the newest snapshot delivered to this subscription,
// whether or not Next has returned it yet.
func (s *Subscription) Latest() *Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latest
}

// Dropped returns how many snapshots were discarded because the consumer
// fell behind.
func (s *Subscription) Dropped() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Close detaches the subscription from the broadcaster.
func (s *Subscription) Close() {
	s.b.remove(s)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.queue = nil
	select {
	case s.notify <- struct{}{}:
	default:
	}
}
