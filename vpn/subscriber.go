package vpn

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/yllada/vpnd-client/common"
	"github.com/yllada/vpnd-client/rpc"
)

// Event is a daemon event stamped on receipt. RecvSeq starts at 1 for
// each stream.
type Event struct {
	RecvSeq uint64
	RecvAt  time.Time
	Payload rpc.DaemonEvent
}

// StreamEnded is the terminal value of an event stream.
type StreamEnded struct {
	Cause error
}

func (e *StreamEnded) Error() string {
	if e.Cause == nil || errors.Is(e.Cause, io.EOF) {
		return "event stream closed by daemon"
	}
	return fmt.Sprintf("event stream ended: %v", e.Cause)
}

// Unwrap exposes common.ErrStreamEnded and the cause.
func (e *StreamEnded) Unwrap() []error {
	if e.Cause == nil {
		return []error{common.ErrStreamEnded}
	}
	return []error{common.ErrStreamEnded, e.Cause}
}

// StreamOpener opens server streams. *rpc.Transport implements it.
type StreamOpener interface {
	OpenStream(ctx context.Context, method string, req any) (*rpc.Stream, error)
}

// Subscriber opens the daemon's event stream. It never retries: when a
// stream ends the caller reconnects and subscribes again.
type Subscriber struct {
	opener StreamOpener
	logger common.Logger
	buffer int
}

// NewSubscriber creates a subscriber reading through opener.
func NewSubscriber(opener StreamOpener, logger common.Logger) *Subscriber {
	if logger == nil {
		logger = common.GetLogger()
	}
	return &Subscriber{opener: opener, logger: logger, buffer: 64}
}

// EventStream is one subscription to the daemon's events.
type EventStream struct {
	events chan Event
	done   chan struct{}
	cancel context.CancelFunc
	ended  *StreamEnded
}

// Subscribe opens a new event stream.
func (s *Subscriber) Subscribe(ctx context.Context) (*EventStream, error) {
	ctx, cancel := context.WithCancel(ctx)
	stream, err := s.opener.OpenStream(ctx, rpc.MethodEventsListen, &rpc.Empty{})
	if err != nil {
		cancel()
		return nil, err
	}

	es := &EventStream{
		events: make(chan Event, s.buffer),
		done:   make(chan struct{}),
		cancel: cancel,
	}
	go es.readLoop(ctx, stream, s.logger)
	return es, nil
}

func (es *EventStream) readLoop(ctx context.Context, stream *rpc.Stream, logger common.Logger) {
	// done closes before events so Ended is set once Events is drained.
	defer close(es.events)
	defer close(es.done)
	defer stream.Close()

	var seq uint64
	for {
		var payload rpc.DaemonEvent
		if err := stream.Recv(&payload); err != nil {
			if ctx.Err() != nil {
				err = ctx.Err()
			}
			es.ended = &StreamEnded{Cause: err}
			logger.Debug("Event stream ended after %d events: %v", seq, err)
			return
		}
		seq++
		ev := Event{RecvSeq: seq, RecvAt: time.Now(), Payload: payload}
		select {
		case es.events <- ev:
		case <-ctx.Done():
			es.ended = &StreamEnded{Cause: ctx.Err()}
			return
		}
	}
}

// Events yields events in arrival order. It is closed when the stream ends;
// Ended then reports why.
func (es *EventStream) Events() <-chan Event {
	return es.events
}

// Ended returns the terminal StreamEnded, or nil while the stream is open.
func (es *EventStream) Ended() *StreamEnded {
	select {
	case <-es.done:
		return es.ended
	default:
		return nil
	}
}

// Close cancels the stream read and waits for the reader to exit.
func (es *EventStream) Close() {
	es.cancel()
	<-es.done
}
