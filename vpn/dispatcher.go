package vpn

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/yllada/vpnd-client/common"
	"github.com/yllada/vpnd-client/metrics"
	"github.com/yllada/vpnd-client/rpc"
)

// RequestIDHeader is the gRPC metadata key carrying a command's request id.
const RequestIDHeader = "x-request-id"

// Ack means the daemon accepted a command. The resulting state change, if
// any, arrives later as a snapshot.
type Ack struct {
	RequestID string
	Command   string
	Changed   bool
	At        time.Time
}

// Dispatcher submits commands to the daemon. Commands are never queued
// or retried: when the daemon is unreachable Submit fails immediately.
type Dispatcher struct {
	caller   Caller
	logger   common.Logger
	recorder metrics.Recorder
}

// NewDispatcher creates a dispatcher calling through caller.
func NewDispatcher(caller Caller, logger common.Logger, recorder metrics.Recorder) *Dispatcher {
	if logger == nil {
		logger = common.GetLogger()
	}
	if recorder == nil {
		recorder = metrics.NoopRecorder{}
	}
	return &Dispatcher{
		caller:   caller,
		logger:   logger,
		recorder: recorder,
	}
}

// Submit validates cmd and sends it to the daemon.
func (d *Dispatcher) Submit(ctx context.Context, cmd Command) (Ack, error) {
	name := cmd.Name()
	requestID := uuid.NewString()

	fail := func(kind CommandErrorKind, err error) (Ack, error) {
		d.recorder.IncCommand(name, metrics.ResultFailed)
		d.logger.Warn("Command %s [%s] failed: %s: %v", name, requestID, kind, err)
		return Ack{}, &CommandError{Command: name, Kind: kind, RequestID: requestID, Err: err}
	}

	if err := cmd.validate(); err != nil {
		return fail(InvalidArgument, err)
	}
	if d.caller.State() != rpc.StateConnected {
		return fail(Unavailable, common.ErrDisconnected)
	}

	method, req := cmd.request()
	ctx = metadata.AppendToOutgoingContext(ctx, RequestIDHeader, requestID)
	d.logger.Debug("Submitting %s [%s]", name, requestID)

	start := time.Now()
	var resp rpc.CommandResponse
	err := d.caller.Call(ctx, method, req, &resp)
	d.recorder.ObserveCommandDuration(name, time.Since(start))
	if err != nil {
		return fail(classifyCommandError(err), err)
	}

	d.recorder.IncCommand(name, metrics.ResultSuccess)
	d.logger.Info("Command %s [%s] accepted (changed: %t)", name, requestID, resp.Changed)
	return Ack{RequestID: requestID, Command: name, Changed: resp.Changed, At: time.Now()}, nil
}

func classifyCommandError(err error) CommandErrorKind {
	if _, ok := rpc.Classify(err); ok || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return Unavailable
	}
	switch status.Code(err) {
	case codes.InvalidArgument, codes.OutOfRange:
		return InvalidArgument
	case codes.Canceled:
		return Unavailable
	}
	return Rejected
}
