// Package metrics records the daemon client's synchronization metrics.
//
// Components take a Recorder and default to NoopRecorder, so metrics cost
// nothing unless a PrometheusRecorder is injected:
//
//	reg := prom.NewRegistry()
//	client := vpn.NewClient(vpn.ClientOptions{
//	    SocketPath: socketPath,
//	    Recorder:   metrics.NewPrometheusRecorder(reg),
//	})
//	http.Handle("/metrics", metrics.HTTPHandler(reg))
package metrics

import "time"

// Result labels for resyncs and commands.
const (
	ResultSuccess = "success"
	ResultFailed  = "failed"
)

// Drop reasons for events the reconciler did not apply.
const (
	DropSuperseded = "superseded"
	DropMalformed  = "malformed"
	DropGap        = "gap"
)

// Recorder is implemented by metrics backends.
type Recorder interface {
	ObserveSnapshot(generation uint64, stale bool)
	IncEvent(kind string)
	IncDroppedEvent(reason string)
	IncResync(result string)
	IncReconnect()
	SetDaemonConnected(connected bool)
	IncCommand(command, result string)
	ObserveCommandDuration(command string, d time.Duration)
	AddSubscriberDrops(n int)
	SetSubscribers(n int)
}

// NoopRecorder discards everything.
type NoopRecorder struct{}

func (NoopRecorder) ObserveSnapshot(uint64, bool)                 {}
func (NoopRecorder) IncEvent(string)                              {}
func (NoopRecorder) IncDroppedEvent(string)                       {}
func (NoopRecorder) IncResync(string)                             {}
func (NoopRecorder) IncReconnect()                                {}
func (NoopRecorder) SetDaemonConnected(bool)                      {}
func (NoopRecorder) IncCommand(string, string)                    {}
func (NoopRecorder) ObserveCommandDuration(string, time.Duration) {}
func (NoopRecorder) AddSubscriberDrops(int)                       {}
func (NoopRecorder) SetSubscribers(int)                           {}

