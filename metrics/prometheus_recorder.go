package metrics

import (
	"sync"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
)

const namespace = "vpnd_client"

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	once            sync.Once
	generation      prom.Gauge
	stale           prom.Gauge
	events          *prom.CounterVec
	droppedEvents   *prom.CounterVec
	resyncs         *prom.CounterVec
	reconnects      prom.Counter
	daemonConnected prom.Gauge
	commands        *prom.CounterVec
	commandDuration *prom.HistogramVec
	subscriberDrops prom.Counter
	subscribers     prom.Gauge
}

// NewPrometheusRecorder constructs and registers Prometheus metrics (idempotent).
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{}
	pr.once.Do(func() {
		pr.generation = prom.NewGauge(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "snapshot_generation",
			Help:      "Generation of the last published snapshot",
		})
		pr.stale = prom.NewGauge(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "snapshot_stale",
			Help:      "1 while the published snapshot may not reflect the daemon",
		})
		pr.events = prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "events_applied_total",
			Help:      "Daemon events applied to the snapshot, by kind",
		}, []string{"kind"})
		pr.droppedEvents = prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "events_dropped_total",
			Help:      "Daemon events not applied, by reason",
		}, []string{"reason"})
		pr.resyncs = prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "resyncs_total",
			Help:      "Full state resynchronizations by result",
		}, []string{"result"})
		pr.reconnects = prom.NewCounter(prom.CounterOpts{
			Namespace: namespace,
			Name:      "daemon_reconnects_total",
			Help:      "Successful reconnections to the daemon",
		})
		pr.daemonConnected = prom.NewGauge(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "daemon_connected",
			Help:      "1 while the management connection is up",
		})
		pr.commands = prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Submitted commands by command and result",
		}, []string{"command", "result"})
		pr.commandDuration = prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "command_duration_seconds",
			Help:      "Time until the daemon acknowledged a command",
			Buckets:   prom.DefBuckets,
		}, []string{"command"})
		pr.subscriberDrops = prom.NewCounter(prom.CounterOpts{
			Namespace: namespace,
			Name:      "subscriber_dropped_snapshots_total",
			Help:      "Snapshots discarded for consumers that fell behind",
		})
		pr.subscribers = prom.NewGauge(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "subscribers",
			Help:      "Open snapshot subscriptions",
		})
		reg.MustRegister(pr.generation, pr.stale, pr.events, pr.droppedEvents, pr.resyncs, pr.reconnects,
			pr.daemonConnected, pr.commands, pr.commandDuration, pr.subscriberDrops, pr.subscribers)
	})
	return pr
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func (p *PrometheusRecorder) ObserveSnapshot(generation uint64, stale bool) {
	if p == nil || p.generation == nil {
		return
	}
	p.generation.Set(float64(generation))
	p.stale.Set(boolGauge(stale))
}

func (p *PrometheusRecorder) IncEvent(kind string) {
	if p == nil || p.events == nil {
		return
	}
	p.events.WithLabelValues(kind).Inc()
}

func (p *PrometheusRecorder) IncDroppedEvent(reason string) {
	if p == nil || p.droppedEvents == nil {
		return
	}
	p.droppedEvents.WithLabelValues(reason).Inc()
}

func (p *PrometheusRecorder) IncResync(result string) {
	if p == nil || p.resyncs == nil {
		return
	}
	p.resyncs.WithLabelValues(result).Inc()
}

func (p *PrometheusRecorder) IncReconnect() {
	if p == nil || p.reconnects == nil {
		return
	}
	p.reconnects.Inc()
}

func (p *PrometheusRecorder) SetDaemonConnected(connected bool) {
	if p == nil || p.daemonConnected == nil {
		return
	}
	p.daemonConnected.Set(boolGauge(connected))
}

func (p *PrometheusRecorder) IncCommand(command, result string) {
	if p == nil || p.commands == nil {
		return
	}
	p.commands.WithLabelValues(command, result).Inc()
}

func (p *PrometheusRecorder) ObserveCommandDuration(command string, d time.Duration) {
	if p == nil || p.commandDuration == nil {
		return
	}
	p.commandDuration.WithLabelValues(command).Observe(d.Seconds())
}

func (p *PrometheusRecorder) AddSubscriberDrops(n int) {
	if p == nil || p.subscriberDrops == nil || n <= 0 {
		return
	}
	p.subscriberDrops.Add(float64(n))
}

func (p *PrometheusRecorder) SetSubscribers(n int) {
	if p == nil || p.subscribers == nil {
		return
	}
	p.subscribers.Set(float64(n))
}
