// Package metrics exposes the engine's Prometheus instruments. Every method is
// safe to call on a nil *Metrics so components can run without metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "fleetwatch"

// Heartbeat outcomes.
const (
	ResultOK      = "ok"
	ResultUnknown = "unknown_machine"
	ResultInvalid = "invalid"
	ResultError   = "error"
)

// Alert suppression reasons.
const (
	ReasonDuplicate   = "duplicate"
	ReasonAfterHours  = "after_hours"
	ReasonStoreFailed = "store_failed"
)

type Metrics struct {
	registry *prometheus.Registry

	heartbeats         *prometheus.CounterVec
	stepFailures       *prometheus.CounterVec
	alertsRaised       *prometheus.CounterVec
	alertsSuppressed   *prometheus.CounterVec
	notifyFailures     prometheus.Counter
	offlineTransitions prometheus.Counter
	sweepDuration      prometheus.Histogram
	commandsQueued     prometheus.Counter
	commandsDelivered  prometheus.Counter
}

// New creates the instruments on a private registry, together with the Go
// runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		heartbeats: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "heartbeats_total",
			Help:      "Heartbeats received, by outcome.",
		}, []string{"result"}),
		stepFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_step_failures_total",
			Help:      "Non-critical ingestion steps that failed and were swallowed.",
		}, []string{"step"}),
		alertsRaised: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_raised_total",
			Help:      "Alerts persisted, by type.",
		}, []string{"type"}),
		alertsSuppressed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_suppressed_total",
			Help:      "Alert attempts that did not create a row, by type and reason.",
		}, []string{"type", "reason"}),
		notifyFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notify_failures_total",
			Help:      "Notifications that could not be delivered.",
		}),
		offlineTransitions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "offline_transitions_total",
			Help:      "Machines moved from online to offline by the liveness sweep.",
		}),
		sweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "liveness_sweep_duration_seconds",
			Help:      "Wall time of one liveness sweep.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 8),
		}),
		commandsQueued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_queued_total",
			Help:      "Commands placed in the mailbox.",
		}),
		commandsDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_delivered_total",
			Help:      "Commands handed to an agent in a heartbeat response.",
		}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.heartbeats,
		m.stepFailures,
		m.alertsRaised,
		m.alertsSuppressed,
		m.notifyFailures,
		m.offlineTransitions,
		m.sweepDuration,
		m.commandsQueued,
		m.commandsDelivered,
	)
	return m
}

// Registry returns the registry backing Handler.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// TrackPendingCommands exports fn as the current mailbox depth.
func (m *Metrics) TrackPendingCommands(fn func() int) {
	if m == nil {
		return
	}
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "commands_pending",
		Help:      "Commands waiting for their machine's next heartbeat.",
	}, func() float64 { return float64(fn()) }))
}

func (m *Metrics) Heartbeat(result string) {
	if m == nil {
		return
	}
	m.heartbeats.WithLabelValues(result).Inc()
}

func (m *Metrics) StepFailed(step string) {
	if m == nil {
		return
	}
	m.stepFailures.WithLabelValues(step).Inc()
}

func (m *Metrics) AlertRaised(alertType string) {
	if m == nil {
		return
	}
	m.alertsRaised.WithLabelValues(alertType).Inc()
}

func (m *Metrics) AlertSuppressed(alertType, reason string) {
	if m == nil {
		return
	}
	m.alertsSuppressed.WithLabelValues(alertType, reason).Inc()
}

func (m *Metrics) NotifyFailed() {
	if m == nil {
		return
	}
	m.notifyFailures.Inc()
}

func (m *Metrics) MachineWentOffline() {
	if m == nil {
		return
	}
	m.offlineTransitions.Inc()
}

func (m *Metrics) ObserveSweep(d time.Duration) {
	if m == nil {
		return
	}
	m.sweepDuration.Observe(d.Seconds())
}

func (m *Metrics) CommandQueued() {
	if m == nil {
		return
	}
	m.commandsQueued.Inc()
}

func (m *Metrics) CommandDelivered() {
	if m == nil {
		return
	}
	m.commandsDelivered.Inc()
}
