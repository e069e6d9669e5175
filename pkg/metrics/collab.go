package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// CollabMetrics provides observability for the COLLAB protocol adapter.
//
// Implementations collect metrics about commands, session lifecycle and
// durations. The interface is optional - if nil is passed to the adapter,
// a no-op implementation is used.
type CollabMetrics interface {
	// RecordCommand records a completed command with its verb, the wire
	// status code it answered with, and the processing duration.
	RecordCommand(verb string, status int, duration time.Duration)

	// SetActiveSessions updates the current session count gauge.
	SetActiveSessions(count int32)

	// RecordSessionAccepted increments the total accepted sessions counter.
	RecordSessionAccepted()

	// RecordSessionClosed increments the total closed sessions counter.
	RecordSessionClosed()
}

// collabMetrics is the Prometheus implementation of CollabMetrics.
type collabMetrics struct {
	commandsTotal    *prometheus.CounterVec
	commandDuration  *prometheus.HistogramVec
	activeSessions   prometheus.Gauge
	sessionsAccepted prometheus.Counter
	sessionsClosed   prometheus.Counter
}

// NewCollabMetrics creates a new Prometheus-backed CollabMetrics instance.
//
// Returns a no-op implementation if metrics are not enabled (InitRegistry
// not called).
func NewCollabMetrics() CollabMetrics {
	if !IsEnabled() {
		return NewNoopCollabMetrics()
	}

	reg := GetRegistry()

	return &collabMetrics{
		commandsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "collabd_commands_total",
				Help: "Total number of COLLAB commands by verb and status code",
			},
			[]string{"verb", "status"},
		),
		commandDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "collabd_command_duration_seconds",
				Help: "Duration of COLLAB command processing in seconds",
				Buckets: []float64{
					0.001, // 1ms
					0.005, // 5ms
					0.01,  // 10ms
					0.05,  // 50ms
					0.1,   // 100ms
					0.5,   // 500ms
					1.0,   // 1s
					5.0,   // 5s
				},
			},
			[]string{"verb"},
		),
		activeSessions: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "collabd_sessions_active",
				Help: "Current number of active client sessions",
			},
		),
		sessionsAccepted: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "collabd_sessions_accepted_total",
				Help: "Total number of accepted client sessions",
			},
		),
		sessionsClosed: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "collabd_sessions_closed_total",
				Help: "Total number of closed client sessions",
			},
		),
	}
}

func (m *collabMetrics) RecordCommand(verb string, status int, duration time.Duration) {
	m.commandsTotal.WithLabelValues(verb, strconv.Itoa(status)).Inc()
	m.commandDuration.WithLabelValues(verb).Observe(duration.Seconds())
}

func (m *collabMetrics) SetActiveSessions(count int32) {
	m.activeSessions.Set(float64(count))
}

func (m *collabMetrics) RecordSessionAccepted() {
	m.sessionsAccepted.Inc()
}

func (m *collabMetrics) RecordSessionClosed() {
	m.sessionsClosed.Inc()
}

// noopCollabMetrics is the zero-overhead implementation used when metrics
// are disabled.
type noopCollabMetrics struct{}

// NewNoopCollabMetrics returns a CollabMetrics that records nothing.
func NewNoopCollabMetrics() CollabMetrics {
	return noopCollabMetrics{}
}

func (noopCollabMetrics) RecordCommand(string, int, time.Duration) {}
func (noopCollabMetrics) SetActiveSessions(int32)                  {}
func (noopCollabMetrics) RecordSessionAccepted()                   {}
func (noopCollabMetrics) RecordSessionClosed()                     {}
