package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "umbrella"

// Metrics groups the orchestrator's Prometheus collectors. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	// JobsTotal counts finished jobs.
	// Labels: type, status (completed, failed, cancelled)
	JobsTotal *prometheus.CounterVec

	// JobsActive tracks jobs currently holding a scheduler slot.
	JobsActive prometheus.Gauge

	// SubtaskDurationSeconds measures subtask wall-clock time.
	// Labels: service, state (completed, failed)
	SubtaskDurationSeconds *prometheus.HistogramVec

	// RemoteAttemptsTotal counts HTTP attempts to collaborators.
	// Labels: service, outcome (success, retry, permanent)
	RemoteAttemptsTotal *prometheus.CounterVec

	// MessagesTotal counts channel deliveries.
	// Labels: topic, outcome (acked, redelivered, dead_lettered)
	MessagesTotal *prometheus.CounterVec

	// QueueDepth tracks queued messages per topic.
	// Labels: topic
	QueueDepth *prometheus.GaugeVec
}

// NewMetrics registers all collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		JobsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "jobs",
			Name:      "finished_total",
			Help:      "Total finished jobs by type and terminal status",
		}, []string{"type", "status"}),
		JobsActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "jobs",
			Name:      "active",
			Help:      "Jobs currently executing",
		}),
		SubtaskDurationSeconds: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "executor",
			Name:      "subtask_duration_seconds",
			Help:      "Subtask duration in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"service", "state"}),
		RemoteAttemptsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "remote",
			Name:      "attempts_total",
			Help:      "HTTP attempts to remote services by outcome",
		}, []string{"service", "outcome"}),
		MessagesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "channel",
			Name:      "messages_total",
			Help:      "Message deliveries by topic and outcome",
		}, []string{"topic", "outcome"}),
		QueueDepth: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "channel",
			Name:      "queue_depth",
			Help:      "Messages waiting for delivery",
		}, []string{"topic"}),
	}
}

func (m *Metrics) JobFinished(jobType, status string) {
	if m == nil {
		return
	}
	m.JobsTotal.WithLabelValues(jobType, status).Inc()
}

func (m *Metrics) JobStarted() {
	if m == nil {
		return
	}
	m.JobsActive.Inc()
}

func (m *Metrics) JobDone() {
	if m == nil {
		return
	}
	m.JobsActive.Dec()
}

func (m *Metrics) SubtaskFinished(service, state string, d time.Duration) {
	if m == nil {
		return
	}
	m.SubtaskDurationSeconds.WithLabelValues(service, state).Observe(d.Seconds())
}

func (m *Metrics) RemoteAttempt(service, outcome string) {
	if m == nil {
		return
	}
	m.RemoteAttemptsTotal.WithLabelValues(service, outcome).Inc()
}

func (m *Metrics) MessageDelivered(topic, outcome string) {
	if m == nil {
		return
	}
	m.MessagesTotal.WithLabelValues(topic, outcome).Inc()
}

func (m *Metrics) SetQueueDepth(topic string, n int) {
	if m == nil {
		return
	}
	m.QueueDepth.WithLabelValues(topic).Set(float64(n))
}
