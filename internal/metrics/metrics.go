// Package metrics holds the Prometheus instruments for the queue and worker.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mattjoyce/promptq/internal/queue"
)

const DefaultNamespace = "promptq"

// Metrics groups all instruments. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	registry *prometheus.Registry

	JobsEnqueued  prometheus.Counter
	JobsClaimed   prometheus.Counter
	JobsFinished  *prometheus.CounterVec
	JobDuration   prometheus.Histogram
	Notifications *prometheus.CounterVec
	QueueJobs     *prometheus.GaugeVec
}

// New registers the instruments on a fresh registry, so several instances
// can coexist in one process.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		JobsEnqueued: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_enqueued_total",
			Help:      "Jobs accepted by Enqueue.",
		}),
		JobsClaimed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_claimed_total",
			Help:      "Jobs moved from pending to running.",
		}),
		JobsFinished: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_finished_total",
			Help:      "Jobs reaching a terminal state, by status.",
		}, []string{"status"}),
		JobDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Provider run time from spawn to exit.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 180, 300, 600},
		}),
		Notifications: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Completion notifications, by result.",
		}, []string{"result"}),
		QueueJobs: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_jobs",
			Help:      "Jobs currently stored, by status.",
		}, []string{"status"}),
	}
}

func (m *Metrics) Enqueued() {
	if m == nil {
		return
	}
	m.JobsEnqueued.Inc()
}

func (m *Metrics) Claimed() {
	if m == nil {
		return
	}
	m.JobsClaimed.Inc()
}

// Finished records a terminal transition and, when d > 0, its run time.
func (m *Metrics) Finished(status queue.Status, d time.Duration) {
	if m == nil {
		return
	}
	m.JobsFinished.WithLabelValues(string(status)).Inc()
	if d > 0 {
		m.JobDuration.Observe(d.Seconds())
	}
}

// Notified records a notification outcome: "ok", "error" or "skipped".
func (m *Metrics) Notified(result string) {
	if m == nil {
		return
	}
	m.Notifications.WithLabelValues(result).Inc()
}

func (m *Metrics) SetQueue(st queue.Stats) {
	if m == nil {
		return
	}
	m.QueueJobs.WithLabelValues(string(queue.StatusPending)).Set(float64(st.Pending))
	m.QueueJobs.WithLabelValues(string(queue.StatusRunning)).Set(float64(st.Running))
	m.QueueJobs.WithLabelValues(string(queue.StatusCompleted)).Set(float64(st.Completed))
	m.QueueJobs.WithLabelValues(string(queue.StatusFailed)).Set(float64(st.Failed))
}

// Handler serves this instance's registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
