// Package metrics exposes Prometheus collectors for backup jobs and queues.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "vaultdb"

type Metrics struct {
	JobsTotal     *prometheus.CounterVec
	JobDuration   *prometheus.HistogramVec
	BytesWritten  *prometheus.CounterVec
	JobsRunning   prometheus.Gauge
	Enqueued      *prometheus.CounterVec
	EnqueueErrors *prometheus.CounterVec
	Fallbacks     *prometheus.CounterVec

	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec

	gatherer prometheus.Gatherer
}

// New registers the collectors on reg. A nil reg gets a private registry,
// which keeps tests independent of the global one.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	m := &Metrics{
		JobsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backup_jobs_total",
			Help:      "Backup jobs finished, by database kind and final status.",
		}, []string{"kind", "status"}),
		JobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "backup_duration_seconds",
			Help:      "Wall time of backup jobs.",
			Buckets:   []float64{1, 5, 15, 30, 60, 300, 900, 1800, 3600},
		}, []string{"kind"}),
		BytesWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backup_bytes_total",
			Help:      "Bytes of backup artifacts written to disk.",
		}, []string{"kind"}),
		JobsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "backup_jobs_running",
			Help:      "Backup jobs currently executing.",
		}),
		Enqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_enqueued_total",
			Help:      "Messages accepted by the queue, by family.",
		}, []string{"family"}),
		EnqueueErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_enqueue_errors_total",
			Help:      "Messages the queue refused, by family.",
		}, []string{"family"}),
		Fallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backup_metadata_only_total",
			Help:      "Successful jobs that produced a metadata-only artifact.",
		}, []string{"kind"}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "path", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),
		gatherer: reg,
	}

	reg.MustRegister(
		m.JobsTotal,
		m.JobDuration,
		m.BytesWritten,
		m.JobsRunning,
		m.Enqueued,
		m.EnqueueErrors,
		m.Fallbacks,
		m.HTTPRequests,
		m.HTTPDuration,
	)

	return m
}

// ObserveJob records a finished job.
func (m *Metrics) ObserveJob(kind, status string, duration time.Duration, bytes int64, degraded bool) {
	m.JobsTotal.WithLabelValues(kind, status).Inc()
	m.JobDuration.WithLabelValues(kind).Observe(duration.Seconds())
	if bytes > 0 {
		m.BytesWritten.WithLabelValues(kind).Add(float64(bytes))
	}
	if degraded {
		m.Fallbacks.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) ObserveEnqueue(family string, err error) {
	if err != nil {
		m.EnqueueErrors.WithLabelValues(family).Inc()
		return
	}
	m.Enqueued.WithLabelValues(family).Inc()
}

func (m *Metrics) ObserveRequest(method, path string, status int, duration time.Duration) {
	m.HTTPRequests.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.HTTPDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// Handler serves the registry this Metrics was built on.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
