// Package observability wires up the process's Prometheus metrics and
// correlation-id generation. Metrics are registered once, behind a
// sync.Once, against a registerer wrapped with constant labels, the same
// shape the rest of the ecosystem uses so multiple instances of this
// service scraped by one Prometheus can be told apart by label rather than
// by metric name.
package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every counter, histogram, and gauge the service exposes.
type Metrics struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	ScoresClamped   prometheus.Counter
	KeysLoaded      prometheus.Gauge
	ProcessCPU      prometheus.Gauge
	ProcessRSS      prometheus.Gauge
	UptimeSeconds   prometheus.Gauge
	ExecutorQueue   prometheus.Gauge
}

var (
	once     sync.Once
	instance *Metrics
)

// Init registers the metric set against prometheus.DefaultRegisterer with
// the given constant labels, and returns the shared instance. Safe to call
// more than once (from tests in different packages, for instance); only the
// first call actually registers anything.
func Init(constLabels map[string]string) *Metrics {
	once.Do(func() {
		reg := prometheus.WrapRegistererWith(prometheus.Labels(constLabels), prometheus.DefaultRegisterer)
		instance = &Metrics{
			RequestsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
				Name: "vault_requests_total",
				Help: "Total requests handled, labeled by operation, transport, and outcome.",
			}, []string{"op", "transport", "status"}),
			RequestDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
				Name:    "vault_request_duration_seconds",
				Help:    "Request latency in seconds, labeled by operation and transport.",
				Buckets: prometheus.DefBuckets,
			}, []string{"op", "transport"}),
			ScoresClamped: promauto.With(reg).NewCounter(prometheus.CounterOpts{
				Name: "vault_decrypt_scores_clamped_total",
				Help: "Count of decrypt_scores requests whose top_k was clamped to k_max.",
			}),
			KeysLoaded: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
				Name: "vault_keys_loaded",
				Help: "1 once the key bundle has been loaded or generated, 0 before READY.",
			}),
			ProcessCPU: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
				Name: "vault_process_cpu_percent",
				Help: "Process CPU utilization percent, sampled periodically.",
			}),
			ProcessRSS: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
				Name: "vault_process_rss_bytes",
				Help: "Process resident set size in bytes, sampled periodically.",
			}),
			UptimeSeconds: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
				Name: "vault_uptime_seconds",
				Help: "Seconds since the process reported READY.",
			}),
			ExecutorQueue: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
				Name: "vault_executor_queue_depth",
				Help: "Current depth of the blocking FHE executor's backlog.",
			}),
		}
	})
	return instance
}

// ObserveRequest records one completed request's outcome and latency.
func (m *Metrics) ObserveRequest(op, transport, status string, elapsed time.Duration) {
	m.RequestsTotal.WithLabelValues(op, transport, status).Inc()
	m.RequestDuration.WithLabelValues(op, transport).Observe(elapsed.Seconds())
}
