package sftp

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/sftpstreams/metric"
)

// Metrics holds Prometheus metrics for the SFTP source
type Metrics struct {
	polls         *prometheus.CounterVec
	filesEmitted  *prometheus.CounterVec
	pollErrors    *prometheus.CounterVec
	fileErrors    *prometheus.CounterVec
	transferBytes *prometheus.CounterVec
	duplicates    prometheus.Counter
	rotations     prometheus.Counter
	pollDuration  prometheus.Histogram
	lastActivity  prometheus.Gauge
}

// newMetrics creates and registers source metrics. A nil registry disables them.
func newMetrics(registry *metric.MetricsRegistry, name string) *Metrics {
	if registry == nil {
		return nil
	}

	labels := prometheus.Labels{"component": name}
	m := &Metrics{
		polls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "source",
			Name:        "polls_total",
			ConstLabels: labels,
			Help:        "Poll cycles per server key",
		}, []string{"server"}),
		filesEmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "source",
			Name:        "files_emitted_total",
			ConstLabels: labels,
			Help:        "Files published per server key",
		}, []string{"server"}),
		pollErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "source",
			Name:        "poll_errors_total",
			ConstLabels: labels,
			Help:        "Failed poll cycles per server key",
		}, []string{"server"}),
		fileErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "source",
			Name:        "file_errors_total",
			ConstLabels: labels,
			Help:        "Remote files skipped after a read failure, per server key",
		}, []string{"server"}),
		transferBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "transfer",
			Name:        "bytes_total",
			ConstLabels: labels,
			Help:        "Bytes copied to a transfer destination",
		}, []string{"destination"}),
		duplicates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "source",
			Name:        "duplicates_total",
			ConstLabels: labels,
			Help:        "Remote files suppressed as already seen",
		}),
		rotations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "source",
			Name:        "rotations_total",
			ConstLabels: labels,
			Help:        "Rotation advances between server directories",
		}),
		pollDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "source",
			Name:        "poll_duration_seconds",
			ConstLabels: labels,
			Help:        "Time spent in one poll cycle",
			Buckets:     []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		lastActivity: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "source",
			Name:        "last_activity_timestamp",
			ConstLabels: labels,
			Help:        "Unix timestamp of the last published file",
		}),
	}

	serviceName := "sftp_source_" + name
	registry.RegisterCounterVec(serviceName, "polls", m.polls)
	registry.RegisterCounterVec(serviceName, "files_emitted", m.filesEmitted)
	registry.RegisterCounterVec(serviceName, "poll_errors", m.pollErrors)
	registry.RegisterCounterVec(serviceName, "file_errors", m.fileErrors)
	registry.RegisterCounterVec(serviceName, "transfer_bytes", m.transferBytes)
	registry.RegisterCounter(serviceName, "duplicates", m.duplicates)
	registry.RegisterCounter(serviceName, "rotations", m.rotations)
	registry.RegisterHistogram(serviceName, "poll_duration", m.pollDuration)
	registry.RegisterGauge(serviceName, "last_activity", m.lastActivity)

	return m
}
