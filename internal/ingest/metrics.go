package ingest

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry is the Prometheus registry the default ingestion metrics live in.
var Registry = prometheus.NewRegistry()

// Metrics counts ingestion outcomes.
type Metrics struct {
	Ingestions      *prometheus.CounterVec // labels: decoder, result
	StagedBytes     prometheus.Counter
	CleanupFailures prometheus.Counter
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// DefaultMetrics returns the process-wide metrics registered in Registry.
func DefaultMetrics() *Metrics {
	defaultOnce.Do(func() {
		defaultMetrics = NewMetrics(Registry)
	})
	return defaultMetrics
}

// NewMetrics registers a fresh set of ingestion metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		Ingestions: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "daaas_ingestions_total",
			Help: "Streamed ingestions by decoder and result",
		}, []string{"decoder", "result"}),
		StagedBytes: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "daaas_ingest_staged_bytes_total",
			Help: "Bytes written to staging files",
		}),
		CleanupFailures: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "daaas_ingest_cleanup_failures_total",
			Help: "Staging files that could not be removed",
		}),
	}
}
