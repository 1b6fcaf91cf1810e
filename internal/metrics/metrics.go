package metrics

import (
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// CacheOutcome captures the result of a service-level cache consultation.
type CacheOutcome string

const (
	// CacheHit indicates the read was served from cache.
	CacheHit CacheOutcome = "hit"
	// CacheMiss indicates the read fell through to the backing store.
	CacheMiss CacheOutcome = "miss"
	// CacheBypass indicates a filtered or force-refreshed read skipped the cache.
	CacheBypass CacheOutcome = "bypass"
)

// StoreOutcome captures the result of a backing-store round trip.
type StoreOutcome string

const (
	// StoreOK indicates the store call completed.
	StoreOK StoreOutcome = "ok"
	// StoreError indicates the store call failed.
	StoreError StoreOutcome = "error"
)

// Recorder publishes Prometheus metrics for the coordination services.
type Recorder struct {
	gatherer prometheus.Gatherer
	handler  http.Handler

	cacheReads   *prometheus.CounterVec
	storeLatency *prometheus.HistogramVec
	historyReads *prometheus.CounterVec
}

// NewRecorder constructs a Prometheus-backed Recorder. When reg is nil a
// dedicated registry is created so multiple recorders can coexist without
// conflicting with the global default registerer.
func NewRecorder(reg *prometheus.Registry) *Recorder {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	reg.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	cacheReads := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "opsdeck",
		Subsystem: "cache",
		Name:      "reads_total",
		Help:      "Service read requests classified by cache outcome.",
	}, []string{"service", "outcome"})

	storeLatency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "opsdeck",
		Subsystem: "store",
		Name:      "operation_duration_seconds",
		Help:      "Latency distribution for backing-store round trips.",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2},
	}, []string{"service", "operation", "result"})

	historyReads := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "opsdeck",
		Subsystem: "status",
		Name:      "history_reads_total",
		Help:      "Status history reconstructions, including degraded ones.",
	}, []string{"result"})

	reg.MustRegister(cacheReads, storeLatency, historyReads)

	handler := promhttp.HandlerFor(reg, promhttp.HandlerOpts{})

	return &Recorder{
		gatherer:     reg,
		handler:      handler,
		cacheReads:   cacheReads,
		storeLatency: storeLatency,
		historyReads: historyReads,
	}
}

// Handler exposes the Prometheus HTTP handler for the recorder's registry.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "metrics unavailable", http.StatusServiceUnavailable)
		})
	}
	return r.handler
}

// Gatherer returns the underlying Prometheus gatherer for tests and advanced
// integrations.
func (r *Recorder) Gatherer() prometheus.Gatherer {
	if r == nil {
		return prometheus.NewRegistry()
	}
	return r.gatherer
}

// ObserveCacheRead classifies one service read against its cache.
func (r *Recorder) ObserveCacheRead(service string, outcome CacheOutcome) {
	if r == nil {
		return
	}
	outcomeLabel := string(outcome)
	if outcomeLabel == "" {
		outcomeLabel = string(CacheMiss)
	}
	r.cacheReads.WithLabelValues(normalizeLabel(service), outcomeLabel).Inc()
}

// ObserveStore records one backing-store round trip.
func (r *Recorder) ObserveStore(service, operation string, result StoreOutcome, duration time.Duration) {
	if r == nil {
		return
	}
	resultLabel := string(result)
	if resultLabel == "" {
		resultLabel = string(StoreError)
	}
	r.storeLatency.WithLabelValues(normalizeLabel(service), normalizeLabel(operation), resultLabel).Observe(duration.Seconds())
}

// ObserveHistory records one history reconstruction; degraded marks fetches
// that fell back to placeholder identities.
func (r *Recorder) ObserveHistory(degraded bool) {
	if r == nil {
		return
	}
	result := "ok"
	if degraded {
		result = "degraded"
	}
	r.historyReads.WithLabelValues(result).Inc()
}

func normalizeLabel(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "unknown"
	}
	return trimmed
}
