package ibverbscr

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/coreos-rdma/ibverbscr/internal/interfaces"
)

// PrometheusObserver implements interfaces.Observer by exposing
// restore/dump counters and latency histograms through the standard
// prometheus client, generalizing the teacher's in-process
// Metrics/MetricsObserver pair the way a yuuki-rdma_exporter collector
// wires driver counters into a registry.
type PrometheusObserver struct {
	dumpTotal    *prometheus.CounterVec
	restoreTotal *prometheus.CounterVec
	latency      *prometheus.HistogramVec
	catalogSize  *prometheus.GaugeVec
}

// NewPrometheusObserver creates a PrometheusObserver and registers its
// collectors against reg. Passing prometheus.DefaultRegisterer matches
// typical exporter setup; tests should pass a fresh prometheus.NewRegistry()
// to avoid collector-already-registered panics across test runs.
func NewPrometheusObserver(reg prometheus.Registerer) *PrometheusObserver {
	o := &PrometheusObserver{
		dumpTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ibverbscr",
			Name:      "dump_total",
			Help:      "Dumped objects by kind and outcome.",
		}, []string{"kind", "outcome"}),
		restoreTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ibverbscr",
			Name:      "restore_total",
			Help:      "Restored objects by kind and outcome.",
		}, []string{"kind", "outcome"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "ibverbscr",
			Name:      "operation_latency_seconds",
			Help:      "Per-object dump/restore latency in seconds.",
			Buckets:   prometheus.ExponentialBuckets(1e-4, 4, 8),
		}, []string{"phase", "kind"}),
		catalogSize: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "ibverbscr",
			Name:      "catalog_size",
			Help:      "Live object count in the restore catalog by kind.",
		}, []string{"kind"}),
	}

	reg.MustRegister(o.dumpTotal, o.restoreTotal, o.latency, o.catalogSize)
	return o
}

func outcomeLabel(success bool) string {
	if success {
		return "ok"
	}
	return "error"
}

func (o *PrometheusObserver) ObserveDump(kind string, latency time.Duration, success bool) {
	o.dumpTotal.WithLabelValues(kind, outcomeLabel(success)).Inc()
	o.latency.WithLabelValues("dump", kind).Observe(latency.Seconds())
}

func (o *PrometheusObserver) ObserveRestore(kind string, latency time.Duration, success bool) {
	o.restoreTotal.WithLabelValues(kind, outcomeLabel(success)).Inc()
	o.latency.WithLabelValues("restore", kind).Observe(latency.Seconds())
}

func (o *PrometheusObserver) ObserveCatalogSize(size int) {
	// The restore pipeline calls this once per kind in uapi.ObjectKind
	// order at the end of Run; since the label isn't carried through the
	// interface, callers that need per-kind gauges should prefer
	// MetricsObserver or read the catalog directly. Each call overwrites
	// one gauge under a synthetic "all" label, so after Run it holds the
	// last reported (QP) count, not a total.
	o.catalogSize.WithLabelValues("all").Set(float64(size))
}

var _ interfaces.Observer = (*PrometheusObserver)(nil)
