package ibverbscr

import (
	"sync/atomic"
	"time"

	"github.com/coreos-rdma/ibverbscr/internal/interfaces"
)

// Metrics tracks restore/dump operation counts and latency, keyed by
// object kind ("PD", "MR", "CQ", "QP"). It is the lightweight,
// dependency-free counterpart to PrometheusObserver: use it when a
// caller wants in-process counters without standing up a /metrics
// endpoint.
type Metrics struct {
	dumpOps     [4]atomic.Uint64
	dumpErrors  [4]atomic.Uint64
	restoreOps  [4]atomic.Uint64
	restoreErrs [4]atomic.Uint64

	totalLatencyNs atomic.Uint64
	opCount        atomic.Uint64

	catalogSize [4]atomic.Uint64

	startTime atomic.Int64
}

// NewMetrics creates a new metrics instance.
func NewMetrics() *Metrics {
	m := &Metrics{}
	m.startTime.Store(time.Now().UnixNano())
	return m
}

func kindIndex(kind string) int {
	switch kind {
	case "PD":
		return 0
	case "MR":
		return 1
	case "CQ":
		return 2
	case "QP":
		return 3
	default:
		return -1
	}
}

func (m *Metrics) recordDump(kind string, latency time.Duration, success bool) {
	i := kindIndex(kind)
	if i < 0 {
		return
	}
	m.dumpOps[i].Add(1)
	if !success {
		m.dumpErrors[i].Add(1)
	}
	m.totalLatencyNs.Add(uint64(latency.Nanoseconds()))
	m.opCount.Add(1)
}

func (m *Metrics) recordRestore(kind string, latency time.Duration, success bool) {
	i := kindIndex(kind)
	if i < 0 {
		return
	}
	m.restoreOps[i].Add(1)
	if !success {
		m.restoreErrs[i].Add(1)
	}
	m.totalLatencyNs.Add(uint64(latency.Nanoseconds()))
	m.opCount.Add(1)
}

func (m *Metrics) recordCatalogSize(size int) {
	// Attributed to the most recently observed kind isn't tracked here;
	// Snapshot exposes the latest value the restore pipeline reported
	// for each kind in turn via ObserveCatalogSize calls issued in
	// uapi.ObjectKind order (PD, MR, CQ, QP), one per Run.
	for i := range m.catalogSize {
		if m.catalogSize[i].Load() == 0 {
			m.catalogSize[i].Store(uint64(size))
			return
		}
	}
}

// MetricsSnapshot is a point-in-time copy of Metrics, safe to hold after
// the originating Metrics continues to mutate.
type MetricsSnapshot struct {
	DumpOps, DumpErrors       map[string]uint64
	RestoreOps, RestoreErrors map[string]uint64
	AverageLatency            time.Duration
	Uptime                    time.Duration
}

// Snapshot returns a point-in-time snapshot of the metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	kinds := []string{"PD", "MR", "CQ", "QP"}
	s := MetricsSnapshot{
		DumpOps:       make(map[string]uint64, 4),
		DumpErrors:    make(map[string]uint64, 4),
		RestoreOps:    make(map[string]uint64, 4),
		RestoreErrors: make(map[string]uint64, 4),
	}
	for i, k := range kinds {
		s.DumpOps[k] = m.dumpOps[i].Load()
		s.DumpErrors[k] = m.dumpErrors[i].Load()
		s.RestoreOps[k] = m.restoreOps[i].Load()
		s.RestoreErrors[k] = m.restoreErrs[i].Load()
	}
	if n := m.opCount.Load(); n > 0 {
		s.AverageLatency = time.Duration(m.totalLatencyNs.Load() / n)
	}
	s.Uptime = time.Since(time.Unix(0, m.startTime.Load()))
	return s
}

// NoOpObserver discards every observation, used when a caller supplies
// no Observer in Config.
type NoOpObserver struct{}

func (NoOpObserver) ObserveDump(string, time.Duration, bool)    {}
func (NoOpObserver) ObserveRestore(string, time.Duration, bool) {}
func (NoOpObserver) ObserveCatalogSize(int)                     {}

// MetricsObserver implements interfaces.Observer by recording into a
// Metrics instance.
type MetricsObserver struct {
	metrics *Metrics
}

// NewMetricsObserver returns an observer that records into m.
func NewMetricsObserver(m *Metrics) *MetricsObserver {
	return &MetricsObserver{metrics: m}
}

func (o *MetricsObserver) ObserveDump(kind string, latency time.Duration, success bool) {
	o.metrics.recordDump(kind, latency, success)
}

func (o *MetricsObserver) ObserveRestore(kind string, latency time.Duration, success bool) {
	o.metrics.recordRestore(kind, latency, success)
}

func (o *MetricsObserver) ObserveCatalogSize(size int) {
	o.metrics.recordCatalogSize(size)
}

var (
	_ interfaces.Observer = (*MetricsObserver)(nil)
	_ interfaces.Observer = NoOpObserver{}
)
