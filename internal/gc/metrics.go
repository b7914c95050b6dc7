package gc

import "github.com/prometheus/client_golang/prometheus"

// Metrics counts collector activity.
type Metrics struct {
	reclaimed      prometheus.Counter
	reclaimedBytes prometheus.Counter
	failed         prometheus.Counter
	sweeps         *prometheus.CounterVec
	orphaned       prometheus.Gauge
}

// NewMetrics creates collector metrics and registers them when registerer is
// not nil.
func NewMetrics(registerer prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		reclaimed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tally",
			Subsystem: "gc",
			Name:      "blobs_reclaimed_total",
			Help:      "Orphaned blobs whose bytes and counter row were removed",
		}),
		reclaimedBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tally",
			Subsystem: "gc",
			Name:      "bytes_reclaimed_total",
			Help:      "Bytes freed by reclaimed blobs",
		}),
		failed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tally",
			Subsystem: "gc",
			Name:      "reclaim_failures_total",
			Help:      "Reclaim attempts that left the blob for a later sweep",
		}),
		sweeps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tally",
			Subsystem: "gc",
			Name:      "sweeps_total",
			Help:      "Sweeps run, partitioned by mode",
		}, []string{"mode"}),
		orphaned: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "tally",
			Subsystem: "gc",
			Name:      "orphaned_blobs",
			Help:      "Orphaned blobs waiting for collection after the last sweep",
		}),
	}
	if registerer != nil {
		for _, c := range []prometheus.Collector{m.reclaimed, m.reclaimedBytes, m.failed, m.sweeps, m.orphaned} {
			if err := registerer.Register(c); err != nil {
				return nil, err
			}
		}
	}
	return m, nil
}

func (m *Metrics) observeReclaim(sizeBytes int64) {
	if m == nil {
		return
	}
	m.reclaimed.Inc()
	m.reclaimedBytes.Add(float64(sizeBytes))
}

func (m *Metrics) observeFailure() {
	if m == nil {
		return
	}
	m.failed.Inc()
}

func (m *Metrics) observeSweep(dryRun bool, remaining int) {
	if m == nil {
		return
	}
	mode := "apply"
	if dryRun {
		mode = "dry_run"
	}
	m.sweeps.WithLabelValues(mode).Inc()
	if remaining >= 0 {
		m.orphaned.Set(float64(remaining))
	}
}
