package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the batch counters of a run, kept in a private registry and
// exported as a node-exporter textfile at the end of the run.
type Metrics struct {
	Registry *prometheus.Registry

	SnapshotsProcessed   prometheus.Counter
	SnapshotsSkipped     prometheus.Counter
	ShapeFits            *prometheus.CounterVec
	HistCenterIterations prometheus.Histogram
	SnapshotDuration     prometheus.Histogram
}

func NewMetrics() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		SnapshotsProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "galaxyprops_snapshots_processed_total",
			Help: "Snapshots whose galaxy properties were computed.",
		}),
		SnapshotsSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "galaxyprops_snapshots_skipped_total",
			Help: "Snapshots skipped because their scale factor is not in the MMPB.",
		}),
		ShapeFits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "galaxyprops_shape_fits_total",
			Help: "Shape fits by species and result (resolved, unresolved, error).",
		}, []string{"species", "result"}),
		HistCenterIterations: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "galaxyprops_hist_center_iterations",
			Help:    "Refinement passes of the histogram center.",
			Buckets: prometheus.LinearBuckets(1, 2, 10),
		}),
		SnapshotDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "galaxyprops_snapshot_duration_seconds",
			Help:    "Wall time spent on one snapshot.",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 10),
		}),
	}
	m.Registry.MustRegister(
		m.SnapshotsProcessed,
		m.SnapshotsSkipped,
		m.ShapeFits,
		m.HistCenterIterations,
		m.SnapshotDuration,
	)
	return m
}

// WriteTextfile writes the current values in the Prometheus text format.
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.Registry)
}
