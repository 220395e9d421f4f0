package engine

import "github.com/prometheus/client_golang/prometheus"

const namespaceMultipathd = "multipathd"

var (
	reconcileActionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespaceMultipathd,
		Name:      "reconcile_actions_total",
		Help:      "Device-mapper actions applied by the reconciliation engine, by action.",
	},
		[]string{"action"},
	)

	reconcileFailuresTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespaceMultipathd,
		Name:      "reconcile_failures_total",
		Help:      "Reconcile passes that failed to apply their chosen action, by action.",
	},
		[]string{"action"},
	)

	pathsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespaceMultipathd,
		Name:      "paths",
		Help:      "Paths currently admitted into the in-memory topology.",
	})

	mapsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespaceMultipathd,
		Name:      "maps",
		Help:      "Multipath maps currently tracked.",
	})

	recoveryMode = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespaceMultipathd,
		Name:      "recovery_mode",
		Help:      "1 when a map is queuing I/O with no usable path (no_path_retry countdown armed), 0 otherwise.",
	},
		[]string{"alias"},
	)
)

func init() {
	prometheus.MustRegister(reconcileActionsTotal, reconcileFailuresTotal, pathsTotal, mapsTotal, recoveryMode)
}

// recordTopologyCounts refreshes the gauges tracking how many paths and
// maps the engine currently holds; called after every admit/remove so
// /metrics always reflects the live in-memory state rather than only
// updating on a timer.
func (e *Engine) recordTopologyCounts() {
	pathsTotal.Set(float64(len(e.Vectors.Paths())))
	mapsTotal.Set(float64(len(e.Vectors.Maps())))
}
