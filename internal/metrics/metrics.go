package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	daemonSpawns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "operkit",
			Subsystem: "daemon",
			Name:      "spawns_total",
			Help:      "Number of daemon tasks spawned.",
		}, []string{"id"},
	)
	daemonStops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "operkit",
			Subsystem: "daemon",
			Name:      "stops_total",
			Help:      "Number of daemons that exited after being signalled or cancelled.",
		}, []string{"id"},
	)
	daemonCancellations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "operkit",
			Subsystem: "daemon",
			Name:      "cancellations_total",
			Help:      "Number of forceful cancellations issued after the grace phase.",
		}, []string{"id"},
	)
	daemonAbandons = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "operkit",
			Subsystem: "daemon",
			Name:      "abandons_total",
			Help:      "Number of daemons left orphaned after the cancellation timeout.",
		}, []string{"id"},
	)
	activeDaemons = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "operkit",
			Subsystem: "daemon",
			Name:      "active",
			Help:      "Current number of live daemon tasks across all objects.",
		},
	)
	trackedObjects = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "operkit",
			Subsystem: "memory",
			Name:      "tracked_objects",
			Help:      "Current number of objects with a memory record.",
		},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{daemonSpawns, daemonStops, daemonCancellations, daemonAbandons, activeDaemons, trackedObjects}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			// If already registered, ignore (allows double Register with default registry)
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler that serves Prometheus metrics for the DefaultGatherer.
// The caller is responsible for starting an HTTP server and wiring the route.
func Handler() http.Handler { return promhttp.Handler() }

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

func IncSpawn(id string) {
	if regOK.Load() {
		daemonSpawns.WithLabelValues(id).Inc()
		activeDaemons.Inc()
	}
}

func IncStop(id string) {
	if regOK.Load() {
		daemonStops.WithLabelValues(id).Inc()
		activeDaemons.Dec()
	}
}

func IncCancellation(id string) {
	if regOK.Load() {
		daemonCancellations.WithLabelValues(id).Inc()
	}
}

// IncAbandon also decrements the active gauge: an abandoned task keeps
// running detached, but it is no longer a live handle of any record.
func IncAbandon(id string) {
	if regOK.Load() {
		daemonAbandons.WithLabelValues(id).Inc()
		activeDaemons.Dec()
	}
}

func SetTrackedObjects(n int) {
	if regOK.Load() {
		trackedObjects.Set(float64(n))
	}
}
