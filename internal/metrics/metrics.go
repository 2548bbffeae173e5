package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	searchStarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "patrolmgr",
			Subsystem: "search",
			Name:      "starts_total",
			Help:      "Number of successful worker spawns.",
		}, []string{"search_id"},
	)
	searchSpawnFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "patrolmgr",
			Subsystem: "search",
			Name:      "spawn_failures_total",
			Help:      "Number of start attempts that failed to create a process.",
		}, []string{"search_id"},
	)
	searchExits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "patrolmgr",
			Subsystem: "search",
			Name:      "exits_total",
			Help:      "Number of worker exits by terminal status.",
		}, []string{"search_id", "status"},
	)
	resultsRecorded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "patrolmgr",
			Subsystem: "results",
			Name:      "recorded_total",
			Help:      "Number of discovered domains persisted.",
		}, []string{"search_id"},
	)
	admissionRejects = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "patrolmgr",
			Subsystem: "admission",
			Name:      "rejects_total",
			Help:      "Number of start requests rejected by the concurrency cap.",
		},
	)
	runningSearches = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "patrolmgr",
			Subsystem: "search",
			Name:      "running",
			Help:      "Current number of live searches holding admission slots.",
		},
	)
	stateTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "patrolmgr",
			Subsystem: "search",
			Name:      "state_transitions_total",
			Help:      "Number of state transitions between search statuses.",
		}, []string{"search_id", "from", "to"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{
		searchStarts, searchSpawnFailures, searchExits,
		resultsRecorded, admissionRejects, runningSearches, stateTransitions,
	}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
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

// Handler returns an http.Handler serving Prometheus metrics from the
// default gatherer.
func Handler() http.Handler { return promhttp.Handler() }

func id(searchID int64) string { return strconv.FormatInt(searchID, 10) }

func IncStart(searchID int64)        { searchStarts.WithLabelValues(id(searchID)).Inc() }
func IncSpawnFailure(searchID int64) { searchSpawnFailures.WithLabelValues(id(searchID)).Inc() }
func IncExit(searchID int64, status string) {
	searchExits.WithLabelValues(id(searchID), status).Inc()
}
func IncResult(searchID int64)  { resultsRecorded.WithLabelValues(id(searchID)).Inc() }
func IncAdmissionReject()       { admissionRejects.Inc() }
func SetRunning(n int)          { runningSearches.Set(float64(n)) }
func IncTransition(searchID int64, from, to string) {
	stateTransitions.WithLabelValues(id(searchID), from, to).Inc()
}
