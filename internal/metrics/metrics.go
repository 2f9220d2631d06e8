package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "cloudsync"

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	starts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "supervisor",
			Name:      "starts_total",
			Help:      "Start attempts by result (ready, failed, stopped, rejected).",
		}, []string{"result"},
	)
	stops = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "supervisor",
			Name:      "stops_total",
			Help:      "Stops that terminated a running backend.",
		},
	)
	exits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backend",
			Name:      "exits_total",
			Help:      "Backend exits not requested by Stop, by the state they interrupted.",
		}, []string{"during"},
	)
	healthAttempts = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "attempts",
			Help:      "Probes used by a health poll.",
			Buckets:   []float64{1, 2, 3, 5, 8, 12, 16, 20},
		},
	)
	readySeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "supervisor",
			Name:      "ready_seconds",
			Help:      "Time from Start to Ready.",
			Buckets:   []float64{0.5, 1, 2, 3, 5, 8, 13, 21, 34},
		},
	)
	stateTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "supervisor",
			Name:      "state_transitions_total",
			Help:      "Supervisor state transitions.",
		}, []string{"from", "to"},
	)
	currentState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "supervisor",
			Name:      "current_state",
			Help:      "1 for the current supervisor state, 0 otherwise.",
		}, []string{"state"},
	)
	backendCPU = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "backend",
			Name:      "cpu_percent",
			Help:      "CPU usage of the running backend.",
		},
	)
	backendRSS = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "backend",
			Name:      "memory_rss_bytes",
			Help:      "Resident memory of the running backend.",
		},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{starts, stops, exits, healthAttempts, readySeconds, stateTransitions, currentState, backendCPU, backendRSS}
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

// Handler serves the DefaultGatherer.
func Handler() http.Handler { return promhttp.Handler() }

// The helpers below no-op until Register has been called.

func IncStart(result string) {
	if regOK.Load() {
		starts.WithLabelValues(result).Inc()
	}
}

func IncStop() {
	if regOK.Load() {
		stops.Inc()
	}
}

func IncExit(during string) {
	if regOK.Load() {
		exits.WithLabelValues(during).Inc()
	}
}

func ObserveHealthAttempts(n int) {
	if regOK.Load() {
		healthAttempts.Observe(float64(n))
	}
}

func ObserveReady(seconds float64) {
	if regOK.Load() {
		readySeconds.Observe(seconds)
	}
}

// RecordTransition counts from→to and moves the current-state gauge.
func RecordTransition(from, to string) {
	if !regOK.Load() {
		return
	}
	stateTransitions.WithLabelValues(from, to).Inc()
	currentState.WithLabelValues(from).Set(0)
	currentState.WithLabelValues(to).Set(1)
}

func SetBackendUsage(cpuPercent float64, rss uint64) {
	if regOK.Load() {
		backendCPU.Set(cpuPercent)
		backendRSS.Set(float64(rss))
	}
}
