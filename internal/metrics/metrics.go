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

	recorderStarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "recpanel",
			Subsystem: "recorder",
			Name:      "starts_total",
			Help:      "Number of successful recorder starts.",
		}, []string{"name"},
	)
	recorderStops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "recpanel",
			Subsystem: "recorder",
			Name:      "stops_total",
			Help:      "Number of requested stops by outcome (graceful or forced).",
		}, []string{"name", "mode"},
	)
	unexpectedExits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "recpanel",
			Subsystem: "recorder",
			Name:      "unexpected_exits_total",
			Help:      "Number of times the recorder ended without a stop request.",
		}, []string{"name"},
	)
	spawnFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "recpanel",
			Subsystem: "recorder",
			Name:      "spawn_failures_total",
			Help:      "Number of failed recorder launches.",
		}, []string{"name"},
	)
	outputLines = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "recpanel",
			Subsystem: "relay",
			Name:      "lines_total",
			Help:      "Number of output lines relayed to the log view.",
		}, []string{"name"},
	)
	readErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "recpanel",
			Subsystem: "relay",
			Name:      "read_errors_total",
			Help:      "Number of output streams that failed mid-read.",
		}, []string{"name"},
	)
	stopDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "recpanel",
			Subsystem: "recorder",
			Name:      "stop_duration_seconds",
			Help:      "Time from stop request until the recorder was gone.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 3, 5, 10},
		}, []string{"name"},
	)
	stateTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "recpanel",
			Subsystem: "recorder",
			Name:      "state_transitions_total",
			Help:      "Number of state transitions between recorder states.",
		}, []string{"name", "from", "to"},
	)
	currentStates = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "recpanel",
			Subsystem: "recorder",
			Name:      "current_state",
			Help:      "Current recorder state (1 = active state, 0 = inactive).",
		}, []string{"name", "state"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{recorderStarts, recorderStops, unexpectedExits, spawnFailures, outputLines, readErrors, stopDuration, stateTransitions, currentStates}
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

// Handler returns an http.Handler that serves Prometheus metrics for the DefaultGatherer.
func Handler() http.Handler { return promhttp.Handler() }

// HandlerFor serves metrics from a specific gatherer.
func HandlerFor(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

func IncStart(name string) {
	if regOK.Load() {
		recorderStarts.WithLabelValues(name).Inc()
	}
}

func IncStop(name string, forced bool) {
	if regOK.Load() {
		mode := "graceful"
		if forced {
			mode = "forced"
		}
		recorderStops.WithLabelValues(name, mode).Inc()
	}
}

func IncUnexpectedExit(name string) {
	if regOK.Load() {
		unexpectedExits.WithLabelValues(name).Inc()
	}
}

func IncSpawnFailure(name string) {
	if regOK.Load() {
		spawnFailures.WithLabelValues(name).Inc()
	}
}

func IncOutputLine(name string) {
	if regOK.Load() {
		outputLines.WithLabelValues(name).Inc()
	}
}

func IncReadError(name string) {
	if regOK.Load() {
		readErrors.WithLabelValues(name).Inc()
	}
}

func ObserveStopDuration(name string, seconds float64) {
	if regOK.Load() {
		stopDuration.WithLabelValues(name).Observe(seconds)
	}
}

func RecordStateTransition(name, from, to string) {
	if regOK.Load() {
		stateTransitions.WithLabelValues(name, from, to).Inc()
	}
}

// SetCurrentState marks state as the active one among states.
func SetCurrentState(name, state string, states ...string) {
	if !regOK.Load() {
		return
	}
	for _, s := range states {
		var v float64
		if s == state {
			v = 1
		}
		currentStates.WithLabelValues(name, s).Set(v)
	}
}
