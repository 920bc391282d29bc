// Package metrics exposes Prometheus collectors for plays, settlement,
// compliance decisions and HTTP traffic.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "sweeps_rgs"

// Label names
const (
	LabelMethod   = "method"
	LabelPath     = "path"
	LabelStatus   = "status"
	LabelGame     = "game"
	LabelCurrency = "currency"
	LabelResult   = "result"
	LabelReason   = "reason"
	LabelKind     = "kind"
)

// HTTPLatencyBuckets range from 1ms to 10s
var HTTPLatencyBuckets = []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10}

// HTTP metrics
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{LabelMethod, LabelPath, LabelStatus},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency in seconds",
			Buckets:   HTTPLatencyBuckets,
		},
		[]string{LabelMethod, LabelPath},
	)

	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "http_requests_in_flight",
			Help:      "Current number of HTTP requests being served",
		},
	)
)

// Game metrics
var (
	PlaysTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "plays_total",
			Help:      "Settled plays by game, currency and result",
		},
		[]string{LabelGame, LabelCurrency, LabelResult},
	)

	WageredTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "wagered_minor_units_total",
			Help:      "Amount debited for wagers in minor units",
		},
		[]string{LabelGame, LabelCurrency},
	)

	PaidTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "paid_minor_units_total",
			Help:      "Amount credited for wins in minor units",
		},
		[]string{LabelGame, LabelCurrency},
	)

	BigWinsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "big_wins_total",
			Help:      "Outcomes flagged as big wins",
		},
		[]string{LabelGame},
	)

	RoundsAborted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rounds_aborted_total",
			Help:      "Table rounds aborted and refunded",
		},
		[]string{LabelGame},
	)
)

// Settlement metrics
var (
	SettlementErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "settlement_errors_total",
			Help:      "Settlement failures by error kind",
		},
		[]string{LabelKind},
	)

	SettlementRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "settlement_retries_total",
			Help:      "Ledger applications retried after a transient failure",
		},
	)

	SettlementReplays = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "settlement_replays_total",
			Help:      "Requests answered from a previously applied idempotency key",
		},
	)

	SettlementDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "settlement_duration_seconds",
			Help:      "Time spent applying one settlement",
			Buckets:   HTTPLatencyBuckets,
		},
	)
)

// Compliance metrics
var (
	GateDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gate_decisions_total",
			Help:      "Location gate decisions by reason",
		},
		[]string{LabelResult, LabelReason},
	)

	RNGHealthy = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rng_healthy",
			Help:      "1 when the last RNG health check passed",
		},
	)
)

// Background job metrics
var JobRuns = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "job_runs_total",
		Help:      "Scheduled job executions by job and result",
	},
	[]string{"job", LabelResult},
)
