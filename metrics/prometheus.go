// Package metrics exports the monitor's Prometheus instruments.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Poll outcomes.
const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
	OutcomeStale = "stale"
)

var (
	// PollsTotal counts finished polls per endpoint and outcome
	PollsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aircomp_polls_total",
			Help: "Total number of controller polls by endpoint and outcome",
		},
		[]string{"endpoint", "outcome"},
	)

	// PollDuration measures controller round trips
	PollDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "aircomp_poll_duration_seconds",
			Help:    "Controller poll duration in seconds",
			Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"endpoint"},
	)

	// GuardDenials counts polls skipped because the previous one is outstanding
	GuardDenials = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aircomp_fetch_guard_denials_total",
			Help: "Total number of polls skipped by a locked fetch guard",
		},
		[]string{"guard"},
	)

	// GuardAborts counts requests aborted after the recovery interval
	GuardAborts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aircomp_fetch_guard_aborts_total",
			Help: "Total number of stalled requests released by a fetch guard",
		},
		[]string{"guard"},
	)

	// LateFetches counts state polls that missed the late interval
	LateFetches = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "aircomp_state_fetch_late_total",
			Help: "Total number of state polls overdue past the late interval",
		},
	)

	// CommandsTotal counts operator commands by endpoint and outcome
	CommandsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aircomp_commands_total",
			Help: "Total number of commands sent to the controller",
		},
		[]string{"endpoint", "outcome"},
	)

	// SeriesPoints is the length of the chart series
	SeriesPoints = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "aircomp_series_points",
			Help: "Number of points held in the chart series",
		},
	)

	// Annotations is the number of chart annotations
	Annotations = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "aircomp_annotations",
			Help: "Number of activity and command annotations",
		},
	)

	// CommunicationError is 1 while the controller is unreachable
	CommunicationError = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "aircomp_communication_error",
			Help: "1 while the last state poll failed",
		},
	)

	// TankPressure, LinePressure and Duty mirror the last state sample
	TankPressure = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "aircomp_tank_pressure_psi",
			Help: "Last reported tank pressure",
		},
	)

	LinePressure = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "aircomp_line_pressure_psi",
			Help: "Last reported line pressure",
		},
	)

	Duty = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "aircomp_duty_ratio",
			Help: "Last reported duty fraction",
		},
	)

	// RequestsTotal counts dashboard API requests
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aircomp_http_requests_total",
			Help: "Total number of dashboard API requests",
		},
		[]string{"route", "method", "status"},
	)

	// RequestDuration measures dashboard API requests
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "aircomp_http_request_duration_seconds",
			Help:    "Dashboard API request duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"route", "method"},
	)

	// ArchiveWrites counts series points archived to Firebase
	ArchiveWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aircomp_archive_points_total",
			Help: "Total number of series points written to the archive",
		},
		[]string{"outcome"},
	)
)

// UpdateStateMetrics mirrors a successful state sample.
func UpdateStateMetrics(tank, line, duty float64) {
	TankPressure.Set(tank)
	LinePressure.Set(line)
	Duty.Set(duty)
	CommunicationError.Set(0)
}
