// Package metrics exposes the monitor's own Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "logmon"

var (
	// AlertsEmitted counts alerts that entered the pipeline.
	AlertsEmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_emitted_total",
			Help:      "Total number of alerts emitted by category and severity.",
		},
		[]string{"category", "severity"},
	)

	DetectorCheckFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "detector_check_failures_total",
			Help:      "Total number of anomaly checks that could not run.",
		},
		[]string{"check"},
	)

	ObserversConnected = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "observers_connected",
			Help:      "Number of registered live observers.",
		},
	)

	ObserverSendFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "observer_send_failures_total",
			Help:      "Total number of failed observer deliveries; each one removes the observer.",
		},
	)

	NotifierFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifier_failures_total",
			Help:      "Total number of failed external notifications.",
		},
	)

	AlertStoreFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alert_store_failures_total",
			Help:      "Total number of alert records that could not be persisted.",
		},
	)

	// MonitorTickDurationSeconds is the wall time of one detection tick.
	MonitorTickDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "monitor_tick_duration_seconds",
			Help:      "Duration of one monitor tick in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~20s
		},
	)

	MonitorTickFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "monitor_tick_failures_total",
			Help:      "Total number of monitor ticks aborted by a panic.",
		},
	)

	HTTPRequestTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests by method, route, and status.",
		},
		[]string{"method", "route", "status"},
	)
)
