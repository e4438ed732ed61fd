// Package metrics holds the Prometheus collectors for meinHeim Core.
// They register on the default registry and are served at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meinheim_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "meinheim_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "route"},
	)

	// Hardware metrics
	SocketSwitchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meinheim_socket_switches_total",
			Help: "Socket commands sent to the remote switch bricklet",
		},
		[]string{"socket", "state", "result"}, // result: ok, error
	)

	SensorReadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meinheim_sensor_reads_total",
			Help: "Sensor reads by kind and result",
		},
		[]string{"kind", "result"}, // kind: illuminance, distance
	)

	SensorValue = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "meinheim_sensor_value",
			Help: "Last successful sensor reading",
		},
		[]string{"uid", "kind"},
	)

	DevicesConnected = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "meinheim_devices_connected",
			Help: "Devices currently in the enumeration map",
		},
	)

	// Rule metrics
	RuleRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meinheim_rule_runs_total",
			Help: "Rule logic invocations",
		},
		[]string{"rule", "result"}, // result: ok, error
	)

	RuleActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "meinheim_rule_active",
			Help: "1 while the rule's background task is running",
		},
		[]string{"rule"},
	)

	// Transit metrics
	TransitFetchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meinheim_transit_fetches_total",
			Help: "BVG departure lookups by result",
		},
		[]string{"result"}, // result: ok, unknown_station, no_table, error
	)
)
