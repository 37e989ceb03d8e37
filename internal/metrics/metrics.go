// Package metrics holds the Prometheus collectors of the service.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	SessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "padlink_sessions_active",
			Help: "Number of live controller sessions",
		},
	)

	Admissions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "padlink_admissions_total",
			Help: "Admission attempts by result",
		},
		[]string{"result"},
	)

	EventsHandled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "padlink_events_handled_total",
			Help: "Input events dispatched to a controller, by kind",
		},
		[]string{"kind"},
	)

	EventsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "padlink_events_dropped_total",
			Help: "Input events dropped before reaching a controller, by reason",
		},
		[]string{"reason"},
	)

	DeviceErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "padlink_device_errors_total",
			Help: "Failed virtual device calls, by operation",
		},
		[]string{"op"},
	)

	Vibrations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "padlink_vibrations_total",
			Help: "Vibration effects scheduled",
		},
	)
)

// Admission results.
const (
	ResultAdmitted  = "admitted"
	ResultCapacity  = "capacity"
	ResultResources = "resources"
	ResultDevice    = "device"
)

// Drop reasons.
const (
	DropDebounced      = "debounced"
	DropQueueFull      = "queue_full"
	DropUnknownSession = "unknown_session"
	DropInvalid        = "invalid"
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
