package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bluetrace",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "bluetrace",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
	payloadsDecoded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bluetrace",
			Subsystem: "payload",
			Name:      "decoded_total",
			Help:      "Payloads decoded by protocol and format.",
		},
		[]string{"protocol", "format"},
	)
	payloadsRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bluetrace",
			Subsystem: "payload",
			Name:      "rejected_total",
			Help:      "Payloads dropped because they failed to decode.",
		},
		[]string{"component", "protocol"},
	)
	encounterSaves = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bluetrace",
			Subsystem: "encounter",
			Name:      "saves_total",
			Help:      "Encounter record saves by outcome.",
		},
		[]string{"success"},
	)
	sinkFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bluetrace",
			Subsystem: "router",
			Name:      "sink_failures_total",
			Help:      "Fan-out sink calls that returned an error or panicked.",
		},
		[]string{"event"},
	)
	sensorEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bluetrace",
			Subsystem: "sensor",
			Name:      "events_total",
			Help:      "Sensor events delivered to instrumentation.",
		},
		[]string{"sensor", "event"},
	)
	tempIDRefreshes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bluetrace",
			Subsystem: "tempid",
			Name:      "refreshes_total",
			Help:      "Temp-id refresh ticks by outcome.",
		},
		[]string{"outcome"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests,
			httpDuration,
			payloadsDecoded,
			payloadsRejected,
			encounterSaves,
			sinkFailures,
			sensorEvents,
			tempIDRefreshes,
		)
	})
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}

func RecordPayloadDecoded(protocol, format string) {
	RegisterMetrics()
	payloadsDecoded.WithLabelValues(protocol, format).Inc()
}

func RecordPayloadRejected(component, protocol string) {
	RegisterMetrics()
	payloadsRejected.WithLabelValues(component, protocol).Inc()
}

func RecordEncounterSave(success bool) {
	RegisterMetrics()
	encounterSaves.WithLabelValues(strconv.FormatBool(success)).Inc()
}

func RecordSinkFailure(event string) {
	RegisterMetrics()
	sinkFailures.WithLabelValues(event).Inc()
}

func RecordSensorEvent(sensor, event string) {
	RegisterMetrics()
	sensorEvents.WithLabelValues(sensor, event).Inc()
}

func RecordTempIDRefresh(outcome string) {
	RegisterMetrics()
	tempIDRefreshes.WithLabelValues(outcome).Inc()
}
