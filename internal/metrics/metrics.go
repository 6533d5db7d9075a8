package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// RecordLatency is how long a single record takes to process, including
	// any cascading flush.
	RecordLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "traceloader_record_latency_seconds",
		Help:    "Per record processing latency in seconds",
		Buckets: []float64{0.001, 0.01, 0.1, 1, 5, 30},
	}, []string{"event"})

	// FlushDuration is the wall time of a hard flush.
	FlushDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "traceloader_flush_duration_seconds",
		Help:    "Hard flush duration in seconds",
		Buckets: []float64{0.01, 0.1, 1, 5, 10, 60},
	})

	// FlushSize is the number of buffered rows committed per flush.
	FlushSize = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "traceloader_flush_rows",
		Help:    "Rows committed per hard flush",
		Buckets: []float64{1, 10, 100, 500, 1000, 5000},
	})

	// Reconnects counts storage reconnection attempts.
	Reconnects = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "traceloader_reconnect_count",
		Help: "Number of storage reconnection attempts",
	})

	// UnhandledEvents counts records dropped for lack of a handler.
	UnhandledEvents = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "traceloader_unhandled_event_count",
		Help: "Number of records dropped because no handler matched their event tag",
	})
)

func init() {
	prometheus.MustRegister(
		RecordLatency,
		FlushDuration,
		FlushSize,
		Reconnects,
		UnhandledEvents,
	)
}
