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
			Namespace: "edgefetch",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total admin HTTP requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "edgefetch",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
	framesRead = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "edgefetch",
			Subsystem: "frame",
			Name:      "reads_total",
			Help:      "Client frames read, by verification result.",
		},
		[]string{"state", "result"},
	)
	sessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "edgefetch",
			Subsystem: "session",
			Name:      "active",
			Help:      "Currently connected sessions.",
		},
	)
	sessionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "edgefetch",
			Subsystem: "session",
			Name:      "accepted_total",
			Help:      "Accepted sessions.",
		},
	)
	transitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "edgefetch",
			Subsystem: "session",
			Name:      "transitions_total",
			Help:      "Session state transitions by target state.",
		},
		[]string{"to"},
	)
	commands = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "edgefetch",
			Subsystem: "command",
			Name:      "executed_total",
			Help:      "Executed download commands.",
		},
		[]string{"kind", "success"},
	)
	commandDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "edgefetch",
			Subsystem: "command",
			Name:      "duration_seconds",
			Help:      "Download command duration in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 5, 15, 60, 300},
		},
		[]string{"kind"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests,
			httpDuration,
			framesRead,
			sessionsActive,
			sessionsTotal,
			transitions,
			commands,
			commandDuration,
		)
	})
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}

// RecordFrame counts one frame read in state with result ok|checksum|parity|text|transport.
func RecordFrame(state, result string) {
	RegisterMetrics()
	framesRead.WithLabelValues(state, result).Inc()
}

func RecordSessionOpened() {
	RegisterMetrics()
	sessionsTotal.Inc()
	sessionsActive.Inc()
}

func RecordSessionClosed() {
	RegisterMetrics()
	sessionsActive.Dec()
}

func RecordTransition(to string) {
	RegisterMetrics()
	transitions.WithLabelValues(to).Inc()
}

func RecordCommand(kind string, success bool, duration time.Duration) {
	RegisterMetrics()
	commands.WithLabelValues(kind, strconv.FormatBool(success)).Inc()
	commandDuration.WithLabelValues(kind).Observe(duration.Seconds())
}
