package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "tvremote"

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total admin HTTP requests.",
		},
		[]string{"service", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "method", "path", "status"},
	)
	sessionsActive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "remote",
			Name:      "sessions_active",
			Help:      "Open remoting sessions.",
		},
		[]string{"role"},
	)
	framesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "remote",
			Name:      "frames_total",
			Help:      "Frames moved over remoting sessions.",
		},
		[]string{"role", "direction", "type"},
	)
	frameBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "remote",
			Name:      "frame_bytes_total",
			Help:      "Payload bytes moved over remoting sessions.",
		},
		[]string{"role", "direction"},
	)
	broadcastFanout = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "remote",
			Name:      "broadcast_fanout",
			Help:      "Sessions reached by one property change or event.",
			Buckets:   []float64{0, 1, 2, 4, 8, 16, 32, 64},
		},
		[]string{"kind"},
	)
	staleReplies = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "remote",
			Name:      "stale_replies_total",
			Help:      "Replies dropped because no request was waiting.",
		},
		[]string{"role"},
	)
	pendingRequests = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "remote",
			Name:      "pending_requests",
			Help:      "Requests awaiting a reply.",
		},
		[]string{"role"},
	)
	requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "remote",
			Name:      "request_duration_seconds",
			Help:      "Round trip (client) or handler (server) time for set/invoke/query.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"role", "kind", "outcome"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests,
			httpDuration,
			sessionsActive,
			framesTotal,
			frameBytes,
			broadcastFanout,
			staleReplies,
			pendingRequests,
			requestDuration,
		)
	})
}

func RecordHTTPRequest(service, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(service, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(service, method, path, statusLabel).Observe(duration.Seconds())
}

func SessionOpened(role string) {
	RegisterMetrics()
	sessionsActive.WithLabelValues(role).Inc()
}

func SessionClosed(role string) {
	RegisterMetrics()
	sessionsActive.WithLabelValues(role).Dec()
}

func RecordFrame(role, direction, msgType string, payloadBytes int) {
	RegisterMetrics()
	framesTotal.WithLabelValues(role, direction, msgType).Inc()
	frameBytes.WithLabelValues(role, direction).Add(float64(payloadBytes))
}

func RecordBroadcast(kind string, fanout int) {
	RegisterMetrics()
	broadcastFanout.WithLabelValues(kind).Observe(float64(fanout))
}

func RecordStaleReply(role string) {
	RegisterMetrics()
	staleReplies.WithLabelValues(role).Inc()
}

func AddPending(role string, delta int) {
	RegisterMetrics()
	pendingRequests.WithLabelValues(role).Add(float64(delta))
}

func RecordRequest(role, kind string, duration time.Duration, err error) {
	RegisterMetrics()
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	requestDuration.WithLabelValues(role, kind, outcome).Observe(duration.Seconds())
}
