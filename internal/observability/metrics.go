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
			Namespace: "chatlink",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total status server HTTP requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "chatlink",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Status server HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
	messagesSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chatlink",
			Subsystem: "session",
			Name:      "messages_sent_total",
			Help:      "Outbound protocol messages by pathname.",
		},
		[]string{"pathname"},
	)
	messagesReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chatlink",
			Subsystem: "session",
			Name:      "messages_received_total",
			Help:      "Inbound protocol messages by pathname.",
		},
		[]string{"pathname"},
	)
	decodeDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "chatlink",
			Subsystem: "session",
			Name:      "decode_dropped_total",
			Help:      "Inbound fragments dropped as malformed.",
		},
	)
	requestsSettled = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chatlink",
			Subsystem: "session",
			Name:      "requests_settled_total",
			Help:      "Correlated requests by pathname and outcome.",
		},
		[]string{"pathname", "outcome"},
	)
	requestLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "chatlink",
			Subsystem: "session",
			Name:      "request_latency_seconds",
			Help:      "Round-trip time between a correlated send and its reply.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"pathname"},
	)
	stateTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chatlink",
			Subsystem: "session",
			Name:      "state_transitions_total",
			Help:      "Session state transitions.",
		},
		[]string{"from", "to"},
	)
	noticeCycles = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "chatlink",
			Subsystem: "notice",
			Name:      "cycles_total",
			Help:      "Notification aggregation runs.",
		},
	)
	noticeAlerts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chatlink",
			Subsystem: "notice",
			Name:      "alerts_total",
			Help:      "Alerts raised by kind.",
		},
		[]string{"kind"},
	)
	cacheEvictions = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "chatlink",
			Subsystem: "chatcache",
			Name:      "evictions_total",
			Help:      "Conversation cache entries cleaned after expiry.",
		},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests, httpDuration,
			messagesSent, messagesReceived, decodeDropped,
			requestsSettled, requestLatency, stateTransitions,
			noticeCycles, noticeAlerts, cacheEvictions,
		)
	})
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}

func RecordMessageSent(pathname string) {
	RegisterMetrics()
	messagesSent.WithLabelValues(pathname).Inc()
}

func RecordMessageReceived(pathname string) {
	RegisterMetrics()
	messagesReceived.WithLabelValues(pathname).Inc()
}

func RecordDecodeDropped(n int) {
	if n <= 0 {
		return
	}
	RegisterMetrics()
	decodeDropped.Add(float64(n))
}

func RecordRequestSettled(pathname, outcome string) {
	RegisterMetrics()
	requestsSettled.WithLabelValues(pathname, outcome).Inc()
}

func RecordRequestLatency(pathname string, d time.Duration) {
	RegisterMetrics()
	requestLatency.WithLabelValues(pathname).Observe(d.Seconds())
}

func RecordStateTransition(from, to string) {
	RegisterMetrics()
	stateTransitions.WithLabelValues(from, to).Inc()
}

func RecordNoticeCycle() {
	RegisterMetrics()
	noticeCycles.Inc()
}

func RecordNoticeAlert(kind string) {
	RegisterMetrics()
	noticeAlerts.WithLabelValues(kind).Inc()
}

func RecordCacheEvictions(n int) {
	if n <= 0 {
		return
	}
	RegisterMetrics()
	cacheEvictions.Add(float64(n))
}
