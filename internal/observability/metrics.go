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
			Namespace: "gema",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "gema",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
	operationRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gema",
			Subsystem: "subgraph",
			Name:      "operation_requests_total",
			Help:      "Subgraph operation requests by operation and outcome.",
		},
		[]string{"node", "operation", "kind", "outcome"},
	)
	operationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "gema",
			Subsystem: "subgraph",
			Name:      "operation_duration_seconds",
			Help:      "Subgraph operation duration in seconds; streams report their lifetime.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "operation", "kind"},
	)
	mutations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gema",
			Subsystem: "subgraph",
			Name:      "mutations_total",
			Help:      "Counter mutations applied locally.",
		},
		[]string{"profile"},
	)
	counterValue = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "gema",
			Subsystem: "subgraph",
			Name:      "value",
			Help:      "Current counter value of record.",
		},
		[]string{"profile"},
	)
	subscribers = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "gema",
			Subsystem: "fanout",
			Name:      "subscribers",
			Help:      "Attached local subscribers.",
		},
		[]string{"profile"},
	)
	subscriberDisconnects = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gema",
			Subsystem: "fanout",
			Name:      "overflow_disconnects_total",
			Help:      "Subscribers disconnected for falling behind.",
		},
		[]string{"profile"},
	)
	busSends = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gema",
			Subsystem: "bus",
			Name:      "sends_total",
			Help:      "Bus publish attempts by result.",
		},
		[]string{"profile", "result"},
	)
	busConnects = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gema",
			Subsystem: "bus",
			Name:      "connects_total",
			Help:      "Bus connections established.",
		},
		[]string{"profile"},
	)
	remoteUpdates = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gema",
			Subsystem: "bus",
			Name:      "remote_updates_total",
			Help:      "Inbound sibling updates by outcome.",
		},
		[]string{"profile", "outcome"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests,
			httpDuration,
			operationRequests,
			operationDuration,
			mutations,
			counterValue,
			subscribers,
			subscriberDisconnects,
			busSends,
			busConnects,
			remoteUpdates,
		)
	})
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}

func RecordOperation(node, operation, kind, outcome string, duration time.Duration) {
	RegisterMetrics()
	operationRequests.WithLabelValues(node, operation, kind, outcome).Inc()
	operationDuration.WithLabelValues(node, operation, kind).Observe(duration.Seconds())
}

func RecordMutation(profile string, value int64) {
	RegisterMetrics()
	mutations.WithLabelValues(profile).Inc()
	counterValue.WithLabelValues(profile).Set(float64(value))
}

func RecordValue(profile string, value int64) {
	RegisterMetrics()
	counterValue.WithLabelValues(profile).Set(float64(value))
}

func RecordSubscribers(profile string, n int) {
	RegisterMetrics()
	subscribers.WithLabelValues(profile).Set(float64(n))
}

func RecordSubscriberDisconnect(profile string) {
	RegisterMetrics()
	subscriberDisconnects.WithLabelValues(profile).Inc()
}

func RecordBusSend(profile, result string) {
	RegisterMetrics()
	busSends.WithLabelValues(profile, result).Inc()
}

func RecordBusConnect(profile string) {
	RegisterMetrics()
	busConnects.WithLabelValues(profile).Inc()
}

func RecordRemoteUpdate(profile, outcome string) {
	RegisterMetrics()
	remoteUpdates.WithLabelValues(profile, outcome).Inc()
}
