package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	requests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gatesql",
			Subsystem: "gateway",
			Name:      "requests_total",
			Help:      "Total dispatched requests.",
		},
		[]string{"action", "success"},
	)
	requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "gatesql",
			Subsystem: "gateway",
			Name:      "request_duration_seconds",
			Help:      "Request dispatch duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"action", "success"},
	)
	dbConnects = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gatesql",
			Subsystem: "db",
			Name:      "connects_total",
			Help:      "Database connection attempts.",
		},
		[]string{"driver", "success"},
	)
	dbConnectDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "gatesql",
			Subsystem: "db",
			Name:      "connect_duration_seconds",
			Help:      "Database handshake duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"driver", "success"},
	)
	connsAccepted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "gatesql",
			Subsystem: "gateway",
			Name:      "connections_accepted_total",
			Help:      "Accepted client connections.",
		},
	)
	connsOpen = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "gatesql",
			Subsystem: "gateway",
			Name:      "connections_open",
			Help:      "Currently open client connections.",
		},
	)
	connsFailed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gatesql",
			Subsystem: "gateway",
			Name:      "connections_failed_total",
			Help:      "Connections closed by protocol-fatal errors.",
		},
		[]string{"reason"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			requests, requestDuration,
			dbConnects, dbConnectDuration,
			connsAccepted, connsOpen, connsFailed,
		)
	})
}

func RecordRequest(action string, success bool, duration time.Duration) {
	RegisterMetrics()
	label := strconv.FormatBool(success)
	requests.WithLabelValues(action, label).Inc()
	requestDuration.WithLabelValues(action, label).Observe(duration.Seconds())
}

func RecordDBConnect(driver string, success bool, duration time.Duration) {
	RegisterMetrics()
	label := strconv.FormatBool(success)
	dbConnects.WithLabelValues(driver, label).Inc()
	dbConnectDuration.WithLabelValues(driver, label).Observe(duration.Seconds())
}

func ConnAccepted() {
	RegisterMetrics()
	connsAccepted.Inc()
	connsOpen.Inc()
}

func ConnClosed() {
	RegisterMetrics()
	connsOpen.Dec()
}

func ConnFailed(reason string) {
	RegisterMetrics()
	connsFailed.WithLabelValues(reason).Inc()
}
