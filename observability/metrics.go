package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type ledgerMetrics struct {
	operations *prometheus.CounterVec
	latency    *prometheus.HistogramVec
	credited   *prometheus.CounterVec
	debited    prometheus.Counter
}

type httpMetrics struct {
	requests  *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
	streams   prometheus.Gauge
}

var (
	ledgerMetricsOnce sync.Once
	ledgerRegistry    *ledgerMetrics

	httpMetricsOnce sync.Once
	httpRegistry    *httpMetrics
)

// LedgerMetrics returns the lazily-initialised registry for ledger operations.
// It satisfies rewards.Observer.
func LedgerMetrics() *ledgerMetrics {
	ledgerMetricsOnce.Do(func() {
		ledgerRegistry = &ledgerMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "aqualedger",
				Subsystem: "ledger",
				Name:      "operations_total",
				Help:      "Ledger operations segmented by operation and outcome code.",
			}, []string{"operation", "outcome"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "aqualedger",
				Subsystem: "ledger",
				Name:      "operation_duration_seconds",
				Help:      "Latency distribution for ledger operations including lock waits.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"operation"}),
			credited: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "aqualedger",
				Subsystem: "ledger",
				Name:      "points_credited_total",
				Help:      "Reward points credited segmented by credit kind.",
			}, []string{"kind"}),
			debited: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "aqualedger",
				Subsystem: "ledger",
				Name:      "points_spent_total",
				Help:      "Reward points debited by spends.",
			}),
		}
		prometheus.MustRegister(
			ledgerRegistry.operations,
			ledgerRegistry.latency,
			ledgerRegistry.credited,
			ledgerRegistry.debited,
		)
	})
	return ledgerRegistry
}

var creditKinds = map[string]string{
	"CreditEventCompletion": "event_completion",
	"CreditImageUpload":     "image_upload",
	"GrantAchievement":      "achievement",
}

// ObserveOperation records one ledger call. Amounts are only counted for
// successful balance mutations.
func (m *ledgerMetrics) ObserveOperation(op, code string, amount uint64, elapsed time.Duration) {
	if m == nil {
		return
	}
	if op == "" {
		op = "unknown"
	}
	m.operations.WithLabelValues(op, code).Inc()
	m.latency.WithLabelValues(op).Observe(elapsed.Seconds())
	if code != "ok" || amount == 0 {
		return
	}
	if kind, ok := creditKinds[op]; ok {
		m.credited.WithLabelValues(kind).Add(float64(amount))
		return
	}
	if op == "Spend" {
		m.debited.Add(float64(amount))
	}
}

// HTTP returns the registry for the ledgerd HTTP surface.
func HTTP() *httpMetrics {
	httpMetricsOnce.Do(func() {
		httpRegistry = &httpMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "aqualedger",
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "HTTP requests segmented by route pattern, method and status code.",
			}, []string{"route", "method", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "aqualedger",
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for HTTP handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"route", "method"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "aqualedger",
				Subsystem: "http",
				Name:      "throttles_total",
				Help:      "Requests rejected by rate limiting.",
			}, []string{"reason"}),
			streams: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "aqualedger",
				Subsystem: "http",
				Name:      "stream_subscribers",
				Help:      "Open websocket event stream subscribers.",
			}),
		}
		prometheus.MustRegister(
			httpRegistry.requests,
			httpRegistry.latency,
			httpRegistry.throttles,
			httpRegistry.streams,
		)
	})
	return httpRegistry
}

// Observe records the outcome of a request. route should be the router
// pattern, not the raw path, to keep cardinality bounded.
func (m *httpMetrics) Observe(route, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unmatched"
	}
	m.requests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.latency.WithLabelValues(route, method).Observe(duration.Seconds())
}

// RecordThrottle increments the throttle counter. Reasons should be stable
// strings such as "rate_limit".
func (m *httpMetrics) RecordThrottle(reason string) {
	if m == nil {
		return
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.throttles.WithLabelValues(reason).Inc()
}

// StreamOpened and StreamClosed track websocket subscribers.
func (m *httpMetrics) StreamOpened() {
	if m != nil {
		m.streams.Inc()
	}
}

func (m *httpMetrics) StreamClosed() {
	if m != nil {
		m.streams.Dec()
	}
}
