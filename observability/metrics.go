package observability

import (
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "plend"

type httpMetrics struct {
	requests  *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

var (
	httpMetricsOnce sync.Once
	httpRegistry    *httpMetrics

	lendingMetricsOnce sync.Once
	lendingRegistry    *LendingMetrics
)

// HTTP returns the lazily-initialised registry recording API activity.
func HTTP() *httpMetrics {
	httpMetricsOnce.Do(func() {
		httpRegistry = &httpMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total API requests segmented by route and status code.",
			}, []string{"route", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for API handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"route"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "throttles_total",
				Help:      "Requests rejected by throttling policies.",
			}, []string{"reason"}),
		}
		prometheus.MustRegister(httpRegistry.requests, httpRegistry.latency, httpRegistry.throttles)
	})
	return httpRegistry
}

// Observe records the status ultimately written for route.
func (m *httpMetrics) Observe(route string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unknown"
	}
	m.requests.WithLabelValues(route, strconv.Itoa(status)).Inc()
	m.latency.WithLabelValues(route).Observe(duration.Seconds())
}

// RecordThrottle counts a rejected request. Reasons should be stable strings
// such as "rate_limit" or "unauthenticated".
func (m *httpMetrics) RecordThrottle(reason string) {
	if m == nil {
		return
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.throttles.WithLabelValues(reason).Inc()
}

// LendingMetrics tracks lending state transitions and the value they move.
type LendingMetrics struct {
	operations *prometheus.CounterVec
	volume     *prometheus.CounterVec
	activeLoan prometheus.Gauge
	openOffers prometheus.Gauge
}

// Lending returns the lazily-initialised lending registry.
func Lending() *LendingMetrics {
	lendingMetricsOnce.Do(func() {
		lendingRegistry = &LendingMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "lending",
				Name:      "operations_total",
				Help:      "Lending operations segmented by operation and failure reason.",
			}, []string{"operation", "result"}),
			volume: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "lending",
				Name:      "volume_total",
				Help:      "Base units moved by lending flows segmented by flow and asset.",
			}, []string{"flow", "asset"}),
			activeLoan: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "lending",
				Name:      "active_loans",
				Help:      "Loans currently open.",
			}),
			openOffers: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "lending",
				Name:      "open_offers",
				Help:      "Offers currently accepting borrowers.",
			}),
		}
		prometheus.MustRegister(
			lendingRegistry.operations,
			lendingRegistry.volume,
			lendingRegistry.activeLoan,
			lendingRegistry.openOffers,
		)
	})
	return lendingRegistry
}

// ObserveOperation records an operation outcome. result is "ok" or the typed
// failure name.
func (m *LendingMetrics) ObserveOperation(operation, result string) {
	if m == nil {
		return
	}
	if result == "" {
		result = "ok"
	}
	m.operations.WithLabelValues(operation, result).Inc()
}

// AddVolume adds amount base units of asset to flow, e.g. "originated",
// "repaid" or "seized".
func (m *LendingMetrics) AddVolume(flow, asset string, amount uint64) {
	if m == nil || amount == 0 {
		return
	}
	m.volume.WithLabelValues(flow, labelAsset(asset)).Add(float64(amount))
}

// SetBook publishes the current count of open offers and active loans.
func (m *LendingMetrics) SetBook(openOffers, activeLoans int) {
	if m == nil {
		return
	}
	m.openOffers.Set(float64(openOffers))
	m.activeLoan.Set(float64(activeLoans))
}

func labelAsset(asset string) string {
	normalized := strings.ToUpper(strings.TrimSpace(asset))
	if normalized == "" {
		return "UNKNOWN"
	}
	return normalized
}
