package observability

import (
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type apiMetrics struct {
	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

// CustodyMetrics tracks purchase, claim and oracle activity of the custody
// engines.
type CustodyMetrics struct {
	purchased   prometheus.Counter
	payments    prometheus.Counter
	claimed     prometheus.Counter
	rejections  *prometheus.CounterVec
	oracleAge   prometheus.Gauge
	oracleFetch *prometheus.CounterVec
	reconDrift  *prometheus.GaugeVec
}

var (
	apiMetricsOnce sync.Once
	apiRegistry    *apiMetrics

	custodyMetricsOnce sync.Once
	custodyRegistry    *CustodyMetrics
)

// API returns the lazily-initialised HTTP API metrics registry.
func API() *apiMetrics {
	apiMetricsOnce.Do(func() {
		apiRegistry = &apiMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "vestvault",
				Subsystem: "api",
				Name:      "requests_total",
				Help:      "Total API requests segmented by route and outcome.",
			}, []string{"route", "method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "vestvault",
				Subsystem: "api",
				Name:      "errors_total",
				Help:      "Total API errors segmented by route and error code.",
			}, []string{"route", "code"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "vestvault",
				Subsystem: "api",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for API handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"route", "method"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "vestvault",
				Subsystem: "api",
				Name:      "throttles_total",
				Help:      "Count of API requests rejected by the rate limiter.",
			}, []string{"route"}),
		}
		prometheus.MustRegister(
			apiRegistry.requests,
			apiRegistry.errors,
			apiRegistry.latency,
			apiRegistry.throttles,
		)
	})
	return apiRegistry
}

// Observe records the outcome of a request. The status should be the HTTP
// status that was ultimately written.
func (m *apiMetrics) Observe(route, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unknown"
	}
	outcome := "success"
	if status >= 400 {
		outcome = "error"
	}
	m.requests.WithLabelValues(route, method, outcome).Inc()
	m.latency.WithLabelValues(route, method).Observe(duration.Seconds())
	if status >= 500 {
		m.errors.WithLabelValues(route, fmt.Sprintf("http_%d", status)).Inc()
	}
}

// RecordError counts a domain error code returned by route.
func (m *apiMetrics) RecordError(route, code string) {
	if m == nil {
		return
	}
	if code == "" {
		code = "internal"
	}
	m.errors.WithLabelValues(route, code).Inc()
}

// RecordThrottle increments the throttle counter for route.
func (m *apiMetrics) RecordThrottle(route string) {
	if m == nil {
		return
	}
	m.throttles.WithLabelValues(route).Inc()
}

// Custody returns the custody engine metrics registry.
func Custody() *CustodyMetrics {
	custodyMetricsOnce.Do(func() {
		custodyRegistry = &CustodyMetrics{
			purchased: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "vestvault",
				Subsystem: "presale",
				Name:      "tokens_sold_total",
				Help:      "Raw token units released by presale purchases.",
			}),
			payments: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "vestvault",
				Subsystem: "presale",
				Name:      "payments_total",
				Help:      "Native currency collected by presale purchases.",
			}),
			claimed: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "vestvault",
				Subsystem: "vesting",
				Name:      "tokens_claimed_total",
				Help:      "Raw token units released by vesting claims.",
			}),
			rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "vestvault",
				Subsystem: "custody",
				Name:      "rejections_total",
				Help:      "Rejected custody operations segmented by operation and error code.",
			}, []string{"operation", "code"}),
			oracleAge: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "vestvault",
				Subsystem: "oracle",
				Name:      "price_age_seconds",
				Help:      "Age of the most recently ingested oracle price.",
			}),
			oracleFetch: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "vestvault",
				Subsystem: "oracle",
				Name:      "fetches_total",
				Help:      "Oracle poll attempts segmented by outcome.",
			}, []string{"outcome"}),
			reconDrift: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "vestvault",
				Subsystem: "recon",
				Name:      "drift_units",
				Help:      "Difference between tracked and held token units per account kind.",
			}, []string{"kind"}),
		}
		prometheus.MustRegister(
			custodyRegistry.purchased,
			custodyRegistry.payments,
			custodyRegistry.claimed,
			custodyRegistry.rejections,
			custodyRegistry.oracleAge,
			custodyRegistry.oracleFetch,
			custodyRegistry.reconDrift,
		)
	})
	return custodyRegistry
}

func (m *CustodyMetrics) RecordPurchase(tokens, payment uint64) {
	if m == nil {
		return
	}
	m.purchased.Add(float64(tokens))
	m.payments.Add(float64(payment))
}

func (m *CustodyMetrics) RecordClaim(amount int64) {
	if m == nil || amount <= 0 {
		return
	}
	m.claimed.Add(float64(amount))
}

func (m *CustodyMetrics) RecordRejection(operation, code string) {
	if m == nil {
		return
	}
	m.rejections.WithLabelValues(operation, code).Inc()
}

// RecordOracleFetch records a poll outcome and, on success, the age of the
// ingested price.
func (m *CustodyMetrics) RecordOracleFetch(ok bool, age time.Duration) {
	if m == nil {
		return
	}
	if !ok {
		m.oracleFetch.WithLabelValues("error").Inc()
		return
	}
	m.oracleFetch.WithLabelValues("success").Inc()
	m.oracleAge.Set(age.Seconds())
}

func (m *CustodyMetrics) SetReconDrift(kind string, drift float64) {
	if m == nil {
		return
	}
	m.reconDrift.WithLabelValues(kind).Set(drift)
}
