// internal/observability/metrics.go
package observability

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the service's Prometheus collectors.
type Metrics struct {
	// HTTP
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Billing
	PaymentsInitiatedTotal *prometheus.CounterVec
	PaymentsSettledTotal   *prometheus.CounterVec
	WebhooksTotal          *prometheus.CounterVec
	GatewayDuration        *prometheus.HistogramVec
	NetPayableMinor        *prometheus.HistogramVec

	// Memberships
	MembershipsActivatedTotal prometheus.Counter
	MembershipsExpiredTotal   prometheus.Counter
}

// NewMetrics creates and registers all collectors on registry.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "inspecto_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "inspecto_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		PaymentsInitiatedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "inspecto_payments_initiated_total",
				Help: "Payment intents recorded, by provider and outcome",
			},
			[]string{"provider", "outcome"},
		),
		PaymentsSettledTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "inspecto_payments_settled_total",
				Help: "Payments moved out of pending by a provider callback",
			},
			[]string{"provider", "status"},
		),
		WebhooksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "inspecto_webhooks_total",
				Help: "Provider callbacks received, by outcome",
			},
			[]string{"provider", "outcome"},
		),
		GatewayDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "inspecto_gateway_call_duration_seconds",
				Help:    "Checkout creation latency per provider",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"provider"},
		),
		NetPayableMinor: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "inspecto_net_payable_minor",
				Help:    "Net payable of initiated payments in minor units",
				Buckets: prometheus.ExponentialBuckets(100, 4, 8),
			},
			[]string{"currency"},
		),

		MembershipsActivatedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "inspecto_memberships_activated_total",
			Help: "Memberships granted or renewed by a successful payment",
		}),
		MembershipsExpiredTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "inspecto_memberships_expired_total",
			Help: "Memberships archived by the expiry sweep",
		}),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.PaymentsInitiatedTotal,
		m.PaymentsSettledTotal,
		m.WebhooksTotal,
		m.GatewayDuration,
		m.NetPayableMinor,
		m.MembershipsActivatedTotal,
		m.MembershipsExpiredTotal,
	)

	return m
}

// ObserveInitiate records a payment intent attempt.
func (m *Metrics) ObserveInitiate(provider, currency string, netPayable int64, took time.Duration, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	} else {
		m.NetPayableMinor.WithLabelValues(currency).Observe(float64(netPayable))
	}
	m.PaymentsInitiatedTotal.WithLabelValues(provider, outcome).Inc()
	m.GatewayDuration.WithLabelValues(provider).Observe(took.Seconds())
}

// ObserveWebhook records a callback outcome: settled, duplicate, ignored,
// rejected or error.
func (m *Metrics) ObserveWebhook(provider, outcome string) {
	if m == nil {
		return
	}
	m.WebhooksTotal.WithLabelValues(provider, outcome).Inc()
}

// ObserveSettlement records a payment leaving pending.
func (m *Metrics) ObserveSettlement(provider, status string, activated bool) {
	if m == nil {
		return
	}
	m.PaymentsSettledTotal.WithLabelValues(provider, status).Inc()
	if activated {
		m.MembershipsActivatedTotal.Inc()
	}
}

// ObserveExpired records memberships archived by the sweep.
func (m *Metrics) ObserveExpired(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.MembershipsExpiredTotal.Add(float64(n))
}

// GinMiddleware records request counts and latency by route template.
func (m *Metrics) GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		m.HTTPRequestsTotal.WithLabelValues(c.Request.Method, path, strconv.Itoa(c.Writer.Status())).Inc()
		m.HTTPRequestDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}

// Handler serves the registry in the Prometheus text format.
func Handler(gatherer prometheus.Gatherer) gin.HandlerFunc {
	h := promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
	return gin.WrapH(h)
}
