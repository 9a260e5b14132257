// Package metrics exposes Prometheus instruments for the payment pipeline.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	x402 "github.com/vellumlabs/x402pay"
	"github.com/vellumlabs/x402pay/mechanisms/svm"
)

const namespace = "x402pay"

type Metrics struct {
	registry *prometheus.Registry

	OffersIssued        *prometheus.CounterVec
	FacilitatorCalls    *prometheus.CounterVec
	FacilitatorDuration *prometheus.HistogramVec
	SettledAmount       *prometheus.CounterVec
	Fulfillments        *prometheus.CounterVec
	FulfillDuration     *prometheus.HistogramVec
	Replays             *prometheus.CounterVec
	HTTPServerDuration  *prometheus.HistogramVec
}

// New creates the instruments on a fresh registry that also carries the
// Go runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		OffersIssued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "offers_issued_total",
			Help:      "Total number of 402 offers issued",
		}, []string{"sku"}),
		FacilitatorCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "facilitator_calls_total",
			Help:      "Facilitator verify and settle calls by outcome",
		}, []string{"operation", "sku", "outcome"}),
		FacilitatorDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "facilitator_call_duration_seconds",
			Help:      "Duration of facilitator calls",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		SettledAmount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "settled_usdc_total",
			Help:      "USDC settled, in whole units",
		}, []string{"sku"}),
		Fulfillments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fulfillments_total",
			Help:      "Fulfillment attempts after settlement by outcome",
		}, []string{"sku", "outcome"}),
		FulfillDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fulfillment_duration_seconds",
			Help:      "Duration of fulfillment work",
			Buckets:   []float64{.1, .5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"sku"}),
		Replays: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "replays_total",
			Help:      "Requests answered from a stored result",
		}, []string{"sku", "source"}),
		HTTPServerDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_server_duration_seconds",
			Help:      "HTTP server request duration",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.OffersIssued,
		m.FacilitatorCalls,
		m.FacilitatorDuration,
		m.SettledAmount,
		m.Fulfillments,
		m.FulfillDuration,
		m.Replays,
		m.HTTPServerDuration,
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Observe registers hooks on o that feed the instruments.
func (m *Metrics) Observe(o *x402.PaymentOrchestrator) {
	o.OnOfferIssued(func(ctx x402.OfferContext) {
		m.OffersIssued.WithLabelValues(ctx.SKU).Inc()
	})

	o.OnVerify(func(ctx x402.VerifyResultContext) {
		outcome := "valid"
		switch {
		case ctx.Err != nil:
			outcome = "error"
		case ctx.Result == nil || !ctx.Result.IsValid:
			outcome = "invalid"
		}
		m.FacilitatorCalls.WithLabelValues("verify", ctx.SKU, outcome).Inc()
		m.FacilitatorDuration.WithLabelValues("verify").Observe(ctx.Duration.Seconds())
	})

	o.OnSettle(func(ctx x402.SettleResultContext) {
		outcome := "success"
		if ctx.Err != nil {
			outcome = "error"
		}
		m.FacilitatorCalls.WithLabelValues("settle", ctx.SKU, outcome).Inc()
		m.FacilitatorDuration.WithLabelValues("settle").Observe(ctx.Duration.Seconds())
		if ctx.Err == nil {
			if usdc, err := svm.FromAtomic(ctx.Amount); err == nil {
				m.SettledAmount.WithLabelValues(ctx.SKU).Add(usdc)
			}
		}
	})

	o.OnFulfill(func(ctx x402.FulfillResultContext) {
		outcome := "success"
		if ctx.Err != nil {
			outcome = "error"
		}
		m.Fulfillments.WithLabelValues(ctx.SKU, outcome).Inc()
		m.FulfillDuration.WithLabelValues(ctx.SKU).Observe(ctx.Duration.Seconds())
	})

	o.OnReplay(func(ctx x402.ReplayContext) {
		m.Replays.WithLabelValues(ctx.SKU, string(ctx.Source)).Inc()
	})
}

// Middleware records request duration by method, route and status.
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.HTTPServerDuration.WithLabelValues(
			c.Request.Method,
			route,
			strconv.Itoa(c.Writer.Status()),
		).Observe(time.Since(start).Seconds())
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
