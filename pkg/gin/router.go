// Package gin serves the payment engine over HTTP.
package gin

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	x402 "github.com/vellumlabs/x402pay"
	"github.com/vellumlabs/x402pay/mechanisms/svm"
	"github.com/vellumlabs/x402pay/pkg/metrics"
)

const defaultMaxBodyBytes = 15 << 20

// RouterOptions is the options for NewRouter.
type RouterOptions struct {
	AppName      string
	AllowOrigin  string
	MaxBodyBytes int64
	Logger       *zap.Logger
	// Metrics enables the request histogram and GET /metrics.
	Metrics *metrics.Metrics
}

// Options is the type for the options for NewRouter.
type Options func(*RouterOptions)

// WithAppName sets the name reported by /health and used for spans.
func WithAppName(name string) Options {
	return func(options *RouterOptions) {
		options.AppName = name
	}
}

// WithAllowOrigin sets Access-Control-Allow-Origin.
func WithAllowOrigin(origin string) Options {
	return func(options *RouterOptions) {
		options.AllowOrigin = origin
	}
}

func WithMaxBodyBytes(n int64) Options {
	return func(options *RouterOptions) {
		options.MaxBodyBytes = n
	}
}

func WithLogger(logger *zap.Logger) Options {
	return func(options *RouterOptions) {
		options.Logger = logger
	}
}

// WithMetrics records request durations and serves the registry.
func WithMetrics(m *metrics.Metrics) Options {
	return func(options *RouterOptions) {
		options.Metrics = m
	}
}

type handlers struct {
	orchestrator *x402.PaymentOrchestrator
	options      *RouterOptions
}

// NewRouter builds the engine's HTTP surface around o.
func NewRouter(o *x402.PaymentOrchestrator, opts ...Options) *gin.Engine {
	options := &RouterOptions{
		AppName:      "x402pay",
		AllowOrigin:  "*",
		MaxBodyBytes: defaultMaxBodyBytes,
		Logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(options)
	}

	r := gin.New()
	r.Use(
		Recovery(options.Logger),
		RequestID(),
		otelgin.Middleware(options.AppName),
		CORS(options.AllowOrigin),
		LimitBody(options.MaxBodyBytes),
		AccessLog(options.Logger),
	)
	if options.Metrics != nil {
		r.Use(options.Metrics.Middleware())
		r.GET("/metrics", gin.WrapH(options.Metrics.Handler()))
	}

	h := &handlers{orchestrator: o, options: options}

	r.GET("/health", h.health)
	r.GET("/catalog", h.catalog)
	r.POST("/pay", h.pay)
	r.POST("/x402/pay", h.pay)
	r.POST("/quote", h.createQuote)
	r.GET("/quote/:id", h.getQuote)
	r.POST("/pricing/estimate", h.estimate)

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
	})
	return r
}

func (h *handlers) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"app":       h.options.AppName,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *handlers) catalog(c *gin.Context) {
	products := h.orchestrator.Catalog().Products()
	items := make([]gin.H, 0, len(products))
	for _, p := range products {
		items = append(items, gin.H{
			"sku":            p.ID,
			"name":           p.Name,
			"description":    p.Description,
			"priceAtomic":    p.PriceAtomic,
			"price":          svm.FormatUSDC(p.PriceAtomic),
			"dynamicPricing": p.DynamicPricing,
			"outputSchema":   p.Output,
		})
	}
	c.JSON(http.StatusOK, gin.H{"products": items})
}

func (h *handlers) pay(c *gin.Context) {
	body, ok := readBody(c)
	if !ok {
		return
	}

	result := h.orchestrator.Handle(c.Request.Context(), x402.PayRequest{
		SKU:            c.Query("sku"),
		Model:          c.Query("model"),
		QuoteID:        c.Query("quoteId"),
		IdempotencyKey: c.GetHeader(x402.HeaderIdempotencyKey),
		Body:           body,
		Header:         c.Request.Header,
	})

	for k, v := range result.Headers {
		c.Header(k, v)
	}
	if raw, ok := result.Body.(json.RawMessage); ok {
		c.Data(result.Status, "application/json; charset=utf-8", raw)
		return
	}
	c.JSON(result.Status, result.Body)
}

func (h *handlers) createQuote(c *gin.Context) {
	req, ok := bindQuoteRequest(c)
	if !ok {
		return
	}
	q, err := h.orchestrator.CreateQuote(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, quoteBody(q.ID, q.SKU, q.Model, q.AmountAtomic, q.USD, q.Breakdown, q.ExpiresAt))
}

func (h *handlers) getQuote(c *gin.Context) {
	q, err := h.orchestrator.GetQuote(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, quoteBody(q.ID, q.SKU, q.Model, q.AmountAtomic, q.USD, q.Breakdown, q.ExpiresAt))
}

func (h *handlers) estimate(c *gin.Context) {
	req, ok := bindQuoteRequest(c)
	if !ok {
		return
	}
	est, err := h.orchestrator.Estimate(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"sku":          req.SKU,
		"model":        req.Model,
		"amountAtomic": est.Atomic,
		"usd":          est.USD,
		"breakdown":    est.Breakdown,
	})
}

func quoteBody(id, sku, model, amount string, usd float64, breakdown map[string]interface{}, expiresAt time.Time) gin.H {
	return gin.H{
		"quoteId":      id,
		"sku":          sku,
		"model":        model,
		"amountAtomic": amount,
		"usd":          usd,
		"breakdown":    breakdown,
		"expiresAt":    expiresAt.UTC().Format(time.RFC3339),
	}
}

func readBody(c *gin.Context) ([]byte, bool) {
	if c.Request.Body == nil {
		return nil, true
	}
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{"error": "Request body too large"})
			return nil, false
		}
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Failed to read request body"})
		return nil, false
	}
	return body, true
}

func bindQuoteRequest(c *gin.Context) (x402.QuoteRequest, bool) {
	body, ok := readBody(c)
	if !ok {
		return x402.QuoteRequest{}, false
	}
	var req x402.QuoteRequest
	if err := json.Unmarshal(body, &req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON body"})
		return x402.QuoteRequest{}, false
	}
	return req, true
}

func writeError(c *gin.Context, err error) {
	var perr *x402.PaymentError
	if errors.As(err, &perr) {
		c.JSON(perr.HTTPStatus(), perr.Body())
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}
