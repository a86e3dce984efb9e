package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"restaurant-service/internal/models"
	"restaurant-service/internal/service"
	"restaurant-service/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// EventPublisher announces the outcome of successful requests
type EventPublisher interface {
	PublishOrderCreated(ctx context.Context, event *models.OrderCreatedEvent) error
	PublishOrderStatusChanged(ctx context.Context, event *models.OrderStatusChangedEvent) error
	PublishCheckoutStarted(ctx context.Context, event *models.CheckoutStartedEvent) error
	PublishSubscriptionActivated(ctx context.Context, event *models.SubscriptionActivatedEvent) error
	PublishSubscriptionCanceled(ctx context.Context, event *models.SubscriptionCanceledEvent) error
}

// CheckoutDeferrer hands a confirmation to the billing worker when it
// cannot be applied right away
type CheckoutDeferrer interface {
	PublishCheckoutCompleted(ctx context.Context, event *models.CheckoutCompletedEvent) error
}

// Options configures the optional parts of the handler
type Options struct {
	WebhookSecret    string
	WebhookTolerance time.Duration
	Deferred         CheckoutDeferrer
	Ready            func(ctx context.Context) error
}

// Handler contains HTTP handlers
type Handler struct {
	orders        *service.OrderService
	subscriptions *service.SubscriptionService
	restaurants   *service.RestaurantService
	events        EventPublisher
	opts          Options
	logger        *zap.Logger
}

// NewHandler creates a new HTTP handler. events may be nil.
func NewHandler(
	orders *service.OrderService,
	subscriptions *service.SubscriptionService,
	restaurants *service.RestaurantService,
	events EventPublisher,
	opts Options,
) *Handler {
	return &Handler{
		orders:        orders,
		subscriptions: subscriptions,
		restaurants:   restaurants,
		events:        events,
		opts:          opts,
		logger:        util.GetLogger(),
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		v1.GET("/plans/:slug", h.getPlans)
		v1.POST("/plans/:slug", h.startCheckout)
		v1.PATCH("/plans/:slug", h.confirmCheckout)
		v1.DELETE("/plans/:slug", h.cancelSubscription)

		v1.POST("/orders", h.createOrder)
		v1.GET("/orders/:id", h.getOrder)
		v1.PATCH("/orders/:id/status", h.advanceOrder)

		v1.POST("/restaurants", h.onboardRestaurant)
		v1.GET("/restaurants/:slug", h.getRestaurant)
		v1.PUT("/restaurants/:slug/settings", h.updateSettings)
		v1.GET("/restaurants/:slug/orders", h.listOrders)
		v1.POST("/restaurants/:slug/orders/manual", h.createManualOrder)
		v1.GET("/restaurants/:slug/invoices", h.listInvoices)

		v1.POST("/admin/plans", h.savePlan)
		v1.PATCH("/admin/plans/:id", h.setPlanActive)

		v1.POST("/billing/webhook", h.billingWebhook)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck reports whether the store and lock backends answer
func (h *Handler) readinessCheck(c *gin.Context) {
	if h.opts.Ready != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := h.opts.Ready(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "not_ready",
				"error":  err.Error(),
			})
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
