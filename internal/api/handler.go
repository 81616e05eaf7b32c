package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"fulfillment-service/internal/models"
	"fulfillment-service/internal/service"
	"fulfillment-service/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler contains HTTP handlers
type Handler struct {
	orders        *service.OrderService
	subscriptions *service.SubscriptionService
	reconciler    *service.Reconciler
	ledger        *service.StockLedger
}

// NewHandler creates a new HTTP handler
func NewHandler(orders *service.OrderService, subscriptions *service.SubscriptionService, reconciler *service.Reconciler, ledger *service.StockLedger) *Handler {
	return &Handler{
		orders:        orders,
		subscriptions: subscriptions,
		reconciler:    reconciler,
		ledger:        ledger,
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
		v1.POST("/checkout", h.checkout)
		v1.GET("/orders/:id", h.getOrder)
		v1.POST("/orders/:id/transition", h.transitionOrder)
		v1.POST("/orders/:id/refund", h.refundOrder)
		v1.GET("/users/:id/orders", h.listUserOrders)

		v1.POST("/webhooks/payment", h.paymentWebhook)

		v1.POST("/subscriptions", h.createSubscription)
		v1.GET("/subscriptions/:id", h.getSubscription)
		v1.POST("/subscriptions/:id/pause", h.pauseSubscription)
		v1.POST("/subscriptions/:id/resume", h.resumeSubscription)
		v1.POST("/subscriptions/:id/cancel", h.cancelSubscription)

		v1.GET("/stock/:id", h.getStock)
		v1.POST("/stock/:id/adjust", h.adjustStock)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck handles readiness check requests
func (h *Handler) readinessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// checkout handles cart submission
func (h *Handler) checkout(c *gin.Context) {
	var req service.CheckoutRequest

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	if req.IdempotencyKey == "" {
		req.IdempotencyKey = c.GetHeader("Idempotency-Key")
	}

	order, err := h.orders.Checkout(c.Request.Context(), &req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, order)
}

// getOrder handles get order by ID
func (h *Handler) getOrder(c *gin.Context) {
	orderID, ok := pathID(c)
	if !ok {
		return
	}

	order, items, err := h.orders.GetOrder(c.Request.Context(), orderID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"order": order,
		"items": items,
	})
}

// listUserOrders handles get orders for a user
func (h *Handler) listUserOrders(c *gin.Context) {
	userID, ok := pathID(c)
	if !ok {
		return
	}

	orders, err := h.orders.ListUserOrders(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

type transitionRequest struct {
	Status models.OrderStatus `json:"status" binding:"required"`
	Actor  string             `json:"actor"`
}

// transitionOrder moves an order along its lifecycle
func (h *Handler) transitionOrder(c *gin.Context) {
	orderID, ok := pathID(c)
	if !ok {
		return
	}

	var req transitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}
	if req.Actor == "" {
		req.Actor = "api"
	}

	order, err := h.orders.Transition(c.Request.Context(), orderID, req.Status, req.Actor)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, order)
}

// refundOrder handles the admin refund trigger
func (h *Handler) refundOrder(c *gin.Context) {
	orderID, ok := pathID(c)
	if !ok {
		return
	}

	order, err := h.orders.Refund(c.Request.Context(), orderID, "admin")
	if err != nil {
		var timeout *models.GatewayTimeoutError
		if errors.As(err, &timeout) && order != nil {
			// The order is REFUNDED and the payment queued; only the
			// outbound request needs retrying.
			c.JSON(http.StatusGatewayTimeout, gin.H{
				"error": "Gateway timed out, retry the refund request",
				"order": order,
			})
			return
		}
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, order)
}

// paymentWebhook receives gateway payment events
func (h *Handler) paymentWebhook(c *gin.Context) {
	payload, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read payload"})
		return
	}
	signature := c.GetHeader("X-Gateway-Signature")

	err = h.reconciler.ProcessWebhook(c.Request.Context(), payload, signature)
	if err != nil {
		var sigErr *models.PaymentSignatureError
		if errors.As(err, &sigErr) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid signature"})
			return
		}
		// A recorded mismatch is acknowledged so the gateway stops
		// redelivering; the payment is held for review either way.
		var mismatch *models.AmountMismatchError
		if errors.As(err, &mismatch) {
			c.JSON(http.StatusOK, gin.H{"status": "held", "details": mismatch.Error()})
			return
		}
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// createSubscription handles new subscription requests
func (h *Handler) createSubscription(c *gin.Context) {
	var req service.SubscribeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	sub, err := h.subscriptions.Subscribe(c.Request.Context(), &req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, sub)
}

// getSubscription handles get subscription by ID
func (h *Handler) getSubscription(c *gin.Context) {
	subID, ok := pathID(c)
	if !ok {
		return
	}

	sub, err := h.subscriptions.GetSubscription(c.Request.Context(), subID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, sub)
}

func (h *Handler) pauseSubscription(c *gin.Context) {
	h.subscriptionTransition(c, h.subscriptions.Pause)
}

func (h *Handler) resumeSubscription(c *gin.Context) {
	h.subscriptionTransition(c, h.subscriptions.Resume)
}

func (h *Handler) cancelSubscription(c *gin.Context) {
	h.subscriptionTransition(c, h.subscriptions.Cancel)
}

func (h *Handler) subscriptionTransition(c *gin.Context, fn func(ctx context.Context, id int64, actor string) (*models.Subscription, error)) {
	subID, ok := pathID(c)
	if !ok {
		return
	}

	sub, err := fn(c.Request.Context(), subID, "api")
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, sub)
}

// getStock returns the available quantity for a product
func (h *Handler) getStock(c *gin.Context) {
	productID, ok := pathID(c)
	if !ok {
		return
	}

	available, err := h.ledger.GetAvailableStock(c.Request.Context(), productID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"product_id": productID,
		"available":  available,
	})
}

type adjustStockRequest struct {
	Delta int    `json:"delta" binding:"required"`
	Actor string `json:"actor"`
}

// adjustStock applies a manual stock correction
func (h *Handler) adjustStock(c *gin.Context) {
	productID, ok := pathID(c)
	if !ok {
		return
	}

	var req adjustStockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}
	if req.Actor == "" {
		req.Actor = "api"
	}

	available, err := h.ledger.AdjustStock(c.Request.Context(), productID, req.Delta, req.Actor)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"product_id": productID,
		"available":  available,
	})
}

func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid ID"})
		return 0, false
	}
	return id, true
}

// respondError maps business errors to HTTP status codes
func respondError(c *gin.Context, err error) {
	var (
		validation *models.ValidationError
		coupon     *models.InvalidCouponError
		stock      *models.InsufficientStockError
		transition *models.InvalidTransitionError
		conflict   *models.SchedulingConflictError
		timeout    *models.GatewayTimeoutError
	)

	switch {
	case errors.Is(err, models.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.As(err, &validation), errors.As(err, &coupon):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.As(err, &stock), errors.As(err, &transition), errors.As(err, &conflict):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.As(err, &timeout):
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Internal server error",
			"details": err.Error(),
		})
	}
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
