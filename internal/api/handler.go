package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"fulfillment-core/internal/service"
	"fulfillment-core/internal/transition"
	"fulfillment-core/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler contains HTTP handlers
type Handler struct {
	checkout  *service.CheckoutService
	lifecycle *service.LifecycleService
	reaper    *service.ReservationReaper
	auditor   *service.ConsistencyAuditor
	ledger    *service.StockLedger
}

// NewHandler creates a new HTTP handler
func NewHandler(
	checkout *service.CheckoutService,
	lifecycle *service.LifecycleService,
	reaper *service.ReservationReaper,
	auditor *service.ConsistencyAuditor,
	ledger *service.StockLedger,
) *Handler {
	return &Handler{
		checkout:  checkout,
		lifecycle: lifecycle,
		reaper:    reaper,
		auditor:   auditor,
		ledger:    ledger,
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
		v1.POST("/checkout", h.placeOrder)
		v1.GET("/orders/:id", h.getOrder)
		v1.POST("/orders/:id/status", h.transitionOrder)
		v1.POST("/payments/:id/status", h.transitionPayment)
		v1.POST("/stock/:id/adjust", h.adjustStock)
		v1.POST("/admin/sweep", h.runSweep)
		v1.POST("/admin/audit", h.runAudit)
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

// placeOrder handles checkout
func (h *Handler) placeOrder(c *gin.Context) {
	var req service.PlaceOrderRequest

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

	resp, err := h.checkout.PlaceOrder(c.Request.Context(), &req)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to place order",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusCreated, resp)
}

// getOrder handles get order by ID
func (h *Handler) getOrder(c *gin.Context) {
	orderID, ok := parseID(c)
	if !ok {
		return
	}

	order, items, payments, err := h.checkout.GetOrderReport(c.Request.Context(), orderID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "Order not found",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"order":    order,
		"items":    items,
		"payments": payments,
	})
}

type statusRequest struct {
	Status string `json:"status" binding:"required"`
}

// transitionOrder handles validated order status changes
func (h *Handler) transitionOrder(c *gin.Context) {
	orderID, ok := parseID(c)
	if !ok {
		return
	}

	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	order, err := h.lifecycle.TransitionOrder(c.Request.Context(), orderID, req.Status)
	if err != nil {
		writeTransitionError(c, err)
		return
	}

	c.JSON(http.StatusOK, order)
}

// transitionPayment handles validated payment status changes
func (h *Handler) transitionPayment(c *gin.Context) {
	paymentID, ok := parseID(c)
	if !ok {
		return
	}

	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	payment, err := h.lifecycle.TransitionPayment(c.Request.Context(), paymentID, req.Status)
	if err != nil {
		writeTransitionError(c, err)
		return
	}

	c.JSON(http.StatusOK, payment)
}

type adjustRequest struct {
	Delta int    `json:"delta" binding:"required"`
	Actor string `json:"actor" binding:"required"`
	Note  string `json:"note,omitempty"`
}

// adjustStock handles manual stock adjustments
func (h *Handler) adjustStock(c *gin.Context) {
	variantID, ok := parseID(c)
	if !ok {
		return
	}

	var req adjustRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	if err := h.ledger.RecordAdjustment(c.Request.Context(), variantID, req.Delta, req.Actor, req.Note); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to adjust stock",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"variant_id": variantID, "delta": req.Delta})
}

// runSweep triggers a reservation sweep on demand
func (h *Handler) runSweep(c *gin.Context) {
	result, err := h.reaper.Sweep(c.Request.Context(), time.Now())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Sweep failed",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, result)
}

// runAudit triggers a consistency audit on demand; ?fix=true enables
// auto-repair.
func (h *Handler) runAudit(c *gin.Context) {
	autoFix, _ := strconv.ParseBool(c.DefaultQuery("fix", "false"))

	report, err := h.auditor.Audit(c.Request.Context(), autoFix)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Audit failed",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, report)
}

func parseID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid ID"})
		return 0, false
	}
	return id, true
}

// writeTransitionError maps the error taxonomy to status codes: terminal
// states conflict, illegal edges are unprocessable, anything else is a
// server error. Message wording for shoppers lives outside this service.
func writeTransitionError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, transition.ErrTerminalState):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, transition.ErrInvalidTransition):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
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
