package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"shopbot-service/internal/conversation"
	"shopbot-service/internal/models"
	"shopbot-service/internal/payment"
	"shopbot-service/internal/service"
	"shopbot-service/internal/session"
	"shopbot-service/internal/util"
)

// ConversationHandler answers chat events
type ConversationHandler interface {
	HandleInboundEvent(ctx context.Context, ev conversation.InboundEvent) ([]conversation.Reply, error)
}

// Notifier delivers reply texts to a customer
type Notifier interface {
	Notify(ctx context.Context, storeID, userID, text string)
}

type OrderPlacer interface {
	PlaceOrder(ctx context.Context, key session.Key) (*service.PlacedOrder, error)
	GetOrder(ctx context.Context, orderID string) (*models.Order, *models.Transaction, error)
}

type Fulfillment interface {
	UpdateStatus(ctx context.Context, orderID string, to models.OrderStatus) (*models.Order, error)
	CancelOrder(ctx context.Context, orderID, reason string) (*models.Order, error)
	DeleteOrder(ctx context.Context, orderID string) error
}

type Payments interface {
	SubmitSlip(ctx context.Context, orderID, ref string) (*payment.Result, error)
	ConfirmCash(ctx context.Context, orderID string) error
}

type Inventory interface {
	GetIngredient(ctx context.Context, id string) (*models.Ingredient, error)
	ReceiveBatch(ctx context.Context, ingredientID string, batch models.ReceiptBatch) (*models.Ingredient, error)
}

// Pinger is a dependency checked by the readiness probe
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler contains HTTP handlers
type Handler struct {
	chat        ConversationHandler
	notifier    Notifier
	orders      OrderPlacer
	fulfillment Fulfillment
	payments    Payments
	inventory   Inventory
	deps        map[string]Pinger
	logger      *zap.Logger
}

// Deps groups what the HTTP handlers call into
type Deps struct {
	Chat        ConversationHandler
	Notifier    Notifier
	Orders      OrderPlacer
	Fulfillment Fulfillment
	Payments    Payments
	Inventory   Inventory
	Readiness   map[string]Pinger
}

// NewHandler creates a new HTTP handler
func NewHandler(d Deps) *Handler {
	return &Handler{
		chat:        d.Chat,
		notifier:    d.Notifier,
		orders:      d.Orders,
		fulfillment: d.Fulfillment,
		payments:    d.Payments,
		inventory:   d.Inventory,
		deps:        d.Readiness,
		logger:      util.GetLogger(),
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine, allowedOrigins []string) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())
	router.Use(cors.New(corsConfig(allowedOrigins)))

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	router.POST("/webhook/:storeId", h.webhook)

	v1 := router.Group("/api/v1")
	{
		v1.POST("/stores/:storeId/sessions/:userId/confirm", h.confirmCart)

		v1.GET("/orders/:id", h.getOrder)
		v1.DELETE("/orders/:id", h.deleteOrder)
		v1.POST("/orders/:id/cancel", h.cancelOrder)
		v1.PATCH("/orders/:id/status", h.updateStatus)
		v1.POST("/orders/:id/payment", h.recordPayment)

		v1.GET("/ingredients/:id", h.getIngredient)
		v1.POST("/ingredients/:id/receipts", h.receiveBatch)
	}
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}
	for _, o := range origins {
		if o == "*" {
			cfg.AllowAllOrigins = true
			return cfg
		}
	}
	cfg.AllowOrigins = origins
	return cfg
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck pings every backing service
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	failed := gin.H{}
	for name, dep := range h.deps {
		if err := dep.Ping(ctx); err != nil {
			failed[name] = err.Error()
		}
	}
	if len(failed) > 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":  "not ready",
			"details": failed,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// webhook receives chat platform events for one store and pushes the
// replies back to each customer
func (h *Handler) webhook(c *gin.Context) {
	storeID := c.Param("storeId")

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	events, err := conversation.DecodeWebhook(body, storeID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid webhook payload",
			"details": err.Error(),
		})
		return
	}

	ctx := c.Request.Context()
	handled := 0
	for _, ev := range events {
		replies, err := h.chat.HandleInboundEvent(ctx, ev)
		if err != nil {
			h.logger.Error("Failed to handle inbound event",
				zap.String("store_id", storeID),
				zap.String("user_id", ev.From().UserID),
				zap.Error(err))
			continue
		}
		handled++
		for _, r := range replies {
			h.notifier.Notify(ctx, storeID, ev.From().UserID, r.Text)
		}
	}

	c.JSON(http.StatusOK, gin.H{"received": len(events), "handled": handled})
}

// confirmCart places the order of a customer's cart on their behalf
func (h *Handler) confirmCart(c *gin.Context) {
	key := session.Key{UserID: c.Param("userId"), StoreID: c.Param("storeId")}

	placed, err := h.orders.PlaceOrder(c.Request.Context(), key)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"order":       placed.Order,
		"transaction": placed.Transaction,
	})
}

func (h *Handler) getOrder(c *gin.Context) {
	order, txn, err := h.orders.GetOrder(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"order":       order,
		"transaction": txn,
	})
}

func (h *Handler) deleteOrder(c *gin.Context) {
	if err := h.fulfillment.DeleteOrder(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) cancelOrder(c *gin.Context) {
	var req cancelRequest
	// the body is optional
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
	}
	if req.Reason == "" {
		req.Reason = "cancelled by staff"
	}

	order, err := h.fulfillment.CancelOrder(c.Request.Context(), c.Param("id"), req.Reason)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

type statusRequest struct {
	Status models.OrderStatus `json:"status" binding:"required"`
}

func (h *Handler) updateStatus(c *gin.Context) {
	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	order, err := h.fulfillment.UpdateStatus(c.Request.Context(), c.Param("id"), req.Status)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

type paymentRequest struct {
	Method    string `json:"method" binding:"required,oneof=cash slip"`
	Reference string `json:"reference"`
}

// recordPayment takes cash confirmed by staff, or a slip reference to verify
func (h *Handler) recordPayment(c *gin.Context) {
	var req paymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	ctx := c.Request.Context()
	orderID := c.Param("id")

	if req.Method == models.PaymentMethodCash {
		if err := h.payments.ConfirmCash(ctx, orderID); err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "confirmed", "method": req.Method})
		return
	}

	if req.Reference == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "reference is required for slip payments"})
		return
	}
	res, err := h.payments.SubmitSlip(ctx, orderID, req.Reference)
	if errors.Is(err, models.ErrPaymentNotConfirmed) && res != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":  "Payment not confirmed",
			"result": res,
		})
		return
	}
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "confirmed", "method": req.Method, "result": res})
}

func (h *Handler) getIngredient(c *gin.Context) {
	ing, err := h.inventory.GetIngredient(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, ing)
}

type receiptRequest struct {
	ReceiptID  string          `json:"receiptId"`
	Quantity   decimal.Decimal `json:"quantity"`
	Price      decimal.Decimal `json:"price"`
	ReceivedAt time.Time       `json:"receivedAt"`
}

func (h *Handler) receiveBatch(c *gin.Context) {
	var req receiptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if req.Quantity.Sign() <= 0 || req.Price.Sign() < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "quantity must be positive and price not negative"})
		return
	}

	ing, err := h.inventory.ReceiveBatch(c.Request.Context(), c.Param("id"), models.ReceiptBatch{
		ReceiptID:  req.ReceiptID,
		Quantity:   req.Quantity,
		Price:      req.Price,
		ReceivedAt: req.ReceivedAt,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, ing)
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{
		"error":   "Invalid request body",
		"details": err.Error(),
	})
}

// writeError maps domain errors to HTTP statuses
func writeError(c *gin.Context, err error) {
	var short *models.InsufficientIngredientError
	switch {
	case errors.As(err, &short):
		c.JSON(http.StatusConflict, gin.H{
			"error": "Insufficient ingredient",
			"details": gin.H{
				"ingredientId": short.IngredientID,
				"name":         short.Name,
				"required":     short.Required,
				"available":    short.Available,
			},
		})
	case errors.Is(err, models.ErrNoActiveOrder), errors.Is(err, models.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, models.ErrMissingDeliveryAddress),
		errors.Is(err, models.ErrProductUnavailable),
		errors.Is(err, models.ErrPaymentNotConfirmed):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	case errors.Is(err, models.ErrDuplicateConfirmation),
		errors.Is(err, models.ErrInvalidStatusTransition),
		errors.Is(err, models.ErrDuplicateReceipt):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, models.ErrConcurrencyConflict):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		util.GetLogger().Error("Request failed", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
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
