package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/mn-ibiz/pos-sub020/logging"
	"github.com/mn-ibiz/pos-sub020/models"
	"github.com/mn-ibiz/pos-sub020/service"
	"github.com/mn-ibiz/pos-sub020/session"
	"github.com/mn-ibiz/pos-sub020/validator"
)

// PaymentHandler handles HTTP requests for push payments
type PaymentHandler struct {
	paymentService *service.PaymentService
}

// NewPaymentHandler creates a new payment handler
func NewPaymentHandler(paymentService *service.PaymentService) *PaymentHandler {
	return &PaymentHandler{
		paymentService: paymentService,
	}
}

// Register mounts the payment routes on r
func (h *PaymentHandler) Register(r gin.IRouter) {
	r.GET("/health", h.HealthCheck)

	api := r.Group("/api/payments")
	api.POST("/push", h.StartPayment)
	api.GET("/:saleID", h.GetPayment)
	api.POST("/:saleID/cancel", h.CancelPayment)
	api.GET("/:saleID/events", h.StreamPayment)
}

// StartPayment starts a push payment for a sale
func (h *PaymentHandler) StartPayment(c *gin.Context) {
	ctx := c.Request.Context()

	var req models.PushPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: err.Error()})
		return
	}

	response, err := h.paymentService.StartPayment(ctx, &req)
	if err != nil {
		h.writeError(c, err)
		return
	}

	trace.SpanFromContext(ctx).AddEvent("push_payment_started")
	c.JSON(http.StatusAccepted, response)
}

// GetPayment returns the current or final state of a sale's push payment
func (h *PaymentHandler) GetPayment(c *gin.Context) {
	snap, err := h.paymentService.GetPayment(c.Request.Context(), c.Param("saleID"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

// CancelPayment abandons the active push payment of a sale
func (h *PaymentHandler) CancelPayment(c *gin.Context) {
	saleID := c.Param("saleID")
	if err := h.paymentService.CancelPayment(c.Request.Context(), saleID); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"sale_id": saleID, "status": "cancelling"})
}

// StreamPayment streams progress of the active push payment as server-sent
// events until the terminal update.
func (h *PaymentHandler) StreamPayment(c *gin.Context) {
	updates, stop, err := h.paymentService.WatchPayment(c.Param("saleID"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	defer stop()

	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")

	c.Stream(func(io.Writer) bool {
		select {
		case u, ok := <-updates:
			if !ok {
				return false
			}
			c.SSEvent("update", u)
			return !u.Terminal
		case <-c.Request.Context().Done():
			return false
		}
	})
}

// HealthCheck handles health check requests
func (h *PaymentHandler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

func (h *PaymentHandler) writeError(c *gin.Context, err error) {
	var verr *validator.ValidationError
	switch {
	case errors.As(err, &verr):
		c.JSON(http.StatusUnprocessableEntity, models.ErrorResponse{
			Error:  verr.Error(),
			Kind:   string(verr.Kind),
			Reason: verr.Reason,
		})
	case errors.Is(err, session.ErrAttemptInProgress):
		c.JSON(http.StatusConflict, models.ErrorResponse{Error: err.Error()})
	case errors.Is(err, session.ErrNoActiveAttempt), errors.Is(err, session.ErrUnknownSale):
		c.JSON(http.StatusNotFound, models.ErrorResponse{Error: err.Error()})
	default:
		logger := logging.WithTraceContext(trace.SpanFromContext(c.Request.Context()))
		logger.Error("Push payment request failed",
			zap.Error(err),
			zap.String("path", c.FullPath()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Push payment request failed"})
	}
}
