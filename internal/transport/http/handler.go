package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/richardliu001/order-service/internal/model"
	"github.com/richardliu001/order-service/internal/service"
	"go.uber.org/zap"
)

// OrderService is what the handlers need from service.OrderService.
type OrderService interface {
	CreateOrder(ctx context.Context, cmd service.CreateOrderCmd) (*model.Order, error)
	GetOrder(ctx context.Context, orderID string) (*model.Order, error)
	GetHistory(ctx context.Context, orderID string) ([]model.OrderTimestamp, error)
	CancelOrder(ctx context.Context, cmd service.CancelOrderCmd) (*model.Order, error)
	AdvanceOrder(ctx context.Context, orderID string, next model.OrderStatus) (*model.Order, error)
	ReconcilePayment(ctx context.Context, orderID string) (service.Ack, error)
	HandleWebhook(ctx context.Context, p service.WebhookPayload) (service.Ack, error)
}

type handlers struct {
	svc           OrderService
	webhookSecret string
	log           *zap.SugaredLogger
}

func RegisterHandlers(r *gin.Engine, svc OrderService, webhookSecret string, log *zap.SugaredLogger) {
	h := &handlers{svc: svc, webhookSecret: webhookSecret, log: log}
	v1 := r.Group("/v1")
	{
		v1.POST("/orders", h.createOrder)
		v1.GET("/orders/:id", h.getOrder)
		v1.GET("/orders/:id/history", h.history)
		v1.POST("/orders/:id/cancel", h.cancelOrder)
		v1.POST("/orders/:id/advance", h.advanceOrder)
		v1.POST("/orders/:id/reconcile", h.reconcile)
		v1.POST("/payments/webhook", h.webhook)
	}
}

func (h *handlers) createOrder(c *gin.Context) {
	var req service.CreateOrderCmd
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	o, err := h.svc.CreateOrder(c.Request.Context(), req)
	if err != nil {
		h.fail(c, err, http.StatusBadGateway)
		return
	}
	c.JSON(http.StatusCreated, o)
}

func (h *handlers) getOrder(c *gin.Context) {
	o, err := h.svc.GetOrder(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err, http.StatusBadGateway)
		return
	}
	c.JSON(http.StatusOK, o)
}

func (h *handlers) history(c *gin.Context) {
	rows, err := h.svc.GetHistory(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err, http.StatusBadGateway)
		return
	}
	c.JSON(http.StatusOK, rows)
}

type cancelReq struct {
	Reason string `json:"reason" binding:"required"`
	Actor  string `json:"actor" binding:"required"`
}

func (h *handlers) cancelOrder(c *gin.Context) {
	var req cancelReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	o, err := h.svc.CancelOrder(c.Request.Context(), service.CancelOrderCmd{
		OrderID: c.Param("id"), Reason: req.Reason, Actor: req.Actor,
	})
	if err != nil {
		h.fail(c, err, http.StatusBadGateway)
		return
	}
	c.JSON(http.StatusOK, o)
}

type advanceReq struct {
	Status model.OrderStatus `json:"status" binding:"required"`
}

func (h *handlers) advanceOrder(c *gin.Context) {
	var req advanceReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	o, err := h.svc.AdvanceOrder(c.Request.Context(), c.Param("id"), req.Status)
	if err != nil {
		h.fail(c, err, http.StatusBadGateway)
		return
	}
	c.JSON(http.StatusOK, o)
}

func (h *handlers) reconcile(c *gin.Context) {
	ack, err := h.svc.ReconcilePayment(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err, http.StatusBadGateway)
		return
	}
	c.JSON(http.StatusOK, ack)
}

func (h *handlers) webhook(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !validSignature(h.webhookSecret, body, c.GetHeader(signatureHeader)) {
		h.log.Warnw("webhook signature mismatch", "client_ip", c.ClientIP())
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
		return
	}
	var p service.WebhookPayload
	if err := json.Unmarshal(body, &p); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	ack, err := h.svc.HandleWebhook(c.Request.Context(), p)
	if err != nil {
		// 503 makes the gateway redeliver later.
		h.fail(c, err, http.StatusServiceUnavailable)
		return
	}
	c.JSON(http.StatusOK, ack)
}

// fail maps service errors to status codes. gatewayStatus is used for
// errors the gateway may resolve on retry.
func (h *handlers) fail(c *gin.Context, err error, gatewayStatus int) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, service.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, service.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, service.ErrIllegalTransition), errors.Is(err, service.ErrConcurrentUpdate):
		status = http.StatusConflict
	case errors.Is(err, service.ErrPaymentRejected):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, service.ErrGatewayUnavailable), errors.Is(err, service.ErrPaymentUnconfirmed):
		status = gatewayStatus
	}
	if status == http.StatusInternalServerError {
		h.log.Errorw("request failed", "path", c.FullPath(), "error", err)
		c.JSON(status, gin.H{"error": "internal error"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
