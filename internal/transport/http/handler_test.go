package http

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/richardliu001/order-service/internal/config"
	"github.com/richardliu001/order-service/internal/model"
	"github.com/richardliu001/order-service/internal/service"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type stubService struct {
	err      error
	created  service.CreateOrderCmd
	canceled service.CancelOrderCmd
	advanced model.OrderStatus
	webhook  service.WebhookPayload
}

func (s *stubService) order(id string) *model.Order {
	return &model.Order{ID: id, UserID: "u1", StoreID: "s1", Status: model.OrderPending, TotalAmount: decimal.NewFromInt(100)}
}

func (s *stubService) CreateOrder(_ context.Context, cmd service.CreateOrderCmd) (*model.Order, error) {
	s.created = cmd
	if s.err != nil {
		return nil, s.err
	}
	return s.order("o-1"), nil
}

func (s *stubService) GetOrder(_ context.Context, id string) (*model.Order, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.order(id), nil
}

func (s *stubService) GetHistory(_ context.Context, id string) ([]model.OrderTimestamp, error) {
	if s.err != nil {
		return nil, s.err
	}
	return []model.OrderTimestamp{{OrderID: id, Status: model.OrderPending}}, nil
}

func (s *stubService) CancelOrder(_ context.Context, cmd service.CancelOrderCmd) (*model.Order, error) {
	s.canceled = cmd
	if s.err != nil {
		return nil, s.err
	}
	o := s.order(cmd.OrderID)
	o.Status = model.OrderCancelled
	return o, nil
}

func (s *stubService) AdvanceOrder(_ context.Context, id string, next model.OrderStatus) (*model.Order, error) {
	s.advanced = next
	if s.err != nil {
		return nil, s.err
	}
	o := s.order(id)
	o.Status = next
	return o, nil
}

func (s *stubService) ReconcilePayment(_ context.Context, id string) (service.Ack, error) {
	if s.err != nil {
		return service.Ack{}, s.err
	}
	return service.Ack{WebhookID: "reconcile:pay:paid", Order: s.order(id)}, nil
}

func (s *stubService) HandleWebhook(_ context.Context, p service.WebhookPayload) (service.Ack, error) {
	s.webhook = p
	if s.err != nil {
		return service.Ack{}, s.err
	}
	return service.Ack{WebhookID: p.WebhookID, Duplicate: true}, nil
}

func newTestRouter(t *testing.T, svc OrderService, secret string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	return NewRouter(svc,
		config.RateLimitConfig{RPS: 1000, Burst: 1000},
		config.WebhookConfig{Secret: secret},
		http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("metrics")) }),
		zaptest.NewLogger(t).Sugar())
}

func do(r http.Handler, method, path string, body []byte, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestCreateOrderHandler(t *testing.T) {
	svc := &stubService{}
	r := newTestRouter(t, svc, "")

	w := do(r, http.MethodPost, "/v1/orders", []byte(`{
		"user_id": "u1", "store_id": "s1",
		"lines": [{"product_id": "p1", "quantity": 2, "unit_price": "12.50"}],
		"buyer": {"name": "Kim"}
	}`), nil)

	require.Equal(t, http.StatusCreated, w.Code)
	require.Len(t, svc.created.Lines, 1)
	assert.True(t, svc.created.Lines[0].UnitPrice.Equal(decimal.RequireFromString("12.50")))
	assert.Equal(t, "Kim", svc.created.Buyer.Name)

	var o model.Order
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &o))
	assert.Equal(t, "o-1", o.ID)
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		err         error
		path        string
		body        string
		commandCode int
	}{
		{fmt.Errorf("%w: bad", service.ErrValidation), "/v1/orders/o-1/cancel", `{"reason":"r","actor":"user:1"}`, http.StatusBadRequest},
		{fmt.Errorf("%w: order o-1", service.ErrNotFound), "/v1/orders/o-1/cancel", `{"reason":"r","actor":"user:1"}`, http.StatusNotFound},
		{fmt.Errorf("%w: cancel from COMPLETED", service.ErrIllegalTransition), "/v1/orders/o-1/cancel", `{"reason":"r","actor":"user:1"}`, http.StatusConflict},
		{fmt.Errorf("%w: order o-1", service.ErrConcurrentUpdate), "/v1/orders/o-1/advance", `{"status":"PREPARING"}`, http.StatusConflict},
		{fmt.Errorf("%w: timeout", service.ErrGatewayUnavailable), "/v1/orders/o-1/cancel", `{"reason":"r","actor":"user:1"}`, http.StatusBadGateway},
		{fmt.Errorf("%w: payment already settled", service.ErrPaymentRejected), "/v1/orders/o-1/cancel", `{"reason":"r","actor":"user:1"}`, http.StatusUnprocessableEntity},
		{fmt.Errorf("%w: pay-1", service.ErrNotFound), "/v1/orders/o-1/reconcile", ``, http.StatusNotFound},
		{fmt.Errorf("disk full"), "/v1/orders/o-1/reconcile", ``, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			r := newTestRouter(t, &stubService{err: tt.err}, "")
			w := do(r, http.MethodPost, tt.path, []byte(tt.body), nil)
			assert.Equal(t, tt.commandCode, w.Code)
		})
	}
}

func TestCancelHandler_RequiresActor(t *testing.T) {
	svc := &stubService{}
	r := newTestRouter(t, svc, "")

	w := do(r, http.MethodPost, "/v1/orders/o-1/cancel", []byte(`{"reason":"r"}`), nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(r, http.MethodPost, "/v1/orders/o-1/cancel", []byte(`{"reason":"r","actor":"admin:ops"}`), nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, service.CancelOrderCmd{OrderID: "o-1", Reason: "r", Actor: "admin:ops"}, svc.canceled)
}

func TestWebhookHandler(t *testing.T) {
	body := []byte(`{"webhook_id":"wh-1","payment_id":"pay-1","type":"paid","pg_tx_id":"tx-1","pg_provider":"card"}`)
	mac := hmac.New(sha256.New, []byte("s3cret"))
	mac.Write(body)
	sig := hex.EncodeToString(mac.Sum(nil))

	t.Run("valid signature", func(t *testing.T) {
		svc := &stubService{}
		r := newTestRouter(t, svc, "s3cret")
		w := do(r, http.MethodPost, "/v1/payments/webhook", body, map[string]string{signatureHeader: sig})
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "wh-1", svc.webhook.WebhookID)
		assert.Equal(t, model.WebhookPaid, svc.webhook.Type)
		assert.Equal(t, "tx-1", svc.webhook.PGTransactionID)

		var ack service.Ack
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &ack))
		assert.True(t, ack.Duplicate)
	})

	t.Run("bad signature", func(t *testing.T) {
		svc := &stubService{}
		r := newTestRouter(t, svc, "s3cret")
		w := do(r, http.MethodPost, "/v1/payments/webhook", body, map[string]string{signatureHeader: "00ff"})
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Empty(t, svc.webhook.WebhookID)
	})

	t.Run("gateway down asks for redelivery", func(t *testing.T) {
		r := newTestRouter(t, &stubService{err: fmt.Errorf("%w: x", service.ErrGatewayUnavailable)}, "")
		w := do(r, http.MethodPost, "/v1/payments/webhook", body, nil)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})

	t.Run("unconfirmed payment asks for redelivery", func(t *testing.T) {
		r := newTestRouter(t, &stubService{err: fmt.Errorf("%w: pay-1", service.ErrPaymentUnconfirmed)}, "")
		w := do(r, http.MethodPost, "/v1/payments/webhook", body, nil)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})

	t.Run("malformed body", func(t *testing.T) {
		r := newTestRouter(t, &stubService{}, "")
		w := do(r, http.MethodPost, "/v1/payments/webhook", []byte(`{`), nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestHealthAndMetrics(t *testing.T) {
	r := newTestRouter(t, &stubService{}, "")
	assert.Equal(t, http.StatusOK, do(r, http.MethodGet, "/healthz", nil, nil).Code)
	w := do(r, http.MethodGet, "/metrics", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "metrics", w.Body.String())
}

func TestRateLimitMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RateLimitMiddleware(1, 1))
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	assert.Equal(t, http.StatusOK, do(r, http.MethodGet, "/x", nil, nil).Code)
	assert.Equal(t, http.StatusTooManyRequests, do(r, http.MethodGet, "/x", nil, nil).Code)
}
