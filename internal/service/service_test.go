package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/richardliu001/order-service/internal/events"
	"github.com/richardliu001/order-service/internal/gateway"
	"github.com/richardliu001/order-service/internal/model"
	"github.com/richardliu001/order-service/internal/repo"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type fakeGateway struct {
	mu         sync.Mutex
	prepareErr error
	fetchErr   error
	cancelErr  error
	info       *gateway.PaymentInfo
	prepared   []gateway.PrepareRequest
	fetched    []string
	cancels    []gateway.CancelRequest
}

func (g *fakeGateway) Prepare(_ context.Context, req gateway.PrepareRequest) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.prepareErr != nil {
		return "", g.prepareErr
	}
	g.prepared = append(g.prepared, req)
	return "ref-" + req.PaymentID, nil
}

func (g *fakeGateway) Fetch(_ context.Context, paymentID string) (*gateway.PaymentInfo, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.fetched = append(g.fetched, paymentID)
	if g.fetchErr != nil {
		return nil, g.fetchErr
	}
	info := *g.info
	info.PaymentID = paymentID
	return &info, nil
}

func (g *fakeGateway) Cancel(_ context.Context, req gateway.CancelRequest) (*gateway.CancelConfirmation, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.cancelErr != nil {
		return nil, g.cancelErr
	}
	g.cancels = append(g.cancels, req)
	return &gateway.CancelConfirmation{PaymentID: req.PaymentID, CancelledAmount: req.Amount, CancelledAt: time.Now()}, nil
}

func (g *fakeGateway) cancelCalls() []gateway.CancelRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]gateway.CancelRequest(nil), g.cancels...)
}

// recordingPublisher keeps the event type of every published message.
type recordingPublisher struct {
	mu    sync.Mutex
	err   error
	types []string
}

func (p *recordingPublisher) Publish(_ context.Context, _, _ string, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(payload, &head); err != nil {
		return err
	}
	p.types = append(p.types, head.Type)
	return nil
}

func (p *recordingPublisher) published() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.types...)
}

func (p *recordingPublisher) count(typ string) int {
	n := 0
	for _, t := range p.published() {
		if t == typ {
			n++
		}
	}
	return n
}

type fixture struct {
	svc  *OrderService
	repo *repo.Repository
	db   *gorm.DB
	gw   *fakeGateway
	pub  *recordingPublisher
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(model.All()...))
	t.Cleanup(func() { _ = sqlDB.Close() })

	log := zaptest.NewLogger(t).Sugar()
	r := repo.NewRepository(db, nil, log)
	gw := &fakeGateway{info: &gateway.PaymentInfo{Status: gateway.StatusPaid, Amount: decimal.NewFromInt(10000)}}
	pub := &recordingPublisher{}
	coord := events.NewCoordinator(pub, r, events.Topics{Stock: "stock-events", Notification: "notification-events"}, log)

	svc := NewOrderService(r, gw, coord, opts, log)
	var tick atomic.Int64
	t0 := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return t0.Add(time.Duration(tick.Add(1)) * time.Second) }

	return &fixture{svc: svc, repo: r, db: db, gw: gw, pub: pub}
}

// createOrder places p1 x2 @3000 and p2 x1 @4000.
func (f *fixture) createOrder(t *testing.T) (*model.Order, *model.Payment) {
	t.Helper()
	ctx := context.Background()
	o, err := f.svc.CreateOrder(ctx, CreateOrderCmd{
		UserID:  "user-1",
		StoreID: "store-1",
		Lines: []LineInput{
			{ProductID: "p1", Quantity: 2, UnitPrice: decimal.NewFromInt(3000)},
			{ProductID: "p2", Quantity: 1, UnitPrice: decimal.NewFromInt(4000)},
		},
		Buyer: gateway.Buyer{Name: "Kim", Email: "kim@example.com"},
	})
	require.NoError(t, err)
	p, err := f.svc.GetPayment(ctx, o.ID)
	require.NoError(t, err)
	return o, p
}

func (f *fixture) paid(t *testing.T, p *model.Payment, webhookID string) Ack {
	t.Helper()
	ack, err := f.svc.HandleWebhook(context.Background(), WebhookPayload{
		WebhookID: webhookID, PaymentID: p.ID, Type: model.WebhookPaid,
		PGTransactionID: "tx-" + webhookID, PGProvider: "card",
	})
	require.NoError(t, err)
	return ack
}

func (f *fixture) statuses(t *testing.T, orderID string) []model.OrderStatus {
	t.Helper()
	rows, err := f.svc.GetHistory(context.Background(), orderID)
	require.NoError(t, err)
	out := make([]model.OrderStatus, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.Status)
	}
	return out
}

func (f *fixture) ledgerSize(t *testing.T) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.db.Model(&model.ProcessedWebhook{}).Count(&n).Error)
	return n
}

// settledAt counts the terminal timestamps set on a payment.
func settledAt(p *model.Payment) int {
	n := 0
	for _, ts := range []*time.Time{p.PaidAt, p.FailedAt, p.CancelledAt} {
		if ts != nil {
			n++
		}
	}
	return n
}
