package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/richardliu001/order-service/internal/events"
	"github.com/richardliu001/order-service/internal/gateway"
	"github.com/richardliu001/order-service/internal/model"
	"github.com/richardliu001/order-service/internal/repo"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var tracer = otel.Tracer("service/order")

// Dispatcher receives every committed transition.
type Dispatcher interface {
	Dispatch(ctx context.Context, t events.Transition)
}

type Options struct {
	// PGProvider is recorded on every new payment.
	PGProvider string
	// VerifyWebhooks confirms "paid" webhooks with Gateway.Fetch before applying them.
	VerifyWebhooks bool
}

// OrderService is the order/payment state machine.
type OrderService struct {
	repo    repo.RepositoryInterface
	gw      gateway.Gateway
	events  Dispatcher
	opts    Options
	log     *zap.SugaredLogger
	metrics *metrics
	now     func() time.Time
}

// NewOrderService returns OrderService.
func NewOrderService(r repo.RepositoryInterface, gw gateway.Gateway, d Dispatcher, opts Options, logger *zap.SugaredLogger) *OrderService {
	if opts.PGProvider == "" {
		opts.PGProvider = "default"
	}
	return &OrderService{
		repo:    r,
		gw:      gw,
		events:  d,
		opts:    opts,
		log:     logger,
		metrics: newMetrics(),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

type LineInput struct {
	ProductID string          `json:"product_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

type CreateOrderCmd struct {
	UserID  string        `json:"user_id"`
	StoreID string        `json:"store_id"`
	Lines   []LineInput   `json:"lines"`
	Buyer   gateway.Buyer `json:"buyer"`
}

func (c CreateOrderCmd) validate() error {
	if strings.TrimSpace(c.UserID) == "" {
		return validationf("user_id is required")
	}
	if strings.TrimSpace(c.StoreID) == "" {
		return validationf("store_id is required")
	}
	if len(c.Lines) == 0 {
		return validationf("at least one line is required")
	}
	for i, l := range c.Lines {
		if strings.TrimSpace(l.ProductID) == "" {
			return validationf("line %d: product_id is required", i+1)
		}
		if l.Quantity <= 0 {
			return validationf("line %d: quantity must be positive", i+1)
		}
		if l.UnitPrice.IsNegative() {
			return validationf("line %d: unit_price must not be negative", i+1)
		}
	}
	return nil
}

// CreateOrder registers the payment at the gateway, then persists the order
// (PENDING) and payment (READY) in one transaction.
func (s *OrderService) CreateOrder(ctx context.Context, cmd CreateOrderCmd) (*model.Order, error) {
	if err := cmd.validate(); err != nil {
		return nil, err
	}
	ctx, span := tracer.Start(ctx, "CreateOrder")
	defer span.End()

	o := &model.Order{
		ID:      uuid.NewString(),
		UserID:  cmd.UserID,
		StoreID: cmd.StoreID,
		Status:  model.OrderPending,
	}
	total := decimal.Zero
	for _, l := range cmd.Lines {
		line := model.OrderLine{ProductID: l.ProductID, Quantity: l.Quantity, UnitPrice: l.UnitPrice}
		total = total.Add(line.Subtotal())
		o.Lines = append(o.Lines, line)
	}
	if !total.IsPositive() {
		return nil, validationf("order total must be positive")
	}
	o.TotalAmount = total
	p := &model.Payment{
		ID:         "pay_" + strings.ReplaceAll(o.ID, "-", ""),
		OrderID:    o.ID,
		PGProvider: s.opts.PGProvider,
		Amount:     total,
		Status:     model.PaymentReady,
	}
	span.SetAttributes(attribute.String("order.id", o.ID))

	ref, err := s.gw.Prepare(ctx, gateway.PrepareRequest{PaymentID: p.ID, Amount: total, Buyer: cmd.Buyer})
	if err != nil {
		s.log.Warnw("prepare payment failed", "order_id", o.ID, "error", err)
		return nil, gatewayErr(err)
	}
	p.GatewayRef = ref

	now := s.now()
	err = s.repo.DB(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.CreateAggregate(ctx, tx, o, p); err != nil {
			return err
		}
		return s.repo.AppendTimestamp(ctx, tx, o.ID, model.OrderPending, now)
	})
	if err != nil {
		return nil, err
	}

	s.metrics.transition(ctx, "", model.OrderPending, TriggerCreate)
	s.log.Infow("order created", "order_id", o.ID, "payment_id", p.ID, "user_id", o.UserID, "amount", total.String())
	return o, nil
}

type CancelOrderCmd struct {
	OrderID string
	Reason  string
	// Actor identifies who asked, e.g. "user:42" or "admin:ops".
	Actor string
}

// CancelOrder cancels at the gateway first and commits locally only on
// gateway confirmation. Row locks on order and payment are held across the
// gateway call so a racing webhook observes either the old or the final state.
func (s *OrderService) CancelOrder(ctx context.Context, cmd CancelOrderCmd) (*model.Order, error) {
	if strings.TrimSpace(cmd.OrderID) == "" {
		return nil, validationf("order id is required")
	}
	if strings.TrimSpace(cmd.Reason) == "" {
		return nil, validationf("reason is required")
	}
	if strings.TrimSpace(cmd.Actor) == "" {
		return nil, validationf("actor is required")
	}
	ctx, span := tracer.Start(ctx, "CancelOrder")
	defer span.End()
	span.SetAttributes(attribute.String("order.id", cmd.OrderID))

	var tr events.Transition
	err := s.repo.DB(ctx).Transaction(func(tx *gorm.DB) error {
		o, err := s.repo.GetOrderForUpdate(ctx, tx, cmd.OrderID)
		if err != nil {
			return storeErr(err, "order "+cmd.OrderID)
		}
		p, err := s.repo.GetPaymentByOrderForUpdate(ctx, tx, o.ID)
		if err != nil {
			return storeErr(err, "payment of order "+o.ID)
		}
		to, err := next(TriggerCancel, o.Status, p.Status)
		if err != nil {
			return err
		}

		conf, err := s.gw.Cancel(ctx, gateway.CancelRequest{PaymentID: p.ID, Amount: p.Amount, Reason: cmd.Reason})
		if err != nil {
			s.log.Warnw("gateway cancel failed", "order_id", o.ID, "payment_id", p.ID, "error", err)
			return gatewayErr(err)
		}
		if conf.CancelledAmount.GreaterThan(p.Amount) {
			s.log.Errorw("gateway cancelled more than paid", "order_id", o.ID,
				"amount", p.Amount.String(), "cancelled", conf.CancelledAmount.String())
		}

		now := s.now()
		p.MarkCancelled(now, cmd.Reason, cmd.Actor)
		tr = events.Transition{From: o.Status, To: to, Reason: cmd.Reason, RestoreStock: p.StockDecremented, At: now}
		if err := s.apply(ctx, tx, o, p, to, now); err != nil {
			return err
		}
		tr.Order = *o
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.committed(ctx, tr, TriggerCancel, "actor", cmd.Actor)
	return &tr.Order, nil
}

// AdvanceOrder moves a paid order through the store-side states.
func (s *OrderService) AdvanceOrder(ctx context.Context, orderID string, to model.OrderStatus) (*model.Order, error) {
	if strings.TrimSpace(orderID) == "" {
		return nil, validationf("order id is required")
	}
	trigger, ok := advanceTrigger(to)
	if !ok {
		return nil, validationf("cannot advance to %q", to)
	}
	ctx, span := tracer.Start(ctx, "AdvanceOrder")
	defer span.End()
	span.SetAttributes(attribute.String("order.id", orderID), attribute.String("order.next", string(to)))

	var tr events.Transition
	err := s.repo.DB(ctx).Transaction(func(tx *gorm.DB) error {
		o, err := s.repo.GetOrderForUpdate(ctx, tx, orderID)
		if err != nil {
			return storeErr(err, "order "+orderID)
		}
		target, err := next(trigger, o.Status, "")
		if err != nil {
			return err
		}
		now := s.now()
		tr = events.Transition{From: o.Status, To: target, At: now}
		if err := s.apply(ctx, tx, o, nil, target, now); err != nil {
			return err
		}
		tr.Order = *o
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.committed(ctx, tr, trigger)
	return &tr.Order, nil
}

// GetOrder reads through the Redis cache. Commits overwrite the cached
// snapshot; reads only fill an empty slot.
func (s *OrderService) GetOrder(ctx context.Context, orderID string) (*model.Order, error) {
	if o, err := s.repo.GetCachedOrder(ctx, orderID); err == nil {
		return o, nil
	} else if !errors.Is(err, redis.Nil) {
		s.log.Warnw("order cache read", "order_id", orderID, "error", err)
	}
	o, err := s.repo.GetOrder(ctx, nil, orderID)
	if err != nil {
		return nil, storeErr(err, "order "+orderID)
	}
	if err := s.repo.FillOrderCache(ctx, o); err != nil {
		s.log.Warn(err)
	}
	return o, nil
}

// GetPayment returns the payment of an order.
func (s *OrderService) GetPayment(ctx context.Context, orderID string) (*model.Payment, error) {
	p, err := s.repo.GetPaymentByOrder(ctx, nil, orderID)
	if err != nil {
		return nil, storeErr(err, "payment of order "+orderID)
	}
	return p, nil
}

// GetHistory returns the status history of an order, oldest first.
func (s *OrderService) GetHistory(ctx context.Context, orderID string) ([]model.OrderTimestamp, error) {
	if _, err := s.repo.GetOrder(ctx, nil, orderID); err != nil {
		return nil, storeErr(err, "order "+orderID)
	}
	return s.repo.History(ctx, orderID)
}

// apply writes payment (when non-nil), the order status and one history row
// inside tx.
func (s *OrderService) apply(ctx context.Context, tx *gorm.DB, o *model.Order, p *model.Payment, to model.OrderStatus, at time.Time) error {
	if p != nil {
		p.UpdatedAt = at
		if err := s.repo.SavePayment(ctx, tx, p); err != nil {
			return err
		}
	}
	if err := s.repo.UpdateOrderStatus(ctx, tx, o, to, at); err != nil {
		return storeErr(err, "order "+o.ID)
	}
	return s.repo.AppendTimestamp(ctx, tx, o.ID, to, at)
}

// committed runs the post-commit effects of a transition.
func (s *OrderService) committed(ctx context.Context, tr events.Transition, trigger Trigger, kv ...interface{}) {
	if err := s.repo.CacheOrder(ctx, &tr.Order); err != nil {
		s.log.Warnw("order cache write", "order_id", tr.Order.ID, "error", err)
		if err := s.repo.InvalidateOrder(ctx, tr.Order.ID); err != nil {
			s.log.Warn(err)
		}
	}
	s.metrics.transition(ctx, tr.From, tr.To, trigger)
	fields := append([]interface{}{"order_id", tr.Order.ID, "from", tr.From, "to", tr.To, "trigger", trigger}, kv...)
	s.log.Infow("order transition", fields...)
	s.events.Dispatch(ctx, tr)
}
