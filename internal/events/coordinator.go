package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/richardliu001/order-service/internal/model"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// Publisher sends one serialized event to a topic.
type Publisher interface {
	Publish(ctx context.Context, topic, key string, payload []byte) error
}

// Outbox stores events whose publish failed so cmd/poller can replay them.
type Outbox interface {
	CreateOutboxEvent(ctx context.Context, evt *model.OutboxEvent) error
}

// Transition is a committed state change, snapshotted after commit.
type Transition struct {
	Order  model.Order
	From   model.OrderStatus
	To     model.OrderStatus
	Reason string
	// DecreaseStock is true only for the commit that set Payment.StockDecremented.
	DecreaseStock bool
	// RestoreStock is true when a cancellation found Payment.StockDecremented set.
	RestoreStock bool
	At           time.Time
}

// Message is one outbound event ready for the wire.
type Message struct {
	Topic   string
	Key     string
	Type    string
	Payload []byte
}

type Topics struct {
	Stock        string
	Notification string
}

// Coordinator turns committed transitions into downstream events.
type Coordinator struct {
	pub      Publisher
	outbox   Outbox
	topics   Topics
	log      *zap.SugaredLogger
	failures metric.Int64Counter
	newID    func() string
}

// NewCoordinator wires a coordinator. outbox may be nil.
func NewCoordinator(pub Publisher, outbox Outbox, topics Topics, logger *zap.SugaredLogger) *Coordinator {
	failures, _ := otel.Meter("events/coordinator").Int64Counter("events_publish_failures_total",
		metric.WithDescription("Downstream events that could not be published after commit"))
	return &Coordinator{
		pub:      pub,
		outbox:   outbox,
		topics:   topics,
		log:      logger,
		failures: failures,
		newID:    uuid.NewString,
	}
}

// Build returns the events for t: at most one stock event and one notification.
func (c *Coordinator) Build(t Transition) ([]Message, error) {
	var msgs []Message
	o := t.Order

	var stockType StockEventType
	switch {
	case t.DecreaseStock:
		stockType = StockDecrease
	case t.RestoreStock:
		stockType = StockIncrease
	}
	if stockType != "" {
		items := make([]StockItem, 0, len(o.Lines))
		for _, l := range o.Lines {
			items = append(items, StockItem{ProductID: l.ProductID, Quantity: l.Quantity})
		}
		payload, err := json.Marshal(StockEvent{
			EventID: c.newID(), Type: stockType, OrderID: o.ID, StoreID: o.StoreID,
			Items: items, OccurredAt: t.At,
		})
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, Message{Topic: c.topics.Stock, Key: o.ID, Type: string(stockType), Payload: payload})
	}

	if nt, ok := notificationFor(t.To); ok {
		payload, err := json.Marshal(NotificationEvent{
			EventID: c.newID(), Type: nt, UserID: o.UserID, OrderID: o.ID, StoreID: o.StoreID,
			Amount: o.TotalAmount, Reason: t.Reason, OccurredAt: t.At,
		})
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, Message{Topic: c.topics.Notification, Key: o.UserID, Type: string(nt), Payload: payload})
	}
	return msgs, nil
}

func notificationFor(to model.OrderStatus) (NotificationType, bool) {
	switch to {
	case model.OrderPaid:
		return NotifyPaid, true
	case model.OrderFailed:
		return NotifyFailed, true
	case model.OrderPreparing:
		return NotifyPreparing, true
	case model.OrderPrepared:
		return NotifyPrepared, true
	case model.OrderCancelled:
		return NotifyCancelled, true
	}
	return "", false
}

// Dispatch publishes the events of a committed transition. Failures are
// logged and outboxed; the committed state is never touched.
func (c *Coordinator) Dispatch(ctx context.Context, t Transition) {
	msgs, err := c.Build(t)
	if err != nil {
		c.log.Errorw("build events", "order_id", t.Order.ID, "error", err)
		return
	}
	for _, m := range msgs {
		if err := c.pub.Publish(ctx, m.Topic, m.Key, m.Payload); err != nil {
			c.failures.Add(ctx, 1, metric.WithAttributes(attribute.String("topic", m.Topic)))
			c.log.Errorw("publish event", "order_id", t.Order.ID, "topic", m.Topic, "type", m.Type, "error", err)
			c.park(ctx, m)
			continue
		}
		c.log.Infow("event published", "order_id", t.Order.ID, "topic", m.Topic, "type", m.Type)
	}
}

func (c *Coordinator) park(ctx context.Context, m Message) {
	if c.outbox == nil {
		return
	}
	evt := &model.OutboxEvent{Topic: m.Topic, Key: m.Key, EventType: m.Type, Payload: string(m.Payload)}
	if err := c.outbox.CreateOutboxEvent(context.WithoutCancel(ctx), evt); err != nil {
		c.log.Errorw("outbox event", "topic", m.Topic, "type", m.Type, "error", err)
	}
}
