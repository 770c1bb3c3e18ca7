package service

import (
	"context"

	"github.com/richardliu001/order-service/internal/model"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

type metrics struct {
	transitions metric.Int64Counter
	webhooks    metric.Int64Counter
}

func newMetrics() *metrics {
	meter := otel.Meter("service/order")
	transitions, _ := meter.Int64Counter("orders_transitions_total",
		metric.WithDescription("Committed order status transitions"))
	webhooks, _ := meter.Int64Counter("payment_webhooks_total",
		metric.WithDescription("Gateway webhook deliveries by outcome"))
	return &metrics{transitions: transitions, webhooks: webhooks}
}

func (m *metrics) transition(ctx context.Context, from, to model.OrderStatus, t Trigger) {
	m.transitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("from", string(from)),
		attribute.String("to", string(to)),
		attribute.String("trigger", string(t)),
	))
}

func (m *metrics) webhook(ctx context.Context, outcome string) {
	m.webhooks.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}
