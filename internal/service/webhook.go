package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/richardliu001/order-service/internal/events"
	"github.com/richardliu001/order-service/internal/gateway"
	"github.com/richardliu001/order-service/internal/model"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"
)

const amountMismatch = "amount mismatch"

// WebhookPayload is one gateway delivery.
type WebhookPayload struct {
	WebhookID       string            `json:"webhook_id"`
	PaymentID       string            `json:"payment_id"`
	Type            model.WebhookType `json:"type"`
	PGTransactionID string            `json:"pg_tx_id"`
	PGProvider      string            `json:"pg_provider"`
	Reason          string            `json:"reason"`
}

func (p WebhookPayload) validate() error {
	if strings.TrimSpace(p.WebhookID) == "" {
		return validationf("webhook_id is required")
	}
	if strings.TrimSpace(p.PaymentID) == "" {
		return validationf("payment_id is required")
	}
	switch p.Type {
	case model.WebhookPaid, model.WebhookFailed, model.WebhookCancelled:
	default:
		return validationf("unknown webhook type %q", p.Type)
	}
	return nil
}

// Ack is returned for every accepted delivery, including duplicates and
// deliveries that no longer apply.
type Ack struct {
	WebhookID string       `json:"webhook_id"`
	Duplicate bool         `json:"duplicate,omitempty"`
	Ignored   bool         `json:"ignored,omitempty"`
	Order     *model.Order `json:"order,omitempty"`
}

// HandleWebhook claims the delivery in the idempotency ledger and applies it
// in the same transaction.
func (s *OrderService) HandleWebhook(ctx context.Context, p WebhookPayload) (Ack, error) {
	if err := p.validate(); err != nil {
		s.metrics.webhook(ctx, "invalid")
		return Ack{}, err
	}
	ctx, span := tracer.Start(ctx, "HandleWebhook")
	defer span.End()
	span.SetAttributes(
		attribute.String("webhook.id", p.WebhookID),
		attribute.String("webhook.type", string(p.Type)),
		attribute.String("payment.id", p.PaymentID),
	)

	if !s.opts.VerifyWebhooks || p.Type != model.WebhookPaid {
		return s.applyWebhook(ctx, p, nil, nil)
	}
	info, err := s.gw.Fetch(ctx, p.PaymentID)
	switch {
	case errors.Is(err, gateway.ErrPaymentNotFound), errors.Is(err, gateway.ErrRejected):
		// The gateway answered; redelivery would get the same answer.
		return s.applyWebhook(ctx, p, nil, gatewayErr(err))
	case err != nil:
		s.log.Warnw("webhook verification failed", "webhook_id", p.WebhookID, "payment_id", p.PaymentID, "error", err)
		s.metrics.webhook(ctx, "error")
		return Ack{}, gatewayErr(err)
	case info.Status == gateway.StatusReady:
		s.log.Infow("paid webhook ahead of gateway", "webhook_id", p.WebhookID, "payment_id", p.PaymentID)
		s.metrics.webhook(ctx, "unconfirmed")
		return Ack{}, fmt.Errorf("%w: payment %s", ErrPaymentUnconfirmed, p.PaymentID)
	}
	return s.applyWebhook(ctx, p, info, nil)
}

// ReconcilePayment asks the gateway for the status of a PENDING order's
// payment and applies it as a synthetic webhook.
func (s *OrderService) ReconcilePayment(ctx context.Context, orderID string) (Ack, error) {
	if strings.TrimSpace(orderID) == "" {
		return Ack{}, validationf("order id is required")
	}
	ctx, span := tracer.Start(ctx, "ReconcilePayment")
	defer span.End()
	span.SetAttributes(attribute.String("order.id", orderID))

	o, err := s.repo.GetOrder(ctx, nil, orderID)
	if err != nil {
		return Ack{}, storeErr(err, "order "+orderID)
	}
	if o.Status != model.OrderPending {
		return Ack{Ignored: true, Order: o}, nil
	}
	pay, err := s.repo.GetPaymentByOrder(ctx, nil, orderID)
	if err != nil {
		return Ack{}, storeErr(err, "payment of order "+orderID)
	}
	info, err := s.gw.Fetch(ctx, pay.ID)
	if err != nil {
		return Ack{}, gatewayErr(err)
	}

	var typ model.WebhookType
	switch info.Status {
	case gateway.StatusPaid:
		typ = model.WebhookPaid
	case gateway.StatusFailed:
		typ = model.WebhookFailed
	case gateway.StatusCancelled:
		typ = model.WebhookCancelled
	default:
		s.log.Debugw("payment still open at gateway", "order_id", orderID, "payment_id", pay.ID, "status", info.Status)
		return Ack{Ignored: true, Order: o}, nil
	}
	s.log.Infow("reconciling payment", "order_id", orderID, "payment_id", pay.ID, "status", info.Status)
	return s.applyWebhook(ctx, WebhookPayload{
		WebhookID:       "reconcile:" + pay.ID + ":" + string(typ),
		PaymentID:       pay.ID,
		Type:            typ,
		PGTransactionID: info.TransactionID,
		PGProvider:      info.Provider,
		Reason:          info.FailReason,
	}, info, nil)
}

// applyWebhook runs claim and mutation in one transaction. info is the
// gateway's view of the payment when it was fetched, otherwise nil. A
// non-nil verifyErr claims the delivery and ignores it.
func (s *OrderService) applyWebhook(ctx context.Context, p WebhookPayload, info *gateway.PaymentInfo, verifyErr error) (Ack, error) {
	ack := Ack{WebhookID: p.WebhookID}
	var (
		tr      events.Transition
		trigger Trigger
	)
	err := s.repo.DB(ctx).Transaction(func(tx *gorm.DB) error {
		pay, err := s.repo.GetPayment(ctx, tx, p.PaymentID)
		if err != nil {
			return storeErr(err, "payment "+p.PaymentID)
		}
		claimed, err := s.repo.ClaimWebhook(ctx, tx, &model.ProcessedWebhook{
			WebhookID:  p.WebhookID,
			PaymentID:  p.PaymentID,
			EventType:  p.Type,
			ReceivedAt: s.now(),
		})
		if err != nil {
			return err
		}
		if !claimed {
			return ErrDuplicateWebhook
		}

		if verifyErr != nil {
			s.log.Warnw("webhook refused by gateway", "webhook_id", p.WebhookID, "payment_id", pay.ID, "error", verifyErr)
			ack.Ignored = true
			return nil
		}

		o, err := s.repo.GetOrderForUpdate(ctx, tx, pay.OrderID)
		if err != nil {
			return storeErr(err, "order "+pay.OrderID)
		}
		if pay, err = s.repo.GetPaymentByOrderForUpdate(ctx, tx, o.ID); err != nil {
			return storeErr(err, "payment of order "+o.ID)
		}

		trigger, p = s.resolve(p, pay, info)
		if trigger == "" {
			s.log.Warnw("webhook not confirmed by gateway", "webhook_id", p.WebhookID, "payment_id", pay.ID, "gateway_status", info.Status)
			ack.Ignored = true
			return nil
		}
		to, err := next(trigger, o.Status, pay.Status)
		if errors.Is(err, ErrIllegalTransition) {
			s.log.Warnw("webhook does not apply", "webhook_id", p.WebhookID, "order_id", o.ID,
				"order_status", o.Status, "payment_status", pay.Status, "type", p.Type)
			ack.Ignored = true
			return nil
		}
		if err != nil {
			return err
		}

		now := s.now()
		tr = events.Transition{From: o.Status, To: to, At: now}
		switch trigger {
		case TriggerWebhookPaid:
			pay.MarkPaid(now, p.PGTransactionID)
			tr.DecreaseStock = true
		case TriggerWebhookFailed:
			pay.MarkFailed(now, p.Reason)
			tr.Reason = p.Reason
		case TriggerWebhookCancelled:
			pay.MarkCancelled(now, p.Reason, "gateway")
			tr.Reason = p.Reason
			tr.RestoreStock = pay.StockDecremented
		}
		if err := s.apply(ctx, tx, o, pay, to, now); err != nil {
			return err
		}
		tr.Order = *o
		return nil
	})

	switch {
	case errors.Is(err, ErrDuplicateWebhook):
		s.log.Infow("duplicate webhook", "webhook_id", p.WebhookID, "payment_id", p.PaymentID)
		s.metrics.webhook(ctx, "duplicate")
		ack.Duplicate = true
		return ack, nil
	case err != nil:
		s.metrics.webhook(ctx, "error")
		return Ack{}, err
	case ack.Ignored:
		s.metrics.webhook(ctx, "ignored")
		return ack, nil
	}

	s.metrics.webhook(ctx, "applied")
	s.committed(ctx, tr, trigger, "webhook_id", p.WebhookID, "pg_provider", p.PGProvider)
	ack.Order = &tr.Order
	return ack, nil
}

// resolve picks the trigger for a delivery. A paid delivery whose gateway
// amount differs from the payment becomes a failure. An empty trigger means
// the gateway did not confirm the payment.
func (s *OrderService) resolve(p WebhookPayload, pay *model.Payment, info *gateway.PaymentInfo) (Trigger, WebhookPayload) {
	switch p.Type {
	case model.WebhookFailed:
		return TriggerWebhookFailed, p
	case model.WebhookCancelled:
		return TriggerWebhookCancelled, p
	}
	if info == nil {
		return TriggerWebhookPaid, p
	}
	if info.Status != gateway.StatusPaid {
		return "", p
	}
	if !info.Amount.Equal(pay.Amount) {
		s.log.Errorw("paid amount does not match payment", "payment_id", pay.ID,
			"expected", pay.Amount.String(), "gateway", info.Amount.String())
		p.Reason = amountMismatch
		return TriggerWebhookFailed, p
	}
	return TriggerWebhookPaid, p
}
