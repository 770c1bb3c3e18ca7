package service

import (
	"fmt"
	"slices"

	"github.com/richardliu001/order-service/internal/model"
)

// Trigger is the cause of a transition.
type Trigger string

const (
	TriggerCreate           Trigger = "create"
	TriggerWebhookPaid      Trigger = "webhook_paid"
	TriggerWebhookFailed    Trigger = "webhook_failed"
	TriggerWebhookCancelled Trigger = "webhook_cancelled"
	TriggerStoreAccept      Trigger = "store_accept"
	TriggerStoreReady       Trigger = "store_ready"
	TriggerComplete         Trigger = "complete"
	TriggerCancel           Trigger = "cancel"
)

type rule struct {
	from []model.OrderStatus
	// payment lists the payment states the trigger accepts; nil means any.
	payment []model.PaymentStatus
	to      model.OrderStatus
}

var cancellable = []model.OrderStatus{model.OrderPending, model.OrderPaid, model.OrderPreparing}

var rules = map[Trigger]rule{
	TriggerWebhookPaid: {
		from:    []model.OrderStatus{model.OrderPending},
		payment: []model.PaymentStatus{model.PaymentReady},
		to:      model.OrderPaid,
	},
	TriggerWebhookFailed: {
		from:    []model.OrderStatus{model.OrderPending},
		payment: []model.PaymentStatus{model.PaymentReady},
		to:      model.OrderFailed,
	},
	TriggerWebhookCancelled: {
		from:    cancellable,
		payment: []model.PaymentStatus{model.PaymentReady, model.PaymentPaid},
		to:      model.OrderCancelled,
	},
	TriggerCancel: {
		from:    cancellable,
		payment: []model.PaymentStatus{model.PaymentReady, model.PaymentPaid},
		to:      model.OrderCancelled,
	},
	TriggerStoreAccept: {from: []model.OrderStatus{model.OrderPaid}, to: model.OrderPreparing},
	TriggerStoreReady:  {from: []model.OrderStatus{model.OrderPreparing}, to: model.OrderPrepared},
	TriggerComplete:    {from: []model.OrderStatus{model.OrderPrepared}, to: model.OrderCompleted},
}

// next validates trigger against the current state and returns the new
// order status.
func next(t Trigger, order model.OrderStatus, payment model.PaymentStatus) (model.OrderStatus, error) {
	r, ok := rules[t]
	if !ok {
		return "", fmt.Errorf("%w: unknown trigger %q", ErrIllegalTransition, t)
	}
	if !slices.Contains(r.from, order) {
		return "", fmt.Errorf("%w: %s from order %s", ErrIllegalTransition, t, order)
	}
	if r.payment != nil && !slices.Contains(r.payment, payment) {
		return "", fmt.Errorf("%w: %s with payment %s", ErrIllegalTransition, t, payment)
	}
	return r.to, nil
}

// advanceTrigger maps a store-side target status to its trigger.
func advanceTrigger(to model.OrderStatus) (Trigger, bool) {
	switch to {
	case model.OrderPreparing:
		return TriggerStoreAccept, true
	case model.OrderPrepared:
		return TriggerStoreReady, true
	case model.OrderCompleted:
		return TriggerComplete, true
	}
	return "", false
}
