package service

import (
	"testing"

	"github.com/richardliu001/order-service/internal/model"
	"github.com/stretchr/testify/assert"
)

func TestNext(t *testing.T) {
	tests := []struct {
		trigger Trigger
		order   model.OrderStatus
		payment model.PaymentStatus
		want    model.OrderStatus
		illegal bool
	}{
		{TriggerWebhookPaid, model.OrderPending, model.PaymentReady, model.OrderPaid, false},
		{TriggerWebhookPaid, model.OrderCancelled, model.PaymentCancelled, "", true},
		{TriggerWebhookPaid, model.OrderPending, model.PaymentCancelled, "", true},
		{TriggerWebhookFailed, model.OrderPending, model.PaymentReady, model.OrderFailed, false},
		{TriggerWebhookFailed, model.OrderPaid, model.PaymentPaid, "", true},
		{TriggerStoreAccept, model.OrderPaid, model.PaymentPaid, model.OrderPreparing, false},
		{TriggerStoreAccept, model.OrderPending, model.PaymentReady, "", true},
		{TriggerStoreReady, model.OrderPreparing, model.PaymentPaid, model.OrderPrepared, false},
		{TriggerComplete, model.OrderPrepared, model.PaymentPaid, model.OrderCompleted, false},
		{TriggerComplete, model.OrderPreparing, model.PaymentPaid, "", true},
		{TriggerCancel, model.OrderPending, model.PaymentReady, model.OrderCancelled, false},
		{TriggerCancel, model.OrderPaid, model.PaymentPaid, model.OrderCancelled, false},
		{TriggerCancel, model.OrderPreparing, model.PaymentPaid, model.OrderCancelled, false},
		{TriggerCancel, model.OrderPrepared, model.PaymentPaid, "", true},
		{TriggerCancel, model.OrderCompleted, model.PaymentPaid, "", true},
		{TriggerCancel, model.OrderCancelled, model.PaymentCancelled, "", true},
		{TriggerCancel, model.OrderFailed, model.PaymentFailed, "", true},
		{TriggerWebhookCancelled, model.OrderPaid, model.PaymentPaid, model.OrderCancelled, false},
		{TriggerCreate, model.OrderPending, model.PaymentReady, "", true},
	}
	for _, tt := range tests {
		t.Run(string(tt.trigger)+"/"+string(tt.order), func(t *testing.T) {
			got, err := next(tt.trigger, tt.order, tt.payment)
			if tt.illegal {
				assert.ErrorIs(t, err, ErrIllegalTransition)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAdvanceTrigger(t *testing.T) {
	tr, ok := advanceTrigger(model.OrderPrepared)
	assert.True(t, ok)
	assert.Equal(t, TriggerStoreReady, tr)

	_, ok = advanceTrigger(model.OrderCancelled)
	assert.False(t, ok)
}
