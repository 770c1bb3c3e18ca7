package model

import "time"

// OrderTimestamp is one append-only row per committed order status change.
type OrderTimestamp struct {
	ID        uint64      `gorm:"primaryKey" json:"-"`
	OrderID   string      `gorm:"size:36;not null;index" json:"order_id"`
	Status    OrderStatus `gorm:"size:16;not null" json:"status"`
	UpdatedAt time.Time   `gorm:"not null" json:"updated_at"`
}

func (OrderTimestamp) TableName() string { return "order_timestamp" }

type WebhookType string

const (
	WebhookPaid      WebhookType = "paid"
	WebhookFailed    WebhookType = "failed"
	WebhookCancelled WebhookType = "cancelled"
)

// ProcessedWebhook is the idempotency ledger. Its existence is the only
// duplicate guard, so rows are never updated.
type ProcessedWebhook struct {
	WebhookID  string      `gorm:"primaryKey;size:128"`
	PaymentID  string      `gorm:"size:64;not null;index"`
	EventType  WebhookType `gorm:"size:16;not null"`
	ReceivedAt time.Time   `gorm:"not null"`
}

func (ProcessedWebhook) TableName() string { return "processed_webhook" }
