package events

import (
	"time"

	"github.com/shopspring/decimal"
)

type StockEventType string

const (
	StockDecrease StockEventType = "stock.decrease"
	StockIncrease StockEventType = "stock.increase"
)

type NotificationType string

const (
	NotifyPaid      NotificationType = "order.paid"
	NotifyFailed    NotificationType = "order.failed"
	NotifyPreparing NotificationType = "order.preparing"
	NotifyPrepared  NotificationType = "order.prepared"
	NotifyCancelled NotificationType = "order.cancelled"
)

type StockItem struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

// StockEvent is keyed by order id on the stock topic.
type StockEvent struct {
	EventID    string         `json:"event_id"`
	Type       StockEventType `json:"type"`
	OrderID    string         `json:"order_id"`
	StoreID    string         `json:"store_id"`
	Items      []StockItem    `json:"items"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// NotificationEvent is keyed by user id on the notification topic.
type NotificationEvent struct {
	EventID    string           `json:"event_id"`
	Type       NotificationType `json:"type"`
	UserID     string           `json:"user_id"`
	OrderID    string           `json:"order_id"`
	StoreID    string           `json:"store_id"`
	Amount     decimal.Decimal  `json:"amount"`
	Reason     string           `json:"reason,omitempty"`
	OccurredAt time.Time        `json:"occurred_at"`
}
