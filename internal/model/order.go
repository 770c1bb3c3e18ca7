package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderPending   OrderStatus = "PENDING"
	OrderPaid      OrderStatus = "PAID"
	OrderPreparing OrderStatus = "PREPARING"
	OrderPrepared  OrderStatus = "PREPARED"
	OrderCompleted OrderStatus = "COMPLETED"
	OrderCancelled OrderStatus = "CANCELLED"
	OrderFailed    OrderStatus = "FAILED"
)

type Order struct {
	ID          string          `gorm:"primaryKey;size:36" json:"id"`
	UserID      string          `gorm:"size:64;not null;index" json:"user_id"`
	StoreID     string          `gorm:"size:64;not null;index" json:"store_id"`
	Status      OrderStatus     `gorm:"size:16;not null" json:"status"`
	TotalAmount decimal.Decimal `gorm:"type:numeric(20,8);not null" json:"total_amount"`
	Lines       []OrderLine     `gorm:"foreignKey:OrderID;references:ID" json:"lines"`
	Version     uint64          `gorm:"not null;default:0" json:"-"`
	CreatedAt   time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Order) TableName() string { return "orders" }

// OrderLine is written once together with its order and never updated.
type OrderLine struct {
	ID        uint64          `gorm:"primaryKey" json:"-"`
	OrderID   string          `gorm:"size:36;not null;index" json:"-"`
	LineNo    int             `gorm:"not null" json:"-"`
	ProductID string          `gorm:"size:64;not null" json:"product_id"`
	Quantity  int             `gorm:"not null" json:"quantity"`
	UnitPrice decimal.Decimal `gorm:"type:numeric(20,8);not null" json:"unit_price"`
}

func (OrderLine) TableName() string { return "order_line" }

// Subtotal is quantity times unit price.
func (l OrderLine) Subtotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}
