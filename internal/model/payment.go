package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type PaymentStatus string

const (
	PaymentReady     PaymentStatus = "READY"
	PaymentPaid      PaymentStatus = "PAID"
	PaymentFailed    PaymentStatus = "FAILED"
	PaymentCancelled PaymentStatus = "CANCELLED"
)

// Payment mirrors the gateway-side payment of an order. ID is the merchant
// identifier handed to the gateway at prepare time.
type Payment struct {
	ID              string          `gorm:"primaryKey;size:64" json:"id"`
	OrderID         string          `gorm:"size:36;not null;uniqueIndex" json:"order_id"`
	PGProvider      string          `gorm:"column:pg_provider;size:32;not null" json:"pg_provider"`
	PGTransactionID *string         `gorm:"column:pg_transaction_id;size:128" json:"pg_transaction_id,omitempty"`
	GatewayRef      string          `gorm:"size:128" json:"-"`
	Amount          decimal.Decimal `gorm:"type:numeric(20,8);not null" json:"amount"`
	Status          PaymentStatus   `gorm:"size:16;not null" json:"status"`
	PaidAt          *time.Time      `json:"paid_at,omitempty"`
	FailedAt        *time.Time      `json:"failed_at,omitempty"`
	CancelledAt     *time.Time      `json:"cancelled_at,omitempty"`
	FailReason      *string         `gorm:"size:255" json:"fail_reason,omitempty"`
	CancelReason    *string         `gorm:"size:255" json:"cancel_reason,omitempty"`
	CancelledBy     *string         `gorm:"size:64" json:"cancelled_by,omitempty"`
	// StockDecremented is set in the same commit that emits the stock-decrease
	// event, so compensation never has to be inferred from order status.
	StockDecremented bool      `gorm:"not null;default:false" json:"-"`
	CreatedAt        time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Payment) TableName() string { return "payment" }

// MarkPaid moves the payment to PAID. The terminal timestamps are kept
// mutually exclusive: setting one clears the others.
func (p *Payment) MarkPaid(at time.Time, pgTxID string) {
	p.Status = PaymentPaid
	p.PaidAt, p.FailedAt, p.CancelledAt = &at, nil, nil
	if pgTxID != "" {
		p.PGTransactionID = &pgTxID
	}
	p.StockDecremented = true
}

func (p *Payment) MarkFailed(at time.Time, reason string) {
	p.Status = PaymentFailed
	p.PaidAt, p.FailedAt, p.CancelledAt = nil, &at, nil
	p.FailReason = &reason
}

// MarkCancelled clears PaidAt of a paid payment; the paid instant stays in
// the order's status history.
func (p *Payment) MarkCancelled(at time.Time, reason, by string) {
	p.Status = PaymentCancelled
	p.PaidAt, p.FailedAt, p.CancelledAt = nil, nil, &at
	p.CancelReason = &reason
	p.CancelledBy = &by
}
