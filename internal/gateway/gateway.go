package gateway

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrUnavailable covers timeouts, transport failures and 5xx answers.
	ErrUnavailable = errors.New("payment gateway unavailable")
	// ErrPaymentNotFound is a 404 from the gateway.
	ErrPaymentNotFound = errors.New("payment not found at gateway")
	// ErrRejected is any other 4xx from the gateway.
	ErrRejected = errors.New("payment gateway rejected request")
)

// Status values reported by Fetch.
const (
	StatusReady     = "ready"
	StatusPaid      = "paid"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

type Buyer struct {
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
}

type PrepareRequest struct {
	PaymentID string          `json:"payment_id"`
	Amount    decimal.Decimal `json:"amount"`
	Buyer     Buyer           `json:"buyer"`
}

type PaymentInfo struct {
	PaymentID     string          `json:"payment_id"`
	TransactionID string          `json:"pg_tx_id"`
	Provider      string          `json:"pg_provider"`
	Status        string          `json:"status"`
	Amount        decimal.Decimal `json:"amount"`
	FailReason    string          `json:"fail_reason,omitempty"`
	PaidAt        *time.Time      `json:"paid_at,omitempty"`
}

type CancelRequest struct {
	PaymentID string          `json:"-"`
	Amount    decimal.Decimal `json:"amount"`
	Reason    string          `json:"reason"`
}

type CancelConfirmation struct {
	PaymentID       string          `json:"payment_id"`
	CancelledAmount decimal.Decimal `json:"cancelled_amount"`
	CancelledAt     time.Time       `json:"cancelled_at"`
}

// Gateway is the synchronous payment gateway contract the order service depends on.
type Gateway interface {
	Prepare(ctx context.Context, req PrepareRequest) (string, error)
	Fetch(ctx context.Context, paymentID string) (*PaymentInfo, error)
	Cancel(ctx context.Context, req CancelRequest) (*CancelConfirmation, error)
}
