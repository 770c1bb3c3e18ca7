package service

import (
	"errors"
	"fmt"

	"github.com/richardliu001/order-service/internal/gateway"
	"github.com/richardliu001/order-service/internal/repo"
	"gorm.io/gorm"
)

var (
	// ErrIllegalTransition means the trigger does not apply to the current state.
	ErrIllegalTransition = errors.New("illegal transition")
	// ErrDuplicateWebhook marks a webhook id that was already claimed. It is
	// reported through Ack.Duplicate, never returned as a failure.
	ErrDuplicateWebhook = errors.New("duplicate webhook")
	// ErrGatewayUnavailable is a gateway call that may succeed when retried.
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")
	// ErrPaymentRejected is a gateway refusal that retrying will not change.
	ErrPaymentRejected = errors.New("payment rejected by gateway")
	// ErrPaymentUnconfirmed is a "paid" webhook the gateway still reports as
	// open. Nothing is claimed so the gateway redelivers it.
	ErrPaymentUnconfirmed = errors.New("payment not yet confirmed by gateway")
	// ErrValidation is malformed input, rejected before any state access.
	ErrValidation = errors.New("validation error")
	// ErrNotFound is an unknown order or payment id.
	ErrNotFound = errors.New("not found")
	// ErrConcurrentUpdate is an optimistic lock failure on the order row.
	ErrConcurrentUpdate = errors.New("concurrent update")
)

func validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// gatewayErr translates gateway client errors into service error kinds.
func gatewayErr(err error) error {
	switch {
	case errors.Is(err, gateway.ErrPaymentNotFound):
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	case errors.Is(err, gateway.ErrRejected):
		return fmt.Errorf("%w: %w", ErrPaymentRejected, err)
	}
	return fmt.Errorf("%w: %w", ErrGatewayUnavailable, err)
}

// storeErr translates repository errors into service error kinds.
func storeErr(err error, what string) error {
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return fmt.Errorf("%w: %s", ErrNotFound, what)
	case errors.Is(err, repo.ErrVersionConflict):
		return fmt.Errorf("%w: %s", ErrConcurrentUpdate, what)
	}
	return err
}
