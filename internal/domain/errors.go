package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidProofFormat     = errors.New("invalid payment proof format")
	ErrOrderNotFound          = errors.New("order not found")
	ErrInvalidTransition      = errors.New("order is not eligible for this action")
	ErrStatusConflict         = errors.New("order status changed concurrently")
	ErrPersistenceUnavailable = errors.New("persistence unavailable")
	ErrProductNotFound        = errors.New("product not found")
	ErrReasonRequired         = errors.New("rejection reason required")
	ErrForbidden              = errors.New("forbidden")
	ErrInvalidID              = errors.New("invalid id")
	ErrNoSourceFiles          = errors.New("no source files")
	ErrDuplicateOrder         = errors.New("order already exists")
	ErrInvalidStatus          = errors.New("invalid order status")
)

// NotificationFailure reports a message that could not be delivered to a
// single recipient. It never rolls back a committed transition.
type NotificationFailure struct {
	Recipient string
	Err       error
}

func (e *NotificationFailure) Error() string {
	return fmt.Sprintf("notify %s: %v", e.Recipient, e.Err)
}

func (e *NotificationFailure) Unwrap() error {
	return e.Err
}
