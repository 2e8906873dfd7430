package models

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	// ErrNoActiveOrder is returned when an operation needs an open cart and there is none.
	ErrNoActiveOrder = errors.New("no active order")
	// ErrMissingDeliveryAddress blocks confirmation of a cart without an address.
	ErrMissingDeliveryAddress = errors.New("missing delivery address")
	// ErrInsufficientIngredient is matched by every *InsufficientIngredientError.
	ErrInsufficientIngredient = errors.New("insufficient ingredient")
	// ErrDuplicateConfirmation is returned when the cart was already confirmed.
	ErrDuplicateConfirmation = errors.New("order already confirmed")
	// ErrInvalidStatusTransition is returned for moves outside the status graph.
	ErrInvalidStatusTransition = errors.New("invalid status transition")
	// ErrConcurrencyConflict is returned when a conditional write lost a race.
	ErrConcurrencyConflict   = errors.New("concurrency conflict")
	ErrClassifierTimeout     = errors.New("classifier timeout")
	ErrClassifierUnavailable = errors.New("classifier unavailable")
	ErrNotFound              = errors.New("not found")
	ErrProductUnavailable    = errors.New("product unavailable")
	ErrPaymentNotConfirmed   = errors.New("payment not confirmed")
	ErrDuplicateReceipt      = errors.New("receipt already recorded")
)

// InsufficientIngredientError carries the shortfall of a failed consume
type InsufficientIngredientError struct {
	IngredientID string
	Name         string
	Required     decimal.Decimal
	Available    decimal.Decimal
}

func (e *InsufficientIngredientError) Error() string {
	return fmt.Sprintf("insufficient ingredient %s (%s): required %s, available %s",
		e.IngredientID, e.Name, e.Required.String(), e.Available.String())
}

// Is lets errors.Is match ErrInsufficientIngredient
func (e *InsufficientIngredientError) Is(target error) bool {
	return target == ErrInsufficientIngredient
}
