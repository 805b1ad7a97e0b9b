package orders

import "errors"

var (
	ErrNotFound      = errors.New("order not found")
	ErrAlreadyPaid   = errors.New("order already paid")
	ErrEmptyOrder    = errors.New("order has no items")
	ErrValidation    = errors.New("invalid order input")
	ErrInvalidStatus = errors.New("invalid shipping status")
)
