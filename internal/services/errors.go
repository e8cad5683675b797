// Package services defines the application logic behind the HTTP surface:
// checkout pricing, order placement and admin-triggered status sync.
// This file centralizes the service-level error values so that handlers can
// translate them into HTTP status codes with errors.Is.
package services

import "errors"

// Order-related errors.
var (
	// ErrOrderNotFound indicates that the requested order does not exist.
	ErrOrderNotFound = errors.New("order not found")

	// ErrInvalidOrder is returned when a placement request is missing
	// required fields. It is wrapped with the offending field.
	ErrInvalidOrder = errors.New("invalid order")

	// ErrEmptyCart is returned when there is nothing to price.
	ErrEmptyCart = errors.New("cart has no items")

	// ErrInvalidReference is returned for an empty upstream reference.
	ErrInvalidReference = errors.New("upstream reference is required")
)

// Sync-related errors.
var (
	// ErrSyncRunNotFound indicates that the requested sync run does not exist.
	ErrSyncRunNotFound = errors.New("sync run not found")

	// ErrTooManyOrders is returned when a bulk sync names more orders than
	// the configured maximum.
	ErrTooManyOrders = errors.New("too many orders in one sync")
)
