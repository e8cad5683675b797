package handlers

// Error codes carried in ErrorResponse.Code. Clients branch on these, not on
// the message text.
const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeNotFound         = "not_found"
	ErrCodeMethodNotAllowed = "method_not_allowed"
	ErrCodeInternal         = "internal_error"
)

// Checkout and order admin.
const (
	ErrCodeInvalidOrder  = "invalid_order"
	ErrCodeEmptyCart     = "empty_cart"
	ErrCodeCreateFailed  = "create_failed"
	ErrCodeListFailed    = "list_failed"
	ErrCodeTooManyOrders = "too_many_orders"
	ErrCodeSyncFailed    = "sync_failed"
)

// Partner API. upstream_unavailable is retryable and comes with Retry-After;
// upstream_rejected means the partner answered and said no.
const (
	ErrCodeUpstreamUnavailable = "upstream_unavailable"
	ErrCodeUpstreamRejected    = "upstream_rejected"
)
