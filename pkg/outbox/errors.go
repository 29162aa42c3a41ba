package outbox

import "errors"

var (
	// ErrDuplicateIdempotencyKey is returned by Enqueue when the key was already
	// delivered or is still queued for the same tenant and event type.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")
	ErrTransactionRequired     = errors.New("transaction required")
	// ErrLeaseLost means the row is no longer processing under this owner.
	ErrLeaseLost = errors.New("outbox lease lost")
	ErrNotFound  = errors.New("outbox event not found")

	errInvalidTransition = errors.New("outbox status transition not allowed")
)
