package railbook

import "errors"

// Failure kinds of the command layer. Every one of them surfaces as a
// single "-1" line at the dispatcher; the distinct values exist for
// internal debugging.
var (
	errNotLoggedIn      = errors.New("railbook: not logged in")
	errUnauthorized     = errors.New("railbook: operation unauthorized")
	errAlreadyExists    = errors.New("railbook: already exists")
	errNotFound         = errors.New("railbook: not found")
	errInvalidArgument  = errors.New("railbook: invalid argument")
	errCapacityExceeded = errors.New("railbook: capacity exceeded")
	errSoldOut          = errors.New("railbook: sold out")
	errAlreadyReleased  = errors.New("railbook: train already released")
	errNotReleased      = errors.New("railbook: train not released")
	errAlreadyRefunded  = errors.New("railbook: order already refunded")
)
