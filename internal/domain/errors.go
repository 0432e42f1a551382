package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrInvalidOrder   = errors.New("invalid order parameters")
	ErrNotModifiable  = errors.New("order not modifiable")
	ErrAlreadyRunning = errors.New("monitor already running")
	ErrNotRunning     = errors.New("monitor not running")
	ErrRateLimited    = errors.New("rate limited")
	ErrLockHeld       = errors.New("lock already held")
	ErrWSDisconnect   = errors.New("websocket disconnected")
)

// ValidationError is returned by the creation gateway when an order is
// rejected synchronously. It carries enough detail for the caller to correct
// the request: which way price must move and how far away it currently is.
type ValidationError struct {
	Reason string `json:"reason"`
	// RequiredDirection is the price move still needed before the order could
	// become armed, e.g. "price must fall below threshold before an above
	// trigger can arm".
	RequiredDirection string  `json:"required_direction,omitempty"`
	CurrentPrice      float64 `json:"current_price,omitempty"`
	Threshold         float64 `json:"threshold,omitempty"`
	// Distance is currentPrice - threshold (signed).
	Distance float64 `json:"distance,omitempty"`
}

func (e *ValidationError) Error() string {
	if e.RequiredDirection != "" {
		return fmt.Sprintf("validation: %s (%s; current=%g threshold=%g distance=%+g)",
			e.Reason, e.RequiredDirection, e.CurrentPrice, e.Threshold, e.Distance)
	}
	return "validation: " + e.Reason
}

// Unwrap lets callers match with errors.Is(err, ErrInvalidOrder).
func (e *ValidationError) Unwrap() error {
	return ErrInvalidOrder
}
