package negotiation

import (
	"errors"
	"fmt"

	"github.com/CarsonDev1/carpooling-app-sub000/internal/booking"
)

// ErrSessionClosed is returned for any action after the owning session was
// torn down. Late in-flight results are dropped with the same guard.
var ErrSessionClosed = errors.New("negotiation: session closed")

// InvalidStateError rejects an action locally, before any network call is
// made. It signals a UI/programming error and is never retried.
type InvalidStateError struct {
	Op     string
	State  booking.Status
	Reason string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("negotiation: %s invalid in state %s: %s", e.Op, e.State, e.Reason)
}

// OfferConflictError means the server resolved the negotiation differently
// (typically the offer was already taken). The coordinator re-fetches the
// authoritative state before surfacing it; retrying the same action blindly
// is wrong.
type OfferConflictError struct {
	BookingID string
	OfferID   string
	cause     error
}

func (e *OfferConflictError) Error() string {
	return fmt.Sprintf("negotiation: offer %s on booking %s is no longer available", e.OfferID, e.BookingID)
}

func (e *OfferConflictError) Unwrap() error { return e.cause }
