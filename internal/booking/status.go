package booking

import "fmt"

// Status is the lifecycle state of a booking as reported by the backend.
type Status string

const (
	StatusCreated        Status = "created"
	StatusAwaitingOffers Status = "awaiting_offers"
	StatusConfirmed      Status = "confirmed"
	StatusPaid           Status = "paid"
	StatusInProgress     Status = "in_progress"
	StatusCompleted      Status = "completed"
	StatusCancelled      Status = "cancelled"
)

// statusRank orders the forward lifecycle. Cancelled is deliberately absent:
// it is comparable only against pre-paid states (see OlderThan).
var statusRank = map[Status]int{
	StatusCreated:        0,
	StatusAwaitingOffers: 1,
	StatusConfirmed:      2,
	StatusPaid:           3,
	StatusInProgress:     4,
	StatusCompleted:      5,
}

// AllowedTransitions encodes the booking state flow as data.
var AllowedTransitions = map[Status][]Status{
	StatusCreated:        {StatusAwaitingOffers, StatusCancelled},
	StatusAwaitingOffers: {StatusConfirmed, StatusCancelled},
	StatusConfirmed:      {StatusPaid, StatusCancelled},
	StatusPaid:           {StatusInProgress},
	StatusInProgress:     {StatusCompleted},
}

func CanTransition(from, to Status) bool {
	for _, s := range AllowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// ParseStatus validates a wire status value.
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if st == StatusCancelled {
		return st, nil
	}
	if _, ok := statusRank[st]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownStatus, s)
	}
	return st, nil
}

// OlderThan reports whether s is strictly earlier than other in the
// lifecycle. A fetched snapshot whose status is older than the local state is
// stale and must be discarded. Cancelled compares only against pre-paid
// states: every pre-paid state is older than a cancellation, and a
// cancellation is never older than anything.
func (s Status) OlderThan(other Status) bool {
	if s == other || s == StatusCancelled {
		return false
	}
	if other == StatusCancelled {
		return statusRank[s] < statusRank[StatusPaid]
	}
	return statusRank[s] < statusRank[other]
}

// NegotiationClosed reports whether offer actions (accept/decline) and
// cancellation are no longer valid. Everything from Paid onward, plus
// Cancelled, is closed.
func (s Status) NegotiationClosed() bool {
	if s == StatusCancelled {
		return true
	}
	return statusRank[s] >= statusRank[StatusPaid]
}

// Final reports whether polling can stop: nothing after Completed or
// Cancelled will ever change. Paid and InProgress still advance through
// fetches, so they are not final.
func (s Status) Final() bool {
	return s == StatusCompleted || s == StatusCancelled
}
