package negotiation

import (
	"time"

	"github.com/CarsonDev1/carpooling-app-sub000/internal/booking"
)

type NotificationKind string

const (
	// NoteNewOffer fires once per offer the first time it is seen.
	NoteNewOffer NotificationKind = "new_offer"
	// NoteStatusChange fires when the booking moved to a new lifecycle state.
	NoteStatusChange NotificationKind = "status_change"
	// NoteOfferLost tells the user their chosen offer was taken by the time
	// the server saw the accept.
	NoteOfferLost NotificationKind = "offer_lost"
	// NoteSyncPaused is the passive "syncing paused" hint during a
	// rate-limit cool-down.
	NoteSyncPaused NotificationKind = "sync_paused"
	// NoteSyncDegraded fires once the transient-failure streak crosses the
	// user-visible threshold.
	NoteSyncDegraded NotificationKind = "sync_degraded"
	// NoteSessionDead means the booking is permanently gone and the screen
	// must navigate away.
	NoteSessionDead NotificationKind = "session_dead"
)

type Notification struct {
	Kind    NotificationKind `json:"kind"`
	OfferID string           `json:"offer_id,omitempty"`
	Message string           `json:"message"`
	At      time.Time        `json:"at"`
}

// Update is what subscribers (the UI layer) receive after every applied tick
// and every user action.
type Update struct {
	BookingID       string          `json:"booking_id"`
	Status          booking.Status  `json:"status"`
	AcceptedOfferID string          `json:"accepted_offer_id,omitempty"`
	RankedOffers    []booking.Offer `json:"ranked_offers"`
	Notifications   []Notification  `json:"notifications,omitempty"`
	LastError       string          `json:"last_error,omitempty"`
}
