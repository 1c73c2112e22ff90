package booking

import (
	"errors"
	"sort"
	"time"
)

var ErrUnknownStatus = errors.New("unknown booking status")

type Coordinate struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Route is opaque to the negotiation core; it is carried for display only.
type Route struct {
	PickupAddress  string     `json:"pickup_address"`
	DropoffAddress string     `json:"dropoff_address"`
	Pickup         Coordinate `json:"pickup"`
	Dropoff        Coordinate `json:"dropoff"`
}

type Constraints struct {
	Seats        int    `json:"seats"`
	MaxPrice     int64  `json:"max_price,omitempty"` // minor units, 0 = no cap
	VehicleClass string `json:"vehicle_class,omitempty"`
	Note         string `json:"note,omitempty"`
}

// DriverRef carries display attributes owned by the driver directory.
// The core treats it as read-only.
type DriverRef struct {
	ID      string  `json:"id"`
	Name    string  `json:"name"`
	Rating  float64 `json:"rating"` // 0..5, 0 means unrated
	Vehicle string  `json:"vehicle"`
}

type OfferStatus string

const (
	OfferPending  OfferStatus = "pending"
	OfferAccepted OfferStatus = "accepted"
	OfferDeclined OfferStatus = "declined"
)

type Offer struct {
	ID        string      `json:"id"`
	BookingID string      `json:"booking_id"`
	Driver    DriverRef   `json:"driver"`
	Price     int64       `json:"price"` // minor units, currency-agnostic
	Message   string      `json:"message,omitempty"`
	Status    OfferStatus `json:"status"`
	CreatedAt time.Time   `json:"created_at"`
}

// Resource is one snapshot of the remote booking. The server owns the
// authoritative copy; a Resource held by the coordinator is an immutable
// snapshot and mutations go through Clone.
type Resource struct {
	ID              string           `json:"id"`
	Status          Status           `json:"status"`
	Route           Route            `json:"route"`
	Constraints     Constraints      `json:"constraints"`
	Offers          map[string]Offer `json:"offers"`
	AcceptedOfferID string           `json:"accepted_offer_id,omitempty"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

// Clone deep-copies the resource so optimistic edits never leak into a
// snapshot already handed to subscribers.
func (r *Resource) Clone() *Resource {
	if r == nil {
		return nil
	}
	cp := *r
	cp.Offers = make(map[string]Offer, len(r.Offers))
	for id, o := range r.Offers {
		cp.Offers[id] = o
	}
	return &cp
}

// Offer returns the offer with the given id, if present.
func (r *Resource) Offer(id string) (Offer, bool) {
	o, ok := r.Offers[id]
	return o, ok
}

// PendingOffers returns pending offers in a canonical order (creation time,
// then id) so repeated ranking of the same snapshot is deterministic.
func (r *Resource) PendingOffers() []Offer {
	out := make([]Offer, 0, len(r.Offers))
	for _, o := range r.Offers {
		if o.Status == OfferPending {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// AcceptedCount counts offers marked accepted. The invariant is that it
// never exceeds one, and is one only from Confirmed onward.
func (r *Resource) AcceptedCount() int {
	n := 0
	for _, o := range r.Offers {
		if o.Status == OfferAccepted {
			n++
		}
	}
	return n
}
