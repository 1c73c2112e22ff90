package diff

import (
	"sort"

	"github.com/CarsonDev1/carpooling-app-sub000/internal/booking"
)

// Change summarizes what moved between two booking snapshots. It drives both
// user-facing notifications and the scheduler speed-up decision.
type Change struct {
	NewOffers     []booking.Offer
	StatusChanged bool
	From, To      booking.Status
}

// HasNewPending reports whether at least one newly arrived offer is still
// pending, the signal the scheduler uses to shorten its interval.
func (c Change) HasNewPending() bool {
	for _, o := range c.NewOffers {
		if o.Status == booking.OfferPending {
			return true
		}
	}
	return false
}

// Diff compares the previous snapshot with the current one. A nil previous
// snapshot yields no new offers: the first load must not flood the user with
// one notification per pre-existing offer.
func Diff(prev, cur *booking.Resource) Change {
	c := Change{To: cur.Status}
	if prev == nil {
		c.From = cur.Status
		return c
	}
	c.From = prev.Status
	c.StatusChanged = prev.Status != cur.Status

	for id, o := range cur.Offers {
		if _, seen := prev.Offers[id]; !seen {
			c.NewOffers = append(c.NewOffers, o)
		}
	}
	sort.Slice(c.NewOffers, func(i, j int) bool {
		if !c.NewOffers[i].CreatedAt.Equal(c.NewOffers[j].CreatedAt) {
			return c.NewOffers[i].CreatedAt.Before(c.NewOffers[j].CreatedAt)
		}
		return c.NewOffers[i].ID < c.NewOffers[j].ID
	})
	return c
}
