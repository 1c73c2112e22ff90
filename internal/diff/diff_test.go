package diff

import (
	"testing"
	"time"

	"github.com/CarsonDev1/carpooling-app-sub000/internal/booking"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func snapshot(status booking.Status, offers ...booking.Offer) *booking.Resource {
	m := make(map[string]booking.Offer, len(offers))
	for _, o := range offers {
		m[o.ID] = o
	}
	return &booking.Resource{ID: "b1", Status: status, Offers: m}
}

func pending(id string, at time.Time) booking.Offer {
	return booking.Offer{ID: id, Status: booking.OfferPending, CreatedAt: at}
}

func TestDiffFirstLoadYieldsNoNewOffers(t *testing.T) {
	cur := snapshot(booking.StatusAwaitingOffers, pending("o1", t0), pending("o2", t0))
	c := Diff(nil, cur)
	if len(c.NewOffers) != 0 {
		t.Fatalf("first load should not surface new offers, got %d", len(c.NewOffers))
	}
	if c.StatusChanged {
		t.Fatal("first load should not report a status change")
	}
	if c.From != booking.StatusAwaitingOffers || c.To != booking.StatusAwaitingOffers {
		t.Fatalf("unexpected from/to: %s/%s", c.From, c.To)
	}
}

func TestDiffDetectsNewOffersInArrivalOrder(t *testing.T) {
	prev := snapshot(booking.StatusAwaitingOffers, pending("o1", t0))
	cur := snapshot(booking.StatusAwaitingOffers,
		pending("o1", t0),
		pending("o3", t0.Add(2*time.Minute)),
		pending("o2", t0.Add(time.Minute)),
	)
	c := Diff(prev, cur)
	if len(c.NewOffers) != 2 {
		t.Fatalf("expected 2 new offers, got %d", len(c.NewOffers))
	}
	if c.NewOffers[0].ID != "o2" || c.NewOffers[1].ID != "o3" {
		t.Fatalf("expected creation order o2,o3, got %s,%s", c.NewOffers[0].ID, c.NewOffers[1].ID)
	}
	if !c.HasNewPending() {
		t.Fatal("expected HasNewPending")
	}
}

func TestDiffStatusTransition(t *testing.T) {
	prev := snapshot(booking.StatusAwaitingOffers)
	cur := snapshot(booking.StatusConfirmed)
	c := Diff(prev, cur)
	if !c.StatusChanged || c.From != booking.StatusAwaitingOffers || c.To != booking.StatusConfirmed {
		t.Fatalf("unexpected change: %+v", c)
	}
}

func TestHasNewPendingIgnoresResolvedArrivals(t *testing.T) {
	prev := snapshot(booking.StatusConfirmed)
	declined := booking.Offer{ID: "o9", Status: booking.OfferDeclined, CreatedAt: t0}
	cur := snapshot(booking.StatusConfirmed, declined)
	c := Diff(prev, cur)
	if len(c.NewOffers) != 1 {
		t.Fatalf("expected the declined arrival to be reported, got %d", len(c.NewOffers))
	}
	if c.HasNewPending() {
		t.Fatal("a declined arrival must not trigger the fast interval")
	}
}
