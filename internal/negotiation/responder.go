package negotiation

import (
	"context"
	"log/slog"

	"github.com/CarsonDev1/carpooling-app-sub000/internal/backend"
	"github.com/CarsonDev1/carpooling-app-sub000/internal/booking"
	"github.com/CarsonDev1/carpooling-app-sub000/internal/observability"
)

// Responder submits accept/decline decisions to the negotiation endpoint and
// maps backend conflicts onto OfferConflictError. It performs no local state
// management; the coordinator owns guards, optimism and rollback.
type Responder struct {
	client backend.Client
	log    *slog.Logger
}

func NewResponder(client backend.Client, log *slog.Logger) *Responder {
	return &Responder{client: client, log: log}
}

// Accept submits an accept decision. On success the returned resource is the
// server's authoritative view with exactly one accepted offer.
func (r *Responder) Accept(ctx context.Context, bookingID, offerID string) (*booking.Resource, error) {
	res, err := r.client.RespondToOffer(ctx, bookingID, offerID, backend.ActionAccept)
	if err != nil {
		if backend.ClassOf(err) == backend.ClassConflict {
			observability.ConflictsTotal.Inc()
			return nil, &OfferConflictError{BookingID: bookingID, OfferID: offerID, cause: err}
		}
		return nil, err
	}
	if n := res.AcceptedCount(); n > 1 {
		// server-side invariant breach; surface the state anyway, the
		// coordinator never trusts local bookkeeping over the server
		r.log.Error("backend returned multiple accepted offers", "booking_id", bookingID, "accepted", n)
	}
	return res, nil
}

// Decline submits a decline decision. Declining an offer the server already
// resolved as declined is a no-op success, so a conflict here carries the
// same meaning as on accept: the negotiation moved on without us.
func (r *Responder) Decline(ctx context.Context, bookingID, offerID string) (*booking.Resource, error) {
	res, err := r.client.RespondToOffer(ctx, bookingID, offerID, backend.ActionDecline)
	if err != nil {
		if backend.ClassOf(err) == backend.ClassConflict {
			observability.ConflictsTotal.Inc()
			return nil, &OfferConflictError{BookingID: bookingID, OfferID: offerID, cause: err}
		}
		return nil, err
	}
	return res, nil
}
