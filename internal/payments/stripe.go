// Package payments places pre-authorization holds for accepted offers via
// Stripe. The booking service owns the actual charge; this process only
// reserves the fare amount during the payment handoff.
package payments

import (
	"context"
	"os"

	stripe "github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/paymentintent"
)

type StripeGateway struct {
	currency string
}

// NewStripeGateway initializes the stripe client with the STRIPE_API_KEY env
// var. Amounts are in the currency's minor unit.
func NewStripeGateway(currency string) *StripeGateway {
	stripe.Key = os.Getenv("STRIPE_API_KEY")
	if currency == "" {
		currency = "usd"
	}
	return &StripeGateway{currency: currency}
}

// Hold creates a manual-capture PaymentIntent for the fare. The booking id
// doubles as the idempotency key so a retried handoff never double-holds.
func (s *StripeGateway) Hold(ctx context.Context, bookingID string, amountMinor int64) (string, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(amountMinor),
		Currency: stripe.String(s.currency),
	}
	params.CaptureMethod = stripe.String(string(stripe.PaymentIntentCaptureMethodManual))
	params.SetIdempotencyKey("booking-hold-" + bookingID)
	pi, err := paymentintent.New(params)
	if err != nil {
		return "", err
	}
	return pi.ID, nil
}
