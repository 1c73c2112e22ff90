package rank

import (
	"sort"

	"github.com/CarsonDev1/carpooling-app-sub000/internal/booking"
)

// Criterion selects how pending offers are ordered for display.
type Criterion string

const (
	ByPrice   Criterion = "price"
	ByRating  Criterion = "rating"
	ByRecency Criterion = "recency"
)

// ParseCriterion maps a query-string value onto a Criterion, defaulting to
// price for anything unrecognized.
func ParseCriterion(s string) Criterion {
	switch Criterion(s) {
	case ByRating:
		return ByRating
	case ByRecency:
		return ByRecency
	default:
		return ByPrice
	}
}

// Rank orders pending offers by the given criterion. Non-pending offers are
// filtered out. The sort is stable and the input slice is left untouched, so
// re-ranking an unchanged snapshot on every tick yields an identical result.
func Rank(offers []booking.Offer, c Criterion) []booking.Offer {
	out := make([]booking.Offer, 0, len(offers))
	for _, o := range offers {
		if o.Status == booking.OfferPending {
			out = append(out, o)
		}
	}
	sort.SliceStable(out, less(out, c))
	return out
}

func less(out []booking.Offer, c Criterion) func(i, j int) bool {
	switch c {
	case ByRating:
		return func(i, j int) bool {
			ri, rj := out[i].Driver.Rating, out[j].Driver.Rating
			// unrated drivers sort last
			if (ri > 0) != (rj > 0) {
				return ri > 0
			}
			if ri != rj {
				return ri > rj
			}
			return out[i].Price < out[j].Price
		}
	case ByRecency:
		return func(i, j int) bool {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
	default: // ByPrice
		return func(i, j int) bool {
			if out[i].Price != out[j].Price {
				return out[i].Price < out[j].Price
			}
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
	}
}
