package flight

import (
	"context"
	"fmt"
	"strings"

	"github.com/elonfeng/farewatch/internal/store"
	"github.com/shopspring/decimal"
)

// SearchRequest is a one-way search.
type SearchRequest struct {
	Origin      string
	Destination string
	Date        store.Date
	Adults      int
	Currency    string
}

// Searcher runs one-way searches against a flight API.
type Searcher interface {
	Search(ctx context.Context, req SearchRequest) ([]Offer, error)
}

// TripRequest asks for the best round trip on a date pair.
type TripRequest struct {
	Departure store.Date
	Return    store.Date
	Adults    int
}

// BestOption is the cheapest itinerary found for a date pair.
type BestOption struct {
	InboundAirport  string          `json:"inbound_airport"`
	OutboundAirport string          `json:"outbound_airport"`
	Description     string          `json:"description"`
	Outbound        Offer           `json:"outbound"`
	Return          Offer           `json:"return"`
	TotalPrice      decimal.Decimal `json:"total_price"`
	Currency        string          `json:"currency"`
}

// FlightNumbers covers both legs.
func (b *BestOption) FlightNumbers() string {
	return joinNonEmpty(b.Outbound.FlightNumbers(), b.Return.FlightNumbers())
}

// Airlines covers both legs, without repeats.
func (b *BestOption) Airlines() string {
	seen := make(map[string]bool)
	var names []string
	for _, list := range []string{b.Outbound.Airlines(), b.Return.Airlines()} {
		for _, n := range strings.Split(list, ", ") {
			if n != "" && !seen[n] {
				seen[n] = true
				names = append(names, n)
			}
		}
	}
	return strings.Join(names, ", ")
}

func joinNonEmpty(parts ...string) string {
	var out []string
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, ", ")
}

// Provider finds the best itinerary for a date pair. A nil option with a nil
// error means nothing matched.
type Provider interface {
	SearchBestOffer(ctx context.Context, req TripRequest) (*BestOption, error)
}

// ProviderError is a failure talking to the flight API.
type ProviderError struct {
	Op     string
	Status int // HTTP status, 0 when the request never completed
	Err    error
}

func (e *ProviderError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("provider %s: status %d: %v", e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("provider %s: %v", e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Temporary reports whether retrying may help.
func (e *ProviderError) Temporary() bool {
	return e.Status == 0 || e.Status == 429 || e.Status >= 500
}
