package flight

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/elonfeng/farewatch/internal/store"
)

// Route is one open-jaw shape: fly into one city, home from another.
type Route struct {
	InboundAirports  []string
	OutboundAirports []string
	Description      string
}

// OpenJaw finds the cheapest open-jaw round trip by pricing each leg as a
// one-way search and combining the best legs.
type OpenJaw struct {
	searcher Searcher
	filter   *Filter
	origin   string
	routes   []Route
	limit    int
	log      *slog.Logger
}

// NewOpenJaw creates the provider. limit caps how many offers per leg are
// combined; the default is 10.
func NewOpenJaw(s Searcher, f *Filter, origin string, routes []Route, limit int, log *slog.Logger) *OpenJaw {
	if limit <= 0 {
		limit = 10
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &OpenJaw{searcher: s, filter: f, origin: origin, routes: routes, limit: limit, log: log}
}

type legKey struct {
	from, to string
	date     store.Date
}

type legResult struct {
	offers []Offer
	err    error
}

// SearchBestOffer implements Provider. Airport combinations whose searches
// fail are skipped. When every combination failed the result is a
// ProviderError.
func (o *OpenJaw) SearchBestOffer(ctx context.Context, req TripRequest) (*BestOption, error) {
	legs := make(map[legKey]legResult)
	search := func(from, to string, date store.Date) ([]Offer, error) {
		k := legKey{from, to, date}
		if r, ok := legs[k]; ok {
			return r.offers, r.err
		}
		offers, err := o.searcher.Search(ctx, SearchRequest{Origin: from, Destination: to, Date: date, Adults: req.Adults})
		if err == nil {
			if o.filter != nil {
				offers = o.filter.Apply(offers)
			}
			Sort(offers)
			if len(offers) > o.limit {
				offers = offers[:o.limit]
			}
		}
		legs[k] = legResult{offers, err}
		return offers, err
	}

	var (
		best      *BestOption
		tried     int
		succeeded int
		errs      []error
	)
	for _, route := range o.routes {
		for _, in := range route.InboundAirports {
			for _, out := range route.OutboundAirports {
				if err := ctx.Err(); err != nil {
					return nil, err
				}
				tried++

				there, err := search(o.origin, in, req.Departure)
				if err == nil {
					var back []Offer
					back, err = search(out, o.origin, req.Return)
					if err == nil {
						succeeded++
						best = cheaper(best, combine(route, in, out, there, back))
						continue
					}
				}
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				o.log.Warn("airport combination failed",
					"inbound", in, "outbound", out,
					"departure", req.Departure, "return", req.Return, "err", err)
				errs = append(errs, err)
			}
		}
	}

	if tried > 0 && succeeded == 0 && len(errs) > 0 {
		return nil, &ProviderError{
			Op:  fmt.Sprintf("open-jaw %s→%s", req.Departure, req.Return),
			Err: errors.Join(errs...),
		}
	}
	return best, nil
}

// combine pairs every outbound with every return offer and keeps the cheapest.
func combine(route Route, in, out string, there, back []Offer) *BestOption {
	var best *BestOption
	for _, t := range there {
		for _, b := range back {
			best = cheaper(best, &BestOption{
				InboundAirport:  in,
				OutboundAirport: out,
				Description:     route.Description,
				Outbound:        t,
				Return:          b,
				TotalPrice:      t.TotalPrice().Add(b.TotalPrice()),
				Currency:        currencyOf(t),
			})
		}
	}
	return best
}

func cheaper(a, b *BestOption) *BestOption {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	case b.TotalPrice.LessThan(a.TotalPrice):
		return b
	}
	return a
}

func currencyOf(o Offer) string {
	if o.Price.Currency != "" {
		return o.Price.Currency
	}
	return "USD"
}
