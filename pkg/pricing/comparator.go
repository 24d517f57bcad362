package pricing

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/elonfeng/farewatch/internal/store"
	"github.com/shopspring/decimal"
)

// Store is the subset of store.Store the comparator needs.
type Store interface {
	GetLastObservation(ctx context.Context, key store.RouteKey) (*store.Observation, error)
	GetDailyBest(ctx context.Context, day store.Date) (*store.DailyBest, error)
	SaveObservation(ctx context.Context, o *store.Observation) (int64, error)
	UpsertDailyBest(ctx context.Context, b *store.DailyBest) error
}

// RouteMetadata describes which flights produced a price.
type RouteMetadata struct {
	InboundAirport     string        `json:"inbound_airport"`
	OutboundAirport    string        `json:"outbound_airport"`
	RoutingDescription string        `json:"routing_description"`
	OutboundFlightData store.Payload `json:"-"`
	ReturnFlightData   store.Payload `json:"-"`
	BookingURL         string        `json:"booking_url,omitempty"`
	FlightNumbers      string        `json:"flight_numbers,omitempty"`
	Airlines           string        `json:"airlines,omitempty"`
}

// Quote is a freshly observed price for a route/date-pair.
type Quote struct {
	Route    store.RouteKey
	Price    decimal.Decimal
	Currency string
	Metadata RouteMetadata
}

// Result holds the facts of one comparison. It does not decide on alerts.
type Result struct {
	Route            store.RouteKey      `json:"route"`
	CurrentPrice     decimal.Decimal     `json:"current_price"`
	Currency         string              `json:"currency"`
	LastCheckedPrice decimal.NullDecimal `json:"last_checked_price"`
	PriceDrop        decimal.NullDecimal `json:"price_drop"`
	IsNewBestToday   bool                `json:"is_new_best_today"`
	TodayBestPrice   decimal.Decimal     `json:"today_best_price"`
	RecordID         int64               `json:"record_id"`
	CheckedDate      store.Date          `json:"checked_date"`
	Metadata         RouteMetadata       `json:"metadata"`
}

// Comparator records observations and compares them with history.
type Comparator struct {
	store Store
	now   func() time.Time
}

// NewComparator creates a comparator over s. A nil now uses time.Now.
func NewComparator(s Store, now func() time.Time) *Comparator {
	if now == nil {
		now = time.Now
	}
	return &Comparator{store: s, now: now}
}

// RecordAndCompare stores q and compares it with the last price for the same
// route/date-pair and with today's best across all pairs.
//
// The last price is read before the insert. When a pair is checked twice in
// one day the second call compares against the first, so PriceDrop reflects
// intraday movement.
func (c *Comparator) RecordAndCompare(ctx context.Context, q Quote) (*Result, error) {
	if err := q.validate(); err != nil {
		return nil, err
	}
	today := store.DateOf(c.now())

	previous, err := c.store.GetLastObservation(ctx, q.Route)
	if err != nil {
		return nil, fmt.Errorf("read last price %s: %w", q.Route, err)
	}
	todayBest, err := c.store.GetDailyBest(ctx, today)
	if err != nil {
		return nil, fmt.Errorf("read daily best %s: %w", today, err)
	}

	obs := &store.Observation{
		DepartureDate:      q.Route.Departure,
		ReturnDate:         q.Route.Return,
		InboundAirport:     q.Metadata.InboundAirport,
		OutboundAirport:    q.Metadata.OutboundAirport,
		RoutingDescription: q.Metadata.RoutingDescription,
		TotalPrice:         q.Price,
		Currency:           q.Currency,
		OutboundFlightData: q.Metadata.OutboundFlightData,
		ReturnFlightData:   q.Metadata.ReturnFlightData,
		BookingURL:         q.Metadata.BookingURL,
		FlightNumbers:      q.Metadata.FlightNumbers,
		Airlines:           q.Metadata.Airlines,
		CheckedDate:        today,
	}
	id, err := c.store.SaveObservation(ctx, obs)
	if err != nil {
		return nil, fmt.Errorf("save observation %s: %w", q.Route, err)
	}

	isNewBest := todayBest == nil || q.Price.LessThan(todayBest.BestPrice)
	if isNewBest {
		err := c.store.UpsertDailyBest(ctx, &store.DailyBest{
			CheckedDate:        today,
			BestPrice:          q.Price,
			Currency:           q.Currency,
			DepartureDate:      q.Route.Departure,
			ReturnDate:         q.Route.Return,
			InboundAirport:     q.Metadata.InboundAirport,
			OutboundAirport:    q.Metadata.OutboundAirport,
			RoutingDescription: q.Metadata.RoutingDescription,
			ObservationID:      id,
		})
		if err != nil {
			return nil, fmt.Errorf("update daily best %s: %w", today, err)
		}
	}

	res := &Result{
		Route:          q.Route,
		CurrentPrice:   q.Price,
		Currency:       q.Currency,
		IsNewBestToday: isNewBest,
		TodayBestPrice: q.Price,
		RecordID:       id,
		CheckedDate:    today,
		Metadata:       q.Metadata,
	}
	if previous != nil {
		res.LastCheckedPrice = decimal.NewNullDecimal(previous.TotalPrice)
		res.PriceDrop = decimal.NewNullDecimal(previous.TotalPrice.Sub(q.Price))
	}
	if todayBest != nil {
		res.TodayBestPrice = todayBest.BestPrice
	}
	return res, nil
}

var (
	currencyRe = regexp.MustCompile(`^[A-Z]{3}$`)
	airportRe  = regexp.MustCompile(`^[A-Z]{3}$`)
)

func (q Quote) validate() error {
	switch {
	case !q.Route.Departure.Valid():
		return &ValidationError{Field: "departure_date", Reason: fmt.Sprintf("invalid date %q", q.Route.Departure)}
	case !q.Route.Return.Valid():
		return &ValidationError{Field: "return_date", Reason: fmt.Sprintf("invalid date %q", q.Route.Return)}
	case q.Route.Return < q.Route.Departure:
		return &ValidationError{Field: "return_date", Reason: "before departure date"}
	case q.Price.IsNegative():
		return &ValidationError{Field: "price", Reason: fmt.Sprintf("must be >= 0, got %s", q.Price)}
	case !currencyRe.MatchString(q.Currency):
		return &ValidationError{Field: "currency", Reason: fmt.Sprintf("not an ISO code: %q", q.Currency)}
	case !airportRe.MatchString(q.Metadata.InboundAirport):
		return &ValidationError{Field: "inbound_airport", Reason: fmt.Sprintf("not an IATA code: %q", q.Metadata.InboundAirport)}
	case !airportRe.MatchString(q.Metadata.OutboundAirport):
		return &ValidationError{Field: "outbound_airport", Reason: fmt.Sprintf("not an IATA code: %q", q.Metadata.OutboundAirport)}
	}
	return nil
}
