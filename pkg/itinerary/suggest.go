package itinerary

import (
	"context"
	"fmt"
	"strings"

	"github.com/elonfeng/farewatch/internal/store"
	"github.com/shopspring/decimal"
)

// StatsSource supplies per-airport-pair price statistics.
type StatsSource interface {
	RouteStats(ctx context.Context) ([]store.RouteStat, error)
}

// City is a destination and the airports that serve it.
type City struct {
	Name     string
	Airports []string
}

// Ordering aggregates observed prices for trips that start in one city.
type Ordering struct {
	FirstCity    string          `json:"first_city"`
	Count        int             `json:"count"`
	AveragePrice decimal.Decimal `json:"average_price"`
	MinPrice     decimal.Decimal `json:"min_price"`
	BestInbound  string          `json:"best_inbound_airport"`
	BestOutbound string          `json:"best_outbound_airport"`
}

// Analysis compares the orderings seen in price history.
type Analysis struct {
	Orderings        []Ordering      `json:"orderings"`
	Recommended      string          `json:"recommended_first_city,omitempty"`
	EstimatedSavings decimal.Decimal `json:"estimated_savings"`
	Currency         string          `json:"currency"`
}

// Options configures a Suggestor.
type Options struct {
	// Cities in their default visiting order.
	Cities []City
	// BloomCity goes first when the trip overlaps peak bloom.
	BloomCity string
	SplitDays int
}

// Suggestor recommends which city to visit first.
type Suggestor struct {
	stats    StatsSource
	calendar *Calendar
	opts     Options
	cityOf   map[string]string
}

// NewSuggestor creates a suggestor. It needs exactly two cities.
func NewSuggestor(stats StatsSource, cal *Calendar, opts Options) (*Suggestor, error) {
	if len(opts.Cities) != 2 {
		return nil, fmt.Errorf("itinerary needs two cities, got %d", len(opts.Cities))
	}
	if cal == nil {
		cal = NewCalendar()
	}
	cityOf := make(map[string]string)
	known := opts.BloomCity == ""
	for _, c := range opts.Cities {
		known = known || c.Name == opts.BloomCity
		for _, a := range c.Airports {
			cityOf[a] = c.Name
		}
	}
	if !known {
		return nil, fmt.Errorf("bloom city %q is not a trip city", opts.BloomCity)
	}
	return &Suggestor{stats: stats, calendar: cal, opts: opts, cityOf: cityOf}, nil
}

// AnalyzeRouting groups route statistics by the city the inbound airport
// belongs to and recommends the ordering with the lowest observed price.
func (s *Suggestor) AnalyzeRouting(ctx context.Context) (*Analysis, error) {
	stats, err := s.stats.RouteStats(ctx)
	if err != nil {
		return nil, fmt.Errorf("analyze routing: %w", err)
	}

	type agg struct {
		Ordering
		sum decimal.Decimal
	}
	groups := make(map[string]*agg)
	a := &Analysis{Currency: "USD"}
	for _, st := range stats {
		city, ok := s.cityOf[st.InboundAirport]
		if !ok || st.Count == 0 {
			continue
		}
		g := groups[city]
		if g == nil {
			g = &agg{Ordering: Ordering{FirstCity: city}}
			groups[city] = g
		}
		g.sum = g.sum.Add(st.AveragePrice.Mul(decimal.NewFromInt(int64(st.Count))))
		g.Count += st.Count
		if g.BestInbound == "" || st.MinPrice.LessThan(g.MinPrice) {
			g.MinPrice = st.MinPrice
			g.BestInbound = st.InboundAirport
			g.BestOutbound = st.OutboundAirport
		}
		if st.Currency != "" {
			a.Currency = st.Currency
		}
	}

	for _, c := range s.opts.Cities {
		g, ok := groups[c.Name]
		if !ok {
			continue
		}
		g.AveragePrice = g.sum.Div(decimal.NewFromInt(int64(g.Count))).Round(2)
		a.Orderings = append(a.Orderings, g.Ordering)
	}

	switch len(a.Orderings) {
	case 1:
		a.Recommended = a.Orderings[0].FirstCity
	case 2:
		best, other := a.Orderings[0], a.Orderings[1]
		if other.MinPrice.LessThan(best.MinPrice) {
			best, other = other, best
		}
		a.Recommended = best.FirstCity
		a.EstimatedSavings = other.MinPrice.Sub(best.MinPrice)
	}
	return a, nil
}

// Stay is one hotel stay.
type Stay struct {
	City     string     `json:"city"`
	CheckIn  store.Date `json:"check_in"`
	CheckOut store.Date `json:"check_out"`
	Nights   int        `json:"nights"`
}

// HotelStays splits a trip leaving on dep into two consecutive stays: the
// first splitDays nights, then the rest of duration.
func HotelStays(dep store.Date, duration, splitDays int) ([2]Stay, error) {
	if !dep.Valid() {
		return [2]Stay{}, fmt.Errorf("hotel stays: invalid departure %q", dep)
	}
	if splitDays < 0 || splitDays > duration {
		return [2]Stay{}, fmt.Errorf("hotel stays: split of %d days does not fit a %d day trip", splitDays, duration)
	}
	mid := dep.AddDays(splitDays)
	return [2]Stay{
		{CheckIn: dep, CheckOut: mid, Nights: splitDays},
		{CheckIn: mid, CheckOut: dep.AddDays(duration), Nights: duration - splitDays},
	}, nil
}

// Suggestion is the recommended plan for a trip.
type Suggestion struct {
	Departure      store.Date `json:"departure_date"`
	Return         store.Date `json:"return_date"`
	Order          []string   `json:"order"`
	Stays          [2]Stay    `json:"stays"`
	Bloom          Overlap    `json:"bloom"`
	Analysis       *Analysis  `json:"routing_analysis"`
	Recommendation string     `json:"recommendation"`
}

// Suggest plans the trip dep..ret. Peak bloom puts the bloom city first;
// otherwise the cheaper observed ordering wins; with no history the
// configured order is kept.
func (s *Suggestor) Suggest(ctx context.Context, dep, ret store.Date) (*Suggestion, error) {
	if !dep.Valid() || !ret.Valid() || ret < dep {
		return nil, fmt.Errorf("suggest itinerary: invalid dates %q..%q", dep, ret)
	}
	analysis, err := s.AnalyzeRouting(ctx)
	if err != nil {
		return nil, err
	}

	sg := &Suggestion{
		Departure: dep,
		Return:    ret,
		Bloom:     s.calendar.Overlap(dep, ret),
		Analysis:  analysis,
	}

	first := s.opts.Cities[0].Name
	var reason string
	switch {
	case sg.Bloom.OverlapsPeak && s.opts.BloomCity != "":
		first = s.opts.BloomCity
		reason = fmt.Sprintf("your trip overlaps peak cherry blossom bloom for %d days, start in %s", sg.Bloom.PeakDays, title(first))
	case analysis.Recommended != "":
		first = analysis.Recommended
		reason = fmt.Sprintf("flying into %s first is cheapest in price history", title(first))
		if analysis.EstimatedSavings.IsPositive() {
			reason += fmt.Sprintf(" (saves about %s $%s)", analysis.Currency, analysis.EstimatedSavings.StringFixed(2))
		}
	default:
		reason = fmt.Sprintf("no price history yet, start in %s", title(first))
	}

	second := s.opts.Cities[1].Name
	if first == second {
		second = s.opts.Cities[0].Name
	}
	sg.Order = []string{first, second}

	duration := daysBetween(dep, ret)
	split := s.opts.SplitDays
	if split > duration {
		split = duration
	}
	stays, err := HotelStays(dep, duration, split)
	if err != nil {
		return nil, err
	}
	stays[0].City, stays[1].City = first, second
	sg.Stays = stays

	sg.Recommendation = fmt.Sprintf("Recommended: %s %d nights, then %s %d nights; %s.",
		title(first), stays[0].Nights, title(second), stays[1].Nights, reason)
	return sg, nil
}

// title turns a config key like "washington_dc" into "Washington Dc".
func title(key string) string {
	words := strings.Fields(strings.ReplaceAll(key, "_", " "))
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
