package flight

import (
	"fmt"
	"sort"
	"time"
)

// Rules are the travel-agent constraints applied to search results.
type Rules struct {
	Origin                string
	DestinationAirports   []string
	NoRedEyes             bool
	RedEyeDepartureBefore string // HH:MM, local to the origin airport
	RedEyeArrivalAfter    string // HH:MM, local to the destination airport
	NonstopRequired       bool
	MaxStops              int
	NonstopOnlyPairs      [][2][]string
}

// Filter drops offers that break the rules.
type Filter struct {
	origin          string
	destinations    map[string]bool
	noRedEyes       bool
	departBefore    time.Duration
	arriveAfter     time.Duration
	nonstopRequired bool
	maxStops        int
	nonstopPairs    [][2]map[string]bool
}

// NewFilter compiles r. Empty cutoffs default to 07:00 and 22:00.
func NewFilter(r Rules) (*Filter, error) {
	before, err := parseClock(r.RedEyeDepartureBefore, 7*time.Hour)
	if err != nil {
		return nil, fmt.Errorf("red-eye departure cutoff: %w", err)
	}
	after, err := parseClock(r.RedEyeArrivalAfter, 22*time.Hour)
	if err != nil {
		return nil, fmt.Errorf("red-eye arrival cutoff: %w", err)
	}

	f := &Filter{
		origin:          r.Origin,
		destinations:    toSet(r.DestinationAirports),
		noRedEyes:       r.NoRedEyes,
		departBefore:    before,
		arriveAfter:     after,
		nonstopRequired: r.NonstopRequired,
		maxStops:        r.MaxStops,
	}
	for _, p := range r.NonstopOnlyPairs {
		f.nonstopPairs = append(f.nonstopPairs, [2]map[string]bool{toSet(p[0]), toSet(p[1])})
	}
	return f, nil
}

// IsRedEye reports whether the offer leaves the origin before the departure
// cutoff or lands at a destination airport after the arrival cutoff.
func (f *Filter) IsRedEye(o Offer) bool {
	if !f.noRedEyes {
		return false
	}
	seg, ok := f.firstLast(o)
	if !ok {
		return false
	}
	first, last := seg[0], seg[1]

	if first.Departure.IATACode == f.origin {
		if t := first.Departure.Time(); !t.IsZero() && clockOf(t) < f.departBefore {
			return true
		}
	}
	if f.destinations[last.Arrival.IATACode] {
		if t := last.Arrival.Time(); !t.IsZero() && clockOf(t) > f.arriveAfter {
			return true
		}
	}
	return false
}

func (f *Filter) firstLast(o Offer) ([2]Segment, bool) {
	first, ok := o.FirstSegment()
	if !ok {
		return [2]Segment{}, false
	}
	last, _ := o.LastSegment()
	return [2]Segment{first, last}, true
}

// TooManyStops applies the stop rules. Nonstop-only pairs win over the
// general limits.
func (f *Filter) TooManyStops(o Offer) bool {
	stops := o.Stops()
	if f.isNonstopOnly(o) {
		return stops > 0
	}
	if f.nonstopRequired {
		return stops > 0
	}
	return stops > f.maxStops
}

func (f *Filter) isNonstopOnly(o Offer) bool {
	seg, ok := f.firstLast(o)
	if !ok {
		return false
	}
	from, to := seg[0].Departure.IATACode, seg[1].Arrival.IATACode
	for _, p := range f.nonstopPairs {
		if (p[0][from] && p[1][to]) || (p[1][from] && p[0][to]) {
			return true
		}
	}
	return false
}

// Apply returns the offers that pass every rule, in input order.
func (f *Filter) Apply(offers []Offer) []Offer {
	out := make([]Offer, 0, len(offers))
	for _, o := range offers {
		if f.IsRedEye(o) || f.TooManyStops(o) {
			continue
		}
		out = append(out, o)
	}
	return out
}

// Sort orders offers by fewest stops, then shortest duration.
func Sort(offers []Offer) {
	sort.SliceStable(offers, func(i, j int) bool {
		si, sj := offers[i].Stops(), offers[j].Stops()
		if si != sj {
			return si < sj
		}
		return offers[i].Duration() < offers[j].Duration()
	})
}

func parseClock(s string, def time.Duration) (time.Duration, error) {
	if s == "" {
		return def, nil
	}
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, err
	}
	return clockOf(t), nil
}

func clockOf(t time.Time) time.Duration {
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute + time.Duration(t.Second())*time.Second
}

func toSet(items []string) map[string]bool {
	m := make(map[string]bool, len(items))
	for _, s := range items {
		m[s] = true
	}
	return m
}
