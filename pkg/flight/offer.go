package flight

import (
	"encoding/json"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// localTimeLayout is how the search API reports segment times (airport local).
const localTimeLayout = "2006-01-02T15:04:05"

// Offer is one priced one-way itinerary returned by a search.
type Offer struct {
	ID          string      `json:"id"`
	Itineraries []Itinerary `json:"itineraries"`
	Price       Price       `json:"price"`

	// Carriers maps carrier codes to airline names, from the response dictionaries.
	Carriers map[string]string `json:"-"`
	// Raw is the offer exactly as the API returned it.
	Raw json.RawMessage `json:"-"`
}

// Itinerary is a sequence of segments flown together.
type Itinerary struct {
	Duration string    `json:"duration"` // ISO 8601, e.g. PT5H30M
	Segments []Segment `json:"segments"`
}

// Segment is a single takeoff and landing.
type Segment struct {
	Departure   Endpoint `json:"departure"`
	Arrival     Endpoint `json:"arrival"`
	CarrierCode string   `json:"carrierCode"`
	Number      string   `json:"number"`
	Duration    string   `json:"duration"`
}

// Endpoint is an airport and a local timestamp.
type Endpoint struct {
	IATACode string `json:"iataCode"`
	At       string `json:"at"`
}

// Time parses At. The zero time is returned when At is malformed.
func (e Endpoint) Time() time.Time {
	t, err := time.Parse(localTimeLayout, e.At)
	if err != nil {
		return time.Time{}
	}
	return t
}

// Price is the offer's fare.
type Price struct {
	Currency   string          `json:"currency"`
	Total      decimal.Decimal `json:"total"`
	GrandTotal decimal.Decimal `json:"grandTotal"`
}

func (o Offer) segments() []Segment {
	if len(o.Itineraries) == 0 {
		return nil
	}
	return o.Itineraries[0].Segments
}

// FirstSegment returns the first segment of the first itinerary.
func (o Offer) FirstSegment() (Segment, bool) {
	segs := o.segments()
	if len(segs) == 0 {
		return Segment{}, false
	}
	return segs[0], true
}

// LastSegment returns the final segment of the first itinerary.
func (o Offer) LastSegment() (Segment, bool) {
	segs := o.segments()
	if len(segs) == 0 {
		return Segment{}, false
	}
	return segs[len(segs)-1], true
}

// Stops is the number of connections on the first itinerary.
func (o Offer) Stops() int {
	if n := len(o.segments()); n > 0 {
		return n - 1
	}
	return 0
}

// Duration is the first itinerary's total duration.
func (o Offer) Duration() time.Duration {
	if len(o.Itineraries) == 0 {
		return 0
	}
	return ParseDuration(o.Itineraries[0].Duration)
}

// TotalPrice is the fare total, preferring the grand total when set.
func (o Offer) TotalPrice() decimal.Decimal {
	if o.Price.GrandTotal.IsPositive() {
		return o.Price.GrandTotal
	}
	return o.Price.Total
}

// FlightNumbers lists carrier+number for every segment, e.g. "AA123, UA45".
func (o Offer) FlightNumbers() string {
	var nums []string
	for _, it := range o.Itineraries {
		for _, s := range it.Segments {
			if s.CarrierCode != "" && s.Number != "" {
				nums = append(nums, s.CarrierCode+s.Number)
			}
		}
	}
	return strings.Join(nums, ", ")
}

// Airlines lists the distinct airline names flown, sorted.
func (o Offer) Airlines() string {
	seen := make(map[string]bool)
	var names []string
	for _, it := range o.Itineraries {
		for _, s := range it.Segments {
			name, ok := o.Carriers[s.CarrierCode]
			if !ok || seen[name] {
				continue
			}
			seen[name] = true
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}

// Payload returns the raw API JSON, or a re-encoding when Raw is empty.
func (o Offer) Payload() json.RawMessage {
	if len(o.Raw) > 0 {
		return o.Raw
	}
	data, err := json.Marshal(o)
	if err != nil {
		return nil
	}
	return data
}

var durationRe = regexp.MustCompile(`^PT(?:(\d+)H)?(?:(\d+)M)?$`)

// ParseDuration converts an ISO 8601 duration like PT2H30M. Anything it
// cannot read is zero.
func ParseDuration(s string) time.Duration {
	m := durationRe.FindStringSubmatch(s)
	if m == nil {
		return 0
	}
	var d time.Duration
	if m[1] != "" {
		h, _ := strconv.Atoi(m[1])
		d += time.Duration(h) * time.Hour
	}
	if m[2] != "" {
		mins, _ := strconv.Atoi(m[2])
		d += time.Duration(mins) * time.Minute
	}
	return d
}
