package store

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

const dateLayout = "2006-01-02"

// Date is a calendar date stored as YYYY-MM-DD text. String order is
// chronological order, so it sorts correctly in SQL.
type Date string

// ParseDate validates s and returns it as a Date.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return "", fmt.Errorf("parse date %q: %w", s, err)
	}
	return Date(t.Format(dateLayout)), nil
}

// DateOf returns the calendar date of t in t's location.
func DateOf(t time.Time) Date {
	return Date(t.Format(dateLayout))
}

// Time returns midnight UTC of d. The zero time is returned for an invalid date.
func (d Date) Time() time.Time {
	t, _ := time.Parse(dateLayout, string(d))
	return t
}

// AddDays returns d shifted by n days.
func (d Date) AddDays(n int) Date {
	return DateOf(d.Time().AddDate(0, 0, n))
}

// Valid reports whether d is a well-formed date.
func (d Date) Valid() bool {
	_, err := time.Parse(dateLayout, string(d))
	return err == nil
}

func (d Date) String() string { return string(d) }

// RouteKey identifies a route/date-pair. Airports are not part of the key:
// history for a pair spans whichever airports won each search.
type RouteKey struct {
	Departure Date `json:"departure_date"`
	Return    Date `json:"return_date"`
}

func (k RouteKey) String() string {
	return fmt.Sprintf("%s→%s", k.Departure, k.Return)
}

// Payload is an opaque provider JSON document kept as TEXT.
type Payload json.RawMessage

// Value stores an empty payload as NULL.
func (p Payload) Value() (driver.Value, error) {
	if len(p) == 0 {
		return nil, nil
	}
	return string(p), nil
}

// Scan implements sql.Scanner.
func (p *Payload) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*p = nil
	case string:
		*p = Payload(v)
	case []byte:
		*p = append(Payload(nil), v...)
	default:
		return fmt.Errorf("scan payload: unsupported type %T", src)
	}
	return nil
}

func (p Payload) MarshalJSON() ([]byte, error) {
	if len(p) == 0 {
		return []byte("null"), nil
	}
	return p, nil
}

func (p *Payload) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*p = nil
		return nil
	}
	*p = append((*p)[:0], b...)
	return nil
}

// Observation is a single price quoted for a route/date-pair at check time.
// Rows are append-only.
type Observation struct {
	ID                 int64           `db:"id" json:"id"`
	DepartureDate      Date            `db:"departure_date" json:"departure_date"`
	ReturnDate         Date            `db:"return_date" json:"return_date"`
	InboundAirport     string          `db:"inbound_airport" json:"inbound_airport"`
	OutboundAirport    string          `db:"outbound_airport" json:"outbound_airport"`
	RoutingDescription string          `db:"routing_description" json:"routing_description"`
	TotalPrice         decimal.Decimal `db:"total_price" json:"total_price"`
	Currency           string          `db:"currency" json:"currency"`
	OutboundFlightData Payload         `db:"outbound_flight_data" json:"outbound_flight_data,omitempty"`
	ReturnFlightData   Payload         `db:"return_flight_data" json:"return_flight_data,omitempty"`
	BookingURL         string          `db:"booking_url" json:"booking_url,omitempty"`
	FlightNumbers      string          `db:"flight_numbers" json:"flight_numbers"`
	Airlines           string          `db:"airlines" json:"airlines"`
	CheckedDate        Date            `db:"checked_date" json:"checked_date"`
	CreatedAt          time.Time       `db:"created_at" json:"created_at"`
}

// Route returns the observation's route/date-pair key.
func (o *Observation) Route() RouteKey {
	return RouteKey{Departure: o.DepartureDate, Return: o.ReturnDate}
}

// DailyBest is the cheapest observation recorded on one checked date,
// across every route/date-pair searched that day.
type DailyBest struct {
	CheckedDate        Date            `db:"checked_date" json:"checked_date"`
	BestPrice          decimal.Decimal `db:"best_price" json:"best_price"`
	Currency           string          `db:"currency" json:"currency"`
	DepartureDate      Date            `db:"departure_date" json:"departure_date"`
	ReturnDate         Date            `db:"return_date" json:"return_date"`
	InboundAirport     string          `db:"inbound_airport" json:"inbound_airport"`
	OutboundAirport    string          `db:"outbound_airport" json:"outbound_airport"`
	RoutingDescription string          `db:"routing_description" json:"routing_description"`
	ObservationID      int64           `db:"observation_id" json:"observation_id"`
	UpdatedAt          time.Time       `db:"updated_at" json:"updated_at"`
}

// HotelObservation is the latest lodging quote for a city/stay/hotel.
type HotelObservation struct {
	ID            int64           `db:"id" json:"id"`
	City          string          `db:"city" json:"city"`
	CheckInDate   Date            `db:"check_in_date" json:"check_in_date"`
	CheckOutDate  Date            `db:"check_out_date" json:"check_out_date"`
	HotelName     string          `db:"hotel_name" json:"hotel_name"`
	PricePerNight decimal.Decimal `db:"price_per_night" json:"price_per_night"`
	TotalPrice    decimal.Decimal `db:"total_price" json:"total_price"`
	Currency      string          `db:"currency" json:"currency"`
	HotelData     Payload         `db:"hotel_data" json:"hotel_data,omitempty"`
	CheckedDate   Date            `db:"checked_date" json:"checked_date"`
	CreatedAt     time.Time       `db:"created_at" json:"created_at"`
}

// RouteStat aggregates history for one inbound/outbound airport pairing.
type RouteStat struct {
	InboundAirport  string          `db:"inbound_airport" json:"inbound_airport"`
	OutboundAirport string          `db:"outbound_airport" json:"outbound_airport"`
	Count           int             `db:"cnt" json:"count"`
	AveragePrice    decimal.Decimal `db:"avg_price" json:"average_price"`
	MinPrice        decimal.Decimal `db:"min_price" json:"min_price"`
	Currency        string          `db:"currency" json:"currency"`
}
