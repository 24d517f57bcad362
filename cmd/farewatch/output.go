package main

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/elonfeng/farewatch/internal/store"
	"github.com/elonfeng/farewatch/internal/tracker"
	"github.com/elonfeng/farewatch/pkg/itinerary"
	"github.com/shopspring/decimal"
)

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func money(currency string, d decimal.Decimal) string {
	return fmt.Sprintf("%s $%s", currency, d.StringFixed(2))
}

func printReport(out io.Writer, rep *tracker.Report) error {
	if jsonOutput {
		return printJSON(out, rep)
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "DEPARTURE\tRETURN\tSTATUS\tPRICE\tPREVIOUS\tROUTE\tNOTE")
	for _, p := range rep.Pairs {
		price, previous, route := "-", "-", "-"
		note := p.Reason
		if r := p.Result; r != nil {
			price = money(r.Currency, r.CurrentPrice)
			if r.LastCheckedPrice.Valid {
				previous = money(r.Currency, r.LastCheckedPrice.Decimal)
			}
			route = r.Metadata.InboundAirport + "→" + r.Metadata.OutboundAirport
			if r.IsNewBestToday {
				note = "best today"
			}
		}
		if p.Alerted {
			note = "alerted"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			p.Departure, p.Return, p.Status, price, previous, route, note)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	fmt.Fprintf(out, "\nrun %s: %d recorded, %d skipped, %d failed, %d alerts (%d sent, %d failed)\n",
		rep.RunID,
		rep.Count(tracker.StatusRecorded), rep.Count(tracker.StatusSkipped), rep.Count(tracker.StatusFailed),
		rep.AlertsTriggered, rep.NotificationsSent, rep.NotificationsFailed)
	if rep.Aborted != "" {
		fmt.Fprintf(out, "aborted: %s\n", rep.Aborted)
	}
	return nil
}

func printObservations(out io.Writer, obs []store.Observation) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tCHECKED\tDEPARTURE\tRETURN\tROUTE\tPRICE\tFLIGHTS\tAIRLINES")
	for _, o := range obs {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			o.ID, o.CheckedDate, o.DepartureDate, o.ReturnDate,
			o.InboundAirport+"→"+o.OutboundAirport,
			money(o.Currency, o.TotalPrice), o.FlightNumbers, o.Airlines)
	}
	return w.Flush()
}

func printDailyBest(out io.Writer, b *store.DailyBest) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Checked:\t%s\n", b.CheckedDate)
	fmt.Fprintf(w, "Best price:\t%s\n", money(b.Currency, b.BestPrice))
	fmt.Fprintf(w, "Dates:\t%s → %s\n", b.DepartureDate, b.ReturnDate)
	fmt.Fprintf(w, "Route:\t%s → %s\n", b.InboundAirport, b.OutboundAirport)
	if b.RoutingDescription != "" {
		fmt.Fprintf(w, "Routing:\t%s\n", b.RoutingDescription)
	}
	fmt.Fprintf(w, "Observation:\t%d\n", b.ObservationID)
	return w.Flush()
}

func printHotels(out io.Writer, hotels []store.HotelObservation) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "HOTEL\tPER NIGHT\tTOTAL\tCHECKED")
	for _, h := range hotels {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			h.HotelName, money(h.Currency, h.PricePerNight), money(h.Currency, h.TotalPrice), h.CheckedDate)
	}
	return w.Flush()
}

func printSuggestion(out io.Writer, s *itinerary.Suggestion) {
	fmt.Fprintf(out, "%s → %s: %s\n", s.Departure, s.Return, s.Recommendation)
	for _, st := range s.Stays {
		fmt.Fprintf(out, "  %-15s %s → %s (%d nights)\n", st.City, st.CheckIn, st.CheckOut, st.Nights)
	}
	if s.Bloom.Window != nil && s.Bloom.OverlapsFestival {
		fmt.Fprintf(out, "  cherry blossom festival overlaps the trip (%d peak days)\n", s.Bloom.PeakDays)
	}
}

var csvHeader = []string{
	"id", "departure_date", "return_date", "inbound_airport", "outbound_airport",
	"routing_description", "total_price", "currency", "flight_numbers", "airlines",
	"booking_url", "checked_date", "created_at", "outbound_flight_data", "return_flight_data",
}

func exportCSV(out io.Writer, o *store.Observation) error {
	w := csv.NewWriter(out)
	w.Write(csvHeader)
	w.Write([]string{
		strconv.FormatInt(o.ID, 10),
		o.DepartureDate.String(),
		o.ReturnDate.String(),
		o.InboundAirport,
		o.OutboundAirport,
		o.RoutingDescription,
		o.TotalPrice.StringFixed(2),
		o.Currency,
		o.FlightNumbers,
		o.Airlines,
		o.BookingURL,
		o.CheckedDate.String(),
		o.CreatedAt.UTC().Format(time.RFC3339),
		string(o.OutboundFlightData),
		string(o.ReturnFlightData),
	})
	w.Flush()
	return w.Error()
}
