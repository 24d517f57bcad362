package alert

import (
	"bytes"
	"fmt"
	htmltemplate "html/template"
	"strings"
	texttemplate "text/template"

	"github.com/elonfeng/farewatch/internal/store"
	"github.com/elonfeng/farewatch/pkg/pricing"
	"github.com/shopspring/decimal"
)

// DailyReport is the input to the daily summary.
type DailyReport struct {
	Date          store.Date          `json:"date"`
	RunID         string              `json:"run_id,omitempty"`
	Best          *store.DailyBest    `json:"best,omitempty"`
	TotalSearches int                 `json:"total_searches"`
	AlertsCount   int                 `json:"alerts_count"`
	History       []store.Observation `json:"history,omitempty"`
}

// maxReportRows caps the history table.
const maxReportRows = 10

func money(currency string, d decimal.Decimal) string {
	return fmt.Sprintf("%s $%s", currency, d.StringFixed(2))
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

var funcs = map[string]any{
	"money":    money,
	"truncate": truncate,
}

const priceDropText = `Flight Price Drop Alert!

Price dropped by {{money .Currency .PriceDrop.Decimal}}!
Previous price: {{money .Currency .LastCheckedPrice.Decimal}}
Current price: {{money .Currency .CurrentPrice}}

Trip details:
- Departure: {{.Route.Departure}}
- Return: {{.Route.Return}}
- Route: {{.Metadata.RoutingDescription}}
- Inbound airport: {{.Metadata.InboundAirport}}
- Outbound airport: {{.Metadata.OutboundAirport}}
{{- with .Metadata.FlightNumbers}}
Flight numbers: {{.}}{{end}}
{{- with .Metadata.Airlines}}
Airlines: {{.}}{{end}}
{{- with .Metadata.BookingURL}}
Booking URL: {{.}}{{end}}
`

const priceDropHTML = `<html>
<body style="font-family: Arial, sans-serif; line-height: 1.6; color: #333;">
<div style="max-width: 600px; margin: 0 auto; padding: 20px;">
  <h2 style="color: #2c3e50;">Flight Price Drop Alert</h2>
  <div style="background-color: #e8f5e9; border-left: 4px solid #4caf50; padding: 15px; margin: 20px 0;">
    <h3 style="margin-top: 0; color: #2e7d32;">Price dropped by {{money .Currency .PriceDrop.Decimal}}!</h3>
    <p><strong>Previous price:</strong> {{money .Currency .LastCheckedPrice.Decimal}}<br>
    <strong>Current price:</strong> {{money .Currency .CurrentPrice}}</p>
  </div>
  <div style="background-color: #f5f5f5; padding: 15px; margin: 20px 0; border-radius: 5px;">
    <h3 style="margin-top: 0;">Trip details</h3>
    <p><strong>Departure:</strong> {{.Route.Departure}}</p>
    <p><strong>Return:</strong> {{.Route.Return}}</p>
    <p><strong>Route:</strong> {{.Metadata.RoutingDescription}}</p>
    <p><strong>Inbound airport:</strong> {{.Metadata.InboundAirport}}</p>
    <p><strong>Outbound airport:</strong> {{.Metadata.OutboundAirport}}</p>
  </div>
  {{- if or .Metadata.FlightNumbers .Metadata.Airlines}}
  <div style="background-color: #e3f2fd; padding: 15px; margin: 20px 0; border-radius: 5px;">
    <h3 style="margin-top: 0;">Flight information</h3>
    <p><strong>Flight numbers:</strong> {{.Metadata.FlightNumbers}}</p>
    <p><strong>Airlines:</strong> {{.Metadata.Airlines}}</p>
  </div>
  {{- end}}
  {{- if .Metadata.BookingURL}}
  <p style="text-align: center;"><a href="{{.Metadata.BookingURL}}">Book now</a></p>
  {{- else}}
  <p style="text-align: center; color: #666; font-style: italic;">Booking link will be available after flight selection</p>
  {{- end}}
</div>
</body>
</html>
`

const dailyReportText = `Daily Flight Price Report - {{.Date}}

{{with .Best}}Best price today: {{money .Currency .BestPrice}} ({{.DepartureDate}} → {{.ReturnDate}}, {{.InboundAirport}}/{{.OutboundAirport}})
{{else}}No prices recorded today.
{{end}}Total searches: {{.TotalSearches}}
Price drop alerts: {{.AlertsCount}}
{{- if .History}}

Recent price history:
{{- range .History}}
- {{.DepartureDate}} → {{.ReturnDate}}: {{money .Currency .TotalPrice}} {{truncate .RoutingDescription 50}}
{{- end}}
{{- end}}
`

const dailyReportHTML = `<html>
<body style="font-family: Arial, sans-serif; line-height: 1.6; color: #333;">
<div style="max-width: 600px; margin: 0 auto; padding: 20px;">
  <h2 style="color: #2c3e50;">Daily Flight Price Report</h2>
  <p><strong>Date:</strong> {{.Date}}</p>
  <div style="background-color: #f5f5f5; padding: 15px; margin: 20px 0; border-radius: 5px;">
    <h3 style="margin-top: 0;">Summary</h3>
    {{- with .Best}}
    <p><strong>Best price today:</strong> {{money .Currency .BestPrice}}</p>
    {{- else}}
    <p><strong>Best price today:</strong> none recorded</p>
    {{- end}}
    <p><strong>Total searches:</strong> {{.TotalSearches}}</p>
    <p><strong>Price drop alerts:</strong> {{.AlertsCount}}</p>
  </div>
  {{- if .History}}
  <h3>Recent price history</h3>
  <table style="width: 100%; border-collapse: collapse; margin: 20px 0;">
    <thead><tr style="background-color: #2196F3; color: white;">
      <th style="padding: 10px; text-align: left;">Departure</th>
      <th style="padding: 10px; text-align: left;">Return</th>
      <th style="padding: 10px; text-align: left;">Price</th>
      <th style="padding: 10px; text-align: left;">Route</th>
    </tr></thead>
    <tbody>
    {{- range .History}}
      <tr><td>{{.DepartureDate}}</td><td>{{.ReturnDate}}</td><td>{{money .Currency .TotalPrice}}</td><td>{{truncate .RoutingDescription 50}}</td></tr>
    {{- end}}
    </tbody>
  </table>
  {{- end}}
</div>
</body>
</html>
`

var (
	priceDropTextTmpl   = texttemplate.Must(texttemplate.New("price_drop").Funcs(funcs).Parse(priceDropText))
	priceDropHTMLTmpl   = htmltemplate.Must(htmltemplate.New("price_drop").Funcs(funcs).Parse(priceDropHTML))
	dailyReportTextTmpl = texttemplate.Must(texttemplate.New("daily_report").Funcs(funcs).Parse(dailyReportText))
	dailyReportHTMLTmpl = htmltemplate.Must(htmltemplate.New("daily_report").Funcs(funcs).Parse(dailyReportHTML))
)

func execText(t *texttemplate.Template, data any) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render %s: %w", t.Name(), err)
	}
	return buf.String(), nil
}

func execHTML(t *htmltemplate.Template, data any) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render %s html: %w", t.Name(), err)
	}
	return buf.String(), nil
}

// RenderPriceDrop renders the alert for a comparison that crossed the threshold.
func RenderPriceDrop(r *pricing.Result) (*Notification, error) {
	if !r.PriceDrop.Valid || !r.LastCheckedPrice.Valid {
		return nil, fmt.Errorf("render price drop %s: no previous price", r.Route)
	}
	text, err := execText(priceDropTextTmpl, r)
	if err != nil {
		return nil, err
	}
	html, err := execHTML(priceDropHTMLTmpl, r)
	if err != nil {
		return nil, err
	}

	facts := []Fact{
		{Label: "Dates", Value: r.Route.String()},
		{Label: "Now", Value: money(r.Currency, r.CurrentPrice)},
		{Label: "Was", Value: money(r.Currency, r.LastCheckedPrice.Decimal)},
		{Label: "Route", Value: r.Metadata.RoutingDescription},
		{Label: "Airports", Value: r.Metadata.InboundAirport + " / " + r.Metadata.OutboundAirport},
	}
	if r.Metadata.FlightNumbers != "" {
		facts = append(facts, Fact{Label: "Flights", Value: r.Metadata.FlightNumbers})
	}

	return &Notification{
		Kind:    KindPriceDrop,
		Subject: fmt.Sprintf("Flight Price Drop Alert: $%s Savings!", r.PriceDrop.Decimal.StringFixed(2)),
		Text:    strings.TrimSpace(text),
		HTML:    html,
		URL:     r.Metadata.BookingURL,
		Facts:   facts,
		Data:    r,
	}, nil
}

// RenderDailyReport renders the end-of-sweep summary.
func RenderDailyReport(d DailyReport) (*Notification, error) {
	if len(d.History) > maxReportRows {
		d.History = d.History[:maxReportRows]
	}
	text, err := execText(dailyReportTextTmpl, d)
	if err != nil {
		return nil, err
	}
	html, err := execHTML(dailyReportHTMLTmpl, d)
	if err != nil {
		return nil, err
	}

	facts := []Fact{
		{Label: "Searches", Value: fmt.Sprint(d.TotalSearches)},
		{Label: "Alerts", Value: fmt.Sprint(d.AlertsCount)},
	}
	if d.Best != nil {
		facts = append([]Fact{
			{Label: "Best today", Value: money(d.Best.Currency, d.Best.BestPrice)},
			{Label: "Dates", Value: d.Best.DepartureDate.String() + " → " + d.Best.ReturnDate.String()},
		}, facts...)
	}

	return &Notification{
		Kind:    KindDailyReport,
		Subject: fmt.Sprintf("Daily Flight Price Report - %s", d.Date),
		Text:    strings.TrimSpace(text),
		HTML:    html,
		Facts:   facts,
		Data:    d,
	}, nil
}
