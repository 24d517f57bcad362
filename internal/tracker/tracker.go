package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/elonfeng/farewatch/internal/store"
	"github.com/elonfeng/farewatch/pkg/alert"
	"github.com/elonfeng/farewatch/pkg/flight"
	"github.com/elonfeng/farewatch/pkg/pricing"
	"github.com/google/uuid"
)

// Store is what a sweep reads and writes.
type Store interface {
	pricing.Store
	QueryRecent(ctx context.Context, limit int) ([]store.Observation, error)
}

// Status is the outcome of one date pair.
type Status string

const (
	StatusRecorded Status = "recorded"
	StatusSkipped  Status = "skipped"
	StatusFailed   Status = "failed"
)

// PairResult is the outcome of tracking one route/date-pair.
type PairResult struct {
	Departure store.Date      `json:"departure_date"`
	Return    store.Date      `json:"return_date"`
	Status    Status          `json:"status"`
	Reason    string          `json:"reason,omitempty"`
	Alerted   bool            `json:"alerted"`
	Result    *pricing.Result `json:"result,omitempty"`
}

// Report summarizes a sweep. A report is returned even when the sweep was
// aborted; Pairs then holds what completed before the abort.
type Report struct {
	RunID               string       `json:"run_id"`
	StartedAt           time.Time    `json:"started_at"`
	FinishedAt          time.Time    `json:"finished_at"`
	Pairs               []PairResult `json:"pairs"`
	AlertsTriggered     int          `json:"alerts_triggered"`
	NotificationsSent   int          `json:"notifications_sent"`
	NotificationsFailed int          `json:"notifications_failed"`
	Aborted             string       `json:"aborted,omitempty"`
}

// Count returns how many pairs ended with status s.
func (r *Report) Count(s Status) int {
	n := 0
	for _, p := range r.Pairs {
		if p.Status == s {
			n++
		}
	}
	return n
}

// Window is the range of departure dates to sweep.
type Window struct {
	Start        store.Date
	End          store.Date
	DurationDays int
}

// Options configures a Tracker.
type Options struct {
	Window Window
	Adults int
	Policy pricing.AlertPolicy
	Now    func() time.Time
	Logger *slog.Logger
}

// ErrBusy is returned when a sweep is requested while another is running.
var ErrBusy = errors.New("a sweep is already running")

// Tracker runs sweeps: for each date pair it asks the provider for the best
// offer, records it through the comparator and sends alerts. Pairs are
// processed one at a time, and at most one sweep runs at once so the store
// keeps a single writer.
type Tracker struct {
	running sync.Mutex

	store      Store
	comparator *pricing.Comparator
	provider   flight.Provider
	alerts     *alert.Manager
	policy     pricing.AlertPolicy
	window     Window
	adults     int
	now        func() time.Time
	log        *slog.Logger
}

// New creates a tracker.
func New(s Store, p flight.Provider, alerts *alert.Manager, opts Options) *Tracker {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	if opts.Adults <= 0 {
		opts.Adults = 1
	}
	return &Tracker{
		store:      s,
		comparator: pricing.NewComparator(s, opts.Now),
		provider:   p,
		alerts:     alerts,
		policy:     opts.Policy,
		window:     opts.Window,
		adults:     opts.Adults,
		now:        opts.Now,
		log:        opts.Logger,
	}
}

// DatePairs lists one pair per departure date from start to end inclusive,
// returning duration days later.
func DatePairs(start, end store.Date, duration int) ([]store.RouteKey, error) {
	if !start.Valid() || !end.Valid() {
		return nil, fmt.Errorf("date pairs: invalid window %q..%q", start, end)
	}
	if end < start {
		return nil, fmt.Errorf("date pairs: window ends %s before it starts %s", end, start)
	}
	if duration < 0 {
		return nil, fmt.Errorf("date pairs: negative trip duration %d", duration)
	}
	var pairs []store.RouteKey
	for d := start; d <= end; d = d.AddDays(1) {
		pairs = append(pairs, store.RouteKey{Departure: d, Return: d.AddDays(duration)})
	}
	return pairs, nil
}

// Sweep tracks every date pair in the configured window.
func (t *Tracker) Sweep(ctx context.Context) (*Report, error) {
	pairs, err := DatePairs(t.window.Start, t.window.End, t.window.DurationDays)
	if err != nil {
		return nil, err
	}
	return t.Track(ctx, pairs)
}

// Track processes pairs in order. Provider failures skip a pair and invalid
// quotes fail it; both let the sweep continue. A storage error or a
// cancelled context stops the sweep and is returned with the partial
// report. While another sweep is running Track returns ErrBusy and no
// report.
func (t *Tracker) Track(ctx context.Context, pairs []store.RouteKey) (*Report, error) {
	if !t.running.TryLock() {
		return nil, ErrBusy
	}
	defer t.running.Unlock()

	rep := &Report{RunID: uuid.NewString(), StartedAt: t.now()}
	log := t.log.With("run_id", rep.RunID)
	log.Info("sweep started", "pairs", len(pairs))

	for _, key := range pairs {
		if err := ctx.Err(); err != nil {
			return t.abort(rep, log, err)
		}
		if err := t.trackPair(ctx, log, key, rep); err != nil {
			return t.abort(rep, log, err)
		}
	}

	rep.FinishedAt = t.now()
	log.Info("sweep finished",
		"recorded", rep.Count(StatusRecorded),
		"skipped", rep.Count(StatusSkipped),
		"failed", rep.Count(StatusFailed),
		"alerts", rep.AlertsTriggered,
		"sent", rep.NotificationsSent,
		"send_failed", rep.NotificationsFailed)
	return rep, nil
}

func (t *Tracker) abort(rep *Report, log *slog.Logger, err error) (*Report, error) {
	rep.FinishedAt = t.now()
	rep.Aborted = err.Error()
	log.Error("sweep aborted", "completed", len(rep.Pairs), "err", err)
	return rep, err
}

// trackPair appends the pair's outcome to rep. It returns an error only
// when the sweep must stop.
func (t *Tracker) trackPair(ctx context.Context, log *slog.Logger, key store.RouteKey, rep *Report) error {
	log = log.With("departure", key.Departure, "return", key.Return)
	pr := PairResult{Departure: key.Departure, Return: key.Return}

	best, err := t.provider.SearchBestOffer(ctx, flight.TripRequest{
		Departure: key.Departure,
		Return:    key.Return,
		Adults:    t.adults,
	})
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Warn("search failed, skipping", "err", err)
		pr.Status, pr.Reason = StatusSkipped, err.Error()
		rep.Pairs = append(rep.Pairs, pr)
		return nil
	}
	if best == nil {
		log.Info("no flights found")
		pr.Status, pr.Reason = StatusSkipped, "no flights found"
		rep.Pairs = append(rep.Pairs, pr)
		return nil
	}

	res, err := t.comparator.RecordAndCompare(ctx, quoteOf(key, best))
	if err != nil {
		var verr *pricing.ValidationError
		if errors.As(err, &verr) {
			log.Warn("quote rejected", "err", err)
			pr.Status, pr.Reason = StatusFailed, err.Error()
			rep.Pairs = append(rep.Pairs, pr)
			return nil
		}
		return fmt.Errorf("track %s: %w", key, err)
	}

	pr.Status, pr.Result = StatusRecorded, res
	attrs := []any{"price", res.CurrentPrice.StringFixed(2), "currency", res.Currency, "new_best_today", res.IsNewBestToday}
	if res.LastCheckedPrice.Valid {
		attrs = append(attrs, "previous", res.LastCheckedPrice.Decimal.StringFixed(2))
	}
	log.Info("price recorded", attrs...)

	if t.policy.ShouldAlert(res) {
		pr.Alerted = true
		rep.AlertsTriggered++
		log.Info("price drop alert", "drop", res.PriceDrop.Decimal.StringFixed(2))
		sent, failed := t.notify(ctx, log, res)
		rep.NotificationsSent += sent
		rep.NotificationsFailed += failed
	}
	rep.Pairs = append(rep.Pairs, pr)
	return nil
}

// notify delivers a price-drop alert. Failures are logged and counted.
func (t *Tracker) notify(ctx context.Context, log *slog.Logger, res *pricing.Result) (sent, failed int) {
	if !t.alerts.HasNotifiers() {
		return 0, 0
	}
	n, err := alert.RenderPriceDrop(res)
	if err != nil {
		log.Error("render alert", "err", err)
		return 0, t.alerts.Len()
	}
	return t.broadcast(ctx, log, n)
}

func (t *Tracker) broadcast(ctx context.Context, log *slog.Logger, n *alert.Notification) (sent, failed int) {
	err := t.alerts.Broadcast(ctx, n)
	var nerr *alert.NotificationError
	switch {
	case err == nil:
		return t.alerts.Len(), 0
	case errors.As(err, &nerr):
		log.Warn("notification failed", "kind", n.Kind, "failed", nerr.Failed, "err", err)
		return t.alerts.Len() - len(nerr.Failed), len(nerr.Failed)
	default:
		log.Warn("notification failed", "kind", n.Kind, "err", err)
		return 0, t.alerts.Len()
	}
}

func quoteOf(key store.RouteKey, b *flight.BestOption) pricing.Quote {
	return pricing.Quote{
		Route:    key,
		Price:    b.TotalPrice,
		Currency: b.Currency,
		Metadata: pricing.RouteMetadata{
			InboundAirport:     b.InboundAirport,
			OutboundAirport:    b.OutboundAirport,
			RoutingDescription: b.Description,
			OutboundFlightData: store.Payload(b.Outbound.Payload()),
			ReturnFlightData:   store.Payload(b.Return.Payload()),
			FlightNumbers:      b.FlightNumbers(),
			Airlines:           b.Airlines(),
		},
	}
}

// reportHistory is how many recent observations the daily report lists.
const reportHistory = 20

// DailyReport builds the end-of-day summary for rep.
func (t *Tracker) DailyReport(ctx context.Context, rep *Report) (*alert.Notification, error) {
	today := store.DateOf(t.now())
	best, err := t.store.GetDailyBest(ctx, today)
	if err != nil {
		return nil, fmt.Errorf("daily report: %w", err)
	}
	recent, err := t.store.QueryRecent(ctx, reportHistory)
	if err != nil {
		return nil, fmt.Errorf("daily report: %w", err)
	}
	return alert.RenderDailyReport(alert.DailyReport{
		Date:          today,
		RunID:         rep.RunID,
		Best:          best,
		TotalSearches: rep.Count(StatusRecorded),
		AlertsCount:   rep.AlertsTriggered,
		History:       recent,
	})
}

// SendDailyReport renders and broadcasts the daily report, adding the
// delivery counts to rep. Without notifiers it does nothing.
func (t *Tracker) SendDailyReport(ctx context.Context, rep *Report) error {
	if !t.alerts.HasNotifiers() {
		return nil
	}
	n, err := t.DailyReport(ctx, rep)
	if err != nil {
		return err
	}
	sent, failed := t.broadcast(ctx, t.log.With("run_id", rep.RunID), n)
	rep.NotificationsSent += sent
	rep.NotificationsFailed += failed
	return nil
}
