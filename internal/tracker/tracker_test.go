package tracker

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/elonfeng/farewatch/internal/store"
	"github.com/elonfeng/farewatch/pkg/alert"
	"github.com/elonfeng/farewatch/pkg/flight"
	"github.com/elonfeng/farewatch/pkg/pricing"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct{ day string }

func (c *clock) now() time.Time {
	t, _ := time.ParseInLocation("2006-01-02", c.day, time.Local)
	return t.Add(9 * time.Hour)
}

// fakeProvider prices trips by departure date.
type fakeProvider struct {
	prices map[store.Date]string
	errs   map[store.Date]error
	calls  []store.Date
	onCall func()
}

func (f *fakeProvider) SearchBestOffer(ctx context.Context, req flight.TripRequest) (*flight.BestOption, error) {
	f.calls = append(f.calls, req.Departure)
	if f.onCall != nil {
		f.onCall()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := f.errs[req.Departure]; err != nil {
		return nil, err
	}
	p, ok := f.prices[req.Departure]
	if !ok {
		return nil, nil
	}
	return &flight.BestOption{
		InboundAirport:  "IAD",
		OutboundAirport: "JFK",
		Description:     "DC first, home from NYC",
		TotalPrice:      decimal.RequireFromString(p),
		Currency:        "USD",
	}, nil
}

type stubNotifier struct {
	name string
	err  error
	sent []*alert.Notification
}

func (s *stubNotifier) Name() string { return s.name }

func (s *stubNotifier) Send(_ context.Context, n *alert.Notification) error {
	s.sent = append(s.sent, n)
	return s.err
}

func openStore(t *testing.T, c *clock) *store.SQLiteStore {
	t.Helper()
	var tick time.Duration
	s, err := store.New(filepath.Join(t.TempDir(), "farewatch.db"), store.WithClock(func() time.Time {
		tick += time.Millisecond
		return c.now().Add(tick)
	}))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newTracker(s Store, p flight.Provider, m *alert.Manager, c *clock) *Tracker {
	return New(s, p, m, Options{
		Window: Window{Start: "2026-04-03", End: "2026-04-06", DurationDays: 6},
		Policy: pricing.AlertPolicy{Threshold: decimal.NewFromInt(10)},
		Now:    c.now,
	})
}

func TestDatePairs(t *testing.T) {
	pairs, err := DatePairs("2026-04-03", "2026-04-06", 6)
	require.NoError(t, err)
	require.Len(t, pairs, 4)
	assert.Equal(t, store.RouteKey{Departure: "2026-04-03", Return: "2026-04-09"}, pairs[0])
	assert.Equal(t, store.RouteKey{Departure: "2026-04-06", Return: "2026-04-12"}, pairs[3])

	pairs, err = DatePairs("2026-03-30", "2026-04-01", 0)
	require.NoError(t, err)
	assert.Equal(t, store.Date("2026-03-31"), pairs[1].Departure, "crosses month end")
	assert.Equal(t, pairs[1].Departure, pairs[1].Return)

	_, err = DatePairs("2026-04-06", "2026-04-03", 6)
	assert.Error(t, err)
	_, err = DatePairs("April 3", "2026-04-06", 6)
	assert.Error(t, err)
	_, err = DatePairs("2026-04-03", "2026-04-06", -1)
	assert.Error(t, err)
}

func TestSweep_ReportsEveryPair(t *testing.T) {
	c := &clock{day: "2026-03-01"}
	s := openStore(t, c)
	p := &fakeProvider{
		prices: map[store.Date]string{
			"2026-04-03": "520.00",
			"2026-04-05": "-1",
			"2026-04-06": "480.00",
		},
		errs: map[store.Date]error{
			"2026-04-04": &flight.ProviderError{Op: "search", Status: 503, Err: errors.New("unavailable")},
		},
	}
	tr := newTracker(s, p, alert.NewManager(nil), c)

	rep, err := tr.Sweep(context.Background())
	require.NoError(t, err)

	assert.NotEmpty(t, rep.RunID)
	require.Len(t, rep.Pairs, 4)
	assert.Equal(t, StatusRecorded, rep.Pairs[0].Status)
	assert.Equal(t, StatusSkipped, rep.Pairs[1].Status)
	assert.Contains(t, rep.Pairs[1].Reason, "503")
	assert.Equal(t, StatusFailed, rep.Pairs[2].Status, "negative price is rejected")
	assert.Contains(t, rep.Pairs[2].Reason, "price")
	assert.Equal(t, StatusRecorded, rep.Pairs[3].Status)
	assert.Equal(t, 2, rep.Count(StatusRecorded))
	assert.Equal(t, 0, rep.AlertsTriggered)
	assert.Empty(t, rep.Aborted)

	best, err := s.GetDailyBest(context.Background(), "2026-03-01")
	require.NoError(t, err)
	require.NotNil(t, best)
	assert.True(t, decimal.RequireFromString("480").Equal(best.BestPrice))
	assert.Equal(t, store.Date("2026-04-06"), best.DepartureDate)

	recent, err := s.QueryRecent(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, recent, 2, "failed pair wrote nothing")
}

func TestSweep_PriceDropAlerts(t *testing.T) {
	c := &clock{day: "2026-03-01"}
	s := openStore(t, c)
	p := &fakeProvider{prices: map[store.Date]string{"2026-04-03": "520.00", "2026-04-04": "600.00"}}
	ok := &stubNotifier{name: "slack"}
	bad := &stubNotifier{name: "email", err: errors.New("535 auth")}
	tr := newTracker(s, p, alert.NewManager([]alert.Notifier{ok, bad}), c)
	ctx := context.Background()

	_, err := tr.Sweep(ctx)
	require.NoError(t, err)
	assert.Empty(t, ok.sent, "first observations never alert")

	c.day = "2026-03-02"
	p.prices = map[store.Date]string{"2026-04-03": "505.00", "2026-04-04": "590.00"}
	rep, err := tr.Sweep(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, rep.AlertsTriggered, "15 off alerts, exactly 10 off does not")
	assert.True(t, rep.Pairs[0].Alerted)
	assert.False(t, rep.Pairs[1].Alerted)
	assert.Equal(t, 1, rep.NotificationsSent)
	assert.Equal(t, 1, rep.NotificationsFailed)
	require.Len(t, ok.sent, 1)
	assert.Equal(t, alert.KindPriceDrop, ok.sent[0].Kind)
	assert.Contains(t, ok.sent[0].Subject, "$15.00")

	obs, err := s.GetLastObservation(ctx, store.RouteKey{Departure: "2026-04-03", Return: "2026-04-09"})
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("505").Equal(obs.TotalPrice), "failed delivery keeps the record")
}

func TestSweep_StorageErrorAborts(t *testing.T) {
	c := &clock{day: "2026-03-01"}
	s := openStore(t, c)
	p := &fakeProvider{prices: map[store.Date]string{"2026-04-03": "520.00", "2026-04-04": "500.00"}}
	tr := newTracker(s, p, nil, c)
	require.NoError(t, s.Close())

	rep, err := tr.Sweep(context.Background())
	require.Error(t, err)
	var serr *store.Error
	assert.ErrorAs(t, err, &serr)
	require.NotNil(t, rep)
	assert.Empty(t, rep.Pairs)
	assert.NotEmpty(t, rep.Aborted)
	assert.Len(t, p.calls, 1, "no further pairs after a storage error")
}

func TestSweep_CancelledBetweenPairs(t *testing.T) {
	c := &clock{day: "2026-03-01"}
	s := openStore(t, c)
	ctx, cancel := context.WithCancel(context.Background())
	p := &fakeProvider{prices: map[store.Date]string{"2026-04-03": "520.00", "2026-04-04": "500.00", "2026-04-05": "510.00"}}
	p.onCall = func() {
		if len(p.calls) == 3 {
			cancel()
		}
	}
	tr := newTracker(s, p, nil, c)

	rep, err := tr.Sweep(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.Len(t, rep.Pairs, 2)
	assert.Len(t, p.calls, 3)

	recent, err := s.QueryRecent(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, recent, 2, "completed pairs stay recorded")
}

func TestTrack_OneSweepAtATime(t *testing.T) {
	c := &clock{day: "2026-03-01"}
	s := openStore(t, c)
	p := &fakeProvider{prices: map[store.Date]string{"2026-04-03": "550.00", "2026-04-04": "580.00"}}
	started, release := make(chan struct{}), make(chan struct{})
	var once sync.Once
	p.onCall = func() {
		once.Do(func() {
			close(started)
			<-release
		})
	}
	tr := newTracker(s, p, nil, c)
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		_, err := tr.Sweep(ctx)
		done <- err
	}()

	<-started
	rep, err := tr.Track(ctx, []store.RouteKey{{Departure: "2026-04-04", Return: "2026-04-10"}})
	assert.ErrorIs(t, err, ErrBusy)
	assert.Nil(t, rep)

	close(release)
	require.NoError(t, <-done)

	best, err := s.GetDailyBest(ctx, "2026-03-01")
	require.NoError(t, err)
	require.NotNil(t, best)
	assert.True(t, decimal.RequireFromString("550").Equal(best.BestPrice))

	_, err = tr.Track(ctx, []store.RouteKey{{Departure: "2026-04-04", Return: "2026-04-10"}})
	assert.NoError(t, err, "lock is released after the sweep")
}

func TestSendDailyReport(t *testing.T) {
	c := &clock{day: "2026-03-01"}
	s := openStore(t, c)
	p := &fakeProvider{prices: map[store.Date]string{"2026-04-03": "520.00", "2026-04-04": "499.99"}}
	n := &stubNotifier{name: "webhook"}
	tr := newTracker(s, p, alert.NewManager([]alert.Notifier{n}), c)
	ctx := context.Background()

	rep, err := tr.Sweep(ctx)
	require.NoError(t, err)
	require.NoError(t, tr.SendDailyReport(ctx, rep))

	require.Len(t, n.sent, 1)
	got := n.sent[0]
	assert.Equal(t, alert.KindDailyReport, got.Kind)
	assert.Equal(t, "Daily Flight Price Report - 2026-03-01", got.Subject)
	assert.Contains(t, got.Text, "Best price today: USD $499.99")
	assert.Contains(t, got.Text, "Total searches: 2")
	assert.Equal(t, 1, rep.NotificationsSent)

	silent := newTracker(s, p, nil, c)
	assert.NoError(t, silent.SendDailyReport(ctx, rep))
}
