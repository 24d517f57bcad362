package itinerary

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/elonfeng/farewatch/internal/store"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type fakeStats struct {
	stats []store.RouteStat
	err   error
}

func (f fakeStats) RouteStats(context.Context) ([]store.RouteStat, error) { return f.stats, f.err }

var cities = []City{
	{Name: "washington_dc", Airports: []string{"IAD", "DCA"}},
	{Name: "new_york", Airports: []string{"JFK", "LGA", "EWR"}},
}

func newSuggestor(t *testing.T, stats []store.RouteStat) *Suggestor {
	t.Helper()
	s, err := NewSuggestor(fakeStats{stats: stats}, NewCalendar(), Options{
		Cities:    cities,
		BloomCity: "washington_dc",
		SplitDays: 3,
	})
	require.NoError(t, err)
	return s
}

func TestOverlap(t *testing.T) {
	c := NewCalendar()

	o := c.Overlap("2026-04-03", "2026-04-09")
	assert.True(t, o.OverlapsFestival)
	assert.True(t, o.OverlapsPeak)
	assert.Equal(t, 2, o.PeakDays, "April 3 and 4")
	require.NotNil(t, o.Window)
	assert.Equal(t, 2026, o.Window.Year)

	o = c.Overlap("2026-04-06", "2026-04-12")
	assert.True(t, o.OverlapsFestival)
	assert.False(t, o.OverlapsPeak)
	assert.Zero(t, o.PeakDays)

	o = c.Overlap("2026-05-01", "2026-05-07")
	assert.False(t, o.OverlapsFestival)

	o = c.Overlap("2030-04-01", "2030-04-07")
	assert.Nil(t, o.Window)
	assert.False(t, o.OverlapsPeak)
}

func TestSetPeakStartKeepsLength(t *testing.T) {
	c := NewCalendar()
	assert.True(t, c.SetPeakStart("2026-03-25"))
	w, ok := c.Window(2026)
	require.True(t, ok)
	assert.Equal(t, store.Date("2026-03-25"), w.PeakStart)
	assert.Equal(t, store.Date("2026-04-01"), w.PeakEnd)

	assert.False(t, c.SetPeakStart("2026-03-25"), "no change")
	assert.False(t, c.SetPeakStart("2031-03-25"), "unknown year")

	orig, _ := NewCalendar().Window(2026)
	assert.Equal(t, store.Date("2026-03-28"), orig.PeakStart, "table is not shared")
}

const bloomFeed = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0"><channel>
<title>Cherry Blossom News</title>
<item>
  <title>Peak bloom forecast announced</title>
  <description>Peak bloom is expected March 30.</description>
  <pubDate>Sun, 01 Mar 2026 12:00:00 GMT</pubDate>
</item>
<item>
  <title>Yoshino cherry trees reached peak bloom</title>
  <description>The blossoms reached peak bloom on March 26 at the Tidal Basin.</description>
  <pubDate>Fri, 27 Mar 2026 14:00:00 GMT</pubDate>
</item>
<item>
  <title>Visitors enjoy peak bloom</title>
  <description>Crowds at the Tidal Basin.</description>
  <pubDate>Sat, 28 Mar 2026 14:00:00 GMT</pubDate>
</item>
</channel></rss>`

func TestFeedRefresh(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		w.Write([]byte(bloomFeed))
	}))
	defer srv.Close()

	cal := NewCalendar()
	applied, err := NewFeedRefresher(srv.URL, cal, nil).Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []store.Date{"2026-03-26"}, applied, "forecasts ignored, earliest announcement wins")

	w, _ := cal.Window(2026)
	assert.Equal(t, store.Date("2026-03-26"), w.PeakStart)
	assert.Equal(t, store.Date("2026-04-02"), w.PeakEnd)
}

func TestFeedRefreshErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusGone)
	}))
	defer srv.Close()

	_, err := NewFeedRefresher(srv.URL, NewCalendar(), nil).Refresh(context.Background())
	assert.ErrorContains(t, err, "410")
}

func TestAnalyzeRouting(t *testing.T) {
	s := newSuggestor(t, []store.RouteStat{
		{InboundAirport: "JFK", OutboundAirport: "IAD", Count: 2, AveragePrice: dec("480"), MinPrice: dec("470"), Currency: "USD"},
		{InboundAirport: "IAD", OutboundAirport: "JFK", Count: 3, AveragePrice: dec("520"), MinPrice: dec("505"), Currency: "USD"},
		{InboundAirport: "DCA", OutboundAirport: "LGA", Count: 1, AveragePrice: dec("540"), MinPrice: dec("540"), Currency: "USD"},
		{InboundAirport: "SFO", OutboundAirport: "JFK", Count: 9, AveragePrice: dec("100"), MinPrice: dec("100"), Currency: "USD"},
	})

	a, err := s.AnalyzeRouting(context.Background())
	require.NoError(t, err)
	require.Len(t, a.Orderings, 2)

	dc := a.Orderings[0]
	assert.Equal(t, "washington_dc", dc.FirstCity)
	assert.Equal(t, 4, dc.Count)
	assert.True(t, dec("525").Equal(dc.AveragePrice), dc.AveragePrice.String())
	assert.True(t, dec("505").Equal(dc.MinPrice))
	assert.Equal(t, "IAD", dc.BestInbound)

	assert.Equal(t, "new_york", a.Recommended)
	assert.True(t, dec("35").Equal(a.EstimatedSavings))
}

func TestAnalyzeRoutingError(t *testing.T) {
	s, err := NewSuggestor(fakeStats{err: errors.New("locked")}, nil, Options{Cities: cities})
	require.NoError(t, err)
	_, err = s.AnalyzeRouting(context.Background())
	assert.ErrorContains(t, err, "locked")
}

func TestSuggest(t *testing.T) {
	stats := []store.RouteStat{
		{InboundAirport: "JFK", OutboundAirport: "IAD", Count: 1, AveragePrice: dec("470"), MinPrice: dec("470"), Currency: "USD"},
		{InboundAirport: "IAD", OutboundAirport: "JFK", Count: 1, AveragePrice: dec("505"), MinPrice: dec("505"), Currency: "USD"},
	}
	s := newSuggestor(t, stats)
	ctx := context.Background()

	t.Run("peak bloom puts DC first", func(t *testing.T) {
		sg, err := s.Suggest(ctx, "2026-04-03", "2026-04-09")
		require.NoError(t, err)
		assert.Equal(t, []string{"washington_dc", "new_york"}, sg.Order)
		assert.Equal(t, Stay{City: "washington_dc", CheckIn: "2026-04-03", CheckOut: "2026-04-06", Nights: 3}, sg.Stays[0])
		assert.Equal(t, Stay{City: "new_york", CheckIn: "2026-04-06", CheckOut: "2026-04-09", Nights: 3}, sg.Stays[1])
		assert.Contains(t, sg.Recommendation, "peak cherry blossom")
	})

	t.Run("otherwise cheaper ordering", func(t *testing.T) {
		sg, err := s.Suggest(ctx, "2026-04-06", "2026-04-12")
		require.NoError(t, err)
		assert.Equal(t, []string{"new_york", "washington_dc"}, sg.Order)
		assert.Contains(t, sg.Recommendation, "saves about USD $35.00")
	})

	t.Run("no history keeps configured order", func(t *testing.T) {
		sg, err := newSuggestor(t, nil).Suggest(ctx, "2026-05-01", "2026-05-07")
		require.NoError(t, err)
		assert.Equal(t, []string{"washington_dc", "new_york"}, sg.Order)
		assert.Contains(t, sg.Recommendation, "no price history")
	})

	t.Run("bad dates", func(t *testing.T) {
		_, err := s.Suggest(ctx, "2026-04-09", "2026-04-03")
		assert.Error(t, err)
	})
}

func TestHotelStays(t *testing.T) {
	stays, err := HotelStays("2026-04-03", 6, 3)
	require.NoError(t, err)
	assert.Equal(t, store.Date("2026-04-06"), stays[0].CheckOut)
	assert.Equal(t, stays[0].CheckOut, stays[1].CheckIn)
	assert.Equal(t, store.Date("2026-04-09"), stays[1].CheckOut)

	_, err = HotelStays("2026-04-03", 6, 7)
	assert.Error(t, err)
	_, err = HotelStays("bad", 6, 3)
	assert.Error(t, err)
}

func TestNewSuggestorValidation(t *testing.T) {
	_, err := NewSuggestor(fakeStats{}, nil, Options{Cities: cities[:1]})
	assert.Error(t, err)
	_, err = NewSuggestor(fakeStats{}, nil, Options{Cities: cities, BloomCity: "boston"})
	assert.Error(t, err)
}
