package itinerary

import (
	"sync"

	"github.com/elonfeng/farewatch/internal/store"
)

// BloomWindow is one year's cherry-blossom festival and peak bloom in
// Washington DC.
type BloomWindow struct {
	Year          int        `json:"year"`
	FestivalStart store.Date `json:"festival_start"`
	FestivalEnd   store.Date `json:"festival_end"`
	PeakStart     store.Date `json:"peak_bloom_start"`
	PeakEnd       store.Date `json:"peak_bloom_end"`
	Location      string     `json:"location"`
	Website       string     `json:"website"`
}

const (
	bloomLocation = "Tidal Basin, Washington DC"
	bloomWebsite  = "https://nationalcherryblossomfestival.org"
)

// bloomTable holds the published festival dates and the expected peak.
var bloomTable = map[int]BloomWindow{
	2025: {
		Year:          2025,
		FestivalStart: "2025-03-20",
		FestivalEnd:   "2025-04-13",
		PeakStart:     "2025-03-28",
		PeakEnd:       "2025-03-31",
		Location:      bloomLocation,
		Website:       bloomWebsite,
	},
	2026: {
		Year:          2026,
		FestivalStart: "2026-03-20",
		FestivalEnd:   "2026-04-12",
		PeakStart:     "2026-03-28",
		PeakEnd:       "2026-04-04",
		Location:      bloomLocation,
		Website:       bloomWebsite,
	},
}

// Calendar is the bloom table plus any corrections learned from the feed.
// It is safe for concurrent use.
type Calendar struct {
	mu      sync.RWMutex
	windows map[int]BloomWindow
}

// NewCalendar returns a calendar seeded with the built-in table.
func NewCalendar() *Calendar {
	w := make(map[int]BloomWindow, len(bloomTable))
	for y, b := range bloomTable {
		w[y] = b
	}
	return &Calendar{windows: w}
}

// Window returns the bloom window for year.
func (c *Calendar) Window(year int) (BloomWindow, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	w, ok := c.windows[year]
	return w, ok
}

// SetPeakStart moves the year's peak to start on day, keeping its length.
// It reports whether the window changed.
func (c *Calendar) SetPeakStart(day store.Date) bool {
	year := day.Time().Year()
	c.mu.Lock()
	defer c.mu.Unlock()
	w, ok := c.windows[year]
	if !ok || w.PeakStart == day {
		return false
	}
	length := daysBetween(w.PeakStart, w.PeakEnd)
	w.PeakStart = day
	w.PeakEnd = day.AddDays(length)
	c.windows[year] = w
	return true
}

// Overlap says how a trip lines up with the bloom.
type Overlap struct {
	Window           *BloomWindow `json:"window,omitempty"`
	OverlapsFestival bool         `json:"overlaps_festival"`
	OverlapsPeak     bool         `json:"overlaps_peak_bloom"`
	PeakDays         int          `json:"peak_days"`
}

// Overlap checks the trip dep..ret (inclusive) against the bloom window of
// the departure year. Years without a window never overlap.
func (c *Calendar) Overlap(dep, ret store.Date) Overlap {
	w, ok := c.Window(dep.Time().Year())
	if !ok {
		return Overlap{}
	}
	o := Overlap{Window: &w}
	o.OverlapsFestival = dep <= w.FestivalEnd && ret >= w.FestivalStart
	if dep <= w.PeakEnd && ret >= w.PeakStart {
		o.OverlapsPeak = true
		o.PeakDays = daysBetween(maxDate(dep, w.PeakStart), minDate(ret, w.PeakEnd)) + 1
	}
	return o
}

func daysBetween(a, b store.Date) int {
	return int(b.Time().Sub(a.Time()).Hours() / 24)
}

func maxDate(a, b store.Date) store.Date {
	if a > b {
		return a
	}
	return b
}

func minDate(a, b store.Date) store.Date {
	if a < b {
		return a
	}
	return b
}
