package itinerary

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/elonfeng/farewatch/internal/store"
	"github.com/mmcdole/gofeed"
)

// peakKeywords mark an item announcing that peak bloom has been reached.
var peakKeywords = []string{"peak bloom", "reached peak", "in peak"}

// excludeKeywords mark forecasts rather than announcements.
var excludeKeywords = []string{"forecast", "predict", "expected", "outlook"}

var monthDayRe = regexp.MustCompile(`(?i)\b(march|april)\s+(\d{1,2})\b`)

// FeedRefresher updates a Calendar from a bloom-watch RSS feed.
type FeedRefresher struct {
	client   *http.Client
	parser   *gofeed.Parser
	url      string
	calendar *Calendar
	log      *slog.Logger
}

// NewFeedRefresher creates a refresher for the feed at url.
func NewFeedRefresher(url string, c *Calendar, log *slog.Logger) *FeedRefresher {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &FeedRefresher{
		client:   &http.Client{Timeout: 30 * time.Second},
		parser:   gofeed.NewParser(),
		url:      url,
		calendar: c,
		log:      log,
	}
}

// Refresh reads the feed and moves the peak start of each year to the
// earliest date the feed announced peak bloom. It returns the dates applied.
func (f *FeedRefresher) Refresh(ctx context.Context) ([]store.Date, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return nil, fmt.Errorf("create bloom feed request: %w", err)
	}
	req.Header.Set("User-Agent", "farewatch/1.0")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch bloom feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("bloom feed status %d", resp.StatusCode)
	}

	parsed, err := f.parser.Parse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse bloom feed: %w", err)
	}

	earliest := make(map[int]store.Date)
	for _, entry := range parsed.Items {
		day, ok := announcedPeak(entry)
		if !ok {
			continue
		}
		y := day.Time().Year()
		if cur, seen := earliest[y]; !seen || day < cur {
			earliest[y] = day
		}
	}

	var applied []store.Date
	for _, day := range earliest {
		if f.calendar.SetPeakStart(day) {
			f.log.Info("peak bloom updated from feed", "peak_start", day)
			applied = append(applied, day)
		}
	}
	return applied, nil
}

// announcedPeak returns the peak-bloom date an item announces. A month and
// day named in the text wins over the publication date.
func announcedPeak(entry *gofeed.Item) (store.Date, bool) {
	text := strings.ToLower(entry.Title + " " + entry.Description)
	if !matchesAny(text, peakKeywords) || matchesAny(text, excludeKeywords) {
		return "", false
	}

	var published time.Time
	switch {
	case entry.PublishedParsed != nil:
		published = entry.PublishedParsed.UTC()
	case entry.UpdatedParsed != nil:
		published = entry.UpdatedParsed.UTC()
	default:
		return "", false
	}

	if m := monthDayRe.FindStringSubmatch(text); m != nil {
		s := fmt.Sprintf("%s %s %d", m[1], m[2], published.Year())
		if t, err := time.Parse("January 2 2006", strings.ToUpper(s[:1])+s[1:]); err == nil {
			return store.DateOf(t), true
		}
	}
	return store.DateOf(published), true
}

func matchesAny(lower string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
