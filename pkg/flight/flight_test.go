package flight

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/elonfeng/farewatch/internal/store"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// seg builds a segment; times are "HH:MM" on 2026-04-03.
func seg(from, dep, to, arr, carrier, number string) Segment {
	return Segment{
		Departure:   Endpoint{IATACode: from, At: "2026-04-03T" + dep + ":00"},
		Arrival:     Endpoint{IATACode: to, At: "2026-04-03T" + arr + ":00"},
		CarrierCode: carrier,
		Number:      number,
	}
}

func offer(price string, duration string, segs ...Segment) Offer {
	return Offer{
		Itineraries: []Itinerary{{Duration: duration, Segments: segs}},
		Price:       Price{Currency: "USD", Total: decimal.RequireFromString(price)},
		Carriers:    map[string]string{"AA": "AMERICAN AIRLINES", "UA": "UNITED AIRLINES", "B6": "JETBLUE AIRWAYS"},
	}
}

func TestParseDuration(t *testing.T) {
	assert.Equal(t, 2*time.Hour+30*time.Minute, ParseDuration("PT2H30M"))
	assert.Equal(t, 5*time.Hour, ParseDuration("PT5H"))
	assert.Equal(t, 45*time.Minute, ParseDuration("PT45M"))
	assert.Zero(t, ParseDuration(""))
	assert.Zero(t, ParseDuration("2h"))
}

func TestOfferDetails(t *testing.T) {
	o := offer("250.10", "PT7H",
		seg("SAN", "08:00", "ORD", "14:00", "UA", "100"),
		seg("ORD", "15:00", "IAD", "18:00", "AA", "22"),
	)
	o.Itineraries = append(o.Itineraries, Itinerary{Segments: []Segment{seg("IAD", "09:00", "SAN", "12:00", "UA", "7")}})

	assert.Equal(t, 1, o.Stops())
	assert.Equal(t, 7*time.Hour, o.Duration())
	assert.Equal(t, "UA100, AA22, UA7", o.FlightNumbers())
	assert.Equal(t, "AMERICAN AIRLINES, UNITED AIRLINES", o.Airlines())
	assert.True(t, decimal.RequireFromString("250.10").Equal(o.TotalPrice()))

	o.Price.GrandTotal = decimal.RequireFromString("260")
	assert.True(t, decimal.RequireFromString("260").Equal(o.TotalPrice()))
}

func testFilter(t *testing.T) *Filter {
	t.Helper()
	f, err := NewFilter(Rules{
		Origin:              "SAN",
		DestinationAirports: []string{"IAD", "DCA", "JFK", "LGA", "EWR"},
		NoRedEyes:           true,
		NonstopRequired:     false,
		MaxStops:            1,
		NonstopOnlyPairs:    [][2][]string{{{"IAD", "DCA"}, {"JFK", "LGA", "EWR"}}},
	})
	require.NoError(t, err)
	return f
}

func TestFilterRedEye(t *testing.T) {
	f := testFilter(t)

	tests := []struct {
		name  string
		offer Offer
		want  bool
	}{
		{"early departure from origin", offer("1", "PT5H", seg("SAN", "06:59", "IAD", "14:59", "UA", "1")), true},
		{"departure at cutoff", offer("1", "PT5H", seg("SAN", "07:00", "IAD", "15:00", "UA", "1")), false},
		{"late arrival east", offer("1", "PT5H", seg("SAN", "17:30", "JFK", "22:01", "B6", "2")), true},
		{"arrival at cutoff", offer("1", "PT5H", seg("SAN", "17:00", "JFK", "22:00", "B6", "2")), false},
		{"early departure not from origin", offer("1", "PT5H", seg("JFK", "06:00", "SAN", "09:00", "B6", "3")), false},
		{"no segments", Offer{}, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, f.IsRedEye(tc.offer))
		})
	}

	lenient, err := NewFilter(Rules{Origin: "SAN", NoRedEyes: false})
	require.NoError(t, err)
	assert.False(t, lenient.IsRedEye(offer("1", "PT5H", seg("SAN", "05:00", "IAD", "13:00", "UA", "1"))))
}

func TestFilterStops(t *testing.T) {
	f := testFilter(t)

	oneStopLong := offer("1", "PT8H", seg("SAN", "08:00", "ORD", "14:00", "UA", "1"), seg("ORD", "15:00", "IAD", "18:00", "UA", "2"))
	twoStops := offer("1", "PT9H", seg("SAN", "08:00", "DEN", "11:00", "UA", "1"), seg("DEN", "12:00", "ORD", "15:00", "UA", "2"), seg("ORD", "16:00", "IAD", "19:00", "UA", "3"))
	oneStopShuttle := offer("1", "PT4H", seg("IAD", "08:00", "BOS", "09:30", "B6", "1"), seg("BOS", "10:30", "JFK", "12:00", "B6", "2"))
	nonstopShuttle := offer("1", "PT1H", seg("DCA", "08:00", "LGA", "09:00", "AA", "3"))

	assert.False(t, f.TooManyStops(oneStopLong))
	assert.True(t, f.TooManyStops(twoStops))
	assert.True(t, f.TooManyStops(oneStopShuttle), "WAS-NYC must be nonstop")
	assert.False(t, f.TooManyStops(nonstopShuttle))

	strict, err := NewFilter(Rules{NonstopRequired: true})
	require.NoError(t, err)
	assert.True(t, strict.TooManyStops(oneStopLong))

	assert.Equal(t, []Offer{oneStopLong, nonstopShuttle}, f.Apply([]Offer{oneStopLong, twoStops, oneStopShuttle, nonstopShuttle}))
}

func TestNewFilterRejectsBadCutoff(t *testing.T) {
	_, err := NewFilter(Rules{RedEyeDepartureBefore: "7am"})
	assert.Error(t, err)
}

func TestSort(t *testing.T) {
	a := offer("1", "PT6H", seg("SAN", "08:00", "ORD", "12:00", "UA", "1"), seg("ORD", "13:00", "IAD", "16:00", "UA", "2"))
	b := offer("2", "PT5H30M", seg("SAN", "09:00", "IAD", "17:30", "UA", "3"))
	c := offer("3", "PT5H", seg("SAN", "10:00", "IAD", "18:00", "AA", "4"))

	offers := []Offer{a, b, c}
	Sort(offers)
	assert.Equal(t, []Offer{c, b, a}, offers)
}

// --- Amadeus ---

func newAmadeusServer(t *testing.T, search http.HandlerFunc) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/security/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		if r.PostForm.Get("client_id") != "key" || r.PostForm.Get("client_secret") != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"type":"amadeusOAuth2Token","access_token":"tok","token_type":"Bearer","expires_in":1799}`)
	})
	mux.HandleFunc("GET /v2/shopping/flight-offers", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		search(w, r)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

const offersBody = `{
  "data": [{
    "id": "1",
    "itineraries": [{"duration": "PT5H20M", "segments": [{
      "departure": {"iataCode": "SAN", "at": "2026-04-03T08:05:00"},
      "arrival": {"iataCode": "IAD", "at": "2026-04-03T16:25:00"},
      "carrierCode": "UA", "number": "1290", "duration": "PT5H20M"
    }]}],
    "price": {"currency": "USD", "total": "289.40", "grandTotal": "289.40"}
  }],
  "dictionaries": {"carriers": {"UA": "UNITED AIRLINES"}}
}`

func TestAmadeusSearch(t *testing.T) {
	srv := newAmadeusServer(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "SAN", q.Get("originLocationCode"))
		assert.Equal(t, "IAD", q.Get("destinationLocationCode"))
		assert.Equal(t, "2026-04-03", q.Get("departureDate"))
		assert.Equal(t, "2", q.Get("adults"))
		assert.Equal(t, "USD", q.Get("currencyCode"))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, offersBody)
	})

	a, err := NewAmadeus(AmadeusOptions{APIKey: "key", APISecret: "secret", BaseURL: srv.URL})
	require.NoError(t, err)

	offers, err := a.Search(context.Background(), SearchRequest{Origin: "SAN", Destination: "IAD", Date: "2026-04-03", Adults: 2})
	require.NoError(t, err)
	require.Len(t, offers, 1)

	o := offers[0]
	assert.Equal(t, "UA1290", o.FlightNumbers())
	assert.Equal(t, "UNITED AIRLINES", o.Airlines())
	assert.True(t, decimal.RequireFromString("289.40").Equal(o.TotalPrice()))
	assert.Equal(t, 0, o.Stops())
	assert.True(t, json.Valid(o.Payload()))
}

func TestAmadeusErrors(t *testing.T) {
	srv := newAmadeusServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"errors":[{"status":400,"code":477,"title":"INVALID FORMAT","detail":"departureDate"}]}`)
	})

	a, err := NewAmadeus(AmadeusOptions{APIKey: "key", APISecret: "secret", BaseURL: srv.URL})
	require.NoError(t, err)
	_, err = a.Search(context.Background(), SearchRequest{Origin: "SAN", Destination: "IAD", Date: "2026-04-03"})

	var pe *ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, http.StatusBadRequest, pe.Status)
	assert.False(t, pe.Temporary())
	assert.Contains(t, pe.Error(), "INVALID FORMAT: departureDate")

	bad, err := NewAmadeus(AmadeusOptions{APIKey: "key", APISecret: "wrong", BaseURL: srv.URL})
	require.NoError(t, err)
	_, err = bad.Search(context.Background(), SearchRequest{Origin: "SAN", Destination: "IAD", Date: "2026-04-03"})
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "token", pe.Op)
	assert.Equal(t, http.StatusUnauthorized, pe.Status)
}

func TestNewAmadeusOptions(t *testing.T) {
	_, err := NewAmadeus(AmadeusOptions{})
	assert.Error(t, err)

	_, err = NewAmadeus(AmadeusOptions{APIKey: "k", APISecret: "s", Env: "staging"})
	assert.Error(t, err)

	a, err := NewAmadeus(AmadeusOptions{APIKey: "k", APISecret: "s", Env: "production"})
	require.NoError(t, err)
	assert.Equal(t, amadeusProductionURL, a.baseURL)

	a, err = NewAmadeus(AmadeusOptions{APIKey: "k", APISecret: "s"})
	require.NoError(t, err)
	assert.Equal(t, amadeusTestURL, a.baseURL)
}

// --- retry ---

type flakySearcher struct {
	calls atomic.Int32
	errs  []error
}

func (f *flakySearcher) Search(_ context.Context, _ SearchRequest) ([]Offer, error) {
	n := int(f.calls.Add(1)) - 1
	if n < len(f.errs) {
		return nil, f.errs[n]
	}
	return []Offer{{ID: "ok"}}, nil
}

var fastRetry = RetryPolicy{MaxAttempts: 3, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond}

func TestWithRetryRecovers(t *testing.T) {
	s := &flakySearcher{errs: []error{
		&ProviderError{Op: "search", Status: 503, Err: errors.New("unavailable")},
		&ProviderError{Op: "search", Status: 429, Err: errors.New("slow down")},
	}}
	offers, err := WithRetry(s, fastRetry, nil).Search(context.Background(), SearchRequest{})
	require.NoError(t, err)
	assert.Equal(t, "ok", offers[0].ID)
	assert.Equal(t, int32(3), s.calls.Load())
}

func TestWithRetryGivesUp(t *testing.T) {
	boom := &ProviderError{Op: "search", Status: 500, Err: errors.New("boom")}
	s := &flakySearcher{errs: []error{boom, boom, boom, boom}}
	_, err := WithRetry(s, fastRetry, nil).Search(context.Background(), SearchRequest{})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, int32(3), s.calls.Load())
}

func TestWithRetryPermanent(t *testing.T) {
	bad := &ProviderError{Op: "search", Status: 400, Err: errors.New("bad request")}
	s := &flakySearcher{errs: []error{bad}}
	_, err := WithRetry(s, fastRetry, nil).Search(context.Background(), SearchRequest{})
	var pe *ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, 400, pe.Status)
	assert.Equal(t, int32(1), s.calls.Load())
}

// --- open-jaw ---

type leg struct{ from, to string }

type fakeSearcher struct {
	offers map[leg][]Offer
	fail   map[leg]error
	calls  int
}

func (f *fakeSearcher) Search(_ context.Context, req SearchRequest) ([]Offer, error) {
	f.calls++
	k := leg{req.Origin, req.Destination}
	if err := f.fail[k]; err != nil {
		return nil, err
	}
	return f.offers[k], nil
}

func nonstop(from, to, price string) Offer {
	return offer(price, "PT5H", seg(from, "09:00", to, "17:00", "UA", "1"))
}

var testRoutes = []Route{
	{InboundAirports: []string{"IAD", "DCA"}, OutboundAirports: []string{"JFK"}, Description: "DC first"},
	{InboundAirports: []string{"JFK"}, OutboundAirports: []string{"IAD", "DCA"}, Description: "NYC first"},
}

func TestOpenJawPicksCheapestCombination(t *testing.T) {
	s := &fakeSearcher{offers: map[leg][]Offer{
		{"SAN", "IAD"}: {nonstop("SAN", "IAD", "250"), nonstop("SAN", "IAD", "240")},
		{"SAN", "DCA"}: {nonstop("SAN", "DCA", "260")},
		{"SAN", "JFK"}: {nonstop("SAN", "JFK", "230")},
		{"JFK", "SAN"}: {nonstop("JFK", "SAN", "280")},
		{"IAD", "SAN"}: {nonstop("IAD", "SAN", "270")},
		{"DCA", "SAN"}: {nonstop("DCA", "SAN", "300"), offer("100", "PT12H", seg("DCA", "06:00", "ORD", "08:00", "AA", "9"), seg("ORD", "09:00", "DEN", "11:00", "AA", "10"), seg("DEN", "12:00", "SAN", "14:00", "AA", "11"))},
	}}

	oj := NewOpenJaw(s, testFilter(t), "SAN", testRoutes, 10, nil)
	best, err := oj.SearchBestOffer(context.Background(), TripRequest{Departure: "2026-04-03", Return: "2026-04-09"})
	require.NoError(t, err)
	require.NotNil(t, best)

	assert.True(t, decimal.RequireFromString("500").Equal(best.TotalPrice), best.TotalPrice.String())
	assert.Equal(t, "JFK", best.InboundAirport)
	assert.Equal(t, "IAD", best.OutboundAirport)
	assert.Equal(t, "NYC first", best.Description)
	assert.Equal(t, "USD", best.Currency)
	assert.Equal(t, "UA1, UA1", best.FlightNumbers())
	assert.Equal(t, "UNITED AIRLINES", best.Airlines())
	assert.Equal(t, 6, s.calls, "each distinct leg is searched once")
}

func TestOpenJawSkipsFailedCombinations(t *testing.T) {
	s := &fakeSearcher{
		offers: map[leg][]Offer{
			{"SAN", "IAD"}: {nonstop("SAN", "IAD", "250")},
			{"JFK", "SAN"}: {nonstop("JFK", "SAN", "280")},
		},
		fail: map[leg]error{
			{"SAN", "DCA"}: &ProviderError{Op: "search", Status: 500, Err: errors.New("down")},
		},
	}
	oj := NewOpenJaw(s, nil, "SAN", testRoutes[:1], 10, nil)
	best, err := oj.SearchBestOffer(context.Background(), TripRequest{Departure: "2026-04-03", Return: "2026-04-09"})
	require.NoError(t, err)
	require.NotNil(t, best)
	assert.Equal(t, "IAD", best.InboundAirport)
}

func TestOpenJawAllFailed(t *testing.T) {
	down := &ProviderError{Op: "search", Status: 503, Err: errors.New("down")}
	s := &fakeSearcher{fail: map[leg]error{
		{"SAN", "IAD"}: down, {"SAN", "DCA"}: down, {"SAN", "JFK"}: down,
	}}
	oj := NewOpenJaw(s, nil, "SAN", testRoutes, 10, nil)
	_, err := oj.SearchBestOffer(context.Background(), TripRequest{Departure: "2026-04-03", Return: "2026-04-09"})

	var pe *ProviderError
	require.ErrorAs(t, err, &pe)
	assert.ErrorIs(t, err, down)
}

func TestOpenJawNothingFound(t *testing.T) {
	oj := NewOpenJaw(&fakeSearcher{}, nil, "SAN", testRoutes, 10, nil)
	best, err := oj.SearchBestOffer(context.Background(), TripRequest{Departure: store.Date("2026-04-03"), Return: "2026-04-09"})
	require.NoError(t, err)
	assert.Nil(t, best)
}

func TestOpenJawCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	oj := NewOpenJaw(&fakeSearcher{}, nil, "SAN", testRoutes, 10, nil)
	_, err := oj.SearchBestOffer(ctx, TripRequest{Departure: "2026-04-03", Return: "2026-04-09"})
	assert.ErrorIs(t, err, context.Canceled)
}
