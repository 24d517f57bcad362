package flight

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

const (
	amadeusTestURL       = "https://test.api.amadeus.com"
	amadeusProductionURL = "https://api.amadeus.com"
	amadeusMaxResults    = 50
)

// AmadeusOptions configures the Amadeus client.
type AmadeusOptions struct {
	APIKey    string
	APISecret string
	Env       string // "test" or "production"
	BaseURL   string // overrides Env when set
	Timeout   time.Duration
}

// Amadeus searches the Amadeus Flight Offers Search API.
type Amadeus struct {
	client  *http.Client
	baseURL string
}

// NewAmadeus creates a client that fetches and refreshes its OAuth2 token
// with the client-credentials grant.
func NewAmadeus(opts AmadeusOptions) (*Amadeus, error) {
	if opts.APIKey == "" || opts.APISecret == "" {
		return nil, errors.New("amadeus api key and secret are required (AMADEUS_API_KEY, AMADEUS_API_SECRET)")
	}
	base := opts.BaseURL
	if base == "" {
		switch opts.Env {
		case "", "test":
			base = amadeusTestURL
		case "production":
			base = amadeusProductionURL
		default:
			return nil, fmt.Errorf("unknown amadeus env %q", opts.Env)
		}
	}
	base = strings.TrimRight(base, "/")
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}

	cc := clientcredentials.Config{
		ClientID:     opts.APIKey,
		ClientSecret: opts.APISecret,
		TokenURL:     base + "/v1/security/oauth2/token",
		AuthStyle:    oauth2.AuthStyleInParams,
	}
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, &http.Client{Timeout: opts.Timeout})
	client := cc.Client(ctx)
	client.Timeout = opts.Timeout

	return &Amadeus{client: client, baseURL: base}, nil
}

type amadeusResponse struct {
	Data         []json.RawMessage `json:"data"`
	Dictionaries struct {
		Carriers map[string]string `json:"carriers"`
	} `json:"dictionaries"`
}

type amadeusErrors struct {
	Errors []struct {
		Status int    `json:"status"`
		Code   int    `json:"code"`
		Title  string `json:"title"`
		Detail string `json:"detail"`
	} `json:"errors"`
}

// Search implements Searcher.
func (a *Amadeus) Search(ctx context.Context, req SearchRequest) ([]Offer, error) {
	adults := req.Adults
	if adults <= 0 {
		adults = 1
	}
	currency := req.Currency
	if currency == "" {
		currency = "USD"
	}

	q := url.Values{}
	q.Set("originLocationCode", req.Origin)
	q.Set("destinationLocationCode", req.Destination)
	q.Set("departureDate", req.Date.String())
	q.Set("adults", strconv.Itoa(adults))
	q.Set("currencyCode", currency)
	q.Set("max", strconv.Itoa(amadeusMaxResults))

	endpoint := a.baseURL + "/v2/shopping/flight-offers?" + q.Encode()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create amadeus request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")

	op := fmt.Sprintf("search %s-%s %s", req.Origin, req.Destination, req.Date)
	resp, err := a.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		pe := &ProviderError{Op: op, Err: err}
		var rerr *oauth2.RetrieveError
		if errors.As(err, &rerr) && rerr.Response != nil {
			pe.Op = "token"
			pe.Status = rerr.Response.StatusCode
		}
		return nil, pe
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		return nil, &ProviderError{Op: op, Status: resp.StatusCode, Err: errors.New(describeError(body))}
	}

	var decoded amadeusResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, &ProviderError{Op: op, Err: fmt.Errorf("decode response: %w", err)}
	}

	offers := make([]Offer, 0, len(decoded.Data))
	for _, raw := range decoded.Data {
		var o Offer
		if err := json.Unmarshal(raw, &o); err != nil {
			return nil, &ProviderError{Op: op, Err: fmt.Errorf("decode offer: %w", err)}
		}
		o.Raw = raw
		o.Carriers = decoded.Dictionaries.Carriers
		offers = append(offers, o)
	}
	return offers, nil
}

func describeError(body []byte) string {
	var e amadeusErrors
	if err := json.Unmarshal(body, &e); err == nil && len(e.Errors) > 0 {
		parts := make([]string, 0, len(e.Errors))
		for _, item := range e.Errors {
			msg := item.Title
			if item.Detail != "" {
				msg += ": " + item.Detail
			}
			parts = append(parts, msg)
		}
		return strings.Join(parts, "; ")
	}
	if len(body) == 0 {
		return "empty response"
	}
	return strings.TrimSpace(string(body))
}
