// Package pricing resolves token prices from the upstream market-data feed,
// a shared snapshot cache and operator-entered manual overrides.
package pricing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PaesslerAG/jsonpath"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/atmx/fund-engine/internal/model"
	"github.com/atmx/fund-engine/internal/token"
)

var (
	ErrUpstream   = errors.New("pricing: upstream request failed")
	ErrNoSnapshot = errors.New("pricing: no quote snapshot")
)

// QuoteSource fetches live quotes for a set of tokens. Tokens the source
// does not know are omitted from the result rather than reported as errors.
type QuoteSource interface {
	FetchQuotes(ctx context.Context, tokens []string) (map[string]model.Quote, error)
}

// HTTPClient talks to a CoinMarketCap-compatible quotes endpoint.
type HTTPClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
	limiter *rate.Limiter
}

// NewHTTPClient creates a client limited to rps upstream requests per second.
func NewHTTPClient(baseURL, apiKey string, rps float64) *HTTPClient {
	if rps <= 0 {
		rps = 1
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 10 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
	}
}

// Field paths inside one symbol entry of the quotes payload.
const (
	pathPrice       = "$.quote.USD.price"
	pathChange24h   = "$.quote.USD.percent_change_24h"
	pathChange7d    = "$.quote.USD.percent_change_7d"
	pathChange30d   = "$.quote.USD.percent_change_30d"
	pathChange60d   = "$.quote.USD.percent_change_60d"
	pathMarketCap   = "$.quote.USD.market_cap"
	pathVolume24h   = "$.quote.USD.volume_24h"
	pathLastUpdated = "$.quote.USD.last_updated"
)

func (c *HTTPClient) FetchQuotes(ctx context.Context, tokens []string) (map[string]model.Quote, error) {
	symbols := make([]string, 0, len(tokens))
	for _, t := range token.Set(tokens) {
		if !token.IsCash(t) {
			symbols = append(symbols, t)
		}
	}
	if len(symbols) == 0 {
		return map[string]model.Quote{}, nil
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("symbol", strings.Join(symbols, ","))
	q.Set("convert", "USD")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/v2/cryptocurrency/quotes/latest?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-CMC_PRO_API_KEY", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrUpstream, resp.StatusCode)
	}

	var payload any
	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(&payload); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrUpstream, err)
	}

	quotes := make(map[string]model.Quote, len(symbols))
	for _, sym := range symbols {
		entry, err := jsonpath.Get(fmt.Sprintf("$.data[%q]", sym), payload)
		if err != nil {
			continue
		}
		// v2 returns a list per symbol; several coins can share a ticker
		// and the first is the highest ranked.
		if list, ok := entry.([]any); ok {
			if len(list) == 0 {
				continue
			}
			entry = list[0]
		}
		price := pick(entry, pathPrice)
		if !price.Valid {
			continue
		}
		quotes[sym] = model.Quote{
			Token:            sym,
			Price:            price.Decimal,
			PercentChange24h: pick(entry, pathChange24h),
			PercentChange7d:  pick(entry, pathChange7d),
			PercentChange30d: pick(entry, pathChange30d),
			PercentChange60d: pick(entry, pathChange60d),
			MarketCap:        pick(entry, pathMarketCap),
			Volume24h:        pick(entry, pathVolume24h),
			Available:        true,
			LastUpdated:      pickTime(entry, pathLastUpdated),
		}
	}
	return quotes, nil
}

// pick extracts a numeric field, returning null when it is absent or not a number.
func pick(entry any, path string) decimal.NullDecimal {
	v, err := jsonpath.Get(path, entry)
	if err != nil {
		return decimal.NullDecimal{}
	}
	var s string
	switch n := v.(type) {
	case json.Number:
		s = n.String()
	case string:
		s = n
	case float64:
		return decimal.NewNullDecimal(decimal.NewFromFloat(n))
	default:
		return decimal.NullDecimal{}
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(d)
}

func pickTime(entry any, path string) time.Time {
	v, err := jsonpath.Get(path, entry)
	if err != nil {
		return time.Time{}
	}
	s, ok := v.(string)
	if !ok {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}
