package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// ManualFeed serves operator- or test-supplied prices. Governance tooling uses
// it as the bootstrap feed before external endpoints are configured.
type ManualFeed struct {
	mu     sync.RWMutex
	name   string
	quotes map[string]Quote
	clock  func() time.Time
}

// NewManualFeed constructs an empty manual feed. The name defaults to
// "manual" when blank.
func NewManualFeed(name string) *ManualFeed {
	if strings.TrimSpace(name) == "" {
		name = "manual"
	}
	return &ManualFeed{name: name, quotes: make(map[string]Quote), clock: time.Now}
}

// SetClock overrides the timestamp source used by Set. Test hook.
func (f *ManualFeed) SetClock(clock func() time.Time) {
	if f == nil || clock == nil {
		return
	}
	f.mu.Lock()
	f.clock = clock
	f.mu.Unlock()
}

// Set records the price for the asset, timestamped now.
func (f *ManualFeed) Set(asset string, price *big.Int) {
	if f == nil || price == nil {
		return
	}
	f.SetAt(asset, price, f.clockNow())
}

// SetAt records the price with an explicit observation time.
func (f *ManualFeed) SetAt(asset string, price *big.Int, observed time.Time) {
	if f == nil || price == nil {
		return
	}
	normalized := NormalizeAsset(asset)
	if normalized == "" {
		return
	}
	f.mu.Lock()
	f.quotes[normalized] = Quote{
		Asset:     normalized,
		Price:     new(big.Int).Set(price),
		Timestamp: observed,
		Source:    f.name,
	}
	f.mu.Unlock()
}

func (f *ManualFeed) clockNow() time.Time {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.clock()
}

// Name implements Feed.
func (f *ManualFeed) Name() string { return f.name }

// Fetch implements Feed.
func (f *ManualFeed) Fetch(_ context.Context, asset string) (Quote, error) {
	if f == nil {
		return Quote{}, ErrNoQuote
	}
	normalized := NormalizeAsset(asset)
	f.mu.RLock()
	defer f.mu.RUnlock()
	quote, ok := f.quotes[normalized]
	if !ok {
		return Quote{}, fmt.Errorf("%w: %s", ErrNoQuote, normalized)
	}
	return quote.Clone(), nil
}

// priceScale converts decimal price strings into the 1e18 integer scale.
var priceScale = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// ParsePrice converts a decimal string ("1.0025") into the 1e18 integer
// scale, flooring any precision beyond 18 fractional digits.
func ParsePrice(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, fmt.Errorf("oracle: empty price")
	}
	rat, ok := new(big.Rat).SetString(trimmed)
	if !ok || rat.Sign() <= 0 {
		return nil, fmt.Errorf("oracle: invalid price %q", value)
	}
	scaled := new(big.Rat).Mul(rat, new(big.Rat).SetInt(priceScale))
	return new(big.Int).Quo(scaled.Num(), scaled.Denom()), nil
}

// HTTPFeed pulls prices from a JSON endpoint shaped like
// {"asset":"TBILL","price":"1.0025","timestamp":1719475200}. The asset symbol
// is appended as a query parameter.
type HTTPFeed struct {
	name     string
	endpoint string
	client   *http.Client
}

// NewHTTPFeed builds a feed against the endpoint. A nil client falls back to
// a ten second timeout default.
func NewHTTPFeed(name, endpoint string, client *http.Client) *HTTPFeed {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPFeed{name: name, endpoint: endpoint, client: client}
}

// Name implements Feed.
func (f *HTTPFeed) Name() string { return f.name }

type httpQuotePayload struct {
	Asset     string `json:"asset"`
	Price     string `json:"price"`
	Timestamp int64  `json:"timestamp"`
}

// Fetch implements Feed.
func (f *HTTPFeed) Fetch(ctx context.Context, asset string) (Quote, error) {
	if f == nil || f.endpoint == "" {
		return Quote{}, fmt.Errorf("oracle: http feed not configured")
	}
	normalized := NormalizeAsset(asset)
	endpoint, err := url.Parse(f.endpoint)
	if err != nil {
		return Quote{}, fmt.Errorf("oracle: parse endpoint: %w", err)
	}
	query := endpoint.Query()
	query.Set("asset", normalized)
	endpoint.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return Quote{}, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return Quote{}, fmt.Errorf("oracle: fetch %s: %w", normalized, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return Quote{}, fmt.Errorf("oracle: feed %s returned status %d", f.name, resp.StatusCode)
	}

	var payload httpQuotePayload
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&payload); err != nil {
		return Quote{}, fmt.Errorf("oracle: decode quote: %w", err)
	}
	if got := NormalizeAsset(payload.Asset); got != "" && got != normalized {
		return Quote{}, fmt.Errorf("oracle: feed %s answered for %s, wanted %s", f.name, got, normalized)
	}
	price, err := ParsePrice(payload.Price)
	if err != nil {
		return Quote{}, err
	}
	timestamp := time.Unix(payload.Timestamp, 0).UTC()
	return Quote{Asset: normalized, Price: price, Timestamp: timestamp, Source: f.name}, nil
}
