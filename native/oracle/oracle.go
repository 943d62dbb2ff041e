package oracle

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"time"
)

// Quote captures a USD price for one collateral asset along with the time the
// upstream feed reported it and the feed identifier that produced it. Prices
// are scaled by 1e18 per whole asset unit so downstream collateral math never
// touches floating point.
type Quote struct {
	Asset     string
	Price     *big.Int
	Timestamp time.Time
	Source    string
}

// Clone returns a deep copy so cached quotes cannot be mutated by callers.
func (q Quote) Clone() Quote {
	clone := Quote{Asset: q.Asset, Timestamp: q.Timestamp, Source: q.Source}
	if q.Price != nil {
		clone.Price = new(big.Int).Set(q.Price)
	}
	return clone
}

// Feed resolves the current price for a single asset. Implementations must be
// safe for concurrent use; the aggregator consults them from the poller and
// from governance-triggered refreshes.
type Feed interface {
	Name() string
	Fetch(ctx context.Context, asset string) (Quote, error)
}

var (
	// ErrNoQuote indicates no feed has delivered a usable quote for the asset yet.
	ErrNoQuote = errors.New("oracle: no quote available")
	// ErrStaleQuote indicates the freshest known quote is older than the
	// configured maximum age.
	ErrStaleQuote = errors.New("oracle: quote stale")
	// ErrDeviationPaused indicates the asset's deviation latch is set and
	// price consumers must wait for governance to clear it.
	ErrDeviationPaused = errors.New("oracle: deviation latch set")
	// ErrUnknownAsset indicates the asset symbol is empty or untracked.
	ErrUnknownAsset = errors.New("oracle: unknown asset")
)

// NormalizeAsset canonicalises an asset symbol the same way the state layer
// does so feeds, the aggregator, and the engines agree on keys.
func NormalizeAsset(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}
