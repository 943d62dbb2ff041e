package oracle

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"
)

var basisPoints = big.NewInt(10_000)

// DeviationState describes the per-asset deviation tracking outcome after the
// most recent refresh.
type DeviationState struct {
	Asset      string
	LastBps    uint64
	Alerted    bool
	Paused     bool
	ObservedAt time.Time

	// cleared marks a governance override: the next refreshed quote is
	// accepted without re-tripping the latch, since the last-good price may
	// be far from the market by the time operators review the move.
	cleared bool
}

// Aggregator consults registered feeds in priority order until one returns a
// fresh quote, keeps the last accepted quote per asset, and runs the deviation
// tracker: a move of at least alertBps raises a non-blocking alert, a move of
// at least pauseBps sets a sticky latch that blocks price consumers until
// governance clears it.
type Aggregator struct {
	mu       sync.RWMutex
	priority []string
	feeds    map[string]Feed
	maxAge   time.Duration
	alertBps uint64
	pauseBps uint64
	latest   map[string]Quote
	states   map[string]*DeviationState
	clock    func() time.Time
	onAlert  func(asset string, bps uint64, paused bool)
}

// NewAggregator builds an aggregator with the supplied freshness window and
// deviation thresholds. A zero pauseBps disables the latch entirely; a zero
// alertBps disables alerts.
func NewAggregator(maxAge time.Duration, alertBps, pauseBps uint64) *Aggregator {
	return &Aggregator{
		feeds:    make(map[string]Feed),
		maxAge:   maxAge,
		alertBps: alertBps,
		pauseBps: pauseBps,
		latest:   make(map[string]Quote),
		states:   make(map[string]*DeviationState),
		clock:    time.Now,
	}
}

// Configure replaces the freshness window and deviation thresholds. Applied
// when persisted governance settings arrive after construction, so a restart
// or a genesis import never leaves the aggregator on compiled-in defaults.
func (a *Aggregator) Configure(maxAge time.Duration, alertBps, pauseBps uint64) {
	if a == nil {
		return
	}
	a.mu.Lock()
	a.maxAge = maxAge
	a.alertBps = alertBps
	a.pauseBps = pauseBps
	a.mu.Unlock()
}

// Register appends a feed at the lowest priority. Registering a feed with a
// name already present replaces it in place without changing its priority.
func (a *Aggregator) Register(feed Feed) {
	if a == nil || feed == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	name := feed.Name()
	if _, exists := a.feeds[name]; !exists {
		a.priority = append(a.priority, name)
	}
	a.feeds[name] = feed
}

// SetClock overrides the time source. Test hook.
func (a *Aggregator) SetClock(clock func() time.Time) {
	if a == nil || clock == nil {
		return
	}
	a.mu.Lock()
	a.clock = clock
	a.mu.Unlock()
}

// SetAlertFunc installs a callback invoked whenever the deviation tracker
// crosses the alert or pause threshold. Used to bridge alerts into metrics and
// the event journal without the aggregator importing either.
func (a *Aggregator) SetAlertFunc(fn func(asset string, bps uint64, paused bool)) {
	if a == nil {
		return
	}
	a.mu.Lock()
	a.onAlert = fn
	a.mu.Unlock()
}

// Refresh polls the registered feeds in priority order and accepts the first
// quote within the freshness window, then feeds it through the deviation
// tracker. A tripped latch keeps the previous last-good quote in place so
// consumers never observe the outlier price.
func (a *Aggregator) Refresh(ctx context.Context, asset string) error {
	if a == nil {
		return ErrNoQuote
	}
	normalized := NormalizeAsset(asset)
	if normalized == "" {
		return ErrUnknownAsset
	}

	a.mu.RLock()
	names := append([]string(nil), a.priority...)
	feeds := make([]Feed, 0, len(names))
	for _, name := range names {
		feeds = append(feeds, a.feeds[name])
	}
	maxAge := a.maxAge
	now := a.clock()
	a.mu.RUnlock()

	var lastErr error
	for _, feed := range feeds {
		quote, err := feed.Fetch(ctx, normalized)
		if err != nil {
			lastErr = err
			continue
		}
		if quote.Price == nil || quote.Price.Sign() <= 0 {
			lastErr = fmt.Errorf("oracle: feed %s returned non-positive price for %s", feed.Name(), normalized)
			continue
		}
		if maxAge > 0 && now.Sub(quote.Timestamp) > maxAge {
			lastErr = ErrStaleQuote
			continue
		}
		quote.Asset = normalized
		a.accept(quote, now)
		return nil
	}
	if lastErr != nil {
		return lastErr
	}
	return ErrNoQuote
}

// accept runs the deviation tracker against the previous accepted quote and
// either installs the new quote or trips the latch.
func (a *Aggregator) accept(quote Quote, now time.Time) {
	a.mu.Lock()
	state, ok := a.states[quote.Asset]
	if !ok {
		state = &DeviationState{Asset: quote.Asset}
		a.states[quote.Asset] = state
	}
	previous, hasPrevious := a.latest[quote.Asset]

	var deviation uint64
	if hasPrevious && previous.Price != nil && previous.Price.Sign() > 0 {
		diff := new(big.Int).Sub(quote.Price, previous.Price)
		diff.Abs(diff)
		diff.Mul(diff, basisPoints)
		diff.Quo(diff, previous.Price)
		if diff.IsUint64() {
			deviation = diff.Uint64()
		} else {
			deviation = ^uint64(0)
		}
	}
	state.LastBps = deviation
	state.ObservedAt = now

	tripped := false
	alerted := false
	if state.cleared {
		state.cleared = false
		a.latest[quote.Asset] = quote.Clone()
	} else if hasPrevious && a.pauseBps > 0 && deviation >= a.pauseBps {
		// Latch stays set until governance clears it; the outlier quote is
		// discarded so consumers keep seeing the last accepted price.
		state.Paused = true
		tripped = true
	} else {
		if hasPrevious && a.alertBps > 0 && deviation >= a.alertBps {
			state.Alerted = true
			alerted = true
		}
		a.latest[quote.Asset] = quote.Clone()
	}
	onAlert := a.onAlert
	a.mu.Unlock()

	if onAlert != nil && (tripped || alerted) {
		onAlert(quote.Asset, deviation, tripped)
	}
}

// GetPrice returns the last accepted quote for the asset. It does not judge
// staleness; engines compare the quote timestamp against their own clock so
// one oracle snapshot serves an entire operation.
func (a *Aggregator) GetPrice(asset string) (Quote, error) {
	if a == nil {
		return Quote{}, ErrNoQuote
	}
	normalized := NormalizeAsset(asset)
	if normalized == "" {
		return Quote{}, ErrUnknownAsset
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	quote, ok := a.latest[normalized]
	if !ok {
		return Quote{}, ErrNoQuote
	}
	return quote.Clone(), nil
}

// IsStale reports whether the last accepted quote is older than the freshness
// window. Assets with no quote at all report stale.
func (a *Aggregator) IsStale(asset string) bool {
	if a == nil {
		return true
	}
	normalized := NormalizeAsset(asset)
	a.mu.RLock()
	defer a.mu.RUnlock()
	quote, ok := a.latest[normalized]
	if !ok {
		return true
	}
	if a.maxAge <= 0 {
		return false
	}
	return a.clock().Sub(quote.Timestamp) > a.maxAge
}

// DeviationExceeded reports whether the asset's pause latch is currently set.
func (a *Aggregator) DeviationExceeded(asset string) bool {
	if a == nil {
		return false
	}
	normalized := NormalizeAsset(asset)
	a.mu.RLock()
	defer a.mu.RUnlock()
	state, ok := a.states[normalized]
	return ok && state.Paused
}

// ClearDeviation resets the pause latch and alert flag for the asset. Called
// on the governance path once operators have reviewed the price move.
func (a *Aggregator) ClearDeviation(asset string) {
	if a == nil {
		return
	}
	normalized := NormalizeAsset(asset)
	a.mu.Lock()
	if state, ok := a.states[normalized]; ok {
		state.Paused = false
		state.Alerted = false
		state.cleared = true
	}
	a.mu.Unlock()
}

// PausedAssets lists every asset whose pause latch is currently set, in no
// particular order. Used to persist the latch across restarts.
func (a *Aggregator) PausedAssets() []string {
	if a == nil {
		return nil
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	assets := make([]string, 0, len(a.states))
	for asset, state := range a.states {
		if state.Paused {
			assets = append(assets, asset)
		}
	}
	return assets
}

// RestorePauseLatch re-arms the pause latch for an asset without feeding a
// quote through the tracker. Counterpart of PausedAssets for rehydrating the
// latch after a restart.
func (a *Aggregator) RestorePauseLatch(asset string) {
	if a == nil {
		return
	}
	normalized := NormalizeAsset(asset)
	if normalized == "" {
		return
	}
	a.mu.Lock()
	state, ok := a.states[normalized]
	if !ok {
		state = &DeviationState{Asset: normalized}
		a.states[normalized] = state
	}
	state.Paused = true
	a.mu.Unlock()
}

// DeviationOf returns a copy of the deviation tracking state for the asset.
func (a *Aggregator) DeviationOf(asset string) (DeviationState, bool) {
	if a == nil {
		return DeviationState{}, false
	}
	normalized := NormalizeAsset(asset)
	a.mu.RLock()
	defer a.mu.RUnlock()
	state, ok := a.states[normalized]
	if !ok {
		return DeviationState{}, false
	}
	return *state, true
}

// Assets lists every asset with an accepted quote, for the poller and exports.
func (a *Aggregator) Assets() []string {
	if a == nil {
		return nil
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	assets := make([]string, 0, len(a.latest))
	for asset := range a.latest {
		assets = append(assets, asset)
	}
	return assets
}
