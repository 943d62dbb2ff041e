package oracle

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/time/rate"
)

// Poller drives periodic aggregator refreshes for a fixed asset list. A rate
// limiter bounds the aggregate upstream request rate across all assets so a
// short interval with many assets cannot hammer the feeds.
type Poller struct {
	aggregator *Aggregator
	assets     []string
	interval   time.Duration
	limiter    *rate.Limiter
	logger     *slog.Logger
}

// NewPoller constructs a poller. A non-positive interval defaults to 30s and
// a nil logger falls back to slog.Default.
func NewPoller(aggregator *Aggregator, assets []string, interval time.Duration, requestsPerSecond float64, logger *slog.Logger) *Poller {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if requestsPerSecond <= 0 {
		requestsPerSecond = 4
	}
	if logger == nil {
		logger = slog.Default()
	}
	normalized := make([]string, 0, len(assets))
	for _, asset := range assets {
		if symbol := NormalizeAsset(asset); symbol != "" {
			normalized = append(normalized, symbol)
		}
	}
	return &Poller{
		aggregator: aggregator,
		assets:     normalized,
		interval:   interval,
		limiter:    rate.NewLimiter(rate.Limit(requestsPerSecond), 1),
		logger:     logger,
	}
}

// Run refreshes every asset once immediately and then on each tick until the
// context is cancelled. Individual refresh failures are logged and retried on
// the next tick; the poller itself never stops on feed errors.
func (p *Poller) Run(ctx context.Context) {
	if p == nil || p.aggregator == nil {
		return
	}
	p.refreshAll(ctx)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.refreshAll(ctx)
		}
	}
}

func (p *Poller) refreshAll(ctx context.Context) {
	for _, asset := range p.assets {
		if err := p.limiter.Wait(ctx); err != nil {
			return
		}
		if err := p.aggregator.Refresh(ctx, asset); err != nil {
			p.logger.Warn("oracle refresh failed", "asset", asset, "error", err)
		}
	}
}
