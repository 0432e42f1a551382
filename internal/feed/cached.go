package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/quayside-labs/swapsentinel/internal/domain"
)

// CachedFeed serves prices from the cache while they are fresh and falls back
// to the underlying quote client when the cache is cold or stale. Fallback
// results are written back so the next reader hits the cache.
type CachedFeed struct {
	cache    domain.PriceCache
	fallback domain.PriceFeed
	maxStale time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

// NewCachedFeed creates a CachedFeed. maxStale bounds the accepted age of a
// cached sample.
func NewCachedFeed(cache domain.PriceCache, fallback domain.PriceFeed, maxStale time.Duration, logger *slog.Logger) *CachedFeed {
	return &CachedFeed{
		cache:    cache,
		fallback: fallback,
		maxStale: maxStale,
		logger:   logger.With(slog.String("component", "cached_feed")),
		now:      time.Now,
	}
}

// CurrentPrice returns the cached price when fresh, otherwise a live quote.
func (f *CachedFeed) CurrentPrice(ctx context.Context, pair string) (float64, error) {
	price, ts, err := f.cache.GetPrice(ctx, pair)
	if err == nil && f.now().Sub(ts) <= f.maxStale {
		return price, nil
	}
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		f.logger.Warn("price cache read failed, falling back to quote",
			slog.String("pair", pair),
			slog.String("error", err.Error()),
		)
	}

	price, err = f.fallback.CurrentPrice(ctx, pair)
	if err != nil {
		return 0, fmt.Errorf("feed: fallback quote %s: %w", pair, err)
	}

	if cerr := f.cache.SetPrice(ctx, pair, price, f.now().UTC()); cerr != nil {
		f.logger.Warn("price cache write failed",
			slog.String("pair", pair),
			slog.String("error", cerr.Error()),
		)
	}

	return price, nil
}

// Compile-time interface check.
var _ domain.PriceFeed = (*CachedFeed)(nil)
