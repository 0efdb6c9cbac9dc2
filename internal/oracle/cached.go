package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/mauricedesaxe/betme/internal/domain"
)

// CachedSource wraps a PriceSource with a QuoteCache so repeated reads of
// the same feed within maxAge hit Redis instead of the RPC endpoint. The
// cached quote keeps the oracle's own timestamp, so heartbeat staleness
// checks behave identically whether or not the read was cached.
type CachedSource struct {
	inner  domain.PriceSource
	cache  domain.QuoteCache
	bus    domain.SignalBus
	maxAge time.Duration
	now    func() time.Time
	logger *slog.Logger
}

// NewCachedSource creates a caching wrapper. maxAge bounds how long a cached
// quote may serve reads; it should be well below any bet's heartbeat.
func NewCachedSource(inner domain.PriceSource, cache domain.QuoteCache, bus domain.SignalBus, maxAge time.Duration, logger *slog.Logger) *CachedSource {
	return &CachedSource{
		inner:  inner,
		cache:  cache,
		bus:    bus,
		maxAge: maxAge,
		now:    time.Now,
		logger: logger.With(slog.String("component", "oracle_cache")),
	}
}

// LatestQuote serves from the cache when the entry is younger than maxAge,
// otherwise reads through and refreshes the cache. Cache failures degrade to
// direct reads; they never fail the quote.
func (s *CachedSource) LatestQuote(ctx context.Context, feed common.Address) (domain.Quote, error) {
	if cached, err := s.cache.GetQuote(ctx, feed); err == nil {
		if s.now().Sub(cached.Timestamp) < s.maxAge {
			return cached, nil
		}
	} else if !errors.Is(err, domain.ErrNotFound) {
		s.logger.WarnContext(ctx, "quote cache read failed",
			slog.String("feed", feed.Hex()),
			slog.String("error", err.Error()),
		)
	}

	quote, err := s.inner.LatestQuote(ctx, feed)
	if err != nil {
		return domain.Quote{}, err
	}

	if err := s.cache.SetQuote(ctx, feed, quote); err != nil {
		s.logger.WarnContext(ctx, "quote cache write failed",
			slog.String("feed", feed.Hex()),
			slog.String("error", err.Error()),
		)
	}

	if s.bus != nil {
		evt, _ := json.Marshal(map[string]any{
			"event":     "quote",
			"feed":      feed.Hex(),
			"price":     quote.Price.String(),
			"timestamp": quote.Timestamp.Format(time.RFC3339),
		})
		if pubErr := s.bus.Publish(ctx, "prices", evt); pubErr != nil {
			s.logger.WarnContext(ctx, "publish quote event failed",
				slog.String("feed", feed.Hex()),
				slog.String("error", pubErr.Error()),
			)
		}
	}

	return quote, nil
}

// Compile-time interface check.
var _ domain.PriceSource = (*CachedSource)(nil)
