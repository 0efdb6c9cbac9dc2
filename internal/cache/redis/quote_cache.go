package redis

import (
	"context"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"

	"github.com/mauricedesaxe/betme/internal/domain"
)

// QuoteCache implements domain.QuoteCache using Redis hashes. Each feed's
// latest quote lives at key "quote:{feed}" with fields "price" (decimal
// string, preserving big.Int fidelity) and "ts" (Unix seconds, the oracle's
// own update time).
type QuoteCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewQuoteCache creates a QuoteCache backed by the given Client. A zero ttl
// keeps entries until overwritten.
func NewQuoteCache(c *Client, ttl time.Duration) *QuoteCache {
	return &QuoteCache{rdb: c.Underlying(), ttl: ttl}
}

func quoteKey(feed common.Address) string {
	return "quote:" + feed.Hex()
}

// SetQuote stores the latest quote for a feed.
func (qc *QuoteCache) SetQuote(ctx context.Context, feed common.Address, q domain.Quote) error {
	key := quoteKey(feed)
	fields := map[string]interface{}{
		"price": q.Price.String(),
		"ts":    strconv.FormatInt(q.Timestamp.Unix(), 10),
	}
	if err := qc.rdb.HSet(ctx, key, fields).Err(); err != nil {
		return fmt.Errorf("redis: set quote %s: %w", feed.Hex(), err)
	}
	if qc.ttl > 0 {
		if err := qc.rdb.Expire(ctx, key, qc.ttl).Err(); err != nil {
			return fmt.Errorf("redis: expire quote %s: %w", feed.Hex(), err)
		}
	}
	return nil
}

// GetQuote retrieves the latest quote for a feed. It returns
// domain.ErrNotFound when the key does not exist.
func (qc *QuoteCache) GetQuote(ctx context.Context, feed common.Address) (domain.Quote, error) {
	vals, err := qc.rdb.HGetAll(ctx, quoteKey(feed)).Result()
	if err != nil {
		return domain.Quote{}, fmt.Errorf("redis: get quote %s: %w", feed.Hex(), err)
	}
	if len(vals) == 0 {
		return domain.Quote{}, domain.ErrNotFound
	}

	priceStr, ok := vals["price"]
	if !ok {
		return domain.Quote{}, domain.ErrNotFound
	}
	price, ok := new(big.Int).SetString(priceStr, 10)
	if !ok {
		return domain.Quote{}, fmt.Errorf("redis: parse quote price %q for %s", priceStr, feed.Hex())
	}

	tsStr, ok := vals["ts"]
	if !ok {
		return domain.Quote{}, domain.ErrNotFound
	}
	tsSec, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return domain.Quote{}, fmt.Errorf("redis: parse quote ts for %s: %w", feed.Hex(), err)
	}

	return domain.Quote{
		Price:     price,
		Timestamp: time.Unix(tsSec, 0).UTC(),
	}, nil
}

// Compile-time interface check.
var _ domain.QuoteCache = (*QuoteCache)(nil)
