package domain

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// QuoteCache provides fast access to the latest oracle quote per feed.
// Prices are stored as decimal strings to preserve big.Int fidelity.
type QuoteCache interface {
	SetQuote(ctx context.Context, feed common.Address, q Quote) error
	GetQuote(ctx context.Context, feed common.Address) (Quote, error)
}

// LockManager provides distributed locking, used to deduplicate resolver
// work across service instances.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// RateLimiter answers whether a keyed action is allowed under a sliding
// window limit. Implementations must be safe for concurrent use.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// StreamMessage represents a single entry from a durable stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub for live event fan-out and durable streams for
// the bet event mirror.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}
