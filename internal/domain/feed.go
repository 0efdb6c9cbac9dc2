package domain

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Quote is a single price observation from an oracle feed. Timestamp is the
// oracle's own update time, not the read time; heartbeat staleness checks
// compare against it.
type Quote struct {
	Price     *big.Int  `json:"price"`
	Timestamp time.Time `json:"timestamp"`
}

// PriceSource reads the latest quote from a Chainlink-style aggregator. The
// source is untrusted-but-available: callers must treat stale timestamps as
// a hard failure (fail closed), never as a default.
type PriceSource interface {
	LatestQuote(ctx context.Context, feed common.Address) (Quote, error)
}
