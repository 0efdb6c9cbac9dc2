package mediator

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/mauricedesaxe/betme/internal/domain"
)

// OptionMediator decides oracle bets from a price feed. The decision logic
// is deterministic in the feed and the clock, so Resolve is callable by
// anyone: trust is anchored in the oracle, not the caller.
type OptionMediator struct {
	source domain.PriceSource
	now    func() time.Time
}

// NewOptionMediator creates an OptionMediator reading from the given source.
// The now function is injectable for tests; pass nil for the wall clock.
func NewOptionMediator(source domain.PriceSource, now func() time.Time) *OptionMediator {
	if now == nil {
		now = time.Now
	}
	return &OptionMediator{source: source, now: now}
}

// ValidateTerms checks the construction-time invariants of an oracle bet:
// every field present, expiration strictly in the future, and the strike on
// the correct side of the live price for the option type. A put must start
// with the live price at or above the strike, a call at or below, otherwise
// the bet would be decidable the moment it locks.
func (m *OptionMediator) ValidateTerms(ctx context.Context, terms domain.OptionTerms, buyer, seller common.Address) error {
	if buyer == (common.Address{}) || seller == (common.Address{}) {
		return domain.ErrZeroAddress
	}
	if buyer == seller {
		return domain.ErrSameBettor
	}
	if terms.FeedAddress == (common.Address{}) {
		return fmt.Errorf("%w: feed_address", domain.ErrMissingField)
	}
	if terms.StrikeWei == nil || terms.StrikeWei.Sign() <= 0 {
		return fmt.Errorf("%w: strike_wei", domain.ErrMissingField)
	}
	if terms.Expiration.IsZero() {
		return fmt.Errorf("%w: expiration", domain.ErrMissingField)
	}
	if !terms.Expiration.After(m.now()) {
		return domain.ErrExpirationPast
	}

	switch terms.Type {
	case domain.OptionPut, domain.OptionCall:
	default:
		return domain.ErrInvalidOptionType
	}

	quote, err := m.source.LatestQuote(ctx, terms.FeedAddress)
	if err != nil {
		return fmt.Errorf("mediator: read feed %s: %w", terms.FeedAddress.Hex(), err)
	}

	switch terms.Type {
	case domain.OptionPut:
		if quote.Price.Cmp(terms.StrikeWei) < 0 {
			return domain.ErrStrikeInconsistent
		}
	case domain.OptionCall:
		if quote.Price.Cmp(terms.StrikeWei) > 0 {
			return domain.ErrStrikeInconsistent
		}
	}
	return nil
}

// Decide computes the winner of an oracle bet.
//
// Past expiration the seller wins unconditionally; the price is not even
// consulted (time decay is the seller's edge). Before expiration the latest
// quote must be fresh per the configured heartbeat, and the winner exists
// only once the price crosses the strike: price <= strike pays the buyer of
// a put, price >= strike pays the seller of a call. Until then Decide fails
// with domain.ErrNoWinnerYet and the caller retries later.
func (m *OptionMediator) Decide(ctx context.Context, bet *domain.Bet) (common.Address, *domain.Quote, error) {
	if bet.Option == nil {
		return common.Address{}, nil, domain.ErrNotOracleMediated
	}
	terms := bet.Option
	now := m.now()

	if now.After(terms.Expiration) {
		return bet.BettorB, nil, nil
	}

	quote, err := m.source.LatestQuote(ctx, terms.FeedAddress)
	if err != nil {
		return common.Address{}, nil, fmt.Errorf("mediator: read feed %s: %w", terms.FeedAddress.Hex(), err)
	}
	if hb := terms.Heartbeat; hb > 0 && !quote.Timestamp.Add(hb).After(now) {
		return common.Address{}, nil, domain.ErrStaleQuote
	}

	switch terms.Type {
	case domain.OptionPut:
		if quote.Price.Cmp(terms.StrikeWei) <= 0 {
			return bet.BettorA, &quote, nil
		}
	case domain.OptionCall:
		if quote.Price.Cmp(terms.StrikeWei) >= 0 {
			return bet.BettorB, &quote, nil
		}
	default:
		return common.Address{}, nil, domain.ErrInvalidOptionType
	}

	return common.Address{}, &quote, domain.ErrNoWinnerYet
}
