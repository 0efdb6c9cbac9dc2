// Package domain defines the core types, errors, and store/cache interfaces
// shared by every layer of the betme service.
package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// BetState is the lifecycle state of an escrow. Transitions only move
// forward: Open -> Locked -> Resolved -> Settled.
type BetState string

const (
	// BetStateOpen: stakes are still accumulating and unequal.
	BetStateOpen BetState = "open"
	// BetStateLocked: both bettors hold equal, nonzero stakes. Deposits are
	// rejected from here on.
	BetStateLocked BetState = "locked"
	// BetStateResolved: the authority has designated a winner.
	BetStateResolved BetState = "resolved"
	// BetStateSettled: the winner has withdrawn the pool; stakes are zeroed.
	BetStateSettled BetState = "settled"
)

// BetKind distinguishes how a bet's winner gets decided.
type BetKind string

const (
	// BetKindManual: a human authority calls the winner endpoint directly.
	BetKindManual BetKind = "manual"
	// BetKindOracle: an option mediator decides from a price feed.
	BetKindOracle BetKind = "oracle"
)

// OptionType selects the payoff direction of an oracle-mediated bet.
type OptionType string

const (
	OptionPut  OptionType = "put"
	OptionCall OptionType = "call"
)

// OptionTerms holds the parameters of an oracle-mediated bet. All fields are
// required except Heartbeat; a zero Heartbeat disables staleness checking.
type OptionTerms struct {
	Type        OptionType     `json:"type"`
	FeedAddress common.Address `json:"feed_address"`
	StrikeWei   *big.Int       `json:"strike_wei"`
	Expiration  time.Time      `json:"expiration"`
	Heartbeat   time.Duration  `json:"heartbeat,omitempty"`
}

// Bet is a single escrow instance: two bettors, an authority, and a pool of
// native value. The buyer of an option maps onto BettorA and the seller onto
// BettorB.
type Bet struct {
	ID        string         `json:"id"`
	Kind      BetKind        `json:"kind"`
	State     BetState       `json:"state"`
	Authority common.Address `json:"authority"`
	BettorA   common.Address `json:"bettor_a"`
	BettorB   common.Address `json:"bettor_b"`

	// StakeA/StakeB are cumulative deposits in wei. HeldWei tracks the
	// native balance actually custodied by the escrow; it only moves through
	// deposits and the final withdrawal.
	StakeA  *big.Int `json:"stake_a"`
	StakeB  *big.Int `json:"stake_b"`
	HeldWei *big.Int `json:"held_wei"`

	// Winner is nil until the authority resolves the bet, then immutable.
	Winner *common.Address `json:"winner,omitempty"`

	// Option is set only for oracle-mediated bets.
	Option *OptionTerms `json:"option,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsBettor reports whether addr is one of the bet's two parties.
func (b *Bet) IsBettor(addr common.Address) bool {
	return addr == b.BettorA || addr == b.BettorB
}

// StakeOf returns the cumulative stake of the given bettor. The caller must
// have checked IsBettor first; unknown addresses report zero.
func (b *Bet) StakeOf(addr common.Address) *big.Int {
	switch addr {
	case b.BettorA:
		return b.StakeA
	case b.BettorB:
		return b.StakeB
	}
	return new(big.Int)
}

// Pool returns the total payout (stakeA + stakeB) at this moment.
func (b *Bet) Pool() *big.Int {
	return new(big.Int).Add(b.StakeA, b.StakeB)
}
