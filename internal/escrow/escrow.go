// Package escrow implements the bet escrow state machine: two bettors fund
// equal stakes, an authority designates a winner, and the winner drains the
// pool exactly once.
//
// The functions here are pure with respect to I/O: they mutate the passed
// *domain.Bet in memory and return the events describing what happened. The
// store layer applies them under a row lock so every operation is atomic and
// single-writer per bet. There is no way to move value into a bet other than
// Deposit, which is what rejects unsolicited transfers.
package escrow

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/mauricedesaxe/betme/internal/domain"
)

// stateRank orders lifecycle states so transition can verify that a bet only
// ever moves forward.
var stateRank = map[domain.BetState]int{
	domain.BetStateOpen:     0,
	domain.BetStateLocked:   1,
	domain.BetStateResolved: 2,
	domain.BetStateSettled:  3,
}

// transition advances the bet to the target state. It is the single place
// where state changes happen, so an illegal backward or skipping move is a
// programming error, not a caller error.
func transition(bet *domain.Bet, to domain.BetState) error {
	from, ok := stateRank[bet.State]
	if !ok {
		return fmt.Errorf("escrow: bet %s has unknown state %q", bet.ID, bet.State)
	}
	target, ok := stateRank[to]
	if !ok || target != from+1 {
		return fmt.Errorf("escrow: illegal transition %s -> %s for bet %s", bet.State, to, bet.ID)
	}
	bet.State = to
	return nil
}

// only returns domain.ErrNotAuthority-style guard results: nil when caller
// matches want, otherwise the supplied authorization error.
func only(caller, want common.Address, err error) error {
	if caller != want {
		return err
	}
	return nil
}

// New creates an open bet with zero stakes. The ID is caller-supplied
// because oracle bets derive their authority address from it before the bet
// exists. The authority is fixed at creation and never changes. Option
// terms, when present, must already have been validated by the mediator
// constructing the bet.
func New(id string, authority, bettorA, bettorB common.Address, kind domain.BetKind, option *domain.OptionTerms, now time.Time) (domain.Bet, domain.BetEvent, error) {
	if id == "" {
		return domain.Bet{}, domain.BetEvent{}, fmt.Errorf("escrow: %w: id", domain.ErrMissingField)
	}
	if authority == (common.Address{}) || bettorA == (common.Address{}) || bettorB == (common.Address{}) {
		return domain.Bet{}, domain.BetEvent{}, domain.ErrZeroAddress
	}
	if bettorA == bettorB {
		return domain.Bet{}, domain.BetEvent{}, domain.ErrSameBettor
	}

	bet := domain.Bet{
		ID:        id,
		Kind:      kind,
		State:     domain.BetStateOpen,
		Authority: authority,
		BettorA:   bettorA,
		BettorB:   bettorB,
		StakeA:    new(big.Int),
		StakeB:    new(big.Int),
		HeldWei:   new(big.Int),
		Option:    option,
		CreatedAt: now,
		UpdatedAt: now,
	}

	evt := domain.BetEvent{
		BetID: bet.ID,
		Type:  domain.EventCreated,
		Actor: authority,
		Detail: map[string]any{
			"kind":     string(kind),
			"bettor_a": bettorA.Hex(),
			"bettor_b": bettorB.Hex(),
		},
		CreatedAt: now,
	}
	return bet, evt, nil
}

// Deposit adds amount to the caller's cumulative stake. The bet locks
// automatically when the two stakes become equal; since every deposit is
// positive, equality implies both sides are nonzero. Deposits after the lock
// are rejected, which is what makes the lock monotonic.
func Deposit(bet *domain.Bet, caller common.Address, amount *big.Int, now time.Time) ([]domain.BetEvent, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, domain.ErrInvalidAmount
	}
	if !bet.IsBettor(caller) {
		return nil, domain.ErrNotBettor
	}
	if bet.State != domain.BetStateOpen {
		return nil, domain.ErrBetLocked
	}

	switch caller {
	case bet.BettorA:
		bet.StakeA = new(big.Int).Add(bet.StakeA, amount)
	case bet.BettorB:
		bet.StakeB = new(big.Int).Add(bet.StakeB, amount)
	}
	bet.HeldWei = new(big.Int).Add(bet.HeldWei, amount)
	bet.UpdatedAt = now

	events := []domain.BetEvent{{
		BetID:     bet.ID,
		Type:      domain.EventDeposit,
		Actor:     caller,
		AmountWei: new(big.Int).Set(amount),
		CreatedAt: now,
	}}

	if bet.StakeA.Cmp(bet.StakeB) == 0 {
		if err := transition(bet, domain.BetStateLocked); err != nil {
			return nil, err
		}
		events = append(events, domain.BetEvent{
			BetID:     bet.ID,
			Type:      domain.EventLocked,
			Actor:     caller,
			AmountWei: bet.Pool(),
			CreatedAt: now,
		})
	}

	return events, nil
}

// SelectWinner records the authority's decision. It is terminal: the winner
// can never be changed afterwards.
func SelectWinner(bet *domain.Bet, caller, candidate common.Address, now time.Time) ([]domain.BetEvent, error) {
	if err := only(caller, bet.Authority, domain.ErrNotAuthority); err != nil {
		return nil, err
	}
	switch bet.State {
	case domain.BetStateOpen:
		return nil, domain.ErrNotLocked
	case domain.BetStateResolved, domain.BetStateSettled:
		return nil, domain.ErrWinnerAlreadySet
	}
	if !bet.IsBettor(candidate) {
		return nil, domain.ErrNotBettor
	}

	if err := transition(bet, domain.BetStateResolved); err != nil {
		return nil, err
	}
	w := candidate
	bet.Winner = &w
	bet.UpdatedAt = now

	return []domain.BetEvent{{
		BetID:     bet.ID,
		Type:      domain.EventWinner,
		Actor:     caller,
		AmountWei: new(big.Int).Set(bet.StakeOf(candidate)),
		Detail:    map[string]any{"winner": candidate.Hex()},
		CreatedAt: now,
	}}, nil
}

// Withdraw pays the full pool to the winner and zeroes both stakes. A second
// call fails on the empty-pool guard rather than an explicit flag, matching
// the one-shot semantics of the settlement. The returned amount is what the
// value-transfer substrate must credit to the caller.
func Withdraw(bet *domain.Bet, caller common.Address, now time.Time) ([]domain.BetEvent, *big.Int, error) {
	if bet.Winner == nil {
		return nil, nil, domain.ErrWinnerNotSet
	}
	if err := only(caller, *bet.Winner, domain.ErrNotWinner); err != nil {
		return nil, nil, err
	}

	total := bet.Pool()
	if total.Sign() == 0 {
		return nil, nil, domain.ErrNothingToWithdraw
	}
	if bet.HeldWei.Cmp(total) < 0 {
		return nil, nil, domain.ErrInsufficientHeld
	}

	if err := transition(bet, domain.BetStateSettled); err != nil {
		return nil, nil, err
	}
	bet.StakeA = new(big.Int)
	bet.StakeB = new(big.Int)
	bet.HeldWei = new(big.Int).Sub(bet.HeldWei, total)
	bet.UpdatedAt = now

	return []domain.BetEvent{{
		BetID:     bet.ID,
		Type:      domain.EventWithdraw,
		Actor:     caller,
		AmountWei: total,
		CreatedAt: now,
	}}, total, nil
}
