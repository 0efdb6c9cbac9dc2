package domain

import "errors"

// Authorization errors.
var (
	ErrNotAuthority = errors.New("caller is not the bet authority")
	ErrNotBettor    = errors.New("caller is not a bettor on this bet")
	ErrNotWinner    = errors.New("caller is not the winner")
)

// State errors: the operation is valid but the bet is in the wrong
// lifecycle stage.
var (
	ErrBetLocked        = errors.New("bet is locked, no further deposits")
	ErrNotLocked        = errors.New("bet is not locked yet")
	ErrWinnerAlreadySet = errors.New("winner already selected")
	ErrWinnerNotSet     = errors.New("winner not selected yet")
	ErrNoWinnerYet      = errors.New("no winner yet, retry after the price crosses the strike or the bet expires")
)

// Validation errors.
var (
	ErrInvalidAmount       = errors.New("deposit amount must be positive")
	ErrSameBettor          = errors.New("bettors must be distinct")
	ErrZeroAddress         = errors.New("address must not be zero")
	ErrMissingField        = errors.New("required field missing")
	ErrExpirationPast      = errors.New("expiration must be in the future")
	ErrStrikeInconsistent  = errors.New("strike is on the wrong side of the live price for this option type")
	ErrInvalidOptionType   = errors.New("option type must be put or call")
	ErrStaleQuote          = errors.New("oracle quote is older than the configured heartbeat")
	ErrNotOracleMediated   = errors.New("bet has no oracle mediator")
)

// Invariant-guard errors.
var (
	ErrNothingToWithdraw = errors.New("pool is empty, already withdrawn")
	ErrInsufficientHeld  = errors.New("held balance is less than the computed payout")
)

// Infrastructure errors shared across stores and caches.
var (
	ErrNotFound = errors.New("not found")
	ErrLockHeld = errors.New("lock already held")
)
