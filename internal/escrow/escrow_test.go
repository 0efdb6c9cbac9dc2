package escrow

import (
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mauricedesaxe/betme/internal/domain"
)

var (
	authority = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	alice     = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	bob       = common.HexToAddress("0x00000000000000000000000000000000000000b1")
	carol     = common.HexToAddress("0x00000000000000000000000000000000000000c1")
)

func newBet(t *testing.T) domain.Bet {
	t.Helper()
	bet, evt, err := New("bet-1", authority, alice, bob, domain.BetKindManual, nil, time.Now().UTC())
	require.NoError(t, err)
	require.Equal(t, domain.EventCreated, evt.Type)
	return bet
}

func wei(n int64) *big.Int {
	return big.NewInt(n)
}

func TestNewValidation(t *testing.T) {
	now := time.Now().UTC()

	_, _, err := New("", authority, alice, bob, domain.BetKindManual, nil, now)
	require.ErrorIs(t, err, domain.ErrMissingField)

	_, _, err = New("bet-1", common.Address{}, alice, bob, domain.BetKindManual, nil, now)
	require.ErrorIs(t, err, domain.ErrZeroAddress)

	_, _, err = New("bet-1", authority, alice, common.Address{}, domain.BetKindManual, nil, now)
	require.ErrorIs(t, err, domain.ErrZeroAddress)

	_, _, err = New("bet-1", authority, alice, alice, domain.BetKindManual, nil, now)
	require.ErrorIs(t, err, domain.ErrSameBettor)

	bet, _, err := New("bet-1", authority, alice, bob, domain.BetKindManual, nil, now)
	require.NoError(t, err)
	assert.Equal(t, domain.BetStateOpen, bet.State)
	assert.Zero(t, bet.HeldWei.Sign())
}

func TestDepositAccumulatesAndLocksOnEquality(t *testing.T) {
	bet := newBet(t)
	now := time.Now().UTC()

	events, err := Deposit(&bet, alice, wei(60), now)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventDeposit, events[0].Type)
	assert.Equal(t, domain.BetStateOpen, bet.State)

	// Partial funding from the other side keeps the bet open.
	events, err = Deposit(&bet, bob, wei(40), now)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, domain.BetStateOpen, bet.State)

	// Equality triggers the lock and emits a second event.
	events, err = Deposit(&bet, bob, wei(20), now)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, domain.EventLocked, events[1].Type)
	assert.Equal(t, domain.BetStateLocked, bet.State)
	assert.Equal(t, wei(120), bet.Pool())
	assert.Equal(t, wei(120), bet.HeldWei)
}

func TestDepositAlternatingTopUps(t *testing.T) {
	bet := newBet(t)
	now := time.Now().UTC()

	for _, step := range []struct {
		caller common.Address
		amount int64
	}{
		{alice, 10},
		{bob, 30},
		{alice, 15},
		{bob, 5},
	} {
		_, err := Deposit(&bet, step.caller, wei(step.amount), now)
		require.NoError(t, err)
		require.Equal(t, domain.BetStateOpen, bet.State)
	}

	// 25 vs 35; alice matching locks it.
	events, err := Deposit(&bet, alice, wei(10), now)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, domain.BetStateLocked, bet.State)
	assert.Equal(t, wei(70), bet.Pool())
}

func TestDepositGuards(t *testing.T) {
	bet := newBet(t)
	now := time.Now().UTC()

	_, err := Deposit(&bet, alice, nil, now)
	require.ErrorIs(t, err, domain.ErrInvalidAmount)

	_, err = Deposit(&bet, alice, wei(0), now)
	require.ErrorIs(t, err, domain.ErrInvalidAmount)

	_, err = Deposit(&bet, alice, wei(-5), now)
	require.ErrorIs(t, err, domain.ErrInvalidAmount)

	_, err = Deposit(&bet, carol, wei(5), now)
	require.ErrorIs(t, err, domain.ErrNotBettor)
}

func TestDepositAfterLockRejected(t *testing.T) {
	bet := newBet(t)
	now := time.Now().UTC()

	_, err := Deposit(&bet, alice, wei(50), now)
	require.NoError(t, err)
	_, err = Deposit(&bet, bob, wei(50), now)
	require.NoError(t, err)
	require.Equal(t, domain.BetStateLocked, bet.State)

	_, err = Deposit(&bet, alice, wei(1), now)
	require.ErrorIs(t, err, domain.ErrBetLocked)
	assert.Equal(t, wei(100), bet.Pool())
}

func TestSelectWinnerGuards(t *testing.T) {
	bet := newBet(t)
	now := time.Now().UTC()

	// Not locked yet.
	_, err := SelectWinner(&bet, authority, alice, now)
	require.ErrorIs(t, err, domain.ErrNotLocked)

	_, err = Deposit(&bet, alice, wei(50), now)
	require.NoError(t, err)
	_, err = Deposit(&bet, bob, wei(50), now)
	require.NoError(t, err)

	// Only the authority may resolve.
	_, err = SelectWinner(&bet, alice, alice, now)
	require.ErrorIs(t, err, domain.ErrNotAuthority)

	// The winner must be one of the bettors.
	_, err = SelectWinner(&bet, authority, carol, now)
	require.ErrorIs(t, err, domain.ErrNotBettor)

	events, err := SelectWinner(&bet, authority, alice, now)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventWinner, events[0].Type)
	require.NotNil(t, bet.Winner)
	assert.Equal(t, alice, *bet.Winner)
	assert.Equal(t, domain.BetStateResolved, bet.State)

	// The decision is terminal.
	_, err = SelectWinner(&bet, authority, bob, now)
	require.ErrorIs(t, err, domain.ErrWinnerAlreadySet)
	assert.Equal(t, alice, *bet.Winner)
}

func TestWithdrawPaysPoolOnce(t *testing.T) {
	bet := newBet(t)
	now := time.Now().UTC()

	_, err := Deposit(&bet, alice, wei(50), now)
	require.NoError(t, err)
	_, err = Deposit(&bet, bob, wei(50), now)
	require.NoError(t, err)

	// No winner yet.
	_, _, err = Withdraw(&bet, alice, now)
	require.ErrorIs(t, err, domain.ErrWinnerNotSet)

	_, err = SelectWinner(&bet, authority, bob, now)
	require.NoError(t, err)

	// Only the winner may withdraw.
	_, _, err = Withdraw(&bet, alice, now)
	require.ErrorIs(t, err, domain.ErrNotWinner)

	events, payout, err := Withdraw(&bet, bob, now)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventWithdraw, events[0].Type)
	assert.Equal(t, wei(100), payout)
	assert.Equal(t, domain.BetStateSettled, bet.State)
	assert.Zero(t, bet.StakeA.Sign())
	assert.Zero(t, bet.StakeB.Sign())
	assert.Zero(t, bet.HeldWei.Sign())

	// Second withdrawal hits the empty-pool guard.
	_, _, err = Withdraw(&bet, bob, now)
	require.ErrorIs(t, err, domain.ErrNothingToWithdraw)
}

func TestFullLifecycle(t *testing.T) {
	bet := newBet(t)
	now := time.Now().UTC()

	_, err := Deposit(&bet, alice, wei(1), now)
	require.NoError(t, err)
	events, err := Deposit(&bet, bob, wei(1), now)
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, domain.BetStateLocked, bet.State)

	_, err = SelectWinner(&bet, authority, alice, now)
	require.NoError(t, err)

	_, payout, err := Withdraw(&bet, alice, now)
	require.NoError(t, err)
	assert.Equal(t, wei(2), payout)
	assert.Equal(t, domain.BetStateSettled, bet.State)
}
