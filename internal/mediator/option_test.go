package mediator

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mauricedesaxe/betme/internal/domain"
)

var (
	buyer  = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	seller = common.HexToAddress("0x00000000000000000000000000000000000000b1")
	feed   = common.HexToAddress("0x00000000000000000000000000000000000000fe")
)

// fakeSource returns a fixed quote or error for any feed address.
type fakeSource struct {
	quote domain.Quote
	err   error
}

func (f *fakeSource) LatestQuote(_ context.Context, _ common.Address) (domain.Quote, error) {
	return f.quote, f.err
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func quoteAt(price int64, ts time.Time) domain.Quote {
	return domain.Quote{Price: big.NewInt(price), Timestamp: ts}
}

func optionBet(typ domain.OptionType, strike int64, expiration time.Time, heartbeat time.Duration) *domain.Bet {
	return &domain.Bet{
		ID:      "bet-1",
		Kind:    domain.BetKindOracle,
		State:   domain.BetStateLocked,
		BettorA: buyer,
		BettorB: seller,
		Option: &domain.OptionTerms{
			Type:        typ,
			FeedAddress: feed,
			StrikeWei:   big.NewInt(strike),
			Expiration:  expiration,
			Heartbeat:   heartbeat,
		},
	}
}

func TestDecideRejectsManualBet(t *testing.T) {
	m := NewOptionMediator(&fakeSource{}, nil)
	_, _, err := m.Decide(context.Background(), &domain.Bet{ID: "bet-1"})
	require.ErrorIs(t, err, domain.ErrNotOracleMediated)
}

func TestDecideExpiredPaysSellerWithoutQuote(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	// A failing feed must not matter once the bet has expired.
	src := &fakeSource{err: errors.New("rpc down")}
	m := NewOptionMediator(src, fixedClock(now))

	bet := optionBet(domain.OptionPut, 100, now.Add(-time.Minute), time.Hour)
	winner, quote, err := m.Decide(context.Background(), bet)
	require.NoError(t, err)
	assert.Equal(t, seller, winner)
	assert.Nil(t, quote)
}

func TestDecidePut(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	expiration := now.Add(24 * time.Hour)

	cases := []struct {
		name   string
		price  int64
		winner common.Address
		err    error
	}{
		{"price above strike keeps waiting", 150, common.Address{}, domain.ErrNoWinnerYet},
		{"price at strike pays buyer", 100, buyer, nil},
		{"price below strike pays buyer", 80, buyer, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			src := &fakeSource{quote: quoteAt(tc.price, now.Add(-time.Minute))}
			m := NewOptionMediator(src, fixedClock(now))

			winner, quote, err := m.Decide(context.Background(), optionBet(domain.OptionPut, 100, expiration, time.Hour))
			if tc.err != nil {
				require.ErrorIs(t, err, tc.err)
				require.NotNil(t, quote)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.winner, winner)
			require.NotNil(t, quote)
			assert.Equal(t, big.NewInt(tc.price), quote.Price)
		})
	}
}

func TestDecideCall(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	expiration := now.Add(24 * time.Hour)

	cases := []struct {
		name   string
		price  int64
		winner common.Address
		err    error
	}{
		{"price below strike keeps waiting", 80, common.Address{}, domain.ErrNoWinnerYet},
		{"price at strike pays seller", 100, seller, nil},
		{"price above strike pays seller", 150, seller, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			src := &fakeSource{quote: quoteAt(tc.price, now.Add(-time.Minute))}
			m := NewOptionMediator(src, fixedClock(now))

			winner, _, err := m.Decide(context.Background(), optionBet(domain.OptionCall, 100, expiration, time.Hour))
			if tc.err != nil {
				require.ErrorIs(t, err, tc.err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.winner, winner)
		})
	}
}

func TestDecideHeartbeatStaleness(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	expiration := now.Add(24 * time.Hour)
	hb := 5 * time.Minute

	// Quote exactly heartbeat old fails closed.
	src := &fakeSource{quote: quoteAt(80, now.Add(-hb))}
	m := NewOptionMediator(src, fixedClock(now))
	_, _, err := m.Decide(context.Background(), optionBet(domain.OptionPut, 100, expiration, hb))
	require.ErrorIs(t, err, domain.ErrStaleQuote)

	// One second younger passes.
	src.quote = quoteAt(80, now.Add(-hb).Add(time.Second))
	winner, _, err := m.Decide(context.Background(), optionBet(domain.OptionPut, 100, expiration, hb))
	require.NoError(t, err)
	assert.Equal(t, buyer, winner)

	// Zero heartbeat disables the check entirely.
	src.quote = quoteAt(80, now.Add(-48*time.Hour))
	winner, _, err = m.Decide(context.Background(), optionBet(domain.OptionPut, 100, expiration, 0))
	require.NoError(t, err)
	assert.Equal(t, buyer, winner)
}

func TestDecideFeedErrorPropagates(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	src := &fakeSource{err: errors.New("rpc down")}
	m := NewOptionMediator(src, fixedClock(now))

	_, _, err := m.Decide(context.Background(), optionBet(domain.OptionPut, 100, now.Add(time.Hour), 0))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rpc down")
}

func TestValidateTerms(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	expiration := now.Add(24 * time.Hour)

	valid := domain.OptionTerms{
		Type:        domain.OptionPut,
		FeedAddress: feed,
		StrikeWei:   big.NewInt(100),
		Expiration:  expiration,
	}

	cases := []struct {
		name   string
		mutate func(*domain.OptionTerms)
		buyer  common.Address
		seller common.Address
		price  int64
		err    error
	}{
		{"valid put", func(*domain.OptionTerms) {}, buyer, seller, 120, nil},
		{"zero buyer", func(*domain.OptionTerms) {}, common.Address{}, seller, 120, domain.ErrZeroAddress},
		{"same parties", func(*domain.OptionTerms) {}, buyer, buyer, 120, domain.ErrSameBettor},
		{"missing feed", func(o *domain.OptionTerms) { o.FeedAddress = common.Address{} }, buyer, seller, 120, domain.ErrMissingField},
		{"missing strike", func(o *domain.OptionTerms) { o.StrikeWei = nil }, buyer, seller, 120, domain.ErrMissingField},
		{"zero strike", func(o *domain.OptionTerms) { o.StrikeWei = big.NewInt(0) }, buyer, seller, 120, domain.ErrMissingField},
		{"zero expiration", func(o *domain.OptionTerms) { o.Expiration = time.Time{} }, buyer, seller, 120, domain.ErrMissingField},
		{"past expiration", func(o *domain.OptionTerms) { o.Expiration = now.Add(-time.Hour) }, buyer, seller, 120, domain.ErrExpirationPast},
		{"bad type", func(o *domain.OptionTerms) { o.Type = "straddle" }, buyer, seller, 120, domain.ErrInvalidOptionType},
		{"put already in the money", func(*domain.OptionTerms) {}, buyer, seller, 90, domain.ErrStrikeInconsistent},
		{"put at the money is fine", func(*domain.OptionTerms) {}, buyer, seller, 100, nil},
		{"call already in the money", func(o *domain.OptionTerms) { o.Type = domain.OptionCall }, buyer, seller, 120, domain.ErrStrikeInconsistent},
		{"call below strike is fine", func(o *domain.OptionTerms) { o.Type = domain.OptionCall }, buyer, seller, 90, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			terms := valid
			tc.mutate(&terms)
			src := &fakeSource{quote: quoteAt(tc.price, now)}
			m := NewOptionMediator(src, fixedClock(now))

			err := m.ValidateTerms(context.Background(), terms, tc.buyer, tc.seller)
			if tc.err != nil {
				require.ErrorIs(t, err, tc.err)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestDeriveAddress(t *testing.T) {
	a := DeriveAddress("bet-1")
	b := DeriveAddress("bet-1")
	c := DeriveAddress("bet-2")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.NotEqual(t, common.Address{}, a)
}
