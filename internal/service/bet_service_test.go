package service

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"math/big"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mauricedesaxe/betme/internal/domain"
	"github.com/mauricedesaxe/betme/internal/mediator"
)

var (
	authority = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	alice     = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	bob       = common.HexToAddress("0x00000000000000000000000000000000000000b1")
	feedAddr  = common.HexToAddress("0x00000000000000000000000000000000000000fe")
)

// memBetStore is an in-memory BetStore with the same single-writer semantics
// as the postgres implementation.
type memBetStore struct {
	mu     sync.Mutex
	bets   map[string]domain.Bet
	events map[string][]domain.BetEvent
}

func newMemBetStore() *memBetStore {
	return &memBetStore{
		bets:   make(map[string]domain.Bet),
		events: make(map[string][]domain.BetEvent),
	}
}

func (s *memBetStore) Create(_ context.Context, bet domain.Bet, created domain.BetEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	created.Seq = 1
	s.bets[bet.ID] = bet
	s.events[bet.ID] = []domain.BetEvent{created}
	return nil
}

func (s *memBetStore) GetByID(_ context.Context, id string) (domain.Bet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	bet, ok := s.bets[id]
	if !ok {
		return domain.Bet{}, domain.ErrNotFound
	}
	return bet, nil
}

func (s *memBetStore) List(_ context.Context, filter domain.BetFilter, _ domain.ListOpts) ([]domain.Bet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Bet
	for _, bet := range s.bets {
		if filter.State != "" && bet.State != filter.State {
			continue
		}
		if filter.Kind != "" && bet.Kind != filter.Kind {
			continue
		}
		out = append(out, bet)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memBetStore) Mutate(_ context.Context, id string, fn func(bet *domain.Bet) ([]domain.BetEvent, error)) (domain.Bet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	bet, ok := s.bets[id]
	if !ok {
		return domain.Bet{}, domain.ErrNotFound
	}
	events, err := fn(&bet)
	if err != nil {
		return domain.Bet{}, err
	}
	seq := len(s.events[id])
	for i := range events {
		seq++
		events[i].Seq = seq
	}
	s.bets[id] = bet
	s.events[id] = append(s.events[id], events...)
	return bet, nil
}

func (s *memBetStore) ListSettledBefore(_ context.Context, before time.Time, limit int) ([]domain.Bet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Bet
	for _, bet := range s.bets {
		if bet.State == domain.BetStateSettled && bet.UpdatedAt.Before(before) {
			out = append(out, bet)
		}
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *memBetStore) ListByBet(_ context.Context, betID string, _ domain.ListOpts) ([]domain.BetEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.BetEvent(nil), s.events[betID]...), nil
}

// memBus records published payloads per channel and stream.
type memBus struct {
	mu        sync.Mutex
	published map[string][][]byte
	streamed  map[string][][]byte
}

func newMemBus() *memBus {
	return &memBus{
		published: make(map[string][][]byte),
		streamed:  make(map[string][][]byte),
	}
}

func (b *memBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published[channel] = append(b.published[channel], payload)
	return nil
}

func (b *memBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	ch := make(chan []byte)
	close(ch)
	return ch, nil
}

func (b *memBus) StreamAppend(_ context.Context, stream string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.streamed[stream] = append(b.streamed[stream], payload)
	return nil
}

func (b *memBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

// staticSource serves a fixed quote for every feed.
type staticSource struct {
	quote domain.Quote
	err   error
}

func (s *staticSource) LatestQuote(context.Context, common.Address) (domain.Quote, error) {
	return s.quote, s.err
}

type fixture struct {
	svc   *BetService
	store *memBetStore
	bus   *memBus
	now   time.Time
}

func newFixture(t *testing.T, src domain.PriceSource) *fixture {
	t.Helper()
	store := newMemBetStore()
	bus := newMemBus()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	f := &fixture{
		store: store,
		bus:   bus,
		now:   time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	clock := func() time.Time { return f.now }

	var med *mediator.OptionMediator
	if src != nil {
		med = mediator.NewOptionMediator(src, clock)
	}

	f.svc = NewBetService(store, store, nil, med, bus, nil, logger, clock)
	return f
}

func (f *fixture) lockedManualBet(t *testing.T) domain.Bet {
	t.Helper()
	ctx := context.Background()
	bet, err := f.svc.CreateManual(ctx, authority, alice, bob)
	require.NoError(t, err)
	_, err = f.svc.Deposit(ctx, bet.ID, alice, big.NewInt(50))
	require.NoError(t, err)
	bet, err = f.svc.Deposit(ctx, bet.ID, bob, big.NewInt(50))
	require.NoError(t, err)
	require.Equal(t, domain.BetStateLocked, bet.State)
	return bet
}

func TestCreateManual(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	bet, err := f.svc.CreateManual(ctx, authority, alice, bob)
	require.NoError(t, err)
	assert.NotEmpty(t, bet.ID)
	assert.Equal(t, domain.BetKindManual, bet.Kind)
	assert.Equal(t, domain.BetStateOpen, bet.State)

	events, err := f.svc.Events(ctx, bet.ID, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventCreated, events[0].Type)
	assert.Equal(t, 1, events[0].Seq)

	// Created event mirrored to both the channel and the stream.
	assert.Len(t, f.bus.published[ChannelBets], 1)
	assert.Len(t, f.bus.streamed[StreamBetEvents], 1)
}

func TestCreateManualRejectsInvalidParties(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.svc.CreateManual(ctx, authority, alice, alice)
	require.ErrorIs(t, err, domain.ErrSameBettor)

	_, err = f.svc.CreateManual(ctx, common.Address{}, alice, bob)
	require.ErrorIs(t, err, domain.ErrZeroAddress)
}

func TestManualLifecycle(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	bet := f.lockedManualBet(t)

	bet, err := f.svc.SelectWinner(ctx, bet.ID, authority, alice)
	require.NoError(t, err)
	require.NotNil(t, bet.Winner)
	assert.Equal(t, alice, *bet.Winner)

	bet, payout, err := f.svc.Withdraw(ctx, bet.ID, alice)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(100), payout)
	assert.Equal(t, domain.BetStateSettled, bet.State)

	// created, 2x deposit, locked, winner, withdraw
	events, err := f.svc.Events(ctx, bet.ID, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, events, 6)
	for i, e := range events {
		assert.Equal(t, i+1, e.Seq)
	}
	assert.Equal(t, domain.EventWithdraw, events[5].Type)

	// Guard errors pass through Mutate unchanged.
	_, _, err = f.svc.Withdraw(ctx, bet.ID, alice)
	require.ErrorIs(t, err, domain.ErrNothingToWithdraw)
}

func TestDepositUnknownBet(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.svc.Deposit(context.Background(), "missing", alice, big.NewInt(1))
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCreateOracleDisabledWithoutMediator(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.svc.CreateOracle(context.Background(), alice, bob, domain.OptionTerms{})
	require.ErrorIs(t, err, domain.ErrNotOracleMediated)
}

func TestCreateOracleDerivesAuthority(t *testing.T) {
	src := &staticSource{quote: domain.Quote{Price: big.NewInt(120), Timestamp: time.Date(2026, 3, 1, 11, 59, 0, 0, time.UTC)}}
	f := newFixture(t, src)
	ctx := context.Background()

	terms := domain.OptionTerms{
		Type:        domain.OptionPut,
		FeedAddress: feedAddr,
		StrikeWei:   big.NewInt(100),
		Expiration:  f.now.Add(24 * time.Hour),
		Heartbeat:   time.Hour,
	}
	bet, err := f.svc.CreateOracle(ctx, alice, bob, terms)
	require.NoError(t, err)
	assert.Equal(t, domain.BetKindOracle, bet.Kind)
	assert.Equal(t, mediator.DeriveAddress(bet.ID), bet.Authority)
	require.NotNil(t, bet.Option)
	assert.Equal(t, domain.OptionPut, bet.Option.Type)

	// The derived authority is not a bettor, so nobody can call the winner
	// endpoint directly with a bettor identity.
	_, err = f.svc.SelectWinner(ctx, bet.ID, alice, alice)
	require.ErrorIs(t, err, domain.ErrNotAuthority)
}

func TestCreateOracleValidatesTerms(t *testing.T) {
	// Live price below strike makes a put instantly decidable, so creation
	// must fail.
	src := &staticSource{quote: domain.Quote{Price: big.NewInt(90), Timestamp: time.Date(2026, 3, 1, 11, 59, 0, 0, time.UTC)}}
	f := newFixture(t, src)

	terms := domain.OptionTerms{
		Type:        domain.OptionPut,
		FeedAddress: feedAddr,
		StrikeWei:   big.NewInt(100),
		Expiration:  f.now.Add(24 * time.Hour),
	}
	_, err := f.svc.CreateOracle(context.Background(), alice, bob, terms)
	require.ErrorIs(t, err, domain.ErrStrikeInconsistent)
}

func TestResolveOracleBet(t *testing.T) {
	src := &staticSource{quote: domain.Quote{Price: big.NewInt(120), Timestamp: time.Date(2026, 3, 1, 11, 59, 0, 0, time.UTC)}}
	f := newFixture(t, src)
	ctx := context.Background()

	terms := domain.OptionTerms{
		Type:        domain.OptionPut,
		FeedAddress: feedAddr,
		StrikeWei:   big.NewInt(100),
		Expiration:  f.now.Add(24 * time.Hour),
		Heartbeat:   time.Hour,
	}
	bet, err := f.svc.CreateOracle(ctx, alice, bob, terms)
	require.NoError(t, err)

	_, err = f.svc.Deposit(ctx, bet.ID, alice, big.NewInt(10))
	require.NoError(t, err)
	_, err = f.svc.Deposit(ctx, bet.ID, bob, big.NewInt(10))
	require.NoError(t, err)

	// Price above strike: nothing to do yet.
	_, err = f.svc.Resolve(ctx, bet.ID)
	require.ErrorIs(t, err, domain.ErrNoWinnerYet)

	// Price crosses the strike: buyer of the put wins.
	src.quote.Price = big.NewInt(95)
	bet, err = f.svc.Resolve(ctx, bet.ID)
	require.NoError(t, err)
	require.NotNil(t, bet.Winner)
	assert.Equal(t, alice, *bet.Winner)
	assert.Equal(t, domain.BetStateResolved, bet.State)

	events, err := f.svc.Events(ctx, bet.ID, domain.ListOpts{})
	require.NoError(t, err)
	last := events[len(events)-1]
	assert.Equal(t, domain.EventResolved, last.Type)
	assert.Equal(t, "95", last.Detail["price_wei"])

	// A second resolve is a no-op failure, not a winner change.
	_, err = f.svc.Resolve(ctx, bet.ID)
	require.ErrorIs(t, err, domain.ErrWinnerAlreadySet)

	_, payout, err := f.svc.Withdraw(ctx, bet.ID, alice)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(20), payout)
}

func TestResolveRejectsManualBet(t *testing.T) {
	src := &staticSource{quote: domain.Quote{Price: big.NewInt(120), Timestamp: time.Date(2026, 3, 1, 11, 59, 0, 0, time.UTC)}}
	f := newFixture(t, src)
	bet := f.lockedManualBet(t)

	_, err := f.svc.Resolve(context.Background(), bet.ID)
	require.ErrorIs(t, err, domain.ErrNotOracleMediated)
}

func TestResolveStaleQuoteFailsClosed(t *testing.T) {
	src := &staticSource{quote: domain.Quote{Price: big.NewInt(95), Timestamp: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}}
	f := newFixture(t, src)
	ctx := context.Background()

	terms := domain.OptionTerms{
		Type:        domain.OptionPut,
		FeedAddress: feedAddr,
		StrikeWei:   big.NewInt(100),
		Expiration:  f.now.Add(24 * time.Hour),
		Heartbeat:   30 * time.Minute,
	}
	// Construction reads the feed too, but staleness only gates Decide.
	src.quote.Price = big.NewInt(120)
	bet, err := f.svc.CreateOracle(ctx, alice, bob, terms)
	require.NoError(t, err)
	_, err = f.svc.Deposit(ctx, bet.ID, alice, big.NewInt(10))
	require.NoError(t, err)
	_, err = f.svc.Deposit(ctx, bet.ID, bob, big.NewInt(10))
	require.NoError(t, err)

	src.quote.Price = big.NewInt(95)
	_, err = f.svc.Resolve(ctx, bet.ID)
	require.ErrorIs(t, err, domain.ErrStaleQuote)

	// The bet stays locked; no partial writes.
	got, err := f.svc.Get(ctx, bet.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BetStateLocked, got.State)
	assert.Nil(t, got.Winner)
}

func TestExpiredOracleBetPaysSeller(t *testing.T) {
	src := &staticSource{quote: domain.Quote{Price: big.NewInt(120), Timestamp: time.Date(2026, 3, 1, 11, 59, 0, 0, time.UTC)}}
	f := newFixture(t, src)
	ctx := context.Background()

	terms := domain.OptionTerms{
		Type:        domain.OptionCall,
		FeedAddress: feedAddr,
		StrikeWei:   big.NewInt(200),
		Expiration:  f.now.Add(time.Minute),
		Heartbeat:   time.Hour,
	}
	bet, err := f.svc.CreateOracle(ctx, alice, bob, terms)
	require.NoError(t, err)
	_, err = f.svc.Deposit(ctx, bet.ID, alice, big.NewInt(10))
	require.NoError(t, err)
	_, err = f.svc.Deposit(ctx, bet.ID, bob, big.NewInt(10))
	require.NoError(t, err)

	// Walk the clock past expiration; the feed now errors, which must not
	// block expiry settlement.
	f.now = f.now.Add(2 * time.Minute)
	src.err = context.DeadlineExceeded

	bet, err = f.svc.Resolve(ctx, bet.ID)
	require.NoError(t, err)
	require.NotNil(t, bet.Winner)
	assert.Equal(t, bob, *bet.Winner)

	events, err := f.svc.Events(ctx, bet.ID, domain.ListOpts{})
	require.NoError(t, err)
	last := events[len(events)-1]
	assert.Equal(t, true, last.Detail["expired"])
}

func TestFanOutPayloadShape(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	bet, err := f.svc.CreateManual(ctx, authority, alice, bob)
	require.NoError(t, err)
	_, err = f.svc.Deposit(ctx, bet.ID, alice, big.NewInt(5))
	require.NoError(t, err)

	msgs := f.bus.published[ChannelBets]
	require.Len(t, msgs, 2) // created + deposit

	var decoded struct {
		Event     string `json:"event"`
		BetID     string `json:"bet_id"`
		Type      string `json:"type"`
		AmountWei string `json:"amount_wei"`
	}
	require.NoError(t, json.Unmarshal(msgs[1], &decoded))
	assert.Equal(t, "bet_event", decoded.Event)
	assert.Equal(t, bet.ID, decoded.BetID)
	assert.Equal(t, string(domain.EventDeposit), decoded.Type)
	assert.Equal(t, "5", decoded.AmountWei)
}

func TestListFiltersByStateAndKind(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	open, err := f.svc.CreateManual(ctx, authority, alice, bob)
	require.NoError(t, err)
	locked := f.lockedManualBet(t)

	bets, err := f.svc.List(ctx, domain.BetFilter{State: domain.BetStateLocked}, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, bets, 1)
	assert.Equal(t, locked.ID, bets[0].ID)

	bets, err = f.svc.List(ctx, domain.BetFilter{State: domain.BetStateOpen}, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, bets, 1)
	assert.Equal(t, open.ID, bets[0].ID)
}

func TestEventsUnknownBet(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.svc.Events(context.Background(), "missing", domain.ListOpts{})
	require.ErrorIs(t, err, domain.ErrNotFound)
}
