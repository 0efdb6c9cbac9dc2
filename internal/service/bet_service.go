// Package service orchestrates the escrow state machine over the stores,
// the option mediator, and the signal/notification fan-out.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/mauricedesaxe/betme/internal/domain"
	"github.com/mauricedesaxe/betme/internal/escrow"
	"github.com/mauricedesaxe/betme/internal/mediator"
	"github.com/mauricedesaxe/betme/internal/notify"
)

// Channel and stream names for live event fan-out.
const (
	ChannelBets     = "bets"
	StreamBetEvents = "bet_events"
)

// BetService exposes every bet operation. All state changes go through
// BetStore.Mutate, so each call is atomic and serialized per bet.
type BetService struct {
	bets     domain.BetStore
	events   domain.BetEventStore
	audit    domain.AuditStore
	med      *mediator.OptionMediator
	bus      domain.SignalBus
	notifier *notify.Notifier
	logger   *slog.Logger
	now      func() time.Time
}

// NewBetService creates a BetService. bus and notifier may be nil, which
// disables the respective fan-out. The now function is injectable for tests;
// pass nil for the wall clock.
func NewBetService(
	bets domain.BetStore,
	events domain.BetEventStore,
	audit domain.AuditStore,
	med *mediator.OptionMediator,
	bus domain.SignalBus,
	notifier *notify.Notifier,
	logger *slog.Logger,
	now func() time.Time,
) *BetService {
	if now == nil {
		now = time.Now
	}
	return &BetService{
		bets:     bets,
		events:   events,
		audit:    audit,
		med:      med,
		bus:      bus,
		notifier: notifier,
		logger:   logger.With(slog.String("component", "bet_service")),
		now:      now,
	}
}

// CreateManual opens a bet whose winner will be called directly by the given
// authority.
func (s *BetService) CreateManual(ctx context.Context, authority, bettorA, bettorB common.Address) (domain.Bet, error) {
	id := uuid.New().String()
	bet, created, err := escrow.New(id, authority, bettorA, bettorB, domain.BetKindManual, nil, s.now().UTC())
	if err != nil {
		return domain.Bet{}, err
	}

	if err := s.bets.Create(ctx, bet, created); err != nil {
		return domain.Bet{}, err
	}

	s.logger.InfoContext(ctx, "bet created",
		slog.String("bet_id", bet.ID),
		slog.String("kind", string(bet.Kind)),
	)
	s.fanOut(ctx, bet, []domain.BetEvent{created})
	s.auditLog(ctx, "bet_created", map[string]any{"bet_id": bet.ID, "kind": string(bet.Kind)})
	return bet, nil
}

// CreateOracle opens an oracle-mediated bet. The buyer of the option becomes
// BettorA, the seller BettorB, and the authority is an address derived from
// the bet ID that no external caller can present. Terms are validated against
// a live feed read before anything is persisted.
func (s *BetService) CreateOracle(ctx context.Context, buyer, seller common.Address, terms domain.OptionTerms) (domain.Bet, error) {
	if s.med == nil {
		return domain.Bet{}, fmt.Errorf("service: oracle bets disabled: %w", domain.ErrNotOracleMediated)
	}
	if err := s.med.ValidateTerms(ctx, terms, buyer, seller); err != nil {
		return domain.Bet{}, err
	}

	id := uuid.New().String()
	authority := mediator.DeriveAddress(id)

	bet, created, err := escrow.New(id, authority, buyer, seller, domain.BetKindOracle, &terms, s.now().UTC())
	if err != nil {
		return domain.Bet{}, err
	}

	if err := s.bets.Create(ctx, bet, created); err != nil {
		return domain.Bet{}, err
	}

	s.logger.InfoContext(ctx, "oracle bet created",
		slog.String("bet_id", bet.ID),
		slog.String("option", string(terms.Type)),
		slog.String("feed", terms.FeedAddress.Hex()),
		slog.String("strike_wei", terms.StrikeWei.String()),
		slog.Time("expiration", terms.Expiration),
	)
	s.fanOut(ctx, bet, []domain.BetEvent{created})
	s.auditLog(ctx, "bet_created", map[string]any{
		"bet_id": bet.ID,
		"kind":   string(bet.Kind),
		"option": string(terms.Type),
	})
	return bet, nil
}

// Deposit adds to the caller's stake; the bet locks automatically when both
// stakes match.
func (s *BetService) Deposit(ctx context.Context, id string, caller common.Address, amount *big.Int) (domain.Bet, error) {
	var emitted []domain.BetEvent
	bet, err := s.bets.Mutate(ctx, id, func(bet *domain.Bet) ([]domain.BetEvent, error) {
		events, err := escrow.Deposit(bet, caller, amount, s.now().UTC())
		if err != nil {
			return nil, err
		}
		emitted = events
		return events, nil
	})
	if err != nil {
		return domain.Bet{}, err
	}

	s.fanOut(ctx, bet, emitted)
	for _, e := range emitted {
		if e.Type == domain.EventLocked {
			s.logger.InfoContext(ctx, "bet locked",
				slog.String("bet_id", bet.ID),
				slog.String("pool_wei", bet.Pool().String()),
			)
			s.notify(ctx, "bet_locked", "Bet locked",
				fmt.Sprintf("Bet %s locked with a pool of %s wei.", bet.ID, bet.Pool().String()))
		}
	}
	return bet, nil
}

// SelectWinner records the authority's decision on a manual bet.
func (s *BetService) SelectWinner(ctx context.Context, id string, caller, candidate common.Address) (domain.Bet, error) {
	var emitted []domain.BetEvent
	bet, err := s.bets.Mutate(ctx, id, func(bet *domain.Bet) ([]domain.BetEvent, error) {
		events, err := escrow.SelectWinner(bet, caller, candidate, s.now().UTC())
		if err != nil {
			return nil, err
		}
		emitted = events
		return events, nil
	})
	if err != nil {
		return domain.Bet{}, err
	}

	s.logger.InfoContext(ctx, "winner selected",
		slog.String("bet_id", bet.ID),
		slog.String("winner", candidate.Hex()),
	)
	s.fanOut(ctx, bet, emitted)
	s.notify(ctx, "bet_resolved", "Winner selected",
		fmt.Sprintf("Bet %s resolved in favor of %s.", bet.ID, candidate.Hex()))
	s.auditLog(ctx, "winner_selected", map[string]any{
		"bet_id": bet.ID,
		"caller": caller.Hex(),
		"winner": candidate.Hex(),
	})
	return bet, nil
}

// Withdraw pays the pool to the winner and settles the bet. The returned
// amount is what the payment substrate must credit to the caller.
func (s *BetService) Withdraw(ctx context.Context, id string, caller common.Address) (domain.Bet, *big.Int, error) {
	var (
		emitted []domain.BetEvent
		payout  *big.Int
	)
	bet, err := s.bets.Mutate(ctx, id, func(bet *domain.Bet) ([]domain.BetEvent, error) {
		events, amount, err := escrow.Withdraw(bet, caller, s.now().UTC())
		if err != nil {
			return nil, err
		}
		emitted = events
		payout = amount
		return events, nil
	})
	if err != nil {
		return domain.Bet{}, nil, err
	}

	s.logger.InfoContext(ctx, "bet settled",
		slog.String("bet_id", bet.ID),
		slog.String("payout_wei", payout.String()),
		slog.String("winner", caller.Hex()),
	)
	s.fanOut(ctx, bet, emitted)
	s.notify(ctx, "bet_settled", "Bet settled",
		fmt.Sprintf("Bet %s settled; %s wei paid to %s.", bet.ID, payout.String(), caller.Hex()))
	s.auditLog(ctx, "bet_settled", map[string]any{
		"bet_id":     bet.ID,
		"payout_wei": payout.String(),
		"winner":     caller.Hex(),
	})
	return bet, payout, nil
}

// Resolve asks the option mediator to decide an oracle bet and, if a winner
// exists, records it under the bet's derived authority. Callable by anyone;
// the decision depends only on the feed and the clock. Bets with no winner
// yet return domain.ErrNoWinnerYet and callers retry later.
func (s *BetService) Resolve(ctx context.Context, id string) (domain.Bet, error) {
	if s.med == nil {
		return domain.Bet{}, domain.ErrNotOracleMediated
	}

	var emitted []domain.BetEvent
	bet, err := s.bets.Mutate(ctx, id, func(bet *domain.Bet) ([]domain.BetEvent, error) {
		if bet.Kind != domain.BetKindOracle {
			return nil, domain.ErrNotOracleMediated
		}

		winner, quote, err := s.med.Decide(ctx, bet)
		if err != nil {
			return nil, err
		}

		now := s.now().UTC()
		events, err := escrow.SelectWinner(bet, bet.Authority, winner, now)
		if err != nil {
			return nil, err
		}

		detail := map[string]any{"winner": winner.Hex()}
		if quote != nil {
			detail["price_wei"] = quote.Price.String()
			detail["quote_at"] = quote.Timestamp.Format(time.RFC3339)
		} else {
			detail["expired"] = true
		}
		events = append(events, domain.BetEvent{
			BetID:     bet.ID,
			Type:      domain.EventResolved,
			Actor:     bet.Authority,
			Detail:    detail,
			CreatedAt: now,
		})
		emitted = events
		return events, nil
	})
	if err != nil {
		return domain.Bet{}, err
	}

	s.logger.InfoContext(ctx, "oracle bet resolved",
		slog.String("bet_id", bet.ID),
		slog.String("winner", bet.Winner.Hex()),
	)
	s.fanOut(ctx, bet, emitted)
	s.notify(ctx, "bet_resolved", "Oracle bet resolved",
		fmt.Sprintf("Bet %s resolved in favor of %s.", bet.ID, bet.Winner.Hex()))
	s.auditLog(ctx, "bet_resolved", map[string]any{
		"bet_id": bet.ID,
		"winner": bet.Winner.Hex(),
	})
	return bet, nil
}

// Get returns a single bet.
func (s *BetService) Get(ctx context.Context, id string) (domain.Bet, error) {
	return s.bets.GetByID(ctx, id)
}

// List returns bets matching the filter.
func (s *BetService) List(ctx context.Context, filter domain.BetFilter, opts domain.ListOpts) ([]domain.Bet, error) {
	return s.bets.List(ctx, filter, opts)
}

// Events returns a bet's event log in sequence order. The bet must exist.
func (s *BetService) Events(ctx context.Context, id string, opts domain.ListOpts) ([]domain.BetEvent, error) {
	if _, err := s.bets.GetByID(ctx, id); err != nil {
		return nil, err
	}
	return s.events.ListByBet(ctx, id, opts)
}

// betEventMessage is the wire form of a bet event on the signal bus.
type betEventMessage struct {
	Event     string              `json:"event"`
	BetID     string              `json:"bet_id"`
	State     domain.BetState     `json:"state"`
	Type      domain.BetEventType `json:"type"`
	Actor     string              `json:"actor"`
	AmountWei string              `json:"amount_wei,omitempty"`
	Detail    map[string]any      `json:"detail,omitempty"`
	CreatedAt time.Time           `json:"created_at"`
}

// fanOut mirrors events onto the pub/sub channel and the durable stream.
// Fan-out failures are logged, never returned; the state change has already
// committed.
func (s *BetService) fanOut(ctx context.Context, bet domain.Bet, events []domain.BetEvent) {
	if s.bus == nil {
		return
	}
	for _, e := range events {
		msg := betEventMessage{
			Event:     "bet_event",
			BetID:     bet.ID,
			State:     bet.State,
			Type:      e.Type,
			Actor:     e.Actor.Hex(),
			Detail:    e.Detail,
			CreatedAt: e.CreatedAt,
		}
		if e.AmountWei != nil {
			msg.AmountWei = e.AmountWei.String()
		}
		payload, err := json.Marshal(msg)
		if err != nil {
			s.logger.WarnContext(ctx, "marshal bet event failed",
				slog.String("bet_id", bet.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		if err := s.bus.Publish(ctx, ChannelBets, payload); err != nil {
			s.logger.WarnContext(ctx, "publish bet event failed",
				slog.String("bet_id", bet.ID),
				slog.String("error", err.Error()),
			)
		}
		if err := s.bus.StreamAppend(ctx, StreamBetEvents, payload); err != nil {
			s.logger.WarnContext(ctx, "stream bet event failed",
				slog.String("bet_id", bet.ID),
				slog.String("error", err.Error()),
			)
		}
	}
}

func (s *BetService) notify(ctx context.Context, event, title, message string) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, event, title, message); err != nil {
		s.logger.WarnContext(ctx, "notification failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

func (s *BetService) auditLog(ctx context.Context, event string, detail map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Log(ctx, event, detail); err != nil {
		s.logger.WarnContext(ctx, "audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}
