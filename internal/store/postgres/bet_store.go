package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mauricedesaxe/betme/internal/domain"
)

// BetStore implements domain.BetStore using PostgreSQL.
//
// Mutate takes a SELECT FOR UPDATE row lock on the bet, so concurrent state
// changes to the same bet serialize at the database and each one sees the
// result of the previous. Wei amounts are stored as NUMERIC(78,0) and scanned
// through text to preserve big.Int fidelity.
type BetStore struct {
	pool *pgxpool.Pool
}

// NewBetStore creates a new BetStore backed by the given connection pool.
func NewBetStore(pool *pgxpool.Pool) *BetStore {
	return &BetStore{pool: pool}
}

const betColumns = `
	id, kind, state, authority, bettor_a, bettor_b,
	stake_a::text, stake_b::text, held_wei::text, winner,
	option_type, feed_address, strike_wei::text, expiration, heartbeat_seconds,
	created_at, updated_at`

// Create inserts a new bet together with its creation event in one
// transaction.
func (s *BetStore) Create(ctx context.Context, bet domain.Bet, created domain.BetEvent) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin create bet: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := insertBet(ctx, tx, bet); err != nil {
		return err
	}
	created.BetID = bet.ID
	created.Seq = 1
	if err := insertEvent(ctx, tx, created); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit create bet: %w", err)
	}
	return nil
}

// GetByID returns a single bet, or domain.ErrNotFound.
func (s *BetStore) GetByID(ctx context.Context, id string) (domain.Bet, error) {
	row := s.pool.QueryRow(ctx, `SELECT`+betColumns+` FROM bets WHERE id = $1`, id)
	bet, err := scanBet(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Bet{}, domain.ErrNotFound
		}
		return domain.Bet{}, fmt.Errorf("postgres: get bet %s: %w", id, err)
	}
	return bet, nil
}

// List returns bets matching the filter, newest first.
func (s *BetStore) List(ctx context.Context, filter domain.BetFilter, opts domain.ListOpts) ([]domain.Bet, error) {
	query := `SELECT` + betColumns + ` FROM bets WHERE 1=1`
	args := []any{}
	argIdx := 1

	if filter.State != "" {
		query += fmt.Sprintf(" AND state = $%d", argIdx)
		args = append(args, string(filter.State))
		argIdx++
	}
	if filter.Kind != "" {
		query += fmt.Sprintf(" AND kind = $%d", argIdx)
		args = append(args, string(filter.Kind))
		argIdx++
	}
	if opts.Since != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY created_at DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list bets: %w", err)
	}
	defer rows.Close()

	var bets []domain.Bet
	for rows.Next() {
		bet, err := scanBet(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan bet: %w", err)
		}
		bets = append(bets, bet)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list bets rows: %w", err)
	}
	return bets, nil
}

// Mutate loads the bet under a row lock, applies fn, and persists the result
// with any events fn emitted, all in one transaction. Errors from fn roll the
// transaction back and propagate unchanged.
func (s *BetStore) Mutate(ctx context.Context, id string, fn func(bet *domain.Bet) ([]domain.BetEvent, error)) (domain.Bet, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return domain.Bet{}, fmt.Errorf("postgres: begin mutate bet: %w", err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `SELECT`+betColumns+` FROM bets WHERE id = $1 FOR UPDATE`, id)
	bet, err := scanBet(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Bet{}, domain.ErrNotFound
		}
		return domain.Bet{}, fmt.Errorf("postgres: lock bet %s: %w", id, err)
	}

	events, err := fn(&bet)
	if err != nil {
		return domain.Bet{}, err
	}

	if err := updateBet(ctx, tx, bet); err != nil {
		return domain.Bet{}, err
	}

	if len(events) > 0 {
		var lastSeq int
		err := tx.QueryRow(ctx,
			`SELECT COALESCE(MAX(seq), 0) FROM bet_events WHERE bet_id = $1`, id,
		).Scan(&lastSeq)
		if err != nil {
			return domain.Bet{}, fmt.Errorf("postgres: next event seq for %s: %w", id, err)
		}
		for i := range events {
			events[i].BetID = id
			events[i].Seq = lastSeq + 1 + i
			if err := insertEvent(ctx, tx, events[i]); err != nil {
				return domain.Bet{}, err
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.Bet{}, fmt.Errorf("postgres: commit mutate bet %s: %w", id, err)
	}
	return bet, nil
}

// ListSettledBefore returns settled bets last touched strictly before the
// cutoff, oldest first.
func (s *BetStore) ListSettledBefore(ctx context.Context, before time.Time, limit int) ([]domain.Bet, error) {
	query := `SELECT` + betColumns + `
		FROM bets
		WHERE state = $1 AND updated_at < $2
		ORDER BY updated_at ASC`
	args := []any{string(domain.BetStateSettled), before}
	if limit > 0 {
		query += " LIMIT $3"
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list settled bets: %w", err)
	}
	defer rows.Close()

	var bets []domain.Bet
	for rows.Next() {
		bet, err := scanBet(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan settled bet: %w", err)
		}
		bets = append(bets, bet)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list settled bets rows: %w", err)
	}
	return bets, nil
}

func insertBet(ctx context.Context, tx pgx.Tx, bet domain.Bet) error {
	const query = `
		INSERT INTO bets (
			id, kind, state, authority, bettor_a, bettor_b,
			stake_a, stake_b, held_wei, winner,
			option_type, feed_address, strike_wei, expiration, heartbeat_seconds,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7::numeric, $8::numeric, $9::numeric, $10,
			$11, $12, $13::numeric, $14, $15,
			$16, $17
		)`

	var winner *string
	if bet.Winner != nil {
		w := bet.Winner.Hex()
		winner = &w
	}

	var optType, feedAddr, strike *string
	var expiration *time.Time
	var heartbeat *int64
	if bet.Option != nil {
		t := string(bet.Option.Type)
		optType = &t
		f := bet.Option.FeedAddress.Hex()
		feedAddr = &f
		sw := bet.Option.StrikeWei.String()
		strike = &sw
		exp := bet.Option.Expiration
		expiration = &exp
		hb := int64(bet.Option.Heartbeat / time.Second)
		heartbeat = &hb
	}

	_, err := tx.Exec(ctx, query,
		bet.ID, string(bet.Kind), string(bet.State),
		bet.Authority.Hex(), bet.BettorA.Hex(), bet.BettorB.Hex(),
		bet.StakeA.String(), bet.StakeB.String(), bet.HeldWei.String(), winner,
		optType, feedAddr, strike, expiration, heartbeat,
		bet.CreatedAt, bet.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert bet %s: %w", bet.ID, err)
	}
	return nil
}

func updateBet(ctx context.Context, tx pgx.Tx, bet domain.Bet) error {
	const query = `
		UPDATE bets SET
			state = $2,
			stake_a = $3::numeric,
			stake_b = $4::numeric,
			held_wei = $5::numeric,
			winner = $6,
			updated_at = $7
		WHERE id = $1`

	var winner *string
	if bet.Winner != nil {
		w := bet.Winner.Hex()
		winner = &w
	}

	_, err := tx.Exec(ctx, query,
		bet.ID, string(bet.State),
		bet.StakeA.String(), bet.StakeB.String(), bet.HeldWei.String(),
		winner, bet.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: update bet %s: %w", bet.ID, err)
	}
	return nil
}

func insertEvent(ctx context.Context, tx pgx.Tx, e domain.BetEvent) error {
	const query = `
		INSERT INTO bet_events (bet_id, seq, type, actor, amount_wei, detail, created_at)
		VALUES ($1, $2, $3, $4, $5::numeric, $6, $7)`

	var amount *string
	if e.AmountWei != nil {
		a := e.AmountWei.String()
		amount = &a
	}

	var detailJSON []byte
	if e.Detail != nil {
		var err error
		detailJSON, err = json.Marshal(e.Detail)
		if err != nil {
			return fmt.Errorf("postgres: marshal event detail: %w", err)
		}
	}

	_, err := tx.Exec(ctx, query,
		e.BetID, e.Seq, string(e.Type), e.Actor.Hex(), amount, detailJSON, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert bet event %s/%d: %w", e.BetID, e.Seq, err)
	}
	return nil
}

// rowScanner is satisfied by both pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanBet(row rowScanner) (domain.Bet, error) {
	var (
		bet                         domain.Bet
		kind, state                 string
		authority, bettorA, bettorB string
		stakeA, stakeB, heldWei     string
		winner, optType, feedAddr   *string
		strike                      *string
		expiration                  *time.Time
		heartbeatSec                *int64
	)

	err := row.Scan(
		&bet.ID, &kind, &state, &authority, &bettorA, &bettorB,
		&stakeA, &stakeB, &heldWei, &winner,
		&optType, &feedAddr, &strike, &expiration, &heartbeatSec,
		&bet.CreatedAt, &bet.UpdatedAt,
	)
	if err != nil {
		return domain.Bet{}, err
	}

	bet.Kind = domain.BetKind(kind)
	bet.State = domain.BetState(state)
	bet.Authority = common.HexToAddress(authority)
	bet.BettorA = common.HexToAddress(bettorA)
	bet.BettorB = common.HexToAddress(bettorB)

	if bet.StakeA, err = parseWei(stakeA); err != nil {
		return domain.Bet{}, fmt.Errorf("stake_a: %w", err)
	}
	if bet.StakeB, err = parseWei(stakeB); err != nil {
		return domain.Bet{}, fmt.Errorf("stake_b: %w", err)
	}
	if bet.HeldWei, err = parseWei(heldWei); err != nil {
		return domain.Bet{}, fmt.Errorf("held_wei: %w", err)
	}

	if winner != nil {
		w := common.HexToAddress(*winner)
		bet.Winner = &w
	}

	if optType != nil {
		opt := &domain.OptionTerms{Type: domain.OptionType(*optType)}
		if feedAddr != nil {
			opt.FeedAddress = common.HexToAddress(*feedAddr)
		}
		if strike != nil {
			if opt.StrikeWei, err = parseWei(*strike); err != nil {
				return domain.Bet{}, fmt.Errorf("strike_wei: %w", err)
			}
		}
		if expiration != nil {
			opt.Expiration = expiration.UTC()
		}
		if heartbeatSec != nil {
			opt.Heartbeat = time.Duration(*heartbeatSec) * time.Second
		}
		bet.Option = opt
	}

	return bet, nil
}

func parseWei(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("parse wei %q", s)
	}
	return v, nil
}

// Compile-time interface check.
var _ domain.BetStore = (*BetStore)(nil)
