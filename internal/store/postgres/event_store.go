package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mauricedesaxe/betme/internal/domain"
)

// BetEventStore implements domain.BetEventStore using PostgreSQL.
type BetEventStore struct {
	pool *pgxpool.Pool
}

// NewBetEventStore creates a new BetEventStore backed by the given pool.
func NewBetEventStore(pool *pgxpool.Pool) *BetEventStore {
	return &BetEventStore{pool: pool}
}

// ListByBet returns a bet's events in sequence order.
func (s *BetEventStore) ListByBet(ctx context.Context, betID string, opts domain.ListOpts) ([]domain.BetEvent, error) {
	query := `
		SELECT bet_id, seq, type, actor, amount_wei::text, detail, created_at
		FROM bet_events
		WHERE bet_id = $1
		ORDER BY seq ASC`
	args := []any{betID}
	argIdx := 2

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
		return nil, fmt.Errorf("postgres: list bet events %s: %w", betID, err)
	}
	defer rows.Close()

	var events []domain.BetEvent
	for rows.Next() {
		var (
			e          domain.BetEvent
			typ, actor string
			amount     *string
			detailJSON []byte
		)
		if err := rows.Scan(&e.BetID, &e.Seq, &typ, &actor, &amount, &detailJSON, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan bet event: %w", err)
		}

		e.Type = domain.BetEventType(typ)
		e.Actor = common.HexToAddress(actor)
		if amount != nil {
			v, ok := new(big.Int).SetString(*amount, 10)
			if !ok {
				return nil, fmt.Errorf("postgres: parse event amount %q", *amount)
			}
			e.AmountWei = v
		}
		if detailJSON != nil {
			if err := json.Unmarshal(detailJSON, &e.Detail); err != nil {
				return nil, fmt.Errorf("postgres: unmarshal event detail: %w", err)
			}
		}

		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list bet events rows: %w", err)
	}
	return events, nil
}

// Compile-time interface check.
var _ domain.BetEventStore = (*BetEventStore)(nil)
