package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// BetFilter narrows bet list queries.
type BetFilter struct {
	State BetState // empty matches all states
	Kind  BetKind  // empty matches all kinds
}

// BetStore persists bets and their event logs.
//
// Mutate is the single-writer entry point for every state change: it loads
// the bet under a row lock, applies fn, and persists the updated bet together
// with the events fn returned in one transaction. If fn returns an error the
// whole operation rolls back and the error is returned unchanged, so callers
// can match domain sentinels with errors.Is.
type BetStore interface {
	Create(ctx context.Context, bet Bet, created BetEvent) error
	GetByID(ctx context.Context, id string) (Bet, error)
	List(ctx context.Context, filter BetFilter, opts ListOpts) ([]Bet, error)
	Mutate(ctx context.Context, id string, fn func(bet *Bet) ([]BetEvent, error)) (Bet, error)

	// ListSettledBefore returns settled bets whose last update is strictly
	// before the cutoff, for archival.
	ListSettledBefore(ctx context.Context, before time.Time, limit int) ([]Bet, error)
}

// BetEventStore reads bet event logs.
type BetEventStore interface {
	ListByBet(ctx context.Context, betID string, opts ListOpts) ([]BetEvent, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only operational audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
