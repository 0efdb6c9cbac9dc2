// Package resolver drives oracle bet resolution. A poller sweeps locked
// oracle bets on an interval and asks the bet service to resolve each one,
// using distributed locks so multiple instances never work the same bet.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mauricedesaxe/betme/internal/domain"
	"github.com/mauricedesaxe/betme/internal/service"
)

// Config holds poller tuning.
type Config struct {
	// Interval between sweeps.
	Interval time.Duration
	// LockTTL bounds how long a per-bet resolve lock is held.
	LockTTL time.Duration
	// BatchSize caps how many locked bets one sweep examines.
	BatchSize int
}

// Poller periodically resolves oracle bets that have locked.
type Poller struct {
	svc    *service.BetService
	bets   domain.BetStore
	locks  domain.LockManager
	cfg    Config
	logger *slog.Logger
}

// New creates a Poller. locks may be nil for single-instance deployments.
func New(svc *service.BetService, bets domain.BetStore, locks domain.LockManager, cfg Config, logger *slog.Logger) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = 15 * time.Second
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 30 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	return &Poller{
		svc:    svc,
		bets:   bets,
		locks:  locks,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "resolver")),
	}
}

// Run sweeps until the context is cancelled. It always returns ctx.Err().
func (p *Poller) Run(ctx context.Context) error {
	p.logger.InfoContext(ctx, "resolver started",
		slog.Duration("interval", p.cfg.Interval),
	)

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.InfoContext(ctx, "resolver stopped")
			return ctx.Err()
		case <-ticker.C:
			p.sweep(ctx)
		}
	}
}

// sweep examines locked oracle bets and tries to resolve each one. Per-bet
// failures never abort the sweep.
func (p *Poller) sweep(ctx context.Context) {
	filter := domain.BetFilter{
		State: domain.BetStateLocked,
		Kind:  domain.BetKindOracle,
	}
	bets, err := p.bets.List(ctx, filter, domain.ListOpts{Limit: p.cfg.BatchSize})
	if err != nil {
		p.logger.ErrorContext(ctx, "list locked oracle bets failed",
			slog.String("error", err.Error()),
		)
		return
	}

	for _, bet := range bets {
		if ctx.Err() != nil {
			return
		}
		p.resolveOne(ctx, bet.ID)
	}
}

func (p *Poller) resolveOne(ctx context.Context, betID string) {
	if p.locks != nil {
		unlock, err := p.locks.Acquire(ctx, fmt.Sprintf("resolve:%s", betID), p.cfg.LockTTL)
		if err != nil {
			if errors.Is(err, domain.ErrLockHeld) {
				return
			}
			p.logger.WarnContext(ctx, "acquire resolve lock failed",
				slog.String("bet_id", betID),
				slog.String("error", err.Error()),
			)
			return
		}
		defer unlock()
	}

	_, err := p.svc.Resolve(ctx, betID)
	switch {
	case err == nil:
		// Resolved; the service already logged and notified.
	case errors.Is(err, domain.ErrNoWinnerYet):
		p.logger.DebugContext(ctx, "no winner yet",
			slog.String("bet_id", betID),
		)
	case errors.Is(err, domain.ErrStaleQuote):
		p.logger.DebugContext(ctx, "quote stale, retrying next sweep",
			slog.String("bet_id", betID),
		)
	case errors.Is(err, domain.ErrWinnerAlreadySet):
		// Another instance won the race between List and Mutate.
	default:
		p.logger.ErrorContext(ctx, "resolve failed",
			slog.String("bet_id", betID),
			slog.String("error", err.Error()),
		)
	}
}
