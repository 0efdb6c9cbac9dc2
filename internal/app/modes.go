package app

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mauricedesaxe/betme/internal/pipeline"
	"github.com/mauricedesaxe/betme/internal/resolver"
	"github.com/mauricedesaxe/betme/internal/server"
	"github.com/mauricedesaxe/betme/internal/server/handler"
	"github.com/mauricedesaxe/betme/internal/server/ws"
)

// ServerMode runs the HTTP/WebSocket API without the oracle resolver. Bets
// can be created, deposited into, and manually resolved; oracle-mediated bets
// can still be resolved through the resolve endpoint.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)

	a.startHTTPServer(ctx, g, deps)
	a.startArchiver(ctx, g, deps)

	return g.Wait()
}

// ResolverMode runs only the oracle resolver poller. Use this for a headless
// worker deployment alongside one or more server-mode instances.
func (a *App) ResolverMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting resolver mode")

	g, ctx := errgroup.WithContext(ctx)

	if err := a.startResolver(ctx, g, deps); err != nil {
		return fmt.Errorf("resolver mode: %w", err)
	}
	a.startArchiver(ctx, g, deps)

	return g.Wait()
}

// FullMode runs everything in one process: the API server, the oracle
// resolver, and the archival loop when enabled.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)

	if err := a.startResolver(ctx, g, deps); err != nil {
		return fmt.Errorf("full mode: %w", err)
	}
	a.startHTTPServer(ctx, g, deps)
	a.startArchiver(ctx, g, deps)

	return g.Wait()
}

// startHTTPServer adds the API server and WebSocket hub goroutines to the
// given errgroup. The server is shut down gracefully when the context is
// cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if !a.cfg.Server.Enabled {
		a.logger.InfoContext(ctx, "HTTP server disabled by config")
		return
	}

	startedAt := time.Now().UTC()

	hub := ws.NewHub(deps.SignalBus, a.logger, ws.Config{
		Mode:      a.cfg.Mode,
		StartedAt: startedAt,
	})
	g.Go(func() error {
		return hub.Run(ctx)
	})

	pingers := map[string]handler.Pinger{
		"postgres": deps.PostgresClient,
		"redis":    deps.RedisClient,
	}
	if deps.S3Client != nil {
		pingers["s3"] = deps.S3Client
	}
	health := handler.NewHealthHandler(pingers, a.logger)
	status := handler.NewStatusHandler(a.cfg.Mode, deps.Mediator != nil, startedAt)
	bets := handler.NewBetHandler(deps.BetService, deps.OperatorAddress, a.logger)

	srv := server.NewServer(server.Config{
		Port:            a.cfg.Server.Port,
		CORSOrigins:     a.cfg.Server.CORSOrigins,
		APIKey:          a.cfg.Server.APIKey,
		RateLimit:       a.cfg.Server.RateLimit,
		RateLimitWindow: a.cfg.Server.RateLimitWindow.Duration,
	}, server.Handlers{
		Health: health,
		Status: status,
		Bets:   bets,
	}, hub, deps.RateLimiter, a.logger)

	g.Go(func() error {
		return srv.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

// startResolver adds the oracle resolver poller goroutine to the given
// errgroup. It fails fast when no price feed is configured, since a resolver
// without an oracle can never settle anything.
func (a *App) startResolver(ctx context.Context, g *errgroup.Group, deps *Dependencies) error {
	if deps.Mediator == nil {
		return fmt.Errorf("oracle resolver requires oracle.rpc_url")
	}

	poller := resolver.New(deps.BetService, deps.BetStore, deps.LockManager, resolver.Config{
		Interval:  a.cfg.Resolver.Interval.Duration,
		LockTTL:   a.cfg.Resolver.LockTTL.Duration,
		BatchSize: a.cfg.Resolver.BatchSize,
	}, a.logger)

	g.Go(func() error {
		return poller.Run(ctx)
	})
	return nil
}

// startArchiver adds the settled-bet archival loop to the given errgroup when
// archival is enabled and blob storage is wired.
func (a *App) startArchiver(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if !a.cfg.Archive.Enabled || deps.Archiver == nil {
		return
	}

	arch := pipeline.NewArchiver(deps.Archiver, a.cfg.Archive.RetentionDays, a.logger)
	interval := a.cfg.Archive.Interval.Duration

	g.Go(func() error {
		err := arch.RunLoop(ctx, interval)
		if ctx.Err() != nil {
			return nil
		}
		return err
	})
}
