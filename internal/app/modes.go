package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	s3blob "github.com/openpredict/predictd/internal/blob/s3"
	"github.com/openpredict/predictd/internal/liquidity"
	"github.com/openpredict/predictd/internal/registry"
	"github.com/openpredict/predictd/internal/server"
	"github.com/openpredict/predictd/internal/server/handler"
	"github.com/openpredict/predictd/internal/server/ws"
	"github.com/openpredict/predictd/internal/settlement"
	"github.com/openpredict/predictd/internal/trading"
)

// engines bundles the ledger engines built on top of the wired dependencies.
type engines struct {
	registry   *registry.Registry
	liquidity  *liquidity.Engine
	trading    *trading.Engine
	settlement *settlement.Engine
}

// buildEngines constructs the market registry and the three mutation engines
// from the configuration and shared dependencies.
func (a *App) buildEngines(deps *Dependencies) *engines {
	lc := a.cfg.Ledger
	return &engines{
		registry: registry.New(
			deps.Ledger, deps.MarketCache, deps.SignalBus, deps.Audit,
			registry.Config{
				MinDuration:    lc.MinDuration.Duration,
				MaxDuration:    lc.MaxDuration.Duration,
				MaxQuestionLen: lc.MaxQuestionLen,
			},
			a.logger,
		),
		liquidity: liquidity.New(
			deps.Ledger, deps.LockManager, deps.Custody, deps.MarketCache,
			deps.SignalBus, deps.Audit,
			liquidity.Config{LockTTL: lc.LockTTL.Duration},
			a.logger,
		),
		trading: trading.New(
			deps.Ledger, deps.LockManager, deps.Custody, deps.MarketCache,
			deps.SignalBus, deps.Audit,
			trading.Config{
				PlatformFeeBps: lc.PlatformFeeBps,
				LpFeeBps:       lc.LpFeeBps,
				LockTTL:        lc.LockTTL.Duration,
			},
			a.logger,
		),
		settlement: settlement.New(
			deps.Ledger, deps.LockManager, deps.Custody, deps.MarketCache,
			deps.SignalBus, deps.Audit,
			settlement.Config{LockTTL: lc.LockTTL.Duration},
			a.logger,
		),
	}
}

// runServer starts the HTTP API and the WebSocket hub, blocking until the
// context is cancelled.
func (a *App) runServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, eng *engines) {
	hub := ws.NewHub(deps.SignalBus, a.logger, ws.Config{
		Mode:      a.cfg.Mode,
		StartedAt: time.Now().UTC(),
	})
	g.Go(func() error {
		err := hub.Run(ctx)
		if err == context.Canceled {
			return nil
		}
		return err
	})

	handlers := server.Handlers{
		Health:     handler.NewHealthHandler(a.logger),
		Status:     handler.NewStatusHandler(a.cfg.Mode, eng.registry, a.logger),
		Markets:    handler.NewMarketHandler(eng.registry, deps.Ledger, a.logger),
		Liquidity:  handler.NewLiquidityHandler(eng.liquidity, a.logger),
		Trades:     handler.NewTradeHandler(eng.trading, a.logger),
		Settlement: handler.NewSettlementHandler(eng.settlement, a.logger),
		Accounts:   handler.NewAccountHandler(deps.Ledger, a.logger),
	}

	srv := server.NewServer(server.Config{
		Port:            a.cfg.Server.Port,
		CORSOrigins:     a.cfg.Server.CORSOrigins,
		APIKey:          a.cfg.Server.APIKey,
		RateLimit:       a.cfg.Server.RateLimit,
		RateLimitWindow: a.cfg.Server.RateLimitWindow.Duration,
	}, handlers, hub, deps.RateLimiter, a.logger)

	g.Go(func() error {
		return srv.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}

// runArchiver starts the periodic cold-storage sweep, blocking until the
// context is cancelled.
func (a *App) runArchiver(ctx context.Context, g *errgroup.Group, deps *Dependencies) error {
	if deps.BlobWriter == nil {
		return fmt.Errorf("app: archiver requires s3 configuration")
	}

	archiver := s3blob.NewArchiver(deps.BlobWriter, deps.Ledger, deps.Audit, a.logger)
	interval := a.cfg.Archive.Interval.Duration
	retention := time.Duration(a.cfg.Archive.RetentionDays) * 24 * time.Hour
	batch := a.cfg.Archive.BatchSize

	g.Go(func() error {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				cutoff := time.Now().UTC().Add(-retention)
				n, err := archiver.ArchiveResolved(ctx, cutoff, batch)
				if err != nil {
					a.logger.ErrorContext(ctx, "archive sweep failed",
						slog.String("error", err.Error()),
					)
					continue
				}
				if n > 0 {
					a.logger.InfoContext(ctx, "archive sweep finished",
						slog.Int64("markets", n),
					)
				}
			}
		}
	})
	return nil
}

// ServerMode runs only the HTTP + WebSocket API.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)
	a.runServer(ctx, g, deps, a.buildEngines(deps))
	return g.Wait()
}

// ArchiveMode runs only the cold-storage sweep.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting archive mode")

	g, ctx := errgroup.WithContext(ctx)
	if err := a.runArchiver(ctx, g, deps); err != nil {
		return err
	}
	return g.Wait()
}

// FullMode runs the API server and the archive sweep together.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)
	a.runServer(ctx, g, deps, a.buildEngines(deps))
	if a.cfg.Archive.Enabled {
		if err := a.runArchiver(ctx, g, deps); err != nil {
			return err
		}
	}
	return g.Wait()
}
