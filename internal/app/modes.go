package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/quayside-labs/swapsentinel/internal/crypto"
	"github.com/quayside-labs/swapsentinel/internal/domain"
	"github.com/quayside-labs/swapsentinel/internal/feed"
	"github.com/quayside-labs/swapsentinel/internal/monitor"
	"github.com/quayside-labs/swapsentinel/internal/server"
	"github.com/quayside-labs/swapsentinel/internal/server/handler"
	"github.com/quayside-labs/swapsentinel/internal/service"
	"github.com/quayside-labs/swapsentinel/internal/swap"
)

// archiveInterval is how often the archival pass runs in run mode.
const archiveInterval = 24 * time.Hour

// RunMode wires the full scheduler: price feed, monitor loop (autostarted),
// archival pass, and the HTTP API. With paper=true the executor is forced to
// simulated fills regardless of the configured kind.
func (a *App) RunMode(ctx context.Context, deps *Dependencies, paper bool) error {
	g, ctx := errgroup.WithContext(ctx)

	priceFeed := a.buildFeed(ctx, g, deps)

	executor, err := a.buildExecutor(ctx, paper)
	if err != nil {
		return fmt.Errorf("app: build executor: %w", err)
	}

	mon, err := a.buildMonitor(deps, priceFeed, executor)
	if err != nil {
		return fmt.Errorf("app: build monitor: %w", err)
	}

	g.Go(func() error {
		return mon.Run(ctx)
	})

	// Periodic archival of settled orders.
	if deps.Archiver != nil {
		retention := time.Duration(a.cfg.S3.RetentionDays) * 24 * time.Hour
		g.Go(func() error {
			return a.archiveLoop(ctx, deps.Archiver, retention)
		})
	}

	if a.cfg.Server.Enabled {
		a.startServer(ctx, g, deps, priceFeed, mon)
	}

	return g.Wait()
}

// ServerMode hosts the HTTP API without autostarting the scheduling loop;
// operators start it through the control plane.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	if !a.cfg.Server.Enabled {
		return fmt.Errorf("app: server mode requires server.enabled = true")
	}

	g, ctx := errgroup.WithContext(ctx)

	priceFeed := a.buildFeed(ctx, g, deps)

	executor, err := a.buildExecutor(ctx, false)
	if err != nil {
		return fmt.Errorf("app: build executor: %w", err)
	}

	mon, err := a.buildMonitor(deps, priceFeed, executor)
	if err != nil {
		return fmt.Errorf("app: build monitor: %w", err)
	}

	a.startServer(ctx, g, deps, priceFeed, mon)

	return g.Wait()
}

// buildFeed assembles the price feed: REST quotes, optionally fronted by the
// redis cache kept warm by the streaming ticker.
func (a *App) buildFeed(ctx context.Context, g *errgroup.Group, deps *Dependencies) domain.PriceFeed {
	rest := feed.NewRESTFeed(a.cfg.Feed.BaseURL)

	if a.cfg.Feed.WSURL == "" {
		return rest
	}

	ticker := feed.NewWSTicker(a.cfg.Feed.WSURL, a.cfg.Feed.Pair, deps.PriceCache, a.logger)
	g.Go(func() error {
		defer ticker.Close()
		return ticker.Run(ctx)
	})

	return feed.NewCachedFeed(deps.PriceCache, rest, a.cfg.Feed.MaxStale.Duration, a.logger)
}

// buildExecutor selects the execution backend. Paper mode and kind "paper"
// both yield simulated fills.
func (a *App) buildExecutor(ctx context.Context, paper bool) (domain.SwapExecutor, error) {
	if paper || a.cfg.Executor.Kind == "paper" {
		return swap.NewPaperExecutor(a.logger), nil
	}

	keyHex, err := crypto.LoadWalletKey(crypto.KeySource{
		RawPrivateKey:   a.cfg.Wallet.PrivateKey,
		KeyfilePath:     a.cfg.Wallet.EncryptedKeyPath,
		KeyfilePassword: a.cfg.Wallet.KeyPassword,
	})
	if err != nil {
		return nil, err
	}

	exec, err := swap.NewEVMExecutor(ctx, a.cfg.Executor, keyHex, a.logger)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func() { _ = exec.Close() })
	return exec, nil
}

// buildMonitor assembles the coordinator and the scheduling loop.
func (a *App) buildMonitor(deps *Dependencies, priceFeed domain.PriceFeed, executor domain.SwapExecutor) (*monitor.Monitor, error) {
	coord := monitor.NewCoordinator(
		deps.OrderStore, executor, deps.AuditStore, deps.Notifier, a.logger,
	)
	return monitor.New(
		deps.OrderStore,
		priceFeed,
		coord,
		deps.LockManager,
		deps.AuditStore,
		deps.Notifier,
		a.cfg.Feed.Pair,
		monitor.Params{
			PollInterval:            a.cfg.Monitor.PollInterval.Duration,
			MaxConcurrentExecutions: a.cfg.Monitor.MaxConcurrentExecutions,
			ExecutionTimeout:        a.cfg.Monitor.ExecutionTimeout.Duration,
			RecoveryGrace:           a.cfg.Monitor.RecoveryGrace.Duration,
			RecoveryEveryTicks:      a.cfg.Monitor.RecoveryEveryTicks,
		},
		a.logger,
	)
}

// startServer builds the handlers and runs the HTTP server under the group,
// shutting it down when the context is cancelled.
func (a *App) startServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, priceFeed domain.PriceFeed, mon *monitor.Monitor) {
	orderSvc := service.NewOrderService(
		deps.OrderStore, priceFeed, deps.RateLimiter, deps.AuditStore, a.cfg.Orders, a.logger,
	)

	handlers := server.Handlers{
		Health:  handler.NewHealthHandler(a.logger),
		Orders:  handler.NewOrderHandler(orderSvc, a.logger),
		Monitor: handler.NewMonitorHandler(mon, a.logger),
		Audit:   handler.NewAuditHandler(deps.AuditStore, a.logger),
	}

	srv := server.NewServer(a.cfg.Server, handlers, a.logger)

	g.Go(func() error {
		return srv.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return ctx.Err()
	})
}

// archiveLoop periodically exports terminal orders older than the retention
// window to blob storage.
func (a *App) archiveLoop(ctx context.Context, archiver domain.Archiver, retention time.Duration) error {
	ticker := time.NewTicker(archiveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			cutoff := time.Now().UTC().Add(-retention)
			count, err := archiver.ArchiveOrders(ctx, cutoff)
			if err != nil {
				a.logger.ErrorContext(ctx, "archive pass failed",
					slog.String("error", err.Error()),
				)
				continue
			}
			if count > 0 {
				a.logger.InfoContext(ctx, "archived settled orders",
					slog.Int64("count", count),
					slog.Time("cutoff", cutoff),
				)
			}
		}
	}
}
