package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/forecasthq/marketd/internal/server"
	"github.com/forecasthq/marketd/internal/server/handler"
	"github.com/forecasthq/marketd/internal/server/ws"
	"github.com/forecasthq/marketd/internal/service"
)

// shutdownGrace bounds how long in-flight HTTP requests may run after the
// context is cancelled.
const shutdownGrace = 5 * time.Second

// ServerMode runs the HTTP + WebSocket API.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startAPI(ctx, g, deps)
	return g.Wait()
}

// ArchiveMode runs only the trade archival loop. Useful for a dedicated
// worker deployment that keeps the primary store lean without serving
// traffic.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting archive mode")

	g, ctx := errgroup.WithContext(ctx)
	if err := a.startArchiveLoop(ctx, g, deps); err != nil {
		return err
	}
	return g.Wait()
}

// FullMode runs the API and the archival loop in one process.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startAPI(ctx, g, deps)
	if err := a.startArchiveLoop(ctx, g, deps); err != nil {
		return err
	}
	return g.Wait()
}

// startAPI builds the service layer, registers all HTTP handlers, and adds
// the server and WebSocket hub goroutines to the errgroup.
func (a *App) startAPI(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	tradeSvc := service.NewTradeService(
		deps.Engine,
		deps.MarketStore,
		deps.PoolStore,
		deps.TradeStore,
		deps.SettlementStore,
		deps.PriceCache,
		deps.LockManager,
		deps.RateLimiter,
		deps.SignalBus,
		service.TradeConfig{
			MaxQuantity:   a.cfg.Trading.MaxQuantity,
			RateLimit:     a.cfg.Trading.RateLimitPerMinute,
			RateWindow:    time.Minute,
			LockTTL:       a.cfg.Trading.LockTTL.Duration,
			PriceCacheTTL: a.cfg.Trading.PriceCacheTTL.Duration,
		},
		a.logger,
	)

	marketSvc := service.NewMarketService(
		deps.MarketStore,
		deps.PoolStore,
		deps.PriceCache,
		deps.SignalBus,
		deps.Signer,
		service.MarketConfig{
			DefaultFeeRate:       a.cfg.Trading.DefaultFeeRate,
			DefaultSeedLiquidity: a.cfg.Trading.DefaultSeedLiquidity,
		},
		a.logger,
	)

	positionSvc := service.NewPositionService(deps.PositionStore, tradeSvc, a.logger)

	liquiditySvc := service.NewLiquidityService(
		deps.MarketStore,
		deps.PoolStore,
		deps.LockManager,
		a.cfg.Trading.LockTTL.Duration,
		a.logger,
	)

	hub := ws.NewHub(deps.SignalBus, a.logger)
	g.Go(func() error {
		err := hub.Run(ctx)
		if ctx.Err() != nil {
			return nil
		}
		return err
	})

	srv := server.NewServer(
		server.Config{
			Port:        a.cfg.Server.Port,
			CORSOrigins: a.cfg.Server.CORSOrigins,
			AdminKey:    a.cfg.Server.AdminKey,
			RateLimit:   a.cfg.Trading.RateLimitPerMinute,
			RateWindow:  time.Minute,
		},
		server.Handlers{
			Health:    handler.NewHealthHandler(deps.HealthChecks, a.logger),
			Markets:   handler.NewMarketHandler(marketSvc, tradeSvc, a.logger),
			Trades:    handler.NewTradeHandler(tradeSvc, a.logger),
			Positions: handler.NewPositionHandler(positionSvc, a.logger),
			Liquidity: handler.NewLiquidityHandler(liquiditySvc, a.logger),
		},
		deps.RateLimiter,
		hub,
		a.logger,
	)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})

	a.startAlertsLoop(ctx, g, deps)
}

// marketEvent is the envelope published on the "markets" bus channel.
type marketEvent struct {
	Event    string `json:"event"`
	MarketID string `json:"market_id"`
	Title    string `json:"title"`
	Outcome  string `json:"outcome"`
}

// startAlertsLoop forwards market lifecycle events from the signal bus to the
// operator notifier. Delivery failures are logged, never fatal.
func (a *App) startAlertsLoop(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	g.Go(func() error {
		ch, err := deps.SignalBus.Subscribe(ctx, "markets")
		if err != nil {
			a.logger.WarnContext(ctx, "alerts: subscribe failed, operator alerts disabled",
				slog.String("error", err.Error()),
			)
			return nil
		}

		for {
			select {
			case <-ctx.Done():
				return nil
			case data, ok := <-ch:
				if !ok {
					return nil
				}

				var evt marketEvent
				if err := json.Unmarshal(data, &evt); err != nil || evt.Event == "" {
					continue
				}

				var title, body string
				switch evt.Event {
				case "market_created":
					title = "Market created"
					body = fmt.Sprintf("%s (%s)", evt.Title, evt.MarketID)
				case "market_resolved":
					title = "Market resolved"
					body = fmt.Sprintf("%s resolved %s", evt.MarketID, evt.Outcome)
				default:
					continue
				}

				if err := deps.Notifier.Notify(ctx, evt.Event, title, body); err != nil {
					a.logger.WarnContext(ctx, "alerts: delivery failed",
						slog.String("event", evt.Event),
						slog.String("error", err.Error()),
					)
				}
			}
		}
	})
}

// startArchiveLoop adds the periodic trade archival goroutine to the
// errgroup. Each cycle moves trades older than the retention window to
// object storage.
func (a *App) startArchiveLoop(ctx context.Context, g *errgroup.Group, deps *Dependencies) error {
	if deps.Archiver == nil {
		return fmt.Errorf("app: archival requested but archive.enabled is false")
	}

	interval := a.cfg.Archive.Interval.Duration
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	retention := time.Duration(a.cfg.Archive.RetentionDays) * 24 * time.Hour

	runOnce := func() {
		cutoff := time.Now().UTC().Add(-retention)
		archived, err := deps.Archiver.ArchiveTrades(ctx, cutoff)
		if err != nil {
			a.logger.ErrorContext(ctx, "archive cycle failed",
				slog.String("error", err.Error()),
			)
			if notifyErr := deps.Notifier.Notify(ctx, "archive_failed", "Archive cycle failed", err.Error()); notifyErr != nil {
				a.logger.WarnContext(ctx, "archive failure alert not delivered",
					slog.String("error", notifyErr.Error()),
				)
			}
			return
		}
		if archived > 0 {
			a.logger.InfoContext(ctx, "archive cycle complete",
				slog.Int64("trades_archived", archived),
				slog.Time("cutoff", cutoff),
			)
		}
	}

	g.Go(func() error {
		runOnce()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				runOnce()
			}
		}
	})

	a.logger.InfoContext(ctx, "archive loop started",
		slog.Duration("interval", interval),
		slog.Int("retention_days", a.cfg.Archive.RetentionDays),
	)

	return nil
}
