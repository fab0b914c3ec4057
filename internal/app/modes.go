package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/quantfold/arbot/internal/book"
	"github.com/quantfold/arbot/internal/config"
	"github.com/quantfold/arbot/internal/detect"
	"github.com/quantfold/arbot/internal/domain"
	"github.com/quantfold/arbot/internal/engine"
	"github.com/quantfold/arbot/internal/fees"
	"github.com/quantfold/arbot/internal/ledger"
	"github.com/quantfold/arbot/internal/match"
	"github.com/quantfold/arbot/internal/notify"
	"github.com/quantfold/arbot/internal/risk"
	"github.com/quantfold/arbot/internal/server"
	"github.com/quantfold/arbot/internal/server/handler"
	"github.com/quantfold/arbot/internal/venue/kalshi"
	"github.com/quantfold/arbot/internal/venue/polymarket"
)

// feedSyncInterval is how often feed subscription lists are rebuilt from the
// match table. New subscriptions take effect on the next reconnect.
const feedSyncInterval = time.Minute

// settleInterval is how often open positions are checked against venue
// settlement status. Resolution is slow relative to trading, so a coarse
// cadence suffices.
const settleInterval = 5 * time.Minute

// TradeMode runs the full pipeline with live order placement, subject to the
// exec.dry_run config override.
func (a *App) TradeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting trade mode", slog.Bool("dry_run", a.cfg.Exec.DryRun))
	if !a.cfg.Exec.DryRun {
		if err := deps.Polymarket.DeriveAPIKey(ctx); err != nil {
			return fmt.Errorf("app: derive polymarket API key: %w", err)
		}
	}
	return a.runPipeline(ctx, deps, true, a.cfg.Exec.DryRun)
}

// DryRunMode runs the full pipeline with simulated fills: no venue orders
// are ever placed, but the ledger and breaker behave as if they were.
func (a *App) DryRunMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting dry-run mode")
	return a.runPipeline(ctx, deps, true, true)
}

// MonitorMode runs matching and detection only. Opportunities are logged and
// persisted but never executed.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode")
	return a.runPipeline(ctx, deps, false, true)
}

// runPipeline builds and runs the shared detection pipeline, optionally with
// the execution engine attached.
func (a *App) runPipeline(ctx context.Context, deps *Dependencies, execute, dryRun bool) error {
	feeModel, err := fees.New(feeSchedules(a.cfg.Fees))
	if err != nil {
		return fmt.Errorf("app: fee model: %w", err)
	}

	books := book.NewStore(func(v domain.Venue) {
		deps.Metrics.StaleDropped.WithLabelValues(string(v)).Inc()
	})

	listers := map[domain.Venue]domain.MarketLister{
		domain.VenueKalshi:     deps.Kalshi,
		domain.VenuePolymarket: deps.Polymarket,
	}
	matcher := match.New(listers, deps.MatchCache, a.cfg.Matcher.TTL.Duration, a.logger)

	detector := detect.New(detect.Config{
		MinNetCents:   a.cfg.Detect.MinNetCents,
		SweepInterval: a.cfg.Detect.SweepInterval.Duration,
		Buffer:        a.cfg.Detect.Buffer,
	}, books, feeModel, matcher, deps.OpportunityStore, deps.SignalBus, deps.Metrics, a.logger)

	led := ledger.New(deps.FillStore, a.logger)

	breaker := risk.New(riskLimits(a.cfg.Risk), led, a.logger, func(reason string) {
		deps.Metrics.BreakerState.Set(1)
		deps.Notifier.Notify(ctx, notify.EventBreakerTripped, "Circuit breaker tripped", reason)
		if deps.SignalBus != nil {
			payload := fmt.Sprintf(`{"reason":%q,"at":%q}`, reason, time.Now().UTC().Format(time.RFC3339))
			if err := deps.SignalBus.Publish(ctx, domain.SignalBreakerTrip, []byte(payload)); err != nil {
				a.logger.WarnContext(ctx, "breaker trip publish failed", slog.String("error", err.Error()))
			}
		}
	})

	board := newStatusBoard(breaker, led)

	var eng *engine.Engine
	if execute {
		trading := map[domain.Venue]domain.VenueTrading{
			domain.VenueKalshi:     deps.Kalshi,
			domain.VenuePolymarket: deps.Polymarket,
		}
		eng = engine.New(engine.Config{
			DryRun:       dryRun,
			ExecTimeout:  a.cfg.Exec.Timeout.Duration,
			PollInterval: a.cfg.Exec.PollInterval.Duration,
		}, books, matcher, breaker, led, trading, deps.OpportunityStore, deps.SignalBus, deps.Notifier, deps.Metrics, a.logger)
	}

	kalshiFeed := kalshi.NewFeed(a.cfg.Kalshi.WsURL, matcher, a.logger)
	polyFeed := polymarket.NewFeed(a.cfg.Polymarket.WsHost+"/ws/market", a.logger)

	// Seed the match table before the feeds connect so their first
	// subscription lists are non-empty.
	if err := matcher.Refresh(ctx); err != nil {
		a.logger.WarnContext(ctx, "initial match refresh failed", slog.String("error", err.Error()))
	}
	a.syncFeeds(matcher, deps.Polymarket, kalshiFeed, polyFeed)

	sink := func(top domain.BookTop) {
		if books.Update(top) {
			deps.Metrics.BookUpdates.WithLabelValues(string(top.Venue)).Inc()
			detector.OnUpdate(ctx, top.MarketID)
		}
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return matcher.Run(ctx) })
	g.Go(func() error { return kalshiFeed.Run(ctx, sink) })
	g.Go(func() error { return polyFeed.Run(ctx, sink) })
	g.Go(func() error { return detector.Run(ctx) })

	// Subscription list sync.
	g.Go(func() error {
		ticker := time.NewTicker(feedSyncInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				a.syncFeeds(matcher, deps.Polymarket, kalshiFeed, polyFeed)
			}
		}
	})

	// Opportunity consumer.
	attempt := func(ctx context.Context, opp domain.Opportunity) {
		if eng == nil {
			a.logger.InfoContext(ctx, "opportunity observed",
				slog.String("market", opp.MarketID),
				slog.Int64("net_cents", opp.NetPerContractCents),
				slog.Int64("size", opp.MatchedSize),
			)
			return
		}
		res, _ := eng.Attempt(ctx, opp)
		if res.Outcome == domain.OutcomeExecuted {
			board.executed.Add(1)
		} else {
			board.rejected.Add(1)
		}
	}
	g.Go(func() error {
		return consumeOpportunities(ctx, detector.Opportunities(), attempt, board)
	})

	// Gauges and lazy breaker re-arm.
	g.Go(func() error {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				state, _, _ := breaker.Status()
				if state == risk.StateHalted {
					deps.Metrics.BreakerState.Set(1)
				} else {
					deps.Metrics.BreakerState.Set(0)
				}
				deps.Metrics.DailyPnLCents.Set(float64(led.DailyPnL()))
				deps.Metrics.OpenContracts.Set(float64(led.TotalOpen()))
			}
		}
	})

	// Daily rollover: archive the ended day's fills, send the P&L report,
	// and reset the daily window.
	g.Go(func() error { return a.runRollover(ctx, deps, led) })

	// Settlement sweep: pay out positions whose markets have resolved.
	g.Go(func() error {
		ticker := time.NewTicker(settleInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				a.settleResolved(ctx, deps.Kalshi, matcher, led, books, breaker)
			}
		}
	})

	// Config hot reload: risk limits apply without restart.
	if a.cfgPath != "" {
		g.Go(func() error {
			return config.Watch(ctx, a.cfgPath, a.logger, func(next *config.Config) {
				breaker.UpdateLimits(riskLimits(next.Risk))
				detector.SetMinNet(next.Detect.MinNetCents)
			})
		})
	}

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, board, breaker, led)
	}

	return g.Wait()
}

// consumeOpportunities drains the detector stream, counting every candidate
// and spawning each attempt in its own goroutine. A slow leg on one market
// must not delay candidates for another; the engine's in-flight set already
// serializes attempts per market.
func consumeOpportunities(ctx context.Context, opps <-chan domain.Opportunity, attempt func(context.Context, domain.Opportunity), board *statusBoard) error {
	var wg sync.WaitGroup
	defer wg.Wait()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case opp, ok := <-opps:
			if !ok {
				return nil
			}
			board.seen.Add(1)
			wg.Add(1)
			go func() {
				defer wg.Done()
				attempt(ctx, opp)
			}()
		}
	}
}

// resolutionSource reports a market's settlement status on Kalshi. Both
// venues resolve the same underlying event, so one venue's verdict settles
// the pair.
type resolutionSource interface {
	GetMarket(ctx context.Context, ticker string) (kalshi.Market, error)
}

// marketIndex resolves a canonical market ID back to its matched pair.
type marketIndex interface {
	ByID(id string) (domain.MatchedMarket, bool)
}

// settleResolved pays out every open position whose market has settled on the
// venue, then prunes its book so the detector stops evaluating it.
func (a *App) settleResolved(ctx context.Context, src resolutionSource, markets marketIndex, led *ledger.Ledger, books *book.Store, breaker *risk.Breaker) {
	for _, pos := range led.Positions() {
		mm, ok := markets.ByID(pos.MarketID)
		if !ok {
			continue
		}
		mkt, err := src.GetMarket(ctx, mm.KalshiTicker)
		if err != nil {
			a.logger.WarnContext(ctx, "settlement check failed",
				slog.String("market", pos.MarketID),
				slog.String("error", err.Error()))
			continue
		}
		if mkt.Status != "settled" {
			continue
		}
		var winner domain.Side
		switch mkt.Result {
		case "yes":
			winner = domain.SideYes
		case "no":
			winner = domain.SideNo
		default:
			continue
		}
		pnl, err := led.Settle(ctx, pos.MarketID, winner)
		if err != nil {
			a.logger.ErrorContext(ctx, "settlement failed",
				slog.String("market", pos.MarketID),
				slog.String("error", err.Error()))
			continue
		}
		books.Forget(pos.MarketID)
		breaker.CheckAfterFill()
		a.logger.InfoContext(ctx, "position settled",
			slog.String("market", pos.MarketID),
			slog.String("winner", string(winner)),
			slog.Int64("pnl_cents", pnl))
	}
}

// runRollover fires at every UTC midnight.
func (a *App) runRollover(ctx context.Context, deps *Dependencies, led *ledger.Ledger) error {
	for {
		now := time.Now().UTC()
		next := now.Truncate(24 * time.Hour).Add(24 * time.Hour)
		timer := time.NewTimer(next.Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		pnl := led.DailyPnL()
		deps.Notifier.Notify(ctx, notify.EventDailyReport, "Daily P&L report",
			fmt.Sprintf("Realized: %+.2f USD (%d cents)", float64(pnl)/100, pnl))

		if deps.Archiver != nil {
			ended := next.Add(-time.Hour)
			n, err := deps.Archiver.ArchiveDay(ctx, ended)
			if err != nil {
				a.logger.ErrorContext(ctx, "daily archive failed", slog.String("error", err.Error()))
			} else {
				a.logger.InfoContext(ctx, "daily archive written", slog.Int("fills", n))
			}
		}

		led.ResetDaily()
		deps.Metrics.DailyPnLCents.Set(0)
	}
}

// syncFeeds rebuilds the feed subscription lists from the current match
// table.
func (a *App) syncFeeds(matcher *match.Matcher, poly *polymarket.Client, kf *kalshi.Feed, pf *polymarket.Feed) {
	matches := matcher.All()

	tickers := make([]string, 0, len(matches))
	assets := make([]polymarket.Asset, 0, 2*len(matches))
	for _, mm := range matches {
		tickers = append(tickers, mm.KalshiTicker)
		yes, no, ok := poly.TokenIDs(mm.PolymarketID)
		if !ok {
			continue
		}
		assets = append(assets,
			polymarket.Asset{TokenID: yes, MarketID: mm.ID, Side: domain.SideYes},
			polymarket.Asset{TokenID: no, MarketID: mm.ID, Side: domain.SideNo},
		)
	}
	kf.SetTickers(tickers)
	pf.SetAssets(assets)
}

// startHTTPServer registers the monitoring server on the errgroup.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, board *statusBoard, breaker *risk.Breaker, led *ledger.Ledger) {
	srv := server.NewServer(server.Config{Port: a.cfg.Server.Port}, server.Handlers{
		Health:        handler.NewHealthHandler(a.logger),
		Status:        handler.NewStatusHandler(a.cfg.Mode, board),
		Opportunities: handler.NewOpportunityHandler(deps.OpportunityStore, a.logger),
		Positions:     handler.NewPositionHandler(led),
		Breaker:       handler.NewBreakerHandler(breaker, a.logger),
	}, deps.Registry, a.logger)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}

// feeSchedules maps the fee config onto the fee model's schedules.
func feeSchedules(cfg config.FeesConfig) map[domain.Venue]fees.Schedule {
	return map[domain.Venue]fees.Schedule{
		domain.VenueKalshi: {
			Convex:    cfg.Kalshi.Convex,
			K:         cfg.Kalshi.K,
			FlatCents: cfg.Kalshi.FlatCents,
		},
		domain.VenuePolymarket: {
			Convex:    cfg.Polymarket.Convex,
			K:         cfg.Polymarket.K,
			FlatCents: cfg.Polymarket.FlatCents,
		},
	}
}

// riskLimits maps the risk config onto breaker limits.
func riskLimits(cfg config.RiskConfig) risk.Limits {
	return risk.Limits{
		MaxPositionPerMarket: cfg.MaxPositionPerMarket,
		MaxTotalPosition:     cfg.MaxTotalPosition,
		MaxDailyLossCents:    cfg.MaxDailyLossCents,
		MaxConsecutiveErrors: cfg.MaxConsecutiveErrors,
		Cooldown:             cfg.Cooldown.Duration,
	}
}
