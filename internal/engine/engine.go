// Package engine turns detected opportunities into venue orders. It owns the
// single-execution-per-market guarantee, pre-trade revalidation against live
// books, and the partial-fill reconciliation path.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/quantfold/arbot/internal/domain"
	"github.com/quantfold/arbot/internal/ledger"
	"github.com/quantfold/arbot/internal/metrics"
	"github.com/quantfold/arbot/internal/risk"
)

// BookReader is the live book view the engine revalidates against.
type BookReader interface {
	Read(marketID string) (domain.BookPair, bool)
}

// MarketResolver maps a matched market ID back to its venue-native IDs.
type MarketResolver interface {
	ByID(marketID string) (domain.MatchedMarket, bool)
}

// Alerter receives operator-facing alerts, e.g. one-sided exposure.
type Alerter interface {
	Alert(ctx context.Context, title, body string)
}

// Config carries the engine knobs.
type Config struct {
	DryRun       bool
	ExecTimeout  time.Duration // hard deadline for both legs together
	PollInterval time.Duration // order status poll cadence
}

// Engine executes two-leg arbitrage opportunities.
type Engine struct {
	cfg      Config
	books    BookReader
	markets  MarketResolver
	breaker  *risk.Breaker
	ledger   *ledger.Ledger
	inflight *InFlightSet
	trading  map[domain.Venue]domain.VenueTrading
	opps     domain.OpportunityStore // optional
	bus      domain.SignalBus        // optional
	alerter  Alerter                 // optional
	metrics  *metrics.Metrics
	logger   *slog.Logger
	now      func() time.Time
}

// New wires an Engine. opps, bus and alerter may be nil.
func New(
	cfg Config,
	books BookReader,
	markets MarketResolver,
	breaker *risk.Breaker,
	led *ledger.Ledger,
	trading map[domain.Venue]domain.VenueTrading,
	opps domain.OpportunityStore,
	bus domain.SignalBus,
	alerter Alerter,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Engine {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 100 * time.Millisecond
	}
	return &Engine{
		cfg:      cfg,
		books:    books,
		markets:  markets,
		breaker:  breaker,
		ledger:   led,
		inflight: NewInFlightSet(),
		trading:  trading,
		opps:     opps,
		bus:      bus,
		alerter:  alerter,
		metrics:  m,
		logger:   logger.With(slog.String("component", "engine")),
		now:      time.Now,
	}
}

// InFlight exposes the claim set, for status reporting.
func (e *Engine) InFlight() *InFlightSet { return e.inflight }

// Attempt runs one opportunity through claim, revalidation, risk check, leg
// placement and reconciliation. The in-flight claim is released on every
// return path.
func (e *Engine) Attempt(ctx context.Context, opp domain.Opportunity) (domain.ExecutionResult, error) {
	res := domain.ExecutionResult{OpportunityID: opp.ID}

	if !e.inflight.Claim(opp.MarketID) {
		res.Outcome = domain.OutcomeAlreadyInFlight
		e.finish(ctx, opp, res)
		return res, fmt.Errorf("engine: market %s: %w", opp.MarketID, domain.ErrAlreadyInFlight)
	}
	defer e.inflight.Release(opp.MarketID)

	if err := e.revalidate(opp); err != nil {
		res.Outcome = domain.OutcomeStale
		e.finish(ctx, opp, res)
		return res, err
	}

	if err := e.breaker.CanExecute(opp.MarketID, 2*opp.MatchedSize); err != nil {
		res.Outcome = domain.OutcomeHalted
		e.finish(ctx, opp, res)
		return res, err
	}

	fills, legErr := e.placeLegs(ctx, opp)
	res.Fills = fills

	switch len(fills) {
	case 2:
		res.Outcome = domain.OutcomeExecuted
		e.breaker.RecordSuccess()
	case 1:
		res.Outcome = domain.OutcomePartialFill
		res.Exposed = true
		e.onExposure(ctx, opp, fills[0])
	default:
		res.Outcome = domain.OutcomeNoFill
		if legErr != nil {
			e.breaker.RecordError()
		}
	}

	for _, f := range fills {
		if _, err := e.ledger.RecordFill(ctx, f); err != nil {
			e.logger.ErrorContext(ctx, "ledger record failed",
				slog.String("fill_id", f.ID),
				slog.String("error", err.Error()),
			)
		}
	}
	e.breaker.CheckAfterFill()

	e.finish(ctx, opp, res)
	if res.Outcome == domain.OutcomeNoFill && legErr != nil {
		return res, legErr
	}
	return res, nil
}

// revalidate checks the opportunity against the books as they are now. A leg
// whose ask moved above the captured price, or whose size no longer covers
// the matched size, invalidates the whole attempt.
func (e *Engine) revalidate(opp domain.Opportunity) error {
	pair, ok := e.books.Read(opp.MarketID)
	if !ok {
		return fmt.Errorf("engine: no book for %s: %w", opp.MarketID, domain.ErrStaleSnapshot)
	}
	for _, leg := range []domain.Leg{opp.LegA, opp.LegB} {
		top := pair.Top(leg.Venue)
		price, size := top.Ask(leg.Side)
		if price > leg.PriceCents || size < opp.MatchedSize {
			return fmt.Errorf("engine: %s %s moved (price %d size %d): %w",
				leg.Venue, leg.Side, price, size, domain.ErrStaleSnapshot)
		}
	}
	return nil
}

// placeLegs fires both legs concurrently under the execution deadline and
// returns the confirmed fills. A leg that does not reach a terminal state in
// time is cancelled and its final state confirmed before returning.
func (e *Engine) placeLegs(ctx context.Context, opp domain.Opportunity) ([]domain.Fill, error) {
	market, ok := e.markets.ByID(opp.MarketID)
	if !ok {
		return nil, fmt.Errorf("engine: market %s: %w", opp.MarketID, domain.ErrNotFound)
	}

	if e.cfg.DryRun {
		return e.simulateFills(market, opp), nil
	}

	legCtx, cancel := context.WithTimeout(ctx, e.cfg.ExecTimeout)
	defer cancel()

	results := make([]*domain.Fill, 2)
	g, legCtx := errgroup.WithContext(legCtx)
	for i, leg := range []domain.Leg{opp.LegA, opp.LegB} {
		g.Go(func() error {
			fill, err := e.placeLeg(legCtx, market, leg, opp.MatchedSize)
			results[i] = fill
			return err
		})
	}
	err := g.Wait()

	var fills []domain.Fill
	for _, f := range results {
		if f != nil {
			fills = append(fills, *f)
		}
	}
	return fills, err
}

// placeLeg places one order and polls until it closes. On deadline it issues
// a cancel and confirms the terminal state with one final status read, so a
// fill that raced the cancel is never lost.
func (e *Engine) placeLeg(ctx context.Context, market domain.MatchedMarket, leg domain.Leg, size int64) (*domain.Fill, error) {
	trader, ok := e.trading[leg.Venue]
	if !ok {
		return nil, fmt.Errorf("engine: no trading client for %s", leg.Venue)
	}
	req := domain.OrderRequest{
		NativeID:   market.NativeID(leg.Venue),
		Side:       leg.Side,
		PriceCents: leg.PriceCents,
		Size:       size,
	}
	start := e.now()
	handle, err := trader.PlaceOrder(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("engine: place %s %s: %w", leg.Venue, leg.Side, err)
	}
	defer func() {
		if e.metrics != nil {
			e.metrics.LegLatency.WithLabelValues(string(leg.Venue)).Observe(e.now().Sub(start).Seconds())
		}
	}()

	status, err := e.awaitClose(ctx, trader, handle)
	if err != nil {
		// Deadline or disconnect while the order is live: cancel, then take
		// one authoritative status read outside the expired context.
		trader.Cancel(context.WithoutCancel(ctx), handle)
		confirmCtx, confirmCancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		status, err = trader.GetStatus(confirmCtx, handle)
		confirmCancel()
		if err != nil {
			return nil, fmt.Errorf("engine: confirm %s order %s: %w", leg.Venue, handle.OrderID, err)
		}
	}

	if status.FilledSize <= 0 {
		return nil, nil
	}
	price := status.FilledPriceCents
	if price == 0 {
		price = leg.PriceCents
	}
	return &domain.Fill{
		ID:         handle.OrderID,
		MarketID:   market.ID,
		Venue:      leg.Venue,
		Side:       leg.Side,
		PriceCents: price,
		Size:       status.FilledSize,
		FeeCents:   leg.FeeCents * status.FilledSize,
		OrderID:    handle.OrderID,
		FilledAt:   e.now(),
	}, nil
}

func (e *Engine) awaitClose(ctx context.Context, trader domain.VenueTrading, handle domain.OrderHandle) (domain.OrderStatus, error) {
	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()
	for {
		status, err := trader.GetStatus(ctx, handle)
		if err == nil && status.State.Closed() {
			return status, nil
		}
		if err != nil && !errors.Is(err, context.DeadlineExceeded) {
			e.logger.WarnContext(ctx, "order status poll failed",
				slog.String("order_id", handle.OrderID),
				slog.String("error", err.Error()),
			)
		}
		select {
		case <-ctx.Done():
			return domain.OrderStatus{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

// simulateFills fabricates full fills at the captured leg prices. Used in
// dry-run mode so the ledger and breaker exercise the same paths as live
// trading.
func (e *Engine) simulateFills(market domain.MatchedMarket, opp domain.Opportunity) []domain.Fill {
	fills := make([]domain.Fill, 0, 2)
	for _, leg := range []domain.Leg{opp.LegA, opp.LegB} {
		fills = append(fills, domain.Fill{
			ID:         fmt.Sprintf("dry-%s-%s-%s", opp.ID, leg.Venue, leg.Side),
			MarketID:   market.ID,
			Venue:      leg.Venue,
			Side:       leg.Side,
			PriceCents: leg.PriceCents,
			Size:       opp.MatchedSize,
			FeeCents:   leg.FeeCents * opp.MatchedSize,
			OrderID:    "dry-run",
			FilledAt:   e.now(),
		})
	}
	return fills
}

func (e *Engine) onExposure(ctx context.Context, opp domain.Opportunity, filled domain.Fill) {
	e.logger.ErrorContext(ctx, "one-sided exposure",
		slog.String("market", opp.MarketID),
		slog.String("filled_venue", string(filled.Venue)),
		slog.String("filled_side", string(filled.Side)),
		slog.Int64("size", filled.Size),
	)
	if e.metrics != nil {
		e.metrics.Exposures.Inc()
	}
	if e.alerter != nil {
		e.alerter.Alert(ctx, "one-sided exposure",
			fmt.Sprintf("market %s: %s %s filled %d contracts, hedge leg did not fill",
				opp.MarketID, filled.Venue, filled.Side, filled.Size))
	}
	e.publish(ctx, domain.SignalExposure, map[string]any{
		"market_id": opp.MarketID,
		"venue":     string(filled.Venue),
		"side":      string(filled.Side),
		"size":      filled.Size,
	})
}

// finish records the outcome in metrics, the opportunity store and the
// signal bus. Best effort; failures are logged.
func (e *Engine) finish(ctx context.Context, opp domain.Opportunity, res domain.ExecutionResult) {
	if e.metrics != nil {
		e.metrics.Executions.WithLabelValues(string(res.Outcome)).Inc()
	}
	e.logger.InfoContext(ctx, "attempt finished",
		slog.String("opportunity", opp.ID),
		slog.String("market", opp.MarketID),
		slog.String("outcome", string(res.Outcome)),
		slog.Int("fills", len(res.Fills)),
	)
	if e.opps != nil {
		if err := e.opps.MarkOutcome(ctx, opp.ID, res.Outcome); err != nil {
			e.logger.WarnContext(ctx, "opportunity outcome update failed",
				slog.String("opportunity", opp.ID),
				slog.String("error", err.Error()),
			)
		}
	}
	if res.Outcome == domain.OutcomeExecuted {
		e.publish(ctx, domain.SignalArbExecuted, map[string]any{
			"opportunity_id": opp.ID,
			"market_id":      opp.MarketID,
			"matched_size":   opp.MatchedSize,
			"net_cents":      opp.NetPerContractCents,
		})
	}
}

func (e *Engine) publish(ctx context.Context, stream string, payload map[string]any) {
	if e.bus == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	if err := e.bus.Publish(ctx, stream, data); err != nil {
		e.logger.WarnContext(ctx, "signal publish failed",
			slog.String("stream", stream),
			slog.String("error", err.Error()),
		)
	}
}
