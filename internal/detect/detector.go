// Package detect scans matched-market book pairs for guaranteed-profit
// combinations. The detector only observes and emits; it never places
// orders.
package detect

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/quantfold/arbot/internal/domain"
	"github.com/quantfold/arbot/internal/fees"
	"github.com/quantfold/arbot/internal/metrics"
)

// BookReader is the detector's view of the live book store.
type BookReader interface {
	Read(marketID string) (domain.BookPair, bool)
}

// MarketSource lists the currently matched markets for periodic sweeps.
type MarketSource interface {
	All() []domain.MatchedMarket
}

// Config carries the detection knobs.
type Config struct {
	MinNetCents   int64         // minimum net profit per contract after fees
	SweepInterval time.Duration // periodic full re-scan cadence
	Buffer        int           // emit channel capacity
}

// Detector evaluates book pairs and emits opportunities whose net per
// contract clears the threshold. Emission is lossy under backpressure: a
// dropped opportunity is re-derived from live books on the next update or
// sweep.
type Detector struct {
	cfg     Config
	minNet  atomic.Int64 // hot-reloadable copy of cfg.MinNetCents
	books   BookReader
	fees    *fees.Model
	markets MarketSource
	out     chan domain.Opportunity
	opps    domain.OpportunityStore // optional
	bus     domain.SignalBus        // optional
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// New wires a Detector. opps and bus may be nil.
func New(cfg Config, books BookReader, feeModel *fees.Model, markets MarketSource, opps domain.OpportunityStore, bus domain.SignalBus, m *metrics.Metrics, logger *slog.Logger) *Detector {
	if cfg.Buffer <= 0 {
		cfg.Buffer = 64
	}
	d := &Detector{
		cfg:     cfg,
		books:   books,
		fees:    feeModel,
		markets: markets,
		out:     make(chan domain.Opportunity, cfg.Buffer),
		opps:    opps,
		bus:     bus,
		metrics: m,
		logger:  logger.With(slog.String("component", "detector")),
		now:     time.Now,
	}
	d.minNet.Store(cfg.MinNetCents)
	return d
}

// SetMinNet updates the profit threshold without a restart.
func (d *Detector) SetMinNet(cents int64) {
	d.minNet.Store(cents)
}

// Opportunities is the detector's output stream.
func (d *Detector) Opportunities() <-chan domain.Opportunity { return d.out }

// OnUpdate re-evaluates one market after a book change and emits if it now
// clears the threshold.
func (d *Detector) OnUpdate(ctx context.Context, marketID string) {
	if opp, ok := d.Evaluate(marketID); ok {
		d.emit(ctx, opp)
	}
}

// Evaluate computes the best profitable combination for one market, buying
// YES on one venue and NO on the other. Prices, fees, and profit are all
// integer cents; a pair is profitable when both legs plus fees cost less
// than the 100 cent settlement payout.
func (d *Detector) Evaluate(marketID string) (domain.Opportunity, bool) {
	pair, ok := d.books.Read(marketID)
	if !ok {
		return domain.Opportunity{}, false
	}

	var best domain.Opportunity
	found := false
	for _, yesVenue := range domain.Venues {
		noVenue := yesVenue.Other()
		yesPrice, yesSize := pair.Top(yesVenue).Ask(domain.SideYes)
		noPrice, noSize := pair.Top(noVenue).Ask(domain.SideNo)
		size := min(yesSize, noSize)
		if size <= 0 {
			continue
		}
		yesFee := d.fees.Fee(yesVenue, yesPrice)
		noFee := d.fees.Fee(noVenue, noPrice)
		net := 100 - yesPrice - noPrice - yesFee - noFee
		if net < d.minNet.Load() {
			continue
		}
		opp := domain.Opportunity{
			ID:       uuid.NewString(),
			MarketID: marketID,
			LegA: domain.Leg{
				Venue:      yesVenue,
				Side:       domain.SideYes,
				PriceCents: yesPrice,
				FeeCents:   yesFee,
			},
			LegB: domain.Leg{
				Venue:      noVenue,
				Side:       domain.SideNo,
				PriceCents: noPrice,
				FeeCents:   noFee,
			},
			MatchedSize:         size,
			NetPerContractCents: net,
			KalshiVersion:       pair.Kalshi.Version,
			PolymarketVersion:   pair.Polymarket.Version,
			DetectedAt:          d.now(),
		}
		if !found || opp.ExpectedProfitCents() > best.ExpectedProfitCents() {
			best = opp
			found = true
		}
	}
	return best, found
}

// Run sweeps every matched market on a fixed cadence, catching opportunities
// whose book updates were missed or dropped.
func (d *Detector) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			d.sweep(ctx)
		}
	}
}

// sweep evaluates every matched market once and emits the tick's candidates
// in descending expected-profit order, so the largest total edge reaches the
// executor first rather than whichever market iterates first.
func (d *Detector) sweep(ctx context.Context) {
	var batch []domain.Opportunity
	for _, mm := range d.markets.All() {
		if opp, ok := d.Evaluate(mm.ID); ok {
			batch = append(batch, opp)
		}
	}
	sort.Slice(batch, func(i, j int) bool {
		return batch[i].ExpectedProfitCents() > batch[j].ExpectedProfitCents()
	})
	for _, opp := range batch {
		d.emit(ctx, opp)
	}
}

func (d *Detector) emit(ctx context.Context, opp domain.Opportunity) {
	if d.metrics != nil {
		d.metrics.Opportunities.Inc()
	}
	d.logger.InfoContext(ctx, "opportunity detected",
		slog.String("opportunity", opp.ID),
		slog.String("market", opp.MarketID),
		slog.Int64("net_cents", opp.NetPerContractCents),
		slog.Int64("matched_size", opp.MatchedSize),
		slog.Int64("expected_profit_cents", opp.ExpectedProfitCents()),
	)
	if d.opps != nil {
		if err := d.opps.Insert(ctx, opp); err != nil {
			d.logger.WarnContext(ctx, "opportunity insert failed",
				slog.String("opportunity", opp.ID),
				slog.String("error", err.Error()),
			)
		}
	}
	if d.bus != nil {
		if data, err := json.Marshal(map[string]any{
			"opportunity_id": opp.ID,
			"market_id":      opp.MarketID,
			"net_cents":      opp.NetPerContractCents,
			"matched_size":   opp.MatchedSize,
		}); err == nil {
			if err := d.bus.Publish(ctx, domain.SignalArbDetected, data); err != nil {
				d.logger.WarnContext(ctx, "signal publish failed", slog.String("error", err.Error()))
			}
		}
	}
	select {
	case d.out <- opp:
	default:
		d.logger.WarnContext(ctx, "opportunity dropped, consumer backlogged",
			slog.String("opportunity", opp.ID),
		)
	}
}
