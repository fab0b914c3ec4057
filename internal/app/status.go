package app

import (
	"sync/atomic"

	"github.com/quantfold/arbot/internal/domain"
	"github.com/quantfold/arbot/internal/ledger"
	"github.com/quantfold/arbot/internal/risk"
)

// statusBoard aggregates the live engine snapshot for the status endpoint.
type statusBoard struct {
	breaker *risk.Breaker
	ledger  *ledger.Ledger

	seen     atomic.Int64
	executed atomic.Int64
	rejected atomic.Int64
}

func newStatusBoard(breaker *risk.Breaker, led *ledger.Ledger) *statusBoard {
	return &statusBoard{breaker: breaker, ledger: led}
}

// Status implements handler.StatusSource.
func (s *statusBoard) Status() domain.EngineStatus {
	state, reason, until := s.breaker.Status()
	return domain.EngineStatus{
		BreakerState:       string(state),
		BreakerReason:      reason,
		BreakerUntil:       until,
		DailyPnLCents:      s.ledger.DailyPnL(),
		TotalOpenContracts: s.ledger.TotalOpen(),
		OpenMarkets:        len(s.ledger.Positions()),
		OpportunitiesSeen:  s.seen.Load(),
		Executed:           s.executed.Load(),
		Rejected:           s.rejected.Load(),
	}
}
