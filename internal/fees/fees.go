// Package fees computes per-contract settlement fees. Each venue's fee
// schedule is precomputed into a 101-entry table at startup so the hot path
// is a single slice index with no floating point.
package fees

import (
	"fmt"

	"github.com/quantfold/arbot/internal/domain"
)

// Model maps a venue and an integer price in cents to the settlement fee in
// cents. It is immutable after construction.
type Model struct {
	tables map[domain.Venue]*[101]int64
}

// Schedule describes one venue's fee function. A convex schedule charges
// ceil(K * p * (100-p) / 10000) cents per contract at price p; Flat charges
// FlatCents at every price. Kalshi uses K=7, Polymarket is flat zero.
type Schedule struct {
	Convex    bool
	K         int64
	FlatCents int64
}

// New builds a Model from per-venue schedules. Every venue the engine trades
// must have a schedule; missing venues are an error at startup rather than a
// zero fee on the hot path.
func New(schedules map[domain.Venue]Schedule) (*Model, error) {
	if len(schedules) == 0 {
		return nil, fmt.Errorf("fees: no schedules configured")
	}
	m := &Model{tables: make(map[domain.Venue]*[101]int64, len(schedules))}
	for venue, sched := range schedules {
		var table [101]int64
		for p := int64(0); p <= 100; p++ {
			table[p] = feeAt(sched, p)
		}
		m.tables[venue] = &table
	}
	return m, nil
}

// feeAt is the closed-form fee for one price point, integer math only.
func feeAt(s Schedule, priceCents int64) int64 {
	if !s.Convex {
		return s.FlatCents
	}
	num := s.K * priceCents * (100 - priceCents)
	// ceil division
	return (num + 9999) / 10000
}

// Fee returns the settlement fee in cents for one contract bought at
// priceCents on the given venue. Prices outside [0,100] are clamped; the
// book store has already rejected them upstream.
func (m *Model) Fee(v domain.Venue, priceCents int64) int64 {
	table, ok := m.tables[v]
	if !ok {
		return 0
	}
	if priceCents < 0 {
		priceCents = 0
	}
	if priceCents > 100 {
		priceCents = 100
	}
	return table[priceCents]
}

// Venues returns the venues the model has schedules for.
func (m *Model) Venues() []domain.Venue {
	vs := make([]domain.Venue, 0, len(m.tables))
	for v := range m.tables {
		vs = append(vs, v)
	}
	return vs
}
