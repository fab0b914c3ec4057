package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quantfold/arbot/internal/domain"
)

// OpportunityStore implements domain.OpportunityStore using PostgreSQL.
type OpportunityStore struct {
	pool *pgxpool.Pool
}

// NewOpportunityStore creates a new OpportunityStore backed by the given
// connection pool.
func NewOpportunityStore(pool *pgxpool.Pool) *OpportunityStore {
	return &OpportunityStore{pool: pool}
}

const opportunitySelectCols = `id, market_id,
	leg_a_venue, leg_a_side, leg_a_price_cents, leg_a_fee_cents,
	leg_b_venue, leg_b_side, leg_b_price_cents, leg_b_fee_cents,
	matched_size, net_per_contract_cents,
	kalshi_version, polymarket_version, detected_at`

// Insert records a detected opportunity.
func (s *OpportunityStore) Insert(ctx context.Context, o domain.Opportunity) error {
	const query = `
		INSERT INTO opportunities (
			id, market_id,
			leg_a_venue, leg_a_side, leg_a_price_cents, leg_a_fee_cents,
			leg_b_venue, leg_b_side, leg_b_price_cents, leg_b_fee_cents,
			matched_size, net_per_contract_cents,
			kalshi_version, polymarket_version, detected_at
		) VALUES (
			$1, $2,
			$3, $4, $5, $6,
			$7, $8, $9, $10,
			$11, $12,
			$13, $14, $15
		)`

	_, err := s.pool.Exec(ctx, query,
		o.ID, o.MarketID,
		string(o.LegA.Venue), string(o.LegA.Side), o.LegA.PriceCents, o.LegA.FeeCents,
		string(o.LegB.Venue), string(o.LegB.Side), o.LegB.PriceCents, o.LegB.FeeCents,
		o.MatchedSize, o.NetPerContractCents,
		o.KalshiVersion, o.PolymarketVersion, o.DetectedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert opportunity %s: %w", o.ID, err)
	}
	return nil
}

// MarkOutcome records what the execution engine did with the opportunity.
func (s *OpportunityStore) MarkOutcome(ctx context.Context, id string, outcome domain.ExecutionOutcome) error {
	const query = `UPDATE opportunities SET outcome = $2 WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query, id, string(outcome))
	if err != nil {
		return fmt.Errorf("postgres: mark opportunity %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ListRecent returns the most recently detected opportunities, newest first.
func (s *OpportunityStore) ListRecent(ctx context.Context, limit int) ([]domain.Opportunity, error) {
	query := `SELECT ` + opportunitySelectCols + ` FROM opportunities ORDER BY detected_at DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list opportunities: %w", err)
	}
	defer rows.Close()

	var opps []domain.Opportunity
	for rows.Next() {
		var o domain.Opportunity
		var aVenue, aSide, bVenue, bSide string
		if err := rows.Scan(
			&o.ID, &o.MarketID,
			&aVenue, &aSide, &o.LegA.PriceCents, &o.LegA.FeeCents,
			&bVenue, &bSide, &o.LegB.PriceCents, &o.LegB.FeeCents,
			&o.MatchedSize, &o.NetPerContractCents,
			&o.KalshiVersion, &o.PolymarketVersion, &o.DetectedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan opportunity: %w", err)
		}
		o.LegA.Venue, o.LegA.Side = domain.Venue(aVenue), domain.Side(aSide)
		o.LegB.Venue, o.LegB.Side = domain.Venue(bVenue), domain.Side(bSide)
		opps = append(opps, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate opportunities: %w", err)
	}
	return opps, nil
}

// Compile-time interface check.
var _ domain.OpportunityStore = (*OpportunityStore)(nil)
