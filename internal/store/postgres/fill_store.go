package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quantfold/arbot/internal/domain"
)

// FillStore implements domain.FillStore using PostgreSQL.
type FillStore struct {
	pool *pgxpool.Pool
}

// NewFillStore creates a new FillStore backed by the given connection pool.
func NewFillStore(pool *pgxpool.Pool) *FillStore {
	return &FillStore{pool: pool}
}

// Insert journals one confirmed fill. Re-inserting an existing fill ID is a
// no-op, so recording a fill is safe to retry.
func (s *FillStore) Insert(ctx context.Context, f domain.Fill) error {
	const query = `
		INSERT INTO fills (
			id, market_id, venue, side, price_cents, size, fee_cents,
			order_id, filled_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING`

	_, err := s.pool.Exec(ctx, query,
		f.ID, f.MarketID, string(f.Venue), string(f.Side),
		f.PriceCents, f.Size, f.FeeCents, f.OrderID, f.FilledAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert fill %s: %w", f.ID, err)
	}
	return nil
}

// ListBetween returns fills with filled_at in [from, to), ordered by fill
// time. The daily archiver uses it to snapshot one accounting day.
func (s *FillStore) ListBetween(ctx context.Context, from, to time.Time) ([]domain.Fill, error) {
	const query = `
		SELECT id, market_id, venue, side, price_cents, size, fee_cents,
			order_id, filled_at
		FROM fills
		WHERE filled_at >= $1 AND filled_at < $2
		ORDER BY filled_at`

	rows, err := s.pool.Query(ctx, query, from, to)
	if err != nil {
		return nil, fmt.Errorf("postgres: list fills: %w", err)
	}
	defer rows.Close()

	var fills []domain.Fill
	for rows.Next() {
		var f domain.Fill
		var venue, side string
		if err := rows.Scan(
			&f.ID, &f.MarketID, &venue, &side, &f.PriceCents, &f.Size,
			&f.FeeCents, &f.OrderID, &f.FilledAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan fill: %w", err)
		}
		f.Venue = domain.Venue(venue)
		f.Side = domain.Side(side)
		fills = append(fills, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate fills: %w", err)
	}
	return fills, nil
}

// Compile-time interface check.
var _ domain.FillStore = (*FillStore)(nil)
