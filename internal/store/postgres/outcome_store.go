package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quantfold/whalecopy/internal/domain"
)

// OutcomeStore implements domain.OutcomeStore using PostgreSQL.
type OutcomeStore struct {
	pool *pgxpool.Pool
}

// NewOutcomeStore creates a new OutcomeStore backed by the given connection
// pool.
func NewOutcomeStore(pool *pgxpool.Pool) *OutcomeStore {
	return &OutcomeStore{pool: pool}
}

// Create persists a realized trade outcome. Replays of the same signal are
// silently skipped.
func (s *OutcomeStore) Create(ctx context.Context, out domain.TradeOutcome) error {
	const query = `
		INSERT INTO trade_outcomes (signal_id, whale, market_id, pnl, win, closed_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (signal_id) DO NOTHING`
	_, err := s.pool.Exec(ctx, query,
		out.SignalID, out.Whale, out.MarketID, out.PnL, out.Win, out.ClosedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create outcome %s: %w", out.SignalID, err)
	}
	return nil
}

// ListByWhale returns outcomes for one whale with pagination and optional
// time filtering, newest first.
func (s *OutcomeStore) ListByWhale(ctx context.Context, whale string, opts domain.ListOpts) ([]domain.TradeOutcome, error) {
	query := `SELECT signal_id, whale, market_id, pnl, win, closed_at
		FROM trade_outcomes WHERE whale = $1`
	args := []any{whale}
	argIdx := 2

	if opts.Since != nil {
		query += fmt.Sprintf(" AND closed_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND closed_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY closed_at DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list outcomes by whale: %w", err)
	}
	defer rows.Close()

	var outcomes []domain.TradeOutcome
	for rows.Next() {
		var o domain.TradeOutcome
		if err := rows.Scan(&o.SignalID, &o.Whale, &o.MarketID, &o.PnL, &o.Win, &o.ClosedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan outcome: %w", err)
		}
		outcomes = append(outcomes, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list outcomes rows: %w", err)
	}
	return outcomes, nil
}

// SumPnLSince returns the total realized PnL across all whales since the
// given time. Used to seed the daily-loss counter on restart.
func (s *OutcomeStore) SumPnLSince(ctx context.Context, since time.Time) (float64, error) {
	var sum *float64
	err := s.pool.QueryRow(ctx,
		`SELECT SUM(pnl) FROM trade_outcomes WHERE closed_at >= $1`, since,
	).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("postgres: sum pnl since: %w", err)
	}
	if sum == nil {
		return 0, nil
	}
	return *sum, nil
}

// Compile-time interface check.
var _ domain.OutcomeStore = (*OutcomeStore)(nil)
