package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quantfold/whalecopy/internal/domain"
)

// ExecutionStore implements domain.ExecutionStore using PostgreSQL.
type ExecutionStore struct {
	pool *pgxpool.Pool
}

// NewExecutionStore creates a new ExecutionStore backed by the given
// connection pool.
func NewExecutionStore(pool *pgxpool.Pool) *ExecutionStore {
	return &ExecutionStore{pool: pool}
}

const executionSelectCols = `id, signal_id, whale, market_id, token_id, side,
	success, order_id, requested_size, filled_size, avg_fill_price,
	final_phase, elapsed_ms, error, executed_at`

func scanExecutionRows(rows pgx.Rows) ([]domain.ExecutionResult, error) {
	var results []domain.ExecutionResult
	for rows.Next() {
		r, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

func scanExecution(row pgx.Row) (domain.ExecutionResult, error) {
	var r domain.ExecutionResult
	var side string
	var elapsedMs int64
	if err := row.Scan(
		&r.ID, &r.SignalID, &r.Whale, &r.MarketID, &r.TokenID, &side,
		&r.Success, &r.OrderID, &r.RequestedSize, &r.FilledSize, &r.AvgFillPrice,
		&r.FinalPhase, &elapsedMs, &r.Error, &r.ExecutedAt,
	); err != nil {
		return domain.ExecutionResult{}, err
	}
	r.Side = domain.OrderSide(side)
	r.Elapsed = time.Duration(elapsedMs) * time.Millisecond
	return r, nil
}

// Create persists a terminal execution result. Duplicate IDs are rejected
// with domain.ErrAlreadyExists.
func (s *ExecutionStore) Create(ctx context.Context, res domain.ExecutionResult) error {
	const query = `
		INSERT INTO executions (
			id, signal_id, whale, market_id, token_id, side,
			success, order_id, requested_size, filled_size, avg_fill_price,
			final_phase, elapsed_ms, error, executed_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11,
			$12, $13, $14, $15
		) ON CONFLICT (id) DO NOTHING`

	tag, err := s.pool.Exec(ctx, query,
		res.ID, res.SignalID, res.Whale, res.MarketID, res.TokenID, string(res.Side),
		res.Success, res.OrderID, res.RequestedSize, res.FilledSize, res.AvgFillPrice,
		res.FinalPhase, res.Elapsed.Milliseconds(), res.Error, res.ExecutedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create execution %s: %w", res.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrAlreadyExists
	}
	return nil
}

// GetByID returns one execution result.
// It returns domain.ErrNotFound if no row matches.
func (s *ExecutionStore) GetByID(ctx context.Context, id string) (domain.ExecutionResult, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+executionSelectCols+` FROM executions WHERE id = $1`, id)

	r, err := scanExecution(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ExecutionResult{}, domain.ErrNotFound
		}
		return domain.ExecutionResult{}, fmt.Errorf("postgres: get execution %s: %w", id, err)
	}
	return r, nil
}

// ListRecent returns the most recent execution results, newest first.
func (s *ExecutionStore) ListRecent(ctx context.Context, limit int) ([]domain.ExecutionResult, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+executionSelectCols+` FROM executions ORDER BY executed_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list recent executions: %w", err)
	}
	defer rows.Close()

	results, err := scanExecutionRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan recent executions: %w", err)
	}
	return results, nil
}

// ListByWhale returns executions attributed to one whale with pagination and
// optional time filtering.
func (s *ExecutionStore) ListByWhale(ctx context.Context, whale string, opts domain.ListOpts) ([]domain.ExecutionResult, error) {
	query := `SELECT ` + executionSelectCols + ` FROM executions WHERE whale = $1`
	args := []any{whale}
	argIdx := 2

	if opts.Since != nil {
		query += fmt.Sprintf(" AND executed_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND executed_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY executed_at DESC"

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
		return nil, fmt.Errorf("postgres: list executions by whale: %w", err)
	}
	defer rows.Close()

	results, err := scanExecutionRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan executions by whale: %w", err)
	}
	return results, nil
}

// ListBefore returns all executions older than the given time (for archiving).
func (s *ExecutionStore) ListBefore(ctx context.Context, before time.Time) ([]domain.ExecutionResult, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+executionSelectCols+` FROM executions WHERE executed_at < $1 ORDER BY executed_at ASC`,
		before,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list executions before: %w", err)
	}
	defer rows.Close()
	return scanExecutionRows(rows)
}

// DeleteBefore deletes all executions older than the given time. Returns the
// number deleted.
func (s *ExecutionStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM executions WHERE executed_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete executions before: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Compile-time interface check.
var _ domain.ExecutionStore = (*ExecutionStore)(nil)
