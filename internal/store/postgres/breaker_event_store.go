package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quantfold/whalecopy/internal/domain"
)

// BreakerEventStore implements domain.BreakerEventStore using PostgreSQL.
// The breaker_events table is append-only; rows only leave it via archiving.
type BreakerEventStore struct {
	pool *pgxpool.Pool
}

// NewBreakerEventStore creates a new BreakerEventStore backed by the given
// connection pool.
func NewBreakerEventStore(pool *pgxpool.Pool) *BreakerEventStore {
	return &BreakerEventStore{pool: pool}
}

func parseBreakerState(s string) domain.BreakerState {
	switch s {
	case "REDUCE":
		return domain.BreakerReduce
	case "PAUSE":
		return domain.BreakerPause
	case "HALT":
		return domain.BreakerHalt
	case "EMERGENCY":
		return domain.BreakerEmergency
	default:
		return domain.BreakerNormal
	}
}

func scanBreakerEventRows(rows pgx.Rows) ([]domain.BreakerEvent, error) {
	var events []domain.BreakerEvent
	for rows.Next() {
		var ev domain.BreakerEvent
		var from, to string
		if err := rows.Scan(&ev.ID, &from, &to, &ev.Reason, &ev.At); err != nil {
			return nil, err
		}
		ev.From = parseBreakerState(from)
		ev.To = parseBreakerState(to)
		events = append(events, ev)
	}
	return events, rows.Err()
}

// Append records one state transition.
func (s *BreakerEventStore) Append(ctx context.Context, ev domain.BreakerEvent) error {
	const query = `
		INSERT INTO breaker_events (from_state, to_state, reason, occurred_at)
		VALUES ($1, $2, $3, $4)`
	_, err := s.pool.Exec(ctx, query,
		ev.From.String(), ev.To.String(), ev.Reason, ev.At,
	)
	if err != nil {
		return fmt.Errorf("postgres: append breaker event %s->%s: %w", ev.From, ev.To, err)
	}
	return nil
}

// ListRecent returns the most recent transitions, newest first.
func (s *BreakerEventStore) ListRecent(ctx context.Context, limit int) ([]domain.BreakerEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, from_state, to_state, reason, occurred_at
		FROM breaker_events ORDER BY occurred_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list recent breaker events: %w", err)
	}
	defer rows.Close()

	events, err := scanBreakerEventRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan breaker events: %w", err)
	}
	return events, nil
}

// ListBefore returns all transitions older than the given time (for
// archiving).
func (s *BreakerEventStore) ListBefore(ctx context.Context, before time.Time) ([]domain.BreakerEvent, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, from_state, to_state, reason, occurred_at
		FROM breaker_events WHERE occurred_at < $1 ORDER BY occurred_at ASC`, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list breaker events before: %w", err)
	}
	defer rows.Close()
	return scanBreakerEventRows(rows)
}

// DeleteBefore deletes all transitions older than the given time. Returns the
// number deleted.
func (s *BreakerEventStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM breaker_events WHERE occurred_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete breaker events before: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Compile-time interface check.
var _ domain.BreakerEventStore = (*BreakerEventStore)(nil)
