package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quantfold/whalecopy/internal/domain"
)

// WhaleStore implements domain.WhaleStore using PostgreSQL.
type WhaleStore struct {
	pool *pgxpool.Pool
}

// NewWhaleStore creates a new WhaleStore backed by the given connection pool.
func NewWhaleStore(pool *pgxpool.Pool) *WhaleStore {
	return &WhaleStore{pool: pool}
}

const whaleSelectCols = `address, quality_score, sharpe_30d, sharpe_90d,
	drawdown, adv_usd, tier, updated_at`

const whaleUpsertQuery = `
	INSERT INTO whales (
		address, quality_score, sharpe_30d, sharpe_90d,
		drawdown, adv_usd, tier, updated_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	ON CONFLICT (address) DO UPDATE SET
		quality_score = EXCLUDED.quality_score,
		sharpe_30d = EXCLUDED.sharpe_30d,
		sharpe_90d = EXCLUDED.sharpe_90d,
		drawdown = EXCLUDED.drawdown,
		adv_usd = EXCLUDED.adv_usd,
		tier = EXCLUDED.tier,
		updated_at = EXCLUDED.updated_at`

func scanWhaleRows(rows pgx.Rows) ([]domain.WhaleProfile, error) {
	var profiles []domain.WhaleProfile
	for rows.Next() {
		p, err := scanWhale(rows)
		if err != nil {
			return nil, err
		}
		profiles = append(profiles, p)
	}
	return profiles, rows.Err()
}

func scanWhale(row pgx.Row) (domain.WhaleProfile, error) {
	var p domain.WhaleProfile
	var tier string
	if err := row.Scan(
		&p.Address, &p.QualityScore, &p.Sharpe30d, &p.Sharpe90d,
		&p.Drawdown, &p.ADV, &tier, &p.UpdatedAt,
	); err != nil {
		return domain.WhaleProfile{}, err
	}
	p.Tier = domain.ParseTier(tier)
	return p, nil
}

// Upsert inserts or replaces a whale profile keyed by address.
func (s *WhaleStore) Upsert(ctx context.Context, profile domain.WhaleProfile) error {
	_, err := s.pool.Exec(ctx, whaleUpsertQuery,
		profile.Address, profile.QualityScore, profile.Sharpe30d, profile.Sharpe90d,
		profile.Drawdown, profile.ADV, profile.Tier.String(), profile.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert whale %s: %w", profile.Address, err)
	}
	return nil
}

// UpsertBatch upserts multiple whale profiles efficiently using pgx Batch.
func (s *WhaleStore) UpsertBatch(ctx context.Context, profiles []domain.WhaleProfile) error {
	if len(profiles) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, p := range profiles {
		batch.Queue(whaleUpsertQuery,
			p.Address, p.QualityScore, p.Sharpe30d, p.Sharpe90d,
			p.Drawdown, p.ADV, p.Tier.String(), p.UpdatedAt,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := range profiles {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: upsert whale batch item %d: %w", i, err)
		}
	}
	return nil
}

// GetByAddress returns the profile for one whale.
// It returns domain.ErrNotFound if the whale is not tracked.
func (s *WhaleStore) GetByAddress(ctx context.Context, address string) (domain.WhaleProfile, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+whaleSelectCols+` FROM whales WHERE address = $1`, address)

	p, err := scanWhale(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.WhaleProfile{}, domain.ErrNotFound
		}
		return domain.WhaleProfile{}, fmt.Errorf("postgres: get whale %s: %w", address, err)
	}
	return p, nil
}

// ListTracked returns all tracked whale profiles ordered by quality score.
func (s *WhaleStore) ListTracked(ctx context.Context) ([]domain.WhaleProfile, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+whaleSelectCols+` FROM whales ORDER BY quality_score DESC`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list whales: %w", err)
	}
	defer rows.Close()

	profiles, err := scanWhaleRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan whales: %w", err)
	}
	return profiles, nil
}

// UpdateTier changes the allocation tier of one whale.
// It returns domain.ErrNotFound if the whale is not tracked.
func (s *WhaleStore) UpdateTier(ctx context.Context, address string, tier domain.Tier) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE whales SET tier = $2, updated_at = NOW() WHERE address = $1`,
		address, tier.String(),
	)
	if err != nil {
		return fmt.Errorf("postgres: update whale tier %s: %w", address, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// SetCorrelation records the pairwise trade-overlap correlation between two
// whales. The pair is stored in normalized (lexicographic) order so each
// unordered pair appears once.
func (s *WhaleStore) SetCorrelation(ctx context.Context, a, b string, corr float64) error {
	if b < a {
		a, b = b, a
	}
	const query = `
		INSERT INTO whale_correlations (addr_a, addr_b, correlation, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (addr_a, addr_b) DO UPDATE SET
			correlation = EXCLUDED.correlation,
			updated_at = EXCLUDED.updated_at`
	if _, err := s.pool.Exec(ctx, query, a, b, corr); err != nil {
		return fmt.Errorf("postgres: set correlation %s/%s: %w", a, b, err)
	}
	return nil
}

// LoadCorrelations reads the full pairwise correlation matrix.
func (s *WhaleStore) LoadCorrelations(ctx context.Context) (*domain.CorrelationMatrix, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT addr_a, addr_b, correlation FROM whale_correlations`)
	if err != nil {
		return nil, fmt.Errorf("postgres: load correlations: %w", err)
	}
	defer rows.Close()

	m := domain.NewCorrelationMatrix()
	for rows.Next() {
		var a, b string
		var corr float64
		if err := rows.Scan(&a, &b, &corr); err != nil {
			return nil, fmt.Errorf("postgres: scan correlation: %w", err)
		}
		m.Set(a, b, corr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: load correlations rows: %w", err)
	}
	return m, nil
}

// Compile-time interface check.
var _ domain.WhaleStore = (*WhaleStore)(nil)
