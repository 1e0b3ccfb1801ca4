package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// WhaleStore persists whale profiles and the pairwise correlation matrix.
type WhaleStore interface {
	Upsert(ctx context.Context, profile WhaleProfile) error
	UpsertBatch(ctx context.Context, profiles []WhaleProfile) error
	GetByAddress(ctx context.Context, address string) (WhaleProfile, error)
	ListTracked(ctx context.Context) ([]WhaleProfile, error)
	UpdateTier(ctx context.Context, address string, tier Tier) error
	SetCorrelation(ctx context.Context, a, b string, corr float64) error
	LoadCorrelations(ctx context.Context) (*CorrelationMatrix, error)
}

// ExecutionStore persists terminal execution results.
type ExecutionStore interface {
	Create(ctx context.Context, res ExecutionResult) error
	GetByID(ctx context.Context, id string) (ExecutionResult, error)
	ListRecent(ctx context.Context, limit int) ([]ExecutionResult, error)
	ListByWhale(ctx context.Context, whale string, opts ListOpts) ([]ExecutionResult, error)
	ListBefore(ctx context.Context, before time.Time) ([]ExecutionResult, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// OutcomeStore persists realized trade outcomes.
type OutcomeStore interface {
	Create(ctx context.Context, out TradeOutcome) error
	ListByWhale(ctx context.Context, whale string, opts ListOpts) ([]TradeOutcome, error)
	SumPnLSince(ctx context.Context, since time.Time) (float64, error)
}

// BreakerEventStore persists the immutable circuit-breaker event log.
type BreakerEventStore interface {
	Append(ctx context.Context, ev BreakerEvent) error
	ListRecent(ctx context.Context, limit int) ([]BreakerEvent, error)
	ListBefore(ctx context.Context, before time.Time) ([]BreakerEvent, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}

// Archiver moves aged rows from hot storage to cold blob storage. Each call
// returns the number of rows moved.
type Archiver interface {
	ArchiveExecutions(ctx context.Context, before time.Time) (int64, error)
	ArchiveBreakerEvents(ctx context.Context, before time.Time) (int64, error)
}
