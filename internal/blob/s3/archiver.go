package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/quantfold/whalecopy/internal/domain"
)

// Narrow store interfaces required by the archiver. The Postgres stores
// satisfy these implicitly through their ListBefore / DeleteBefore methods.

// ExecutionArchiveStore provides time-ranged access to execution rows.
type ExecutionArchiveStore interface {
	ListBefore(ctx context.Context, before time.Time) ([]domain.ExecutionResult, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// BreakerEventArchiveStore provides time-ranged access to breaker event rows.
type BreakerEventArchiveStore interface {
	ListBefore(ctx context.Context, before time.Time) ([]domain.BreakerEvent, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// Archiver implements domain.Archiver by querying the hot stores for aged
// rows, serializing them to JSONL, uploading the result to cold storage,
// and only then deleting the rows from the hot store. The uploaded object
// is read back and length-checked before the hot rows go away; an upload
// or verification failure leaves the hot rows untouched.
type Archiver struct {
	writer     domain.BlobWriter
	reader     domain.BlobReader
	executions ExecutionArchiveStore
	breakerEvs BreakerEventArchiveStore
	audit      domain.AuditStore
}

// NewArchiver creates an Archiver writing through the given blob writer and
// verifying uploads through the given reader.
func NewArchiver(
	writer domain.BlobWriter,
	reader domain.BlobReader,
	executions ExecutionArchiveStore,
	breakerEvs BreakerEventArchiveStore,
	audit domain.AuditStore,
) *Archiver {
	return &Archiver{
		writer:     writer,
		reader:     reader,
		executions: executions,
		breakerEvs: breakerEvs,
		audit:      audit,
	}
}

// ArchiveExecutions moves all execution rows older than the cutoff to cold
// storage at archive/executions/YYYY-MM.jsonl and returns the number moved.
func (a *Archiver) ArchiveExecutions(ctx context.Context, before time.Time) (int64, error) {
	rows, err := a.executions.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive executions query: %w", err)
	}
	if len(rows) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(rows)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive executions marshal: %w", err)
	}

	path := archivePath("executions", before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive executions upload: %w", err)
	}
	if err := a.verifyArchive(ctx, path, int64(len(buf))); err != nil {
		return 0, fmt.Errorf("s3blob: archive executions verify: %w", err)
	}

	deleted, err := a.executions.DeleteBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive executions prune: %w", err)
	}

	if err := a.audit.Log(ctx, "archive.executions", map[string]any{
		"path":   path,
		"count":  deleted,
		"before": before.Format(time.RFC3339),
	}); err != nil {
		return deleted, fmt.Errorf("s3blob: archive executions audit log: %w", err)
	}

	return deleted, nil
}

// ArchiveBreakerEvents moves all breaker event rows older than the cutoff to
// cold storage at archive/breaker_events/YYYY-MM.jsonl and returns the
// number moved.
func (a *Archiver) ArchiveBreakerEvents(ctx context.Context, before time.Time) (int64, error) {
	rows, err := a.breakerEvs.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive breaker events query: %w", err)
	}
	if len(rows) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(rows)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive breaker events marshal: %w", err)
	}

	path := archivePath("breaker_events", before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive breaker events upload: %w", err)
	}
	if err := a.verifyArchive(ctx, path, int64(len(buf))); err != nil {
		return 0, fmt.Errorf("s3blob: archive breaker events verify: %w", err)
	}

	deleted, err := a.breakerEvs.DeleteBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive breaker events prune: %w", err)
	}

	if err := a.audit.Log(ctx, "archive.breaker_events", map[string]any{
		"path":   path,
		"count":  deleted,
		"before": before.Format(time.RFC3339),
	}); err != nil {
		return deleted, fmt.Errorf("s3blob: archive breaker events audit log: %w", err)
	}

	return deleted, nil
}

// verifyArchive reads the uploaded object back and checks it carries the
// full payload before the hot rows are deleted. A short read means a
// truncated upload and the archive run aborts with the rows intact.
func (a *Archiver) verifyArchive(ctx context.Context, path string, want int64) error {
	body, err := a.reader.Get(ctx, path)
	if err != nil {
		return err
	}
	defer body.Close()

	n, err := io.Copy(io.Discard, body)
	if err != nil {
		return fmt.Errorf("read back %s: %w", path, err)
	}
	if n != want {
		return fmt.Errorf("object %s is %d bytes, uploaded %d", path, n, want)
	}
	return nil
}

// archivePath builds the object key for an archive file, partitioned by the
// year-month of the cutoff time.
//
//	archive/executions/2026-05.jsonl
//	archive/breaker_events/2026-05.jsonl
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.Format("2006-01"))
}

// marshalJSONL serialises a slice of values as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

// Compile-time interface check.
var _ domain.Archiver = (*Archiver)(nil)
