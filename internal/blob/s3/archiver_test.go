package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/quantfold/whalecopy/internal/domain"
)

type memWriter struct {
	objects map[string][]byte
	putErr  error
}

func newMemWriter() *memWriter {
	return &memWriter{objects: make(map[string][]byte)}
}

func (w *memWriter) Put(_ context.Context, path string, data io.Reader, _ string) error {
	if w.putErr != nil {
		return w.putErr
	}
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	w.objects[path] = b
	return nil
}

// memReader reads back what memWriter stored so the delete-after-verify
// path can run against the same in-memory bucket.
type memReader struct {
	w        *memWriter
	truncate int // when > 0, Get returns only the first N bytes
	getErr   error
}

func (r *memReader) Get(_ context.Context, path string) (io.ReadCloser, error) {
	if r.getErr != nil {
		return nil, r.getErr
	}
	b, ok := r.w.objects[path]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if r.truncate > 0 && len(b) > r.truncate {
		b = b[:r.truncate]
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (r *memReader) List(_ context.Context, prefix string) ([]domain.BlobInfo, error) {
	var infos []domain.BlobInfo
	for path, b := range r.w.objects {
		if strings.HasPrefix(path, prefix) {
			infos = append(infos, domain.BlobInfo{Path: path, Size: int64(len(b))})
		}
	}
	return infos, nil
}

func (r *memReader) Exists(_ context.Context, path string) (bool, error) {
	_, ok := r.w.objects[path]
	return ok, nil
}

type memExecStore struct {
	rows    []domain.ExecutionResult
	deleted int64
}

func (s *memExecStore) ListBefore(_ context.Context, before time.Time) ([]domain.ExecutionResult, error) {
	var out []domain.ExecutionResult
	for _, r := range s.rows {
		if r.ExecutedAt.Before(before) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *memExecStore) DeleteBefore(_ context.Context, before time.Time) (int64, error) {
	var keep []domain.ExecutionResult
	var n int64
	for _, r := range s.rows {
		if r.ExecutedAt.Before(before) {
			n++
			continue
		}
		keep = append(keep, r)
	}
	s.rows = keep
	s.deleted += n
	return n, nil
}

type memBreakerStore struct {
	rows []domain.BreakerEvent
}

func (s *memBreakerStore) ListBefore(_ context.Context, before time.Time) ([]domain.BreakerEvent, error) {
	var out []domain.BreakerEvent
	for _, ev := range s.rows {
		if ev.At.Before(before) {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (s *memBreakerStore) DeleteBefore(_ context.Context, before time.Time) (int64, error) {
	var keep []domain.BreakerEvent
	var n int64
	for _, ev := range s.rows {
		if ev.At.Before(before) {
			n++
			continue
		}
		keep = append(keep, ev)
	}
	s.rows = keep
	return n, nil
}

type memAudit struct {
	events []string
}

func (a *memAudit) Log(_ context.Context, event string, _ map[string]any) error {
	a.events = append(a.events, event)
	return nil
}

func (a *memAudit) List(_ context.Context, _ domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

func TestArchiveExecutionsMovesAgedRows(t *testing.T) {
	cutoff := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	execs := &memExecStore{rows: []domain.ExecutionResult{
		{ID: "old-1", Whale: "0xabc", ExecutedAt: cutoff.Add(-48 * time.Hour)},
		{ID: "old-2", Whale: "0xabc", ExecutedAt: cutoff.Add(-time.Hour)},
		{ID: "fresh", Whale: "0xdef", ExecutedAt: cutoff.Add(time.Hour)},
	}}
	writer := newMemWriter()
	audit := &memAudit{}
	arch := NewArchiver(writer, &memReader{w: writer}, execs, &memBreakerStore{}, audit)

	moved, err := arch.ArchiveExecutions(context.Background(), cutoff)
	if err != nil {
		t.Fatalf("ArchiveExecutions: %v", err)
	}
	if moved != 2 {
		t.Errorf("moved = %d, want 2", moved)
	}

	wantPath := "archive/executions/2026-05.jsonl"
	blob, ok := writer.objects[wantPath]
	if !ok {
		t.Fatalf("expected object at %s, got %v", wantPath, writer.objects)
	}

	// Each archived row is one JSON line.
	var lines int
	sc := bufio.NewScanner(bytes.NewReader(blob))
	for sc.Scan() {
		lines++
		var row map[string]any
		if err := json.Unmarshal(sc.Bytes(), &row); err != nil {
			t.Fatalf("line %d is not valid JSON: %v", lines, err)
		}
	}
	if lines != 2 {
		t.Errorf("archive lines = %d, want 2", lines)
	}

	if len(execs.rows) != 1 || execs.rows[0].ID != "fresh" {
		t.Errorf("hot store after archive = %+v, want only fresh row", execs.rows)
	}
	if len(audit.events) != 1 || audit.events[0] != "archive.executions" {
		t.Errorf("audit events = %v", audit.events)
	}
}

func TestArchiveExecutionsUploadFailureLeavesRows(t *testing.T) {
	cutoff := time.Now()
	execs := &memExecStore{rows: []domain.ExecutionResult{
		{ID: "old", ExecutedAt: cutoff.Add(-time.Hour)},
	}}
	writer := newMemWriter()
	writer.putErr = errors.New("bucket unavailable")
	arch := NewArchiver(writer, &memReader{w: writer}, execs, &memBreakerStore{}, &memAudit{})

	if _, err := arch.ArchiveExecutions(context.Background(), cutoff); err == nil {
		t.Fatal("expected upload error")
	}
	if len(execs.rows) != 1 {
		t.Errorf("rows deleted despite failed upload: %+v", execs.rows)
	}
}

func TestArchiveExecutionsTruncatedUploadLeavesRows(t *testing.T) {
	cutoff := time.Now()
	execs := &memExecStore{rows: []domain.ExecutionResult{
		{ID: "old", ExecutedAt: cutoff.Add(-time.Hour)},
	}}
	writer := newMemWriter()
	// The stored object reads back short of what was uploaded.
	reader := &memReader{w: writer, truncate: 5}
	arch := NewArchiver(writer, reader, execs, &memBreakerStore{}, &memAudit{})

	if _, err := arch.ArchiveExecutions(context.Background(), cutoff); err == nil {
		t.Fatal("expected verification error")
	}
	if len(execs.rows) != 1 {
		t.Errorf("rows deleted despite failed verification: %+v", execs.rows)
	}
}

func TestArchiveBreakerEventsEmptyIsNoop(t *testing.T) {
	writer := newMemWriter()
	audit := &memAudit{}
	arch := NewArchiver(writer, &memReader{w: writer}, &memExecStore{}, &memBreakerStore{}, audit)

	moved, err := arch.ArchiveBreakerEvents(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("ArchiveBreakerEvents: %v", err)
	}
	if moved != 0 {
		t.Errorf("moved = %d, want 0", moved)
	}
	if len(writer.objects) != 0 {
		t.Errorf("unexpected uploads: %v", writer.objects)
	}
	if len(audit.events) != 0 {
		t.Errorf("unexpected audit events: %v", audit.events)
	}
}

func TestArchiveBreakerEvents(t *testing.T) {
	cutoff := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	brk := &memBreakerStore{rows: []domain.BreakerEvent{
		{ID: 1, From: domain.BreakerNormal, To: domain.BreakerPause, Reason: "daily loss", At: cutoff.Add(-time.Hour)},
		{ID: 2, From: domain.BreakerPause, To: domain.BreakerNormal, Reason: "recovered", At: cutoff.Add(time.Hour)},
	}}
	writer := newMemWriter()
	arch := NewArchiver(writer, &memReader{w: writer}, &memExecStore{}, brk, &memAudit{})

	moved, err := arch.ArchiveBreakerEvents(context.Background(), cutoff)
	if err != nil {
		t.Fatalf("ArchiveBreakerEvents: %v", err)
	}
	if moved != 1 {
		t.Errorf("moved = %d, want 1", moved)
	}
	blob := writer.objects["archive/breaker_events/2026-02.jsonl"]
	if !strings.Contains(string(blob), "daily loss") {
		t.Errorf("archive missing event reason: %s", blob)
	}
	if len(brk.rows) != 1 || brk.rows[0].ID != 2 {
		t.Errorf("hot rows after archive = %+v", brk.rows)
	}
}
