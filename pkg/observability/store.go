// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package observability

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/teradata-labs/jacquard/internal/sqlitedriver"
)

// SpanRecord is the persisted form of a completed span.
type SpanRecord struct {
	TraceID        string
	SpanID         string
	ParentID       string
	Name           string
	AttributesJSON string
	StartTime      time.Time
	DurationMs     int64
	Status         string
	Error          string
}

// SpanStore persists completed spans for later inspection.
type SpanStore interface {
	// Insert stores one completed span.
	Insert(ctx context.Context, rec *SpanRecord) error

	// Recent returns up to limit spans, newest first.
	Recent(ctx context.Context, limit int) ([]*SpanRecord, error)

	// ByTrace returns every span of a trace in start order.
	ByTrace(ctx context.Context, traceID string) ([]*SpanRecord, error)

	// Close releases store resources.
	Close() error
}

// ============================================================================
// Memory store
// ============================================================================

// memoryStore keeps the newest spans in a bounded ring.
type memoryStore struct {
	mu     sync.RWMutex
	spans  []*SpanRecord
	maxLen int
}

// NewMemorySpanStore creates an in-memory span store bounded at maxSpans
// (default 10000 when <= 0).
func NewMemorySpanStore(maxSpans int) SpanStore {
	if maxSpans <= 0 {
		maxSpans = 10000
	}
	return &memoryStore{maxLen: maxSpans}
}

func (m *memoryStore) Insert(ctx context.Context, rec *SpanRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.spans = append(m.spans, rec)
	if len(m.spans) > m.maxLen {
		// Drop the oldest half to amortize the copy.
		keep := m.maxLen / 2
		m.spans = append(m.spans[:0:0], m.spans[len(m.spans)-keep:]...)
	}
	return nil
}

func (m *memoryStore) Recent(ctx context.Context, limit int) ([]*SpanRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 || limit > len(m.spans) {
		limit = len(m.spans)
	}
	out := make([]*SpanRecord, 0, limit)
	for i := len(m.spans) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.spans[i])
	}
	return out, nil
}

func (m *memoryStore) ByTrace(ctx context.Context, traceID string) ([]*SpanRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*SpanRecord
	for _, rec := range m.spans {
		if rec.TraceID == traceID {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (m *memoryStore) Close() error { return nil }

// ============================================================================
// SQLite store
// ============================================================================

// sqliteStore persists spans to a SQLite database via the shared
// "sqlite3" driver registration.
type sqliteStore struct {
	db *sql.DB
}

// NewSQLiteSpanStore opens (and migrates) a SQLite-backed span store at
// path. Use ":memory:" for an ephemeral store.
func NewSQLiteSpanStore(path string) (SpanStore, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite span store requires a path")
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open span store: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply %s: %w", p, err)
		}
	}

	schema := `CREATE TABLE IF NOT EXISTS spans (
		span_id     TEXT PRIMARY KEY,
		trace_id    TEXT NOT NULL,
		parent_id   TEXT,
		name        TEXT NOT NULL,
		attributes  TEXT,
		start_ms    INTEGER NOT NULL,
		duration_ms INTEGER NOT NULL,
		status      TEXT,
		error       TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_spans_trace ON spans(trace_id);
	CREATE INDEX IF NOT EXISTS idx_spans_start ON spans(start_ms);`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate span store: %w", err)
	}

	return &sqliteStore{db: db}, nil
}

func (s *sqliteStore) Insert(ctx context.Context, rec *SpanRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO spans
		 (span_id, trace_id, parent_id, name, attributes, start_ms, duration_ms, status, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.SpanID, rec.TraceID, rec.ParentID, rec.Name, rec.AttributesJSON,
		rec.StartTime.UnixMilli(), rec.DurationMs, rec.Status, rec.Error)
	if err != nil {
		return fmt.Errorf("insert span: %w", err)
	}
	return nil
}

func (s *sqliteStore) Recent(ctx context.Context, limit int) ([]*SpanRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT span_id, trace_id, parent_id, name, attributes, start_ms, duration_ms, status, error
		 FROM spans ORDER BY start_ms DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent spans: %w", err)
	}
	defer rows.Close()
	return scanSpans(rows)
}

func (s *sqliteStore) ByTrace(ctx context.Context, traceID string) ([]*SpanRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT span_id, trace_id, parent_id, name, attributes, start_ms, duration_ms, status, error
		 FROM spans WHERE trace_id = ? ORDER BY start_ms ASC`, traceID)
	if err != nil {
		return nil, fmt.Errorf("query trace spans: %w", err)
	}
	defer rows.Close()
	return scanSpans(rows)
}

func scanSpans(rows *sql.Rows) ([]*SpanRecord, error) {
	var out []*SpanRecord
	for rows.Next() {
		var rec SpanRecord
		var parentID, attrs, status, errMsg sql.NullString
		var startMs int64
		if err := rows.Scan(&rec.SpanID, &rec.TraceID, &parentID, &rec.Name, &attrs,
			&startMs, &rec.DurationMs, &status, &errMsg); err != nil {
			return nil, fmt.Errorf("scan span: %w", err)
		}
		rec.ParentID = parentID.String
		rec.AttributesJSON = attrs.String
		rec.Status = status.String
		rec.Error = errMsg.String
		rec.StartTime = time.UnixMilli(startMs)
		out = append(out, &rec)
	}
	return out, rows.Err()
}

func (s *sqliteStore) Close() error {
	return s.db.Close()
}
