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
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// EmbeddedConfig configures the embedded tracer.
type EmbeddedConfig struct {
	// Storage selects the span store backend: "memory" or "sqlite".
	Storage string

	// SQLitePath is the database path when Storage is "sqlite".
	SQLitePath string

	// MaxMemorySpans bounds the memory store (default 10000).
	MaxMemorySpans int

	// StaleSpanTTL expires spans that were started but never ended
	// (default 10 minutes).
	StaleSpanTTL time.Duration
}

// EmbeddedTracer records spans into a local SpanStore. It has no external
// collector and is safe for concurrent use.
type EmbeddedTracer struct {
	store  SpanStore
	logger *zap.Logger

	mu          sync.Mutex
	activeSpans map[string]*Span

	staleTTL  time.Duration
	sweepDone chan struct{}
	closeOnce sync.Once
}

// NewEmbeddedTracer creates a tracer backed by the configured span store.
func NewEmbeddedTracer(cfg EmbeddedConfig, logger *zap.Logger) (*EmbeddedTracer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var store SpanStore
	var err error
	switch cfg.Storage {
	case "", "memory":
		store = NewMemorySpanStore(cfg.MaxMemorySpans)
	case "sqlite":
		store, err = NewSQLiteSpanStore(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown tracer storage %q", cfg.Storage)
	}

	ttl := cfg.StaleSpanTTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}

	t := &EmbeddedTracer{
		store:       store,
		logger:      logger,
		activeSpans: make(map[string]*Span),
		staleTTL:    ttl,
		sweepDone:   make(chan struct{}),
	}
	go t.sweepStale()
	return t, nil
}

// StartSpan begins a new span. The returned context carries the span so
// children started from it nest under it.
func (t *EmbeddedTracer) StartSpan(ctx context.Context, name string, opts ...SpanOption) (context.Context, *Span) {
	span := &Span{
		SpanID:     uuid.New().String(),
		Name:       name,
		StartTime:  time.Now(),
		Attributes: make(map[string]interface{}),
		Status:     Status{Code: StatusUnset},
	}

	if parent := SpanFromContext(ctx); parent != nil {
		span.TraceID = parent.TraceID
		span.ParentID = parent.SpanID
	} else {
		span.TraceID = uuid.New().String()
	}

	for _, opt := range opts {
		opt(span)
	}

	t.mu.Lock()
	t.activeSpans[span.SpanID] = span
	t.mu.Unlock()

	return ContextWithSpan(ctx, span), span
}

// EndSpan completes the span and persists it.
func (t *EmbeddedTracer) EndSpan(span *Span) {
	if span == nil {
		return
	}

	span.EndTime = time.Now()
	if span.Status.Code == StatusUnset {
		span.Status.Code = StatusOK
	}

	t.mu.Lock()
	delete(t.activeSpans, span.SpanID)
	t.mu.Unlock()

	attrs := ""
	if len(span.Attributes) > 0 {
		if b, err := json.Marshal(span.Attributes); err == nil {
			attrs = string(b)
		}
	}

	rec := &SpanRecord{
		TraceID:        span.TraceID,
		SpanID:         span.SpanID,
		ParentID:       span.ParentID,
		Name:           span.Name,
		AttributesJSON: attrs,
		StartTime:      span.StartTime,
		DurationMs:     span.EndTime.Sub(span.StartTime).Milliseconds(),
		Status:         string(rune(span.Status.Code)),
		Error:          span.Status.Message,
	}
	if err := t.store.Insert(context.Background(), rec); err != nil {
		t.logger.Warn("failed to persist span",
			zap.String("span", span.Name),
			zap.Error(err))
	}
}

// RecordMetric logs a named measurement with its attributes.
func (t *EmbeddedTracer) RecordMetric(ctx context.Context, name string, value float64, attributes map[string]string) {
	fields := make([]zap.Field, 0, len(attributes)+2)
	fields = append(fields, zap.String("metric", name), zap.Float64("value", value))
	for k, v := range attributes {
		fields = append(fields, zap.String(k, v))
	}
	t.logger.Debug("metric", fields...)
}

// RecordEvent attaches an event to the active span, if any.
func (t *EmbeddedTracer) RecordEvent(ctx context.Context, name string, attributes map[string]interface{}) {
	if span := SpanFromContext(ctx); span != nil {
		span.AddEvent(name, attributes)
		return
	}
	t.logger.Debug("event outside span", zap.String("event", name))
}

// Flush is a no-op for the embedded tracer: spans persist on EndSpan.
func (t *EmbeddedTracer) Flush(ctx context.Context) error {
	return nil
}

// Recent returns the newest persisted spans.
func (t *EmbeddedTracer) Recent(ctx context.Context, limit int) ([]*SpanRecord, error) {
	return t.store.Recent(ctx, limit)
}

// Trace returns every persisted span of one trace in start order.
func (t *EmbeddedTracer) Trace(ctx context.Context, traceID string) ([]*SpanRecord, error) {
	return t.store.ByTrace(ctx, traceID)
}

// ActiveSpanCount reports spans started but not yet ended.
func (t *EmbeddedTracer) ActiveSpanCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.activeSpans)
}

// Close stops the stale sweeper and closes the span store.
func (t *EmbeddedTracer) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.sweepDone)
		err = t.store.Close()
	})
	return err
}

// sweepStale drops spans that were started but never ended so the active
// map cannot grow without bound.
func (t *EmbeddedTracer) sweepStale() {
	ticker := time.NewTicker(t.staleTTL / 2)
	defer ticker.Stop()

	for {
		select {
		case <-t.sweepDone:
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-t.staleTTL)
			t.mu.Lock()
			for id, span := range t.activeSpans {
				if span.StartTime.Before(cutoff) {
					delete(t.activeSpans, id)
					t.logger.Warn("expired span never ended",
						zap.String("span", span.Name))
				}
			}
			t.mu.Unlock()
		}
	}
}
