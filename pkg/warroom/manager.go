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

// Package warroom maintains the shared context arbitrated across
// concurrent workers.
//
// Two surfaces live here. The war-room memo is a five-section bounded
// list (done, doing, next, blockers, notes) summarizing the current
// situation; items evict FIFO to an archive when a section fills, and an
// age sweep clears stale entries. The versioned context store holds
// named sections with monotone versions, checksummed bounded history,
// zstd-compressed older payloads, rollback, and conflict detection with
// policy-driven resolution.
//
// All operations on one manager are serialized; an add and a move on the
// same section never interleave. Update subscribers are notified after
// the mutation commits, and a panicking callback never affects its
// peers.
package warroom

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"

	"github.com/teradata-labs/jacquard/pkg/bus"
	"github.com/teradata-labs/jacquard/pkg/observability"
	"github.com/teradata-labs/jacquard/pkg/tokenbudget"
	"github.com/teradata-labs/jacquard/pkg/types"
)

// Span names for war-room operations.
const (
	SpanWarRoomAdd     = "warroom.add"
	SpanWarRoomMove    = "warroom.move"
	SpanWarRoomArchive = "warroom.archive"
	SpanContextUpdate  = "warroom.context_update"
	SpanContextRollbk  = "warroom.context_rollback"
)

// Defaults for the manager configuration.
const (
	DefaultMaxItems       = 50
	DefaultHistoryDepth   = 50
	DefaultArchiveTail    = 200
	DefaultCompactTokens  = 100000
	DefaultHistoryTrimLen = 256
)

// compressionThreshold is the minimum history payload size that gets
// zstd-compressed.
const compressionThreshold = 1024

// Config bundles the manager tunables.
type Config struct {
	// MaxItems bounds each memo section (default 50).
	MaxItems int

	// HistoryDepth bounds per-section version history (default 50).
	HistoryDepth int

	// ArchiveTail is how many archived memo items survive compaction
	// (default 200).
	ArchiveTail int

	// CompactTokens is the estimated-token threshold that triggers a
	// compaction pass (default 100000).
	CompactTokens int

	// Counter measures section and memo content. When nil a shared
	// cl100k_base counter is created.
	Counter *tokenbudget.Counter
}

func (c Config) withDefaults() Config {
	if c.MaxItems <= 0 {
		c.MaxItems = DefaultMaxItems
	}
	if c.HistoryDepth <= 0 {
		c.HistoryDepth = DefaultHistoryDepth
	}
	if c.ArchiveTail <= 0 {
		c.ArchiveTail = DefaultArchiveTail
	}
	if c.CompactTokens <= 0 {
		c.CompactTokens = DefaultCompactTokens
	}
	if c.Counter == nil {
		c.Counter = tokenbudget.NewCounter()
	}
	return c
}

// Manager owns the memo and the versioned context store.
type Manager struct {
	mu sync.Mutex

	memo      *memo
	archive   []ArchivedItem
	sections  map[string]*storedSection
	conflicts map[string]*Conflict

	subs map[string]*subscription

	cfg      Config
	counter  *tokenbudget.Counter
	eventBus *bus.Bus
	tracer   observability.Tracer
	logger   *zap.Logger

	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// subscription is one registered context-update callback.
type subscription struct {
	id        string
	contextID string
	callback  func(ContextSection)
}

// New creates a war-room manager. eventBus may be nil (events are then
// only logged).
func New(cfg Config, eventBus *bus.Bus, tracer observability.Tracer, logger *zap.Logger) (*Manager, error) {
	if tracer == nil {
		tracer = observability.NewNoOpTracer()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	encoder, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}

	cfg = cfg.withDefaults()
	return &Manager{
		memo:      newMemo(),
		sections:  make(map[string]*storedSection),
		conflicts: make(map[string]*Conflict),
		subs:      make(map[string]*subscription),
		cfg:       cfg,
		counter:   cfg.Counter,
		eventBus:  eventBus,
		tracer:    tracer,
		logger:    logger,
		encoder:   encoder,
		decoder:   decoder,
	}, nil
}

// SubscribeToContextUpdates registers a callback invoked with every
// applied update to the given context id. An empty contextID subscribes
// to every context.
func (m *Manager) SubscribeToContextUpdates(contextID string, callback func(ContextSection)) (string, error) {
	if callback == nil {
		return "", fmt.Errorf("callback cannot be nil")
	}
	sub := &subscription{
		id:        uuid.NewString(),
		contextID: contextID,
		callback:  callback,
	}
	m.mu.Lock()
	m.subs[sub.id] = sub
	m.mu.Unlock()
	return sub.id, nil
}

// Unsubscribe removes a context-update subscription. Unknown ids are a
// no-op.
func (m *Manager) Unsubscribe(subscriptionID string) {
	m.mu.Lock()
	delete(m.subs, subscriptionID)
	m.mu.Unlock()
}

// notifySubscribers invokes callbacks for an applied update. Caller must
// NOT hold the lock. A panic in one callback is contained so the rest
// still run.
func (m *Manager) notifySubscribers(contextID string, section ContextSection) {
	m.mu.Lock()
	targets := make([]*subscription, 0, len(m.subs))
	for _, sub := range m.subs {
		if sub.contextID == "" || sub.contextID == contextID {
			targets = append(targets, sub)
		}
	}
	m.mu.Unlock()

	for _, sub := range targets {
		m.invoke(sub, section)
	}
}

func (m *Manager) invoke(sub *subscription, section ContextSection) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("context subscriber panicked",
				zap.String("subscription_id", sub.id),
				zap.String("context_id", section.ID),
				zap.Any("panic", r))
		}
	}()
	sub.callback(section)
}

// emit publishes an event on the warroom channel.
func (m *Manager) emit(eventType string, payload any) {
	if m.eventBus == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	event := bus.NewEvent(eventType, "warroom", payload)
	if _, _, err := m.eventBus.Publish(ctx, types.ChannelWarRoom, event); err != nil {
		m.logger.Warn("failed to publish warroom event",
			zap.String("type", eventType), zap.Error(err))
	}
}

// subscriberCount reports registered subscriptions (used by tests).
func (m *Manager) subscriberCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs)
}
