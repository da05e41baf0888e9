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

// Package bus provides the typed multi-channel event bus connecting the
// runtime's subsystems (signals, agent logs, guidelines, lifecycle,
// war-room). Each subscriber runs its handler on its own goroutine fed
// by a bounded mailbox, so one slow subscriber never stalls publishers
// or its peers; when a mailbox fills, events are dropped and counted.
package bus

import (
	"context"
	"fmt"
	"path"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/teradata-labs/jacquard/pkg/observability"
	"github.com/teradata-labs/jacquard/pkg/types"
)

// Span constants for bus operations.
const (
	SpanBusPublish     = "bus.publish"
	SpanBusSubscribe   = "bus.subscribe"
	SpanBusUnsubscribe = "bus.unsubscribe"
)

// DefaultMailboxSize is the per-subscriber mailbox bound used when a
// subscriber does not specify one.
const DefaultMailboxSize = 256

// Handler consumes events delivered to a subscription. Handlers for one
// subscription run sequentially in publish order.
type Handler func(event types.Event)

// Bus is a topic-based event bus. All operations are safe for
// concurrent use by multiple goroutines.
type Bus struct {
	mu sync.RWMutex

	// Channel name (or subscribed pattern) → stats
	channels map[string]*channelStats

	// Subscription ID → subscription
	subscriptions map[string]*Subscription

	tracer observability.Tracer
	logger *zap.Logger

	// Metrics (atomic counters)
	totalPublished atomic.Int64
	totalDelivered atomic.Int64
	totalDropped   atomic.Int64

	wg     sync.WaitGroup
	closed atomic.Bool
}

// channelStats tracks per-channel counters.
type channelStats struct {
	totalPublished atomic.Int64
	totalDelivered atomic.Int64
	totalDropped   atomic.Int64
	createdAt      time.Time
	lastPublishAt  atomic.Value // time.Time
}

// ChannelStats is a point-in-time snapshot of one channel's counters.
type ChannelStats struct {
	Channel           string
	TotalPublished    int64
	TotalDelivered    int64
	TotalDropped      int64
	ActiveSubscribers int
	CreatedAt         time.Time
	LastPublishAt     time.Time
}

// Subscription is the cancellation handle returned by Subscribe.
type Subscription struct {
	// ID is the token passed to Unsubscribe.
	ID string

	// SubscriberID labels the owning component or agent.
	SubscriberID string

	// Pattern is the channel pattern the subscription matches.
	Pattern string

	// Created is when the subscription was registered.
	Created time.Time

	handler Handler
	mailbox chan types.Event
}

// New creates an event bus. A nil tracer disables spans; a nil logger
// falls back to a no-op logger.
func New(tracer observability.Tracer, logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{
		channels:      make(map[string]*channelStats),
		subscriptions: make(map[string]*Subscription),
		tracer:        tracer,
		logger:        logger,
	}
}

// NewEvent builds an event envelope with a fresh id and timestamp. The
// channel field is stamped by Publish.
func NewEvent(eventType, source string, payload any) types.Event {
	return types.Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Source:    source,
		Timestamp: time.Now(),
		Payload:   payload,
	}
}

// Publish delivers the event to every subscription whose pattern
// matches the channel. It never blocks on slow subscribers: full
// mailboxes drop the event. Returns (delivered, dropped, error).
func (b *Bus) Publish(ctx context.Context, channel string, event types.Event) (int, int, error) {
	if b.closed.Load() {
		return 0, 0, types.ErrBusClosed
	}
	if channel == "" {
		return 0, 0, fmt.Errorf("channel cannot be empty")
	}

	var span *observability.Span
	if b.tracer != nil {
		_, span = b.tracer.StartSpan(ctx, SpanBusPublish)
		defer b.tracer.EndSpan(span)
		span.SetAttribute("channel", channel)
		span.SetAttribute("event_type", event.Type)
	}

	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	event.Channel = channel

	start := time.Now()
	delivered := 0
	dropped := 0

	b.mu.RLock()
	for _, sub := range b.subscriptions {
		if !matchesChannelPattern(sub.Pattern, channel) {
			continue
		}
		select {
		case sub.mailbox <- event:
			delivered++
		default:
			// Mailbox full: drop rather than stall the publisher.
			dropped++
		}
	}
	b.mu.RUnlock()

	b.totalPublished.Add(1)
	b.totalDelivered.Add(int64(delivered))
	b.totalDropped.Add(int64(dropped))

	stats := b.getOrCreateChannel(channel)
	stats.totalPublished.Add(1)
	stats.totalDelivered.Add(int64(delivered))
	stats.totalDropped.Add(int64(dropped))
	stats.lastPublishAt.Store(time.Now())

	latency := time.Since(start)
	if span != nil {
		span.SetAttribute("delivered", delivered)
		span.SetAttribute("dropped", dropped)
		span.SetAttribute("latency_us", latency.Microseconds())
	}

	if dropped > 0 {
		b.logger.Warn("bus publish dropped events",
			zap.String("channel", channel),
			zap.String("event_type", event.Type),
			zap.Int("delivered", delivered),
			zap.Int("dropped", dropped))
	} else {
		b.logger.Debug("bus publish",
			zap.String("channel", channel),
			zap.String("event_type", event.Type),
			zap.Int("delivered", delivered),
			zap.Duration("latency", latency))
	}

	return delivered, dropped, nil
}

// Subscribe registers a handler for every event published on channels
// matching the pattern. Patterns support path.Match wildcards:
// "streaming:*" matches "streaming:started" and "streaming:stopped".
// The handler runs on a dedicated goroutine in per-channel FIFO order.
func (b *Bus) Subscribe(ctx context.Context, subscriberID, channelPattern string, handler Handler, mailboxSize int) (*Subscription, error) {
	if b.closed.Load() {
		return nil, types.ErrBusClosed
	}
	if subscriberID == "" {
		return nil, fmt.Errorf("subscriber ID cannot be empty")
	}
	if channelPattern == "" {
		return nil, fmt.Errorf("channel pattern cannot be empty")
	}
	if handler == nil {
		return nil, fmt.Errorf("handler cannot be nil")
	}
	if mailboxSize <= 0 {
		mailboxSize = DefaultMailboxSize
	}

	var span *observability.Span
	if b.tracer != nil {
		_, span = b.tracer.StartSpan(ctx, SpanBusSubscribe)
		defer b.tracer.EndSpan(span)
		span.SetAttribute("subscriber_id", subscriberID)
		span.SetAttribute("channel_pattern", channelPattern)
		span.SetAttribute("mailbox_size", mailboxSize)
	}

	sub := &Subscription{
		ID:           uuid.NewString(),
		SubscriberID: subscriberID,
		Pattern:      channelPattern,
		Created:      time.Now(),
		handler:      handler,
		mailbox:      make(chan types.Event, mailboxSize),
	}

	b.getOrCreateChannel(channelPattern)

	b.mu.Lock()
	b.subscriptions[sub.ID] = sub
	b.mu.Unlock()

	b.wg.Add(1)
	go b.dispatch(sub)

	b.logger.Debug("bus subscribe",
		zap.String("subscription_id", sub.ID),
		zap.String("subscriber_id", subscriberID),
		zap.String("channel_pattern", channelPattern),
		zap.Int("mailbox_size", mailboxSize))

	return sub, nil
}

// dispatch drains the subscription's mailbox, invoking the handler for
// each event. A panicking handler is contained here so it cannot affect
// other subscribers.
func (b *Bus) dispatch(sub *Subscription) {
	defer b.wg.Done()
	for event := range sub.mailbox {
		b.invoke(sub, event)
	}
}

func (b *Bus) invoke(sub *Subscription, event types.Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("bus handler panicked",
				zap.String("subscription_id", sub.ID),
				zap.String("subscriber_id", sub.SubscriberID),
				zap.String("event_type", event.Type),
				zap.Any("panic", r))
		}
	}()
	sub.handler(event)
}

// Unsubscribe cancels a subscription. Unsubscribing an unknown or
// already-cancelled id is a no-op.
func (b *Bus) Unsubscribe(ctx context.Context, subscriptionID string) error {
	if subscriptionID == "" {
		return fmt.Errorf("subscription ID cannot be empty")
	}

	var span *observability.Span
	if b.tracer != nil {
		_, span = b.tracer.StartSpan(ctx, SpanBusUnsubscribe)
		defer b.tracer.EndSpan(span)
		span.SetAttribute("subscription_id", subscriptionID)
	}

	b.mu.Lock()
	sub, found := b.subscriptions[subscriptionID]
	if found {
		delete(b.subscriptions, subscriptionID)
		close(sub.mailbox)
	}
	b.mu.Unlock()

	if found {
		b.logger.Debug("bus unsubscribe",
			zap.String("subscription_id", subscriptionID),
			zap.String("subscriber_id", sub.SubscriberID))
	}
	return nil
}

// ListChannels returns every channel that has been published or
// subscribed to.
func (b *Bus) ListChannels(ctx context.Context) []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	channels := make([]string, 0, len(b.channels))
	for ch := range b.channels {
		channels = append(channels, ch)
	}
	return channels
}

// Stats returns a snapshot of one channel's counters.
func (b *Bus) Stats(ctx context.Context, channel string) (*ChannelStats, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	cs, ok := b.channels[channel]
	if !ok {
		return nil, fmt.Errorf("channel not found: %s", channel)
	}

	subscribers := 0
	for _, sub := range b.subscriptions {
		if matchesChannelPattern(sub.Pattern, channel) {
			subscribers++
		}
	}

	lastPublish := time.Time{}
	if v := cs.lastPublishAt.Load(); v != nil {
		if t, ok := v.(time.Time); ok {
			lastPublish = t
		}
	}

	return &ChannelStats{
		Channel:           channel,
		TotalPublished:    cs.totalPublished.Load(),
		TotalDelivered:    cs.totalDelivered.Load(),
		TotalDropped:      cs.totalDropped.Load(),
		ActiveSubscribers: subscribers,
		CreatedAt:         cs.createdAt,
		LastPublishAt:     lastPublish,
	}, nil
}

// Close shuts down the bus, cancels every subscription, and waits for
// in-flight handlers to drain. Close is idempotent.
func (b *Bus) Close() error {
	if !b.closed.CompareAndSwap(false, true) {
		return nil
	}

	b.mu.Lock()
	for id, sub := range b.subscriptions {
		close(sub.mailbox)
		delete(b.subscriptions, id)
	}
	b.mu.Unlock()

	b.wg.Wait()

	b.logger.Info("event bus closed",
		zap.Int64("total_published", b.totalPublished.Load()),
		zap.Int64("total_delivered", b.totalDelivered.Load()),
		zap.Int64("total_dropped", b.totalDropped.Load()))
	return nil
}

func (b *Bus) getOrCreateChannel(channel string) *channelStats {
	b.mu.Lock()
	defer b.mu.Unlock()

	cs, exists := b.channels[channel]
	if !exists {
		cs = &channelStats{createdAt: time.Now()}
		b.channels[channel] = cs
	}
	return cs
}

// matchesChannelPattern checks a channel name against a subscription
// pattern. Exact names match themselves; otherwise path.Match semantics
// apply.
func matchesChannelPattern(pattern, channel string) bool {
	if pattern == channel {
		return true
	}
	matched, err := path.Match(pattern, channel)
	if err != nil {
		return false
	}
	return matched
}
