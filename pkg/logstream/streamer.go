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

// Package logstream converts raw agent session output into structured
// log entries and scored signals.
//
// One Stream runs per session as a small pipeline: the session host's
// line channel feeds a processing loop that ring-buffers entries,
// classifies levels with keyword heuristics, and runs token detection.
// Detected signals go out twice, as events on the agent-logs channel and
// into the orchestrator's queue through the SignalSink.
//
// The Streamer manages streams: explicit start/stop, optional session
// auto-discovery against the host, and a short buffer-retention grace
// after teardown so late readers still see the tail.
package logstream

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/teradata-labs/jacquard/pkg/bus"
	"github.com/teradata-labs/jacquard/pkg/observability"
	"github.com/teradata-labs/jacquard/pkg/sessionhost"
	"github.com/teradata-labs/jacquard/pkg/signal"
	"github.com/teradata-labs/jacquard/pkg/types"
)

// Span names for streamer operations.
const (
	SpanStreamStart  = "logstream.start"
	SpanStreamStop   = "logstream.stop"
	SpanStreamDetect = "logstream.detect"
)

// Defaults for the streamer configuration.
const (
	DefaultBufferSize      = 1000
	DefaultMaxLineLength   = 2000
	DefaultMonitorInterval = 5 * time.Second
	DefaultDetectTimeout   = 5 * time.Second
	DefaultRetainGrace     = 5 * time.Second
)

// SignalSink receives every detected signal; the orchestrator queue
// satisfies this.
type SignalSink func(ctx context.Context, sig signal.Signal) error

// Config bundles the streamer tunables.
type Config struct {
	// BufferSize is the per-session ring capacity (default 1000).
	BufferSize int

	// MaxLineLength truncates stored lines (default 2000).
	MaxLineLength int

	// AutoDiscovery enables the host enumeration loop.
	AutoDiscovery bool

	// MonitorInterval is the discovery cadence (default 5s).
	MonitorInterval time.Duration

	// SignalDetectionTimeout bounds the sink call per signal (default 5s).
	SignalDetectionTimeout time.Duration

	// RetainGrace keeps buffers readable after a stream stops (default 5s).
	RetainGrace time.Duration

	// AgentMarkers mark agent-like session names for auto-discovery.
	AgentMarkers []string
}

func (c Config) withDefaults() Config {
	if c.BufferSize <= 0 {
		c.BufferSize = DefaultBufferSize
	}
	if c.MaxLineLength <= 0 {
		c.MaxLineLength = DefaultMaxLineLength
	}
	if c.MonitorInterval <= 0 {
		c.MonitorInterval = DefaultMonitorInterval
	}
	if c.SignalDetectionTimeout <= 0 {
		c.SignalDetectionTimeout = DefaultDetectTimeout
	}
	if c.RetainGrace <= 0 {
		c.RetainGrace = DefaultRetainGrace
	}
	if len(c.AgentMarkers) == 0 {
		c.AgentMarkers = []string{"agent", "jacquard"}
	}
	return c
}

// retained holds a stopped stream's buffers through the grace period.
type retained struct {
	entries []types.LogEntry
	stats   StreamStats
	timer   *time.Timer
}

// Streamer owns the per-session streams.
type Streamer struct {
	host     sessionhost.Host
	eventBus *bus.Bus
	sink     SignalSink
	detector *Detector
	cfg      Config
	tracer   observability.Tracer
	logger   *zap.Logger

	mu       sync.Mutex
	streams  map[string]*Stream
	retained map[string]*retained

	started      atomic.Bool
	closed       atomic.Bool
	discoverStop chan struct{}
	discoverDone chan struct{}
}

// New creates a streamer. sink may be nil when no queue is attached
// (signals still publish to the bus).
func New(host sessionhost.Host, eventBus *bus.Bus, catalog *signal.Catalog, sink SignalSink, cfg Config, tracer observability.Tracer, logger *zap.Logger) *Streamer {
	if tracer == nil {
		tracer = observability.NewNoOpTracer()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Streamer{
		host:         host,
		eventBus:     eventBus,
		sink:         sink,
		detector:     NewDetector(catalog),
		cfg:          cfg.withDefaults(),
		tracer:       tracer,
		logger:       logger,
		streams:      make(map[string]*Stream),
		retained:     make(map[string]*retained),
		discoverStop: make(chan struct{}),
		discoverDone: make(chan struct{}),
	}
}

// Start launches the auto-discovery loop when enabled. Calling Start a
// second time is an error.
func (s *Streamer) Start(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return types.ErrAlreadyStarted
	}
	if !s.cfg.AutoDiscovery {
		close(s.discoverDone)
		return nil
	}
	go s.discoverLoop()
	s.logger.Info("log streamer started",
		zap.Duration("monitorInterval", s.cfg.MonitorInterval),
		zap.Strings("agentMarkers", s.cfg.AgentMarkers),
	)
	return nil
}

// StartStream attaches a stream to a session. Idempotent per session.
func (s *Streamer) StartStream(ctx context.Context, sessionID, agentID string) error {
	if s.closed.Load() {
		return types.ErrBusClosed
	}
	ctx, span := s.tracer.StartSpan(ctx, SpanStreamStart,
		observability.WithAttribute(observability.AttrSessionID, sessionID),
		observability.WithAttribute(observability.AttrAgentID, agentID),
	)
	defer s.tracer.EndSpan(span)

	s.mu.Lock()
	if _, exists := s.streams[sessionID]; exists {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	lines, err := s.host.ReadOutput(ctx, &sessionhost.Session{ID: sessionID, AgentID: agentID})
	if err != nil {
		span.RecordError(err)
		return err
	}

	st := newStream(s, sessionID, agentID, lines)

	s.mu.Lock()
	if _, exists := s.streams[sessionID]; exists {
		s.mu.Unlock()
		return nil
	}
	s.streams[sessionID] = st
	delete(s.retained, sessionID)
	s.mu.Unlock()

	go st.run()

	s.logger.Info("stream started",
		zap.String("session", sessionID),
		zap.String("agent", agentID),
	)
	return nil
}

// StopStream detaches a session's stream, retaining its buffers for the
// grace period.
func (s *Streamer) StopStream(ctx context.Context, sessionID string) error {
	ctx, span := s.tracer.StartSpan(ctx, SpanStreamStop,
		observability.WithAttribute(observability.AttrSessionID, sessionID))
	defer s.tracer.EndSpan(span)
	_ = ctx

	s.mu.Lock()
	st, ok := s.streams[sessionID]
	s.mu.Unlock()
	if !ok {
		return nil
	}

	st.halt()
	return nil
}

// onStreamExit runs as the last act of every stream pipeline, whether it
// stopped on request, errored, or its session vanished. It drops the
// stream from the live map and parks its buffers for the grace period.
func (s *Streamer) onStreamExit(st *Stream) {
	s.mu.Lock()
	if s.streams[st.sessionID] == st {
		delete(s.streams, st.sessionID)
	}
	closed := s.closed.Load()
	s.mu.Unlock()

	if closed {
		return
	}

	r := &retained{entries: st.Entries(), stats: st.Stats()}
	r.timer = time.AfterFunc(s.cfg.RetainGrace, func() {
		s.mu.Lock()
		if s.retained[st.sessionID] == r {
			delete(s.retained, st.sessionID)
		}
		s.mu.Unlock()
	})

	s.mu.Lock()
	s.retained[st.sessionID] = r
	s.mu.Unlock()
}

// Entries returns the buffered entries for a live or recently stopped
// session.
func (s *Streamer) Entries(sessionID string) ([]types.LogEntry, bool) {
	s.mu.Lock()
	st, live := s.streams[sessionID]
	r, parked := s.retained[sessionID]
	s.mu.Unlock()

	if live {
		return st.Entries(), true
	}
	if parked {
		return r.entries, true
	}
	return nil, false
}

// Stats returns stream counters for a live or recently stopped session.
func (s *Streamer) Stats(sessionID string) (StreamStats, bool) {
	s.mu.Lock()
	st, live := s.streams[sessionID]
	r, parked := s.retained[sessionID]
	s.mu.Unlock()

	if live {
		return st.Stats(), true
	}
	if parked {
		return r.stats, true
	}
	return StreamStats{}, false
}

// ActiveSessions lists sessions with live streams.
func (s *Streamer) ActiveSessions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.streams))
	for id := range s.streams {
		out = append(out, id)
	}
	return out
}

// Close stops discovery and every stream. Buffers are dropped rather
// than retained.
func (s *Streamer) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	if s.started.Load() && s.cfg.AutoDiscovery {
		close(s.discoverStop)
		<-s.discoverDone
	}

	s.mu.Lock()
	streams := make([]*Stream, 0, len(s.streams))
	for _, st := range s.streams {
		streams = append(streams, st)
	}
	s.streams = make(map[string]*Stream)
	for _, r := range s.retained {
		r.timer.Stop()
	}
	s.retained = make(map[string]*retained)
	s.mu.Unlock()

	for _, st := range streams {
		st.halt()
	}
	s.logger.Info("log streamer closed", zap.Int("streamsStopped", len(streams)))
	return nil
}

// ============================================================================
// Discovery
// ============================================================================

// discoverLoop reconciles streams against the host's session list.
func (s *Streamer) discoverLoop() {
	defer close(s.discoverDone)
	ticker := time.NewTicker(s.cfg.MonitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.discoverStop:
			return
		case <-ticker.C:
			s.reconcile()
		}
	}
}

func (s *Streamer) reconcile() {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.MonitorInterval)
	defer cancel()

	infos, err := s.host.ListSessions(ctx)
	if err != nil {
		s.logger.Warn("session discovery failed", zap.Error(err))
		return
	}

	listed := make(map[string]sessionhost.SessionInfo, len(infos))
	for _, info := range infos {
		listed[info.ID] = info
	}

	// Start streams for new agent-like sessions.
	for id, info := range listed {
		if !s.agentLike(info) {
			continue
		}
		s.mu.Lock()
		_, known := s.streams[id]
		s.mu.Unlock()
		if known {
			continue
		}
		if err := s.StartStream(ctx, id, info.AgentID); err != nil {
			s.logger.Warn("failed to start discovered stream",
				zap.String("session", id), zap.Error(err))
		}
	}

	// Stop streams whose sessions vanished.
	s.mu.Lock()
	var gone []string
	for id := range s.streams {
		if _, ok := listed[id]; !ok {
			gone = append(gone, id)
		}
	}
	s.mu.Unlock()
	for _, id := range gone {
		_ = s.StopStream(ctx, id)
	}
}

func (s *Streamer) agentLike(info sessionhost.SessionInfo) bool {
	for _, marker := range s.cfg.AgentMarkers {
		if strings.Contains(info.ID, marker) || strings.Contains(info.AgentID, marker) {
			return true
		}
	}
	return false
}

func (s *Streamer) sessionListed(sessionID string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.MonitorInterval)
	defer cancel()
	infos, err := s.host.ListSessions(ctx)
	if err != nil {
		return false
	}
	for _, info := range infos {
		if info.ID == sessionID {
			return true
		}
	}
	return false
}

// ============================================================================
// Forwarding
// ============================================================================

// forwardSignal publishes a detected signal on the agent-logs channel
// and hands it to the sink.
func (s *Streamer) forwardSignal(sig signal.Signal) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.SignalDetectionTimeout)
	defer cancel()

	ctx, span := s.tracer.StartSpan(ctx, SpanStreamDetect,
		observability.WithAttribute(observability.AttrSignalKind, string(sig.Kind)),
		observability.WithAttribute(observability.AttrSignalID, sig.ID),
	)
	defer s.tracer.EndSpan(span)

	if s.eventBus != nil {
		event := bus.NewEvent(types.EventSignalDetected, sig.Source, sig)
		if _, _, err := s.eventBus.Publish(ctx, types.ChannelAgentLogs, event); err != nil {
			s.logger.Warn("failed to publish detected signal",
				zap.String("kind", string(sig.Kind)), zap.Error(err))
		}
	}

	if s.sink == nil {
		return nil
	}
	if err := s.sink(ctx, sig); err != nil {
		span.RecordError(err)
		s.logger.Warn("signal sink rejected signal",
			zap.String("kind", string(sig.Kind)),
			zap.String("source", sig.Source),
			zap.Error(err))
		return err
	}
	return nil
}

// emitStreamEvent publishes a stream lifecycle transition with metrics.
func (s *Streamer) emitStreamEvent(eventType string, st *Stream) {
	if s.eventBus == nil {
		return
	}
	stats := st.Stats()
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.SignalDetectionTimeout)
	defer cancel()

	event := bus.NewEvent(eventType, "logstream", stats)
	if _, _, err := s.eventBus.Publish(ctx, types.ChannelAgentLogs, event); err != nil {
		s.logger.Warn("failed to publish stream event",
			zap.String("type", eventType),
			zap.String("session", st.sessionID),
			zap.Error(err))
	}
}
