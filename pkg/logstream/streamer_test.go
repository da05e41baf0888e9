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
package logstream

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teradata-labs/jacquard/pkg/bus"
	"github.com/teradata-labs/jacquard/pkg/sessionhost"
	"github.com/teradata-labs/jacquard/pkg/signal"
	"github.com/teradata-labs/jacquard/pkg/types"
)

// fakeHost is an in-memory session host for streamer tests.
type fakeHost struct {
	mu       sync.Mutex
	sessions map[string]*fakeHostSession
}

type fakeHostSession struct {
	info  sessionhost.SessionInfo
	lines chan string
}

func newFakeHost() *fakeHost {
	return &fakeHost{sessions: make(map[string]*fakeHostSession)}
}

func (h *fakeHost) add(sessionID, agentID string) *fakeHostSession {
	s := &fakeHostSession{
		info: sessionhost.SessionInfo{
			ID:      sessionID,
			AgentID: agentID,
			Backend: sessionhost.BackendSubprocess,
			Status:  types.SessionIdle,
			Created: time.Now(),
		},
		lines: make(chan string, 64),
	}
	h.mu.Lock()
	h.sessions[sessionID] = s
	h.mu.Unlock()
	return s
}

func (h *fakeHost) remove(sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.sessions, sessionID)
}

func (h *fakeHost) CreateSession(ctx context.Context, agentID string, spec sessionhost.LaunchSpec, instructions, cwd string) (*sessionhost.Session, error) {
	s := h.add("sess-"+agentID, agentID)
	return &sessionhost.Session{ID: s.info.ID, AgentID: agentID}, nil
}

func (h *fakeHost) SendInstructions(ctx context.Context, session *sessionhost.Session, text string) error {
	return nil
}

func (h *fakeHost) ListSessions(ctx context.Context) ([]sessionhost.SessionInfo, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]sessionhost.SessionInfo, 0, len(h.sessions))
	for _, s := range h.sessions {
		out = append(out, s.info)
	}
	return out, nil
}

func (h *fakeHost) TerminateSession(ctx context.Context, session *sessionhost.Session, reason string) error {
	h.remove(session.ID)
	return nil
}

func (h *fakeHost) ReadOutput(ctx context.Context, session *sessionhost.Session) (<-chan string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.sessions[session.ID]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", session.ID, types.ErrSessionNotFound)
	}
	return s.lines, nil
}

// collector gathers sink signals for assertions.
type collector struct {
	mu   sync.Mutex
	sigs []signal.Signal
}

func (c *collector) sink(ctx context.Context, sig signal.Signal) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sigs = append(c.sigs, sig)
	return nil
}

func (c *collector) snapshot() []signal.Signal {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]signal.Signal(nil), c.sigs...)
}

func waitUntil(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		if cond() {
			return
		}
		select {
		case <-deadline:
			t.Fatal(msg)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func newTestStreamer(t *testing.T, host sessionhost.Host, sink SignalSink, cfg Config) (*Streamer, *bus.Bus) {
	t.Helper()
	logger := zaptest.NewLogger(t)
	eventBus := bus.New(nil, logger)
	s := New(host, eventBus, signal.DefaultCatalog(), sink, cfg, nil, logger)
	t.Cleanup(func() {
		_ = s.Close()
		_ = eventBus.Close()
	})
	return s, eventBus
}

func TestStreamBuffersAndClassifiesLines(t *testing.T) {
	host := newFakeHost()
	sess := host.add("sess-1", "a1")
	streamer, _ := newTestStreamer(t, host, nil, Config{})

	require.NoError(t, streamer.StartStream(context.Background(), "sess-1", "a1"))

	sess.lines <- "info: agent ready"
	sess.lines <- "error: no such file"
	sess.lines <- "plain chatter"

	waitUntil(t, func() bool {
		entries, _ := streamer.Entries("sess-1")
		return len(entries) == 3
	}, "lines never reached the ring")

	entries, ok := streamer.Entries("sess-1")
	require.True(t, ok)
	assert.Equal(t, types.LogInfo, entries[0].Level)
	assert.Equal(t, types.LogError, entries[1].Level)
	assert.Equal(t, types.LogDebug, entries[2].Level)

	stats, ok := streamer.Stats("sess-1")
	require.True(t, ok)
	assert.Equal(t, int64(3), stats.LineCount)
	assert.Equal(t, StreamActive, stats.State)
}

func TestStreamDetectsAndForwardsSignals(t *testing.T) {
	host := newFakeHost()
	sess := host.add("sess-1", "a1")
	sink := &collector{}
	streamer, eventBus := newTestStreamer(t, host, sink.sink, Config{})

	events := make(chan types.Event, 16)
	_, err := eventBus.Subscribe(context.Background(), "test", types.ChannelAgentLogs, func(e types.Event) {
		if e.Type == types.EventSignalDetected {
			events <- e
		}
	}, 16)
	require.NoError(t, err)

	require.NoError(t, streamer.StartStream(context.Background(), "sess-1", "a1"))

	sess.lines <- "[bb] Blocked: cannot reach registry"

	waitUntil(t, func() bool { return len(sink.snapshot()) == 1 }, "signal never reached sink")

	sig := sink.snapshot()[0]
	assert.Equal(t, signal.KindBlocker, sig.Kind)
	assert.Equal(t, 9, sig.Priority)
	assert.Equal(t, "agent:a1", sig.Source)
	assert.GreaterOrEqual(t, sig.Confidence, 0.9)

	select {
	case e := <-events:
		published, ok := e.Payload.(signal.Signal)
		require.True(t, ok)
		assert.Equal(t, sig.ID, published.ID)
	case <-time.After(5 * time.Second):
		t.Fatal("detected signal never published on agent-logs")
	}

	stats, _ := streamer.Stats("sess-1")
	assert.Equal(t, int64(1), stats.SignalsDetected)

	entries, _ := streamer.Entries("sess-1")
	require.Len(t, entries, 1)
	assert.Equal(t, []string{"bb"}, entries[0].DetectedSignals)
}

func TestStreamTruncatesLongLines(t *testing.T) {
	host := newFakeHost()
	sess := host.add("sess-1", "a1")
	streamer, _ := newTestStreamer(t, host, nil, Config{MaxLineLength: 10})

	require.NoError(t, streamer.StartStream(context.Background(), "sess-1", "a1"))
	sess.lines <- strings.Repeat("x", 100)

	waitUntil(t, func() bool {
		entries, _ := streamer.Entries("sess-1")
		return len(entries) == 1
	}, "line never buffered")

	entries, _ := streamer.Entries("sess-1")
	assert.Len(t, entries[0].Content, 10)
}

func TestStopStreamRetainsBuffersThroughGrace(t *testing.T) {
	host := newFakeHost()
	sess := host.add("sess-1", "a1")
	streamer, eventBus := newTestStreamer(t, host, nil, Config{RetainGrace: 200 * time.Millisecond})

	stopped := make(chan types.Event, 1)
	_, err := eventBus.Subscribe(context.Background(), "test", types.ChannelAgentLogs, func(e types.Event) {
		if e.Type == types.EventStreamingStopped {
			stopped <- e
		}
	}, 16)
	require.NoError(t, err)

	require.NoError(t, streamer.StartStream(context.Background(), "sess-1", "a1"))
	sess.lines <- "one line"
	waitUntil(t, func() bool {
		entries, _ := streamer.Entries("sess-1")
		return len(entries) == 1
	}, "line never buffered")

	require.NoError(t, streamer.StopStream(context.Background(), "sess-1"))

	// Buffers stay readable during the grace window.
	entries, ok := streamer.Entries("sess-1")
	require.True(t, ok)
	assert.Len(t, entries, 1)

	stats, ok := streamer.Stats("sess-1")
	require.True(t, ok)
	assert.Equal(t, StreamStopped, stats.State)

	select {
	case e := <-stopped:
		metrics, ok := e.Payload.(StreamStats)
		require.True(t, ok)
		assert.Equal(t, int64(1), metrics.LineCount)
	case <-time.After(5 * time.Second):
		t.Fatal("streaming:stopped never published")
	}

	waitUntil(t, func() bool {
		_, ok := streamer.Entries("sess-1")
		return !ok
	}, "retained buffers never expired")
}

func TestStreamStopsWhenSessionVanishes(t *testing.T) {
	host := newFakeHost()
	sess := host.add("sess-1", "a1")
	streamer, eventBus := newTestStreamer(t, host, nil, Config{})

	stopped := make(chan types.Event, 1)
	_, err := eventBus.Subscribe(context.Background(), "test", types.ChannelAgentLogs, func(e types.Event) {
		if e.Type == types.EventStreamingStopped {
			stopped <- e
		}
	}, 16)
	require.NoError(t, err)

	require.NoError(t, streamer.StartStream(context.Background(), "sess-1", "a1"))

	host.remove("sess-1")
	close(sess.lines)

	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("vanished session never stopped its stream")
	}
}

func TestAutoDiscoveryStartsAndStopsStreams(t *testing.T) {
	host := newFakeHost()
	streamer, _ := newTestStreamer(t, host, nil, Config{
		AutoDiscovery:   true,
		MonitorInterval: 20 * time.Millisecond,
		AgentMarkers:    []string{"agent"},
	})
	require.NoError(t, streamer.Start(context.Background()))

	host.add("agent-sess", "a1")
	host.add("human-shell", "") // no marker, must be ignored

	waitUntil(t, func() bool {
		return len(streamer.ActiveSessions()) == 1
	}, "discovery never started the agent stream")
	assert.Equal(t, []string{"agent-sess"}, streamer.ActiveSessions())

	host.remove("agent-sess")
	waitUntil(t, func() bool {
		return len(streamer.ActiveSessions()) == 0
	}, "discovery never stopped the vanished stream")
}

func TestStreamerStartTwiceFails(t *testing.T) {
	host := newFakeHost()
	streamer, _ := newTestStreamer(t, host, nil, Config{})

	require.NoError(t, streamer.Start(context.Background()))
	assert.ErrorIs(t, streamer.Start(context.Background()), types.ErrAlreadyStarted)
}

func TestStartStreamIsIdempotent(t *testing.T) {
	host := newFakeHost()
	host.add("sess-1", "a1")
	streamer, _ := newTestStreamer(t, host, nil, Config{})

	require.NoError(t, streamer.StartStream(context.Background(), "sess-1", "a1"))
	require.NoError(t, streamer.StartStream(context.Background(), "sess-1", "a1"))
	assert.Len(t, streamer.ActiveSessions(), 1)
}
