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
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/teradata-labs/jacquard/pkg/sessionhost"
	"github.com/teradata-labs/jacquard/pkg/types"
)

// StreamState is the lifecycle state of one session stream.
type StreamState string

const (
	StreamStarting StreamState = "starting"
	StreamActive   StreamState = "active"
	StreamDraining StreamState = "draining"
	StreamStopped  StreamState = "stopped"
	StreamErrored  StreamState = "errored"
)

// maxReadRetries bounds reacquisition attempts after a transient read
// failure before the stream errors out.
const maxReadRetries = 3

// StreamStats is a point-in-time view of one stream's counters.
type StreamStats struct {
	SessionID       string      `json:"sessionId"`
	AgentID         string      `json:"agentId"`
	State           StreamState `json:"state"`
	LineCount       int64       `json:"lineCount"`
	SignalsDetected int64       `json:"signalsDetected"`
	Errors          int64       `json:"errors"`
	StartedAt       time.Time   `json:"startedAt"`
	DurationMs      int64       `json:"durationMs"`
}

// Stream consumes one session's output lines: ring-buffers them,
// classifies levels, and runs signal detection. The pipeline is a single
// goroutine fed by the host's line channel, stopped via the stop channel
// and reporting completion on done.
type Stream struct {
	sessionID string
	agentID   string

	parent *Streamer
	lines  <-chan string

	mu    sync.Mutex
	state StreamState
	ring  *ring

	lineCount       atomic.Int64
	signalsDetected atomic.Int64
	errorCount      atomic.Int64
	startedAt       time.Time

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

func newStream(parent *Streamer, sessionID, agentID string, lines <-chan string) *Stream {
	return &Stream{
		sessionID: sessionID,
		agentID:   agentID,
		parent:    parent,
		lines:     lines,
		state:     StreamStarting,
		ring:      newRing(parent.cfg.BufferSize),
		startedAt: time.Now(),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// run is the stream pipeline: read lines forever, process each, forward
// detected signals. Exits on stop, session end, or unrecoverable read
// failure.
func (st *Stream) run() {
	defer func() {
		st.parent.onStreamExit(st)
		close(st.done)
	}()

	st.setState(StreamActive)
	st.parent.emitStreamEvent(types.EventStreamingStarted, st)

	for {
		select {
		case <-st.stop:
			st.setState(StreamDraining)
			st.drain()
			st.setState(StreamStopped)
			st.parent.emitStreamEvent(types.EventStreamingStopped, st)
			return
		case line, ok := <-st.lines:
			if !ok {
				if st.reacquire() {
					continue
				}
				return
			}
			st.process(line)
		}
	}
}

// drain consumes whatever lines are already buffered without blocking
// for new ones.
func (st *Stream) drain() {
	for {
		select {
		case line, ok := <-st.lines:
			if !ok {
				return
			}
			st.process(line)
		default:
			return
		}
	}
}

// reacquire handles a closed line channel. A vanished session is a
// normal stop; a still-listed session means the read path failed, so the
// channel is reattached with bounded backoff. Returns true when the
// stream should keep running.
func (st *Stream) reacquire() bool {
	if !st.parent.sessionListed(st.sessionID) {
		st.setState(StreamDraining)
		st.setState(StreamStopped)
		st.parent.emitStreamEvent(types.EventStreamingStopped, st)
		return false
	}

	st.errorCount.Add(1)

	policy := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), maxReadRetries)
	err := backoff.Retry(func() error {
		select {
		case <-st.stop:
			return backoff.Permanent(context.Canceled)
		default:
		}
		ch, err := st.parent.host.ReadOutput(context.Background(), &sessionhost.Session{
			ID:      st.sessionID,
			AgentID: st.agentID,
		})
		if err != nil {
			return err
		}
		st.lines = ch
		return nil
	}, policy)
	if err != nil {
		st.setState(StreamErrored)
		st.parent.emitStreamEvent(types.EventStreamingError, st)
		return false
	}
	return true
}

// process applies the per-line pipeline: truncate, buffer, classify,
// detect, forward.
func (st *Stream) process(line string) {
	if max := st.parent.cfg.MaxLineLength; len(line) > max {
		line = line[:max]
	}

	signals := st.parent.detector.Detect(st.agentID, st.sessionID, line)
	codes := make([]string, 0, len(signals))
	for _, sig := range signals {
		codes = append(codes, string(sig.Kind))
	}

	entry := types.LogEntry{
		ID:              uuid.NewString(),
		Timestamp:       time.Now(),
		Level:           classifyLevel(line),
		Content:         line,
		DetectedSignals: codes,
	}

	st.mu.Lock()
	st.ring.append(entry)
	st.mu.Unlock()
	st.lineCount.Add(1)

	for _, sig := range signals {
		st.signalsDetected.Add(1)
		if err := st.parent.forwardSignal(sig); err != nil {
			st.errorCount.Add(1)
		}
	}
}

func (st *Stream) setState(s StreamState) {
	st.mu.Lock()
	st.state = s
	st.mu.Unlock()
}

// Entries returns the buffered log entries, oldest first.
func (st *Stream) Entries() []types.LogEntry {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.ring.snapshot()
}

// Stats returns a point-in-time counter snapshot.
func (st *Stream) Stats() StreamStats {
	st.mu.Lock()
	state := st.state
	st.mu.Unlock()
	return StreamStats{
		SessionID:       st.sessionID,
		AgentID:         st.agentID,
		State:           state,
		LineCount:       st.lineCount.Load(),
		SignalsDetected: st.signalsDetected.Load(),
		Errors:          st.errorCount.Load(),
		StartedAt:       st.startedAt,
		DurationMs:      time.Since(st.startedAt).Milliseconds(),
	}
}

// halt asks the pipeline to stop and waits for it to finish.
func (st *Stream) halt() {
	st.stopOnce.Do(func() { close(st.stop) })
	<-st.done
}

// ============================================================================
// Level heuristics
// ============================================================================

// levelRules map keywords to levels in priority order; the first rule
// that matches wins and later rules never override it.
var levelRules = []struct {
	level    types.LogLevel
	keywords []string
}{
	{types.LogCritical, []string{"fatal", "critical", "panic"}},
	{types.LogError, []string{"error", "exception", "traceback"}},
	{types.LogWarn, []string{"warn", "deprecated"}},
	{types.LogInfo, []string{"info", "notice"}},
}

func classifyLevel(line string) types.LogLevel {
	lower := strings.ToLower(line)
	for _, rule := range levelRules {
		for _, kw := range rule.keywords {
			if strings.Contains(lower, kw) {
				return rule.level
			}
		}
	}
	return types.LogDebug
}

// ============================================================================
// Ring buffer
// ============================================================================

// ring is a fixed-capacity circular buffer of log entries.
type ring struct {
	entries []types.LogEntry
	start   int
	count   int
}

func newRing(capacity int) *ring {
	if capacity <= 0 {
		capacity = DefaultBufferSize
	}
	return &ring{entries: make([]types.LogEntry, capacity)}
}

func (r *ring) append(e types.LogEntry) {
	if r.count < len(r.entries) {
		r.entries[(r.start+r.count)%len(r.entries)] = e
		r.count++
		return
	}
	r.entries[r.start] = e
	r.start = (r.start + 1) % len(r.entries)
}

func (r *ring) snapshot() []types.LogEntry {
	out := make([]types.LogEntry, r.count)
	for i := 0; i < r.count; i++ {
		out[i] = r.entries[(r.start+i)%len(r.entries)]
	}
	return out
}
