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
package sessionhost

import (
	"context"
	"fmt"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/teradata-labs/jacquard/pkg/types"
)

// DefaultSessionPrefix marks tmux sessions owned by this host.
const DefaultSessionPrefix = "jacquard-"

// TmuxConfig configures the tmux backend.
type TmuxConfig struct {
	// Prefix namespaces session names (default "jacquard-").
	Prefix string

	// PollInterval is the capture-pane polling cadence (default 500ms).
	PollInterval time.Duration

	// Logger for session lifecycle events.
	Logger *zap.Logger
}

// TmuxHost runs each agent inside a detached tmux session. Output is
// collected by polling capture-pane with a line cursor, so sessions stay
// attachable for humans while the runtime tails them.
type TmuxHost struct {
	prefix       string
	pollInterval time.Duration
	logger       *zap.Logger

	mu       sync.RWMutex
	sessions map[string]*tmuxSession
}

type tmuxSession struct {
	info Session
	name string

	stateMu    sync.Mutex
	status     types.SessionStatus
	lastOutput time.Time

	readersMu sync.Mutex
	readers   map[string]chan string
	dropped   int64

	cursor  int      // lines already emitted
	pending []string // last capture, for the final flush

	stop chan struct{} // closed by TerminateSession
	done chan struct{} // closed when the monitor exits
}

// NewTmuxHost creates a tmux-backed host. It fails when the tmux binary
// is not on PATH.
func NewTmuxHost(cfg TmuxConfig) (*TmuxHost, error) {
	if _, err := exec.LookPath("tmux"); err != nil {
		return nil, fmt.Errorf("tmux backend unavailable: %w", err)
	}
	if cfg.Prefix == "" {
		cfg.Prefix = DefaultSessionPrefix
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &TmuxHost{
		prefix:       cfg.Prefix,
		pollInterval: cfg.PollInterval,
		logger:       cfg.Logger,
		sessions:     make(map[string]*tmuxSession),
	}, nil
}

// CreateSession implements Host. The session name is prefix+agentID, so
// one tmux session exists per agent.
func (h *TmuxHost) CreateSession(ctx context.Context, agentID string, spec LaunchSpec, instructions string, cwd string) (*Session, error) {
	if spec.Command == "" {
		return nil, fmt.Errorf("launch spec for agent %s has no command", agentID)
	}

	name := h.prefix + agentID
	if h.hasSession(ctx, name) {
		return nil, fmt.Errorf("tmux session %s already exists", name)
	}

	args := []string{"new-session", "-d", "-s", name}
	if cwd != "" {
		args = append(args, "-c", cwd)
	}
	// Deterministic env order keeps the command reproducible in logs.
	keys := make([]string, 0, len(spec.Env))
	for k := range spec.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		args = append(args, "-e", fmt.Sprintf("%s=%s", k, spec.Env[k]))
	}
	args = append(args, shellCommand(spec.Command, spec.Args))

	if out, err := h.tmux(ctx, args...); err != nil {
		return nil, fmt.Errorf("tmux new-session failed: %w: %s", err, out)
	}

	s := h.track(agentID, name)

	h.logger.Info("tmux session started",
		zap.String("session", name),
		zap.String("agent", agentID),
		zap.String("command", spec.Command),
	)

	sess := s.info
	if instructions != "" {
		if err := h.SendInstructions(ctx, &sess, instructions); err != nil {
			_ = h.TerminateSession(ctx, &sess, "initial instructions failed")
			return nil, err
		}
	}
	return &sess, nil
}

// track registers a session record and starts its capture monitor.
func (h *TmuxHost) track(agentID, name string) *tmuxSession {
	s := &tmuxSession{
		info: Session{
			ID:      name,
			AgentID: agentID,
			Backend: BackendTmux,
			Created: time.Now(),
		},
		name:    name,
		status:  types.SessionIdle,
		readers: make(map[string]chan string),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	h.mu.Lock()
	h.sessions[name] = s
	h.mu.Unlock()
	go h.monitor(s)
	return s
}

// monitor polls capture-pane and forwards new complete lines. The final
// captured line is held back until a later capture moves past it, since
// it may still be mid-write.
func (h *TmuxHost) monitor(s *tmuxSession) {
	defer close(s.done)
	ticker := time.NewTicker(h.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			h.finish(s, false)
			return
		case <-ticker.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), h.pollInterval*4)
		alive := h.hasSession(ctx, s.name)
		if !alive {
			cancel()
			h.finish(s, true)
			return
		}
		out, err := h.tmux(ctx, "capture-pane", "-p", "-J", "-t", s.name, "-S", "-")
		cancel()
		if err != nil {
			continue
		}

		lines := paneLines(out)
		s.pending = lines
		if len(lines) <= s.cursor+1 {
			continue
		}
		for _, line := range lines[s.cursor : len(lines)-1] {
			s.emit(line)
		}
		s.cursor = len(lines) - 1
	}
}

// finish flushes held-back output, closes readers, and removes the
// session record.
func (h *TmuxHost) finish(s *tmuxSession, vanished bool) {
	if len(s.pending) > s.cursor {
		for _, line := range s.pending[s.cursor:] {
			s.emit(line)
		}
		s.cursor = len(s.pending)
	}

	s.stateMu.Lock()
	s.status = types.SessionOffline
	s.stateMu.Unlock()

	s.readersMu.Lock()
	for id, ch := range s.readers {
		close(ch)
		delete(s.readers, id)
	}
	s.readersMu.Unlock()

	h.mu.Lock()
	delete(h.sessions, s.name)
	h.mu.Unlock()

	h.logger.Info("tmux session ended",
		zap.String("session", s.name),
		zap.Bool("vanished", vanished),
	)
}

func (s *tmuxSession) emit(line string) {
	s.stateMu.Lock()
	s.lastOutput = time.Now()
	s.stateMu.Unlock()

	s.readersMu.Lock()
	defer s.readersMu.Unlock()
	for _, ch := range s.readers {
		select {
		case ch <- line:
		default:
			s.dropped++
		}
	}
}

// SendInstructions implements Host via send-keys. The text goes in
// literally, followed by Enter.
func (h *TmuxHost) SendInstructions(ctx context.Context, session *Session, text string) error {
	s, err := h.lookup(session)
	if err != nil {
		return err
	}
	text = strings.TrimRight(text, "\n")
	if out, err := h.tmux(ctx, "send-keys", "-t", s.name, "-l", "--", text); err != nil {
		return fmt.Errorf("tmux send-keys failed: %w: %s", err, out)
	}
	if out, err := h.tmux(ctx, "send-keys", "-t", s.name, "Enter"); err != nil {
		return fmt.Errorf("tmux send-keys enter failed: %w: %s", err, out)
	}
	return nil
}

// ListSessions implements Host. Pre-existing tmux sessions matching the
// prefix are adopted, so agents started outside the runtime are visible.
func (h *TmuxHost) ListSessions(ctx context.Context) ([]SessionInfo, error) {
	h.adoptExisting(ctx)

	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]SessionInfo, 0, len(h.sessions))
	for _, s := range h.sessions {
		s.stateMu.Lock()
		info := SessionInfo{
			ID:         s.info.ID,
			AgentID:    s.info.AgentID,
			Backend:    BackendTmux,
			Status:     s.status,
			Created:    s.info.Created,
			LastOutput: s.lastOutput,
		}
		s.stateMu.Unlock()
		out = append(out, info)
	}
	return out, nil
}

func (h *TmuxHost) adoptExisting(ctx context.Context) {
	out, err := h.tmux(ctx, "list-sessions", "-F", "#{session_name}")
	if err != nil {
		return // no server running means no sessions
	}
	for _, name := range strings.Split(strings.TrimSpace(out), "\n") {
		if name == "" || !strings.HasPrefix(name, h.prefix) {
			continue
		}
		h.mu.RLock()
		_, known := h.sessions[name]
		h.mu.RUnlock()
		if known {
			continue
		}
		agentID := strings.TrimPrefix(name, h.prefix)
		h.track(agentID, name)
		h.logger.Info("adopted existing tmux session",
			zap.String("session", name),
			zap.String("agent", agentID),
		)
	}
}

// TerminateSession implements Host: Ctrl-C first, kill-session after the
// grace period.
func (h *TmuxHost) TerminateSession(ctx context.Context, session *Session, reason string) error {
	s, err := h.lookup(session)
	if err != nil {
		return err
	}

	h.logger.Info("terminating tmux session",
		zap.String("session", s.name),
		zap.String("reason", reason),
	)

	_, _ = h.tmux(ctx, "send-keys", "-t", s.name, "C-c")

	deadline := time.Now().Add(terminateGrace)
	for time.Now().Before(deadline) {
		if !h.hasSession(ctx, s.name) {
			<-s.done
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(h.pollInterval):
		}
	}

	if out, err := h.tmux(ctx, "kill-session", "-t", s.name); err != nil {
		return fmt.Errorf("tmux kill-session failed: %w: %s", err, out)
	}
	<-s.done
	return nil
}

// ReadOutput implements Host.
func (h *TmuxHost) ReadOutput(ctx context.Context, session *Session) (<-chan string, error) {
	s, err := h.lookup(session)
	if err != nil {
		return nil, err
	}
	ch := make(chan string, DefaultOutputBuffer)
	s.readersMu.Lock()
	select {
	case <-s.done:
		close(ch)
	default:
		s.readers[uuid.New().String()] = ch
	}
	s.readersMu.Unlock()
	return ch, nil
}

func (h *TmuxHost) lookup(session *Session) (*tmuxSession, error) {
	if session == nil {
		return nil, fmt.Errorf("nil session: %w", types.ErrSessionNotFound)
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	s, ok := h.sessions[session.ID]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", session.ID, types.ErrSessionNotFound)
	}
	return s, nil
}

func (h *TmuxHost) hasSession(ctx context.Context, name string) bool {
	_, err := h.tmux(ctx, "has-session", "-t", name)
	return err == nil
}

func (h *TmuxHost) tmux(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "tmux", args...)
	out, err := cmd.CombinedOutput()
	return strings.TrimSpace(string(out)), err
}

// shellCommand renders a command and its arguments as one shell string
// for tmux new-session.
func shellCommand(command string, args []string) string {
	parts := make([]string, 0, len(args)+1)
	parts = append(parts, shellQuote(command))
	for _, a := range args {
		parts = append(parts, shellQuote(a))
	}
	return strings.Join(parts, " ")
}

func shellQuote(s string) string {
	if s == "" {
		return "''"
	}
	if !strings.ContainsAny(s, " \t\n\"'\\$&|;<>(){}[]*?~#") {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// paneLines splits capture-pane output and trims the trailing blank
// region tmux pads the pane with.
func paneLines(out string) []string {
	lines := strings.Split(out, "\n")
	end := len(lines)
	for end > 0 && strings.TrimSpace(lines[end-1]) == "" {
		end--
	}
	return lines[:end]
}
