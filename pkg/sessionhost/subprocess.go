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
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/teradata-labs/jacquard/pkg/types"
)

// terminateGrace is how long a session gets to exit after its stdin
// closes before it is killed.
const terminateGrace = 5 * time.Second

// SubprocessHost runs each agent as a direct child process and talks to
// it over piped stdio.
type SubprocessHost struct {
	mu       sync.RWMutex
	sessions map[string]*subprocSession
	logger   *zap.Logger
}

type subprocSession struct {
	info Session

	cmd   *exec.Cmd
	stdin io.WriteCloser

	writeMu sync.Mutex
	closed  bool

	stateMu    sync.Mutex
	status     types.SessionStatus
	lastOutput time.Time

	readersMu sync.Mutex
	readers   map[string]chan string
	dropped   int64

	done chan struct{} // closed once Wait returns
}

// NewSubprocessHost creates a host that launches agents as child
// processes.
func NewSubprocessHost(logger *zap.Logger) *SubprocessHost {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SubprocessHost{
		sessions: make(map[string]*subprocSession),
		logger:   logger,
	}
}

// CreateSession implements Host.
func (h *SubprocessHost) CreateSession(ctx context.Context, agentID string, spec LaunchSpec, instructions string, cwd string) (*Session, error) {
	if spec.Command == "" {
		return nil, fmt.Errorf("launch spec for agent %s has no command", agentID)
	}

	// #nosec G204 -- Intentional: agent commands come from operator-owned config
	cmd := exec.Command(spec.Command, spec.Args...)
	if cwd != "" {
		cmd.Dir = cwd
	}
	cmd.Env = os.Environ()
	for k, v := range spec.Env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		stdin.Close()
		stdout.Close()
		return nil, fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		stdin.Close()
		stdout.Close()
		stderr.Close()
		return nil, fmt.Errorf("failed to start agent %s: %w", agentID, err)
	}

	s := &subprocSession{
		info: Session{
			ID:      uuid.New().String(),
			AgentID: agentID,
			Backend: BackendSubprocess,
			Created: time.Now(),
		},
		cmd:     cmd,
		stdin:   stdin,
		status:  types.SessionIdle,
		readers: make(map[string]chan string),
		done:    make(chan struct{}),
	}

	h.mu.Lock()
	h.sessions[s.info.ID] = s
	h.mu.Unlock()

	// Agents log to either pipe; both feed the same line stream.
	var pumps sync.WaitGroup
	pumps.Add(2)
	go s.pump(stdout, &pumps)
	go s.pump(stderr, &pumps)

	go h.reap(s, &pumps)

	h.logger.Info("agent session started",
		zap.String("session", s.info.ID),
		zap.String("agent", agentID),
		zap.String("command", spec.Command),
		zap.Int("pid", cmd.Process.Pid),
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

// pump reads lines from one pipe and fans them out to every reader.
func (s *subprocSession) pump(r io.ReadCloser, wg *sync.WaitGroup) {
	defer wg.Done()
	// bufio.Reader rather than Scanner: agent output lines can exceed
	// Scanner's buffer limit.
	reader := bufio.NewReader(r)
	for {
		data, err := reader.ReadBytes('\n')
		if len(data) > 0 {
			line := strings.TrimRight(string(data), "\r\n")
			s.fanOut(line)
		}
		if err != nil {
			return
		}
	}
}

func (s *subprocSession) fanOut(line string) {
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

// reap waits for the process and pumps to finish, then closes readers
// and drops the session from the host.
func (h *SubprocessHost) reap(s *subprocSession, pumps *sync.WaitGroup) {
	err := s.cmd.Wait()
	pumps.Wait()
	close(s.done)

	s.stateMu.Lock()
	if err != nil {
		s.status = types.SessionError
	} else {
		s.status = types.SessionOffline
	}
	s.stateMu.Unlock()

	s.readersMu.Lock()
	for id, ch := range s.readers {
		close(ch)
		delete(s.readers, id)
	}
	dropped := s.dropped
	s.readersMu.Unlock()

	h.mu.Lock()
	delete(h.sessions, s.info.ID)
	h.mu.Unlock()

	fields := []zap.Field{
		zap.String("session", s.info.ID),
		zap.String("agent", s.info.AgentID),
	}
	if dropped > 0 {
		fields = append(fields, zap.Int64("droppedLines", dropped))
	}
	if err != nil {
		h.logger.Warn("agent session exited with error", append(fields, zap.Error(err))...)
	} else {
		h.logger.Info("agent session exited", fields...)
	}
}

// SendInstructions implements Host.
func (h *SubprocessHost) SendInstructions(ctx context.Context, session *Session, text string) error {
	s, err := h.lookup(session)
	if err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.closed {
		return fmt.Errorf("session %s: %w", session.ID, types.ErrSessionNotFound)
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	if _, err := io.WriteString(s.stdin, text); err != nil {
		return fmt.Errorf("failed to write instructions: %w", err)
	}
	if !strings.HasSuffix(text, "\n") {
		if _, err := io.WriteString(s.stdin, "\n"); err != nil {
			return fmt.Errorf("failed to write newline: %w", err)
		}
	}
	return nil
}

// ListSessions implements Host.
func (h *SubprocessHost) ListSessions(ctx context.Context) ([]SessionInfo, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]SessionInfo, 0, len(h.sessions))
	for _, s := range h.sessions {
		s.stateMu.Lock()
		info := SessionInfo{
			ID:         s.info.ID,
			AgentID:    s.info.AgentID,
			Backend:    BackendSubprocess,
			Status:     s.status,
			Created:    s.info.Created,
			LastOutput: s.lastOutput,
			PID:        s.cmd.Process.Pid,
		}
		s.stateMu.Unlock()
		out = append(out, info)
	}
	return out, nil
}

// TerminateSession implements Host. Closing stdin asks the agent to
// exit; after terminateGrace the process is killed.
func (h *SubprocessHost) TerminateSession(ctx context.Context, session *Session, reason string) error {
	s, err := h.lookup(session)
	if err != nil {
		return err
	}

	s.writeMu.Lock()
	if s.closed {
		s.writeMu.Unlock()
		return nil
	}
	s.closed = true
	s.stdin.Close()
	s.writeMu.Unlock()

	h.logger.Info("terminating agent session",
		zap.String("session", session.ID),
		zap.String("agent", session.AgentID),
		zap.String("reason", reason),
	)

	select {
	case <-s.done:
		return nil
	case <-time.After(terminateGrace):
	case <-ctx.Done():
	}

	h.logger.Warn("agent session did not exit cleanly, killing process",
		zap.String("session", session.ID))
	if err := s.cmd.Process.Kill(); err != nil {
		h.logger.Error("failed to kill agent process",
			zap.String("session", session.ID), zap.Error(err))
	}
	<-s.done
	return nil
}

// ReadOutput implements Host. Each call registers an independent reader
// that receives lines from this point on.
func (h *SubprocessHost) ReadOutput(ctx context.Context, session *Session) (<-chan string, error) {
	s, err := h.lookup(session)
	if err != nil {
		return nil, err
	}

	ch := make(chan string, DefaultOutputBuffer)

	s.readersMu.Lock()
	select {
	case <-s.done:
		// Session already ended; hand back a closed channel.
		close(ch)
	default:
		s.readers[uuid.New().String()] = ch
	}
	s.readersMu.Unlock()

	return ch, nil
}

func (h *SubprocessHost) lookup(session *Session) (*subprocSession, error) {
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
