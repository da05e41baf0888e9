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

// Package sessionhost runs agent processes and exposes their terminals.
//
// A Host owns the operating-system side of an agent: it launches the
// process (directly, or inside a detached tmux session), injects
// instruction lines, streams output lines back, and tears the process
// down. Callers that need agent state beyond the terminal (task
// assignment, health, budgets) layer it on top; the host itself only
// knows about sessions.
//
// Two backends ship: SubprocessHost talks to a child process over piped
// stdio, TmuxHost drives the tmux binary so sessions survive for human
// inspection. Both satisfy Host; everything above depends only on the
// interface.
package sessionhost

import (
	"context"
	"time"

	"github.com/teradata-labs/jacquard/pkg/types"
)

// Backend names the session transport.
type Backend string

const (
	// BackendSubprocess runs agents as direct child processes.
	BackendSubprocess Backend = "subprocess"
	// BackendTmux runs agents inside detached tmux sessions.
	BackendTmux Backend = "tmux"
)

// DefaultOutputBuffer is the per-reader line buffer. Readers that fall
// further behind than this lose lines rather than stalling the session.
const DefaultOutputBuffer = 1024

// LaunchSpec describes how to start an agent process.
type LaunchSpec struct {
	Command string            // executable to run
	Args    []string          // command arguments
	Env     map[string]string // extra environment, merged over os.Environ
}

// Session is an opaque handle to a running agent session.
type Session struct {
	ID      string
	AgentID string
	Backend Backend
	Created time.Time
}

// SessionInfo is a point-in-time view of a session.
type SessionInfo struct {
	ID         string
	AgentID    string
	Backend    Backend
	Status     types.SessionStatus
	Created    time.Time
	LastOutput time.Time
	PID        int // 0 when the backend has no direct process handle
}

// Host launches and manages agent sessions.
type Host interface {
	// CreateSession starts an agent process. If instructions is
	// non-empty it is sent as the first input line once the session
	// is running.
	CreateSession(ctx context.Context, agentID string, spec LaunchSpec, instructions string, cwd string) (*Session, error)

	// SendInstructions writes one line of input to the session.
	SendInstructions(ctx context.Context, session *Session, text string) error

	// ListSessions reports every live session.
	ListSessions(ctx context.Context) ([]SessionInfo, error)

	// TerminateSession stops a session, gracefully first and by force
	// after a grace period.
	TerminateSession(ctx context.Context, session *Session, reason string) error

	// ReadOutput returns a channel of output lines. Each call gets an
	// independent stream starting at the current position; the channel
	// closes when the session ends.
	ReadOutput(ctx context.Context, session *Session) (<-chan string, error)
}
