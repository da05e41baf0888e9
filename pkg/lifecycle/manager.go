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

// Package lifecycle manages worker agents: the declared configurations,
// the live sessions backing them, task dispatch over the line-JSON IPC,
// periodic health checking, and two-phase termination.
//
// The manager is the single writer of the session map; readers get
// per-session snapshots. Dispatch serializes on the session, so two
// tasks never share a session id concurrently. Sessions are created on
// first demand and torn down on health failure or shutdown; the next
// dispatch after a failure gets a fresh session.
package lifecycle

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teradata-labs/jacquard/pkg/bus"
	"github.com/teradata-labs/jacquard/pkg/observability"
	"github.com/teradata-labs/jacquard/pkg/sessionhost"
	"github.com/teradata-labs/jacquard/pkg/types"
)

// Span names for lifecycle operations.
const (
	SpanExecuteTask   = "lifecycle.execute_task"
	SpanCreateSession = "lifecycle.create_session"
	SpanHealthCheck   = "lifecycle.health_check"
	SpanTerminate     = "lifecycle.terminate"
)

// Defaults for the manager configuration.
const (
	DefaultTaskTimeout       = 60 * time.Second
	DefaultReadyTimeout      = 30 * time.Second
	DefaultHealthInterval    = 30 * time.Second
	DefaultUnresponsiveAfter = 120 * time.Second
	DefaultShutdownGrace     = 5 * time.Second

	// unresponsiveStrikes is how many consecutive failed health cycles
	// remove a session.
	unresponsiveStrikes = 3

	// tokenEligibilityFloor is the minimum daily tokens remaining that
	// earns the budget bonus during selection.
	tokenEligibilityFloor = 1000
)

// Config bundles the manager tunables.
type Config struct {
	// TaskTimeout bounds one dispatch awaiting its reply (default 60s).
	TaskTimeout time.Duration

	// ReadyTimeout bounds session startup polling (default 30s).
	ReadyTimeout time.Duration

	// HealthInterval is the health tick cadence (default 30s).
	HealthInterval time.Duration

	// UnresponsiveAfter marks a silent session unresponsive (default 120s).
	UnresponsiveAfter time.Duration

	// ShutdownGrace is the wait between the structured shutdown message
	// and forced termination (default 5s).
	ShutdownGrace time.Duration

	// WorkDir is the base directory for per-agent working directories.
	WorkDir string
}

func (c Config) withDefaults() Config {
	if c.TaskTimeout <= 0 {
		c.TaskTimeout = DefaultTaskTimeout
	}
	if c.ReadyTimeout <= 0 {
		c.ReadyTimeout = DefaultReadyTimeout
	}
	if c.HealthInterval <= 0 {
		c.HealthInterval = DefaultHealthInterval
	}
	if c.UnresponsiveAfter <= 0 {
		c.UnresponsiveAfter = DefaultUnresponsiveAfter
	}
	if c.ShutdownGrace <= 0 {
		c.ShutdownGrace = DefaultShutdownGrace
	}
	return c
}

// managed pairs the session record with its host handle and IPC state.
type managed struct {
	// taskMu serializes dispatch on this session.
	taskMu sync.Mutex

	// mu guards the snapshot fields below.
	mu      sync.Mutex
	session types.AgentSession

	handle  *sessionhost.Session
	replies chan types.TaskResult

	// strikes counts consecutive unresponsive health cycles.
	strikes int

	pumpDone chan struct{}
}

func (s *managed) snapshot() *types.AgentSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session.Clone()
}

func (s *managed) touch() {
	s.mu.Lock()
	s.session.LastActivity = time.Now()
	s.strikes = 0
	s.mu.Unlock()
}

// Manager owns agent configurations and their sessions.
type Manager struct {
	mu       sync.RWMutex
	agents   map[string]types.AgentConfig
	sessions map[string]*managed // keyed by agent id

	host     sessionhost.Host
	eventBus *bus.Bus
	tracer   observability.Tracer
	logger   *zap.Logger
	cfg      Config

	healthStop chan struct{}
	healthDone chan struct{}
	started    bool
	closed     bool
}

// New creates a lifecycle manager over the given session host.
func New(host sessionhost.Host, eventBus *bus.Bus, cfg Config, tracer observability.Tracer, logger *zap.Logger) *Manager {
	if tracer == nil {
		tracer = observability.NewNoOpTracer()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		agents:     make(map[string]types.AgentConfig),
		sessions:   make(map[string]*managed),
		host:       host,
		eventBus:   eventBus,
		tracer:     tracer,
		logger:     logger,
		cfg:        cfg.withDefaults(),
		healthStop: make(chan struct{}),
		healthDone: make(chan struct{}),
	}
}

// RegisterAgent adds a declared agent configuration. Registration is
// refused for configs that could never run.
func (m *Manager) RegisterAgent(cfg types.AgentConfig) error {
	if cfg.ID == "" {
		return types.NewConfigError("agent.id", "cannot be empty")
	}
	if len(cfg.RunCommand) == 0 {
		return types.NewConfigError("agent.run_command", "agent %s has no command", cfg.ID)
	}
	if len(cfg.Roles) == 0 {
		return types.NewConfigError("agent.roles", "agent %s handles no roles", cfg.ID)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, dup := m.agents[cfg.ID]; dup {
		return types.NewConfigError("agent.id", "duplicate agent id %s", cfg.ID)
	}
	m.agents[cfg.ID] = cfg
	m.logger.Info("agent registered",
		zap.String("agent", cfg.ID),
		zap.String("role", cfg.Role),
		zap.Strings("roles", cfg.Roles))
	return nil
}

// Agents returns the declared configurations sorted by id.
func (m *Manager) Agents() []types.AgentConfig {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]types.AgentConfig, 0, len(m.agents))
	for _, cfg := range m.agents {
		out = append(out, cfg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Sessions returns snapshots of every live session.
func (m *Manager) Sessions() []*types.AgentSession {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*types.AgentSession, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s.snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AgentID < out[j].AgentID })
	return out
}

// ActiveSessionCount reports live sessions (used by the token
// distributor's activeAgents input).
func (m *Manager) ActiveSessionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Capabilities returns the capability set of every declared agent,
// keyed by agent id.
func (m *Manager) Capabilities() map[string]types.Capabilities {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]types.Capabilities, len(m.agents))
	for id, cfg := range m.agents {
		out[id] = cfg.Capabilities
	}
	return out
}

// SyncAgents reconciles the declared fleet with a freshly loaded
// configuration. New agents are registered, changed declarations are
// replaced (a live session keeps its old command until recycled), and
// agents no longer declared have their sessions terminated.
func (m *Manager) SyncAgents(ctx context.Context, cfgs []types.AgentConfig) error {
	next := make(map[string]types.AgentConfig, len(cfgs))
	for _, cfg := range cfgs {
		if cfg.ID == "" {
			return types.NewConfigError("agent.id", "cannot be empty")
		}
		if len(cfg.RunCommand) == 0 {
			return types.NewConfigError("agent.run_command", "agent %s has no command", cfg.ID)
		}
		if len(cfg.Roles) == 0 {
			return types.NewConfigError("agent.roles", "agent %s handles no roles", cfg.ID)
		}
		if _, dup := next[cfg.ID]; dup {
			return types.NewConfigError("agent.id", "duplicate agent id %s", cfg.ID)
		}
		next[cfg.ID] = cfg
	}

	var removed []*managed
	var removedIDs []string
	m.mu.Lock()
	for id := range m.agents {
		if _, keep := next[id]; keep {
			continue
		}
		removedIDs = append(removedIDs, id)
		if s, ok := m.sessions[id]; ok {
			removed = append(removed, s)
			delete(m.sessions, id)
		}
	}
	added := 0
	for id := range next {
		if _, known := m.agents[id]; !known {
			added++
		}
	}
	m.agents = next
	m.mu.Unlock()

	for _, s := range removed {
		m.terminate(ctx, s, "agent removed from fleet")
	}

	m.logger.Info("agent fleet synced",
		zap.Int("declared", len(next)),
		zap.Int("added", added),
		zap.Strings("removed", removedIDs))
	m.emit(types.EventFleetSynced, map[string]any{
		"declared": len(next),
		"added":    added,
		"removed":  removedIDs,
	})
	return nil
}

// Start launches the health check loop. Starting twice is an error.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return types.ErrAlreadyStarted
	}
	m.started = true
	m.mu.Unlock()

	go m.healthLoop()
	m.logger.Info("lifecycle manager started",
		zap.Duration("health_interval", m.cfg.HealthInterval))
	return nil
}

// Close terminates every session (gracefully, then by force) and stops
// the health loop. Idempotent.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	started := m.started
	sessions := make([]*managed, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.sessions = make(map[string]*managed)
	m.mu.Unlock()

	if started {
		close(m.healthStop)
		<-m.healthDone
	}

	for _, s := range sessions {
		m.terminate(ctx, s, "manager shutdown")
	}
	m.logger.Info("lifecycle manager closed", zap.Int("sessions_terminated", len(sessions)))
	return nil
}

// emit publishes a lifecycle event.
func (m *Manager) emit(eventType string, payload any) {
	if m.eventBus == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	event := bus.NewEvent(eventType, "lifecycle", payload)
	if _, _, err := m.eventBus.Publish(ctx, types.ChannelLifecycle, event); err != nil {
		m.logger.Warn("failed to publish lifecycle event",
			zap.String("type", eventType), zap.Error(err))
	}
}

func (m *Manager) lookupAgent(agentID string) (types.AgentConfig, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cfg, ok := m.agents[agentID]
	return cfg, ok
}

func (m *Manager) lookupSession(agentID string) (*managed, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[agentID]
	return s, ok
}

// removeSession drops a session from the map if it is still the mapped
// one.
func (m *Manager) removeSession(agentID string, s *managed) {
	m.mu.Lock()
	if m.sessions[agentID] == s {
		delete(m.sessions, agentID)
	}
	m.mu.Unlock()
}

// usedTokens sums spend across the agent's current session. Declared
// daily limits minus this figure drive the selection budget bonus.
func (m *Manager) dailyTokensRemaining(cfg types.AgentConfig) int64 {
	if cfg.TokenLimits.Daily <= 0 {
		// No declared limit: treat as unconstrained.
		return int64(^uint64(0) >> 1)
	}
	used := int64(0)
	if s, ok := m.lookupSession(cfg.ID); ok {
		s.mu.Lock()
		used = s.session.TokenUsage.Total
		s.mu.Unlock()
	}
	remaining := cfg.TokenLimits.Daily - used
	if remaining < 0 {
		return 0
	}
	return remaining
}
