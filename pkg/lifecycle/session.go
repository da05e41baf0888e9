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
package lifecycle

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/zalando/go-keyring"
	"go.uber.org/zap"

	"github.com/teradata-labs/jacquard/pkg/observability"
	"github.com/teradata-labs/jacquard/pkg/sessionhost"
	"github.com/teradata-labs/jacquard/pkg/types"
)

// keyringService is the OS keyring service name used for credential
// fallback when environment variables are unset.
const keyringService = "jacquard"

// vendorEnv lists the credential environment variables merged into a
// model-backed agent's vendor configuration, with their keyring
// fallback keys.
var vendorEnv = []struct {
	env        string
	keyringKey string
	field      string
}{
	{"ANTHROPIC_API_KEY", "anthropic_api_key", "apiKey"},
	{"ANTHROPIC_BASE_URL", "", "baseURL"},
	{"ANTHROPIC_MODEL", "", "model"},
}

// vendorConfig is the materialized configuration file for model-backed
// agents.
type vendorConfig struct {
	APIKey    string `json:"apiKey,omitempty"`
	BaseURL   string `json:"baseURL,omitempty"`
	Model     string `json:"model,omitempty"`
	TimeoutMs int64  `json:"timeoutMs"`
}

// acquireSession returns the agent's live session, creating one when
// none exists or the previous one was removed.
func (m *Manager) acquireSession(ctx context.Context, cfg types.AgentConfig) (*managed, error) {
	if s, ok := m.lookupSession(cfg.ID); ok {
		return s, nil
	}
	return m.createSession(ctx, cfg)
}

// createSession prepares the working directory and configuration files,
// spawns the agent through the session host, and waits for it to reach
// idle.
func (m *Manager) createSession(ctx context.Context, cfg types.AgentConfig) (*managed, error) {
	ctx, span := m.tracer.StartSpan(ctx, SpanCreateSession,
		observability.WithAttribute(observability.AttrAgentID, cfg.ID))
	defer m.tracer.EndSpan(span)

	cwd, err := m.prepareWorkdir(cfg)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	spec := sessionhost.LaunchSpec{
		Command: cfg.RunCommand[0],
		Args:    cfg.RunCommand[1:],
		Env:     cfg.Env,
	}
	handle, err := m.host.CreateSession(ctx, cfg.ID, spec, "", cwd)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to spawn agent %s: %w", cfg.ID, err)
	}

	s := &managed{
		session: types.AgentSession{
			SessionID:    handle.ID,
			AgentID:      cfg.ID,
			Status:       types.SessionStarting,
			LastActivity: time.Now(),
		},
		handle:   handle,
		replies:  make(chan types.TaskResult, 16),
		pumpDone: make(chan struct{}),
	}

	lines, err := m.host.ReadOutput(ctx, handle)
	if err != nil {
		_ = m.host.TerminateSession(ctx, handle, "reply stream unavailable")
		span.RecordError(err)
		return nil, fmt.Errorf("failed to attach reply stream for %s: %w", cfg.ID, err)
	}
	go s.pumpReplies(lines)

	if err := m.awaitReady(ctx, s); err != nil {
		_ = m.host.TerminateSession(ctx, handle, "never became ready")
		span.RecordError(err)
		return nil, err
	}

	m.mu.Lock()
	if existing, ok := m.sessions[cfg.ID]; ok {
		// Lost a creation race; keep the first session.
		m.mu.Unlock()
		_ = m.host.TerminateSession(ctx, handle, "duplicate session")
		return existing, nil
	}
	m.sessions[cfg.ID] = s
	m.mu.Unlock()

	span.SetAttribute(observability.AttrSessionID, handle.ID)
	m.logger.Info("agent session created",
		zap.String("agent", cfg.ID),
		zap.String("session", handle.ID),
		zap.String("cwd", cwd))
	return s, nil
}

// prepareWorkdir ensures the agent's working directory exists and
// materializes its configuration files.
func (m *Manager) prepareWorkdir(cfg types.AgentConfig) (string, error) {
	base := m.cfg.WorkDir
	if base == "" {
		base = filepath.Join(os.TempDir(), "jacquard-agents")
	}
	cwd := filepath.Join(base, cfg.ID)
	if err := os.MkdirAll(cwd, 0o755); err != nil {
		return "", fmt.Errorf("failed to create workdir for %s: %w", cfg.ID, err)
	}

	raw, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal agent config: %w", err)
	}
	if err := os.WriteFile(filepath.Join(cwd, "agent.json"), raw, 0o600); err != nil {
		return "", fmt.Errorf("failed to write agent config: %w", err)
	}

	if cfg.Kind == types.AgentKindModel {
		if err := m.writeVendorConfig(cwd, cfg); err != nil {
			return "", err
		}
	}
	return cwd, nil
}

// writeVendorConfig merges credentials (environment first, OS keyring
// fallback) into the vendor configuration file.
func (m *Manager) writeVendorConfig(cwd string, cfg types.AgentConfig) error {
	vc := vendorConfig{TimeoutMs: m.cfg.TaskTimeout.Milliseconds()}

	for _, entry := range vendorEnv {
		value := os.Getenv(entry.env)
		if value == "" && entry.keyringKey != "" {
			if stored, err := keyring.Get(keyringService, entry.keyringKey); err == nil {
				value = stored
			}
		}
		switch entry.field {
		case "apiKey":
			vc.APIKey = value
		case "baseURL":
			vc.BaseURL = value
		case "model":
			vc.Model = value
		}
	}

	raw, err := json.MarshalIndent(vc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal vendor config: %w", err)
	}
	if err := os.WriteFile(filepath.Join(cwd, "vendor.json"), raw, 0o600); err != nil {
		return fmt.Errorf("failed to write vendor config for %s: %w", cfg.ID, err)
	}
	return nil
}

// awaitReady polls the host until the session reports idle.
func (m *Manager) awaitReady(ctx context.Context, s *managed) error {
	deadline := time.Now().Add(m.cfg.ReadyTimeout)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		infos, err := m.host.ListSessions(ctx)
		if err == nil {
			for _, info := range infos {
				if info.ID != s.handle.ID {
					continue
				}
				if info.Status == types.SessionIdle {
					s.mu.Lock()
					s.session.Status = types.SessionIdle
					s.mu.Unlock()
					return nil
				}
			}
		}

		if time.Now().After(deadline) {
			return fmt.Errorf("agent %s session %s: %w", s.session.AgentID, s.handle.ID, types.ErrAgentNotReady)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// pumpReplies parses each output line as a task result. Non-JSON lines
// are agent logging; they still count as activity but are otherwise
// ignored here (the log streamer reads its own copy of the stream).
func (s *managed) pumpReplies(lines <-chan string) {
	defer close(s.pumpDone)
	for line := range lines {
		s.touch()

		var result types.TaskResult
		if err := json.Unmarshal([]byte(line), &result); err != nil {
			continue
		}
		select {
		case s.replies <- result:
		default:
			// Awaiter fell behind or nobody is waiting; drop.
		}
	}

	s.mu.Lock()
	if s.session.Status != types.SessionError {
		s.session.Status = types.SessionOffline
	}
	s.mu.Unlock()
}

// terminate runs the two-phase shutdown contract: structured shutdown
// message, grace period, then host force-termination.
func (m *Manager) terminate(ctx context.Context, s *managed, reason string) {
	_, span := m.tracer.StartSpan(ctx, SpanTerminate,
		observability.WithAttribute(observability.AttrAgentID, s.session.AgentID),
		observability.WithAttribute(observability.AttrSessionID, s.handle.ID))
	defer m.tracer.EndSpan(span)

	msg, _ := json.Marshal(types.AgentMessage{
		Type:      types.MessageShutdown,
		Timestamp: time.Now().UnixMilli(),
	})
	if err := m.host.SendInstructions(ctx, s.handle, string(msg)); err == nil {
		select {
		case <-s.pumpDone:
		case <-time.After(m.cfg.ShutdownGrace):
		case <-ctx.Done():
		}
	}

	if err := m.host.TerminateSession(ctx, s.handle, reason); err != nil {
		m.logger.Warn("failed to terminate session",
			zap.String("session", s.handle.ID), zap.Error(err))
	}

	s.mu.Lock()
	s.session.Status = types.SessionOffline
	s.mu.Unlock()
}
