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
	"time"

	"go.uber.org/zap"

	"github.com/teradata-labs/jacquard/pkg/types"
)

// healthLoop ticks at the configured interval, pinging silent sessions
// and removing those that stay unresponsive for three consecutive
// cycles.
func (m *Manager) healthLoop() {
	defer close(m.healthDone)
	ticker := time.NewTicker(m.cfg.HealthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.healthStop:
			return
		case <-ticker.C:
			m.healthCheck()
		}
	}
}

// healthCheck inspects every session once.
func (m *Manager) healthCheck() {
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.HealthInterval)
	defer cancel()

	ctx, span := m.tracer.StartSpan(ctx, SpanHealthCheck)
	defer m.tracer.EndSpan(span)

	m.mu.RLock()
	sessions := make(map[string]*managed, len(m.sessions))
	for agentID, s := range m.sessions {
		sessions[agentID] = s
	}
	m.mu.RUnlock()

	checked, failed := 0, 0
	for agentID, s := range sessions {
		checked++
		if m.checkSession(ctx, agentID, s) {
			continue
		}
		failed++
	}
	span.SetAttribute("checked", checked)
	span.SetAttribute("failed", failed)
}

// checkSession returns false when the session was removed.
func (m *Manager) checkSession(ctx context.Context, agentID string, s *managed) bool {
	s.mu.Lock()
	silent := time.Since(s.session.LastActivity) > m.cfg.UnresponsiveAfter
	if !silent {
		s.mu.Unlock()
		return true
	}
	s.strikes++
	strikes := s.strikes
	sessionID := s.session.SessionID
	s.mu.Unlock()

	if strikes < unresponsiveStrikes {
		m.logger.Warn("session unresponsive, pinging",
			zap.String("agent", agentID),
			zap.String("session", sessionID),
			zap.Int("strikes", strikes))
		m.ping(ctx, s)
		return true
	}

	// Three strikes: mark error, remove, terminate. The next dispatch
	// for this agent creates a fresh session.
	s.mu.Lock()
	s.session.Status = types.SessionError
	s.mu.Unlock()

	m.removeSession(agentID, s)
	m.logger.Error("session removed after repeated unresponsiveness",
		zap.String("agent", agentID),
		zap.String("session", sessionID))
	m.emit(types.EventSessionError, map[string]any{
		"agentId":   agentID,
		"sessionId": sessionID,
		"reason":    types.ErrAgentUnresponsive.Error(),
		"strikes":   strikes,
	})

	go m.terminate(context.Background(), s, "unresponsive")
	return false
}

// ping sends a liveness probe; any output from the agent resets its
// strike count.
func (m *Manager) ping(ctx context.Context, s *managed) {
	msg, _ := json.Marshal(types.AgentMessage{
		Type:      types.MessagePing,
		Timestamp: time.Now().UnixMilli(),
	})
	if err := m.host.SendInstructions(ctx, s.handle, string(msg)); err != nil {
		m.logger.Warn("failed to ping session",
			zap.String("session", s.handle.ID),
			zap.Error(err))
	}
}
