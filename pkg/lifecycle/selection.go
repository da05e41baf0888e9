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
	"sort"
	"time"

	"github.com/teradata-labs/jacquard/pkg/types"
)

// Selection scores. An agent scoring zero is ineligible.
const (
	scoreHandlesRole = 10
	scoreBestRole    = 5
	scoreTokenBudget = 3
	scoreSessionIdle = 2
)

// candidate is one scored agent during selection.
type candidate struct {
	cfg          types.AgentConfig
	score        int
	lastActivity time.Time
}

// selectAgent picks the best agent for the task. Deterministic: highest
// score wins, ties broken by earliest lastActivity (agents without a
// session sort first), then by agent id for total order.
func (m *Manager) selectAgent(task *types.AgentTask) (types.AgentConfig, error) {
	m.mu.RLock()
	candidates := make([]candidate, 0, len(m.agents))
	for _, cfg := range m.agents {
		c := candidate{cfg: cfg}

		if cfg.HandlesRole(task.Type) {
			c.score += scoreHandlesRole
		}
		if cfg.Role == task.Type {
			c.score += scoreBestRole
		}

		if s, ok := m.sessions[cfg.ID]; ok {
			s.mu.Lock()
			c.lastActivity = s.session.LastActivity
			if s.session.Status == types.SessionIdle {
				c.score += scoreSessionIdle
			}
			s.mu.Unlock()
		} else {
			c.score += scoreSessionIdle
		}

		candidates = append(candidates, c)
	}
	m.mu.RUnlock()

	// Token budgets read session state; score outside the map lock.
	for i := range candidates {
		if m.dailyTokensRemaining(candidates[i].cfg) > tokenEligibilityFloor {
			candidates[i].score += scoreTokenBudget
		}
	}

	eligible := candidates[:0]
	for _, c := range candidates {
		if c.score > 0 {
			eligible = append(eligible, c)
		}
	}
	if len(eligible) == 0 {
		return types.AgentConfig{}, types.ErrNoSuitableAgent
	}

	sort.Slice(eligible, func(i, j int) bool {
		if eligible[i].score != eligible[j].score {
			return eligible[i].score > eligible[j].score
		}
		if !eligible[i].lastActivity.Equal(eligible[j].lastActivity) {
			return eligible[i].lastActivity.Before(eligible[j].lastActivity)
		}
		return eligible[i].cfg.ID < eligible[j].cfg.ID
	})
	return eligible[0].cfg, nil
}
