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
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/teradata-labs/jacquard/pkg/types"
)

// agentsFile is the YAML document shape of the user-editable agents
// file.
type agentsFile struct {
	Agents []types.AgentConfig `yaml:"agents"`
}

// LoadAgents reads and validates the agents file. Environment
// references inside the file (${VAR}) are expanded before parsing.
func LoadAgents(path string) ([]types.AgentConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read agents file %s: %w", path, err)
	}

	var doc agentsFile
	if err := yaml.Unmarshal([]byte(expandEnvVars(string(raw))), &doc); err != nil {
		return nil, types.NewConfigError("agents", "failed to parse %s: %v", path, err)
	}
	if len(doc.Agents) == 0 {
		return nil, types.NewConfigError("agents", "%s declares no agents", path)
	}

	seen := make(map[string]bool, len(doc.Agents))
	for i, agent := range doc.Agents {
		if err := validateAgent(i, agent); err != nil {
			return nil, err
		}
		if seen[agent.ID] {
			return nil, types.NewConfigError("agents", "duplicate agent id %q", agent.ID)
		}
		seen[agent.ID] = true
	}
	return doc.Agents, nil
}

func validateAgent(index int, agent types.AgentConfig) error {
	field := func(name string) string { return fmt.Sprintf("agents[%d].%s", index, name) }

	if agent.ID == "" {
		return types.NewConfigError(field("id"), "agent id is required")
	}
	if len(agent.RunCommand) == 0 {
		return types.NewConfigError(field("run_command"), "agent %s needs a command", agent.ID)
	}
	if len(agent.Roles) == 0 {
		return types.NewConfigError(field("roles"), "agent %s needs at least one role", agent.ID)
	}
	switch agent.Kind {
	case types.AgentKindModel, types.AgentKindScript:
	case "":
		return types.NewConfigError(field("kind"), "agent %s needs a kind (model or script)", agent.ID)
	default:
		return types.NewConfigError(field("kind"), "agent %s has unknown kind %q", agent.ID, agent.Kind)
	}
	if agent.TokenLimits.Daily < 0 || agent.TokenLimits.Weekly < 0 || agent.TokenLimits.Monthly < 0 {
		return types.NewConfigError(field("token_limits"), "agent %s token limits cannot be negative", agent.ID)
	}
	return nil
}
