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
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teradata-labs/jacquard/pkg/signal"
	"github.com/teradata-labs/jacquard/pkg/types"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadRuntimeDefaults(t *testing.T) {
	r, err := LoadRuntime(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "info", r.Log.Level)
	assert.Equal(t, "subprocess", r.SessionBackend)
	assert.Equal(t, DefaultModelWindow, r.ModelWindow)
	assert.Equal(t, DefaultArchiveSweep, r.Sweeps.Archive)
	assert.NotEmpty(t, r.Paths.AgentsFile)
}

func TestLoadRuntimeParsesAndResolves(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "jacquard.yaml", `
log:
  level: debug
  console: true
session_backend: tmux
model_window: 150000
orchestrator:
  degraded_threshold: 0.3
  degraded_window: 10
lifecycle:
  task_timeout_seconds: 90
  health_interval_seconds: 60
warroom:
  max_items: 25
  archive_after_days: 3
paths:
  agents_file: agents.yaml
  guidelines_file: guidelines.json
signal_priorities:
  tp: 6
`)

	r, err := LoadRuntime(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", r.Log.Level)
	assert.Equal(t, "tmux", r.SessionBackend)
	assert.Equal(t, 150000, r.ModelWindow)
	assert.Equal(t, 0.3, r.Orchestrator.DegradedThreshold)
	assert.Equal(t, 90*time.Second, r.Lifecycle.TaskTimeout())
	assert.Equal(t, 60*time.Second, r.Lifecycle.HealthInterval())
	assert.Equal(t, 25, r.WarRoom.MaxItems)
	assert.Equal(t, 3, r.WarRoom.ArchiveAfterDays)
	assert.Equal(t, filepath.Join(dir, "agents.yaml"), r.Paths.AgentsFile)
	assert.Equal(t, filepath.Join(dir, "guidelines.json"), r.Paths.GuidelinesFile)

	catalog, err := r.Catalog()
	require.NoError(t, err)
	assert.Equal(t, 6, catalog.Priority(signal.KindTaskProgress))
	assert.Equal(t, 9, catalog.Priority(signal.KindBlocker), "unlisted kinds keep defaults")
}

func TestLoadRuntimeRejectsInvalid(t *testing.T) {
	dir := t.TempDir()
	var cfgErr *types.ConfigError

	_, err := LoadRuntime(writeFile(t, dir, "bad-level.yaml", "log:\n  level: loud\n"))
	require.ErrorAs(t, err, &cfgErr)

	_, err = LoadRuntime(writeFile(t, dir, "bad-backend.yaml", "session_backend: screen\n"))
	require.ErrorAs(t, err, &cfgErr)

	_, err = LoadRuntime(writeFile(t, dir, "bad-priority.yaml", "signal_priorities:\n  tp: 99\n"))
	require.ErrorAs(t, err, &cfgErr)

	_, err = LoadRuntime(writeFile(t, dir, "bad-kind.yaml", "signal_priorities:\n  xyz: 5\n"))
	require.ErrorAs(t, err, &cfgErr)
}

func TestLoadAgents(t *testing.T) {
	t.Setenv("DEV_MODEL", "haiku")
	dir := t.TempDir()
	path := writeFile(t, dir, "agents.yaml", `
agents:
  - id: dev-1
    role: developer
    kind: model
    roles: [developer, reviewer]
    run_command: ["/usr/local/bin/agent", "--model", "${DEV_MODEL}"]
    token_limits:
      daily: 100000
    capabilities:
      code_execution: true
      context_window: 200000
  - id: scripted
    role: janitor
    kind: script
    roles: [janitor]
    run_command: ["/bin/cleanup.sh"]
`)

	agents, err := LoadAgents(path)
	require.NoError(t, err)
	require.Len(t, agents, 2)

	assert.Equal(t, "dev-1", agents[0].ID)
	assert.Equal(t, types.AgentKindModel, agents[0].Kind)
	assert.Equal(t, []string{"/usr/local/bin/agent", "--model", "haiku"}, agents[0].RunCommand,
		"environment references expand before parsing")
	assert.Equal(t, int64(100000), agents[0].TokenLimits.Daily)
	assert.True(t, agents[0].Capabilities.CodeExecution)
	assert.Equal(t, types.AgentKindScript, agents[1].Kind)
}

func TestLoadAgentsRejectsInvalid(t *testing.T) {
	dir := t.TempDir()
	var cfgErr *types.ConfigError

	_, err := LoadAgents(writeFile(t, dir, "empty.yaml", "agents: []\n"))
	require.ErrorAs(t, err, &cfgErr)

	_, err = LoadAgents(writeFile(t, dir, "no-command.yaml", `
agents:
  - id: dev-1
    kind: script
    roles: [developer]
`))
	require.ErrorAs(t, err, &cfgErr)

	_, err = LoadAgents(writeFile(t, dir, "dup.yaml", `
agents:
  - id: dev-1
    kind: script
    roles: [developer]
    run_command: ["/bin/true"]
  - id: dev-1
    kind: script
    roles: [developer]
    run_command: ["/bin/true"]
`))
	require.ErrorAs(t, err, &cfgErr)

	_, err = LoadAgents(writeFile(t, dir, "bad-kind.yaml", `
agents:
  - id: dev-1
    kind: daemon
    roles: [developer]
    run_command: ["/bin/true"]
`))
	require.ErrorAs(t, err, &cfgErr)
}
