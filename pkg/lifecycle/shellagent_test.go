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
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teradata-labs/jacquard/pkg/bus"
	"github.com/teradata-labs/jacquard/pkg/sessionhost"
	"github.com/teradata-labs/jacquard/pkg/types"
)

// shellAgentScript is a minimal reference agent: one JSON object per
// line in, one per line out.
const shellAgentScript = `
while IFS= read -r line; do
  case "$line" in
  *'"type":"shutdown"'*) exit 0 ;;
  *'"type":"ping"'*) printf '%s\n' '{"success":true}' ;;
  *'"type":"task"'*) printf '%s\n' '{"success":true,"data":{"reply":"done"},"tokenUsage":{"input":120,"output":30,"total":150}}' ;;
  esac
done
`

// Round-trips a task through a real subprocess running a shell agent,
// covering the whole IPC contract without any fakes.
func TestShellAgentRoundTrip(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}

	logger := zaptest.NewLogger(t)
	host := sessionhost.NewSubprocessHost(logger)
	eventBus := bus.New(nil, logger)
	defer eventBus.Close()

	m := New(host, eventBus, Config{
		TaskTimeout:       5 * time.Second,
		ReadyTimeout:      5 * time.Second,
		HealthInterval:    time.Hour,
		UnresponsiveAfter: time.Hour,
		ShutdownGrace:     time.Second,
		WorkDir:           t.TempDir(),
	}, nil, logger)

	require.NoError(t, m.RegisterAgent(types.AgentConfig{
		ID:         "sh-1",
		Role:       "developer",
		Kind:       types.AgentKindScript,
		Roles:      []string{"developer"},
		RunCommand: []string{"sh", "-c", shellAgentScript},
	}))

	ctx := context.Background()
	require.NoError(t, m.Start(ctx))
	defer func() { require.NoError(t, m.Close(ctx)) }()

	result, err := m.ExecuteTask(ctx, &types.AgentTask{
		Type:        "developer",
		Description: "echo back",
	})
	require.NoError(t, err)
	require.True(t, result.Success)

	data, ok := result.Data.(map[string]any)
	require.True(t, ok, "data should decode as an object")
	assert.Equal(t, "done", data["reply"])
	require.NotNil(t, result.TokenUsage)
	assert.Equal(t, int64(150), result.TokenUsage.Total)

	// A second task reuses the same live session.
	before := m.ActiveSessionCount()
	result, err = m.ExecuteTask(ctx, &types.AgentTask{Type: "developer", Description: "again"})
	require.NoError(t, err)
	require.True(t, result.Success)
	assert.Equal(t, before, m.ActiveSessionCount())
}
