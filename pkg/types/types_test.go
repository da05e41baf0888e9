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
package types

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPerformanceRecordTask(t *testing.T) {
	var p Performance

	p.RecordTask(100, true)
	assert.Equal(t, int64(1), p.TasksCompleted)
	assert.Equal(t, 100.0, p.AvgTaskMs)
	assert.Equal(t, 1.0, p.SuccessRate)

	p.RecordTask(300, true)
	assert.Equal(t, int64(2), p.TasksCompleted)
	assert.Equal(t, 200.0, p.AvgTaskMs)
	assert.Equal(t, 1.0, p.SuccessRate)

	p.RecordTask(200, false)
	assert.Equal(t, int64(2), p.TasksCompleted)
	assert.Equal(t, int64(1), p.ErrorCount)
	assert.Equal(t, 200.0, p.AvgTaskMs)
	assert.InDelta(t, 2.0/3.0, p.SuccessRate, 1e-9)
}

func TestTokenUsageAdd(t *testing.T) {
	u := TokenUsage{Input: 10, Output: 20, Total: 30, Cost: 0.5}
	u.Add(TokenUsage{Input: 5, Output: 5, Total: 10, Cost: 0.25})

	assert.Equal(t, int64(15), u.Input)
	assert.Equal(t, int64(25), u.Output)
	assert.Equal(t, int64(40), u.Total)
	assert.Equal(t, 0.75, u.Cost)
	assert.False(t, u.LastUpdated.IsZero())
}

func TestAgentConfigHandlesRole(t *testing.T) {
	cfg := &AgentConfig{
		ID:    "dev-1",
		Role:  "developer",
		Roles: []string{"developer", "reviewer"},
	}

	assert.True(t, cfg.HandlesRole("developer"))
	assert.True(t, cfg.HandlesRole("reviewer"))
	assert.False(t, cfg.HandlesRole("tester"))
}

func TestSessionClone(t *testing.T) {
	sess := &AgentSession{
		SessionID: "s1",
		AgentID:   "a1",
		Status:    SessionBusy,
		CurrentTask: &AgentTask{
			ID:   "t1",
			Type: "developer",
		},
	}

	cp := sess.Clone()
	require.NotNil(t, cp.CurrentTask)

	// Mutating the clone must not touch the original.
	cp.Status = SessionIdle
	cp.CurrentTask.ID = "t2"

	assert.Equal(t, SessionBusy, sess.Status)
	assert.Equal(t, "t1", sess.CurrentTask.ID)
}

func TestAgentMessageWireShape(t *testing.T) {
	msg := AgentMessage{
		Type:        MessageTask,
		ID:          "task-1",
		Description: "run the tests",
		Priority:    7,
	}

	raw, err := json.Marshal(msg)
	require.NoError(t, err)

	assert.JSONEq(t, `{"type":"task","id":"task-1","description":"run the tests","priority":7}`, string(raw))
}

func TestTaskResultWireShape(t *testing.T) {
	raw := `{"success":true,"data":{"ok":1},"tokenUsage":{"input":10,"output":20,"total":30},"durationMs":120}`

	var res TaskResult
	require.NoError(t, json.Unmarshal([]byte(raw), &res))

	assert.True(t, res.Success)
	require.NotNil(t, res.TokenUsage)
	assert.Equal(t, int64(30), res.TokenUsage.Total)
	assert.Equal(t, int64(120), res.DurationMs)
}

func TestConfigError(t *testing.T) {
	err := NewConfigError("agents[0].run_command", "must not be empty")
	assert.Contains(t, err.Error(), "agents[0].run_command")
	assert.Contains(t, err.Error(), "must not be empty")

	var ce *ConfigError
	assert.True(t, errors.As(error(err), &ce))
}

func TestFatalError(t *testing.T) {
	cause := errors.New("boom")
	err := fmt.Errorf("processing: %w", &FatalError{Op: "dispatch", Err: cause})

	assert.True(t, IsFatal(err))
	assert.True(t, errors.Is(err, cause))
	assert.False(t, IsFatal(errors.New("plain")))
}
