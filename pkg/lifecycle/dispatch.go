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
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/teradata-labs/jacquard/pkg/observability"
	"github.com/teradata-labs/jacquard/pkg/types"
)

// ExecuteTask selects an agent, acquires its session, and dispatches
// the task over the line-JSON IPC. It blocks until the agent replies,
// the task deadline passes, or the context is cancelled.
//
// The returned result is non-nil whenever err is nil; a failed task has
// result.Success == false with the error text carried inside.
func (m *Manager) ExecuteTask(ctx context.Context, task *types.AgentTask) (*types.TaskResult, error) {
	if task == nil {
		return nil, fmt.Errorf("task cannot be nil")
	}
	if task.ID == "" {
		task.ID = uuid.NewString()
	}

	ctx, span := m.tracer.StartSpan(ctx, SpanExecuteTask,
		observability.WithAttribute(observability.AttrTaskID, task.ID),
		observability.WithAttribute("task_type", task.Type))
	defer m.tracer.EndSpan(span)

	cfg, err := m.selectAgent(task)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetAttribute(observability.AttrAgentID, cfg.ID)

	s, err := m.acquireSession(ctx, cfg)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	// One task per session at a time.
	s.taskMu.Lock()
	defer s.taskMu.Unlock()

	now := time.Now()
	task.Status = types.TaskInProgress
	task.StartedAt = &now

	s.mu.Lock()
	s.session.Status = types.SessionBusy
	s.session.CurrentTask = task
	s.mu.Unlock()

	result, err := m.dispatch(ctx, s, task)
	durationMs := time.Since(now).Milliseconds()

	completed := time.Now()
	task.CompletedAt = &completed

	s.mu.Lock()
	s.session.CurrentTask = nil
	if s.session.Status == types.SessionBusy {
		s.session.Status = types.SessionIdle
	}
	s.session.Performance.RecordTask(durationMs, err == nil && result.Success)
	if err == nil && result.TokenUsage != nil {
		s.session.TokenUsage.Add(*result.TokenUsage)
	}
	s.mu.Unlock()

	if err != nil {
		task.Status = types.TaskFailed
		task.Error = err.Error()
		span.RecordError(err)
		m.logger.Warn("task dispatch failed",
			zap.String("task", task.ID),
			zap.String("agent", cfg.ID),
			zap.Error(err))
		return &types.TaskResult{
			Success:    false,
			Error:      err.Error(),
			DurationMs: durationMs,
		}, nil
	}

	if result.Success {
		task.Status = types.TaskCompleted
		task.Result = result.Data
	} else {
		task.Status = types.TaskFailed
		task.Error = result.Error
	}
	task.TokenUsage = result.TokenUsage
	result.DurationMs = durationMs

	span.SetAttribute("success", result.Success)
	span.SetAttribute("duration_ms", durationMs)
	m.logger.Debug("task completed",
		zap.String("task", task.ID),
		zap.String("agent", cfg.ID),
		zap.Bool("success", result.Success),
		zap.Int64("duration_ms", durationMs))
	return result, nil
}

// dispatch sends the serialized task and awaits exactly one reply.
func (m *Manager) dispatch(ctx context.Context, s *managed, task *types.AgentTask) (*types.TaskResult, error) {
	msg, err := json.Marshal(types.AgentMessage{
		Type:        types.MessageTask,
		ID:          task.ID,
		Description: task.Description,
		Payload:     task.Payload,
		Priority:    task.Priority,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to serialize task %s: %w", task.ID, err)
	}

	// Drain any stale reply left by an earlier timed-out task.
	select {
	case <-s.replies:
	default:
	}

	if err := m.host.SendInstructions(ctx, s.handle, string(msg)); err != nil {
		return nil, fmt.Errorf("failed to send task %s: %w", task.ID, err)
	}

	timer := time.NewTimer(m.cfg.TaskTimeout)
	defer timer.Stop()

	select {
	case result, ok := <-s.replies:
		if !ok {
			return nil, fmt.Errorf("session %s ended mid-task: %w", s.handle.ID, types.ErrSessionNotFound)
		}
		return &result, nil
	case <-timer.C:
		return nil, fmt.Errorf("task %s on session %s: %w", task.ID, s.handle.ID, types.ErrAgentResponseTimeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
