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

// Package types contains shared types used across the jacquard runtime.
// This package breaks import cycles by providing the domain records that
// the lifecycle, orchestrator, and streaming packages all depend on.
package types

import (
	"time"
)

// ============================================================================
// Agent configuration
// ============================================================================

// AgentKind identifies the backend flavor of an agent.
type AgentKind string

const (
	// AgentKindModel is a language-model CLI backend. Session creation
	// materializes a vendor configuration file with merged credentials.
	AgentKindModel AgentKind = "model"

	// AgentKindScript is a plain subprocess speaking the line-JSON
	// protocol with no vendor configuration.
	AgentKindScript AgentKind = "script"
)

// TokenLimits bounds an agent's token spend per window.
type TokenLimits struct {
	Daily   int64 `json:"daily" yaml:"daily"`
	Weekly  int64 `json:"weekly" yaml:"weekly"`
	Monthly int64 `json:"monthly" yaml:"monthly"`
}

// Capabilities declares what an agent backend can do. Selection and
// context assembly consult these; the runtime never probes beyond them.
type Capabilities struct {
	ToolsSupported     bool     `json:"toolsSupported" yaml:"tools_supported"`
	ImagesSupported    bool     `json:"imagesSupported" yaml:"images_supported"`
	SubAgentsSupported bool     `json:"subAgentsSupported" yaml:"sub_agents_supported"`
	ParallelSupported  bool     `json:"parallelSupported" yaml:"parallel_supported"`
	CodeExecution      bool     `json:"codeExecution" yaml:"code_execution"`
	FSAccess           bool     `json:"fsAccess" yaml:"fs_access"`
	NetAccess          bool     `json:"netAccess" yaml:"net_access"`
	ContextWindow      int      `json:"contextWindow" yaml:"context_window"`
	SupportedModels    []string `json:"supportedModels,omitempty" yaml:"supported_models,omitempty"`
	SupportedFileTypes []string `json:"supportedFileTypes,omitempty" yaml:"supported_file_types,omitempty"`
}

// AgentConfig is the declarative description of a worker agent, loaded
// from the user-editable agents file at startup.
type AgentConfig struct {
	// ID uniquely identifies the agent across the runtime.
	ID string `json:"id" yaml:"id"`

	// Role is the agent's primary role; selection awards it the
	// best-role bonus when a task targets it directly.
	Role string `json:"role" yaml:"role"`

	// Kind selects the backend flavor (model CLI vs plain script).
	Kind AgentKind `json:"kind" yaml:"kind"`

	// Roles is the full set of roles the agent can handle.
	Roles []string `json:"roles" yaml:"roles"`

	// RunCommand is the argv used to spawn the agent subprocess.
	RunCommand []string `json:"runCommand" yaml:"run_command"`

	// TokenLimits caps the agent's token spend.
	TokenLimits TokenLimits `json:"tokenLimits" yaml:"token_limits"`

	// Capabilities declares the backend's feature surface.
	Capabilities Capabilities `json:"capabilities" yaml:"capabilities"`

	// Env carries extra environment entries for the subprocess.
	Env map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
}

// HandlesRole reports whether the agent can take tasks of the given role.
func (c *AgentConfig) HandlesRole(role string) bool {
	for _, r := range c.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// ============================================================================
// Sessions
// ============================================================================

// SessionStatus is the lifecycle state of a running agent session.
type SessionStatus string

const (
	// SessionStarting means the subprocess is spawning and not yet ready.
	SessionStarting SessionStatus = "starting"

	// SessionIdle means the session is ready and has no task in flight.
	SessionIdle SessionStatus = "idle"

	// SessionBusy means a task is in flight.
	SessionBusy SessionStatus = "busy"

	// SessionError means the session failed health checks or task I/O
	// and is pending removal.
	SessionError SessionStatus = "error"

	// SessionOffline means the backing process has exited.
	SessionOffline SessionStatus = "offline"
)

// TokenUsage accumulates token spend. Input/Output/Total mirror the
// agent IPC shape; LastUpdated tracks session-level accumulation.
type TokenUsage struct {
	Input       int64     `json:"input,omitempty"`
	Output      int64     `json:"output,omitempty"`
	Total       int64     `json:"total"`
	Cost        float64   `json:"cost,omitempty"`
	LastUpdated time.Time `json:"lastUpdated,omitempty"`
}

// Add folds another usage record into this one.
func (u *TokenUsage) Add(other TokenUsage) {
	u.Input += other.Input
	u.Output += other.Output
	u.Total += other.Total
	u.Cost += other.Cost
	u.LastUpdated = time.Now()
}

// Performance tracks per-session task outcomes. AvgTaskMs and
// SuccessRate are running values updated at task completion.
type Performance struct {
	TasksCompleted int64   `json:"tasksCompleted"`
	AvgTaskMs      float64 `json:"avgTaskMs"`
	SuccessRate    float64 `json:"successRate"`
	ErrorCount     int64   `json:"errorCount"`
}

// RecordTask folds one task outcome into the running averages.
func (p *Performance) RecordTask(durationMs int64, success bool) {
	total := p.TasksCompleted + p.ErrorCount
	successes := float64(total) * p.SuccessRate
	if success {
		p.TasksCompleted++
		successes++
	} else {
		p.ErrorCount++
	}
	p.AvgTaskMs = (p.AvgTaskMs*float64(total) + float64(durationMs)) / float64(total+1)
	p.SuccessRate = successes / float64(total+1)
}

// AgentSession is the runtime record of a live agent. Owned by the
// lifecycle manager; readers receive copies via Clone.
type AgentSession struct {
	SessionID    string        `json:"sessionId"`
	AgentID      string        `json:"agentId"`
	Status       SessionStatus `json:"status"`
	LastActivity time.Time     `json:"lastActivity"`
	CurrentTask  *AgentTask    `json:"currentTask,omitempty"`
	TokenUsage   TokenUsage    `json:"tokenUsage"`
	Performance  Performance   `json:"performance"`
}

// Clone returns a snapshot copy safe to hand to readers.
func (s *AgentSession) Clone() *AgentSession {
	cp := *s
	if s.CurrentTask != nil {
		task := *s.CurrentTask
		cp.CurrentTask = &task
	}
	return &cp
}

// ============================================================================
// Tasks
// ============================================================================

// TaskStatus is the execution state of an agent task.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
)

// AgentTask is a unit of work dispatched to a single agent.
type AgentTask struct {
	// ID uniquely identifies the task.
	ID string `json:"id"`

	// Type is the role the task targets (drives agent selection).
	Type string `json:"type"`

	// Description is the human-readable instruction sent to the agent.
	Description string `json:"description"`

	// Payload carries opaque task data; parsed per signal kind only at
	// the consuming edge.
	Payload map[string]any `json:"payload,omitempty"`

	// Priority orders competing tasks (1 lowest .. 10 highest).
	Priority int `json:"priority"`

	// Dependencies lists task IDs that must complete first when the
	// task runs as part of a parallel dispatch.
	Dependencies []string `json:"dependencies,omitempty"`

	Status      TaskStatus  `json:"status"`
	StartedAt   *time.Time  `json:"startedAt,omitempty"`
	CompletedAt *time.Time  `json:"completedAt,omitempty"`
	Result      any         `json:"result,omitempty"`
	Error       string      `json:"error,omitempty"`
	TokenUsage  *TokenUsage `json:"tokenUsage,omitempty"`
}

// TaskResult is the agent's reply to a dispatched task. The JSON shape
// is the inbound half of the agent IPC contract.
type TaskResult struct {
	Success    bool        `json:"success"`
	Data       any         `json:"data,omitempty"`
	Error      string      `json:"error,omitempty"`
	TokenUsage *TokenUsage `json:"tokenUsage,omitempty"`
	DurationMs int64       `json:"durationMs,omitempty"`
}

// ============================================================================
// Agent IPC
// ============================================================================

// MessageType is the discriminator on orchestrator-to-agent messages.
type MessageType string

const (
	MessageTask     MessageType = "task"
	MessagePing     MessageType = "ping"
	MessageShutdown MessageType = "shutdown"
)

// AgentMessage is the outbound half of the agent IPC contract: exactly
// one JSON object per newline on the session's stdin.
type AgentMessage struct {
	Type        MessageType    `json:"type"`
	ID          string         `json:"id,omitempty"`
	Description string         `json:"description,omitempty"`
	Payload     map[string]any `json:"payload,omitempty"`
	Priority    int            `json:"priority,omitempty"`
	Timestamp   int64          `json:"timestamp,omitempty"`
}

// ============================================================================
// Log entries
// ============================================================================

// LogLevel classifies a streamed agent log line.
type LogLevel string

const (
	LogDebug    LogLevel = "debug"
	LogInfo     LogLevel = "info"
	LogWarn     LogLevel = "warn"
	LogError    LogLevel = "error"
	LogCritical LogLevel = "critical"
)

// LogEntry is one captured line of agent session output.
type LogEntry struct {
	// ID uniquely identifies the entry within its stream.
	ID string `json:"id"`

	// Timestamp is when the line was observed.
	Timestamp time.Time `json:"timestamp"`

	// Level is the heuristic classification of the line.
	Level LogLevel `json:"level"`

	// Content is the line text, truncated to the configured cap.
	Content string `json:"content"`

	// DetectedSignals lists the signal token codes found on the line.
	DetectedSignals []string `json:"detectedSignals,omitempty"`
}
