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
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/teradata-labs/jacquard/pkg/signal"
	"github.com/teradata-labs/jacquard/pkg/types"
)

// Runtime is the top-level runtime configuration, loaded from a YAML
// file with ${VAR} expansion. Zero values fall back to defaults in
// withDefaults; Validate rejects configurations the runtime cannot
// start with.
type Runtime struct {
	// Log configures the global logger.
	Log LogConfig `yaml:"log"`

	// SessionBackend picks the session host: "subprocess" or "tmux".
	SessionBackend string `yaml:"session_backend"`

	// ModelWindow is the model context window the orchestrator budgets
	// against.
	ModelWindow int `yaml:"model_window"`

	// Orchestrator tunables.
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`

	// Lifecycle tunables.
	Lifecycle LifecycleConfig `yaml:"lifecycle"`

	// WarRoom tunables.
	WarRoom WarRoomConfig `yaml:"warroom"`

	// Streamer tunables.
	Streamer StreamerConfig `yaml:"streamer"`

	// Sweeps are the cron schedules for background maintenance.
	Sweeps SweepConfig `yaml:"sweeps"`

	// Paths locate the on-disk state files. Relative entries resolve
	// against the config file's directory.
	Paths PathsConfig `yaml:"paths"`

	// SignalPriorities overrides catalog priorities per kind.
	SignalPriorities map[string]int `yaml:"signal_priorities,omitempty"`
}

// LogConfig configures the global zap logger.
type LogConfig struct {
	Level   string `yaml:"level"`
	Console bool   `yaml:"console"`
}

// OrchestratorConfig mirrors orchestrator.Config in YAML form.
type OrchestratorConfig struct {
	HistoryLimit      int     `yaml:"history_limit"`
	HistoryTrim       int     `yaml:"history_trim"`
	DegradedThreshold float64 `yaml:"degraded_threshold"`
	DegradedWindow    int     `yaml:"degraded_window"`
	DefaultRole       string  `yaml:"default_role"`
}

// LifecycleConfig mirrors lifecycle.Config in YAML form. Durations are
// whole seconds; zero falls back to the lifecycle defaults.
type LifecycleConfig struct {
	TaskTimeoutSeconds       int    `yaml:"task_timeout_seconds"`
	ReadyTimeoutSeconds      int    `yaml:"ready_timeout_seconds"`
	HealthIntervalSeconds    int    `yaml:"health_interval_seconds"`
	UnresponsiveAfterSeconds int    `yaml:"unresponsive_after_seconds"`
	ShutdownGraceSeconds     int    `yaml:"shutdown_grace_seconds"`
	WorkDir                  string `yaml:"work_dir"`
}

// TaskTimeout returns the configured timeout as a duration, zero when
// unset.
func (c LifecycleConfig) TaskTimeout() time.Duration {
	return time.Duration(c.TaskTimeoutSeconds) * time.Second
}

func (c LifecycleConfig) ReadyTimeout() time.Duration {
	return time.Duration(c.ReadyTimeoutSeconds) * time.Second
}

func (c LifecycleConfig) HealthInterval() time.Duration {
	return time.Duration(c.HealthIntervalSeconds) * time.Second
}

func (c LifecycleConfig) UnresponsiveAfter() time.Duration {
	return time.Duration(c.UnresponsiveAfterSeconds) * time.Second
}

func (c LifecycleConfig) ShutdownGrace() time.Duration {
	return time.Duration(c.ShutdownGraceSeconds) * time.Second
}

// WarRoomConfig mirrors warroom.Config in YAML form.
type WarRoomConfig struct {
	MaxItems      int `yaml:"max_items"`
	HistoryDepth  int `yaml:"history_depth"`
	ArchiveTail   int `yaml:"archive_tail"`
	CompactTokens int `yaml:"compact_tokens"`

	// ArchiveAfterDays is the age cutoff the archive sweep applies.
	ArchiveAfterDays int `yaml:"archive_after_days"`
}

// StreamerConfig mirrors logstream.Config in YAML form. Auto-discovery
// is on unless explicitly disabled; without it detected signals never
// loop back from agent output.
type StreamerConfig struct {
	BufferSize             int  `yaml:"buffer_size"`
	MaxLineLength          int  `yaml:"max_line_length"`
	DisableAutoDiscovery   bool `yaml:"disable_auto_discovery"`
	MonitorIntervalSeconds int  `yaml:"monitor_interval_seconds"`
}

func (c StreamerConfig) MonitorInterval() time.Duration {
	return time.Duration(c.MonitorIntervalSeconds) * time.Second
}

// SweepConfig holds cron expressions for the background sweeps. Empty
// entries disable the sweep.
type SweepConfig struct {
	Archive    string `yaml:"archive"`
	Snapshot   string `yaml:"snapshot"`
	Compaction string `yaml:"compaction"`
}

// PathsConfig locates on-disk state.
type PathsConfig struct {
	AgentsFile      string `yaml:"agents_file"`
	GuidelinesFile  string `yaml:"guidelines_file"`
	WarRoomSnapshot string `yaml:"warroom_snapshot"`
	SpanStore       string `yaml:"span_store"`
}

// Defaults for the runtime configuration.
const (
	DefaultSessionBackend  = "subprocess"
	DefaultModelWindow     = 200000
	DefaultLogLevel        = "info"
	DefaultArchiveSweep    = "0 * * * *"
	DefaultSnapshotSweep   = "*/10 * * * *"
	DefaultCompactionSweep = "*/5 * * * *"
	DefaultArchiveDays     = 7
)

func (r Runtime) withDefaults() Runtime {
	if r.Log.Level == "" {
		r.Log.Level = DefaultLogLevel
	}
	if r.SessionBackend == "" {
		r.SessionBackend = DefaultSessionBackend
	}
	if r.ModelWindow <= 0 {
		r.ModelWindow = DefaultModelWindow
	}
	if r.Sweeps.Archive == "" {
		r.Sweeps.Archive = DefaultArchiveSweep
	}
	if r.Sweeps.Snapshot == "" {
		r.Sweeps.Snapshot = DefaultSnapshotSweep
	}
	if r.Sweeps.Compaction == "" {
		r.Sweeps.Compaction = DefaultCompactionSweep
	}
	if r.WarRoom.ArchiveAfterDays <= 0 {
		r.WarRoom.ArchiveAfterDays = DefaultArchiveDays
	}
	if r.Paths.AgentsFile == "" {
		r.Paths.AgentsFile = filepath.Join(DataDir(), "agents.yaml")
	}
	if r.Paths.GuidelinesFile == "" {
		r.Paths.GuidelinesFile = filepath.Join(DataDir(), "guidelines.json")
	}
	if r.Paths.WarRoomSnapshot == "" {
		r.Paths.WarRoomSnapshot = filepath.Join(DataDir(), "warroom.json")
	}
	return r
}

// LoadRuntime reads, expands, and validates the runtime configuration.
// A missing file yields the defaults.
func LoadRuntime(path string) (*Runtime, error) {
	var r Runtime
	raw, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		// Defaults only.
	case err != nil:
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	default:
		if err := yaml.Unmarshal([]byte(expandEnvVars(string(raw))), &r); err != nil {
			return nil, types.NewConfigError("file", "failed to parse %s: %v", path, err)
		}
	}

	r = r.withDefaults()

	baseDir := filepath.Dir(path)
	r.Paths.AgentsFile = resolveRelativePath(baseDir, r.Paths.AgentsFile)
	r.Paths.GuidelinesFile = resolveRelativePath(baseDir, r.Paths.GuidelinesFile)
	r.Paths.WarRoomSnapshot = resolveRelativePath(baseDir, r.Paths.WarRoomSnapshot)
	r.Paths.SpanStore = resolveRelativePath(baseDir, r.Paths.SpanStore)
	if r.Lifecycle.WorkDir != "" {
		r.Lifecycle.WorkDir = expandPath(r.Lifecycle.WorkDir)
	}

	if err := r.Validate(); err != nil {
		return nil, err
	}
	return &r, nil
}

// Validate rejects configurations the runtime cannot start with.
func (r *Runtime) Validate() error {
	switch strings.ToLower(r.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return types.NewConfigError("log.level",
			"invalid level %q (must be debug, info, warn, or error)", r.Log.Level)
	}

	switch r.SessionBackend {
	case "subprocess", "tmux":
	default:
		return types.NewConfigError("session_backend",
			"unknown backend %q (must be subprocess or tmux)", r.SessionBackend)
	}

	if r.ModelWindow <= 0 {
		return types.NewConfigError("model_window", "must be positive, got %d", r.ModelWindow)
	}
	if r.Orchestrator.DegradedThreshold < 0 || r.Orchestrator.DegradedThreshold > 1 {
		return types.NewConfigError("orchestrator.degraded_threshold",
			"must be within [0,1], got %v", r.Orchestrator.DegradedThreshold)
	}

	for kind, priority := range r.SignalPriorities {
		if len(kind) != 2 {
			return types.NewConfigError("signal_priorities",
				"kind %q is not a two-character code", kind)
		}
		if priority < signal.PriorityMin || priority > signal.PriorityMax {
			return types.NewConfigError("signal_priorities",
				"priority %d for kind %q out of range [%d,%d]",
				priority, kind, signal.PriorityMin, signal.PriorityMax)
		}
	}
	return nil
}

// Catalog builds the signal catalog with the configured priority
// overrides applied.
func (r *Runtime) Catalog() (*signal.Catalog, error) {
	catalog := signal.DefaultCatalog()
	if len(r.SignalPriorities) == 0 {
		return catalog, nil
	}
	overrides := make(map[signal.Kind]int, len(r.SignalPriorities))
	for kind, priority := range r.SignalPriorities {
		overrides[signal.Kind(kind)] = priority
	}
	catalog, err := catalog.Override(overrides)
	if err != nil {
		return nil, types.NewConfigError("signal_priorities", "%v", err)
	}
	return catalog, nil
}
