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

// Package runtime is the composition root: it wires the event bus,
// session host, lifecycle manager, log streamer, war-room, guidelines
// registry, and orchestrator from one runtime configuration, and owns
// the background sweeps and file watchers.
package runtime

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/teradata-labs/jacquard/pkg/bus"
	"github.com/teradata-labs/jacquard/pkg/config"
	"github.com/teradata-labs/jacquard/pkg/guidelines"
	"github.com/teradata-labs/jacquard/pkg/lifecycle"
	"github.com/teradata-labs/jacquard/pkg/logstream"
	"github.com/teradata-labs/jacquard/pkg/observability"
	"github.com/teradata-labs/jacquard/pkg/orchestrator"
	"github.com/teradata-labs/jacquard/pkg/sessionhost"
	"github.com/teradata-labs/jacquard/pkg/signal"
	"github.com/teradata-labs/jacquard/pkg/tokenbudget"
	"github.com/teradata-labs/jacquard/pkg/types"
	"github.com/teradata-labs/jacquard/pkg/warroom"
)

// Runtime bundles every wired subsystem.
type Runtime struct {
	cfg     *config.Runtime
	logger  *zap.Logger
	tracer  *observability.EmbeddedTracer
	catalog *signal.Catalog

	EventBus     *bus.Bus
	Host         sessionhost.Host
	Lifecycle    *lifecycle.Manager
	Streamer     *logstream.Streamer
	WarRoom      *warroom.Manager
	Guidelines   *guidelines.Registry
	Orchestrator *orchestrator.Orchestrator

	sweeps      *cron.Cron
	watchCancel context.CancelFunc
	started     atomic.Bool
}

// New wires a runtime from the loaded configuration. Construction
// validates everything needed to start; a returned error means the
// process should exit with the fatal-init code.
func New(cfg *config.Runtime, logger *zap.Logger) (*Runtime, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	catalog, err := cfg.Catalog()
	if err != nil {
		return nil, err
	}

	tracer, err := newTracer(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create tracer: %w", err)
	}

	eventBus := bus.New(tracer, logger.Named("bus"))

	host, err := newHost(cfg, logger)
	if err != nil {
		return nil, err
	}

	warRoom, err := warroom.New(warroom.Config{
		MaxItems:      cfg.WarRoom.MaxItems,
		HistoryDepth:  cfg.WarRoom.HistoryDepth,
		ArchiveTail:   cfg.WarRoom.ArchiveTail,
		CompactTokens: cfg.WarRoom.CompactTokens,
	}, eventBus, tracer, logger.Named("warroom"))
	if err != nil {
		return nil, fmt.Errorf("failed to create war-room: %w", err)
	}

	registry := guidelines.New(eventBus, tracer, logger.Named("guidelines"))
	distributor := tokenbudget.NewDistributor(eventBus, tracer, logger.Named("tokenbudget"))

	manager := lifecycle.New(host, eventBus, lifecycle.Config{
		TaskTimeout:       cfg.Lifecycle.TaskTimeout(),
		ReadyTimeout:      cfg.Lifecycle.ReadyTimeout(),
		HealthInterval:    cfg.Lifecycle.HealthInterval(),
		UnresponsiveAfter: cfg.Lifecycle.UnresponsiveAfter(),
		ShutdownGrace:     cfg.Lifecycle.ShutdownGrace(),
		WorkDir:           cfg.Lifecycle.WorkDir,
	}, tracer, logger.Named("lifecycle"))

	agents, err := config.LoadAgents(cfg.Paths.AgentsFile)
	if err != nil {
		return nil, err
	}
	for _, agent := range agents {
		if err := manager.RegisterAgent(agent); err != nil {
			return nil, err
		}
	}

	orch := orchestrator.New(manager, registry, warRoom, distributor, catalog, orchestrator.Config{
		ModelWindow:       cfg.ModelWindow,
		HistoryLimit:      cfg.Orchestrator.HistoryLimit,
		HistoryTrim:       cfg.Orchestrator.HistoryTrim,
		DegradedThreshold: cfg.Orchestrator.DegradedThreshold,
		DegradedWindow:    cfg.Orchestrator.DegradedWindow,
		DefaultRole:       cfg.Orchestrator.DefaultRole,
	}, eventBus, tracer, logger.Named("orchestrator"))

	sink := func(ctx context.Context, sig signal.Signal) error {
		return orch.Submit(sig)
	}
	streamer := logstream.New(host, eventBus, catalog, sink, logstream.Config{
		BufferSize:      cfg.Streamer.BufferSize,
		MaxLineLength:   cfg.Streamer.MaxLineLength,
		AutoDiscovery:   !cfg.Streamer.DisableAutoDiscovery,
		MonitorInterval: cfg.Streamer.MonitorInterval(),
	}, tracer, logger.Named("logstream"))

	r := &Runtime{
		cfg:          cfg,
		logger:       logger,
		tracer:       tracer,
		catalog:      catalog,
		EventBus:     eventBus,
		Host:         host,
		Lifecycle:    manager,
		Streamer:     streamer,
		WarRoom:      warRoom,
		Guidelines:   registry,
		Orchestrator: orch,
	}
	if err := r.scheduleSweeps(); err != nil {
		return nil, err
	}
	return r, nil
}

func newTracer(cfg *config.Runtime, logger *zap.Logger) (*observability.EmbeddedTracer, error) {
	embedded := observability.EmbeddedConfig{Storage: "memory"}
	if cfg.Paths.SpanStore != "" {
		embedded = observability.EmbeddedConfig{
			Storage:    "sqlite",
			SQLitePath: cfg.Paths.SpanStore,
		}
	}
	return observability.NewEmbeddedTracer(embedded, logger.Named("tracer"))
}

func newHost(cfg *config.Runtime, logger *zap.Logger) (sessionhost.Host, error) {
	switch cfg.SessionBackend {
	case "tmux":
		return sessionhost.NewTmuxHost(sessionhost.TmuxConfig{Logger: logger.Named("tmux")})
	default:
		return sessionhost.NewSubprocessHost(logger.Named("subprocess")), nil
	}
}

// Start brings the subsystems up: state is restored from disk, then the
// lifecycle manager, log streamer, orchestrator, sweeps, and watchers
// start in that order.
func (r *Runtime) Start(ctx context.Context) error {
	if !r.started.CompareAndSwap(false, true) {
		return types.ErrAlreadyStarted
	}

	if err := r.WarRoom.LoadSnapshot(r.cfg.Paths.WarRoomSnapshot); err != nil {
		return fmt.Errorf("failed to restore war-room snapshot: %w", err)
	}
	if err := r.Guidelines.LoadSnapshot(r.cfg.Paths.GuidelinesFile); err != nil {
		return fmt.Errorf("failed to load guidelines: %w", err)
	}

	if err := r.Lifecycle.Start(ctx); err != nil {
		return err
	}
	if err := r.Streamer.Start(ctx); err != nil {
		return err
	}
	if err := r.Orchestrator.Start(ctx); err != nil {
		return err
	}

	watchCtx, cancel := context.WithCancel(context.Background())
	r.watchCancel = cancel
	if err := r.Guidelines.Watch(watchCtx, r.cfg.Paths.GuidelinesFile); err != nil {
		r.logger.Warn("guidelines hot reload unavailable", zap.Error(err))
	}
	if err := r.watchAgents(watchCtx, r.cfg.Paths.AgentsFile); err != nil {
		r.logger.Warn("agents hot reload unavailable", zap.Error(err))
	}

	r.sweeps.Start()
	r.logger.Info("runtime started",
		zap.String("backend", r.cfg.SessionBackend),
		zap.Int("model_window", r.cfg.ModelWindow),
		zap.Int("agents", len(r.Lifecycle.Agents())))
	return nil
}

// Stop shuts the runtime down in reverse order and persists state.
func (r *Runtime) Stop(ctx context.Context) error {
	if !r.started.Load() {
		return nil
	}

	sweepCtx := r.sweeps.Stop()
	select {
	case <-sweepCtx.Done():
	case <-ctx.Done():
	}
	if r.watchCancel != nil {
		r.watchCancel()
	}

	var firstErr error
	record := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	record(r.Orchestrator.Stop(ctx))
	record(r.Streamer.Close())
	record(r.Lifecycle.Close(ctx))

	record(r.WarRoom.SaveSnapshot(r.cfg.Paths.WarRoomSnapshot))
	record(r.Guidelines.SaveSnapshot(r.cfg.Paths.GuidelinesFile))

	record(r.EventBus.Close())
	record(r.tracer.Close())
	r.logger.Info("runtime stopped")
	return firstErr
}

// Tracer exposes the embedded tracer for CLI span queries.
func (r *Runtime) Tracer() *observability.EmbeddedTracer {
	return r.tracer
}

// Catalog exposes the signal catalog with overrides applied.
func (r *Runtime) Catalog() *signal.Catalog {
	return r.catalog
}
