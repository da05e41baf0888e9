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

// Package orchestrator owns the signal queue and drives one processing
// step per dequeued signal: assemble context, compute the token budget,
// dispatch to an agent (directly, as parallel sub-tasks, or as an
// escalation), observe the outcome, and record it.
//
// The loop is a single consumer. Fatal signals bypass agent selection
// and become escalation records. A trailing window of decision outcomes
// feeds degraded-mode detection: past the configured failure rate the
// orchestrator refuses new non-fatal work until restarted.
package orchestrator

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/teradata-labs/jacquard/pkg/bus"
	"github.com/teradata-labs/jacquard/pkg/guidelines"
	"github.com/teradata-labs/jacquard/pkg/observability"
	"github.com/teradata-labs/jacquard/pkg/signal"
	"github.com/teradata-labs/jacquard/pkg/tokenbudget"
	"github.com/teradata-labs/jacquard/pkg/types"
	"github.com/teradata-labs/jacquard/pkg/warroom"
)

// Span names for orchestrator operations.
const (
	SpanProcess  = "orchestrator.process"
	SpanAssemble = "orchestrator.assemble"
	SpanDispatch = "orchestrator.dispatch"
)

// Defaults for the orchestrator configuration.
const (
	DefaultModelWindow       = 200000
	DefaultHistoryLimit      = 1000
	DefaultHistoryTrim       = 500
	DefaultDegradedThreshold = 0.5
	DefaultDegradedWindow    = 20
	DefaultRole              = "developer"
)

// Executor dispatches tasks to agents. *lifecycle.Manager satisfies it.
type Executor interface {
	ExecuteTask(ctx context.Context, task *types.AgentTask) (*types.TaskResult, error)
	ActiveSessionCount() int
	Capabilities() map[string]types.Capabilities
}

// Config bundles the orchestrator tunables.
type Config struct {
	// ModelWindow is the context window passed to the token
	// distributor (default 200000).
	ModelWindow int

	// HistoryLimit bounds the processing history; on overflow the
	// oldest entries are trimmed down to HistoryTrim.
	HistoryLimit int
	HistoryTrim  int

	// DegradedThreshold is the failure rate over the trailing window
	// that flips the orchestrator into degraded mode (default 0.5).
	DegradedThreshold float64

	// DegradedWindow is how many trailing decisions the failure rate is
	// computed over (default 20). Fewer decisions than the window never
	// trigger degraded mode.
	DegradedWindow int

	// DefaultRole is the task role used when a signal does not name one
	// (default "developer").
	DefaultRole string
}

func (c Config) withDefaults() Config {
	if c.ModelWindow <= 0 {
		c.ModelWindow = DefaultModelWindow
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = DefaultHistoryLimit
	}
	if c.HistoryTrim <= 0 || c.HistoryTrim > c.HistoryLimit {
		c.HistoryTrim = DefaultHistoryTrim
	}
	if c.DegradedThreshold <= 0 || c.DegradedThreshold > 1 {
		c.DegradedThreshold = DefaultDegradedThreshold
	}
	if c.DegradedWindow <= 0 {
		c.DegradedWindow = DefaultDegradedWindow
	}
	if c.DefaultRole == "" {
		c.DefaultRole = DefaultRole
	}
	return c
}

// HistoryEntry is one processed decision.
type HistoryEntry struct {
	SignalID   string            `json:"signalId"`
	Kind       signal.Kind       `json:"kind"`
	Timestamp  time.Time         `json:"timestamp"`
	TokenUsage *types.TokenUsage `json:"tokenUsage,omitempty"`
	DurationMs int64             `json:"durationMs"`
	Success    bool              `json:"success"`
	Escalated  bool              `json:"escalated,omitempty"`
	Error      string            `json:"error,omitempty"`
}

// Orchestrator drives the processing loop.
type Orchestrator struct {
	queue       *Queue
	executor    Executor
	registry    *guidelines.Registry
	warRoom     *warroom.Manager
	distributor *tokenbudget.Distributor
	classifier  *tokenbudget.Classifier
	catalog     *signal.Catalog

	cfg      Config
	eventBus *bus.Bus
	tracer   observability.Tracer
	logger   *zap.Logger

	histMu  sync.Mutex
	history []HistoryEntry

	outcomeMu sync.Mutex
	outcomes  []bool

	degraded atomic.Bool
	started  atomic.Bool
	stopOnce sync.Once
	cancel   context.CancelFunc
	loopDone chan struct{}
}

// New wires an orchestrator. registry, warRoom, and eventBus may be nil
// for reduced deployments; the corresponding steps become no-ops.
func New(executor Executor, registry *guidelines.Registry, warRoom *warroom.Manager,
	distributor *tokenbudget.Distributor, catalog *signal.Catalog, cfg Config,
	eventBus *bus.Bus, tracer observability.Tracer, logger *zap.Logger) *Orchestrator {
	if tracer == nil {
		tracer = observability.NewNoOpTracer()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if catalog == nil {
		catalog = signal.DefaultCatalog()
	}
	if distributor == nil {
		distributor = tokenbudget.NewDistributor(eventBus, tracer, logger)
	}
	return &Orchestrator{
		queue:       NewQueue(),
		executor:    executor,
		registry:    registry,
		warRoom:     warRoom,
		distributor: distributor,
		classifier:  tokenbudget.NewClassifier(),
		catalog:     catalog,
		cfg:         cfg.withDefaults(),
		eventBus:    eventBus,
		tracer:      tracer,
		logger:      logger,
		loopDone:    make(chan struct{}),
	}
}

// Start launches the consumer loop. Starting twice fails without side
// effect.
func (o *Orchestrator) Start(ctx context.Context) error {
	if !o.started.CompareAndSwap(false, true) {
		return types.ErrAlreadyStarted
	}
	loopCtx, cancel := context.WithCancel(context.Background())
	o.cancel = cancel
	go o.loop(loopCtx)
	o.logger.Info("orchestrator started")
	return nil
}

// Stop ends the loop and closes the queue. Idempotent.
func (o *Orchestrator) Stop(ctx context.Context) error {
	if !o.started.Load() {
		return nil
	}
	o.stopOnce.Do(func() {
		o.queue.Close()
		o.cancel()
		select {
		case <-o.loopDone:
		case <-ctx.Done():
		}
		o.logger.Info("orchestrator stopped")
	})
	return nil
}

// Submit enqueues a signal for processing. In degraded mode only fatal
// signals are accepted.
func (o *Orchestrator) Submit(sig signal.Signal) error {
	if o.degraded.Load() && !sig.IsFatal() {
		return types.ErrDegraded
	}
	return o.queue.Enqueue(sig)
}

// Degraded reports whether the orchestrator is refusing non-fatal work.
func (o *Orchestrator) Degraded() bool {
	return o.degraded.Load()
}

// History returns a copy of the processing history, oldest first.
func (o *Orchestrator) History() []HistoryEntry {
	o.histMu.Lock()
	defer o.histMu.Unlock()
	out := make([]HistoryEntry, len(o.history))
	copy(out, o.history)
	return out
}

// QueueStats exposes the signal queue counters.
func (o *Orchestrator) QueueStats() QueueStats {
	return o.queue.Stats()
}

func (o *Orchestrator) loop(ctx context.Context) {
	defer close(o.loopDone)
	for {
		sig, err := o.queue.Dequeue(ctx)
		if err != nil {
			return
		}
		o.processSignal(ctx, sig)
	}
}

// appendHistory records a decision and trims on overflow.
func (o *Orchestrator) appendHistory(entry HistoryEntry) {
	o.histMu.Lock()
	o.history = append(o.history, entry)
	if len(o.history) > o.cfg.HistoryLimit {
		trimmed := o.history[len(o.history)-o.cfg.HistoryTrim:]
		o.history = append([]HistoryEntry(nil), trimmed...)
	}
	o.histMu.Unlock()
}

// recordOutcome feeds the trailing failure window and flips degraded
// mode when the rate crosses the threshold.
func (o *Orchestrator) recordOutcome(success bool) {
	o.outcomeMu.Lock()
	o.outcomes = append(o.outcomes, success)
	if len(o.outcomes) > o.cfg.DegradedWindow {
		o.outcomes = o.outcomes[len(o.outcomes)-o.cfg.DegradedWindow:]
	}
	full := len(o.outcomes) >= o.cfg.DegradedWindow
	failed := 0
	for _, ok := range o.outcomes {
		if !ok {
			failed++
		}
	}
	rate := float64(failed) / float64(len(o.outcomes))
	o.outcomeMu.Unlock()

	if full && rate > o.cfg.DegradedThreshold && o.degraded.CompareAndSwap(false, true) {
		o.logger.Error("entering degraded mode",
			zap.Float64("failure_rate", rate),
			zap.Float64("threshold", o.cfg.DegradedThreshold))
		o.emit(types.EventDegradedMode, map[string]any{
			"failureRate": rate,
			"threshold":   o.cfg.DegradedThreshold,
		})
	}
}

// emit publishes an event on the orchestrator channel.
func (o *Orchestrator) emit(eventType string, payload any) {
	if o.eventBus == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	event := bus.NewEvent(eventType, "orchestrator", payload)
	if _, _, err := o.eventBus.Publish(ctx, types.ChannelOrchestrator, event); err != nil {
		o.logger.Warn("failed to publish orchestrator event",
			zap.String("type", eventType), zap.Error(err))
	}
}
