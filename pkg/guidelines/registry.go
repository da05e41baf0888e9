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
package guidelines

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teradata-labs/jacquard/pkg/bus"
	"github.com/teradata-labs/jacquard/pkg/observability"
	"github.com/teradata-labs/jacquard/pkg/signal"
	"github.com/teradata-labs/jacquard/pkg/types"
)

// Span names for guideline operations.
const (
	SpanRegister      = "guidelines.register"
	SpanProcessSignal = "guidelines.process_signal"
)

// Registry is the catalog of guidelines and their executions.
type Registry struct {
	mu sync.RWMutex

	guidelines map[string]Guideline
	metrics    map[string]*Metrics
	executions map[string]*Execution

	eventBus *bus.Bus
	tracer   observability.Tracer
	logger   *zap.Logger
}

// New creates an empty registry. eventBus may be nil.
func New(eventBus *bus.Bus, tracer observability.Tracer, logger *zap.Logger) *Registry {
	if tracer == nil {
		tracer = observability.NewNoOpTracer()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		guidelines: make(map[string]Guideline),
		metrics:    make(map[string]*Metrics),
		executions: make(map[string]*Execution),
		eventBus:   eventBus,
		tracer:     tracer,
		logger:     logger,
	}
}

// Register validates and adds a guideline. Every dependency named in
// metadata must already be registered so the dependents graph stays
// consistent.
func (r *Registry) Register(ctx context.Context, g Guideline) error {
	_, span := r.tracer.StartSpan(ctx, SpanRegister,
		observability.WithAttribute("guideline_id", g.ID))
	defer r.tracer.EndSpan(span)

	if err := validateStructure(g); err != nil {
		span.RecordError(err)
		return err
	}
	if err := validateDocument(g); err != nil {
		span.RecordError(err)
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.guidelines[g.ID]; exists {
		return types.NewConfigError("id", "guideline %s already registered", g.ID)
	}
	for _, dep := range g.Metadata.Dependencies {
		if _, ok := r.guidelines[dep]; !ok {
			return types.NewConfigError("metadata.dependencies",
				"guideline %s depends on unregistered %s", g.ID, dep)
		}
	}

	r.guidelines[g.ID] = g
	if _, ok := r.metrics[g.ID]; !ok {
		r.metrics[g.ID] = &Metrics{}
	}

	r.logger.Info("guideline registered",
		zap.String("guideline", g.ID),
		zap.String("category", g.Category),
		zap.Bool("enabled", g.Enabled))
	return nil
}

// Unregister removes a guideline. It fails while other guidelines
// depend on it.
func (r *Registry) Unregister(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.guidelines[id]; !ok {
		return types.NewConfigError("id", "guideline %s not registered", id)
	}
	if dependents := r.dependentsLocked(id); len(dependents) > 0 {
		return types.NewConfigError("id",
			"guideline %s has dependents: %v", id, dependents)
	}

	delete(r.guidelines, id)
	r.logger.Info("guideline unregistered", zap.String("guideline", id))
	return nil
}

// dependentsLocked lists guidelines that name id as a dependency.
func (r *Registry) dependentsLocked(id string) []string {
	var dependents []string
	for _, g := range r.guidelines {
		for _, dep := range g.Metadata.Dependencies {
			if dep == id {
				dependents = append(dependents, g.ID)
			}
		}
	}
	sort.Strings(dependents)
	return dependents
}

// SetEnabled toggles a guideline. Idempotent: an actual state change
// emits exactly one guideline_toggled event, a no-op change emits none.
func (r *Registry) SetEnabled(id string, enabled bool) error {
	r.mu.Lock()
	g, ok := r.guidelines[id]
	if !ok {
		r.mu.Unlock()
		return types.NewConfigError("id", "guideline %s not registered", id)
	}
	changed := g.Enabled != enabled
	g.Enabled = enabled
	r.guidelines[id] = g
	r.mu.Unlock()

	if changed {
		r.emit(types.EventGuidelineToggled, map[string]any{
			"guidelineId": id,
			"enabled":     enabled,
		})
	}
	return nil
}

// Get returns the guideline with the given id.
func (r *Registry) Get(id string) (Guideline, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.guidelines[id]
	return g, ok
}

// Guidelines returns all registered guidelines ordered by descending
// priority, then id.
func (r *Registry) Guidelines() []Guideline {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sortedLocked()
}

func (r *Registry) sortedLocked() []Guideline {
	out := make([]Guideline, 0, len(r.guidelines))
	for _, g := range r.guidelines {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Applicable returns the enabled guidelines triggered by the given
// signal kind, in dispatch order.
func (r *Registry) Applicable(kind signal.Kind) []Guideline {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Guideline
	for _, g := range r.sortedLocked() {
		if g.Enabled && g.Protocol.Triggered(kind) {
			out = append(out, g)
		}
	}
	return out
}

// Triggered reports whether the protocol's trigger list includes kind.
func (p Protocol) Triggered(kind signal.Kind) bool {
	for _, trigger := range p.Triggers {
		if trigger == kind {
			return true
		}
	}
	return false
}

// emit publishes an event on the guidelines channel.
func (r *Registry) emit(eventType string, payload any) {
	if r.eventBus == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	event := bus.NewEvent(eventType, "guidelines", payload)
	if _, _, err := r.eventBus.Publish(ctx, types.ChannelGuidelines, event); err != nil {
		r.logger.Warn("failed to publish guidelines event",
			zap.String("type", eventType), zap.Error(err))
	}
}
