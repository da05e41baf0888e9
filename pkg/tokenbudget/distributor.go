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
package tokenbudget

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/teradata-labs/jacquard/pkg/bus"
	"github.com/teradata-labs/jacquard/pkg/observability"
	"github.com/teradata-labs/jacquard/pkg/types"
)

// SpanAllocate names the allocation span.
const SpanAllocate = "tokenbudget.allocate"

// Slot names one section of the prompt budget.
type Slot string

const (
	SlotInspectorOutput Slot = "inspectorOutput"
	SlotAgentsManifest  Slot = "agentsManifest"
	SlotPRPContent      Slot = "prpContent"
	SlotSharedWarzone   Slot = "sharedWarzone"
	SlotUserMessages    Slot = "userMessages"
	SlotToolCalls       Slot = "toolCalls"
	SlotCotReasoning    Slot = "cotReasoning"
	SlotSafetyBuffer    Slot = "safetyBuffer"
)

// Fixed baselines. Inspector output and the agents manifest never scale;
// everything else is elastic.
const (
	baseInspectorOutput = 40000
	baseAgentsManifest  = 20000
	basePRPContent      = 30000
	baseWarzonePerAgent = 10000
	baseUserMessages    = 20000
	baseToolCalls       = 2000
)

// maxUserMessagesScale caps the active-agents scaling of the user
// message slot, reached at 5+ agents.
const maxUserMessagesScale = 2.0

// maxReduction is the largest fraction of a slot compression may take.
// Equivalently, a slot never drops below 30% of its pre-compression
// value.
const maxReduction = 0.7

// compressionOrder is the sequence in which elastic slots give up
// tokens when the total exceeds the model window.
var compressionOrder = []Slot{
	SlotUserMessages,
	SlotPRPContent,
	SlotSharedWarzone,
	SlotCotReasoning,
	SlotToolCalls,
}

// Budget is one computed allocation. Slots always sum to at most the
// model window; SafetyBuffer absorbs the remainder.
type Budget struct {
	Slots        map[Slot]int `json:"slots"`
	ModelWindow  int          `json:"modelWindow"`
	ActiveAgents int          `json:"activeAgents"`
	Complexity   Complexity   `json:"complexity"`
	Compressed   bool         `json:"compressed"`
}

// Total sums every slot including the safety buffer.
func (b *Budget) Total() int {
	total := 0
	for _, v := range b.Slots {
		total += v
	}
	return total
}

// SlotDelta records one compression reduction.
type SlotDelta struct {
	Slot   Slot `json:"slot"`
	Before int  `json:"before"`
	After  int  `json:"after"`
}

// Distributor computes allocations. Given the same inputs it always
// produces the same budget; there is no randomness anywhere in the
// pipeline.
type Distributor struct {
	eventBus *bus.Bus
	tracer   observability.Tracer
	logger   *zap.Logger
}

// NewDistributor creates a distributor. eventBus may be nil, in which
// case compaction events are only logged.
func NewDistributor(eventBus *bus.Bus, tracer observability.Tracer, logger *zap.Logger) *Distributor {
	if tracer == nil {
		tracer = observability.NewNoOpTracer()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Distributor{eventBus: eventBus, tracer: tracer, logger: logger}
}

// Allocate computes the budget for one orchestrator invocation. When the
// scaled total exceeds the model window a compression pass runs over the
// elastic slots in order, and a compaction_applied event carries the
// per-slot deltas.
func (d *Distributor) Allocate(ctx context.Context, activeAgents, modelWindow int, complexity Complexity) (*Budget, error) {
	if modelWindow <= 0 {
		return nil, fmt.Errorf("model window must be positive, got %d", modelWindow)
	}
	if activeAgents < 0 {
		activeAgents = 0
	}

	ctx, span := d.tracer.StartSpan(ctx, SpanAllocate,
		observability.WithAttribute("active_agents", activeAgents),
		observability.WithAttribute("model_window", modelWindow),
		observability.WithAttribute("complexity", string(complexity)),
	)
	defer d.tracer.EndSpan(span)

	mult := complexity.Multiplier()
	b := &Budget{
		ModelWindow:  modelWindow,
		ActiveAgents: activeAgents,
		Complexity:   complexity,
		Slots: map[Slot]int{
			SlotInspectorOutput: baseInspectorOutput,
			SlotAgentsManifest:  baseAgentsManifest,
			SlotPRPContent:      int(basePRPContent * mult),
			SlotSharedWarzone:   baseWarzonePerAgent * activeAgents,
			SlotUserMessages:    int(baseUserMessages * userMessagesScale(activeAgents)),
			SlotToolCalls:       int(float64(baseToolCalls*activeAgents) * mult),
			SlotCotReasoning:    complexity.CotTokens(),
		},
	}

	total := b.Total()
	if total <= modelWindow {
		b.Slots[SlotSafetyBuffer] = modelWindow - total
		span.SetAttribute("total", b.Total())
		return b, nil
	}

	deltas := d.compress(b, total-modelWindow)
	b.Compressed = true

	total = b.Total()
	if total > modelWindow {
		// Even maximal elastic reduction cannot fit the fixed slots.
		span.RecordError(types.ErrBudgetOverflow)
		return nil, fmt.Errorf("window %d cannot hold budget %d: %w", modelWindow, total, types.ErrBudgetOverflow)
	}
	b.Slots[SlotSafetyBuffer] = modelWindow - total

	d.emitCompaction(ctx, b, deltas)
	span.SetAttribute("total", b.Total())
	span.SetAttribute("compressed", true)
	return b, nil
}

// userMessagesScale grows linearly with active agents and saturates at
// 2.0 for five or more.
func userMessagesScale(activeAgents int) float64 {
	if activeAgents <= 1 {
		return 1.0
	}
	scale := 1.0 + 0.25*float64(activeAgents-1)
	if scale > maxUserMessagesScale {
		return maxUserMessagesScale
	}
	return scale
}

// compress walks the compression order, taking at most 70% of each slot,
// until the overflow is covered.
func (d *Distributor) compress(b *Budget, overflow int) []SlotDelta {
	var deltas []SlotDelta
	for _, slot := range compressionOrder {
		if overflow <= 0 {
			break
		}
		current := b.Slots[slot]
		maxCut := int(float64(current) * maxReduction)
		cut := maxCut
		if cut > overflow {
			cut = overflow
		}
		if cut <= 0 {
			continue
		}
		b.Slots[slot] = current - cut
		overflow -= cut
		deltas = append(deltas, SlotDelta{Slot: slot, Before: current, After: current - cut})
	}
	return deltas
}

func (d *Distributor) emitCompaction(ctx context.Context, b *Budget, deltas []SlotDelta) {
	d.logger.Info("token budget compressed",
		zap.Int("model_window", b.ModelWindow),
		zap.Int("active_agents", b.ActiveAgents),
		zap.String("complexity", string(b.Complexity)),
		zap.Int("slots_reduced", len(deltas)),
	)
	if d.eventBus == nil {
		return
	}
	event := bus.NewEvent(types.EventCompactionApplied, "tokenbudget", map[string]any{
		"deltas": deltas,
		"budget": b,
	})
	if _, _, err := d.eventBus.Publish(ctx, types.ChannelOrchestrator, event); err != nil {
		d.logger.Warn("failed to publish compaction event", zap.Error(err))
	}
}
