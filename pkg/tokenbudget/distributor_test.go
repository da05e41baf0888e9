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
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teradata-labs/jacquard/pkg/bus"
	"github.com/teradata-labs/jacquard/pkg/signal"
	"github.com/teradata-labs/jacquard/pkg/types"
)

func TestAllocateWithinWindow(t *testing.T) {
	d := NewDistributor(nil, nil, zaptest.NewLogger(t))

	b, err := d.Allocate(context.Background(), 2, 200000, ComplexityMedium)
	require.NoError(t, err)

	assert.False(t, b.Compressed)
	assert.Equal(t, 40000, b.Slots[SlotInspectorOutput])
	assert.Equal(t, 20000, b.Slots[SlotAgentsManifest])
	assert.Equal(t, 30000, b.Slots[SlotPRPContent])
	assert.Equal(t, 20000, b.Slots[SlotSharedWarzone])
	assert.Equal(t, 10000, b.Slots[SlotCotReasoning])
	assert.Equal(t, 200000, b.Total(), "safety buffer absorbs the remainder")
	assert.GreaterOrEqual(t, b.Slots[SlotSafetyBuffer], 0)
}

func TestAllocateCompressesInOrder(t *testing.T) {
	eventBus := bus.New(nil, zaptest.NewLogger(t))
	defer eventBus.Close()

	events := make(chan types.Event, 4)
	_, err := eventBus.Subscribe(context.Background(), "test", types.ChannelOrchestrator,
		func(e types.Event) { events <- e }, 4)
	require.NoError(t, err)

	d := NewDistributor(eventBus, nil, zaptest.NewLogger(t))

	// 10 agents at high complexity blows well past a 200k window:
	// inspector 40000 + manifest 20000 + prp 45000 + warzone 100000 +
	// messages 40000 + tools 30000 + cot 20000 = 295000.
	pre := map[Slot]int{
		SlotPRPContent:    45000,
		SlotSharedWarzone: 100000,
		SlotUserMessages:  40000,
		SlotToolCalls:     30000,
		SlotCotReasoning:  20000,
	}

	b, err := d.Allocate(context.Background(), 10, 200000, ComplexityHigh)
	require.NoError(t, err)

	assert.True(t, b.Compressed)
	assert.LessOrEqual(t, b.Total(), 200000)
	assert.GreaterOrEqual(t, b.Slots[SlotSafetyBuffer], 0)

	// Fixed slots are untouched.
	assert.Equal(t, 40000, b.Slots[SlotInspectorOutput])
	assert.Equal(t, 20000, b.Slots[SlotAgentsManifest])

	// Reduction starts with user messages and no slot drops below 30%
	// of its pre-compression value.
	assert.Equal(t, 12000, b.Slots[SlotUserMessages], "userMessages takes the first, maximal cut")
	for slot, before := range pre {
		floor := int(float64(before) * 0.3)
		assert.GreaterOrEqual(t, b.Slots[slot], floor, "slot %s under 30%% floor", slot)
	}

	// Later slots in the order are untouched once the overflow is covered.
	assert.Equal(t, 20000, b.Slots[SlotCotReasoning])
	assert.Equal(t, 30000, b.Slots[SlotToolCalls])

	select {
	case e := <-events:
		assert.Equal(t, types.EventCompactionApplied, e.Type)
	case <-time.After(2 * time.Second):
		t.Fatal("expected a compaction_applied event")
	}
}

func TestAllocateDeterministic(t *testing.T) {
	d := NewDistributor(nil, nil, zaptest.NewLogger(t))

	first, err := d.Allocate(context.Background(), 7, 150000, ComplexityHigh)
	require.NoError(t, err)
	second, err := d.Allocate(context.Background(), 7, 150000, ComplexityHigh)
	require.NoError(t, err)

	assert.Equal(t, first.Slots, second.Slots)
}

func TestAllocateWindowTooSmall(t *testing.T) {
	d := NewDistributor(nil, nil, zaptest.NewLogger(t))

	// The fixed slots alone exceed 50k; maximal elastic reduction
	// cannot save this window.
	_, err := d.Allocate(context.Background(), 1, 50000, ComplexityLow)
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrBudgetOverflow)
}

func TestAllocateRejectsBadWindow(t *testing.T) {
	d := NewDistributor(nil, nil, zaptest.NewLogger(t))
	_, err := d.Allocate(context.Background(), 1, 0, ComplexityLow)
	require.Error(t, err)
}

func TestUserMessagesScale(t *testing.T) {
	assert.Equal(t, 1.0, userMessagesScale(0))
	assert.Equal(t, 1.0, userMessagesScale(1))
	assert.Equal(t, 1.5, userMessagesScale(3))
	assert.Equal(t, 2.0, userMessagesScale(5))
	assert.Equal(t, 2.0, userMessagesScale(12), "scale saturates at 5+ agents")
}

func TestClassifierPayloadAndCorrelation(t *testing.T) {
	catalog := signal.DefaultCatalog()
	c := NewClassifier()

	small := signal.New(catalog, signal.KindTaskProgress, "agent:a1", map[string]any{"note": "ok"})
	assert.Equal(t, ComplexityLow, c.Classify(small))

	big := signal.New(catalog, signal.KindBlocker, "agent:a1", map[string]any{
		"dump": strings.Repeat("x", 5000),
	})
	assert.Equal(t, ComplexityMedium, c.Classify(big))

	// Six correlated observations from the same source push the score
	// to high even for a large payload alone.
	for i := 0; i < 6; i++ {
		c.Observe(signal.New(catalog, signal.KindTaskProgress, "agent:a1", nil))
	}
	assert.Equal(t, ComplexityHigh, c.Classify(big))

	// An unrelated source stays uncorrelated.
	other := signal.New(catalog, signal.KindTaskProgress, "agent:zz", nil)
	assert.Equal(t, ComplexityLow, c.Classify(other))
}

func TestCounterFallsBackToEstimate(t *testing.T) {
	c := &Counter{} // no encoder: estimate path
	assert.Equal(t, 3, c.Count("0123456789"))
	assert.Equal(t, 0, c.Count(""))
	assert.Equal(t, Estimate("0123456789"), c.Count("0123456789"))
}

func TestComplexityTables(t *testing.T) {
	assert.Equal(t, 0.7, ComplexityLow.Multiplier())
	assert.Equal(t, 1.0, ComplexityMedium.Multiplier())
	assert.Equal(t, 1.5, ComplexityHigh.Multiplier())
	assert.Equal(t, 5000, ComplexityLow.CotTokens())
	assert.Equal(t, 10000, ComplexityMedium.CotTokens())
	assert.Equal(t, 20000, ComplexityHigh.CotTokens())
}
