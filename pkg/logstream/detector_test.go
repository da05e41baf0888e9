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
package logstream

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teradata-labs/jacquard/pkg/signal"
	"github.com/teradata-labs/jacquard/pkg/types"
)

func TestDetectorScoresBlockerLine(t *testing.T) {
	d := NewDetector(signal.DefaultCatalog())

	sigs := d.Detect("a1", "sess-1", "[bb] Blocked: waiting for dependency approval")
	require.Len(t, sigs, 1)

	sig := sigs[0]
	assert.Equal(t, signal.KindBlocker, sig.Kind)
	assert.Equal(t, 9, sig.Priority)
	assert.Equal(t, "agent:a1", sig.Source)
	// 0.8 base + 0.1 for the colon after the token, no PRP marker.
	assert.InDelta(t, 0.9, sig.Confidence, 0.0001)
	assert.Contains(t, sig.Context, "[bb]")
	assert.Equal(t, "sess-1", sig.Payload["sessionId"])
}

func TestDetectorConfidenceCapsAtOne(t *testing.T) {
	d := NewDetector(signal.DefaultCatalog())

	sigs := d.Detect("a1", "s", "## PRP-42 [FF] fatal: everything is on fire")
	require.Len(t, sigs, 1)
	assert.InDelta(t, 1.0, sigs[0].Confidence, 0.0001)
	assert.Equal(t, 10, sigs[0].Priority)
}

func TestDetectorBareTokenScoresBase(t *testing.T) {
	d := NewDetector(signal.DefaultCatalog())

	sigs := d.Detect("a1", "s", "made some progress [tp] today")
	require.Len(t, sigs, 1)
	assert.InDelta(t, 0.8, sigs[0].Confidence, 0.0001)
}

func TestDetectorPunctuationWindowIsBounded(t *testing.T) {
	d := NewDetector(signal.DefaultCatalog())

	// The only punctuation sits more than 100 chars past the token.
	line := "[tp] " + strings.Repeat("a", 120) + " : late colon"
	sigs := d.Detect("a1", "s", line)
	require.Len(t, sigs, 1)
	assert.InDelta(t, 0.8, sigs[0].Confidence, 0.0001)
}

func TestDetectorIgnoresUnknownAndCaseMismatchedCodes(t *testing.T) {
	d := NewDetector(signal.DefaultCatalog())

	assert.Empty(t, d.Detect("a1", "s", "nothing here [zz] [Ff] [f] [fff]"))
}

func TestDetectorEmitsOneSignalPerToken(t *testing.T) {
	d := NewDetector(signal.DefaultCatalog())

	sigs := d.Detect("a1", "s", "[tp] progress then [er] runtime error")
	require.Len(t, sigs, 2)
	assert.Equal(t, signal.KindTaskProgress, sigs[0].Kind)
	assert.Equal(t, signal.KindError, sigs[1].Kind)
}

func TestDetectorContextRadius(t *testing.T) {
	d := NewDetector(signal.DefaultCatalog())

	line := strings.Repeat("x", 200) + "[bb]" + strings.Repeat("y", 200)
	sigs := d.Detect("a1", "s", line)
	require.Len(t, sigs, 1)
	// 50 chars each side plus the 4-char token itself.
	assert.Len(t, sigs[0].Context, 104)
}

func TestClassifyLevelFirstMatchWins(t *testing.T) {
	tests := []struct {
		line string
		want types.LogLevel
	}{
		{"FATAL: disk gone", types.LogCritical},
		{"critical path failed", types.LogCritical},
		{"panic: runtime error", types.LogCritical}, // fatal class outranks error class
		{"error: file not found", types.LogError},
		{"caught Exception in handler", types.LogError},
		{"warn: retrying", types.LogWarn},
		{"deprecated API used", types.LogWarn},
		{"info: started", types.LogInfo},
		{"plain output line", types.LogDebug},
		{"", types.LogDebug},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, classifyLevel(tt.line), "line %q", tt.line)
	}
}

func TestRingWrapsAtCapacity(t *testing.T) {
	r := newRing(3)
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		r.append(types.LogEntry{ID: id})
	}
	snap := r.snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, "c", snap[0].ID)
	assert.Equal(t, "d", snap[1].ID)
	assert.Equal(t, "e", snap[2].ID)
}
