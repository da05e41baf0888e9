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
package signal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultCatalogIsTotal(t *testing.T) {
	c := DefaultCatalog()

	for _, k := range AllKinds() {
		e, ok := c.Entry(k)
		require.True(t, ok, "missing entry for kind %q", k)
		assert.NotEmpty(t, e.Name, "kind %q has no name", k)
		assert.GreaterOrEqual(t, e.Priority, PriorityMin)
		assert.LessOrEqual(t, e.Priority, PriorityMax)
	}
}

func TestCatalogPriorities(t *testing.T) {
	c := DefaultCatalog()

	assert.Equal(t, 10, c.Priority(KindFatalFailure))
	assert.Equal(t, 9, c.Priority(KindBlocker))
	assert.Equal(t, 8, c.Priority(KindOrchestratorAttention))
	assert.Equal(t, 8, c.Priority(KindAwaitingApproval))
	assert.Equal(t, 7, c.Priority(KindTestFailure))
	assert.Equal(t, 5, c.Priority(KindDevProgress))
	assert.Equal(t, 3, c.Priority(KindCodeQuality))
}

func TestCatalogRejectsPartialTable(t *testing.T) {
	_, err := NewCatalog(defaultEntries[:3])
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not total")
}

func TestCatalogOverride(t *testing.T) {
	c := DefaultCatalog()

	over, err := c.Override(map[Kind]int{KindDevProgress: 6})
	require.NoError(t, err)
	assert.Equal(t, 6, over.Priority(KindDevProgress))
	// Original catalog unchanged.
	assert.Equal(t, 5, c.Priority(KindDevProgress))

	_, err = c.Override(map[Kind]int{"zz": 4})
	assert.Error(t, err)

	_, err = c.Override(map[Kind]int{KindDevProgress: 11})
	assert.Error(t, err)
}

func TestNewSignal(t *testing.T) {
	c := DefaultCatalog()

	s := New(c, KindBlocker, "agent:a1", map[string]any{"file": "main.go"})
	assert.NotEmpty(t, s.ID)
	assert.Equal(t, KindBlocker, s.Kind)
	assert.Equal(t, 9, s.Priority)
	assert.Equal(t, StateActive, s.State)
	assert.False(t, s.Timestamp.IsZero())
}

func TestStateTransitionsCreateNewSignals(t *testing.T) {
	c := DefaultCatalog()
	orig := New(c, KindBlocker, "agent:a1", nil)

	resolved := Resolve(orig, "orchestrator")
	assert.NotEqual(t, orig.ID, resolved.ID)
	assert.Equal(t, orig.ID, resolved.ReplyTo)
	assert.Equal(t, StateResolved, resolved.State)
	assert.Equal(t, orig.Kind, resolved.Kind)
	// Original is untouched.
	assert.Equal(t, StateActive, orig.State)

	expired := Expire(orig, "sweeper")
	assert.Equal(t, StateExpired, expired.State)
	assert.Equal(t, orig.ID, expired.ReplyTo)
}

func TestIsFatal(t *testing.T) {
	c := DefaultCatalog()

	assert.True(t, New(c, KindFatalFailure, "scanner", nil).IsFatal())
	assert.False(t, New(c, KindBlocker, "scanner", nil).IsFatal())
}

func TestFindTokens(t *testing.T) {
	c := DefaultCatalog()

	matches := FindTokens(c, "PRP-007 [bb] blocker: missing token")
	require.Len(t, matches, 1)
	assert.Equal(t, KindBlocker, matches[0].Kind)
	assert.Equal(t, "[bb]", "PRP-007 [bb] blocker: missing token"[matches[0].Start:matches[0].End])
}

func TestFindTokensMultiple(t *testing.T) {
	c := DefaultCatalog()

	line := "[tp] step done, next [tw] then [tg]"
	matches := FindTokens(c, line)
	require.Len(t, matches, 3)
	assert.Equal(t, KindTaskProgress, matches[0].Kind)
	assert.Equal(t, KindTestsWritten, matches[1].Kind)
	assert.Equal(t, KindTestsGreen, matches[2].Kind)
}

func TestFindTokensIgnoresUnknownCodes(t *testing.T) {
	c := DefaultCatalog()

	assert.Empty(t, FindTokens(c, "nothing here [zz] or [q] or [abc]"))

	// Case matters: [Ff] is not a declared code, [FF] is.
	assert.Empty(t, FindTokens(c, "mixed [Ff] case"))
	matches := FindTokens(c, "fatal [FF] case")
	require.Len(t, matches, 1)
	assert.Equal(t, KindFatalFailure, matches[0].Kind)
}
