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
package warroom

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teradata-labs/jacquard/pkg/tokenbudget"
)

func newTestManager(t *testing.T, cfg Config) *Manager {
	t.Helper()
	m, err := New(cfg, nil, nil, zaptest.NewLogger(t))
	require.NoError(t, err)
	return m
}

func TestWarRoomTransitions(t *testing.T) {
	m := newTestManager(t, Config{})
	ctx := context.Background()

	require.NoError(t, m.AddToWarRoom(ctx, SectionNext, "X"))
	require.NoError(t, m.AddToWarRoom(ctx, SectionNext, "Y"))

	moved, err := m.MoveInWarRoom(ctx, SectionNext, SectionDoing, "X")
	require.NoError(t, err)
	assert.True(t, moved)

	moved, err = m.MoveInWarRoom(ctx, SectionDoing, SectionDone, "X")
	require.NoError(t, err)
	assert.True(t, moved)

	status := m.WarRoomStatus()
	require.Len(t, status.Sections[SectionDone], 1)
	assert.Equal(t, "X", status.Sections[SectionDone][0].Text)
	assert.Empty(t, status.Sections[SectionDoing])
	require.Len(t, status.Sections[SectionNext], 1)
	assert.Equal(t, "Y", status.Sections[SectionNext][0].Text)
	assert.Equal(t, 2, status.TotalItems)

	removed, err := m.ArchiveWarRoomItems(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)
	assert.Equal(t, 0, m.WarRoomStatus().TotalItems)
}

func TestMoveAbsentItemMutatesNothing(t *testing.T) {
	m := newTestManager(t, Config{})
	ctx := context.Background()

	require.NoError(t, m.AddToWarRoom(ctx, SectionNext, "X"))
	before := m.WarRoomStatus()

	moved, err := m.MoveInWarRoom(ctx, SectionNext, SectionDone, "missing")
	require.NoError(t, err)
	assert.False(t, moved)

	after := m.WarRoomStatus()
	assert.Equal(t, before.Sections, after.Sections)
	assert.Equal(t, before.TotalItems, after.TotalItems)
}

func TestSectionBoundEvictsFIFO(t *testing.T) {
	m := newTestManager(t, Config{MaxItems: 3})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, m.AddToWarRoom(ctx, SectionNotes, fmt.Sprintf("note-%d", i)))
	}

	status := m.WarRoomStatus()
	require.Len(t, status.Sections[SectionNotes], 3)
	assert.Equal(t, "note-2", status.Sections[SectionNotes][0].Text)
	assert.Equal(t, "note-4", status.Sections[SectionNotes][2].Text)

	archived := m.ArchivedItems()
	require.Len(t, archived, 2)
	assert.Equal(t, "note-0", archived[0].Item.Text)
}

func TestUnknownSectionRejected(t *testing.T) {
	m := newTestManager(t, Config{})
	err := m.AddToWarRoom(context.Background(), Section("bogus"), "x")
	require.Error(t, err)
}

func TestContextVersioningAndRollback(t *testing.T) {
	m := newTestManager(t, Config{})
	ctx := context.Background()

	first, conflict, err := m.UpdateContext(ctx, "prp-007", Update{Content: "v1 content", Priority: 5})
	require.NoError(t, err)
	require.Nil(t, conflict)
	assert.Equal(t, int64(1), first.Version)
	assert.Equal(t, tokenbudget.NewCounter().Count("v1 content"), first.Tokens)

	second, conflict, err := m.UpdateContext(ctx, "prp-007", Update{Content: "v2 content", Priority: 5})
	require.NoError(t, err)
	require.Nil(t, conflict)
	assert.Equal(t, int64(2), second.Version)

	rolled, err := m.RollbackContext(ctx, "prp-007", 1)
	require.NoError(t, err)
	assert.Equal(t, int64(3), rolled.Version, "rollback bumps the counter")
	assert.Equal(t, "v1 content", rolled.Content)

	_, err = m.RollbackContext(ctx, "prp-007", 99)
	require.Error(t, err)
}

func TestContextHistoryCompressesLargePayloads(t *testing.T) {
	m := newTestManager(t, Config{})
	ctx := context.Background()

	big := strings.Repeat("the same phrase over and over. ", 200)
	_, _, err := m.UpdateContext(ctx, "doc", Update{Content: big, Priority: 1})
	require.NoError(t, err)
	_, _, err = m.UpdateContext(ctx, "doc", Update{Content: "tiny", Priority: 1})
	require.NoError(t, err)

	rolled, err := m.RollbackContext(ctx, "doc", 1)
	require.NoError(t, err)
	assert.Equal(t, big, rolled.Content, "compressed history round-trips")
}

func TestContentConflictRequiresExplicitResolution(t *testing.T) {
	m := newTestManager(t, Config{})
	ctx := context.Background()

	created, _, err := m.UpdateContext(ctx, "plan", Update{Content: "original", Priority: 1})
	require.NoError(t, err)

	// A second writer updates first.
	_, _, err = m.UpdateContext(ctx, "plan", Update{Content: "theirs", Priority: 1})
	require.NoError(t, err)

	// The stale writer's update collides.
	section, conflict, err := m.UpdateContext(ctx, "plan", Update{
		Content:      "mine",
		Priority:     1,
		BaseChecksum: created.Checksum,
	})
	require.NoError(t, err)
	assert.Nil(t, section, "conflicting update is not applied")
	require.NotNil(t, conflict)
	assert.Equal(t, ConflictContent, conflict.Type)
	assert.NotEmpty(t, conflict.Diff)

	current, ok := m.GetContext("plan")
	require.True(t, ok)
	assert.Equal(t, "theirs", current.Content)

	merged, err := m.ResolveConflict(ctx, conflict.ID, ResolutionMerge)
	require.NoError(t, err)
	assert.Contains(t, merged.Content, "theirs")
	assert.Contains(t, merged.Content, "mine")

	// A conflict resolves exactly once.
	_, err = m.ResolveConflict(ctx, conflict.ID, ResolutionAccept)
	require.Error(t, err)
}

func TestPriorityConflictAutoMergesMaxWins(t *testing.T) {
	m := newTestManager(t, Config{})
	ctx := context.Background()

	_, _, err := m.UpdateContext(ctx, "plan", Update{Content: "a", Priority: 8})
	require.NoError(t, err)

	section, conflict, err := m.UpdateContext(ctx, "plan", Update{Content: "b", Priority: 3})
	require.NoError(t, err)
	require.NotNil(t, section)
	require.NotNil(t, conflict)
	assert.Equal(t, ConflictPriority, conflict.Type)
	assert.Equal(t, ResolutionMerge, conflict.Resolution)
	assert.Equal(t, 8, section.Priority, "max priority wins")
	assert.Equal(t, "b", section.Content, "content still applies")
}

func TestSubscriptionRoundTrip(t *testing.T) {
	m := newTestManager(t, Config{})
	ctx := context.Background()

	before := m.subscriberCount()

	var got []int64
	id, err := m.SubscribeToContextUpdates("watched", func(s ContextSection) {
		got = append(got, s.Version)
	})
	require.NoError(t, err)

	// A panicking peer must not affect the healthy subscriber.
	_, err = m.SubscribeToContextUpdates("watched", func(ContextSection) {
		panic("boom")
	})
	require.NoError(t, err)

	_, _, err = m.UpdateContext(ctx, "watched", Update{Content: "x", Priority: 1})
	require.NoError(t, err)
	_, _, err = m.UpdateContext(ctx, "other", Update{Content: "y", Priority: 1})
	require.NoError(t, err)

	assert.Equal(t, []int64{1}, got, "callback sees only its context")

	m.Unsubscribe(id)
	m.Unsubscribe(id) // idempotent
	assert.Equal(t, before+1, m.subscriberCount())
}

func TestCompactionTrimsHistoryAndArchive(t *testing.T) {
	m := newTestManager(t, Config{CompactTokens: 100, ArchiveTail: 1, MaxItems: 1})
	ctx := context.Background()

	long := strings.Repeat("x", 2000)
	for i := 0; i < 4; i++ {
		_, _, err := m.UpdateContext(ctx, "doc", Update{Content: long + fmt.Sprint(i), Priority: 1})
		require.NoError(t, err)
	}
	require.NoError(t, m.AddToWarRoom(ctx, SectionNotes, "a"))
	require.NoError(t, m.AddToWarRoom(ctx, SectionNotes, "b"))
	require.NoError(t, m.AddToWarRoom(ctx, SectionNotes, "c"))

	before := m.EstimatedTokens()
	require.Greater(t, before, 100)

	assert.True(t, m.CompactIfNeeded(ctx))
	assert.Less(t, m.EstimatedTokens(), before)
	assert.Len(t, m.ArchivedItems(), 1, "archive trimmed to the tail window")

	// Under threshold: no-op.
	small := newTestManager(t, Config{CompactTokens: 100000})
	assert.False(t, small.CompactIfNeeded(ctx))
}

func TestTokenCountsComeFromInjectedCounter(t *testing.T) {
	counter := tokenbudget.NewCounter()
	m, err := New(Config{Counter: counter}, nil, nil, zaptest.NewLogger(t))
	require.NoError(t, err)
	ctx := context.Background()

	content := "route build failures to the debugger before anything else"
	section, conflict, err := m.UpdateContext(ctx, "routing", Update{Content: content, Priority: 4})
	require.NoError(t, err)
	require.Nil(t, conflict)
	assert.Equal(t, counter.Count(content), section.Tokens)

	item := "waiting on the flaky integration suite"
	require.NoError(t, m.AddToWarRoom(ctx, SectionBlockers, item))
	assert.Equal(t, counter.Count(content)+counter.Count(item), m.EstimatedTokens())
}

func TestSnapshotRoundTripIgnoresArchive(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "warroom.json")
	ctx := context.Background()

	m := newTestManager(t, Config{MaxItems: 2})
	require.NoError(t, m.AddToWarRoom(ctx, SectionDoing, "alpha"))
	require.NoError(t, m.AddToWarRoom(ctx, SectionNotes, "n1"))
	require.NoError(t, m.AddToWarRoom(ctx, SectionNotes, "n2"))
	require.NoError(t, m.AddToWarRoom(ctx, SectionNotes, "n3")) // evicts n1

	require.NoError(t, m.SaveSnapshot(path))

	restored := newTestManager(t, Config{MaxItems: 2})
	require.NoError(t, restored.LoadSnapshot(path))

	status := restored.WarRoomStatus()
	assert.Equal(t, 3, status.TotalItems)
	require.Len(t, status.Sections[SectionDoing], 1)
	assert.Equal(t, "alpha", status.Sections[SectionDoing][0].Text)
	assert.Empty(t, restored.ArchivedItems(), "archive is write-only")

	// Missing file is not an error.
	fresh := newTestManager(t, Config{})
	require.NoError(t, fresh.LoadSnapshot(filepath.Join(dir, "absent.json")))
}

func TestArchiveSweepCutoff(t *testing.T) {
	m := newTestManager(t, Config{})
	ctx := context.Background()

	require.NoError(t, m.AddToWarRoom(ctx, SectionDone, "old"))

	// Backdate the entry past the cutoff.
	m.mu.Lock()
	m.memo.sections[SectionDone][0].AddedAt = time.Now().Add(-48 * time.Hour)
	m.mu.Unlock()

	require.NoError(t, m.AddToWarRoom(ctx, SectionDone, "fresh"))

	removed, err := m.ArchiveWarRoomItems(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	status := m.WarRoomStatus()
	require.Len(t, status.Sections[SectionDone], 1)
	assert.Equal(t, "fresh", status.Sections[SectionDone][0].Text)
}
