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
	"time"

	"github.com/google/uuid"
	"github.com/sergi/go-diff/diffmatchpatch"
	"go.uber.org/zap"
)

// ConflictType classifies how an update disagreed with current state.
type ConflictType string

const (
	// ConflictContent means the update was based on a stale version.
	// Requires explicit resolution.
	ConflictContent ConflictType = "content"

	// ConflictPriority means only the priority differed. Auto-merged
	// with the higher priority winning.
	ConflictPriority ConflictType = "priority"
)

// Resolution is the chosen outcome for a conflict.
type Resolution string

const (
	// ResolutionAccept applies the incoming update over current state.
	ResolutionAccept Resolution = "accept"

	// ResolutionReject discards the incoming update.
	ResolutionReject Resolution = "reject"

	// ResolutionMerge concatenates current and incoming content with a
	// delimiter at a new version.
	ResolutionMerge Resolution = "merge"
)

// mergeDelimiter separates current and incoming content in a merge.
const mergeDelimiter = "\n--- merged ---\n"

// Conflict records one detected disagreement between an update and the
// section's current state.
type Conflict struct {
	ID        string       `json:"id"`
	ContextID string       `json:"contextId"`
	Type      ConflictType `json:"type"`

	// CurrentVersion and CurrentChecksum identify the state the update
	// collided with.
	CurrentVersion  int64  `json:"currentVersion"`
	CurrentChecksum string `json:"currentChecksum"`

	// Diff is a compact rendering of current vs incoming content.
	Diff string `json:"diff,omitempty"`

	DetectedAt time.Time  `json:"detectedAt"`
	Resolution Resolution `json:"resolution,omitempty"`
	ResolvedAt *time.Time `json:"resolvedAt,omitempty"`

	// incoming is retained so a later resolution can apply it.
	incoming Update
}

// recordConflictLocked registers a conflict. Caller holds the lock.
func (m *Manager) recordConflictLocked(kind ConflictType, contextID string, current ContextSection, incoming Update) *Conflict {
	conflict := &Conflict{
		ID:              uuid.NewString(),
		ContextID:       contextID,
		Type:            kind,
		CurrentVersion:  current.Version,
		CurrentChecksum: current.Checksum,
		DetectedAt:      time.Now(),
		incoming:        incoming,
	}
	if kind == ConflictContent {
		conflict.Diff = renderDiff(current.Content, incoming.Content)
	}
	m.conflicts[conflict.ID] = conflict
	return conflict
}

// renderDiff produces a compact semantic diff of the two contents.
func renderDiff(current, incoming string) string {
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(current, incoming, false)
	diffs = dmp.DiffCleanupSemantic(diffs)
	return dmp.DiffPrettyText(diffs)
}

// Conflicts returns the recorded conflicts for a context id, or all when
// contextID is empty. Unresolved conflicts have an empty Resolution.
func (m *Manager) Conflicts(contextID string) []Conflict {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Conflict, 0, len(m.conflicts))
	for _, c := range m.conflicts {
		if contextID != "" && c.ContextID != contextID {
			continue
		}
		out = append(out, *c)
	}
	return out
}

// ResolveConflict applies the chosen resolution to a pending content
// conflict. Priority conflicts are auto-resolved at detection and
// cannot be resolved again.
func (m *Manager) ResolveConflict(ctx context.Context, conflictID string, resolution Resolution) (*ContextSection, error) {
	now := time.Now()

	m.mu.Lock()
	conflict, ok := m.conflicts[conflictID]
	if !ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("conflict %q not found", conflictID)
	}
	if conflict.Resolution != "" {
		m.mu.Unlock()
		return nil, fmt.Errorf("conflict %q already resolved (%s)", conflictID, conflict.Resolution)
	}

	stored, exists := m.sections[conflict.ContextID]
	if !exists {
		m.mu.Unlock()
		return nil, fmt.Errorf("context %q no longer exists", conflict.ContextID)
	}

	var section ContextSection
	switch resolution {
	case ResolutionReject:
		conflict.Resolution = resolution
		conflict.ResolvedAt = &now
		section = stored.current
		m.mu.Unlock()
		m.logger.Info("context conflict rejected",
			zap.String("conflict_id", conflictID),
			zap.String("context_id", conflict.ContextID))
		return &section, nil

	case ResolutionAccept:
		applied := conflict.incoming
		applied.BaseChecksum = ""
		section = m.applyLocked(stored, applied, now)

	case ResolutionMerge:
		merged := conflict.incoming
		merged.Content = stored.current.Content + mergeDelimiter + conflict.incoming.Content
		merged.BaseChecksum = ""
		if stored.current.Priority > merged.Priority {
			merged.Priority = stored.current.Priority
		}
		section = m.applyLocked(stored, merged, now)

	default:
		m.mu.Unlock()
		return nil, fmt.Errorf("unknown resolution %q", resolution)
	}

	conflict.Resolution = resolution
	conflict.ResolvedAt = &now
	contextID := conflict.ContextID
	m.mu.Unlock()

	m.logger.Info("context conflict resolved",
		zap.String("conflict_id", conflictID),
		zap.String("context_id", contextID),
		zap.String("resolution", string(resolution)))
	m.notifySubscribers(contextID, section)
	return &section, nil
}
