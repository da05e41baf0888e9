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
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/teradata-labs/jacquard/pkg/observability"
	"github.com/teradata-labs/jacquard/pkg/types"
)

// ContextSection is one versioned named section of shared context.
type ContextSection struct {
	ID           string    `json:"id"`
	Content      string    `json:"content"`
	Priority     int       `json:"priority"`
	Tokens       int       `json:"tokens"`
	Version      int64     `json:"version"`
	LastUpdated  time.Time `json:"lastUpdated"`
	Tags         []string  `json:"tags,omitempty"`
	Dependencies []string  `json:"dependencies,omitempty"`
	Source       string    `json:"source,omitempty"`
	Checksum     string    `json:"checksum"`
}

// Update describes one requested mutation of a context section.
type Update struct {
	// Content is the new section text. Ignored for deletes.
	Content string

	// Priority is the new priority.
	Priority int

	// Delete removes the section entirely.
	Delete bool

	// BaseChecksum, when set, is the checksum of the version the caller
	// based its change on. A mismatch against the current version raises
	// a content conflict instead of applying the update.
	BaseChecksum string

	Tags         []string
	Dependencies []string
	Source       string
}

// versionRecord is one retained prior state. Large contents are stored
// zstd-compressed.
type versionRecord struct {
	Version    int64
	Checksum   string
	Priority   int
	Content    []byte
	Compressed bool
	StoredAt   time.Time
}

// storedSection pairs the live section with its bounded history.
type storedSection struct {
	current ContextSection
	history []versionRecord
}

// checksum is the content hash recorded per version.
func checksum(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// UpdateContext creates, updates, or deletes a context section. Updates
// bump the monotone version and push the prior state onto the bounded
// history. A stale BaseChecksum records a content conflict and leaves
// the section untouched; a priority mismatch is auto-merged with the
// higher priority winning.
func (m *Manager) UpdateContext(ctx context.Context, contextID string, update Update) (*ContextSection, *Conflict, error) {
	if contextID == "" {
		return nil, nil, fmt.Errorf("context ID cannot be empty")
	}

	_, span := m.tracer.StartSpan(ctx, SpanContextUpdate,
		observability.WithAttribute("context_id", contextID))
	defer m.tracer.EndSpan(span)

	now := time.Now()

	m.mu.Lock()
	stored, exists := m.sections[contextID]

	if update.Delete {
		if !exists {
			m.mu.Unlock()
			return nil, nil, fmt.Errorf("context %q not found", contextID)
		}
		delete(m.sections, contextID)
		m.mu.Unlock()

		m.emit(types.EventContextUpdated, map[string]any{
			"contextId": contextID,
			"action":    "delete",
		})
		return nil, nil, nil
	}

	if !exists {
		section := ContextSection{
			ID:           contextID,
			Content:      update.Content,
			Priority:     update.Priority,
			Tokens:       m.counter.Count(update.Content),
			Version:      1,
			LastUpdated:  now,
			Tags:         update.Tags,
			Dependencies: update.Dependencies,
			Source:       update.Source,
			Checksum:     checksum(update.Content),
		}
		m.sections[contextID] = &storedSection{current: section}
		m.mu.Unlock()

		m.emit(types.EventContextUpdated, map[string]any{
			"contextId": contextID,
			"action":    "create",
			"version":   section.Version,
		})
		m.notifySubscribers(contextID, section)
		return &section, nil, nil
	}

	current := stored.current

	// Content conflict: the caller's base is not the latest version.
	if update.BaseChecksum != "" && update.BaseChecksum != current.Checksum {
		conflict := m.recordConflictLocked(ConflictContent, contextID, current, update)
		m.mu.Unlock()

		span.SetAttribute("conflict", string(ConflictContent))
		m.logger.Warn("context content conflict",
			zap.String("context_id", contextID),
			zap.String("conflict_id", conflict.ID))
		return nil, conflict, nil
	}

	applied := update
	var priorityConflict *Conflict

	// Priority conflict: auto-merge, max priority wins.
	if update.Priority != current.Priority {
		priorityConflict = m.recordConflictLocked(ConflictPriority, contextID, current, update)
		priorityConflict.Resolution = ResolutionMerge
		priorityConflict.ResolvedAt = &now
		if current.Priority > applied.Priority {
			applied.Priority = current.Priority
		}
	}

	section := m.applyLocked(stored, applied, now)
	m.mu.Unlock()

	m.emit(types.EventContextUpdated, map[string]any{
		"contextId": contextID,
		"action":    "update",
		"version":   section.Version,
	})
	m.notifySubscribers(contextID, section)
	return &section, priorityConflict, nil
}

// applyLocked commits an update. Caller holds the lock.
func (m *Manager) applyLocked(stored *storedSection, update Update, now time.Time) ContextSection {
	prior := stored.current

	record := versionRecord{
		Version:  prior.Version,
		Checksum: prior.Checksum,
		Priority: prior.Priority,
		StoredAt: now,
	}
	raw := []byte(prior.Content)
	if len(raw) >= compressionThreshold {
		compressed := m.encoder.EncodeAll(raw, nil)
		if len(compressed) < len(raw) {
			record.Content = compressed
			record.Compressed = true
		} else {
			record.Content = raw
		}
	} else {
		record.Content = raw
	}

	stored.history = append(stored.history, record)
	if len(stored.history) > m.cfg.HistoryDepth {
		stored.history = stored.history[len(stored.history)-m.cfg.HistoryDepth:]
	}

	next := prior
	next.Content = update.Content
	next.Priority = update.Priority
	next.Tokens = m.counter.Count(update.Content)
	next.Version = prior.Version + 1
	next.LastUpdated = now
	next.Checksum = checksum(update.Content)
	if update.Tags != nil {
		next.Tags = update.Tags
	}
	if update.Dependencies != nil {
		next.Dependencies = update.Dependencies
	}
	if update.Source != "" {
		next.Source = update.Source
	}
	stored.current = next
	return next
}

// GetContext returns a copy of the section.
func (m *Manager) GetContext(contextID string) (*ContextSection, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.sections[contextID]
	if !ok {
		return nil, false
	}
	section := stored.current
	return &section, true
}

// ContextIDs lists the stored context sections.
func (m *Manager) ContextIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.sections))
	for id := range m.sections {
		ids = append(ids, id)
	}
	return ids
}

// RollbackContext restores a stored prior version as the new current
// state. The version counter keeps moving forward: rolling back to v2
// from v5 yields v6 carrying v2's content.
func (m *Manager) RollbackContext(ctx context.Context, contextID string, version int64) (*ContextSection, error) {
	_, span := m.tracer.StartSpan(ctx, SpanContextRollbk,
		observability.WithAttribute("context_id", contextID),
		observability.WithAttribute("version", version))
	defer m.tracer.EndSpan(span)

	now := time.Now()

	m.mu.Lock()
	stored, ok := m.sections[contextID]
	if !ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("context %q not found", contextID)
	}

	var target *versionRecord
	for i := range stored.history {
		if stored.history[i].Version == version {
			target = &stored.history[i]
			break
		}
	}
	if target == nil {
		m.mu.Unlock()
		return nil, fmt.Errorf("context %q has no stored version %d", contextID, version)
	}

	content, err := m.recordContent(*target)
	if err != nil {
		m.mu.Unlock()
		return nil, fmt.Errorf("failed to restore version %d: %w", version, err)
	}

	section := m.applyLocked(stored, Update{
		Content:  content,
		Priority: target.Priority,
	}, now)
	m.mu.Unlock()

	m.emit(types.EventContextRolledBack, map[string]any{
		"contextId":   contextID,
		"fromVersion": version,
		"newVersion":  section.Version,
	})
	m.notifySubscribers(contextID, section)
	return &section, nil
}

// recordContent decodes a history record's content.
func (m *Manager) recordContent(record versionRecord) (string, error) {
	if !record.Compressed {
		return string(record.Content), nil
	}
	raw, err := m.decoder.DecodeAll(record.Content, nil)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// HistoryVersions lists the retained version numbers for a context,
// oldest first.
func (m *Manager) HistoryVersions(contextID string) []int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.sections[contextID]
	if !ok {
		return nil
	}
	versions := make([]int64, len(stored.history))
	for i, r := range stored.history {
		versions[i] = r.Version
	}
	return versions
}
