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

	"go.uber.org/zap"

	"github.com/teradata-labs/jacquard/pkg/observability"
	"github.com/teradata-labs/jacquard/pkg/types"
)

// Section names one of the five memo lists.
type Section string

const (
	SectionDone     Section = "done"
	SectionDoing    Section = "doing"
	SectionNext     Section = "next"
	SectionBlockers Section = "blockers"
	SectionNotes    Section = "notes"
)

// Sections lists the memo sections in display order.
func Sections() []Section {
	return []Section{SectionDone, SectionDoing, SectionNext, SectionBlockers, SectionNotes}
}

// Item is one memo entry.
type Item struct {
	Text    string    `json:"text"`
	AddedAt time.Time `json:"addedAt"`
}

// ArchivedItem is a memo entry evicted by capacity or age. Archived
// items reach the snapshot file and are never read back into the live
// memo.
type ArchivedItem struct {
	Section    Section   `json:"section"`
	Item       Item      `json:"item"`
	ArchivedAt time.Time `json:"archivedAt"`
}

// memo is the live five-section state. Guarded by the manager lock.
type memo struct {
	sections    map[Section][]Item
	lastAction  string
	lastUpdated time.Time
}

func newMemo() *memo {
	m := &memo{sections: make(map[Section][]Item)}
	for _, s := range Sections() {
		m.sections[s] = nil
	}
	return m
}

// Status is a point-in-time copy of the memo.
type Status struct {
	Sections    map[Section][]Item `json:"sections"`
	TotalItems  int                `json:"totalItems"`
	LastAction  string             `json:"lastAction"`
	LastUpdated time.Time          `json:"lastUpdated"`
	MaxItems    int                `json:"maxItems"`
}

// validSection reports whether s names a memo section.
func validSection(s Section) bool {
	switch s {
	case SectionDone, SectionDoing, SectionNext, SectionBlockers, SectionNotes:
		return true
	}
	return false
}

// AddToWarRoom appends an item to a section. When the section exceeds
// the configured bound the oldest item is evicted to the archive.
func (m *Manager) AddToWarRoom(ctx context.Context, section Section, text string) error {
	if !validSection(section) {
		return fmt.Errorf("unknown war-room section %q", section)
	}

	_, span := m.tracer.StartSpan(ctx, SpanWarRoomAdd,
		observability.WithAttribute("section", string(section)))
	defer m.tracer.EndSpan(span)

	now := time.Now()

	m.mu.Lock()
	items := append(m.memo.sections[section], Item{Text: text, AddedAt: now})
	var evicted *ArchivedItem
	if len(items) > m.cfg.MaxItems {
		evicted = &ArchivedItem{Section: section, Item: items[0], ArchivedAt: now}
		items = items[1:]
		m.archive = append(m.archive, *evicted)
	}
	m.memo.sections[section] = items
	m.memo.lastAction = fmt.Sprintf("add:%s", section)
	m.memo.lastUpdated = now
	m.mu.Unlock()

	if evicted != nil {
		m.logger.Debug("war-room item evicted by capacity",
			zap.String("section", string(section)), zap.String("text", evicted.Item.Text))
	}
	m.emit(types.EventWarRoomUpdated, map[string]any{
		"action":  "add",
		"section": section,
		"text":    text,
	})
	return nil
}

// MoveInWarRoom atomically moves an item between sections by exact text
// match. Returns false without mutating anything when the item is not
// present in the source section.
func (m *Manager) MoveInWarRoom(ctx context.Context, from, to Section, text string) (bool, error) {
	if !validSection(from) {
		return false, fmt.Errorf("unknown war-room section %q", from)
	}
	if !validSection(to) {
		return false, fmt.Errorf("unknown war-room section %q", to)
	}

	_, span := m.tracer.StartSpan(ctx, SpanWarRoomMove,
		observability.WithAttribute("from", string(from)),
		observability.WithAttribute("to", string(to)))
	defer m.tracer.EndSpan(span)

	now := time.Now()

	m.mu.Lock()
	src := m.memo.sections[from]
	idx := -1
	for i, item := range src {
		if item.Text == text {
			idx = i
			break
		}
	}
	if idx < 0 {
		m.mu.Unlock()
		return false, nil
	}

	moved := src[idx]
	m.memo.sections[from] = append(src[:idx:idx], src[idx+1:]...)

	dst := append(m.memo.sections[to], moved)
	var evicted *ArchivedItem
	if len(dst) > m.cfg.MaxItems {
		evicted = &ArchivedItem{Section: to, Item: dst[0], ArchivedAt: now}
		dst = dst[1:]
		m.archive = append(m.archive, *evicted)
	}
	m.memo.sections[to] = dst
	m.memo.lastAction = fmt.Sprintf("move:%s>%s", from, to)
	m.memo.lastUpdated = now
	m.mu.Unlock()

	if evicted != nil {
		m.logger.Debug("war-room item evicted by capacity",
			zap.String("section", string(to)), zap.String("text", evicted.Item.Text))
	}
	m.emit(types.EventWarRoomUpdated, map[string]any{
		"action": "move",
		"from":   from,
		"to":     to,
		"text":   text,
	})
	return true, nil
}

// ArchiveWarRoomItems sweeps every section for entries older than the
// cutoff and moves them to the archive. Returns the removed count.
func (m *Manager) ArchiveWarRoomItems(ctx context.Context, olderThanDays int) (int, error) {
	if olderThanDays < 0 {
		return 0, fmt.Errorf("olderThanDays cannot be negative")
	}

	_, span := m.tracer.StartSpan(ctx, SpanWarRoomArchive,
		observability.WithAttribute("older_than_days", olderThanDays))
	defer m.tracer.EndSpan(span)

	now := time.Now()
	cutoff := now.Add(-time.Duration(olderThanDays) * 24 * time.Hour)

	removed := 0
	m.mu.Lock()
	for _, section := range Sections() {
		items := m.memo.sections[section]
		keep := items[:0:0]
		for _, item := range items {
			if item.AddedAt.After(cutoff) {
				keep = append(keep, item)
				continue
			}
			m.archive = append(m.archive, ArchivedItem{
				Section:    section,
				Item:       item,
				ArchivedAt: now,
			})
			removed++
		}
		m.memo.sections[section] = keep
	}
	if removed > 0 {
		m.memo.lastAction = fmt.Sprintf("archive:%dd", olderThanDays)
		m.memo.lastUpdated = now
	}
	m.mu.Unlock()

	span.SetAttribute("removed", removed)
	if removed > 0 {
		m.emit(types.EventWarRoomArchived, map[string]any{
			"olderThanDays": olderThanDays,
			"removed":       removed,
		})
	}
	return removed, nil
}

// WarRoomStatus returns a copy of the memo.
func (m *Manager) WarRoomStatus() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	sections := make(map[Section][]Item, len(m.memo.sections))
	total := 0
	for s, items := range m.memo.sections {
		cp := make([]Item, len(items))
		copy(cp, items)
		sections[s] = cp
		total += len(items)
	}
	return Status{
		Sections:    sections,
		TotalItems:  total,
		LastAction:  m.memo.lastAction,
		LastUpdated: m.memo.lastUpdated,
		MaxItems:    m.cfg.MaxItems,
	}
}

// ArchivedItems returns a copy of the archive (newest last).
func (m *Manager) ArchivedItems() []ArchivedItem {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]ArchivedItem, len(m.archive))
	copy(cp, m.archive)
	return cp
}
