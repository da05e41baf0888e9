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
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
)

// Snapshot is the on-disk war-room state: the five live sections plus
// the archive. Archived items are write-only; Load restores live
// sections but never reads the archive back.
type Snapshot struct {
	Sections    map[Section][]Item `json:"sections"`
	Archive     []ArchivedItem     `json:"archive,omitempty"`
	LastAction  string             `json:"lastAction,omitempty"`
	LastUpdated time.Time          `json:"lastUpdated"`
	SavedAt     time.Time          `json:"savedAt"`
}

// SaveSnapshot writes the memo state to path atomically (temp file then
// rename).
func (m *Manager) SaveSnapshot(path string) error {
	m.mu.Lock()
	snap := Snapshot{
		Sections:    make(map[Section][]Item, len(m.memo.sections)),
		Archive:     append([]ArchivedItem(nil), m.archive...),
		LastAction:  m.memo.lastAction,
		LastUpdated: m.memo.lastUpdated,
		SavedAt:     time.Now(),
	}
	for s, items := range m.memo.sections {
		snap.Sections[s] = append([]Item(nil), items...)
	}
	m.mu.Unlock()

	raw, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create snapshot directory: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to commit snapshot: %w", err)
	}

	m.logger.Debug("war-room snapshot saved", zap.String("path", path))
	return nil
}

// LoadSnapshot replaces the live memo with a saved snapshot. The archive
// in the file is ignored; only live sections are restored. A missing
// file is not an error.
func (m *Manager) LoadSnapshot(path string) error {
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read snapshot: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return fmt.Errorf("failed to parse snapshot %s: %w", path, err)
	}

	m.mu.Lock()
	m.memo = newMemo()
	for _, s := range Sections() {
		if items, ok := snap.Sections[s]; ok {
			m.memo.sections[s] = append([]Item(nil), items...)
		}
	}
	m.memo.lastAction = snap.LastAction
	m.memo.lastUpdated = snap.LastUpdated
	m.mu.Unlock()

	m.logger.Info("war-room snapshot loaded",
		zap.String("path", path),
		zap.Time("savedAt", snap.SavedAt))
	return nil
}
