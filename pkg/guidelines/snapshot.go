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
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// reloadDebounce coalesces bursts of file events into one reload.
const reloadDebounce = 500 * time.Millisecond

// Snapshot is the on-disk form of the registry.
type Snapshot struct {
	Guidelines     []Guideline         `json:"guidelines"`
	Metrics        map[string]Metrics  `json:"metrics"`
	SignalPatterns map[string][]string `json:"signalPatterns"`
	LastSaved      time.Time           `json:"lastSaved"`
}

// Snapshot captures the current registry state. SignalPatterns is the
// derived kind-to-guideline index, persisted so external tooling can
// answer "what fires on [vr]" without loading the documents.
func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snap := Snapshot{
		Guidelines:     r.sortedLocked(),
		Metrics:        make(map[string]Metrics, len(r.metrics)),
		SignalPatterns: make(map[string][]string),
		LastSaved:      time.Now(),
	}
	for id, m := range r.metrics {
		snap.Metrics[id] = *m
	}
	for _, g := range snap.Guidelines {
		for _, kind := range g.Protocol.Triggers {
			snap.SignalPatterns[string(kind)] = append(snap.SignalPatterns[string(kind)], g.ID)
		}
	}
	for kind := range snap.SignalPatterns {
		sort.Strings(snap.SignalPatterns[kind])
	}
	return snap
}

// SaveSnapshot atomically writes the registry to path.
func (r *Registry) SaveSnapshot(path string) error {
	raw, err := json.MarshalIndent(r.Snapshot(), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal guidelines snapshot: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return fmt.Errorf("failed to write guidelines snapshot: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to move guidelines snapshot into place: %w", err)
	}
	return nil
}

// LoadSnapshot replaces the registry contents with the documents from
// path. A missing file is not an error. Documents failing validation
// are skipped with a warning so one bad edit cannot empty the catalog.
func (r *Registry) LoadSnapshot(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read guidelines snapshot: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return fmt.Errorf("failed to parse guidelines snapshot: %w", err)
	}

	loaded := make(map[string]Guideline, len(snap.Guidelines))
	for _, g := range snap.Guidelines {
		if err := validateStructure(g); err != nil {
			r.logger.Warn("skipping invalid guideline in snapshot",
				zap.String("guideline", g.ID), zap.Error(err))
			continue
		}
		if err := validateDocument(g); err != nil {
			r.logger.Warn("skipping invalid guideline in snapshot",
				zap.String("guideline", g.ID), zap.Error(err))
			continue
		}
		loaded[g.ID] = g
	}

	r.mu.Lock()
	r.guidelines = loaded
	for id, m := range snap.Metrics {
		if _, ok := loaded[id]; ok {
			copied := m
			r.metrics[id] = &copied
		}
	}
	for id := range loaded {
		if _, ok := r.metrics[id]; !ok {
			r.metrics[id] = &Metrics{}
		}
	}
	r.mu.Unlock()

	r.logger.Info("guidelines snapshot loaded",
		zap.String("path", path),
		zap.Int("guidelines", len(loaded)))
	return nil
}

// Watch hot-reloads the registry whenever the snapshot file changes.
// Events are debounced so editors that write in several syscalls
// trigger one reload. Watch returns once the watcher is installed; it
// stops when ctx is cancelled.
func (r *Registry) Watch(ctx context.Context, path string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create guidelines watcher: %w", err)
	}
	// Watch the directory: rename-over-the-file (atomic saves) would
	// detach a watch on the file itself.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch guidelines directory: %w", err)
	}

	go func() {
		defer watcher.Close()
		var debounce *time.Timer
		var reload <-chan time.Time

		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != filepath.Clean(path) {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
					continue
				}
				if debounce == nil {
					debounce = time.NewTimer(reloadDebounce)
					reload = debounce.C
				} else {
					debounce.Reset(reloadDebounce)
				}
			case <-reload:
				debounce = nil
				reload = nil
				if err := r.LoadSnapshot(path); err != nil {
					r.logger.Error("guidelines hot reload failed",
						zap.String("path", path), zap.Error(err))
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				r.logger.Warn("guidelines watcher error", zap.Error(err))
			}
		}
	}()
	return nil
}
