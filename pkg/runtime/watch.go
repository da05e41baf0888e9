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
package runtime

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/teradata-labs/jacquard/pkg/config"
)

// reloadDebounce coalesces editor write bursts into one fleet sync.
const reloadDebounce = 500 * time.Millisecond

// watchAgents hot-reloads the agent fleet whenever agents.yaml changes.
// A file that fails to load leaves the current fleet untouched.
func (r *Runtime) watchAgents(ctx context.Context, path string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create agents watcher: %w", err)
	}
	// Watch the directory: rename-over-the-file (atomic saves) would
	// detach a watch on the file itself.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch agents directory: %w", err)
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
				r.reloadAgents(ctx, path)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				r.logger.Warn("agents watcher error", zap.Error(err))
			}
		}
	}()
	return nil
}

func (r *Runtime) reloadAgents(ctx context.Context, path string) {
	agents, err := config.LoadAgents(path)
	if err != nil {
		r.logger.Error("agents hot reload failed, keeping current fleet",
			zap.String("path", path), zap.Error(err))
		return
	}
	if err := r.Lifecycle.SyncAgents(ctx, agents); err != nil {
		r.logger.Error("agent fleet sync failed",
			zap.String("path", path), zap.Error(err))
		return
	}
	r.logger.Info("agent fleet reloaded",
		zap.String("path", path), zap.Int("agents", len(agents)))
}
