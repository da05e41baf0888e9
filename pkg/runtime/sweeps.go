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
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/teradata-labs/jacquard/pkg/types"
)

// sweepTimeout bounds one background sweep run.
const sweepTimeout = 30 * time.Second

// scheduleSweeps registers the war-room maintenance jobs. An empty
// schedule disables its sweep.
func (r *Runtime) scheduleSweeps() error {
	r.sweeps = cron.New()

	add := func(name, schedule string, job func(ctx context.Context)) error {
		if schedule == "" {
			return nil
		}
		_, err := r.sweeps.AddFunc(schedule, func() {
			ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
			defer cancel()
			job(ctx)
		})
		if err != nil {
			return types.NewConfigError("sweeps."+name, "invalid cron expression %q: %v", schedule, err)
		}
		return nil
	}

	if err := add("archive", r.cfg.Sweeps.Archive, r.archiveSweep); err != nil {
		return err
	}
	if err := add("snapshot", r.cfg.Sweeps.Snapshot, r.snapshotSweep); err != nil {
		return err
	}
	if err := add("compaction", r.cfg.Sweeps.Compaction, r.compactionSweep); err != nil {
		return err
	}
	return nil
}

// archiveSweep clears war-room items older than the configured cutoff.
func (r *Runtime) archiveSweep(ctx context.Context) {
	archived, err := r.WarRoom.ArchiveWarRoomItems(ctx, r.cfg.WarRoom.ArchiveAfterDays)
	if err != nil {
		r.logger.Warn("war-room archive sweep failed", zap.Error(err))
		return
	}
	if archived > 0 {
		r.logger.Info("war-room archive sweep",
			zap.Int("archived", archived),
			zap.Int("older_than_days", r.cfg.WarRoom.ArchiveAfterDays))
	}
}

// snapshotSweep persists war-room and guidelines state.
func (r *Runtime) snapshotSweep(ctx context.Context) {
	if err := r.WarRoom.SaveSnapshot(r.cfg.Paths.WarRoomSnapshot); err != nil {
		r.logger.Warn("war-room snapshot failed", zap.Error(err))
	}
	if err := r.Guidelines.SaveSnapshot(r.cfg.Paths.GuidelinesFile); err != nil {
		r.logger.Warn("guidelines snapshot failed", zap.Error(err))
	}
}

// compactionSweep runs the war-room token-threshold compaction check.
func (r *Runtime) compactionSweep(ctx context.Context) {
	if r.WarRoom.CompactIfNeeded(ctx) {
		r.logger.Info("war-room compacted",
			zap.Int("estimated_tokens", r.WarRoom.EstimatedTokens()))
	}
}
