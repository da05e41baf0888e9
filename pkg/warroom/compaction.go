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

	"go.uber.org/zap"

	"github.com/teradata-labs/jacquard/pkg/tokenbudget"
	"github.com/teradata-labs/jacquard/pkg/types"
)

// EstimatedTokens sums counted tokens across live sections, their
// histories, and the memo. History entries count their stored size.
func (m *Manager) EstimatedTokens() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.estimatedTokensLocked()
}

func (m *Manager) estimatedTokensLocked() int {
	total := 0
	for _, stored := range m.sections {
		total += stored.current.Tokens
		for _, r := range stored.history {
			// History may hold compressed bytes, so tokenizing it would
			// be meaningless; the size estimate is close enough for a
			// threshold check.
			total += tokenbudget.Estimate(string(r.Content))
		}
	}
	for _, items := range m.memo.sections {
		for _, item := range items {
			total += m.counter.Count(item.Text)
		}
	}
	for _, a := range m.archive {
		total += m.counter.Count(a.Item.Text)
	}
	return total
}

// CompactIfNeeded runs a compaction pass when the estimated token total
// exceeds the configured threshold: older history entries are truncated
// and archived memo items beyond the tail window are dropped. Returns
// whether compaction ran.
func (m *Manager) CompactIfNeeded(ctx context.Context) bool {
	m.mu.Lock()
	before := m.estimatedTokensLocked()
	if before <= m.cfg.CompactTokens {
		m.mu.Unlock()
		return false
	}

	trimmedRecords := 0
	for _, stored := range m.sections {
		// The most recent half of the history keeps full fidelity;
		// everything older is shortened to a lossy prefix.
		cut := len(stored.history) / 2
		for i := 0; i < cut; i++ {
			r := &stored.history[i]
			text, err := m.recordContent(*r)
			if err != nil || len(text) <= DefaultHistoryTrimLen {
				continue
			}
			r.Content = []byte(text[:DefaultHistoryTrimLen])
			r.Compressed = false
			trimmedRecords++
		}
	}

	droppedArchive := 0
	if len(m.archive) > m.cfg.ArchiveTail {
		droppedArchive = len(m.archive) - m.cfg.ArchiveTail
		m.archive = append([]ArchivedItem(nil), m.archive[droppedArchive:]...)
	}

	after := m.estimatedTokensLocked()
	m.mu.Unlock()

	m.logger.Info("war-room compaction applied",
		zap.Int("tokens_before", before),
		zap.Int("tokens_after", after),
		zap.Int("history_trimmed", trimmedRecords),
		zap.Int("archive_dropped", droppedArchive))

	m.emit(types.EventCompactionApplied, map[string]any{
		"tokensBefore":   before,
		"tokensAfter":    after,
		"historyTrimmed": trimmedRecords,
		"archiveDropped": droppedArchive,
	})
	return true
}
