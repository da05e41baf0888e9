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
package logstream

import (
	"strings"

	"github.com/teradata-labs/jacquard/pkg/signal"
)

const (
	// baseConfidence is the score every detected token starts from.
	baseConfidence = 0.8

	// structureBonus is added once for trailing punctuation and once for
	// a PRP marker on the line.
	structureBonus = 0.1

	// punctuationWindow is how far past the token the detector looks for
	// structural punctuation.
	punctuationWindow = 100

	// contextRadius is how many characters around the token are kept as
	// signal context.
	contextRadius = 50
)

// prpMarkers are line fragments that indicate structured agent output
// rather than incidental bracket noise.
var prpMarkers = []string{"PRP-", "##", "> "}

// Detector turns signal tokens on agent log lines into scored signals.
type Detector struct {
	catalog *signal.Catalog
}

// NewDetector creates a detector over the given catalog.
func NewDetector(catalog *signal.Catalog) *Detector {
	return &Detector{catalog: catalog}
}

// Detect scans one log line and returns a signal per recognized token.
// Source is always "agent:<agentID>"; confidence starts at 0.8 and gains
// 0.1 for structural punctuation shortly after the token and 0.1 for a
// PRP marker anywhere on the line, capped at 1.0.
func (d *Detector) Detect(agentID, sessionID, line string) []signal.Signal {
	matches := signal.FindTokens(d.catalog, line)
	if len(matches) == 0 {
		return nil
	}

	hasMarker := false
	for _, m := range prpMarkers {
		if strings.Contains(line, m) {
			hasMarker = true
			break
		}
	}

	signals := make([]signal.Signal, 0, len(matches))
	for _, m := range matches {
		confidence := baseConfidence

		windowEnd := m.End + punctuationWindow
		if windowEnd > len(line) {
			windowEnd = len(line)
		}
		if strings.ContainsAny(line[m.End:windowEnd], "-:|") {
			confidence += structureBonus
		}
		if hasMarker {
			confidence += structureBonus
		}
		if confidence > 1.0 {
			confidence = 1.0
		}

		ctxStart := m.Start - contextRadius
		if ctxStart < 0 {
			ctxStart = 0
		}
		ctxEnd := m.End + contextRadius
		if ctxEnd > len(line) {
			ctxEnd = len(line)
		}

		sig := signal.New(d.catalog, m.Kind, "agent:"+agentID, map[string]any{
			"line":      line,
			"sessionId": sessionID,
		})
		sig.Confidence = confidence
		sig.Context = line[ctxStart:ctxEnd]
		signals = append(signals, sig)
	}
	return signals
}
