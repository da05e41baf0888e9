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
package tokenbudget

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/teradata-labs/jacquard/pkg/signal"
)

// Complexity classifies how much elastic budget a signal deserves.
type Complexity string

const (
	ComplexityLow    Complexity = "low"
	ComplexityMedium Complexity = "medium"
	ComplexityHigh   Complexity = "high"
)

// Multiplier is the elastic-slot scale factor for the complexity class.
func (c Complexity) Multiplier() float64 {
	switch c {
	case ComplexityLow:
		return 0.7
	case ComplexityHigh:
		return 1.5
	default:
		return 1.0
	}
}

// CotTokens is the chain-of-thought reasoning slot for the class.
func (c Complexity) CotTokens() int {
	switch c {
	case ComplexityLow:
		return 5000
	case ComplexityHigh:
		return 20000
	default:
		return 10000
	}
}

// correlationWindow is how far back prior signals count as correlated.
const correlationWindow = 60 * time.Second

// payload size thresholds (bytes of serialized payload).
const (
	payloadMedium = 512
	payloadLarge  = 4096
)

// correlated count thresholds.
const (
	correlatedMedium = 2
	correlatedHigh   = 6
)

// Classifier scores signal complexity from payload size plus the number
// of correlated prior signals observed in the last minute. Observations
// and classification are deterministic for a given history.
type Classifier struct {
	mu     sync.Mutex
	window []observation
}

type observation struct {
	source  string
	replyTo string
	id      string
	at      time.Time
}

// NewClassifier creates an empty classifier.
func NewClassifier() *Classifier {
	return &Classifier{}
}

// Observe records a processed signal so later signals can correlate
// against it.
func (c *Classifier) Observe(sig signal.Signal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prune(time.Now())
	c.window = append(c.window, observation{
		source:  sig.Source,
		replyTo: sig.ReplyTo,
		id:      sig.ID,
		at:      time.Now(),
	})
}

// Classify scores the signal: payload size contributes 0-2 points,
// correlated prior signals contribute 0-2 points; a total of 0-1 is low,
// 2 is medium, 3+ is high.
func (c *Classifier) Classify(sig signal.Signal) Complexity {
	score := payloadScore(sig)

	c.mu.Lock()
	c.prune(time.Now())
	correlated := 0
	for _, obs := range c.window {
		if obs.source == sig.Source || (sig.ReplyTo != "" && obs.id == sig.ReplyTo) {
			correlated++
		}
	}
	c.mu.Unlock()

	switch {
	case correlated >= correlatedHigh:
		score += 2
	case correlated >= correlatedMedium:
		score++
	}

	switch {
	case score >= 3:
		return ComplexityHigh
	case score == 2:
		return ComplexityMedium
	default:
		return ComplexityLow
	}
}

func payloadScore(sig signal.Signal) int {
	if len(sig.Payload) == 0 {
		return 0
	}
	raw, err := json.Marshal(sig.Payload)
	if err != nil {
		return 0
	}
	switch {
	case len(raw) >= payloadLarge:
		return 2
	case len(raw) >= payloadMedium:
		return 1
	default:
		return 0
	}
}

// prune drops observations older than the correlation window. Caller
// holds the lock.
func (c *Classifier) prune(now time.Time) {
	cutoff := now.Add(-correlationWindow)
	keep := c.window[:0]
	for _, obs := range c.window {
		if obs.at.After(cutoff) {
			keep = append(keep, obs)
		}
	}
	c.window = keep
}
