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

// Package tokenbudget computes the per-invocation token allocation for
// the orchestrator prompt.
//
// The budget splits the model's context window into fixed slots
// (inspector output, agents manifest) and elastic slots that scale with
// signal complexity and the number of active agents. When the scaled
// total exceeds the window, an ordered lossy compression pass shrinks
// the elastic slots until the budget fits again; no slot ever drops
// below 30% of its pre-compression value.
package tokenbudget

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// Counter counts tokens with tiktoken's cl100k_base encoding, a good
// approximation across current model vendors. When the encoding cannot
// be loaded (offline build without the embedded BPE data) it falls back
// to the ceil(len/4) estimate used everywhere else in the runtime.
type Counter struct {
	encoder *tiktoken.Tiktoken
	mu      sync.Mutex
}

// NewCounter creates a token counter. Never fails: encoding load errors
// select the estimate fallback.
func NewCounter() *Counter {
	tkm, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return &Counter{}
	}
	return &Counter{encoder: tkm}
}

// Count returns the token count for text.
func (c *Counter) Count(text string) int {
	if c.encoder == nil {
		return Estimate(text)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.encoder.Encode(text, nil, nil))
}

// CountAll counts tokens across multiple segments.
func (c *Counter) CountAll(texts ...string) int {
	total := 0
	for _, t := range texts {
		total += c.Count(t)
	}
	return total
}

// Estimate is the cheap ceil(len/4) token estimate used where exact
// counting is not worth an encoder pass (war-room sections, payload
// sizing).
func Estimate(text string) int {
	return (len(text) + 3) / 4
}
