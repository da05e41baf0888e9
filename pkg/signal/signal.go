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
package signal

import (
	"time"

	"github.com/google/uuid"
)

// State is the lifecycle state of a signal.
type State string

const (
	// StateActive means the signal awaits processing or resolution.
	StateActive State = "active"

	// StateResolved means a later signal ended the active state.
	StateResolved State = "resolved"

	// StateExpired means the signal aged out unresolved.
	StateExpired State = "expired"
)

// Signal is an immutable notification record. Once emitted its fields
// never change; state transitions produce new signals whose ReplyTo
// points at the original.
type Signal struct {
	// ID uniquely identifies the signal.
	ID string `json:"id"`

	// Kind is the catalog kind (the two-character token code).
	Kind Kind `json:"kind"`

	// Priority orders the signal in the queue (1 lowest .. 10 fatal).
	Priority int `json:"priority"`

	// Source labels the origin, e.g. "agent:dev-1", "scanner", "user".
	Source string `json:"source"`

	// Timestamp is when the signal was created.
	Timestamp time.Time `json:"timestamp"`

	// Payload is opaque signal data, parsed per kind at the consumer.
	Payload map[string]any `json:"payload,omitempty"`

	// ReplyTo is the id of the signal this one answers or transitions.
	ReplyTo string `json:"replyTo,omitempty"`

	// State is the lifecycle state the signal was emitted with.
	State State `json:"state"`

	// Confidence is the detector's score when the signal came from a
	// log line; zero for signals from other origins.
	Confidence float64 `json:"confidence,omitempty"`

	// Context is the log excerpt surrounding a detected token.
	Context string `json:"context,omitempty"`
}

// New creates an active signal of the given kind with the catalog's
// default priority.
func New(catalog *Catalog, kind Kind, source string, payload map[string]any) Signal {
	return Signal{
		ID:        uuid.NewString(),
		Kind:      kind,
		Priority:  catalog.Priority(kind),
		Source:    source,
		Timestamp: time.Now(),
		Payload:   payload,
		State:     StateActive,
	}
}

// Resolve returns a new resolved signal pointing at s. The original is
// untouched.
func Resolve(s Signal, source string) Signal {
	return transition(s, source, StateResolved)
}

// Expire returns a new expired signal pointing at s. The original is
// untouched.
func Expire(s Signal, source string) Signal {
	return transition(s, source, StateExpired)
}

func transition(s Signal, source string, state State) Signal {
	return Signal{
		ID:        uuid.NewString(),
		Kind:      s.Kind,
		Priority:  s.Priority,
		Source:    source,
		Timestamp: time.Now(),
		ReplyTo:   s.ID,
		State:     state,
	}
}

// IsFatal reports whether the signal short-circuits normal dispatch.
func (s Signal) IsFatal() bool {
	return s.Priority >= PriorityFatal
}
