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
package types

import "time"

// Canonical event bus channels.
const (
	ChannelSignals      = "signals"
	ChannelAgentLogs    = "agent-logs"
	ChannelGuidelines   = "guidelines"
	ChannelLifecycle    = "lifecycle"
	ChannelWarRoom      = "warroom"
	ChannelOrchestrator = "orchestrator"
)

// Event type names published on the bus.
const (
	EventWarRoomUpdated         = "warRoom_updated"
	EventWarRoomArchived        = "warRoom_archived"
	EventContextUpdated         = "context_updated"
	EventContextRolledBack      = "context_rolled_back"
	EventCompactionApplied      = "compaction_applied"
	EventGuidelineTriggered     = "guideline_triggered"
	EventGuidelineToggled       = "guideline_toggled"
	EventRequirementUnsatisfied = "requirement_unsatisfied"
	EventSignalDetected         = "signal_detected"
	EventSignalProcessed        = "signal_processed"
	EventSignalError            = "signal_error"
	EventStreamingStarted       = "streaming:started"
	EventStreamingStopped       = "streaming:stopped"
	EventStreamingError         = "streaming:error"
	EventSessionError           = "session:error"
	EventFleetSynced            = "fleet_synced"
	EventDegradedMode           = "orchestrator:degraded"
)

// Event is the envelope carried on every bus channel. Payload is opaque
// to the bus; consumers type-assert per event type.
type Event struct {
	// ID uniquely identifies the event.
	ID string `json:"id"`

	// Channel is the bus channel the event was published on.
	Channel string `json:"channel"`

	// Type names the event (one of the Event* constants).
	Type string `json:"type"`

	// Source labels the publishing component or agent.
	Source string `json:"source,omitempty"`

	// Timestamp is when the event was published.
	Timestamp time.Time `json:"timestamp"`

	// Payload carries the event body.
	Payload any `json:"payload,omitempty"`
}
