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

import (
	"errors"
	"fmt"
)

// Error kinds shared across the runtime. Callers match with errors.Is.
var (
	// ErrNoSuitableAgent means selection scored every agent ineligible.
	ErrNoSuitableAgent = errors.New("no suitable agent for task")

	// ErrAgentResponseTimeout means a dispatched task hit its deadline
	// before the agent replied.
	ErrAgentResponseTimeout = errors.New("agent response timeout")

	// ErrAgentNotReady means a spawned session never reached idle
	// within the readiness window.
	ErrAgentNotReady = errors.New("agent session not ready")

	// ErrAgentUnresponsive means a session failed three consecutive
	// health checks.
	ErrAgentUnresponsive = errors.New("agent unresponsive")

	// ErrSessionNotFound means the referenced session id is unknown.
	ErrSessionNotFound = errors.New("session not found")

	// ErrBudgetOverflow means the allocation exceeded the model window
	// even after compression.
	ErrBudgetOverflow = errors.New("token budget overflow")

	// ErrQueueClosed means the signal queue no longer accepts work.
	ErrQueueClosed = errors.New("signal queue closed")

	// ErrBusClosed means the event bus has shut down.
	ErrBusClosed = errors.New("event bus closed")

	// ErrAlreadyStarted means Start was called on a running component.
	ErrAlreadyStarted = errors.New("already started")

	// ErrDegraded means the orchestrator refuses non-fatal work while
	// in degraded mode.
	ErrDegraded = errors.New("orchestrator degraded")
)

// ConfigError reports invalid configuration. It refuses startup and the
// process exits with code 1.
type ConfigError struct {
	// Field names the offending configuration entry.
	Field string

	// Reason explains what is wrong.
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid configuration %s: %s", e.Field, e.Reason)
}

// NewConfigError builds a ConfigError for the given field.
func NewConfigError(field, format string, args ...any) *ConfigError {
	return &ConfigError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// FatalError marks an unrecoverable runtime failure. It propagates past
// the orchestrator loop and the process exits with code 2.
type FatalError struct {
	// Op names the operation that failed.
	Op string

	// Err is the underlying cause.
	Err error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("fatal: %s: %v", e.Op, e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }

// IsFatal reports whether err carries a FatalError anywhere in its chain.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}
