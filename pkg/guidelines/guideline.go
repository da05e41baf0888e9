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

// Package guidelines maps incoming signals to declarative workflow
// templates and tracks their executions.
//
// A guideline is a user-authored document: trigger kinds, protocol
// steps with decision points, named requirement gates, and prompt
// templates for the inspector and orchestrator roles. The registry
// validates documents against an embedded JSON schema on registration,
// keeps a dependents graph consistent, and turns matching signals into
// pending executions whose outcomes feed per-guideline metrics.
package guidelines

import (
	"os"
	"regexp"
	"strings"

	"github.com/teradata-labs/jacquard/pkg/signal"
	"github.com/teradata-labs/jacquard/pkg/types"
)

// Guideline is one declarative workflow template.
type Guideline struct {
	// ID is the unique, well-formed identifier (lowercase kebab-case).
	ID string `json:"id"`

	// Category groups guidelines for reporting ("security", "review").
	Category string `json:"category"`

	// Priority orders guidelines when several trigger on one signal.
	Priority int `json:"priority"`

	// Enabled gates whether the guideline participates in dispatch.
	Enabled bool `json:"enabled"`

	// Protocol is the declarative workflow.
	Protocol Protocol `json:"protocol"`

	// Requirements are named gated checks evaluated before any
	// execution is created.
	Requirements []Requirement `json:"requirements,omitempty"`

	// Prompts hold the inspector and orchestrator templates.
	Prompts Prompts `json:"prompts"`

	// TokenLimits bound the prompt budget for this guideline.
	TokenLimits TokenLimits `json:"tokenLimits"`

	// Tools names the tools the executing agent may use.
	Tools []string `json:"tools,omitempty"`

	// Metadata carries auxiliary fields including dependencies.
	Metadata Metadata `json:"metadata"`
}

// Protocol is the declarative workflow of a guideline.
type Protocol struct {
	// Triggers are the signal kinds that activate the guideline.
	Triggers []signal.Kind `json:"triggers"`

	// Steps run in order; each may branch at decision points.
	Steps []Step `json:"steps"`
}

// Step is one protocol step.
type Step struct {
	// Name identifies the step inside the protocol.
	Name string `json:"name"`

	// Action describes what the step does.
	Action string `json:"action"`

	// Outputs names the typed outputs the step produces.
	Outputs []string `json:"outputs,omitempty"`

	// DecisionPoints map a condition to the step taken next.
	DecisionPoints map[string]string `json:"decisionPoints,omitempty"`

	// SuccessCriteria states when the step counts as done.
	SuccessCriteria string `json:"successCriteria,omitempty"`

	// Fallback is the action taken when the step fails.
	Fallback string `json:"fallback,omitempty"`
}

// Requirement is a named gated check. When EnvVar is empty the name is
// resolved through the built-in requirement table.
type Requirement struct {
	Name   string `json:"name"`
	EnvVar string `json:"envVar,omitempty"`
}

// builtinRequirements maps well-known requirement names to the
// environment variable that satisfies them.
var builtinRequirements = map[string]string{
	"GitHub API access":    "GITHUB_TOKEN",
	"Anthropic API access": "ANTHROPIC_API_KEY",
}

// Satisfied reports whether the requirement's gate passes.
func (r Requirement) Satisfied() bool {
	envVar := r.EnvVar
	if envVar == "" {
		envVar = builtinRequirements[r.Name]
	}
	if envVar == "" {
		// Unknown check with no explicit variable fails closed.
		return false
	}
	return os.Getenv(envVar) != ""
}

// Prompts hold the two prompt templates of a guideline. Placeholders
// use double-brace syntax, e.g. {{signalKind}}.
type Prompts struct {
	Inspector    string `json:"inspector"`
	Orchestrator string `json:"orchestrator"`
}

// TokenLimits bound the guideline's prompt budget.
type TokenLimits struct {
	Inspector    int `json:"inspector"`
	Orchestrator int `json:"orchestrator"`
}

// Metadata carries auxiliary guideline fields.
type Metadata struct {
	// Dependencies lists guideline ids this one builds on. They must be
	// registered first, and block unregistration while present.
	Dependencies []string `json:"dependencies,omitempty"`

	// Version is the document revision the author stamped.
	Version string `json:"version,omitempty"`

	// Author identifies who maintains the guideline.
	Author string `json:"author,omitempty"`
}

// placeholderPattern matches {{name}} template slots.
var placeholderPattern = regexp.MustCompile(`\{\{([a-zA-Z][a-zA-Z0-9_]*)\}\}`)

// RenderPrompt substitutes {{placeholders}} in a prompt template.
// Unmatched placeholders are left verbatim so missing values surface in
// the rendered text.
func RenderPrompt(template string, vars map[string]string) string {
	return placeholderPattern.ReplaceAllStringFunc(template, func(match string) string {
		name := strings.TrimSuffix(strings.TrimPrefix(match, "{{"), "}}")
		if value, ok := vars[name]; ok {
			return value
		}
		return match
	})
}

// Validate checks a guideline document against the structural rules and
// the JSON schema without touching a registry.
func Validate(g Guideline) error {
	if err := validateStructure(g); err != nil {
		return err
	}
	return validateDocument(g)
}

// idPattern is the well-formed guideline identifier shape.
var idPattern = regexp.MustCompile(`^[a-z][a-z0-9]*(-[a-z0-9]+)*$`)

// validateStructure runs the checks the JSON schema cannot express and
// returns a ConfigError describing the first violation.
func validateStructure(g Guideline) error {
	if !idPattern.MatchString(g.ID) {
		return types.NewConfigError("id", "must be lowercase kebab-case, got %q", g.ID)
	}
	if len(g.Protocol.Steps) == 0 {
		return types.NewConfigError("protocol.steps", "guideline %s needs at least one step", g.ID)
	}
	if strings.TrimSpace(g.Prompts.Inspector) == "" || strings.TrimSpace(g.Prompts.Orchestrator) == "" {
		return types.NewConfigError("prompts", "guideline %s prompts must be non-empty", g.ID)
	}
	if g.TokenLimits.Inspector <= 0 || g.TokenLimits.Orchestrator <= 0 {
		return types.NewConfigError("tokenLimits", "guideline %s token limits must be positive", g.ID)
	}
	return nil
}
