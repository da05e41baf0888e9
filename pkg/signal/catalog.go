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
	"fmt"
	"sort"
)

// Priority bounds. PriorityFatal short-circuits normal dispatch.
const (
	PriorityMin   = 1
	PriorityMax   = 10
	PriorityFatal = 10
)

// Entry describes one signal kind in the catalog.
type Entry struct {
	// Kind is the two-character code.
	Kind Kind

	// Name is the long human-readable name.
	Name string

	// Class groups the kind (state, attention, failure, review).
	Class Class

	// Priority orders signals of this kind (1 lowest .. 10 fatal).
	Priority int

	// Provenance is the expected origin, consulted for confidence
	// scoring.
	Provenance Provenance

	// ResolvedBy lists kinds whose arrival (with replyTo set) ends the
	// active state of a signal of this kind. Empty means the signal
	// expires on its own.
	ResolvedBy []Kind
}

// Catalog maps every declared kind to its entry. The map must be total:
// NewCatalog and Override reject gaps so lookups never miss.
type Catalog struct {
	entries map[Kind]Entry
}

// defaultEntries is the canonical catalog. Priorities follow the
// runtime's ordering contract: fatal failures 10, blockers 9,
// attention and approval traffic 8, failures and failing tests 7,
// progress markers 5, informational 3.
var defaultEntries = []Entry{
	// STATE
	{Kind: KindTaskProgress, Name: "task_progress", Class: ClassState, Priority: 5, Provenance: ProvenanceAgent},
	{Kind: KindDevProgress, Name: "dev_progress", Class: ClassState, Priority: 5, Provenance: ProvenanceAgent},
	{Kind: KindTestsWritten, Name: "tests_written", Class: ClassState, Priority: 5, Provenance: ProvenanceAgent},
	{Kind: KindBugFixed, Name: "bug_fixed", Class: ClassState, Priority: 5, Provenance: ProvenanceAgent},
	{Kind: KindCodeQuality, Name: "code_quality", Class: ClassState, Priority: 3, Provenance: ProvenanceAgent},
	{Kind: KindTestsGreen, Name: "tests_green", Class: ClassState, Priority: 5, Provenance: ProvenanceAgent},
	{Kind: KindCheckpoint, Name: "checkpoint", Class: ClassState, Priority: 5, Provenance: ProvenanceAgent},
	{Kind: KindConfigChange, Name: "config_change", Class: ClassState, Priority: 5, Provenance: ProvenanceAgent},
	{Kind: KindRevision, Name: "revision", Class: ClassState, Priority: 5, Provenance: ProvenanceAgent},
	{Kind: KindRefactorApplied, Name: "refactor_applied", Class: ClassState, Priority: 5, Provenance: ProvenanceAgent},
	{Kind: KindRelease, Name: "release", Class: ClassState, Priority: 5, Provenance: ProvenanceAgent},
	{Kind: KindMerge, Name: "merge", Class: ClassState, Priority: 5, Provenance: ProvenanceAgent},

	// ATTENTION
	{Kind: KindAgentAttention, Name: "agent_attention", Class: ClassAttention, Priority: 8, Provenance: ProvenanceAgent, ResolvedBy: []Kind{KindReply}},
	{Kind: KindOrchestratorAttention, Name: "orchestrator_attention", Class: ClassAttention, Priority: 8, Provenance: ProvenanceAgent, ResolvedBy: []Kind{KindReply}},
	{Kind: KindInputNeeded, Name: "input_needed", Class: ClassAttention, Priority: 8, Provenance: ProvenanceAgent, ResolvedBy: []Kind{KindReply}},

	// FAILURE
	{Kind: KindFailure, Name: "failure", Class: ClassFailure, Priority: 7, Provenance: ProvenanceAgent, ResolvedBy: []Kind{KindBugFixed}},
	{Kind: KindFatalFailure, Name: "fatal_failure", Class: ClassFailure, Priority: PriorityFatal, Provenance: ProvenanceAgent},
	{Kind: KindBlocker, Name: "blocker", Class: ClassFailure, Priority: 9, Provenance: ProvenanceAgent, ResolvedBy: []Kind{KindBugFixed, KindReply}},
	{Kind: KindError, Name: "error", Class: ClassFailure, Priority: 7, Provenance: ProvenanceAgent, ResolvedBy: []Kind{KindBugFixed}},
	{Kind: KindTestFailure, Name: "test_failure", Class: ClassFailure, Priority: 7, Provenance: ProvenanceAgent, ResolvedBy: []Kind{KindTestsGreen}},

	// REVIEW
	{Kind: KindReviewComplete, Name: "review_complete", Class: ClassReview, Priority: 8, Provenance: ProvenanceAgent},
	{Kind: KindAwaitingApproval, Name: "awaiting_approval", Class: ClassReview, Priority: 8, Provenance: ProvenanceAgent, ResolvedBy: []Kind{KindReply}},
	{Kind: KindVerificationRequest, Name: "verification_request", Class: ClassReview, Priority: 8, Provenance: ProvenanceAgent, ResolvedBy: []Kind{KindReviewComplete}},
	{Kind: KindInvestigation, Name: "investigation", Class: ClassReview, Priority: 8, Provenance: ProvenanceAgent, ResolvedBy: []Kind{KindReply}},
	{Kind: KindReply, Name: "reply", Class: ClassReview, Priority: 3, Provenance: ProvenanceAgent},
}

// DefaultCatalog returns the canonical catalog.
func DefaultCatalog() *Catalog {
	c, err := NewCatalog(defaultEntries)
	if err != nil {
		// The default table is compiled in; a gap is a programming error.
		panic(err)
	}
	return c
}

// NewCatalog builds a catalog from entries, rejecting duplicates,
// out-of-range priorities, and missing declared kinds.
func NewCatalog(entries []Entry) (*Catalog, error) {
	m := make(map[Kind]Entry, len(entries))
	for _, e := range entries {
		if _, dup := m[e.Kind]; dup {
			return nil, fmt.Errorf("duplicate catalog entry for kind %q", e.Kind)
		}
		if e.Priority < PriorityMin || e.Priority > PriorityMax {
			return nil, fmt.Errorf("kind %q: priority %d out of range [%d,%d]", e.Kind, e.Priority, PriorityMin, PriorityMax)
		}
		m[e.Kind] = e
	}
	for _, k := range AllKinds() {
		if _, ok := m[k]; !ok {
			return nil, fmt.Errorf("catalog is not total: missing kind %q", k)
		}
	}
	return &Catalog{entries: m}, nil
}

// Override returns a copy of the catalog with per-kind priority
// replacements applied. Unknown kinds and out-of-range priorities are
// rejected so the result stays total and valid.
func (c *Catalog) Override(priorities map[Kind]int) (*Catalog, error) {
	entries := make([]Entry, 0, len(c.entries))
	for _, e := range c.entries {
		if p, ok := priorities[e.Kind]; ok {
			e.Priority = p
		}
		entries = append(entries, e)
	}
	for k := range priorities {
		if _, ok := c.entries[k]; !ok {
			return nil, fmt.Errorf("priority override for unknown kind %q", k)
		}
	}
	return NewCatalog(entries)
}

// Known reports whether the kind is declared.
func (c *Catalog) Known(k Kind) bool {
	_, ok := c.entries[k]
	return ok
}

// Entry returns the catalog entry for the kind.
func (c *Catalog) Entry(k Kind) (Entry, bool) {
	e, ok := c.entries[k]
	return e, ok
}

// Priority returns the kind's priority, or PriorityMin for unknown
// kinds (unknown codes are ignored upstream; this is a safe floor).
func (c *Catalog) Priority(k Kind) int {
	if e, ok := c.entries[k]; ok {
		return e.Priority
	}
	return PriorityMin
}

// Kinds returns all declared kinds in stable order.
func (c *Catalog) Kinds() []Kind {
	ks := make([]Kind, 0, len(c.entries))
	for k := range c.entries {
		ks = append(ks, k)
	}
	sort.Slice(ks, func(i, j int) bool { return ks[i] < ks[j] })
	return ks
}

// AllKinds lists every declared kind. NewCatalog uses it to verify
// totality.
func AllKinds() []Kind {
	return []Kind{
		KindTaskProgress, KindDevProgress, KindTestsWritten, KindBugFixed,
		KindCodeQuality, KindTestsGreen, KindCheckpoint, KindConfigChange,
		KindRevision, KindRefactorApplied, KindRelease, KindMerge,
		KindAgentAttention, KindOrchestratorAttention, KindInputNeeded,
		KindFailure, KindFatalFailure, KindBlocker, KindError, KindTestFailure,
		KindReviewComplete, KindAwaitingApproval, KindVerificationRequest,
		KindInvestigation, KindReply,
	}
}
