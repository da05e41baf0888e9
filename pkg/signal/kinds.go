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
// Package signal defines the typed notifications that flow between
// producers (scanners, the log streamer, users) and the orchestrator.
//
// Every signal carries a kind drawn from a fixed catalog. On agent log
// lines a kind appears as a two-character code in square brackets, e.g.
// "[tp]". The catalog groups kinds into four classes:
//
//  1. STATE     - progress and state markers (tp, dp, tw, bf, cq, tg,
//     cp, cf, rv, ra, rl, mg)
//  2. ATTENTION - requests for orchestrator or agent attention (aa, oa, ic)
//  3. FAILURE   - failures and errors (ff, FF, bb, er, tr)
//  4. REVIEW    - review and reply traffic (rc, af, vr, iv, rp)
//
// Each kind maps to a numeric priority (1 = lowest, 10 = fatal) used
// for queue ordering everywhere, an expected provenance used for
// confidence scoring, and an optional resolution rule naming the kinds
// that end its active state.
package signal

// Kind is a signal kind. Its value is the two-character token code as
// it appears on agent log lines.
type Kind string

// STATE class: progress and state markers.
const (
	// KindTaskProgress marks forward progress on the current task.
	KindTaskProgress Kind = "tp"

	// KindDevProgress marks development progress on a work item.
	KindDevProgress Kind = "dp"

	// KindTestsWritten marks new tests added.
	KindTestsWritten Kind = "tw"

	// KindBugFixed marks a defect resolved.
	KindBugFixed Kind = "bf"

	// KindCodeQuality carries lint or quality observations.
	KindCodeQuality Kind = "cq"

	// KindTestsGreen marks a passing test run.
	KindTestsGreen Kind = "tg"

	// KindCheckpoint marks a durable checkpoint (commit, snapshot).
	KindCheckpoint Kind = "cp"

	// KindConfigChange marks a configuration change applied.
	KindConfigChange Kind = "cf"

	// KindRevision marks a revision of earlier work.
	KindRevision Kind = "rv"

	// KindRefactorApplied marks a completed refactor.
	KindRefactorApplied Kind = "ra"

	// KindRelease marks a release or publish step.
	KindRelease Kind = "rl"

	// KindMerge marks a merge completed.
	KindMerge Kind = "mg"
)

// ATTENTION class: someone must look at this.
const (
	// KindAgentAttention asks a peer agent to look at something.
	KindAgentAttention Kind = "aa"

	// KindOrchestratorAttention asks the orchestrator to intervene.
	KindOrchestratorAttention Kind = "oa"

	// KindInputNeeded means the agent is blocked on external input.
	KindInputNeeded Kind = "ic"
)

// FAILURE class: something went wrong.
const (
	// KindFailure is a recoverable task failure.
	KindFailure Kind = "ff"

	// KindFatalFailure is an unrecoverable system or process failure.
	// It short-circuits normal dispatch into escalation.
	KindFatalFailure Kind = "FF"

	// KindBlocker means work cannot continue until resolved.
	KindBlocker Kind = "bb"

	// KindError is a generic error report.
	KindError Kind = "er"

	// KindTestFailure marks a failing test run.
	KindTestFailure Kind = "tr"
)

// REVIEW class: review and reply traffic.
const (
	// KindReviewComplete reports a finished review.
	KindReviewComplete Kind = "rc"

	// KindAwaitingApproval requests PR or plan approval.
	KindAwaitingApproval Kind = "af"

	// KindVerificationRequest asks for a verification pass.
	KindVerificationRequest Kind = "vr"

	// KindInvestigation asks for an investigation into a finding.
	KindInvestigation Kind = "iv"

	// KindReply answers an earlier signal.
	KindReply Kind = "rp"
)

// Class groups kinds for provenance and priority defaults.
type Class string

const (
	ClassState     Class = "state"
	ClassAttention Class = "attention"
	ClassFailure   Class = "failure"
	ClassReview    Class = "review"
)

// Provenance is the origin a kind is expected to arrive from.
type Provenance string

const (
	// ProvenanceAgent means the kind is normally detected on agent log
	// output.
	ProvenanceAgent Provenance = "agent"

	// ProvenanceScanner means the kind is normally produced by the
	// code/git/PRP scanners.
	ProvenanceScanner Provenance = "scanner"

	// ProvenanceUser means the kind is normally injected by a user.
	ProvenanceUser Provenance = "user"
)
