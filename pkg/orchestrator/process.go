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
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/teradata-labs/jacquard/pkg/guidelines"
	"github.com/teradata-labs/jacquard/pkg/observability"
	"github.com/teradata-labs/jacquard/pkg/signal"
	"github.com/teradata-labs/jacquard/pkg/tokenbudget"
	"github.com/teradata-labs/jacquard/pkg/types"
	"github.com/teradata-labs/jacquard/pkg/warroom"
)

// executionContext is the assembled state one decision runs against.
type executionContext struct {
	warRoom      warroom.Status
	recentHist   []HistoryEntry
	capabilities map[string]types.Capabilities
	applicable   []guidelines.Guideline
	executions   []*guidelines.Execution
	complexity   tokenbudget.Complexity
	budget       *tokenbudget.Budget
}

// subtaskSpec is the payload shape of one parallel sub-task request.
type subtaskSpec struct {
	Name         string   `json:"name"`
	Description  string   `json:"description"`
	Role         string   `json:"role,omitempty"`
	Dependencies []string `json:"dependencies,omitempty"`
}

// processSignal runs one full decision for a dequeued signal.
func (o *Orchestrator) processSignal(ctx context.Context, sig signal.Signal) {
	start := time.Now()
	ctx, span := o.tracer.StartSpan(ctx, SpanProcess,
		observability.WithAttribute(observability.AttrSignalID, sig.ID),
		observability.WithAttribute(observability.AttrSignalKind, string(sig.Kind)))
	defer o.tracer.EndSpan(span)

	entry := HistoryEntry{
		SignalID:  sig.ID,
		Kind:      sig.Kind,
		Timestamp: start,
	}

	if sig.IsFatal() {
		o.escalate(sig, "fatal signal kind short-circuits dispatch")
		entry.Escalated = true
		entry.Error = "escalated: fatal signal"
		entry.DurationMs = time.Since(start).Milliseconds()
		o.finish(sig, entry)
		return
	}

	execCtx, err := o.assemble(ctx, sig)
	if err != nil {
		span.RecordError(err)
		entry.Error = err.Error()
		entry.DurationMs = time.Since(start).Milliseconds()
		o.finish(sig, entry)
		return
	}
	span.SetAttribute("complexity", string(execCtx.complexity))
	span.SetAttribute("budget_total", execCtx.budget.Total())

	for _, exec := range execCtx.executions {
		if err := o.registry.StartExecution(exec.ID); err != nil {
			o.logger.Warn("failed to start execution",
				zap.String("execution", exec.ID), zap.Error(err))
		}
	}

	summary := workSummary(sig)
	o.noteDoing(ctx, summary)

	result, dispatchErr := o.dispatch(ctx, sig, execCtx)
	entry.DurationMs = time.Since(start).Milliseconds()

	if dispatchErr != nil {
		if errors.Is(dispatchErr, types.ErrNoSuitableAgent) {
			o.escalate(sig, dispatchErr.Error())
			entry.Escalated = true
		}
		span.RecordError(dispatchErr)
		entry.Error = dispatchErr.Error()
	} else if result != nil {
		entry.Success = result.Success
		entry.TokenUsage = result.TokenUsage
		if !result.Success {
			entry.Error = result.Error
		}
	}

	o.closeExecutions(execCtx.executions, entry)
	o.observe(ctx, summary, entry.Success)
	o.finish(sig, entry)
}

// assemble gathers the execution context: war-room snapshot, recent
// history, agent capabilities, applicable guidelines, complexity, and
// the token budget.
func (o *Orchestrator) assemble(ctx context.Context, sig signal.Signal) (*executionContext, error) {
	ctx, span := o.tracer.StartSpan(ctx, SpanAssemble)
	defer o.tracer.EndSpan(span)

	execCtx := &executionContext{}

	if o.warRoom != nil {
		execCtx.warRoom = o.warRoom.WarRoomStatus()
	}

	o.histMu.Lock()
	tail := len(o.history)
	if tail > 10 {
		tail = 10
	}
	execCtx.recentHist = append([]HistoryEntry(nil), o.history[len(o.history)-tail:]...)
	o.histMu.Unlock()

	if o.executor != nil {
		execCtx.capabilities = o.executor.Capabilities()
	}

	if o.registry != nil {
		execCtx.applicable = o.registry.Applicable(sig.Kind)
		executions, err := o.registry.ProcessSignal(ctx, sig)
		if err != nil {
			return nil, fmt.Errorf("failed to process signal against guidelines: %w", err)
		}
		execCtx.executions = executions
	}

	o.classifier.Observe(sig)
	execCtx.complexity = o.classifier.Classify(sig)

	activeAgents := 1
	if o.executor != nil {
		if n := o.executor.ActiveSessionCount(); n > 0 {
			activeAgents = n
		}
	}
	budget, err := o.distributor.Allocate(ctx, activeAgents, o.cfg.ModelWindow, execCtx.complexity)
	if err != nil {
		return nil, fmt.Errorf("failed to allocate token budget: %w", err)
	}
	execCtx.budget = budget

	span.SetAttribute("guidelines", len(execCtx.applicable))
	return execCtx, nil
}

// dispatch runs the signal as a direct task or as parallel sub-tasks.
func (o *Orchestrator) dispatch(ctx context.Context, sig signal.Signal, execCtx *executionContext) (*types.TaskResult, error) {
	ctx, span := o.tracer.StartSpan(ctx, SpanDispatch)
	defer o.tracer.EndSpan(span)

	if subtasks := parseSubtasks(sig); len(subtasks) > 0 {
		span.SetAttribute("mode", "parallel")
		span.SetAttribute("subtasks", len(subtasks))
		return o.dispatchParallel(ctx, sig, subtasks)
	}

	span.SetAttribute("mode", "direct")
	task := o.buildTask(sig, execCtx)
	return o.executor.ExecuteTask(ctx, task)
}

// buildTask turns a signal into the agent task dispatched for it. The
// highest-priority applicable guideline contributes the instruction
// template.
func (o *Orchestrator) buildTask(sig signal.Signal, execCtx *executionContext) *types.AgentTask {
	description := workSummary(sig)
	if len(execCtx.applicable) > 0 {
		g := execCtx.applicable[0]
		description = guidelines.RenderPrompt(g.Prompts.Orchestrator, map[string]string{
			"signalKind": string(sig.Kind),
			"signalId":   sig.ID,
			"source":     sig.Source,
			"context":    sig.Context,
		})
	}
	return &types.AgentTask{
		Type:        taskRole(sig, o.cfg.DefaultRole),
		Description: description,
		Payload:     sig.Payload,
		Priority:    sig.Priority,
	}
}

// dispatchParallel executes sub-tasks concurrently in dependency waves:
// a sub-task runs only after everything it depends on completed.
func (o *Orchestrator) dispatchParallel(ctx context.Context, sig signal.Signal, subtasks []subtaskSpec) (*types.TaskResult, error) {
	done := make(map[string]bool, len(subtasks))
	remaining := append([]subtaskSpec(nil), subtasks...)

	aggregate := &types.TaskResult{Success: true, TokenUsage: &types.TokenUsage{}}
	var mu sync.Mutex

	for len(remaining) > 0 {
		var wave, blocked []subtaskSpec
		for _, st := range remaining {
			if dependenciesMet(st, done) {
				wave = append(wave, st)
			} else {
				blocked = append(blocked, st)
			}
		}
		if len(wave) == 0 {
			return nil, fmt.Errorf("signal %s: circular or unresolvable sub-task dependencies", sig.ID)
		}

		g, waveCtx := errgroup.WithContext(ctx)
		for _, st := range wave {
			g.Go(func() error {
				task := &types.AgentTask{
					Type:         roleOrDefault(st.Role, o.cfg.DefaultRole),
					Description:  st.Description,
					Priority:     sig.Priority,
					Dependencies: st.Dependencies,
				}
				result, err := o.executor.ExecuteTask(waveCtx, task)
				if err != nil {
					return fmt.Errorf("sub-task %s: %w", st.Name, err)
				}
				mu.Lock()
				if !result.Success {
					aggregate.Success = false
					if aggregate.Error == "" {
						aggregate.Error = fmt.Sprintf("sub-task %s: %s", st.Name, result.Error)
					}
				}
				if result.TokenUsage != nil {
					aggregate.TokenUsage.Add(*result.TokenUsage)
				}
				aggregate.DurationMs += result.DurationMs
				mu.Unlock()
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
		for _, st := range wave {
			done[st.Name] = true
		}
		remaining = blocked
	}
	return aggregate, nil
}

// escalate records a decision the orchestrator could not dispatch.
func (o *Orchestrator) escalate(sig signal.Signal, reason string) {
	o.logger.Error("escalating signal",
		zap.String("signal", sig.ID),
		zap.String("kind", string(sig.Kind)),
		zap.String("reason", reason))
	if o.warRoom != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		text := fmt.Sprintf("escalation %s [%s]: %s", sig.ID, sig.Kind, reason)
		if err := o.warRoom.AddToWarRoom(ctx, warroom.SectionBlockers, text); err != nil {
			o.logger.Warn("failed to record escalation in war-room", zap.Error(err))
		}
	}
}

// noteDoing marks the work item in flight.
func (o *Orchestrator) noteDoing(ctx context.Context, summary string) {
	if o.warRoom == nil {
		return
	}
	if err := o.warRoom.AddToWarRoom(ctx, warroom.SectionDoing, summary); err != nil {
		o.logger.Warn("failed to record in-flight work", zap.Error(err))
	}
}

// observe moves the work item per the outcome: done on success,
// blockers on failure.
func (o *Orchestrator) observe(ctx context.Context, summary string, success bool) {
	if o.warRoom == nil {
		return
	}
	target := warroom.SectionBlockers
	if success {
		target = warroom.SectionDone
	}
	if _, err := o.warRoom.MoveInWarRoom(ctx, warroom.SectionDoing, target, summary); err != nil {
		o.logger.Warn("failed to move war-room item", zap.Error(err))
	}
}

// closeExecutions finalizes guideline executions with the decision
// outcome.
func (o *Orchestrator) closeExecutions(executions []*guidelines.Execution, entry HistoryEntry) {
	if o.registry == nil {
		return
	}
	var tokenCost int64
	if entry.TokenUsage != nil {
		tokenCost = entry.TokenUsage.Total
	}
	for _, exec := range executions {
		var err error
		if entry.Success {
			err = o.registry.CompleteExecution(exec.ID, tokenCost)
		} else {
			err = o.registry.FailExecution(exec.ID, errors.New(entry.Error))
		}
		if err != nil {
			o.logger.Warn("failed to close execution",
				zap.String("execution", exec.ID), zap.Error(err))
		}
	}
}

// finish appends the history entry, feeds the degraded-mode window, and
// emits the terminal event.
func (o *Orchestrator) finish(sig signal.Signal, entry HistoryEntry) {
	o.appendHistory(entry)
	o.recordOutcome(entry.Success)

	eventType := types.EventSignalProcessed
	if !entry.Success {
		eventType = types.EventSignalError
	}
	o.emit(eventType, map[string]any{
		"signalId":   sig.ID,
		"kind":       string(sig.Kind),
		"durationMs": entry.DurationMs,
		"success":    entry.Success,
		"escalated":  entry.Escalated,
		"error":      entry.Error,
	})
}

// parseSubtasks extracts parallel sub-task specs from a signal payload.
// The payload key "subtasks" holds a list of {name, description, role?,
// dependencies?} objects; anything malformed yields no sub-tasks and
// the signal dispatches directly.
func parseSubtasks(sig signal.Signal) []subtaskSpec {
	raw, ok := sig.Payload["subtasks"]
	if !ok {
		return nil
	}
	encoded, err := json.Marshal(raw)
	if err != nil {
		return nil
	}
	var specs []subtaskSpec
	if err := json.Unmarshal(encoded, &specs); err != nil {
		return nil
	}
	for _, st := range specs {
		if st.Name == "" || st.Description == "" {
			return nil
		}
	}
	return specs
}

func dependenciesMet(st subtaskSpec, done map[string]bool) bool {
	for _, dep := range st.Dependencies {
		if !done[dep] {
			return false
		}
	}
	return true
}

// workSummary is the short war-room text for a signal.
func workSummary(sig signal.Signal) string {
	text := fmt.Sprintf("[%s] signal %s from %s", sig.Kind, sig.ID, sig.Source)
	if desc, ok := sig.Payload["description"].(string); ok && desc != "" {
		text = fmt.Sprintf("[%s] %s", sig.Kind, desc)
	}
	return text
}

// taskRole picks the role the task targets: explicit payload role, else
// the configured default.
func taskRole(sig signal.Signal, fallback string) string {
	if role, ok := sig.Payload["role"].(string); ok && role != "" {
		return role
	}
	return fallback
}

func roleOrDefault(role, fallback string) string {
	if role != "" {
		return role
	}
	return fallback
}
