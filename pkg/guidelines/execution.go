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
package guidelines

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/teradata-labs/jacquard/pkg/observability"
	"github.com/teradata-labs/jacquard/pkg/signal"
	"github.com/teradata-labs/jacquard/pkg/types"
)

// ExecutionStatus is the lifecycle state of an execution.
type ExecutionStatus string

const (
	ExecutionPending   ExecutionStatus = "pending"
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
)

// Execution is one triggered run of a guideline against a signal.
type Execution struct {
	ID          string          `json:"id"`
	GuidelineID string          `json:"guidelineId"`
	SignalID    string          `json:"signalId"`
	SignalKind  signal.Kind     `json:"signalKind"`
	Status      ExecutionStatus `json:"status"`
	CreatedAt   time.Time       `json:"createdAt"`
	StartedAt   *time.Time      `json:"startedAt,omitempty"`
	CompletedAt *time.Time      `json:"completedAt,omitempty"`
	DurationMs  int64           `json:"durationMs,omitempty"`
	TokenCost   int64           `json:"tokenCost,omitempty"`
	Error       string          `json:"error,omitempty"`
}

// Metrics accumulates per-guideline execution outcomes.
type Metrics struct {
	TotalExecutions int64   `json:"totalExecutions"`
	Successful      int64   `json:"successful"`
	Failed          int64   `json:"failed"`
	AvgDurationMs   float64 `json:"avgDurationMs"`
	AvgTokenCost    float64 `json:"avgTokenCost"`
	SuccessRate     float64 `json:"successRate"`
}

// record folds one terminal execution into the running averages.
func (m *Metrics) record(durationMs, tokenCost int64, success bool) {
	m.TotalExecutions++
	if success {
		m.Successful++
	} else {
		m.Failed++
	}
	n := float64(m.TotalExecutions)
	m.AvgDurationMs += (float64(durationMs) - m.AvgDurationMs) / n
	m.AvgTokenCost += (float64(tokenCost) - m.AvgTokenCost) / n
	m.SuccessRate = float64(m.Successful) / n
}

// ProcessSignal matches the signal against every enabled guideline. For
// each match it checks the declared requirements: any unmet requirement
// suppresses the execution and emits requirement_unsatisfied; otherwise
// a pending execution is created and guideline_triggered is emitted.
// Returned executions are in dispatch order.
func (r *Registry) ProcessSignal(ctx context.Context, sig signal.Signal) ([]*Execution, error) {
	_, span := r.tracer.StartSpan(ctx, SpanProcessSignal,
		observability.WithAttribute(observability.AttrSignalID, sig.ID),
		observability.WithAttribute(observability.AttrSignalKind, string(sig.Kind)))
	defer r.tracer.EndSpan(span)

	matched := r.Applicable(sig.Kind)
	span.SetAttribute("matched", len(matched))

	var executions []*Execution
	for _, g := range matched {
		if unmet := unmetRequirements(g); len(unmet) > 0 {
			r.logger.Warn("guideline requirements unsatisfied",
				zap.String("guideline", g.ID),
				zap.String("signal", sig.ID),
				zap.Strings("requirements", unmet))
			r.emit(types.EventRequirementUnsatisfied, map[string]any{
				"guidelineId":  g.ID,
				"signalId":     sig.ID,
				"requirements": unmet,
			})
			continue
		}

		exec := &Execution{
			ID:          uuid.NewString(),
			GuidelineID: g.ID,
			SignalID:    sig.ID,
			SignalKind:  sig.Kind,
			Status:      ExecutionPending,
			CreatedAt:   time.Now(),
		}
		r.mu.Lock()
		r.executions[exec.ID] = exec
		r.mu.Unlock()

		r.emit(types.EventGuidelineTriggered, map[string]any{
			"guidelineId": g.ID,
			"executionId": exec.ID,
			"signalId":    sig.ID,
			"signalKind":  string(sig.Kind),
		})
		executions = append(executions, exec)
	}

	span.SetAttribute("executions", len(executions))
	return executions, nil
}

func unmetRequirements(g Guideline) []string {
	var unmet []string
	for _, req := range g.Requirements {
		if !req.Satisfied() {
			unmet = append(unmet, req.Name)
		}
	}
	return unmet
}

// StartExecution transitions pending → running.
func (r *Registry) StartExecution(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	exec, ok := r.executions[id]
	if !ok {
		return fmt.Errorf("execution %s not found", id)
	}
	if exec.Status != ExecutionPending {
		return fmt.Errorf("execution %s is %s, not pending", id, exec.Status)
	}
	now := time.Now()
	exec.Status = ExecutionRunning
	exec.StartedAt = &now
	return nil
}

// CompleteExecution transitions running → completed and records the
// outcome in the guideline's metrics.
func (r *Registry) CompleteExecution(id string, tokenCost int64) error {
	return r.finish(id, tokenCost, "", true)
}

// FailExecution transitions running → failed and records the outcome in
// the guideline's metrics.
func (r *Registry) FailExecution(id string, execErr error) error {
	msg := ""
	if execErr != nil {
		msg = execErr.Error()
	}
	return r.finish(id, 0, msg, false)
}

func (r *Registry) finish(id string, tokenCost int64, errMsg string, success bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	exec, ok := r.executions[id]
	if !ok {
		return fmt.Errorf("execution %s not found", id)
	}
	if exec.Status != ExecutionRunning {
		return fmt.Errorf("execution %s is %s, not running", id, exec.Status)
	}

	now := time.Now()
	exec.CompletedAt = &now
	if exec.StartedAt != nil {
		exec.DurationMs = now.Sub(*exec.StartedAt).Milliseconds()
	}
	exec.TokenCost = tokenCost
	if success {
		exec.Status = ExecutionCompleted
	} else {
		exec.Status = ExecutionFailed
		exec.Error = errMsg
	}

	metrics, ok := r.metrics[exec.GuidelineID]
	if !ok {
		metrics = &Metrics{}
		r.metrics[exec.GuidelineID] = metrics
	}
	metrics.record(exec.DurationMs, tokenCost, success)
	return nil
}

// Execution returns a copy of the execution with the given id.
func (r *Registry) Execution(id string) (Execution, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	exec, ok := r.executions[id]
	if !ok {
		return Execution{}, false
	}
	return *exec, true
}

// GuidelineMetrics returns a copy of a guideline's metrics record.
func (r *Registry) GuidelineMetrics(guidelineID string) (Metrics, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.metrics[guidelineID]
	if !ok {
		return Metrics{}, false
	}
	return *m, true
}
