// Copyright 2026 The FlowForge Authors
// SPDX-License-Identifier: Apache-2.0

package logs

import (
	"context"
	"log/slog"
	"strings"

	"github.com/flowforge/flowforge/internal/store"
	"github.com/flowforge/flowforge/internal/workflow"
)

// StepLogs groups a step run's log records for API responses.
type StepLogs struct {
	StepID   string   `json:"stepId"`
	StepName string   `json:"stepName"`
	Phase    string   `json:"phase"`
	Records  []Record `json:"logs"`
}

// SyncFlowRun reconciles a flow run and its step runs against the engine:
// the flow-run phase follows the resolved workflow phase, and each step
// run is matched to its engine node, correcting the stored node id on
// first match so later lookups are direct. The engine status is returned
// for callers that need it; it is nil when the engine call failed.
func (p *Pipeline) SyncFlowRun(ctx context.Context, run *store.FlowRun) ([]store.FlowStepRun, *workflow.Status, error) {
	status, statusErr := p.engine.GetWorkflowStatus(ctx, run.WorkflowID)
	if statusErr != nil {
		p.logger.Warn("failed to get flow workflow status; serving stored state",
			slog.String("workflow_id", run.WorkflowID),
			slog.Any("error", statusErr))
		status = nil
	} else {
		phase := workflow.ResolvePhase(status)
		if string(phase) != run.Phase {
			if err := p.store.UpdateFlowRunPhase(run, string(phase), parseTime(status.StartedAt), parseTime(status.FinishedAt)); err != nil {
				p.logger.Warn("failed to persist flow run phase", slog.Any("error", err))
			}
		}
	}

	stepRuns, err := p.store.StepRuns(run.ID)
	if err != nil {
		return nil, status, err
	}

	if status != nil {
		for i := range stepRuns {
			p.reconcileStepRun(&stepRuns[i], run.WorkflowID, status)
		}
	}
	return stepRuns, status, nil
}

// reconcileStepRun maps a step run onto its engine node and persists any
// observed change. Engine phases Failed and Error both store as Failed.
func (p *Pipeline) reconcileStepRun(stepRun *store.FlowStepRun, workflowID string, status *workflow.Status) {
	nodeID, node, found := findStepNode(stepRun, workflowID, status)
	if !found {
		return
	}

	phase := node.Phase
	switch workflow.Phase(phase) {
	case workflow.PhaseFailed, workflow.PhaseError:
		phase = string(workflow.PhaseFailed)
	case "":
		phase = string(workflow.PhasePending)
	}

	changed := false
	if stepRun.WorkflowNodeID != nodeID {
		stepRun.WorkflowNodeID = nodeID
		changed = true
	}
	if stepRun.Phase != phase && !workflow.Phase(stepRun.Phase).IsTerminal() {
		stepRun.Phase = phase
		changed = true
	}
	if t := parseTime(node.StartedAt); t != nil && stepRun.StartedAt == nil {
		stepRun.StartedAt = t
		changed = true
	}
	if t := parseTime(node.FinishedAt); t != nil && stepRun.FinishedAt == nil {
		stepRun.FinishedAt = t
		changed = true
	}

	if changed {
		if err := p.store.UpdateStepRun(stepRun); err != nil {
			p.logger.Warn("failed to persist step run", slog.Any("error", err))
		}
	}
}

// findStepNode tries the three node-matching strategies in order: the
// stored node id, the engine's <workflow-id>.<step-id> key, then a scan
// for a node whose template name, display name or key suffix equals the
// step id.
func findStepNode(stepRun *store.FlowStepRun, workflowID string, status *workflow.Status) (string, workflow.NodeStatus, bool) {
	if node, ok := status.Nodes[stepRun.WorkflowNodeID]; ok {
		return stepRun.WorkflowNodeID, node, true
	}

	key := workflowID + "." + stepRun.StepID
	if node, ok := status.Nodes[key]; ok {
		return key, node, true
	}

	for nodeID, node := range status.Nodes {
		if node.TemplateName == stepRun.StepID ||
			node.DisplayName == stepRun.StepID ||
			strings.HasSuffix(nodeID, "."+stepRun.StepID) {
			return nodeID, node, true
		}
	}
	return "", workflow.NodeStatus{}, false
}

// FlowRunLogs returns the per-step logs of a flow run, database first with
// an engine fetch for steps that have nothing stored yet.
func (p *Pipeline) FlowRunLogs(ctx context.Context, run *store.FlowRun) ([]StepLogs, error) {
	stepRuns, status, err := p.SyncFlowRun(ctx, run)
	if err != nil {
		return nil, err
	}

	// One engine fetch covers all steps that still miss stored logs.
	missing := false
	for i := range stepRuns {
		stored, err := p.store.GetStepLogs(stepRuns[i].ID)
		if err != nil {
			return nil, err
		}
		if len(stored) == 0 {
			missing = true
		}
	}
	if missing && status != nil {
		fresh, fetchErr := p.fetchFromEngine(ctx, run.WorkflowID, status)
		if fetchErr != nil {
			p.logger.Warn("failed to fetch flow logs from engine", slog.Any("error", fetchErr))
		}
		for _, rec := range fresh {
			for i := range stepRuns {
				if stepRuns[i].WorkflowNodeID == rec.NodeID ||
					strings.HasSuffix(rec.NodeID, "."+stepRuns[i].StepID) {
					if err := p.store.UpsertStepLog(stepRuns[i].ID, rec.NodeID, rec.PodName, rec.Phase, rec.Logs); err != nil {
						p.logger.Warn("failed to persist step log", slog.Any("error", err))
					}
					break
				}
			}
		}
	}

	flowPhase := workflow.Phase(run.Phase)
	out := make([]StepLogs, 0, len(stepRuns))
	for i := range stepRuns {
		stored, err := p.store.GetStepLogs(stepRuns[i].ID)
		if err != nil {
			return nil, err
		}
		records := make([]Record, 0, len(stored))
		for _, rec := range stored {
			phase := rec.Phase
			if flowPhase.IsTerminal() && !workflow.Phase(phase).IsTerminal() {
				phase = run.Phase
				if err := p.store.UpsertStepLog(stepRuns[i].ID, rec.NodeID, rec.PodName, phase, rec.Logs); err != nil {
					p.logger.Warn("failed to rewrite step log phase", slog.Any("error", err))
				}
			}
			records = append(records, Record{
				NodeID:  rec.NodeID,
				PodName: rec.PodName,
				Phase:   phase,
				Logs:    rec.Logs,
			})
		}
		out = append(out, StepLogs{
			StepID:   stepRuns[i].StepID,
			StepName: stepRuns[i].StepName,
			Phase:    stepRuns[i].Phase,
			Records:  records,
		})
	}
	return out, nil
}
