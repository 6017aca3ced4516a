// Copyright 2026 The FlowForge Authors
// SPDX-License-Identifier: Apache-2.0

// Package logs pulls pod logs from the workflow engine, deduplicates them
// against the store, keeps stored phases in sync with resolved workflow
// phases, and serves both polling and websocket push clients.
package logs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	corev1 "k8s.io/api/core/v1"

	"github.com/flowforge/flowforge/internal/store"
	"github.com/flowforge/flowforge/internal/workflow"
)

// Engine is the slice of the workflow engine the pipeline consumes.
type Engine interface {
	GetWorkflowStatus(ctx context.Context, workflowID string) (*workflow.Status, error)
	ListWorkflowPods(ctx context.Context, workflowID string) ([]corev1.Pod, error)
	PodLogs(ctx context.Context, podName, container string, tailLines int64) (string, error)
}

// Log sources reported to clients.
const (
	SourceDatabase   = "database"
	SourceKubernetes = "kubernetes"
	SourceError      = "error"
)

// tailLines caps how much of a pod log a single fetch reads.
const tailLines = 1000

// Record is one pod-level log snapshot in API shape.
type Record struct {
	NodeID  string `json:"nodeId"`
	PodName string `json:"podName"`
	Phase   string `json:"phase"`
	Logs    string `json:"logs"`
}

// Result is the outcome of one pull.
type Result struct {
	TaskID     string   `json:"taskId"`
	RunNumber  int      `json:"runNumber"`
	WorkflowID string   `json:"workflowId"`
	Phase      string   `json:"phase"`
	Source     string   `json:"source"`
	Error      string   `json:"error,omitempty"`
	Records    []Record `json:"logs"`
}

// Pipeline implements the pull and push log surfaces.
type Pipeline struct {
	store  *store.Store
	engine Engine
	logger *slog.Logger
}

// NewPipeline wires the pipeline to its store and engine.
func NewPipeline(st *store.Store, engine Engine, logger *slog.Logger) *Pipeline {
	return &Pipeline{store: st, engine: engine, logger: logger}
}

// Pull returns the logs of a task run: stored records when present,
// otherwise a fresh engine fetch that is persisted before returning.
// Engine failures with no cached logs degrade to an empty result tagged
// with source "error"; they are not returned as errors.
func (p *Pipeline) Pull(ctx context.Context, taskID string, runNumber *int) (*Result, error) {
	var run *store.TaskRun
	var err error
	if runNumber != nil {
		run, err = p.store.GetRunByNumber(taskID, *runNumber)
	} else {
		run, err = p.store.LatestRun(taskID)
	}
	if err != nil {
		return nil, err
	}

	result := &Result{
		TaskID:     taskID,
		RunNumber:  run.RunNumber,
		WorkflowID: run.WorkflowID,
		Phase:      run.Phase,
		Records:    []Record{},
	}

	// Sync the stored phase with the engine's view. A vanished workflow
	// keeps the last-known phase.
	status, statusErr := p.engine.GetWorkflowStatus(ctx, run.WorkflowID)
	if statusErr == nil {
		phase := workflow.ResolvePhase(status)
		if string(phase) != run.Phase {
			if err := p.store.UpdateRunPhase(run, string(phase), parseTime(status.StartedAt), parseTime(status.FinishedAt)); err != nil {
				p.logger.Warn("failed to persist run phase", slog.Any("error", err))
			}
		}
		result.Phase = run.Phase
	}

	stored, err := p.store.GetRunLogs(run)
	if err != nil {
		return nil, err
	}

	// On terminal transitions the per-pod phase is stale for fast
	// completions; rewrite stored log phases to the final phase.
	if workflow.Phase(run.Phase).IsTerminal() {
		for i := range stored {
			if !workflow.Phase(stored[i].Phase).IsTerminal() {
				stored[i].Phase = run.Phase
				if err := p.store.UpsertTaskLog(run, stored[i].NodeID, stored[i].PodName, run.Phase, stored[i].Logs); err != nil {
					p.logger.Warn("failed to rewrite log phase", slog.Any("error", err))
				}
			}
		}
	}

	if len(stored) > 0 {
		result.Source = SourceDatabase
		for _, rec := range stored {
			result.Records = append(result.Records, Record{
				NodeID:  rec.NodeID,
				PodName: rec.PodName,
				Phase:   rec.Phase,
				Logs:    rec.Logs,
			})
		}
		return result, nil
	}

	if statusErr != nil {
		result.Source = SourceError
		result.Error = statusErr.Error()
		return result, nil
	}

	fresh, fetchErr := p.fetchFromEngine(ctx, run.WorkflowID, status)
	if fetchErr != nil {
		result.Source = SourceError
		result.Error = fetchErr.Error()
		return result, nil
	}

	for _, rec := range fresh {
		if err := p.store.UpsertTaskLog(run, rec.NodeID, rec.PodName, rec.Phase, rec.Logs); err != nil {
			p.logger.Warn("failed to persist fetched log", slog.Any("error", err))
		}
	}
	result.Source = SourceKubernetes
	result.Records = fresh
	return result, nil
}

// IsNotFound reports whether the error is a missing task/run lookup, for
// handler status mapping.
func IsNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound)
}

func parseTime(value string) *time.Time {
	if value == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return nil
	}
	t = t.UTC()
	return &t
}
