// Copyright 2026 The FlowForge Authors
// SPDX-License-Identifier: Apache-2.0

package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/flowforge/flowforge/internal/flowforge-api/models"
	"github.com/flowforge/flowforge/internal/logs"
	"github.com/flowforge/flowforge/internal/store"
	"github.com/flowforge/flowforge/internal/workflow"
)

// TaskService handles task-related business logic
type TaskService struct {
	store    *store.Store
	engine   EngineClient
	synth    *workflow.Synthesizer
	pipeline *logs.Pipeline
	logger   *slog.Logger
}

// NewTaskService creates a new task service
func NewTaskService(st *store.Store, engine EngineClient, synth *workflow.Synthesizer, pipeline *logs.Pipeline, logger *slog.Logger) *TaskService {
	return &TaskService{
		store:    st,
		engine:   engine,
		synth:    synth,
		pipeline: pipeline,
		logger:   logger,
	}
}

// Submit persists a task definition without starting a run. With TaskID
// set, the existing task's code and dependencies are replaced; runs are
// started only through Run.
func (s *TaskService) Submit(ctx context.Context, req *models.TaskSubmitRequest) (*models.TaskSubmitResponse, error) {
	var task *store.Task
	if req.TaskID != "" {
		existing, err := s.store.GetTask(req.TaskID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, req.TaskID)
			}
			return nil, err
		}
		existing.PythonCode = req.PythonCode
		existing.Dependencies = req.Dependencies
		existing.RequirementsFile = req.RequirementsFile
		existing.SystemDependencies = req.SystemDependencies
		task = existing
	} else {
		task = &store.Task{
			ID:                 newResourceID("task-"),
			PythonCode:         req.PythonCode,
			Dependencies:       req.Dependencies,
			RequirementsFile:   req.RequirementsFile,
			SystemDependencies: req.SystemDependencies,
		}
	}

	if err := s.store.SaveTask(task); err != nil {
		return nil, err
	}
	s.logger.Debug("Task saved", "task_id", task.ID)

	return &models.TaskSubmitResponse{TaskID: task.ID}, nil
}

// Run starts a new run of a saved task. A system-dependency override in
// the request applies to this run only.
func (s *TaskService) Run(ctx context.Context, taskID string, req *models.TaskRunRequest) (*models.TaskRunStartResponse, error) {
	task, err := s.store.GetTask(taskID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
		}
		return nil, err
	}

	systemDeps := task.SystemDependencies
	if req.SystemDependencies != "" {
		systemDeps = req.SystemDependencies
	}

	run, err := s.startRun(ctx, task, systemDeps, req.CacheEnabled())
	if err != nil {
		return nil, err
	}
	return &models.TaskRunStartResponse{
		TaskID:     task.ID,
		RunNumber:  run.RunNumber,
		WorkflowID: run.WorkflowID,
		Phase:      run.Phase,
	}, nil
}

// startRun guards against concurrent runs, checks volume preconditions,
// submits the workflow and records the run.
func (s *TaskService) startRun(ctx context.Context, task *store.Task, systemDeps string, useCache bool) (*store.TaskRun, error) {
	active, err := s.store.HasActiveRun(task.ID)
	if err != nil {
		return nil, err
	}
	if active {
		return nil, fmt.Errorf("%w: %s", ErrRunConflict, task.ID)
	}

	if err := s.engine.EnsureBoundPVCs(ctx, workflow.RequiredPVCs(useCache)); err != nil {
		return nil, err
	}

	manifest := s.synth.TaskManifest(workflow.TaskSpec{
		PythonCode:       task.PythonCode,
		PythonDeps:       task.Dependencies,
		RequirementsFile: task.RequirementsFile,
		SystemDeps:       systemDeps,
		UseCache:         useCache,
	})

	workflowID, err := s.engine.SubmitWorkflow(ctx, manifest)
	if err != nil {
		s.logger.Error("Failed to submit workflow", "error", err, "task_id", task.ID)
		return nil, err
	}

	run, err := s.store.CreateRun(task, workflowID)
	if err != nil {
		return nil, err
	}
	s.logger.Info("Task run started",
		"task_id", task.ID,
		"run_number", run.RunNumber,
		"workflow_id", workflowID)
	return run, nil
}

// ListTasks returns all tasks with their latest run state.
func (s *TaskService) ListTasks(ctx context.Context) ([]models.TaskResponse, error) {
	tasks, err := s.store.ListTasks()
	if err != nil {
		return nil, err
	}
	out := make([]models.TaskResponse, 0, len(tasks))
	for i := range tasks {
		out = append(out, *s.toTaskResponse(&tasks[i]))
	}
	return out, nil
}

// GetTask returns a single task with its latest run state.
func (s *TaskService) GetTask(ctx context.Context, taskID string) (*models.TaskResponse, error) {
	task, err := s.store.GetTask(taskID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
		}
		return nil, err
	}
	return s.toTaskResponse(task), nil
}

// Logs runs the pull pipeline for a task run. A nil runNumber selects the
// latest run.
func (s *TaskService) Logs(ctx context.Context, taskID string, runNumber *int) (*logs.Result, error) {
	result, err := s.pipeline.Pull(ctx, taskID, runNumber)
	if err != nil {
		if logs.IsNotFound(err) {
			return nil, fmt.Errorf("%w: task %s", ErrRunNotFound, taskID)
		}
		return nil, err
	}
	return result, nil
}

// Cancel stops the latest run by deleting its workflow. Rows are kept;
// the run phase is recorded as Cancelled unless it already ended.
func (s *TaskService) Cancel(ctx context.Context, taskID string) (*models.TaskRunResponse, error) {
	run, err := s.store.LatestRun(taskID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: task %s", ErrRunNotFound, taskID)
		}
		return nil, err
	}

	if err := s.engine.DeleteWorkflow(ctx, run.WorkflowID); err != nil {
		return nil, err
	}
	if err := s.store.UpdateRunPhase(run, string(workflow.PhaseCancelled), nil, nil); err != nil {
		s.logger.Warn("Failed to record cancellation", "error", err, "task_id", taskID)
	}
	s.logger.Info("Task run cancelled", "task_id", taskID, "workflow_id", run.WorkflowID)
	return toRunResponse(run), nil
}

// DeleteTask purges a task: engine workflows best-effort, then all rows.
func (s *TaskService) DeleteTask(ctx context.Context, taskID string) (*models.TaskDeleteResponse, error) {
	if _, err := s.store.GetTask(taskID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
		}
		return nil, err
	}

	runs, err := s.store.ListRuns(taskID)
	if err != nil {
		return nil, err
	}
	for i := range runs {
		if runs[i].WorkflowID == "" {
			continue
		}
		if err := s.engine.DeleteWorkflow(ctx, runs[i].WorkflowID); err != nil {
			s.logger.Warn("Failed to delete workflow during purge",
				"error", err,
				"task_id", taskID,
				"workflow_id", runs[i].WorkflowID)
		}
	}

	runsDeleted, logsDeleted, err := s.store.DeleteTaskCascade(taskID)
	if err != nil {
		return nil, err
	}
	s.logger.Info("Task purged",
		"task_id", taskID,
		"runs_deleted", runsDeleted,
		"logs_deleted", logsDeleted)
	return &models.TaskDeleteResponse{
		TaskID:      taskID,
		RunsDeleted: runsDeleted,
		LogsDeleted: logsDeleted,
	}, nil
}

func (s *TaskService) toTaskResponse(task *store.Task) *models.TaskResponse {
	resp := &models.TaskResponse{
		ID:                 task.ID,
		PythonCode:         task.PythonCode,
		Dependencies:       task.Dependencies,
		RequirementsFile:   task.RequirementsFile,
		SystemDependencies: task.SystemDependencies,
		CreatedAt:          task.CreatedAt,
		UpdatedAt:          task.UpdatedAt,
	}
	if run, err := s.store.LatestRun(task.ID); err == nil {
		resp.LatestRun = toRunResponse(run)
	}
	return resp
}

func toRunResponse(run *store.TaskRun) *models.TaskRunResponse {
	return &models.TaskRunResponse{
		RunNumber:  run.RunNumber,
		WorkflowID: run.WorkflowID,
		Phase:      run.Phase,
		StartedAt:  run.StartedAt,
		FinishedAt: run.FinishedAt,
		CreatedAt:  run.CreatedAt,
	}
}
