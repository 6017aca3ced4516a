// Copyright 2026 The FlowForge Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/flowforge/flowforge/internal/workflow"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// Store is the relational adapter for tasks, flows, runs and logs.
type Store struct {
	db     *gorm.DB
	logger *slog.Logger

	capsMu sync.RWMutex
	caps   Capabilities
}

// Open connects to the database selected by the URL scheme (postgres://
// for PostgreSQL, anything else is treated as a SQLite path), migrates the
// current schema, and computes the capability record. Migration failures
// are logged, not fatal: the store then runs the idempotent evolution
// ALTERs and serves whatever shape the catalog ends up in.
func Open(databaseURL string, logger *slog.Logger) (*Store, error) {
	db, err := gorm.Open(openDialector(databaseURL), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.AutoMigrate(&Task{}, &TaskRun{}, &TaskLog{}, &Flow{}, &FlowRun{}, &FlowStepRun{}, &FlowStepLog{}); err != nil {
		logger.Warn("auto-migration failed; attempting runtime schema evolution", slog.Any("error", err))
	}

	s := &Store{db: db, logger: logger}
	s.caps = evolveSchema(db, logger)
	if !s.caps.LogsHaveRunID || !s.caps.RunsHaveSnapshot {
		logger.Warn("store is in legacy-read mode",
			slog.Bool("logs_have_run_id", s.caps.LogsHaveRunID),
			slog.Bool("runs_have_snapshot", s.caps.RunsHaveSnapshot))
	}
	return s, nil
}

func openDialector(databaseURL string) gorm.Dialector {
	if strings.HasPrefix(databaseURL, "postgres://") || strings.HasPrefix(databaseURL, "postgresql://") {
		return postgres.Open(databaseURL)
	}
	return sqlite.Open(databaseURL)
}

// Capabilities returns the current schema capability record.
func (s *Store) Capabilities() Capabilities {
	s.capsMu.RLock()
	defer s.capsMu.RUnlock()
	return s.caps
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// ----- tasks -----

// SaveTask inserts the task or, on resubmit under the same id, updates its
// code and dependency fields.
func (s *Store) SaveTask(task *Task) error {
	assignments := []string{"python_code", "dependencies", "requirements_file", "updated_at"}
	if s.Capabilities().TasksHaveSystemDeps {
		assignments = append(assignments, "system_dependencies")
	}
	err := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns(assignments),
	}).Create(task).Error
	if err != nil {
		return fmt.Errorf("failed to save task %s: %w", task.ID, err)
	}
	return nil
}

// GetTask fetches a task by id.
func (s *Store) GetTask(id string) (*Task, error) {
	var task Task
	if err := s.db.First(&task, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: task %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to get task %s: %w", id, err)
	}
	return &task, nil
}

// ListTasks returns all tasks ordered by creation time, newest first.
func (s *Store) ListTasks() ([]Task, error) {
	var tasks []Task
	if err := s.db.Order("created_at DESC").Find(&tasks).Error; err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	return tasks, nil
}

// DeleteTaskCascade purges a task with all its runs and log records using
// explicit keyed statements. Relationship navigation would load columns
// absent under the legacy schema, so deletions never traverse objects.
func (s *Store) DeleteTaskCascade(taskID string) (runsDeleted, logsDeleted int64, err error) {
	err = s.db.Transaction(func(tx *gorm.DB) error {
		logsRes := tx.Where("task_id = ?", taskID).Delete(&TaskLog{})
		if logsRes.Error != nil {
			return fmt.Errorf("failed to delete logs for task %s: %w", taskID, logsRes.Error)
		}
		logsDeleted = logsRes.RowsAffected

		runsRes := tx.Where("task_id = ?", taskID).Delete(&TaskRun{})
		if runsRes.Error != nil {
			return fmt.Errorf("failed to delete runs for task %s: %w", taskID, runsRes.Error)
		}
		runsDeleted = runsRes.RowsAffected

		if err := tx.Delete(&Task{}, "id = ?", taskID).Error; err != nil {
			return fmt.Errorf("failed to delete task %s: %w", taskID, err)
		}
		return nil
	})
	return runsDeleted, logsDeleted, err
}

// ----- task runs -----

// runColumns returns the selectable columns of task_runs for the current
// schema generation. Legacy tables lack the snapshot columns, so every
// read must name its columns explicitly.
func (s *Store) runColumns() []string {
	cols := []string{"id", "task_id", "workflow_id", "run_number", "phase", "started_at", "finished_at", "created_at"}
	if s.Capabilities().RunsHaveSnapshot {
		cols = append(cols, "python_code", "dependencies", "requirements_file", "system_dependencies")
	}
	return cols
}

// CreateRun inserts a run with the next run number for the task and a
// snapshot of the task's current code. Run numbering is protected by the
// unique (task_id, run_number) index: a concurrent submit loses the race,
// gets a duplicate-key error, and the insert is retried once with a fresh
// number.
func (s *Store) CreateRun(task *Task, workflowID string) (*TaskRun, error) {
	var run *TaskRun
	var err error
	for attempt := 0; attempt < 2; attempt++ {
		run, err = s.tryCreateRun(task, workflowID)
		if err == nil {
			return run, nil
		}
		if !isUniqueViolation(err) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("failed to allocate run number for task %s: %w", task.ID, err)
}

func (s *Store) tryCreateRun(task *Task, workflowID string) (*TaskRun, error) {
	now := time.Now().UTC()
	run := &TaskRun{
		TaskID:     task.ID,
		WorkflowID: workflowID,
		Phase:      string(workflow.PhasePending),
		StartedAt:  &now,
		CreatedAt:  now,
	}

	caps := s.Capabilities()
	insertCols := []string{"task_id", "workflow_id", "run_number", "phase", "started_at", "created_at"}
	if caps.RunsHaveSnapshot {
		run.PythonCode = task.PythonCode
		run.Dependencies = task.Dependencies
		run.RequirementsFile = task.RequirementsFile
		run.SystemDependencies = task.SystemDependencies
		insertCols = append(insertCols, "python_code", "dependencies", "requirements_file", "system_dependencies")
	}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		var maxNumber int
		row := tx.Model(&TaskRun{}).
			Select("COALESCE(MAX(run_number), 0)").
			Where("task_id = ?", task.ID).
			Row()
		if err := row.Scan(&maxNumber); err != nil {
			return fmt.Errorf("failed to read max run number for task %s: %w", task.ID, err)
		}
		run.RunNumber = maxNumber + 1
		return tx.Select(insertCols).Create(run).Error
	})
	if err != nil {
		return nil, err
	}
	return run, nil
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique") || strings.Contains(msg, "duplicate")
}

// LatestRun returns the newest run of a task, or ErrNotFound when the
// task has never run.
func (s *Store) LatestRun(taskID string) (*TaskRun, error) {
	var run TaskRun
	err := s.db.Select(s.runColumns()).
		Where("task_id = ?", taskID).
		Order("run_number DESC").
		First(&run).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: no runs for task %s", ErrNotFound, taskID)
		}
		return nil, fmt.Errorf("failed to get latest run for task %s: %w", taskID, err)
	}
	return &run, nil
}

// GetRunByNumber returns a specific run of a task.
func (s *Store) GetRunByNumber(taskID string, runNumber int) (*TaskRun, error) {
	var run TaskRun
	err := s.db.Select(s.runColumns()).
		Where("task_id = ? AND run_number = ?", taskID, runNumber).
		First(&run).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: run %d of task %s", ErrNotFound, runNumber, taskID)
		}
		return nil, fmt.Errorf("failed to get run %d of task %s: %w", runNumber, taskID, err)
	}
	return &run, nil
}

// ListRuns returns all runs of a task, newest first.
func (s *Store) ListRuns(taskID string) ([]TaskRun, error) {
	var runs []TaskRun
	err := s.db.Select(s.runColumns()).
		Where("task_id = ?", taskID).
		Order("run_number DESC").
		Find(&runs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list runs for task %s: %w", taskID, err)
	}
	return runs, nil
}

// HasActiveRun reports whether the task's latest run is still pending or
// running.
func (s *Store) HasActiveRun(taskID string) (bool, error) {
	run, err := s.LatestRun(taskID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	phase := workflow.Phase(run.Phase)
	return phase == workflow.PhasePending || phase == workflow.PhaseRunning, nil
}

// UpdateRunPhase persists an observed phase transition. Terminal phases
// are monotonic: once a run is Succeeded, Failed or Error the stored phase
// never changes again.
func (s *Store) UpdateRunPhase(run *TaskRun, phase string, startedAt, finishedAt *time.Time) error {
	if workflow.Phase(run.Phase).IsTerminal() && run.Phase != phase {
		return nil
	}
	updates := map[string]any{"phase": phase}
	if startedAt != nil {
		updates["started_at"] = startedAt
	}
	if finishedAt != nil {
		updates["finished_at"] = finishedAt
	}
	if err := s.db.Model(&TaskRun{}).Where("id = ?", run.ID).Updates(updates).Error; err != nil {
		return fmt.Errorf("failed to update phase of run %d: %w", run.ID, err)
	}
	run.Phase = phase
	if startedAt != nil {
		run.StartedAt = startedAt
	}
	if finishedAt != nil {
		run.FinishedAt = finishedAt
	}
	return nil
}

// RunSnapshot returns the code snapshot for a run. Under the legacy
// schema the snapshot columns do not exist and the owning task's current
// values are returned instead; re-reads of old runs then show current
// code, which is the documented legacy caveat.
func (s *Store) RunSnapshot(run *TaskRun, task *Task) (pythonCode, deps, reqFile, sysDeps string) {
	if s.Capabilities().RunsHaveSnapshot {
		return run.PythonCode, run.Dependencies, run.RequirementsFile, run.SystemDependencies
	}
	if task == nil {
		return "", "", "", ""
	}
	return task.PythonCode, task.Dependencies, task.RequirementsFile, task.SystemDependencies
}

// ----- task logs -----

// UpsertTaskLog writes a log record with last-writer-wins semantics on the
// (run, node, pod) key. Under the legacy schema the key degrades to
// (task, node, pod) and the update is done by explicit lookup.
func (s *Store) UpsertTaskLog(run *TaskRun, nodeID, podName, phase, logs string) error {
	now := time.Now().UTC()
	if s.Capabilities().LogsHaveRunID {
		rec := &TaskLog{
			TaskID:    run.TaskID,
			RunID:     &run.ID,
			NodeID:    nodeID,
			PodName:   podName,
			Phase:     phase,
			Logs:      logs,
			CreatedAt: now,
			UpdatedAt: now,
		}
		err := s.db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "run_id"}, {Name: "node_id"}, {Name: "pod_name"}},
			DoUpdates: clause.AssignmentColumns([]string{"phase", "logs", "updated_at"}),
		}).Create(rec).Error
		if err != nil {
			return fmt.Errorf("failed to upsert log for run %d node %s: %w", run.ID, nodeID, err)
		}
		return nil
	}

	// Legacy: no run_id column; correlate by task id and pod name.
	res := s.db.Model(&TaskLog{}).
		Where("task_id = ? AND node_id = ? AND pod_name = ?", run.TaskID, nodeID, podName).
		Updates(map[string]any{"phase": phase, "logs": logs, "updated_at": now})
	if res.Error != nil {
		return fmt.Errorf("failed to update legacy log for task %s node %s: %w", run.TaskID, nodeID, res.Error)
	}
	if res.RowsAffected > 0 {
		return nil
	}
	rec := &TaskLog{
		TaskID:    run.TaskID,
		NodeID:    nodeID,
		PodName:   podName,
		Phase:     phase,
		Logs:      logs,
		CreatedAt: now,
		UpdatedAt: now,
	}
	err := s.db.Select("task_id", "node_id", "pod_name", "phase", "logs", "created_at", "updated_at").
		Create(rec).Error
	if err != nil {
		return fmt.Errorf("failed to insert legacy log for task %s node %s: %w", run.TaskID, nodeID, err)
	}
	return nil
}

// GetRunLogs returns the stored log records of a run. Under the legacy
// schema logs are scoped by task id plus workflow-id substring matching on
// the pod name, so sibling runs do not cross-contaminate.
func (s *Store) GetRunLogs(run *TaskRun) ([]TaskLog, error) {
	var logs []TaskLog
	var err error
	if s.Capabilities().LogsHaveRunID {
		err = s.db.Where("run_id = ?", run.ID).Order("pod_name").Find(&logs).Error
	} else {
		err = s.db.Select("id", "task_id", "node_id", "pod_name", "phase", "logs", "created_at", "updated_at").
			Where("task_id = ? AND pod_name LIKE ?", run.TaskID, "%"+run.WorkflowID+"%").
			Order("pod_name").
			Find(&logs).Error
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get logs for run %d: %w", run.ID, err)
	}
	return logs, nil
}

// ----- flows -----

// SaveFlow inserts or fully updates a flow.
func (s *Store) SaveFlow(flow *Flow) error {
	err := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "description", "definition", "status", "updated_at"}),
	}).Create(flow).Error
	if err != nil {
		return fmt.Errorf("failed to save flow %s: %w", flow.ID, err)
	}
	return nil
}

// GetFlow fetches a flow by id.
func (s *Store) GetFlow(id string) (*Flow, error) {
	var flow Flow
	if err := s.db.First(&flow, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: flow %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to get flow %s: %w", id, err)
	}
	return &flow, nil
}

// ListFlows returns all flows, newest first.
func (s *Store) ListFlows() ([]Flow, error) {
	var flows []Flow
	if err := s.db.Order("created_at DESC").Find(&flows).Error; err != nil {
		return nil, fmt.Errorf("failed to list flows: %w", err)
	}
	return flows, nil
}

// DeleteFlowCascade purges a flow with all flow runs, step runs and step
// logs, again by explicit keyed statements.
func (s *Store) DeleteFlowCascade(flowID string) (runsDeleted, stepRunsDeleted, logsDeleted int64, err error) {
	err = s.db.Transaction(func(tx *gorm.DB) error {
		var runIDs []uint
		if err := tx.Model(&FlowRun{}).Where("flow_id = ?", flowID).Pluck("id", &runIDs).Error; err != nil {
			return fmt.Errorf("failed to list runs of flow %s: %w", flowID, err)
		}

		if len(runIDs) > 0 {
			var stepRunIDs []uint
			if err := tx.Model(&FlowStepRun{}).Where("flow_run_id IN ?", runIDs).Pluck("id", &stepRunIDs).Error; err != nil {
				return fmt.Errorf("failed to list step runs of flow %s: %w", flowID, err)
			}

			if len(stepRunIDs) > 0 {
				logsRes := tx.Where("step_run_id IN ?", stepRunIDs).Delete(&FlowStepLog{})
				if logsRes.Error != nil {
					return fmt.Errorf("failed to delete step logs of flow %s: %w", flowID, logsRes.Error)
				}
				logsDeleted = logsRes.RowsAffected
			}

			stepRes := tx.Where("flow_run_id IN ?", runIDs).Delete(&FlowStepRun{})
			if stepRes.Error != nil {
				return fmt.Errorf("failed to delete step runs of flow %s: %w", flowID, stepRes.Error)
			}
			stepRunsDeleted = stepRes.RowsAffected
		}

		runsRes := tx.Where("flow_id = ?", flowID).Delete(&FlowRun{})
		if runsRes.Error != nil {
			return fmt.Errorf("failed to delete runs of flow %s: %w", flowID, runsRes.Error)
		}
		runsDeleted = runsRes.RowsAffected

		if err := tx.Delete(&Flow{}, "id = ?", flowID).Error; err != nil {
			return fmt.Errorf("failed to delete flow %s: %w", flowID, err)
		}
		return nil
	})
	return runsDeleted, stepRunsDeleted, logsDeleted, err
}

// ----- flow runs -----

// CreateFlowRun inserts a flow run plus one step run per declared step.
// Step runs start Pending with workflow_node_id initialized to the step id
// until reconciliation learns the engine's identifier.
func (s *Store) CreateFlowRun(flow *Flow, workflowID string, steps []workflow.FlowStep) (*FlowRun, []FlowStepRun, error) {
	now := time.Now().UTC()
	run := &FlowRun{
		FlowID:     flow.ID,
		WorkflowID: workflowID,
		Phase:      string(workflow.PhasePending),
		StartedAt:  &now,
		CreatedAt:  now,
	}

	stepRuns := make([]FlowStepRun, 0, len(steps))
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(run).Error; err != nil {
			return fmt.Errorf("failed to create flow run: %w", err)
		}
		for _, step := range steps {
			name := step.Name
			if name == "" {
				name = step.ID
			}
			stepRun := FlowStepRun{
				FlowRunID:      run.ID,
				StepID:         step.ID,
				StepName:       name,
				WorkflowNodeID: step.ID,
				Phase:          string(workflow.PhasePending),
				CreatedAt:      now,
			}
			if err := tx.Create(&stepRun).Error; err != nil {
				return fmt.Errorf("failed to create step run for %s: %w", step.ID, err)
			}
			stepRuns = append(stepRuns, stepRun)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return run, stepRuns, nil
}

// GetFlowRun fetches a run of a specific flow.
func (s *Store) GetFlowRun(flowID string, runID uint) (*FlowRun, error) {
	var run FlowRun
	err := s.db.Where("id = ? AND flow_id = ?", runID, flowID).First(&run).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: run %d of flow %s", ErrNotFound, runID, flowID)
		}
		return nil, fmt.Errorf("failed to get run %d of flow %s: %w", runID, flowID, err)
	}
	return &run, nil
}

// ListFlowRuns returns all runs of a flow, newest first.
func (s *Store) ListFlowRuns(flowID string) ([]FlowRun, error) {
	var runs []FlowRun
	if err := s.db.Where("flow_id = ?", flowID).Order("created_at DESC").Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("failed to list runs for flow %s: %w", flowID, err)
	}
	return runs, nil
}

// UpdateFlowRunPhase persists an observed flow-run phase transition with
// the same terminal monotonicity as task runs.
func (s *Store) UpdateFlowRunPhase(run *FlowRun, phase string, startedAt, finishedAt *time.Time) error {
	if workflow.Phase(run.Phase).IsTerminal() && run.Phase != phase {
		return nil
	}
	updates := map[string]any{"phase": phase}
	if startedAt != nil {
		updates["started_at"] = startedAt
	}
	if finishedAt != nil {
		updates["finished_at"] = finishedAt
	}
	if err := s.db.Model(&FlowRun{}).Where("id = ?", run.ID).Updates(updates).Error; err != nil {
		return fmt.Errorf("failed to update phase of flow run %d: %w", run.ID, err)
	}
	run.Phase = phase
	if startedAt != nil {
		run.StartedAt = startedAt
	}
	if finishedAt != nil {
		run.FinishedAt = finishedAt
	}
	return nil
}

// StepRuns returns the step runs of a flow run in creation order.
func (s *Store) StepRuns(flowRunID uint) ([]FlowStepRun, error) {
	var stepRuns []FlowStepRun
	if err := s.db.Where("flow_run_id = ?", flowRunID).Order("id").Find(&stepRuns).Error; err != nil {
		return nil, fmt.Errorf("failed to list step runs for flow run %d: %w", flowRunID, err)
	}
	return stepRuns, nil
}

// UpdateStepRun persists the mutable fields of a step run: phase,
// timestamps and the reconciled workflow node id.
func (s *Store) UpdateStepRun(stepRun *FlowStepRun) error {
	updates := map[string]any{
		"phase":            stepRun.Phase,
		"workflow_node_id": stepRun.WorkflowNodeID,
		"started_at":       stepRun.StartedAt,
		"finished_at":      stepRun.FinishedAt,
	}
	if err := s.db.Model(&FlowStepRun{}).Where("id = ?", stepRun.ID).Updates(updates).Error; err != nil {
		return fmt.Errorf("failed to update step run %d: %w", stepRun.ID, err)
	}
	return nil
}

// ----- flow step logs -----

// UpsertStepLog writes a step log record with last-writer-wins semantics
// on the (step run, node, pod) key.
func (s *Store) UpsertStepLog(stepRunID uint, nodeID, podName, phase, logs string) error {
	now := time.Now().UTC()
	rec := &FlowStepLog{
		StepRunID: stepRunID,
		NodeID:    nodeID,
		PodName:   podName,
		Phase:     phase,
		Logs:      logs,
		CreatedAt: now,
		UpdatedAt: now,
	}
	err := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "step_run_id"}, {Name: "node_id"}, {Name: "pod_name"}},
		DoUpdates: clause.AssignmentColumns([]string{"phase", "logs", "updated_at"}),
	}).Create(rec).Error
	if err != nil {
		return fmt.Errorf("failed to upsert step log for step run %d: %w", stepRunID, err)
	}
	return nil
}

// GetStepLogs returns the stored log records of a step run.
func (s *Store) GetStepLogs(stepRunID uint) ([]FlowStepLog, error) {
	var logs []FlowStepLog
	if err := s.db.Where("step_run_id = ?", stepRunID).Order("pod_name").Find(&logs).Error; err != nil {
		return nil, fmt.Errorf("failed to get logs for step run %d: %w", stepRunID, err)
	}
	return logs, nil
}
