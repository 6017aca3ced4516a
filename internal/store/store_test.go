// Copyright 2026 The FlowForge Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/flowforge/flowforge/internal/workflow"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s, err := Open(filepath.Join(t.TempDir(), "test.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newTestTask(t *testing.T, s *Store, id string) *Task {
	t.Helper()
	task := &Task{
		ID:           id,
		PythonCode:   "print('hello')",
		Dependencies: "numpy",
	}
	require.NoError(t, s.SaveTask(task))
	return task
}

func TestOpen_FreshSchemaHasAllCapabilities(t *testing.T) {
	s := newTestStore(t)
	caps := s.Capabilities()
	assert.True(t, caps.LogsHaveRunID)
	assert.True(t, caps.RunsHaveSnapshot)
	assert.True(t, caps.TasksHaveSystemDeps)
}

func TestSaveTask_UpsertsOnSameID(t *testing.T) {
	s := newTestStore(t)
	task := newTestTask(t, s, "task-000000000001")

	task.PythonCode = "print('updated')"
	require.NoError(t, s.SaveTask(task))

	got, err := s.GetTask(task.ID)
	require.NoError(t, err)
	assert.Equal(t, "print('updated')", got.PythonCode)

	tasks, err := s.ListTasks()
	require.NoError(t, err)
	assert.Len(t, tasks, 1)
}

func TestGetTask_NotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetTask("task-missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCreateRun_NumbersAreSequential(t *testing.T) {
	s := newTestStore(t)
	task := newTestTask(t, s, "task-000000000001")

	for i := 1; i <= 3; i++ {
		run, err := s.CreateRun(task, "wf-"+string(rune('a'+i)))
		require.NoError(t, err)
		assert.Equal(t, i, run.RunNumber)
		assert.Equal(t, string(workflow.PhasePending), run.Phase)
	}

	latest, err := s.LatestRun(task.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, latest.RunNumber)
}

func TestCreateRun_SnapshotsTaskCode(t *testing.T) {
	s := newTestStore(t)
	task := newTestTask(t, s, "task-000000000001")

	run, err := s.CreateRun(task, "wf-1")
	require.NoError(t, err)

	// Changing the task later must not rewrite the run's snapshot.
	task.PythonCode = "print('changed')"
	require.NoError(t, s.SaveTask(task))

	got, err := s.GetRunByNumber(task.ID, run.RunNumber)
	require.NoError(t, err)
	code, deps, _, _ := s.RunSnapshot(got, task)
	assert.Equal(t, "print('hello')", code)
	assert.Equal(t, "numpy", deps)
}

func TestHasActiveRun(t *testing.T) {
	s := newTestStore(t)
	task := newTestTask(t, s, "task-000000000001")

	active, err := s.HasActiveRun(task.ID)
	require.NoError(t, err)
	assert.False(t, active)

	run, err := s.CreateRun(task, "wf-1")
	require.NoError(t, err)

	active, err = s.HasActiveRun(task.ID)
	require.NoError(t, err)
	assert.True(t, active)

	require.NoError(t, s.UpdateRunPhase(run, string(workflow.PhaseSucceeded), nil, nil))
	active, err = s.HasActiveRun(task.ID)
	require.NoError(t, err)
	assert.False(t, active)
}

func TestUpdateRunPhase_TerminalIsMonotonic(t *testing.T) {
	s := newTestStore(t)
	task := newTestTask(t, s, "task-000000000001")
	run, err := s.CreateRun(task, "wf-1")
	require.NoError(t, err)

	now := time.Now().UTC()
	require.NoError(t, s.UpdateRunPhase(run, string(workflow.PhaseFailed), &now, &now))
	assert.Equal(t, string(workflow.PhaseFailed), run.Phase)

	// A late Running observation must not resurrect the run.
	require.NoError(t, s.UpdateRunPhase(run, string(workflow.PhaseRunning), nil, nil))

	got, err := s.LatestRun(task.ID)
	require.NoError(t, err)
	assert.Equal(t, string(workflow.PhaseFailed), got.Phase)
}

func TestUpsertTaskLog_LastWriterWins(t *testing.T) {
	s := newTestStore(t)
	task := newTestTask(t, s, "task-000000000001")
	run, err := s.CreateRun(task, "wf-1")
	require.NoError(t, err)

	require.NoError(t, s.UpsertTaskLog(run, "node-1", "pod-1", "Running", "line one"))
	require.NoError(t, s.UpsertTaskLog(run, "node-1", "pod-1", "Succeeded", "line one\nline two"))
	require.NoError(t, s.UpsertTaskLog(run, "node-2", "pod-2", "Running", "other"))

	logs, err := s.GetRunLogs(run)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, "Succeeded", logs[0].Phase)
	assert.Equal(t, "line one\nline two", logs[0].Logs)
}

func TestGetRunLogs_ScopedToRun(t *testing.T) {
	s := newTestStore(t)
	task := newTestTask(t, s, "task-000000000001")

	run1, err := s.CreateRun(task, "wf-1")
	require.NoError(t, err)
	require.NoError(t, s.UpdateRunPhase(run1, string(workflow.PhaseSucceeded), nil, nil))
	run2, err := s.CreateRun(task, "wf-2")
	require.NoError(t, err)

	require.NoError(t, s.UpsertTaskLog(run1, "n", "wf-1-pod", "Succeeded", "first"))
	require.NoError(t, s.UpsertTaskLog(run2, "n", "wf-2-pod", "Running", "second"))

	logs, err := s.GetRunLogs(run2)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "second", logs[0].Logs)
}

func TestDeleteTaskCascade(t *testing.T) {
	s := newTestStore(t)
	task := newTestTask(t, s, "task-000000000001")
	run, err := s.CreateRun(task, "wf-1")
	require.NoError(t, err)
	require.NoError(t, s.UpsertTaskLog(run, "n1", "p1", "Running", "a"))
	require.NoError(t, s.UpsertTaskLog(run, "n2", "p2", "Running", "b"))

	runsDeleted, logsDeleted, err := s.DeleteTaskCascade(task.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, runsDeleted)
	assert.EqualValues(t, 2, logsDeleted)

	_, err = s.GetTask(task.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.LatestRun(task.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func newTestFlow(t *testing.T, s *Store) *Flow {
	t.Helper()
	flow := &Flow{
		ID:         "flow-000000000001",
		Name:       "etl",
		Definition: `{"steps":[{"id":"a","pythonCode":"pass"},{"id":"b","pythonCode":"pass"}],"edges":[{"source":"a","target":"b"}]}`,
		Status:     "draft",
	}
	require.NoError(t, s.SaveFlow(flow))
	return flow
}

func TestCreateFlowRun_SeedsStepRuns(t *testing.T) {
	s := newTestStore(t)
	flow := newTestFlow(t, s)

	steps := []workflow.FlowStep{
		{ID: "a", Name: "Step A"},
		{ID: "b"},
	}
	run, stepRuns, err := s.CreateFlowRun(flow, "wf-flow-1", steps)
	require.NoError(t, err)
	assert.Equal(t, string(workflow.PhasePending), run.Phase)
	require.Len(t, stepRuns, 2)

	assert.Equal(t, "a", stepRuns[0].StepID)
	assert.Equal(t, "Step A", stepRuns[0].StepName)
	// The node id starts as the step id until reconciliation corrects it.
	assert.Equal(t, "a", stepRuns[0].WorkflowNodeID)
	assert.Equal(t, string(workflow.PhasePending), stepRuns[0].Phase)
	// A nameless step falls back to its id.
	assert.Equal(t, "b", stepRuns[1].StepName)
}

func TestUpdateStepRun_PersistsReconciledNodeID(t *testing.T) {
	s := newTestStore(t)
	flow := newTestFlow(t, s)
	run, stepRuns, err := s.CreateFlowRun(flow, "wf-flow-1", []workflow.FlowStep{{ID: "a"}})
	require.NoError(t, err)

	stepRuns[0].WorkflowNodeID = "wf-flow-1-1234"
	stepRuns[0].Phase = string(workflow.PhaseRunning)
	require.NoError(t, s.UpdateStepRun(&stepRuns[0]))

	got, err := s.StepRuns(run.ID)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "wf-flow-1-1234", got[0].WorkflowNodeID)
	assert.Equal(t, string(workflow.PhaseRunning), got[0].Phase)
}

func TestUpsertStepLog_LastWriterWins(t *testing.T) {
	s := newTestStore(t)
	flow := newTestFlow(t, s)
	_, stepRuns, err := s.CreateFlowRun(flow, "wf-flow-1", []workflow.FlowStep{{ID: "a"}})
	require.NoError(t, err)

	stepRunID := stepRuns[0].ID
	require.NoError(t, s.UpsertStepLog(stepRunID, "node", "pod", "Running", "one"))
	require.NoError(t, s.UpsertStepLog(stepRunID, "node", "pod", "Succeeded", "one\ntwo"))

	logs, err := s.GetStepLogs(stepRunID)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "Succeeded", logs[0].Phase)
}

func TestDeleteFlowCascade(t *testing.T) {
	s := newTestStore(t)
	flow := newTestFlow(t, s)
	_, stepRuns, err := s.CreateFlowRun(flow, "wf-flow-1", []workflow.FlowStep{{ID: "a"}, {ID: "b"}})
	require.NoError(t, err)
	require.NoError(t, s.UpsertStepLog(stepRuns[0].ID, "n", "p", "Running", "x"))

	runsDeleted, stepRunsDeleted, logsDeleted, err := s.DeleteFlowCascade(flow.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, runsDeleted)
	assert.EqualValues(t, 2, stepRunsDeleted)
	assert.EqualValues(t, 1, logsDeleted)

	_, err = s.GetFlow(flow.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateFlowRunPhase_TerminalIsMonotonic(t *testing.T) {
	s := newTestStore(t)
	flow := newTestFlow(t, s)
	run, _, err := s.CreateFlowRun(flow, "wf-flow-1", []workflow.FlowStep{{ID: "a"}})
	require.NoError(t, err)

	require.NoError(t, s.UpdateFlowRunPhase(run, string(workflow.PhaseSucceeded), nil, nil))
	require.NoError(t, s.UpdateFlowRunPhase(run, string(workflow.PhaseRunning), nil, nil))

	got, err := s.GetFlowRun(flow.ID, run.ID)
	require.NoError(t, err)
	assert.Equal(t, string(workflow.PhaseSucceeded), got.Phase)
}

// legacyDDL is the first-generation table shape: task_logs without
// run_id, task_runs without the code snapshot columns, tasks without
// system_dependencies.
var legacyDDL = []string{
	`CREATE TABLE tasks (
		id text PRIMARY KEY,
		python_code text NOT NULL,
		dependencies text,
		requirements_file text,
		created_at datetime,
		updated_at datetime)`,
	`CREATE TABLE task_runs (
		id integer PRIMARY KEY AUTOINCREMENT,
		task_id text NOT NULL,
		workflow_id text,
		run_number integer NOT NULL,
		phase text NOT NULL,
		started_at datetime,
		finished_at datetime,
		created_at datetime)`,
	`CREATE TABLE task_logs (
		id integer PRIMARY KEY AUTOINCREMENT,
		task_id text NOT NULL,
		node_id text NOT NULL,
		pod_name text NOT NULL,
		phase text NOT NULL,
		logs text NOT NULL,
		created_at datetime,
		updated_at datetime)`,
}

func openLegacyDB(t *testing.T) (*gorm.DB, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "legacy.db")
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	require.NoError(t, err)
	for _, stmt := range legacyDDL {
		require.NoError(t, db.Exec(stmt).Error)
	}
	return db, path
}

// newLegacyStore builds a store pinned to the legacy capability record,
// bypassing Open so the schema stays first-generation.
func newLegacyStore(t *testing.T) *Store {
	t.Helper()
	db, _ := openLegacyDB(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := &Store{db: db, logger: logger, caps: probeCapabilities(db)}
	t.Cleanup(func() { _ = s.Close() })

	caps := s.Capabilities()
	require.False(t, caps.LogsHaveRunID)
	require.False(t, caps.RunsHaveSnapshot)
	require.False(t, caps.TasksHaveSystemDeps)
	return s
}

func seedLegacyTask(t *testing.T, s *Store, id string) *Task {
	t.Helper()
	now := time.Now().UTC()
	require.NoError(t, s.db.Exec(
		`INSERT INTO tasks (id, python_code, dependencies, requirements_file, created_at, updated_at)
		 VALUES (?, ?, ?, '', ?, ?)`,
		id, "print('legacy')", "requests", now, now).Error)
	return &Task{ID: id, PythonCode: "print('legacy')", Dependencies: "requests"}
}

func TestEvolveSchema_UpgradesLegacySQLite(t *testing.T) {
	db, path := openLegacyDB(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	caps := probeCapabilities(db)
	require.False(t, caps.LogsHaveRunID)
	require.False(t, caps.RunsHaveSnapshot)
	require.False(t, caps.TasksHaveSystemDeps)

	// The raw ALTERs must be valid SQLite, not just PostgreSQL.
	caps = evolveSchema(db, logger)
	assert.True(t, caps.LogsHaveRunID)
	assert.True(t, caps.RunsHaveSnapshot)
	assert.True(t, caps.TasksHaveSystemDeps)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())

	// Reopening the upgraded file serves the current schema generation.
	s, err := Open(path, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	caps = s.Capabilities()
	assert.True(t, caps.LogsHaveRunID)
	assert.True(t, caps.RunsHaveSnapshot)
	assert.True(t, caps.TasksHaveSystemDeps)
}

func TestLegacyStore_UpsertTaskLogUpdatesByTaskAndPod(t *testing.T) {
	s := newLegacyStore(t)
	task := seedLegacyTask(t, s, "task-000000000001")
	run, err := s.CreateRun(task, "wf-legacy-1")
	require.NoError(t, err)

	require.NoError(t, s.UpsertTaskLog(run, "node-1", "wf-legacy-1-pod", "Running", "one"))
	require.NoError(t, s.UpsertTaskLog(run, "node-1", "wf-legacy-1-pod", "Succeeded", "one\ntwo"))

	logs, err := s.GetRunLogs(run)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "Succeeded", logs[0].Phase)
	assert.Equal(t, "one\ntwo", logs[0].Logs)
	assert.Nil(t, logs[0].RunID)
}

func TestLegacyStore_GetRunLogsFiltersByWorkflowID(t *testing.T) {
	s := newLegacyStore(t)
	task := seedLegacyTask(t, s, "task-000000000001")

	run1, err := s.CreateRun(task, "wf-legacy-aaa")
	require.NoError(t, err)
	run2, err := s.CreateRun(task, "wf-legacy-bbb")
	require.NoError(t, err)

	require.NoError(t, s.UpsertTaskLog(run1, "n", "wf-legacy-aaa-main", "Succeeded", "first"))
	require.NoError(t, s.UpsertTaskLog(run2, "n", "wf-legacy-bbb-main", "Running", "second"))

	// Without run_id the pod-name substring match keeps sibling runs apart.
	logs, err := s.GetRunLogs(run1)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "first", logs[0].Logs)
}

func TestLegacyStore_RunSnapshotFallsBackToTask(t *testing.T) {
	s := newLegacyStore(t)
	task := seedLegacyTask(t, s, "task-000000000001")
	run, err := s.CreateRun(task, "wf-legacy-1")
	require.NoError(t, err)

	got, err := s.LatestRun(task.ID)
	require.NoError(t, err)
	assert.Equal(t, run.RunNumber, got.RunNumber)

	code, deps, _, _ := s.RunSnapshot(got, task)
	assert.Equal(t, "print('legacy')", code)
	assert.Equal(t, "requests", deps)

	code, deps, _, _ = s.RunSnapshot(got, nil)
	assert.Empty(t, code)
	assert.Empty(t, deps)
}
