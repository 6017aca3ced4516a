// Copyright 2026 The FlowForge Authors
// SPDX-License-Identifier: Apache-2.0

package services

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"

	"github.com/flowforge/flowforge/internal/flowforge-api/models"
	"github.com/flowforge/flowforge/internal/logs"
	"github.com/flowforge/flowforge/internal/store"
	"github.com/flowforge/flowforge/internal/workflow"
)

// fakeEngine satisfies both the services' EngineClient and the log
// pipeline's engine interface.
type fakeEngine struct {
	nextID     int
	submitted  []*workflow.Manifest
	submitErr  error
	pvcErr     error
	ensured    [][]string
	deleted    []string
	deleteErr  error
	status     *workflow.Status
	statusErr  error
	yaml       string
}

func (f *fakeEngine) SubmitWorkflow(ctx context.Context, manifest *workflow.Manifest) (string, error) {
	if f.submitErr != nil {
		return "", f.submitErr
	}
	f.nextID++
	f.submitted = append(f.submitted, manifest)
	return fmt.Sprintf("wf-test-%d", f.nextID), nil
}

func (f *fakeEngine) GetWorkflowStatus(ctx context.Context, workflowID string) (*workflow.Status, error) {
	return f.status, f.statusErr
}

func (f *fakeEngine) GetWorkflowYAML(ctx context.Context, workflowID string) (string, error) {
	return f.yaml, nil
}

func (f *fakeEngine) DeleteWorkflow(ctx context.Context, workflowID string) error {
	f.deleted = append(f.deleted, workflowID)
	return f.deleteErr
}

func (f *fakeEngine) EnsureBoundPVCs(ctx context.Context, names []string) error {
	f.ensured = append(f.ensured, names)
	return f.pvcErr
}

func (f *fakeEngine) ListWorkflowPods(ctx context.Context, workflowID string) ([]corev1.Pod, error) {
	return nil, nil
}

func (f *fakeEngine) PodLogs(ctx context.Context, podName, container string, tail int64) (string, error) {
	return "", nil
}

func newTestTaskService(t *testing.T) (*TaskService, *fakeEngine, *store.Store) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	engine := &fakeEngine{statusErr: fmt.Errorf("no status configured")}
	synth := &workflow.Synthesizer{Namespace: "argo", NixBaseImage: "ghcr.io/flowforge/nix-portable-runner:latest"}
	pipeline := logs.NewPipeline(st, engine, logger)
	return NewTaskService(st, engine, synth, pipeline, logger), engine, st
}

func TestTaskSubmit_PersistsWithoutStartingRun(t *testing.T) {
	svc, engine, st := newTestTaskService(t)

	resp, err := svc.Submit(context.Background(), &models.TaskSubmitRequest{
		PythonCode:   "print('hello')",
		Dependencies: "numpy",
	})
	require.NoError(t, err)
	assert.True(t, models.ValidTaskID(resp.TaskID), "got %q", resp.TaskID)

	// Submission saves the definition only. The run operation is the
	// single path into the engine.
	_, err = st.LatestRun(resp.TaskID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.Empty(t, engine.submitted)
	assert.Empty(t, engine.ensured)
}

func TestTaskRun_FirstRun(t *testing.T) {
	svc, engine, _ := newTestTaskService(t)

	resp, err := svc.Submit(context.Background(), &models.TaskSubmitRequest{PythonCode: "print('hello')"})
	require.NoError(t, err)

	run, err := svc.Run(context.Background(), resp.TaskID, &models.TaskRunRequest{})
	require.NoError(t, err)
	assert.Equal(t, resp.TaskID, run.TaskID)
	assert.Equal(t, 1, run.RunNumber)
	assert.Equal(t, "wf-test-1", run.WorkflowID)
	assert.Equal(t, string(workflow.PhasePending), run.Phase)

	// Caching defaults on, so all three claims are checked.
	require.Len(t, engine.ensured, 1)
	assert.Equal(t, workflow.RequiredPVCs(true), engine.ensured[0])
	require.Len(t, engine.submitted, 1)
}

func TestTaskRun_CacheDisabledChecksResultsOnly(t *testing.T) {
	svc, engine, _ := newTestTaskService(t)

	resp, err := svc.Submit(context.Background(), &models.TaskSubmitRequest{PythonCode: "pass"})
	require.NoError(t, err)

	off := false
	_, err = svc.Run(context.Background(), resp.TaskID, &models.TaskRunRequest{UseCache: &off})
	require.NoError(t, err)
	require.Len(t, engine.ensured, 1)
	assert.Equal(t, []string{workflow.PVCTaskResults}, engine.ensured[0])
}

func TestTaskSubmit_UnknownTaskID(t *testing.T) {
	svc, _, _ := newTestTaskService(t)

	_, err := svc.Submit(context.Background(), &models.TaskSubmitRequest{
		PythonCode: "pass",
		TaskID:     "task-0123456789ab",
	})
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestTaskSubmit_ResubmitReplacesCode(t *testing.T) {
	svc, engine, st := newTestTaskService(t)

	first, err := svc.Submit(context.Background(), &models.TaskSubmitRequest{PythonCode: "print('v1')"})
	require.NoError(t, err)

	second, err := svc.Submit(context.Background(), &models.TaskSubmitRequest{
		PythonCode: "print('v2')",
		TaskID:     first.TaskID,
	})
	require.NoError(t, err)
	assert.Equal(t, first.TaskID, second.TaskID)

	task, err := st.GetTask(first.TaskID)
	require.NoError(t, err)
	assert.Equal(t, "print('v2')", task.PythonCode)

	// Resubmission rewrites the definition in place, nothing runs.
	_, err = st.LatestRun(first.TaskID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.Empty(t, engine.submitted)
}

func TestTaskRun_ConflictWhileActive(t *testing.T) {
	svc, _, _ := newTestTaskService(t)

	resp, err := svc.Submit(context.Background(), &models.TaskSubmitRequest{PythonCode: "pass"})
	require.NoError(t, err)

	_, err = svc.Run(context.Background(), resp.TaskID, &models.TaskRunRequest{})
	require.NoError(t, err)

	_, err = svc.Run(context.Background(), resp.TaskID, &models.TaskRunRequest{})
	assert.ErrorIs(t, err, ErrRunConflict)
}

func TestTaskRun_SystemDepsOverrideSelectsNixImage(t *testing.T) {
	svc, engine, _ := newTestTaskService(t)

	resp, err := svc.Submit(context.Background(), &models.TaskSubmitRequest{PythonCode: "pass"})
	require.NoError(t, err)

	_, err = svc.Run(context.Background(), resp.TaskID, &models.TaskRunRequest{SystemDependencies: "ffmpeg"})
	require.NoError(t, err)

	require.Len(t, engine.submitted, 1)
	tmpl := engine.submitted[0].Spec.Templates[0]
	require.NotNil(t, tmpl.Script)
	assert.Equal(t, "ghcr.io/flowforge/nix-portable-runner:latest", tmpl.Script.Image)
}

func TestTaskCancel(t *testing.T) {
	svc, engine, st := newTestTaskService(t)

	resp, err := svc.Submit(context.Background(), &models.TaskSubmitRequest{PythonCode: "pass"})
	require.NoError(t, err)
	started, err := svc.Run(context.Background(), resp.TaskID, &models.TaskRunRequest{})
	require.NoError(t, err)

	cancelled, err := svc.Cancel(context.Background(), resp.TaskID)
	require.NoError(t, err)
	assert.Equal(t, []string{started.WorkflowID}, engine.deleted)
	assert.Equal(t, string(workflow.PhaseCancelled), cancelled.Phase)

	run, err := st.LatestRun(resp.TaskID)
	require.NoError(t, err)
	assert.Equal(t, string(workflow.PhaseCancelled), run.Phase)
}

func TestTaskDelete_PurgesWorkflowsAndRows(t *testing.T) {
	svc, engine, _ := newTestTaskService(t)

	resp, err := svc.Submit(context.Background(), &models.TaskSubmitRequest{PythonCode: "pass"})
	require.NoError(t, err)
	started, err := svc.Run(context.Background(), resp.TaskID, &models.TaskRunRequest{})
	require.NoError(t, err)

	deleted, err := svc.DeleteTask(context.Background(), resp.TaskID)
	require.NoError(t, err)
	assert.Equal(t, []string{started.WorkflowID}, engine.deleted)
	assert.EqualValues(t, 1, deleted.RunsDeleted)

	_, err = svc.GetTask(context.Background(), resp.TaskID)
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestTaskGet_IncludesLatestRun(t *testing.T) {
	svc, _, _ := newTestTaskService(t)

	resp, err := svc.Submit(context.Background(), &models.TaskSubmitRequest{PythonCode: "pass"})
	require.NoError(t, err)

	task, err := svc.GetTask(context.Background(), resp.TaskID)
	require.NoError(t, err)
	assert.Nil(t, task.LatestRun)

	started, err := svc.Run(context.Background(), resp.TaskID, &models.TaskRunRequest{})
	require.NoError(t, err)

	task, err = svc.GetTask(context.Background(), resp.TaskID)
	require.NoError(t, err)
	require.NotNil(t, task.LatestRun)
	assert.Equal(t, 1, task.LatestRun.RunNumber)
	assert.Equal(t, started.WorkflowID, task.LatestRun.WorkflowID)
}
