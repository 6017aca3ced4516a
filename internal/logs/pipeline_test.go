// Copyright 2026 The FlowForge Authors
// SPDX-License-Identifier: Apache-2.0

package logs

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/flowforge/flowforge/internal/store"
	"github.com/flowforge/flowforge/internal/workflow"
)

type fakeEngine struct {
	status    *workflow.Status
	statusErr error
	pods      []corev1.Pod
	podLogs   map[string]string
	podErrs   map[string]error
}

func (f *fakeEngine) GetWorkflowStatus(ctx context.Context, workflowID string) (*workflow.Status, error) {
	return f.status, f.statusErr
}

func (f *fakeEngine) ListWorkflowPods(ctx context.Context, workflowID string) ([]corev1.Pod, error) {
	return f.pods, nil
}

func (f *fakeEngine) PodLogs(ctx context.Context, podName, container string, tail int64) (string, error) {
	if err, ok := f.podErrs[podName]; ok {
		return "", err
	}
	return f.podLogs[podName], nil
}

func newTestPipeline(t *testing.T, engine *fakeEngine) (*Pipeline, *store.Store) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return NewPipeline(st, engine, logger), st
}

func seedRun(t *testing.T, st *store.Store, workflowID string) *store.TaskRun {
	t.Helper()
	task := &store.Task{ID: "task-000000000001", PythonCode: "print('x')"}
	require.NoError(t, st.SaveTask(task))
	run, err := st.CreateRun(task, workflowID)
	require.NoError(t, err)
	return run
}

func runningStatus(nodes map[string]workflow.NodeStatus) *workflow.Status {
	return &workflow.Status{Phase: "Running", Nodes: nodes}
}

func TestPull_UnknownTask(t *testing.T) {
	p, _ := newTestPipeline(t, &fakeEngine{})
	_, err := p.Pull(context.Background(), "task-missing", nil)
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
}

func TestPull_StoredLogsServeFromDatabase(t *testing.T) {
	engine := &fakeEngine{status: runningStatus(map[string]workflow.NodeStatus{
		"wf-1-main": {Type: workflow.NodeTypePod, Phase: "Running"},
	})}
	p, st := newTestPipeline(t, engine)
	run := seedRun(t, st, "wf-1")
	require.NoError(t, st.UpsertTaskLog(run, "wf-1-main", "wf-1-main", "Running", "stored body"))

	res, err := p.Pull(context.Background(), run.TaskID, nil)
	require.NoError(t, err)
	assert.Equal(t, SourceDatabase, res.Source)
	require.Len(t, res.Records, 1)
	assert.Equal(t, "stored body", res.Records[0].Logs)
	assert.Equal(t, string(workflow.PhaseRunning), res.Phase)
}

func TestPull_FetchesAndPersistsWhenNothingStored(t *testing.T) {
	engine := &fakeEngine{
		status: runningStatus(map[string]workflow.NodeStatus{
			"wf-1-main": {Type: workflow.NodeTypePod, Phase: "Running", DisplayName: "wf-1-main"},
		}),
		pods: []corev1.Pod{{
			ObjectMeta: metav1.ObjectMeta{Name: "wf-1-main"},
			Status:     corev1.PodStatus{Phase: corev1.PodRunning},
		}},
		podLogs: map[string]string{"wf-1-main": "fresh body"},
	}
	p, st := newTestPipeline(t, engine)
	run := seedRun(t, st, "wf-1")

	res, err := p.Pull(context.Background(), run.TaskID, nil)
	require.NoError(t, err)
	assert.Equal(t, SourceKubernetes, res.Source)
	require.Len(t, res.Records, 1)
	assert.Equal(t, "fresh body", res.Records[0].Logs)

	// The fetch is persisted, so the next pull is served from the store.
	res, err = p.Pull(context.Background(), run.TaskID, nil)
	require.NoError(t, err)
	assert.Equal(t, SourceDatabase, res.Source)
}

func TestPull_EngineFailureWithNoCacheDegrades(t *testing.T) {
	engine := &fakeEngine{statusErr: errors.New("workflow gone")}
	p, st := newTestPipeline(t, engine)
	run := seedRun(t, st, "wf-1")

	res, err := p.Pull(context.Background(), run.TaskID, nil)
	require.NoError(t, err)
	assert.Equal(t, SourceError, res.Source)
	assert.Contains(t, res.Error, "workflow gone")
	assert.Empty(t, res.Records)
	// The stored phase survives the outage.
	assert.Equal(t, string(workflow.PhasePending), res.Phase)
}

func TestPull_SyncsPhaseFromEngine(t *testing.T) {
	engine := &fakeEngine{status: &workflow.Status{
		Phase:      "Succeeded",
		FinishedAt: "2026-08-24T10:00:00Z",
	}}
	p, st := newTestPipeline(t, engine)
	run := seedRun(t, st, "wf-1")
	require.NoError(t, st.UpsertTaskLog(run, "n", "wf-1-main", "Running", "body"))

	res, err := p.Pull(context.Background(), run.TaskID, nil)
	require.NoError(t, err)
	assert.Equal(t, string(workflow.PhaseSucceeded), res.Phase)

	stored, err := st.LatestRun(run.TaskID)
	require.NoError(t, err)
	assert.Equal(t, string(workflow.PhaseSucceeded), stored.Phase)
	require.NotNil(t, stored.FinishedAt)
}

func TestPull_TerminalRunRewritesStaleLogPhases(t *testing.T) {
	engine := &fakeEngine{status: &workflow.Status{Phase: "Succeeded"}}
	p, st := newTestPipeline(t, engine)
	run := seedRun(t, st, "wf-1")
	require.NoError(t, st.UpsertTaskLog(run, "n", "wf-1-main", "Running", "body"))

	res, err := p.Pull(context.Background(), run.TaskID, nil)
	require.NoError(t, err)
	require.Len(t, res.Records, 1)
	assert.Equal(t, string(workflow.PhaseSucceeded), res.Records[0].Phase)

	stored, err := st.GetRunLogs(run)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, string(workflow.PhaseSucceeded), stored[0].Phase)
}

func TestPull_SpecificRunNumber(t *testing.T) {
	engine := &fakeEngine{statusErr: errors.New("gone")}
	p, st := newTestPipeline(t, engine)
	run1 := seedRun(t, st, "wf-1")
	require.NoError(t, st.UpdateRunPhase(run1, string(workflow.PhaseSucceeded), nil, nil))
	task, err := st.GetTask(run1.TaskID)
	require.NoError(t, err)
	_, err = st.CreateRun(task, "wf-2")
	require.NoError(t, err)
	require.NoError(t, st.UpsertTaskLog(run1, "n", "wf-1-main", "Succeeded", "first run body"))

	one := 1
	res, err := p.Pull(context.Background(), task.ID, &one)
	require.NoError(t, err)
	assert.Equal(t, 1, res.RunNumber)
	assert.Equal(t, "wf-1", res.WorkflowID)
	require.Len(t, res.Records, 1)
	assert.Equal(t, "first run body", res.Records[0].Logs)
}

func TestFetchFromEngine_SkipsPendingPods(t *testing.T) {
	engine := &fakeEngine{
		pods: []corev1.Pod{{
			ObjectMeta: metav1.ObjectMeta{Name: "wf-1-main"},
			Status:     corev1.PodStatus{Phase: corev1.PodPending},
		}},
	}
	p, _ := newTestPipeline(t, engine)

	status := runningStatus(map[string]workflow.NodeStatus{
		"wf-1-main": {Type: workflow.NodeTypePod, Phase: "Pending", DisplayName: "wf-1-main"},
	})
	records, err := p.fetchFromEngine(context.Background(), "wf-1", status)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestFetchFromEngine_SkipsInitializingPods(t *testing.T) {
	engine := &fakeEngine{
		pods: []corev1.Pod{{
			ObjectMeta: metav1.ObjectMeta{Name: "wf-1-main"},
			Status:     corev1.PodStatus{Phase: corev1.PodRunning},
		}},
		podErrs: map[string]error{"wf-1-main": errors.New(`container "main" in pod "wf-1-main" is waiting to start: PodInitializing`)},
	}
	p, _ := newTestPipeline(t, engine)

	status := runningStatus(map[string]workflow.NodeStatus{
		"wf-1-main": {Type: workflow.NodeTypePod, Phase: "Running", DisplayName: "wf-1-main"},
	})
	records, err := p.fetchFromEngine(context.Background(), "wf-1", status)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestFetchFromEngine_PodErrorBecomesRecord(t *testing.T) {
	engine := &fakeEngine{
		pods: []corev1.Pod{{
			ObjectMeta: metav1.ObjectMeta{Name: "wf-1-main"},
			Status:     corev1.PodStatus{Phase: corev1.PodFailed},
		}},
		podErrs: map[string]error{"wf-1-main": errors.New("pods \"wf-1-main\" not found")},
	}
	p, _ := newTestPipeline(t, engine)

	status := runningStatus(map[string]workflow.NodeStatus{
		"wf-1-main": {Type: workflow.NodeTypePod, Phase: "Failed", DisplayName: "wf-1-main"},
	})
	records, err := p.fetchFromEngine(context.Background(), "wf-1", status)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Contains(t, records[0].Logs, "Error fetching logs")
}

func TestFetchFromEngine_SyntheticWorkflowRecord(t *testing.T) {
	p, _ := newTestPipeline(t, &fakeEngine{})

	status := &workflow.Status{Phase: "Error", Message: "invalid spec: template missing"}
	records, err := p.fetchFromEngine(context.Background(), "wf-1", status)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "workflow", records[0].NodeID)
	assert.Equal(t, "N/A", records[0].PodName)
	assert.Contains(t, records[0].Logs, "invalid spec")
}

func TestFetchFromEngine_TerminalWorkflowOverridesNodePhase(t *testing.T) {
	engine := &fakeEngine{
		pods: []corev1.Pod{{
			ObjectMeta: metav1.ObjectMeta{Name: "wf-1-main"},
			Status:     corev1.PodStatus{Phase: corev1.PodSucceeded},
		}},
		podLogs: map[string]string{"wf-1-main": "done"},
	}
	p, _ := newTestPipeline(t, engine)

	status := &workflow.Status{Phase: "Succeeded", Nodes: map[string]workflow.NodeStatus{
		"wf-1-main": {Type: workflow.NodeTypePod, Phase: "Running", DisplayName: "wf-1-main"},
	}}
	records, err := p.fetchFromEngine(context.Background(), "wf-1", status)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "Succeeded", records[0].Phase)
}

func TestFetchFromEngine_ResolvesPodByNodeAnnotation(t *testing.T) {
	engine := &fakeEngine{
		pods: []corev1.Pod{{
			ObjectMeta: metav1.ObjectMeta{
				Name:        "wf-1-tmpl-3456",
				Annotations: map[string]string{"workflows.argoproj.io/node-id": "wf-1-1234"},
			},
			Status: corev1.PodStatus{Phase: corev1.PodRunning},
		}},
		podLogs: map[string]string{"wf-1-tmpl-3456": "annotated body"},
	}
	p, _ := newTestPipeline(t, engine)

	status := runningStatus(map[string]workflow.NodeStatus{
		"wf-1-1234": {Type: workflow.NodeTypePod, Phase: "Running", DisplayName: "step-a"},
	})
	records, err := p.fetchFromEngine(context.Background(), "wf-1", status)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "wf-1-tmpl-3456", records[0].PodName)
	assert.Equal(t, "annotated body", records[0].Logs)
}
