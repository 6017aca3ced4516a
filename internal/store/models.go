// Copyright 2026 The FlowForge Authors
// SPDX-License-Identifier: Apache-2.0

// Package store persists tasks, flows, runs and log records, tolerating
// two schema generations of the runs and logs tables at runtime.
package store

import "time"

// Task is a persisted, user-authored Python unit.
type Task struct {
	ID                 string    `gorm:"column:id;primaryKey" json:"id"`
	PythonCode         string    `gorm:"column:python_code;type:text;not null" json:"pythonCode"`
	Dependencies       string    `gorm:"column:dependencies;type:text" json:"dependencies,omitempty"`
	RequirementsFile   string    `gorm:"column:requirements_file;type:text" json:"requirementsFile,omitempty"`
	SystemDependencies string    `gorm:"column:system_dependencies;type:text" json:"systemDependencies,omitempty"`
	CreatedAt          time.Time `gorm:"column:created_at" json:"createdAt"`
	UpdatedAt          time.Time `gorm:"column:updated_at" json:"updatedAt"`
}

func (Task) TableName() string { return "tasks" }

// TaskRun is one execution attempt of a task. The code snapshot columns
// belong to the current schema generation; under a legacy store they are
// absent and reads fall back to the owning task's current values.
type TaskRun struct {
	ID         uint   `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	TaskID     string `gorm:"column:task_id;index;not null;uniqueIndex:idx_task_runs_task_number,priority:1" json:"taskId"`
	WorkflowID string `gorm:"column:workflow_id;uniqueIndex" json:"workflowId"`
	RunNumber  int    `gorm:"column:run_number;not null;uniqueIndex:idx_task_runs_task_number,priority:2" json:"runNumber"`
	Phase      string `gorm:"column:phase;not null" json:"phase"`

	PythonCode         string `gorm:"column:python_code;type:text" json:"pythonCode,omitempty"`
	Dependencies       string `gorm:"column:dependencies;type:text" json:"dependencies,omitempty"`
	RequirementsFile   string `gorm:"column:requirements_file;type:text" json:"requirementsFile,omitempty"`
	SystemDependencies string `gorm:"column:system_dependencies;type:text" json:"systemDependencies,omitempty"`

	StartedAt  *time.Time `gorm:"column:started_at" json:"startedAt,omitempty"`
	FinishedAt *time.Time `gorm:"column:finished_at" json:"finishedAt,omitempty"`
	CreatedAt  time.Time  `gorm:"column:created_at" json:"createdAt"`
}

func (TaskRun) TableName() string { return "task_runs" }

// TaskLog is a pod-level log snapshot. RunID is the current-generation
// key; TaskID is kept for legacy rows, where a specific run's logs are
// recovered by workflow-id substring matching on the pod name.
type TaskLog struct {
	ID      uint   `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	TaskID  string `gorm:"column:task_id;index;not null" json:"taskId"`
	RunID   *uint  `gorm:"column:run_id;uniqueIndex:idx_task_logs_key,priority:1" json:"runId,omitempty"`
	NodeID  string `gorm:"column:node_id;not null;uniqueIndex:idx_task_logs_key,priority:2" json:"nodeId"`
	PodName string `gorm:"column:pod_name;not null;uniqueIndex:idx_task_logs_key,priority:3" json:"podName"`
	Phase   string `gorm:"column:phase;not null" json:"phase"`
	Logs    string `gorm:"column:logs;type:text;not null" json:"logs"`

	CreatedAt time.Time `gorm:"column:created_at" json:"createdAt"`
	UpdatedAt time.Time `gorm:"column:updated_at" json:"updatedAt"`
}

func (TaskLog) TableName() string { return "task_logs" }

// Flow is a persisted DAG of steps. Definition holds the JSON document
// with steps and edges; it is parsed on demand, never eagerly joined.
type Flow struct {
	ID          string    `gorm:"column:id;primaryKey" json:"id"`
	Name        string    `gorm:"column:name;not null" json:"name"`
	Description string    `gorm:"column:description;type:text" json:"description,omitempty"`
	Definition  string    `gorm:"column:definition;type:text;not null" json:"-"`
	Status      string    `gorm:"column:status;not null;default:draft" json:"status"`
	CreatedAt   time.Time `gorm:"column:created_at" json:"createdAt"`
	UpdatedAt   time.Time `gorm:"column:updated_at" json:"updatedAt"`
}

func (Flow) TableName() string { return "flows" }

// FlowRun is one execution of a flow.
type FlowRun struct {
	ID         uint       `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	FlowID     string     `gorm:"column:flow_id;index;not null" json:"flowId"`
	WorkflowID string     `gorm:"column:workflow_id;uniqueIndex" json:"workflowId"`
	Phase      string     `gorm:"column:phase;not null" json:"phase"`
	StartedAt  *time.Time `gorm:"column:started_at" json:"startedAt,omitempty"`
	FinishedAt *time.Time `gorm:"column:finished_at" json:"finishedAt,omitempty"`
	CreatedAt  time.Time  `gorm:"column:created_at" json:"createdAt"`
}

func (FlowRun) TableName() string { return "flow_runs" }

// FlowStepRun is per-step execution state within a flow run.
// WorkflowNodeID starts as the step id and is corrected to the engine's
// node identifier on first reconciliation.
type FlowStepRun struct {
	ID             uint       `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	FlowRunID      uint       `gorm:"column:flow_run_id;index;not null" json:"flowRunId"`
	StepID         string     `gorm:"column:step_id;not null" json:"stepId"`
	StepName       string     `gorm:"column:step_name" json:"stepName,omitempty"`
	WorkflowNodeID string     `gorm:"column:workflow_node_id" json:"workflowNodeId,omitempty"`
	Phase          string     `gorm:"column:phase;not null" json:"phase"`
	StartedAt      *time.Time `gorm:"column:started_at" json:"startedAt,omitempty"`
	FinishedAt     *time.Time `gorm:"column:finished_at" json:"finishedAt,omitempty"`
	CreatedAt      time.Time  `gorm:"column:created_at" json:"createdAt"`
}

func (FlowStepRun) TableName() string { return "flow_step_runs" }

// FlowStepLog is the per-step analogue of TaskLog.
type FlowStepLog struct {
	ID        uint   `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	StepRunID uint   `gorm:"column:step_run_id;not null;uniqueIndex:idx_flow_step_logs_key,priority:1" json:"stepRunId"`
	NodeID    string `gorm:"column:node_id;not null;uniqueIndex:idx_flow_step_logs_key,priority:2" json:"nodeId"`
	PodName   string `gorm:"column:pod_name;not null;uniqueIndex:idx_flow_step_logs_key,priority:3" json:"podName"`
	Phase     string `gorm:"column:phase;not null" json:"phase"`
	Logs      string `gorm:"column:logs;type:text;not null" json:"logs"`

	CreatedAt time.Time `gorm:"column:created_at" json:"createdAt"`
	UpdatedAt time.Time `gorm:"column:updated_at" json:"updatedAt"`
}

func (FlowStepLog) TableName() string { return "flow_step_logs" }
