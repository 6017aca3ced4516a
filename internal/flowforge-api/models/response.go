// Copyright 2026 The FlowForge Authors
// SPDX-License-Identifier: Apache-2.0

package models

import (
	"time"

	"github.com/flowforge/flowforge/internal/workflow"
)

// APIResponse represents a standard API response wrapper
type APIResponse[T any] struct {
	Success bool   `json:"success"`
	Data    T      `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Code    string `json:"code,omitempty"`
}

// ListResponse represents a list response
type ListResponse[T any] struct {
	Items      []T `json:"items"`
	TotalCount int `json:"totalCount"`
}

// SuccessResponse creates a successful API response
func SuccessResponse[T any](data T) APIResponse[T] {
	return APIResponse[T]{Success: true, Data: data}
}

// ErrorResponse creates an error API response
func ErrorResponse(message, code string) APIResponse[any] {
	return APIResponse[any]{Success: false, Error: message, Code: code}
}

// ListSuccessResponse creates a successful list response
func ListSuccessResponse[T any](items []T, total int) APIResponse[ListResponse[T]] {
	return SuccessResponse(ListResponse[T]{Items: items, TotalCount: total})
}

// TaskSubmitResponse is the outcome of a task submission. Submitting
// only persists the definition; runs are started by the run operation.
type TaskSubmitResponse struct {
	TaskID string `json:"taskId"`
}

// TaskRunStartResponse is the outcome of starting a task run.
type TaskRunStartResponse struct {
	TaskID     string `json:"taskId"`
	RunNumber  int    `json:"runNumber"`
	WorkflowID string `json:"workflowId"`
	Phase      string `json:"phase"`
}

// TaskRunResponse represents one run of a task in API responses.
type TaskRunResponse struct {
	RunNumber  int        `json:"runNumber"`
	WorkflowID string     `json:"workflowId"`
	Phase      string     `json:"phase"`
	StartedAt  *time.Time `json:"startedAt,omitempty"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
}

// TaskResponse represents a task in API responses.
type TaskResponse struct {
	ID                 string           `json:"id"`
	PythonCode         string           `json:"pythonCode"`
	Dependencies       string           `json:"dependencies,omitempty"`
	RequirementsFile   string           `json:"requirementsFile,omitempty"`
	SystemDependencies string           `json:"systemDependencies,omitempty"`
	CreatedAt          time.Time        `json:"createdAt"`
	UpdatedAt          time.Time        `json:"updatedAt"`
	LatestRun          *TaskRunResponse `json:"latestRun,omitempty"`
}

// TaskDeleteResponse reports what a purge removed.
type TaskDeleteResponse struct {
	TaskID      string `json:"taskId"`
	RunsDeleted int64  `json:"runsDeleted"`
	LogsDeleted int64  `json:"logsDeleted"`
}

// FlowResponse represents a flow in API responses.
type FlowResponse struct {
	ID          string              `json:"id"`
	Name        string              `json:"name"`
	Description string              `json:"description,omitempty"`
	Status      string              `json:"status"`
	Steps       []workflow.FlowStep `json:"steps"`
	Edges       []workflow.FlowEdge `json:"edges"`
	CreatedAt   time.Time           `json:"createdAt"`
	UpdatedAt   time.Time           `json:"updatedAt"`
}

// FlowStepRunResponse is the per-step state of a flow run.
type FlowStepRunResponse struct {
	StepID         string     `json:"stepId"`
	StepName       string     `json:"stepName,omitempty"`
	WorkflowNodeID string     `json:"workflowNodeId,omitempty"`
	Phase          string     `json:"phase"`
	StartedAt      *time.Time `json:"startedAt,omitempty"`
	FinishedAt     *time.Time `json:"finishedAt,omitempty"`
}

// FlowRunResponse represents a flow run in API responses.
type FlowRunResponse struct {
	ID         uint                  `json:"id"`
	FlowID     string                `json:"flowId"`
	WorkflowID string                `json:"workflowId"`
	Phase      string                `json:"phase"`
	StartedAt  *time.Time            `json:"startedAt,omitempty"`
	FinishedAt *time.Time            `json:"finishedAt,omitempty"`
	CreatedAt  time.Time             `json:"createdAt"`
	Steps      []FlowStepRunResponse `json:"steps,omitempty"`
}

// FlowDeleteResponse reports what a flow purge removed.
type FlowDeleteResponse struct {
	FlowID      string `json:"flowId"`
	RunsDeleted int64  `json:"runsDeleted"`
	LogsDeleted int64  `json:"logsDeleted"`
}

// ManifestResponse carries a rendered workflow manifest as YAML.
type ManifestResponse struct {
	Manifest string `json:"manifest"`
}

// CopyFileResponse reports a completed volume copy.
type CopyFileResponse struct {
	Source      string `json:"source"`
	Destination string `json:"destination"`
}
