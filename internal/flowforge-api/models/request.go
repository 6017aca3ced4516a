// Copyright 2026 The FlowForge Authors
// SPDX-License-Identifier: Apache-2.0

package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Limits on user-supplied dependency inputs.
const (
	MaxDependenciesLen = 10000
	MaxRequirementsLen = 50000
)

// dependencyDenylist rejects shell metacharacters in dependency strings,
// which are interpolated into the bootstrap script.
var dependencyDenylist = []string{";", "&&", "||", "`", "$("}

var (
	taskIDPattern = regexp.MustCompile(`^task-[0-9a-f]{12}$`)
	flowIDPattern = regexp.MustCompile(`^flow-[0-9a-f]{12}$`)
)

// ValidTaskID reports whether id has the canonical task id shape.
func ValidTaskID(id string) bool { return taskIDPattern.MatchString(id) }

// ValidFlowID reports whether id has the canonical flow id shape.
func ValidFlowID(id string) bool { return flowIDPattern.MatchString(id) }

// TaskSubmitRequest saves a task definition, or replaces an existing
// task's code when TaskID is set. Runs are started separately.
type TaskSubmitRequest struct {
	PythonCode         string `json:"pythonCode"`
	Dependencies       string `json:"dependencies,omitempty"`
	RequirementsFile   string `json:"requirementsFile,omitempty"`
	SystemDependencies string `json:"systemDependencies,omitempty"`
	TaskID             string `json:"taskId,omitempty"`
}

// Sanitize sanitizes the TaskSubmitRequest by trimming whitespace
func (req *TaskSubmitRequest) Sanitize() {
	req.PythonCode = strings.TrimSpace(req.PythonCode)
	req.Dependencies = strings.TrimSpace(req.Dependencies)
	req.SystemDependencies = strings.TrimSpace(req.SystemDependencies)
	req.TaskID = strings.TrimSpace(req.TaskID)
}

// Validate validates the TaskSubmitRequest
func (req *TaskSubmitRequest) Validate() error {
	if req.PythonCode == "" {
		return errors.New("pythonCode is required")
	}
	if req.TaskID != "" && !ValidTaskID(req.TaskID) {
		return fmt.Errorf("taskId must match task-<12 hex chars>, got '%s'", req.TaskID)
	}
	if err := validateDependencySpec("dependencies", req.Dependencies); err != nil {
		return err
	}
	if err := validateDependencySpec("systemDependencies", req.SystemDependencies); err != nil {
		return err
	}
	if len(req.RequirementsFile) > MaxRequirementsLen {
		return fmt.Errorf("requirementsFile exceeds %d characters", MaxRequirementsLen)
	}
	return nil
}

// TaskRunRequest starts a new run of a saved task.
type TaskRunRequest struct {
	SystemDependencies string `json:"systemDependencies,omitempty"`
	UseCache           *bool  `json:"useCache,omitempty"`
}

// Sanitize sanitizes the TaskRunRequest by trimming whitespace
func (req *TaskRunRequest) Sanitize() {
	req.SystemDependencies = strings.TrimSpace(req.SystemDependencies)
}

// Validate validates the TaskRunRequest
func (req *TaskRunRequest) Validate() error {
	return validateDependencySpec("systemDependencies", req.SystemDependencies)
}

// CacheEnabled resolves the UseCache flag, defaulting to true.
func (req *TaskRunRequest) CacheEnabled() bool {
	return req.UseCache == nil || *req.UseCache
}

// FlowStepRequest is one step of a flow definition in API requests.
// Position is the front-end's layout coordinate, carried opaquely.
type FlowStepRequest struct {
	ID               string          `json:"id"`
	Name             string          `json:"name"`
	PythonCode       string          `json:"pythonCode"`
	Dependencies     string          `json:"dependencies,omitempty"`
	RequirementsFile string          `json:"requirementsFile,omitempty"`
	Position         json.RawMessage `json:"position,omitempty"`
}

// FlowEdgeRequest is a directed dependency between two steps in API
// requests.
type FlowEdgeRequest struct {
	ID           string `json:"id,omitempty"`
	Source       string `json:"source"`
	Target       string `json:"target"`
	SourceHandle string `json:"sourceHandle,omitempty"`
	TargetHandle string `json:"targetHandle,omitempty"`
}

// FlowCreateRequest creates a flow definition.
type FlowCreateRequest struct {
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	Steps       []FlowStepRequest `json:"steps"`
	Edges       []FlowEdgeRequest `json:"edges"`
}

// Sanitize sanitizes the FlowCreateRequest by trimming whitespace
func (req *FlowCreateRequest) Sanitize() {
	req.Name = strings.TrimSpace(req.Name)
	req.Description = strings.TrimSpace(req.Description)
	sanitizeSteps(req.Steps)
	sanitizeEdges(req.Edges)
}

// Validate validates the FlowCreateRequest
func (req *FlowCreateRequest) Validate() error {
	if req.Name == "" {
		return errors.New("name is required")
	}
	return validateDefinition(req.Steps, req.Edges)
}

// FlowUpdateRequest updates a flow definition. Nil fields are left
// unchanged.
type FlowUpdateRequest struct {
	Name        *string           `json:"name,omitempty"`
	Description *string           `json:"description,omitempty"`
	Steps       []FlowStepRequest `json:"steps,omitempty"`
	Edges       []FlowEdgeRequest `json:"edges,omitempty"`
}

// Sanitize sanitizes the FlowUpdateRequest by trimming whitespace
func (req *FlowUpdateRequest) Sanitize() {
	if req.Name != nil {
		trimmed := strings.TrimSpace(*req.Name)
		req.Name = &trimmed
	}
	if req.Description != nil {
		trimmed := strings.TrimSpace(*req.Description)
		req.Description = &trimmed
	}
	sanitizeSteps(req.Steps)
	sanitizeEdges(req.Edges)
}

// Validate validates the FlowUpdateRequest
func (req *FlowUpdateRequest) Validate() error {
	if req.Name != nil && *req.Name == "" {
		return errors.New("name must not be empty")
	}
	if req.Steps != nil {
		return validateDefinition(req.Steps, req.Edges)
	}
	return nil
}

// FlowPreviewRequest synthesizes a flow manifest without persisting or
// submitting anything.
type FlowPreviewRequest struct {
	Name  string            `json:"name,omitempty"`
	Steps []FlowStepRequest `json:"steps"`
	Edges []FlowEdgeRequest `json:"edges"`
}

// Sanitize sanitizes the FlowPreviewRequest by trimming whitespace
func (req *FlowPreviewRequest) Sanitize() {
	req.Name = strings.TrimSpace(req.Name)
	sanitizeSteps(req.Steps)
	sanitizeEdges(req.Edges)
}

// Validate validates the FlowPreviewRequest
func (req *FlowPreviewRequest) Validate() error {
	return validateDefinition(req.Steps, req.Edges)
}

// CopyFileRequest copies a file within the results volume.
type CopyFileRequest struct {
	SourcePath      string `json:"sourcePath"`
	DestinationPath string `json:"destinationPath"`
}

// Sanitize sanitizes the CopyFileRequest by trimming whitespace
func (req *CopyFileRequest) Sanitize() {
	req.SourcePath = strings.TrimSpace(req.SourcePath)
	req.DestinationPath = strings.TrimSpace(req.DestinationPath)
}

// Validate validates the CopyFileRequest
func (req *CopyFileRequest) Validate() error {
	if req.SourcePath == "" {
		return errors.New("sourcePath is required")
	}
	if req.DestinationPath == "" {
		return errors.New("destinationPath is required")
	}
	return nil
}

func sanitizeSteps(steps []FlowStepRequest) {
	for i := range steps {
		steps[i].ID = strings.TrimSpace(steps[i].ID)
		steps[i].Name = strings.TrimSpace(steps[i].Name)
		steps[i].PythonCode = strings.TrimSpace(steps[i].PythonCode)
		steps[i].Dependencies = strings.TrimSpace(steps[i].Dependencies)
	}
}

func sanitizeEdges(edges []FlowEdgeRequest) {
	for i := range edges {
		edges[i].Source = strings.TrimSpace(edges[i].Source)
		edges[i].Target = strings.TrimSpace(edges[i].Target)
	}
}

func validateDefinition(steps []FlowStepRequest, edges []FlowEdgeRequest) error {
	if len(steps) == 0 {
		return errors.New("at least one step is required")
	}
	for i, step := range steps {
		if step.ID == "" {
			return fmt.Errorf("steps[%d].id is required", i)
		}
		if step.PythonCode == "" {
			return fmt.Errorf("step '%s': pythonCode is required", step.ID)
		}
		if err := validateDependencySpec(fmt.Sprintf("step '%s' dependencies", step.ID), step.Dependencies); err != nil {
			return err
		}
		if len(step.RequirementsFile) > MaxRequirementsLen {
			return fmt.Errorf("step '%s': requirementsFile exceeds %d characters", step.ID, MaxRequirementsLen)
		}
	}
	for i, edge := range edges {
		if edge.Source == "" || edge.Target == "" {
			return fmt.Errorf("edges[%d]: source and target are required", i)
		}
	}
	return nil
}

// validateDependencySpec rejects oversized or shell-unsafe dependency
// strings.
func validateDependencySpec(field, value string) error {
	if len(value) > MaxDependenciesLen {
		return fmt.Errorf("%s exceeds %d characters", field, MaxDependenciesLen)
	}
	for _, token := range dependencyDenylist {
		if strings.Contains(value, token) {
			return fmt.Errorf("%s contains forbidden sequence '%s'", field, token)
		}
	}
	return nil
}
