// Copyright 2026 The FlowForge Authors
// SPDX-License-Identifier: Apache-2.0

// Package workflow synthesizes Argo Workflow manifests for single Python
// tasks and multi-step flows, and resolves workflow phases from engine
// status documents.
package workflow

import "encoding/json"

// Phase is the lifecycle phase of a workflow, a node or a run.
type Phase string

const (
	PhasePending   Phase = "Pending"
	PhaseRunning   Phase = "Running"
	PhaseSucceeded Phase = "Succeeded"
	PhaseFailed    Phase = "Failed"
	PhaseError     Phase = "Error"
	PhaseCancelled Phase = "Cancelled"
)

// IsTerminal reports whether the phase is final.
func (p Phase) IsTerminal() bool {
	switch p {
	case PhaseSucceeded, PhaseFailed, PhaseError:
		return true
	}
	return false
}

// NodeTypePod marks workflow nodes that are backed by a pod.
const NodeTypePod = "Pod"

// Status is the subset of a workflow's status document the control plane
// consumes.
type Status struct {
	Phase      string                `json:"phase,omitempty"`
	Message    string                `json:"message,omitempty"`
	StartedAt  string                `json:"startedAt,omitempty"`
	FinishedAt string                `json:"finishedAt,omitempty"`
	Nodes      map[string]NodeStatus `json:"nodes,omitempty"`
}

// NodeStatus is a single node entry of a workflow status.
type NodeStatus struct {
	ID           string `json:"id,omitempty"`
	Name         string `json:"name,omitempty"`
	DisplayName  string `json:"displayName,omitempty"`
	Type         string `json:"type,omitempty"`
	Phase        string `json:"phase,omitempty"`
	TemplateName string `json:"templateName,omitempty"`
	Message      string `json:"message,omitempty"`
	StartedAt    string `json:"startedAt,omitempty"`
	FinishedAt   string `json:"finishedAt,omitempty"`
}

// FlowDefinition is the user-authored DAG document stored with a flow.
// Layout coordinates are carried opaquely for the front-end.
type FlowDefinition struct {
	Steps []FlowStep `json:"steps"`
	Edges []FlowEdge `json:"edges"`
}

// FlowStep is a single node of a flow definition.
type FlowStep struct {
	ID               string          `json:"id"`
	Name             string          `json:"name,omitempty"`
	PythonCode       string          `json:"pythonCode"`
	Dependencies     string          `json:"dependencies,omitempty"`
	RequirementsFile string          `json:"requirementsFile,omitempty"`
	Position         json.RawMessage `json:"position,omitempty"`
}

// FlowEdge is a directed dependency between two steps.
type FlowEdge struct {
	Source string `json:"source"`
	Target string `json:"target"`
}

// Manifest is an Argo Workflow custom resource document.
type Manifest struct {
	APIVersion string       `json:"apiVersion"`
	Kind       string       `json:"kind"`
	Metadata   ObjectMeta   `json:"metadata"`
	Spec       ManifestSpec `json:"spec"`
}

// ObjectMeta carries the metadata fields the synthesizer sets.
type ObjectMeta struct {
	GenerateName string `json:"generateName,omitempty"`
	Name         string `json:"name,omitempty"`
	Namespace    string `json:"namespace,omitempty"`
}

// ManifestSpec is the workflow spec.
type ManifestSpec struct {
	Entrypoint string     `json:"entrypoint"`
	Templates  []Template `json:"templates"`
	Volumes    []Volume   `json:"volumes,omitempty"`
}

// Template is a workflow template; exactly one of Container, Script or DAG
// is set.
type Template struct {
	Name      string          `json:"name"`
	Container *Container      `json:"container,omitempty"`
	Script    *ScriptTemplate `json:"script,omitempty"`
	DAG       *DAGTemplate    `json:"dag,omitempty"`
}

// Container is a container-typed template body.
type Container struct {
	Image        string        `json:"image"`
	Command      []string      `json:"command,omitempty"`
	Args         []string      `json:"args,omitempty"`
	Env          []EnvVar      `json:"env,omitempty"`
	VolumeMounts []VolumeMount `json:"volumeMounts,omitempty"`
}

// ScriptTemplate is a script-typed template body; Source holds the bash
// bootstrap emitted by this package.
type ScriptTemplate struct {
	Image        string        `json:"image"`
	Command      []string      `json:"command,omitempty"`
	Source       string        `json:"source"`
	Env          []EnvVar      `json:"env,omitempty"`
	VolumeMounts []VolumeMount `json:"volumeMounts,omitempty"`
}

// DAGTemplate wires step templates into a DAG.
type DAGTemplate struct {
	Tasks []DAGTask `json:"tasks"`
}

// DAGTask references a template and its upstream dependencies.
type DAGTask struct {
	Name         string   `json:"name"`
	Template     string   `json:"template"`
	Dependencies []string `json:"dependencies,omitempty"`
}

// EnvVar is a name/value environment entry.
type EnvVar struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Volume references a persistent volume claim.
type Volume struct {
	Name                  string     `json:"name"`
	PersistentVolumeClaim *PVCSource `json:"persistentVolumeClaim,omitempty"`
}

// PVCSource names the backing claim of a volume.
type PVCSource struct {
	ClaimName string `json:"claimName"`
}

// VolumeMount mounts a named volume into a container.
type VolumeMount struct {
	Name      string `json:"name"`
	MountPath string `json:"mountPath"`
}
