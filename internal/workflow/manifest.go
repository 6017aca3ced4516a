// Copyright 2026 The FlowForge Authors
// SPDX-License-Identifier: Apache-2.0

package workflow

import (
	"encoding/json"
	"fmt"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
)

// Load-bearing claim names. The result claim is required for every
// submission; the cache claims only when caching is enabled.
const (
	PVCTaskResults = "task-results-pvc"
	PVCUVCache     = "uv-cache-pvc"
	PVCNixStore    = "nix-store-pvc"
)

// Workflow name prefixes handed to the engine's generateName mechanism.
const (
	GenerateNameTask = "python-job-"
	GenerateNameFlow = "flow-"
)

// DefaultPythonImage runs tasks that declare no system dependencies.
const DefaultPythonImage = "python:3.11-slim"

// RequiredPVCs returns the claims that must exist and be bound before a
// task submission.
func RequiredPVCs(useCache bool) []string {
	pvcs := []string{PVCTaskResults}
	if useCache {
		pvcs = append(pvcs, PVCUVCache, PVCNixStore)
	}
	return pvcs
}

// TaskSpec is the input of single-task manifest synthesis.
type TaskSpec struct {
	PythonCode       string
	PythonDeps       string
	RequirementsFile string
	SystemDeps       string
	UseCache         bool
}

// Synthesizer builds workflow manifests for a fixed namespace and image
// configuration.
type Synthesizer struct {
	Namespace    string
	NixBaseImage string
}

// TaskManifest builds the workflow document for a single task. When any
// dependency spec is present the template is a script template running the
// bootstrap; otherwise a container template runs `python -c` directly.
func (s *Synthesizer) TaskManifest(spec TaskSpec) *Manifest {
	hasDeps := spec.PythonDeps != "" || spec.RequirementsFile != "" || spec.SystemDeps != ""

	volumes := []Volume{
		{Name: "task-results", PersistentVolumeClaim: &PVCSource{ClaimName: PVCTaskResults}},
	}
	mounts := []VolumeMount{
		{Name: "task-results", MountPath: ResultsMountPath},
	}
	if spec.UseCache {
		volumes = append(volumes,
			Volume{Name: "uv-cache", PersistentVolumeClaim: &PVCSource{ClaimName: PVCUVCache}},
			Volume{Name: "nix-store", PersistentVolumeClaim: &PVCSource{ClaimName: PVCNixStore}},
		)
		mounts = append(mounts,
			VolumeMount{Name: "uv-cache", MountPath: UVCacheDir},
			VolumeMount{Name: "nix-store", MountPath: NixStorePath},
		)
	}

	env := []EnvVar{
		{Name: "ARGO_WORKFLOW_NAME", Value: "{{workflow.name}}"},
		{Name: "PYTHON_CODE", Value: spec.PythonCode},
	}

	image := DefaultPythonImage
	if spec.SystemDeps != "" {
		image = s.NixBaseImage
		env = append(env, EnvVar{Name: "SYSTEM_DEPS", Value: spec.SystemDeps})
	}

	var template Template
	if hasDeps {
		switch {
		case spec.PythonDeps != "":
			env = append(env, EnvVar{Name: "PYTHON_DEPS", Value: spec.PythonDeps})
		case spec.RequirementsFile != "":
			env = append(env, EnvVar{Name: "DEPENDENCIES", Value: "requirements.txt"})
		}
		template = Template{
			Name: "main",
			Script: &ScriptTemplate{
				Image:   image,
				Command: []string{"bash"},
				Source: BuildScript(BootstrapSpec{
					PythonDeps:       spec.PythonDeps,
					RequirementsFile: spec.RequirementsFile,
					SystemDeps:       spec.SystemDeps,
					UseCache:         spec.UseCache,
				}),
				Env:          env,
				VolumeMounts: mounts,
			},
		}
	} else {
		template = Template{
			Name: "main",
			Container: &Container{
				Image:        image,
				Command:      []string{"python", "-c"},
				Args:         []string{spec.PythonCode},
				Env:          env,
				VolumeMounts: mounts,
			},
		}
	}

	return &Manifest{
		APIVersion: "argoproj.io/v1alpha1",
		Kind:       "Workflow",
		Metadata: ObjectMeta{
			GenerateName: GenerateNameTask,
			Namespace:    s.Namespace,
		},
		Spec: ManifestSpec{
			Entrypoint: "main",
			Templates:  []Template{template},
			Volumes:    volumes,
		},
	}
}

// FlowManifest builds the workflow document for a flow definition: one
// script template per step plus a DAG template wiring the edges. The
// definition is validated (declared endpoints, acyclic) before any
// template is built.
func (s *Synthesizer) FlowManifest(def *FlowDefinition) (*Manifest, error) {
	if err := ValidateDefinition(def); err != nil {
		return nil, err
	}

	mounts := []VolumeMount{
		{Name: "task-results", MountPath: ResultsMountPath},
	}

	templates := make([]Template, 0, len(def.Steps)+1)
	for _, step := range def.Steps {
		name := step.Name
		if name == "" {
			name = step.ID
		}

		env := []EnvVar{
			{Name: "ARGO_WORKFLOW_NAME", Value: "{{workflow.name}}"},
			{Name: "STEP_ID", Value: step.ID},
			{Name: "STEP_NAME", Value: name},
		}
		if step.RequirementsFile != "" {
			env = append(env, EnvVar{Name: "DEPENDENCIES", Value: "requirements.txt"})
		} else if step.Dependencies != "" {
			env = append(env, EnvVar{Name: "DEPENDENCIES", Value: step.Dependencies})
		}

		// Every step runs as a script template so the data-exchange
		// helpers are importable even without dependencies.
		templates = append(templates, Template{
			Name: step.ID,
			Script: &ScriptTemplate{
				Image:   DefaultPythonImage,
				Command: []string{"bash"},
				Source: BuildStepScript(step.ID, step.PythonCode, BootstrapSpec{
					PythonDeps:       step.Dependencies,
					RequirementsFile: step.RequirementsFile,
				}),
				Env:          env,
				VolumeMounts: mounts,
			},
		})
	}

	dag := &DAGTemplate{Tasks: make([]DAGTask, 0, len(def.Steps))}
	for _, step := range def.Steps {
		var deps []string
		for _, edge := range def.Edges {
			if edge.Target == step.ID {
				deps = append(deps, edge.Source)
			}
		}
		dag.Tasks = append(dag.Tasks, DAGTask{
			Name:         step.ID,
			Template:     step.ID,
			Dependencies: deps,
		})
	}
	templates = append(templates, Template{Name: "dag", DAG: dag})

	return &Manifest{
		APIVersion: "argoproj.io/v1alpha1",
		Kind:       "Workflow",
		Metadata: ObjectMeta{
			GenerateName: GenerateNameFlow,
			Namespace:    s.Namespace,
		},
		Spec: ManifestSpec{
			Entrypoint: "dag",
			Templates:  templates,
			Volumes: []Volume{
				{Name: "task-results", PersistentVolumeClaim: &PVCSource{ClaimName: PVCTaskResults}},
			},
		},
	}, nil
}

// ToUnstructured converts the manifest into the form accepted by the
// dynamic client.
func (m *Manifest) ToUnstructured() (*unstructured.Unstructured, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal workflow manifest: %w", err)
	}
	obj := map[string]any{}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, fmt.Errorf("failed to convert workflow manifest: %w", err)
	}
	return &unstructured.Unstructured{Object: obj}, nil
}
