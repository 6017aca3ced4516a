// Copyright 2026 The FlowForge Authors
// SPDX-License-Identifier: Apache-2.0

package kube

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime/schema"
	sigsyaml "sigs.k8s.io/yaml"

	"github.com/flowforge/flowforge/internal/workflow"
)

// WorkflowGVR identifies the Argo Workflow custom resource.
var WorkflowGVR = schema.GroupVersionResource{
	Group:    "argoproj.io",
	Version:  "v1alpha1",
	Resource: "workflows",
}

// WorkflowLabelKey is the label Argo stamps on pods owned by a workflow.
const WorkflowLabelKey = "workflows.argoproj.io/workflow"

// ErrWorkflowNotFound is returned when the engine has no workflow with the
// requested name.
var ErrWorkflowNotFound = errors.New("workflow not found in engine")

// SubmitWorkflow creates the workflow custom resource and returns the
// engine-assigned name. A missing or placeholder name is a synthesis
// failure.
func (c *Client) SubmitWorkflow(ctx context.Context, manifest *workflow.Manifest) (string, error) {
	obj, err := manifest.ToUnstructured()
	if err != nil {
		return "", err
	}

	created, err := c.dynamic.Resource(WorkflowGVR).Namespace(c.namespace).Create(ctx, obj, metav1.CreateOptions{})
	if err != nil {
		return "", fmt.Errorf("failed to create workflow: %w", err)
	}

	name := created.GetName()
	if name == "" || name == "unknown" {
		return "", fmt.Errorf("workflow engine did not assign a valid name")
	}

	c.logger.Info("workflow submitted",
		slog.String("workflow_id", name),
		slog.String("namespace", c.namespace))
	return name, nil
}

// GetWorkflowStatus fetches a workflow and extracts its status document.
// A workflow without a status yet yields an empty status, not an error.
func (c *Client) GetWorkflowStatus(ctx context.Context, workflowID string) (*workflow.Status, error) {
	obj, err := c.dynamic.Resource(WorkflowGVR).Namespace(c.namespace).Get(ctx, workflowID, metav1.GetOptions{})
	if err != nil {
		if apierrors.IsNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrWorkflowNotFound, workflowID)
		}
		return nil, fmt.Errorf("failed to get workflow %s: %w", workflowID, err)
	}

	status := &workflow.Status{}
	rawStatus, found := obj.Object["status"]
	if !found {
		return status, nil
	}

	raw, err := json.Marshal(rawStatus)
	if err != nil {
		return nil, fmt.Errorf("failed to encode workflow status: %w", err)
	}
	if err := json.Unmarshal(raw, status); err != nil {
		return nil, fmt.Errorf("failed to decode workflow status: %w", err)
	}
	return status, nil
}

// GetWorkflowYAML returns the live workflow document rendered as YAML.
func (c *Client) GetWorkflowYAML(ctx context.Context, workflowID string) (string, error) {
	obj, err := c.dynamic.Resource(WorkflowGVR).Namespace(c.namespace).Get(ctx, workflowID, metav1.GetOptions{})
	if err != nil {
		if apierrors.IsNotFound(err) {
			return "", fmt.Errorf("%w: %s", ErrWorkflowNotFound, workflowID)
		}
		return "", fmt.Errorf("failed to get workflow %s: %w", workflowID, err)
	}

	out, err := sigsyaml.Marshal(obj.Object)
	if err != nil {
		return "", fmt.Errorf("failed to render workflow as yaml: %w", err)
	}
	return string(out), nil
}

// DeleteWorkflow deletes the workflow custom resource. Not-found is
// success: the workflow may have been garbage collected already.
func (c *Client) DeleteWorkflow(ctx context.Context, workflowID string) error {
	err := c.dynamic.Resource(WorkflowGVR).Namespace(c.namespace).Delete(ctx, workflowID, metav1.DeleteOptions{})
	if err != nil && !apierrors.IsNotFound(err) {
		return fmt.Errorf("failed to delete workflow %s: %w", workflowID, err)
	}
	return nil
}
