// Copyright 2026 The FlowForge Authors
// SPDX-License-Identifier: Apache-2.0

package logs

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	corev1 "k8s.io/api/core/v1"

	"github.com/flowforge/flowforge/internal/workflow"
)

// fetchFromEngine reads fresh pod logs for every pod-type node of the
// workflow status. Pending pods and pods still initializing are skipped
// silently; any other per-pod failure becomes a record with the error text
// as its body. When nothing emerges and the status carries a message, a
// single synthetic "workflow" record carries it.
func (p *Pipeline) fetchFromEngine(ctx context.Context, workflowID string, status *workflow.Status) ([]Record, error) {
	if status == nil {
		return nil, fmt.Errorf("workflow %s has no status", workflowID)
	}

	workflowPhase := workflow.Phase(status.Phase)

	var pods []corev1.Pod
	var podsErr error
	podsListed := false
	listPods := func() []corev1.Pod {
		if !podsListed {
			pods, podsErr = p.engine.ListWorkflowPods(ctx, workflowID)
			podsListed = true
			if podsErr != nil {
				p.logger.Warn("failed to list workflow pods",
					slog.String("workflow_id", workflowID),
					slog.Any("error", podsErr))
			}
		}
		return pods
	}

	records := make([]Record, 0, len(status.Nodes))
	for nodeID, node := range status.Nodes {
		if node.Type != workflow.NodeTypePod {
			continue
		}

		// Log entries show the workflow's final phase once it completed;
		// per-node phases lag on fast completions.
		phase := node.Phase
		if workflowPhase.IsTerminal() {
			phase = string(workflowPhase)
		}
		if phase == "" {
			phase = string(workflow.PhasePending)
		}

		podName := node.DisplayName
		if podName == "" {
			podName = node.ID
		}
		if podName == "" {
			podName = nodeID
		}

		// Prefer the actual pod resolved via the workflow ownership
		// label; the node's display name is not always the pod name.
		var actual *corev1.Pod
		for i := range listPods() {
			if matchesNode(&pods[i], nodeID, podName) {
				actual = &pods[i]
				break
			}
		}
		if actual == nil && len(pods) == 1 {
			actual = &pods[0]
		}
		if actual != nil {
			podName = actual.Name
			if actual.Status.Phase == corev1.PodPending {
				continue
			}
		}

		body, err := p.engine.PodLogs(ctx, podName, "main", tailLines)
		if err != nil {
			if isTransientPodError(err) {
				continue
			}
			records = append(records, Record{
				NodeID:  nodeID,
				PodName: podName,
				Phase:   phase,
				Logs:    fmt.Sprintf("Error fetching logs: %v", err),
			})
			continue
		}

		records = append(records, Record{
			NodeID:  nodeID,
			PodName: podName,
			Phase:   phase,
			Logs:    body,
		})
	}

	if len(records) == 0 && status.Message != "" {
		phase := status.Phase
		if phase == "" {
			phase = "Unknown"
		}
		records = append(records, Record{
			NodeID:  "workflow",
			PodName: "N/A",
			Phase:   phase,
			Logs:    "Workflow message: " + status.Message,
		})
	}

	return records, nil
}

// matchesNode correlates a pod with a workflow node by name or by the
// node-id label Argo stamps on its pods.
func matchesNode(pod *corev1.Pod, nodeID, podName string) bool {
	if pod.Name == podName || pod.Name == nodeID {
		return true
	}
	if id, ok := pod.Annotations["workflows.argoproj.io/node-id"]; ok && id == nodeID {
		return true
	}
	if name, ok := pod.Annotations["workflows.argoproj.io/node-name"]; ok && strings.HasSuffix(name, podName) {
		return true
	}
	return false
}

// isTransientPodError reports "still starting" log-fetch failures that
// are skipped rather than surfaced.
func isTransientPodError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "PodInitializing") || strings.Contains(msg, "waiting to start")
}
