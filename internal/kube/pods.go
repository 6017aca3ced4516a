// Copyright 2026 The FlowForge Authors
// SPDX-License-Identifier: Apache-2.0

package kube

import (
	"context"
	"fmt"
	"io"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// ListWorkflowPods returns the pods owned by a workflow, identified by the
// engine's ownership label.
func (c *Client) ListWorkflowPods(ctx context.Context, workflowID string) ([]corev1.Pod, error) {
	pods, err := c.clientset.CoreV1().Pods(c.namespace).List(ctx, metav1.ListOptions{
		LabelSelector: fmt.Sprintf("%s=%s", WorkflowLabelKey, workflowID),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list pods for workflow %s: %w", workflowID, err)
	}
	return pods.Items, nil
}

// GetPod fetches a single pod; not-found maps onto a nil pod.
func (c *Client) GetPod(ctx context.Context, name string) (*corev1.Pod, error) {
	pod, err := c.clientset.CoreV1().Pods(c.namespace).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		if apierrors.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get pod %s: %w", name, err)
	}
	return pod, nil
}

// CreatePod creates a pod in the workflow namespace.
func (c *Client) CreatePod(ctx context.Context, pod *corev1.Pod) error {
	if _, err := c.clientset.CoreV1().Pods(c.namespace).Create(ctx, pod, metav1.CreateOptions{}); err != nil {
		return fmt.Errorf("failed to create pod %s: %w", pod.Name, err)
	}
	return nil
}

// DeletePod deletes a pod; not-found is success.
func (c *Client) DeletePod(ctx context.Context, name string) error {
	err := c.clientset.CoreV1().Pods(c.namespace).Delete(ctx, name, metav1.DeleteOptions{})
	if err != nil && !apierrors.IsNotFound(err) {
		return fmt.Errorf("failed to delete pod %s: %w", name, err)
	}
	return nil
}

// PodLogs reads the tail of a container's log.
func (c *Client) PodLogs(ctx context.Context, podName, container string, tailLines int64) (string, error) {
	req := c.clientset.CoreV1().Pods(c.namespace).GetLogs(podName, &corev1.PodLogOptions{
		Container: container,
		TailLines: &tailLines,
	})
	stream, err := req.Stream(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to stream logs for pod %s: %w", podName, err)
	}
	defer stream.Close()

	raw, err := io.ReadAll(stream)
	if err != nil {
		return "", fmt.Errorf("failed to read logs for pod %s: %w", podName, err)
	}
	return string(raw), nil
}
