// Copyright 2026 The FlowForge Authors
// SPDX-License-Identifier: Apache-2.0

// Package volume manages a long-lived helper pod that mounts the shared
// results volume and serves file operations against it via pod exec.
package volume

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/flowforge/flowforge/internal/kube"
	"github.com/flowforge/flowforge/internal/workflow"
)

// PodAPI is the slice of the cluster client the manager consumes.
type PodAPI interface {
	GetPod(ctx context.Context, name string) (*corev1.Pod, error)
	CreatePod(ctx context.Context, pod *corev1.Pod) error
	DeletePod(ctx context.Context, name string) error
	Exec(ctx context.Context, podName, container string, command []string) (*kube.ExecResult, error)
}

const (
	accessorContainer = "pv-accessor"
	accessorImage     = "python:3.11-slim"

	// readyTimeout bounds the post-create readiness poll.
	readyTimeout = 60 * time.Second
	readyPoll    = time.Second
)

// Manager owns the helper pod. The pod name is fixed at construction and
// reused across recreations, so at most one helper pod exists per process.
type Manager struct {
	api    PodAPI
	logger *slog.Logger

	podName string

	mu    sync.Mutex
	ready bool
}

// NewManager builds a Manager with a fresh helper pod identity.
func NewManager(api PodAPI, logger *slog.Logger) *Manager {
	return &Manager{
		api:     api,
		logger:  logger,
		podName: "pv-persistent-" + strings.ReplaceAll(uuid.New().String(), "-", "")[:8],
	}
}

// PodName returns the helper pod's name.
func (m *Manager) PodName() string {
	return m.podName
}

// Start creates the helper pod and waits for it to become ready. Safe to
// call again after a failure.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createPodLocked(ctx)
}

// Stop deletes the helper pod.
func (m *Manager) Stop(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ready = false
	if err := m.api.DeletePod(ctx, m.podName); err != nil {
		m.logger.Warn("failed to delete helper pod",
			slog.String("pod", m.podName),
			slog.Any("error", err))
		return
	}
	m.logger.Info("helper pod deleted", slog.String("pod", m.podName))
}

func (m *Manager) createPodLocked(ctx context.Context) error {
	// An existing pod under the same name is adopted rather than replaced.
	if pod, err := m.api.GetPod(ctx, m.podName); err == nil && pod != nil {
		if pod.Status.Phase == corev1.PodRunning || pod.Status.Phase == corev1.PodPending {
			m.logger.Info("helper pod already exists", slog.String("pod", m.podName))
			m.ready = true
			return nil
		}
	}

	pod := &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name: m.podName,
		},
		Spec: corev1.PodSpec{
			RestartPolicy: corev1.RestartPolicyAlways,
			Containers: []corev1.Container{
				{
					Name:    accessorContainer,
					Image:   accessorImage,
					Command: []string{"sleep", "infinity"},
					VolumeMounts: []corev1.VolumeMount{
						{Name: "task-results", MountPath: workflow.ResultsMountPath},
					},
				},
			},
			Volumes: []corev1.Volume{
				{
					Name: "task-results",
					VolumeSource: corev1.VolumeSource{
						PersistentVolumeClaim: &corev1.PersistentVolumeClaimVolumeSource{
							ClaimName: workflow.PVCTaskResults,
						},
					},
				},
			},
		},
	}

	if err := m.api.CreatePod(ctx, pod); err != nil {
		m.ready = false
		return fmt.Errorf("failed to create helper pod: %w", err)
	}
	m.logger.Info("helper pod created", slog.String("pod", m.podName))

	if err := m.waitReady(ctx); err != nil {
		m.ready = false
		return err
	}
	m.ready = true
	return nil
}

func (m *Manager) waitReady(ctx context.Context) error {
	deadline := time.Now().Add(readyTimeout)
	for time.Now().Before(deadline) {
		pod, err := m.api.GetPod(ctx, m.podName)
		if err == nil && pod != nil && pod.Status.Phase == corev1.PodRunning {
			if len(pod.Status.ContainerStatuses) > 0 && pod.Status.ContainerStatuses[0].Ready {
				m.logger.Info("helper pod ready", slog.String("pod", m.podName))
				return nil
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(readyPoll):
		}
	}
	return fmt.Errorf("helper pod %s did not become ready within %s", m.podName, readyTimeout)
}

// ensureReady verifies the pod is still running and ready, recreating it
// when it is not.
func (m *Manager) ensureReady(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.ready {
		return m.createPodLocked(ctx)
	}

	pod, err := m.api.GetPod(ctx, m.podName)
	if err == nil && pod != nil && pod.Status.Phase == corev1.PodRunning &&
		len(pod.Status.ContainerStatuses) > 0 && pod.Status.ContainerStatuses[0].Ready {
		return nil
	}

	m.logger.Warn("helper pod not ready, recreating", slog.String("pod", m.podName))
	m.ready = false
	_ = m.api.DeletePod(ctx, m.podName)
	return m.createPodLocked(ctx)
}

// execShell runs a shell command in the helper pod, recreating the pod and
// retrying once when exec fails.
func (m *Manager) execShell(ctx context.Context, command string) (string, error) {
	if err := m.ensureReady(ctx); err != nil {
		return "", err
	}

	result, err := m.api.Exec(ctx, m.podName, accessorContainer, []string{"sh", "-c", command})
	if err == nil {
		return result.Stdout + result.Stderr, nil
	}

	m.logger.Warn("helper pod exec failed, recreating and retrying",
		slog.String("pod", m.podName),
		slog.Any("error", err))

	m.mu.Lock()
	m.ready = false
	_ = m.api.DeletePod(ctx, m.podName)
	createErr := m.createPodLocked(ctx)
	m.mu.Unlock()
	if createErr != nil {
		return "", createErr
	}

	result, err = m.api.Exec(ctx, m.podName, accessorContainer, []string{"sh", "-c", command})
	if err != nil {
		return "", err
	}
	return result.Stdout + result.Stderr, nil
}
