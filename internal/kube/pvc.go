// Copyright 2026 The FlowForge Authors
// SPDX-License-Identifier: Apache-2.0

package kube

import (
	"context"
	"errors"
	"fmt"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// ErrPVCNotReady is returned when a required claim is missing or unbound.
// The wrapped message names the claim so it can surface to the user.
var ErrPVCNotReady = errors.New("persistent volume claim not ready")

// EnsureBoundPVCs verifies that each named claim exists and is bound.
func (c *Client) EnsureBoundPVCs(ctx context.Context, names []string) error {
	for _, name := range names {
		pvc, err := c.clientset.CoreV1().PersistentVolumeClaims(c.namespace).Get(ctx, name, metav1.GetOptions{})
		if err != nil {
			if apierrors.IsNotFound(err) {
				return fmt.Errorf("%w: %q not found, create it before submitting workflows", ErrPVCNotReady, name)
			}
			return fmt.Errorf("failed to check pvc %q: %w", name, err)
		}
		if pvc.Status.Phase != corev1.ClaimBound {
			return fmt.Errorf("%w: %q is %s, expected Bound", ErrPVCNotReady, name, pvc.Status.Phase)
		}
	}
	return nil
}
