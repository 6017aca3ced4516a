// Copyright 2026 The FlowForge Authors
// SPDX-License-Identifier: Apache-2.0

package workflow

// ResolvePhase derives a single authoritative phase from a workflow status
// document. The engine's top-level phase lags per-pod state, so the
// resolver smooths the two views: terminal phases pass through untouched,
// and Pending/Running are cross-checked against pod-type nodes so the
// result never reports Running while no pod is alive.
func ResolvePhase(status *Status) Phase {
	if status == nil {
		return PhasePending
	}

	top := Phase(status.Phase)
	if top == "" {
		return PhasePending
	}
	if top.IsTerminal() {
		return top
	}

	var running, pending, succeeded, podCount int
	for _, node := range status.Nodes {
		if node.Type != NodeTypePod {
			continue
		}
		podCount++
		switch Phase(node.Phase) {
		case PhaseRunning:
			running++
		case PhasePending:
			pending++
		case PhaseSucceeded:
			succeeded++
		}
	}

	switch top {
	case PhaseRunning:
		if running > 0 {
			return PhaseRunning
		}
		if pending == 0 && succeeded > 0 {
			// Pods finished but the engine has not caught up yet.
			return PhaseRunning
		}
		if podCount == 0 || pending == podCount {
			return PhasePending
		}
		return PhaseRunning
	case PhasePending:
		if running > 0 {
			return PhaseRunning
		}
		return PhasePending
	default:
		return top
	}
}
