// Copyright 2026 The FlowForge Authors
// SPDX-License-Identifier: Apache-2.0

package services

import "errors"

var (
	ErrTaskNotFound    = errors.New("task not found")
	ErrRunNotFound     = errors.New("run not found")
	ErrRunConflict     = errors.New("task already has an active run")
	ErrFlowNotFound    = errors.New("flow not found")
	ErrFlowRunNotFound = errors.New("flow run not found")
	ErrInvalidInput    = errors.New("invalid input")
)

// Error codes carried in API responses alongside the HTTP status.
const (
	CodeTaskNotFound     = "TASK_NOT_FOUND"
	CodeFlowNotFound     = "FLOW_NOT_FOUND"
	CodeRunNotFound      = "RUN_NOT_FOUND"
	CodeRunConflict      = "RUN_CONFLICT"
	CodeCyclicFlow       = "CYCLIC_FLOW"
	CodeInvalidInput     = "INVALID_INPUT"
	CodePVCNotReady      = "PVC_NOT_READY"
	CodeFileNotFound     = "FILE_NOT_FOUND"
	CodePathOutsideMount = "PATH_OUTSIDE_MOUNT"
	CodeInternalError    = "INTERNAL_ERROR"
)
