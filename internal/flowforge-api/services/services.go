// Copyright 2026 The FlowForge Authors
// SPDX-License-Identifier: Apache-2.0

// Package services holds the business logic between the HTTP handlers and
// the store, workflow engine and volume helper.
package services

import (
	"context"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/flowforge/flowforge/internal/logs"
	"github.com/flowforge/flowforge/internal/store"
	"github.com/flowforge/flowforge/internal/volume"
	"github.com/flowforge/flowforge/internal/workflow"
)

// EngineClient is the slice of the cluster client the services consume.
type EngineClient interface {
	SubmitWorkflow(ctx context.Context, manifest *workflow.Manifest) (string, error)
	GetWorkflowStatus(ctx context.Context, workflowID string) (*workflow.Status, error)
	GetWorkflowYAML(ctx context.Context, workflowID string) (string, error)
	DeleteWorkflow(ctx context.Context, workflowID string) error
	EnsureBoundPVCs(ctx context.Context, names []string) error
}

type Services struct {
	TaskService *TaskService
	FlowService *FlowService
	FileService *FileService
}

// NewServices creates and initializes all services
func NewServices(st *store.Store, engine EngineClient, synth *workflow.Synthesizer, pipeline *logs.Pipeline, volumes *volume.Manager, logger *slog.Logger) *Services {
	return &Services{
		TaskService: NewTaskService(st, engine, synth, pipeline, logger.With("service", "task")),
		FlowService: NewFlowService(st, engine, synth, pipeline, logger.With("service", "flow")),
		FileService: NewFileService(volumes, logger.With("service", "file")),
	}
}

// newResourceID mints a resource id with the given prefix followed by 12
// hex characters.
func newResourceID(prefix string) string {
	return prefix + strings.ReplaceAll(uuid.New().String(), "-", "")[:12]
}
