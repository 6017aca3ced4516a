// Copyright 2026 The FlowForge Authors
// SPDX-License-Identifier: Apache-2.0

package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	sigsyaml "sigs.k8s.io/yaml"

	"github.com/flowforge/flowforge/internal/flowforge-api/models"
	"github.com/flowforge/flowforge/internal/logs"
	"github.com/flowforge/flowforge/internal/store"
	"github.com/flowforge/flowforge/internal/workflow"
)

// FlowService handles flow-related business logic
type FlowService struct {
	store    *store.Store
	engine   EngineClient
	synth    *workflow.Synthesizer
	pipeline *logs.Pipeline
	logger   *slog.Logger
}

// NewFlowService creates a new flow service
func NewFlowService(st *store.Store, engine EngineClient, synth *workflow.Synthesizer, pipeline *logs.Pipeline, logger *slog.Logger) *FlowService {
	return &FlowService{
		store:    st,
		engine:   engine,
		synth:    synth,
		pipeline: pipeline,
		logger:   logger,
	}
}

// CreateFlow validates and persists a new flow definition.
func (s *FlowService) CreateFlow(ctx context.Context, req *models.FlowCreateRequest) (*models.FlowResponse, error) {
	def := toDefinition(req.Steps, req.Edges)
	if err := validateDefinition(def); err != nil {
		return nil, err
	}

	raw, err := json.Marshal(def)
	if err != nil {
		return nil, fmt.Errorf("failed to encode flow definition: %w", err)
	}

	flow := &store.Flow{
		ID:          newResourceID("flow-"),
		Name:        req.Name,
		Description: req.Description,
		Definition:  string(raw),
		Status:      "draft",
	}
	if err := s.store.SaveFlow(flow); err != nil {
		return nil, err
	}
	s.logger.Info("Flow created", "flow_id", flow.ID, "steps", len(def.Steps))
	return s.toFlowResponse(flow)
}

// ListFlows returns all flows.
func (s *FlowService) ListFlows(ctx context.Context) ([]models.FlowResponse, error) {
	flows, err := s.store.ListFlows()
	if err != nil {
		return nil, err
	}
	out := make([]models.FlowResponse, 0, len(flows))
	for i := range flows {
		resp, err := s.toFlowResponse(&flows[i])
		if err != nil {
			return nil, err
		}
		out = append(out, *resp)
	}
	return out, nil
}

// GetFlow returns a single flow with its parsed definition.
func (s *FlowService) GetFlow(ctx context.Context, flowID string) (*models.FlowResponse, error) {
	flow, err := s.getFlow(flowID)
	if err != nil {
		return nil, err
	}
	return s.toFlowResponse(flow)
}

// UpdateFlow applies a partial update; a new definition is re-validated.
func (s *FlowService) UpdateFlow(ctx context.Context, flowID string, req *models.FlowUpdateRequest) (*models.FlowResponse, error) {
	flow, err := s.getFlow(flowID)
	if err != nil {
		return nil, err
	}

	if req.Name != nil {
		flow.Name = *req.Name
	}
	if req.Description != nil {
		flow.Description = *req.Description
	}
	if req.Steps != nil {
		def := toDefinition(req.Steps, req.Edges)
		if err := validateDefinition(def); err != nil {
			return nil, err
		}
		raw, err := json.Marshal(def)
		if err != nil {
			return nil, fmt.Errorf("failed to encode flow definition: %w", err)
		}
		flow.Definition = string(raw)
	}

	if err := s.store.SaveFlow(flow); err != nil {
		return nil, err
	}
	s.logger.Info("Flow updated", "flow_id", flow.ID)
	return s.toFlowResponse(flow)
}

// DeleteFlow purges a flow: engine workflows best-effort, then all rows.
func (s *FlowService) DeleteFlow(ctx context.Context, flowID string) (*models.FlowDeleteResponse, error) {
	if _, err := s.getFlow(flowID); err != nil {
		return nil, err
	}

	runs, err := s.store.ListFlowRuns(flowID)
	if err != nil {
		return nil, err
	}
	for i := range runs {
		if runs[i].WorkflowID == "" {
			continue
		}
		if err := s.engine.DeleteWorkflow(ctx, runs[i].WorkflowID); err != nil {
			s.logger.Warn("Failed to delete workflow during purge",
				"error", err,
				"flow_id", flowID,
				"workflow_id", runs[i].WorkflowID)
		}
	}

	runsDeleted, _, logsDeleted, err := s.store.DeleteFlowCascade(flowID)
	if err != nil {
		return nil, err
	}
	s.logger.Info("Flow purged",
		"flow_id", flowID,
		"runs_deleted", runsDeleted,
		"logs_deleted", logsDeleted)
	return &models.FlowDeleteResponse{
		FlowID:      flowID,
		RunsDeleted: runsDeleted,
		LogsDeleted: logsDeleted,
	}, nil
}

// RunFlow synthesizes and submits the flow's DAG workflow and records a
// flow run with one Pending step run per step.
func (s *FlowService) RunFlow(ctx context.Context, flowID string) (*models.FlowRunResponse, error) {
	flow, def, err := s.getFlowWithDefinition(flowID)
	if err != nil {
		return nil, err
	}
	return s.submitFlowRun(ctx, flow, def)
}

// RunStep runs a single step of a flow as a one-step workflow. Upstream
// outputs present on the results volume are readable as usual.
func (s *FlowService) RunStep(ctx context.Context, flowID, stepID string) (*models.FlowRunResponse, error) {
	_, def, err := s.getFlowWithDefinition(flowID)
	if err != nil {
		return nil, err
	}

	var step *workflow.FlowStep
	for i := range def.Steps {
		if def.Steps[i].ID == stepID {
			step = &def.Steps[i]
			break
		}
	}
	if step == nil {
		return nil, fmt.Errorf("%w: step %s of flow %s", ErrRunNotFound, stepID, flowID)
	}

	flow, err := s.getFlow(flowID)
	if err != nil {
		return nil, err
	}
	single := &workflow.FlowDefinition{Steps: []workflow.FlowStep{*step}}
	return s.submitFlowRun(ctx, flow, single)
}

func (s *FlowService) submitFlowRun(ctx context.Context, flow *store.Flow, def *workflow.FlowDefinition) (*models.FlowRunResponse, error) {
	if err := s.engine.EnsureBoundPVCs(ctx, workflow.RequiredPVCs(false)); err != nil {
		return nil, err
	}

	manifest, err := s.synth.FlowManifest(def)
	if err != nil {
		return nil, classifyDefinitionError(err)
	}

	workflowID, err := s.engine.SubmitWorkflow(ctx, manifest)
	if err != nil {
		s.logger.Error("Failed to submit flow workflow", "error", err, "flow_id", flow.ID)
		return nil, err
	}

	run, stepRuns, err := s.store.CreateFlowRun(flow, workflowID, def.Steps)
	if err != nil {
		return nil, err
	}
	s.logger.Info("Flow run started",
		"flow_id", flow.ID,
		"flow_run_id", run.ID,
		"workflow_id", workflowID,
		"steps", len(stepRuns))
	return toFlowRunResponse(run, stepRuns), nil
}

// ListFlowRuns returns all runs of a flow, without reconciliation.
func (s *FlowService) ListFlowRuns(ctx context.Context, flowID string) ([]models.FlowRunResponse, error) {
	if _, err := s.getFlow(flowID); err != nil {
		return nil, err
	}
	runs, err := s.store.ListFlowRuns(flowID)
	if err != nil {
		return nil, err
	}
	out := make([]models.FlowRunResponse, 0, len(runs))
	for i := range runs {
		out = append(out, *toFlowRunResponse(&runs[i], nil))
	}
	return out, nil
}

// GetFlowRun returns a flow run with its step runs reconciled against the
// engine's current view.
func (s *FlowService) GetFlowRun(ctx context.Context, flowID string, runID uint) (*models.FlowRunResponse, error) {
	run, err := s.getFlowRun(flowID, runID)
	if err != nil {
		return nil, err
	}
	stepRuns, _, err := s.pipeline.SyncFlowRun(ctx, run)
	if err != nil {
		return nil, err
	}
	return toFlowRunResponse(run, stepRuns), nil
}

// FlowRunLogs returns per-step logs of a flow run.
func (s *FlowService) FlowRunLogs(ctx context.Context, flowID string, runID uint) ([]logs.StepLogs, error) {
	run, err := s.getFlowRun(flowID, runID)
	if err != nil {
		return nil, err
	}
	return s.pipeline.FlowRunLogs(ctx, run)
}

// FlowRunManifest returns the live workflow document of a run as YAML.
func (s *FlowService) FlowRunManifest(ctx context.Context, flowID string, runID uint) (*models.ManifestResponse, error) {
	run, err := s.getFlowRun(flowID, runID)
	if err != nil {
		return nil, err
	}
	manifest, err := s.engine.GetWorkflowYAML(ctx, run.WorkflowID)
	if err != nil {
		return nil, err
	}
	return &models.ManifestResponse{Manifest: manifest}, nil
}

// PreviewManifest synthesizes a flow manifest without persisting or
// submitting anything.
func (s *FlowService) PreviewManifest(ctx context.Context, req *models.FlowPreviewRequest) (*models.ManifestResponse, error) {
	manifest, err := s.synth.FlowManifest(toDefinition(req.Steps, req.Edges))
	if err != nil {
		return nil, classifyDefinitionError(err)
	}
	rendered, err := sigsyaml.Marshal(manifest)
	if err != nil {
		return nil, fmt.Errorf("failed to render manifest as yaml: %w", err)
	}
	return &models.ManifestResponse{Manifest: string(rendered)}, nil
}

func (s *FlowService) getFlow(flowID string) (*store.Flow, error) {
	flow, err := s.store.GetFlow(flowID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrFlowNotFound, flowID)
		}
		return nil, err
	}
	return flow, nil
}

func (s *FlowService) getFlowWithDefinition(flowID string) (*store.Flow, *workflow.FlowDefinition, error) {
	flow, err := s.getFlow(flowID)
	if err != nil {
		return nil, nil, err
	}
	def := &workflow.FlowDefinition{}
	if err := json.Unmarshal([]byte(flow.Definition), def); err != nil {
		return nil, nil, fmt.Errorf("flow %s has a corrupt definition: %w", flowID, err)
	}
	return flow, def, nil
}

func (s *FlowService) getFlowRun(flowID string, runID uint) (*store.FlowRun, error) {
	if _, err := s.getFlow(flowID); err != nil {
		return nil, err
	}
	run, err := s.store.GetFlowRun(flowID, runID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: run %d of flow %s", ErrFlowRunNotFound, runID, flowID)
		}
		return nil, err
	}
	return run, nil
}

func (s *FlowService) toFlowResponse(flow *store.Flow) (*models.FlowResponse, error) {
	def := &workflow.FlowDefinition{}
	if err := json.Unmarshal([]byte(flow.Definition), def); err != nil {
		return nil, fmt.Errorf("flow %s has a corrupt definition: %w", flow.ID, err)
	}
	return &models.FlowResponse{
		ID:          flow.ID,
		Name:        flow.Name,
		Description: flow.Description,
		Status:      flow.Status,
		Steps:       def.Steps,
		Edges:       def.Edges,
		CreatedAt:   flow.CreatedAt,
		UpdatedAt:   flow.UpdatedAt,
	}, nil
}

func toFlowRunResponse(run *store.FlowRun, stepRuns []store.FlowStepRun) *models.FlowRunResponse {
	steps := make([]models.FlowStepRunResponse, 0, len(stepRuns))
	for i := range stepRuns {
		steps = append(steps, models.FlowStepRunResponse{
			StepID:         stepRuns[i].StepID,
			StepName:       stepRuns[i].StepName,
			WorkflowNodeID: stepRuns[i].WorkflowNodeID,
			Phase:          stepRuns[i].Phase,
			StartedAt:      stepRuns[i].StartedAt,
			FinishedAt:     stepRuns[i].FinishedAt,
		})
	}
	return &models.FlowRunResponse{
		ID:         run.ID,
		FlowID:     run.FlowID,
		WorkflowID: run.WorkflowID,
		Phase:      run.Phase,
		StartedAt:  run.StartedAt,
		FinishedAt: run.FinishedAt,
		CreatedAt:  run.CreatedAt,
		Steps:      steps,
	}
}

// validateDefinition checks a definition, tagging structural problems
// other than cycles as invalid input.
func validateDefinition(def *workflow.FlowDefinition) error {
	return classifyDefinitionError(workflow.ValidateDefinition(def))
}

func classifyDefinitionError(err error) error {
	if err == nil || errors.Is(err, workflow.ErrCyclicFlow) {
		return err
	}
	return fmt.Errorf("%w: %s", ErrInvalidInput, err.Error())
}

// toDefinition converts request steps and edges into the stored definition
// shape, keeping layout coordinates opaque.
func toDefinition(steps []models.FlowStepRequest, edges []models.FlowEdgeRequest) *workflow.FlowDefinition {
	def := &workflow.FlowDefinition{
		Steps: make([]workflow.FlowStep, 0, len(steps)),
		Edges: make([]workflow.FlowEdge, 0, len(edges)),
	}
	for _, step := range steps {
		def.Steps = append(def.Steps, workflow.FlowStep{
			ID:               step.ID,
			Name:             step.Name,
			PythonCode:       step.PythonCode,
			Dependencies:     step.Dependencies,
			RequirementsFile: step.RequirementsFile,
			Position:         step.Position,
		})
	}
	for _, edge := range edges {
		def.Edges = append(def.Edges, workflow.FlowEdge{
			Source: edge.Source,
			Target: edge.Target,
		})
	}
	return def
}
