// Copyright 2026 The FlowForge Authors
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"net/http"
	"strconv"

	"github.com/flowforge/flowforge/internal/flowforge-api/models"
	"github.com/flowforge/flowforge/internal/flowforge-api/services"
)

// CreateFlow handles POST /api/v1/flows
func (h *Handler) CreateFlow(w http.ResponseWriter, r *http.Request) {
	var req models.FlowCreateRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	req.Sanitize()
	if err := req.Validate(); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, err.Error(), services.CodeInvalidInput)
		return
	}

	flow, err := h.services.FlowService.CreateFlow(r.Context(), &req)
	if err != nil {
		writeServiceError(w, h.logger, err, "create flow")
		return
	}
	writeSuccessResponse(w, http.StatusCreated, flow)
}

// ListFlows handles GET /api/v1/flows
func (h *Handler) ListFlows(w http.ResponseWriter, r *http.Request) {
	flows, err := h.services.FlowService.ListFlows(r.Context())
	if err != nil {
		writeServiceError(w, h.logger, err, "list flows")
		return
	}
	writeListResponse(w, flows)
}

// GetFlow handles GET /api/v1/flows/{flowID}
func (h *Handler) GetFlow(w http.ResponseWriter, r *http.Request) {
	flow, err := h.services.FlowService.GetFlow(r.Context(), r.PathValue("flowID"))
	if err != nil {
		writeServiceError(w, h.logger, err, "get flow")
		return
	}
	writeSuccessResponse(w, http.StatusOK, flow)
}

// UpdateFlow handles PUT /api/v1/flows/{flowID}
func (h *Handler) UpdateFlow(w http.ResponseWriter, r *http.Request) {
	var req models.FlowUpdateRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	req.Sanitize()
	if err := req.Validate(); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, err.Error(), services.CodeInvalidInput)
		return
	}

	flow, err := h.services.FlowService.UpdateFlow(r.Context(), r.PathValue("flowID"), &req)
	if err != nil {
		writeServiceError(w, h.logger, err, "update flow")
		return
	}
	writeSuccessResponse(w, http.StatusOK, flow)
}

// DeleteFlow handles DELETE /api/v1/flows/{flowID}
func (h *Handler) DeleteFlow(w http.ResponseWriter, r *http.Request) {
	resp, err := h.services.FlowService.DeleteFlow(r.Context(), r.PathValue("flowID"))
	if err != nil {
		writeServiceError(w, h.logger, err, "delete flow")
		return
	}
	writeSuccessResponse(w, http.StatusOK, resp)
}

// RunFlow handles POST /api/v1/flows/{flowID}/runs
func (h *Handler) RunFlow(w http.ResponseWriter, r *http.Request) {
	run, err := h.services.FlowService.RunFlow(r.Context(), r.PathValue("flowID"))
	if err != nil {
		writeServiceError(w, h.logger, err, "run flow")
		return
	}
	writeSuccessResponse(w, http.StatusCreated, run)
}

// RunFlowStep handles POST /api/v1/flows/{flowID}/steps/{stepID}/run
func (h *Handler) RunFlowStep(w http.ResponseWriter, r *http.Request) {
	run, err := h.services.FlowService.RunStep(r.Context(), r.PathValue("flowID"), r.PathValue("stepID"))
	if err != nil {
		writeServiceError(w, h.logger, err, "run flow step")
		return
	}
	writeSuccessResponse(w, http.StatusCreated, run)
}

// ListFlowRuns handles GET /api/v1/flows/{flowID}/runs
func (h *Handler) ListFlowRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := h.services.FlowService.ListFlowRuns(r.Context(), r.PathValue("flowID"))
	if err != nil {
		writeServiceError(w, h.logger, err, "list flow runs")
		return
	}
	writeListResponse(w, runs)
}

// GetFlowRun handles GET /api/v1/flows/{flowID}/runs/{runID}
func (h *Handler) GetFlowRun(w http.ResponseWriter, r *http.Request) {
	runID, ok := parseRunID(w, r)
	if !ok {
		return
	}
	run, err := h.services.FlowService.GetFlowRun(r.Context(), r.PathValue("flowID"), runID)
	if err != nil {
		writeServiceError(w, h.logger, err, "get flow run")
		return
	}
	writeSuccessResponse(w, http.StatusOK, run)
}

// FlowRunLogs handles GET /api/v1/flows/{flowID}/runs/{runID}/logs
func (h *Handler) FlowRunLogs(w http.ResponseWriter, r *http.Request) {
	runID, ok := parseRunID(w, r)
	if !ok {
		return
	}
	stepLogs, err := h.services.FlowService.FlowRunLogs(r.Context(), r.PathValue("flowID"), runID)
	if err != nil {
		writeServiceError(w, h.logger, err, "get flow run logs")
		return
	}
	writeListResponse(w, stepLogs)
}

// FlowRunManifest handles GET /api/v1/flows/{flowID}/runs/{runID}/manifest
func (h *Handler) FlowRunManifest(w http.ResponseWriter, r *http.Request) {
	runID, ok := parseRunID(w, r)
	if !ok {
		return
	}
	manifest, err := h.services.FlowService.FlowRunManifest(r.Context(), r.PathValue("flowID"), runID)
	if err != nil {
		writeServiceError(w, h.logger, err, "get flow run manifest")
		return
	}
	writeSuccessResponse(w, http.StatusOK, manifest)
}

// PreviewFlowManifest handles POST /api/v1/flows/preview-manifest
func (h *Handler) PreviewFlowManifest(w http.ResponseWriter, r *http.Request) {
	var req models.FlowPreviewRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	req.Sanitize()
	if err := req.Validate(); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, err.Error(), services.CodeInvalidInput)
		return
	}

	manifest, err := h.services.FlowService.PreviewManifest(r.Context(), &req)
	if err != nil {
		writeServiceError(w, h.logger, err, "preview flow manifest")
		return
	}
	writeSuccessResponse(w, http.StatusOK, manifest)
}

func parseRunID(w http.ResponseWriter, r *http.Request) (uint, bool) {
	raw := r.PathValue("runID")
	n, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "runID must be a positive integer", services.CodeInvalidInput)
		return 0, false
	}
	return uint(n), true
}
