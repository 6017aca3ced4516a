// Copyright 2026 The FlowForge Authors
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"net/http"
	"strconv"

	"github.com/flowforge/flowforge/internal/flowforge-api/models"
	"github.com/flowforge/flowforge/internal/flowforge-api/services"
)

// SubmitTask handles POST /api/v1/tasks
func (h *Handler) SubmitTask(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req models.TaskSubmitRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	req.Sanitize()
	if err := req.Validate(); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, err.Error(), services.CodeInvalidInput)
		return
	}

	resp, err := h.services.TaskService.Submit(ctx, &req)
	if err != nil {
		writeServiceError(w, h.logger, err, "submit task")
		return
	}
	writeSuccessResponse(w, http.StatusCreated, resp)
}

// RunTask handles POST /api/v1/tasks/{taskID}/runs
func (h *Handler) RunTask(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	taskID := r.PathValue("taskID")

	// The body is optional; an empty read means default run options.
	req := models.TaskRunRequest{}
	if r.Body != nil && r.ContentLength != 0 {
		if !decodeJSONBody(w, r, &req) {
			return
		}
	}
	req.Sanitize()
	if err := req.Validate(); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, err.Error(), services.CodeInvalidInput)
		return
	}

	resp, err := h.services.TaskService.Run(ctx, taskID, &req)
	if err != nil {
		writeServiceError(w, h.logger, err, "run task")
		return
	}
	writeSuccessResponse(w, http.StatusCreated, resp)
}

// ListTasks handles GET /api/v1/tasks
func (h *Handler) ListTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := h.services.TaskService.ListTasks(r.Context())
	if err != nil {
		writeServiceError(w, h.logger, err, "list tasks")
		return
	}
	writeListResponse(w, tasks)
}

// GetTask handles GET /api/v1/tasks/{taskID}
func (h *Handler) GetTask(w http.ResponseWriter, r *http.Request) {
	task, err := h.services.TaskService.GetTask(r.Context(), r.PathValue("taskID"))
	if err != nil {
		writeServiceError(w, h.logger, err, "get task")
		return
	}
	writeSuccessResponse(w, http.StatusOK, task)
}

// TaskLogs handles GET /api/v1/tasks/{taskID}/logs?run=N
func (h *Handler) TaskLogs(w http.ResponseWriter, r *http.Request) {
	taskID := r.PathValue("taskID")

	var runNumber *int
	if raw := r.URL.Query().Get("run"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeErrorResponse(w, http.StatusBadRequest, "run must be a positive integer", services.CodeInvalidInput)
			return
		}
		runNumber = &n
	}

	result, err := h.services.TaskService.Logs(r.Context(), taskID, runNumber)
	if err != nil {
		writeServiceError(w, h.logger, err, "get task logs")
		return
	}
	writeSuccessResponse(w, http.StatusOK, result)
}

// StreamTaskLogs handles GET /api/v1/ws/tasks/{taskID}/logs
func (h *Handler) StreamTaskLogs(w http.ResponseWriter, r *http.Request) {
	h.streamer.Stream(w, r, r.PathValue("taskID"))
}

// CancelTask handles POST /api/v1/tasks/{taskID}/cancel
func (h *Handler) CancelTask(w http.ResponseWriter, r *http.Request) {
	run, err := h.services.TaskService.Cancel(r.Context(), r.PathValue("taskID"))
	if err != nil {
		writeServiceError(w, h.logger, err, "cancel task")
		return
	}
	writeSuccessResponse(w, http.StatusOK, run)
}

// DeleteTask handles DELETE /api/v1/tasks/{taskID}
func (h *Handler) DeleteTask(w http.ResponseWriter, r *http.Request) {
	resp, err := h.services.TaskService.DeleteTask(r.Context(), r.PathValue("taskID"))
	if err != nil {
		writeServiceError(w, h.logger, err, "delete task")
		return
	}
	writeSuccessResponse(w, http.StatusOK, resp)
}
